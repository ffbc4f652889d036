package rtmp

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/tidalstream/rtmp/internal/binary24"
)

// The engine speaks FLV at its host boundary: publish input arrives as FLV
// tags (the muxer's output) and play output is re-wrapped into FLV tags.

const flvTagHeaderLength = 11
const flvTagFooterLength = 4

// flvFileHeader is the 9-byte file header plus the zero previous-tag-size
// field, announcing audio and video presence.
var flvFileHeader = []byte{'F', 'L', 'V', 0x01, 0x05, 0x00, 0x00, 0x00, 0x09, 0x00, 0x00, 0x00, 0x00}

type flvTag struct {
	typeID    MessageType
	timestamp uint32
	payload   []byte
}

// isFLVFileHeader recognizes the leading container header, which must be
// stripped rather than forwarded to the peer.
func isFLVFileHeader(b []byte) bool {
	return len(b) >= 3 && bytes.Equal(b[:3], []byte("FLV"))
}

// parseFLVTag splits one complete FLV tag into its type, its millisecond
// timestamp (24 bits plus the extension byte) and the payload between the
// tag header and the previous-tag-size footer.
func parseFLVTag(b []byte) (*flvTag, error) {
	if len(b) < flvTagHeaderLength+flvTagFooterLength {
		return nil, errors.Errorf("rtmp: flv tag too small (%d bytes)", len(b))
	}
	typeID := MessageType(b[0])
	switch typeID {
	case AudioMessage, VideoMessage, DataMessageAMF0:
	default:
		return nil, errors.Errorf("rtmp: unknown flv tag type %d", typeID)
	}
	length := binary24.Uint24(b[1:4])
	if int(length) != len(b)-flvTagHeaderLength-flvTagFooterLength {
		return nil, errors.Errorf("rtmp: flv tag length %d does not match payload %d",
			length, len(b)-flvTagHeaderLength-flvTagFooterLength)
	}
	timestamp := binary24.Uint24(b[4:7]) | uint32(b[7])<<24
	return &flvTag{
		typeID:    typeID,
		timestamp: timestamp,
		payload:   b[flvTagHeaderLength : flvTagHeaderLength+length],
	}, nil
}

// makeFLVTag wraps a message payload back into FLV tag framing for hosts
// consuming the play path as a container stream.
func makeFLVTag(typeID MessageType, timestamp uint32, payload []byte) []byte {
	tag := make([]byte, flvTagHeaderLength+len(payload)+flvTagFooterLength)
	tag[0] = byte(typeID)
	binary24.PutUint24(tag[1:4], uint32(len(payload)))
	binary24.PutUint24(tag[4:7], timestamp&binary24.Max)
	tag[7] = byte(timestamp >> 24)
	// Bytes 8-10 are the stream ID, always zero in a file stream.
	copy(tag[flvTagHeaderLength:], payload)
	binary.BigEndian.PutUint32(tag[flvTagHeaderLength+len(payload):], uint32(flvTagHeaderLength+len(payload)))
	return tag
}
