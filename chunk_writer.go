package rtmp

import (
	"bufio"
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/tidalstream/rtmp/internal/binary24"
)

// writerState remembers the last full header written on a chunk stream ID
// so subsequent messages can use the shortest header form that still
// carries every field the previous header does not already imply.
type writerState struct {
	timestamp uint32
	delta     uint32
	length    uint32
	typeID    MessageType
	streamID  uint32
	extended  bool
}

// chunkWriter frames messages onto the outbound byte stream, splitting
// payloads into chunkSize-sized chunks and compressing headers relative to
// the previous message on the same chunk stream ID.
type chunkWriter struct {
	w         *bufio.Writer
	chunkSize uint32
	streams   map[uint32]*writerState
}

func newChunkWriter(w *bufio.Writer) *chunkWriter {
	return &chunkWriter{
		w:         w,
		chunkSize: DefaultChunkSize,
		streams:   make(map[uint32]*writerState),
	}
}

// write frames one message and flushes it to the transport.
func (cw *chunkWriter) write(msg *Message) error {
	csid := msg.ChunkStreamID
	st, seen := cw.streams[csid]

	var form chunkType
	var tsField uint32
	length := uint32(len(msg.Payload))
	switch {
	case !seen || msg.StreamID != st.streamID || msg.Timestamp < st.timestamp:
		// First chunk on a stream ID always carries the full header, as
		// does any message whose timestamp would need a negative delta.
		form = chunkType0
		tsField = msg.Timestamp
	default:
		delta := msg.Timestamp - st.timestamp
		switch {
		case length != st.length || msg.Type != st.typeID:
			form = chunkType1
			tsField = delta
		case delta != st.delta || st.extended != (delta >= binary24.Max):
			// An empty header would inherit the previous extended-timestamp
			// form, so a delta that crosses the 24-bit boundary in either
			// direction needs restating even when it repeats.
			form = chunkType2
			tsField = delta
		default:
			form = chunkType3
			tsField = delta
		}
	}
	extended := tsField >= binary24.Max

	if err := cw.writeHeader(form, csid, tsField, length, msg.Type, msg.StreamID, extended); err != nil {
		return err
	}

	payload := msg.Payload
	for {
		n := uint32(len(payload))
		if n > cw.chunkSize {
			n = cw.chunkSize
		}
		if _, err := cw.w.Write(payload[:n]); err != nil {
			return errors.Wrap(err, "write chunk payload")
		}
		payload = payload[n:]
		if len(payload) == 0 {
			break
		}
		// Continuation chunks separate the remaining payload with empty
		// headers, repeating the extended timestamp if the message header
		// carried one.
		if err := cw.writeBasicHeader(chunkType3, csid); err != nil {
			return err
		}
		if extended {
			if err := cw.writeExtendedTimestamp(tsField); err != nil {
				return err
			}
		}
	}

	if !seen {
		st = &writerState{}
		cw.streams[csid] = st
	}
	st.timestamp = msg.Timestamp
	if form == chunkType0 {
		st.delta = 0
	} else {
		st.delta = tsField
	}
	st.length = length
	st.typeID = msg.Type
	st.streamID = msg.StreamID
	st.extended = extended

	if err := cw.w.Flush(); err != nil {
		return errors.Wrap(err, "flush chunk stream")
	}
	return nil
}

func (cw *chunkWriter) writeHeader(form chunkType, csid, tsField, length uint32, typeID MessageType, streamID uint32, extended bool) error {
	if err := cw.writeBasicHeader(form, csid); err != nil {
		return err
	}

	field := tsField
	if extended {
		field = binary24.Max
	}

	switch form {
	case chunkType0:
		var buf [chunkType0HeaderLength]byte
		binary24.PutUint24(buf[0:3], field)
		binary24.PutUint24(buf[3:6], length)
		buf[6] = byte(typeID)
		binary.LittleEndian.PutUint32(buf[7:11], streamID)
		if _, err := cw.w.Write(buf[:]); err != nil {
			return errors.Wrap(err, "write message header")
		}
	case chunkType1:
		var buf [chunkType1HeaderLength]byte
		binary24.PutUint24(buf[0:3], field)
		binary24.PutUint24(buf[3:6], length)
		buf[6] = byte(typeID)
		if _, err := cw.w.Write(buf[:]); err != nil {
			return errors.Wrap(err, "write message header")
		}
	case chunkType2:
		var buf [chunkType2HeaderLength]byte
		binary24.PutUint24(buf[0:3], field)
		if _, err := cw.w.Write(buf[:]); err != nil {
			return errors.Wrap(err, "write message header")
		}
	case chunkType3:
	}

	if extended {
		return cw.writeExtendedTimestamp(tsField)
	}
	return nil
}

func (cw *chunkWriter) writeBasicHeader(form chunkType, csid uint32) error {
	var err error
	switch {
	case csid < 64:
		err = cw.w.WriteByte(byte(form)<<6 | byte(csid))
	case csid < 320:
		if err = cw.w.WriteByte(byte(form) << 6); err == nil {
			err = cw.w.WriteByte(byte(csid - 64))
		}
	default:
		var buf [3]byte
		buf[0] = byte(form)<<6 | 1
		binary.BigEndian.PutUint16(buf[1:], uint16(csid-64))
		_, err = cw.w.Write(buf[:])
	}
	return errors.Wrap(err, "write basic header")
}

func (cw *chunkWriter) writeExtendedTimestamp(ts uint32) error {
	var buf [extendedTimestampLength]byte
	binary.BigEndian.PutUint32(buf[:], ts)
	_, err := cw.w.Write(buf[:])
	return errors.Wrap(err, "write extended timestamp")
}

// setChunkSize applies our own Set Chunk Size message to subsequent writes.
// It must be called after the control message itself has been framed.
func (cw *chunkWriter) setChunkSize(size uint32) {
	cw.chunkSize = size
}
