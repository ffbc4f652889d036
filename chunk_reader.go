package rtmp

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/tidalstream/rtmp/internal/binary24"
)

// chunkReader decodes the inbound chunk stream and reassembles chunks into
// complete messages. Reassembly state is kept per chunk stream ID, so
// messages on different chunk streams may interleave freely. Any malformed
// or truncated header is fatal: the reader makes no attempt at resyncing.
type chunkReader struct {
	r         *bufio.Reader
	chunkSize uint32
	streams   map[uint32]*chunkState
	received  uint64 // total bytes consumed, for window acknowledgement
}

func newChunkReader(r *bufio.Reader) *chunkReader {
	return &chunkReader{
		r:         r,
		chunkSize: DefaultChunkSize,
		streams:   make(map[uint32]*chunkState),
	}
}

// next reads chunks until one of them completes a message.
func (cr *chunkReader) next() (*Message, error) {
	for {
		msg, err := cr.readChunk()
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}
	}
}

func (cr *chunkReader) readChunk() (*Message, error) {
	fmt, csid, err := cr.readBasicHeader()
	if err != nil {
		return nil, err
	}

	st, seen := cr.streams[csid]
	if !seen {
		if fmt != chunkType0 {
			return nil, errors.Wrapf(ErrDecode, "chunk stream %d: first chunk has header type %d, want 0", csid, fmt)
		}
		st = &chunkState{}
		cr.streams[csid] = st
	}

	if st.read > 0 {
		// Mid-message: peers must continue an unfinished message with
		// empty headers on the same chunk stream.
		if fmt != chunkType3 {
			return nil, errors.Wrapf(ErrDecode, "chunk stream %d: header type %d interrupts a partial message", csid, fmt)
		}
		if st.extended {
			if _, err := cr.readExtendedTimestamp(); err != nil {
				return nil, err
			}
		}
	} else if err := cr.readMessageHeader(fmt, st, csid); err != nil {
		return nil, err
	}

	if st.read == 0 {
		st.payload = make([]byte, st.length)
	}
	n := st.length - st.read
	if n > cr.chunkSize {
		n = cr.chunkSize
	}
	if _, err := io.ReadFull(cr.r, st.payload[st.read:st.read+n]); err != nil {
		return nil, errors.Wrapf(ErrDecode, "chunk stream %d: short payload read: %v", csid, err)
	}
	cr.received += uint64(n)
	st.read += n
	if st.read < st.length {
		return nil, nil
	}

	msg := &Message{
		Type:          st.typeID,
		ChunkStreamID: csid,
		StreamID:      st.streamID,
		Timestamp:     st.timestamp,
		Payload:       st.payload,
	}
	st.payload = nil
	st.read = 0
	return msg, nil
}

// readBasicHeader returns the header form and the chunk stream ID, which is
// spread over one, two or three bytes depending on its magnitude.
func (cr *chunkReader) readBasicHeader() (chunkType, uint32, error) {
	b, err := cr.r.ReadByte()
	if err != nil {
		return 0, 0, errors.Wrapf(ErrDecode, "basic header: %v", err)
	}
	cr.received++
	fmt := chunkType(b >> 6)
	csid := uint32(b & 0x3F)
	switch csid {
	case 0:
		id, err := cr.r.ReadByte()
		if err != nil {
			return 0, 0, errors.Wrapf(ErrDecode, "basic header: %v", err)
		}
		cr.received++
		csid = uint32(id) + 64
	case 1:
		var id [2]byte
		if _, err := io.ReadFull(cr.r, id[:]); err != nil {
			return 0, 0, errors.Wrapf(ErrDecode, "basic header: %v", err)
		}
		cr.received += 2
		csid = uint32(binary.BigEndian.Uint16(id[:])) + 64
	}
	return fmt, csid, nil
}

func (cr *chunkReader) readMessageHeader(fmt chunkType, st *chunkState, csid uint32) error {
	switch fmt {
	case chunkType0:
		var buf [chunkType0HeaderLength]byte
		if _, err := io.ReadFull(cr.r, buf[:]); err != nil {
			return errors.Wrapf(ErrDecode, "chunk stream %d: type 0 header: %v", csid, err)
		}
		cr.received += chunkType0HeaderLength
		ts := binary24.Uint24(buf[0:3])
		st.length = binary24.Uint24(buf[3:6])
		st.typeID = MessageType(buf[6])
		// Message stream ID is the one little-endian field in the protocol.
		st.streamID = binary.LittleEndian.Uint32(buf[7:11])
		st.extended = ts == binary24.Max
		if st.extended {
			ext, err := cr.readExtendedTimestamp()
			if err != nil {
				return err
			}
			ts = ext
		}
		st.timestamp = ts
		st.delta = 0
	case chunkType1:
		var buf [chunkType1HeaderLength]byte
		if _, err := io.ReadFull(cr.r, buf[:]); err != nil {
			return errors.Wrapf(ErrDecode, "chunk stream %d: type 1 header: %v", csid, err)
		}
		cr.received += chunkType1HeaderLength
		delta := binary24.Uint24(buf[0:3])
		st.length = binary24.Uint24(buf[3:6])
		st.typeID = MessageType(buf[6])
		st.extended = delta == binary24.Max
		if st.extended {
			ext, err := cr.readExtendedTimestamp()
			if err != nil {
				return err
			}
			delta = ext
		}
		st.timestamp += delta
		st.delta = delta
	case chunkType2:
		var buf [chunkType2HeaderLength]byte
		if _, err := io.ReadFull(cr.r, buf[:]); err != nil {
			return errors.Wrapf(ErrDecode, "chunk stream %d: type 2 header: %v", csid, err)
		}
		cr.received += chunkType2HeaderLength
		delta := binary24.Uint24(buf[0:3])
		st.extended = delta == binary24.Max
		if st.extended {
			ext, err := cr.readExtendedTimestamp()
			if err != nil {
				return err
			}
			delta = ext
		}
		st.timestamp += delta
		st.delta = delta
	case chunkType3:
		// A type 3 header starting a new message repeats the previous
		// delta, re-reading the extended form if the last header used it.
		if st.extended {
			ext, err := cr.readExtendedTimestamp()
			if err != nil {
				return err
			}
			st.delta = ext
		}
		st.timestamp += st.delta
	}
	return nil
}

func (cr *chunkReader) readExtendedTimestamp() (uint32, error) {
	var buf [extendedTimestampLength]byte
	if _, err := io.ReadFull(cr.r, buf[:]); err != nil {
		return 0, errors.Wrapf(ErrDecode, "extended timestamp: %v", err)
	}
	cr.received += extendedTimestampLength
	return binary.BigEndian.Uint32(buf[:]), nil
}

// setChunkSize applies a Set Chunk Size control message from the peer.
func (cr *chunkReader) setChunkSize(size uint32) {
	cr.chunkSize = size
}

// abort discards any partially assembled message on the given chunk stream.
func (cr *chunkReader) abort(csid uint32) {
	if st, ok := cr.streams[csid]; ok {
		st.payload = nil
		st.read = 0
	}
}

// bytesReceived returns the total bytes consumed from the transport so far.
func (cr *chunkReader) bytesReceived() uint64 {
	return cr.received
}
