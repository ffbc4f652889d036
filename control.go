package rtmp

import "encoding/binary"

// Constructors for the fixed-layout protocol control and user control
// messages. All of them travel on the reserved control chunk stream with
// message stream ID 0.

func newSetChunkSizeMessage(size uint32) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, size)
	return &Message{Type: SetChunkSize, ChunkStreamID: ProtocolChunkStream, Payload: payload}
}

func newAckMessage(sequenceNumber uint32) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, sequenceNumber)
	return &Message{Type: Ack, ChunkStreamID: ProtocolChunkStream, Payload: payload}
}

func newWindowAckSizeMessage(size uint32) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, size)
	return &Message{Type: WindowAckSize, ChunkStreamID: ProtocolChunkStream, Payload: payload}
}

func newUserControlMessage(event uint16, args ...uint32) *Message {
	payload := make([]byte, 2+4*len(args))
	binary.BigEndian.PutUint16(payload, event)
	for i, arg := range args {
		binary.BigEndian.PutUint32(payload[2+4*i:], arg)
	}
	return &Message{Type: UserControl, ChunkStreamID: ProtocolChunkStream, Payload: payload}
}

// newSetBufferLengthMessage asks the server to buffer the given number of
// milliseconds for a played stream.
func newSetBufferLengthMessage(streamID uint32, ms uint32) *Message {
	return newUserControlMessage(EventSetBufferLength, streamID, ms)
}
