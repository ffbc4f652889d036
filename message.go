package rtmp

type MessageType uint8

// Message type IDs as they appear on the wire.
const (
	SetChunkSize     MessageType = 1
	AbortMessage     MessageType = 2
	Ack              MessageType = 3
	UserControl      MessageType = 4
	WindowAckSize    MessageType = 5
	SetPeerBandwidth MessageType = 6

	AudioMessage MessageType = 8
	VideoMessage MessageType = 9

	DataMessageAMF3    MessageType = 15
	CommandMessageAMF3 MessageType = 17
	DataMessageAMF0    MessageType = 18
	CommandMessageAMF0 MessageType = 20

	AggregateMessage MessageType = 22
)

// User control event types.
const (
	EventStreamBegin      uint16 = 0
	EventStreamEOF        uint16 = 1
	EventStreamDry        uint16 = 2
	EventSetBufferLength  uint16 = 3
	EventStreamIsRecorded uint16 = 4
	EventPingRequest      uint16 = 6
	EventPingResponse     uint16 = 7
)

// Chunk stream IDs used for outbound traffic. The protocol reserves csid 2
// for control messages; the media channels follow the assignment the engine
// has always used so a given kind of data stays on a given chunk stream.
const (
	ProtocolChunkStream uint32 = 2
	CommandChunkStream  uint32 = 3
	DataChunkStream     uint32 = 4
	AudioChunkStream    uint32 = 5
	VideoChunkStream    uint32 = 6
)

// Message is one logical RTMP message, either reassembled from inbound
// chunks or awaiting outbound framing. Once constructed it is never
// modified; ownership passes to the outbound queue on enqueue.
type Message struct {
	Type          MessageType
	ChunkStreamID uint32
	StreamID      uint32
	// Timestamp is the 32-bit wire timestamp in milliseconds. It wraps;
	// see timestampCorrector for the publish path's 64-bit correction.
	Timestamp uint32
	Payload   []byte
}

// IsProtocolControl reports whether the message carries connection-level
// state (chunk size, ack windows) rather than media or commands.
func (m *Message) IsProtocolControl() bool {
	switch m.Type {
	case SetChunkSize, AbortMessage, Ack, WindowAckSize, SetPeerBandwidth:
		return true
	}
	return false
}

// IsMedia reports whether the message should be handed to the host's media
// callback on the play path.
func (m *Message) IsMedia() bool {
	switch m.Type {
	case AudioMessage, VideoMessage, DataMessageAMF0:
		return true
	}
	return false
}
