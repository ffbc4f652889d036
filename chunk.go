package rtmp

type chunkType uint8

// Header forms, from full (type 0) to empty (type 3). Which form a chunk
// uses is encoded in the two highest bits of the basic header.
const (
	chunkType0 chunkType = iota
	chunkType1
	chunkType2
	chunkType3
)

const (
	chunkType0HeaderLength = 11
	chunkType1HeaderLength = 7
	chunkType2HeaderLength = 3

	extendedTimestampLength = 4
)

// DefaultChunkSize is the chunk payload limit both peers start with. It
// stays in effect until a Set Chunk Size control message changes it.
const DefaultChunkSize uint32 = 128

// chunkState tracks the decode context of one chunk stream ID: the header
// fields a compressed header omits because they repeat the previous
// message's values, plus the partially assembled payload.
type chunkState struct {
	timestamp uint32 // absolute timestamp of the current message
	delta     uint32 // most recent timestamp delta
	length    uint32
	typeID    MessageType
	streamID  uint32
	extended  bool // last header carried an extended timestamp

	payload []byte
	read    uint32
}
