// Package video defines the FLV video tag header vocabulary, as specified
// in the Adobe FLV file format spec v10.1.
package video

type FrameType uint8

const (
	KeyFrame             FrameType = 1
	InterFrame           FrameType = 2
	DisposableInterFrame FrameType = 3
	GeneratedKeyFrame    FrameType = 4
	CommandFrame         FrameType = 5
)

type Codec uint8

const (
	SorensonH263    Codec = 2
	ScreenVideo     Codec = 3
	VP6             Codec = 4
	VP6AlphaChannel Codec = 5
	ScreenVideoV2   Codec = 6
	H264            Codec = 7
)

type AVCPacketType uint8

const (
	AVCSequenceHeader AVCPacketType = 0
	AVCNALU           AVCPacketType = 1
	AVCEndOfSequence  AVCPacketType = 2
)

// ParseHeader splits the first byte of a video tag payload into frame type
// and codec.
func ParseHeader(b byte) (FrameType, Codec) {
	return FrameType(b >> 4), Codec(b & 0x0F)
}
