// Package audio defines the FLV audio tag header vocabulary, as specified
// in the Adobe FLV file format spec v10.1.
package audio

type Format uint8

const (
	LinearPCMPlatformEndian Format = 0
	ADPCM                   Format = 1
	MP3                     Format = 2
	LinearPCMLittleEndian   Format = 3
	Nellymoser16KHzMono     Format = 4
	Nellymoser8KHzMono      Format = 5
	Nellymoser              Format = 6
	G711AlawLogPCM          Format = 7
	G711MulawLogPCM         Format = 8
	AAC                     Format = 10
	Speex                   Format = 11
	MP38KHz                 Format = 14
	DeviceSpecificSound     Format = 15
)

type SampleRate uint8

const (
	Rate5p5KHz SampleRate = 0
	Rate11KHz  SampleRate = 1
	Rate22KHz  SampleRate = 2
	Rate44KHz  SampleRate = 3
)

type SampleSize uint8

const (
	Size8Bit  SampleSize = 0
	Size16Bit SampleSize = 1
)

type Channel uint8

const (
	Mono   Channel = 0
	Stereo Channel = 1
)

type AACPacketType uint8

const (
	AACSequenceHeader AACPacketType = 0
	AACRaw            AACPacketType = 1
)

// ParseHeader splits the first byte of an audio tag payload into its four
// packed fields.
func ParseHeader(b byte) (Format, SampleRate, SampleSize, Channel) {
	return Format(b >> 4), SampleRate((b >> 2) & 0x03), SampleSize((b >> 1) & 0x01), Channel(b & 0x01)
}
