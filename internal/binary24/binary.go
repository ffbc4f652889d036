// Package binary24 reads and writes the 24-bit big-endian integers used by
// RTMP chunk headers and FLV tag headers.
package binary24

// Max is the largest value representable in 24 bits. Chunk timestamps that
// reach this value spill into an extended timestamp field.
const Max uint32 = 0xFFFFFF

func Uint24(b []byte) uint32 {
	return uint32(b[2]) | uint32(b[1])<<8 | uint32(b[0])<<16
}

func PutUint24(b []byte, v uint32) {
	_ = b[2] // early bounds check to guarantee safety of writes below
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}
