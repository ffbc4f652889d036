package video

import "testing"

func TestParseHeader(t *testing.T) {
	// 0x17: AVC key frame.
	frameType, codec := ParseHeader(0x17)
	if frameType != KeyFrame {
		t.Errorf("expected a key frame, but got %v", frameType)
	}
	if codec != H264 {
		t.Errorf("expected H.264, but got %v", codec)
	}

	// 0x27: AVC inter frame.
	frameType, codec = ParseHeader(0x27)
	if frameType != InterFrame || codec != H264 {
		t.Errorf("unexpected split: %v %v", frameType, codec)
	}
}
