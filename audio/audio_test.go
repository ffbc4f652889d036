package audio

import "testing"

func TestParseHeader(t *testing.T) {
	// 0xAF: AAC, 44 kHz, 16-bit, stereo.
	format, rate, size, channels := ParseHeader(0xAF)
	if format != AAC {
		t.Errorf("expected AAC, but got %v", format)
	}
	if rate != Rate44KHz {
		t.Errorf("expected 44 kHz, but got %v", rate)
	}
	if size != Size16Bit {
		t.Errorf("expected 16-bit samples, but got %v", size)
	}
	if channels != Stereo {
		t.Errorf("expected stereo, but got %v", channels)
	}

	// 0x24: MP3, 11 kHz, 8-bit, mono.
	format, rate, size, channels = ParseHeader(0x24)
	if format != MP3 || rate != Rate11KHz || size != Size8Bit || channels != Mono {
		t.Errorf("unexpected split: %v %v %v %v", format, rate, size, channels)
	}
}
