package rtmp

import (
	"bytes"
	"testing"
)

func TestFLVTagRoundTrip(t *testing.T) {
	payload := []byte{0x17, 0x00, 0x00, 0x00, 0x00, 0x01, 0x02, 0x03}
	raw := makeFLVTag(VideoMessage, 0x1234567, payload)

	tag, err := parseFLVTag(raw)
	if err != nil {
		t.Fatalf("parsing tag: %v", err)
	}
	if tag.typeID != VideoMessage {
		t.Errorf("expected video tag, but got type %v", tag.typeID)
	}
	if tag.timestamp != 0x1234567 {
		t.Errorf("expected timestamp %#x, but got %#x", 0x1234567, tag.timestamp)
	}
	if !bytes.Equal(tag.payload, payload) {
		t.Error("payload mismatch")
	}
}

func TestFLVTagExtendedTimestampByte(t *testing.T) {
	// The upper 8 bits of the 32-bit timestamp live in a separate byte
	// after the 24-bit field.
	raw := makeFLVTag(AudioMessage, 0xAB000001, []byte{0xAF, 0x01})
	tag, err := parseFLVTag(raw)
	if err != nil {
		t.Fatalf("parsing tag: %v", err)
	}
	if tag.timestamp != 0xAB000001 {
		t.Errorf("expected timestamp %#x, but got %#x", uint32(0xAB000001), tag.timestamp)
	}
}

func TestParseFLVTagErrors(t *testing.T) {
	parseTests := []struct {
		name string
		in   []byte
	}{
		{"tooShort", []byte{0x08, 0x00}},
		{"missingFooter", makeFLVTag(AudioMessage, 0, []byte{0xAF, 0x01})[:13]},
		{"unknownType", makeFLVTagWithType(0x42)},
		{"lengthMismatch", []byte{0x08, 0x00, 0x00, 0x10, 0, 0, 0, 0, 0, 0, 0, 0xAF, 0, 0, 0, 12}},
	}
	for _, tt := range parseTests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseFLVTag(tt.in); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func makeFLVTagWithType(typeID byte) []byte {
	raw := makeFLVTag(AudioMessage, 0, []byte{0xAF})
	raw[0] = typeID
	return raw
}

func TestIsFLVFileHeader(t *testing.T) {
	if !isFLVFileHeader(flvFileHeader) {
		t.Error("expected the canonical file header to be recognized")
	}
	if isFLVFileHeader(makeFLVTag(AudioMessage, 0, []byte{0xAF})) {
		t.Error("expected a media tag not to be mistaken for the file header")
	}
	if isFLVFileHeader([]byte{'F', 'L'}) {
		t.Error("expected a short prefix not to be recognized")
	}
}
