package amf0

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestEncodeKnownForms(t *testing.T) {
	encodeTests := []struct {
		name string
		in   interface{}
		out  []byte
	}{
		{"number", float64(5), []byte{0x00, 0x40, 0x14, 0, 0, 0, 0, 0, 0}},
		{"integer", 5, []byte{0x00, 0x40, 0x14, 0, 0, 0, 0, 0, 0}},
		{"booleanTrue", true, []byte{0x01, 0x01}},
		{"booleanFalse", false, []byte{0x01, 0x00}},
		{"string", "live", []byte{0x02, 0x00, 0x04, 'l', 'i', 'v', 'e'}},
		{"null", nil, []byte{0x05}},
	}

	for _, tt := range encodeTests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.in)
			if err != nil {
				t.Fatalf("encoding %v: %v", tt.in, err)
			}
			if !bytes.Equal(got, tt.out) {
				t.Errorf("expected %v, but got %v", tt.out, got)
			}
		})
	}
}

func TestEncodeUnsupportedType(t *testing.T) {
	if _, err := Encode(struct{}{}); err == nil {
		t.Error("expected an error for an unsupported type")
	}
}

func TestEncodeNestedUnsupportedType(t *testing.T) {
	nestedTests := []struct {
		name string
		in   interface{}
	}{
		{"object", map[string]interface{}{"bad": make(chan int)}},
		{"ecmaArray", ECMAArray{"bad": make(chan int)}},
		{"objectInObject", map[string]interface{}{"inner": map[string]interface{}{"bad": make(chan int)}}},
	}
	for _, tt := range nestedTests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Encode(tt.in)
			if err == nil {
				t.Fatalf("expected an error, but got %v", b)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	roundTripTests := []struct {
		name string
		in   interface{}
	}{
		{"number", float64(1234.5)},
		{"negativeNumber", float64(-2000)},
		{"boolean", true},
		{"string", "NetStream.Publish.Start"},
		{"longString", strings.Repeat("x", 70000)},
		{"null", nil},
		{"object", map[string]interface{}{
			"app":      "live/ingest",
			"flashVer": "FMLE/3.0",
			"fpad":     false,
			"audio":    float64(4071),
		}},
		{"nestedObject", map[string]interface{}{
			"data": map[string]interface{}{"width": float64(1920), "height": float64(1080)},
		}},
		{"ecmaArray", ECMAArray{"duration": float64(0), "encoder": "test"}},
		{"strictArray", []interface{}{float64(1), "two", nil}},
	}

	for _, tt := range roundTripTests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Encode(tt.in)
			if err != nil {
				t.Fatalf("encoding: %v", err)
			}
			got, err := Decode(b)
			if err != nil {
				t.Fatalf("decoding: %v", err)
			}
			if !reflect.DeepEqual(got, tt.in) {
				t.Errorf("expected %#v, but got %#v", tt.in, got)
			}
		})
	}
}

func TestDateRoundTrip(t *testing.T) {
	in := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	b, err := Encode(in)
	if err != nil {
		t.Fatalf("encoding: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("decoding: %v", err)
	}
	ts, ok := got.(time.Time)
	if !ok {
		t.Fatalf("expected time.Time, but got %T", got)
	}
	if !ts.Equal(in) {
		t.Errorf("expected %v, but got %v", in, ts)
	}
}

func TestDecoderSequence(t *testing.T) {
	// A command payload is a flat sequence of values.
	payload, err := EncodeAll("connect", float64(1), map[string]interface{}{"app": "live"})
	if err != nil {
		t.Fatalf("encoding: %v", err)
	}

	d := NewDecoder(payload)
	name, err := d.NextString()
	if err != nil || name != "connect" {
		t.Errorf("expected command name connect, but got %q (%v)", name, err)
	}
	tid, err := d.NextNumber()
	if err != nil || tid != 1 {
		t.Errorf("expected transaction id 1, but got %v (%v)", tid, err)
	}
	obj, err := d.Next()
	if err != nil {
		t.Fatalf("decoding object: %v", err)
	}
	m, ok := obj.(map[string]interface{})
	if !ok || m["app"] != "live" {
		t.Errorf("expected the command object, but got %#v", obj)
	}
	if d.More() {
		t.Error("expected the decoder to be exhausted")
	}
}

func TestDecodeMalformedInput(t *testing.T) {
	malformedTests := []struct {
		name string
		in   []byte
	}{
		{"empty", nil},
		{"truncatedNumber", []byte{0x00, 0x40}},
		{"truncatedString", []byte{0x02, 0x00, 0x10, 'a'}},
		{"truncatedLongString", []byte{0x0C, 0x00, 0x01, 0x00, 0x00, 'a'}},
		{"objectWithoutEnd", []byte{0x03, 0x00, 0x03, 'a', 'p', 'p', 0x05}},
		{"truncatedDate", []byte{0x0B, 0x00, 0x00}},
		{"strictArrayShortfall", []byte{0x0A, 0x00, 0x00, 0x00, 0x02, 0x05}},
		// A huge declared count must fail on the missing elements, not
		// reserve memory for them first.
		{"strictArrayHugeCount", []byte{0x0A, 0x7F, 0xFF, 0xFF, 0xFF, 0x05}},
	}

	for _, tt := range malformedTests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.in); !errors.Is(err, ErrTruncated) {
				t.Errorf("expected ErrTruncated, but got %v", err)
			}
		})
	}

	if _, err := Decode([]byte{0xFF}); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, but got %v", err)
	}
}

func TestDecodeECMAArrayWithAdvisoryCount(t *testing.T) {
	// Some encoders send a zero associative count; the end marker decides.
	raw := []byte{
		0x08, 0x00, 0x00, 0x00, 0x00, // count 0
		0x00, 0x01, 'k', 0x02, 0x00, 0x01, 'v',
		0x00, 0x00, 0x09,
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("decoding: %v", err)
	}
	m, ok := got.(ECMAArray)
	if !ok {
		t.Fatalf("expected ECMAArray, but got %T", got)
	}
	if m["k"] != "v" {
		t.Errorf("expected property k=v, but got %#v", m)
	}
}
