package amf0

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/pkg/errors"
)

// Decoder reads consecutive AMF0 values from a message payload. Command
// payloads are a flat sequence (name, transaction id, arguments), so the
// decoder advances through the buffer one value per Next call.
//
// All input is treated as untrusted: truncated or unknown-typed data
// returns an error rather than panicking.
type Decoder struct {
	buf []byte
}

func NewDecoder(b []byte) *Decoder {
	return &Decoder{buf: b}
}

// More reports whether undecoded bytes remain.
func (d *Decoder) More() bool {
	return len(d.buf) > 0
}

// Next decodes the next value. Possible return types: float64, bool,
// string, map[string]interface{}, ECMAArray, []interface{}, time.Time, nil.
func (d *Decoder) Next() (interface{}, error) {
	v, n, err := decodeValue(d.buf)
	if err != nil {
		return nil, err
	}
	d.buf = d.buf[n:]
	return v, nil
}

// NextString decodes the next value and asserts it is a string.
func (d *Decoder) NextString() (string, error) {
	v, err := d.Next()
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.Errorf("amf0: expected string, got %T", v)
	}
	return s, nil
}

// NextNumber decodes the next value and asserts it is a number.
func (d *Decoder) NextNumber() (float64, error) {
	v, err := d.Next()
	if err != nil {
		return 0, err
	}
	n, ok := v.(float64)
	if !ok {
		return 0, errors.Errorf("amf0: expected number, got %T", v)
	}
	return n, nil
}

// Decode returns the first value in b. Convenience wrapper for payloads
// known to hold a single value.
func Decode(b []byte) (interface{}, error) {
	v, _, err := decodeValue(b)
	return v, err
}

// decodeValue returns the value at the start of b and the number of bytes
// it occupied.
func decodeValue(b []byte) (interface{}, int, error) {
	if len(b) == 0 {
		return nil, 0, ErrTruncated
	}
	switch b[0] {
	case typeNumber:
		if len(b) < 9 {
			return nil, 0, ErrTruncated
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b[1:9])), 9, nil
	case typeBoolean:
		if len(b) < 2 {
			return nil, 0, ErrTruncated
		}
		return b[1] != 0, 2, nil
	case typeString:
		if len(b) < 3 {
			return nil, 0, ErrTruncated
		}
		n := int(binary.BigEndian.Uint16(b[1:3]))
		if len(b) < 3+n {
			return nil, 0, ErrTruncated
		}
		return string(b[3 : 3+n]), 3 + n, nil
	case typeLongString:
		if len(b) < 5 {
			return nil, 0, ErrTruncated
		}
		n := int(binary.BigEndian.Uint32(b[1:5]))
		if len(b) < 5+n {
			return nil, 0, ErrTruncated
		}
		return string(b[5 : 5+n]), 5 + n, nil
	case typeObject:
		m, n, err := decodeProperties(b[1:])
		if err != nil {
			return nil, 0, err
		}
		return m, 1 + n, nil
	case typeNull, typeUndefined:
		return nil, 1, nil
	case typeECMAArray:
		if len(b) < 5 {
			return nil, 0, ErrTruncated
		}
		// The associative count is advisory; the object-end marker is
		// authoritative, and some encoders send a count of zero.
		m, n, err := decodeProperties(b[5:])
		if err != nil {
			return nil, 0, err
		}
		return ECMAArray(m), 5 + n, nil
	case typeStrictArray:
		if len(b) < 5 {
			return nil, 0, ErrTruncated
		}
		count := int(binary.BigEndian.Uint32(b[1:5]))
		// The count is untrusted; the smallest element is one byte, so
		// never reserve more than the input could hold.
		capHint := count
		if max := len(b) - 5; capHint > max {
			capHint = max
		}
		values := make([]interface{}, 0, capHint)
		offset := 5
		for i := 0; i < count; i++ {
			v, n, err := decodeValue(b[offset:])
			if err != nil {
				return nil, 0, err
			}
			values = append(values, v)
			offset += n
		}
		return values, offset, nil
	case typeDate:
		if len(b) < 11 {
			return nil, 0, ErrTruncated
		}
		ms := math.Float64frombits(binary.BigEndian.Uint64(b[1:9]))
		return time.Unix(0, int64(ms)*int64(time.Millisecond)), 11, nil
	default:
		return nil, 0, errors.Wrapf(ErrUnsupportedType, "marker 0x%02x", b[0])
	}
}

func decodeProperties(b []byte) (map[string]interface{}, int, error) {
	m := make(map[string]interface{})
	offset := 0
	for {
		if len(b[offset:]) >= 3 && b[offset] == 0x00 && b[offset+1] == 0x00 && b[offset+2] == typeObjectEnd {
			return m, offset + 3, nil
		}
		if len(b[offset:]) < 2 {
			return nil, 0, ErrTruncated
		}
		n := int(binary.BigEndian.Uint16(b[offset : offset+2]))
		if len(b[offset+2:]) < n {
			return nil, 0, ErrTruncated
		}
		key := string(b[offset+2 : offset+2+n])
		offset += 2 + n
		v, vn, err := decodeValue(b[offset:])
		if err != nil {
			return nil, 0, err
		}
		m[key] = v
		offset += vn
	}
}
