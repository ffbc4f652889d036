package amf0

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Encode returns the AMF0 representation of v. Supported types: numbers
// (float64 and the integer kinds the engine produces), bool, string, nil,
// map[string]interface{}, ECMAArray, time.Time, and []interface{} as a
// strict array.
func Encode(v interface{}) ([]byte, error) {
	switch v := v.(type) {
	case float64:
		return encodeNumber(v), nil
	case int:
		return encodeNumber(float64(v)), nil
	case uint32:
		return encodeNumber(float64(v)), nil
	case bool:
		return encodeBoolean(v), nil
	case string:
		return encodeString(v), nil
	case nil:
		return []byte{typeNull}, nil
	case ECMAArray:
		return encodeECMAArray(v)
	case map[string]interface{}:
		return encodeObject(v)
	case []interface{}:
		return encodeStrictArray(v)
	case time.Time:
		return encodeDate(v), nil
	default:
		return nil, fmt.Errorf("amf0: cannot encode type %T", v)
	}
}

// EncodeAll encodes each value in order into one payload, the shape every
// command message has on the wire.
func EncodeAll(values ...interface{}) ([]byte, error) {
	buf := &bytes.Buffer{}
	for _, v := range values {
		b, err := Encode(v)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	return buf.Bytes(), nil
}

func encodeNumber(n float64) []byte {
	var buf [9]byte
	buf[0] = typeNumber
	binary.BigEndian.PutUint64(buf[1:], math.Float64bits(n))
	return buf[:]
}

func encodeBoolean(b bool) []byte {
	var buf [2]byte
	buf[0] = typeBoolean
	if b {
		buf[1] = 1
	}
	return buf[:]
}

func encodeString(s string) []byte {
	if len(s) < longStringThreshold {
		str := make([]byte, 3+len(s))
		str[0] = typeString
		binary.BigEndian.PutUint16(str[1:3], uint16(len(s)))
		copy(str[3:], s)
		return str
	}
	str := make([]byte, 5+len(s))
	str[0] = typeLongString
	binary.BigEndian.PutUint32(str[1:5], uint32(len(s)))
	copy(str[5:], s)
	return str
}

func encodeProperties(buf *bytes.Buffer, m map[string]interface{}) error {
	for key, value := range m {
		// Property names omit the string type marker.
		var klen [2]byte
		binary.BigEndian.PutUint16(klen[:], uint16(len(key)))
		buf.Write(klen[:])
		buf.WriteString(key)
		val, err := Encode(value)
		if err != nil {
			return err
		}
		buf.Write(val)
	}
	buf.Write([]byte{0x00, 0x00, typeObjectEnd})
	return nil
}

func encodeObject(m map[string]interface{}) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteByte(typeObject)
	if err := encodeProperties(buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeECMAArray(m ECMAArray) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteByte(typeECMAArray)
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(m)))
	buf.Write(count[:])
	if err := encodeProperties(buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeStrictArray(values []interface{}) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteByte(typeStrictArray)
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(values)))
	buf.Write(count[:])
	for _, v := range values {
		b, err := Encode(v)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	return buf.Bytes(), nil
}

func encodeDate(t time.Time) []byte {
	var buf [11]byte
	buf[0] = typeDate
	binary.BigEndian.PutUint64(buf[1:9], math.Float64bits(float64(t.UnixNano()/int64(time.Millisecond))))
	// Trailing two bytes are the time zone, fixed at 0 by the format.
	return buf[:]
}
