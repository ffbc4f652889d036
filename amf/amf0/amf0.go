// Package amf0 implements the AMF0 self-describing object notation used by
// RTMP command and data messages.
package amf0

import "errors"

// ECMAArray is an AMF0 object carrying an explicit property count.
// Encoders send metadata either as a plain object or as an ECMA array, so
// both decode to a map; the distinct type preserves the wire form on
// re-encode.
type ECMAArray map[string]interface{}

var ErrTruncated = errors.New("amf0: truncated value")
var ErrUnsupportedType = errors.New("amf0: unsupported type marker")

const (
	typeNumber      byte = 0x00
	typeBoolean     byte = 0x01
	typeString      byte = 0x02
	typeObject      byte = 0x03
	typeNull        byte = 0x05
	typeUndefined   byte = 0x06
	typeECMAArray   byte = 0x08
	typeObjectEnd   byte = 0x09
	typeStrictArray byte = 0x0A
	typeDate        byte = 0x0B
	typeLongString  byte = 0x0C
)

const longStringThreshold = 65535
