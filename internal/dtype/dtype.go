// Package dtype handles the on-disk sample element types used by recording
// formats and their conversion to the pipeline's float32 working
// representation.
//
// All on-disk encodings are little-endian, which matches every acquisition
// system we support.
package dtype

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Type identifies the storage element type of a recording.
type Type string

const (
	Int16   Type = "int16"
	Uint16  Type = "uint16"
	Int32   Type = "int32"
	Float32 Type = "float32"
	Float64 Type = "float64"
)

// Parse validates a configured dtype name.
func Parse(name string) (Type, error) {
	switch Type(name) {
	case Int16, Uint16, Int32, Float32, Float64:
		return Type(name), nil
	default:
		return "", fmt.Errorf("unsupported data type %q (supported: int16, uint16, int32, float32, float64)", name)
	}
}

// Size returns the byte width of one sample element.
func (t Type) Size() int {
	switch t {
	case Int16, Uint16:
		return 2
	case Int32, Float32:
		return 4
	case Float64:
		return 8
	default:
		return 0
	}
}

// Decode converts len(dst) raw elements from src into float32 samples.
// src must hold at least len(dst)*t.Size() bytes.
func (t Type) Decode(dst []float32, src []byte) error {
	need := len(dst) * t.Size()
	if len(src) < need {
		return fmt.Errorf("decode %s: need %d bytes, have %d", t, need, len(src))
	}

	switch t {
	case Int16:
		for i := range dst {
			dst[i] = float32(int16(binary.LittleEndian.Uint16(src[i*2:])))
		}
	case Uint16:
		for i := range dst {
			dst[i] = float32(binary.LittleEndian.Uint16(src[i*2:]))
		}
	case Int32:
		for i := range dst {
			dst[i] = float32(int32(binary.LittleEndian.Uint32(src[i*4:])))
		}
	case Float32:
		for i := range dst {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
		}
	case Float64:
		for i := range dst {
			dst[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(src[i*8:])))
		}
	default:
		return fmt.Errorf("decode: unsupported data type %q", t)
	}

	return nil
}

// Encode converts float32 samples into raw elements in dst.
// dst must hold at least len(src)*t.Size() bytes.
func (t Type) Encode(dst []byte, src []float32) error {
	need := len(src) * t.Size()
	if len(dst) < need {
		return fmt.Errorf("encode %s: need %d bytes, have %d", t, need, len(dst))
	}

	switch t {
	case Int16:
		for i, v := range src {
			binary.LittleEndian.PutUint16(dst[i*2:], uint16(int16(v)))
		}
	case Uint16:
		for i, v := range src {
			binary.LittleEndian.PutUint16(dst[i*2:], uint16(v))
		}
	case Int32:
		for i, v := range src {
			binary.LittleEndian.PutUint32(dst[i*4:], uint32(int32(v)))
		}
	case Float32:
		for i, v := range src {
			binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
		}
	case Float64:
		for i, v := range src {
			binary.LittleEndian.PutUint64(dst[i*8:], math.Float64bits(float64(v)))
		}
	default:
		return fmt.Errorf("encode: unsupported data type %q", t)
	}

	return nil
}
