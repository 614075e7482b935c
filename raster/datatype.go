package raster

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/akhenakh/tiffblock/tiff"
)

// DataType is the in-memory type of one sample.
type DataType int

const (
	Unknown DataType = iota
	Byte
	Int8
	UInt16
	Int16
	UInt32
	Int32
	UInt64
	Int64
	Float32
	Float64
)

var dataTypeNames = [...]string{"Unknown", "Byte", "Int8", "UInt16", "Int16", "UInt32", "Int32", "UInt64", "Int64", "Float32", "Float64"}

func (d DataType) String() string {
	if d < 0 || int(d) >= len(dataTypeNames) {
		return fmt.Sprintf("DataType(%d)", int(d))
	}
	return dataTypeNames[d]
}

// Size returns the size of one sample in bytes.
func (d DataType) Size() int {
	switch d {
	case Byte, Int8:
		return 1
	case UInt16, Int16:
		return 2
	case UInt32, Int32, Float32:
		return 4
	case UInt64, Int64, Float64:
		return 8
	}
	return 0
}

// IsFloat reports whether samples are IEEE floating point.
func (d DataType) IsFloat() bool { return d == Float32 || d == Float64 }

// dataTypeOf maps the sample layout of an image to a DataType. 1-bit
// samples are expanded to bytes.
func dataTypeOf(bits, format uint16) DataType {
	switch format {
	case tiff.SampleFormatUint, tiff.SampleFormatVoid:
		switch bits {
		case 1, 8:
			return Byte
		case 16:
			return UInt16
		case 32:
			return UInt32
		case 64:
			return UInt64
		}
	case tiff.SampleFormatInt:
		switch bits {
		case 8:
			return Int8
		case 16:
			return Int16
		case 32:
			return Int32
		case 64:
			return Int64
		}
	case tiff.SampleFormatFloat:
		switch bits {
		case 32:
			return Float32
		case 64:
			return Float64
		}
	}
	return Unknown
}

// Value decodes the host order sample at the start of b.
func (d DataType) Value(b []byte) float64 {
	ne := binary.NativeEndian
	switch d {
	case Byte:
		return float64(b[0])
	case Int8:
		return float64(int8(b[0]))
	case UInt16:
		return float64(ne.Uint16(b))
	case Int16:
		return float64(int16(ne.Uint16(b)))
	case UInt32:
		return float64(ne.Uint32(b))
	case Int32:
		return float64(int32(ne.Uint32(b)))
	case UInt64:
		return float64(ne.Uint64(b))
	case Int64:
		return float64(int64(ne.Uint64(b)))
	case Float32:
		return float64(math.Float32frombits(ne.Uint32(b)))
	case Float64:
		return math.Float64frombits(ne.Uint64(b))
	}
	return math.NaN()
}

// Put encodes v into b in host order, rounding to nearest and clamping to
// the range of integer types.
func (d DataType) Put(b []byte, v float64) {
	ne := binary.NativeEndian
	if !d.IsFloat() {
		if math.IsNaN(v) {
			v = 0
		}
		v = math.Round(v)
	}
	switch d {
	case Byte:
		b[0] = uint8(clamp(v, 0, math.MaxUint8))
	case Int8:
		b[0] = uint8(int8(clamp(v, math.MinInt8, math.MaxInt8)))
	case UInt16:
		ne.PutUint16(b, uint16(clamp(v, 0, math.MaxUint16)))
	case Int16:
		ne.PutUint16(b, uint16(int16(clamp(v, math.MinInt16, math.MaxInt16))))
	case UInt32:
		ne.PutUint32(b, uint32(clamp(v, 0, math.MaxUint32)))
	case Int32:
		ne.PutUint32(b, uint32(int32(clamp(v, math.MinInt32, math.MaxInt32))))
	case UInt64:
		// float64 cannot represent MaxUint64, the largest value below 2^64 is used.
		if v >= 1<<64 {
			ne.PutUint64(b, math.MaxUint64)
		} else {
			ne.PutUint64(b, uint64(clamp(v, 0, v)))
		}
	case Int64:
		if v >= 1<<63 {
			ne.PutUint64(b, math.MaxInt64)
		} else {
			ne.PutUint64(b, uint64(int64(clamp(v, math.MinInt64, v))))
		}
	case Float32:
		ne.PutUint32(b, math.Float32bits(float32(v)))
	case Float64:
		ne.PutUint64(b, math.Float64bits(v))
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
