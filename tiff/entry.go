package tiff

import (
	"encoding/binary"
	"math"
)

// Entry is one parsed directory entry. Values that fit in the entry's value
// slot are kept inline, in file byte order, without any allocation.
type Entry struct {
	Tag   Tag
	Type  DataType
	Count uint64

	// Offset is the file position of out-of-line values, 0 when inline.
	Offset uint64

	// InvalidOffset marks out-of-line values running past the end of the file.
	InvalidOffset bool

	inline [8]byte
}

// IsInline reports whether the values are stored in the entry itself.
func (e *Entry) IsInline() bool { return e.Offset == 0 }

// ByteSize returns the size of the values in bytes, or false on overflow.
func (e *Entry) ByteSize() (uint64, bool) {
	n := uint64(e.Type.Size())
	if n == 0 || e.Count > math.MaxUint64/n {
		return 0, false
	}
	return n * e.Count, true
}

// InlineBytes returns the inline value bytes, nil for out-of-line entries.
func (e *Entry) InlineBytes() []byte {
	if !e.IsInline() {
		return nil
	}
	n, _ := e.ByteSize()
	return e.inline[:n]
}

// Raw returns the undecoded value bytes of e.
func (img *Image) Raw(e *Entry) ([]byte, bool) {
	if e == nil || e.InvalidOffset {
		return nil, false
	}
	if e.IsInline() {
		return e.InlineBytes(), true
	}
	n, ok := e.ByteSize()
	if !ok {
		return nil, false
	}
	return img.r.Bytes(e.Offset, n)
}

// ReadTagAs decodes the values of e as T. The on-disk type must have the
// same width and the same integer/float nature as T.
func ReadTagAs[T Scalar](img *Image, e *Entry) ([]T, bool) {
	if e == nil || e.Type.Size() != sizeOf[T]() || isFloat[T]() != (e.Type == Float || e.Type == Double) {
		return nil, false
	}
	raw, ok := img.Raw(e)
	if !ok {
		return nil, false
	}
	return DecodeArray[T](img.r.order, raw), true
}

// Uints decodes integer valued entries into uint64. Signed values are
// sign extended before conversion.
func (img *Image) Uints(e *Entry) ([]uint64, bool) {
	if e == nil || !e.Type.isInteger() {
		return nil, false
	}
	raw, ok := img.Raw(e)
	if !ok {
		return nil, false
	}
	out := make([]uint64, e.Count)
	for i := range out {
		out[i] = decodeUint(img.r.order, e.Type, raw, uint64(i))
	}
	return out, true
}

// Floats decodes any numeric entry into float64. Rationals with a zero
// denominator decode as NaN.
func (img *Image) Floats(e *Entry) ([]float64, bool) {
	if e == nil || e.Type == ASCII {
		return nil, false
	}
	raw, ok := img.Raw(e)
	if !ok {
		return nil, false
	}
	order := img.r.order
	out := make([]float64, e.Count)
	for i := range out {
		switch e.Type {
		case Float:
			out[i] = float64(math.Float32frombits(order.Uint32(raw[i*4:])))
		case Double:
			out[i] = math.Float64frombits(order.Uint64(raw[i*8:]))
		case Rational, SRational:
			out[i], _ = decodeRational(order, raw[i*8:], e.Type == SRational)
		default:
			v := decodeUint(order, e.Type, raw, uint64(i))
			if e.Type.isSigned() {
				out[i] = float64(int64(v))
			} else {
				out[i] = float64(v)
			}
		}
	}
	return out, true
}

// String decodes an ASCII entry, dropping one trailing NUL.
func (img *Image) String(e *Entry) (string, bool) {
	if e == nil || (e.Type != ASCII && e.Type != Byte && e.Type != Undefined) {
		return "", false
	}
	raw, ok := img.Raw(e)
	if !ok {
		return "", false
	}
	return trimNUL(raw), true
}

// Uint returns the first value of an integer tag.
func (img *Image) Uint(t Tag) (uint64, bool) {
	e := img.Tag(t)
	if e == nil || e.Count == 0 {
		return 0, false
	}
	return img.uintAt(e, 0)
}

// uintAt reads the i-th value of an integer entry without loading the
// whole array, which keeps strile lookups cheap on large images.
func (img *Image) uintAt(e *Entry, i uint64) (uint64, bool) {
	if e == nil || i >= e.Count || e.InvalidOffset || !e.Type.isInteger() {
		return 0, false
	}
	size := uint64(e.Type.Size())
	if e.IsInline() {
		return decodeUint(img.r.order, e.Type, e.inline[:], i), true
	}
	var buf [8]byte
	if !img.r.ReadAt(buf[:size], e.Offset+i*size) {
		return 0, false
	}
	return decodeUint(img.r.order, e.Type, buf[:size], 0), true
}

func decodeUint(order binary.ByteOrder, t DataType, raw []byte, i uint64) uint64 {
	switch t.Size() {
	case 1:
		if t == SByte {
			return uint64(int64(int8(raw[i])))
		}
		return uint64(raw[i])
	case 2:
		v := order.Uint16(raw[i*2:])
		if t == SShort {
			return uint64(int64(int16(v)))
		}
		return uint64(v)
	case 4:
		v := order.Uint32(raw[i*4:])
		if t == SLong {
			return uint64(int64(int32(v)))
		}
		return uint64(v)
	}
	return order.Uint64(raw[i*8:])
}

func isFloat[T Scalar]() bool {
	var v T
	switch any(v).(type) {
	case float32, float64:
		return true
	}
	return false
}
