package tiff

import (
	"encoding/binary"
	"io"
	"math"
)

// ByteSource is a random access byte source of known size.
// *os.File wrapped in io.NewSectionReader, *bytes.Reader and the readers of
// the source package satisfy it.
type ByteSource interface {
	io.ReaderAt
	Size() int64
}

// Scalar is any fixed size value a Reader can decode.
type Scalar interface {
	uint8 | int8 | uint16 | int16 | uint32 | int32 | uint64 | int64 | float32 | float64
}

// Reader reads typed values from a ByteSource in the file byte order.
// Every read reports success through a boolean, a false result never
// carries a usable value.
type Reader struct {
	src   ByteSource
	order binary.ByteOrder
}

// NewReader returns a Reader decoding src with the given byte order.
func NewReader(src ByteSource, order binary.ByteOrder) *Reader {
	return &Reader{src: src, order: order}
}

// Order returns the file byte order.
func (r *Reader) Order() binary.ByteOrder { return r.order }

// Swapped reports whether the file byte order differs from the host order.
func (r *Reader) Swapped() bool { return !sameOrder(r.order, binary.NativeEndian) }

// Size returns the size of the underlying source.
func (r *Reader) Size() int64 { return r.src.Size() }

// Source returns the underlying source.
func (r *Reader) Source() ByteSource { return r.src }

// ReadAt fills p from offset off. It reports false on short reads or
// when the range falls outside the source.
func (r *Reader) ReadAt(p []byte, off uint64) bool {
	if !inFile(off, uint64(len(p)), r.src.Size()) {
		return false
	}
	// io.ReaderAt may return io.EOF alongside a full read at the end of the source.
	n, _ := r.src.ReadAt(p, int64(off))
	return n == len(p)
}

// Bytes reads n bytes at off into a fresh slice.
func (r *Reader) Bytes(off, n uint64) ([]byte, bool) {
	if !inFile(off, n, r.src.Size()) {
		return nil, false
	}
	p := make([]byte, n)
	if !r.ReadAt(p, off) {
		return nil, false
	}
	return p, true
}

// ReadScalar reads one value of type T at off.
func ReadScalar[T Scalar](r *Reader, off uint64) (T, bool) {
	var v T
	var buf [8]byte
	n := sizeOf[T]()
	if !r.ReadAt(buf[:n], off) {
		return v, false
	}
	return decodeScalar[T](r.order, buf[:n]), true
}

// ReadArray reads count values of type T starting at off. A short read
// returns nil and false.
func ReadArray[T Scalar](r *Reader, off uint64, count uint64) ([]T, bool) {
	n := uint64(sizeOf[T]())
	if count > math.MaxInt64/n {
		return nil, false
	}
	raw, ok := r.Bytes(off, count*n)
	if !ok {
		return nil, false
	}
	return DecodeArray[T](r.order, raw), true
}

// ReadRational reads a numerator/denominator pair at off. The result is
// NaN and false when the denominator is zero.
func (r *Reader) ReadRational(off uint64, signed bool) (float64, bool) {
	var buf [8]byte
	if !r.ReadAt(buf[:], off) {
		return 0, false
	}
	return decodeRational(r.order, buf[:], signed)
}

// ReadString reads length bytes at off, dropping one trailing NUL.
func (r *Reader) ReadString(off, length uint64) (string, bool) {
	raw, ok := r.Bytes(off, length)
	if !ok {
		return "", false
	}
	return trimNUL(raw), true
}

// DecodeArray decodes raw into values of type T using order.
func DecodeArray[T Scalar](order binary.ByteOrder, raw []byte) []T {
	n := sizeOf[T]()
	out := make([]T, len(raw)/n)
	for i := range out {
		out[i] = decodeScalar[T](order, raw[i*n:])
	}
	return out
}

func decodeRational(order binary.ByteOrder, b []byte, signed bool) (float64, bool) {
	var num, den float64
	if signed {
		num, den = float64(int32(order.Uint32(b))), float64(int32(order.Uint32(b[4:])))
	} else {
		num, den = float64(order.Uint32(b)), float64(order.Uint32(b[4:]))
	}
	if den == 0 {
		return math.NaN(), false
	}
	return num / den, true
}

func trimNUL(b []byte) string {
	if n := len(b); n > 0 && b[n-1] == 0 {
		b = b[:n-1]
	}
	return string(b)
}

func sizeOf[T Scalar]() int {
	var v T
	switch any(v).(type) {
	case uint8, int8:
		return 1
	case uint16, int16:
		return 2
	case uint32, int32, float32:
		return 4
	}
	return 8
}

func decodeScalar[T Scalar](order binary.ByteOrder, b []byte) T {
	var v T
	switch p := any(&v).(type) {
	case *uint8:
		*p = b[0]
	case *int8:
		*p = int8(b[0])
	case *uint16:
		*p = order.Uint16(b)
	case *int16:
		*p = int16(order.Uint16(b))
	case *uint32:
		*p = order.Uint32(b)
	case *int32:
		*p = int32(order.Uint32(b))
	case *uint64:
		*p = order.Uint64(b)
	case *int64:
		*p = int64(order.Uint64(b))
	case *float32:
		*p = math.Float32frombits(order.Uint32(b))
	case *float64:
		*p = math.Float64frombits(order.Uint64(b))
	}
	return v
}

// inFile reports whether [off, off+n) lies inside a source of the given size.
func inFile(off, n uint64, size int64) bool {
	if size < 0 || off+n < off {
		return false
	}
	return off+n <= uint64(size)
}

func sameOrder(a, b binary.ByteOrder) bool {
	var buf [2]byte
	a.PutUint16(buf[:], 1)
	return b.Uint16(buf[:]) == 1
}
