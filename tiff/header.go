package tiff

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrInvalidHeader = errors.New("tiff: invalid header")
	ErrTruncated     = errors.New("tiff: truncated structure")
	ErrZeroOffset    = errors.New("tiff: zero offset for out-of-line values")
	ErrNoImage       = errors.New("tiff: file contains no image directory")
)

// Header is the decoded file header.
type Header struct {
	Order binary.ByteOrder
	// Big is set for the BigTIFF variant with 8 byte offsets.
	Big         bool
	FirstOffset uint64
}

// ReadHeader parses the file header to determine byte order, variant and
// the location of the first image directory.
func ReadHeader(src ByteSource) (Header, error) {
	var h Header
	var buf [16]byte
	n := min(int64(len(buf)), src.Size())
	if n < 8 {
		return h, fmt.Errorf("%w: file is %d bytes long", ErrInvalidHeader, src.Size())
	}
	if got, _ := src.ReadAt(buf[:n], 0); int64(got) != n {
		return h, fmt.Errorf("%w: short header read", ErrTruncated)
	}

	switch string(buf[:2]) {
	case littleEndian:
		h.Order = binary.LittleEndian
	case bigEndian:
		h.Order = binary.BigEndian
	default:
		return h, fmt.Errorf("%w: invalid byte order %q", ErrInvalidHeader, buf[:2])
	}

	switch identifier := h.Order.Uint16(buf[2:]); identifier {
	case tiffIdentifier:
		h.FirstOffset = uint64(h.Order.Uint32(buf[4:]))
	case bigTiffIdentifier:
		h.Big = true
		if n < 16 {
			return h, fmt.Errorf("%w: BigTIFF header", ErrTruncated)
		}
		if bytesize := h.Order.Uint16(buf[4:]); bytesize != bigTiffBytesize {
			return h, fmt.Errorf("%w: invalid BigTIFF bytesize %d", ErrInvalidHeader, bytesize)
		}
		if reserved := h.Order.Uint16(buf[6:]); reserved != 0 {
			return h, fmt.Errorf("%w: invalid BigTIFF reserved field %d", ErrInvalidHeader, reserved)
		}
		h.FirstOffset = h.Order.Uint64(buf[8:])
	default:
		return h, fmt.Errorf("%w: invalid tiff identifier %d", ErrInvalidHeader, identifier)
	}
	return h, nil
}
