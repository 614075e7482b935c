// Package predictor reverses the TIFF differencing predictors and expands
// 1-bit samples to bytes. All transforms work in place on decompressed
// block rows.
package predictor

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrSampleSize = errors.New("predictor: unsupported sample size")

// Unsigned is the set of sample words the horizontal predictor accumulates.
type Unsigned interface {
	uint8 | uint16 | uint32 | uint64
}

// Horizontal undoes horizontal differencing on one row of comps interleaved
// components. Sums wrap around modulo the word size.
func Horizontal[T Unsigned](row []T, comps int) {
	if comps <= 0 || len(row) <= comps {
		return
	}
	switch comps {
	case 1:
		for i := 1; i < len(row); i++ {
			row[i] += row[i-1]
		}
	case 2:
		a, b := row[0], row[1]
		for i := 2; i+1 < len(row); i += 2 {
			a += row[i]
			b += row[i+1]
			row[i], row[i+1] = a, b
		}
	case 3:
		a, b, c := row[0], row[1], row[2]
		for i := 3; i+2 < len(row); i += 3 {
			a += row[i]
			b += row[i+1]
			c += row[i+2]
			row[i], row[i+1], row[i+2] = a, b, c
		}
	case 4:
		a, b, c, d := row[0], row[1], row[2], row[3]
		for i := 4; i+3 < len(row); i += 4 {
			a += row[i]
			b += row[i+1]
			c += row[i+2]
			d += row[i+3]
			row[i], row[i+1], row[i+2], row[i+3] = a, b, c, d
		}
	default:
		for i := comps; i < len(row); i++ {
			row[i] += row[i-comps]
		}
	}
}

// UndoHorizontal reverses the horizontal predictor over rows of rowLen
// samples of sampleSize bytes stored in buf in the given file byte order.
// The result is left in host byte order.
func UndoHorizontal(buf []byte, rowLen, comps, sampleSize int, order binary.ByteOrder) error {
	rowBytes := rowLen * sampleSize
	if rowBytes <= 0 {
		return nil
	}
	switch sampleSize {
	case 1:
		for off := 0; off+rowBytes <= len(buf); off += rowBytes {
			Horizontal(buf[off:off+rowBytes], comps)
		}
	case 2:
		undoWords(buf, rowLen, comps, order.Uint16, binary.NativeEndian.PutUint16)
	case 4:
		undoWords(buf, rowLen, comps, order.Uint32, binary.NativeEndian.PutUint32)
	case 8:
		undoWords(buf, rowLen, comps, order.Uint64, binary.NativeEndian.PutUint64)
	default:
		return fmt.Errorf("%w: %d bytes", ErrSampleSize, sampleSize)
	}
	return nil
}

func undoWords[T uint16 | uint32 | uint64](buf []byte, rowLen, comps int, get func([]byte) T, put func([]byte, T)) {
	var zero T
	size := sizeOf(zero)
	rowBytes := rowLen * size
	row := make([]T, rowLen)
	for off := 0; off+rowBytes <= len(buf); off += rowBytes {
		b := buf[off : off+rowBytes]
		for i := range row {
			row[i] = get(b[i*size:])
		}
		Horizontal(row, comps)
		for i, v := range row {
			put(b[i*size:], v)
		}
	}
}

func sizeOf[T uint16 | uint32 | uint64](v T) int {
	switch any(v).(type) {
	case uint16:
		return 2
	case uint32:
		return 4
	}
	return 8
}

// nativeBig is set on big endian hosts.
var nativeBig = binary.NativeEndian.Uint16([]byte{0, 1}) == 1

// UndoFloat reverses the floating point predictor over rows of width pixels
// of comps samples. The byte planes are accumulated with a stride of comps
// and then reassembled into host order words, so no byte swap is needed
// afterwards. tmp is used as scratch and grown when too small; the possibly
// reallocated scratch is returned for reuse.
func UndoFloat(buf []byte, width, comps, sampleSize int, tmp []byte) ([]byte, error) {
	switch sampleSize {
	case 2, 4, 8:
	default:
		return tmp, fmt.Errorf("%w: %d bytes", ErrSampleSize, sampleSize)
	}
	wc := width * comps
	rowBytes := wc * sampleSize
	if rowBytes <= 0 {
		return tmp, nil
	}
	if cap(tmp) < rowBytes {
		tmp = make([]byte, rowBytes)
	}
	tmp = tmp[:rowBytes]

	for off := 0; off+rowBytes <= len(buf); off += rowBytes {
		row := buf[off : off+rowBytes]
		for i := comps; i < rowBytes; i++ {
			row[i] += row[i-comps]
		}
		copy(tmp, row)
		for i := 0; i < wc; i++ {
			for b := 0; b < sampleSize; b++ {
				plane := b
				if !nativeBig {
					plane = sampleSize - b - 1
				}
				row[sampleSize*i+b] = tmp[plane*wc+i]
			}
		}
	}
	return tmp, nil
}

// ExpandBits unpacks MSB first 1-bit samples into one byte per sample.
// Each source row is width bits padded to a byte boundary. Set bits become
// one, typically 1 or 255. dst must hold width*rows bytes.
func ExpandBits(dst, src []byte, width, rows int, one byte) {
	srcRow := (width + 7) / 8
	for y := 0; y < rows; y++ {
		in := src[y*srcRow:]
		out := dst[y*width : (y+1)*width]
		for x := range out {
			if in[x>>3]&(0x80>>(x&7)) != 0 {
				out[x] = one
			} else {
				out[x] = 0
			}
		}
	}
}

// PackedSize returns the byte size of rows of width 1-bit samples.
func PackedSize(width, rows int) int {
	return (width + 7) / 8 * rows
}
