// Package tifftest builds small TIFF files in memory for tests.
package tifftest

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"math"
	"slices"

	"github.com/akhenakh/tiffblock/tiff"
)

// Field is a directory entry to write. Data holds Count values encoded in
// the builder's byte order.
type Field struct {
	Tag   tiff.Tag
	Type  tiff.DataType
	Count uint64
	Data  []byte
}

// Page is one image directory and its strile payloads.
type Page struct {
	Fields []Field
	// Blocks are written in order and referenced by the offsets and byte
	// counts tags. A nil block is recorded as offset 0, byte count 0.
	Blocks [][]byte
	// Tiled selects TileOffsets/TileByteCounts over the strip tags.
	Tiled bool
}

// File is a built TIFF file.
type File struct {
	Data       []byte
	IFDOffsets []uint64
	// BlockOffsets holds the strile offsets of every page.
	BlockOffsets [][]uint64

	order   binary.ByteOrder
	big     bool
	nextPos []int
}

// Bytes returns a reader over the file contents.
func (f *File) Bytes() *bytes.Reader { return bytes.NewReader(f.Data) }

// SetNext overwrites the next directory offset of page i.
func (f *File) SetNext(i int, off uint64) {
	if f.big {
		f.order.PutUint64(f.Data[f.nextPos[i]:], off)
		return
	}
	f.order.PutUint32(f.Data[f.nextPos[i]:], uint32(off))
}

// Builder writes classic or BigTIFF files in either byte order.
type Builder struct {
	Order binary.ByteOrder
	Big   bool
}

// Shorts returns a SHORT field.
func (b Builder) Shorts(t tiff.Tag, v ...uint16) Field {
	data := make([]byte, 2*len(v))
	for i, x := range v {
		b.Order.PutUint16(data[2*i:], x)
	}
	return Field{Tag: t, Type: tiff.Short, Count: uint64(len(v)), Data: data}
}

// Longs returns a LONG field.
func (b Builder) Longs(t tiff.Tag, v ...uint32) Field {
	data := make([]byte, 4*len(v))
	for i, x := range v {
		b.Order.PutUint32(data[4*i:], x)
	}
	return Field{Tag: t, Type: tiff.Long, Count: uint64(len(v)), Data: data}
}

// Long8s returns a LONG8 field.
func (b Builder) Long8s(t tiff.Tag, v ...uint64) Field {
	data := make([]byte, 8*len(v))
	for i, x := range v {
		b.Order.PutUint64(data[8*i:], x)
	}
	return Field{Tag: t, Type: tiff.Long8, Count: uint64(len(v)), Data: data}
}

// Doubles returns a DOUBLE field.
func (b Builder) Doubles(t tiff.Tag, v ...float64) Field {
	data := make([]byte, 8*len(v))
	for i, x := range v {
		b.Order.PutUint64(data[8*i:], math.Float64bits(x))
	}
	return Field{Tag: t, Type: tiff.Double, Count: uint64(len(v)), Data: data}
}

// ASCII returns a NUL terminated ASCII field.
func (b Builder) ASCII(t tiff.Tag, s string) Field {
	data := append([]byte(s), 0)
	return Field{Tag: t, Type: tiff.ASCII, Count: uint64(len(data)), Data: data}
}

// Raw returns a field of any type from pre-encoded values.
func (b Builder) Raw(t tiff.Tag, typ tiff.DataType, count uint64, data []byte) Field {
	return Field{Tag: t, Type: typ, Count: count, Data: data}
}

// Build writes the pages as a directory chain, each page pointing to the
// next one and the last one ending the chain.
func (b Builder) Build(pages ...Page) *File {
	f := &File{order: b.Order, big: b.Big}
	var buf bytes.Buffer
	if b.Big {
		buf.Write(make([]byte, 16))
	} else {
		buf.Write(make([]byte, 8))
	}

	slotSize := uint64(4)
	if b.Big {
		slotSize = 8
	}

	for _, p := range pages {
		offsets := make([]uint64, len(p.Blocks))
		counts := make([]uint64, len(p.Blocks))
		for i, blk := range p.Blocks {
			if blk == nil {
				continue
			}
			offsets[i] = uint64(buf.Len())
			counts[i] = uint64(len(blk))
			buf.Write(blk)
		}
		f.BlockOffsets = append(f.BlockOffsets, offsets)

		fields := slices.Clone(p.Fields)
		if p.Blocks != nil {
			offTag, cntTag := tiff.StripOffsets, tiff.StripByteCounts
			if p.Tiled {
				offTag, cntTag = tiff.TileOffsets, tiff.TileByteCounts
			}
			fields = append(fields, b.uints(offTag, offsets), b.uints(cntTag, counts))
		}
		slices.SortStableFunc(fields, func(x, y Field) int { return cmp.Compare(x.Tag, y.Tag) })

		// Out-of-line values go before the directory.
		valueAt := make([]uint64, len(fields))
		for i, fl := range fields {
			if uint64(len(fl.Data)) <= slotSize {
				continue
			}
			if buf.Len()%2 == 1 {
				buf.WriteByte(0)
			}
			valueAt[i] = uint64(buf.Len())
			buf.Write(fl.Data)
		}
		if buf.Len()%2 == 1 {
			buf.WriteByte(0)
		}

		ifd := uint64(buf.Len())
		f.IFDOffsets = append(f.IFDOffsets, ifd)
		b.putCount(&buf, uint64(len(fields)))
		for i, fl := range fields {
			var e [20]byte
			b.Order.PutUint16(e[0:], uint16(fl.Tag))
			b.Order.PutUint16(e[2:], uint16(fl.Type))
			slot := e[8:12]
			if b.Big {
				b.Order.PutUint64(e[4:], fl.Count)
				slot = e[12:20]
			} else {
				b.Order.PutUint32(e[4:], uint32(fl.Count))
			}
			if valueAt[i] != 0 {
				if b.Big {
					b.Order.PutUint64(slot, valueAt[i])
				} else {
					b.Order.PutUint32(slot, uint32(valueAt[i]))
				}
			} else {
				copy(slot, fl.Data)
			}
			if b.Big {
				buf.Write(e[:20])
			} else {
				buf.Write(e[:12])
			}
		}
		f.nextPos = append(f.nextPos, buf.Len())
		buf.Write(make([]byte, slotSize))
	}

	f.Data = buf.Bytes()
	if b.Order == binary.BigEndian {
		copy(f.Data, "MM")
	} else {
		copy(f.Data, "II")
	}
	if b.Big {
		b.Order.PutUint16(f.Data[2:], 43)
		b.Order.PutUint16(f.Data[4:], 8)
		if len(f.IFDOffsets) > 0 {
			b.Order.PutUint64(f.Data[8:], f.IFDOffsets[0])
		}
	} else {
		b.Order.PutUint16(f.Data[2:], 42)
		if len(f.IFDOffsets) > 0 {
			b.Order.PutUint32(f.Data[4:], uint32(f.IFDOffsets[0]))
		}
	}
	for i := 0; i+1 < len(f.IFDOffsets); i++ {
		f.SetNext(i, f.IFDOffsets[i+1])
	}
	return f
}

func (b Builder) putCount(buf *bytes.Buffer, n uint64) {
	var c [8]byte
	if b.Big {
		b.Order.PutUint64(c[:], n)
		buf.Write(c[:8])
		return
	}
	b.Order.PutUint16(c[:], uint16(n))
	buf.Write(c[:2])
}

func (b Builder) uints(t tiff.Tag, v []uint64) Field {
	if b.Big {
		return b.Long8s(t, v...)
	}
	v32 := make([]uint32, len(v))
	for i, x := range v {
		v32[i] = uint32(x)
	}
	return b.Longs(t, v32...)
}
