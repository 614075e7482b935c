package raster

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/klauspost/compress/zlib"

	"github.com/akhenakh/tiffblock/tiff"
	"github.com/akhenakh/tiffblock/tiff/tifftest"
)

var nativeBig = binary.NativeEndian.Uint16([]byte{0, 1}) == 1

// layout describes a synthetic image for tests.
type layout struct {
	width, height  int
	bands          int
	dt             DataType
	blockW, blockH int // tile size, or rows per strip in blockH
	tiled          bool
	separate       bool
	predictor      uint16
	compression    uint16
	// sparse lists strile indexes written as absent.
	sparse map[int]bool
	extra  []tifftest.Field
}

func (l layout) bitsFormat() (uint16, uint16) {
	bits := uint16(l.dt.Size() * 8)
	switch l.dt {
	case Int8, Int16, Int32, Int64:
		return bits, tiff.SampleFormatInt
	case Float32, Float64:
		return bits, tiff.SampleFormatFloat
	}
	return bits, tiff.SampleFormatUint
}

func (l layout) blockWidth() int {
	if l.tiled {
		return l.blockW
	}
	return l.width
}

// ramp is the default pixel value: distinct per pixel and band and small
// enough for every data type.
func ramp(x, y, band int) float64 { return float64((x + 3*y + 31*band) % 100) }

// build writes the image with sample (x, y, band) = value(x, y, band) and
// optionally compresses every block.
func (l layout) build(b tifftest.Builder, value func(x, y, band int) float64, compress func([]byte) []byte) *tifftest.File {
	bits, format := l.bitsFormat()
	bps := make([]uint16, l.bands)
	for i := range bps {
		bps[i] = bits
	}
	planar := uint16(tiff.PlanarContig)
	if l.separate {
		planar = tiff.PlanarSeparate
	}
	compression := l.compression
	if compression == 0 {
		compression = tiff.CompressionNone
	}
	pred := l.predictor
	if pred == 0 {
		pred = tiff.PredictorNone
	}
	fields := []tifftest.Field{
		b.Longs(tiff.ImageWidth, uint32(l.width)),
		b.Longs(tiff.ImageLength, uint32(l.height)),
		b.Shorts(tiff.BitsPerSample, bps...),
		b.Shorts(tiff.Compression, compression),
		b.Shorts(tiff.PhotometricInterpretation, tiff.PhotometricBlackIsZero),
		b.Shorts(tiff.SamplesPerPixel, uint16(l.bands)),
		b.Shorts(tiff.PlanarConfiguration, planar),
		b.Shorts(tiff.Predictor, pred),
		b.Shorts(tiff.SampleFormat, format),
	}
	if l.tiled {
		fields = append(fields, b.Longs(tiff.TileWidth, uint32(l.blockW)), b.Longs(tiff.TileLength, uint32(l.blockH)))
	} else {
		fields = append(fields, b.Longs(tiff.RowsPerStrip, uint32(l.blockH)))
	}
	fields = append(fields, l.extra...)

	bw := l.blockWidth()
	perRow := (l.width + bw - 1) / bw
	perCol := (l.height + l.blockH - 1) / l.blockH
	planes, samples := 1, l.bands
	if l.separate {
		planes, samples = l.bands, 1
	}
	size := l.dt.Size()
	swap := (b.Order == binary.BigEndian) != nativeBig

	var blocks [][]byte
	for plane := range planes {
		for ty := range perCol {
			for tx := range perRow {
				if l.sparse[len(blocks)] {
					blocks = append(blocks, nil)
					continue
				}
				rows := l.blockH
				if !l.tiled {
					rows = min(rows, l.height-ty*l.blockH)
				}
				buf := make([]byte, bw*rows*samples*size)
				for py := range rows {
					for px := range bw {
						x, y := tx*bw+px, ty*l.blockH+py
						if x >= l.width || y >= l.height {
							continue
						}
						for s := range samples {
							band := s
							if l.separate {
								band = plane
							}
							l.dt.Put(buf[((py*bw+px)*samples+s)*size:], value(x, y, band))
						}
					}
				}
				switch {
				case l.predictor == tiff.PredictorFloatingPoint:
					tifftest.EncodeFloat(buf, bw, samples, size)
				default:
					if swap && size > 1 {
						swapBytes(buf, size)
					}
					if l.predictor == tiff.PredictorHorizontal {
						tifftest.EncodeHorizontal(buf, bw*samples, samples, size, b.Order)
					}
				}
				if compress != nil {
					buf = compress(buf)
				}
				blocks = append(blocks, buf)
			}
		}
	}
	return b.Build(tifftest.Page{Fields: fields, Blocks: blocks, Tiled: l.tiled})
}

// expected renders a window band-sequentially in host order.
func (l layout) expected(win Window, bands []int, value func(x, y, band int) float64) []byte {
	size := l.dt.Size()
	out := make([]byte, win.Width*win.Height*len(bands)*size)
	i := 0
	for _, b := range bands {
		for y := win.Y; y < win.Y+win.Height; y++ {
			for x := win.X; x < win.X+win.Width; x++ {
				l.dt.Put(out[i:], value(x, y, b))
				i += size
			}
		}
	}
	return out
}

func allBands(n int) []int {
	b := make([]int, n)
	for i := range b {
		b[i] = i
	}
	return b
}

func openFile(t *testing.T, e *Engine, f *tifftest.File, opts ...DatasetOption) *Dataset {
	t.Helper()
	ds, err := e.Open(f.Bytes(), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { ds.Close() })
	return ds
}

func deflate(t *testing.T) func([]byte) []byte {
	return func(raw []byte) []byte {
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			t.Fatal(err)
		}
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
		return buf.Bytes()
	}
}
