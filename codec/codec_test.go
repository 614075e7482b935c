package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"testing"

	"github.com/hhrutter/lzw"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/akhenakh/tiffblock/tiff"
)

// sample returns n bytes with enough repetition to compress.
func sample(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7/3) ^ byte(i>>5)
	}
	return b
}

func encodeZlib(t *testing.T, raw []byte) []byte {
	t.Helper()
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

func encodeZstd(t *testing.T, raw []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil)
}

func encodeXZ(t *testing.T, raw []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(raw); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func encodeLZW(t *testing.T, raw []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := lzw.NewWriter(&buf, true)
	if _, err := w.Write(raw); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestStreamCodecs(t *testing.T) {
	raw := sample(3000)
	reg := Default()
	testCases := []struct {
		name   string
		code   uint16
		encode func(*testing.T, []byte) []byte
	}{
		{name: "none", code: tiff.CompressionNone, encode: func(_ *testing.T, b []byte) []byte { return b }},
		{name: "deflate", code: tiff.CompressionDeflate, encode: encodeZlib},
		{name: "old deflate", code: tiff.CompressionDeflateO, encode: encodeZlib},
		{name: "zstd", code: tiff.CompressionZSTD, encode: encodeZstd},
		{name: "lzma", code: tiff.CompressionLZMA, encode: encodeXZ},
		{name: "lzw", code: tiff.CompressionLZW, encode: encodeLZW},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d, ok := reg.Lookup(tc.code)
			if !ok {
				t.Fatalf("compression %d not registered", tc.code)
			}
			src := tc.encode(t, raw)

			// Run twice so pooled decoders are reused.
			for i := 0; i < 2; i++ {
				dst := make([]byte, len(raw))
				n, err := d.Decompress(dst, src, BlockInfo{})
				if err != nil {
					t.Fatalf("Decompress: %v", err)
				}
				if n != len(raw) || !bytes.Equal(dst, raw) {
					t.Fatalf("output mismatch after %d bytes", n)
				}
			}

			// Extra output is dropped.
			dst := make([]byte, 100)
			if _, err := d.Decompress(dst, src, BlockInfo{}); err != nil || !bytes.Equal(dst, raw[:100]) {
				t.Errorf("truncated Decompress = %v", err)
			}

			// Missing output is an error.
			dst = make([]byte, len(raw)+10)
			if _, err := d.Decompress(dst, src, BlockInfo{}); !errors.Is(err, ErrShortOutput) {
				t.Errorf("oversized Decompress error = %v, want ErrShortOutput", err)
			}
		})
	}
}

func TestZstdStopsAtBlockSize(t *testing.T) {
	d, _ := Default().Lookup(tiff.CompressionZSTD)
	big := encodeZstd(t, bytes.Repeat([]byte{9}, 4<<20))
	small := sample(64)
	tests := []struct {
		name string
		src  []byte
		want []byte
	}{
		{"expanding frame", big, bytes.Repeat([]byte{9}, 16)},
		{"decoder reused", encodeZstd(t, small), small},
		{"expanding frame again", big, bytes.Repeat([]byte{9}, 16)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := make([]byte, len(tt.want))
			n, err := d.Decompress(dst, tt.src, BlockInfo{})
			if err != nil {
				t.Fatal(err)
			}
			if n != len(tt.want) || !bytes.Equal(dst, tt.want) {
				t.Errorf("Decompress = %d bytes %v, want %v", n, dst[:n], tt.want)
			}
		})
	}
}

func TestCorruptStreams(t *testing.T) {
	reg := Default()
	garbage := []byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0}
	for _, code := range []uint16{tiff.CompressionDeflate, tiff.CompressionZSTD, tiff.CompressionLZMA, tiff.CompressionJPEG, tiff.CompressionWebP} {
		t.Run(fmt.Sprintf("compression %d", code), func(t *testing.T) {
			d, _ := reg.Lookup(code)
			info := BlockInfo{Width: 2, Height: 2, Samples: 1, BitsPerSample: 8}
			if _, err := d.Decompress(make([]byte, 4), garbage, info); err == nil {
				t.Errorf("compression %d decoded garbage", code)
			}
		})
	}
}

func TestPackBits(t *testing.T) {
	// PackBits sample stream published with TIFF 6.0.
	src := []byte{0xFE, 0xAA, 0x02, 0x80, 0x00, 0x2A, 0xFD, 0xAA, 0x03, 0x80, 0x00, 0x2A, 0x22, 0xF7, 0xAA}
	want := []byte{
		0xAA, 0xAA, 0xAA, 0x80, 0x00, 0x2A, 0xAA, 0xAA, 0xAA, 0xAA, 0x80, 0x00,
		0x2A, 0x22, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA,
	}
	testCases := []struct {
		name    string
		src     []byte
		dstLen  int
		want    []byte
		wantErr bool
	}{
		{name: "full", src: src, dstLen: len(want), want: want},
		{name: "no-op code", src: append([]byte{0x80}, src...), dstLen: len(want), want: want},
		{name: "truncated output", src: src, dstLen: 5, want: want[:5]},
		{name: "short input", src: src[:6], dstLen: len(want), wantErr: true},
		{name: "literal past end", src: []byte{0x05, 0x01}, dstLen: 6, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dst := make([]byte, tc.dstLen)
			_, err := packBits(dst, tc.src, BlockInfo{})
			if tc.wantErr {
				if err == nil {
					t.Error("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(dst, tc.want) {
				t.Errorf("got % x, want % x", dst, tc.want)
			}
		})
	}
}

func TestCCITTGroup4(t *testing.T) {
	// Every row is a single V0 code against an all white reference line.
	src := []byte{0xFF}
	testCases := []struct {
		name        string
		photometric uint16
		want        byte
	}{
		{name: "black is zero", photometric: tiff.PhotometricBlackIsZero, want: 0xFF},
		{name: "white is zero", photometric: tiff.PhotometricWhiteIsZero, want: 0x00},
	}
	d, _ := Default().Lookup(tiff.CompressionG4)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dst := make([]byte, 8)
			info := BlockInfo{Width: 8, Height: 8, Samples: 1, BitsPerSample: 1, Photometric: tc.photometric}
			if _, err := d.Decompress(dst, src, info); err != nil {
				t.Fatal(err)
			}
			for i, b := range dst {
				if b != tc.want {
					t.Fatalf("row %d = %#x, want %#x", i, b, tc.want)
				}
			}
		})
	}
}

func grayJPEG(t *testing.T) ([]byte, *image.Gray) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = byte(i / 16 * 16)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes(), img
}

func TestJPEG(t *testing.T) {
	full, img := grayJPEG(t)
	d, _ := Default().Lookup(tiff.CompressionJPEG)
	info := BlockInfo{Width: 16, Height: 16, Samples: 1, BitsPerSample: 8}

	direct := make([]byte, 256)
	if _, err := d.Decompress(direct, full, info); err != nil {
		t.Fatal(err)
	}
	for i, v := range direct {
		if diff := int(v) - int(img.Pix[i]); diff < -4 || diff > 4 {
			t.Fatalf("pixel %d = %d, want about %d", i, v, img.Pix[i])
		}
	}

	t.Run("shared tables", func(t *testing.T) {
		// Split the stream before the frame header as an abbreviated
		// stream with separate tables would be.
		p := bytes.Index(full, []byte{0xFF, 0xC0})
		if p < 0 {
			t.Fatal("no SOF0 marker")
		}
		tables := append(bytes.Clone(full[:p]), 0xFF, 0xD9)
		tile := append([]byte{0xFF, 0xD8}, full[p:]...)
		info := info
		info.Tables = tables

		spliced := make([]byte, 256)
		if _, err := d.Decompress(spliced, tile, info); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(spliced, direct) {
			t.Error("spliced decode differs from the full stream")
		}
	})

	t.Run("rgb output", func(t *testing.T) {
		info := info
		info.Samples = 3
		dst := make([]byte, 256*3)
		if _, err := d.Decompress(dst, full, info); err != nil {
			t.Fatal(err)
		}
		if dst[0] != dst[1] || dst[1] != dst[2] {
			t.Errorf("gray pixel expanded to %v", dst[:3])
		}
	})

	t.Run("block larger than image", func(t *testing.T) {
		info := info
		info.Width = 32
		if _, err := d.Decompress(make([]byte, 32*16), full, info); !errors.Is(err, ErrShortOutput) {
			t.Errorf("error = %v, want ErrShortOutput", err)
		}
	})

	t.Run("16 bit samples", func(t *testing.T) {
		info := info
		info.BitsPerSample = 16
		if _, err := d.Decompress(make([]byte, 512), full, info); !errors.Is(err, ErrUnsupported) {
			t.Errorf("error = %v, want ErrUnsupported", err)
		}
	})
}

func TestRegistry(t *testing.T) {
	reg := Default()
	for _, code := range []uint16{tiff.CompressionJXL, tiff.CompressionLERC, 12345} {
		if _, ok := reg.Lookup(code); ok {
			t.Errorf("compression %d unexpectedly registered", code)
		}
	}

	calls := 0
	reg.Register(tiff.CompressionJXL, DecompressorFunc(func(dst, src []byte, _ BlockInfo) (int, error) {
		calls++
		return copy(dst, src), nil
	}))
	d, ok := reg.Lookup(tiff.CompressionJXL)
	if !ok {
		t.Fatal("registered codec not found")
	}
	if _, err := d.Decompress(make([]byte, 1), []byte{1}, BlockInfo{}); err != nil || calls != 1 {
		t.Errorf("custom codec: calls=%d err=%v", calls, err)
	}
	if len(reg.Codes()) != 12 {
		t.Errorf("got %d codes, want 12", len(reg.Codes()))
	}
	if len(NewRegistry().Codes()) != 0 {
		t.Error("new registry is not empty")
	}
}
