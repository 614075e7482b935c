// Package codec holds the registry of TIFF block decompressors.
//
// A decompressor turns the stored bytes of one strip or tile into exactly
// len(dst) bytes of raw samples. Producing fewer bytes is an error, extra
// output is dropped.
package codec

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/akhenakh/tiffblock/tiff"
)

var (
	ErrUnsupported = errors.New("codec: unsupported compression")
	ErrShortOutput = errors.New("codec: decompressed data shorter than expected")
)

// BlockInfo describes the block being decompressed. Codecs that only move
// bytes ignore it, sub-image and fax codecs need the geometry.
type BlockInfo struct {
	Width         int
	Height        int
	Samples       int
	BitsPerSample int
	Photometric   uint16
	FillOrder     uint16
	// Tables holds the JPEGTables tag value, if any.
	Tables []byte
}

// Decompressor decodes one stored block into dst and returns the number of
// bytes written, which is len(dst) on success.
type Decompressor interface {
	Decompress(dst, src []byte, info BlockInfo) (int, error)
}

// DecompressorFunc adapts a function to the Decompressor interface.
type DecompressorFunc func(dst, src []byte, info BlockInfo) (int, error)

func (f DecompressorFunc) Decompress(dst, src []byte, info BlockInfo) (int, error) {
	return f(dst, src, info)
}

// Registry maps compression codes to decompressors. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	codes map[uint16]Decompressor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{codes: make(map[uint16]Decompressor)}
}

// Register binds code to d, replacing any previous decompressor.
func (r *Registry) Register(code uint16, d Decompressor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes[code] = d
}

// Lookup returns the decompressor for code.
func (r *Registry) Lookup(code uint16) (Decompressor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.codes[code]
	return d, ok
}

// Codes returns the registered compression codes.
func (r *Registry) Codes() []uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]uint16, 0, len(r.codes))
	for c := range r.codes {
		codes = append(codes, c)
	}
	return codes
}

// Default returns a registry populated with every built-in codec.
// JPEG-XL and LERC have no decoder and stay unregistered.
func Default() *Registry {
	r := NewRegistry()
	r.Register(tiff.CompressionNone, DecompressorFunc(none))
	r.Register(tiff.CompressionPackBits, DecompressorFunc(packBits))
	r.Register(tiff.CompressionLZW, DecompressorFunc(lzwDecompress))
	r.Register(tiff.CompressionDeflate, DecompressorFunc(deflate))
	r.Register(tiff.CompressionDeflateO, DecompressorFunc(deflate))
	r.Register(tiff.CompressionZSTD, DecompressorFunc(zstdDecompress))
	r.Register(tiff.CompressionLZMA, DecompressorFunc(lzmaDecompress))
	r.Register(tiff.CompressionG3, DecompressorFunc(ccittG3))
	r.Register(tiff.CompressionG4, DecompressorFunc(ccittG4))
	r.Register(tiff.CompressionJPEG, SubImage(ImageDecoderFunc(decodeJPEG)))
	r.Register(tiff.CompressionWebP, SubImage(ImageDecoderFunc(decodeWebP)))
	return r
}

func none(dst, src []byte, _ BlockInfo) (int, error) {
	n := copy(dst, src)
	if n < len(dst) {
		return n, shortOutput(n, len(dst))
	}
	return n, nil
}

// readFull fills dst from a decompressing reader. Trailing output is left
// unread.
func readFull(r io.Reader, dst []byte) (int, error) {
	n, err := io.ReadFull(r, dst)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return n, shortOutput(n, len(dst))
	}
	return n, err
}

func shortOutput(got, want int) error {
	return fmt.Errorf("%w: %d of %d bytes", ErrShortOutput, got, want)
}
