package codec

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	"golang.org/x/image/tiff/lzw"
)

var zlibReaders sync.Pool

func deflate(dst, src []byte, _ BlockInfo) (int, error) {
	br := bytes.NewReader(src)
	var zr io.ReadCloser
	if v := zlibReaders.Get(); v != nil {
		zr = v.(io.ReadCloser)
		if err := zr.(zlib.Resetter).Reset(br, nil); err != nil {
			return 0, fmt.Errorf("codec: deflate: %w", err)
		}
	} else {
		var err error
		if zr, err = zlib.NewReader(br); err != nil {
			return 0, fmt.Errorf("codec: deflate: %w", err)
		}
	}
	defer zlibReaders.Put(zr)

	n, err := readFull(zr, dst)
	if err != nil {
		return n, fmt.Errorf("codec: deflate: %w", err)
	}
	return n, nil
}

// maxZstdWindow bounds the history a frame may ask the decoder to hold.
const maxZstdWindow = 1 << 30

var zstdReaders sync.Pool

// zstdDecompress streams the frame into dst so a frame declaring more
// output than the block holds stops once dst is full.
func zstdDecompress(dst, src []byte, _ BlockInfo) (int, error) {
	br := bytes.NewReader(src)
	var zr *zstd.Decoder
	if v := zstdReaders.Get(); v != nil {
		zr = v.(*zstd.Decoder)
		if err := zr.Reset(br); err != nil {
			return 0, fmt.Errorf("codec: zstd: %w", err)
		}
	} else {
		var err error
		zr, err = zstd.NewReader(br,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(maxZstdWindow),
			zstd.WithDecoderMaxWindow(maxZstdWindow),
		)
		if err != nil {
			return 0, fmt.Errorf("codec: zstd: %w", err)
		}
	}
	defer zstdReaders.Put(zr)

	n, err := readFull(zr, dst)
	if err != nil {
		return n, fmt.Errorf("codec: zstd: %w", err)
	}
	return n, nil
}

// lzmaDecompress reads the xz container written by libtiff's LZMA2 codec.
func lzmaDecompress(dst, src []byte, _ BlockInfo) (int, error) {
	r, err := xz.NewReader(bytes.NewReader(src))
	if err != nil {
		return 0, fmt.Errorf("codec: lzma: %w", err)
	}
	n, err := readFull(r, dst)
	if err != nil {
		return n, fmt.Errorf("codec: lzma: %w", err)
	}
	return n, nil
}

func lzwDecompress(dst, src []byte, _ BlockInfo) (int, error) {
	r := lzw.NewReader(bytes.NewReader(src), lzw.MSB, 8)
	defer r.Close()
	n, err := readFull(r, dst)
	if err != nil {
		return n, fmt.Errorf("codec: lzw: %w", err)
	}
	return n, nil
}
