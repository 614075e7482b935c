package codec

import (
	"bytes"
	"fmt"

	"golang.org/x/image/ccitt"

	"github.com/akhenakh/tiffblock/tiff"
)

func ccittG3(dst, src []byte, info BlockInfo) (int, error) {
	return decodeFax(dst, src, info, ccitt.Group3)
}

func ccittG4(dst, src []byte, info BlockInfo) (int, error) {
	return decodeFax(dst, src, info, ccitt.Group4)
}

// decodeFax produces byte aligned 1-bit rows, MSB first, in the
// photometric sense of the image.
func decodeFax(dst, src []byte, info BlockInfo, sf ccitt.SubFormat) (int, error) {
	order := ccitt.MSB
	if info.FillOrder == 2 {
		order = ccitt.LSB
	}
	// The decoder emits 1 for white.
	opts := &ccitt.Options{Invert: info.Photometric == tiff.PhotometricWhiteIsZero}
	r := ccitt.NewReader(bytes.NewReader(src), order, sf, info.Width, info.Height, opts)
	n, err := readFull(r, dst)
	if err != nil {
		return n, fmt.Errorf("codec: ccitt: %w", err)
	}
	return n, nil
}
