package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"golang.org/x/image/webp"
)

// ImageDecoder decodes a block that is itself a complete compressed image.
type ImageDecoder interface {
	DecodeImage(src []byte, info BlockInfo) (image.Image, error)
}

// ImageDecoderFunc adapts a function to the ImageDecoder interface.
type ImageDecoderFunc func(src []byte, info BlockInfo) (image.Image, error)

func (f ImageDecoderFunc) DecodeImage(src []byte, info BlockInfo) (image.Image, error) {
	return f(src, info)
}

// SubImage returns a Decompressor that decodes blocks with d and copies the
// pixels into dst as interleaved 8-bit samples. The block must have 1, 3
// or 4 samples per pixel.
func SubImage(d ImageDecoder) Decompressor {
	return DecompressorFunc(func(dst, src []byte, info BlockInfo) (int, error) {
		if info.BitsPerSample != 8 {
			return 0, fmt.Errorf("%w: %d bits per sample in a sub-image block", ErrUnsupported, info.BitsPerSample)
		}
		img, err := d.DecodeImage(src, info)
		if err != nil {
			return 0, err
		}
		return copyPixels(dst, img, info)
	})
}

func copyPixels(dst []byte, img image.Image, info BlockInfo) (int, error) {
	b := img.Bounds()
	if b.Dx() < info.Width || b.Dy() < info.Height {
		return 0, fmt.Errorf("%w: decoded %dx%d image for a %dx%d block", ErrShortOutput, b.Dx(), b.Dy(), info.Width, info.Height)
	}
	spp := info.Samples
	if spp != 1 && spp != 3 && spp != 4 {
		return 0, fmt.Errorf("%w: %d samples per pixel in a sub-image block", ErrUnsupported, spp)
	}
	if len(dst) < info.Width*info.Height*spp {
		return 0, shortOutput(len(dst), info.Width*info.Height*spp)
	}

	n := 0
	for y := 0; y < info.Height; y++ {
		for x := 0; x < info.Width; x++ {
			px := dst[n : n+spp]
			n += spp
			switch m := img.(type) {
			case *image.Gray:
				g := m.Pix[m.PixOffset(b.Min.X+x, b.Min.Y+y)]
				fillGray(px, g)
			case *image.YCbCr:
				yi := m.YOffset(b.Min.X+x, b.Min.Y+y)
				if spp == 1 {
					px[0] = m.Y[yi]
					continue
				}
				ci := m.COffset(b.Min.X+x, b.Min.Y+y)
				r, g, bl := color.YCbCrToRGB(m.Y[yi], m.Cb[ci], m.Cr[ci])
				px[0], px[1], px[2] = r, g, bl
				if spp == 4 {
					px[3] = 0xFF
				}
			case *image.NRGBA:
				i := m.PixOffset(b.Min.X+x, b.Min.Y+y)
				copyRGBA(px, m.Pix[i:i+4])
			default:
				c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
				copyRGBA(px, []byte{c.R, c.G, c.B, c.A})
			}
		}
	}
	return n, nil
}

func fillGray(px []byte, g byte) {
	for i := range px {
		px[i] = g
	}
	if len(px) == 4 {
		px[3] = 0xFF
	}
}

func copyRGBA(px, rgba []byte) {
	if len(px) == 1 {
		// Rec. 601 luma, as color.GrayModel.
		y := (19595*uint32(rgba[0]) + 38470*uint32(rgba[1]) + 7471*uint32(rgba[2]) + 1<<15) >> 16
		px[0] = byte(y)
		return
	}
	copy(px, rgba[:len(px)])
}

// decodeJPEG decodes an abbreviated JPEG stream, splicing in the shared
// tables when the image carries a JPEGTables tag.
func decodeJPEG(src []byte, info BlockInfo) (image.Image, error) {
	data := src
	if tables := info.Tables; len(tables) > 0 {
		if len(tables) >= 2 && tables[len(tables)-2] == 0xFF && tables[len(tables)-1] == 0xD9 {
			tables = tables[:len(tables)-2]
		}
		if len(src) >= 2 && src[0] == 0xFF && src[1] == 0xD8 {
			src = src[2:]
		}
		data = make([]byte, 0, len(tables)+len(src))
		data = append(data, tables...)
		data = append(data, src...)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("codec: jpeg: %w", err)
	}
	return img, nil
}

func decodeWebP(src []byte, _ BlockInfo) (image.Image, error) {
	img, err := webp.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("codec: webp: %w", err)
	}
	return img, nil
}
