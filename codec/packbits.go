package codec

import "fmt"

// packBits decodes the Macintosh PackBits run length encoding.
func packBits(dst, src []byte, _ BlockInfo) (int, error) {
	n := 0
	for i := 0; i < len(src) && n < len(dst); {
		code := int(int8(src[i]))
		i++
		switch {
		case code >= 0:
			count := code + 1
			if i+count > len(src) {
				return n, fmt.Errorf("codec: packbits literal run of %d bytes past end of input", count)
			}
			n += copy(dst[n:], src[i:i+count])
			i += count
		case code == -128:
			// No-op.
		default:
			if i >= len(src) {
				return n, fmt.Errorf("codec: packbits repeat run past end of input")
			}
			b := src[i]
			i++
			for j := 0; j < 1-code && n < len(dst); j++ {
				dst[n] = b
				n++
			}
		}
	}
	if n < len(dst) {
		return n, shortOutput(n, len(dst))
	}
	return n, nil
}
