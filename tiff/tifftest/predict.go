package tifftest

import "encoding/binary"

// EncodeHorizontal applies horizontal differencing in place to rows of
// rowLen samples stored in file byte order.
func EncodeHorizontal(buf []byte, rowLen, comps, sampleSize int, order binary.ByteOrder) {
	rowBytes := rowLen * sampleSize
	for off := 0; off+rowBytes <= len(buf); off += rowBytes {
		row := buf[off : off+rowBytes]
		for i := rowLen - 1; i >= comps; i-- {
			cur, prev := row[i*sampleSize:], row[(i-comps)*sampleSize:]
			switch sampleSize {
			case 1:
				cur[0] -= prev[0]
			case 2:
				order.PutUint16(cur, order.Uint16(cur)-order.Uint16(prev))
			case 4:
				order.PutUint32(cur, order.Uint32(cur)-order.Uint32(prev))
			case 8:
				order.PutUint64(cur, order.Uint64(cur)-order.Uint64(prev))
			}
		}
	}
}

// EncodeFloat applies the floating point predictor in place to rows of
// width pixels of comps samples stored in host byte order.
func EncodeFloat(buf []byte, width, comps, sampleSize int) {
	nativeBig := binary.NativeEndian.Uint16([]byte{0, 1}) == 1
	wc := width * comps
	rowBytes := wc * sampleSize
	tmp := make([]byte, rowBytes)
	for off := 0; off+rowBytes <= len(buf); off += rowBytes {
		row := buf[off : off+rowBytes]
		for i := 0; i < wc; i++ {
			for b := 0; b < sampleSize; b++ {
				plane := b
				if !nativeBig {
					plane = sampleSize - b - 1
				}
				tmp[plane*wc+i] = row[sampleSize*i+b]
			}
		}
		copy(row, tmp)
		for i := rowBytes - 1; i >= comps; i-- {
			row[i] -= row[i-comps]
		}
	}
}
