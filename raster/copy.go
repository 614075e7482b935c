package raster

// bandSlot maps one sample of a block pixel to a destination band.
type bandSlot struct {
	src int // sample index within a block pixel
	dst int // band position in the destination
}

// regionWriter copies decoded blocks into a caller buffer laid out by a
// Spacing. All offsets are validated by the scheduler before any block is
// decoded, so writes never fall outside dst.
type regionWriter struct {
	dst  []byte
	sp   Spacing
	size int
}

// write copies the w x h pixels at (sx, sy) of blk to the destination
// pixel (dx, dy), for every slot.
func (rw *regionWriter) write(blk *Block, sx, sy, w, h, dx, dy int, slots []bandSlot) {
	size, sp := rw.size, rw.sp
	srcPixel := blk.Samples * size
	srcStride := blk.Stride()
	origin := dx*sp.Pixel + dy*sp.Line
	start := sy*srcStride + sx*srcPixel

	switch {
	case blk.Samples == 1 && sp.Pixel == size:
		for _, sl := range slots {
			rw.rows(blk.Data, start, srcStride, origin+sl.dst*sp.Band, w*size, h)
		}
	case blk.Samples > 1 && sp.Pixel == size:
		for _, sl := range slots {
			rw.deinterleave(blk.Data, start+sl.src*size, srcStride, srcPixel, origin+sl.dst*sp.Band, w, h)
		}
	case blk.Samples > 1 && sp.Band == size && consecutive(slots):
		run := len(slots) * size
		s := start + slots[0].src*size
		d := origin + slots[0].dst*sp.Band
		if run == srcPixel && sp.Pixel == srcPixel {
			rw.rows(blk.Data, s, srcStride, d, w*srcPixel, h)
			return
		}
		rw.runs(blk.Data, s, srcStride, srcPixel, d, run, w, h)
	default:
		rw.general(blk.Data, start, srcStride, srcPixel, origin, w, h, slots)
	}
}

// rows copies h rows of n contiguous bytes.
func (rw *regionWriter) rows(src []byte, s, srcStride, d, n, h int) {
	for range h {
		copy(rw.dst[d:d+n], src[s:s+n])
		s += srcStride
		d += rw.sp.Line
	}
}

// deinterleave extracts one sample per source pixel into a destination
// whose samples are adjacent.
func (rw *regionWriter) deinterleave(src []byte, s, srcStride, srcPixel, d, w, h int) {
	size := rw.size
	for range h {
		si, di := s, d
		if size == 1 {
			for range w {
				rw.dst[di] = src[si]
				si += srcPixel
				di++
			}
		} else {
			for range w {
				copy(rw.dst[di:di+size], src[si:si+size])
				si += srcPixel
				di += size
			}
		}
		s += srcStride
		d += rw.sp.Line
	}
}

// runs copies run bytes per pixel between interleaved layouts with
// different pixel strides.
func (rw *regionWriter) runs(src []byte, s, srcStride, srcPixel, d, run, w, h int) {
	for range h {
		si, di := s, d
		for range w {
			copy(rw.dst[di:di+run], src[si:si+run])
			si += srcPixel
			di += rw.sp.Pixel
		}
		s += srcStride
		d += rw.sp.Line
	}
}

func (rw *regionWriter) general(src []byte, s, srcStride, srcPixel, d, w, h int, slots []bandSlot) {
	size, sp := rw.size, rw.sp
	for y := range h {
		for x := range w {
			sp0 := s + y*srcStride + x*srcPixel
			dp0 := d + y*sp.Line + x*sp.Pixel
			for _, sl := range slots {
				si := sp0 + sl.src*size
				di := dp0 + sl.dst*sp.Band
				copy(rw.dst[di:di+size], src[si:si+size])
			}
		}
	}
}

// consecutive reports whether slots address adjacent samples on both sides.
func consecutive(slots []bandSlot) bool {
	for i, sl := range slots {
		if sl.src != slots[0].src+i || sl.dst != slots[0].dst+i {
			return false
		}
	}
	return true
}
