package raster

import (
	"fmt"
	"math"
	"strings"
)

// Resampling selects how a region read maps source pixels to a
// destination of another size.
type Resampling int

const (
	Nearest Resampling = iota
	Bilinear
	// Cubic is the Catmull-Rom spline.
	Cubic
	// Average is the mean of the source pixels under each destination pixel.
	Average
)

var resamplingNames = [...]string{"nearest", "bilinear", "cubic", "average"}

func (r Resampling) String() string {
	if r < 0 || int(r) >= len(resamplingNames) {
		return fmt.Sprintf("Resampling(%d)", int(r))
	}
	return resamplingNames[r]
}

// ParseResampling parses a resampling name, case insensitively. The empty
// string is Nearest.
func ParseResampling(s string) (Resampling, error) {
	if s == "" {
		return Nearest, nil
	}
	for i, n := range resamplingNames {
		if strings.EqualFold(s, n) {
			return Resampling(i), nil
		}
	}
	return Nearest, fmt.Errorf("unknown resampling %q", s)
}

// margin is the number of source pixels the kernel reaches past a window.
func (r Resampling) margin() int {
	switch r {
	case Bilinear, Average:
		return 1
	case Cubic:
		return 2
	}
	return 0
}

// memRaster is a band-sequential block of decoded samples covering win.
type memRaster struct {
	win   Window
	bands int
	dt    DataType
	size  int
	data  []byte
	ds    *Dataset
}

func newMemRaster(win Window, bands int, ds *Dataset) *memRaster {
	size := ds.sampleSize
	return &memRaster{
		win:   win,
		bands: bands,
		dt:    ds.dataType,
		size:  size,
		data:  make([]byte, win.Width*win.Height*bands*size),
		ds:    ds,
	}
}

func (m *memRaster) spacing() Spacing {
	line := m.win.Width * m.size
	return Spacing{Pixel: m.size, Line: line, Band: line * m.win.Height}
}

// offset returns the position of an image pixel, clamped to the extent.
func (m *memRaster) offset(x, y, band int) int {
	x = min(max(x, m.win.X), m.win.X+m.win.Width-1) - m.win.X
	y = min(max(y, m.win.Y), m.win.Y+m.win.Height-1) - m.win.Y
	return ((band*m.win.Height+y)*m.win.Width + x) * m.size
}

// value returns the sample at an image pixel, false for no-data.
func (m *memRaster) value(x, y, band int) (float64, bool) {
	v := m.dt.Value(m.data[m.offset(x, y, band):])
	return v, !m.ds.isNoData(v)
}

// resample writes the destination described by p. Pixel centres are
// mapped between the window and the destination grid.
func (m *memRaster) resample(p plan, rw *regionWriter) {
	xr := float64(p.win.Width) / float64(p.bufW)
	yr := float64(p.win.Height) / float64(p.bufH)
	fill := 0.0
	if v, ok := m.ds.NoData(); ok {
		fill = v
	}
	lastX, lastY := p.win.X+p.win.Width-1, p.win.Y+p.win.Height-1

	for j := range p.bufH {
		sy := float64(p.win.Y) + (float64(j)+0.5)*yr
		for i := range p.bufW {
			sx := float64(p.win.X) + (float64(i)+0.5)*xr
			for k := range p.bands {
				d := i*p.sp.Pixel + j*p.sp.Line + k*p.sp.Band
				out := rw.dst[d : d+m.size]

				var v float64
				var ok bool
				switch p.resampling {
				case Nearest:
					x := min(int(sx), lastX)
					y := min(int(sy), lastY)
					o := m.offset(x, y, k)
					copy(out, m.data[o:o+m.size])
					continue
				case Bilinear:
					v, ok = m.kernel(sx-0.5, sy-0.5, k, 2, bilinearWeight)
				case Cubic:
					v, ok = m.kernel(sx-0.5, sy-0.5, k, 4, cubicWeight)
				case Average:
					x0 := float64(p.win.X) + float64(i)*xr
					y0 := float64(p.win.Y) + float64(j)*yr
					v, ok = m.average(x0, y0, x0+xr, y0+yr, k)
				}
				if !ok {
					v = fill
				}
				m.dt.Put(out, v)
			}
		}
	}
}

// kernel evaluates a separable taps x taps kernel centred on (fx, fy),
// leaving no-data samples out and renormalising the weights.
func (m *memRaster) kernel(fx, fy float64, band, taps int, weight func(float64) float64) (float64, bool) {
	x0, y0 := math.Floor(fx), math.Floor(fy)
	dx, dy := fx-x0, fy-y0
	first := 1 - taps/2

	var sum, total float64
	for ty := range taps {
		wy := weight(dy - float64(first+ty))
		if wy == 0 {
			continue
		}
		y := int(y0) + first + ty
		for tx := range taps {
			wx := weight(dx - float64(first+tx))
			if wx == 0 {
				continue
			}
			v, ok := m.value(int(x0)+first+tx, y, band)
			if !ok {
				continue
			}
			sum += wx * wy * v
			total += wx * wy
		}
	}
	if math.Abs(total) < 1e-12 {
		return 0, false
	}
	return sum / total, true
}

func bilinearWeight(t float64) float64 {
	t = math.Abs(t)
	if t >= 1 {
		return 0
	}
	return 1 - t
}

// cubicWeight is the Keys cubic convolution kernel with a = -0.5.
func cubicWeight(t float64) float64 {
	const a = -0.5
	t = math.Abs(t)
	switch {
	case t <= 1:
		return ((a+2)*t-(a+3))*t*t + 1
	case t < 2:
		return ((a*t-5*a)*t+8*a)*t - 4*a
	}
	return 0
}

// average is the mean of the valid pixels the source rectangle touches.
func (m *memRaster) average(x0, y0, x1, y1 float64, band int) (float64, bool) {
	ix0, iy0 := int(math.Floor(x0)), int(math.Floor(y0))
	ix1, iy1 := max(int(math.Ceil(x1)), ix0+1), max(int(math.Ceil(y1)), iy0+1)
	var sum float64
	var n int
	for y := iy0; y < iy1; y++ {
		for x := ix0; x < ix1; x++ {
			v, ok := m.value(x, y, band)
			if !ok {
				continue
			}
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
