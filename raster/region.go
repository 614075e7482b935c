package raster

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

var (
	ErrBufferTooSmall = errors.New("raster: destination buffer too small")
	ErrInvalidRequest = errors.New("raster: invalid region request")
)

// Window is a rectangle of image pixels.
type Window struct {
	X, Y          int
	Width, Height int
}

// Spacing is the destination layout in bytes. Zero fields take the
// band-sequential defaults: adjacent samples, packed lines and packed
// band planes.
type Spacing struct {
	Pixel int
	Line  int
	Band  int
}

// ReadRequest describes a region read.
type ReadRequest struct {
	Window

	// BufWidth and BufHeight are the destination size in pixels. Zero means
	// the window size, anything else resamples.
	BufWidth  int
	BufHeight int

	// Bands are the 0-based source bands to read, in destination order.
	// Nil reads every band.
	Bands []int

	Spacing    Spacing
	Resampling Resampling
}

type plan struct {
	win        Window
	bufW, bufH int
	bands      []int
	sp         Spacing
	resampling Resampling
	need       int
}

// plan validates req and fills in its defaults.
func (ds *Dataset) plan(req ReadRequest) (plan, error) {
	p := plan{
		win:        req.Window,
		bufW:       req.BufWidth,
		bufH:       req.BufHeight,
		bands:      req.Bands,
		sp:         req.Spacing,
		resampling: req.Resampling,
	}
	w := p.win
	if w.X < 0 || w.Y < 0 || w.Width <= 0 || w.Height <= 0 || w.X+w.Width > ds.width || w.Y+w.Height > ds.height {
		return p, fmt.Errorf("%w: window %+v outside %dx%d image", ErrInvalidRequest, w, ds.width, ds.height)
	}
	if p.bufW == 0 {
		p.bufW = w.Width
	}
	if p.bufH == 0 {
		p.bufH = w.Height
	}
	if p.bufW < 0 || p.bufH < 0 {
		return p, fmt.Errorf("%w: buffer size %dx%d", ErrInvalidRequest, p.bufW, p.bufH)
	}
	if p.bands == nil {
		p.bands = make([]int, ds.bands)
		for i := range p.bands {
			p.bands[i] = i
		}
	}
	if len(p.bands) == 0 {
		return p, fmt.Errorf("%w: no bands", ErrInvalidRequest)
	}
	for _, b := range p.bands {
		if b < 0 || b >= ds.bands {
			return p, fmt.Errorf("%w: band %d of %d", ErrInvalidRequest, b, ds.bands)
		}
	}
	if p.resampling < Nearest || p.resampling > Average {
		return p, fmt.Errorf("%w: resampling %d", ErrInvalidRequest, p.resampling)
	}

	size := ds.sampleSize
	if p.sp.Pixel == 0 {
		p.sp.Pixel = size
	}
	if p.sp.Line == 0 {
		p.sp.Line = p.sp.Pixel * p.bufW
	}
	if p.sp.Band == 0 {
		p.sp.Band = p.sp.Line * p.bufH
	}
	if p.sp.Pixel < size || p.sp.Line < 0 || p.sp.Band < 0 {
		return p, fmt.Errorf("%w: spacing %+v", ErrInvalidRequest, p.sp)
	}
	px, ok1 := mulSize(p.bufW-1, p.sp.Pixel)
	ln, ok2 := mulSize(p.bufH-1, p.sp.Line)
	bd, ok3 := mulSize(len(p.bands)-1, p.sp.Band)
	need, ok4 := addSize(px, ln, bd, size)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return p, fmt.Errorf("%w: spacing %+v overflows for %dx%d with %d bands", ErrInvalidRequest, p.sp, p.bufW, p.bufH, len(p.bands))
	}
	p.need = need
	return p, nil
}

// ReadRegion reads a window of the image into dst, which holds samples of
// the dataset's DataType in host byte order laid out by req.Spacing.
//
// A single pixel read decodes exactly one block per needed plane. A read
// at full resolution decodes the covering blocks, across the engine's
// workers when there is more than one, and copies each intersection in
// place. Any other read decodes the block aligned area around the window
// and resamples it. The first failing block fails the whole read; dst
// content is then undefined.
func (ds *Dataset) ReadRegion(ctx context.Context, req ReadRequest, dst []byte) error {
	if ds.Closed() {
		return ErrClosed
	}
	p, err := ds.plan(req)
	if err != nil {
		return err
	}
	if len(dst) < p.need {
		return fmt.Errorf("%w: %d bytes, need %d", ErrBufferTooSmall, len(dst), p.need)
	}
	rw := &regionWriter{dst: dst, sp: p.sp, size: ds.sampleSize}

	switch {
	case p.win.Width == 1 && p.win.Height == 1 && p.bufW == 1 && p.bufH == 1:
		regionReads.WithLabelValues("point").Inc()
		return ds.readPoint(p, rw)
	case p.bufW == p.win.Width && p.bufH == p.win.Height:
		regionReads.WithLabelValues("full").Inc()
		return ds.readFull(ctx, p.win, p.bands, rw)
	default:
		regionReads.WithLabelValues("resample").Inc()
		return ds.readResampled(ctx, p, rw)
	}
}

// Read allocates a buffer for req with the default band-sequential
// layout and reads into it.
func (ds *Dataset) Read(ctx context.Context, req ReadRequest) ([]byte, error) {
	if req.Spacing != (Spacing{}) {
		return nil, fmt.Errorf("%w: Read uses the default spacing", ErrInvalidRequest)
	}
	p, err := ds.plan(req)
	if err != nil {
		return nil, err
	}
	dst := make([]byte, p.need)
	if err := ds.ReadRegion(ctx, req, dst); err != nil {
		return nil, err
	}
	return dst, nil
}

func (ds *Dataset) readPoint(p plan, rw *regionWriter) error {
	sess := ds.engine.acquire()
	defer ds.engine.release(sess)

	x, y := p.win.X, p.win.Y
	tx, ty := x/ds.blockWidth, y/ds.blockHeight
	sx, sy := x-tx*ds.blockWidth, y-ty*ds.blockHeight
	if !ds.separate {
		blk, err := ds.decodeAt(sess, tx, ty, 0)
		if err != nil {
			return err
		}
		slots := make([]bandSlot, len(p.bands))
		for k, b := range p.bands {
			slots[k] = bandSlot{src: b, dst: k}
		}
		rw.write(&blk, sx, sy, 1, 1, 0, 0, slots)
		return nil
	}
	for k, b := range p.bands {
		blk, err := ds.decodeAt(sess, tx, ty, b)
		if err != nil {
			return err
		}
		rw.write(&blk, sx, sy, 1, 1, 0, 0, []bandSlot{{src: 0, dst: k}})
	}
	return nil
}

func (ds *Dataset) decodeAt(sess *Session, tx, ty, band int) (Block, error) {
	idx, ok := ds.img.TileCoordinateToIndex(uint32(tx), uint32(ty), uint32(band))
	if !ok {
		return Block{}, &BlockError{Index: idx, Err: ErrBlockIndex}
	}
	return ds.DecodeBlock(sess, idx)
}

// blockTask is one unit of a full resolution read: a block position and,
// for planar separate images, the position of the band in the request.
type blockTask struct {
	tx, ty int
	slot   int
}

func (ds *Dataset) readFull(ctx context.Context, win Window, bands []int, rw *regionWriter) error {
	tx0, ty0 := win.X/ds.blockWidth, win.Y/ds.blockHeight
	tx1, ty1 := (win.X+win.Width-1)/ds.blockWidth, (win.Y+win.Height-1)/ds.blockHeight

	tasks := make([]blockTask, 0, (tx1-tx0+1)*(ty1-ty0+1))
	for ty := ty0; ty <= ty1; ty++ {
		for tx := tx0; tx <= tx1; tx++ {
			if !ds.separate {
				tasks = append(tasks, blockTask{tx: tx, ty: ty, slot: -1})
				continue
			}
			for k := range bands {
				tasks = append(tasks, blockTask{tx: tx, ty: ty, slot: k})
			}
		}
	}

	var contig []bandSlot
	if !ds.separate {
		contig = make([]bandSlot, len(bands))
		for k, b := range bands {
			contig[k] = bandSlot{src: b, dst: k}
		}
	}

	run := func(sess *Session, t blockTask) error {
		band, slots := 0, contig
		if t.slot >= 0 {
			band, slots = bands[t.slot], []bandSlot{{src: 0, dst: t.slot}}
		}
		blk, err := ds.decodeAt(sess, t.tx, t.ty, band)
		if err != nil {
			return err
		}
		bx, by := t.tx*ds.blockWidth, t.ty*ds.blockHeight
		x0, y0 := max(win.X, bx), max(win.Y, by)
		x1 := min(win.X+win.Width, bx+blk.Width)
		y1 := min(win.Y+win.Height, by+blk.Height)
		if x1 <= x0 || y1 <= y0 {
			return nil
		}
		rw.write(&blk, x0-bx, y0-by, x1-x0, y1-y0, x0-win.X, y0-win.Y, slots)
		return nil
	}

	workers := min(ds.engine.workers, len(tasks))
	if workers <= 1 {
		sess := ds.engine.acquire()
		defer ds.engine.release(sess)
		for _, t := range tasks {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := run(sess, t); err != nil {
				return err
			}
		}
		return nil
	}

	// Tasks write disjoint destination ranges, so workers only share the
	// task counter.
	g, ctx := errgroup.WithContext(ctx)
	var next atomic.Int64
	for range workers {
		g.Go(func() error {
			sess := ds.engine.acquire()
			defer ds.engine.release(sess)
			for {
				i := int(next.Add(1) - 1)
				if i >= len(tasks) {
					return nil
				}
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := run(sess, tasks[i]); err != nil {
					return err
				}
			}
		})
	}
	return g.Wait()
}

// readResampled decodes the block aligned super rectangle of the window,
// grown by the kernel footprint, and resamples it into the destination.
func (ds *Dataset) readResampled(ctx context.Context, p plan, rw *regionWriter) error {
	m := p.resampling.margin()
	x0 := max(p.win.X-m, 0) / ds.blockWidth * ds.blockWidth
	y0 := max(p.win.Y-m, 0) / ds.blockHeight * ds.blockHeight
	x1 := min(ceilTo(p.win.X+p.win.Width+m, ds.blockWidth), ds.width)
	y1 := min(ceilTo(p.win.Y+p.win.Height+m, ds.blockHeight), ds.height)

	mem := newMemRaster(Window{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}, len(p.bands), ds)
	mw := &regionWriter{dst: mem.data, sp: mem.spacing(), size: ds.sampleSize}
	if err := ds.readFull(ctx, mem.win, p.bands, mw); err != nil {
		return err
	}
	mem.resample(p, rw)
	return nil
}

func ceilTo(v, n int) int { return (v + n - 1) / n * n }
