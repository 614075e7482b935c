package raster

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/karlseguin/ccache/v3"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/singleflight"
)

var (
	ErrNoData       = errors.New("raster: no data at location")
	ErrOutsideImage = errors.New("raster: location outside image")
)

// Sampler reads single values of one band, for DEM style point queries.
// Decoded blocks are converted to float64 once and cached, so repeated
// queries around the same place cost a map lookup.
type Sampler struct {
	ds     *Dataset
	band   int
	logger *slog.Logger

	// interp is the interpolation used by At.
	interp Resampling

	// blocks caches decoded blocks of the band as []float64 indexed by
	// row * block width + column, with no-data values replaced by NaN.
	blocks *ccache.Cache[[]float64]
	ttl    time.Duration

	// inflight makes concurrent misses on one block decode it once.
	inflight singleflight.Group

	// prefetching runs the neighbour prefetch of a block once for
	// concurrent queries, prefetched holds when it last ran.
	prefetching singleflight.Group
	prefetched  sync.Map
	prefetch    bool
	prefetchers int
	background  sync.WaitGroup
	closed      atomic.Bool
}

// prefetchEvery is how often the neighbours of one block are prefetched.
const prefetchEvery = time.Minute

// SamplerOption configures a Sampler.
type SamplerOption func(*Sampler)

// WithInterpolation sets the interpolation of At. Average is not a point
// interpolation and is treated as Nearest.
func WithInterpolation(r Resampling) SamplerOption {
	return func(s *Sampler) { s.interp = r }
}

// WithBlockCache sizes the decoded block cache, in blocks.
func WithBlockCache(maxSize int64, itemsToPrune uint32, ttl time.Duration) SamplerOption {
	return func(s *Sampler) {
		s.blocks = ccache.New(ccache.Configure[[]float64]().MaxSize(maxSize).ItemsToPrune(itemsToPrune))
		s.ttl = ttl
	}
}

// WithPrefetch enables decoding the eight neighbours of every block a
// query touches, in the background with at most workers goroutines.
func WithPrefetch(workers int) SamplerOption {
	return func(s *Sampler) { s.prefetch, s.prefetchers = workers > 0, workers }
}

// NewSampler returns a sampler over band of ds.
func NewSampler(ds *Dataset, band int, opts ...SamplerOption) (*Sampler, error) {
	if band < 0 || band >= ds.bands {
		return nil, fmt.Errorf("%w: band %d of %d", ErrInvalidRequest, band, ds.bands)
	}
	s := &Sampler{
		ds:     ds,
		band:   band,
		logger: ds.logger,
		ttl:    10 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.blocks == nil {
		s.blocks = ccache.New(ccache.Configure[[]float64]().MaxSize(64).ItemsToPrune(8))
	}
	return s, nil
}

// Close waits for background prefetches and releases the cache. It must
// not run concurrently with queries.
func (s *Sampler) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.background.Wait()
	s.blocks.Stop()
}

// Pixel returns the value of the pixel at column x and row y.
func (s *Sampler) Pixel(x, y int) (float64, error) {
	if x < 0 || y < 0 || x >= s.ds.width || y >= s.ds.height {
		return 0, fmt.Errorf("%w: pixel (%d, %d)", ErrOutsideImage, x, y)
	}
	tx, ty := x/s.ds.blockWidth, y/s.ds.blockHeight
	values, err := s.blockValues(tx, ty)
	if err != nil {
		return 0, err
	}
	if s.prefetch {
		s.prefetchAround(tx, ty)
	}
	v := values[(y-ty*s.ds.blockHeight)*s.ds.blockWidth+x-tx*s.ds.blockWidth]
	if math.IsNaN(v) {
		return 0, fmt.Errorf("%w: pixel (%d, %d)", ErrNoData, x, y)
	}
	return v, nil
}

// At interpolates the band at pixel space coordinates, where the centre
// of pixel (i, j) is (i+0.5, j+0.5). Kernels are clamped at the image
// edges. Any no-data contributor makes the value ErrNoData.
func (s *Sampler) At(x, y float64) (float64, error) {
	if x < 0 || y < 0 || x > float64(s.ds.width) || y > float64(s.ds.height) {
		return 0, fmt.Errorf("%w: (%g, %g)", ErrOutsideImage, x, y)
	}
	var taps int
	var weight func(float64) float64
	switch s.interp {
	case Bilinear:
		taps, weight = 2, bilinearWeight
	case Cubic:
		taps, weight = 4, cubicWeight
	default:
		return s.Pixel(min(int(x), s.ds.width-1), min(int(y), s.ds.height-1))
	}

	fx, fy := x-0.5, y-0.5
	x0, y0 := math.Floor(fx), math.Floor(fy)
	dx, dy := fx-x0, fy-y0
	first := 1 - taps/2

	var sum float64
	for ty := range taps {
		wy := weight(dy - float64(first+ty))
		if wy == 0 {
			continue
		}
		py := min(max(int(y0)+first+ty, 0), s.ds.height-1)
		for tx := range taps {
			wx := weight(dx - float64(first+tx))
			if wx == 0 {
				continue
			}
			px := min(max(int(x0)+first+tx, 0), s.ds.width-1)
			v, err := s.Pixel(px, py)
			if err != nil {
				return 0, err
			}
			sum += wx * wy * v
		}
	}
	return sum, nil
}

// blockValues returns the cached values of block (tx, ty), decoding it
// on a miss.
func (s *Sampler) blockValues(tx, ty int) ([]float64, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	idx, ok := s.ds.img.TileCoordinateToIndex(uint32(tx), uint32(ty), uint32(s.band))
	if !ok {
		return nil, &BlockError{Index: idx, Err: ErrBlockIndex}
	}
	key := strconv.FormatUint(idx, 10)
	if item := s.blocks.Get(key); item != nil && !item.Expired() {
		samplerCache.WithLabelValues("hit").Inc()
		return item.Value(), nil
	}
	samplerCache.WithLabelValues("miss").Inc()

	v, err, _ := s.inflight.Do(key, func() (any, error) {
		sess := s.ds.engine.acquire()
		defer s.ds.engine.release(sess)
		blk, err := s.ds.DecodeBlock(sess, idx)
		if err != nil {
			return nil, err
		}
		values := s.toFloat(&blk)
		if !s.closed.Load() {
			s.blocks.Set(key, values, s.ttl)
		}
		return values, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float64), nil
}

// toFloat converts the sampled band of blk, padded to the full block
// height so that indexing does not depend on the strip.
func (s *Sampler) toFloat(blk *Block) []float64 {
	values := make([]float64, s.ds.blockWidth*s.ds.blockHeight)
	sample := 0
	if blk.Samples > 1 {
		sample = s.band
	}
	size := s.ds.sampleSize
	pixel := blk.Samples * size
	for i := range blk.Width * blk.Height {
		v := s.ds.dataType.Value(blk.Data[i*pixel+sample*size:])
		if s.ds.isNoData(v) {
			v = math.NaN()
		}
		values[i] = v
	}
	for i := blk.Width * blk.Height; i < len(values); i++ {
		values[i] = math.NaN()
	}
	return values
}

// prefetchAround decodes the neighbours of block (tx, ty) in the
// background. It never blocks the caller.
func (s *Sampler) prefetchAround(tx, ty int) {
	if s.closed.Load() {
		return
	}
	key := fmt.Sprintf("prefetch-%d-%d", tx, ty)
	if last, ok := s.prefetched.Load(key); ok && time.Since(last.(time.Time)) < prefetchEvery {
		return
	}
	s.prefetched.Store(key, time.Now())
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		s.prefetching.Do(key, func() (any, error) {
			p := pool.New().WithMaxGoroutines(s.prefetchers)
			for j := -1; j <= 1; j++ {
				for i := -1; i <= 1; i++ {
					nx, ny := tx+i, ty+j
					if (i == 0 && j == 0) || nx < 0 || ny < 0 || nx >= s.ds.tilesPerRow || ny >= s.ds.tilesPerCol {
						continue
					}
					p.Go(func() {
						if _, err := s.blockValues(nx, ny); err != nil {
							s.logger.Debug("prefetch failed", "tile_x", nx, "tile_y", ny, "error", err)
						}
					})
				}
			}
			p.Wait()
			return nil, nil
		})
	}()
}

// Profile samples the band along a polyline of pixel space points at
// native resolution. Every pixel is visited once; pixels that cannot be
// read are skipped. It returns (x, y, value) triples.
func (s *Sampler) Profile(points [][2]float64) ([][3]float64, error) {
	if len(points) < 2 {
		return nil, errors.New("at least two points are required to create a profile")
	}
	for i, p := range points {
		if p[0] < 0 || p[1] < 0 || p[0] >= float64(s.ds.width) || p[1] >= float64(s.ds.height) {
			return nil, fmt.Errorf("%w: point %d (%g, %g)", ErrOutsideImage, i, p[0], p[1])
		}
	}

	var profile [][3]float64
	visited := make(map[[2]int]struct{})
	for i := 0; i < len(points)-1; i++ {
		x1, y1 := int(points[i][0]), int(points[i][1])
		x2, y2 := int(points[i+1][0]), int(points[i+1][1])
		dx, dy := float64(x2-x1), float64(y2-y1)

		steps := max(int(math.Ceil(math.Max(math.Abs(dx), math.Abs(dy)))), 1)
		xInc, yInc := dx/float64(steps), dy/float64(steps)
		for j := 0; j <= steps; j++ {
			x := x1 + int(math.Round(float64(j)*xInc))
			y := y1 + int(math.Round(float64(j)*yInc))
			if _, ok := visited[[2]int{x, y}]; ok {
				continue
			}
			visited[[2]int{x, y}] = struct{}{}

			v, err := s.Pixel(x, y)
			if err != nil {
				s.logger.Warn("could not sample pixel", "x", x, "y", y, "error", err)
				continue
			}
			profile = append(profile, [3]float64{float64(x), float64(y), v})
		}
	}
	return profile, nil
}
