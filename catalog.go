package main

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/akhenakh/tiffblock/lru"
	"github.com/akhenakh/tiffblock/raster"
	"github.com/akhenakh/tiffblock/tiff"
)

var ErrPageNotFound = errors.New("page not found")

// Catalog opens the pages of the directory chain of one file on demand
// and keeps the most recently used ones open. A page evicted from the
// catalog is closed together with its samplers.
type Catalog struct {
	engine *raster.Engine
	first  *tiff.Image
	logger *slog.Logger

	datasetOpts []raster.DatasetOption
	samplerOpts []raster.SamplerOption

	// pages is shared by every request goroutine, so it is built with a lock.
	pages   *lru.Cache[int, *page]
	opening singleflight.Group
}

// page is an open dataset and the samplers created over it.
type page struct {
	ds *raster.Dataset

	mu       sync.Mutex
	samplers map[samplerKey]*raster.Sampler
}

type samplerKey struct {
	band   int
	interp raster.Resampling
}

// NewCatalog parses the first directory of src.
func NewCatalog(src tiff.ByteSource, engine *raster.Engine, maxPages int, logger *slog.Logger,
	datasetOpts []raster.DatasetOption, samplerOpts []raster.SamplerOption,
) (*Catalog, error) {
	first, err := tiff.Open(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read first image: %w", err)
	}
	c := &Catalog{
		engine:      engine,
		first:       first,
		logger:      logger,
		datasetOpts: datasetOpts,
		samplerOpts: samplerOpts,
	}
	c.pages = lru.New(max(maxPages, 1), 0,
		lru.WithLock[int, *page](),
		lru.WithEvictCallback(func(n int, p *page) {
			logger.Debug("closing page", "page", n)
			p.close()
		}),
	)
	return c, nil
}

// Page returns the open dataset of page n, 0 being the first directory.
func (c *Catalog) Page(n int) (*page, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %d", ErrPageNotFound, n)
	}
	if p, ok := c.pages.TryGet(n); ok && !p.ds.Closed() {
		return p, nil
	}
	v, err, _ := c.opening.Do(strconv.Itoa(n), func() (any, error) {
		if p, ok := c.pages.TryGet(n); ok && !p.ds.Closed() {
			return p, nil
		}
		img := c.first
		for i := 0; i < n; i++ {
			next, err := img.Next()
			if err != nil {
				return nil, err
			}
			if next == nil {
				return nil, fmt.Errorf("%w: %d", ErrPageNotFound, n)
			}
			img = next
		}
		ds, err := c.engine.OpenImage(img, c.datasetOpts...)
		if err != nil {
			return nil, err
		}
		p := &page{ds: ds, samplers: make(map[samplerKey]*raster.Sampler)}
		c.pages.Insert(n, p)
		c.logger.Info("opened page", "page", n, "width", ds.Width(), "height", ds.Height(), "bands", ds.Bands())
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*page), nil
}

// Close closes every open page.
func (c *Catalog) Close() { c.pages.Clear() }

// sampler returns the shared sampler of a band with an interpolation.
func (p *page) sampler(band int, interp raster.Resampling, opts []raster.SamplerOption) (*raster.Sampler, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// An evicted page no longer tracks its samplers, so none may be added.
	if p.ds.Closed() {
		return nil, raster.ErrClosed
	}
	key := samplerKey{band: band, interp: interp}
	if s, ok := p.samplers[key]; ok {
		return s, nil
	}
	s, err := raster.NewSampler(p.ds, band, append(slices.Clip(opts), raster.WithInterpolation(interp))...)
	if err != nil {
		return nil, err
	}
	p.samplers[key] = s
	return s, nil
}

func (p *page) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, s := range p.samplers {
		s.Close()
		delete(p.samplers, k)
	}
	p.ds.Close()
}
