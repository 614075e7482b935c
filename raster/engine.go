// Package raster decodes strips and tiles of TIFF images into caller
// buffers. It holds the block decode engine, the region scheduler with its
// worker pool, resampling and a cached point sampler.
package raster

import (
	"log/slog"
	"sync"

	"github.com/akhenakh/tiffblock/codec"
	"github.com/akhenakh/tiffblock/lru"
	"github.com/akhenakh/tiffblock/tiff"
)

const defaultSessionCacheSize = 8

// Engine owns what datasets share: the codec registry, the worker count
// of region reads and a pool of decode sessions.
type Engine struct {
	registry         *codec.Registry
	workers          int
	sessionCacheSize int
	logger           *slog.Logger
	sessions         sync.Pool
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets the number of goroutines decoding blocks of one region
// read. 1, the default, decodes on the calling goroutine.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = max(n, 1) }
}

// WithRegistry replaces the default codec registry.
func WithRegistry(r *codec.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithLogger sets the logger of the engine and of the datasets it opens.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithSessionCacheSize bounds the number of images a session keeps
// scratch buffers for.
func WithSessionCacheSize(n int) Option {
	return func(e *Engine) { e.sessionCacheSize = max(n, 1) }
}

// NewEngine returns an Engine with the built-in codecs and one worker.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		workers:          1,
		sessionCacheSize: defaultSessionCacheSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = codec.Default()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.sessions.New = func() any { return e.NewSession() }
	return e
}

func (e *Engine) Workers() int              { return e.workers }
func (e *Engine) Registry() *codec.Registry { return e.registry }

// NewSession returns decode state for use by a single goroutine.
func (e *Engine) NewSession() *Session {
	return &Session{scratch: lru.New[*tiff.Image, *scratch](e.sessionCacheSize, 0)}
}

func (e *Engine) acquire() *Session  { return e.sessions.Get().(*Session) }
func (e *Engine) release(s *Session) { e.sessions.Put(s) }
