package raster

import (
	"sync/atomic"

	"github.com/akhenakh/tiffblock/lru"
	"github.com/akhenakh/tiffblock/tiff"
)

// Session is the mutable decode state of one goroutine: reusable buffers
// and the last decoded block, per image. A Session must not be used
// concurrently. Sessions never hold a dataset open; a closed dataset
// invalidates its scratch state lazily on the next access.
type Session struct {
	scratch *lru.Cache[*tiff.Image, *scratch]
}

// liveness is shared between a Dataset and every scratch state created
// for it. Close flips it once.
type liveness struct {
	closed atomic.Bool
}

type scratch struct {
	owner *liveness

	raw    []byte // stored block bytes
	packed []byte // 1-bit samples before expansion
	out    []byte // decoded block in host order
	tmp    []byte // floating point predictor rows

	valid bool
	index uint64
	block Block
}

// scratchFor returns the scratch state of ds, replacing state left by a
// closed dataset or another dataset over the same image.
func (s *Session) scratchFor(ds *Dataset) *scratch {
	if sc, ok := s.scratch.TryGet(ds.img); ok {
		if sc.owner == ds.alive && !sc.owner.closed.Load() {
			return sc
		}
		staleScratch.Inc()
	}
	sc := &scratch{owner: ds.alive}
	s.scratch.Insert(ds.img, sc)
	return sc
}

// Len returns the number of images the session holds state for.
func (s *Session) Len() int { return s.scratch.Size() }

func grow(b []byte, n int) []byte {
	if cap(b) < n {
		return make([]byte, n)
	}
	return b[:n]
}
