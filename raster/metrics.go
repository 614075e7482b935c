package raster

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	blocksDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tiffblock",
		Name:      "blocks_decoded_total",
		Help:      "Strips and tiles read from the source and decompressed.",
	})
	sparseBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tiffblock",
		Name:      "sparse_blocks_total",
		Help:      "Absent strips and tiles filled with the no-data value.",
	})
	scratchHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tiffblock",
		Name:      "scratch_hits_total",
		Help:      "Block decodes answered by the session's last decoded block.",
	})
	staleScratch = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tiffblock",
		Name:      "stale_scratch_total",
		Help:      "Session scratch states dropped because their dataset was closed.",
	})
	decodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tiffblock",
		Name:      "decode_failures_total",
		Help:      "Block decodes that failed.",
	})
	regionReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tiffblock",
		Name:      "region_reads_total",
		Help:      "Region reads by scheduling path.",
	}, []string{"path"})
	samplerCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tiffblock",
		Name:      "sampler_cache_total",
		Help:      "Point sampler block cache lookups by result.",
	}, []string{"result"})
)
