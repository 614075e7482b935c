package raster

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/akhenakh/tiffblock/codec"
	"github.com/akhenakh/tiffblock/tiff"
)

var (
	ErrClosed            = errors.New("raster: dataset is closed")
	ErrUnsupportedLayout = errors.New("raster: unsupported sample layout")
	ErrNoBlocks          = errors.New("raster: image has no usable strips or tiles")
)

var nextDatasetID atomic.Uint64

// maxBlockBytes bounds the decoded size of one strip or tile. Larger
// declared block sizes come from corrupt directories.
const maxBlockBytes = 1 << 30

// Dataset is one image opened for decoding. The layout needed by the
// decode path is derived once at open time, so the parsed directory is only
// consulted for strile offsets afterwards. A Dataset is safe for concurrent
// use; decode state lives in Sessions.
type Dataset struct {
	engine *Engine
	img    *tiff.Image
	logger *slog.Logger
	id     uint64

	// alive is flipped by Close. Scratch states created for this dataset
	// share it, which lets sessions detect staleness without the dataset
	// tracking them.
	alive *liveness

	width  int
	height int
	bands  int

	// blockWidth and blockHeight are the tile size, or the image width and
	// rows per strip for stripped images.
	blockWidth  int
	blockHeight int
	tilesPerRow int
	tilesPerCol int
	strileCount uint64
	separate    bool

	dataType   DataType
	sampleSize int
	bits       int

	order     binary.ByteOrder
	swapped   bool
	predictor uint16

	compression uint16
	codec       codec.Decompressor
	tables      []byte
	photometric uint16
	fillOrder   uint16

	// noData is the fill value of sparse blocks, fill its encoding.
	noData    float64
	hasNoData bool
	fill      []byte

	// one is the value of set bits after 1-bit expansion.
	one byte
}

// DatasetOption configures a Dataset.
type DatasetOption func(*Dataset)

// WithNoData sets the value sparse blocks decode to. Without it they
// decode to zero.
func WithNoData(v float64) DatasetOption {
	return func(ds *Dataset) { ds.noData, ds.hasNoData = v, true }
}

// WithBitExpansion sets the byte value of set bits in 1-bit images,
// 1 by default and typically 255 for display.
func WithBitExpansion(one byte) DatasetOption {
	return func(ds *Dataset) { ds.one = one }
}

// WithDatasetLogger overrides the engine logger for one dataset.
func WithDatasetLogger(l *slog.Logger) DatasetOption {
	return func(ds *Dataset) { ds.logger = l }
}

// Open parses the first image of src and prepares it for decoding.
func (e *Engine) Open(src tiff.ByteSource, opts ...DatasetOption) (*Dataset, error) {
	img, err := tiff.Open(src)
	if err != nil {
		return nil, err
	}
	return e.OpenImage(img, opts...)
}

// OpenImage prepares an already parsed image, such as a page reached with
// tiff.Image.Next, for decoding.
func (e *Engine) OpenImage(img *tiff.Image, opts ...DatasetOption) (*Dataset, error) {
	ds := &Dataset{
		engine: e,
		img:    img,
		logger: e.logger,
		id:     nextDatasetID.Add(1),
		alive:  &liveness{},
		one:    1,
	}
	for _, opt := range opts {
		opt(ds)
	}
	if !ds.hasNoData {
		ds.noDataFromTag()
	}
	if err := ds.derive(); err != nil {
		return nil, fmt.Errorf("image at %d: %w", img.Offset(), err)
	}
	if w := img.Warnings(); w != nil {
		ds.logger.Warn("malformed directory entries ignored", "offset", img.Offset(), "error", w)
	}
	return ds, nil
}

// noDataFromTag uses the GDAL_NODATA tag when the caller set no value.
func (ds *Dataset) noDataFromTag() {
	s, ok := ds.img.String(ds.img.Tag(tiff.GDALNoData))
	if !ok {
		return
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		ds.logger.Warn("ignoring unparsable GDAL_NODATA tag", "value", s, "error", err)
		return
	}
	ds.noData, ds.hasNoData = v, true
}

func (ds *Dataset) derive() error {
	img := ds.img
	ds.width, ds.height = int(img.Width()), int(img.Height())
	ds.bands = int(img.SamplesPerPixel())
	if ds.width == 0 || ds.height == 0 || ds.bands == 0 {
		return fmt.Errorf("%w: %dx%d with %d samples", ErrUnsupportedLayout, ds.width, ds.height, ds.bands)
	}
	if img.StrileCount() == 0 {
		return ErrNoBlocks
	}
	ds.blockWidth, ds.blockHeight = int(img.TileWidth()), int(img.TileHeight())
	ds.tilesPerRow, ds.tilesPerCol = int(img.TilesPerRow()), int(img.TilesPerColumn())
	ds.strileCount = img.StrileCount()
	ds.separate = img.IsPlanarSeparate()

	ds.bits = int(img.BitsPerSample())
	ds.dataType = dataTypeOf(img.BitsPerSample(), img.SampleFormat())
	if ds.dataType == Unknown {
		return fmt.Errorf("%w: %d bits with sample format %d", ErrUnsupportedLayout, ds.bits, img.SampleFormat())
	}
	ds.sampleSize = ds.dataType.Size()
	if n, ok := mulSize(ds.blockWidth, ds.blockHeight, ds.blockSamples(), ds.sampleSize); !ok || n > maxBlockBytes {
		return fmt.Errorf("%w: %dx%d block of %d samples is implausible", ErrUnsupportedLayout, ds.blockWidth, ds.blockHeight, ds.blockSamples())
	}

	ds.order = img.Order()
	ds.swapped = img.Reader().Swapped()
	ds.predictor = img.Predictor()
	switch ds.predictor {
	case tiff.PredictorNone:
	case tiff.PredictorHorizontal:
		if ds.bits == 1 {
			return fmt.Errorf("%w: horizontal predictor on 1-bit samples", ErrUnsupportedLayout)
		}
	case tiff.PredictorFloatingPoint:
		if !ds.dataType.IsFloat() {
			return fmt.Errorf("%w: floating point predictor on %s samples", ErrUnsupportedLayout, ds.dataType)
		}
	default:
		return fmt.Errorf("%w: predictor %d", ErrUnsupportedLayout, ds.predictor)
	}

	ds.compression = img.Compression()
	d, ok := ds.engine.registry.Lookup(ds.compression)
	if !ok {
		return fmt.Errorf("%w: %d", codec.ErrUnsupported, ds.compression)
	}
	ds.codec = d
	ds.tables, _ = img.Raw(img.Tag(tiff.JPEGTables))
	ds.photometric = img.Photometric()
	if v, ok := img.Uint(tiff.FillOrder); ok {
		ds.fillOrder = uint16(v)
	}

	ds.fill = make([]byte, ds.sampleSize)
	if ds.hasNoData {
		ds.dataType.Put(ds.fill, ds.noData)
	}
	return nil
}

// Close marks the dataset closed. Blocks cannot be decoded afterwards and
// sessions drop the scratch state they keep for it.
func (ds *Dataset) Close() error {
	ds.alive.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (ds *Dataset) Closed() bool { return ds.alive.closed.Load() }

func (ds *Dataset) Image() *tiff.Image    { return ds.img }
func (ds *Dataset) ID() uint64            { return ds.id }
func (ds *Dataset) Width() int            { return ds.width }
func (ds *Dataset) Height() int           { return ds.height }
func (ds *Dataset) Bands() int            { return ds.bands }
func (ds *Dataset) DataType() DataType    { return ds.dataType }
func (ds *Dataset) BlockSize() (int, int) { return ds.blockWidth, ds.blockHeight }
func (ds *Dataset) BlockCount() uint64    { return ds.strileCount }

// NoData returns the configured no-data value.
func (ds *Dataset) NoData() (float64, bool) { return ds.noData, ds.hasNoData }

// isNoData reports whether v matches the configured no-data value.
func (ds *Dataset) isNoData(v float64) bool {
	if !ds.hasNoData {
		return false
	}
	if math.IsNaN(ds.noData) {
		return math.IsNaN(v)
	}
	return v == ds.noData
}

// Info is a summary of a dataset's layout.
type Info struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Bands       int    `json:"bands"`
	DataType    string `json:"data_type"`
	BlockWidth  int    `json:"block_width"`
	BlockHeight int    `json:"block_height"`
	Blocks      uint64 `json:"blocks"`
	Tiled       bool   `json:"tiled"`
	Separate    bool   `json:"planar_separate"`
	Compression uint16 `json:"compression"`
	Predictor   uint16 `json:"predictor"`
	BigTIFF     bool   `json:"bigtiff"`
	SubfileType uint32 `json:"subfile_type"`
}

// Info summarizes the dataset.
func (ds *Dataset) Info() Info {
	return Info{
		Width:       ds.width,
		Height:      ds.height,
		Bands:       ds.bands,
		DataType:    ds.dataType.String(),
		BlockWidth:  ds.blockWidth,
		BlockHeight: ds.blockHeight,
		Blocks:      ds.strileCount,
		Tiled:       ds.img.IsTiled(),
		Separate:    ds.separate,
		Compression: ds.compression,
		Predictor:   ds.predictor,
		BigTIFF:     ds.img.IsBig(),
		SubfileType: ds.img.SubfileType(),
	}
}
