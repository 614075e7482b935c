package tiff

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"sort"
	"sync"
)

// Image is one parsed image file directory with its decode relevant fields
// derived once. It is immutable after Open and safe for concurrent use.
type Image struct {
	r        *Reader
	big      bool
	offset   uint64
	next     uint64
	entries  []Entry
	warnings error

	// chain is shared by every image reached from the same first directory.
	chain    *chain
	nextOnce sync.Once
	nextImg  *Image
	nextErr  error

	width           uint32
	height          uint32
	bitsPerSample   uint16
	samplesPerPixel uint16
	compression     uint16
	predictor       uint16
	sampleFormat    uint16
	planar          uint16
	photometric     uint16
	subfileType     uint32

	tiled       bool
	tileWidth   uint32
	tileHeight  uint32
	offsets     *Entry
	byteCounts  *Entry
	strileCount uint64
}

type chain struct {
	mu      sync.Mutex
	visited map[uint64]struct{}
}

// visit records offset and reports whether it was seen before.
func (c *chain) visit(offset uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.visited[offset]; ok {
		return true
	}
	c.visited[offset] = struct{}{}
	return false
}

// Open parses the header of src and its first image directory.
func Open(src ByteSource) (*Image, error) {
	h, err := ReadHeader(src)
	if err != nil {
		return nil, err
	}
	if h.FirstOffset == 0 {
		return nil, ErrNoImage
	}
	c := &chain{visited: make(map[uint64]struct{})}
	c.visit(h.FirstOffset)
	return parseImage(NewReader(src, h.Order), h.FirstOffset, h.Big, c)
}

// OpenAt parses a single image directory at offset.
func OpenAt(src ByteSource, order binary.ByteOrder, big bool, offset uint64) (*Image, error) {
	c := &chain{visited: make(map[uint64]struct{})}
	c.visit(offset)
	return parseImage(NewReader(src, order), offset, big, c)
}

// Images returns up to max images of the directory chain of src.
func Images(src ByteSource, max int) ([]*Image, error) {
	img, err := Open(src)
	if err != nil {
		return nil, err
	}
	images := []*Image{img}
	for len(images) < max {
		next, err := images[len(images)-1].Next()
		if err != nil {
			return images, err
		}
		if next == nil {
			break
		}
		images = append(images, next)
	}
	return images, nil
}

func parseImage(r *Reader, offset uint64, big bool, c *chain) (*Image, error) {
	d, err := parseDirectory(r, offset, big)
	if err != nil {
		return nil, err
	}
	img := &Image{
		r:        r,
		big:      big,
		offset:   offset,
		next:     d.next,
		entries:  d.entries,
		warnings: d.warnings,
		chain:    c,
	}
	img.derive()
	return img, nil
}

// Next parses the following image of the chain. It returns nil, nil at the
// end of the chain, including when the next offset was already visited.
func (img *Image) Next() (*Image, error) {
	img.nextOnce.Do(func() {
		if img.next == 0 || img.chain.visit(img.next) {
			return
		}
		img.nextImg, img.nextErr = parseImage(img.r, img.next, img.big, img.chain)
		if img.nextErr != nil {
			img.nextErr = fmt.Errorf("directory at %d: %w", img.next, img.nextErr)
		}
	})
	return img.nextImg, img.nextErr
}

func (img *Image) derive() {
	get := func(t Tag, def uint64) uint64 {
		if v, ok := img.Uint(t); ok {
			return v
		}
		return def
	}
	img.width = uint32(get(ImageWidth, 0))
	img.height = uint32(get(ImageLength, 0))
	// Repeated per-sample tags are assumed uniform, only the first value is used.
	img.bitsPerSample = uint16(get(BitsPerSample, 1))
	img.samplesPerPixel = uint16(get(SamplesPerPixel, 1))
	img.compression = uint16(get(Compression, CompressionNone))
	img.predictor = uint16(get(Predictor, PredictorNone))
	img.sampleFormat = uint16(get(SampleFormat, SampleFormatUint))
	img.planar = uint16(get(PlanarConfiguration, PlanarContig))
	img.photometric = uint16(get(PhotometricInterpretation, PhotometricBlackIsZero))
	img.subfileType = uint32(get(NewSubfileType, 0))

	// A tile pair with unequal counts is ignored in favour of the strip tags.
	if offsets, counts := img.Tag(TileOffsets), img.Tag(TileByteCounts); offsets != nil && counts != nil && offsets.Count == counts.Count {
		img.tiled = true
		img.tileWidth = uint32(get(TileWidth, 0))
		img.tileHeight = uint32(get(TileLength, 0))
		img.offsets, img.byteCounts = offsets, counts
	} else if offsets, counts := img.Tag(StripOffsets), img.Tag(StripByteCounts); offsets != nil && counts != nil {
		img.tileWidth = img.width
		rows := get(RowsPerStrip, uint64(img.height))
		if rows == 0 || rows > uint64(img.height) {
			rows = uint64(img.height)
		}
		img.tileHeight = uint32(rows)
		img.offsets, img.byteCounts = offsets, counts
	}

	if img.offsets == nil || img.offsets.Count != img.byteCounts.Count ||
		img.tileWidth == 0 || img.tileHeight == 0 || img.samplesPerPixel == 0 {
		return
	}
	// Every block of the grid must have an offset.
	last, ok := img.TileCoordinateToIndex(img.TilesPerRow()-1, img.TilesPerColumn()-1, uint32(img.planeCount()-1))
	if !ok || last >= img.offsets.Count {
		return
	}
	img.strileCount = img.offsets.Count
}

// Tag returns the entry for t, or nil.
func (img *Image) Tag(t Tag) *Entry {
	i := sort.Search(len(img.entries), func(i int) bool { return img.entries[i].Tag >= t })
	if i < len(img.entries) && img.entries[i].Tag == t {
		return &img.entries[i]
	}
	return nil
}

// Entries returns all parsed entries sorted by tag.
func (img *Image) Entries() []Entry { return img.entries }

// Warnings returns the entry level problems found while parsing, or nil.
func (img *Image) Warnings() error { return img.warnings }

func (img *Image) Reader() *Reader             { return img.r }
func (img *Image) Order() binary.ByteOrder     { return img.r.order }
func (img *Image) IsBig() bool                 { return img.big }
func (img *Image) Offset() uint64              { return img.offset }
func (img *Image) NextOffset() uint64          { return img.next }
func (img *Image) Width() uint32               { return img.width }
func (img *Image) Height() uint32              { return img.height }
func (img *Image) BitsPerSample() uint16       { return img.bitsPerSample }
func (img *Image) SamplesPerPixel() uint16     { return img.samplesPerPixel }
func (img *Image) Compression() uint16         { return img.compression }
func (img *Image) Predictor() uint16           { return img.predictor }
func (img *Image) SampleFormat() uint16        { return img.sampleFormat }
func (img *Image) PlanarConfiguration() uint16 { return img.planar }
func (img *Image) Photometric() uint16         { return img.photometric }
func (img *Image) SubfileType() uint32         { return img.subfileType }
func (img *Image) IsTiled() bool               { return img.tiled }
func (img *Image) TileWidth() uint32           { return img.tileWidth }
func (img *Image) TileHeight() uint32          { return img.tileHeight }
func (img *Image) StrileCount() uint64         { return img.strileCount }
func (img *Image) IsPlanarSeparate() bool      { return img.planar == PlanarSeparate }

func (img *Image) planeCount() uint64 {
	if img.IsPlanarSeparate() {
		return uint64(img.samplesPerPixel)
	}
	return 1
}

// TilesPerRow returns the number of blocks across the image.
func (img *Image) TilesPerRow() uint32 {
	if img.tileWidth == 0 {
		return 0
	}
	return uint32((uint64(img.width) + uint64(img.tileWidth) - 1) / uint64(img.tileWidth))
}

// TilesPerColumn returns the number of blocks down the image.
func (img *Image) TilesPerColumn() uint32 {
	if img.tileHeight == 0 {
		return 0
	}
	return uint32((uint64(img.height) + uint64(img.tileHeight) - 1) / uint64(img.tileHeight))
}

// TileCoordinateToIndex returns the strile index of block (xTile, yTile)
// for the given band. The band only matters for planar separate images.
func (img *Image) TileCoordinateToIndex(xTile, yTile, band uint32) (uint64, bool) {
	perRow, perCol := img.TilesPerRow(), img.TilesPerColumn()
	if xTile >= perRow || yTile >= perCol {
		return 0, false
	}
	idx := uint64(yTile)*uint64(perRow) + uint64(xTile)
	if !img.IsPlanarSeparate() {
		return idx, true
	}
	if band >= uint32(img.samplesPerPixel) {
		return 0, false
	}
	hi, perImage := bits.Mul64(uint64(perRow), uint64(perCol))
	if hi != 0 {
		return 0, false
	}
	hi, planeStart := bits.Mul64(uint64(band), perImage)
	if hi != 0 || planeStart+idx < planeStart {
		return 0, false
	}
	return planeStart + idx, true
}

// StrileOffset returns the file offset of strile i.
func (img *Image) StrileOffset(i uint64) (uint64, bool) {
	if i >= img.strileCount {
		return 0, false
	}
	return img.uintAt(img.offsets, i)
}

// StrileByteCount returns the stored size of strile i.
func (img *Image) StrileByteCount(i uint64) (uint64, bool) {
	if i >= img.strileCount {
		return 0, false
	}
	return img.uintAt(img.byteCounts, i)
}
