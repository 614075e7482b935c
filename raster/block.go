package raster

import (
	"errors"
	"fmt"

	"github.com/akhenakh/tiffblock/codec"
	"github.com/akhenakh/tiffblock/predictor"
	"github.com/akhenakh/tiffblock/tiff"
)

var (
	ErrBlockIndex    = errors.New("raster: block index out of range")
	ErrBlockTooLarge = errors.New("raster: stored block size is implausible")
)

const (
	// A stored block may exceed its decoded size by this ratio plus
	// compressedSlack bytes before it is rejected unread.
	maxStoredRatio  = 4
	compressedSlack = 64 << 10
)

// Block is one decoded strip or tile in host byte order. Data holds Height
// rows of Width pixels of Samples interleaved samples. It belongs to the
// session that decoded it and stays valid until that session decodes
// another block of the same image.
type Block struct {
	Index    uint64
	Width    int
	Height   int
	Samples  int
	DataType DataType
	Data     []byte
	// Sparse is set when the block is absent from the file and was filled
	// with the no-data value.
	Sparse bool
}

// Stride returns the number of bytes per block row.
func (b *Block) Stride() int { return b.Width * b.Samples * b.DataType.Size() }

// BlockError is a failure to decode one block.
type BlockError struct {
	Index uint64
	Err   error
}

func (e *BlockError) Error() string { return fmt.Sprintf("block %d: %v", e.Index, e.Err) }
func (e *BlockError) Unwrap() error { return e.Err }

// DecodeBlock decodes the strip or tile at index using the scratch state
// of sess. Decoding the block last decoded by sess for this dataset
// returns it again without any work.
func (ds *Dataset) DecodeBlock(sess *Session, index uint64) (Block, error) {
	if ds.Closed() {
		return Block{}, ErrClosed
	}
	if index >= ds.strileCount {
		return Block{}, &BlockError{Index: index, Err: ErrBlockIndex}
	}
	sc := sess.scratchFor(ds)
	if sc.valid && sc.index == index {
		scratchHits.Inc()
		return sc.block, nil
	}
	sc.valid = false

	blk, err := ds.decode(sc, index)
	if err != nil {
		decodeFailures.Inc()
		return Block{}, &BlockError{Index: index, Err: err}
	}
	sc.block, sc.index, sc.valid = blk, index, true
	return blk, nil
}

// blockGeometry returns the pixel origin and size of block index. Tiles
// always have the full tile size, the last strip may be shorter.
func (ds *Dataset) blockGeometry(index uint64) (x, y, w, h int) {
	perImage := uint64(ds.tilesPerRow) * uint64(ds.tilesPerCol)
	i := index % perImage
	tx, ty := int(i%uint64(ds.tilesPerRow)), int(i/uint64(ds.tilesPerRow))
	x, y = tx*ds.blockWidth, ty*ds.blockHeight
	w, h = ds.blockWidth, ds.blockHeight
	if !ds.img.IsTiled() {
		h = min(h, ds.height-y)
	}
	return x, y, w, h
}

func (ds *Dataset) blockSamples() int {
	if ds.separate {
		return 1
	}
	return ds.bands
}

func (ds *Dataset) decode(sc *scratch, index uint64) (Block, error) {
	_, _, w, h := ds.blockGeometry(index)
	samples := ds.blockSamples()
	blk := Block{Index: index, Width: w, Height: h, Samples: samples, DataType: ds.dataType}
	size := w * h * samples * ds.sampleSize
	sc.out = grow(sc.out, size)
	blk.Data = sc.out

	offset, ok := ds.img.StrileOffset(index)
	if !ok {
		return blk, fmt.Errorf("%w: unreadable offset", tiff.ErrTruncated)
	}
	count, ok := ds.img.StrileByteCount(index)
	if !ok {
		return blk, fmt.Errorf("%w: unreadable byte count", tiff.ErrTruncated)
	}
	if count == 0 || offset == 0 {
		fillPattern(blk.Data, ds.fill)
		blk.Sparse = true
		sparseBlocks.Inc()
		ds.logger.Debug("sparse block filled", "index", index)
		return blk, nil
	}

	stored := size
	if ds.bits == 1 {
		stored = predictor.PackedSize(w*samples, h)
	}
	if count > uint64(stored)*maxStoredRatio+compressedSlack {
		return blk, fmt.Errorf("%w: %d bytes stored for %d decoded", ErrBlockTooLarge, count, stored)
	}
	sc.raw = grow(sc.raw, int(count))
	if !ds.img.Reader().ReadAt(sc.raw, offset) {
		return blk, fmt.Errorf("%w: %d bytes at %d", tiff.ErrTruncated, count, offset)
	}

	dec := blk.Data
	if ds.bits == 1 {
		sc.packed = grow(sc.packed, stored)
		dec = sc.packed
	}
	info := codec.BlockInfo{
		Width:         w,
		Height:        h,
		Samples:       samples,
		BitsPerSample: ds.bits,
		Photometric:   ds.photometric,
		FillOrder:     ds.fillOrder,
		Tables:        ds.tables,
	}
	if _, err := ds.codec.Decompress(dec, sc.raw, info); err != nil {
		return blk, err
	}
	blocksDecoded.Inc()

	if ds.bits == 1 {
		predictor.ExpandBits(blk.Data, dec, w*samples, h, ds.one)
		return blk, nil
	}

	switch ds.predictor {
	case tiff.PredictorHorizontal:
		// Accumulation reads the file order and leaves host order.
		if err := predictor.UndoHorizontal(blk.Data, w*samples, samples, ds.sampleSize, ds.order); err != nil {
			return blk, err
		}
		return blk, nil
	case tiff.PredictorFloatingPoint:
		var err error
		if sc.tmp, err = predictor.UndoFloat(blk.Data, w, samples, ds.sampleSize, sc.tmp); err != nil {
			return blk, err
		}
		return blk, nil
	}

	// Sub-image codecs produce bytes, which have no order.
	if ds.swapped && ds.sampleSize > 1 {
		swapBytes(blk.Data, ds.sampleSize)
	}
	return blk, nil
}

// fillPattern repeats pattern over b.
func fillPattern(b, pattern []byte) {
	if len(b) == 0 {
		return
	}
	n := copy(b, pattern)
	for n < len(b) {
		n += copy(b[n:], b[:n])
	}
}

// swapBytes reverses the byte order of every size byte word of b.
func swapBytes(b []byte, size int) {
	switch size {
	case 2:
		for i := 0; i+1 < len(b); i += 2 {
			b[i], b[i+1] = b[i+1], b[i]
		}
	case 4:
		for i := 0; i+3 < len(b); i += 4 {
			b[i], b[i+1], b[i+2], b[i+3] = b[i+3], b[i+2], b[i+1], b[i]
		}
	case 8:
		for i := 0; i+7 < len(b); i += 8 {
			b[i], b[i+1], b[i+2], b[i+3], b[i+4], b[i+5], b[i+6], b[i+7] =
				b[i+7], b[i+6], b[i+5], b[i+4], b[i+3], b[i+2], b[i+1], b[i]
		}
	}
}
