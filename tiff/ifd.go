package tiff

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/hashicorp/go-multierror"
)

// maxEntryCount bounds the number of entries read from one directory.
// BigTIFF declares 8 byte counts, which are capped to the classic maximum.
const maxEntryCount = 65535

type directory struct {
	entries  []Entry
	next     uint64
	warnings error
}

// parseDirectory reads the directory at offset. Structural problems with the
// directory itself are returned as errors, problems local to one entry are
// collected as warnings and the entry is dropped or flagged.
func parseDirectory(r *Reader, offset uint64, big bool) (*directory, error) {
	countSize, entrySize, slotSize := uint64(2), uint64(12), uint64(4)
	if big {
		countSize, entrySize, slotSize = 8, 20, 8
	}

	var numEntries uint64
	var capped bool
	if big {
		v, ok := ReadScalar[uint64](r, offset)
		if !ok {
			return nil, fmt.Errorf("%w: entry count at %d", ErrTruncated, offset)
		}
		numEntries, capped = min(v, maxEntryCount), v > maxEntryCount
	} else {
		v, ok := ReadScalar[uint16](r, offset)
		if !ok {
			return nil, fmt.Errorf("%w: entry count at %d", ErrTruncated, offset)
		}
		numEntries = uint64(v)
	}

	block, ok := r.Bytes(offset+countSize, numEntries*entrySize)
	if !ok {
		return nil, fmt.Errorf("%w: %d entries at %d", ErrTruncated, numEntries, offset)
	}

	order := r.order
	d := &directory{entries: make([]Entry, 0, numEntries)}
	var warnings *multierror.Error
	for i := uint64(0); i < numEntries; i++ {
		raw := block[i*entrySize : (i+1)*entrySize]
		e := Entry{
			Tag:  Tag(order.Uint16(raw[0:])),
			Type: DataType(order.Uint16(raw[2:])),
		}
		var slot []byte
		if big {
			e.Count = order.Uint64(raw[4:])
			slot = raw[12:20]
		} else {
			e.Count = uint64(order.Uint32(raw[4:]))
			slot = raw[8:12]
		}

		size, ok := e.ByteSize()
		if e.Type.Size() == 0 {
			warnings = multierror.Append(warnings, fmt.Errorf("tag %s: unrecognized data type %d, skipped", e.Tag, e.Type))
			continue
		}
		if ok && size <= slotSize {
			copy(e.inline[:], slot[:size])
		} else {
			if big {
				e.Offset = order.Uint64(slot)
			} else {
				e.Offset = uint64(order.Uint32(slot))
			}
			if e.Offset == 0 {
				return nil, fmt.Errorf("%w: tag %s in directory at %d", ErrZeroOffset, e.Tag, offset)
			}
			if !ok || !inFile(e.Offset, size, r.Size()) {
				e.InvalidOffset = true
				warnings = multierror.Append(warnings, fmt.Errorf("tag %s: %d values at %d run past end of file", e.Tag, e.Count, e.Offset))
			}
		}
		d.entries = append(d.entries, e)
	}

	nextPos := offset + countSize + numEntries*entrySize
	if capped {
		// The real end of the entry table is unknown, stop the chain here.
		warnings = multierror.Append(warnings, fmt.Errorf("directory at %d: entry count capped to %d", offset, maxEntryCount))
	} else if big {
		v, ok := ReadScalar[uint64](r, nextPos)
		if !ok {
			return nil, fmt.Errorf("%w: next directory offset at %d", ErrTruncated, nextPos)
		}
		d.next = v
	} else {
		v, ok := ReadScalar[uint32](r, nextPos)
		if !ok {
			return nil, fmt.Errorf("%w: next directory offset at %d", ErrTruncated, nextPos)
		}
		d.next = uint64(v)
	}

	// Lookups binary search by tag; the first occurrence of a duplicate wins.
	slices.SortStableFunc(d.entries, func(a, b Entry) int { return cmp.Compare(a.Tag, b.Tag) })
	d.entries = slices.CompactFunc(d.entries, func(a, b Entry) bool { return a.Tag == b.Tag })
	d.warnings = warnings.ErrorOrNil()
	return d, nil
}
