package datablock

import (
	"encoding/binary"
	"fmt"

	"github.com/feldera/storage-design/internal/lferrors"
	"github.com/feldera/storage-design/schema"
)

// Reader provides O(1) access to a data block's values given its raw
// body (as returned by block.Read, sans the 16-byte prefix).
type Reader struct {
	body        []byte
	hasRowRange bool
	count       int
	entriesOff  int
	payloadLen  int
}

// NewReader parses a data block body produced by Builder.Finish.
func NewReader(body []byte, hasRowRange bool) (*Reader, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("datablock: body too short: %w", lferrors.CorruptBlock)
	}

	count := int(binary.LittleEndian.Uint16(body[len(body)-2:]))
	sz := entrySize(hasRowRange)
	entriesOff := len(body) - 2 - count*sz
	if entriesOff < 0 {
		return nil, fmt.Errorf("datablock: trailer longer than body: %w", lferrors.CorruptBlock)
	}

	return &Reader{
		body:        body,
		hasRowRange: hasRowRange,
		count:       count,
		entriesOff:  entriesOff,
		payloadLen:  entriesOff,
	}, nil
}

// Count returns the number of values in the block.
func (r *Reader) Count() int { return r.count }

// Entry returns the trailer record for value j in O(1).
func (r *Reader) Entry(j int) (Entry, error) {
	if j < 0 || j >= r.count {
		return Entry{}, fmt.Errorf("datablock: value index %d out of range [0,%d): %w", j, r.count, lferrors.InvariantViolated)
	}

	sz := entrySize(r.hasRowRange)
	off := r.entriesOff + j*sz
	raw := r.body[off : off+sz]

	e := Entry{RootOffset: int(binary.LittleEndian.Uint16(raw[0:2]))}
	if r.hasRowRange {
		e.RowStart = getUint48(raw[2:8])
		e.RowEnd = getUint48(raw[8:14])
	}
	return e, nil
}

// Value returns the archived bytes of value j. For a schema.FixedWidth
// type the extent is simply [root, root+Width). Otherwise (a
// schema.Type with Align() == 1, so no padding separates it from its
// neighbor) the extent runs to the next value's root offset, or to the
// end of the payload for the last value.
func (r *Reader) Value(j int, t schema.Type) ([]byte, error) {
	e, err := r.Entry(j)
	if err != nil {
		return nil, err
	}

	if fw, ok := t.(schema.FixedWidth); ok {
		w := fw.Width()
		if e.RootOffset+w > r.payloadLen {
			return nil, fmt.Errorf("datablock: fixed-width value %d overruns payload: %w", j, lferrors.CorruptBlock)
		}
		return r.body[e.RootOffset : e.RootOffset+w], nil
	}

	end := r.payloadLen
	if j+1 < r.count {
		next, err := r.Entry(j + 1)
		if err != nil {
			return nil, err
		}
		end = next.RootOffset
	}
	if end < e.RootOffset {
		return nil, fmt.Errorf("datablock: value %d has negative length: %w", j, lferrors.CorruptBlock)
	}
	return r.body[e.RootOffset:end], nil
}

// Search returns the smallest index j such that values[j] >= target (or
// count if none), by binary search using less. values must be sorted
// ascending under less.
func (r *Reader) Search(t schema.Type, target []byte) (int, error) {
	lo, hi := 0, r.count
	for lo < hi {
		mid := (lo + hi) / 2
		v, err := r.Value(mid, t)
		if err != nil {
			return 0, err
		}
		if t.Less(v, target) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// SearchLessOrEqual returns the greatest index j such that values[j] <=
// target (or -1 if none), by binary search using less. Used by reverse
// seeks (spec §4.8's seekValue(v, direction)).
func (r *Reader) SearchLessOrEqual(t schema.Type, target []byte) (int, error) {
	lo, hi := -1, r.count-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		v, err := r.Value(mid, t)
		if err != nil {
			return 0, err
		}
		if t.Less(target, v) {
			hi = mid - 1
		} else {
			lo = mid
		}
	}
	return lo, nil
}
