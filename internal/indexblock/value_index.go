package indexblock

import (
	"encoding/binary"
	"fmt"

	"github.com/feldera/storage-design/internal/block"
	"github.com/feldera/storage-design/internal/lferrors"
)

const valueOffsetEntrySize = 4 // one u32 per entry in the tail offset map

// ValueIndexBuilder accumulates entries for one value-index block
// (spec §4.4). Variable-length entries need the offset map this builder
// writes at the block tail so a reader can binary-search without
// linearly decoding every entry first.
type ValueIndexBuilder struct {
	entries []ValueEntry
	body    []byte
	offsets []uint32
	budget  int64
}

// NewValueIndexBuilder starts an empty value-index block builder.
func NewValueIndexBuilder() *ValueIndexBuilder {
	return &ValueIndexBuilder{budget: block.Size(block.MinTreeShift)}
}

func (b *ValueIndexBuilder) Empty() bool { return len(b.entries) == 0 }
func (b *ValueIndexBuilder) Count() int  { return len(b.entries) }

// FirstRow, FirstValue, LastValue summarize the subtree this (possibly
// still-building) block covers, for promotion to the parent level.
func (b *ValueIndexBuilder) FirstRow() uint64 { return b.entries[0].FirstRow }
func (b *ValueIndexBuilder) FirstValue() []byte {
	return b.entries[0].FirstValue
}
func (b *ValueIndexBuilder) LastValue() []byte {
	return b.entries[len(b.entries)-1].LastValue
}

// Add appends e to the block. It returns false, nil when the caller
// must Finish the current block and retry on a fresh builder. Below the
// minimum branching factor (block.MinBranching), the builder widens its
// budget rather than committing early, so a block only ever flushes
// under-branched because even a doubled-to-max block could not hold 32
// entries of this size.
func (b *ValueIndexBuilder) Add(e ValueEntry) (bool, error) {
	if err := validateEntry(e.FirstRow, e.Child); err != nil {
		return false, err
	}
	if e.FilterPtr != nil {
		if err := e.FilterPtr.Validate(); err != nil {
			return false, err
		}
	}
	if len(b.entries) >= block.MaxEntries {
		return false, nil
	}

	encoded := encodeValueEntry(nil, e)

	for {
		total := int64(len(b.body)+len(encoded)+block.PrefixSize) +
			int64((len(b.entries)+1)*valueOffsetEntrySize+2)
		if total <= b.budget {
			break
		}
		if len(b.entries) >= block.MinBranching {
			return false, nil
		}
		if b.budget >= block.Size(block.MaxShift) {
			if len(b.entries) == 0 {
				return false, fmt.Errorf("indexblock: entry of %d bytes exceeds max block size: %w", len(encoded), lferrors.BoundsExceeded)
			}
			return false, nil
		}
		b.budget *= 2
	}

	b.offsets = append(b.offsets, uint32(len(b.body)))
	b.body = append(b.body, encoded...)
	b.entries = append(b.entries, e)
	return true, nil
}

// Finish renders the block body: entries, then the tail offset map,
// then the entry count (mirroring datablock's trailer-at-tail layout).
func (b *ValueIndexBuilder) Finish() []byte {
	out := make([]byte, len(b.body), len(b.body)+len(b.offsets)*valueOffsetEntrySize+2)
	copy(out, b.body)

	for _, off := range b.offsets {
		var buf [valueOffsetEntrySize]byte
		binary.LittleEndian.PutUint32(buf[:], off)
		out = append(out, buf[:]...)
	}

	var cnt [2]byte
	binary.LittleEndian.PutUint16(cnt[:], uint16(len(b.entries)))
	out = append(out, cnt[:]...)
	return out
}

// ValueIndexReader reads a value-index block body produced by
// ValueIndexBuilder.Finish.
type ValueIndexReader struct {
	body     []byte
	count    int
	mapStart int
}

// NewValueIndexReader parses body's tail (count, then offset map).
func NewValueIndexReader(body []byte) (*ValueIndexReader, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("indexblock: body too short: %w", lferrors.CorruptBlock)
	}
	count := int(binary.LittleEndian.Uint16(body[len(body)-2:]))
	mapStart := len(body) - 2 - count*valueOffsetEntrySize
	if mapStart < 0 {
		return nil, fmt.Errorf("indexblock: offset map longer than body: %w", lferrors.CorruptBlock)
	}
	return &ValueIndexReader{body: body, count: count, mapStart: mapStart}, nil
}

func (r *ValueIndexReader) Count() int { return r.count }

// Entry decodes entry i in O(1) via the tail offset map.
func (r *ValueIndexReader) Entry(i int) (ValueEntry, error) {
	if i < 0 || i >= r.count {
		return ValueEntry{}, fmt.Errorf("indexblock: entry %d out of range [0,%d): %w", i, r.count, lferrors.InvariantViolated)
	}
	mapOff := r.mapStart + i*valueOffsetEntrySize
	start := binary.LittleEndian.Uint32(r.body[mapOff : mapOff+valueOffsetEntrySize])

	end := uint32(r.mapStart)
	if i+1 < r.count {
		nextMapOff := r.mapStart + (i+1)*valueOffsetEntrySize
		end = binary.LittleEndian.Uint32(r.body[nextMapOff : nextMapOff+valueOffsetEntrySize])
	}

	e, _, err := decodeValueEntry(r.body[start:end])
	return e, err
}

// Search returns the least index i such that t.Less(entries[i].LastValue, target)
// is false — i.e. the first child whose subtree might contain a value
// >= target (spec §4.4: "binary search on lastValue").
func (r *ValueIndexReader) Search(less func(a, b []byte) bool, target []byte) (int, error) {
	lo, hi := 0, r.count
	for lo < hi {
		mid := (lo + hi) / 2
		e, err := r.Entry(mid)
		if err != nil {
			return 0, err
		}
		if less(e.LastValue, target) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// SearchGreater returns the greatest index i such that
// t.Less(target, entries[i].FirstValue) is false — the last child whose
// subtree might contain a value <= target. Used by reverse seeks.
func (r *ValueIndexReader) SearchGreater(less func(a, b []byte) bool, target []byte) (int, error) {
	lo, hi := -1, r.count-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		e, err := r.Entry(mid)
		if err != nil {
			return 0, err
		}
		if less(target, e.FirstValue) {
			hi = mid - 1
		} else {
			lo = mid
		}
	}
	return lo, nil
}
