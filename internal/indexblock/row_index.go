package indexblock

import (
	"encoding/binary"
	"fmt"

	"github.com/feldera/storage-design/internal/block"
	"github.com/feldera/storage-design/internal/lferrors"
)

const rowEntrySize = 12 // fixed: firstRow(6) + pointer word(6), spec §6

// RowIndexBuilder accumulates fixed-size entries for one row-index
// block. Fixed entries need no offset map.
type RowIndexBuilder struct {
	entries []RowEntry
	budget  int64
}

func NewRowIndexBuilder() *RowIndexBuilder {
	return &RowIndexBuilder{budget: block.Size(block.MinTreeShift)}
}

func (b *RowIndexBuilder) Empty() bool     { return len(b.entries) == 0 }
func (b *RowIndexBuilder) Count() int      { return len(b.entries) }
func (b *RowIndexBuilder) FirstRow() uint64 { return b.entries[0].FirstRow }

// Add appends e, following the same widen-below-MinBranching-then-flush
// policy as ValueIndexBuilder.Add.
func (b *RowIndexBuilder) Add(e RowEntry) (bool, error) {
	if err := validateEntry(e.FirstRow, e.Child); err != nil {
		return false, err
	}
	if len(b.entries) >= block.MaxEntries {
		return false, nil
	}

	for {
		total := int64((len(b.entries)+1)*rowEntrySize+block.PrefixSize) + 2
		if total <= b.budget {
			break
		}
		if len(b.entries) >= block.MinBranching {
			return false, nil
		}
		if b.budget >= block.Size(block.MaxShift) {
			return false, nil
		}
		b.budget *= 2
	}

	b.entries = append(b.entries, e)
	return true, nil
}

func (b *RowIndexBuilder) Finish() []byte {
	out := make([]byte, 0, len(b.entries)*rowEntrySize+2)
	for _, e := range b.entries {
		out = encodeRowEntry(out, e)
	}
	var cnt [2]byte
	binary.LittleEndian.PutUint16(cnt[:], uint16(len(b.entries)))
	return append(out, cnt[:]...)
}

// RowIndexReader reads a row-index block body.
type RowIndexReader struct {
	body  []byte
	count int
}

func NewRowIndexReader(body []byte) (*RowIndexReader, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("indexblock: body too short: %w", lferrors.CorruptBlock)
	}
	count := int(binary.LittleEndian.Uint16(body[len(body)-2:]))
	if 2+count*rowEntrySize > len(body) {
		return nil, fmt.Errorf("indexblock: row entries overrun body: %w", lferrors.CorruptBlock)
	}
	return &RowIndexReader{body: body, count: count}, nil
}

func (r *RowIndexReader) Count() int { return r.count }

func (r *RowIndexReader) Entry(i int) (RowEntry, error) {
	if i < 0 || i >= r.count {
		return RowEntry{}, fmt.Errorf("indexblock: entry %d out of range [0,%d): %w", i, r.count, lferrors.InvariantViolated)
	}
	off := i * rowEntrySize
	return decodeRowEntry(r.body[off : off+rowEntrySize])
}

// Search returns the greatest index i such that entries[i].FirstRow <= row,
// or -1 if row precedes every entry (spec §4.4: "binary search on firstRow").
func (r *RowIndexReader) Search(row uint64) (int, error) {
	lo, hi := -1, r.count-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		e, err := r.Entry(mid)
		if err != nil {
			return 0, err
		}
		if e.FirstRow <= row {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo, nil
}
