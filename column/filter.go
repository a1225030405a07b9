package column

import (
	"context"

	"github.com/feldera/storage-design/internal/block"
	"github.com/feldera/storage-design/internal/filterblock"
	"github.com/feldera/storage-design/internal/indexblock"
)

// completedFilter records a filter block already written to disk, so
// later data-block entries covering a sub-range of it can carry a
// FilterPtr back-pointer (spec §4.4/§4.5).
type completedFilter struct {
	rowLo, rowHi uint64
	ptr          block.Pointer
}

// filterWriter batches rows into fixed 65 536-row filter blocks,
// independently of where data blocks happen to end, and builds the
// filter-index tree over the finished blocks by reusing
// indexblock.ValueIndexBuilder (a filter-index entry has no value
// payload of its own, so FirstValue/LastValue just carry the filter
// block's own first/last archived value, giving the reused tree
// something sortable to search on).
//
// Because filter-block boundaries don't generally line up with
// data-block boundaries, a data block occasionally straddles two filter
// blocks; pointerFor leaves FilterPtr nil in that case rather than
// pointing at a filter that only partially covers the data block. The
// cursor already falls back to value search when no filter pointer is
// present, so this is a normal outcome, not a missing feature.
type filterWriter struct {
	bits BitsPerValue

	cur           *filterblock.Builder
	curFirstRow   uint64
	curFirstValue []byte
	curLastValue  []byte

	completed   []completedFilter
	indexLevels []*indexblock.ValueIndexBuilder
}

func newFilterWriter(bits filterblock.BitsPerValue) *filterWriter {
	return &filterWriter{bits: bits}
}

func (fw *filterWriter) add(ctx context.Context, w *Writer, archivedValue []byte, row uint64) error {
	if fw.cur == nil {
		fw.cur = filterblock.NewBuilder(fw.bits)
		fw.curFirstRow = row
		fw.curFirstValue = append([]byte(nil), archivedValue...)
	}
	fw.curLastValue = append(fw.curLastValue[:0], archivedValue...)

	if err := fw.cur.Add(archivedValue); err != nil {
		return err
	}
	if fw.cur.Full() {
		return fw.flush(ctx, w, row+1)
	}
	return nil
}

// flush finishes the current filter block (if any rows are buffered),
// writes it, records it for FilterPtr lookups, and promotes a
// filter-index entry. rowEnd is the exclusive end of the block's row
// range.
func (fw *filterWriter) flush(ctx context.Context, w *Writer, rowEnd uint64) error {
	if fw.cur == nil || fw.cur.Len() == 0 {
		return nil
	}

	body, err := fw.cur.Finish()
	if err != nil {
		return err
	}
	offset, shift, err := block.Write(ctx, w.f, block.TypeFilter, w.alg, body, 0)
	if err != nil {
		return err
	}
	ptr := block.Pointer{Offset: uint64(offset), Shift: shift, IsIndex: false}

	fw.completed = append(fw.completed, completedFilter{
		rowLo: fw.curFirstRow,
		rowHi: rowEnd,
		ptr:   ptr,
	})

	entry := indexblock.ValueEntry{
		FirstRow:   fw.curFirstRow,
		Child:      ptr,
		FirstValue: fw.curFirstValue,
		LastValue:  fw.curLastValue,
	}
	if err := promoteValueEntry(ctx, w.f, w.alg, block.TypeFilterIndex, &fw.indexLevels, 0, entry); err != nil {
		return err
	}

	fw.cur = nil
	fw.curFirstValue = nil
	fw.curLastValue = nil
	return nil
}

// pointerFor returns the completed filter block fully containing row
// range [lo,hi), or nil if none covers it exactly (straddles a filter
// boundary, or the current batch hasn't flushed yet).
func (fw *filterWriter) pointerFor(lo, hi uint64) *block.Pointer {
	for i := range fw.completed {
		c := &fw.completed[i]
		if lo >= c.rowLo && hi <= c.rowHi {
			p := c.ptr
			return &p
		}
	}
	return nil
}
