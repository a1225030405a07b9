// Package column implements the layer file's streaming tree builder
// (spec §4.6): the component that receives one column's tuples in
// sorted order and emits a balanced value-index tree, row-index tree,
// and (optionally) filter tree in a single pass, holding at most one
// partially-filled block per level.
package column

import (
	"context"
	"fmt"

	"github.com/feldera/storage-design/internal/block"
	"github.com/feldera/storage-design/internal/datablock"
	"github.com/feldera/storage-design/internal/filterblock"
	"github.com/feldera/storage-design/internal/indexblock"
	"github.com/feldera/storage-design/internal/lferrors"
	"github.com/feldera/storage-design/iocollab"
	"github.com/feldera/storage-design/schema"
)

// FilterOptions turns on the parallel filter tree for a column (spec §4.5).
type FilterOptions struct {
	Bits filterblock.BitsPerValue
}

// Options configures one column's Writer.
type Options struct {
	Checksum block.ChecksumAlgorithm
	// HasRowRange must be true for every column except the last (spec
	// §3: only the last column's rows have no row group of their own).
	HasRowRange bool
	// Filter enables the parallel AMQ tree; nil disables it.
	Filter *FilterOptions
}

// Roots is what Writer.Finish hands back for the file trailer to record
// (spec §4.7, §6): row count and the three optional tree roots.
type Roots struct {
	Rows        uint64
	ValueIndex  block.Pointer
	RowIndex    block.Pointer
	FilterIndex block.Pointer
}

// Writer is the per-column streaming tree builder. Push values in
// strictly ascending order; Finish flushes every open level and returns
// the roots. A Writer must not be reused after Finish or after any
// method returns an error — per spec §4.6, a failed writer is aborted,
// not retried.
type Writer struct {
	f    iocollab.File
	typ  schema.Type
	opts Options
	alg  block.ChecksumAlgorithm

	data         *datablock.Builder
	dataFirstRow uint64

	valueLevels []*indexblock.ValueIndexBuilder
	rowLevels   []*indexblock.RowIndexBuilder

	filter *filterWriter

	rows      uint64
	haveValue bool
	lastValue []byte

	done bool
	err  error
}

// NewWriter starts a column writer over value type t, writing blocks to
// f as they complete.
func NewWriter(f iocollab.File, t schema.Type, opts Options) *Writer {
	w := &Writer{
		f:    f,
		typ:  t,
		opts: opts,
		alg:  opts.Checksum,
		data: datablock.NewBuilder(t, opts.HasRowRange),
	}
	if opts.Filter != nil {
		w.filter = newFilterWriter(opts.Filter.Bits)
	}
	return w
}

// Push appends value (with its row-group range into the next column,
// ignored when the column has no row range) in sorted order and
// returns the row number it was assigned. tailRange is validated by the
// caller (the streaming tree builder trusts its caller to supply a
// correct, monotonic range; spec's invariant that ranges partition
// [0,rows(i+1)) is a cross-column contract the enclosing engine keeps,
// not something one column's writer can check in isolation).
func (w *Writer) Push(ctx context.Context, value []byte, rowStart, rowEnd uint64) (uint64, error) {
	if w.err != nil {
		return 0, w.err
	}
	if w.done {
		err := fmt.Errorf("column: Push after Finish")
		w.err = err
		return 0, err
	}

	if w.haveValue && !w.typ.Less(w.lastValue, value) {
		err := fmt.Errorf("column: value out of order at row %d: %w", w.rows, lferrors.OutOfOrder)
		w.err = err
		return 0, err
	}

	row := w.rows

	if w.data.Empty() {
		w.dataFirstRow = row
	}

	ok, err := w.data.Add(value, rowStart, rowEnd)
	if err != nil {
		w.err = err
		return 0, err
	}
	if !ok {
		if err := w.flushData(ctx); err != nil {
			w.err = err
			return 0, err
		}
		w.dataFirstRow = row
		ok, err = w.data.Add(value, rowStart, rowEnd)
		if err != nil {
			w.err = err
			return 0, err
		}
		if !ok {
			err := fmt.Errorf("column: value could not be added to a fresh data block: %w", lferrors.InvariantViolated)
			w.err = err
			return 0, err
		}
	}

	archived := w.typ.Encode(value)
	w.lastValue = append(w.lastValue[:0], archived...)
	w.haveValue = true
	w.rows++

	if w.filter != nil {
		if err := w.filter.add(ctx, w, archived, row); err != nil {
			w.err = err
			return 0, err
		}
	}

	return row, nil
}

// flushData finishes the current data block, writes it, and promotes
// its summary up the value-index and row-index stacks.
func (w *Writer) flushData(ctx context.Context) error {
	if w.data.Empty() {
		return nil
	}

	body := w.data.Finish()
	offset, shift, err := block.Write(ctx, w.f, block.TypeData, w.alg, body, block.MinTreeShift)
	if err != nil {
		return err
	}
	ptr := block.Pointer{Offset: uint64(offset), Shift: shift, IsIndex: false}

	ve := indexblock.ValueEntry{
		FirstRow:   w.dataFirstRow,
		Child:      ptr,
		FirstValue: w.data.FirstValue(),
		LastValue:  w.data.LastValue(),
	}
	if w.filter != nil {
		ve.FilterPtr = w.filter.pointerFor(w.dataFirstRow, w.rows)
	}
	if err := promoteValueEntry(ctx, w.f, w.alg, block.TypeValueIndex, &w.valueLevels, 0, ve); err != nil {
		return err
	}

	re := indexblock.RowEntry{FirstRow: w.dataFirstRow, Child: ptr}
	if err := promoteRowEntry(ctx, w.f, w.alg, &w.rowLevels, 0, re); err != nil {
		return err
	}

	w.data = datablock.NewBuilder(w.typ, w.opts.HasRowRange)
	return nil
}

// Finish flushes every open level (data, value index, row index,
// filter) and returns the column's roots.
func (w *Writer) Finish(ctx context.Context) (Roots, error) {
	if w.err != nil {
		return Roots{}, w.err
	}
	if w.done {
		return Roots{}, fmt.Errorf("column: Finish called twice")
	}
	w.done = true

	if err := w.flushData(ctx); err != nil {
		w.err = err
		return Roots{}, err
	}
	if w.filter != nil {
		if err := w.filter.flush(ctx, w, w.rows); err != nil {
			w.err = err
			return Roots{}, err
		}
	}

	roots := Roots{
		Rows:        w.rows,
		ValueIndex:  block.Pointer{Shift: block.ShiftAbsent},
		RowIndex:    block.Pointer{Shift: block.ShiftAbsent},
		FilterIndex: block.Pointer{Shift: block.ShiftAbsent},
	}
	if w.rows == 0 {
		return roots, nil
	}

	vp, err := finishValueStack(ctx, w.f, w.alg, block.TypeValueIndex, &w.valueLevels)
	if err != nil {
		w.err = err
		return Roots{}, err
	}
	roots.ValueIndex = vp

	rp, err := finishRowStack(ctx, w.f, w.alg, &w.rowLevels)
	if err != nil {
		w.err = err
		return Roots{}, err
	}
	roots.RowIndex = rp

	if w.filter != nil && len(w.filter.indexLevels) > 0 {
		fp, err := finishValueStack(ctx, w.f, w.alg, block.TypeFilterIndex, &w.filter.indexLevels)
		if err != nil {
			w.err = err
			return Roots{}, err
		}
		roots.FilterIndex = fp
	}

	return roots, nil
}
