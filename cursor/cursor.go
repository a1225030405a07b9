// Package cursor implements the layer file's row-oriented iterator
// (spec §4.8): a Before/Positioned(row)/After state machine that walks a
// column's value-index and row-index trees, with an approximate
// membership check via the filter tree when one is present.
package cursor

import (
	"bytes"
	"context"
	"fmt"

	"github.com/feldera/storage-design/internal/datablock"
	"github.com/feldera/storage-design/internal/lferrors"
	"github.com/feldera/storage-design/layerfile"
	"github.com/feldera/storage-design/schema"
)

// State is the cursor's position relative to the column's rows.
type State uint8

const (
	Before State = iota
	Positioned
	After
)

// Direction selects which end of a value match seekValue positions to
// (spec §4.8: "the least (greatest) row ... whose value >= v (<= v)").
type Direction uint8

const (
	Forward Direction = iota
	Backward
)

// Cursor iterates one column, scoped to a row-group range [rowLo, rowHi)
// within it (spec §4.8). A top-level cursor from New is scoped to the
// whole column; EnterChild scopes the returned cursor to the current
// row's child range. It holds no open block between calls (Value and
// ChildRange re-descend the tree on demand), which is what makes Clone
// a plain value copy — the spec's "cheap cloning" requirement, satisfied
// by carrying no I/O-bound state at all.
type Cursor struct {
	col         *layerfile.ColumnReader
	typ         schema.Type
	hasRowRange bool
	rowLo       uint64
	rowHi       uint64 // exclusive

	state State
	row   uint64 // valid only when state == Positioned
}

// New starts a cursor over the whole of col, in the Before state.
func New(col *layerfile.ColumnReader, typ schema.Type, hasRowRange bool) *Cursor {
	return newScoped(col, typ, hasRowRange, 0, col.Rows())
}

func newScoped(col *layerfile.ColumnReader, typ schema.Type, hasRowRange bool, rowLo, rowHi uint64) *Cursor {
	return &Cursor{col: col, typ: typ, hasRowRange: hasRowRange, rowLo: rowLo, rowHi: rowHi, state: Before}
}

// Clone returns an independent cursor at the same position.
func (c *Cursor) Clone() *Cursor {
	cp := *c
	return &cp
}

func (c *Cursor) State() State { return c.state }

// RowNumber returns the current row, valid only when State() == Positioned.
func (c *Cursor) RowNumber() (uint64, error) {
	if c.state != Positioned {
		return 0, fmt.Errorf("cursor: not positioned: %w", lferrors.InvariantViolated)
	}
	return c.row, nil
}

// SeekRow positions the cursor exactly at row, or Before/After if row
// lies outside [rowLo, rowHi). It touches no blocks: row numbers are
// self-describing (ordinal position), so validity only needs the bounds.
func (c *Cursor) SeekRow(row uint64) {
	if row < c.rowLo {
		c.state = Before
		return
	}
	if row >= c.rowHi {
		c.state = After
		return
	}
	c.state = Positioned
	c.row = row
}

// SeekValue positions the cursor, within [rowLo, rowHi), at the least
// row whose value is >= target (Forward) or the greatest row whose
// value is <= target (Backward); After/Before respectively if no such
// row exists in range (spec §4.8's seekValue(v, direction)).
func (c *Cursor) SeekValue(ctx context.Context, target []byte, dir Direction) error {
	return c.seekValueArchived(ctx, c.typ.Encode(target), dir)
}

// seekValueArchived descends the value-index tree over the whole
// column, then clamps the match into [rowLo, rowHi). Because the column
// is written in a single globally non-decreasing pass (column.Writer
// rejects anything else), a match outside the row group's bounds can
// simply be clamped to the nearer bound rather than requiring the
// descent itself to be re-scoped: monotonicity guarantees the clamped
// row still satisfies the >= / <= relation.
func (c *Cursor) seekValueArchived(ctx context.Context, archived []byte, dir Direction) error {
	if c.rowLo >= c.rowHi {
		c.state = After
		return nil
	}

	ptr := c.col.ValueIndexRoot()
	for {
		r, release, err := c.col.ReadValueIndex(ctx, ptr)
		if err != nil {
			return err
		}

		var i int
		if dir == Forward {
			i, err = r.Search(c.typ.Less, archived)
		} else {
			i, err = r.SearchGreater(c.typ.Less, archived)
		}
		if err != nil {
			release()
			return err
		}

		if dir == Forward && i >= r.Count() {
			release()
			c.state = After
			return nil
		}
		if dir == Backward && i < 0 {
			release()
			c.state = Before
			return nil
		}

		e, err := r.Entry(i)
		release()
		if err != nil {
			return err
		}

		if e.Child.IsIndex {
			ptr = e.Child
			continue
		}

		dr, drRelease, err := c.col.ReadData(ctx, e.Child, c.typ, c.hasRowRange)
		if err != nil {
			return err
		}

		var row uint64
		var found bool
		if dir == Forward {
			j, err := dr.Search(c.typ, archived)
			if err != nil {
				drRelease()
				return err
			}
			count := dr.Count()
			drRelease()
			if j < count {
				row, found = e.FirstRow+uint64(j), true
			}
		} else {
			j, err := dr.SearchLessOrEqual(c.typ, archived)
			if err != nil {
				drRelease()
				return err
			}
			drRelease()
			if j >= 0 {
				row, found = e.FirstRow+uint64(j), true
			}
		}

		c.clampSeekResult(row, found, dir)
		return nil
	}
}

// clampSeekResult restricts a whole-column seek result to [rowLo, rowHi).
func (c *Cursor) clampSeekResult(row uint64, found bool, dir Direction) {
	if dir == Forward {
		if !found {
			c.state = After
			return
		}
		if row < c.rowLo {
			row = c.rowLo
		}
		if row >= c.rowHi {
			c.state = After
			return
		}
		c.row = row
		c.state = Positioned
		return
	}

	if !found {
		c.state = Before
		return
	}
	if row >= c.rowHi {
		row = c.rowHi - 1
	}
	if row < c.rowLo {
		c.state = Before
		return
	}
	c.row = row
	c.state = Positioned
}

// Next advances one row within [rowLo, rowHi). It returns false once the
// cursor moves past the last row in range (state becomes After).
func (c *Cursor) Next() bool {
	switch c.state {
	case Before:
		c.SeekRow(c.rowLo)
	case After:
		return false
	default:
		c.SeekRow(c.row + 1)
	}
	return c.state == Positioned
}

// Prev moves back one row within [rowLo, rowHi). It returns false once
// the cursor moves before the first row in range (state becomes Before).
func (c *Cursor) Prev() bool {
	switch c.state {
	case After:
		if c.rowLo >= c.rowHi {
			c.state = Before
			return false
		}
		c.SeekRow(c.rowHi - 1)
	case Before:
		return false
	default:
		if c.row == c.rowLo {
			c.state = Before
			return false
		}
		c.SeekRow(c.row - 1)
	}
	return c.state == Positioned
}

// locate descends the row-index tree to the data block containing row
// and returns it (already positioned for the caller to read entry j),
// along with the release function the caller must call once done.
func (c *Cursor) locate(ctx context.Context, row uint64) (*datablock.Reader, func(), int, error) {
	ptr := c.col.RowIndexRoot()
	for {
		r, release, err := c.col.ReadRowIndex(ctx, ptr)
		if err != nil {
			return nil, nil, 0, err
		}
		i, err := r.Search(row)
		if err != nil {
			release()
			return nil, nil, 0, err
		}
		if i < 0 {
			release()
			return nil, nil, 0, fmt.Errorf("cursor: row %d precedes column start: %w", row, lferrors.InvariantViolated)
		}
		e, err := r.Entry(i)
		release()
		if err != nil {
			return nil, nil, 0, err
		}

		if e.Child.IsIndex {
			ptr = e.Child
			continue
		}

		dr, drRelease, err := c.col.ReadData(ctx, e.Child, c.typ, c.hasRowRange)
		if err != nil {
			return nil, nil, 0, err
		}
		return dr, drRelease, int(row - e.FirstRow), nil
	}
}

// Value returns the archived bytes of the value at the current row.
func (c *Cursor) Value(ctx context.Context) ([]byte, error) {
	if c.state != Positioned {
		return nil, fmt.Errorf("cursor: not positioned: %w", lferrors.InvariantViolated)
	}
	dr, release, j, err := c.locate(ctx, c.row)
	if err != nil {
		return nil, err
	}
	defer release()

	v, err := dr.Value(j, c.typ)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), v...), nil
}

// ChildRange returns the [rowStart, rowEnd) range this row's tuple
// covers in the next column, for descending into it (spec §3's
// row-group drill-down).
func (c *Cursor) ChildRange(ctx context.Context) (uint64, uint64, error) {
	if !c.hasRowRange {
		return 0, 0, fmt.Errorf("cursor: column has no row range: %w", lferrors.InvariantViolated)
	}
	if c.state != Positioned {
		return 0, 0, fmt.Errorf("cursor: not positioned: %w", lferrors.InvariantViolated)
	}
	dr, release, j, err := c.locate(ctx, c.row)
	if err != nil {
		return 0, 0, err
	}
	defer release()

	e, err := dr.Entry(j)
	if err != nil {
		return 0, 0, err
	}
	return e.RowStart, e.RowEnd, nil
}

// EnterChild returns a cursor over the next column scoped to this row's
// child range [rowStart, rowEnd), positioned Before its first row (spec
// §4.8: "a new cursor for column i+1 scoped to the current value's
// [rowStart, rowEnd)"). The caller passes the already-opened child
// ColumnReader (the engine owns which column follows which; cursor has
// no notion of the whole file).
func (c *Cursor) EnterChild(ctx context.Context, child *layerfile.ColumnReader, childTyp schema.Type, childHasRowRange bool) (*Cursor, error) {
	rowStart, rowEnd, err := c.ChildRange(ctx)
	if err != nil {
		return nil, err
	}
	return newScoped(child, childTyp, childHasRowRange, rowStart, rowEnd), nil
}

// ContainsApprox reports whether target might be present, using the
// filter tree when the column has one (spec §4.5, §4.8). With no
// filter configured, it degrades to an exact tree search: still never a
// false negative, and in that case never a false positive either.
func (c *Cursor) ContainsApprox(ctx context.Context, target []byte) (bool, error) {
	archived := c.typ.Encode(target)

	if !c.col.HasFilterIndex() {
		return c.probeExact(ctx, archived)
	}

	ptr := c.col.FilterIndexRoot()
	for {
		r, release, err := c.col.ReadFilterIndex(ctx, ptr)
		if err != nil {
			return false, err
		}
		i, err := r.Search(c.typ.Less, archived)
		if err != nil {
			release()
			return false, err
		}
		if i >= r.Count() {
			release()
			return false, nil
		}
		e, err := r.Entry(i)
		release()
		if err != nil {
			return false, err
		}

		if e.Child.IsIndex {
			ptr = e.Child
			continue
		}

		fr, frRelease, err := c.col.ReadFilter(ctx, e.Child)
		if err != nil {
			return false, err
		}
		got := fr.Contains(archived)
		frRelease()
		return got, nil
	}
}

func (c *Cursor) probeExact(ctx context.Context, archived []byte) (bool, error) {
	probe := c.Clone()
	if err := probe.seekValueArchived(ctx, archived, Forward); err != nil {
		return false, err
	}
	if probe.state != Positioned {
		return false, nil
	}
	v, err := probe.Value(ctx)
	if err != nil {
		return false, err
	}
	return bytes.Equal(v, archived), nil
}
