package layerfile

import (
	"context"

	"github.com/feldera/storage-design/internal/block"
	"github.com/feldera/storage-design/internal/datablock"
	"github.com/feldera/storage-design/internal/filterblock"
	"github.com/feldera/storage-design/internal/indexblock"
	"github.com/feldera/storage-design/iocollab"
	"github.com/feldera/storage-design/schema"
)

// ColumnReader opens one column's trees for random access. It is the
// collaborator a cursor (spec §4.8) walks to resolve pointers into
// decoded blocks.
type ColumnReader struct {
	f     iocollab.File
	alg   block.ChecksumAlgorithm
	roots ColumnRoots
}

func (c *ColumnReader) Rows() uint64 { return c.roots.Rows }

func (c *ColumnReader) HasValueIndex() bool  { return !c.roots.ValueIndex.Absent() }
func (c *ColumnReader) HasFilterIndex() bool { return !c.roots.FilterIndex.Absent() }

func (c *ColumnReader) ValueIndexRoot() block.Pointer  { return c.roots.ValueIndex }
func (c *ColumnReader) RowIndexRoot() block.Pointer    { return c.roots.RowIndex }
func (c *ColumnReader) FilterIndexRoot() block.Pointer { return c.roots.FilterIndex }

// ReadData opens the data block at p, decoded against value type t.
func (c *ColumnReader) ReadData(ctx context.Context, p block.Pointer, t schema.Type, hasRowRange bool) (*datablock.Reader, func(), error) {
	buf, body, err := block.Read(ctx, c.f, int64(p.Offset), p.Shift, block.TypeData, c.alg)
	if err != nil {
		return nil, nil, err
	}
	r, err := datablock.NewReader(body, hasRowRange)
	if err != nil {
		buf.Release()
		return nil, nil, err
	}
	return r, buf.Release, nil
}

// ReadValueIndex opens the value-index block at p.
func (c *ColumnReader) ReadValueIndex(ctx context.Context, p block.Pointer) (*indexblock.ValueIndexReader, func(), error) {
	buf, body, err := block.Read(ctx, c.f, int64(p.Offset), p.Shift, block.TypeValueIndex, c.alg)
	if err != nil {
		return nil, nil, err
	}
	r, err := indexblock.NewValueIndexReader(body)
	if err != nil {
		buf.Release()
		return nil, nil, err
	}
	return r, buf.Release, nil
}

// ReadRowIndex opens the row-index block at p.
func (c *ColumnReader) ReadRowIndex(ctx context.Context, p block.Pointer) (*indexblock.RowIndexReader, func(), error) {
	buf, body, err := block.Read(ctx, c.f, int64(p.Offset), p.Shift, block.TypeRowIndex, c.alg)
	if err != nil {
		return nil, nil, err
	}
	r, err := indexblock.NewRowIndexReader(body)
	if err != nil {
		buf.Release()
		return nil, nil, err
	}
	return r, buf.Release, nil
}

// ReadFilterIndex opens a filter-index block at p (an ordinary
// value-index block under the hood; see column.filterWriter).
func (c *ColumnReader) ReadFilterIndex(ctx context.Context, p block.Pointer) (*indexblock.ValueIndexReader, func(), error) {
	buf, body, err := block.Read(ctx, c.f, int64(p.Offset), p.Shift, block.TypeFilterIndex, c.alg)
	if err != nil {
		return nil, nil, err
	}
	r, err := indexblock.NewValueIndexReader(body)
	if err != nil {
		buf.Release()
		return nil, nil, err
	}
	return r, buf.Release, nil
}

// ReadFilter opens the filter (AMQ) leaf block at p.
func (c *ColumnReader) ReadFilter(ctx context.Context, p block.Pointer) (*filterblock.Reader, func(), error) {
	buf, body, err := block.Read(ctx, c.f, int64(p.Offset), p.Shift, block.TypeFilter, c.alg)
	if err != nil {
		return nil, nil, err
	}
	r, err := filterblock.NewReader(body)
	if err != nil {
		buf.Release()
		return nil, nil, err
	}
	return r, buf.Release, nil
}
