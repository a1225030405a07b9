package layerfile

import (
	"context"
	"fmt"

	"github.com/feldera/storage-design/column"
	"github.com/feldera/storage-design/internal/block"
	"github.com/feldera/storage-design/iocollab"
	"github.com/feldera/storage-design/schema"
)

// ColumnSpec describes one column to WriterOptions: its value type,
// whether it carries row-group ranges into the next column (every
// column but the last does), and whether it gets a filter tree.
type ColumnSpec struct {
	Type        schema.Type
	HasRowRange bool
	Filter      *column.FilterOptions
}

// WriterOptions configures a layer file Writer.
type WriterOptions struct {
	Checksum block.ChecksumAlgorithm
	Columns  []ColumnSpec
	// Metadata is opaque caller-supplied debugging context stamped into
	// the header (spec's supplemented "debug metadata" field — names of
	// the computation or operator that produced the file, timestamps,
	// anything a human inspecting the file later would want).
	Metadata map[string]string
}

// Writer assembles a complete layer file: header first, then however
// the caller chooses to interleave pushes across the per-column
// Writers, then Finish assembles and writes the trailer.
//
// Column writers are exposed directly (spec §4.6's design: a column
// writer returns the row number it assigned synchronously, so a caller
// building row-group ranges for column i can push into column i+1
// first to learn child row numbers, then push the range into column i
// — no cross-column synchronization beyond that ordering is needed).
type Writer struct {
	f        iocollab.File
	opts     WriterOptions
	columns  []*column.Writer
	finished bool
}

// NewWriter opens f for writing and immediately writes the header
// block, positioning the file for column data.
func NewWriter(ctx context.Context, f iocollab.File, opts WriterOptions) (*Writer, error) {
	if len(opts.Columns) == 0 {
		return nil, fmt.Errorf("layerfile: at least one column required")
	}

	hdr := Header{
		Checksum:    opts.Checksum,
		ColumnCount: len(opts.Columns),
		Metadata:    opts.Metadata,
	}
	// The header block always checksums with xxhash, independent of the
	// algorithm it declares for every other block: a reader must be
	// able to verify it before it knows which algorithm the rest of the
	// file uses.
	if _, _, err := block.Write(ctx, f, block.TypeHeader, block.ChecksumXXH64, encodeHeader(hdr), block.MinTreeShift); err != nil {
		return nil, err
	}

	columns := make([]*column.Writer, len(opts.Columns))
	for i, cs := range opts.Columns {
		columns[i] = column.NewWriter(f, cs.Type, column.Options{
			Checksum:    opts.Checksum,
			HasRowRange: cs.HasRowRange,
			Filter:      cs.Filter,
		})
	}

	return &Writer{f: f, opts: opts, columns: columns}, nil
}

// Column returns the i-th column's streaming writer for the caller to
// push values into.
func (w *Writer) Column(i int) *column.Writer { return w.columns[i] }

// Finish flushes every column, writes the trailer and end marker, and
// syncs the file. The Writer must not be used again afterward.
func (w *Writer) Finish(ctx context.Context) error {
	if w.finished {
		return fmt.Errorf("layerfile: Finish called twice")
	}
	w.finished = true

	roots := make([]ColumnRoots, len(w.columns))
	for i, cw := range w.columns {
		r, err := cw.Finish(ctx)
		if err != nil {
			return fmt.Errorf("layerfile: finishing column %d: %w", i, err)
		}
		roots[i] = ColumnRoots{
			Rows:        r.Rows,
			ValueIndex:  r.ValueIndex,
			RowIndex:    r.RowIndex,
			FilterIndex: r.FilterIndex,
		}
	}

	trailerOffset, trailerShift, err := block.Write(ctx, w.f, block.TypeTrailer, w.opts.Checksum, encodeTrailer(roots), block.MinTreeShift)
	if err != nil {
		return fmt.Errorf("layerfile: writing trailer: %w", err)
	}

	marker := make([]byte, 0, endMarkerSize)
	marker = append(marker, endMagic[:]...)
	marker = appendU64(marker, uint64(trailerOffset))
	marker = append(marker, trailerShift)
	marker = append(marker, 0, 0, 0)
	if _, err := w.f.Write(ctx, marker); err != nil {
		return fmt.Errorf("layerfile: writing end marker: %w", err)
	}

	if err := w.f.Sync(ctx); err != nil {
		return fmt.Errorf("layerfile: sync: %w", err)
	}
	return nil
}
