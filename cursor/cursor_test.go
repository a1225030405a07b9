package cursor

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feldera/storage-design/column"
	"github.com/feldera/storage-design/internal/block"
	"github.com/feldera/storage-design/iocollab"
	"github.com/feldera/storage-design/layerfile"
	"github.com/feldera/storage-design/schema"
)

type memFile struct{ buf []byte }

func (f *memFile) ReadAt(_ context.Context, offset int64, size int) (iocollab.Buffer, error) {
	if offset < 0 || int(offset)+size > len(f.buf) {
		return nil, errors.New("memFile: read out of range")
	}
	out := make([]byte, size)
	copy(out, f.buf[offset:int(offset)+size])
	return &memBuffer{out}, nil
}

func (f *memFile) Write(_ context.Context, p []byte) (int64, error) {
	off := int64(len(f.buf))
	f.buf = append(f.buf, p...)
	return off, nil
}

func (f *memFile) Sync(_ context.Context) error                         { return nil }
func (f *memFile) Prefetch(_ context.Context, _ []iocollab.PrefetchHint) {}
func (f *memFile) Close() error                                         { return nil }

type memBuffer struct{ b []byte }

func (b *memBuffer) Bytes() []byte { return b.b }
func (b *memBuffer) Release()      {}

// buildKeyWeightFile writes a two-column layer file (sorted string keys
// with row ranges into a weights column) and returns the opened reader.
func buildKeyWeightFile(t *testing.T, n int, withFilter bool) *layerfile.Reader {
	t.Helper()
	ctx := context.Background()
	f := &memFile{}

	var filterOpts *column.FilterOptions
	if withFilter {
		filterOpts = &column.FilterOptions{Bits: 16}
	}

	w, err := layerfile.NewWriter(ctx, f, layerfile.WriterOptions{
		Checksum: block.ChecksumXXH64,
		Columns: []layerfile.ColumnSpec{
			{Type: schema.Bytes{}, HasRowRange: true, Filter: filterOpts},
			{Type: schema.Uint64BE{}, HasRowRange: false},
		},
	})
	require.NoError(t, err)

	keys := w.Column(0)
	weights := w.Column(1)
	for i := 0; i < n; i++ {
		weight := uint64(i * 7)
		childRow, err := weights.Push(ctx, schema.EncodeUint64(weight), 0, 0)
		require.NoErrorf(t, err, "weights.Push(%d)", i)
		key := []byte(fmt.Sprintf("k-%05d", i))
		_, err = keys.Push(ctx, key, childRow, childRow+1)
		require.NoErrorf(t, err, "keys.Push(%d)", i)
	}

	require.NoError(t, w.Finish(ctx))

	r, err := layerfile.Open(ctx, f, int64(len(f.buf)))
	require.NoError(t, err)
	return r
}

func TestSeekValueAndIterate(t *testing.T) {
	ctx := context.Background()
	r := buildKeyWeightFile(t, 500, false)
	keyCol, err := r.Column(0)
	require.NoError(t, err)

	c := New(keyCol, schema.Bytes{}, true)
	require.NoError(t, c.SeekValue(ctx, []byte("k-00100"), Forward))
	require.Equal(t, Positioned, c.State())

	row, err := c.RowNumber()
	require.NoError(t, err)
	assert.EqualValues(t, 100, row)

	for i := 0; i < 5; i++ {
		v, err := c.Value(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("k-%05d", 100+i), string(v))
		c.Next()
	}
}

func TestSeekValuePastEndGoesAfter(t *testing.T) {
	ctx := context.Background()
	r := buildKeyWeightFile(t, 50, false)
	keyCol, err := r.Column(0)
	require.NoError(t, err)

	c := New(keyCol, schema.Bytes{}, true)
	require.NoError(t, c.SeekValue(ctx, []byte("zzzz"), Forward))
	assert.Equal(t, After, c.State())
	assert.False(t, c.Next(), "Next() from After must stay After")
}

func TestSeekValueBackward(t *testing.T) {
	ctx := context.Background()
	r := buildKeyWeightFile(t, 500, false)
	keyCol, err := r.Column(0)
	require.NoError(t, err)

	c := New(keyCol, schema.Bytes{}, true)
	require.NoError(t, c.SeekValue(ctx, []byte("k-00100"), Backward))
	row, err := c.RowNumber()
	require.NoError(t, err)
	assert.EqualValues(t, 100, row)

	// A target strictly between two keys lands on the lesser one.
	require.NoError(t, c.SeekValue(ctx, []byte("k-00100x"), Backward))
	row, err = c.RowNumber()
	require.NoError(t, err)
	assert.EqualValues(t, 100, row)

	// A target before every key goes Before.
	require.NoError(t, c.SeekValue(ctx, []byte("a"), Backward))
	assert.Equal(t, Before, c.State())
}

func TestNextPrevBoundaries(t *testing.T) {
	r := buildKeyWeightFile(t, 3, false)
	keyCol, err := r.Column(0)
	require.NoError(t, err)

	c := New(keyCol, schema.Bytes{}, true)
	require.Equal(t, Before, c.State())

	require.True(t, c.Next())
	require.Equal(t, Positioned, c.State())
	row, _ := c.RowNumber()
	assert.EqualValues(t, 0, row)

	c.Next()
	c.Next()
	assert.False(t, c.Next(), "expected Next() to move past the last row to After")
	assert.Equal(t, After, c.State())

	require.True(t, c.Prev(), "expected Prev() from After to land on the last row")
	row, _ = c.RowNumber()
	assert.EqualValues(t, 2, row)

	c.Prev()
	c.Prev()
	assert.False(t, c.Prev(), "expected Prev() to move before the first row to Before")
	assert.Equal(t, Before, c.State())
}

func TestChildRangeDrillDown(t *testing.T) {
	ctx := context.Background()
	r := buildKeyWeightFile(t, 10, false)
	keyCol, err := r.Column(0)
	require.NoError(t, err)
	weightCol, err := r.Column(1)
	require.NoError(t, err)

	c := New(keyCol, schema.Bytes{}, true)
	require.NoError(t, c.SeekValue(ctx, []byte("k-00005"), Forward))

	rowStart, rowEnd, err := c.ChildRange(ctx)
	require.NoError(t, err)
	assert.Equal(t, rowStart+1, rowEnd, "expected a single-row child range")

	child, err := c.EnterChild(ctx, weightCol, schema.Uint64BE{}, false)
	require.NoError(t, err)
	assert.Equal(t, Before, child.State())

	// EnterChild scopes the cursor to exactly [rowStart, rowEnd): Next
	// must reach rowStart and nowhere else, SeekRow outside the range
	// must not land Positioned, and a second Next must exhaust it.
	require.True(t, child.Next())
	row, err := child.RowNumber()
	require.NoError(t, err)
	assert.EqualValues(t, rowStart, row)

	v, err := child.Value(ctx)
	require.NoError(t, err)
	assert.Len(t, v, 8)

	assert.False(t, child.Next(), "child cursor must exhaust after its single scoped row")
	assert.Equal(t, After, child.State())

	outOfRange := child.Clone()
	outOfRange.SeekRow(rowEnd)
	assert.Equal(t, After, outOfRange.State(), "SeekRow past rowEnd must not escape the scoped range")
	if rowStart > 0 {
		outOfRange.SeekRow(rowStart - 1)
		assert.Equal(t, Before, outOfRange.State(), "SeekRow before rowStart must not escape the scoped range")
	}
}

// TestEnterChildScansExactlyItsRowGroup drills into a multi-row child
// range and confirms enterChild() walks exactly those rows, not the
// whole child column (the scenario the cursor's row-group scoping
// exists for).
func TestEnterChildScansExactlyItsRowGroup(t *testing.T) {
	ctx := context.Background()
	f := &memFile{}
	w, err := layerfile.NewWriter(ctx, f, layerfile.WriterOptions{
		Checksum: block.ChecksumXXH64,
		Columns: []layerfile.ColumnSpec{
			{Type: schema.Bytes{}, HasRowRange: true},
			{Type: schema.Uint64BE{}, HasRowRange: false},
		},
	})
	require.NoError(t, err)

	parent := w.Column(0)
	leaf := w.Column(1)

	// Two parent rows, each owning a four-row child group.
	groupSizes := []int{4, 4}
	childRow := uint64(0)
	for gi, size := range groupSizes {
		rowStart := childRow
		for j := 0; j < size; j++ {
			_, err := leaf.Push(ctx, schema.EncodeUint64(childRow), 0, 0)
			require.NoError(t, err)
			childRow++
		}
		_, err := parent.Push(ctx, []byte(fmt.Sprintf("p-%02d", gi)), rowStart, childRow)
		require.NoError(t, err)
	}
	require.NoError(t, w.Finish(ctx))

	rd, err := layerfile.Open(ctx, f, int64(len(f.buf)))
	require.NoError(t, err)
	parentCol, err := rd.Column(0)
	require.NoError(t, err)
	leafCol, err := rd.Column(1)
	require.NoError(t, err)

	pc := New(parentCol, schema.Bytes{}, true)
	require.True(t, pc.Next())
	require.True(t, pc.Next(), "expected a second parent row")
	rowStart, rowEnd, err := pc.ChildRange(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 4, rowStart)
	assert.EqualValues(t, 8, rowEnd)

	lc, err := pc.EnterChild(ctx, leafCol, schema.Uint64BE{}, false)
	require.NoError(t, err)

	var scanned []uint64
	for lc.Next() {
		row, err := lc.RowNumber()
		require.NoError(t, err)
		v, err := lc.Value(ctx)
		require.NoError(t, err)
		scanned = append(scanned, row)
		assert.EqualValues(t, row, binary.BigEndian.Uint64(v))
	}
	assert.Equal(t, []uint64{4, 5, 6, 7}, scanned, "enterChild must scan exactly the four rows of its child range")
}

func TestContainsApproxWithFilter(t *testing.T) {
	ctx := context.Background()
	r := buildKeyWeightFile(t, 2000, true)
	keyCol, err := r.Column(0)
	require.NoError(t, err)
	require.True(t, keyCol.HasFilterIndex())

	c := New(keyCol, schema.Bytes{}, true)
	ok, err := c.ContainsApprox(ctx, []byte("k-01000"))
	require.NoError(t, err)
	assert.True(t, ok, "expected ContainsApprox to report true for a value that was pushed")

	ok, err = c.ContainsApprox(ctx, []byte("not-a-real-key"))
	require.NoError(t, err)
	assert.False(t, ok, "ContainsApprox should report false for a value well outside the pushed key space")
}

func TestContainsApproxWithoutFilterFallsBackExact(t *testing.T) {
	ctx := context.Background()
	r := buildKeyWeightFile(t, 200, false)
	keyCol, err := r.Column(0)
	require.NoError(t, err)
	require.False(t, keyCol.HasFilterIndex())

	c := New(keyCol, schema.Bytes{}, true)
	ok, err := c.ContainsApprox(ctx, []byte("k-00050"))
	require.NoError(t, err)
	assert.True(t, ok, "expected true for a present value via exact fallback")

	// No filter present means the fallback is an exact search: it must
	// never report a false positive either.
	ok, err = c.ContainsApprox(ctx, []byte("k-99999"))
	require.NoError(t, err)
	assert.False(t, ok, "exact fallback must never report a false positive")
}

func TestCloneIsIndependent(t *testing.T) {
	ctx := context.Background()
	r := buildKeyWeightFile(t, 10, false)
	keyCol, err := r.Column(0)
	require.NoError(t, err)

	c := New(keyCol, schema.Bytes{}, true)
	c.SeekRow(3)

	clone := c.Clone()
	clone.SeekRow(7)

	row, err := c.RowNumber()
	require.NoError(t, err)
	assert.EqualValues(t, 3, row, "original cursor must not move after cloning")

	cloneRow, err := clone.RowNumber()
	require.NoError(t, err)
	assert.EqualValues(t, 7, cloneRow)

	v, err := c.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, "k-00003", string(v))
}
