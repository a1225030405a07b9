package column

import (
	"context"
	"fmt"

	"github.com/feldera/storage-design/internal/block"
	"github.com/feldera/storage-design/internal/indexblock"
	"github.com/feldera/storage-design/internal/lferrors"
	"github.com/feldera/storage-design/iocollab"
)

// promoteValueEntry adds entry to levels[level], creating the level if
// it doesn't exist yet. If the level is full, it finishes that level's
// block, writes it with blockType, promotes a summary entry to
// level+1 (recursing), resets the level to a fresh builder, and retries
// entry against it. This is the one routine used both while streaming
// (called from flushData and the filter writer) and while draining the
// stack at Finish, so cascades are handled identically either way.
func promoteValueEntry(
	ctx context.Context,
	f iocollab.File,
	alg block.ChecksumAlgorithm,
	blockType block.Type,
	levels *[]*indexblock.ValueIndexBuilder,
	level int,
	entry indexblock.ValueEntry,
) error {
	for {
		if level >= len(*levels) {
			*levels = append(*levels, indexblock.NewValueIndexBuilder())
		}
		b := (*levels)[level]

		ok, err := b.Add(entry)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		summary := indexblock.ValueEntry{
			FirstRow:   b.FirstRow(),
			FirstValue: b.FirstValue(),
			LastValue:  b.LastValue(),
		}
		body := b.Finish()
		offset, shift, err := block.Write(ctx, f, blockType, alg, body, block.MinTreeShift)
		if err != nil {
			return err
		}
		summary.Child = block.Pointer{Offset: uint64(offset), Shift: shift, IsIndex: true}

		(*levels)[level] = indexblock.NewValueIndexBuilder()

		if err := promoteValueEntry(ctx, f, alg, blockType, levels, level+1, summary); err != nil {
			return err
		}
		// retry entry against the now-fresh level
	}
}

// promoteRowEntry is promoteValueEntry's row-index counterpart. Row-index
// blocks always use block.TypeRowIndex.
func promoteRowEntry(
	ctx context.Context,
	f iocollab.File,
	alg block.ChecksumAlgorithm,
	levels *[]*indexblock.RowIndexBuilder,
	level int,
	entry indexblock.RowEntry,
) error {
	for {
		if level >= len(*levels) {
			*levels = append(*levels, indexblock.NewRowIndexBuilder())
		}
		b := (*levels)[level]

		ok, err := b.Add(entry)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		summary := indexblock.RowEntry{FirstRow: b.FirstRow()}
		body := b.Finish()
		offset, shift, err := block.Write(ctx, f, block.TypeRowIndex, alg, body, block.MinTreeShift)
		if err != nil {
			return err
		}
		summary.Child = block.Pointer{Offset: uint64(offset), Shift: shift, IsIndex: true}

		(*levels)[level] = indexblock.NewRowIndexBuilder()

		if err := promoteRowEntry(ctx, f, alg, levels, level+1, summary); err != nil {
			return err
		}
	}
}

// finishValueStack drains every level of a value-index-shaped stack
// (used for both the value-index tree and the filter-index tree),
// flushing each non-empty level bottom to top and promoting its summary
// upward, and returns the pointer to the single resulting root block.
func finishValueStack(
	ctx context.Context,
	f iocollab.File,
	alg block.ChecksumAlgorithm,
	blockType block.Type,
	levels *[]*indexblock.ValueIndexBuilder,
) (block.Pointer, error) {
	var root block.Pointer
	haveRoot := false

	for level := 0; level < len(*levels); level++ {
		b := (*levels)[level]
		if b.Empty() {
			continue
		}

		summary := indexblock.ValueEntry{
			FirstRow:   b.FirstRow(),
			FirstValue: b.FirstValue(),
			LastValue:  b.LastValue(),
		}
		body := b.Finish()
		offset, shift, err := block.Write(ctx, f, blockType, alg, body, block.MinTreeShift)
		if err != nil {
			return block.Pointer{}, err
		}
		ptr := block.Pointer{Offset: uint64(offset), Shift: shift, IsIndex: true}
		root = ptr
		haveRoot = true

		if level+1 < len(*levels) {
			summary.Child = ptr
			if err := promoteValueEntry(ctx, f, alg, blockType, levels, level+1, summary); err != nil {
				return block.Pointer{}, err
			}
		}
	}

	if !haveRoot {
		return block.Pointer{}, fmt.Errorf("column: empty index stack at finish: %w", lferrors.InvariantViolated)
	}
	return root, nil
}

// finishRowStack is finishValueStack's row-index counterpart.
func finishRowStack(
	ctx context.Context,
	f iocollab.File,
	alg block.ChecksumAlgorithm,
	levels *[]*indexblock.RowIndexBuilder,
) (block.Pointer, error) {
	var root block.Pointer
	haveRoot := false

	for level := 0; level < len(*levels); level++ {
		b := (*levels)[level]
		if b.Empty() {
			continue
		}

		summary := indexblock.RowEntry{FirstRow: b.FirstRow()}
		body := b.Finish()
		offset, shift, err := block.Write(ctx, f, block.TypeRowIndex, alg, body, block.MinTreeShift)
		if err != nil {
			return block.Pointer{}, err
		}
		ptr := block.Pointer{Offset: uint64(offset), Shift: shift, IsIndex: true}
		root = ptr
		haveRoot = true

		if level+1 < len(*levels) {
			summary.Child = ptr
			if err := promoteRowEntry(ctx, f, alg, levels, level+1, summary); err != nil {
				return block.Pointer{}, err
			}
		}
	}

	if !haveRoot {
		return block.Pointer{}, fmt.Errorf("column: empty row-index stack at finish: %w", lferrors.InvariantViolated)
	}
	return root, nil
}
