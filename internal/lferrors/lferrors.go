// Package lferrors defines the error kinds shared by every layer in the
// DAG (spec §7). Every package in this module wraps one of these
// sentinels with %w so callers can keep using errors.Is regardless of
// which layer produced the error.
package lferrors

import "errors"

var (
	// CorruptBlock: checksum/magic/shift mismatch on read. The cursor or
	// reader that surfaces it is no longer usable for that block.
	CorruptBlock = errors.New("layerfile: corrupt block")

	// SchemaMismatch: version or column-count disagreement with the
	// file header, surfaced at open.
	SchemaMismatch = errors.New("layerfile: schema mismatch")

	// InvariantViolated: an index entry claims a subtree that disagrees
	// with its content; the file is treated as corrupt from here on.
	InvariantViolated = errors.New("layerfile: invariant violated")

	// WriteFailed: the underlying I/O collaborator reported a permanent
	// error during a build; the file is discarded.
	WriteFailed = errors.New("layerfile: write failed")

	// OutOfOrder: writer input violated the column's sort order; the
	// writer is unusable from this point on.
	OutOfOrder = errors.New("layerfile: values pushed out of order")

	// BoundsExceeded: a row or value count exceeded a packed field's
	// capacity, surfaced before the offending commit.
	BoundsExceeded = errors.New("layerfile: bounds exceeded")

	// Cancelled: cooperative cancellation; no side effects persist.
	Cancelled = errors.New("layerfile: cancelled")
)
