// Package datablock implements the layer file's data-block builder and
// reader (spec §4.3): the leaf of a column's value tree, packing
// variable-length archived values into a bounded block and trailing
// them with a per-value offset (and, for all but the last column, a
// row-group range into the next column).
package datablock

import (
	"encoding/binary"
	"fmt"

	"github.com/feldera/storage-design/internal/block"
	"github.com/feldera/storage-design/internal/codec"
	"github.com/feldera/storage-design/internal/lferrors"
	"github.com/feldera/storage-design/schema"
)

// Entry is one value's trailer record.
type Entry struct {
	RootOffset int
	RowStart   uint64 // valid only when the column carries row ranges
	RowEnd     uint64
}

const entryHeaderless = 2 // rootOffset u16
const entryRowRange = 12  // rowStart u48 + rowEnd u48

func entrySize(hasRowRange bool) int {
	if hasRowRange {
		return entryHeaderless + entryRowRange
	}
	return entryHeaderless
}

// trailerSize is the byte cost of flushing n entries: the entries
// themselves plus the trailing value-count field.
func trailerSize(n int, hasRowRange bool) int {
	return n*entrySize(hasRowRange) + 2
}

// Builder accumulates one data block's worth of values. It commits
// (spec §4.3) when the next Add would exceed the block's current
// power-of-two budget, the value count would exceed block.MaxEntries,
// or the caller calls Finish early.
type Builder struct {
	typ         schema.Type
	hasRowRange bool
	body        []byte
	entries     []Entry
	firstValue  []byte
	lastValue   []byte
	budget      int64
}

// NewBuilder starts an empty data-block builder for a column of the
// given value Type. hasRowRange must be true for every column except
// the last.
func NewBuilder(t schema.Type, hasRowRange bool) *Builder {
	return &Builder{
		typ:         t,
		hasRowRange: hasRowRange,
		budget:      block.Size(block.MinTreeShift),
	}
}

// Empty reports whether any value has been added since the last reset.
func (b *Builder) Empty() bool { return len(b.entries) == 0 }

// Count returns the number of values buffered so far.
func (b *Builder) Count() int { return len(b.entries) }

// FirstValue and LastValue return the archived bytes of the first and
// last buffered values, for promotion into the parent value-index entry.
func (b *Builder) FirstValue() []byte { return b.firstValue }
func (b *Builder) LastValue() []byte  { return b.lastValue }

// Add attempts to append value (with its row-group range, ignored when
// hasRowRange is false) to the block. It returns false, nil when the
// caller must Finish the current block and start a new Builder before
// retrying — the value itself was not consumed. A single oversize value
// on an otherwise-empty builder instead widens the block's budget in
// power-of-two steps (spec §4.6's "pathological oversize values widen
// the block size") until it fits or block.MaxShift is exceeded.
func (b *Builder) Add(value []byte, rowStart, rowEnd uint64) (bool, error) {
	if len(b.entries) >= block.MaxEntries {
		return false, nil
	}

	align := b.typ.Align()
	pad := paddingFor(len(b.body), align)
	added := pad + len(value)

	for {
		total := int64(len(b.body)+added+block.PrefixSize) + int64(trailerSize(len(b.entries)+1, b.hasRowRange))
		if total <= b.budget {
			break
		}
		if len(b.entries) != 0 {
			return false, nil
		}
		if b.budget >= block.Size(block.MaxShift) {
			return false, fmt.Errorf("datablock: value of %d bytes exceeds max block size: %w", len(value), lferrors.BoundsExceeded)
		}
		b.budget *= 2
	}

	newBody, root := codec.Append(b.body, b.typ, value)
	if root > 0xFFFF {
		return false, fmt.Errorf("datablock: root offset %d exceeds 16 bits: %w", root, lferrors.BoundsExceeded)
	}

	b.body = newBody
	b.entries = append(b.entries, Entry{RootOffset: root, RowStart: rowStart, RowEnd: rowEnd})

	archived := b.typ.Encode(value)
	if b.firstValue == nil {
		b.firstValue = append([]byte(nil), archived...)
	}
	b.lastValue = append([]byte(nil), archived...)

	return true, nil
}

// Finish renders the block body (payload + trailer). The value count is
// stored as the trailer's final two bytes so a reader can locate the
// fixed-size entry array by working backward from the end of the block
// without first needing to know where the trailer begins.
func (b *Builder) Finish() []byte {
	out := make([]byte, len(b.body), len(b.body)+trailerSize(len(b.entries), b.hasRowRange))
	copy(out, b.body)

	for _, e := range b.entries {
		var buf [entryHeaderless + entryRowRange]byte
		binary.LittleEndian.PutUint16(buf[0:2], uint16(e.RootOffset))
		if b.hasRowRange {
			putUint48(buf[2:8], e.RowStart)
			putUint48(buf[8:14], e.RowEnd)
			out = append(out, buf[:14]...)
		} else {
			out = append(out, buf[:2]...)
		}
	}

	var countBuf [2]byte
	binary.LittleEndian.PutUint16(countBuf[:], uint16(len(b.entries)))
	out = append(out, countBuf[:]...)

	return out
}

// MinShift is the floor size-shift data blocks are written at.
func (b *Builder) MinShift() uint8 { return block.MinTreeShift }

func paddingFor(n, align int) int {
	if align <= 1 {
		return 0
	}
	if rem := n % align; rem != 0 {
		return align - rem
	}
	return 0
}

func putUint48(dst []byte, v uint64) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
	dst[4] = byte(v >> 32)
	dst[5] = byte(v >> 40)
}

func getUint48(src []byte) uint64 {
	return uint64(src[0]) | uint64(src[1])<<8 | uint64(src[2])<<16 |
		uint64(src[3])<<24 | uint64(src[4])<<32 | uint64(src[5])<<40
}
