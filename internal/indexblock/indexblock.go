// Package indexblock implements the layer file's index-block builder
// and reader (spec §4.4): the two parallel per-column trees — a value
// index searchable by lastValue, and a row index searchable by
// firstRow — plus the packed entry encodings spec §6 pins on the wire.
package indexblock

import (
	"encoding/binary"
	"fmt"

	"github.com/feldera/storage-design/internal/block"
	"github.com/feldera/storage-design/internal/lferrors"
)

// ValueEntry is one child summary in a value-index block: the bounds of
// every value in the child's subtree, its first row, where the child
// lives, and — if the column is filtered — a pointer to the filter
// block covering the same subtree (spec §4.5).
type ValueEntry struct {
	FirstRow   uint64
	Child      block.Pointer
	FilterPtr  *block.Pointer
	FirstValue []byte
	LastValue  []byte
}

// RowEntry is one child summary in a row-index block: just the child's
// first row and location. Fixed 12 bytes on the wire.
type RowEntry struct {
	FirstRow uint64
	Child    block.Pointer
}

// packPointer lays out a 48-bit word: offset(40) | shift(6) | kind(1) | extra(1).
func packPointer(p block.Pointer, extra bool) uint64 {
	w := p.Offset & (1<<40 - 1)
	w |= uint64(p.Shift&0x3F) << 40
	if p.IsIndex {
		w |= 1 << 46
	}
	if extra {
		w |= 1 << 47
	}
	return w
}

func unpackPointer(w uint64) (p block.Pointer, extra bool) {
	p.Offset = w & (1<<40 - 1)
	p.Shift = uint8((w >> 40) & 0x3F)
	p.IsIndex = (w>>46)&1 != 0
	extra = (w>>47)&1 != 0
	return
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

func validateEntry(firstRow uint64, p block.Pointer) error {
	if firstRow > 1<<48-1 {
		return fmt.Errorf("indexblock: first row %d exceeds 48 bits: %w", firstRow, lferrors.BoundsExceeded)
	}
	return p.Validate()
}

// encodeValueEntry appends entry's wire encoding to dst and returns the
// extended slice:
// firstRow(6B) | pointerWord(6B, extra=hasFilter) | [filterPointerWord(6B) if hasFilter] | firstValueLen(varint) | firstValue | lastValueLen(varint) | lastValue.
func encodeValueEntry(dst []byte, e ValueEntry) []byte {
	var row [6]byte
	putUint48(row[:], e.FirstRow)
	dst = append(dst, row[:]...)

	hasFilter := e.FilterPtr != nil
	var ptr [6]byte
	putUint48(ptr[:], packPointer(e.Child, hasFilter))
	dst = append(dst, ptr[:]...)

	if hasFilter {
		var fp [6]byte
		putUint48(fp[:], packPointer(*e.FilterPtr, false))
		dst = append(dst, fp[:]...)
	}

	var varintBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(varintBuf[:], uint64(len(e.FirstValue)))
	dst = append(dst, varintBuf[:n]...)
	dst = append(dst, e.FirstValue...)

	n = binary.PutUvarint(varintBuf[:], uint64(len(e.LastValue)))
	dst = append(dst, varintBuf[:n]...)
	dst = append(dst, e.LastValue...)

	return dst
}

// decodeValueEntry parses one entry starting at src[0] and returns it
// plus the number of bytes consumed.
func decodeValueEntry(src []byte) (ValueEntry, int, error) {
	if len(src) < 12 {
		return ValueEntry{}, 0, fmt.Errorf("indexblock: truncated value entry: %w", lferrors.CorruptBlock)
	}

	firstRow := getUint48(src[0:6])
	ptr, hasFilter := unpackPointer(getUint48(src[6:12]))

	off := 12
	e := ValueEntry{FirstRow: firstRow, Child: ptr}

	if hasFilter {
		if len(src) < off+6 {
			return ValueEntry{}, 0, fmt.Errorf("indexblock: truncated filter pointer: %w", lferrors.CorruptBlock)
		}
		fp, _ := unpackPointer(getUint48(src[off : off+6]))
		e.FilterPtr = &fp
		off += 6
	}

	firstLen, n := binary.Uvarint(src[off:])
	if n <= 0 {
		return ValueEntry{}, 0, fmt.Errorf("indexblock: bad firstValue varint: %w", lferrors.CorruptBlock)
	}
	off += n
	if len(src) < off+int(firstLen) {
		return ValueEntry{}, 0, fmt.Errorf("indexblock: truncated firstValue: %w", lferrors.CorruptBlock)
	}
	e.FirstValue = src[off : off+int(firstLen)]
	off += int(firstLen)

	lastLen, n := binary.Uvarint(src[off:])
	if n <= 0 {
		return ValueEntry{}, 0, fmt.Errorf("indexblock: bad lastValue varint: %w", lferrors.CorruptBlock)
	}
	off += n
	if len(src) < off+int(lastLen) {
		return ValueEntry{}, 0, fmt.Errorf("indexblock: truncated lastValue: %w", lferrors.CorruptBlock)
	}
	e.LastValue = src[off : off+int(lastLen)]
	off += int(lastLen)

	return e, off, nil
}

func encodeRowEntry(dst []byte, e RowEntry) []byte {
	var row [6]byte
	putUint48(row[:], e.FirstRow)
	dst = append(dst, row[:]...)

	var ptr [6]byte
	putUint48(ptr[:], packPointer(e.Child, false))
	dst = append(dst, ptr[:]...)
	return dst
}

func decodeRowEntry(src []byte) (RowEntry, error) {
	if len(src) < 12 {
		return RowEntry{}, fmt.Errorf("indexblock: truncated row entry: %w", lferrors.CorruptBlock)
	}
	firstRow := getUint48(src[0:6])
	ptr, _ := unpackPointer(getUint48(src[6:12]))
	return RowEntry{FirstRow: firstRow, Child: ptr}, nil
}
