// Package filterblock implements the layer file's filter tree (spec
// §4.5): fixed-size approximate-membership-query blocks covering up to
// 65 536 consecutive rows, plus the filter-index tree over them.
//
// The reference structure spec §9 names is a rank-select quotient
// filter; this package implements the variant permitted by that same
// note ("any equivalent structure satisfying these rates and supporting
// O(1) lookup is acceptable"): a quotienting open-addressing table.
// Every value's 64-bit hash is split into a quotient, which selects a
// home slot, and a remainder fingerprint of BitsPerValue bits stored in
// that slot. Because the table is build-once/append-only (insertion
// never deletes), the classic linear-probing correctness argument
// applies without needing the continuation/shifted run metadata a
// mutable quotient filter carries: looking a value up by probing
// forward from its home slot is guaranteed to reach it before an empty
// slot, if it was ever inserted. Slot occupancy is tracked in a
// github.com/bits-and-blooms/bitset (the teacher's transitive
// dependency via bloom/v3), keeping the format's only other dependency
// — xxhash — as the single source of hashing across the whole module.
package filterblock

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"
	"github.com/feldera/storage-design/internal/lferrors"
)

// BitsPerValue selects the filter's fingerprint width, trading memory
// for false-positive rate (spec §4.5: "configurable at 8 or 16 bits per
// value").
type BitsPerValue uint8

const (
	Bits8  BitsPerValue = 8
	Bits16 BitsPerValue = 16
)

// MaxValuesPerFilter is the row budget of a single filter block (spec
// §3, §4.5).
const MaxValuesPerFilter = 65536

// loadFactor bounds how full the slot table may get; quotienting tables
// degrade sharply as load approaches 1.
const loadFactor = 0.85
const minSlots = 64

// Builder batches values for one filter block. Insert order does not
// matter to the table itself (spec's "supporting batched insert in sort
// order" describes how the column writer feeds it, not a structural
// requirement); Finish builds the table once the batch is known.
type Builder struct {
	bits   BitsPerValue
	values [][]byte
}

func NewBuilder(bits BitsPerValue) *Builder {
	return &Builder{bits: bits}
}

// Add buffers value for inclusion in the filter. Returns an error once
// the block's row budget (65 536) is exhausted; the column writer
// should have already flushed before this triggers.
func (b *Builder) Add(value []byte) error {
	if len(b.values) >= MaxValuesPerFilter {
		return fmt.Errorf("filterblock: filter block full: %w", lferrors.BoundsExceeded)
	}
	b.values = append(b.values, value)
	return nil
}

func (b *Builder) Len() int  { return len(b.values) }
func (b *Builder) Full() bool { return len(b.values) >= MaxValuesPerFilter }

func remainderBytes(bitsPerValue BitsPerValue) int {
	if bitsPerValue == Bits8 {
		return 1
	}
	return 2
}

func fingerprintMask(bitsPerValue BitsPerValue) uint64 {
	return 1<<uint(bitsPerValue) - 1
}

func nextPow2(n int) uint64 {
	if n <= 1 {
		return 1
	}
	return uint64(1) << uint(bits.Len(uint(n-1)))
}

// Finish builds and serializes the filter block body:
//
//	bits:u8 | slots:u64 | count:u64 | occupiedLen:u32 | occupied bytes | remainders
func (b *Builder) Finish() ([]byte, error) {
	n := len(b.values)
	slots := nextPow2(int(float64(n)/loadFactor) + 1)
	if slots < minSlots {
		slots = minSlots
	}

	occupied := bitset.New(uint(slots))
	remW := remainderBytes(b.bits)
	rem := make([]byte, int(slots)*remW)
	mask := slots - 1
	fpMask := fingerprintMask(b.bits)

	for _, v := range b.values {
		h := xxhash.Sum64(v)
		q := h & mask
		fp := (h >> 32) & fpMask

		i := q
		for occupied.Test(uint(i)) {
			i = (i + 1) & mask
		}
		occupied.Set(uint(i))
		putRemainder(rem, int(i), remW, fp)
	}

	occBytes, err := occupied.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("filterblock: marshal occupancy: %w", err)
	}

	out := make([]byte, 0, 1+8+8+4+len(occBytes)+len(rem))
	out = append(out, byte(b.bits))
	out = appendUint64(out, slots)
	out = appendUint64(out, uint64(n))
	out = appendUint32(out, uint32(len(occBytes)))
	out = append(out, occBytes...)
	out = append(out, rem...)
	return out, nil
}

// Reader answers approximate-membership queries against a finished
// filter block body.
type Reader struct {
	bits     BitsPerValue
	slots    uint64
	count    uint64
	occupied *bitset.BitSet
	rem      []byte
	remW     int
}

func NewReader(body []byte) (*Reader, error) {
	if len(body) < 1+8+8+4 {
		return nil, fmt.Errorf("filterblock: body too short: %w", lferrors.CorruptBlock)
	}
	off := 0
	bitsPerValue := BitsPerValue(body[off])
	off++
	slots := readUint64(body[off:])
	off += 8
	count := readUint64(body[off:])
	off += 8
	occLen := int(readUint32(body[off:]))
	off += 4
	if len(body) < off+occLen {
		return nil, fmt.Errorf("filterblock: truncated occupancy: %w", lferrors.CorruptBlock)
	}

	occupied := &bitset.BitSet{}
	if err := occupied.UnmarshalBinary(body[off : off+occLen]); err != nil {
		return nil, fmt.Errorf("filterblock: unmarshal occupancy: %w", lferrors.CorruptBlock)
	}
	off += occLen

	remW := remainderBytes(bitsPerValue)
	remLen := int(slots) * remW
	if len(body) < off+remLen {
		return nil, fmt.Errorf("filterblock: truncated remainders: %w", lferrors.CorruptBlock)
	}

	return &Reader{
		bits:     bitsPerValue,
		slots:    slots,
		count:    count,
		occupied: occupied,
		rem:      body[off : off+remLen],
		remW:     remW,
	}, nil
}

// Contains reports whether value might be present. False means
// definitely absent (spec property 8: no false negatives); true may be
// a false positive at the configured rate.
func (r *Reader) Contains(value []byte) bool {
	mask := r.slots - 1
	h := xxhash.Sum64(value)
	q := h & mask
	fp := (h >> 32) & fingerprintMask(r.bits)

	i := q
	for r.occupied.Test(uint(i)) {
		if readRemainder(r.rem, int(i), r.remW) == fp {
			return true
		}
		i = (i + 1) & mask
	}
	return false
}

func (r *Reader) Count() int { return int(r.count) }

func putRemainder(rem []byte, slot, width int, fp uint64) {
	off := slot * width
	if width == 1 {
		rem[off] = byte(fp)
		return
	}
	binary.LittleEndian.PutUint16(rem[off:off+2], uint16(fp))
}

func readRemainder(rem []byte, slot, width int) uint64 {
	off := slot * width
	if width == 1 {
		return uint64(rem[off])
	}
	return uint64(binary.LittleEndian.Uint16(rem[off : off+2]))
}

func appendUint64(dst []byte, v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return append(dst, buf[:]...)
}

func appendUint32(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}

func readUint64(src []byte) uint64 { return binary.LittleEndian.Uint64(src) }
func readUint32(src []byte) uint32 { return binary.LittleEndian.Uint32(src) }
