// Package schema is the schema collaborator (spec §6, §9): the layer
// file core treats every value as an opaque, already-archived byte
// sequence and only ever asks a Type for its alignment and its total
// order. A real archived-value toolchain (the compiler-generated
// schema/versioning system spec §1 calls out as a separate, out-of-scope
// collaborator) would generate these Types; this package supplies a
// small set of them by hand for the value kinds the layer file format
// itself needs to exercise and test.
package schema

import (
	"bytes"
	"encoding/binary"
)

// Type is the schema collaborator's surface. Align must be a power of
// two <= 64 (spec §4.2). Values are passed and returned as their
// archived byte form directly — the codec layer never decodes them, it
// only aligns and places them; only Less interprets the bytes.
type Type interface {
	// Align returns the natural alignment of the archived form, a power
	// of two in [1, 64].
	Align() int
	// Encode returns v in its archived (position-independent) byte
	// form. For byte-oriented types this is typically the identity.
	Encode(v []byte) []byte
	// Less reports whether a orders before b under the column's total
	// order. a and b are both already in archived form.
	Less(a, b []byte) bool
}

// FixedWidth is implemented by Types whose archived form always has the
// same byte length, so a reader never needs to infer a value's extent
// from the next value's root offset — it can always read exactly
// Width() bytes starting at the root.
type FixedWidth interface {
	Width() int
}

// Bytes is the variable-length byte-string Type: align 1, lexicographic
// order via bytes.Compare, identity encoding. This is the natural Type
// for opaque keys (spec scenario S2's 16-byte keys, S6's 128-byte keys).
// Align() == 1 means codec.Append never inserts padding before a Bytes
// value, so a reader can always bound one by the next value's root
// offset with no ambiguity.
type Bytes struct{}

func (Bytes) Align() int             { return 1 }
func (Bytes) Encode(v []byte) []byte { return v }
func (Bytes) Less(a, b []byte) bool  { return bytes.Compare(a, b) < 0 }

// Fixed is a fixed-width byte-string Type with a caller-supplied
// alignment and ordering function. Use it for archived struct-like
// values (e.g. a 16-byte key + weight pair) whose alignment must match
// the natural alignment of their widest field.
type Fixed struct {
	N         int // archived byte length
	Alignment int
	LessFunc  func(a, b []byte) bool
}

func (f Fixed) Align() int { return f.Alignment }
func (f Fixed) Width() int { return f.N }

func (f Fixed) Encode(v []byte) []byte {
	if len(v) != f.N {
		panic("schema: Fixed.Encode: value width mismatch")
	}
	return v
}

func (f Fixed) Less(a, b []byte) bool {
	if f.LessFunc != nil {
		return f.LessFunc(a, b)
	}
	return bytes.Compare(a, b) < 0
}

// Uint64BE is the archived form of a big-endian uint64: 8-byte aligned,
// numeric order.
type Uint64BE struct{}

func (Uint64BE) Align() int { return 8 }
func (Uint64BE) Width() int { return 8 }

func (Uint64BE) Encode(v []byte) []byte {
	if len(v) != 8 {
		panic("schema: Uint64BE.Encode: value must be 8 bytes")
	}
	return v
}

func (Uint64BE) Less(a, b []byte) bool {
	return binary.BigEndian.Uint64(a) < binary.BigEndian.Uint64(b)
}

// EncodeUint64 is a convenience for producing the archived form
// Uint64BE expects.
func EncodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}
