// Package codec implements the layer file's value codec (spec §4.2):
// each value is serialized independently, padded so its root lands at
// its type's natural alignment, and the codec hands back only the root
// offset — never a length. Forward iteration over a data block needs
// the next value's root offset (or the trailer's total payload length
// for the last value in the block) to bound a read; codec itself never
// frames multiple values together.
package codec

import (
	"fmt"

	"github.com/feldera/storage-design/schema"
)

// Append writes value's archived form into buf at the next offset
// aligned to t.Align(), returning the extended buffer and the root
// offset the value was written at.
func Append(buf []byte, t schema.Type, value []byte) (out []byte, rootOffset int) {
	align := t.Align()
	pad := padding(len(buf), align)
	for i := 0; i < pad; i++ {
		buf = append(buf, 0)
	}

	root := len(buf)
	archived := t.Encode(value)
	buf = append(buf, archived...)

	return buf, root
}

// padding returns the number of zero bytes needed so that n+padding is
// a multiple of align (align must be a power of two).
func padding(n, align int) int {
	if align <= 1 {
		return 0
	}
	rem := n % align
	if rem == 0 {
		return 0
	}
	return align - rem
}

// ValidateAlign rejects alignments the format cannot express (spec
// §4.2: "a power of two <= 64").
func ValidateAlign(align int) error {
	if align < 1 || align > 64 || align&(align-1) != 0 {
		return fmt.Errorf("codec: invalid alignment %d: must be a power of two <= 64", align)
	}
	return nil
}
