// Package layerfile implements the layer file's outermost framing (spec
// §4.7): the header and trailer blocks that make a sequence of column
// trees into one self-describing, checksummed, immutable file, plus the
// Writer and Reader that drive it.
package layerfile

import (
	"encoding/binary"
	"fmt"

	"github.com/feldera/storage-design/internal/block"
	"github.com/feldera/storage-design/internal/lferrors"
)

// fileMagic is a human/tool-sniffable prefix inside the header block
// body, independent of the block layer's own TypeHeader magic (spec §4,
// "self-describing": a reader should be able to recognize the format
// before trusting anything else about it).
var fileMagic = [8]byte{'F', 'E', 'L', 'D', 'L', 'Y', 'R', '1'}

// FormatVersion is the on-disk layout version this package reads and
// writes. Spec §6 scopes schema/column-type versioning to a separate
// toolchain; this is strictly the container format's own version.
const FormatVersion uint32 = 1

// endMarkerSize is the fixed, unframed trailer pointer at the very end
// of the file: magic(4) + trailerOffset(8) + trailerShift(1) + reserved(3).
const endMarkerSize = 16

var endMagic = [4]byte{'L', 'Y', 'E', 'M'}

// Header is the file-level header block's decoded contents.
type Header struct {
	Checksum    block.ChecksumAlgorithm
	ColumnCount int
	Metadata    map[string]string
}

func encodeHeader(h Header) []byte {
	out := make([]byte, 0, 64)
	out = append(out, fileMagic[:]...)
	out = appendU32(out, FormatVersion)
	out = append(out, byte(h.Checksum))
	out = appendU16(out, uint16(h.ColumnCount))
	out = appendU16(out, uint16(len(h.Metadata)))
	for k, v := range h.Metadata {
		out = appendU16(out, uint16(len(k)))
		out = append(out, k...)
		out = appendU16(out, uint16(len(v)))
		out = append(out, v...)
	}
	return out
}

func decodeHeader(body []byte) (Header, error) {
	if len(body) < 8+4+1+2+2 {
		return Header{}, fmt.Errorf("layerfile: header too short: %w", lferrors.CorruptBlock)
	}
	off := 0
	if [8]byte(body[0:8]) != fileMagic {
		return Header{}, fmt.Errorf("layerfile: bad file magic: %w", lferrors.CorruptBlock)
	}
	off += 8

	version := readU32(body[off:])
	off += 4
	if version != FormatVersion {
		return Header{}, fmt.Errorf("layerfile: unsupported format version %d: %w", version, lferrors.SchemaMismatch)
	}

	checksum := block.ChecksumAlgorithm(body[off])
	off++

	columnCount := int(readU16(body[off:]))
	off += 2

	metaCount := int(readU16(body[off:]))
	off += 2

	metadata := make(map[string]string, metaCount)
	for i := 0; i < metaCount; i++ {
		k, n, err := readString(body[off:])
		if err != nil {
			return Header{}, err
		}
		off += n
		v, n, err := readString(body[off:])
		if err != nil {
			return Header{}, err
		}
		off += n
		metadata[k] = v
	}

	return Header{Checksum: checksum, ColumnCount: columnCount, Metadata: metadata}, nil
}

// ColumnRoots is one column's entry in the trailer: its row count and
// the roots of its three trees (absent trees use block.ShiftAbsent).
type ColumnRoots struct {
	Rows        uint64
	ValueIndex  block.Pointer
	RowIndex    block.Pointer
	FilterIndex block.Pointer
}

// pointerWireSize mirrors indexblock's packed entries (spec §3): a
// 40-bit byte offset followed by an 8-bit size shift, not a full u64.
const pointerWireSize = 6

const columnRootsSize = 8 + pointerWireSize*3 // rows + 3 pointers

func encodePointer(dst []byte, p block.Pointer) []byte {
	off := p.Offset
	var buf [pointerWireSize]byte
	buf[0] = byte(off)
	buf[1] = byte(off >> 8)
	buf[2] = byte(off >> 16)
	buf[3] = byte(off >> 24)
	buf[4] = byte(off >> 32)
	buf[5] = p.Shift
	return append(dst, buf[:]...)
}

func decodePointer(src []byte) block.Pointer {
	off := uint64(src[0]) | uint64(src[1])<<8 | uint64(src[2])<<16 |
		uint64(src[3])<<24 | uint64(src[4])<<32
	return block.Pointer{Offset: off, Shift: src[5], IsIndex: true}
}

func encodeColumnRoots(dst []byte, c ColumnRoots) []byte {
	dst = appendU64(dst, c.Rows)
	dst = encodePointer(dst, c.ValueIndex)
	dst = encodePointer(dst, c.RowIndex)
	dst = encodePointer(dst, c.FilterIndex)
	return dst
}

func decodeColumnRoots(src []byte) ColumnRoots {
	off := 0
	rows := readU64(src[off:])
	off += 8
	vi := decodePointer(src[off : off+pointerWireSize])
	off += pointerWireSize
	ri := decodePointer(src[off : off+pointerWireSize])
	off += pointerWireSize
	fi := decodePointer(src[off : off+pointerWireSize])
	return ColumnRoots{Rows: rows, ValueIndex: vi, RowIndex: ri, FilterIndex: fi}
}

func encodeTrailer(columns []ColumnRoots) []byte {
	out := make([]byte, 0, len(columns)*columnRootsSize)
	for _, c := range columns {
		out = encodeColumnRoots(out, c)
	}
	return out
}

func decodeTrailer(body []byte, columnCount int) ([]ColumnRoots, error) {
	if len(body) < columnCount*columnRootsSize {
		return nil, fmt.Errorf("layerfile: trailer too short for %d columns: %w", columnCount, lferrors.CorruptBlock)
	}
	out := make([]ColumnRoots, columnCount)
	for i := 0; i < columnCount; i++ {
		out[i] = decodeColumnRoots(body[i*columnRootsSize:])
	}
	return out, nil
}

func appendU16(dst []byte, v uint16) []byte {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	return append(dst, buf[:]...)
}

func appendU32(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}

func appendU64(dst []byte, v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return append(dst, buf[:]...)
}

func readU16(src []byte) uint16 { return binary.LittleEndian.Uint16(src) }
func readU32(src []byte) uint32 { return binary.LittleEndian.Uint32(src) }
func readU64(src []byte) uint64 { return binary.LittleEndian.Uint64(src) }

func readString(src []byte) (string, int, error) {
	if len(src) < 2 {
		return "", 0, fmt.Errorf("layerfile: truncated string length: %w", lferrors.CorruptBlock)
	}
	n := int(readU16(src))
	if len(src) < 2+n {
		return "", 0, fmt.Errorf("layerfile: truncated string body: %w", lferrors.CorruptBlock)
	}
	return string(src[2 : 2+n]), 2 + n, nil
}
