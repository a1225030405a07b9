package layerfile

import (
	"context"
	"fmt"

	"github.com/feldera/storage-design/internal/block"
	"github.com/feldera/storage-design/internal/lferrors"
	"github.com/feldera/storage-design/iocollab"
)

// Reader opens an existing layer file, verifying its header, trailer,
// and end marker before exposing per-column readers.
type Reader struct {
	f       iocollab.File
	header  Header
	columns []ColumnRoots
}

// Open reads and verifies a layer file's framing. size is the file's
// total byte length (the caller's iocollab.Collaborator already knows
// it from stat; the abstract File interface itself carries no length).
func Open(ctx context.Context, f iocollab.File, size int64) (*Reader, error) {
	if size < endMarkerSize {
		return nil, fmt.Errorf("layerfile: file too short: %w", lferrors.CorruptBlock)
	}

	markerBuf, err := f.ReadAt(ctx, size-endMarkerSize, endMarkerSize)
	if err != nil {
		return nil, fmt.Errorf("layerfile: reading end marker: %w", err)
	}
	marker := append([]byte(nil), markerBuf.Bytes()...)
	markerBuf.Release()

	if [4]byte(marker[0:4]) != endMagic {
		return nil, fmt.Errorf("layerfile: bad end marker: %w", lferrors.CorruptBlock)
	}
	trailerOffset := int64(readU64(marker[4:12]))
	trailerShift := marker[12]

	hdrShift, err := peekShift(ctx, f, 0)
	if err != nil {
		return nil, err
	}
	// The header always checksums with xxhash (see NewWriter):
	// its own algorithm field can't gate how it verifies itself.
	hdrBuf, hdrBody, err := block.Read(ctx, f, 0, hdrShift, block.TypeHeader, block.ChecksumXXH64)
	if err != nil {
		return nil, fmt.Errorf("layerfile: reading header: %w", err)
	}
	header, err := decodeHeader(hdrBody)
	hdrBuf.Release()
	if err != nil {
		return nil, err
	}

	trailerBuf, trailerBody, err := block.Read(ctx, f, trailerOffset, trailerShift, block.TypeTrailer, header.Checksum)
	if err != nil {
		return nil, fmt.Errorf("layerfile: reading trailer: %w", err)
	}
	columns, err := decodeTrailer(trailerBody, header.ColumnCount)
	trailerBuf.Release()
	if err != nil {
		return nil, err
	}

	return &Reader{f: f, header: header, columns: columns}, nil
}

// peekShift reads just the shift byte at offset without knowing the
// block's type in advance, so Open can size its first real read of the
// header block.
func peekShift(ctx context.Context, f iocollab.File, offset int64) (uint8, error) {
	buf, err := f.ReadAt(ctx, offset+4, 1)
	if err != nil {
		return 0, fmt.Errorf("layerfile: peeking header shift: %w", err)
	}
	defer buf.Release()
	b := buf.Bytes()
	if len(b) < 1 {
		return 0, fmt.Errorf("layerfile: short read peeking header shift: %w", lferrors.CorruptBlock)
	}
	return b[0], nil
}

func (r *Reader) Header() Header   { return r.header }
func (r *Reader) ColumnCount() int { return len(r.columns) }

// Column opens a reader for column i's trees.
func (r *Reader) Column(i int) (*ColumnReader, error) {
	if i < 0 || i >= len(r.columns) {
		return nil, fmt.Errorf("layerfile: column %d out of range [0,%d): %w", i, len(r.columns), lferrors.InvariantViolated)
	}
	return &ColumnReader{
		f:     r.f,
		alg:   r.header.Checksum,
		roots: r.columns[i],
	}, nil
}
