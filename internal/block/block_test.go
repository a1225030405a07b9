package block

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/feldera/storage-design/internal/lferrors"
	"github.com/feldera/storage-design/iocollab"
)

// memFile is a minimal iocollab.File backed by an in-memory buffer, used
// by this package's tests.
type memFile struct {
	buf []byte
}

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

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := &memFile{}

	body := []byte("hello, layer file")
	offset, shift, err := Write(ctx, f, TypeData, ChecksumXXH64, body, MinTreeShift)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if offset != 0 {
		t.Fatalf("expected first block at offset 0, got %d", offset)
	}
	if Size(shift) < int64(len(body)+PrefixSize) {
		t.Fatalf("block too small for body: shift=%d size=%d", shift, Size(shift))
	}

	buf, got, err := Read(ctx, f, offset, shift, TypeData, ChecksumXXH64)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	defer buf.Release()

	if !bytes.Equal(got, body) {
		t.Fatalf("round trip mismatch: got %q want %q", got, body)
	}
}

func TestReadRejectsWrongType(t *testing.T) {
	ctx := context.Background()
	f := &memFile{}

	offset, shift, err := Write(ctx, f, TypeData, ChecksumXXH64, []byte("x"), MinTreeShift)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	_, _, err = Read(ctx, f, offset, shift, TypeValueIndex, ChecksumXXH64)
	if !errors.Is(err, lferrors.CorruptBlock) {
		t.Fatalf("expected CorruptBlock for type mismatch, got %v", err)
	}
}

func TestReadDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	f := &memFile{}

	offset, shift, err := Write(ctx, f, TypeData, ChecksumXXH64, []byte("payload"), MinTreeShift)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	f.buf[offset+PrefixSize] ^= 0xFF

	_, _, err = Read(ctx, f, offset, shift, TypeData, ChecksumXXH64)
	if !errors.Is(err, lferrors.CorruptBlock) {
		t.Fatalf("expected CorruptBlock for flipped byte, got %v", err)
	}
}

func TestSizeIsPowerOfTwoTimesUnit(t *testing.T) {
	for shift := uint8(0); shift <= 4; shift++ {
		got := Size(shift)
		want := int64(Unit) << shift
		if got != want {
			t.Fatalf("Size(%d) = %d, want %d", shift, got, want)
		}
	}
}

func TestShiftForRejectsOversizeBody(t *testing.T) {
	_, err := ShiftFor(1<<62, MinTreeShift)
	if !errors.Is(err, lferrors.BoundsExceeded) {
		t.Fatalf("expected BoundsExceeded, got %v", err)
	}
}

func TestPointerValidate(t *testing.T) {
	p := Pointer{Offset: maxOffset + 1, Shift: 1}
	if err := p.Validate(); err == nil {
		t.Fatal("expected error for oversize offset")
	}

	abs := Pointer{Shift: ShiftAbsent}
	if !abs.Absent() {
		t.Fatal("expected ShiftAbsent pointer to report Absent")
	}
}
