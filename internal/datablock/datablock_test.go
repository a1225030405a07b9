package datablock

import (
	"bytes"
	"testing"

	"github.com/feldera/storage-design/schema"
)

func TestBuilderRoundTrip(t *testing.T) {
	b := NewBuilder(schema.Bytes{}, true)

	values := []string{"alpha", "bravo", "charlie"}
	for i, v := range values {
		ok, err := b.Add([]byte(v), uint64(i*10), uint64(i*10+5))
		if err != nil {
			t.Fatalf("Add(%q): %v", v, err)
		}
		if !ok {
			t.Fatalf("Add(%q) unexpectedly required a flush", v)
		}
	}

	if b.Count() != 3 {
		t.Fatalf("expected 3 entries, got %d", b.Count())
	}
	if string(b.FirstValue()) != "alpha" || string(b.LastValue()) != "charlie" {
		t.Fatalf("unexpected first/last value: %q/%q", b.FirstValue(), b.LastValue())
	}

	body := b.Finish()
	r, err := NewReader(body, true)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if r.Count() != 3 {
		t.Fatalf("reader count = %d, want 3", r.Count())
	}

	for i, v := range values {
		got, err := r.Value(i, schema.Bytes{})
		if err != nil {
			t.Fatalf("Value(%d): %v", i, err)
		}
		if !bytes.Equal(got, []byte(v)) {
			t.Fatalf("Value(%d) = %q, want %q", i, got, v)
		}
		e, err := r.Entry(i)
		if err != nil {
			t.Fatalf("Entry(%d): %v", i, err)
		}
		if e.RowStart != uint64(i*10) || e.RowEnd != uint64(i*10+5) {
			t.Fatalf("Entry(%d) row range = [%d,%d)", i, e.RowStart, e.RowEnd)
		}
	}
}

func TestBuilderSignalsFlushWhenFull(t *testing.T) {
	b := NewBuilder(schema.Bytes{}, false)
	value := bytes.Repeat([]byte{'z'}, 64)

	added := 0
	for {
		ok, err := b.Add(value, 0, 0)
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		if !ok {
			break
		}
		added++
		if added > 1<<20 {
			t.Fatal("builder never signaled full, budget must not be widening for non-empty blocks")
		}
	}
	if added == 0 {
		t.Fatal("expected at least one value to fit before the block signaled full")
	}

	r, err := NewReader(b.Finish(), false)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if r.Count() != added {
		t.Fatalf("reader count = %d, want %d", r.Count(), added)
	}
}

func TestBuilderWidensForOversizeValueOnEmptyBlock(t *testing.T) {
	b := NewBuilder(schema.Bytes{}, false)
	value := bytes.Repeat([]byte{'z'}, 16*1024) // bigger than the 8 KiB floor; with prefix and trailer it fits after two widenings (32 KiB)
	ok, err := b.Add(value, 0, 0)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !ok {
		t.Fatal("expected the builder to widen its budget for a single oversize value")
	}
	if b.Count() != 1 {
		t.Fatalf("expected 1 entry, got %d", b.Count())
	}
}

func TestSearchFindsLowerBound(t *testing.T) {
	b := NewBuilder(schema.Bytes{}, false)
	for _, v := range []string{"b", "d", "f"} {
		if ok, err := b.Add([]byte(v), 0, 0); !ok || err != nil {
			t.Fatalf("Add(%q): ok=%v err=%v", v, ok, err)
		}
	}
	r, err := NewReader(b.Finish(), false)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	cases := []struct {
		target string
		want   int
	}{
		{"a", 0},
		{"b", 0},
		{"c", 1},
		{"f", 2},
		{"g", 3},
	}
	for _, c := range cases {
		got, err := r.Search(schema.Bytes{}, []byte(c.target))
		if err != nil {
			t.Fatalf("Search(%q): %v", c.target, err)
		}
		if got != c.want {
			t.Fatalf("Search(%q) = %d, want %d", c.target, got, c.want)
		}
	}
}

func TestSearchLessOrEqualFindsUpperBound(t *testing.T) {
	b := NewBuilder(schema.Bytes{}, false)
	for _, v := range []string{"b", "d", "f"} {
		if ok, err := b.Add([]byte(v), 0, 0); !ok || err != nil {
			t.Fatalf("Add(%q): ok=%v err=%v", v, ok, err)
		}
	}
	r, err := NewReader(b.Finish(), false)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	cases := []struct {
		target string
		want   int
	}{
		{"a", -1},
		{"b", 0},
		{"c", 0},
		{"f", 2},
		{"g", 2},
	}
	for _, c := range cases {
		got, err := r.SearchLessOrEqual(schema.Bytes{}, []byte(c.target))
		if err != nil {
			t.Fatalf("SearchLessOrEqual(%q): %v", c.target, err)
		}
		if got != c.want {
			t.Fatalf("SearchLessOrEqual(%q) = %d, want %d", c.target, got, c.want)
		}
	}
}

func TestFixedWidthValuesSliceExactly(t *testing.T) {
	b := NewBuilder(schema.Uint64BE{}, false)
	for _, v := range []uint64{1, 2, 3} {
		if ok, err := b.Add(schema.EncodeUint64(v), 0, 0); !ok || err != nil {
			t.Fatalf("Add(%d): ok=%v err=%v", v, ok, err)
		}
	}
	r, err := NewReader(b.Finish(), false)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	for i, want := range []uint64{1, 2, 3} {
		got, err := r.Value(i, schema.Uint64BE{})
		if err != nil {
			t.Fatalf("Value(%d): %v", i, err)
		}
		if len(got) != 8 {
			t.Fatalf("Value(%d) length = %d, want 8", i, len(got))
		}
		if !bytes.Equal(got, schema.EncodeUint64(want)) {
			t.Fatalf("Value(%d) = %x, want %x", i, got, schema.EncodeUint64(want))
		}
	}
}
