// Command layerfile-demo writes a small two-column layer file to a
// temp path and reads it back with a cursor, exercising the write and
// read paths end to end the way a real caller would: push sorted
// values into each column, finish the file, reopen it, and seek.
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/feldera/storage-design/cursor"
	"github.com/feldera/storage-design/internal/block"
	"github.com/feldera/storage-design/iocollab"
	"github.com/feldera/storage-design/layerfile"
	"github.com/feldera/storage-design/schema"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "layerfile-demo:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	disk := iocollab.NewDisk()

	dir, err := os.MkdirTemp("", "layerfile-demo-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	tmpPath := filepath.Join(dir, "demo.layer.tmp")
	finalPath := filepath.Join(dir, "demo.layer")

	f, err := disk.Create(ctx, tmpPath)
	if err != nil {
		return err
	}

	w, err := layerfile.NewWriter(ctx, f, layerfile.WriterOptions{
		Checksum: block.ChecksumXXH64,
		Metadata: map[string]string{"producer": "layerfile-demo"},
		Columns: []layerfile.ColumnSpec{
			{Type: schema.Bytes{}, HasRowRange: true},
			{Type: schema.Uint64BE{}, HasRowRange: false},
		},
	})
	if err != nil {
		return err
	}

	weights := w.Column(1)
	keys := w.Column(0)

	sample := []struct {
		key    string
		weight uint64
	}{
		{"alpha", 10},
		{"bravo", 20},
		{"charlie", 30},
	}

	for _, s := range sample {
		childRow, err := weights.Push(ctx, schema.EncodeUint64(s.weight), 0, 0)
		if err != nil {
			return err
		}
		if _, err := keys.Push(ctx, []byte(s.key), childRow, childRow+1); err != nil {
			return err
		}
	}

	if err := w.Finish(ctx); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := disk.Rename(ctx, tmpPath, finalPath); err != nil {
		return err
	}

	info, err := os.Stat(finalPath)
	if err != nil {
		return err
	}

	rf, err := disk.Open(ctx, finalPath)
	if err != nil {
		return err
	}
	defer rf.Close()

	reader, err := layerfile.Open(ctx, rf, info.Size())
	if err != nil {
		return err
	}

	keyCol, err := reader.Column(0)
	if err != nil {
		return err
	}
	weightCol, err := reader.Column(1)
	if err != nil {
		return err
	}

	c := cursor.New(keyCol, schema.Bytes{}, true)
	if err := c.SeekValue(ctx, []byte("bravo"), cursor.Forward); err != nil {
		return err
	}
	for c.State() == cursor.Positioned {
		row, err := c.RowNumber()
		if err != nil {
			return err
		}
		key, err := c.Value(ctx)
		if err != nil {
			return err
		}

		wc, err := c.EnterChild(ctx, weightCol, schema.Uint64BE{}, false)
		if err != nil {
			return err
		}
		wc.Next()
		weight, err := wc.Value(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("row %d: key=%s weight=%d\n", row, key, binary.BigEndian.Uint64(weight))
		c.Next()
	}

	return nil
}
