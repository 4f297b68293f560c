package rivermark

import (
	"testing"

	"github.com/rivermark/rivermark/internal/compaction"
	"github.com/rivermark/rivermark/internal/dbformat"
	"github.com/rivermark/rivermark/internal/mergeengine"
	"github.com/rivermark/rivermark/internal/table"
	"github.com/rivermark/rivermark/internal/version"
	"github.com/rivermark/rivermark/internal/vfs"
)

func newTestBucketWriter(t *testing.T, writeBufferSize int64) *BucketWriter {
	t.Helper()
	dir := t.TempDir()
	fs := vfs.Default()
	tc := table.NewTableCache(fs, table.DefaultTableCacheOptions())
	t.Cleanup(func() { tc.Close() })

	picker := compaction.NewPicker(compaction.DefaultOptions())
	engine := func() mergeengine.Engine { return &mergeengine.Deduplicate{} }
	key := version.BucketKey{Partition: "default", Bucket: 0}

	return newBucketWriter(key, 4, dir, fs, tc, picker, engine, nil, nil, nil, writeBufferSize)
}

func TestBucketWriterWriteBuffersWithoutFlushing(t *testing.T) {
	bw := newTestBucketWriter(t, 1<<30)

	full, err := bw.Write([]dbformat.Record{
		{Key: []byte("k1"), Value: []byte("v1"), Kind: dbformat.Insert, Sequence: 1},
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if full {
		t.Fatalf("got bufferFull = true with a 1GB threshold, want false")
	}
	if bw.BufferedBytes() == 0 {
		t.Fatalf("expected BufferedBytes() > 0 after a buffered write")
	}

	entry, ok, err := bw.PrepareCommit(func() string { return "0000000000000001.sst" })
	if err != nil {
		t.Fatalf("PrepareCommit() error = %v", err)
	}
	if !ok {
		t.Fatalf("expected PrepareCommit to flush the buffered write")
	}
	if entry.File.RowCount != 1 {
		t.Fatalf("got RowCount %d, want 1", entry.File.RowCount)
	}
	if bw.BufferedBytes() != 0 {
		t.Fatalf("expected BufferedBytes() == 0 after PrepareCommit, got %d", bw.BufferedBytes())
	}
}

func TestBucketWriterPrepareCommitOnEmptyBufferIsNoop(t *testing.T) {
	bw := newTestBucketWriter(t, 1<<30)

	_, ok, err := bw.PrepareCommit(func() string { return "0000000000000001.sst" })
	if err != nil {
		t.Fatalf("PrepareCommit() error = %v", err)
	}
	if ok {
		t.Fatalf("expected PrepareCommit on an empty buffer to report ok=false")
	}
}

func TestBucketWriterWriteReportsBufferFullAtThreshold(t *testing.T) {
	bw := newTestBucketWriter(t, 8) // small enough that one record crosses it

	full, err := bw.Write([]dbformat.Record{
		{Key: []byte("a-fairly-long-key"), Value: []byte("a-fairly-long-value"), Kind: dbformat.Insert, Sequence: 1},
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !full {
		t.Fatalf("expected bufferFull = true once writeBufferSize is crossed")
	}
}

func TestBucketWriterWriteAccumulatesAcrossCalls(t *testing.T) {
	bw := newTestBucketWriter(t, 1<<30)

	if _, err := bw.Write([]dbformat.Record{
		{Key: []byte("k1"), Value: []byte("v1"), Kind: dbformat.Insert, Sequence: 1},
	}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	first := bw.BufferedBytes()

	if _, err := bw.Write([]dbformat.Record{
		{Key: []byte("k2"), Value: []byte("v2"), Kind: dbformat.Insert, Sequence: 2},
	}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	second := bw.BufferedBytes()

	if second <= first {
		t.Fatalf("expected BufferedBytes to grow across calls: first=%d second=%d", first, second)
	}

	entry, ok, err := bw.PrepareCommit(func() string { return "0000000000000001.sst" })
	if err != nil {
		t.Fatalf("PrepareCommit() error = %v", err)
	}
	if !ok || entry.File.RowCount != 2 {
		t.Fatalf("got ok=%v RowCount=%d, want ok=true RowCount=2", ok, entry.File.RowCount)
	}
}
