package compaction

import (
	"path/filepath"
	"testing"

	"github.com/rivermark/rivermark/internal/dbformat"
	"github.com/rivermark/rivermark/internal/manifest"
	"github.com/rivermark/rivermark/internal/mergeengine"
	"github.com/rivermark/rivermark/internal/table"
	"github.com/rivermark/rivermark/internal/vfs"
	"github.com/rivermark/rivermark/internal/version"
)

func writeSST(t *testing.T, fs vfs.FS, dir, name string, records []dbformat.Record) manifest.FileMeta {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := fs.Create(path)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	b := table.NewTableBuilder(f, table.DefaultBuilderOptions())
	var smallest, largest []byte
	for _, r := range records {
		ik := r.InternalKey()
		if err := b.Add(ik, r.Value); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
		if smallest == nil {
			smallest = append([]byte{}, ik...)
		}
		largest = append([]byte{}, ik...)
	}
	if err := b.Finish(); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	_ = f.Close()

	return manifest.FileMeta{
		FileName: name,
		FileSize: int64(b.FileSize()),
		RowCount: int64(len(records)),
		MinKey:   smallest,
		MaxKey:   largest,
	}
}

func TestJobRunMergesAndDeduplicates(t *testing.T) {
	dir := t.TempDir()
	fs := vfs.Default()

	l0a := writeSST(t, fs, dir, "l0a.sst", []dbformat.Record{
		{Key: []byte("a"), Value: []byte("a1"), Kind: dbformat.Insert, Sequence: 1},
		{Key: []byte("b"), Value: []byte("b1"), Kind: dbformat.Insert, Sequence: 2},
	})
	l0b := writeSST(t, fs, dir, "l0b.sst", []dbformat.Record{
		{Key: []byte("a"), Value: []byte("a2"), Kind: dbformat.UpdateAfter, Sequence: 3},
		{Key: []byte("c"), Value: []byte("c1"), Kind: dbformat.Insert, Sequence: 4},
	})

	c := NewCompaction(
		version.BucketKey{Partition: "p", Bucket: 0},
		[]InputFiles{{Level: 0, Files: []*manifest.FileMeta{&l0a, &l0b}}},
		1,
		ReasonSizeRatio,
	)

	cache := table.NewTableCache(fs, table.DefaultTableCacheOptions())
	names := []string{"l1.sst"}
	next := func() string {
		n := names[0]
		names = names[1:]
		return n
	}

	job := NewJob(c, dir, fs, cache, &mergeengine.Deduplicate{}, next)
	outputs, err := job.Run()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(outputs) != 1 {
		t.Fatalf("got %d output files, want 1", len(outputs))
	}
	if outputs[0].RowCount != 3 {
		t.Fatalf("got %d rows, want 3 (a deduped to latest, b, c)", outputs[0].RowCount)
	}
	if outputs[0].Level != 1 {
		t.Fatalf("got output level %d, want 1", outputs[0].Level)
	}
}

func TestJobRunTrivialMove(t *testing.T) {
	dir := t.TempDir()
	fs := vfs.Default()

	f := writeSST(t, fs, dir, "l0.sst", []dbformat.Record{
		{Key: []byte("a"), Value: []byte("a1"), Kind: dbformat.Insert, Sequence: 1},
	})

	c := NewCompaction(
		version.BucketKey{Partition: "p", Bucket: 0},
		[]InputFiles{{Level: 0, Files: []*manifest.FileMeta{&f}}},
		1,
		ReasonSizeRatio,
	)
	c.IsTrivialMove = true

	cache := table.NewTableCache(fs, table.DefaultTableCacheOptions())
	job := NewJob(c, dir, fs, cache, &mergeengine.Deduplicate{}, func() string { return "unused.sst" })

	outputs, err := job.Run()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(outputs) != 1 || outputs[0].FileName != "l0.sst" || outputs[0].Level != 1 {
		t.Fatalf("unexpected trivial move output: %+v", outputs)
	}
}
