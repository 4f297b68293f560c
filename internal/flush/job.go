// Package flush implements the flush operation that writes a memtable to a
// level-0 sorted-run file for one (partition, bucket).
//
// This package is internal and not part of the public API.
//
// Reference: RocksDB v10.7.5
//   - db/flush_job.h
//   - db/flush_job.cc
package flush

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rivermark/rivermark/internal/dbformat"
	"github.com/rivermark/rivermark/internal/manifest"
	"github.com/rivermark/rivermark/internal/memtable"
	"github.com/rivermark/rivermark/internal/table"
	"github.com/rivermark/rivermark/internal/testutil"
	"github.com/rivermark/rivermark/internal/vfs"
)

// ErrNoOutput is returned when a flush produces no output (empty memtable).
var ErrNoOutput = errors.New("flush: no output")

// Target names where a flush writes its output and how it names the file.
type Target struct {
	// BucketDir is the directory holding this (partition, bucket)'s
	// sorted-run files.
	BucketDir string

	// FS is the filesystem to write through.
	FS vfs.FS

	// NextFileName mints the output file's name (e.g. a ULID-based
	// scheme), called once per flush.
	NextFileName func() string
}

// Job flushes one memtable to a level-0 file.
type Job struct {
	target Target
	mem    *memtable.MemTable
}

// NewJob creates a flush job for mem, writing through target.
func NewJob(target Target, mem *memtable.MemTable) *Job {
	return &Job{target: target, mem: mem}
}

// Run executes the flush and returns the metadata of the level-0 file it
// produced, ready to be committed as a manifest ADD entry.
func (fj *Job) Run() (manifest.FileMeta, error) {
	_ = testutil.SP(testutil.SPFlushStart)
	testutil.MaybeKill(testutil.KPFlushStart0)

	name := fj.target.NextFileName()
	path := filepath.Join(fj.target.BucketDir, name)

	_ = testutil.SP(testutil.SPFlushWriteSST)
	testutil.MaybeKill(testutil.KPFlushWriteSST0)

	file, err := fj.target.FS.Create(path)
	if err != nil {
		return manifest.FileMeta{}, fmt.Errorf("create flush output %s: %w", name, err)
	}
	defer func() { _ = file.Close() }()

	builder := table.NewTableBuilder(file, table.DefaultBuilderOptions())

	var smallest, largest []byte
	var smallestSeq, largestSeq dbformat.SequenceNumber
	var rowCount int64

	iter := fj.mem.NewIterator()
	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
		key := iter.Key()
		value := iter.Value()

		if err := builder.Add(key, value); err != nil {
			builder.Abandon()
			return manifest.FileMeta{}, fmt.Errorf("add memtable entry: %w", err)
		}

		seq := dbformat.ExtractSequenceNumber(key)
		if smallest == nil {
			smallest = append([]byte{}, key...)
			smallestSeq = seq
		}
		largest = append(largest[:0], key...)
		if seq < smallestSeq {
			smallestSeq = seq
		}
		if seq > largestSeq {
			largestSeq = seq
		}
		rowCount++
	}
	if err := iter.Error(); err != nil {
		builder.Abandon()
		return manifest.FileMeta{}, fmt.Errorf("memtable iteration: %w", err)
	}

	if builder.NumEntries() == 0 {
		builder.Abandon()
		_ = fj.target.FS.Remove(path)
		return manifest.FileMeta{}, ErrNoOutput
	}

	if err := builder.Finish(); err != nil {
		return manifest.FileMeta{}, fmt.Errorf("finish flush output %s: %w", name, err)
	}
	fileSize := builder.FileSize()

	_ = testutil.SP(testutil.SPFlushSyncSST)
	testutil.MaybeKill(testutil.KPFileSync0)

	if err := file.Sync(); err != nil {
		return manifest.FileMeta{}, fmt.Errorf("sync flush output %s: %w", name, err)
	}
	testutil.MaybeKill(testutil.KPFileSync1)

	// Directory sync makes the file entry durable before the manifest
	// commit can reference it; without it a crash could leave a manifest
	// pointing at a file whose directory entry never landed.
	if err := fj.target.FS.SyncDir(fj.target.BucketDir); err != nil {
		return manifest.FileMeta{}, fmt.Errorf("sync bucket dir after flush: %w", err)
	}

	_ = testutil.SP(testutil.SPFlushComplete)

	return manifest.FileMeta{
		FileName:           name,
		FileSize:           int64(fileSize),
		RowCount:           rowCount,
		MinKey:             smallest,
		MaxKey:             largest,
		MinSequenceNumber:  uint64(smallestSeq),
		MaxSequenceNumber:  uint64(largestSeq),
		Level:              0,
		CreationTimeMillis: time.Now().UnixMilli(),
	}, nil
}
