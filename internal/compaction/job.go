// job.go implements Job, which executes a single Compaction: reading the
// input sorted runs' files, merging records by primary key through a
// mergeengine.Engine, and writing the merged output to new level files.
//
// Reference: RocksDB v10.7.5
//   - db/compaction/compaction_job.h
//   - db/compaction/compaction_job.cc
//
// narrowed to a single (partition, bucket) target and a closed merge-engine
// set instead of an open CompactionFilter/MergeOperator interface.
package compaction

import (
	"fmt"
	"path/filepath"

	"github.com/rivermark/rivermark/internal/dbformat"
	"github.com/rivermark/rivermark/internal/iterator"
	"github.com/rivermark/rivermark/internal/manifest"
	"github.com/rivermark/rivermark/internal/mergeengine"
	"github.com/rivermark/rivermark/internal/table"
	"github.com/rivermark/rivermark/internal/vfs"
	"github.com/zeebo/xxh3"
)

// Job performs a single compaction: it reads Compaction.Inputs, merges
// records sharing a primary key through an Engine, and writes the result to
// one or more new level files.
type Job struct {
	compaction *Compaction
	bucketDir  string
	fs         vfs.FS
	tableCache *table.TableCache
	engine     mergeengine.Engine

	nextFileName func() string

	maxOutputFileSize int64

	outputFiles []manifest.FileMeta
}

// NewJob creates a Job for c, writing output SST files under bucketDir using
// engine to resolve each primary key's group of records. nextFileName mints
// the name for each new output file (the caller's responsibility, typically
// a ULID or counter-based scheme).
func NewJob(c *Compaction, bucketDir string, fs vfs.FS, tableCache *table.TableCache, engine mergeengine.Engine, nextFileName func() string) *Job {
	maxSize := int64(c.MaxOutputFileSize)
	if maxSize == 0 {
		maxSize = 64 * 1024 * 1024
	}
	return &Job{
		compaction:        c,
		bucketDir:         bucketDir,
		fs:                fs,
		tableCache:        tableCache,
		engine:            engine,
		nextFileName:      nextFileName,
		maxOutputFileSize: maxSize,
	}
}

// Run executes the compaction and returns the metadata for the files it
// wrote. The caller commits these as manifest ADD entries for
// Compaction.OutputLevel alongside Compaction.DeleteEntries() for the
// inputs, in the same manifest list.
func (j *Job) Run() ([]manifest.FileMeta, error) {
	if j.compaction.IsTrivialMove {
		return j.runTrivialMove()
	}

	iters, release, err := j.openInputs()
	if err != nil {
		return nil, fmt.Errorf("open compaction inputs: %w", err)
	}
	defer release()

	merged := iterator.NewLoserTree(iters, dbformat.CompareInternalKeys)
	if err := j.mergeAndWrite(merged); err != nil {
		return nil, err
	}
	return j.outputFiles, nil
}

// runTrivialMove relabels a single input file's level without rewriting it,
// when the input set is one file whose key range needs no merging.
func (j *Job) runTrivialMove() ([]manifest.FileMeta, error) {
	for _, in := range j.compaction.Inputs {
		for _, f := range in.Files {
			moved := *f
			moved.Level = j.compaction.OutputLevel
			j.outputFiles = append(j.outputFiles, moved)
		}
	}
	return j.outputFiles, nil
}

func (j *Job) openInputs() ([]iterator.Iterator, func(), error) {
	var iters []iterator.Iterator
	var opened []uint64

	release := func() {
		for _, key := range opened {
			j.tableCache.Release(key)
		}
	}

	for _, in := range j.compaction.Inputs {
		for _, f := range in.Files {
			path := filepath.Join(j.bucketDir, f.FileName)
			key := cacheKey(f.FileName)

			reader, err := j.tableCache.Get(key, path)
			if err != nil {
				release()
				return nil, nil, fmt.Errorf("open input file %s: %w", f.FileName, err)
			}
			opened = append(opened, key)
			iters = append(iters, reader.NewIterator())
		}
	}
	return iters, release, nil
}

// cacheKey derives the TableCache's uint64 key from a file's name; Rivermark
// files are named by the caller's nextFileName scheme rather than a monotonic
// file number, so the cache is keyed by a hash of the name instead.
func cacheKey(fileName string) uint64 {
	return xxh3.HashString(fileName)
}

// mergeAndWrite drains merged, folding every record sharing a primary key
// through j.engine and writing the survivors to output files bounded by
// maxOutputFileSize.
func (j *Job) mergeAndWrite(merged *iterator.LoserTree) error {
	var builder *table.TableBuilder
	var current *outputFile
	var groupKey []byte
	haveGroup := false

	flushGroup := func() error {
		if !haveGroup {
			return nil
		}
		haveGroup = false
		rec, ok := j.engine.Result()
		if !ok {
			return nil
		}
		var err error
		if builder == nil || int64(builder.FileSize()) >= j.maxOutputFileSize {
			if builder != nil {
				if err := j.finishOutput(builder, current); err != nil {
					return err
				}
			}
			current, builder, err = j.startOutput()
			if err != nil {
				return err
			}
		}
		internalKey := rec.InternalKey()
		if err := builder.Add(internalKey, rec.Value); err != nil {
			return fmt.Errorf("add merged record: %w", err)
		}
		if current.smallest == nil {
			current.smallest = append([]byte{}, internalKey...)
		}
		current.largest = append(current.largest[:0], internalKey...)
		current.rowCount++
		return nil
	}

	merged.SeekToFirst()
	for merged.Valid() {
		key := merged.Key()
		userKey := dbformat.ExtractUserKey(key)

		if !haveGroup || dbformat.BytewiseCompare(userKey, groupKey) != 0 {
			if err := flushGroup(); err != nil {
				return err
			}
			j.engine.Reset()
			groupKey = append(groupKey[:0], userKey...)
			haveGroup = true
		}

		parsed, err := dbformat.ParseInternalKey(key)
		if err != nil {
			return fmt.Errorf("parse merged key: %w", err)
		}
		j.engine.Add(dbformat.Record{
			Key:      parsed.UserKey,
			Value:    merged.Value(),
			Kind:     parsed.Kind,
			Sequence: parsed.Sequence,
		})
		merged.Next()
	}
	if err := merged.Error(); err != nil {
		return fmt.Errorf("merge iterator error: %w", err)
	}
	if err := flushGroup(); err != nil {
		return err
	}

	if builder != nil {
		return j.finishOutput(builder, current)
	}
	return nil
}

type outputFile struct {
	name     string
	file     vfs.WritableFile
	smallest []byte
	largest  []byte
	rowCount int64
}

func (j *Job) startOutput() (*outputFile, *table.TableBuilder, error) {
	name := j.nextFileName()
	path := filepath.Join(j.bucketDir, name)

	file, err := j.fs.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output file %s: %w", name, err)
	}

	builder := table.NewTableBuilder(file, table.DefaultBuilderOptions())
	return &outputFile{name: name, file: file}, builder, nil
}

func (j *Job) finishOutput(builder *table.TableBuilder, out *outputFile) error {
	if err := builder.Finish(); err != nil {
		_ = out.file.Close()
		return fmt.Errorf("finish output file %s: %w", out.name, err)
	}
	fileSize := int64(builder.FileSize())

	if err := out.file.Sync(); err != nil {
		_ = out.file.Close()
		return fmt.Errorf("sync output file %s: %w", out.name, err)
	}
	if err := out.file.Close(); err != nil {
		return fmt.Errorf("close output file %s: %w", out.name, err)
	}
	if err := j.fs.SyncDir(j.bucketDir); err != nil {
		return fmt.Errorf("sync bucket dir after compaction write: %w", err)
	}

	j.outputFiles = append(j.outputFiles, manifest.FileMeta{
		FileName:          out.name,
		FileSize:          fileSize,
		RowCount:          out.rowCount,
		MinKey:            out.smallest,
		MaxKey:            out.largest,
		MinSequenceNumber: uint64(dbformat.ExtractSequenceNumber(out.smallest)),
		MaxSequenceNumber: uint64(dbformat.ExtractSequenceNumber(out.largest)),
		Level:             j.compaction.OutputLevel,
	})
	return nil
}
