// Package compaction implements the universal-compaction strategy that
// reduces a bucket's level-0 sorted runs down to the configured sorted-run
// bound, per spec.md's no-classic-leveled-compaction design: only the
// size-ratio/size-amplification/sorted-run-count triggers apply, and a
// compaction always targets one (partition, bucket) at a time.
//
// Reference for the surviving shape: RocksDB v10.7.5 db/compaction/
// compaction.h/.cc, narrowed to the universal picker's inputs.
package compaction

import (
	"github.com/rivermark/rivermark/internal/manifest"
	"github.com/rivermark/rivermark/internal/version"
)

// InputFiles is the set of files a compaction reads from a single level.
type InputFiles struct {
	Level int32
	Files []*manifest.FileMeta
}

// Reason classifies why a compaction was triggered.
type Reason int

const (
	ReasonUnknown Reason = iota
	ReasonSizeAmplification
	ReasonSizeRatio
	ReasonSortedRunCount
)

func (r Reason) String() string {
	switch r {
	case ReasonSizeAmplification:
		return "size amplification"
	case ReasonSizeRatio:
		return "size ratio"
	case ReasonSortedRunCount:
		return "sorted run count"
	default:
		return "unknown"
	}
}

// Compaction describes a single compaction operation against one bucket:
// which files to read (Inputs) and the level to write the merged output to.
type Compaction struct {
	Bucket      version.BucketKey
	Inputs      []InputFiles
	OutputLevel int32

	MaxOutputFileSize uint64

	SmallestKey []byte
	LargestKey  []byte

	Reason Reason

	// IsTrivialMove is true when the compaction can simply relabel a single
	// input file's level rather than reading and rewriting it (the input
	// set is one file whose key range doesn't need merging with anything).
	IsTrivialMove bool
}

// NewCompaction creates a Compaction for bucket from inputs, writing merged
// output at outputLevel.
func NewCompaction(bucket version.BucketKey, inputs []InputFiles, outputLevel int32, reason Reason) *Compaction {
	c := &Compaction{
		Bucket:            bucket,
		Inputs:            inputs,
		OutputLevel:       outputLevel,
		MaxOutputFileSize: 64 * 1024 * 1024,
		Reason:            reason,
	}
	c.computeKeyRange()
	return c
}

// NumInputFiles returns the total number of input files across all levels.
func (c *Compaction) NumInputFiles() int {
	total := 0
	for _, in := range c.Inputs {
		total += len(in.Files)
	}
	return total
}

// StartLevel returns the lowest level among the compaction's inputs, or -1
// if it has none.
func (c *Compaction) StartLevel() int32 {
	if len(c.Inputs) == 0 {
		return -1
	}
	return c.Inputs[0].Level
}

func (c *Compaction) computeKeyRange() {
	first := true
	for _, in := range c.Inputs {
		for _, f := range in.Files {
			if first {
				c.SmallestKey = f.MinKey
				c.LargestKey = f.MaxKey
				first = false
				continue
			}
			if len(f.MinKey) > 0 && (len(c.SmallestKey) == 0 || version.CompareInternalKeys(f.MinKey, c.SmallestKey) < 0) {
				c.SmallestKey = f.MinKey
			}
			if len(f.MaxKey) > 0 && (len(c.LargestKey) == 0 || version.CompareInternalKeys(f.MaxKey, c.LargestKey) > 0) {
				c.LargestKey = f.MaxKey
			}
		}
	}
}

// DeleteEntries returns the manifest DELETE entries for every input file,
// folded into the commit alongside the job's ADD entry for its output file.
func (c *Compaction) DeleteEntries() []manifest.Entry {
	entries := make([]manifest.Entry, 0, c.NumInputFiles())
	for _, in := range c.Inputs {
		for _, f := range in.Files {
			entries = append(entries, manifest.Entry{
				Kind:      manifest.KindDelete,
				Partition: c.Bucket.Partition,
				Bucket:    c.Bucket.Bucket,
				Level:     in.Level,
				File:      manifest.FileMeta{FileName: f.FileName},
			})
		}
	}
	return entries
}
