// universal_picker.go picks compactions for one (partition, bucket) LSM
// using the size-tiered ("universal") strategy: merge runs whose sizes are
// close together, and fall back to a full merge when size amplification
// grows too large. This is the only compaction strategy Rivermark has — the
// spec's data model has no classic leveled LSM spanning a whole database, so
// picker.go's per-level score-driven picker and fifo_picker.go's TTL/size-cap
// eviction picker have no referent here (see DESIGN.md).
//
// Reference: RocksDB v10.7.5 db/compaction/compaction_picker_universal.cc,
// narrowed to operate on one bucket's sorted runs instead of one column
// family's full level array.
package compaction

import (
	"sort"

	"github.com/rivermark/rivermark/internal/manifest"
	"github.com/rivermark/rivermark/internal/version"
)

// Options configures the universal compaction picker. Field names follow
// spec.md's `num-sorted-run.compaction-trigger`/`stop-trigger` and
// `compaction.size-ratio` configuration keys.
type Options struct {
	// SizeRatio is the percentage trigger for size-ratio compaction: a run
	// is grouped with the next if its size is within (100+SizeRatio)% of
	// the next run's size.
	SizeRatio int

	// CompactionTrigger is the minimum number of sorted runs before the
	// picker considers compacting at all (spec's
	// num-sorted-run.compaction-trigger).
	CompactionTrigger int

	// StopTrigger is the sorted-run count a bucket must never exceed after
	// a committed snapshot (spec's num-sorted-run.stop-trigger); the picker
	// treats reaching it as size-amplification-triggering regardless of
	// size ratio.
	StopTrigger int

	// MaxMergeWidth bounds how many runs one compaction merges at once.
	MaxMergeWidth int

	// MaxSizeAmplificationPercent triggers a full merge when the combined
	// size of all runs but the newest exceeds this percent of the newest
	// run's size.
	MaxSizeAmplificationPercent int
}

// DefaultOptions returns the universal picker's defaults.
func DefaultOptions() Options {
	return Options{
		SizeRatio:                   1,
		CompactionTrigger:           3,
		StopTrigger:                 4,
		MaxMergeWidth:               1<<31 - 1,
		MaxSizeAmplificationPercent: 200,
	}
}

// Picker selects compactions for individual buckets using universal
// compaction.
type Picker struct {
	opts Options
}

// NewPicker creates a Picker with opts. A zero Options uses DefaultOptions.
func NewPicker(opts Options) *Picker {
	if opts.CompactionTrigger == 0 {
		opts = DefaultOptions()
	}
	return &Picker{opts: opts}
}

// run is one sorted run: an L0 file is its own run; a level >= 1 is one run
// spanning its (at most one, by invariant) file.
type run struct {
	level int32
	files []*manifest.FileMeta
	size  int64
}

// NeedsCompaction reports whether bucket's sorted-run count or size
// amplification warrants a compaction.
func (p *Picker) NeedsCompaction(v *version.Version, bucket version.BucketKey) bool {
	runs := p.sortedRuns(v, bucket)
	if len(runs) < p.opts.CompactionTrigger {
		return false
	}
	if len(runs) >= p.opts.StopTrigger {
		return true
	}
	if p.sizeAmplification(runs) > p.opts.MaxSizeAmplificationPercent {
		return true
	}
	return p.findSizeRatioRuns(runs) != nil
}

// PickCompaction selects a Compaction for bucket, or nil if none is needed.
func (p *Picker) PickCompaction(v *version.Version, bucket version.BucketKey) *Compaction {
	runs := p.sortedRuns(v, bucket)
	if len(runs) < p.opts.CompactionTrigger {
		return nil
	}

	if len(runs) >= p.opts.StopTrigger || p.sizeAmplification(runs) > p.opts.MaxSizeAmplificationPercent {
		return p.buildCompaction(bucket, runs, ReasonSizeAmplification)
	}

	if picked := p.findSizeRatioRuns(runs); picked != nil {
		return p.buildCompaction(bucket, picked, ReasonSizeRatio)
	}

	return nil
}

// sortedRuns extracts bucket's sorted runs from v, newest first: every level
//0 file is its own run; levels >= 1 are already merged single-file runs by
// invariant.
func (p *Picker) sortedRuns(v *version.Version, bucket version.BucketKey) []*run {
	var runs []*run
	for _, sr := range v.SortedRuns(bucket) {
		if sr.Level == 0 {
			files := make([]*manifest.FileMeta, len(sr.Files))
			copy(files, sr.Files)
			sort.Slice(files, func(i, j int) bool {
				return files[i].MaxSequenceNumber > files[j].MaxSequenceNumber
			})
			for _, f := range files {
				runs = append(runs, &run{level: 0, files: []*manifest.FileMeta{f}, size: f.FileSize})
			}
			continue
		}
		if len(sr.Files) == 0 {
			continue
		}
		var size int64
		for _, f := range sr.Files {
			size += f.FileSize
		}
		runs = append(runs, &run{level: sr.Level, files: sr.Files, size: size})
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].level < runs[j].level
	})
	return runs
}

// sizeAmplification returns 100 * (sum of all but the newest run's size) /
// newest run's size.
func (p *Picker) sizeAmplification(runs []*run) int {
	if len(runs) < 2 {
		return 0
	}
	var totalOld int64
	for i := 1; i < len(runs); i++ {
		totalOld += runs[i].size
	}
	newest := runs[0].size
	if newest == 0 {
		return 0
	}
	return int((totalOld * 100) / newest)
}

// findSizeRatioRuns finds the first contiguous run of sorted runs whose
// sizes stay within SizeRatio% of each other, long enough to clear
// CompactionTrigger.
func (p *Picker) findSizeRatioRuns(runs []*run) []*run {
	if len(runs) < p.opts.CompactionTrigger {
		return nil
	}
	threshold := int64(100 + p.opts.SizeRatio)

	for start := 0; start < len(runs)-1; start++ {
		end := start + 1
		for end < len(runs) && end-start < p.opts.MaxMergeWidth {
			prev, curr := runs[end-1].size, runs[end].size
			if curr == 0 || (prev*100)/curr > threshold {
				break
			}
			end++
		}
		if end-start >= p.opts.CompactionTrigger {
			return runs[start:end]
		}
	}
	return nil
}

func (p *Picker) buildCompaction(bucket version.BucketKey, runs []*run, reason Reason) *Compaction {
	if len(runs) == 0 {
		return nil
	}

	byLevel := make(map[int32][]*manifest.FileMeta)
	var maxLevel int32
	for _, r := range runs {
		byLevel[r.level] = append(byLevel[r.level], r.files...)
		if r.level > maxLevel {
			maxLevel = r.level
		}
	}

	var inputs []InputFiles
	for level := int32(0); level <= maxLevel; level++ {
		if files, ok := byLevel[level]; ok && len(files) > 0 {
			inputs = append(inputs, InputFiles{Level: level, Files: files})
		}
	}
	if len(inputs) == 0 {
		return nil
	}

	outputLevel := maxLevel
	if outputLevel == 0 {
		outputLevel = 1
	}

	return NewCompaction(bucket, inputs, outputLevel, reason)
}
