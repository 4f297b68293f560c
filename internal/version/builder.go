// builder.go implements Builder, which applies a batch of manifest entries
// to a base Version to produce the next Version — the in-memory analogue of
// what a commit publishes to the manifest/snapshot files on disk.
package version

import (
	"sort"

	"github.com/rivermark/rivermark/internal/manifest"
)

// Builder accumulates ADD/DELETE manifest entries against a base Version
// and produces the next Version without copying untouched buckets.
//
// Usage:
//
//	b := NewBuilder(set, base)
//	b.Apply(entries)
//	next := b.SaveTo(set, snapshotID)
type Builder struct {
	base *Version

	added   map[BucketKey]map[int32]map[string]*manifest.FileMeta // bucket -> level -> filename -> meta
	deleted map[BucketKey]map[int32]map[string]struct{}
}

// NewBuilder creates a Builder based on base. base may be nil, meaning the
// table has no prior snapshot.
func NewBuilder(base *Version) *Builder {
	return &Builder{
		base:    base,
		added:   make(map[BucketKey]map[int32]map[string]*manifest.FileMeta),
		deleted: make(map[BucketKey]map[int32]map[string]struct{}),
	}
}

// Apply folds a batch of manifest entries into the builder's pending state.
func (b *Builder) Apply(entries []manifest.Entry) {
	for _, e := range entries {
		key := BucketKey{Partition: e.Partition, Bucket: e.Bucket}
		switch e.Kind {
		case manifest.KindDelete:
			b.markDeleted(key, e.Level, e.File.FileName)
		case manifest.KindAdd:
			b.markAdded(key, e.Level, e.File)
		}
	}
}

func (b *Builder) markDeleted(key BucketKey, level int32, fileName string) {
	if lvls, ok := b.added[key]; ok {
		if files, ok := lvls[level]; ok {
			if _, wasAdded := files[fileName]; wasAdded {
				delete(files, fileName)
				return
			}
		}
	}
	if _, ok := b.deleted[key]; !ok {
		b.deleted[key] = make(map[int32]map[string]struct{})
	}
	if _, ok := b.deleted[key][level]; !ok {
		b.deleted[key][level] = make(map[string]struct{})
	}
	b.deleted[key][level][fileName] = struct{}{}
}

func (b *Builder) markAdded(key BucketKey, level int32, file manifest.FileMeta) {
	if lvls, ok := b.deleted[key]; ok {
		delete(lvls[level], file.FileName)
	}
	if _, ok := b.added[key]; !ok {
		b.added[key] = make(map[int32]map[string]*manifest.FileMeta)
	}
	if _, ok := b.added[key][level]; !ok {
		b.added[key][level] = make(map[string]*manifest.FileMeta)
	}
	meta := file
	b.added[key][level][file.FileName] = &meta
}

// SaveTo produces the next Version from the builder's accumulated edits. The
// resulting version's buckets are the union of the base version's buckets
// and any buckets newly touched by Apply.
func (b *Builder) SaveTo(snapshotID int64) *Version {
	v := newVersion()
	v.snapshotID = snapshotID

	keys := make(map[BucketKey]struct{})
	if b.base != nil {
		for k := range b.base.runs {
			keys[k] = struct{}{}
		}
	}
	for k := range b.added {
		keys[k] = struct{}{}
	}
	for k := range b.deleted {
		keys[k] = struct{}{}
	}

	for key := range keys {
		v.runs[key] = b.saveBucket(key)
	}
	return v
}

func (b *Builder) saveBucket(key BucketKey) []SortedRun {
	levels := make(map[int32]struct{})
	if b.base != nil {
		for _, run := range b.base.runs[key] {
			levels[run.Level] = struct{}{}
		}
	}
	for level := range b.added[key] {
		levels[level] = struct{}{}
	}
	for level := range b.deleted[key] {
		levels[level] = struct{}{}
	}

	runs := make([]SortedRun, 0, len(levels))
	for level := range levels {
		runs = append(runs, SortedRun{Level: level, Files: b.saveLevel(key, level)})
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Level < runs[j].Level })
	return runs
}

func (b *Builder) saveLevel(key BucketKey, level int32) []*manifest.FileMeta {
	deletedNames := b.deleted[key][level]

	var files []*manifest.FileMeta
	if b.base != nil {
		for _, run := range b.base.runs[key] {
			if run.Level != level {
				continue
			}
			for _, f := range run.Files {
				if _, gone := deletedNames[f.FileName]; gone {
					continue
				}
				files = append(files, f)
			}
		}
	}
	for _, f := range b.added[key][level] {
		files = append(files, f)
	}

	if level == 0 {
		// Level-0 files may overlap; order by creation time (oldest first),
		// so readers merge newest-last consistently with how they were
		// flushed.
		sort.Slice(files, func(i, j int) bool {
			return files[i].CreationTimeMillis < files[j].CreationTimeMillis
		})
	} else {
		// Level >= 1 holds at most one file per the single-sorted-run
		// invariant, but sort defensively by min key in case a caller
		// constructs an intermediate state with more than one.
		sort.Slice(files, func(i, j int) bool {
			return CompareInternalKeys(files[i].MinKey, files[j].MinKey) < 0
		})
	}
	return files
}
