// Package version tracks which data files are live for each bucket as of a
// committed snapshot, and applies manifest entries to move from one
// snapshot's Version to the next.
//
// Where the teacher tracked one array of levels per whole database, a
// Version here tracks one list of sorted runs per (partition, bucket): the
// spec's universal-compaction design has no classic leveled LSM, only a
// level-0 of fresh flushes and a single sorted run at each level >= 1 per
// bucket, so the per-database fixed-depth level array is replaced by a map
// keyed by BucketKey.
package version

import (
	"sync/atomic"

	"github.com/rivermark/rivermark/internal/manifest"
)

// BucketKey identifies one (partition, bucket) LSM instance within a table.
type BucketKey struct {
	Partition string
	Bucket    int32
}

// SortedRun is the set of data files at one level for a bucket. Level 0 may
// hold multiple files (fresh flushes not yet compacted together); level >= 1
// holds at most one file, per the invariant that at most one sorted run
// exists per level per bucket.
type SortedRun struct {
	Level int32
	Files []*manifest.FileMeta
}

// Version is an immutable, refcounted view of which data files are live for
// every bucket as of one committed snapshot. New versions are produced by
// Builder applying a manifest's ADD/DELETE entries to an existing version.
type Version struct {
	runs map[BucketKey][]SortedRun

	refs int32

	vset          *Set
	snapshotID    int64
	versionNumber uint64

	prev *Version
	next *Version
}

func newVersion() *Version {
	return &Version{runs: make(map[BucketKey][]SortedRun)}
}

// Ref increments the reference count.
func (v *Version) Ref() {
	atomic.AddInt32(&v.refs, 1)
}

// Unref decrements the reference count and unlinks the version from its
// Set's version list once it reaches zero.
func (v *Version) Unref() {
	if atomic.AddInt32(&v.refs, -1) == 0 {
		if v.vset != nil {
			v.vset.listMu.Lock()
			defer v.vset.listMu.Unlock()
		}
		if v.prev != nil {
			v.prev.next = v.next
		}
		if v.next != nil {
			v.next.prev = v.prev
		}
		v.prev = nil
		v.next = nil
	}
}

// SnapshotID returns the snapshot id this version was built for.
func (v *Version) SnapshotID() int64 { return v.snapshotID }

// VersionNumber returns a monotonically increasing debug counter, separate
// from the snapshot id, assigned by the owning Set.
func (v *Version) VersionNumber() uint64 { return v.versionNumber }

// Buckets returns the set of buckets with at least one sorted run.
func (v *Version) Buckets() []BucketKey {
	keys := make([]BucketKey, 0, len(v.runs))
	for k := range v.runs {
		keys = append(keys, k)
	}
	return keys
}

// SortedRuns returns the sorted runs for key, ordered by level ascending.
func (v *Version) SortedRuns(key BucketKey) []SortedRun {
	return v.runs[key]
}

// NumSortedRuns returns the number of sorted runs for key. Level 0 counts as
// one run per file, since each level-0 file is its own unmerged run; levels
// >= 1 count as one run each (by invariant, at most one file per level).
func (v *Version) NumSortedRuns(key BucketKey) int {
	n := 0
	for _, run := range v.runs[key] {
		if run.Level == 0 {
			n += len(run.Files)
		} else if len(run.Files) > 0 {
			n++
		}
	}
	return n
}

// NumFiles returns the total number of files for key.
func (v *Version) NumFiles(key BucketKey) int {
	n := 0
	for _, run := range v.runs[key] {
		n += len(run.Files)
	}
	return n
}

// TotalFiles returns the total number of files across every bucket.
func (v *Version) TotalFiles() int {
	total := 0
	for _, runs := range v.runs {
		for _, r := range runs {
			total += len(r.Files)
		}
	}
	return total
}

// BucketBytes returns the total file size for key, across all its levels.
func (v *Version) BucketBytes(key BucketKey) int64 {
	var size int64
	for _, run := range v.runs[key] {
		for _, f := range run.Files {
			size += f.FileSize
		}
	}
	return size
}

// clone makes a shallow copy of v's bucket->run mapping, deep enough that
// mutating the clone's run slices never mutates v's.
func (v *Version) clone() *Version {
	nv := newVersion()
	nv.snapshotID = v.snapshotID
	for k, runs := range v.runs {
		cp := make([]SortedRun, len(runs))
		for i, r := range runs {
			files := make([]*manifest.FileMeta, len(r.Files))
			copy(files, r.Files)
			cp[i] = SortedRun{Level: r.Level, Files: files}
		}
		nv.runs[k] = cp
	}
	return nv
}

// CompareInternalKeys compares two internal keys (user key + 8-byte
// sequence/kind trailer), ascending by user key then ascending by sequence
// number — a key's update history replays in produced order, matching
// dbformat.InternalKeyComparator. This mirrors that comparator rather than
// importing it, since version deals only in the raw min/max key bytes stored
// in FileMeta and does not otherwise depend on dbformat.
func CompareInternalKeys(a, b []byte) int {
	if len(a) < 8 || len(b) < 8 {
		return bytesCompare(a, b)
	}

	userKeyA := a[:len(a)-8]
	userKeyB := b[:len(b)-8]

	if cmp := bytesCompare(userKeyA, userKeyB); cmp != 0 {
		return cmp
	}

	trailerA := decodeFixed64(a[len(a)-8:])
	trailerB := decodeFixed64(b[len(b)-8:])
	seqA := trailerA >> 8
	seqB := trailerB >> 8

	switch {
	case seqA < seqB:
		return -1
	case seqA > seqB:
		return 1
	default:
		return 0
	}
}

func bytesCompare(a, b []byte) int {
	minLen := min(len(b), len(a))
	for i := range minLen {
		if a[i] < b[i] {
			return -1
		}
		if a[i] > b[i] {
			return 1
		}
	}
	if len(a) < len(b) {
		return -1
	}
	if len(a) > len(b) {
		return 1
	}
	return 0
}

func decodeFixed64(b []byte) uint64 {
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}
