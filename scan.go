package rivermark

// scan.go implements Table's public read path: resolving a snapshot's live
// files through internal/scan's manifest planner, then fanning them into a
// loser-tree merge and folding each primary key's group of records through
// the table's merge engine, the same two-stage shape compaction's Job uses
// to produce an output file, retargeted at producing a caller-facing row
// stream instead of a new sorted run.
//
// Reference: RocksDB v10.7.5's DBImpl::NewIterator (db/db_impl/db_impl.h)
// assembled a merging iterator over the active memtable and every live SST
// directly from its in-process Version; Rivermark has no WAL-backed
// memtable to merge in, and resolves its file set from a cold, committed
// Snapshot via internal/scan instead.

import (
	"fmt"
	"path/filepath"

	"github.com/zeebo/xxh3"

	"github.com/rivermark/rivermark/internal/dbformat"
	"github.com/rivermark/rivermark/internal/iterator"
	"github.com/rivermark/rivermark/internal/manifest"
	"github.com/rivermark/rivermark/internal/mergeengine"
	"github.com/rivermark/rivermark/internal/scan"
)

// ScanOptions selects which rows a Table.Scan call returns.
type ScanOptions struct {
	// Snapshot pins the scan to a specific committed snapshot. If nil, the
	// table's current latest snapshot is used.
	Snapshot *Snapshot

	// Kind selects which of the snapshot's manifest lists to resolve:
	// the full live file set, an incremental delta, or a changelog.
	Kind scan.Kind

	// Partitions, Buckets, and Levels filter the files a scan reads, when
	// non-nil. See scan.Request for the side-effect-free requirement.
	Partitions scan.PartitionFilter
	Buckets    scan.BucketFilter
	Levels     scan.LevelFilter
}

// Scan plans and opens a merged read over opts, returning a RecordIter
// positioned before the first row. Rows sharing a primary key across
// multiple files are folded through the table's merge engine, so Scan's
// output reflects the same row a point lookup would see. Records buffered
// in a BucketWriter but not yet flushed via PrepareCommit are not visible:
// Scan only ever reads committed, flushed data files.
func (t *Table) Scan(opts ScanOptions) (*RecordIter, error) {
	snap := opts.Snapshot
	var releaseSnap bool
	if snap == nil {
		s, err := t.NewSnapshot()
		if err != nil {
			return nil, err
		}
		snap = s
		releaseSnap = true
	}

	files, err := scan.Plan(t.fs, scan.Request{
		TableRoot:               t.root,
		Snapshot:                snap.inner,
		Kind:                    opts.Kind,
		Partitions:              opts.Partitions,
		Buckets:                 opts.Buckets,
		Levels:                  opts.Levels,
		ExpectedTotalBuckets:    t.totalBuckets,
		DisableBucketCountCheck: snap.CommitKind() == manifest.CommitOverwrite,
	})
	if err != nil {
		if releaseSnap {
			snap.Release()
		}
		return nil, fmt.Errorf("rivermark: plan scan: %w", err)
	}

	it := &RecordIter{table: t, snapshot: snap, releaseSnap: releaseSnap, engine: t.mergeEngine()}
	if err := it.open(files); err != nil {
		it.Close()
		return nil, err
	}
	return it, nil
}

// RecordIter is a forward-only, merged view over the files a Scan call
// resolved. A zero-value RecordIter is not usable; obtain one from
// Table.Scan.
type RecordIter struct {
	table       *Table
	snapshot    *Snapshot
	releaseSnap bool
	engine      mergeengine.Engine

	opened []uint64
	merged *iterator.LoserTree

	groupKey  []byte
	haveGroup bool
	cur       dbformat.Record
	valid     bool
	err       error
}

func (it *RecordIter) open(files []scan.FileEntry) error {
	children := make([]iterator.Iterator, 0, len(files))
	for _, fe := range files {
		dir := filepath.Join(it.table.root, "data", fe.Partition, fmt.Sprintf("bucket-%d", fe.Bucket))
		path := filepath.Join(dir, fe.File.FileName)
		key := cacheKeyForFile(fe.Partition, fe.Bucket, fe.File.FileName)

		tableIter, err := it.table.tableCache.NewIterator(key, path)
		if err != nil {
			return fmt.Errorf("rivermark: open data file %s: %w", fe.File.FileName, err)
		}
		it.opened = append(it.opened, key)
		children = append(children, tableIter)
	}
	it.merged = iterator.NewLoserTree(children, dbformat.CompareInternalKeys)
	it.merged.SeekToFirst()
	return it.advanceGroup()
}

// Next folds the next primary key's full record group through the merge
// engine and positions Record on the result. It returns false once the
// underlying files are exhausted or every remaining group's merge result
// was elided (a pure-delete group with nothing live to return).
func (it *RecordIter) Next() bool {
	for {
		if !it.haveGroup {
			it.valid = false
			return false
		}
		rec, ok := it.engine.Result()
		more := it.advanceGroup()
		if ok {
			it.cur = rec
			it.valid = true
			return true
		}
		if !more {
			it.valid = false
			return false
		}
	}
}

// advanceGroup feeds the next run of equal-user-key entries from the
// merged iterator into the engine and reports whether a group was found.
func (it *RecordIter) advanceGroup() bool {
	it.engine.Reset()
	if !it.merged.Valid() {
		it.haveGroup = false
		return false
	}

	key := it.merged.Key()
	groupKey := dbformat.ExtractUserKey(key)
	it.groupKey = append(it.groupKey[:0], groupKey...)

	for it.merged.Valid() {
		key := it.merged.Key()
		userKey := dbformat.ExtractUserKey(key)
		if dbformat.BytewiseCompare(userKey, it.groupKey) != 0 {
			break
		}
		parsed, err := dbformat.ParseInternalKey(key)
		if err != nil {
			it.err = fmt.Errorf("rivermark: scan: parse internal key: %w", err)
			it.haveGroup = false
			return false
		}
		it.engine.Add(dbformat.Record{
			Key:      parsed.UserKey,
			Value:    it.merged.Value(),
			Kind:     parsed.Kind,
			Sequence: parsed.Sequence,
		})
		it.merged.Next()
	}
	if err := it.merged.Error(); err != nil {
		it.err = fmt.Errorf("rivermark: scan: %w", err)
		it.haveGroup = false
		return false
	}
	it.haveGroup = true
	return true
}

// Record returns the row the most recent Next call positioned on.
func (it *RecordIter) Record() dbformat.Record {
	return it.cur
}

// Err returns the first error encountered during iteration, if any.
func (it *RecordIter) Err() error {
	return it.err
}

// cacheKeyForFile derives the TableCache's uint64 key for a scan-visible
// file, namespaced by (partition, bucket) since Rivermark files are named
// by a table-wide counter rather than a per-bucket-local file number.
func cacheKeyForFile(partition string, bucket int32, fileName string) uint64 {
	return xxh3.HashString(fmt.Sprintf("%s/%d/%s", partition, bucket, fileName))
}

// Close releases every data file handle the scan opened and, if the scan
// took its own snapshot (Scan was called with a nil ScanOptions.Snapshot),
// releases that snapshot too.
func (it *RecordIter) Close() error {
	for _, key := range it.opened {
		it.table.tableCache.Release(key)
	}
	it.opened = nil
	if it.releaseSnap && it.snapshot != nil {
		it.snapshot.Release()
		it.snapshot = nil
	}
	return nil
}
