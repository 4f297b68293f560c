// table.go implements Table: the top-level handle for one table's storage
// root, owning its version set and routing writes to the right bucket's
// BucketWriter.
//
// Reference: RocksDB v10.7.5's DBImpl (db/db_impl/db_impl.h) owned the
// column family set, the table cache, and the write path. Table plays the
// same role here, narrowed to a single schema with a fixed bucket count:
// there are no column families, and routing fans out by bucket instead of
// by column family handle.
package rivermark

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rivermark/rivermark/internal/bucketassign"
	"github.com/rivermark/rivermark/internal/compaction"
	"github.com/rivermark/rivermark/internal/dbformat"
	"github.com/rivermark/rivermark/internal/globalindex"
	"github.com/rivermark/rivermark/internal/manifest"
	"github.com/rivermark/rivermark/internal/mergeengine"
	"github.com/rivermark/rivermark/internal/partition"
	"github.com/rivermark/rivermark/internal/schema"
	"github.com/rivermark/rivermark/internal/sortbuffer"
	"github.com/rivermark/rivermark/internal/table"
	"github.com/rivermark/rivermark/internal/version"
	"github.com/rivermark/rivermark/internal/vfs"
)

// defaultPartition names the partition every record belongs to when no
// schema (and thus no partition columns) is configured.
const defaultPartition = "default"

// Table is the top-level handle to one table's storage root: its current
// version, its bucket writers, and the committed snapshots pinned against
// expiration.
type Table struct {
	root         string
	fs           vfs.FS
	opts         *Options
	totalBuckets int32
	schemaID     int64

	schemaHistory      *schema.History
	partitionExtractor partition.Extractor
	partitionRegistry  *partition.Registry

	// crossPartitionUpsert is true when the schema's primary key is not a
	// superset of its partition columns, the condition under which a key
	// may legally land in more than one partition across its lifetime and
	// so needs gidx to enforce single-location uniqueness.
	crossPartitionUpsert bool
	gidx                 *globalindex.Engine

	vset       *version.Set
	committer  *manifest.Committer
	tableCache *table.TableCache
	picker     *compaction.Picker
	wbm        *WriteBufferManager
	wc         *writeController

	mu      sync.Mutex
	writers map[version.BucketKey]*BucketWriter

	assignMu  sync.Mutex
	assigners map[string]*bucketassign.Assigner

	nextFile     uint64
	nextManifest uint64
	nextSeq      uint64

	snapMu   sync.Mutex
	snapHead Snapshot // sentinel; snapHead.next/prev form the ring of live handles
}

// Open opens (or, if opts.CreateIfMissing, creates) the table rooted at
// path with the given fixed bucket count.
func Open(path string, buckets int32, opts *Options) (*Table, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if buckets <= 0 {
		return nil, fmt.Errorf("rivermark: buckets must be > 0, got %d", buckets)
	}

	fs := opts.FS
	if fs == nil {
		fs = vfs.Default()
	}

	if !fs.Exists(path) {
		if !opts.CreateIfMissing {
			return nil, fmt.Errorf("rivermark: table %s does not exist", path)
		}
		if err := fs.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("rivermark: create table root: %w", err)
		}
	}
	if err := fs.MkdirAll(manifest.ManifestDir(path), 0o755); err != nil {
		return nil, fmt.Errorf("rivermark: create manifest dir: %w", err)
	}
	if err := fs.MkdirAll(manifest.SnapshotDir(path), 0o755); err != nil {
		return nil, fmt.Errorf("rivermark: create snapshot dir: %w", err)
	}

	vset := version.NewSet(version.Options{TableRoot: path, FS: fs, CommitUser: "rivermark"})
	if err := vset.Open(); err != nil {
		return nil, fmt.Errorf("rivermark: open version set: %w", err)
	}

	t := &Table{
		root:               path,
		fs:                 fs,
		opts:               opts,
		totalBuckets:       buckets,
		schemaID:           1,
		partitionExtractor: partition.Unpartitioned,
		partitionRegistry:  partition.NewRegistry(),
		vset:               vset,
		committer:          manifest.NewCommitter(fs, path),
		tableCache:         table.NewTableCache(fs, table.DefaultTableCacheOptions()),
		picker: compaction.NewPicker(compaction.Options{
			SizeRatio:                   opts.CompactionSizeRatio,
			CompactionTrigger:           opts.SortedRunCompactionTrigger,
			StopTrigger:                 opts.SortedRunStopTrigger,
			MaxMergeWidth:               opts.MaxMergeWidth,
			MaxSizeAmplificationPercent: opts.MaxSizeAmplificationPercent,
		}),
		wbm:       NewWriteBufferManager(uint64(opts.WriteBufferSize)*uint64(opts.MaxWriteBufferNumber), !opts.WriteBufferSpillable),
		wc:        newWriteController(),
		writers:   make(map[version.BucketKey]*BucketWriter),
		assigners: make(map[string]*bucketassign.Assigner),
	}
	t.snapHead.prev = &t.snapHead
	t.snapHead.next = &t.snapHead

	if err := t.openSchema(opts.Schema); err != nil {
		t.tableCache.Close()
		return nil, err
	}
	if err := t.openGlobalIndex(); err != nil {
		t.tableCache.Close()
		return nil, err
	}
	return t, nil
}

// openSchema establishes the table's schema history. A nil declared schema
// keeps the table in its original unpartitioned, no-primary-key mode; a
// non-nil one is persisted under schema/history.json, evolving the
// on-disk history if declared is newer than what was last persisted.
func (t *Table) openSchema(declared *schema.Schema) error {
	if declared == nil {
		return nil
	}

	historyPath := schema.HistoryPath(t.root)
	var history *schema.History
	if t.fs.Exists(historyPath) {
		existing, err := schema.ReadHistory(t.fs, historyPath)
		if err != nil {
			return fmt.Errorf("rivermark: read schema history: %w", err)
		}
		history = existing
		if declared.ID > history.Latest().ID {
			if err := history.Evolve(declared); err != nil {
				return fmt.Errorf("rivermark: evolve schema: %w", err)
			}
			if err := history.Write(t.fs, historyPath); err != nil {
				return fmt.Errorf("rivermark: write schema history: %w", err)
			}
		}
	} else {
		h, err := schema.NewHistory(declared)
		if err != nil {
			return fmt.Errorf("rivermark: new schema: %w", err)
		}
		history = h
		if err := history.Write(t.fs, historyPath); err != nil {
			return fmt.Errorf("rivermark: write schema history: %w", err)
		}
	}

	latest := history.Latest()
	t.schemaHistory = history
	t.schemaID = latest.ID
	t.crossPartitionUpsert = !latest.IsPrimaryKeySupersetOfPartition()

	if len(latest.PartitionColumns) > 0 {
		if t.opts.PartitionExtractor == nil {
			return fmt.Errorf("rivermark: schema declares partition columns %v but Options.PartitionExtractor is nil", latest.PartitionColumns)
		}
		t.partitionExtractor = t.opts.PartitionExtractor
	}
	return nil
}

// openGlobalIndex opens (and, on first use against existing data,
// bootstraps) the cross-partition uniqueness index when the schema
// requires one.
func (t *Table) openGlobalIndex() error {
	if !t.crossPartitionUpsert {
		return nil
	}
	dir := filepath.Join(t.root, "globalindex")
	engine, err := globalindex.Open(globalindex.Options{
		Dir:             dir,
		ValueTTLSeconds: int64(t.opts.CrossPartitionUpsertIndexTTL / time.Second),
	})
	if err != nil {
		return fmt.Errorf("rivermark: open global index: %w", err)
	}
	t.gidx = engine

	marker := filepath.Join(dir, ".bootstrapped")
	if t.fs.Exists(marker) {
		return nil
	}
	if err := t.bootstrapGlobalIndex(); err != nil {
		return fmt.Errorf("rivermark: bootstrap global index: %w", err)
	}
	if err := t.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := t.fs.Create(marker)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// bootstrapGlobalIndex builds the global index from every record already
// live in the table's current version, via an external sort over
// (user key, location+sequence) tuples, deduping each key to the location
// that last wrote it.
func (t *Table) bootstrapGlobalIndex() error {
	v := t.vset.Current()
	sortDir := filepath.Join(t.root, "globalindex", "bootstrap-tmp")
	sorter := globalindex.BootstrapSorter(t.fs, sortDir, dbformat.BytewiseCompare, 64<<20, t.opts.LocalSortMaxFileHandles)

	any := false
	for _, key := range v.Buckets() {
		partitionID := t.partitionRegistry.IDFor(key.Partition)
		dir := t.bucketDir(key)
		for _, run := range v.SortedRuns(key) {
			for _, f := range run.Files {
				if err := t.addFileToBootstrapSorter(sorter, dir, key, f, partitionID); err != nil {
					return err
				}
				any = true
			}
		}
	}
	if !any {
		return nil
	}

	merged, err := sorter.Finish()
	if err != nil {
		return err
	}
	return globalindex.Bootstrap(t.gidx, merged)
}

func (t *Table) addFileToBootstrapSorter(sorter *sortbuffer.Sorter, dir string, key version.BucketKey, f *manifest.FileMeta, partitionID int32) error {
	path := filepath.Join(dir, f.FileName)
	cacheKey := cacheKeyForFile(key.Partition, key.Bucket, f.FileName)
	it, err := t.tableCache.NewIterator(cacheKey, path)
	if err != nil {
		return fmt.Errorf("open data file %s: %w", f.FileName, err)
	}
	defer t.tableCache.Release(cacheKey)

	for it.SeekToFirst(); it.Valid(); it.Next() {
		parsed, err := dbformat.ParseInternalKey(it.Key())
		if err != nil {
			return fmt.Errorf("parse internal key in %s: %w", f.FileName, err)
		}
		loc := globalindex.Location{PartitionID: partitionID, Bucket: key.Bucket}
		if err := sorter.Add(dbformat.Record{
			Key:   append([]byte{}, parsed.UserKey...),
			Value: globalindex.EncodeBootstrapValue(loc, uint64(parsed.Sequence)),
		}); err != nil {
			return err
		}
	}
	return it.Error()
}

// Close releases the table's open file handles. It does not flush or
// compact; callers should ensure all writes are committed first.
func (t *Table) Close() error {
	if t.gidx != nil {
		if err := t.gidx.Close(); err != nil {
			return err
		}
	}
	return t.tableCache.Close()
}

// Write buffers rb's records into their target buckets' BucketWriters,
// assigning sequence numbers from one contiguous range. It does not commit
// a new snapshot by itself: only a bucket whose buffer crosses
// Options.WriteBufferSize is flushed and committed as part of this call,
// mirroring write(record)/prepare_commit(wait_for_compaction) — buffered
// records are visible to nothing (not even a fresh Scan) until a flush
// commits them. Call PrepareCommit to force every buffered bucket to flush.
func (t *Table) Write(rb *RecordBatch) error {
	internal := rb.internalBatch()
	count := internal.Count()
	if count == 0 {
		return nil
	}

	t.wbm.WaitIfStalled()
	t.wc.maybeStallWrite(internal.Size())

	base := atomic.AddUint64(&t.nextSeq, uint64(count)) - uint64(count) + 1
	internal.SetSequence(base)

	records, err := internal.Records()
	if err != nil {
		return fmt.Errorf("rivermark: decode batch: %w", err)
	}

	grouped := make(map[version.BucketKey][]dbformat.Record)
	for _, r := range records {
		key, tombstone, drop, err := t.routeRecord(r)
		if err != nil {
			return fmt.Errorf("rivermark: route record: %w", err)
		}
		if drop {
			continue
		}
		grouped[key] = append(grouped[key], r)
		if tombstone != nil {
			tkey := version.BucketKey{Partition: tombstone.tombstonePartition, Bucket: tombstone.tombstoneBucket}
			grouped[tkey] = append(grouped[tkey], tombstone.record)
		}
	}

	touchedFull := make([]version.BucketKey, 0, len(grouped))
	for key, group := range grouped {
		bw := t.bucketWriter(key)
		full, err := bw.Write(group)
		if err != nil {
			return fmt.Errorf("rivermark: buffer bucket %s/%d: %w", key.Partition, key.Bucket, err)
		}
		if full {
			touchedFull = append(touchedFull, key)
		}
	}

	if len(touchedFull) == 0 {
		return nil
	}
	return t.flushBuckets(touchedFull, true)
}

// PrepareCommit flushes every bucket with a non-empty buffer to a level-0
// file and commits the result as one new snapshot, then (unless
// waitForCompaction is false) runs compaction synchronously for any bucket
// that now needs it. Since this engine executes compaction synchronously
// rather than on a background thread, waitForCompaction=false simply defers
// a due compaction to a later PrepareCommit or Write call instead of
// blocking this one on it.
func (t *Table) PrepareCommit(waitForCompaction bool) error {
	t.mu.Lock()
	keys := make([]version.BucketKey, 0, len(t.writers))
	for key, bw := range t.writers {
		if bw.BufferedBytes() > 0 {
			keys = append(keys, key)
		}
	}
	t.mu.Unlock()

	if len(keys) == 0 {
		return nil
	}
	return t.flushBuckets(keys, waitForCompaction)
}

// flushBuckets flushes each of buckets' buffered records to a level-0 file,
// commits the resulting entries as one snapshot, recalculates the write
// stall condition, and (if runCompaction) compacts any bucket that now
// needs it.
func (t *Table) flushBuckets(buckets []version.BucketKey, runCompaction bool) error {
	entries := make([]manifest.Entry, 0, len(buckets))
	touched := make([]version.BucketKey, 0, len(buckets))
	var total int64

	for _, key := range buckets {
		bw := t.bucketWriter(key)
		entry, ok, err := bw.PrepareCommit(t.nextFileName)
		if err != nil {
			return fmt.Errorf("rivermark: flush bucket %s/%d: %w", key.Partition, key.Bucket, err)
		}
		if !ok {
			continue
		}
		entries = append(entries, entry)
		touched = append(touched, key)
		total += entry.File.RowCount
	}
	if len(entries) == 0 {
		return nil
	}

	v, err := t.commit(entries, manifest.CommitAppend, version.RecordCounts{
		Total: total,
		Delta: total,
	})
	if err != nil {
		return err
	}

	t.recalculateWriteStall(v, touched)

	if t.opts.DisableAutoCompactions || !runCompaction {
		return nil
	}
	return t.compactTouched(v, touched)
}

// recalculateWriteStall updates the write controller's stall condition from
// the worst (highest sorted-run count) of the buckets a write just touched,
// so a bucket whose compaction can't keep up slows or blocks new writers
// rather than letting its sorted-run count grow without bound.
func (t *Table) recalculateWriteStall(v *version.Version, buckets []version.BucketKey) {
	worst := WriteStallConditionNormal
	worstCause := WriteStallCauseNone
	for _, key := range buckets {
		condition, cause := recalculateWriteStallCondition(
			0,
			v.NumSortedRuns(key),
			t.opts.MaxWriteBufferNumber,
			t.opts.SortedRunCompactionTrigger,
			t.opts.SortedRunStopTrigger,
			t.opts.DisableAutoCompactions,
		)
		if condition > worst {
			worst, worstCause = condition, cause
		}
	}
	t.wc.setStallCondition(worst, worstCause)
}

// compactTouched runs synchronous compaction for any of buckets that need
// it given v, committing each bucket's compaction as its own snapshot.
func (t *Table) compactTouched(v *version.Version, buckets []version.BucketKey) error {
	for _, key := range buckets {
		bw := t.bucketWriter(key)
		entries, err := bw.maybeCompact(v, t.nextFileName)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			continue
		}
		next, err := t.commit(entries, manifest.CommitCompact, version.RecordCounts{})
		if err != nil {
			return err
		}
		v = next
	}
	return nil
}

// commit persists entries as a manifest file and list, then publishes them
// as a new snapshot via the version set's optimistic-concurrency commit
// loop, retrying on a lost race.
func (t *Table) commit(entries []manifest.Entry, kind manifest.CommitKind, counts version.RecordCounts) (*version.Version, error) {
	manifestDir := manifest.ManifestDir(t.root)
	manifestPath := filepath.Join(manifestDir, fmt.Sprintf("manifest-%016x.json", atomic.AddUint64(&t.nextManifest, 1)))
	mf := &manifest.File{Entries: entries}
	if err := mf.Write(t.fs, manifestPath); err != nil {
		return nil, fmt.Errorf("rivermark: write manifest: %w", err)
	}

	listPath := filepath.Join(manifestDir, fmt.Sprintf("manifest-list-%016x.json", atomic.AddUint64(&t.nextManifest, 1)))
	ml := &manifest.List{ManifestFiles: []string{manifestPath}}
	if err := ml.Write(t.fs, listPath); err != nil {
		return nil, fmt.Errorf("rivermark: write manifest list: %w", err)
	}

	const maxAttempts = 8
	for attempt := 0; attempt < maxAttempts; attempt++ {
		outcome, err := t.vset.Commit(entries, listPath, kind, t.schemaID, counts)
		if err != nil {
			return nil, fmt.Errorf("rivermark: commit: %w", err)
		}
		switch outcome.Kind {
		case manifest.Committed:
			return t.vset.Current(), nil
		case manifest.Conflict:
			continue
		default:
			return nil, fmt.Errorf("rivermark: commit failed")
		}
	}
	return nil, errors.New("rivermark: commit: too many conflicting concurrent writers")
}

// bucketDir returns the data directory for key.
func (t *Table) bucketDir(key version.BucketKey) string {
	return filepath.Join(t.root, "data", key.Partition, fmt.Sprintf("bucket-%d", key.Bucket))
}

// bucketWriter returns (creating if necessary) the BucketWriter for key.
func (t *Table) bucketWriter(key version.BucketKey) *BucketWriter {
	t.mu.Lock()
	defer t.mu.Unlock()
	if bw, ok := t.writers[key]; ok {
		return bw
	}
	bw := newBucketWriter(key, t.totalBuckets, t.bucketDir(key), t.fs, t.tableCache, t.picker, t.mergeEngine, t.opts.Listeners, t.wbm, t.opts.RateLimiter, int64(t.opts.WriteBufferSize))
	t.writers[key] = bw
	return bw
}

// mergeEngine returns the merge engine for one compaction or scan; the
// caller calls Reset between key groups, so one shared instance is safe to
// hand out as long as scans, flushes and compactions against the same
// bucket never run concurrently with each other, which Table.Write and
// Table.PrepareCommit's single in-process caller already guarantee.
func (t *Table) mergeEngine() mergeengine.Engine {
	return t.opts.MergeEngine
}

// routedTombstone carries a synthetic DELETE record and its target bucket,
// emitted when a cross-partition upsert migrates a key away from the
// partition/bucket it used to live in.
type routedTombstone struct {
	record             dbformat.Record
	tombstonePartition string
	tombstoneBucket    int32
}

// routeRecord resolves r's target bucket. With no schema configured this is
// the original static-hash path into defaultPartition; once a schema with
// partition columns is configured, it derives the partition path, and, if
// the schema's primary key does not cover every partition column, resolves
// the record against the global index to detect a cross-partition upsert.
func (t *Table) routeRecord(r dbformat.Record) (version.BucketKey, *routedTombstone, bool, error) {
	values, err := t.partitionExtractor.Partition(r.Key, r.Value)
	if err != nil {
		return version.BucketKey{}, nil, false, fmt.Errorf("derive partition: %w", err)
	}
	path := partition.Path(values)
	if path == "" {
		path = defaultPartition
	}

	if !t.crossPartitionUpsert || t.gidx == nil {
		bucket := t.assignBucketFor(path, r.Key)
		return version.BucketKey{Partition: path, Bucket: bucket}, nil, false, nil
	}

	partitionID := t.partitionRegistry.IDFor(path)
	plan, err := t.gidx.Resolve(r.Key, partitionID, existsActionFor(t.mergeEngine()), func() int32 {
		return t.assignBucketFor(path, r.Key)
	})
	if err != nil {
		return version.BucketKey{}, nil, false, fmt.Errorf("resolve global index: %w", err)
	}
	if plan.Drop {
		return version.BucketKey{}, nil, true, nil
	}

	if plan.RewritePartition {
		oldPath, ok := t.partitionRegistry.PathFor(plan.OldPartition)
		if !ok {
			return version.BucketKey{}, nil, false, fmt.Errorf("unknown partition id %d", plan.OldPartition)
		}
		return version.BucketKey{Partition: oldPath, Bucket: plan.Bucket}, nil, false, nil
	}

	var tomb *routedTombstone
	if plan.EmitTombstone {
		oldPath, ok := t.partitionRegistry.PathFor(plan.OldPartition)
		if !ok {
			return version.BucketKey{}, nil, false, fmt.Errorf("unknown partition id %d", plan.OldPartition)
		}
		tomb = &routedTombstone{
			record: dbformat.Record{
				Key:      r.Key,
				Kind:     dbformat.Delete,
				Sequence: r.Sequence,
			},
			tombstonePartition: oldPath,
			tombstoneBucket:    plan.OldBucket,
		}
	}
	return version.BucketKey{Partition: path, Bucket: plan.Bucket}, tomb, false, nil
}

// existsActionFor maps the table's configured merge engine to the global
// index's cross-partition-hit action: the engine that would resolve a
// duplicate key within one bucket is the same rule that decides what
// happens when a duplicate key is found in a different partition.
func existsActionFor(engine mergeengine.Engine) globalindex.ExistsAction {
	switch engine.(type) {
	case *mergeengine.PartialUpdate, *mergeengine.Aggregate:
		return globalindex.ExistsActionUseOld
	case *mergeengine.FirstRow:
		return globalindex.ExistsActionSkipNew
	default:
		return globalindex.ExistsActionDelete
	}
}

// assignBucketFor computes the bucket a record for the given partition path
// should land in: a per-partition bucketassign.Assigner when dynamic bucket
// assignment is configured, otherwise the static hash of key modulo the
// table's fixed bucket count.
func (t *Table) assignBucketFor(path string, key []byte) int32 {
	if t.opts.DynamicBucketTargetRowNum <= 0 {
		return bucketassign.HashKey(key, t.opts.BucketKeyExtractor, t.totalBuckets)
	}
	return t.assignerFor(path).Assign()
}

// assignerFor returns (creating if necessary) the dynamic bucket assigner
// for one partition path. Tables in this process run as a single shard.
func (t *Table) assignerFor(path string) *bucketassign.Assigner {
	t.assignMu.Lock()
	defer t.assignMu.Unlock()
	a, ok := t.assigners[path]
	if !ok {
		a = bucketassign.NewAssigner(t.opts.DynamicBucketTargetRowNum, 0, 1)
		t.assigners[path] = a
	}
	return a
}

// nextFileName mints a process-unique data file name for a flush or
// compaction output.
func (t *Table) nextFileName() string {
	return fmt.Sprintf("%016x.sst", atomic.AddUint64(&t.nextFile, 1))
}

// NewSnapshot pins and returns a handle to the table's latest committed
// snapshot.
func (t *Table) NewSnapshot() (*Snapshot, error) {
	inner, err := t.committer.Latest()
	if err != nil {
		return nil, fmt.Errorf("rivermark: read latest snapshot: %w", err)
	}
	if inner == nil {
		return nil, errors.New("rivermark: table has no committed snapshot yet")
	}
	s := newSnapshotHandle(t, inner)
	t.addSnapshot(s)
	return s, nil
}

// RollbackTo truncates the table's committed history back to snapshotID:
// every snapshot newer than it is removed and LATEST is republished to
// point at it, then the table's in-memory version is reloaded from the
// rolled-back state. Buffered-but-unflushed writes held by any BucketWriter
// are unaffected — they are not part of committed history either way.
func (t *Table) RollbackTo(snapshotID int64) error {
	if err := t.committer.Rollback(snapshotID); err != nil {
		return fmt.Errorf("rivermark: rollback: %w", err)
	}
	if err := t.vset.Open(); err != nil {
		return fmt.Errorf("rivermark: rollback: reload version set: %w", err)
	}
	return nil
}

func (t *Table) addSnapshot(s *Snapshot) {
	t.snapMu.Lock()
	defer t.snapMu.Unlock()
	s.prev = t.snapHead.prev
	s.next = &t.snapHead
	t.snapHead.prev.next = s
	t.snapHead.prev = s
}

// releaseSnapshot unlinks s from the table's pinned-snapshot ring. Called by
// Snapshot.Release once its last reference is dropped.
func (t *Table) releaseSnapshot(s *Snapshot) {
	t.snapMu.Lock()
	defer t.snapMu.Unlock()
	s.prev.next = s.next
	s.next.prev = s.prev
	s.prev = nil
	s.next = nil
}

// oldestPinnedSnapshotTime returns the commit time of the oldest snapshot
// still pinned by a live handle, or zero if none are pinned. Used by
// snapshot expiration to avoid reclaiming a snapshot a reader still holds.
func (t *Table) oldestPinnedSnapshotTime() time.Time {
	t.snapMu.Lock()
	defer t.snapMu.Unlock()
	if t.snapHead.next == &t.snapHead {
		return time.Time{}
	}
	return time.UnixMilli(t.snapHead.next.inner.TimeMillis)
}
