package rivermark

// bucket_writer.go implements BucketWriter: the single-threaded executor
// that owns one (partition, bucket) LSM instance — flushing a commit's
// records to a level-0 file and, once committed, deciding whether the
// bucket's sorted runs need compacting.
//
// Reference: RocksDB v10.7.5's per-column-family state (db/column_family.h)
// owned one memtable-switch/flush/compaction pipeline per family. Rivermark
// has no column families; the same one-pipeline-per-unit shape instead
// scopes to one (partition, bucket), since that is this engine's unit of
// compaction and its own contiguous key space.

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rivermark/rivermark/internal/compaction"
	"github.com/rivermark/rivermark/internal/dbformat"
	"github.com/rivermark/rivermark/internal/flush"
	"github.com/rivermark/rivermark/internal/manifest"
	"github.com/rivermark/rivermark/internal/memtable"
	"github.com/rivermark/rivermark/internal/mergeengine"
	"github.com/rivermark/rivermark/internal/table"
	"github.com/rivermark/rivermark/internal/version"
	"github.com/rivermark/rivermark/internal/vfs"
)

// BucketWriter drives buffering, flush, and compaction for one
// (partition, bucket) LSM instance. Incoming records accumulate in a
// long-lived memtable across calls to Write until either the caller forces
// a flush via PrepareCommit or the buffer crosses writeBufferSize, mirroring
// write(record)/prepare_commit(wait_for_compaction): a buffered-but-unflushed
// record is not yet crash-durable, the cost this engine pays (in place of a
// WAL) for not flushing a throwaway memtable on every single write.
type BucketWriter struct {
	key          version.BucketKey
	totalBuckets int32
	dir          string
	fs           vfs.FS
	tableCache   *table.TableCache
	picker       *compaction.Picker
	engine       func() mergeengine.Engine
	listeners    []EventListener
	wbm          *WriteBufferManager
	limiter      RateLimiter

	writeBufferSize int64

	mu  sync.Mutex
	mem *memtable.MemTable

	jobID uint64
}

func newBucketWriter(key version.BucketKey, totalBuckets int32, dir string, fs vfs.FS, tableCache *table.TableCache, picker *compaction.Picker, engine func() mergeengine.Engine, listeners []EventListener, wbm *WriteBufferManager, limiter RateLimiter, writeBufferSize int64) *BucketWriter {
	return &BucketWriter{
		key:             key,
		totalBuckets:    totalBuckets,
		dir:             dir,
		fs:              fs,
		tableCache:      tableCache,
		picker:          picker,
		engine:          engine,
		listeners:       listeners,
		wbm:             wbm,
		limiter:         limiter,
		writeBufferSize: writeBufferSize,
		mem:             memtable.NewMemTable(dbformat.BytewiseCompare),
	}
}

// cfName is the (partition, bucket) label BucketWriter reports to
// EventListener callbacks in place of a column family name.
func (bw *BucketWriter) cfName() string {
	return fmt.Sprintf("%s/%d", bw.key.Partition, bw.key.Bucket)
}

// Write appends records to the bucket's in-memory buffer and reports
// whether the buffer has now crossed writeBufferSize; the caller (Table)
// decides from that signal whether to flush this bucket as part of the
// current commit.
func (bw *BucketWriter) Write(records []dbformat.Record) (bufferFull bool, err error) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	before := bw.mem.ApproximateMemoryUsage()
	for _, r := range records {
		bw.mem.AddRecord(r)
	}
	after := bw.mem.ApproximateMemoryUsage()
	if bw.wbm != nil && after > before {
		bw.wbm.ReserveMem(uint64(after - before))
	}
	return bw.writeBufferSize > 0 && int64(after) >= bw.writeBufferSize, nil
}

// BufferedBytes reports the approximate memory held by the unflushed
// buffer.
func (bw *BucketWriter) BufferedBytes() int64 {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return int64(bw.mem.ApproximateMemoryUsage())
}

// PrepareCommit flushes the bucket's current buffer, if non-empty, to a new
// level-0 file and returns the manifest ADD entry for it. ok is false when
// the buffer was empty, in which case entry is the zero value and no file
// is written.
func (bw *BucketWriter) PrepareCommit(nextFileName func() string) (entry manifest.Entry, ok bool, err error) {
	bw.mu.Lock()
	mem := bw.mem
	if mem.Count() == 0 {
		bw.mu.Unlock()
		return manifest.Entry{}, false, nil
	}
	bw.mem = memtable.NewMemTable(dbformat.BytewiseCompare)
	bw.mu.Unlock()

	entry, err = bw.flushMemTable(mem, nextFileName)
	if err != nil {
		return manifest.Entry{}, false, err
	}
	return entry, true, nil
}

// flushMemTable writes mem to a new level-0 file, returning the manifest
// ADD entry for it.
func (bw *BucketWriter) flushMemTable(mem *memtable.MemTable, nextFileName func() string) (manifest.Entry, error) {
	if err := bw.fs.MkdirAll(bw.dir, 0o755); err != nil {
		return manifest.Entry{}, fmt.Errorf("bucket %s/%d: mkdir: %w", bw.key.Partition, bw.key.Bucket, err)
	}

	jobID := int(atomic.AddUint64(&bw.jobID, 1))
	begin := &FlushJobInfo{CFName: bw.cfName(), JobID: jobID, FlushReason: FlushReasonWriteBufferFull}
	bw.fireFlushBegin(begin)

	usage := uint64(mem.ApproximateMemoryUsage())
	target := flush.Target{BucketDir: bw.dir, FS: bw.fs, NextFileName: nextFileName}
	meta, err := flush.NewJob(target, mem).Run()
	if bw.wbm != nil {
		bw.wbm.FreeMem(usage)
	}
	if err != nil {
		bw.fireFlushCompleted(&FlushJobInfo{CFName: bw.cfName(), JobID: jobID, FlushReason: begin.FlushReason})
		return manifest.Entry{}, err
	}

	if bw.limiter != nil {
		bw.limiter.Request(meta.FileSize, IOPriorityHigh)
	}

	bw.fireFlushCompleted(&FlushJobInfo{
		CFName:        bw.cfName(),
		FilePath:      filepath.Join(bw.dir, meta.FileName),
		JobID:         jobID,
		SmallestSeqno: meta.MinSequenceNumber,
		LargestSeqno:  meta.MaxSequenceNumber,
		FlushReason:   begin.FlushReason,
	})
	bw.fireTableFileCreated(&TableFileCreationInfo{
		CFName:   bw.cfName(),
		FilePath: filepath.Join(bw.dir, meta.FileName),
		FileSize: uint64(meta.FileSize),
		JobID:    jobID,
		Reason:   TableFileCreationReasonFlush,
	})

	return manifest.Entry{
		Kind:         manifest.KindAdd,
		Partition:    bw.key.Partition,
		Bucket:       bw.key.Bucket,
		TotalBuckets: bw.totalBuckets,
		Level:        0,
		File:         meta,
	}, nil
}

// maybeCompact checks v for this bucket and, if a compaction is due, runs
// it synchronously and returns the manifest entries (deletes for the
// inputs, adds for the outputs) the caller should commit.
func (bw *BucketWriter) maybeCompact(v *version.Version, nextFileName func() string) ([]manifest.Entry, error) {
	if !bw.picker.NeedsCompaction(v, bw.key) {
		return nil, nil
	}

	c := bw.picker.PickCompaction(v, bw.key)
	if c == nil {
		return nil, nil
	}

	jobID := int(atomic.AddUint64(&bw.jobID, 1))
	inputPaths := make([]string, 0, c.NumInputFiles())
	for _, in := range c.Inputs {
		for _, f := range in.Files {
			inputPaths = append(inputPaths, filepath.Join(bw.dir, f.FileName))
		}
	}
	bw.fireCompactionBegin(&CompactionJobInfo{
		CFName:           bw.cfName(),
		JobID:            jobID,
		OutputLevel:      int(c.OutputLevel),
		InputFiles:       inputPaths,
		NumInputFiles:    c.NumInputFiles(),
		CompactionReason: compactionReasonFor(c.Reason),
	})

	job := compaction.NewJob(c, bw.dir, bw.fs, bw.tableCache, bw.engine(), nextFileName)
	outputs, err := job.Run()
	if err != nil {
		bw.fireCompactionCompleted(&CompactionJobInfo{
			CFName: bw.cfName(), JobID: jobID, Status: err, OutputLevel: int(c.OutputLevel),
		})
		return nil, fmt.Errorf("bucket %s/%d: compaction: %w", bw.key.Partition, bw.key.Bucket, err)
	}

	entries := c.DeleteEntries()
	outputPaths := make([]string, 0, len(outputs))
	for _, meta := range outputs {
		if bw.limiter != nil {
			bw.limiter.Request(meta.FileSize, IOPriorityLow)
		}
		entries = append(entries, manifest.Entry{
			Kind:         manifest.KindAdd,
			Partition:    bw.key.Partition,
			Bucket:       bw.key.Bucket,
			TotalBuckets: bw.totalBuckets,
			Level:        c.OutputLevel,
			File:         meta,
		})
		outputPaths = append(outputPaths, filepath.Join(bw.dir, meta.FileName))
		bw.fireTableFileCreated(&TableFileCreationInfo{
			CFName:   bw.cfName(),
			FilePath: filepath.Join(bw.dir, meta.FileName),
			FileSize: uint64(meta.FileSize),
			JobID:    jobID,
			Reason:   TableFileCreationReasonCompaction,
		})
	}
	bw.fireCompactionCompleted(&CompactionJobInfo{
		CFName:           bw.cfName(),
		JobID:            jobID,
		OutputLevel:      int(c.OutputLevel),
		InputFiles:       inputPaths,
		OutputFiles:      outputPaths,
		NumInputFiles:    c.NumInputFiles(),
		NumOutputFiles:   len(outputs),
		CompactionReason: compactionReasonFor(c.Reason),
	})
	return entries, nil
}

func (bw *BucketWriter) fireFlushBegin(info *FlushJobInfo) {
	for _, l := range bw.listeners {
		l.OnFlushBegin(info)
	}
}

func (bw *BucketWriter) fireFlushCompleted(info *FlushJobInfo) {
	for _, l := range bw.listeners {
		l.OnFlushCompleted(info)
	}
}

func (bw *BucketWriter) fireCompactionBegin(info *CompactionJobInfo) {
	for _, l := range bw.listeners {
		l.OnCompactionBegin(info)
	}
}

func (bw *BucketWriter) fireCompactionCompleted(info *CompactionJobInfo) {
	for _, l := range bw.listeners {
		l.OnCompactionCompleted(info)
	}
}

func (bw *BucketWriter) fireTableFileCreated(info *TableFileCreationInfo) {
	for _, l := range bw.listeners {
		l.OnTableFileCreated(info)
	}
}

// compactionReasonFor maps an internal compaction reason to the
// EventListener-facing CompactionReason enum.
func compactionReasonFor(r compaction.Reason) CompactionReason {
	switch r {
	case compaction.ReasonSizeAmplification:
		return CompactionReasonLevelMaxLevelSize
	case compaction.ReasonSizeRatio:
		return CompactionReasonLevelL0FilesNum
	default:
		return CompactionReasonUnknown
	}
}
