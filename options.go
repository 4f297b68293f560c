package rivermark

// options.go implements table configuration options.

import (
	"time"

	"github.com/rivermark/rivermark/internal/checksum"
	"github.com/rivermark/rivermark/internal/compression"
	"github.com/rivermark/rivermark/internal/logging"
	"github.com/rivermark/rivermark/internal/mergeengine"
	"github.com/rivermark/rivermark/internal/partition"
	"github.com/rivermark/rivermark/internal/schema"
	"github.com/rivermark/rivermark/internal/vfs"
)

// Logger is an alias for the logging.Logger interface.
// This allows users to pass their own logger implementation.
type Logger = logging.Logger

// CompressionType is an alias for the compression type.
type CompressionType = compression.Type

// Compression type constants.
const (
	CompressionNone   = compression.NoCompression
	CompressionSnappy = compression.SnappyCompression
	CompressionZstd   = compression.ZstdCompression
	CompressionLZ4    = compression.LZ4Compression
)

// Compression type constants
const (
	NoCompression     = compression.NoCompression
	SnappyCompression = compression.SnappyCompression
	ZlibCompression   = compression.ZlibCompression
	LZ4Compression    = compression.LZ4Compression
	LZ4HCCompression  = compression.LZ4HCCompression
	ZstdCompression   = compression.ZstdCompression
)

// ChecksumType is an alias for the checksum type.
type ChecksumType = checksum.Type

// Checksum type constants
const (
	ChecksumTypeNoChecksum = checksum.TypeNoChecksum
	ChecksumTypeCRC32C     = checksum.TypeCRC32C
	ChecksumTypeXXHash     = checksum.TypeXXHash
	ChecksumTypeXXHash64   = checksum.TypeXXHash64
	ChecksumTypeXXH3       = checksum.TypeXXH3
)

// ChangelogProducer selects how a bucket's compaction pipeline derives the
// changelog files consumed by streaming readers.
type ChangelogProducer int

const (
	// ChangelogProducerNone emits no changelog; streaming readers must fall
	// back to full-snapshot diffing.
	ChangelogProducerNone ChangelogProducer = iota

	// ChangelogProducerInput emits the raw input records of each commit
	// verbatim, before merge-engine resolution. Cheapest, but exposes
	// un-merged UpdateBefore/UpdateAfter pairs to readers.
	ChangelogProducerInput

	// ChangelogProducerFullCompaction emits a changelog only on compactions
	// that fold every sorted run together, by diffing the merged result
	// against the previous full compaction's output.
	ChangelogProducerFullCompaction

	// ChangelogProducerLookup emits a changelog on every compaction by
	// looking up each changed key's prior value in the bucket's existing
	// sorted runs before applying the merge engine.
	ChangelogProducerLookup
)

// String returns the configuration string for the changelog producer.
func (c ChangelogProducer) String() string {
	switch c {
	case ChangelogProducerNone:
		return "none"
	case ChangelogProducerInput:
		return "input"
	case ChangelogProducerFullCompaction:
		return "full-compaction"
	case ChangelogProducerLookup:
		return "lookup"
	default:
		return "unknown"
	}
}

// Options contains all configuration options for opening a table's buckets.
//
// Field names and defaults mirror the recognised configuration keys: the
// doc comment on each field names the key it implements.
type Options struct {
	// CreateIfMissing causes Open to create the table's directory layout if
	// it does not exist.
	CreateIfMissing bool

	// ErrorIfExists causes Open to return an error if the table already
	// exists.
	ErrorIfExists bool

	// ParanoidChecks enables additional checks for data integrity.
	ParanoidChecks bool

	// FS is the filesystem implementation to use.
	// If nil, the OS filesystem is used.
	FS vfs.FS

	// Comparator defines the order of keys within a bucket.
	// If nil, a default bytewise comparator is used.
	Comparator Comparator

	// WriteBufferSize ("write-buffer-size") is the size in bytes a
	// BucketWriter's memtable may grow to before it is flushed to a
	// level-0 sorted run.
	// Default: 64MB
	WriteBufferSize int

	// WriteBufferSpillable ("write-buffer-spillable") allows a writer to
	// spill its memtable to a local sorted file instead of blocking the
	// caller when WriteBufferSize is exceeded and a flush is already in
	// flight.
	// Default: false
	WriteBufferSpillable bool

	// MaxWriteBufferNumber is the maximum number of memtables (active plus
	// immutable, not-yet-flushed) a BucketWriter keeps in memory before
	// stalling writes.
	// Default: 2
	MaxWriteBufferNumber int

	// MaxOpenFiles is the maximum number of sorted-run files the table
	// cache keeps open across all buckets.
	// Default: 1000
	MaxOpenFiles int

	// BlockSize is the approximate size of data blocks within data files.
	// Default: 4KB
	BlockSize int

	// BlockRestartInterval is how often to create restart points in blocks.
	// Default: 16
	BlockRestartInterval int

	// ChecksumType specifies the checksum algorithm for data files.
	// Default: CRC32C
	ChecksumType ChecksumType

	// FormatVersion is the data file format version.
	// Default: 3
	FormatVersion uint32

	// MergeEngine ("merge-engine") resolves the group of CDC records
	// sharing one primary key down to the row a reader observes, during
	// both compaction and point lookups. If nil, DuplicateKeyInMerge
	// behavior applies: the last record by sequence wins and deletes
	// remove the key (mergeengine.Deduplicate).
	MergeEngine mergeengine.Engine

	// PartialUpdateIgnoreDelete ("partial-update.ignore-delete") drops
	// DELETE records instead of failing them when MergeEngine is a
	// mergeengine.PartialUpdate. Ignored for other engines.
	PartialUpdateIgnoreDelete bool

	// BucketKeyExtractor ("bucket-key") computes the bucket-assignment key
	// from a record's primary key. When nil, the full primary key (with
	// the partition columns trimmed) is hashed directly.
	BucketKeyExtractor PrefixExtractor

	// Schema declares the table's typed row shape: its columns, and which
	// (possibly empty) subsets are partition and primary-key columns. If
	// nil, Open assumes a single unpartitioned schema with no declared
	// primary key, the same as every Table this field didn't exist for.
	Schema *schema.Schema

	// PartitionExtractor computes a record's ordered partition-column
	// values from its raw key and value bytes. Ignored (and unused) when
	// Schema declares no partition columns. When Schema declares
	// partition columns but PartitionExtractor is nil, Open returns an
	// error: there is no way to derive a partition path otherwise.
	PartitionExtractor partition.Extractor

	// SortedRunCompactionTrigger ("num-sorted-run.compaction-trigger") is
	// the number of sorted runs in a bucket that makes it eligible for
	// background compaction.
	// Default: 5
	SortedRunCompactionTrigger int

	// SortedRunStopTrigger ("num-sorted-run.stop-trigger") is the number
	// of sorted runs that stalls writes into a bucket until compaction
	// reduces the count. Must be >= SortedRunCompactionTrigger.
	// Default: SortedRunCompactionTrigger + 1
	SortedRunStopTrigger int

	// CompactionSizeRatio ("compaction.size-ratio", percent) is the
	// threshold below which a contiguous group of sorted runs qualifies
	// for size-ratio compaction: each run's size must be within this
	// percentage of the running total of smaller runs already in the
	// group.
	// Default: 1
	CompactionSizeRatio int

	// MaxSizeAmplificationPercent triggers a full-bucket compaction when
	// the ratio of non-base-run size to base-run size exceeds this
	// percentage.
	// Default: 200
	MaxSizeAmplificationPercent int

	// MaxMergeWidth is the maximum number of sorted runs folded into a
	// single compaction.
	// Default: unlimited
	MaxMergeWidth int

	// BloomFilterBitsPerKey is the number of bits per key for bloom
	// filters. 0 disables bloom filters.
	// Default: 10
	BloomFilterBitsPerKey int

	// DisableAutoCompactions disables background compaction. When true, no
	// write stalling occurs based on sorted-run count.
	// Default: false
	DisableAutoCompactions bool

	// CrossPartitionUpsertIndexTTL ("cross-partition-upsert.index-ttl")
	// bounds how long an entry may live in the global index before it is
	// considered expired and its partition routing is recomputed.
	// Default: 0 (disabled)
	CrossPartitionUpsertIndexTTL time.Duration

	// DynamicBucketTargetRowNum ("dynamic-bucket.target-row-num") is the
	// target row count per bucket used by dynamic bucket assignment to
	// decide when to split a bucket.
	// Default: 0 (disabled; bucket count is static)
	DynamicBucketTargetRowNum int64

	// LocalSortMaxFileHandles ("local-sort.max-num-file-handles") bounds
	// the external sort's merge fan-in: the number of spill files
	// merged together in one pass.
	// Default: 16
	LocalSortMaxFileHandles int

	// ManifestTargetFileSize ("manifest.target-file-size") is the size in
	// bytes a manifest file list is allowed to reach before the manifest
	// compaction policy rewrites it.
	// Default: 8MB
	ManifestTargetFileSize int64

	// ManifestMergeMinCount ("manifest.merge-min-count") is the minimum
	// number of manifest files that must accumulate before they are
	// merged into one.
	// Default: 30
	ManifestMergeMinCount int

	// SnapshotNumRetainedMin ("snapshot.num-retained.min") is the minimum
	// number of snapshots kept regardless of age.
	// Default: 10
	SnapshotNumRetainedMin int

	// SnapshotNumRetainedMax ("snapshot.num-retained.max") is the maximum
	// number of snapshots kept regardless of age.
	// Default: 2147483647 (effectively unbounded)
	SnapshotNumRetainedMax int

	// SnapshotTimeRetained ("snapshot.time-retained") is the minimum
	// duration a snapshot is retained before it becomes eligible for
	// expiration, subject to SnapshotNumRetainedMin/Max.
	// Default: 1 hour
	SnapshotTimeRetained time.Duration

	// ChangelogProducer ("changelog-producer") selects how changelog
	// files are derived from compaction.
	// Default: ChangelogProducerNone
	ChangelogProducer ChangelogProducer

	// RateLimiter controls the rate of I/O operations.
	// If nil, no rate limiting is applied.
	RateLimiter RateLimiter

	// Compression specifies the compression algorithm for data blocks.
	// Default: NoCompression
	Compression CompressionType

	// UseDirectReads enables O_DIRECT for reading data.
	// This bypasses the OS page cache and reads directly from disk.
	// Default: false
	UseDirectReads bool

	// UseDirectIOForFlushAndCompaction enables O_DIRECT for background
	// flush and compaction writes. This bypasses the OS page cache.
	// Default: false
	UseDirectIOForFlushAndCompaction bool

	// Logger is the logger for table operations.
	// If nil, a default logger writing to stderr is used.
	Logger Logger

	// Listeners receive flush/compaction/file lifecycle notifications.
	Listeners []EventListener
}

// DefaultOptions returns a new Options with default values.
func DefaultOptions() *Options {
	return &Options{
		CreateIfMissing:                  false,
		ErrorIfExists:                    false,
		ParanoidChecks:                   false,
		FS:                               nil, // Will use vfs.Default()
		Comparator:                       nil, // Will use BytewiseComparator
		WriteBufferSize:                  64 * 1024 * 1024,
		WriteBufferSpillable:             false,
		MaxWriteBufferNumber:             2,
		MaxOpenFiles:                     1000,
		BlockSize:                        4096,
		BlockRestartInterval:             16,
		ChecksumType:                     ChecksumTypeCRC32C,
		FormatVersion:                    3,
		MergeEngine:                      &mergeengine.Deduplicate{},
		SortedRunCompactionTrigger:       5,
		SortedRunStopTrigger:             6,
		CompactionSizeRatio:              1,
		MaxSizeAmplificationPercent:      200,
		MaxMergeWidth:                    1<<31 - 1,
		BloomFilterBitsPerKey:            10,
		DisableAutoCompactions:           false,
		LocalSortMaxFileHandles:          16,
		ManifestTargetFileSize:           8 * 1024 * 1024,
		ManifestMergeMinCount:            30,
		SnapshotNumRetainedMin:           10,
		SnapshotNumRetainedMax:           1<<31 - 1,
		SnapshotTimeRetained:             time.Hour,
		ChangelogProducer:                ChangelogProducerNone,
		UseDirectReads:                   false,
		UseDirectIOForFlushAndCompaction: false,
		Logger:                           nil, // Will use defaultLogger
	}
}

// ReadOptions contains options for read operations.
type ReadOptions struct {
	// VerifyChecksums enables checksum verification when reading.
	VerifyChecksums bool

	// FillCache indicates whether to fill the block cache on reads.
	FillCache bool

	// Snapshot pins the read to a specific committed snapshot.
	// If nil, the table's current snapshot is used.
	Snapshot *Snapshot

	// IterateUpperBound sets an upper bound for iteration.
	// The iterator will stop before any key >= this bound.
	IterateUpperBound []byte

	// IterateLowerBound sets a lower bound for iteration.
	// The iterator will skip any key < this bound.
	IterateLowerBound []byte
}

// DefaultReadOptions returns ReadOptions with default values.
func DefaultReadOptions() *ReadOptions {
	return &ReadOptions{
		VerifyChecksums: true,
		FillCache:       true,
		Snapshot:        nil,
	}
}

// WriteOptions contains options for write operations.
type WriteOptions struct {
	// Sync causes a commit's new files and manifest entries to be fsynced
	// before Write returns.
	Sync bool
}

// DefaultWriteOptions returns WriteOptions with default values.
func DefaultWriteOptions() *WriteOptions {
	return &WriteOptions{
		Sync: false,
	}
}

// FlushOptions contains options for flush operations.
type FlushOptions struct {
	// Wait indicates whether to wait for the flush to complete.
	Wait bool

	// AllowWriteStall indicates whether to allow write stalls.
	AllowWriteStall bool
}

// DefaultFlushOptions returns FlushOptions with default values.
func DefaultFlushOptions() *FlushOptions {
	return &FlushOptions{
		Wait:            true,
		AllowWriteStall: false,
	}
}
