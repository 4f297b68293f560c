package rivermark

// options_file.go implements table options file persistence: the
// key=value properties file recording a table's recognised configuration
// options, written alongside its schema so a later Open recovers the
// settings a table was created with.
//
// Format: a flat list of `key=value` lines, one per recognised option,
// comments starting with '#'. No sections: unlike the teacher's
// RocksDB/CFOptions split, every recognised option here applies to the
// whole table, not to a single column family.
//
// Reference: RocksDB v10.7.5
//   - options/options_helper.cc (file format + key table)
//   - options/options_parser.cc (ParseOptionsFile)

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rivermark/rivermark/internal/compression"
	"github.com/rivermark/rivermark/internal/vfs"
)

const (
	// OptionsFileVersion is the current options file format version.
	OptionsFileVersion = 1

	// OptionsFilePrefix is the prefix for options file names.
	OptionsFilePrefix = "OPTIONS-"
)

// WriteOptionsFile writes opts' recognised configuration options to an
// OPTIONS file under schemaDir, named by fileNum.
func WriteOptionsFile(fs vfs.FS, schemaDir string, opts *Options, fileNum uint64) error {
	path := fmt.Sprintf("%s/%s%06d", schemaDir, OptionsFilePrefix, fileNum)

	file, err := fs.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	w := bufio.NewWriter(file)

	fmt.Fprintf(w, "# rivermark options file, version=%d\n", OptionsFileVersion)
	fmt.Fprintf(w, "write-buffer-size=%d\n", opts.WriteBufferSize)
	fmt.Fprintf(w, "write-buffer-spillable=%t\n", opts.WriteBufferSpillable)
	fmt.Fprintf(w, "num-sorted-run.compaction-trigger=%d\n", opts.SortedRunCompactionTrigger)
	fmt.Fprintf(w, "num-sorted-run.stop-trigger=%d\n", opts.SortedRunStopTrigger)
	fmt.Fprintf(w, "compaction.size-ratio=%d\n", opts.CompactionSizeRatio)
	fmt.Fprintf(w, "compaction.max-size-amplification-percent=%d\n", opts.MaxSizeAmplificationPercent)
	fmt.Fprintf(w, "changelog-producer=%s\n", opts.ChangelogProducer)
	if opts.MergeEngine != nil {
		fmt.Fprintf(w, "merge-engine=%s\n", opts.MergeEngine.Name())
	}
	fmt.Fprintf(w, "partial-update.ignore-delete=%t\n", opts.PartialUpdateIgnoreDelete)
	fmt.Fprintf(w, "cross-partition-upsert.index-ttl=%s\n", opts.CrossPartitionUpsertIndexTTL)
	fmt.Fprintf(w, "dynamic-bucket.target-row-num=%d\n", opts.DynamicBucketTargetRowNum)
	fmt.Fprintf(w, "local-sort.max-num-file-handles=%d\n", opts.LocalSortMaxFileHandles)
	fmt.Fprintf(w, "manifest.target-file-size=%d\n", opts.ManifestTargetFileSize)
	fmt.Fprintf(w, "manifest.merge-min-count=%d\n", opts.ManifestMergeMinCount)
	fmt.Fprintf(w, "snapshot.num-retained.min=%d\n", opts.SnapshotNumRetainedMin)
	fmt.Fprintf(w, "snapshot.num-retained.max=%d\n", opts.SnapshotNumRetainedMax)
	fmt.Fprintf(w, "snapshot.time-retained=%s\n", opts.SnapshotTimeRetained)
	fmt.Fprintf(w, "compression=%s\n", compressionTypeToString(opts.Compression))

	if err := w.Flush(); err != nil {
		return err
	}

	return file.Sync()
}

// ParsedOptions represents options parsed from an OPTIONS file.
type ParsedOptions struct {
	FileVersion                  int
	WriteBufferSize              int64
	WriteBufferSpillable         bool
	SortedRunCompactionTrigger   int
	SortedRunStopTrigger         int
	CompactionSizeRatio          int
	MaxSizeAmplificationPercent  int
	ChangelogProducer            string
	MergeEngine                  string
	PartialUpdateIgnoreDelete    bool
	CrossPartitionUpsertIndexTTL time.Duration
	DynamicBucketTargetRowNum    int64
	LocalSortMaxFileHandles      int
	ManifestTargetFileSize       int64
	ManifestMergeMinCount        int
	SnapshotNumRetainedMin       int
	SnapshotNumRetainedMax       int
	SnapshotTimeRetained         time.Duration
	Compression                  compression.Type
}

// ReadOptionsFile reads and parses an OPTIONS file.
func ReadOptionsFile(fs vfs.FS, path string) (*ParsedOptions, error) {
	file, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	return ParseOptionsFile(file)
}

// ParseOptionsFile parses options from a reader.
func ParseOptionsFile(r io.Reader) (*ParsedOptions, error) {
	def := DefaultOptions()
	opts := &ParsedOptions{
		FileVersion:                  OptionsFileVersion,
		WriteBufferSize:              int64(def.WriteBufferSize),
		SortedRunCompactionTrigger:   def.SortedRunCompactionTrigger,
		SortedRunStopTrigger:         def.SortedRunStopTrigger,
		CompactionSizeRatio:          def.CompactionSizeRatio,
		MaxSizeAmplificationPercent:  def.MaxSizeAmplificationPercent,
		ChangelogProducer:            def.ChangelogProducer.String(),
		LocalSortMaxFileHandles:      def.LocalSortMaxFileHandles,
		ManifestTargetFileSize:       def.ManifestTargetFileSize,
		ManifestMergeMinCount:        def.ManifestMergeMinCount,
		SnapshotNumRetainedMin:       def.SnapshotNumRetainedMin,
		SnapshotNumRetainedMax:       def.SnapshotNumRetainedMax,
		SnapshotTimeRetained:         def.SnapshotTimeRetained,
		Compression:                 compression.NoCompression,
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "write-buffer-size":
			opts.WriteBufferSize, _ = strconv.ParseInt(value, 10, 64)
		case "write-buffer-spillable":
			opts.WriteBufferSpillable, _ = strconv.ParseBool(value)
		case "num-sorted-run.compaction-trigger":
			opts.SortedRunCompactionTrigger, _ = strconv.Atoi(value)
		case "num-sorted-run.stop-trigger":
			opts.SortedRunStopTrigger, _ = strconv.Atoi(value)
		case "compaction.size-ratio":
			opts.CompactionSizeRatio, _ = strconv.Atoi(value)
		case "compaction.max-size-amplification-percent":
			opts.MaxSizeAmplificationPercent, _ = strconv.Atoi(value)
		case "changelog-producer":
			opts.ChangelogProducer = value
		case "merge-engine":
			opts.MergeEngine = value
		case "partial-update.ignore-delete":
			opts.PartialUpdateIgnoreDelete, _ = strconv.ParseBool(value)
		case "cross-partition-upsert.index-ttl":
			opts.CrossPartitionUpsertIndexTTL, _ = time.ParseDuration(value)
		case "dynamic-bucket.target-row-num":
			opts.DynamicBucketTargetRowNum, _ = strconv.ParseInt(value, 10, 64)
		case "local-sort.max-num-file-handles":
			opts.LocalSortMaxFileHandles, _ = strconv.Atoi(value)
		case "manifest.target-file-size":
			opts.ManifestTargetFileSize, _ = strconv.ParseInt(value, 10, 64)
		case "manifest.merge-min-count":
			opts.ManifestMergeMinCount, _ = strconv.Atoi(value)
		case "snapshot.num-retained.min":
			opts.SnapshotNumRetainedMin, _ = strconv.Atoi(value)
		case "snapshot.num-retained.max":
			opts.SnapshotNumRetainedMax, _ = strconv.Atoi(value)
		case "snapshot.time-retained":
			opts.SnapshotTimeRetained, _ = time.ParseDuration(value)
		case "compression":
			opts.Compression = stringToCompressionType(value)
		}
	}

	return opts, scanner.Err()
}

func compressionTypeToString(t compression.Type) string {
	switch t {
	case compression.NoCompression:
		return "none"
	case compression.SnappyCompression:
		return "snappy"
	case compression.ZlibCompression:
		return "zlib"
	case compression.LZ4Compression:
		return "lz4"
	case compression.LZ4HCCompression:
		return "lz4hc"
	case compression.ZstdCompression:
		return "zstd"
	default:
		return "none"
	}
}

func stringToCompressionType(s string) compression.Type {
	switch s {
	case "snappy":
		return compression.SnappyCompression
	case "zlib":
		return compression.ZlibCompression
	case "lz4":
		return compression.LZ4Compression
	case "lz4hc":
		return compression.LZ4HCCompression
	case "zstd":
		return compression.ZstdCompression
	default:
		return compression.NoCompression
	}
}

// GetLatestOptionsFile finds the latest OPTIONS file in the schema directory.
func GetLatestOptionsFile(fs vfs.FS, schemaDir string) (string, error) {
	entries, err := fs.ListDir(schemaDir)
	if err != nil {
		return "", err
	}

	var latestFile string
	var latestNum uint64

	for _, entry := range entries {
		if !strings.HasPrefix(entry, OptionsFilePrefix) {
			continue
		}

		numStr := entry[len(OptionsFilePrefix):]
		num, err := strconv.ParseUint(numStr, 10, 64)
		if err != nil {
			continue
		}

		if num > latestNum {
			latestNum = num
			latestFile = entry
		}
	}

	if latestFile == "" {
		return "", fmt.Errorf("no OPTIONS file found")
	}

	return schemaDir + "/" + latestFile, nil
}
