package table

import (
	"os"
	"path/filepath"
	"testing"
)

// BytesFile is an in-memory ReadableFile over a byte slice.
type BytesFile struct {
	data []byte
}

func (f *BytesFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(f.data)) {
		return 0, nil
	}
	return copy(p, f.data[off:]), nil
}

func (f *BytesFile) Close() error { return nil }

func (f *BytesFile) Size() int64 { return int64(len(f.data)) }

func TestGoldenDataFileProperties(t *testing.T) {
	goldenPath := filepath.Join("..", "..", "testdata", "golden", "sst", "simple.sst")
	data, err := os.ReadFile(goldenPath)
	if err != nil {
		t.Skipf("Golden file not found: %v", err)
	}

	file := &BytesFile{data: data}
	reader, err := Open(file, ReaderOptions{})
	if err != nil {
		t.Fatalf("Failed to open data file: %v", err)
	}
	defer reader.Close()

	props, err := reader.Properties()
	if err != nil {
		t.Fatalf("Failed to get properties: %v", err)
	}

	t.Logf("DataSize: %d", props.DataSize)
	t.Logf("IndexSize: %d", props.IndexSize)
	t.Logf("NumDataBlocks: %d", props.NumDataBlocks)
	t.Logf("NumEntries: %d", props.NumEntries)
	t.Logf("RawKeySize: %d", props.RawKeySize)
	t.Logf("RawValueSize: %d", props.RawValueSize)
	t.Logf("PartitionID: %d", props.PartitionID)
	t.Logf("BucketID: %d", props.BucketID)
	t.Logf("ComparatorName: %s", props.ComparatorName)
	t.Logf("CompressionName: %s", props.CompressionName)
	t.Logf("CreationTime: %d", props.CreationTime)

	if props.NumDataBlocks != 1 {
		t.Errorf("NumDataBlocks = %d, want 1", props.NumDataBlocks)
	}
	if props.NumEntries != 1 {
		t.Errorf("NumEntries = %d, want 1", props.NumEntries)
	}
	if props.RawKeySize != 12 {
		t.Errorf("RawKeySize = %d, want 12", props.RawKeySize)
	}
	if props.RawValueSize != 6 {
		t.Errorf("RawValueSize = %d, want 6", props.RawValueSize)
	}
}

func TestPropertiesLazyLoading(t *testing.T) {
	goldenPath := filepath.Join("..", "..", "testdata", "golden", "sst", "simple.sst")
	data, err := os.ReadFile(goldenPath)
	if err != nil {
		t.Skipf("Golden file not found: %v", err)
	}

	file := &BytesFile{data: data}
	reader, err := Open(file, ReaderOptions{})
	if err != nil {
		t.Fatalf("Failed to open data file: %v", err)
	}
	defer reader.Close()

	props1, err := reader.Properties()
	if err != nil {
		t.Fatalf("Failed to get properties: %v", err)
	}

	props2, err := reader.Properties()
	if err != nil {
		t.Fatalf("Failed to get properties second time: %v", err)
	}

	if props1 != props2 {
		t.Error("Properties should be cached")
	}
}

func TestPropertyConstants(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"PropDataSize", PropDataSize},
		{"PropIndexSize", PropIndexSize},
		{"PropRawKeySize", PropRawKeySize},
		{"PropRawValueSize", PropRawValueSize},
		{"PropNumDataBlocks", PropNumDataBlocks},
		{"PropNumEntries", PropNumEntries},
		{"PropPartitionID", PropPartitionID},
		{"PropBucketID", PropBucketID},
		{"PropComparator", PropComparator},
		{"PropCompression", PropCompression},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if len(tt.value) == 0 {
				t.Errorf("%s is empty", tt.name)
			}
			if len(tt.value) < 10 || tt.value[:10] != "rivermark." {
				t.Errorf("%s = %q, expected to start with 'rivermark.'", tt.name, tt.value)
			}
		})
	}
}

func TestPropertiesUserCollected(t *testing.T) {
	goldenPath := filepath.Join("..", "..", "testdata", "golden", "sst", "simple.sst")
	data, err := os.ReadFile(goldenPath)
	if err != nil {
		t.Skipf("Golden file not found: %v", err)
	}

	file := &BytesFile{data: data}
	reader, err := Open(file, ReaderOptions{})
	if err != nil {
		t.Fatalf("Failed to open data file: %v", err)
	}
	defer reader.Close()

	props, err := reader.Properties()
	if err != nil {
		t.Fatalf("Failed to get properties: %v", err)
	}

	if len(props.UserCollectedProperties) > 0 {
		t.Log("User-collected properties:")
		for k, v := range props.UserCollectedProperties {
			t.Logf("  %s: %q", k, v)
		}
	} else {
		t.Log("No user-collected properties")
	}
}

func TestPropertiesDefaults(t *testing.T) {
	props := &TableProperties{}

	if props.DataSize != 0 {
		t.Error("DataSize should default to 0")
	}
	if props.NumEntries != 0 {
		t.Error("NumEntries should default to 0")
	}
	if props.PartitionID != 0 {
		t.Error("PartitionID should default to 0")
	}
	if props.ComparatorName != "" {
		t.Error("ComparatorName should default to empty")
	}
}

func TestPropertyNamesFormat(t *testing.T) {
	names := []string{
		PropDataSize,
		PropIndexSize,
		PropRawKeySize,
		PropRawValueSize,
		PropNumDataBlocks,
		PropNumEntries,
		PropPartitionID,
		PropBucketID,
		PropComparator,
		PropCompression,
		PropDeletedKeys,
		PropFormatVersion,
		PropFilterPolicy,
		PropCreationTime,
	}

	for _, name := range names {
		if len(name) < 10 {
			t.Errorf("Property name %q is too short", name)
		}
		if name[:10] != "rivermark." {
			t.Errorf("Property %q should start with 'rivermark.'", name)
		}
	}
}

func TestPropertiesFormatVersion(t *testing.T) {
	goldenPath := filepath.Join("..", "..", "testdata", "golden", "sst", "simple.sst")
	data, err := os.ReadFile(goldenPath)
	if err != nil {
		t.Skipf("Golden file not found: %v", err)
	}

	file := &BytesFile{data: data}
	reader, err := Open(file, ReaderOptions{})
	if err != nil {
		t.Fatalf("Failed to open data file: %v", err)
	}
	defer reader.Close()

	props, err := reader.Properties()
	if err != nil {
		t.Fatalf("Failed to get properties: %v", err)
	}

	t.Logf("FormatVersion from properties: %d", props.FormatVersion)

	footer := reader.Footer()
	if props.FormatVersion != 0 && props.FormatVersion != uint64(footer.FormatVersion) {
		t.Logf("Note: FormatVersion in props (%d) differs from footer (%d)",
			props.FormatVersion, footer.FormatVersion)
	}
}

func TestPropertiesCompressionInfo(t *testing.T) {
	goldenPath := filepath.Join("..", "..", "testdata", "golden", "sst", "simple.sst")
	data, err := os.ReadFile(goldenPath)
	if err != nil {
		t.Skipf("Golden file not found: %v", err)
	}

	file := &BytesFile{data: data}
	reader, err := Open(file, ReaderOptions{})
	if err != nil {
		t.Fatalf("Failed to open data file: %v", err)
	}
	defer reader.Close()

	props, err := reader.Properties()
	if err != nil {
		t.Fatalf("Failed to get properties: %v", err)
	}

	t.Logf("CompressionName: %s", props.CompressionName)

	if props.CompressionName == "" {
		t.Log("Warning: CompressionName is empty")
	}
}

func TestPropertiesDBInfo(t *testing.T) {
	goldenPath := filepath.Join("..", "..", "testdata", "golden", "sst", "simple.sst")
	data, err := os.ReadFile(goldenPath)
	if err != nil {
		t.Skipf("Golden file not found: %v", err)
	}

	file := &BytesFile{data: data}
	reader, err := Open(file, ReaderOptions{})
	if err != nil {
		t.Fatalf("Failed to open data file: %v", err)
	}
	defer reader.Close()

	props, err := reader.Properties()
	if err != nil {
		t.Fatalf("Failed to get properties: %v", err)
	}

	t.Logf("DbId: %s", props.DBID)
	t.Logf("DbSessionId: %s", props.DBSessionID)
	t.Logf("DbHostId: %s", props.DBHostID)
}

func TestPropertiesTimestamps(t *testing.T) {
	goldenPath := filepath.Join("..", "..", "testdata", "golden", "sst", "simple.sst")
	data, err := os.ReadFile(goldenPath)
	if err != nil {
		t.Skipf("Golden file not found: %v", err)
	}

	file := &BytesFile{data: data}
	reader, err := Open(file, ReaderOptions{})
	if err != nil {
		t.Fatalf("Failed to open data file: %v", err)
	}
	defer reader.Close()

	props, err := reader.Properties()
	if err != nil {
		t.Fatalf("Failed to get properties: %v", err)
	}

	t.Logf("CreationTime: %d", props.CreationTime)
	t.Logf("FileCreationTime: %d", props.FileCreationTime)
	t.Logf("OldestKeyTime: %d", props.OldestKeyTime)
}
