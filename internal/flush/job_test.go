package flush

import (
	"testing"

	"github.com/rivermark/rivermark/internal/dbformat"
	"github.com/rivermark/rivermark/internal/memtable"
	"github.com/rivermark/rivermark/internal/vfs"
)

func TestJobRunWritesLevelZeroFile(t *testing.T) {
	dir := t.TempDir()
	fs := vfs.Default()

	mem := memtable.NewMemTable(dbformat.BytewiseCompare)
	mem.AddRecord(dbformat.Record{Key: []byte("a"), Value: []byte("v1"), Kind: dbformat.Insert, Sequence: 1})
	mem.AddRecord(dbformat.Record{Key: []byte("b"), Value: []byte("v2"), Kind: dbformat.Insert, Sequence: 2})

	names := []string{"out.sst"}
	target := Target{
		BucketDir: dir,
		FS:        fs,
		NextFileName: func() string {
			n := names[0]
			names = names[1:]
			return n
		},
	}

	meta, err := NewJob(target, mem).Run()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if meta.RowCount != 2 {
		t.Fatalf("got %d rows, want 2", meta.RowCount)
	}
	if meta.Level != 0 {
		t.Fatalf("got level %d, want 0", meta.Level)
	}
	if !fs.Exists(dir + "/out.sst") {
		t.Fatalf("flush did not create output file")
	}
}

func TestJobRunEmptyMemtableReturnsErrNoOutput(t *testing.T) {
	dir := t.TempDir()
	fs := vfs.Default()

	mem := memtable.NewMemTable(dbformat.BytewiseCompare)
	target := Target{
		BucketDir:    dir,
		FS:           fs,
		NextFileName: func() string { return "unused.sst" },
	}

	if _, err := NewJob(target, mem).Run(); err != ErrNoOutput {
		t.Fatalf("got err %v, want ErrNoOutput", err)
	}
}
