package compaction

import (
	"testing"

	"github.com/rivermark/rivermark/internal/manifest"
	"github.com/rivermark/rivermark/internal/version"
)

func buildVersion(t *testing.T, entries []manifest.Entry) *version.Version {
	t.Helper()
	b := version.NewBuilder(nil)
	b.Apply(entries)
	return b.SaveTo(1)
}

func l0Add(bucket int32, fileName string, size int64) manifest.Entry {
	return manifest.Entry{
		Kind:         manifest.KindAdd,
		Partition:    "p",
		Bucket:       bucket,
		TotalBuckets: 1,
		Level:        0,
		File:         manifest.FileMeta{FileName: fileName, FileSize: size, RowCount: 1},
	}
}

func TestNeedsCompactionBelowTrigger(t *testing.T) {
	v := buildVersion(t, []manifest.Entry{l0Add(0, "f1", 100), l0Add(0, "f2", 100)})
	p := NewPicker(DefaultOptions())

	key := version.BucketKey{Partition: "p", Bucket: 0}
	if p.NeedsCompaction(v, key) {
		t.Fatalf("NeedsCompaction() = true with only 2 runs, want false (trigger is 3)")
	}
}

func TestNeedsCompactionAtStopTrigger(t *testing.T) {
	v := buildVersion(t, []manifest.Entry{
		l0Add(0, "f1", 100), l0Add(0, "f2", 100), l0Add(0, "f3", 100), l0Add(0, "f4", 100),
	})
	p := NewPicker(DefaultOptions())
	key := version.BucketKey{Partition: "p", Bucket: 0}

	if !p.NeedsCompaction(v, key) {
		t.Fatalf("NeedsCompaction() = false at stop trigger (4 runs), want true")
	}
	c := p.PickCompaction(v, key)
	if c == nil {
		t.Fatalf("PickCompaction() = nil, want a compaction")
	}
	if c.NumInputFiles() != 4 {
		t.Fatalf("got %d input files, want 4", c.NumInputFiles())
	}
	if c.Reason != ReasonSizeAmplification {
		t.Fatalf("got reason %v, want ReasonSizeAmplification", c.Reason)
	}
}

func TestNeedsCompactionIgnoresOtherBuckets(t *testing.T) {
	v := buildVersion(t, []manifest.Entry{
		l0Add(0, "f1", 100), l0Add(0, "f2", 100), l0Add(0, "f3", 100), l0Add(0, "f4", 100),
	})
	p := NewPicker(DefaultOptions())

	other := version.BucketKey{Partition: "p", Bucket: 1}
	if p.NeedsCompaction(v, other) {
		t.Fatalf("NeedsCompaction() = true for an empty bucket, want false")
	}
}

func TestPickCompactionSizeRatio(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxSizeAmplificationPercent = 1_000_000 // disable amplification trigger for this test
	opts.StopTrigger = 1_000_000
	v := buildVersion(t, []manifest.Entry{
		l0Add(0, "f1", 100), l0Add(0, "f2", 100), l0Add(0, "f3", 100),
	})
	p := NewPicker(opts)
	key := version.BucketKey{Partition: "p", Bucket: 0}

	c := p.PickCompaction(v, key)
	if c == nil {
		t.Fatalf("PickCompaction() = nil, want a size-ratio compaction for 3 equal-size runs")
	}
	if c.Reason != ReasonSizeRatio {
		t.Fatalf("got reason %v, want ReasonSizeRatio", c.Reason)
	}
}
