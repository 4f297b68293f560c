package globalindex

import (
	"path/filepath"
	"testing"

	"github.com/rivermark/rivermark/internal/dbformat"
	"github.com/rivermark/rivermark/internal/vfs"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestResolveAssignsNewKey(t *testing.T) {
	e := openTestEngine(t)

	var assigned int32 = -1
	assignBucket := func() int32 { assigned = 7; return 7 }

	plan, err := e.Resolve([]byte("k1"), 1, ExistsActionDelete, assignBucket)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if plan.Bucket != 7 || plan.EmitTombstone || plan.Drop || plan.RewritePartition {
		t.Fatalf("Resolve() = %+v, want fresh assignment to bucket 7", plan)
	}
	if assigned != 7 {
		t.Fatalf("assignBucket not called")
	}

	loc, found, err := e.Lookup([]byte("k1"))
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if !found || loc.PartitionID != 1 || loc.Bucket != 7 {
		t.Fatalf("Lookup() = %+v, %v, want {1 7} true", loc, found)
	}
}

func TestResolveSamePartitionNoKVWrite(t *testing.T) {
	e := openTestEngine(t)
	assignBucket := func() int32 { return 3 }

	if _, err := e.Resolve([]byte("k1"), 1, ExistsActionDelete, assignBucket); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	plan, err := e.Resolve([]byte("k1"), 1, ExistsActionDelete, func() int32 {
		t.Fatal("assignBucket should not be called for a same-partition hit")
		return -1
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if plan.Bucket != 3 || plan.EmitTombstone || plan.Drop {
		t.Fatalf("Resolve() = %+v, want {Bucket: 3}", plan)
	}
}

func TestResolveCrossPartitionDeleteMigratesKey(t *testing.T) {
	e := openTestEngine(t)
	if _, err := e.Resolve([]byte("k1"), 1, ExistsActionDelete, func() int32 { return 3 }); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	plan, err := e.Resolve([]byte("k1"), 2, ExistsActionDelete, func() int32 { return 9 })
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !plan.EmitTombstone || plan.OldPartition != 1 || plan.OldBucket != 3 || plan.Bucket != 9 {
		t.Fatalf("Resolve() = %+v, want migration from (1,3) to bucket 9 with tombstone", plan)
	}

	loc, found, err := e.Lookup([]byte("k1"))
	if err != nil || !found || loc.PartitionID != 2 || loc.Bucket != 9 {
		t.Fatalf("Lookup() after migration = %+v, %v, %v, want {2 9} true", loc, found, err)
	}
}

func TestResolveCrossPartitionUseOldRewrites(t *testing.T) {
	e := openTestEngine(t)
	if _, err := e.Resolve([]byte("k1"), 1, ExistsActionUseOld, func() int32 { return 3 }); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	plan, err := e.Resolve([]byte("k1"), 2, ExistsActionUseOld, func() int32 {
		t.Fatal("assignBucket should not be called for USE_OLD")
		return -1
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !plan.RewritePartition || plan.OldPartition != 1 || plan.Bucket != 3 {
		t.Fatalf("Resolve() = %+v, want rewrite to (1,3)", plan)
	}
}

func TestResolveCrossPartitionSkipNewDrops(t *testing.T) {
	e := openTestEngine(t)
	if _, err := e.Resolve([]byte("k1"), 1, ExistsActionSkipNew, func() int32 { return 3 }); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	plan, err := e.Resolve([]byte("k1"), 2, ExistsActionSkipNew, func() int32 {
		t.Fatal("assignBucket should not be called for SKIP_NEW")
		return -1
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !plan.Drop {
		t.Fatalf("Resolve() = %+v, want Drop", plan)
	}
}

func TestBootstrapKeepsHighestSequencePerKey(t *testing.T) {
	e := openTestEngine(t)
	fs := vfs.Default()
	sorter := BootstrapSorter(fs, filepath.Join(t.TempDir(), "sort"), dbformat.BytewiseCompare, 1<<20, 8)

	add := func(key string, pid, bucket int32, seq uint64) {
		rec := dbformat.Record{
			Key:   []byte(key),
			Value: EncodeBootstrapValue(Location{PartitionID: pid, Bucket: bucket}, seq),
		}
		if err := sorter.Add(rec); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}
	add("k1", 1, 0, 5)
	add("k1", 2, 1, 9) // newer: should win
	add("k2", 1, 0, 1)

	it, err := sorter.Finish()
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if err := Bootstrap(e, it); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	loc, found, err := e.Lookup([]byte("k1"))
	if err != nil || !found || loc.PartitionID != 2 || loc.Bucket != 1 {
		t.Fatalf("Lookup(k1) = %+v, %v, %v, want {2 1} true (highest sequence wins)", loc, found, err)
	}
	loc2, found2, err := e.Lookup([]byte("k2"))
	if err != nil || !found2 || loc2.PartitionID != 1 {
		t.Fatalf("Lookup(k2) = %+v, %v, %v, want {1 0} true", loc2, found2, err)
	}
}
