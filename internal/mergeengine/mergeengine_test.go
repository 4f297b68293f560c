package mergeengine

import (
	"bytes"
	"testing"

	"github.com/rivermark/rivermark/internal/dbformat"
)

func rec(key, value string, kind dbformat.RowKind, seq uint64) dbformat.Record {
	return dbformat.Record{Key: []byte(key), Value: []byte(value), Kind: kind, Sequence: dbformat.SequenceNumber(seq)}
}

func TestDeduplicateKeepsLatest(t *testing.T) {
	var d Deduplicate
	d.Reset()
	d.Add(rec("k", "v1", dbformat.Insert, 1))
	d.Add(rec("k", "v2", dbformat.UpdateAfter, 2))

	got, ok := d.Result()
	if !ok {
		t.Fatalf("Result() ok = false, want true")
	}
	if !bytes.Equal(got.Value, []byte("v2")) {
		t.Fatalf("got value %q, want v2", got.Value)
	}
}

func TestDeduplicateDropsDeletedKey(t *testing.T) {
	var d Deduplicate
	d.Reset()
	d.Add(rec("k", "v1", dbformat.Insert, 1))
	d.Add(rec("k", "", dbformat.Delete, 2))

	if _, ok := d.Result(); ok {
		t.Fatalf("Result() ok = true for deleted key, want false")
	}
}

func TestFirstRowIgnoresLaterWrites(t *testing.T) {
	var f FirstRow
	f.Reset()
	f.Add(rec("k", "v1", dbformat.Insert, 1))
	f.Add(rec("k", "v2", dbformat.UpdateAfter, 2))
	f.Add(rec("k", "", dbformat.Delete, 3))

	got, ok := f.Result()
	if !ok {
		t.Fatalf("Result() ok = false, want true")
	}
	if !bytes.Equal(got.Value, []byte("v1")) {
		t.Fatalf("got value %q, want v1 (first write)", got.Value)
	}
}

func TestPartialUpdateMergesViaCallback(t *testing.T) {
	p := PartialUpdate{
		Merge: func(acc, next []byte) []byte {
			return append(append([]byte{}, acc...), next...)
		},
	}
	p.Reset()
	p.Add(rec("k", "a", dbformat.Insert, 1))
	p.Add(rec("k", "b", dbformat.UpdateAfter, 2))

	got, ok := p.Result()
	if !ok {
		t.Fatalf("Result() ok = false, want true")
	}
	if !bytes.Equal(got.Value, []byte("ab")) {
		t.Fatalf("got value %q, want ab", got.Value)
	}
}

func TestPartialUpdateIgnoreDelete(t *testing.T) {
	p := PartialUpdate{IgnoreDelete: true}
	p.Reset()
	p.Add(rec("k", "a", dbformat.Insert, 1))
	p.Add(rec("k", "", dbformat.Delete, 2))

	got, ok := p.Result()
	if !ok {
		t.Fatalf("Result() ok = false, want true (delete ignored)")
	}
	if !bytes.Equal(got.Value, []byte("a")) {
		t.Fatalf("got value %q, want a", got.Value)
	}
}

func TestPartialUpdateDeleteDropsRowByDefault(t *testing.T) {
	var p PartialUpdate
	p.Reset()
	p.Add(rec("k", "a", dbformat.Insert, 1))
	p.Add(rec("k", "", dbformat.Delete, 2))

	if _, ok := p.Result(); ok {
		t.Fatalf("Result() ok = true, want false")
	}
}

func TestAggregateSkipsDeletes(t *testing.T) {
	a := Aggregate{
		FieldOps: map[string]AggOp{"count": AggSum},
		Combine: func(_ map[string]AggOp, acc, next []byte) []byte {
			return append(append([]byte{}, acc...), next...)
		},
	}
	a.Reset()
	a.Add(rec("k", "1", dbformat.Insert, 1))
	a.Add(rec("k", "", dbformat.Delete, 2))
	a.Add(rec("k", "1", dbformat.Insert, 3))

	got, ok := a.Result()
	if !ok {
		t.Fatalf("Result() ok = false, want true")
	}
	if !bytes.Equal(got.Value, []byte("11")) {
		t.Fatalf("got value %q, want 11 (delete skipped)", got.Value)
	}
}

func TestEngineResetClearsState(t *testing.T) {
	var d Deduplicate
	d.Reset()
	d.Add(rec("k", "v1", dbformat.Insert, 1))
	d.Reset()

	if _, ok := d.Result(); ok {
		t.Fatalf("Result() ok = true after Reset, want false")
	}
}
