package sortbuffer

import (
	"fmt"
	"testing"

	"github.com/rivermark/rivermark/internal/dbformat"
	"github.com/rivermark/rivermark/internal/vfs"
)

func collect(t *testing.T, it interface {
	Valid() bool
	Key() []byte
	Next()
}) []string {
	t.Helper()
	var keys []string
	for it.Valid() {
		keys = append(keys, string(it.Key()))
		it.Next()
	}
	return keys
}

func TestSorterInMemoryOnly(t *testing.T) {
	dir := t.TempDir()
	s := New(vfs.Default(), dir, dbformat.BytewiseCompare, 1<<20, 8)

	for _, k := range []string{"c", "a", "b"} {
		if err := s.Add(dbformat.Record{Key: []byte(k), Value: []byte("v-" + k)}); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	it, err := s.Finish()
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	got := collect(t, it)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestSorterSpillsAndMerges(t *testing.T) {
	dir := t.TempDir()
	// tiny buffer budget forces a spill after a couple of records each
	s := New(vfs.Default(), dir, dbformat.BytewiseCompare, 64, 8)

	keys := []string{"m", "z", "a", "q", "b", "y", "c", "x"}
	for _, k := range keys {
		if err := s.Add(dbformat.Record{Key: []byte(k), Value: []byte("v")}); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}
	if len(s.runs) == 0 {
		t.Fatal("expected at least one spilled run given the tiny buffer budget")
	}

	it, err := s.Finish()
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	got := collect(t, it)
	want := []string{"a", "b", "c", "m", "q", "x", "y", "z"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSorterMergesRunBatchesBeyondFileHandleBudget(t *testing.T) {
	dir := t.TempDir()
	s := New(vfs.Default(), dir, dbformat.BytewiseCompare, 32, 2)

	keys := []string{"h", "g", "f", "e", "d", "c", "b", "a"}
	for _, k := range keys {
		if err := s.Add(dbformat.Record{Key: []byte(k), Value: []byte("v")}); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	it, err := s.Finish()
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	got := collect(t, it)
	want := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSortRecordsInsertionSortBaseCase(t *testing.T) {
	records := []dbformat.Record{
		{Key: []byte("c")}, {Key: []byte("a")}, {Key: []byte("b")},
	}
	sortRecords(records, dbformat.BytewiseCompare)
	want := []string{"a", "b", "c"}
	for i, w := range want {
		if string(records[i].Key) != w {
			t.Fatalf("records[%d] = %q, want %q", i, records[i].Key, w)
		}
	}
}
