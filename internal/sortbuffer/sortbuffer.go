// Package sortbuffer implements the two-stage external sorter used by
// global-index bootstrap and by a spillable write buffer's overflow path:
// records are appended to an in-memory buffer and quicksorted (falling back
// to insertion sort below a small threshold), and once the buffer's budget
// is exhausted the sorted run spills to disk; Finish fans every run back
// together with a loser-tree merge.
//
// Reference: RocksDB v10.7.5's skiplist memtable (db/memtable.h) keeps keys
// sorted incrementally rather than batching and sorting; this package
// trades that for an append-then-sort buffer, as an external sorter over
// already-ordered-by-arrival CDC input has no use for an always-sorted
// structure until a run is about to spill. The merge step reuses the same
// fan-in shape as compaction's internal/iterator.LoserTree.
package sortbuffer

import (
	"bufio"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/rivermark/rivermark/internal/dbformat"
	"github.com/rivermark/rivermark/internal/encoding"
	"github.com/rivermark/rivermark/internal/iterator"
	"github.com/rivermark/rivermark/internal/vfs"
)

// insertionSortThreshold is the largest slice length sortRecords sorts with
// insertion sort; longer slices go to sort.Slice.
const insertionSortThreshold = 12

// recordSize estimates a record's in-memory footprint for buffer accounting.
func recordSize(r dbformat.Record) int {
	return len(r.Key) + len(r.Value) + 16
}

// Sorter accumulates records, spilling sorted runs to dir once the
// in-memory buffer exceeds maxBufferBytes, and merges every run (in-memory
// tail included) into one sorted iterator on Finish.
type Sorter struct {
	cmp            func(a, b []byte) int
	fs             vfs.FS
	dir            string
	maxBufferBytes int
	maxFileHandles int

	buf      []dbformat.Record
	bufBytes int

	runs   []string
	nextID int
}

// New returns a Sorter that compares records by cmp (typically
// dbformat.BytewiseCompare over the user key, or CompareInternalKeys to
// keep tombstones ordered against their predecessors), spilling to dir
// once the unsorted buffer reaches maxBufferBytes. maxFileHandles bounds
// how many spilled runs Finish will fan in at once; beyond that it merges
// runs down in batches first.
func New(fs vfs.FS, dir string, cmp func(a, b []byte) int, maxBufferBytes, maxFileHandles int) *Sorter {
	if maxBufferBytes <= 0 {
		maxBufferBytes = 64 << 20
	}
	if maxFileHandles < 2 {
		maxFileHandles = 32
	}
	return &Sorter{cmp: cmp, fs: fs, dir: dir, maxBufferBytes: maxBufferBytes, maxFileHandles: maxFileHandles}
}

// Add appends a record to the buffer, spilling a sorted run to disk if the
// buffer's estimated size has reached its budget.
func (s *Sorter) Add(r dbformat.Record) error {
	s.buf = append(s.buf, r)
	s.bufBytes += recordSize(r)
	if s.bufBytes >= s.maxBufferBytes {
		return s.spill()
	}
	return nil
}

// spill sorts the current buffer and writes it to a new run file.
func (s *Sorter) spill() error {
	if len(s.buf) == 0 {
		return nil
	}
	sortRecords(s.buf, s.cmp)

	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("sortbuffer: mkdir: %w", err)
	}
	path := filepath.Join(s.dir, fmt.Sprintf("run-%08d.tmp", s.nextID))
	s.nextID++

	f, err := s.fs.Create(path)
	if err != nil {
		return fmt.Errorf("sortbuffer: create run: %w", err)
	}
	w := bufio.NewWriter(f)
	var scratch [encoding.MaxVarint64Length]byte
	for _, r := range s.buf {
		if err := writeRecord(w, &scratch, r); err != nil {
			_ = f.Close()
			return fmt.Errorf("sortbuffer: write run: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sortbuffer: flush run: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("sortbuffer: close run: %w", err)
	}

	s.runs = append(s.runs, path)
	s.buf = nil
	s.bufBytes = 0
	return nil
}

// Finish sorts any buffered tail and merges it with every spilled run,
// returning one iterator over the full sorted sequence in ascending key
// order. Each run file is closed once the iterator reads past that run's
// last record; the iterator has no Close method, so draining it is what
// releases the files.
func (s *Sorter) Finish() (iterator.Iterator, error) {
	if len(s.runs) == 0 {
		sortRecords(s.buf, s.cmp)
		return newSliceIterator(s.buf), nil
	}
	if err := s.spill(); err != nil {
		return nil, err
	}

	for len(s.runs) > s.maxFileHandles {
		if err := s.mergeRunBatch(); err != nil {
			return nil, err
		}
	}

	children := make([]iterator.Iterator, 0, len(s.runs))
	for _, path := range s.runs {
		it, err := newRunIterator(s.fs, path)
		if err != nil {
			return nil, fmt.Errorf("sortbuffer: open run: %w", err)
		}
		children = append(children, it)
	}
	merged := iterator.NewLoserTree(children, s.cmp)
	merged.SeekToFirst()
	return merged, nil
}

// mergeRunBatch folds the oldest maxFileHandles runs into one new run,
// keeping Finish's final fan-in within the file-handle budget.
func (s *Sorter) mergeRunBatch() error {
	batch := s.runs[:s.maxFileHandles]
	rest := s.runs[s.maxFileHandles:]

	children := make([]iterator.Iterator, 0, len(batch))
	for _, path := range batch {
		it, err := newRunIterator(s.fs, path)
		if err != nil {
			return fmt.Errorf("sortbuffer: open run for merge: %w", err)
		}
		children = append(children, it)
	}
	merged := iterator.NewLoserTree(children, s.cmp)
	merged.SeekToFirst()

	path := filepath.Join(s.dir, fmt.Sprintf("run-%08d.tmp", s.nextID))
	s.nextID++
	f, err := s.fs.Create(path)
	if err != nil {
		return fmt.Errorf("sortbuffer: create merged run: %w", err)
	}
	w := bufio.NewWriter(f)
	var scratch [encoding.MaxVarint64Length]byte
	for merged.Valid() {
		r := dbformat.Record{Key: append([]byte{}, merged.Key()...), Value: append([]byte{}, merged.Value()...)}
		if err := writeRecord(w, &scratch, r); err != nil {
			_ = f.Close()
			return fmt.Errorf("sortbuffer: write merged run: %w", err)
		}
		merged.Next()
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sortbuffer: flush merged run: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("sortbuffer: close merged run: %w", err)
	}

	for _, path := range batch {
		_ = s.fs.Remove(path)
	}

	s.runs = append([]string{path}, rest...)
	return nil
}

// sortRecords sorts records in place by cmp over the record key, using
// insertion sort for short runs and Go's introsort-based sort.Slice (a
// quicksort variant with an insertion-sort base case) otherwise.
func sortRecords(records []dbformat.Record, cmp func(a, b []byte) int) {
	if len(records) <= insertionSortThreshold {
		insertionSort(records, cmp)
		return
	}
	sort.Slice(records, func(i, j int) bool {
		return cmp(records[i].Key, records[j].Key) < 0
	})
}

func insertionSort(records []dbformat.Record, cmp func(a, b []byte) int) {
	for i := 1; i < len(records); i++ {
		r := records[i]
		j := i - 1
		for j >= 0 && cmp(records[j].Key, r.Key) > 0 {
			records[j+1] = records[j]
			j--
		}
		records[j+1] = r
	}
}
