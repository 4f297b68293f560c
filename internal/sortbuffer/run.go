package sortbuffer

import (
	"bufio"
	"fmt"
	"io"

	"github.com/rivermark/rivermark/internal/dbformat"
	"github.com/rivermark/rivermark/internal/encoding"
	"github.com/rivermark/rivermark/internal/vfs"
)

// writeRecord appends one record to a spilled run: length-prefixed key,
// length-prefixed value, varint sequence, one kind byte.
func writeRecord(w *bufio.Writer, scratch *[encoding.MaxVarint64Length]byte, r dbformat.Record) error {
	if err := writeLengthPrefixed(w, scratch, r.Key); err != nil {
		return err
	}
	if err := writeLengthPrefixed(w, scratch, r.Value); err != nil {
		return err
	}
	n := encoding.EncodeVarint64(scratch[:], uint64(r.Sequence))
	if _, err := w.Write(scratch[:n]); err != nil {
		return err
	}
	return w.WriteByte(byte(r.Kind))
}

func writeLengthPrefixed(w *bufio.Writer, scratch *[encoding.MaxVarint64Length]byte, b []byte) error {
	n := encoding.EncodeVarint64(scratch[:], uint64(len(b)))
	if _, err := w.Write(scratch[:n]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readVarint64(r *bufio.Reader) (uint64, error) {
	var result uint64
	for shift := uint(0); shift < 64; shift += 7 {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if b < 128 {
			result |= uint64(b) << shift
			return result, nil
		}
		result |= uint64(b&0x7f) << shift
	}
	return 0, fmt.Errorf("sortbuffer: varint overflow")
}

func readLengthPrefixed(r *bufio.Reader) ([]byte, error) {
	n, err := readVarint64(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readRecord(r *bufio.Reader) (dbformat.Record, error) {
	key, err := readLengthPrefixed(r)
	if err != nil {
		return dbformat.Record{}, err
	}
	value, err := readLengthPrefixed(r)
	if err != nil {
		return dbformat.Record{}, err
	}
	seq, err := readVarint64(r)
	if err != nil {
		return dbformat.Record{}, err
	}
	kind, err := r.ReadByte()
	if err != nil {
		return dbformat.Record{}, err
	}
	return dbformat.Record{Key: key, Value: value, Sequence: dbformat.SequenceNumber(seq), Kind: dbformat.RowKind(kind)}, nil
}

// runIterator reads a spilled run sequentially. It only supports the
// forward-only access pattern the loser-tree merge uses: SeekToFirst once,
// then Next until exhausted.
type runIterator struct {
	file vfs.SequentialFile
	r    *bufio.Reader
	cur  dbformat.Record
	ok   bool
	err  error
}

func newRunIterator(fs vfs.FS, path string) (*runIterator, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	it := &runIterator{file: f, r: bufio.NewReader(f)}
	it.advance()
	return it, nil
}

func (it *runIterator) advance() {
	rec, err := readRecord(it.r)
	if err != nil {
		it.ok = false
		if err != io.EOF {
			it.err = err
		}
		if it.file != nil {
			_ = it.file.Close()
			it.file = nil
		}
		return
	}
	it.cur = rec
	it.ok = true
}

func (it *runIterator) Valid() bool   { return it.ok }
func (it *runIterator) Key() []byte   { return it.cur.Key }
func (it *runIterator) Value() []byte { return it.cur.Value }
func (it *runIterator) SeekToFirst()  {}
func (it *runIterator) SeekToLast() {
	panic("sortbuffer: runIterator does not support SeekToLast (forward-only spilled run)")
}
func (it *runIterator) Seek(target []byte) {
	panic("sortbuffer: runIterator does not support Seek (forward-only spilled run)")
}
func (it *runIterator) Next() { it.advance() }
func (it *runIterator) Prev() {
	panic("sortbuffer: runIterator does not support Prev (forward-only spilled run)")
}
func (it *runIterator) Error() error { return it.err }

// sliceIterator iterates an already-sorted in-memory slice of records.
type sliceIterator struct {
	records []dbformat.Record
	pos     int
}

func newSliceIterator(records []dbformat.Record) *sliceIterator {
	return &sliceIterator{records: records, pos: 0}
}

func (it *sliceIterator) Valid() bool   { return it.pos >= 0 && it.pos < len(it.records) }
func (it *sliceIterator) Key() []byte   { return it.records[it.pos].Key }
func (it *sliceIterator) Value() []byte { return it.records[it.pos].Value }
func (it *sliceIterator) SeekToFirst()  { it.pos = 0 }
func (it *sliceIterator) SeekToLast()   { it.pos = len(it.records) - 1 }
func (it *sliceIterator) Seek(target []byte) {
	it.pos = len(it.records)
	for i, r := range it.records {
		if dbformat.BytewiseCompare(r.Key, target) >= 0 {
			it.pos = i
			break
		}
	}
}
func (it *sliceIterator) Next() { it.pos++ }
func (it *sliceIterator) Prev() { it.pos-- }
func (it *sliceIterator) Error() error { return nil }
