// Package batch implements RecordBatch, the atomic unit of write accepted by
// a BucketWriter: a sequence-stamped, length-prefixed list of CDC records.
//
// RecordBatch wire format:
//
//	Header (12 bytes):
//	  - 8 bytes: base sequence number (little-endian uint64)
//	  - 4 bytes: record count (little-endian uint32)
//	Records (repeated):
//	  - 1 byte: row kind tag (dbformat.RowKind)
//	  - length-prefixed key
//	  - length-prefixed value (omitted for Delete)
package batch

import (
	"encoding/binary"
	"errors"

	"github.com/rivermark/rivermark/internal/dbformat"
	"github.com/rivermark/rivermark/internal/encoding"
)

// HeaderSize is the size in bytes of the RecordBatch header (8 bytes base
// sequence + 4 bytes count).
const HeaderSize = 12

var (
	// ErrCorrupted indicates a malformed RecordBatch.
	ErrCorrupted = errors.New("batch: corrupted record batch")

	// ErrTooSmall indicates the batch is smaller than the header.
	ErrTooSmall = errors.New("batch: too small")
)

// RecordBatch is a collection of CDC records to be applied atomically to a
// bucket's memtable. Every record in the batch shares one commit; the
// sequence number stamped on each record, once assigned, is base+offset
// within the batch.
type RecordBatch struct {
	data []byte // raw batch data, including the 12-byte header
}

// New creates a new empty RecordBatch.
func New() *RecordBatch {
	return &RecordBatch{data: make([]byte, HeaderSize)}
}

// NewFromData creates a RecordBatch from existing wire-format data.
func NewFromData(data []byte) (*RecordBatch, error) {
	if len(data) < HeaderSize {
		return nil, ErrTooSmall
	}
	return &RecordBatch{data: data}, nil
}

// Clear resets the batch to an empty state, keeping the base sequence.
func (rb *RecordBatch) Clear() {
	rb.data = rb.data[:HeaderSize]
	binary.LittleEndian.PutUint32(rb.data[8:12], 0)
}

// Data returns the raw batch data.
func (rb *RecordBatch) Data() []byte {
	return rb.data
}

// Clone creates a deep copy of the RecordBatch.
func (rb *RecordBatch) Clone() *RecordBatch {
	clone := &RecordBatch{data: make([]byte, len(rb.data))}
	copy(clone.data, rb.data)
	return clone
}

// Size returns the size of the batch data in bytes.
func (rb *RecordBatch) Size() int {
	return len(rb.data)
}

// Count returns the number of records in the batch.
func (rb *RecordBatch) Count() uint32 {
	return binary.LittleEndian.Uint32(rb.data[8:12])
}

// SetCount sets the count field.
func (rb *RecordBatch) SetCount(count uint32) {
	binary.LittleEndian.PutUint32(rb.data[8:12], count)
}

// Sequence returns the base sequence number of the batch.
func (rb *RecordBatch) Sequence() uint64 {
	return binary.LittleEndian.Uint64(rb.data[0:8])
}

// SetSequence sets the base sequence number of the batch. Assigned once the
// batch has been admitted and ordered against concurrent writers.
func (rb *RecordBatch) SetSequence(seq uint64) {
	binary.LittleEndian.PutUint64(rb.data[0:8], seq)
}

// Put appends an Insert record.
func (rb *RecordBatch) Put(key, value []byte) {
	rb.appendRecord(dbformat.Insert, key, value)
}

// PutUpdate appends the before/after pair for a row update. Both share the
// caller's intended sequence ordering; PrepareCommit assigns the actual
// sequence numbers.
func (rb *RecordBatch) PutUpdate(key, before, after []byte) {
	rb.appendRecord(dbformat.UpdateBefore, key, before)
	rb.appendRecord(dbformat.UpdateAfter, key, after)
}

// Delete appends a Delete record.
func (rb *RecordBatch) Delete(key []byte) {
	rb.appendRecord(dbformat.Delete, key, nil)
}

// Append appends the contents of src onto rb. src's own base sequence is
// ignored; the combined batch is renumbered from rb's base sequence when
// committed.
func (rb *RecordBatch) Append(src *RecordBatch) {
	if src.Count() == 0 {
		return
	}
	rb.data = append(rb.data, src.data[HeaderSize:]...)
	rb.SetCount(rb.Count() + src.Count())
}

// appendRecord appends a single tagged record to the batch.
func (rb *RecordBatch) appendRecord(kind dbformat.RowKind, key, value []byte) {
	rb.data = append(rb.data, byte(kind))
	rb.data = encoding.AppendLengthPrefixedSlice(rb.data, key)
	if kind != dbformat.Delete {
		rb.data = encoding.AppendLengthPrefixedSlice(rb.data, value)
	}
	rb.SetCount(rb.Count() + 1)
}

// Handler is called for each record in the batch during iteration.
type Handler interface {
	Insert(key, value []byte) error
	UpdateBefore(key, value []byte) error
	UpdateAfter(key, value []byte) error
	Delete(key []byte) error
}

// Iterate calls the handler for each record in the batch, in wire order
// (which is the order the records were appended — ascending sequence once
// SetSequence/renumbering has happened).
func (rb *RecordBatch) Iterate(handler Handler) error {
	if len(rb.data) < HeaderSize {
		return ErrTooSmall
	}

	data := rb.data[HeaderSize:]
	for len(data) > 0 {
		kind := dbformat.RowKind(data[0])
		data = data[1:]

		var key, value []byte
		var err error

		key, data, err = decodeLengthPrefixed(data)
		if err != nil {
			return err
		}

		if kind != dbformat.Delete {
			value, data, err = decodeLengthPrefixed(data)
			if err != nil {
				return err
			}
		}

		switch kind {
		case dbformat.Insert:
			err = handler.Insert(key, value)
		case dbformat.UpdateBefore:
			err = handler.UpdateBefore(key, value)
		case dbformat.UpdateAfter:
			err = handler.UpdateAfter(key, value)
		case dbformat.Delete:
			err = handler.Delete(key)
		default:
			return ErrCorrupted
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// Records materializes the batch as a slice of dbformat.Record, stamping
// sequence numbers starting at the batch's base sequence in wire order.
// This is the form BucketWriter hands to the memtable.
func (rb *RecordBatch) Records() ([]dbformat.Record, error) {
	base := rb.Sequence()
	var out []dbformat.Record
	seq := dbformat.SequenceNumber(base)

	collector := recordCollector{
		emit: func(kind dbformat.RowKind, key, value []byte) {
			out = append(out, dbformat.Record{
				Key:      append([]byte(nil), key...),
				Value:    append([]byte(nil), value...),
				Kind:     kind,
				Sequence: seq,
			})
			seq++
		},
	}
	if err := rb.Iterate(&collector); err != nil {
		return nil, err
	}
	return out, nil
}

type recordCollector struct {
	emit func(kind dbformat.RowKind, key, value []byte)
}

func (c *recordCollector) Insert(key, value []byte) error {
	c.emit(dbformat.Insert, key, value)
	return nil
}
func (c *recordCollector) UpdateBefore(key, value []byte) error {
	c.emit(dbformat.UpdateBefore, key, value)
	return nil
}
func (c *recordCollector) UpdateAfter(key, value []byte) error {
	c.emit(dbformat.UpdateAfter, key, value)
	return nil
}
func (c *recordCollector) Delete(key []byte) error {
	c.emit(dbformat.Delete, key, nil)
	return nil
}

func decodeLengthPrefixed(data []byte) ([]byte, []byte, error) {
	if len(data) == 0 {
		return nil, nil, ErrCorrupted
	}
	length, n, err := encoding.DecodeVarint32(data)
	if err != nil {
		return nil, nil, ErrCorrupted
	}
	data = data[n:]
	if int(length) > len(data) {
		return nil, nil, ErrCorrupted
	}
	value := data[:length]
	return value, data[length:], nil
}
