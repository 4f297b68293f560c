// write_batch.go implements the public RecordBatch API for atomic
// multi-record writes.
//
// Reference: RocksDB v10.7.5 include/rocksdb/write_batch.h, narrowed to the
// CDC record model: no column families, no generic merge operand, no
// embedded-value encoding. A batch is a sequence of Insert/UpdateBefore/
// UpdateAfter/Delete records committed together.
package rivermark

import (
	"github.com/rivermark/rivermark/internal/batch"
	"github.com/rivermark/rivermark/internal/dbformat"
)

// RecordBatch holds a collection of CDC records to be applied atomically to
// a BucketWriter. Keys and values are copied, so callers may reuse their
// buffers after Put/PutUpdate/Delete returns.
//
// A RecordBatch can be reused by calling Clear() after Write().
//
// Example:
//
//	rb := rivermark.NewRecordBatch()
//	rb.Put([]byte("key1"), []byte("value1"))
//	rb.Delete([]byte("key2"))
//	err := writer.Write(rb)
//	rb.Clear() // reuse the batch
type RecordBatch struct {
	internal *batch.RecordBatch
}

// NewRecordBatch creates a new empty RecordBatch.
func NewRecordBatch() *RecordBatch {
	return &RecordBatch{internal: batch.New()}
}

// Put appends an Insert record for key/value.
func (rb *RecordBatch) Put(key, value []byte) {
	rb.internal.Put(key, value)
}

// PutUpdate appends the before/after pair for an updated row.
func (rb *RecordBatch) PutUpdate(key, before, after []byte) {
	rb.internal.PutUpdate(key, before, after)
}

// Delete appends a Delete record for key.
func (rb *RecordBatch) Delete(key []byte) {
	rb.internal.Delete(key)
}

// Clear resets the batch to empty, allowing it to be reused.
func (rb *RecordBatch) Clear() {
	rb.internal.Clear()
}

// Count returns the number of records in the batch.
func (rb *RecordBatch) Count() uint32 {
	return rb.internal.Count()
}

// Records materializes the batch's CDC records. Exposed for tests and
// tooling; BucketWriter.Write uses the internal batch directly.
func (rb *RecordBatch) Records() ([]dbformat.Record, error) {
	return rb.internal.Records()
}

// internalBatch returns the underlying batch for use by BucketWriter.Write.
// Not part of the public API.
func (rb *RecordBatch) internalBatch() *batch.RecordBatch {
	return rb.internal
}
