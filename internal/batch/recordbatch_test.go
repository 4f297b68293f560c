package batch

import (
	"bytes"
	"testing"

	"github.com/rivermark/rivermark/internal/dbformat"
)

type recordingHandler struct {
	calls []string
}

func (h *recordingHandler) Insert(key, value []byte) error {
	h.calls = append(h.calls, "insert:"+string(key)+"="+string(value))
	return nil
}
func (h *recordingHandler) UpdateBefore(key, value []byte) error {
	h.calls = append(h.calls, "update_before:"+string(key)+"="+string(value))
	return nil
}
func (h *recordingHandler) UpdateAfter(key, value []byte) error {
	h.calls = append(h.calls, "update_after:"+string(key)+"="+string(value))
	return nil
}
func (h *recordingHandler) Delete(key []byte) error {
	h.calls = append(h.calls, "delete:"+string(key))
	return nil
}

func TestRecordBatchPutAndIterate(t *testing.T) {
	rb := New()
	rb.Put([]byte("a"), []byte("1"))
	rb.Delete([]byte("b"))

	if rb.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", rb.Count())
	}

	h := &recordingHandler{}
	if err := rb.Iterate(h); err != nil {
		t.Fatalf("Iterate() error = %v", err)
	}

	want := []string{"insert:a=1", "delete:b"}
	if len(h.calls) != len(want) {
		t.Fatalf("got %v, want %v", h.calls, want)
	}
	for i := range want {
		if h.calls[i] != want[i] {
			t.Fatalf("at %d: got %q, want %q", i, h.calls[i], want[i])
		}
	}
}

func TestRecordBatchPutUpdate(t *testing.T) {
	rb := New()
	rb.PutUpdate([]byte("k"), []byte("old"), []byte("new"))

	if rb.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", rb.Count())
	}

	h := &recordingHandler{}
	if err := rb.Iterate(h); err != nil {
		t.Fatalf("Iterate() error = %v", err)
	}
	want := []string{"update_before:k=old", "update_after:k=new"}
	if len(h.calls) != 2 || h.calls[0] != want[0] || h.calls[1] != want[1] {
		t.Fatalf("got %v, want %v", h.calls, want)
	}
}

func TestRecordBatchSequenceRoundTrip(t *testing.T) {
	rb := New()
	rb.SetSequence(42)
	if got := rb.Sequence(); got != 42 {
		t.Fatalf("Sequence() = %d, want 42", got)
	}
}

func TestRecordBatchRecordsStampsAscendingSequence(t *testing.T) {
	rb := New()
	rb.SetSequence(100)
	rb.Put([]byte("a"), []byte("1"))
	rb.PutUpdate([]byte("a"), []byte("1"), []byte("2"))
	rb.Delete([]byte("b"))

	recs, err := rb.Records()
	if err != nil {
		t.Fatalf("Records() error = %v", err)
	}
	if len(recs) != 4 {
		t.Fatalf("got %d records, want 4", len(recs))
	}
	for i, want := range []dbformat.SequenceNumber{100, 101, 102, 103} {
		if recs[i].Sequence != want {
			t.Errorf("record %d sequence = %d, want %d", i, recs[i].Sequence, want)
		}
	}
	if recs[0].Kind != dbformat.Insert || recs[1].Kind != dbformat.UpdateBefore ||
		recs[2].Kind != dbformat.UpdateAfter || recs[3].Kind != dbformat.Delete {
		t.Fatalf("unexpected kind sequence: %+v", recs)
	}
}

func TestRecordBatchAppend(t *testing.T) {
	a := New()
	a.Put([]byte("a"), []byte("1"))

	b := New()
	b.Put([]byte("b"), []byte("2"))
	b.Delete([]byte("c"))

	a.Append(b)
	if a.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", a.Count())
	}
}

func TestRecordBatchClear(t *testing.T) {
	rb := New()
	rb.Put([]byte("a"), []byte("1"))
	rb.Clear()
	if rb.Count() != 0 {
		t.Fatalf("Count() after Clear() = %d, want 0", rb.Count())
	}
	if rb.Size() != HeaderSize {
		t.Fatalf("Size() after Clear() = %d, want %d", rb.Size(), HeaderSize)
	}
}

func TestRecordBatchNewFromDataTooSmall(t *testing.T) {
	if _, err := NewFromData([]byte{1, 2, 3}); err != ErrTooSmall {
		t.Fatalf("expected ErrTooSmall, got %v", err)
	}
}

func TestRecordBatchClone(t *testing.T) {
	rb := New()
	rb.Put([]byte("a"), []byte("1"))

	clone := rb.Clone()
	clone.Put([]byte("b"), []byte("2"))

	if rb.Count() != 1 {
		t.Fatalf("original batch mutated by clone: Count() = %d, want 1", rb.Count())
	}
	if clone.Count() != 2 {
		t.Fatalf("clone Count() = %d, want 2", clone.Count())
	}
	if bytes.Equal(rb.Data(), clone.Data()) {
		t.Fatalf("clone should diverge from original after mutation")
	}
}
