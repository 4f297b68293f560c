// Package mergeengine implements the merge functions applied when a bucket's
// sorted runs are compacted or scanned: the rule for collapsing every CDC
// record sharing a primary key down to the row a reader should see.
//
// The teacher's MergeOperator (merge_operator.go, root package) is an open
// interface with a handful of general-purpose built-ins (UInt64Add,
// StringAppend, Max) designed for arbitrary user read-modify-write values.
// Rivermark's merge functions are not arbitrary: the data model is fixed
// (CDC records with a row kind and a sequence number), so the engine is a
// closed set of four strategies instead of an open interface, matching the
// same reset/add/result shape the teacher's FullMerge loop drives.
package mergeengine

import "github.com/rivermark/rivermark/internal/dbformat"

// AggOp names an aggregation applied to one field by the Aggregate engine.
type AggOp int

const (
	AggSum AggOp = iota
	AggMin
	AggMax
	AggLastNonNull
)

// Engine collapses the group of records sharing one primary key, in
// ascending-sequence order, down to the row a reader observes. Compaction
// calls Reset once per key, Add once per record in the key's group (oldest
// sequence first), then Result once to obtain the output record (or
// false if the whole group should be dropped, e.g. a Deduplicate engine
// seeing the group's last record is a Delete).
type Engine interface {
	// Name identifies the engine, recorded in table.properties for
	// compatibility checking across writers of the same table.
	Name() string

	// Reset prepares the engine for a new key's group of records.
	Reset()

	// Add folds one record (in ascending sequence order) into the group.
	Add(rec dbformat.Record)

	// Result returns the record to emit for the group, or ok=false if the
	// group resolves to nothing (e.g. fully deleted).
	Result() (rec dbformat.Record, ok bool)
}

// Deduplicate keeps only the group's latest record, dropping the key
// entirely if that record is a Delete. This is Rivermark's default engine
// and mirrors plain RocksDB last-writer-wins compaction.
type Deduplicate struct {
	last   dbformat.Record
	hasAny bool
}

func (d *Deduplicate) Name() string { return "deduplicate" }

func (d *Deduplicate) Reset() { d.hasAny = false }

func (d *Deduplicate) Add(rec dbformat.Record) {
	d.last = rec
	d.hasAny = true
}

func (d *Deduplicate) Result() (dbformat.Record, bool) {
	if !d.hasAny || d.last.Kind == dbformat.Delete {
		return dbformat.Record{}, false
	}
	return d.last, true
}

// FirstRow keeps only the group's earliest record and ignores every update
// or delete that follows, for append-only dimension tables that must never
// change once written.
type FirstRow struct {
	first  dbformat.Record
	hasAny bool
}

func (f *FirstRow) Name() string { return "first-row" }

func (f *FirstRow) Reset() { f.hasAny = false }

func (f *FirstRow) Add(rec dbformat.Record) {
	if !f.hasAny {
		f.first = rec
		f.hasAny = true
	}
}

func (f *FirstRow) Result() (dbformat.Record, bool) {
	if !f.hasAny || f.first.Kind == dbformat.Delete {
		return dbformat.Record{}, false
	}
	return f.first, true
}

// PartialUpdate merges non-null fields across a group's updates field by
// field rather than replacing the whole row, using SequenceGroups to scope
// each field set to the writer that owns it (a later write from a writer
// outside a field's group does not clobber that field). Field merging
// itself operates on the record's decoded columnar value, which Rivermark
// represents as an opaque encoded blob at this layer; the field-level merge
// is delegated to the schema-aware encoder and only the engine's control
// flow (which records to fold, whether the key survives) lives here.
type PartialUpdate struct {
	// IgnoreDelete, when true, treats a Delete record in the group as a
	// no-op instead of dropping the accumulated row.
	IgnoreDelete bool

	// SequenceGroups names, for documentation and validation, which
	// field sets are updated independently; the actual column merge
	// happens in the caller-supplied Merge func.
	SequenceGroups map[string][]string

	// Merge combines an accumulated value with the next record's value,
	// field by field. Supplied by the schema layer, which knows how to
	// decode the columnar payload.
	Merge func(accumulated, next []byte) []byte

	acc     dbformat.Record
	hasAny  bool
	deleted bool
}

func (p *PartialUpdate) Name() string { return "partial-update" }

func (p *PartialUpdate) Reset() {
	p.hasAny = false
	p.deleted = false
}

func (p *PartialUpdate) Add(rec dbformat.Record) {
	if rec.Kind == dbformat.Delete {
		if p.IgnoreDelete {
			return
		}
		p.deleted = true
		p.acc = rec
		p.hasAny = true
		return
	}
	p.deleted = false
	if !p.hasAny {
		p.acc = rec
		p.hasAny = true
		return
	}
	merged := rec.Value
	if p.Merge != nil {
		merged = p.Merge(p.acc.Value, rec.Value)
	}
	p.acc = dbformat.Record{Key: rec.Key, Value: merged, Kind: rec.Kind, Sequence: rec.Sequence}
}

func (p *PartialUpdate) Result() (dbformat.Record, bool) {
	if !p.hasAny || p.deleted {
		return dbformat.Record{}, false
	}
	return p.acc, true
}

// Aggregate reduces a group of rows sharing a key into one row via a
// per-field aggregation, for pre-aggregated rollup tables fed by an
// append-only CDC stream.
type Aggregate struct {
	FieldOps map[string]AggOp

	// Combine applies FieldOps to fold next's columnar value into
	// accumulated's, returning the combined encoded value. Supplied by
	// the schema layer.
	Combine func(fieldOps map[string]AggOp, accumulated, next []byte) []byte

	acc    dbformat.Record
	hasAny bool
}

func (a *Aggregate) Name() string { return "aggregate" }

func (a *Aggregate) Reset() { a.hasAny = false }

func (a *Aggregate) Add(rec dbformat.Record) {
	if rec.Kind == dbformat.Delete {
		return
	}
	if !a.hasAny {
		a.acc = rec
		a.hasAny = true
		return
	}
	value := rec.Value
	if a.Combine != nil {
		value = a.Combine(a.FieldOps, a.acc.Value, rec.Value)
	}
	a.acc = dbformat.Record{Key: rec.Key, Value: value, Kind: rec.Kind, Sequence: rec.Sequence}
}

func (a *Aggregate) Result() (dbformat.Record, bool) {
	if !a.hasAny {
		return dbformat.Record{}, false
	}
	return a.acc, true
}
