package rivermark

// snapshot.go implements the public Snapshot handle: a reference to one
// committed, immutable point-in-time view of a Table.
//
// Reference: RocksDB v10.7.5
//   - include/rocksdb/snapshot.h
//   - db/snapshot_impl.h
//
// Rivermark's snapshots are durable JSON descriptors committed to the
// manifest/snapshot directory (internal/manifest.Snapshot), not RocksDB's
// in-memory sequence-number read view over a live memtable+SST stack. A
// Snapshot handle here pins one of those committed snapshots against
// expiration (Release lets it go) using the same ref-counted doubly-linked
// list idiom the teacher uses for its in-memory snapshot list, retargeted at
// retention bookkeeping instead of read consistency — consistency already
// comes for free from the snapshot's manifest lists being immutable once
// committed.
import (
	"sync/atomic"

	"github.com/rivermark/rivermark/internal/manifest"
)

// Snapshot pins a committed point-in-time view of a Table so that its data
// and manifest files are not reclaimed by snapshot expiration while held.
type Snapshot struct {
	table *Table
	inner *manifest.Snapshot
	refs  atomic.Int32

	prev *Snapshot
	next *Snapshot
}

// newSnapshotHandle wraps inner, pinning it against expiration.
func newSnapshotHandle(table *Table, inner *manifest.Snapshot) *Snapshot {
	s := &Snapshot{table: table, inner: inner}
	s.refs.Store(1)
	return s
}

// ID returns the snapshot's id.
func (s *Snapshot) ID() int64 {
	return s.inner.ID
}

// SchemaID returns the schema id the snapshot's data files were written
// against.
func (s *Snapshot) SchemaID() int64 {
	return s.inner.SchemaID
}

// CommitKind returns the kind of commit that produced this snapshot
// (APPEND, COMPACT, or OVERWRITE).
func (s *Snapshot) CommitKind() manifest.CommitKind {
	return s.inner.CommitKind
}

// TimeMillis returns the commit's wall-clock time in epoch milliseconds.
func (s *Snapshot) TimeMillis() int64 {
	return s.inner.TimeMillis
}

// Release unpins the snapshot. After the last reference is released, the
// snapshot becomes eligible for expiration reclamation.
func (s *Snapshot) Release() {
	if s.refs.Add(-1) == 0 && s.table != nil {
		s.table.releaseSnapshot(s)
	}
}

func (s *Snapshot) ref() {
	s.refs.Add(1)
}
