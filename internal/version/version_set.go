// version_set.go implements Set, which owns the current Version for a table
// and drives the optimistic-concurrency commit loop against
// internal/manifest.
//
// Where the teacher recovered state by replaying a MANIFEST log of
// VersionEdit records from the start of time, Set resolves state by reading
// the single latest Snapshot and the (small, already-merged) manifest lists
// it references — there is no log to replay, because manifest files are
// themselves the merged, immutable record of one commit's file changes.
package version

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rivermark/rivermark/internal/manifest"
	"github.com/rivermark/rivermark/internal/vfs"
)

// Options configures a Set.
type Options struct {
	// TableRoot is the table's storage root directory.
	TableRoot string

	// FS is the filesystem the table's manifest/snapshot files live on.
	FS vfs.FS

	// CommitUser identifies the writer proposing commits (spec's
	// commitUser snapshot field).
	CommitUser string
}

// Set owns the current Version for a table and coordinates commits through
// a manifest.Committer.
type Set struct {
	mu sync.Mutex

	// listMu protects the version linked list, separate from mu so Unref
	// never has to take the main lock.
	listMu sync.Mutex

	opts      Options
	committer *manifest.Committer

	current *Version
	dummy   Version

	nextFileNumber       uint64
	currentVersionNumber uint64
	commitIdentifier     int64
}

// NewSet creates a Set for opts. Call Open to load the table's latest
// snapshot (or initialize an empty one).
func NewSet(opts Options) *Set {
	s := &Set{
		opts:           opts,
		committer:      manifest.NewCommitter(opts.FS, opts.TableRoot),
		nextFileNumber: 1,
	}
	s.dummy.prev = &s.dummy
	s.dummy.next = &s.dummy
	return s
}

// Open loads the table's latest committed snapshot, or starts from an empty
// version (snapshot id 0) if the table has never been committed.
func (s *Set) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.committer.Latest()
	if err != nil {
		return fmt.Errorf("version: open: %w", err)
	}

	v := newVersion()
	if snap != nil {
		v.snapshotID = snap.ID
		if err := s.hydrate(v, snap); err != nil {
			return err
		}
	}
	s.appendVersion(v)
	return nil
}

// hydrate populates v's bucket/run map by reading every manifest file named
// by snap's base and delta manifest lists.
func (s *Set) hydrate(v *Version, snap *manifest.Snapshot) error {
	b := NewBuilder(nil)

	for _, listPath := range []string{snap.BaseManifestList, snap.DeltaManifestList} {
		if listPath == "" {
			continue
		}
		list, err := manifest.ReadList(s.opts.FS, listPath)
		if err != nil {
			return fmt.Errorf("version: read manifest list %s: %w", listPath, err)
		}
		for _, manifestPath := range list.ManifestFiles {
			mf, err := manifest.ReadFile(s.opts.FS, manifestPath)
			if err != nil {
				return fmt.Errorf("version: read manifest %s: %w", manifestPath, err)
			}
			b.Apply(mf.Entries)
		}
	}

	*v = *b.SaveTo(snap.ID)
	return nil
}

// Current returns the current version. Callers that retain it beyond the
// current call should Ref() it first.
func (s *Set) Current() *Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// NextFileNumber allocates a new, process-unique file number for a data file
// about to be written.
func (s *Set) NextFileNumber() uint64 {
	return atomic.AddUint64(&s.nextFileNumber, 1) - 1
}

// NextVersionNumber allocates a debug-only monotonic version counter,
// distinct from the snapshot id.
func (s *Set) NextVersionNumber() uint64 {
	return atomic.AddUint64(&s.currentVersionNumber, 1)
}

// NumLiveVersions returns the number of versions still referenced by a
// reader (including the current one).
func (s *Set) NumLiveVersions() int {
	s.listMu.Lock()
	defer s.listMu.Unlock()
	n := 0
	for v := s.dummy.next; v != &s.dummy; v = v.next {
		n++
	}
	return n
}

func (s *Set) appendVersion(v *Version) {
	v.vset = s
	v.versionNumber = s.NextVersionNumber()
	v.Ref()

	s.listMu.Lock()
	v.prev = s.dummy.prev
	v.next = &s.dummy
	s.dummy.prev.next = v
	s.dummy.prev = v
	s.listMu.Unlock()

	s.current = v
}

// CommitOutcome is the caller-facing result of Commit: a structured outcome
// rather than a bare error, so the caller can tell a lost race from a fatal
// failure and decide whether to retry.
type CommitOutcome struct {
	Kind     manifest.ResultKind
	Snapshot *manifest.Snapshot
	Observed int64
}

// Commit proposes a new snapshot built from entries applied against the
// current version, and attempts to publish it. On Conflict, the caller
// should re-read Current (which Commit refreshes on conflict too) and retry
// with entries re-based against the new base.
func (s *Set) Commit(entries []manifest.Entry, manifestListPath string, kind manifest.CommitKind, schemaID int64, recordCounts RecordCounts) (CommitOutcome, error) {
	s.mu.Lock()
	base := s.current
	baseID := int64(0)
	if base != nil {
		baseID = base.snapshotID
	}
	s.mu.Unlock()

	s.commitIdentifier++
	snap := &manifest.Snapshot{
		SchemaID:             schemaID,
		DeltaManifestList:    manifestListPath,
		CommitUser:           s.opts.CommitUser,
		CommitIdentifier:     s.commitIdentifier,
		CommitKind:           kind,
		TotalRecordCount:     recordCounts.Total,
		DeltaRecordCount:     recordCounts.Delta,
		ChangelogRecordCount: recordCounts.Changelog,
	}
	if base != nil {
		snap.BaseManifestList = manifestListPath
	}

	result, err := s.committer.Propose(baseID, snap)
	if err != nil {
		return CommitOutcome{Kind: manifest.Failed}, err
	}
	if result.Kind != manifest.Committed {
		return CommitOutcome{Kind: result.Kind, Observed: result.Observed}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	builder := NewBuilder(base)
	builder.Apply(entries)
	next := builder.SaveTo(result.Snapshot.ID)
	s.appendVersion(next)

	return CommitOutcome{Kind: manifest.Committed, Snapshot: result.Snapshot}, nil
}

// RecordCounts carries the record-count fields a committed snapshot reports,
// per spec.md's snapshot JSON schema.
type RecordCounts struct {
	Total     int64
	Delta     int64
	Changelog int64
}
