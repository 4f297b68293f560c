package manifest

import (
	"encoding/json"
	"fmt"

	"github.com/rivermark/rivermark/internal/vfs"
)

// ResultKind classifies the outcome of a commit attempt.
type ResultKind int

const (
	// Committed means the proposed snapshot was published.
	Committed ResultKind = iota
	// Conflict means another committer published a snapshot first; the
	// caller should re-read Latest, re-base its deltas, and retry.
	Conflict
	// Failed means the commit could not proceed for a reason unrelated to
	// racing with another committer (fatal I/O error, corrupt pointer).
	Failed
)

// Result is the structured outcome of one commit attempt.
type Result struct {
	Kind ResultKind

	// Snapshot is set when Kind == Committed.
	Snapshot *Snapshot

	// Observed is the latest snapshot id seen at the point of conflict,
	// set when Kind == Conflict.
	Observed int64

	// Err is set when Kind == Failed.
	Err error
}

// latestPointer is the small JSON document the LATEST file holds: just the
// currently published snapshot id. Readers resolve the full Snapshot by
// joining this id against SnapshotPath.
type latestPointer struct {
	ID int64 `json:"id"`
}

// Committer implements the table's optimistic-concurrency commit discipline:
// a committer proposes snapshot N+1 against the latest snapshot it observed;
// it publishes by atomically renaming a staged pointer file onto LATEST, and
// detects a lost race by re-reading LATEST immediately beforehand. On a
// single local filesystem, `rename` itself is atomic but not a compare-and-
// swap, so the race window between reading and renaming is closed by
// re-checking the observed id right before the rename and treating a change
// as a conflict — the same optimistic-commit-with-retry shape the spec
// describes, adapted to a plain rename-capable filesystem rather than a
// conditional-put object store.
type Committer struct {
	FS        vfs.FS
	TableRoot string
}

// NewCommitter creates a Committer rooted at tableRoot.
func NewCommitter(fs vfs.FS, tableRoot string) *Committer {
	return &Committer{FS: fs, TableRoot: tableRoot}
}

// Latest returns the currently published snapshot, or nil if the table has
// never been committed.
func (c *Committer) Latest() (*Snapshot, error) {
	id, ok, err := c.readLatestID()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return ReadSnapshot(c.FS, SnapshotPath(c.TableRoot, id))
}

func (c *Committer) readLatestID() (int64, bool, error) {
	path := LatestPointerPath(c.TableRoot)
	if !c.FS.Exists(path) {
		return 0, false, nil
	}
	var p latestPointer
	if err := readJSON(c.FS, path, &p); err != nil {
		return 0, false, err
	}
	return p.ID, true, nil
}

// Propose writes a new snapshot built from base+baseID's observed state and
// attempts to publish it as the next snapshot. baseID is the snapshot id the
// caller built its delta against (0 if the table has no prior snapshot).
func (c *Committer) Propose(baseID int64, next *Snapshot) (Result, error) {
	if err := c.FS.MkdirAll(SnapshotDir(c.TableRoot), 0o755); err != nil {
		return Result{Kind: Failed, Err: err}, err
	}

	observedID, hasLatest, err := c.readLatestID()
	if err != nil {
		return Result{Kind: Failed, Err: err}, err
	}
	if hasLatest && observedID != baseID {
		return Result{Kind: Conflict, Observed: observedID}, nil
	}

	next.ID = baseID + 1
	next.Version = CurrentSnapshotVersion
	if err := next.Write(c.FS, SnapshotPath(c.TableRoot, next.ID)); err != nil {
		return Result{Kind: Failed, Err: err}, err
	}

	// Re-check immediately before the publishing rename: this is the CAS
	// approximation described on Committer.
	observedID2, hasLatest2, err := c.readLatestID()
	if err != nil {
		return Result{Kind: Failed, Err: err}, err
	}
	if hasLatest2 != hasLatest || observedID2 != observedID {
		return Result{Kind: Conflict, Observed: observedID2}, nil
	}

	tmpPath := fmt.Sprintf("%s.tmp-%d", LatestPointerPath(c.TableRoot), next.ID)
	data, err := json.Marshal(latestPointer{ID: next.ID})
	if err != nil {
		return Result{Kind: Failed, Err: err}, err
	}
	f, err := c.FS.Create(tmpPath)
	if err != nil {
		return Result{Kind: Failed, Err: err}, err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return Result{Kind: Failed, Err: err}, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return Result{Kind: Failed, Err: err}, err
	}
	if err := f.Close(); err != nil {
		return Result{Kind: Failed, Err: err}, err
	}
	if err := c.FS.Rename(tmpPath, LatestPointerPath(c.TableRoot)); err != nil {
		return Result{Kind: Failed, Err: err}, err
	}

	return Result{Kind: Committed, Snapshot: next}, nil
}

// Rollback truncates the snapshot tail back to targetID: every snapshot
// descriptor file strictly newer than targetID is removed, and LATEST is
// republished to point at targetID using the same stage-then-rename publish
// idiom Propose uses. It returns an error if targetID names a snapshot that
// was never committed, or is newer than the currently published one; a
// targetID equal to the current id removes nothing and republishes LATEST.
func (c *Committer) Rollback(targetID int64) error {
	currentID, hasLatest, err := c.readLatestID()
	if err != nil {
		return err
	}
	if !hasLatest {
		return fmt.Errorf("manifest: rollback: table has no committed snapshot")
	}
	if targetID <= 0 || targetID > currentID {
		return fmt.Errorf("manifest: rollback: target snapshot %d is not older than current snapshot %d", targetID, currentID)
	}
	if !c.FS.Exists(SnapshotPath(c.TableRoot, targetID)) {
		return fmt.Errorf("manifest: rollback: target snapshot %d does not exist", targetID)
	}

	for id := currentID; id > targetID; id-- {
		path := SnapshotPath(c.TableRoot, id)
		if !c.FS.Exists(path) {
			continue
		}
		if err := c.FS.Remove(path); err != nil {
			return fmt.Errorf("manifest: rollback: remove snapshot %d: %w", id, err)
		}
	}

	tmpPath := fmt.Sprintf("%s.tmp-rollback-%d", LatestPointerPath(c.TableRoot), targetID)
	data, err := json.Marshal(latestPointer{ID: targetID})
	if err != nil {
		return err
	}
	f, err := c.FS.Create(tmpPath)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return c.FS.Rename(tmpPath, LatestPointerPath(c.TableRoot))
}
