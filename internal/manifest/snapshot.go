package manifest

import (
	"fmt"
	"path/filepath"

	"github.com/rivermark/rivermark/internal/vfs"
)

// CommitKind classifies the kind of write that produced a snapshot.
type CommitKind string

const (
	// CommitAppend is an ordinary streaming write: new records flushed and
	// appended, no rewriting of existing data.
	CommitAppend CommitKind = "APPEND"
	// CommitCompact is a commit whose only content is compaction's
	// ADD/DELETE bookkeeping; no new records were appended.
	CommitCompact CommitKind = "COMPACT"
	// CommitOverwrite is a full-table rewrite, the only commit kind allowed
	// to change total-buckets.
	CommitOverwrite CommitKind = "OVERWRITE"
)

// CurrentSnapshotVersion is the schema version of the Snapshot JSON format.
const CurrentSnapshotVersion = 1

// Snapshot is an immutable, JSON-persisted description of the table as of
// one committed write. Snapshot ids are strictly increasing integers; a
// snapshot's base/delta/changelog manifest lists are themselves immutable
// once published, so concurrent readers need no synchronization once they
// hold a Snapshot value.
type Snapshot struct {
	Version               int        `json:"version"`
	ID                    int64      `json:"id"`
	SchemaID              int64      `json:"schemaId"`
	BaseManifestList      string     `json:"baseManifestList"`
	DeltaManifestList     string     `json:"deltaManifestList"`
	ChangelogManifestList string     `json:"changelogManifestList,omitempty"`
	CommitUser            string     `json:"commitUser"`
	CommitIdentifier      int64      `json:"commitIdentifier"`
	CommitKind            CommitKind `json:"commitKind"`
	TimeMillis            int64      `json:"timeMillis"`
	LogOffsets            map[string]int64 `json:"logOffsets,omitempty"`
	TotalRecordCount      int64      `json:"totalRecordCount"`
	DeltaRecordCount      int64      `json:"deltaRecordCount"`
	ChangelogRecordCount  int64      `json:"changelogRecordCount"`
}

// Write serializes s as JSON to path on fs.
func (s *Snapshot) Write(fs vfs.FS, path string) error {
	return writeJSON(fs, path, s)
}

// ReadSnapshot reads and decodes a snapshot descriptor from fs.
func ReadSnapshot(fs vfs.FS, path string) (*Snapshot, error) {
	var s Snapshot
	if err := readJSON(fs, path, &s); err != nil {
		return nil, fmt.Errorf("manifest: read snapshot %s: %w", path, err)
	}
	return &s, nil
}

// SnapshotDir is the snapshot/ subdirectory of a table's storage root.
func SnapshotDir(tableRoot string) string {
	return filepath.Join(tableRoot, "snapshot")
}

// ManifestDir is the manifest/ subdirectory of a table's storage root.
func ManifestDir(tableRoot string) string {
	return filepath.Join(tableRoot, "manifest")
}

// SnapshotPath returns the path of the snapshot descriptor file for id.
func SnapshotPath(tableRoot string, id int64) string {
	return filepath.Join(SnapshotDir(tableRoot), fmt.Sprintf("snapshot-%d", id))
}

// LatestPointerPath returns the path of the mutable pointer file that names
// the currently-committed snapshot id.
func LatestPointerPath(tableRoot string) string {
	return filepath.Join(SnapshotDir(tableRoot), "LATEST")
}
