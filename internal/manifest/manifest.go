// Package manifest implements the manifest entries and snapshot descriptors
// that record, for a committed snapshot, which data files belong to which
// (partition, bucket, level).
//
// Unlike RocksDB's MANIFEST log (a sequential stream of binary-encoded
// VersionEdit records replayed in full on every open), a Rivermark manifest
// is a self-contained JSON file: a batch of ADD/DELETE entries produced by
// one commit. A snapshot references a base manifest list plus, optionally,
// delta and changelog manifest lists, so a reader never replays the whole
// history — only the manifests a Snapshot actually names.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rivermark/rivermark/internal/vfs"
)

// ErrCorruptManifest indicates a manifest or manifest-list file failed to
// decode.
var ErrCorruptManifest = errors.New("manifest: corrupt manifest file")

// Kind distinguishes an ADD from a DELETE manifest entry.
type Kind string

const (
	// KindAdd records a data file becoming live in a (partition, bucket).
	KindAdd Kind = "ADD"
	// KindDelete records a data file being superseded, usually by a
	// completed compaction.
	KindDelete Kind = "DELETE"
)

// FileMeta describes one data file referenced by a manifest entry. The field
// set mirrors the binary layout a manifest entry would use if encoded in the
// table's own columnar data-file format: kind, partition, bucket,
// totalBuckets, then the nested file descriptor fields.
type FileMeta struct {
	FileName           string `json:"fileName"`
	FileSize           int64  `json:"fileSize"`
	RowCount           int64  `json:"rowCount"`
	MinKey             []byte `json:"minKey"`
	MaxKey             []byte `json:"maxKey"`
	KeyStats           []byte `json:"keyStats,omitempty"`
	ValueStats         []byte `json:"valueStats,omitempty"`
	MinSequenceNumber  uint64 `json:"minSequenceNumber"`
	MaxSequenceNumber  uint64 `json:"maxSequenceNumber"`
	SchemaID           int64  `json:"schemaId"`
	Level              int32  `json:"level"`
	ExtraFiles         []string `json:"extraFiles,omitempty"`
	CreationTimeMillis int64  `json:"creationTime"`
}

// Entry is a single ADD or DELETE record describing a data file's membership
// in a (partition, bucket) LSM at a given level. Entries are batched into
// manifest files by a commit.
type Entry struct {
	Kind         Kind     `json:"kind"`
	Partition    string   `json:"partition"`
	Bucket       int32    `json:"bucket"`
	TotalBuckets int32    `json:"totalBuckets"`
	Level        int32    `json:"level"`
	File         FileMeta `json:"file"`
}

// File is one manifest file on disk: the batch of entries produced by a
// single flush or compaction round within one commit.
type File struct {
	Entries []Entry `json:"entries"`
}

// Write serializes m as JSON to path on fs, syncing before returning so a
// subsequent manifest-list write can safely reference it.
func (m *File) Write(fs vfs.FS, path string) error {
	return writeJSON(fs, path, m)
}

// ReadFile reads and decodes a manifest file from fs.
func ReadFile(fs vfs.FS, path string) (*File, error) {
	var m File
	if err := readJSON(fs, path, &m); err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	return &m, nil
}

// List is a manifest-list file: the ordered set of manifest file names a
// snapshot's base, delta, or changelog list resolves to.
type List struct {
	ManifestFiles []string `json:"manifestFiles"`
}

// Write serializes l as JSON to path on fs.
func (l *List) Write(fs vfs.FS, path string) error {
	return writeJSON(fs, path, l)
}

// ReadList reads and decodes a manifest-list file from fs.
func ReadList(fs vfs.FS, path string) (*List, error) {
	var l List
	if err := readJSON(fs, path, &l); err != nil {
		return nil, fmt.Errorf("manifest: read list %s: %w", path, err)
	}
	return &l, nil
}

func writeJSON(fs vfs.FS, path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f, err := fs.Create(path)
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
	return f.Close()
}

func readJSON(fs vfs.FS, path string, v any) error {
	rf, err := fs.OpenRandomAccess(path)
	if err != nil {
		return err
	}
	defer rf.Close()

	buf := make([]byte, rf.Size())
	if len(buf) > 0 {
		if _, err := rf.ReadAt(buf, 0); err != nil {
			return err
		}
	}
	if err := json.Unmarshal(buf, v); err != nil {
		return ErrCorruptManifest
	}
	return nil
}
