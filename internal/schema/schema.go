// Package schema implements the typed table schema and its evolution
// history: an ordered list of named, typed columns, the (possibly empty)
// partition and primary-key column subsets, and the strictly-increasing
// schema-id history a table accumulates as it evolves.
//
// Reference: no teacher analogue — RocksDB column families carry no
// typed row schema of their own (callers serialize however they like).
// History's append-only, monotonically-increasing-id log follows the
// same shape as internal/manifest.Snapshot's own id sequence.
package schema

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/rivermark/rivermark/internal/vfs"
)

// Type names a column's value domain.
type Type string

const (
	TypeInt64     Type = "int64"
	TypeFloat64   Type = "float64"
	TypeString    Type = "string"
	TypeBytes     Type = "bytes"
	TypeBool      Type = "bool"
	TypeTimestamp Type = "timestamp"
)

// Column is one named, typed field of a row.
type Column struct {
	Name     string `json:"name"`
	Type     Type   `json:"type"`
	Nullable bool   `json:"nullable"`
}

// Schema describes a table's row shape as of one schema-id: its columns,
// which (ordered) subset are partition columns, and which (ordered)
// subset are primary-key columns.
type Schema struct {
	ID                int64    `json:"id"`
	Columns           []Column `json:"columns"`
	PartitionColumns  []string `json:"partitionColumns,omitempty"`
	PrimaryKeyColumns []string `json:"primaryKeyColumns,omitempty"`
}

// Validate checks that columns are uniquely named and that every
// partition/primary-key column name refers to a declared column.
func (s *Schema) Validate() error {
	if len(s.Columns) == 0 {
		return fmt.Errorf("schema: must declare at least one column")
	}
	names := make(map[string]bool, len(s.Columns))
	for _, c := range s.Columns {
		if c.Name == "" {
			return fmt.Errorf("schema: column with empty name")
		}
		if names[c.Name] {
			return fmt.Errorf("schema: duplicate column %q", c.Name)
		}
		names[c.Name] = true
	}
	for _, p := range s.PartitionColumns {
		if !names[p] {
			return fmt.Errorf("schema: partition column %q is not a declared column", p)
		}
	}
	for _, p := range s.PrimaryKeyColumns {
		if !names[p] {
			return fmt.Errorf("schema: primary key column %q is not a declared column", p)
		}
	}
	return nil
}

// ColumnIndex returns the position of the named column.
func (s *Schema) ColumnIndex(name string) (int, bool) {
	for i, c := range s.Columns {
		if c.Name == name {
			return i, true
		}
	}
	return 0, false
}

// IsPrimaryKeySupersetOfPartition reports whether every partition column
// is also a primary-key column. When it is not, the table must enforce
// primary-key uniqueness across partitions via a cross-partition global
// index, since the partition-local LSM alone cannot see duplicate keys
// that landed in a different partition.
func (s *Schema) IsPrimaryKeySupersetOfPartition() bool {
	if len(s.PartitionColumns) == 0 {
		return true
	}
	pk := make(map[string]bool, len(s.PrimaryKeyColumns))
	for _, c := range s.PrimaryKeyColumns {
		pk[c] = true
	}
	for _, p := range s.PartitionColumns {
		if !pk[p] {
			return false
		}
	}
	return true
}

// History is a table's append-only schema evolution log: strictly
// increasing schema ids, oldest first.
type History struct {
	Schemas []*Schema `json:"schemas"`
}

// NewHistory starts a schema history from initial, assigning it id 1 if
// unset.
func NewHistory(initial *Schema) (*History, error) {
	if initial == nil {
		return nil, fmt.Errorf("schema: initial schema is nil")
	}
	if initial.ID == 0 {
		initial.ID = 1
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &History{Schemas: []*Schema{initial}}, nil
}

// Latest returns the most recently evolved schema.
func (h *History) Latest() *Schema {
	return h.Schemas[len(h.Schemas)-1]
}

// Evolve appends next to the history; next.ID must exceed every prior
// schema's id.
func (h *History) Evolve(next *Schema) error {
	if err := next.Validate(); err != nil {
		return err
	}
	if latest := h.Latest(); next.ID <= latest.ID {
		return fmt.Errorf("schema: new schema id %d must exceed current schema id %d", next.ID, latest.ID)
	}
	h.Schemas = append(h.Schemas, next)
	return nil
}

// ByID returns the schema committed with the given id, if any.
func (h *History) ByID(id int64) (*Schema, bool) {
	for _, s := range h.Schemas {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// HistoryPath returns the schema history file's path under a table root.
func HistoryPath(tableRoot string) string {
	return filepath.Join(tableRoot, "schema", "history.json")
}

// Write serializes h as JSON to path on fs.
func (h *History) Write(fs vfs.FS, path string) error {
	data, err := json.Marshal(h)
	if err != nil {
		return err
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
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

// ReadHistory reads and decodes a schema history file from fs.
func ReadHistory(fs vfs.FS, path string) (*History, error) {
	rf, err := fs.OpenRandomAccess(path)
	if err != nil {
		return nil, err
	}
	defer rf.Close()

	buf := make([]byte, rf.Size())
	if len(buf) > 0 {
		if _, err := rf.ReadAt(buf, 0); err != nil {
			return nil, err
		}
	}
	var h History
	if err := json.Unmarshal(buf, &h); err != nil {
		return nil, fmt.Errorf("schema: corrupt history file %s: %w", path, err)
	}
	return &h, nil
}
