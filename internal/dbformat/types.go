// Package dbformat defines the internal key format and the CDC record kinds
// used throughout Rivermark's write path.
//
// An internal key is a user primary key with an 8-byte trailer appended:
// (sequence_number << 8) | row_kind, stored little-endian. InternalKeyComparator
// orders internal keys first by user key, then by the decoded trailer.
package dbformat

import (
	"errors"
	"fmt"

	"github.com/rivermark/rivermark/internal/encoding"
)

// SequenceNumber is a 56-bit monotonically increasing counter assigned to
// every record accepted by a BucketWriter.
type SequenceNumber uint64

// MaxSequenceNumber is the largest representable sequence number (2^56 - 1).
const MaxSequenceNumber SequenceNumber = (1 << 56) - 1

// NumInternalBytes is the size of the internal key trailer (sequence + kind).
const NumInternalBytes = 8

// RowKind classifies a CDC record.
type RowKind uint8

const (
	// Insert is a newly created row.
	Insert RowKind = 0x00
	// UpdateBefore carries the pre-image of an updated row. It is paired
	// with a following UpdateAfter at the same sequence boundary.
	UpdateBefore RowKind = 0x01
	// UpdateAfter carries the post-image of an updated row.
	UpdateAfter RowKind = 0x02
	// Delete removes a row.
	Delete RowKind = 0x03
)

// String returns the canonical name used in manifest/snapshot JSON.
func (k RowKind) String() string {
	switch k {
	case Insert:
		return "INSERT"
	case UpdateBefore:
		return "UPDATE_BEFORE"
	case UpdateAfter:
		return "UPDATE_AFTER"
	case Delete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// IsAdd reports whether the row kind contributes a live value (Insert or
// UpdateAfter), as opposed to a retraction (UpdateBefore, Delete).
func (k RowKind) IsAdd() bool {
	return k == Insert || k == UpdateAfter
}

var (
	// ErrCorruptedKey is returned when an internal key is malformed.
	ErrCorruptedKey = errors.New("dbformat: corrupted internal key")

	// ErrKeyTooSmall is returned when an internal key is smaller than the trailer.
	ErrKeyTooSmall = errors.New("dbformat: internal key too small")

	// ErrInvalidRowKind is returned when the row kind byte is not recognized.
	ErrInvalidRowKind = errors.New("dbformat: invalid row kind")
)

// IsValidRowKind reports whether k is one of the four CDC row kinds.
func IsValidRowKind(k RowKind) bool {
	return k <= Delete
}

// PackSequenceAndKind packs a sequence number and row kind into a 64-bit value.
func PackSequenceAndKind(seq SequenceNumber, k RowKind) uint64 {
	return (uint64(seq) << 8) | uint64(k)
}

// UnpackSequenceAndKind extracts the sequence number and row kind from a
// packed 64-bit trailer.
func UnpackSequenceAndKind(packed uint64) (SequenceNumber, RowKind) {
	return SequenceNumber(packed >> 8), RowKind(packed & 0xFF)
}

// ParsedInternalKey represents a parsed internal key.
type ParsedInternalKey struct {
	UserKey  []byte
	Sequence SequenceNumber
	Kind     RowKind
}

// String returns a human-readable representation.
func (p *ParsedInternalKey) String() string {
	return fmt.Sprintf("{UserKey: %q, Seq: %d, Kind: %s}", p.UserKey, p.Sequence, p.Kind)
}

// EncodedLength returns the length of the encoded internal key.
func (p *ParsedInternalKey) EncodedLength() int {
	return len(p.UserKey) + NumInternalBytes
}

// AppendInternalKey appends the serialization of key to dst.
func AppendInternalKey(dst []byte, key *ParsedInternalKey) []byte {
	dst = append(dst, key.UserKey...)
	packed := PackSequenceAndKind(key.Sequence, key.Kind)
	return encoding.AppendFixed64(dst, packed)
}

// ParseInternalKey parses an internal key from data.
func ParseInternalKey(data []byte) (*ParsedInternalKey, error) {
	n := len(data)
	if n < NumInternalBytes {
		return nil, ErrKeyTooSmall
	}

	packed := encoding.DecodeFixed64(data[n-NumInternalBytes:])
	seq, kind := UnpackSequenceAndKind(packed)

	result := &ParsedInternalKey{
		UserKey:  data[:n-NumInternalBytes],
		Sequence: seq,
		Kind:     kind,
	}

	if !IsValidRowKind(kind) {
		return result, ErrInvalidRowKind
	}

	return result, nil
}

// ExtractUserKey returns the user key portion of an internal key.
func ExtractUserKey(internalKey []byte) []byte {
	if len(internalKey) < NumInternalBytes {
		return nil
	}
	return internalKey[:len(internalKey)-NumInternalBytes]
}

// ExtractRowKind returns the row kind from an internal key.
func ExtractRowKind(internalKey []byte) RowKind {
	if len(internalKey) < NumInternalBytes {
		return Delete
	}
	n := len(internalKey)
	packed := encoding.DecodeFixed64(internalKey[n-NumInternalBytes:])
	return RowKind(packed & 0xFF)
}

// ExtractSequenceNumber returns the sequence number from an internal key.
func ExtractSequenceNumber(internalKey []byte) SequenceNumber {
	if len(internalKey) < NumInternalBytes {
		return 0
	}
	n := len(internalKey)
	packed := encoding.DecodeFixed64(internalKey[n-NumInternalBytes:])
	return SequenceNumber(packed >> 8)
}

// InternalKey is an encoded internal key stored as a byte slice.
type InternalKey []byte

// NewInternalKey creates a new internal key from user key, sequence, and kind.
func NewInternalKey(userKey []byte, seq SequenceNumber, kind RowKind) InternalKey {
	return AppendInternalKey(nil, &ParsedInternalKey{
		UserKey:  userKey,
		Sequence: seq,
		Kind:     kind,
	})
}

// UserKey returns the user key portion.
func (k InternalKey) UserKey() []byte { return ExtractUserKey(k) }

// Sequence returns the sequence number.
func (k InternalKey) Sequence() SequenceNumber { return ExtractSequenceNumber(k) }

// Kind returns the row kind.
func (k InternalKey) Kind() RowKind { return ExtractRowKind(k) }

// Valid returns true if this is a well-formed internal key.
func (k InternalKey) Valid() bool {
	if len(k) < NumInternalBytes {
		return false
	}
	_, err := ParseInternalKey(k)
	return err == nil
}

// Parse returns the parsed internal key.
func (k InternalKey) Parse() (*ParsedInternalKey, error) {
	return ParseInternalKey(k)
}

// Record is a single CDC record flowing through a BucketWriter: a primary
// key, its value payload, the kind of change, and the sequence number
// assigned when it was accepted.
type Record struct {
	Key      []byte
	Value    []byte
	Kind     RowKind
	Sequence SequenceNumber
}

// InternalKey encodes the record's key, sequence, and kind into the sortable
// internal key format used by the memtable and sorted runs.
func (r Record) InternalKey() InternalKey {
	return NewInternalKey(r.Key, r.Sequence, r.Kind)
}

// =============================================================================
// InternalKeyComparator
// =============================================================================

// UserKeyComparer compares two user keys. Negative if a < b, positive if
// a > b, zero if equal.
type UserKeyComparer func(a, b []byte) int

// BytewiseCompare is the default user key comparer (lexicographic ordering).
func BytewiseCompare(a, b []byte) int {
	minLen := min(len(a), len(b))
	for i := range minLen {
		if a[i] < b[i] {
			return -1
		}
		if a[i] > b[i] {
			return 1
		}
	}
	if len(a) < len(b) {
		return -1
	}
	if len(a) > len(b) {
		return 1
	}
	return 0
}

// InternalKeyComparator compares internal keys.
//
// Internal key format: user_key + 8-byte trailer (sequence << 8 | kind)
//
// Comparison order:
//  1. User key (ascending, using the wrapped user comparator)
//  2. Sequence number (ascending - the record accepted first sorts first)
//  3. Row kind (ascending, as a final tie-break on same-sequence pairs)
//
// Note this is the opposite sequence tie-break from the upstream RocksDB
// convention (which sorts descending so the newest version of a key reads
// first from a single forward iterator). Rivermark's merge functions walk
// same-key runs in the order records were produced and need ascending
// sequence order to replay CDC history correctly, so the decoded trailer
// compares ascending here.
type InternalKeyComparator struct {
	userCompare UserKeyComparer
}

// NewInternalKeyComparator creates a new InternalKeyComparator with the given
// user key comparison function.
func NewInternalKeyComparator(userCompare UserKeyComparer) *InternalKeyComparator {
	if userCompare == nil {
		userCompare = BytewiseCompare
	}
	return &InternalKeyComparator{userCompare: userCompare}
}

// DefaultInternalKeyComparator is the default comparator using bytewise user key ordering.
var DefaultInternalKeyComparator = NewInternalKeyComparator(BytewiseCompare)

// Compare compares two internal keys.
func (c *InternalKeyComparator) Compare(a, b []byte) int {
	userKeyA := ExtractUserKey(a)
	userKeyB := ExtractUserKey(b)
	if userKeyA == nil {
		userKeyA = a
	}
	if userKeyB == nil {
		userKeyB = b
	}

	cmp := c.userCompare(userKeyA, userKeyB)
	if cmp != 0 {
		return cmp
	}

	if len(a) >= NumInternalBytes && len(b) >= NumInternalBytes {
		trailerA := encoding.DecodeFixed64(a[len(a)-NumInternalBytes:])
		trailerB := encoding.DecodeFixed64(b[len(b)-NumInternalBytes:])
		if trailerA < trailerB {
			return -1
		}
		if trailerA > trailerB {
			return 1
		}
	}
	return 0
}

// CompareUserKey compares just the user key portion of two internal keys.
func (c *InternalKeyComparator) CompareUserKey(a, b []byte) int {
	userKeyA := ExtractUserKey(a)
	userKeyB := ExtractUserKey(b)
	if userKeyA == nil {
		userKeyA = a
	}
	if userKeyB == nil {
		userKeyB = b
	}
	return c.userCompare(userKeyA, userKeyB)
}

// UserCompare returns the user key comparison function.
func (c *InternalKeyComparator) UserCompare() UserKeyComparer {
	return c.userCompare
}

// CompareInternalKeys is a convenience function using the default bytewise comparator.
func CompareInternalKeys(a, b []byte) int {
	return DefaultInternalKeyComparator.Compare(a, b)
}
