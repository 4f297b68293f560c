// Package memtable implements the in-memory write buffer of a bucket's LSM
// tree: an ordered skiplist keyed by internal key (user key + sequence +
// row kind), sorted ascending on insertion so a flush produces an already
// sorted run.
package memtable

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/rivermark/rivermark/internal/dbformat"
)

// MemTable holds records accepted by a BucketWriter before they are flushed
// to a level-0 data file.
type MemTable struct {
	skiplist *SkipList
	compare  Comparator

	memoryUsage int64

	firstSeqno    dbformat.SequenceNumber
	earliestSeqno dbformat.SequenceNumber

	refs int32

	mu sync.Mutex
}

// NewMemTable creates a new MemTable using cmp to order user keys.
func NewMemTable(cmp Comparator) *MemTable {
	if cmp == nil {
		cmp = BytewiseComparator
	}

	internalCmp := func(a, b []byte) int {
		return compareMemTableEntries(a, b, cmp)
	}

	return &MemTable{
		skiplist:      NewSkipList(internalCmp),
		compare:       cmp,
		refs:          1,
		firstSeqno:    0,
		earliestSeqno: ^dbformat.SequenceNumber(0),
	}
}

// extractInternalKey extracts the internal key from a memtable entry.
// Entry format: [keyLen:varint][internalKey][valueLen:varint][value]
func extractInternalKey(entry []byte) []byte {
	if len(entry) < 2 {
		return nil
	}
	keyLen, n := decodeVarint32(entry)
	if n <= 0 || int(keyLen) > len(entry)-n {
		return nil
	}
	return entry[n : n+int(keyLen)]
}

// compareMemTableEntries compares two memtable entries by internal key:
// user key ascending, then trailer (sequence, row kind) ascending.
func compareMemTableEntries(a, b []byte, userCmp Comparator) int {
	aInternalKey := extractInternalKey(a)
	bInternalKey := extractInternalKey(b)

	if aInternalKey == nil || bInternalKey == nil {
		return userCmp(a, b)
	}

	if len(aInternalKey) < dbformat.NumInternalBytes || len(bInternalKey) < dbformat.NumInternalBytes {
		return userCmp(aInternalKey, bInternalKey)
	}

	aUserKey := aInternalKey[:len(aInternalKey)-dbformat.NumInternalBytes]
	bUserKey := bInternalKey[:len(bInternalKey)-dbformat.NumInternalBytes]

	cmp := userCmp(aUserKey, bUserKey)
	if cmp != 0 {
		return cmp
	}

	aTrailer := binary.LittleEndian.Uint64(aInternalKey[len(aInternalKey)-dbformat.NumInternalBytes:])
	bTrailer := binary.LittleEndian.Uint64(bInternalKey[len(bInternalKey)-dbformat.NumInternalBytes:])

	if aTrailer < bTrailer {
		return -1
	} else if aTrailer > bTrailer {
		return 1
	}
	return 0
}

// Ref increments the reference count.
func (mt *MemTable) Ref() {
	atomic.AddInt32(&mt.refs, 1)
}

// Unref decrements the reference count and returns true if no more references.
func (mt *MemTable) Unref() bool {
	return atomic.AddInt32(&mt.refs, -1) == 0
}

// Add inserts a record into the memtable.
func (mt *MemTable) Add(seq dbformat.SequenceNumber, kind dbformat.RowKind, key, value []byte) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	internalKeyLen := len(key) + dbformat.NumInternalBytes
	trailer := dbformat.PackSequenceAndKind(seq, kind)

	// Entry format: [internal_key_len:varint32][internal_key][value_len:varint32][value]
	entry := make([]byte, 0, internalKeyLen+len(value)+10)
	entry = appendVarint32(entry, uint32(internalKeyLen))
	entry = append(entry, key...)
	entry = append(entry, 0, 0, 0, 0, 0, 0, 0, 0)
	binary.LittleEndian.PutUint64(entry[len(entry)-8:], trailer)
	entry = appendVarint32(entry, uint32(len(value)))
	entry = append(entry, value...)

	mt.skiplist.Insert(entry)

	atomic.AddInt64(&mt.memoryUsage, int64(len(entry)+64)) // 64 bytes skiplist node overhead

	if seq < mt.earliestSeqno {
		mt.earliestSeqno = seq
	}
	if seq > mt.firstSeqno {
		mt.firstSeqno = seq
	}
}

// AddRecord is a convenience wrapper around Add for a dbformat.Record.
func (mt *MemTable) AddRecord(r dbformat.Record) {
	mt.Add(r.Sequence, r.Kind, r.Key, r.Value)
}

// SequenceRange returns the smallest and largest sequence numbers added so far.
func (mt *MemTable) SequenceRange() (smallest, largest dbformat.SequenceNumber) {
	if mt.Empty() {
		return 0, 0
	}
	return mt.earliestSeqno, mt.firstSeqno
}

// Get looks up the most recent record for key visible at or before seq.
func (mt *MemTable) Get(key []byte, seq dbformat.SequenceNumber) (value []byte, found bool, deleted bool) {
	lookupKey := make([]byte, len(key)+dbformat.NumInternalBytes)
	copy(lookupKey, key)
	binary.LittleEndian.PutUint64(lookupKey[len(key):], dbformat.PackSequenceAndKind(seq, dbformat.Delete))

	// Entries sort by ascending sequence, so the newest entry visible at seq
	// is the last one at or before the lookup key.
	iter := mt.skiplist.NewIterator()
	iter.SeekForPrev(buildLookupEntry(lookupKey))

	if !iter.Valid() {
		return nil, false, false
	}

	entryKey, entryValue, entrySeq, entryKind, ok := parseEntry(iter.Key())
	if !ok || mt.compare(key, entryKey) != 0 || entrySeq > seq {
		return nil, false, false
	}

	if entryKind == dbformat.Delete {
		return nil, true, true
	}
	return entryValue, true, false
}

// AllForKey returns every record stored for key, in ascending sequence
// order (the order the records were produced in), for use by merge engines
// that need to replay a key's full CDC history within one sorted run.
func (mt *MemTable) AllForKey(key []byte) []dbformat.Record {
	var out []dbformat.Record
	iter := mt.skiplist.NewIterator()
	iter.Seek(buildLookupEntry(append(append([]byte{}, key...), make([]byte, dbformat.NumInternalBytes)...)))
	for iter.Valid() {
		entryKey, entryValue, entrySeq, entryKind, ok := parseEntry(iter.Key())
		if !ok || mt.compare(key, entryKey) != 0 {
			break
		}
		out = append(out, dbformat.Record{Key: entryKey, Value: entryValue, Sequence: entrySeq, Kind: entryKind})
		iter.Next()
	}
	return out
}

// buildLookupEntry builds an entry suitable for seeking.
func buildLookupEntry(internalKey []byte) []byte {
	entry := make([]byte, 0, len(internalKey)+5)
	entry = appendVarint32(entry, uint32(len(internalKey)))
	entry = append(entry, internalKey...)
	return entry
}

// parseEntry parses a memtable entry and returns its components.
func parseEntry(entry []byte) (key, value []byte, seq dbformat.SequenceNumber, kind dbformat.RowKind, ok bool) {
	if len(entry) < 2 {
		return nil, nil, 0, 0, false
	}

	keyLen, n := decodeVarint32(entry)
	if n <= 0 || int(keyLen) > len(entry)-n {
		return nil, nil, 0, 0, false
	}
	entry = entry[n:]

	if keyLen < dbformat.NumInternalBytes {
		return nil, nil, 0, 0, false
	}

	internalKey := entry[:keyLen]
	entry = entry[keyLen:]

	key = internalKey[:keyLen-dbformat.NumInternalBytes]
	trailer := binary.LittleEndian.Uint64(internalKey[keyLen-dbformat.NumInternalBytes:])
	seq, kind = dbformat.UnpackSequenceAndKind(trailer)

	if len(entry) < 1 {
		return key, nil, seq, kind, true
	}

	valueLen, n := decodeVarint32(entry)
	if n <= 0 {
		return nil, nil, 0, 0, false
	}
	entry = entry[n:]

	if int(valueLen) > len(entry) {
		return nil, nil, 0, 0, false
	}

	value = entry[:valueLen]
	return key, value, seq, kind, true
}

// ApproximateMemoryUsage returns the approximate memory usage in bytes.
func (mt *MemTable) ApproximateMemoryUsage() int64 {
	return atomic.LoadInt64(&mt.memoryUsage)
}

// Count returns the number of entries in the memtable.
func (mt *MemTable) Count() int64 {
	return mt.skiplist.Count()
}

// Empty returns true if the memtable has no entries.
func (mt *MemTable) Empty() bool {
	return mt.Count() == 0
}

// NewIterator returns an iterator over the memtable in internal-key order.
func (mt *MemTable) NewIterator() *MemTableIterator {
	return &MemTableIterator{
		iter:    mt.skiplist.NewIterator(),
		compare: mt.compare,
	}
}

// MemTableIterator iterates over memtable entries.
type MemTableIterator struct {
	iter    *Iterator
	compare Comparator

	userKey []byte
	value   []byte
	seq     dbformat.SequenceNumber
	kind    dbformat.RowKind
	valid   bool
}

// Valid returns true if the iterator is positioned at a valid entry.
func (it *MemTableIterator) Valid() bool {
	return it.valid && it.iter.Valid()
}

// SeekToFirst positions the iterator at the first entry.
func (it *MemTableIterator) SeekToFirst() {
	it.iter.SeekToFirst()
	it.parseCurrentEntry()
}

// SeekToLast positions the iterator at the last entry.
func (it *MemTableIterator) SeekToLast() {
	it.iter.SeekToLast()
	it.parseCurrentEntry()
}

// Seek positions the iterator at the first entry with internal key >= target.
func (it *MemTableIterator) Seek(target []byte) {
	it.iter.Seek(buildLookupEntry(target))
	it.parseCurrentEntry()
}

// Next advances to the next entry.
func (it *MemTableIterator) Next() {
	it.iter.Next()
	it.parseCurrentEntry()
}

// Prev moves to the previous entry.
func (it *MemTableIterator) Prev() {
	it.iter.Prev()
	it.parseCurrentEntry()
}

// UserKey returns the user key (without internal key suffix).
func (it *MemTableIterator) UserKey() []byte { return it.userKey }

// Key returns the full internal key (userKey + sequence + kind).
func (it *MemTableIterator) Key() []byte {
	key := make([]byte, len(it.userKey)+dbformat.NumInternalBytes)
	copy(key, it.userKey)
	trailer := dbformat.PackSequenceAndKind(it.seq, it.kind)
	binary.LittleEndian.PutUint64(key[len(it.userKey):], trailer)
	return key
}

// Value returns the value.
func (it *MemTableIterator) Value() []byte { return it.value }

// Error returns any error that occurred during iteration.
func (it *MemTableIterator) Error() error { return nil }

// Sequence returns the sequence number of the current entry.
func (it *MemTableIterator) Sequence() dbformat.SequenceNumber { return it.seq }

// Kind returns the row kind of the current entry.
func (it *MemTableIterator) Kind() dbformat.RowKind { return it.kind }

func (it *MemTableIterator) parseCurrentEntry() {
	if !it.iter.Valid() {
		it.valid = false
		it.userKey = nil
		it.value = nil
		return
	}

	var ok bool
	it.userKey, it.value, it.seq, it.kind, ok = parseEntry(it.iter.Key())
	it.valid = ok
}

func appendVarint32(buf []byte, v uint32) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	buf = append(buf, byte(v))
	return buf
}

func decodeVarint32(data []byte) (uint32, int) {
	var v uint32
	for i := 0; i < 5 && i < len(data); i++ {
		b := data[i]
		v |= uint32(b&0x7F) << (7 * i)
		if b < 0x80 {
			return v, i + 1
		}
	}
	return 0, 0
}
