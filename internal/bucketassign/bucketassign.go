// Package bucketassign implements dynamic bucket assignment for a
// partition: handing out the smallest bucket id with spare row-count
// capacity, or a fresh id when none has room.
//
// Reference: RocksDB v10.7.5's SliceTransform (include/rocksdb/slice_transform.h)
// supplies the key-trimming shape this package's KeyExtractor follows; the
// counting/assignment algorithm itself has no teacher analogue, since the
// teacher addresses column families by a caller-supplied handle rather than
// hashing a row into one.
package bucketassign

import (
	"sort"
	"sync"

	"github.com/zeebo/xxh3"
)

// KeyExtractor trims a record's primary key down to the bucket-key columns
// used for bucket assignment, mirroring the shape of a prefix extractor's
// Transform without the InDomain contract (every key is always in domain
// for bucket assignment).
type KeyExtractor interface {
	Transform(key []byte) []byte
}

// KeyExtractorFunc adapts a plain function to KeyExtractor.
type KeyExtractorFunc func(key []byte) []byte

// Transform calls f.
func (f KeyExtractorFunc) Transform(key []byte) []byte { return f(key) }

// IdentityExtractor returns the whole key unchanged.
var IdentityExtractor KeyExtractor = KeyExtractorFunc(func(key []byte) []byte { return key })

// Assigner hands out bucket ids for one partition, bounded to the buckets
// owned by one assigner shard out of M. It is safe for concurrent use.
type Assigner struct {
	mu sync.Mutex

	targetRowNumber int64
	shard           int32
	numShards       int32

	counts map[int32]int64
	order  []int32 // bucket ids present in counts, kept sorted ascending
}

// NewAssigner returns an Assigner for one partition. targetRowNumber is the
// row-count ceiling a bucket may hold before assign_bucket skips it in favor
// of the next candidate. shard/numShards restrict ownership to buckets b
// where b mod numShards == shard; pass shard 0, numShards 1 for a
// single-shard table.
func NewAssigner(targetRowNumber int64, shard, numShards int32) *Assigner {
	if numShards <= 0 {
		numShards = 1
	}
	return &Assigner{
		targetRowNumber: targetRowNumber,
		shard:           shard,
		numShards:       numShards,
		counts:          make(map[int32]int64),
	}
}

// Owns reports whether bucket b belongs to this assigner's shard.
func (a *Assigner) Owns(bucket int32) bool {
	return mod(bucket, a.numShards) == mod(a.shard, a.numShards)
}

func mod(v, m int32) int32 {
	r := v % m
	if r < 0 {
		r += m
	}
	return r
}

// Seed records a bucket's existing row count, as observed during bootstrap,
// before any steady-state Assign calls. Seed does not check ownership: a
// bootstrap scan may seed counts for buckets assigned before this assigner's
// shard count changed.
func (a *Assigner) Seed(bucket int32, rowCount int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.counts[bucket]; !ok {
		a.order = insertSorted(a.order, bucket)
	}
	a.counts[bucket] = rowCount
}

// Assign implements assign_bucket: the first shard-owned bucket (in
// ascending id order) with room under targetRowNumber, or the smallest
// shard-owned id not yet seen, initialised to a count of 1.
func (a *Assigner) Assign() int32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, b := range a.order {
		if !a.Owns(b) {
			continue
		}
		if a.counts[b] < a.targetRowNumber {
			a.counts[b]++
			return b
		}
	}

	b := a.firstUnseenOwnedLocked()
	a.counts[b] = 1
	a.order = insertSorted(a.order, b)
	return b
}

// firstUnseenOwnedLocked returns the smallest shard-owned bucket id not
// present in a.counts. Callers must hold a.mu.
func (a *Assigner) firstUnseenOwnedLocked() int32 {
	for b := a.shard; ; b += a.numShards {
		if _, ok := a.counts[b]; !ok {
			return b
		}
	}
}

// RowCount returns the last-known row count for bucket, or 0 if unseen.
func (a *Assigner) RowCount(bucket int32) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[bucket]
}

func insertSorted(order []int32, b int32) []int32 {
	i := sort.Search(len(order), func(i int) bool { return order[i] >= b })
	if i < len(order) && order[i] == b {
		return order
	}
	order = append(order, 0)
	copy(order[i+1:], order[i:])
	order[i] = b
	return order
}

// HashKey reduces a (possibly trimmed) bucket-assignment key to a bucket
// index modulo totalBuckets, for the fixed-bucket-count mode where
// assignment is a pure hash rather than a stateful Assigner.
func HashKey(key []byte, extractor KeyExtractor, totalBuckets int32) int32 {
	assignmentKey := key
	if extractor != nil {
		assignmentKey = extractor.Transform(key)
	}
	h := xxh3.Hash(assignmentKey)
	return int32(h % uint64(totalBuckets))
}
