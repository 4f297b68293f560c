// Package globalindex enforces primary-key uniqueness across partitions
// for tables whose primary key is not a superset of the partition key. It
// stores, for every live key, the (partition, bucket) that currently owns
// it, and resolves each incoming record against that mapping before the
// record reaches a BucketWriter.
//
// Reference: grounded on the hawkingrei-badger example's sharded-store
// idiom (one KV engine instance disjointly owning a subset of keys,
// addressed here by assigner shard rather than by key range) for the
// storage shape, backed by github.com/dgraph-io/badger/v4 as the embedded
// ordered KV engine the teacher's pack names for this role.
package globalindex

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/rivermark/rivermark/internal/encoding"
	"github.com/rivermark/rivermark/internal/iterator"
	"github.com/rivermark/rivermark/internal/sortbuffer"
	"github.com/rivermark/rivermark/internal/vfs"
)

// ExistsAction selects how Resolve handles a key already owned by a
// different partition, matching the merge engine configured for the
// table (deduplicate uses Delete, partial-update/aggregate use UseOld,
// first-row uses SkipNew).
type ExistsAction int

const (
	// ExistsActionDelete migrates the key: the new location wins, and a
	// synthetic DELETE is emitted for the old one.
	ExistsActionDelete ExistsAction = iota
	// ExistsActionUseOld keeps the key at its original location: the
	// incoming record is rewritten to target the old partition/bucket.
	ExistsActionUseOld
	// ExistsActionSkipNew drops the incoming record entirely.
	ExistsActionSkipNew
)

// Location is the (partition, bucket) a live key currently resolves to.
type Location struct {
	PartitionID int32
	Bucket      int32
}

// Plan is the outcome of resolving one record's key against the index.
type Plan struct {
	// Bucket is the bucket the record should be written to (zero value
	// when Drop is true).
	Bucket int32
	// RewritePartition is true when the caller must overwrite the
	// record's partition with OldPartition before forwarding it
	// (ExistsActionUseOld).
	RewritePartition bool
	// EmitTombstone is true when the caller must additionally emit a
	// synthetic DELETE record targeting (OldPartition, OldBucket)
	// (ExistsActionDelete, migrating keys).
	EmitTombstone bool
	// Drop is true when the record must be discarded without being
	// written anywhere (ExistsActionSkipNew).
	Drop bool

	OldPartition int32
	OldBucket    int32
}

// Engine is one assigner shard's index: a disjoint slice of the table's
// key space, per the sharding rule in Options.
type Engine struct {
	db  *badger.DB
	ttl time.Duration
}

// Options configures an Engine.
type Options struct {
	// Dir is the Badger data directory for this shard's index.
	Dir string
	// ValueTTLSeconds expires stale keys after this many seconds of
	// inactivity if > 0. Badger's native per-key TTL stands in for the
	// teacher's compaction-filter-driven TTL, a different primitive
	// serving the same "stale key expiry" role.
	ValueTTLSeconds int64
}

// Open opens (creating if necessary) the Badger store backing one
// assigner shard's index.
func Open(opts Options) (*Engine, error) {
	bopts := badger.DefaultOptions(opts.Dir)
	bopts.Logger = nil
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("globalindex: open: %w", err)
	}
	var ttl time.Duration
	if opts.ValueTTLSeconds > 0 {
		ttl = time.Duration(opts.ValueTTLSeconds) * time.Second
	}
	return &Engine{db: db, ttl: ttl}, nil
}

// Close releases the Badger store.
func (e *Engine) Close() error {
	return e.db.Close()
}

// Lookup returns the key's current owning location, if any.
func (e *Engine) Lookup(key []byte) (Location, bool, error) {
	var loc Location
	var found bool
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		loc, err = decodeLocation(val)
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return Location{}, false, fmt.Errorf("globalindex: lookup: %w", err)
	}
	return loc, found, nil
}

// put writes key -> loc, applying the configured TTL if set.
func (e *Engine) put(key []byte, loc Location) error {
	return e.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, encodeLocation(loc))
		if e.ttl > 0 {
			entry = entry.WithTTL(e.ttl)
		}
		return txn.SetEntry(entry)
	})
}

// Resolve implements the steady-state global-index algorithm for one
// incoming record's primary key: lookup, and on a cross-partition hit,
// apply action per the table's configured merge engine. assignBucket is
// called (at most once) only when a bucket must actually be assigned for
// newPartitionID, deferring to the caller's bucketassign.Assigner so the
// index package stays independent of bucket-assignment policy.
func (e *Engine) Resolve(key []byte, newPartitionID int32, action ExistsAction, assignBucket func() int32) (Plan, error) {
	old, found, err := e.Lookup(key)
	if err != nil {
		return Plan{}, err
	}

	if !found {
		bucket := assignBucket()
		if err := e.put(key, Location{PartitionID: newPartitionID, Bucket: bucket}); err != nil {
			return Plan{}, fmt.Errorf("globalindex: resolve: %w", err)
		}
		return Plan{Bucket: bucket}, nil
	}

	if old.PartitionID == newPartitionID {
		return Plan{Bucket: old.Bucket}, nil
	}

	switch action {
	case ExistsActionDelete:
		bucket := assignBucket()
		if err := e.put(key, Location{PartitionID: newPartitionID, Bucket: bucket}); err != nil {
			return Plan{}, fmt.Errorf("globalindex: resolve: %w", err)
		}
		return Plan{
			Bucket:        bucket,
			EmitTombstone: true,
			OldPartition:  old.PartitionID,
			OldBucket:     old.Bucket,
		}, nil
	case ExistsActionUseOld:
		return Plan{
			Bucket:           old.Bucket,
			RewritePartition: true,
			OldPartition:     old.PartitionID,
			OldBucket:        old.Bucket,
		}, nil
	case ExistsActionSkipNew:
		return Plan{Drop: true}, nil
	default:
		return Plan{}, fmt.Errorf("globalindex: unknown exists action %d", action)
	}
}

// Bootstrap bulk-loads the index from a sorted (key, location) stream
// produced by a sortbuffer.Sorter over the table's existing contents:
// runs of equal keys are resolved by keeping the entry with the highest
// sequence number, per the external-sort dedup rule.
func Bootstrap(e *Engine, sorted iterator.Iterator) error {
	wb := e.db.NewWriteBatch()
	defer wb.Cancel()

	var pendingKey []byte
	var pendingLoc Location
	var pendingSeq uint64
	havePending := false

	flush := func() error {
		if !havePending {
			return nil
		}
		entry := badger.NewEntry(append([]byte{}, pendingKey...), encodeLocation(pendingLoc))
		return wb.SetEntry(entry)
	}

	for sorted.Valid() {
		key := sorted.Key()
		loc, seq, err := decodeBootstrapValue(sorted.Value())
		if err != nil {
			return fmt.Errorf("globalindex: bootstrap: %w", err)
		}

		if havePending && string(key) == string(pendingKey) {
			if seq >= pendingSeq {
				pendingLoc, pendingSeq = loc, seq
			}
		} else {
			if err := flush(); err != nil {
				return fmt.Errorf("globalindex: bootstrap: %w", err)
			}
			pendingKey = append([]byte{}, key...)
			pendingLoc, pendingSeq = loc, seq
			havePending = true
		}
		sorted.Next()
	}
	if err := flush(); err != nil {
		return fmt.Errorf("globalindex: bootstrap: %w", err)
	}
	if err := sorted.Error(); err != nil {
		return fmt.Errorf("globalindex: bootstrap: %w", err)
	}
	return wb.Flush()
}

// BootstrapSorter returns a sortbuffer.Sorter pre-configured for building
// the (key, location+sequence) stream Bootstrap expects.
func BootstrapSorter(fs vfs.FS, dir string, cmp func(a, b []byte) int, maxBufferBytes, maxFileHandles int) *sortbuffer.Sorter {
	return sortbuffer.New(fs, dir, cmp, maxBufferBytes, maxFileHandles)
}

func encodeLocation(loc Location) []byte {
	buf := make([]byte, 0, 2*encoding.MaxVarint64Length)
	buf = encoding.AppendVarint64(buf, uint64(uint32(loc.PartitionID)))
	buf = encoding.AppendVarint64(buf, uint64(uint32(loc.Bucket)))
	return buf
}

func decodeLocation(data []byte) (Location, error) {
	loc, _, err := decodeLocationAt(data)
	return loc, err
}

// decodeLocationAt decodes a Location from the start of data and reports
// how many bytes it consumed, so callers with trailing fields (Bootstrap's
// sequence suffix) can continue decoding from the right offset.
func decodeLocationAt(data []byte) (Location, int, error) {
	pid, n1, err := encoding.DecodeVarint64(data)
	if err != nil {
		return Location{}, 0, fmt.Errorf("decode partition id: %w", err)
	}
	bucket, n2, err := encoding.DecodeVarint64(data[n1:])
	if err != nil {
		return Location{}, 0, fmt.Errorf("decode bucket: %w", err)
	}
	return Location{PartitionID: int32(uint32(pid)), Bucket: int32(uint32(bucket))}, n1 + n2, nil
}

// decodeBootstrapValue decodes a (location, sequence) triple from a
// bootstrap stream's value, as written by EncodeBootstrapValue.
func decodeBootstrapValue(data []byte) (Location, uint64, error) {
	loc, n, err := decodeLocationAt(data)
	if err != nil {
		return Location{}, 0, err
	}
	seq, _, err := encoding.DecodeVarint64(data[n:])
	if err != nil {
		return Location{}, 0, fmt.Errorf("decode sequence: %w", err)
	}
	return loc, seq, nil
}

// EncodeBootstrapValue encodes a (location, sequence) triple for a
// bootstrap-time sortbuffer entry's value.
func EncodeBootstrapValue(loc Location, seq uint64) []byte {
	buf := encodeLocation(loc)
	return encoding.AppendVarint64(buf, seq)
}
