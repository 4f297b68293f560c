// Package table provides data file reading and writing functionality.
// This file implements TableProperties parsing.
package table

import (
	"github.com/rivermark/rivermark/internal/block"
	"github.com/rivermark/rivermark/internal/encoding"
)

// Property name constants written into a data file's properties block.
const (
	PropDBID               = "rivermark.creating.db.identity"
	PropDBSessionID        = "rivermark.creating.session.identity"
	PropDBHostID           = "rivermark.creating.host.identity"
	PropOriginalFileNumber = "rivermark.original.file.number"
	PropDataSize           = "rivermark.data.size"
	PropIndexSize          = "rivermark.index.size"
	PropIndexPartitions    = "rivermark.index.partitions"
	PropTopLevelIndexSize  = "rivermark.top-level.index.size"
	PropFilterSize         = "rivermark.filter.size"
	PropRawKeySize         = "rivermark.raw.key.size"
	PropRawValueSize       = "rivermark.raw.value.size"
	PropNumDataBlocks      = "rivermark.num.data.blocks"
	PropNumEntries         = "rivermark.num.entries"
	PropDeletedKeys        = "rivermark.deleted.keys"
	PropFormatVersion      = "rivermark.format.version"
	PropFilterPolicy       = "rivermark.filter.policy"
	PropPartitionID        = "rivermark.partition.id"
	PropBucketID           = "rivermark.bucket.id"
	PropComparator         = "rivermark.comparator"
	PropCompression        = "rivermark.compression"
	PropCreationTime       = "rivermark.creation.time"
	PropOldestKeyTime      = "rivermark.oldest.key.time"
	PropNewestKeyTime      = "rivermark.newest.key.time"
	PropFileCreationTime   = "rivermark.file.creation.time"
	PropTailStartOffset    = "rivermark.tail.start.offset"
	PropKeyLargestSeqno    = "rivermark.key.largest.seqno"
	PropKeySmallestSeqno   = "rivermark.key.smallest.seqno"
)

// TableProperties contains metadata about a data file.
type TableProperties struct {
	// Basic statistics
	DataSize          uint64
	IndexSize         uint64
	IndexPartitions   uint64
	TopLevelIndexSize uint64
	FilterSize        uint64
	RawKeySize        uint64
	RawValueSize      uint64
	NumDataBlocks     uint64
	NumEntries        uint64
	NumDeletions      uint64
	FormatVersion     uint64
	PartitionID       uint64
	BucketID          uint64
	CreationTime      uint64
	OldestKeyTime     uint64
	NewestKeyTime     uint64
	FileCreationTime  uint64
	OrigFileNumber    uint64
	TailStartOffset   uint64
	KeyLargestSeqno   uint64
	KeySmallestSeqno  uint64

	// String properties
	DBID             string
	DBSessionID      string
	DBHostID         string
	FilterPolicyName string
	ComparatorName   string
	CompressionName  string

	// User-collected properties
	UserCollectedProperties map[string]string
}

// ParsePropertiesBlock parses a properties block into TableProperties.
func ParsePropertiesBlock(data []byte) (*TableProperties, error) {
	// The properties block is a regular block with key-value pairs
	blk, err := block.NewBlock(data)
	if err != nil {
		return nil, err
	}

	props := &TableProperties{
		UserCollectedProperties: make(map[string]string),
	}

	iter := blk.NewIterator()
	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
		key := string(iter.Key())
		value := iter.Value()

		// Try to parse as uint64 property
		if parseUint64Property(props, key, value) {
			continue
		}

		// Try to parse as string property
		if parseStringProperty(props, key, value) {
			continue
		}

		// Unknown property - store in user-collected
		props.UserCollectedProperties[key] = string(value)
	}

	return props, nil
}

// parseUint64Property parses a uint64 property if the key matches.
func parseUint64Property(props *TableProperties, key string, value []byte) bool {
	var target *uint64

	switch key {
	case PropOriginalFileNumber:
		target = &props.OrigFileNumber
	case PropDataSize:
		target = &props.DataSize
	case PropIndexSize:
		target = &props.IndexSize
	case PropIndexPartitions:
		target = &props.IndexPartitions
	case PropTopLevelIndexSize:
		target = &props.TopLevelIndexSize
	case PropFilterSize:
		target = &props.FilterSize
	case PropRawKeySize:
		target = &props.RawKeySize
	case PropRawValueSize:
		target = &props.RawValueSize
	case PropNumDataBlocks:
		target = &props.NumDataBlocks
	case PropNumEntries:
		target = &props.NumEntries
	case PropDeletedKeys:
		target = &props.NumDeletions
	case PropFormatVersion:
		target = &props.FormatVersion
	case PropPartitionID:
		target = &props.PartitionID
	case PropBucketID:
		target = &props.BucketID
	case PropCreationTime:
		target = &props.CreationTime
	case PropOldestKeyTime:
		target = &props.OldestKeyTime
	case PropNewestKeyTime:
		target = &props.NewestKeyTime
	case PropFileCreationTime:
		target = &props.FileCreationTime
	case PropTailStartOffset:
		target = &props.TailStartOffset
	case PropKeyLargestSeqno:
		target = &props.KeyLargestSeqno
	case PropKeySmallestSeqno:
		target = &props.KeySmallestSeqno
	default:
		return false
	}

	// Parse varint64
	v, _, err := encoding.DecodeVarint64(value)
	if err != nil {
		return false
	}
	*target = v
	return true
}

// parseStringProperty parses a string property if the key matches.
func parseStringProperty(props *TableProperties, key string, value []byte) bool {
	switch key {
	case PropDBID:
		props.DBID = string(value)
	case PropDBSessionID:
		props.DBSessionID = string(value)
	case PropDBHostID:
		props.DBHostID = string(value)
	case PropFilterPolicy:
		props.FilterPolicyName = string(value)
	case PropComparator:
		props.ComparatorName = string(value)
	case PropCompression:
		props.CompressionName = string(value)
	default:
		return false
	}
	return true
}
