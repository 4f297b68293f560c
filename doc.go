/*
Package rivermark provides a pure-Go, bucketed LSM-tree table engine for
streaming CDC ingestion into a partitioned lakehouse table.

Rivermark accepts insert/update-before/update-after/delete records, assigns
each record to a bucket, and durably merges it into a per-bucket LSM tree.
Since the engine keeps no write-ahead log, Table.Write flushes every touched
bucket to a level-0 file synchronously as part of the write itself, then
checks each touched bucket against a universal (size-tiered) compaction
policy and runs any compaction that is due before returning. Commits are
published through an optimistic-concurrency snapshot/manifest protocol so
multiple writers can commit against the same table without a central lock.

# Usage

See the root-level Table and BucketWriter types for the write path; RecordBatch
for building a batch of records to write; and Snapshot for pinning a
consistent read-time view of the table's committed state.

# Concurrency

A Table is safe for concurrent use by multiple goroutines: BucketWriters are
created and looked up under Table's internal lock, and each bucket's writes
and compactions are serialized by going through that bucket's single
BucketWriter. Individual iterators are not safe for concurrent use; each
goroutine should use its own.

# Commit model

Table.commit writes a manifest file and manifest list for a batch of
entries, then proposes them to the version set. On a lost race against a
concurrent commit it re-reads the latest snapshot and retries, up to a
bounded number of attempts, before giving up with an error.
*/
package rivermark
