// Package kv defines the transactional key-value trait the embedder
// implements, per spec.md §6. Keys and values are arbitrary byte strings,
// ordered by unsigned lexicographic comparison.
package kv

import "context"

// KVPair is a raw (key, value) pair as stored, with no decoding applied.
type KVPair struct {
	Key   []byte
	Value []byte
}

// Storage begins transactions and performs whole-store maintenance.
type Storage interface {
	// BeginTx starts a transaction. writable selects a write-capable
	// transaction; read-only transactions never need to serialize against
	// each other.
	BeginTx(ctx context.Context, writable bool) (StoreTx, error)
	// RangeCompact hints the engine to compact [lo, hi); engines without a
	// notion of compaction may treat this as a no-op.
	RangeCompact(ctx context.Context, lo, hi []byte) error
	// BulkPut loads pre-serialized pairs outside of normal transaction
	// bookkeeping, used for snapshot restore and index (re)builds.
	BulkPut(ctx context.Context, pairs []KVPair) error
}

// StoreTx is one transactional view over the store. Every method may
// return an engine error wrapping the underlying storage failure.
type StoreTx interface {
	Get(ctx context.Context, key []byte, forUpdate bool) ([]byte, bool, error)
	Exists(ctx context.Context, key []byte, forUpdate bool) (bool, error)
	Put(ctx context.Context, key, value []byte) error
	Del(ctx context.Context, key []byte) error

	// ParPut and ParDel are optional parallel bulk variants; an
	// implementation that has no faster path than looping Put/Del is free
	// to do exactly that.
	ParPut(ctx context.Context, pairs []KVPair) error
	ParDel(ctx context.Context, keys [][]byte) error

	// DelRangeFromPersisted deletes every key in [lo, hi) that is already
	// durable, used to purge a destroyed relation's id range post-commit.
	DelRangeFromPersisted(ctx context.Context, lo, hi []byte) error

	RangeScan(ctx context.Context, lo, hi []byte) (Iterator, error)
	RangeScanTuple(ctx context.Context, lo, hi []byte) (TupleIterator, error)
	// RangeSkipScanTuple implements time-travel: for each distinct key
	// prefix under [lo, hi), it yields the tuple whose Validity column is
	// the latest assertion at or before validAt, skipping prefixes whose
	// latest record is a retraction.
	RangeSkipScanTuple(ctx context.Context, lo, hi []byte, validAt int64) (TupleIterator, error)

	RangeCount(ctx context.Context, lo, hi []byte) (int64, error)
	TotalScan(ctx context.Context) (Iterator, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Iterator yields raw (key, value) pairs in key order.
type Iterator interface {
	Next() (KVPair, bool, error)
	Close() error
}

// TupleIterator yields raw key and value bytes as separate returns;
// callers decode the key.
type TupleIterator interface {
	Next() (key []byte, value []byte, ok bool, err error)
	Close() error
}
