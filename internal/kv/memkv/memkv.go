// Package memkv is a reference, in-process implementation of kv.Storage
// backed by github.com/tidwall/btree, the ordered-map library the pack's
// bsc-erigon entry reaches for over byte-keyed stores of this shape. It
// exists to run tests and the example CLI end-to-end, not as a production
// KV engine.
package memkv

import (
	"context"
	"sync"

	"github.com/tidwall/btree"

	"strata/internal/codec"
	"strata/internal/errs"
	"strata/internal/kv"
	"strata/internal/value"
)

// item is one stored (key, value) pair, ordered by unsigned byte
// comparison of Key (Go string comparison is already byte-wise, so this
// matches memcmp order directly).
type item struct {
	Key   string
	Value []byte
}

func itemLess(a, b item) bool { return a.Key < b.Key }

// Storage holds the durable tree plus a write-serializing mutex: only one
// writable transaction may be open at a time, matching the "engine's own
// conflict detection" the spec leaves to the embedder's discretion, here
// resolved with the simplest possible policy. Transactions work off a
// copy-on-write snapshot (BTreeG.Copy), the feature tidwall/btree is built
// around and the reason it fits a transactional store better than a plain
// map.
type Storage struct {
	mu      sync.Mutex
	tree    *btree.BTreeG[item]
	writeMu sync.Mutex
}

func New() *Storage {
	return &Storage{tree: btree.NewBTreeG(itemLess)}
}

func (s *Storage) BeginTx(ctx context.Context, writable bool) (kv.StoreTx, error) {
	if writable {
		s.writeMu.Lock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return &tx{storage: s, snapshot: s.tree.Copy(), writable: writable}, nil
}

func (s *Storage) RangeCompact(ctx context.Context, lo, hi []byte) error { return nil }

func (s *Storage) BulkPut(ctx context.Context, pairs []kv.KVPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range pairs {
		s.tree.Set(item{Key: string(p.Key), Value: p.Value})
	}
	return nil
}

// tx is one transactional view: writable transactions mutate a private
// snapshot and flush it back to storage on commit under the write lock
// already held since BeginTx; read-only transactions never mutate.
type tx struct {
	storage  *Storage
	snapshot *btree.BTreeG[item]
	writable bool
	done     bool
}

func (t *tx) checkWritable() error {
	if !t.writable {
		return errs.New(errs.Access, "transaction is read-only")
	}
	return nil
}

func (t *tx) Get(ctx context.Context, key []byte, forUpdate bool) ([]byte, bool, error) {
	got, ok := t.snapshot.Get(item{Key: string(key)})
	return got.Value, ok, nil
}

func (t *tx) Exists(ctx context.Context, key []byte, forUpdate bool) (bool, error) {
	_, ok := t.snapshot.Get(item{Key: string(key)})
	return ok, nil
}

func (t *tx) Put(ctx context.Context, key, value []byte) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.snapshot.Set(item{Key: string(key), Value: append([]byte(nil), value...)})
	return nil
}

func (t *tx) Del(ctx context.Context, key []byte) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.snapshot.Delete(item{Key: string(key)})
	return nil
}

func (t *tx) ParPut(ctx context.Context, pairs []kv.KVPair) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	for _, p := range pairs {
		t.snapshot.Set(item{Key: string(p.Key), Value: append([]byte(nil), p.Value...)})
	}
	return nil
}

func (t *tx) ParDel(ctx context.Context, keys [][]byte) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	for _, k := range keys {
		t.snapshot.Delete(item{Key: string(k)})
	}
	return nil
}

func (t *tx) DelRangeFromPersisted(ctx context.Context, lo, hi []byte) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	var toDelete []string
	t.snapshot.Ascend(item{Key: string(lo)}, func(it item) bool {
		if hi != nil && it.Key >= string(hi) {
			return false
		}
		toDelete = append(toDelete, it.Key)
		return true
	})
	for _, k := range toDelete {
		t.snapshot.Delete(item{Key: k})
	}
	return nil
}

func (t *tx) RangeScan(ctx context.Context, lo, hi []byte) (kv.Iterator, error) {
	return newRangeIter(t.snapshot, lo, hi), nil
}

func (t *tx) RangeScanTuple(ctx context.Context, lo, hi []byte) (kv.TupleIterator, error) {
	return newTupleIter(newRangeIter(t.snapshot, lo, hi)), nil
}

func (t *tx) RangeSkipScanTuple(ctx context.Context, lo, hi []byte, validAt int64) (kv.TupleIterator, error) {
	return newSkipScanIter(t.snapshot, lo, hi, validAt), nil
}

func (t *tx) RangeCount(ctx context.Context, lo, hi []byte) (int64, error) {
	var n int64
	t.snapshot.Ascend(item{Key: string(lo)}, func(it item) bool {
		if hi != nil && it.Key >= string(hi) {
			return false
		}
		n++
		return true
	})
	return n, nil
}

func (t *tx) TotalScan(ctx context.Context) (kv.Iterator, error) {
	return newRangeIter(t.snapshot, nil, nil), nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return errs.New(errs.Invariant, "transaction already closed")
	}
	t.done = true
	if t.writable {
		defer t.storage.writeMu.Unlock()
		t.storage.mu.Lock()
		t.storage.tree = t.snapshot
		t.storage.mu.Unlock()
	}
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if t.writable {
		t.storage.writeMu.Unlock()
	}
	return nil
}

type rangeIter struct {
	pairs []kv.KVPair
	pos   int
}

func newRangeIter(snap *btree.BTreeG[item], lo, hi []byte) *rangeIter {
	out := &rangeIter{}
	visit := func(it item) bool {
		if hi != nil && it.Key >= string(hi) {
			return false
		}
		out.pairs = append(out.pairs, kv.KVPair{Key: []byte(it.Key), Value: it.Value})
		return true
	}
	if lo != nil {
		snap.Ascend(item{Key: string(lo)}, visit)
	} else {
		snap.Scan(visit)
	}
	return out
}

func (it *rangeIter) Next() (kv.KVPair, bool, error) {
	if it.pos >= len(it.pairs) {
		return kv.KVPair{}, false, nil
	}
	p := it.pairs[it.pos]
	it.pos++
	return p, true, nil
}

func (it *rangeIter) Close() error { return nil }

type tupleIter struct{ inner *rangeIter }

func newTupleIter(inner *rangeIter) *tupleIter { return &tupleIter{inner: inner} }

func (it *tupleIter) Next() ([]byte, []byte, bool, error) {
	p, ok, err := it.inner.Next()
	if err != nil || !ok {
		return nil, nil, ok, err
	}
	return p.Key, p.Value, true, nil
}

func (it *tupleIter) Close() error { return nil }

// validityEncodedLen is the fixed width of a memcmp-encoded Validity value
// (tag byte + 8-byte flipped timestamp + 1-byte assert flag): since
// Validity is always the trailing key column of a time-travel relation, the
// last validityEncodedLen bytes of any key decode as one standalone Value
// regardless of whatever fixed-width header (e.g. a relation id) precedes
// the encoded tuple, so skip-scan never needs to decode the whole key.
const validityEncodedLen = 10

// skipScanIter implements time-travel per spec.md §4.4/§8: for each
// distinct key prefix (everything but the trailing Validity column), it
// keeps only the record whose Validity timestamp is the latest at or
// before validAt, and only if that latest record is an assertion. Validity
// encodes as the complement of its timestamp, so ascending byte order
// already yields newest-first within one prefix group; the first record
// per group that qualifies settles that group.
type skipScanIter struct {
	pairs []kv.KVPair
	pos   int
}

func newSkipScanIter(snap *btree.BTreeG[item], lo, hi []byte, validAt int64) *skipScanIter {
	raw := newRangeIter(snap, lo, hi)
	out := &skipScanIter{}
	var curPrefix string
	havePrefix := false
	settled := false
	for {
		p, ok, _ := raw.Next()
		if !ok {
			break
		}
		if len(p.Key) < validityEncodedLen {
			continue
		}
		split := len(p.Key) - validityEncodedLen
		prefix := string(p.Key[:split])
		v, _, err := codec.DecodeValue(p.Key[split:])
		if err != nil {
			continue
		}
		vld, isValidity := v.(value.Validity)
		if !havePrefix || prefix != curPrefix {
			curPrefix = prefix
			havePrefix = true
			settled = false
		}
		if settled || !isValidity {
			continue
		}
		if vld.TimestampUs <= validAt {
			settled = true
			if vld.IsAssert {
				out.pairs = append(out.pairs, p)
			}
		}
	}
	return out
}

func (it *skipScanIter) Next() ([]byte, []byte, bool, error) {
	if it.pos >= len(it.pairs) {
		return nil, nil, false, nil
	}
	p := it.pairs[it.pos]
	it.pos++
	return p.Key, p.Value, true, nil
}

func (it *skipScanIter) Close() error { return nil }
