package relation

import (
	"context"

	"strata/internal/codec"
	"strata/internal/errs"
	"strata/internal/kv"
	"strata/internal/value"
)

// TriggerOp identifies which trigger list fired.
type TriggerOp uint8

const (
	TriggerOnPut TriggerOp = iota
	TriggerOnRm
	TriggerOnReplace
)

// TriggerRunner executes a trigger program inside the write's own
// transaction, given the rows it fired on (new/old per spec.md §4.4). It is
// implemented by internal/imperative so triggers run through the same
// statement executor as top-level programs; relation stays agnostic of the
// imperative driver to avoid an import cycle.
type TriggerRunner interface {
	RunTrigger(ctx context.Context, tx kv.StoreTx, program string, newRows, oldRows []value.Tuple) error
}

// StoredRelation wraps a RelationSchema plus its catalog-assigned id over a
// kv.StoreTx, implementing the CRUD contract of spec.md §4.4.
type StoredRelation struct {
	Schema  *RelationSchema
	ID      uint64
	Indexes []Index
}

func New(schema *RelationSchema, id uint64) *StoredRelation {
	return &StoredRelation{Schema: schema, ID: id}
}

func (r *StoredRelation) encodeKey(key value.Tuple) []byte {
	buf := appendRelID(nil, r.ID)
	return append(buf, codec.EncodeTuple(key)...)
}

func (r *StoredRelation) lowerBound() []byte { return appendRelID(nil, r.ID) }
func (r *StoredRelation) upperBound() []byte { return appendRelID(nil, r.ID+1) }

// Bounds exposes r's whole key range [lo, hi), used by internal/txn to
// accumulate a post-commit purge when a relation is dropped.
func (r *StoredRelation) Bounds() (lo, hi []byte) { return r.lowerBound(), r.upperBound() }

func (r *StoredRelation) checkArity(key, nonKey value.Tuple) error {
	if len(key) != len(r.Schema.Keys) {
		return errs.New(errs.Schema, "relation %q: expected %d key columns, got %d", r.Schema.Name, len(r.Schema.Keys), len(key))
	}
	if len(nonKey) != len(r.Schema.NonKeys) {
		return errs.New(errs.Schema, "relation %q: expected %d non-key columns, got %d", r.Schema.Name, len(r.Schema.NonKeys), len(nonKey))
	}
	return nil
}

func (r *StoredRelation) coerceRow(key, nonKey value.Tuple) (value.Tuple, value.Tuple, error) {
	if err := r.checkArity(key, nonKey); err != nil {
		return nil, nil, err
	}
	ck := make(value.Tuple, len(key))
	for i, v := range key {
		cv, err := value.Coerce(v, r.Schema.Keys[i].Type)
		if err != nil {
			return nil, nil, errs.Wrap(errs.Type, err, "relation %q key column %q", r.Schema.Name, r.Schema.Keys[i].Name)
		}
		ck[i] = cv
	}
	cn := make(value.Tuple, len(nonKey))
	for i, v := range nonKey {
		cv, err := value.Coerce(v, r.Schema.NonKeys[i].Type)
		if err != nil {
			return nil, nil, errs.Wrap(errs.Type, err, "relation %q non-key column %q", r.Schema.Name, r.Schema.NonKeys[i].Name)
		}
		cn[i] = cv
	}
	return ck, cn, nil
}

// Get fetches the non-key payload for key, if present.
func (r *StoredRelation) Get(ctx context.Context, tx kv.StoreTx, key value.Tuple) (value.Tuple, bool, error) {
	return r.get(ctx, tx, key, false)
}

func (r *StoredRelation) get(ctx context.Context, tx kv.StoreTx, key value.Tuple, forUpdate bool) (value.Tuple, bool, error) {
	raw, ok, err := tx.Get(ctx, r.encodeKey(key), forUpdate)
	if err != nil || !ok {
		return nil, false, err
	}
	nonKey, err := DecodeNonKey(raw)
	if err != nil {
		return nil, false, err
	}
	return nonKey, true, nil
}

func (r *StoredRelation) Exists(ctx context.Context, tx kv.StoreTx, key value.Tuple) (bool, error) {
	return tx.Exists(ctx, r.encodeKey(key), false)
}

// ScanAll yields every (key, nonKey) row in the relation, in memcmp order.
func (r *StoredRelation) ScanAll(ctx context.Context, tx kv.StoreTx) (RowIter, error) {
	it, err := tx.RangeScan(ctx, r.lowerBound(), r.upperBound())
	if err != nil {
		return nil, err
	}
	return &rowIter{rel: r, it: it}, nil
}

// ScanPrefix yields every row whose key starts with prefix.
func (r *StoredRelation) ScanPrefix(ctx context.Context, tx kv.StoreTx, prefix value.Tuple) (RowIter, error) {
	lo := r.encodeKey(prefix)
	hi := codec.PrefixUpperBound(lo)
	it, err := tx.RangeScan(ctx, lo, hi)
	if err != nil {
		return nil, err
	}
	return &rowIter{rel: r, it: it}, nil
}

// ScanBoundedPrefix yields rows whose key starts with prefix and whose
// remaining suffix falls in [lower, upper).
func (r *StoredRelation) ScanBoundedPrefix(ctx context.Context, tx kv.StoreTx, prefix value.Tuple, lower, upper value.Tuple) (RowIter, error) {
	loKey := append(append(value.Tuple{}, prefix...), lower...)
	hiKey := append(append(value.Tuple{}, prefix...), upper...)
	lo := r.encodeKey(loKey)
	hi := r.encodeKey(hiKey)
	it, err := tx.RangeScan(ctx, lo, hi)
	if err != nil {
		return nil, err
	}
	return &rowIter{rel: r, it: it}, nil
}

// SkipScanPrefix implements the time-travel read path (spec.md §4.4/§8):
// for each distinct key prefix under prefix, yields the tuple whose
// Validity column is the latest assertion at or before validAt.
func (r *StoredRelation) SkipScanPrefix(ctx context.Context, tx kv.StoreTx, prefix value.Tuple, validAt int64) (TupleRowIter, error) {
	lo := r.encodeKey(prefix)
	hi := codec.PrefixUpperBound(lo)
	it, err := tx.RangeSkipScanTuple(ctx, lo, hi, validAt)
	if err != nil {
		return nil, err
	}
	return &tupleRowIter{rel: r, it: it}, nil
}

// Put writes key/nonKey, firing on-put triggers and index hooks. runner may
// be nil if the relation has no on-put triggers to run.
func (r *StoredRelation) Put(ctx context.Context, tx kv.StoreTx, key, nonKey value.Tuple, runner TriggerRunner) error {
	ck, cn, err := r.coerceRow(key, nonKey)
	if err != nil {
		return err
	}
	if err := tx.Put(ctx, r.encodeKey(ck), EncodeNonKey(cn)); err != nil {
		return errs.Wrap(errs.Engine, err, "put into relation %q", r.Schema.Name)
	}
	for _, idx := range r.Indexes {
		if err := idx.OnPut(ctx, tx, ck, cn); err != nil {
			return err
		}
	}
	if runner != nil {
		for _, prog := range r.Schema.Triggers.OnPut {
			full := append(append(value.Tuple{}, ck...), cn...)
			if err := runner.RunTrigger(ctx, tx, prog, []value.Tuple{full}, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// Rm deletes key, firing on-rm triggers and index hooks.
func (r *StoredRelation) Rm(ctx context.Context, tx kv.StoreTx, key value.Tuple, runner TriggerRunner) error {
	if len(key) != len(r.Schema.Keys) {
		return errs.New(errs.Schema, "relation %q: expected %d key columns, got %d", r.Schema.Name, len(r.Schema.Keys), len(key))
	}
	ck := make(value.Tuple, len(key))
	for i, v := range key {
		cv, err := value.Coerce(v, r.Schema.Keys[i].Type)
		if err != nil {
			return err
		}
		ck[i] = cv
	}
	old, existed, err := r.get(ctx, tx, ck, true)
	if err != nil {
		return err
	}
	if !existed {
		return nil
	}
	if err := tx.Del(ctx, r.encodeKey(ck)); err != nil {
		return errs.Wrap(errs.Engine, err, "delete from relation %q", r.Schema.Name)
	}
	for _, idx := range r.Indexes {
		if err := idx.OnDel(ctx, tx, ck, old); err != nil {
			return err
		}
	}
	if runner != nil {
		for _, prog := range r.Schema.Triggers.OnRm {
			full := append(append(value.Tuple{}, ck...), old...)
			if err := runner.RunTrigger(ctx, tx, prog, nil, []value.Tuple{full}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Replace overwrites key's non-key payload, firing on-replace triggers with
// both the new and old rows.
func (r *StoredRelation) Replace(ctx context.Context, tx kv.StoreTx, key, nonKey value.Tuple, runner TriggerRunner) error {
	ck, cn, err := r.coerceRow(key, nonKey)
	if err != nil {
		return err
	}
	old, existed, err := r.get(ctx, tx, ck, true)
	if err != nil {
		return err
	}
	if err := tx.Put(ctx, r.encodeKey(ck), EncodeNonKey(cn)); err != nil {
		return errs.Wrap(errs.Engine, err, "replace in relation %q", r.Schema.Name)
	}
	if existed {
		for _, idx := range r.Indexes {
			if err := idx.OnDel(ctx, tx, ck, old); err != nil {
				return err
			}
		}
	}
	for _, idx := range r.Indexes {
		if err := idx.OnPut(ctx, tx, ck, cn); err != nil {
			return err
		}
	}
	if runner != nil {
		for _, prog := range r.Schema.Triggers.OnReplace {
			newFull := append(append(value.Tuple{}, ck...), cn...)
			var oldRows []value.Tuple
			if existed {
				oldRows = []value.Tuple{append(append(value.Tuple{}, ck...), old...)}
			}
			if err := runner.RunTrigger(ctx, tx, prog, []value.Tuple{newFull}, oldRows); err != nil {
				return err
			}
		}
	}
	return nil
}

// RowIter yields decoded (key, nonKey) rows.
type RowIter interface {
	Next() (key, nonKey value.Tuple, ok bool, err error)
	Close() error
}

type rowIter struct {
	rel *StoredRelation
	it  kv.Iterator
}

func (r *rowIter) Next() (value.Tuple, value.Tuple, bool, error) {
	p, ok, err := r.it.Next()
	if err != nil || !ok {
		return nil, nil, ok, err
	}
	key, err := codec.DecodeTuple(p.Key[8:])
	if err != nil {
		return nil, nil, false, err
	}
	nonKey, err := DecodeNonKey(p.Value)
	if err != nil {
		return nil, nil, false, err
	}
	return key, nonKey, true, nil
}

func (r *rowIter) Close() error { return r.it.Close() }

// TupleRowIter yields fully decoded key/non-key rows from a skip-scan.
type TupleRowIter interface {
	Next() (key, nonKey value.Tuple, ok bool, err error)
	Close() error
}

type tupleRowIter struct {
	rel *StoredRelation
	it  kv.TupleIterator
}

func (t *tupleRowIter) Next() (value.Tuple, value.Tuple, bool, error) {
	rawKey, rawVal, ok, err := t.it.Next()
	if err != nil || !ok {
		return nil, nil, ok, err
	}
	key, err := codec.DecodeTuple(rawKey[8:])
	if err != nil {
		return nil, nil, false, err
	}
	nonKey, err := DecodeNonKey(rawVal)
	if err != nil {
		return nil, nil, false, err
	}
	return key, nonKey, true, nil
}

func (t *tupleRowIter) Close() error { return t.it.Close() }
