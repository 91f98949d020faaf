// Package memrel implements the in-memory relation of spec.md §4.5: an
// epoch-indexed ordered map used by the semi-naive evaluator to hold a
// stratum's stable rows (epoch 0) and each round's delta (epoch e). Rows
// are stored memcmp-encoded so scans come back sorted for free, reusing
// internal/codec exactly as internal/kv/memkv does for the durable store.
package memrel

import (
	"errors"
	"sync"

	"github.com/tidwall/btree"

	"strata/internal/aggr"
	"strata/internal/codec"
	"strata/internal/errs"
	"strata/internal/value"
)

type item struct {
	Key   string
	Value []byte
}

func itemLess(a, b item) bool { return a.Key < b.Key }

// epochMap is one epoch's ordered tuple store, each with its own lock so
// concurrent strata never contend on a single mutex (spec.md §5).
type epochMap struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[item]
}

func newEpochMap() *epochMap { return &epochMap{tree: btree.NewBTreeG(itemLess)} }

// InMemRelation is a growable vector of epochMaps behind one RWMutex that
// only ever guards the vector's length, not its contents.
type InMemRelation struct {
	mu     sync.RWMutex
	epochs []*epochMap
}

func New() *InMemRelation { return &InMemRelation{} }

func (r *InMemRelation) ensureEpoch(e int) *epochMap {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.epochs) <= e {
		r.epochs = append(r.epochs, newEpochMap())
	}
	return r.epochs[e]
}

func (r *InMemRelation) epochAt(e int) *epochMap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e < 0 || e >= len(r.epochs) {
		return nil
	}
	return r.epochs[e]
}

// Put inserts tuple into epoch e's map with an empty value.
func (r *InMemRelation) Put(tuple value.Tuple, epoch int) {
	ep := r.ensureEpoch(epoch)
	key := string(codec.EncodeTuple(tuple))
	ep.mu.Lock()
	ep.tree.Set(item{Key: key})
	ep.mu.Unlock()
}

// PutWithSkip is Put, but the value carries a single-element Guard marker
// so a later ScanEarlyReturned can tell this row was inserted past a
// top-level limit and is kept only so Exists stays idempotent.
func (r *InMemRelation) PutWithSkip(tuple value.Tuple, epoch int) {
	ep := r.ensureEpoch(epoch)
	key := string(codec.EncodeTuple(tuple))
	val := codec.EncodeTuple(value.Tuple{value.Guard{}})
	ep.mu.Lock()
	ep.tree.Set(item{Key: key, Value: val})
	ep.mu.Unlock()
}

// Exists reports tuple's membership in epoch e's map.
func (r *InMemRelation) Exists(tuple value.Tuple, epoch int) bool {
	ep := r.epochAt(epoch)
	if ep == nil {
		return false
	}
	key := string(codec.EncodeTuple(tuple))
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	_, ok := ep.tree.Get(item{Key: key})
	return ok
}

// valueState wraps a bare value.Value as an aggr.State, letting a meet
// accumulator recovered from storage feed straight back into Update.
type valueState struct{ v value.Value }

func (s valueState) Value() value.Value { return s.v }

// AggrMeetPut applies each meet aggregation in aggrs (matched position by
// position with aggrIdx) to tuple, storing the running accumulator under
// a key with the aggregated positions replaced by Guard. The accumulator
// always lives in epoch 0; when epoch != 0 and any aggregation changed,
// the merged row is additionally copied into that epoch's delta map so
// the semi-naive loop sees it as new output this round.
func (r *InMemRelation) AggrMeetPut(tuple value.Tuple, aggrIdx []int, aggrs []aggr.MeetAggr, epoch int) (bool, error) {
	base := r.ensureEpoch(0)
	keyTuple := append(value.Tuple(nil), tuple...)
	for _, i := range aggrIdx {
		keyTuple[i] = value.Guard{}
	}
	keyBytes := codec.EncodeTuple(keyTuple)

	base.mu.Lock()
	existing, found := base.tree.Get(item{Key: string(keyBytes)})
	var accVals value.Tuple
	if found && len(existing.Value) > 0 {
		decoded, err := codec.DecodeTuple(existing.Value)
		if err != nil {
			base.mu.Unlock()
			return false, err
		}
		accVals = decoded
	}

	changed := false
	newVals := make(value.Tuple, len(aggrIdx))
	for j, i := range aggrIdx {
		var cur aggr.State
		var err error
		if accVals != nil {
			cur = valueState{accVals[j]}
		} else {
			cur, err = aggrs[j].Init(nil)
			if err != nil {
				base.mu.Unlock()
				return false, err
			}
		}
		next, didChange, err := aggrs[j].Update(cur, tuple[i])
		if err != nil {
			base.mu.Unlock()
			return false, err
		}
		if didChange {
			changed = true
		}
		newVals[j] = next.Value()
	}
	base.tree.Set(item{Key: string(keyBytes), Value: codec.EncodeTuple(newVals)})
	base.mu.Unlock()

	if changed && epoch != 0 {
		merged := append(value.Tuple(nil), keyTuple...)
		for j, i := range aggrIdx {
			merged[i] = newVals[j]
		}
		ep := r.ensureEpoch(epoch)
		ep.mu.Lock()
		ep.tree.Set(item{Key: string(codec.EncodeTuple(merged))})
		ep.mu.Unlock()
	}
	return changed, nil
}

// mergeRow reconstructs a full row from a stored key and value, replacing
// every Guard hole in key with the next element of val in order. Rows
// with no Guard holes (plain Put/PutWithSkip rows) return key unchanged.
func mergeRow(key, val value.Tuple) value.Tuple {
	hasGuard := false
	for _, v := range key {
		if _, ok := v.(value.Guard); ok {
			hasGuard = true
			break
		}
	}
	if !hasGuard || len(val) == 0 {
		return key
	}
	out := append(value.Tuple(nil), key...)
	vi := 0
	for i, v := range key {
		if _, ok := v.(value.Guard); ok && vi < len(val) {
			out[i] = val[vi]
			vi++
		}
	}
	return out
}

// RowIter yields fully merged tuples from a memrel scan.
type RowIter interface {
	Next() (value.Tuple, bool, error)
	Close() error
}

type sliceIter struct {
	rows []value.Tuple
	pos  int
}

func (it *sliceIter) Next() (value.Tuple, bool, error) {
	if it.pos >= len(it.rows) {
		return nil, false, nil
	}
	row := it.rows[it.pos]
	it.pos++
	return row, true, nil
}

func (it *sliceIter) Close() error { return nil }

func decodeRow(it item) (value.Tuple, error) {
	keyTup, err := codec.DecodeTuple([]byte(it.Key))
	if err != nil {
		return nil, err
	}
	var valTup value.Tuple
	if len(it.Value) > 0 {
		valTup, err = codec.DecodeTuple(it.Value)
		if err != nil {
			return nil, err
		}
	}
	return mergeRow(keyTup, valTup), nil
}

func (r *InMemRelation) scanRange(ep *epochMap, lo, hi []byte) (RowIter, error) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	var rows []value.Tuple
	var iterErr error
	visit := func(it item) bool {
		if hi != nil && it.Key >= string(hi) {
			return false
		}
		row, err := decodeRow(it)
		if err != nil {
			iterErr = err
			return false
		}
		rows = append(rows, row)
		return true
	}
	if lo != nil {
		ep.tree.Ascend(item{Key: string(lo)}, visit)
	} else {
		ep.tree.Scan(visit)
	}
	if iterErr != nil {
		return nil, iterErr
	}
	return &sliceIter{rows: rows}, nil
}

// ScanAll yields every row in epoch e, in memcmp order.
func (r *InMemRelation) ScanAll(epoch int) (RowIter, error) {
	ep := r.epochAt(epoch)
	if ep == nil {
		return &sliceIter{}, nil
	}
	return r.scanRange(ep, nil, nil)
}

// ScanPrefix yields every row in epoch e whose tuple starts with prefix.
func (r *InMemRelation) ScanPrefix(epoch int, prefix value.Tuple) (RowIter, error) {
	ep := r.epochAt(epoch)
	if ep == nil {
		return &sliceIter{}, nil
	}
	lo := codec.EncodeTuple(prefix)
	hi := codec.PrefixUpperBound(lo)
	return r.scanRange(ep, lo, hi)
}

// ScanBoundedPrefix yields rows in epoch e whose tuple starts with prefix
// and whose remaining suffix falls in [lower, upper).
func (r *InMemRelation) ScanBoundedPrefix(epoch int, prefix, lower, upper value.Tuple) (RowIter, error) {
	ep := r.epochAt(epoch)
	if ep == nil {
		return &sliceIter{}, nil
	}
	loTuple := append(append(value.Tuple{}, prefix...), lower...)
	hiTuple := append(append(value.Tuple{}, prefix...), upper...)
	return r.scanRange(ep, codec.EncodeTuple(loTuple), codec.EncodeTuple(hiTuple))
}

// ScanEarlyReturned is ScanAll filtered to drop rows whose stored value's
// last element is the Guard past-limit marker (see PutWithSkip).
func (r *InMemRelation) ScanEarlyReturned(epoch int) (RowIter, error) {
	ep := r.epochAt(epoch)
	if ep == nil {
		return &sliceIter{}, nil
	}
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	var rows []value.Tuple
	var iterErr error
	ep.tree.Scan(func(it item) bool {
		if len(it.Value) > 0 {
			valTup, err := codec.DecodeTuple(it.Value)
			if err == nil && len(valTup) > 0 {
				if _, isGuard := valTup[len(valTup)-1].(value.Guard); isGuard {
					return true
				}
			}
		}
		row, err := decodeRow(it)
		if err != nil {
			iterErr = err
			return false
		}
		rows = append(rows, row)
		return true
	})
	if iterErr != nil {
		return nil, iterErr
	}
	return &sliceIter{rows: rows}, nil
}

// Limiter bounds how many rows NormalAggrScanAndPut may emit. Allow
// reports whether one more row may be produced and records it if so;
// internal/eval.QueryLimiter implements this for top-level LIMIT/OFFSET.
type Limiter interface {
	Allow() bool
}

var errLimitReached = errors.New("memrel: limiter reached")

// normalAggrOrder returns the permuted-position -> original-column-index
// mapping NormalAggrPut/NormalAggrScanAndPut agree on: every column not in
// aggrIdx, in ascending original order, followed by aggrIdx's columns in
// the order given.
func normalAggrOrder(arity int, aggrIdx []int) []int {
	aggrSet := make(map[int]bool, len(aggrIdx))
	for _, i := range aggrIdx {
		aggrSet[i] = true
	}
	order := make([]int, 0, arity)
	for i := 0; i < arity; i++ {
		if !aggrSet[i] {
			order = append(order, i)
		}
	}
	return append(order, aggrIdx...)
}

// NormalAggrPut stages tuple for a later NormalAggrScanAndPut pass,
// grounded on cozo-core's normal_aggr_put (runtime/in_mem.rs): the row is
// physically reordered to [non-aggregated columns in original order,
// aggregated columns in original order, serial], so the backing map's
// natural byte order clusters every row sharing the same non-aggregated
// columns together regardless of where the aggregated column sits in the
// head, and a strictly increasing serial both stops two distinct
// contributing rows from colliding into one stored key (normal
// aggregation folds a multiset, not a set) and gives order-sensitive
// aggregations (collect, latest_by, choice_rand) a deterministic
// first-seen tiebreak.
func (r *InMemRelation) NormalAggrPut(tuple value.Tuple, aggrIdx []int, serial int64) {
	ep := r.ensureEpoch(0)
	order := normalAggrOrder(len(tuple), aggrIdx)
	vals := make(value.Tuple, 0, len(tuple)+1)
	for _, i := range order {
		vals = append(vals, tuple[i])
	}
	vals = append(vals, value.Int(serial))
	key := string(codec.EncodeTuple(vals))
	ep.mu.Lock()
	ep.tree.Set(item{Key: key})
	ep.mu.Unlock()
}

// NormalAggrScanAndPut consumes every row staged by NormalAggrPut in
// epoch 0, grouping by the leading non-aggregated-column prefix the
// permuted storage order now guarantees is contiguous, running aggrs
// over each group, and emitting one merged row (in original column
// order) per group into target's targetEpoch, stopping early if limiter
// denies a row. Mirrors cozo-core's normal_aggr_scan_and_put, including
// its invert-indices step to undo the storage permutation.
func (r *InMemRelation) NormalAggrScanAndPut(aggrIdx []int, aggrs []aggr.NormalAggr, target *InMemRelation, targetEpoch int, limiter Limiter) error {
	ep := r.epochAt(0)
	if ep == nil {
		return nil
	}

	ep.mu.RLock()
	defer ep.mu.RUnlock()

	nAgg := len(aggrIdx)
	var order []int
	nKeys := 0

	var curGroup value.Tuple
	var states []aggr.NormalState
	haveGroup := false

	emit := func() error {
		if !haveGroup {
			return nil
		}
		row := make(value.Tuple, len(order))
		for j, i := range aggrIdx {
			v, err := states[j].Get()
			if err != nil {
				return err
			}
			row[i] = v
		}
		for j, origIdx := range order[:nKeys] {
			row[origIdx] = curGroup[j]
		}
		if limiter != nil && !limiter.Allow() {
			return errLimitReached
		}
		target.Put(row, targetEpoch)
		return nil
	}

	var iterErr error
	ep.tree.Scan(func(it item) bool {
		permuted, err := codec.DecodeTuple([]byte(it.Key))
		if err != nil {
			iterErr = err
			return false
		}
		if order == nil {
			arity := len(permuted) - 1 // drop the trailing serial
			nKeys = arity - nAgg
			order = normalAggrOrder(arity, aggrIdx)
		}
		group := append(value.Tuple(nil), permuted[:nKeys]...)
		aggVals := permuted[nKeys : nKeys+nAgg]

		if !haveGroup || value.CompareTuples(group, curGroup) != 0 {
			if err := emit(); err != nil {
				if err == errLimitReached {
					return false
				}
				iterErr = err
				return false
			}
			curGroup = group
			states = make([]aggr.NormalState, nAgg)
			for j, a := range aggrs {
				st, err := a.Init(nil)
				if err != nil {
					iterErr = err
					return false
				}
				ns, ok := st.(aggr.NormalState)
				if !ok {
					iterErr = errs.New(errs.Invariant, "aggregation %q does not produce a NormalState", a.Name())
					return false
				}
				states[j] = ns
			}
			haveGroup = true
		}
		for j := range aggVals {
			if err := states[j].Set(aggVals[j]); err != nil {
				iterErr = err
				return false
			}
		}
		return true
	})
	if iterErr != nil {
		return iterErr
	}
	if err := emit(); err != nil && err != errLimitReached {
		return err
	}
	return nil
}
