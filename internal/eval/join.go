package eval

import (
	"context"

	"strata/internal/codec"
	"strata/internal/errs"
	"strata/internal/memrel"
	"strata/internal/program"
	"strata/internal/value"
)

// deltaRestrict marks exactly one body atom as reading its relation's
// epoch-e delta map instead of epoch 0, implementing the one-atom-at-a-
// time semi-naive restriction of spec.md §4.6 step 2.
type deltaRestrict struct {
	AtomIdx int
	Epoch   int
}

// evalRuleGroupFull runs every rule in group once against epoch-0 inputs
// (the naive first pass of a stratum), writing results into sym's store.
// A normal-aggregated head is handled as one unit across the whole group
// (see evalRuleGroupNormalFull): every rule in a rule SET contributes to
// the same relation, so a scalar fold like sum must see every rule
// body's rows before it accumulates once, not be recomputed and
// overwritten rule by rule.
func (e *Evaluator) evalRuleGroupFull(ctx context.Context, sym program.MagicSymbol, group *program.RuleGroup, stores Stores, epoch int, entry program.MagicSymbol) (bool, error) {
	if len(group.Rules) == 0 {
		return false, nil
	}
	if normalIdx := splitHead(group.Rules[0].Head, false); len(normalIdx) > 0 {
		return e.evalRuleGroupNormalFull(group, normalIdx, stores, sym, epoch, entry)
	}

	changed := false
	for _, rule := range group.Rules {
		did, err := e.evalRule(ctx, rule, stores, nil, sym, epoch, entry)
		if err != nil {
			if _, ok := err.(doneEarly); ok {
				return changed || did, err
			}
			return false, err
		}
		changed = changed || did
	}
	return changed, nil
}

// evalRuleGroupNormalFull unions every rule body's contributed rows into
// one scratch relation before folding normalIdx's aggregations exactly
// once over the combined set, per spec.md §4.3's normal-aggregation
// rules being a single pass over the whole group's extension.
func (e *Evaluator) evalRuleGroupNormalFull(group *program.RuleGroup, normalIdx []int, stores Stores, sym program.MagicSymbol, epoch int, entry program.MagicSymbol) (bool, error) {
	aggrs, err := resolveNormalAggrs(group.Rules[0].Head, normalIdx)
	if err != nil {
		return false, err
	}
	target := stores.get(sym)
	scratch := memrel.New()
	var serial int64
	for _, rule := range group.Rules {
		err := e.join(rule, stores, nil, func(env map[string]value.Value) error {
			row, err := evalHeadPlain(rule.Head, env)
			if err != nil {
				return err
			}
			scratch.NormalAggrPut(row, normalIdx, serial)
			serial++
			return nil
		})
		if err != nil {
			return false, err
		}
	}
	var limiter memrel.Limiter
	if sym == entry && e.opts.Limiter != nil {
		limiter = e.opts.Limiter
	}
	before, err := snapshotKeys(target)
	if err != nil {
		return false, err
	}
	if err := scratch.NormalAggrScanAndPut(normalIdx, aggrs, target, 0, limiter); err != nil {
		return false, err
	}
	after, err := snapshotKeys(target)
	if err != nil {
		return false, err
	}
	changed := !sameKeySet(before, after)
	// Stage the current snapshot into the epoch a downstream same-stratum
	// rule restricts against, so a rule positively depending on this
	// (acyclic, normal-headed) symbol still sees its output at the epoch
	// it expects, even though the fold itself only ever reads/writes
	// epoch 0.
	if epoch != 0 {
		it, err := target.ScanAll(0)
		if err != nil {
			return false, err
		}
		for {
			row, ok, err := it.Next()
			if err != nil {
				it.Close()
				return false, err
			}
			if !ok {
				break
			}
			target.Put(row, epoch)
		}
		it.Close()
	}
	return changed, nil
}

// evalRuleGroupDelta re-evaluates group for every (changed dependency,
// atom referencing it) pair, per spec.md §4.6 step 2: each sweep
// restricts exactly one body atom to that dependency's epoch-readEpoch
// delta (the new facts the prior round produced), so only combinations
// touching new facts are produced; any new output this round becomes
// the delta for round readEpoch+1.
func (e *Evaluator) evalRuleGroupDelta(ctx context.Context, sym program.MagicSymbol, group *program.RuleGroup, deps []program.MagicSymbol, stores Stores, readEpoch int, entry program.MagicSymbol) (bool, error) {
	changed := false
	writeEpoch := readEpoch + 1
	for _, d := range deps {
		for _, rule := range group.Rules {
			for i, atom := range rule.Body {
				if atom.Negated || atom.Relation != d {
					continue
				}
				did, err := e.evalRule(ctx, rule, stores, &deltaRestrict{AtomIdx: i, Epoch: readEpoch}, sym, writeEpoch, entry)
				if err != nil {
					if _, ok := err.(doneEarly); ok {
						return changed || did, err
					}
					return false, err
				}
				changed = changed || did
			}
		}
	}
	return changed, nil
}

// evalRule joins rule's body once (optionally delta-restricted) and
// routes every satisfying binding through the head's aggregation flavor:
// meet (incremental lattice join) or plain projection with the
// program-entry limiter applied. A head with a normal aggregation is
// rejected with an Invariant error; evalRuleGroupNormalFull folds those.
func (e *Evaluator) evalRule(ctx context.Context, rule *program.Rule, stores Stores, restrict *deltaRestrict, targetSym program.MagicSymbol, epoch int, entry program.MagicSymbol) (bool, error) {
	meetIdx := splitHead(rule.Head, true)
	normalIdx := splitHead(rule.Head, false)
	if len(meetIdx) > 0 && len(normalIdx) > 0 {
		return false, errs.New(errs.Invariant, "rule head mixes meet and normal aggregations")
	}
	if len(normalIdx) > 0 {
		// evalRuleGroupFull branches to evalRuleGroupNormalFull before ever
		// reaching here (a normal fold must see every rule in the group
		// at once, not be recomputed per rule), and evalRuleGroupDelta
		// never dispatches a normal-headed rule at all: recursion only
		// reaches this rule through a delta restriction, which is exactly
		// what spec.md §4.6 forbids for a normal aggregation.
		return false, errs.New(errs.Invariant, "normal aggregation is not legal inside a recursive stratum")
	}

	target := stores.get(targetSym)

	if len(meetIdx) > 0 {
		return e.evalRuleMeet(ctx, rule, meetIdx, stores, restrict, target, epoch)
	}
	return e.evalRulePlain(ctx, rule, stores, restrict, target, targetSym, epoch, entry)
}

func snapshotKeys(rel *memrel.InMemRelation) (map[string]bool, error) {
	it, err := rel.ScanAll(0)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	m := map[string]bool{}
	for {
		row, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return m, nil
		}
		m[string(codec.EncodeTuple(row))] = true
	}
}

func sameKeySet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func (e *Evaluator) evalRuleMeet(ctx context.Context, rule *program.Rule, meetIdx []int, stores Stores, restrict *deltaRestrict, target *memrel.InMemRelation, epoch int) (bool, error) {
	aggrs, err := resolveMeetAggrs(rule.Head, meetIdx)
	if err != nil {
		return false, err
	}
	changed := false
	err = e.join(rule, stores, restrict, func(env map[string]value.Value) error {
		row, err := evalHeadPlain(rule.Head, env)
		if err != nil {
			return err
		}
		did, err := target.AggrMeetPut(row, meetIdx, aggrs, epoch)
		if err != nil {
			return err
		}
		if did {
			changed = true
		}
		return nil
	})
	return changed, err
}

func (e *Evaluator) evalRulePlain(ctx context.Context, rule *program.Rule, stores Stores, restrict *deltaRestrict, target *memrel.InMemRelation, targetSym program.MagicSymbol, epoch int, entry program.MagicSymbol) (bool, error) {
	changed := false
	err := e.join(rule, stores, restrict, func(env map[string]value.Value) error {
		row, err := evalHeadPlain(rule.Head, env)
		if err != nil {
			return err
		}
		if targetSym == entry && e.opts.Limiter != nil {
			if target.Exists(row, 0) {
				return nil
			}
			putSkip, done := e.opts.Limiter.Admit()
			if putSkip {
				target.PutWithSkip(row, 0)
			} else {
				target.Put(row, 0)
			}
			if epoch != 0 {
				target.Put(row, epoch)
			}
			changed = true
			if done {
				return doneEarly{}
			}
			return nil
		}
		existed := target.Exists(row, 0)
		target.Put(row, 0)
		if epoch != 0 {
			target.Put(row, epoch)
		}
		if !existed {
			changed = true
		}
		return nil
	})
	return changed, err
}

// join performs a conjunctive nested-loop evaluation of rule.Body,
// feeding every fully-bound satisfying assignment through rule.Filters
// and then emit. A non-negated atom ordinarily reads its relation's
// epoch-0 contents; restrict, if non-nil, makes exactly one atom (by
// body position) read its relation's epoch-e delta instead, per the
// semi-naive rewrite of spec.md §4.6. Negated atoms require every
// variable they mention to already be bound (range restriction) and
// always check epoch 0, since a DependNegative target is always a
// strictly earlier, already-stable stratum.
func (e *Evaluator) join(rule *program.Rule, stores Stores, restrict *deltaRestrict, emit func(map[string]value.Value) error) error {
	return e.joinAtom(rule, 0, map[string]value.Value{}, stores, restrict, emit)
}

func (e *Evaluator) joinAtom(rule *program.Rule, idx int, env map[string]value.Value, stores Stores, restrict *deltaRestrict, emit func(map[string]value.Value) error) error {
	if idx == len(rule.Body) {
		row := rowFromEnv(env)
		for _, f := range rule.Filters {
			ok, err := f.EvalPredicate(row)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}
		return emit(env)
	}

	atom := rule.Body[idx]
	if atom.Negated {
		cand := make(value.Tuple, len(atom.Vars))
		for i, name := range atom.Vars {
			if name == "_" {
				cand[i] = value.Null{}
				continue
			}
			v, ok := env[name]
			if !ok {
				return errs.New(errs.Invariant, "negated atom %s references unbound variable %q: rule is not range-restricted", atom.Relation, name)
			}
			cand[i] = v
		}
		if stores.get(atom.Relation).Exists(cand, 0) {
			return nil
		}
		return e.joinAtom(rule, idx+1, env, stores, restrict, emit)
	}

	readEpoch := 0
	if restrict != nil && restrict.AtomIdx == idx {
		readEpoch = restrict.Epoch
	}
	it, err := stores.get(atom.Relation).ScanAll(readEpoch)
	if err != nil {
		return err
	}
	defer it.Close()

	n := uint64(0)
	cadence := e.opts.Poison.Cadence()
	for {
		row, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		n++
		if cadence != 0 && n%cadence == 0 {
			if err := e.opts.Poison.Check(); err != nil {
				return err
			}
		}
		if len(row) != len(atom.Vars) {
			return errs.New(errs.Schema, "atom over %s expects arity %d, row has arity %d", atom.Relation, len(atom.Vars), len(row))
		}
		next, ok := bindAtom(env, atom, row)
		if !ok {
			continue
		}
		if err := e.joinAtom(rule, idx+1, next, stores, restrict, emit); err != nil {
			return err
		}
	}
}

// bindAtom copies env and unifies atom's positional variables against
// row, reporting false if a repeated variable name binds inconsistently
// (a self-join condition, e.g. edge(x,x)).
func bindAtom(env map[string]value.Value, atom program.Atom, row value.Tuple) (map[string]value.Value, bool) {
	next := make(map[string]value.Value, len(env)+len(atom.Vars))
	for k, v := range env {
		next[k] = v
	}
	for i, name := range atom.Vars {
		if name == "_" {
			continue
		}
		if existing, bound := next[name]; bound {
			if !value.Equal(existing, row[i]) {
				return nil, false
			}
			continue
		}
		next[name] = row[i]
	}
	return next, true
}
