// Package eval implements the stratified semi-naive evaluator of spec.md
// §4.6: it drives one CompiledProgram's strata in dependency order, runs
// each stratum's rule sets to a fixed point using per-epoch delta maps
// held in internal/memrel, dispatches normal vs. meet aggregation, and
// honors the top-level LIMIT/OFFSET early-stop on the program entry.
package eval

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"strata/internal/aggr"
	"strata/internal/errs"
	"strata/internal/expr"
	"strata/internal/fixedrule"
	"strata/internal/memrel"
	"strata/internal/program"
	"strata/internal/value"
)

// Stores is the evaluator's working set: one in-memory relation per
// MagicSymbol, seeded with base facts (stored-relation scans or static
// data loaded by the caller) before Run begins and grown with every
// rule's materialized output as strata execute.
type Stores map[program.MagicSymbol]*memrel.InMemRelation

func (s Stores) get(sym program.MagicSymbol) *memrel.InMemRelation {
	r, ok := s[sym]
	if !ok {
		r = memrel.New()
		s[sym] = r
	}
	return r
}

// Get exposes get to callers outside the package (internal/imperative
// seeding base facts before a Program statement runs a query).
func (s Stores) Get(sym program.MagicSymbol) *memrel.InMemRelation { return s.get(sym) }

// Options configures one Run: MaxConcurrency bounds how many rule sets
// within a stratum evaluate in parallel (they touch disjoint stores, so
// this is embarrassingly parallel per spec.md §5); zero means
// unbounded (errgroup.SetLimit(-1)). Limiter applies only to
// prog.Entry, and only on non-meet heads, per spec.md §4.6.
type Options struct {
	MaxConcurrency int
	Limiter        *QueryLimiter
	Poison         *Poison
}

// Evaluator runs CompiledPrograms against a Stores working set.
type Evaluator struct {
	opts Options
}

func New(opts Options) *Evaluator {
	if opts.Poison == nil {
		opts.Poison = NewPoison(0)
	}
	return &Evaluator{opts: opts}
}

// doneEarly is a sentinel threaded through the stratum loop to unwind
// every level the moment the entry's top-level limit is satisfied.
type doneEarly struct{}

func (doneEarly) Error() string { return "eval: entry limit satisfied" }

// Run drives prog's strata in order and returns the entry symbol's
// in-memory relation, fully materialized.
func (e *Evaluator) Run(ctx context.Context, prog *program.CompiledProgram, stores Stores) (*memrel.InMemRelation, error) {
	for _, stratum := range prog.Strata {
		if err := e.runStratum(ctx, stratum, stores, prog.Entry); err != nil {
			if _, ok := err.(doneEarly); ok {
				break
			}
			return nil, err
		}
		if e.opts.Poison.IsSet() {
			return nil, errs.New(errs.Cancelled, "evaluation cancelled")
		}
	}
	return stores.get(prog.Entry), nil
}

// runStratum evaluates one stratum to a fixed point per spec.md §4.6's
// two-phase semi-naive loop: an epoch-0 pass materializing every rule
// set's first contribution, then epoch>=1 passes that re-evaluate only
// rule sets whose same-stratum dependencies changed last round. A rule
// set genuinely participating in a cycle (true recursion) is restricted
// to that dependency's delta, per the semi-naive rewrite; a rule set
// merely reachable from a changed dependency through an acyclic chain
// (Stratify groups those into the same stratum too, since it only
// separates on negative edges) is instead re-run in full, which is
// always safe and lets its head carry a normal aggregation, which a
// delta restriction would forbid.
func (e *Evaluator) runStratum(ctx context.Context, stratum program.Stratum, stores Stores, entry program.MagicSymbol) error {
	changed := map[program.MagicSymbol]bool{}
	cyclic := computeCyclic(stratum)

	if err := e.epochZero(ctx, stratum, stores, entry, changed); err != nil {
		return err
	}

	inStratum := func(sym program.MagicSymbol) bool {
		_, ok := stratum.Rules[sym]
		return ok
	}

	for epoch := 1; ; epoch++ {
		if err := e.opts.Poison.Check(); err != nil {
			return err
		}
		prevChanged := changed
		changed = map[program.MagicSymbol]bool{}
		anyRan := false

		g, gctx := errgroup.WithContext(ctx)
		if e.opts.MaxConcurrency > 0 {
			g.SetLimit(e.opts.MaxConcurrency)
		}
		var mu sync.Mutex
		setChanged := func(sym program.MagicSymbol) {
			mu.Lock()
			changed[sym] = true
			mu.Unlock()
		}

		for sym, rs := range stratum.Rules {
			group, ok := rs.(*program.RuleGroup)
			if !ok {
				continue // fixed rules run once, in epoch 0 only.
			}
			var deps []program.MagicSymbol
			seen := map[program.MagicSymbol]bool{}
			for _, r := range group.Rules {
				for _, dep := range r.Depends {
					if dep.Kind == program.DependPositive && inStratum(dep.On) && prevChanged[dep.On] && !seen[dep.On] {
						seen[dep.On] = true
						deps = append(deps, dep.On)
					}
				}
			}
			if len(deps) == 0 {
				continue
			}
			anyRan = true
			sym, group, deps := sym, group, deps
			g.Go(func() error {
				var did bool
				var err error
				if cyclic[sym] {
					did, err = e.evalRuleGroupDelta(gctx, sym, group, deps, stores, epoch, entry)
				} else {
					did, err = e.evalRuleGroupFull(gctx, sym, group, stores, epoch+1, entry)
				}
				if err != nil {
					return err
				}
				if did {
					setChanged(sym)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if !anyRan {
			return nil
		}
	}
}

// computeCyclic reports, for every RuleGroup symbol in stratum, whether
// it is reachable from itself via positive in-stratum dependency edges
// (a self-loop or a longer cycle through other same-stratum rule sets).
// Stratify only separates strata on negative edges, so a stratum may
// freely bundle a true recursive cycle together with rule sets that
// merely sit downstream of it in an acyclic chain (program_test.go's
// "positive chain in one stratum" case); only the former needs — and
// tolerates — delta-restricted semi-naive evaluation.
func computeCyclic(stratum program.Stratum) map[program.MagicSymbol]bool {
	adj := map[program.MagicSymbol][]program.MagicSymbol{}
	for sym, rs := range stratum.Rules {
		group, ok := rs.(*program.RuleGroup)
		if !ok {
			continue
		}
		seen := map[program.MagicSymbol]bool{}
		for _, r := range group.Rules {
			for _, dep := range r.Depends {
				if dep.Kind != program.DependPositive {
					continue
				}
				if _, inStratum := stratum.Rules[dep.On]; inStratum && !seen[dep.On] {
					seen[dep.On] = true
					adj[sym] = append(adj[sym], dep.On)
				}
			}
		}
	}

	cyclic := map[program.MagicSymbol]bool{}
	for sym := range stratum.Rules {
		visited := map[program.MagicSymbol]bool{}
		stack := append([]program.MagicSymbol(nil), adj[sym]...)
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[n] {
				continue
			}
			visited[n] = true
			if n == sym {
				cyclic[sym] = true
				break
			}
			stack = append(stack, adj[n]...)
		}
	}
	return cyclic
}

// epochZero runs every rule set in the stratum once against epoch-0
// inputs: fixed-rule applications (evaluated exactly once, per spec.md
// §4.6) and every classical rule group's first naive pass.
func (e *Evaluator) epochZero(ctx context.Context, stratum program.Stratum, stores Stores, entry program.MagicSymbol, changed map[program.MagicSymbol]bool) error {
	g, gctx := errgroup.WithContext(ctx)
	if e.opts.MaxConcurrency > 0 {
		g.SetLimit(e.opts.MaxConcurrency)
	}
	var mu sync.Mutex

	for sym, rs := range stratum.Rules {
		sym, rs := sym, rs
		g.Go(func() error {
			var did bool
			var err error
			switch v := rs.(type) {
			case *program.FixedRuleApp:
				did, err = e.runFixedRule(gctx, sym, v, stores)
			case *program.RuleGroup:
				// Round 0 reads the (in-place-growing) epoch-0 baseline and
				// additionally stages its output as epoch 1's delta, the
				// input the first semi-naive round will restrict against.
				did, err = e.evalRuleGroupFull(gctx, sym, v, stores, 1, entry)
			default:
				err = errs.New(errs.Invariant, "unknown rule set kind for %s", sym)
			}
			if err != nil {
				return err
			}
			if did {
				mu.Lock()
				changed[sym] = true
				mu.Unlock()
			}
			return nil
		})
	}
	return g.Wait()
}

// runFixedRule adapts sym's declared argument relations into RowSources
// and dispatches to the registered AlgoImpl, per spec.md §4.6/§4.7.
func (e *Evaluator) runFixedRule(ctx context.Context, sym program.MagicSymbol, app *program.FixedRuleApp, stores Stores) (bool, error) {
	algo, ok := fixedrule.Lookup(app.Algo)
	if !ok {
		return false, errs.New(errs.NotFound, "no fixed-rule algorithm registered as %q", app.Algo)
	}
	opts, err := algo.ProcessOptions(app.Options)
	if err != nil {
		return false, err
	}
	args := make([]fixedrule.RowSource, len(app.Args))
	for i, a := range app.Args {
		it, err := stores.get(a).ScanAll(0)
		if err != nil {
			return false, err
		}
		args[i] = rowSourceAdapter{it}
	}
	out := stores.get(app.Out)
	did := false
	emit := func(t value.Tuple) error {
		out.Put(t, 0)
		did = true
		return nil
	}
	rc := fixedrule.RunContext{Args: args, Options: opts, Poison: e.opts.Poison}
	if err := algo.Run(ctx, rc, emit); err != nil {
		return false, err
	}
	return did, nil
}

type rowSourceAdapter struct{ it memrel.RowIter }

func (a rowSourceAdapter) Next() (value.Tuple, bool, error) { return a.it.Next() }

// evalHeadPlain computes one result row from fully-bound vars by
// evaluating every head expression; an aggregated position gets its
// per-row input value, which the caller folds.
func evalHeadPlain(head []program.HeadColumn, env map[string]value.Value) (value.Tuple, error) {
	row := make(value.Tuple, len(head))
	for i, h := range head {
		v, err := h.Expr.Eval(rowFromEnv(env))
		if err != nil {
			return nil, err
		}
		row[i] = v
	}
	return row, nil
}

func rowFromEnv(env map[string]value.Value) expr.Row {
	hdr := make(map[string]int, len(env))
	tup := make(value.Tuple, 0, len(env))
	for k, v := range env {
		hdr[k] = len(tup)
		tup = append(tup, v)
	}
	return expr.Row{Tuple: tup, Header: hdr}
}

// splitHead returns the positions of head's aggregated columns whose
// IsMeet equals meet.
func splitHead(head []program.HeadColumn, meet bool) (aggrIdx []int) {
	for i, h := range head {
		if h.AggrName != "" && h.IsMeet == meet {
			aggrIdx = append(aggrIdx, i)
		}
	}
	return aggrIdx
}

func resolveMeetAggrs(head []program.HeadColumn, aggrIdx []int) ([]aggr.MeetAggr, error) {
	out := make([]aggr.MeetAggr, len(aggrIdx))
	for j, i := range aggrIdx {
		a, ok := aggr.LookupMeet(head[i].AggrName)
		if !ok {
			return nil, errs.New(errs.NotFound, "unknown meet aggregation %q", head[i].AggrName)
		}
		out[j] = a
	}
	return out, nil
}

func resolveNormalAggrs(head []program.HeadColumn, aggrIdx []int) ([]aggr.NormalAggr, error) {
	out := make([]aggr.NormalAggr, len(aggrIdx))
	for j, i := range aggrIdx {
		a, ok := aggr.LookupNormal(head[i].AggrName)
		if !ok {
			return nil, errs.New(errs.NotFound, "unknown normal aggregation %q", head[i].AggrName)
		}
		out[j] = a
	}
	return out, nil
}
