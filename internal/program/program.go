// Package program implements the compiled-program data model of spec.md
// §3/§4.6: a rule set partitioned into strata, where a stratum is either a
// group of classical Datalog rules or a single fixed-rule application.
// Stratification itself — assigning each named rule set a stratum number
// such that no negative or non-monotonic dependency stays within one
// stratum — lives here too, ahead of internal/eval's evaluator which only
// consumes the already-stratified result.
package program

import (
	"strata/internal/errs"
	"strata/internal/expr"
	"strata/internal/value"
)

// MagicSymbol names one compiled rule set: a rule name optionally tagged
// with a magic-set adornment (e.g. "bf" for bound-first-free-rest) used
// by top-down query optimization. Comparable, so it doubles as a map key.
type MagicSymbol struct {
	Name      string
	Adornment string
}

func (m MagicSymbol) String() string {
	if m.Adornment == "" {
		return m.Name
	}
	return m.Name + "[" + m.Adornment + "]"
}

// DependKind classifies one rule set's dependency on another.
type DependKind uint8

const (
	// DependPositive is an ordinary or meet-aggregated reference: legal
	// within a recursive stratum.
	DependPositive DependKind = iota
	// DependNegative is a negated reference or a non-meet (normal)
	// aggregation: the depended-upon symbol must resolve in a strictly
	// earlier stratum.
	DependNegative
)

// Dependency records that a rule's body reads On, with Kind determining
// whether On must land in a strictly earlier stratum.
type Dependency struct {
	On   MagicSymbol
	Kind DependKind
}

// Atom is one body conjunct: a reference to another compiled relation,
// binding its columns positionally to variable names ("_" for a
// don't-care position). UseDelta restricts the atom to the referenced
// symbol's epoch-e delta map instead of its epoch-0 stable contents —
// set by the evaluator per spec.md §4.6 step 2, not by the compiler.
type Atom struct {
	Relation MagicSymbol
	Vars     []string
	Negated  bool
	UseDelta bool
}

// HeadColumn is one column of a rule's head: either a plain projection
// (AggrName == "") or an aggregated column naming a registered
// aggregation (aggr.NormalRegistry or aggr.MeetRegistry, depending on
// IsMeet) applied to Expr's value within each group.
type HeadColumn struct {
	Expr     expr.Bytecode
	AggrName string
	IsMeet   bool
}

// Rule is one classical Datalog rule: a head projection/aggregation list,
// a conjunctive body, residual filters evaluated after all atoms bind,
// and the dependency edges used for stratification.
type Rule struct {
	Head    []HeadColumn
	Body    []Atom
	Filters []expr.Bytecode
	Depends []Dependency
}

// HasMeetHead reports whether any head column is a meet aggregation,
// i.e. whether this rule is legal inside a recursive stratum.
func (r *Rule) HasMeetHead() bool {
	for _, h := range r.Head {
		if h.AggrName != "" && h.IsMeet {
			return true
		}
	}
	return false
}

// HasNormalHead reports whether any head column is a normal (non-meet)
// aggregation — illegal in a recursive stratum per spec.md §4.6.
func (r *Rule) HasNormalHead() bool {
	for _, h := range r.Head {
		if h.AggrName != "" && !h.IsMeet {
			return true
		}
	}
	return false
}

// RuleSet is either a RuleGroup (ordinary rules, possibly recursive) or a
// FixedRuleApp (a single algorithm invocation, evaluated once).
type RuleSet interface {
	isRuleSet()
	dependencies() []Dependency
}

// RuleGroup is every rule sharing one head symbol.
type RuleGroup struct {
	Rules []*Rule
}

func (*RuleGroup) isRuleSet() {}

func (g *RuleGroup) dependencies() []Dependency {
	var out []Dependency
	for _, r := range g.Rules {
		out = append(out, r.Depends...)
	}
	return out
}

// FixedRuleApp is a single fixed-rule algorithm invocation. Args names
// the input relations fed to the algorithm's adaptors, in declared
// order; Options carries the already-validated, type-checked option
// values (process_options per spec.md §4.6 runs before compilation
// completes). Algo is resolved against internal/fixedrule's registry by
// the evaluator — program stays independent of any concrete algorithm.
type FixedRuleApp struct {
	Algo    string
	Args    []MagicSymbol
	Options map[string]value.Value
	Out     MagicSymbol
}

func (*FixedRuleApp) isRuleSet() {}

func (f *FixedRuleApp) dependencies() []Dependency {
	out := make([]Dependency, len(f.Args))
	for i, a := range f.Args {
		out[i] = Dependency{On: a, Kind: DependPositive}
	}
	return out
}

// Stratum is one slice of the compiled program: every rule set whose
// stratum number the stratifier assigned to this level, evaluated to a
// fixed point (via internal/eval's semi-naive loop) before the next
// stratum runs, reading every prior stratum's output as read-only.
type Stratum struct {
	Rules map[MagicSymbol]RuleSet
}

// CompiledProgram is the full stratified program: the query entry point
// plus strata in dependency order.
type CompiledProgram struct {
	Strata []Stratum
	Entry  MagicSymbol
}

// Stratify partitions ruleSets into strata such that every DependNegative
// edge points to a strictly earlier stratum, per spec.md §4.6. It
// returns an error if no such assignment exists (a negative dependency
// cycle — an unstratifiable program).
func Stratify(ruleSets map[MagicSymbol]RuleSet, entry MagicSymbol) (*CompiledProgram, error) {
	level := make(map[MagicSymbol]int, len(ruleSets))
	for sym := range ruleSets {
		level[sym] = 0
	}

	n := len(ruleSets)
	for iter := 0; iter <= n; iter++ {
		changed := false
		for sym, rs := range ruleSets {
			for _, dep := range rs.dependencies() {
				required := level[dep.On]
				if dep.Kind == DependNegative {
					required++
				}
				if required > level[sym] {
					level[sym] = required
					changed = true
				}
			}
		}
		if !changed {
			break
		}
		if iter == n {
			return nil, errs.New(errs.Schema, "program is not stratifiable: a negative or non-monotonic dependency cycle exists")
		}
	}

	maxLevel := 0
	for _, l := range level {
		if l > maxLevel {
			maxLevel = l
		}
	}
	strata := make([]Stratum, maxLevel+1)
	for i := range strata {
		strata[i] = Stratum{Rules: map[MagicSymbol]RuleSet{}}
	}
	for sym, rs := range ruleSets {
		strata[level[sym]].Rules[sym] = rs
	}
	return &CompiledProgram{Strata: strata, Entry: entry}, nil
}
