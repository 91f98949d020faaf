package aggr

import (
	"strata/internal/errs"
	"strata/internal/value"
)

func init() {
	MeetRegistry["min"] = func() MeetAggr { return &latticeMeet{name: "min", better: func(a, b value.Value) bool { return value.Compare(a, b) < 0 }} }
	MeetRegistry["max"] = func() MeetAggr { return &latticeMeet{name: "max", better: func(a, b value.Value) bool { return value.Compare(a, b) > 0 }} }
	MeetRegistry["and"] = func() MeetAggr { return &boolMeet{name: "and", identity: true, fold: func(a, b bool) bool { return a && b }} }
	MeetRegistry["or"] = func() MeetAggr { return &boolMeet{name: "or", identity: false, fold: func(a, b bool) bool { return a || b }} }
	MeetRegistry["union"] = func() MeetAggr { return &setMeet{name: "union", kind: setUnion} }
	MeetRegistry["intersection"] = func() MeetAggr { return &setMeet{name: "intersection", kind: setIntersection} }
	MeetRegistry["bit_and"] = func() MeetAggr { return &bitMeet{name: "bit_and", fold: func(a, b int64) int64 { return a & b }} }
	MeetRegistry["bit_or"] = func() MeetAggr { return &bitMeet{name: "bit_or", fold: func(a, b int64) int64 { return a | b }} }
	MeetRegistry["shortest"] = func() MeetAggr { return &shortestMeet{} }
	MeetRegistry["min_cost"] = func() MeetAggr { return &minCostMeet{} }
	MeetRegistry["choice"] = func() MeetAggr { return &choiceMeet{} }
}

type simpleState struct{ v value.Value }

func (s simpleState) Value() value.Value { return s.v }

// latticeMeet implements min/max: the accumulator is the best value seen
// so far under `better`. Idempotent and monotone by construction.
type latticeMeet struct {
	name   string
	better func(a, b value.Value) bool
}

func (m *latticeMeet) Name() string { return m.name }
func (m *latticeMeet) Init(args []value.Value) (State, error) {
	return simpleState{v: value.Bot{}}, nil
}
func (m *latticeMeet) Update(acc State, next value.Value) (State, bool, error) {
	cur := acc.Value()
	if _, isBot := cur.(value.Bot); isBot || m.better(next, cur) {
		return simpleState{v: next}, !value.Equal(cur, next), nil
	}
	return acc, false, nil
}

type boolMeet struct {
	name     string
	identity bool
	fold     func(a, b bool) bool
}

func (m *boolMeet) Name() string { return m.name }
func (m *boolMeet) Init(args []value.Value) (State, error) {
	return simpleState{v: value.Bool(m.identity)}, nil
}
func (m *boolMeet) Update(acc State, next value.Value) (State, bool, error) {
	cb, ok := acc.Value().(value.Bool)
	if !ok {
		return acc, false, errs.New(errs.Type, "%s: accumulator is not bool", m.name)
	}
	nb, ok := next.(value.Bool)
	if !ok {
		return acc, false, errs.New(errs.Type, "%s: operand is not bool", m.name)
	}
	merged := m.fold(bool(cb), bool(nb))
	return simpleState{v: value.Bool(merged)}, merged != bool(cb), nil
}

type setMeetKind uint8

const (
	setUnion setMeetKind = iota
	setIntersection
)

type setMeet struct {
	name string
	kind setMeetKind
}

func (m *setMeet) Name() string { return m.name }
func (m *setMeet) Init(args []value.Value) (State, error) {
	return simpleState{v: value.NewSet(nil)}, nil
}
func (m *setMeet) Update(acc State, next value.Value) (State, bool, error) {
	cur, ok := acc.Value().(value.Set)
	if !ok {
		return acc, false, errs.New(errs.Type, "%s: accumulator is not a set", m.name)
	}
	var nextSet value.Set
	switch x := next.(type) {
	case value.Set:
		nextSet = x
	default:
		nextSet = value.Set{next}
	}
	var merged value.Set
	switch m.kind {
	case setUnion:
		merged = value.NewSet(append(append([]value.Value(nil), []value.Value(cur)...), []value.Value(nextSet)...))
	case setIntersection:
		if len(cur) == 0 && len(nextSet) > 0 {
			// First contribution seeds the intersection rather than
			// annihilating it — Init starts from the empty set, which
			// would otherwise make intersection always empty.
			merged = nextSet
		} else {
			merged = intersect(cur, nextSet)
		}
	}
	changed := !equalSet(cur, merged)
	return simpleState{v: merged}, changed, nil
}

func intersect(a, b value.Set) value.Set {
	var out []value.Value
	for _, v := range a {
		for _, w := range b {
			if value.Equal(v, w) {
				out = append(out, v)
				break
			}
		}
	}
	return value.NewSet(out)
}

func equalSet(a, b value.Set) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !value.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

type bitMeet struct {
	name string
	fold func(a, b int64) int64
}

func (m *bitMeet) Name() string { return m.name }
func (m *bitMeet) Init(args []value.Value) (State, error) {
	init := int64(-1)
	if m.name == "bit_or" {
		init = 0
	}
	return simpleState{v: value.Int(init)}, nil
}
func (m *bitMeet) Update(acc State, next value.Value) (State, bool, error) {
	cn, ok := acc.Value().(value.Num)
	if !ok {
		return acc, false, errs.New(errs.Type, "%s: accumulator is not int", m.name)
	}
	nn, ok := next.(value.Num)
	if !ok {
		return acc, false, errs.New(errs.Type, "%s: operand is not int", m.name)
	}
	merged := m.fold(cn.I, nn.I)
	return simpleState{v: value.Int(merged)}, merged != cn.I, nil
}

// shortestMeet keeps the elementwise-shortest list seen so far: shorter
// length wins, ties broken lexicographically.
type shortestMeet struct{}

func (m *shortestMeet) Name() string { return "shortest" }
func (m *shortestMeet) Init(args []value.Value) (State, error) {
	return simpleState{v: value.Bot{}}, nil
}
func (m *shortestMeet) Update(acc State, next value.Value) (State, bool, error) {
	cur := acc.Value()
	if _, isBot := cur.(value.Bot); isBot {
		return simpleState{v: next}, true, nil
	}
	curList, ok1 := cur.(value.List)
	nextList, ok2 := next.(value.List)
	if !ok1 || !ok2 {
		return acc, false, errs.New(errs.Type, "shortest: operands must be lists")
	}
	if len(nextList) < len(curList) || (len(nextList) == len(curList) && value.Compare(nextList, curList) < 0) {
		return simpleState{v: next}, true, nil
	}
	return acc, false, nil
}

// minCostMeet operates pairwise on [value, cost] pairs, keeping the one
// with the lower cost (second element).
type minCostMeet struct{}

func (m *minCostMeet) Name() string { return "min_cost" }
func (m *minCostMeet) Init(args []value.Value) (State, error) {
	return simpleState{v: value.Bot{}}, nil
}
func (m *minCostMeet) Update(acc State, next value.Value) (State, bool, error) {
	cur := acc.Value()
	if _, isBot := cur.(value.Bot); isBot {
		return simpleState{v: next}, true, nil
	}
	curPair, ok1 := cur.(value.List)
	nextPair, ok2 := next.(value.List)
	if !ok1 || !ok2 || len(curPair) != 2 || len(nextPair) != 2 {
		return acc, false, errs.New(errs.Type, "min_cost: operands must be [value, cost] pairs")
	}
	if value.Compare(nextPair[1], curPair[1]) < 0 {
		return simpleState{v: next}, true, nil
	}
	return acc, false, nil
}

// choiceMeet keeps the first non-null value seen; once set, further
// updates are no-ops (idempotent by construction).
type choiceMeet struct{}

func (m *choiceMeet) Name() string { return "choice" }
func (m *choiceMeet) Init(args []value.Value) (State, error) {
	return simpleState{v: value.Null{}}, nil
}
func (m *choiceMeet) Update(acc State, next value.Value) (State, bool, error) {
	if _, isNull := acc.Value().(value.Null); isNull {
		if _, nextNull := next.(value.Null); !nextNull {
			return simpleState{v: next}, true, nil
		}
	}
	return acc, false, nil
}
