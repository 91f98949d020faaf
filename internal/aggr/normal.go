package aggr

import (
	"math"
	"sort"

	"strata/internal/errs"
	"strata/internal/value"
)

func init() {
	NormalRegistry["mean"] = func() NormalAggr { return &meanAggr{} }
	NormalRegistry["variance"] = func() NormalAggr { return &varianceAggr{sample: false} }
	NormalRegistry["std_dev"] = func() NormalAggr { return &varianceAggr{sample: false, stdDev: true} }
	NormalRegistry["sum"] = func() NormalAggr { return &sumAggr{} }
	NormalRegistry["product"] = func() NormalAggr { return &productAggr{} }
	NormalRegistry["count"] = func() NormalAggr { return &countAggr{} }
	NormalRegistry["count_unique"] = func() NormalAggr { return &countUniqueAggr{} }
	NormalRegistry["collect"] = func() NormalAggr { return &collectAggr{} }
	NormalRegistry["group_count"] = func() NormalAggr { return &groupCountAggr{} }
	NormalRegistry["choice_rand"] = func() NormalAggr { return &choiceRandAggr{} }
	NormalRegistry["bit_xor"] = func() NormalAggr { return &bitXorAggr{} }
	NormalRegistry["latest_by"] = func() NormalAggr { return &latestByAggr{} }
}

// meanAggr computes the running arithmetic mean incrementally (Welford's
// running-mean update), avoiding a second pass over the group.
type meanAggr struct{}

func (a *meanAggr) Name() string { return "mean" }
func (a *meanAggr) Init(args []value.Value) (State, error) { return &meanState{}, nil }

type meanState struct {
	n     int64
	mean  float64
}

func (s *meanState) Value() value.Value { return value.Float(s.mean) }
func (s *meanState) Set(v value.Value) error {
	n, ok := v.(value.Num)
	if !ok {
		return errs.New(errs.Type, "mean: expected number, got %s", v.Kind())
	}
	s.n++
	s.mean += (n.AsFloat() - s.mean) / float64(s.n)
	return nil
}
func (s *meanState) Get() (value.Value, error) { return value.Float(s.mean), nil }

// varianceAggr computes population variance (or std_dev) via Welford's
// online algorithm, which is the numerically stable way to do this in one
// pass without risking catastrophic cancellation on large sums of squares.
type varianceAggr struct {
	sample bool
	stdDev bool
}

func (a *varianceAggr) Name() string {
	if a.stdDev {
		return "std_dev"
	}
	return "variance"
}
func (a *varianceAggr) Init(args []value.Value) (State, error) {
	return &varianceState{stdDev: a.stdDev}, nil
}

type varianceState struct {
	n      int64
	mean   float64
	m2     float64
	stdDev bool
}

func (s *varianceState) Value() value.Value {
	v, _ := s.Get()
	return v
}
func (s *varianceState) Set(v value.Value) error {
	n, ok := v.(value.Num)
	if !ok {
		return errs.New(errs.Type, "variance: expected number, got %s", v.Kind())
	}
	s.n++
	x := n.AsFloat()
	delta := x - s.mean
	s.mean += delta / float64(s.n)
	delta2 := x - s.mean
	s.m2 += delta * delta2
	return nil
}
func (s *varianceState) Get() (value.Value, error) {
	if s.n < 2 {
		return value.Float(0), nil
	}
	v := s.m2 / float64(s.n)
	if s.stdDev {
		return value.Float(math.Sqrt(v)), nil
	}
	return value.Float(v), nil
}

// sumAggr is the running-total fold of spec.md §8's worked recursion
// example; listed alongside product among the stateful single-pass folds.
type sumAggr struct{}

func (a *sumAggr) Name() string                           { return "sum" }
func (a *sumAggr) Init(args []value.Value) (State, error) { return &sumState{}, nil }

type sumState struct{ acc float64 }

func (s *sumState) Value() value.Value { return value.Float(s.acc) }
func (s *sumState) Set(v value.Value) error {
	n, ok := v.(value.Num)
	if !ok {
		return errs.New(errs.Type, "sum: expected number, got %s", v.Kind())
	}
	s.acc += n.AsFloat()
	return nil
}
func (s *sumState) Get() (value.Value, error) { return value.Float(s.acc), nil }

type productAggr struct{}

func (a *productAggr) Name() string                         { return "product" }
func (a *productAggr) Init(args []value.Value) (State, error) { return &productState{acc: 1}, nil }

type productState struct{ acc float64 }

func (s *productState) Value() value.Value { return value.Float(s.acc) }
func (s *productState) Set(v value.Value) error {
	n, ok := v.(value.Num)
	if !ok {
		return errs.New(errs.Type, "product: expected number, got %s", v.Kind())
	}
	s.acc *= n.AsFloat()
	return nil
}
func (s *productState) Get() (value.Value, error) { return value.Float(s.acc), nil }

type countAggr struct{}

func (a *countAggr) Name() string                         { return "count" }
func (a *countAggr) Init(args []value.Value) (State, error) { return &countState{}, nil }

type countState struct{ n int64 }

func (s *countState) Value() value.Value       { return value.Int(s.n) }
func (s *countState) Set(v value.Value) error  { s.n++; return nil }
func (s *countState) Get() (value.Value, error) { return value.Int(s.n), nil }

type countUniqueAggr struct{}

func (a *countUniqueAggr) Name() string { return "count_unique" }
func (a *countUniqueAggr) Init(args []value.Value) (State, error) {
	return &countUniqueState{}, nil
}

type countUniqueState struct{ seen []value.Value }

func (s *countUniqueState) Value() value.Value { return value.Int(int64(len(s.seen))) }
func (s *countUniqueState) Set(v value.Value) error {
	for _, w := range s.seen {
		if value.Equal(v, w) {
			return nil
		}
	}
	s.seen = append(s.seen, v)
	return nil
}
func (s *countUniqueState) Get() (value.Value, error) { return value.Int(int64(len(s.seen))), nil }

type collectAggr struct{}

func (a *collectAggr) Name() string                         { return "collect" }
func (a *collectAggr) Init(args []value.Value) (State, error) { return &collectState{}, nil }

type collectState struct{ items []value.Value }

func (s *collectState) Value() value.Value { return value.List(append([]value.Value(nil), s.items...)) }
func (s *collectState) Set(v value.Value) error {
	s.items = append(s.items, v)
	return nil
}
func (s *collectState) Get() (value.Value, error) {
	return value.List(append([]value.Value(nil), s.items...)), nil
}

// groupCountAggr tallies occurrences of each distinct input, returning a
// list of [value, count] pairs ordered by value.
type groupCountAggr struct{}

func (a *groupCountAggr) Name() string { return "group_count" }
func (a *groupCountAggr) Init(args []value.Value) (State, error) {
	return &groupCountState{}, nil
}

type groupCountState struct {
	keys   []value.Value
	counts []int64
}

func (s *groupCountState) Value() value.Value {
	v, _ := s.Get()
	return v
}
func (s *groupCountState) Set(v value.Value) error {
	for i, k := range s.keys {
		if value.Equal(k, v) {
			s.counts[i]++
			return nil
		}
	}
	s.keys = append(s.keys, v)
	s.counts = append(s.counts, 1)
	return nil
}
func (s *groupCountState) Get() (value.Value, error) {
	out := make([]value.Value, len(s.keys))
	for i, k := range s.keys {
		out[i] = value.List{k, value.Int(s.counts[i])}
	}
	sort.Slice(out, func(i, j int) bool {
		return value.Compare(out[i].(value.List)[0], out[j].(value.List)[0]) < 0
	})
	return value.List(out), nil
}

// choiceRandAggr keeps the first element it is given; no random draw is
// made, so the result is deterministic given the input order.
type choiceRandAggr struct{}

func (a *choiceRandAggr) Name() string { return "choice_rand" }
func (a *choiceRandAggr) Init(args []value.Value) (State, error) {
	return &choiceRandState{}, nil
}

type choiceRandState struct {
	n       int64
	current value.Value
}

func (s *choiceRandState) Value() value.Value {
	if s.current == nil {
		return value.Null{}
	}
	return s.current
}
func (s *choiceRandState) Set(v value.Value) error {
	s.n++
	if s.current == nil {
		s.current = v
	}
	return nil
}
func (s *choiceRandState) Get() (value.Value, error) { return s.Value(), nil }

type bitXorAggr struct{}

func (a *bitXorAggr) Name() string                         { return "bit_xor" }
func (a *bitXorAggr) Init(args []value.Value) (State, error) { return &bitXorState{}, nil }

type bitXorState struct{ acc int64 }

func (s *bitXorState) Value() value.Value { return value.Int(s.acc) }
func (s *bitXorState) Set(v value.Value) error {
	n, ok := v.(value.Num)
	if !ok {
		return errs.New(errs.Type, "bit_xor: expected int, got %s", v.Kind())
	}
	s.acc ^= n.I
	return nil
}
func (s *bitXorState) Get() (value.Value, error) { return value.Int(s.acc), nil }

// latestByAggr keeps the payload accompanying the greatest key seen so
// far; Set is fed [key, payload] pairs.
type latestByAggr struct{}

func (a *latestByAggr) Name() string { return "latest_by" }
func (a *latestByAggr) Init(args []value.Value) (State, error) {
	return &latestByState{}, nil
}

type latestByState struct {
	have    bool
	key     value.Value
	payload value.Value
}

func (s *latestByState) Value() value.Value {
	if !s.have {
		return value.Null{}
	}
	return s.payload
}
func (s *latestByState) Set(v value.Value) error {
	pair, ok := v.(value.List)
	if !ok || len(pair) != 2 {
		return errs.New(errs.Type, "latest_by: expected a [key, payload] pair")
	}
	if !s.have || value.Compare(pair[0], s.key) > 0 {
		s.have = true
		s.key = pair[0]
		s.payload = pair[1]
	}
	return nil
}
func (s *latestByState) Get() (value.Value, error) { return s.Value(), nil }
