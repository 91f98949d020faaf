// Package fixedrule implements the fixed-rule trait boundary of spec.md
// §4.6/§4.7: a small interface graph algorithms satisfy to plug into the
// evaluator, plus input adaptors that convert an arbitrary input relation
// into a typed weighted/unweighted edge graph or a raw row stream. The
// spec leaves algorithm bodies out of scope beyond the trait; this
// package ships two reference algorithms (shortest_path_dijkstra,
// connected_components) so the trait has something to exercise end to
// end, matching the worked example of spec.md §8 scenario 3.
package fixedrule

import (
	"context"
	"math"

	"strata/internal/codec"
	"strata/internal/errs"
	"strata/internal/value"
)

// RowSource is anything that yields tuples in sequence; internal/memrel's
// RowIter satisfies it without an adapter. internal/relation's RowIter,
// which yields key and non-key halves separately, does not.
type RowSource interface {
	Next() (value.Tuple, bool, error)
}

// PoisonChecker is the cooperative-cancellation handle fixed rules must
// poll in their inner loops. internal/eval.Poison implements this; this
// package never imports eval to avoid a cycle (eval dispatches into
// fixedrule, not the reverse).
type PoisonChecker interface {
	Check() error
}

type noopPoison struct{}

func (noopPoison) Check() error { return nil }

// NoopPoison never cancels; useful for tests and one-shot callers that
// have no evaluator-level cancellation handle to thread through.
var NoopPoison PoisonChecker = noopPoison{}

// RunContext bundles everything Run needs: the input relations already
// opened as row streams (in Args' declared order), validated options,
// and a poison handle.
type RunContext struct {
	Args    []RowSource
	Options map[string]value.Value
	Poison  PoisonChecker
}

// AlgoImpl is the fixed-rule trait of spec.md §4.6: Arity tells the
// compiler how many head columns the algorithm produces, ProcessOptions
// validates/fills option defaults ahead of compilation, and Run performs
// the actual computation, calling emit once per output row.
type AlgoImpl interface {
	Name() string
	Arity(options map[string]value.Value, headArity int) (int, error)
	ProcessOptions(options map[string]value.Value) (map[string]value.Value, error)
	Run(ctx context.Context, rc RunContext, emit func(value.Tuple) error) error
}

// Registry is the name -> constructor catalog fixed-rule applications
// resolve against (program.FixedRuleApp.Algo names a registry entry).
var Registry = map[string]func() AlgoImpl{}

func Register(name string, factory func() AlgoImpl) { Registry[name] = factory }

func Lookup(name string) (AlgoImpl, bool) {
	f, ok := Registry[name]
	if !ok {
		return nil, false
	}
	return f(), true
}

func init() {
	Register("shortest_path_dijkstra", func() AlgoImpl { return &ShortestPathDijkstra{} })
	Register("connected_components", func() AlgoImpl { return &ConnectedComponents{} })
}

// nodeKey returns a byte-stable hash key for v, so arbitrary Values (not
// just comparable Go types) can index a node's adjacency slot; reuses
// the memcmp codec rather than inventing a second encoding.
func nodeKey(v value.Value) string { return string(codec.EncodeValue(nil, v)) }

// WeightedEdge is one outgoing edge in a WeightedGraph's adjacency list.
type WeightedEdge struct {
	To     int
	Weight float64
}

// WeightedGraph is the typed weighted-edge adaptor of spec.md §4.6:
// nodes are assigned dense indices in first-seen order, Inv reverses
// that mapping by byte key.
type WeightedGraph struct {
	Adj         [][]WeightedEdge
	Indices     []value.Value
	Inv         map[string]int
	HasNegative bool
}

func (g *WeightedGraph) indexOf(v value.Value) int {
	key := nodeKey(v)
	if i, ok := g.Inv[key]; ok {
		return i
	}
	i := len(g.Indices)
	g.Inv[key] = i
	g.Indices = append(g.Indices, v)
	g.Adj = append(g.Adj, nil)
	return i
}

// BuildWeightedGraph adapts src's rows into a WeightedGraph: the first
// two tuple positions are endpoints, the third (if present) is a finite
// numeric weight, rejected if negative unless allowNegative.
func BuildWeightedGraph(src RowSource, allowNegative bool) (*WeightedGraph, error) {
	g := &WeightedGraph{Inv: map[string]int{}}
	for {
		row, ok, err := src.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if len(row) < 2 {
			return nil, errs.New(errs.Schema, "weighted graph edge needs at least 2 columns, got %d", len(row))
		}
		weight := 1.0
		if len(row) >= 3 {
			num, ok := row[2].(value.Num)
			if !ok {
				return nil, errs.New(errs.Type, "edge weight must be numeric")
			}
			weight = num.AsFloat()
			if math.IsNaN(weight) || math.IsInf(weight, 0) {
				return nil, errs.New(errs.BadWeight, "edge weight must be finite, got %v", weight)
			}
			if weight < 0 {
				if !allowNegative {
					return nil, errs.New(errs.Invariant, "negative edge weight %v not allowed", weight)
				}
				g.HasNegative = true
			}
		}
		from := g.indexOf(row[0])
		to := g.indexOf(row[1])
		g.Adj[from] = append(g.Adj[from], WeightedEdge{To: to, Weight: weight})
	}
	return g, nil
}

// UnweightedGraph is the unweighted-edge adaptor.
type UnweightedGraph struct {
	Adj     [][]int
	Indices []value.Value
	Inv     map[string]int
}

func (g *UnweightedGraph) indexOf(v value.Value) int {
	key := nodeKey(v)
	if i, ok := g.Inv[key]; ok {
		return i
	}
	i := len(g.Indices)
	g.Inv[key] = i
	g.Indices = append(g.Indices, v)
	g.Adj = append(g.Adj, nil)
	return i
}

// BuildUnweightedGraph adapts src's rows into an UnweightedGraph using
// only the first two tuple positions as endpoints.
func BuildUnweightedGraph(src RowSource) (*UnweightedGraph, error) {
	g := &UnweightedGraph{Inv: map[string]int{}}
	for {
		row, ok, err := src.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if len(row) < 2 {
			return nil, errs.New(errs.Schema, "unweighted graph edge needs at least 2 columns, got %d", len(row))
		}
		from := g.indexOf(row[0])
		to := g.indexOf(row[1])
		g.Adj[from] = append(g.Adj[from], to)
		g.Adj[to] = append(g.Adj[to], from)
	}
	return g, nil
}

// PrefixIter is the third adaptor shape: algorithms that want raw rows
// rather than a graph (e.g. a node list) read straight from it.
type PrefixIter struct {
	src RowSource
}

func NewPrefixIter(src RowSource) *PrefixIter { return &PrefixIter{src: src} }

func (p *PrefixIter) Next() (value.Tuple, bool, error) { return p.src.Next() }
