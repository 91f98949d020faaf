package fixedrule

import (
	"container/heap"
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"strata/internal/errs"
	"strata/internal/value"
)

// ShortestPathDijkstra is grounded on cozo-core's
// fixed_rule/algos/shortest_path_dijkstra.rs: single-source Dijkstra run
// once per requested source, fanned out across a worker pool with
// golang.org/x/sync/errgroup — the same concurrency primitive
// bsc-erigon's graph-heavy code reaches for. Output rows are
// (source, target, cost, path).
type ShortestPathDijkstra struct{}

func (ShortestPathDijkstra) Name() string { return "shortest_path_dijkstra" }

func (ShortestPathDijkstra) Arity(options map[string]value.Value, headArity int) (int, error) {
	if headArity != 0 && headArity != 4 {
		return 0, errs.New(errs.Schema, "shortest_path_dijkstra produces 4 head columns (source, target, cost, path), got %d", headArity)
	}
	return 4, nil
}

func (ShortestPathDijkstra) ProcessOptions(options map[string]value.Value) (map[string]value.Value, error) {
	out := make(map[string]value.Value, len(options))
	for k, v := range options {
		out[k] = v
	}
	if _, ok := out["allow_negative"]; !ok {
		out["allow_negative"] = value.Bool(false)
	}
	if _, ok := out["pool_size"]; !ok {
		out["pool_size"] = value.Int(4)
	}
	return out, nil
}

func (ShortestPathDijkstra) Run(ctx context.Context, rc RunContext, emit func(value.Tuple) error) error {
	if len(rc.Args) < 1 {
		return errs.New(errs.Schema, "shortest_path_dijkstra needs one edge-relation argument")
	}
	allowNeg, _ := rc.Options["allow_negative"].(value.Bool)
	graph, err := BuildWeightedGraph(rc.Args[0], bool(allowNeg))
	if err != nil {
		return err
	}
	if graph.HasNegative {
		return errs.New(errs.BadWeight, "shortest_path_dijkstra does not support negative edge weights")
	}

	sources := make([]int, 0, len(graph.Indices))
	if raw, ok := rc.Options["sources"].(value.List); ok {
		for _, v := range raw {
			idx, found := graph.Inv[nodeKey(v)]
			if !found {
				return errs.New(errs.NotFound, "shortest_path_dijkstra: unknown source node %v", v)
			}
			sources = append(sources, idx)
		}
	} else {
		for i := range graph.Indices {
			sources = append(sources, i)
		}
	}

	poison := rc.Poison
	if poison == nil {
		poison = NoopPoison
	}

	poolSize := 4
	if n, ok := rc.Options["pool_size"].(value.Num); ok {
		poolSize = int(n.I)
		if poolSize <= 0 {
			poolSize = 1
		}
	}

	var mu chanMutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(poolSize)
	for _, s := range sources {
		s := s
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			if err := poison.Check(); err != nil {
				return err
			}
			rows, err := dijkstraFrom(graph, s, poison)
			if err != nil {
				return err
			}
			mu.lock()
			defer mu.unlock()
			for _, row := range rows {
				if err := emit(row); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// chanMutex is a trivial channel-backed mutex used only to serialize
// emit calls across the errgroup's goroutines; emit targets are not
// assumed to be concurrency-safe on their own.
type chanMutex struct{ ch chan struct{} }

func (m *chanMutex) lock() {
	if m.ch == nil {
		m.ch = make(chan struct{}, 1)
	}
	m.ch <- struct{}{}
}

func (m *chanMutex) unlock() { <-m.ch }

type dijkstraItem struct {
	node int
	dist float64
}

type dijkstraHeap []dijkstraItem

func (h dijkstraHeap) Len() int            { return len(h) }
func (h dijkstraHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h dijkstraHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *dijkstraHeap) Push(x interface{}) { *h = append(*h, x.(dijkstraItem)) }
func (h *dijkstraHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func dijkstraFrom(graph *WeightedGraph, source int, poison PoisonChecker) ([]value.Tuple, error) {
	n := len(graph.Indices)
	dist := make([]float64, n)
	prev := make([]int, n)
	visited := make([]bool, n)
	for i := range dist {
		dist[i] = math.Inf(1)
		prev[i] = -1
	}
	dist[source] = 0

	h := &dijkstraHeap{{node: source, dist: 0}}
	steps := 0
	for h.Len() > 0 {
		steps++
		if steps%4096 == 0 {
			if err := poison.Check(); err != nil {
				return nil, err
			}
		}
		cur := heap.Pop(h).(dijkstraItem)
		if visited[cur.node] {
			continue
		}
		visited[cur.node] = true
		for _, e := range graph.Adj[cur.node] {
			nd := dist[cur.node] + e.Weight
			if nd < dist[e.To] {
				dist[e.To] = nd
				prev[e.To] = cur.node
				heap.Push(h, dijkstraItem{node: e.To, dist: nd})
			}
		}
	}

	var rows []value.Tuple
	for t := 0; t < n; t++ {
		if math.IsInf(dist[t], 1) {
			continue
		}
		path := make([]value.Value, 0, 4)
		for at := t; at != -1; at = prev[at] {
			path = append([]value.Value{graph.Indices[at]}, path...)
			if at == source {
				break
			}
		}
		rows = append(rows, value.Tuple{
			graph.Indices[source],
			graph.Indices[t],
			value.Float(dist[t]),
			value.List(path),
		})
	}
	return rows, nil
}
