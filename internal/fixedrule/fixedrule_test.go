package fixedrule

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"strata/internal/value"
)

type sliceSource struct {
	rows []value.Tuple
	pos  int
}

func (s *sliceSource) Next() (value.Tuple, bool, error) {
	if s.pos >= len(s.rows) {
		return nil, false, nil
	}
	r := s.rows[s.pos]
	s.pos++
	return r, true, nil
}

func TestBuildWeightedGraphRejectsNegativeUnlessAllowed(t *testing.T) {
	src := &sliceSource{rows: []value.Tuple{{value.String("a"), value.String("b"), value.Int(-1)}}}
	_, err := BuildWeightedGraph(src, false)
	require.Error(t, err)

	src2 := &sliceSource{rows: []value.Tuple{{value.String("a"), value.String("b"), value.Int(-1)}}}
	g, err := BuildWeightedGraph(src2, true)
	require.NoError(t, err)
	require.True(t, g.HasNegative)
}

func TestShortestPathDijkstraFindsCheapestRoute(t *testing.T) {
	edges := func() *sliceSource {
		return &sliceSource{rows: []value.Tuple{
			{value.String("a"), value.String("b"), value.Int(1)},
			{value.String("b"), value.String("c"), value.Int(1)},
			{value.String("a"), value.String("c"), value.Int(5)},
		}}
	}
	algo := ShortestPathDijkstra{}
	opts, err := algo.ProcessOptions(map[string]value.Value{
		"sources": value.List{value.String("a")},
	})
	require.NoError(t, err)

	var rows []value.Tuple
	err = algo.Run(context.Background(), RunContext{Args: []RowSource{edges()}, Options: opts, Poison: NoopPoison}, func(row value.Tuple) error {
		rows = append(rows, row)
		return nil
	})
	require.NoError(t, err)

	var toC value.Tuple
	for _, r := range rows {
		if r[1] == value.String("c") {
			toC = r
		}
	}
	require.NotNil(t, toC)
	require.Equal(t, 2.0, toC[2].(value.Num).F)
}

func TestConnectedComponentsGroupsTransitiveNeighbors(t *testing.T) {
	edges := &sliceSource{rows: []value.Tuple{
		{value.String("a"), value.String("b")},
		{value.String("b"), value.String("c")},
		{value.String("x"), value.String("y")},
	}}
	algo := ConnectedComponents{}
	var rows []value.Tuple
	err := algo.Run(context.Background(), RunContext{Args: []RowSource{edges}, Poison: NoopPoison}, func(row value.Tuple) error {
		rows = append(rows, row)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, rows, 5)

	comp := map[value.Value]value.Value{}
	for _, r := range rows {
		comp[r[0]] = r[1]
	}
	require.Equal(t, comp[value.String("a")], comp[value.String("b")])
	require.Equal(t, comp[value.String("a")], comp[value.String("c")])
	require.NotEqual(t, comp[value.String("a")], comp[value.String("x")])
	require.Equal(t, comp[value.String("x")], comp[value.String("y")])
}
