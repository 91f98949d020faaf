package program

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sym(name string) MagicSymbol { return MagicSymbol{Name: name} }

func TestStratifyOrdersPositiveChainInOneStratum(t *testing.T) {
	base := &RuleGroup{Rules: []*Rule{{}}}
	derived := &RuleGroup{Rules: []*Rule{{Depends: []Dependency{{On: sym("base"), Kind: DependPositive}}}}}

	cp, err := Stratify(map[MagicSymbol]RuleSet{
		sym("base"):    base,
		sym("derived"): derived,
	}, sym("derived"))
	require.NoError(t, err)
	require.Len(t, cp.Strata, 1)
	require.Contains(t, cp.Strata[0].Rules, sym("base"))
	require.Contains(t, cp.Strata[0].Rules, sym("derived"))
}

func TestStratifyPushesNegativeDependencyToLaterStratum(t *testing.T) {
	base := &RuleGroup{Rules: []*Rule{{}}}
	complement := &RuleGroup{Rules: []*Rule{{Depends: []Dependency{{On: sym("base"), Kind: DependNegative}}}}}

	cp, err := Stratify(map[MagicSymbol]RuleSet{
		sym("base"):       base,
		sym("complement"): complement,
	}, sym("complement"))
	require.NoError(t, err)
	require.Len(t, cp.Strata, 2)
	require.Contains(t, cp.Strata[0].Rules, sym("base"))
	require.Contains(t, cp.Strata[1].Rules, sym("complement"))
}

func TestStratifyAllowsMutualPositiveRecursion(t *testing.T) {
	even := &RuleGroup{Rules: []*Rule{{Depends: []Dependency{{On: sym("odd"), Kind: DependPositive}}}}}
	odd := &RuleGroup{Rules: []*Rule{{Depends: []Dependency{{On: sym("even"), Kind: DependPositive}}}}}

	cp, err := Stratify(map[MagicSymbol]RuleSet{
		sym("even"): even,
		sym("odd"):  odd,
	}, sym("even"))
	require.NoError(t, err)
	require.Len(t, cp.Strata, 1)
}

func TestStratifyRejectsNegativeSelfCycle(t *testing.T) {
	a := &RuleGroup{Rules: []*Rule{{Depends: []Dependency{{On: sym("a"), Kind: DependNegative}}}}}
	_, err := Stratify(map[MagicSymbol]RuleSet{sym("a"): a}, sym("a"))
	require.Error(t, err)
}

func TestStratifyFixedRuleAppDependsPositively(t *testing.T) {
	base := &RuleGroup{Rules: []*Rule{{}}}
	sp := &FixedRuleApp{Algo: "shortest_path_dijkstra", Args: []MagicSymbol{sym("base")}, Out: sym("sp")}

	cp, err := Stratify(map[MagicSymbol]RuleSet{
		sym("base"): base,
		sym("sp"):   sp,
	}, sym("sp"))
	require.NoError(t, err)
	require.Len(t, cp.Strata, 1)
}
