package expr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"strata/internal/value"
)

func eval(t *testing.T, e Expr, row Row) value.Value {
	t.Helper()
	bc, err := Compile(e)
	require.NoError(t, err)
	v, err := bc.Eval(row)
	require.NoError(t, err)
	return v
}

func TestArithmeticAndComparison(t *testing.T) {
	e := Apply{Op: "gt", Args: []Expr{
		Apply{Op: "add", Args: []Expr{Const{value.Int(1)}, Const{value.Int(2)}}},
		Const{value.Int(2)},
	}}
	got := eval(t, e, Row{})
	require.Equal(t, value.Bool(true), got)
}

func TestBindingByName(t *testing.T) {
	row := Row{Tuple: value.Tuple{value.Int(10), value.String("x")}, Header: map[string]int{"a": 0, "b": 1}}
	got := eval(t, Binding{Name: "a"}, row)
	require.Equal(t, value.Int(10), got)
}

func TestIfShortCircuits(t *testing.T) {
	n := If{
		Branches: []Branch{
			{Cond: Const{value.Bool(false)}, Value: Apply{Op: "div", Args: []Expr{Const{value.Int(1)}, Const{value.Int(0)}}}},
			{Cond: Const{value.Bool(true)}, Value: Const{value.String("hit")}},
		},
		Else: Const{value.String("miss")},
	}
	got := eval(t, n, Row{})
	require.Equal(t, value.String("hit"), got)
}

func TestPredicateRejectsNonBool(t *testing.T) {
	bc, err := Compile(Const{value.Int(1)})
	require.NoError(t, err)
	_, err = bc.EvalPredicate(Row{})
	require.Error(t, err)
}

func TestArityMismatchFailsAtCompile(t *testing.T) {
	_, err := Compile(Apply{Op: "eq", Args: []Expr{Const{value.Int(1)}}})
	require.Error(t, err)
}
