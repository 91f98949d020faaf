package imperative

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"strata/internal/errs"
	"strata/internal/eval"
	"strata/internal/expr"
	"strata/internal/kv/memkv"
	"strata/internal/program"
	"strata/internal/relation"
	"strata/internal/txn"
	"strata/internal/value"
)

func sym(name string) program.MagicSymbol { return program.MagicSymbol{Name: name} }

func identityCompiled(t *testing.T, in program.MagicSymbol) *program.CompiledProgram {
	t.Helper()
	bc, err := expr.Compile(expr.Binding{Name: "x"})
	require.NoError(t, err)
	entry := sym("entry")
	rule := &program.Rule{
		Head:    []program.HeadColumn{{Expr: bc}},
		Body:    []program.Atom{{Relation: in, Vars: []string{"x"}}},
		Depends: []program.Dependency{{On: in, Kind: program.DependPositive}},
	}
	ruleSets := map[program.MagicSymbol]program.RuleSet{
		entry: &program.RuleGroup{Rules: []*program.Rule{rule}},
	}
	compiled, err := program.Stratify(ruleSets, entry)
	require.NoError(t, err)
	return compiled
}

func friendsSchema(t *testing.T) *relation.RelationSchema {
	t.Helper()
	schema, err := relation.NewRelationSchema(
		"nums",
		[]relation.ColumnDef{{Name: "x", Type: value.ColumnType{Tag: value.TInt}}},
		nil,
		relation.Normal,
		relation.TriggerSet{},
	)
	require.NoError(t, err)
	return schema
}

func newManager() *txn.Manager { return txn.NewManager(memkv.New()) }

func TestProgramRunsQueryAgainstStoredRelation(t *testing.T) {
	ctx := context.Background()
	mgr := newManager()

	setup, err := txn.Begin(ctx, mgr, []string{"nums"})
	require.NoError(t, err)
	rel, err := setup.Create(ctx, "nums", friendsSchema(t))
	require.NoError(t, err)
	require.NoError(t, rel.Put(ctx, setup.StoreTx(), value.Tuple{value.Int(1)}, nil, nil))
	require.NoError(t, rel.Put(ctx, setup.StoreTx(), value.Tuple{value.Int(2)}, nil, nil))
	require.NoError(t, setup.Commit(ctx))

	tx, err := txn.Begin(ctx, mgr, nil)
	require.NoError(t, err)
	ev := eval.New(eval.Options{})
	ex := NewExecutor(tx, ev, nil, nil)

	in := sym("base")
	prog := &Program{
		Compiled: identityCompiled(t, in),
		Headers:  []string{"x"},
		Inputs:   []ProgramInput{{Symbol: in, Stored: "nums"}},
	}
	rows, err := ex.Run(ctx, []Statement{prog})
	require.NoError(t, err)
	require.Len(t, rows.Rows, 2)
}

func TestIgnoreErrorProgramCapturesFailure(t *testing.T) {
	ctx := context.Background()
	mgr := newManager()
	tx, err := txn.Begin(ctx, mgr, nil)
	require.NoError(t, err)
	ev := eval.New(eval.Options{})
	ex := NewExecutor(tx, ev, nil, nil)

	in := sym("missing-base")
	prog := &Program{
		Compiled: identityCompiled(t, in),
		Headers:  []string{"x"},
		Inputs:   []ProgramInput{{Symbol: in, Stored: "does-not-exist"}},
	}
	rows, err := ex.Run(ctx, []Statement{&IgnoreErrorProgram{Prog: prog}})
	require.NoError(t, err)
	require.Equal(t, []string{"status", "message"}, rows.Headers)
	require.Equal(t, value.String("FAILED"), rows.Rows[0][0])
}

func TestLoopBreakUnwindsToEnclosingLoop(t *testing.T) {
	ctx := context.Background()
	mgr := newManager()
	tx, err := txn.Begin(ctx, mgr, nil)
	require.NoError(t, err)
	ex := NewExecutor(tx, eval.New(eval.Options{}), nil, nil)

	ex.vars["count"] = &NamedRows{Rows: []value.Tuple{{value.Int(0)}}}
	loop := &Loop{
		Body: []Statement{
			&bumpAndMaybeBreak{},
		},
	}
	_, err = ex.Run(ctx, []Statement{loop})
	require.NoError(t, err)
	require.Equal(t, value.Int(3), ex.vars["count"].Rows[0][0])
}

// bumpAndMaybeBreak is a test-only Statement incrementing the "count" temp
// variable and breaking out of the loop once it reaches 3, exercising the
// Loop/Break control-flow unwind without needing a real query per round.
type bumpAndMaybeBreak struct{}

func (b *bumpAndMaybeBreak) exec(ctx context.Context, ex *Executor) (result, error) {
	cur := ex.vars["count"].Rows[0][0].(value.Num)
	next := value.Int(cur.I + 1)
	ex.vars["count"] = &NamedRows{Rows: []value.Tuple{{next}}}
	if next.I >= 3 {
		return result{code: ctrlBreak}, nil
	}
	return plain()
}

func TestIfBranchesOnStoredCondition(t *testing.T) {
	ctx := context.Background()
	mgr := newManager()
	tx, err := txn.Begin(ctx, mgr, nil)
	require.NoError(t, err)
	ex := NewExecutor(tx, eval.New(eval.Options{}), nil, nil)
	ex.vars["cond"] = &NamedRows{Rows: []value.Tuple{{value.Bool(true)}}}

	ifStmt := &If{
		Cond: "cond",
		Then: []Statement{&Return{Rows: &NamedRows{Headers: []string{"branch"}, Rows: []value.Tuple{{value.String("then")}}}}},
		Else: []Statement{&Return{Rows: &NamedRows{Headers: []string{"branch"}, Rows: []value.Tuple{{value.String("else")}}}}},
	}
	rows, err := ex.Run(ctx, []Statement{ifStmt})
	require.NoError(t, err)
	require.Equal(t, value.String("then"), rows.Rows[0][0])
}

func TestReturnByVarName(t *testing.T) {
	ctx := context.Background()
	mgr := newManager()
	tx, err := txn.Begin(ctx, mgr, nil)
	require.NoError(t, err)
	ex := NewExecutor(tx, eval.New(eval.Options{}), nil, nil)
	ex.vars["saved"] = &NamedRows{Headers: []string{"x"}, Rows: []value.Tuple{{value.Int(42)}}}

	rows, err := ex.Run(ctx, []Statement{&Return{Vars: []string{"saved"}}})
	require.NoError(t, err)
	require.Equal(t, value.Int(42), rows.Rows[0][0])
}

func TestTempSwapExchangesVars(t *testing.T) {
	ctx := context.Background()
	mgr := newManager()
	tx, err := txn.Begin(ctx, mgr, nil)
	require.NoError(t, err)
	ex := NewExecutor(tx, eval.New(eval.Options{}), nil, nil)
	ex.vars["a"] = &NamedRows{Rows: []value.Tuple{{value.Int(1)}}}
	ex.vars["b"] = &NamedRows{Rows: []value.Tuple{{value.Int(2)}}}

	_, err = ex.Run(ctx, []Statement{&TempSwap{Left: "a", Right: "b"}, &Return{Vars: []string{"a"}}})
	require.NoError(t, err)
	require.Equal(t, value.Int(2), ex.vars["a"].Rows[0][0])
}

type recordingSink struct {
	delivered []CallbackEvent
}

func (s *recordingSink) Debug(name string, rows *NamedRows) {}
func (s *recordingSink) Deliver(events []CallbackEvent)     { s.delivered = append(s.delivered, events...) }

func TestTriggerRunnerDispatchesRegisteredProgramAndBuffersCallback(t *testing.T) {
	ctx := context.Background()
	mgr := newManager()

	schema, err := relation.NewRelationSchema(
		"audited",
		[]relation.ColumnDef{{Name: "k", Type: value.ColumnType{Tag: value.TInt}}},
		nil,
		relation.Normal,
		relation.TriggerSet{OnPut: []string{"log_insert"}},
	)
	require.NoError(t, err)

	setup, err := txn.Begin(ctx, mgr, []string{"audited"})
	require.NoError(t, err)
	rel, err := setup.Create(ctx, "audited", schema)
	require.NoError(t, err)
	require.NoError(t, setup.Commit(ctx))

	tx, err := txn.Begin(ctx, mgr, []string{"audited"})
	require.NoError(t, err)
	sink := &recordingSink{}
	ex := NewExecutor(tx, eval.New(eval.Options{}), sink, []string{"audited"})
	ex.Register("log_insert", nil)

	require.NoError(t, rel.Put(ctx, tx.StoreTx(), value.Tuple{value.Int(7)}, nil, ex.TriggerRunnerFor("audited")))
	_, err = ex.Run(ctx, nil)
	require.NoError(t, err)
	require.Len(t, sink.delivered, 1)
	require.Equal(t, "audited", sink.delivered[0].Relation)
}

func TestRunTriggerMissingProgramErrors(t *testing.T) {
	ctx := context.Background()
	mgr := newManager()
	schema, err := relation.NewRelationSchema(
		"nums",
		[]relation.ColumnDef{{Name: "x", Type: value.ColumnType{Tag: value.TInt}}},
		nil,
		relation.Normal,
		relation.TriggerSet{OnPut: []string{"no_such_trigger"}},
	)
	require.NoError(t, err)
	tx, err := txn.Begin(ctx, mgr, []string{"nums"})
	require.NoError(t, err)
	rel, err := tx.Create(ctx, "nums", schema)
	require.NoError(t, err)
	ex := NewExecutor(tx, eval.New(eval.Options{}), nil, nil)

	err = rel.Put(ctx, tx.StoreTx(), value.Tuple{value.Int(1)}, nil, triggerRunner{ex: ex, relName: "nums"})
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	require.NoError(t, tx.Rollback(ctx))
}
