package imperative

import (
	"context"

	"go.uber.org/zap"

	"strata/internal/errs"
	"strata/internal/eval"
	"strata/internal/kv"
	"strata/internal/logging"
	"strata/internal/relation"
	"strata/internal/txn"
	"strata/internal/value"
)

// CallbackEvent is one buffered write notification: relName changed by op,
// carrying the rows that were asserted and/or retracted.
type CallbackEvent struct {
	Relation string
	Op       relation.TriggerOp
	NewRows  []value.Tuple
	OldRows  []value.Tuple
}

// CallbackSink receives an executor's debug dumps and buffered callback
// events. Kept thin per spec.md: buffering and post-commit delivery are
// specified, the transport those events go out over is not.
type CallbackSink interface {
	Debug(name string, rows *NamedRows)
	Deliver(events []CallbackEvent)
}

// Executor drives one script's statement list inside a single
// internal/txn.Transaction, per spec.md §4.7's "one transaction for its
// entire lifetime" rule.
type Executor struct {
	tx        *txn.Transaction
	evaluator *eval.Evaluator
	Sink      CallbackSink
	Log       *zap.SugaredLogger

	vars     map[string]*NamedRows
	last     *NamedRows
	subs     map[string]bool
	events   []CallbackEvent
	programs map[string][]Statement
}

// Register makes stmts runnable as a trigger body under name, the string
// schema.go's TriggerSet entries (OnPut/OnRm/OnReplace) reference.
func (ex *Executor) Register(name string, stmts []Statement) {
	if ex.programs == nil {
		ex.programs = map[string][]Statement{}
	}
	ex.programs[name] = stmts
}

// TriggerRunnerFor returns a relation.TriggerRunner bound to relName, for
// passing as the runner argument to StoredRelation.Put/Rm/Replace: it
// dispatches the named trigger program and, if relName has a registered
// callback subscriber, buffers the write for post-commit delivery.
func (ex *Executor) TriggerRunnerFor(relName string) relation.TriggerRunner {
	return triggerRunner{ex: ex, relName: relName}
}

type triggerRunner struct {
	ex      *Executor
	relName string
}

func (tr triggerRunner) RunTrigger(ctx context.Context, tx kv.StoreTx, progName string, newRows, oldRows []value.Tuple) error {
	ex := tr.ex
	stmts, ok := ex.programs[progName]
	if !ok {
		return errs.New(errs.NotFound, "no trigger program registered as %q", progName)
	}
	ex.vars["_new"] = &NamedRows{Rows: newRows}
	ex.vars["_old"] = &NamedRows{Rows: oldRows}
	defer func() {
		delete(ex.vars, "_new")
		delete(ex.vars, "_old")
	}()
	if _, err := ex.run(ctx, stmts); err != nil {
		return err
	}
	if ex.subs[tr.relName] {
		op := relation.TriggerOnPut
		if len(newRows) == 0 {
			op = relation.TriggerOnRm
		} else if len(oldRows) > 0 {
			op = relation.TriggerOnReplace
		}
		ex.events = append(ex.events, CallbackEvent{Relation: tr.relName, Op: op, NewRows: newRows, OldRows: oldRows})
	}
	return nil
}

// NewExecutor builds an executor over tx. subscribed names the stored
// relations with registered callback subscribers, snapshotted up front
// per spec.md's "Before executing, the driver snapshots the set of
// relation names with callback subscribers" rule; writes to any other
// relation are never buffered regardless of what runs.
func NewExecutor(tx *txn.Transaction, ev *eval.Evaluator, sink CallbackSink, subscribed []string) *Executor {
	subs := make(map[string]bool, len(subscribed))
	for _, n := range subscribed {
		subs[n] = true
	}
	return &Executor{
		tx:        tx,
		evaluator: ev,
		Sink:      sink,
		Log:       logging.Nop(),
		vars:      map[string]*NamedRows{},
		subs:      subs,
	}
}

// run executes stmts in order, stopping at the first statement that
// reports a non-ctrlNone control code and propagating it to the caller.
func (ex *Executor) run(ctx context.Context, stmts []Statement) (result, error) {
	for _, s := range stmts {
		r, err := s.exec(ctx, ex)
		if err != nil {
			return result{}, err
		}
		if r.code != ctrlNone {
			return r, nil
		}
	}
	return plain()
}

// Run executes prog's whole statement list and, on success, runs the
// transaction's accumulated range-deletes, commits, and delivers any
// buffered callback events, per spec.md §4.7's commit-order rule. On
// failure it rolls back and returns the error; no callbacks fire.
func (ex *Executor) Run(ctx context.Context, stmts []Statement) (*NamedRows, error) {
	r, err := ex.run(ctx, stmts)
	if err != nil {
		_ = ex.tx.Rollback(ctx)
		return nil, err
	}
	if err := ex.tx.Commit(ctx); err != nil {
		return nil, err
	}
	if ex.Sink != nil && len(ex.events) > 0 {
		ex.Sink.Deliver(ex.events)
	}
	if r.code == ctrlReturn {
		return r.rows, nil
	}
	return ex.last, nil
}
