// Package imperative implements the statement driver of spec.md §4.7: an
// imperative script is a sequence of statements (Program,
// IgnoreErrorProgram, SysOp, TempDebug, If, Loop, Break, Continue, Return,
// TempSwap) executed inside one internal/txn.Transaction, with control
// flow encoded as a tagged return value rather than Go control-flow
// features, so a Loop body can be an arbitrary nested statement list and
// still have Break/Continue unwind cleanly through recursive Exec calls.
package imperative

import (
	"context"
	"time"

	"strata/internal/errs"
	"strata/internal/eval"
	"strata/internal/logging"
	"strata/internal/program"
	"strata/internal/relation"
	"strata/internal/value"
)

// controlCode tags how a statement (or statement list) finished: running
// to completion (ctrlNone) or unwinding toward an enclosing construct.
type controlCode uint8

const (
	ctrlNone controlCode = iota
	ctrlBreak
	ctrlContinue
	ctrlReturn
)

// result carries a statement's outcome: its control code, the label a
// Break/Continue targets (empty matches the innermost Loop), and, for a
// Return (or a Program whose result becomes the script's answer), the
// produced rows.
type result struct {
	code  controlCode
	label string
	rows  *NamedRows
}

func plain() (result, error) { return result{code: ctrlNone}, nil }

// NamedRows is the query result envelope of spec.md's supplemented result
// type (cozo-core's NamedRows): column headers, the materialized rows,
// and an optional link to a continuation chunk, for statements (Return)
// that hand back more than one named table.
type NamedRows struct {
	Headers []string
	Rows    []value.Tuple
	Next    *NamedRows
}

// Statement is one executable unit of an imperative script.
type Statement interface {
	exec(ctx context.Context, ex *Executor) (result, error)
}

// ProgramInput tells a Program statement where to source one relation
// symbol's base facts from: either a stored relation (by catalog name) or
// a previously stored temp result (by TempSwap/store_as name).
type ProgramInput struct {
	Symbol program.MagicSymbol
	Stored string // non-empty: scan this stored relation
	Temp   string // non-empty: reuse this temp variable's rows
}

// Program runs a compiled query to completion inside the enclosing
// transaction. If StoreAs is set the result is stashed under that name
// instead of becoming the statement list's return value (spec.md's
// `Program { prog, store_as? }`).
type Program struct {
	Compiled *program.CompiledProgram
	Headers  []string
	Inputs   []ProgramInput
	StoreAs  string
}

func (p *Program) exec(ctx context.Context, ex *Executor) (result, error) {
	rows, err := ex.runQuery(ctx, p.Compiled, p.Headers, p.Inputs)
	if err != nil {
		return result{}, err
	}
	if p.StoreAs != "" {
		ex.vars[p.StoreAs] = rows
		return plain()
	}
	ex.last = rows
	return plain()
}

// IgnoreErrorProgram runs prog and swallows any failure into a one-row
// NamedRows carrying a status column, per spec.md §7: "the sole place an
// error is swallowed into a status=FAILED row".
type IgnoreErrorProgram struct {
	Prog *Program
}

func (p *IgnoreErrorProgram) exec(ctx context.Context, ex *Executor) (result, error) {
	r, err := p.Prog.exec(ctx, ex)
	if err == nil {
		return r, nil
	}
	status := &NamedRows{
		Headers: []string{"status", "message"},
		Rows:    []value.Tuple{{value.String("FAILED"), value.String(err.Error())}},
	}
	if p.Prog.StoreAs != "" {
		ex.vars[p.Prog.StoreAs] = status
	} else {
		ex.last = status
	}
	return plain()
}

// SysOpKind names a catalog-mutating system operation.
type SysOpKind uint8

const (
	SysOpCreateRelation SysOpKind = iota
	SysOpDropRelation
	SysOpCreateIndex
)

// SysOp performs a catalog operation (create/drop relation, create
// index) against the enclosing transaction.
type SysOp struct {
	Kind      SysOpKind
	Name      string
	Schema    *relation.RelationSchema // CreateRelation
	IndexName string                   // CreateIndex
	Column    string                   // CreateIndex
	IndexKind relation.IndexKind       // CreateIndex
}

func (op *SysOp) exec(ctx context.Context, ex *Executor) (result, error) {
	switch op.Kind {
	case SysOpCreateRelation:
		if _, err := ex.tx.Create(ctx, op.Name, op.Schema); err != nil {
			return result{}, err
		}
	case SysOpDropRelation:
		if err := ex.tx.Drop(ctx, op.Name); err != nil {
			return result{}, err
		}
	case SysOpCreateIndex:
		if _, err := ex.tx.CreateIndex(ctx, op.Name, op.IndexName, op.Column, op.IndexKind); err != nil {
			return result{}, err
		}
	default:
		return result{}, errs.New(errs.Invariant, "unknown sys-op kind %d", op.Kind)
	}
	return plain()
}

// TempDebug dumps a temp variable's current contents to Sink without
// otherwise affecting script state, for script authors stepping through
// an imperative program interactively.
type TempDebug struct {
	Name string
}

func (d *TempDebug) exec(ctx context.Context, ex *Executor) (result, error) {
	rows := ex.vars[d.Name]
	if ex.Sink != nil {
		ex.Sink.Debug(d.Name, rows)
	}
	return plain()
}

// If runs Then (or Else) depending on evaluating Cond's stored condition
// variable as a boolean; Negated inverts the test, so the same construct
// expresses both `if` and `if not`.
type If struct {
	Cond    string // name of a temp variable holding a single-row, single-column boolean result
	Then    []Statement
	Else    []Statement
	Negated bool
}

func (s *If) exec(ctx context.Context, ex *Executor) (result, error) {
	cond, err := ex.boolVar(s.Cond)
	if err != nil {
		return result{}, err
	}
	if s.Negated {
		cond = !cond
	}
	branch := s.Else
	if cond {
		branch = s.Then
	}
	return ex.run(ctx, branch)
}

// Loop runs Body repeatedly until a Break (matching Label or unlabeled)
// unwinds it, an unmatched Break/Continue or a Return propagates past
// it, or Body fails. There is no built-in convergence check: a loop that
// never reaches a Break runs forever.
type Loop struct {
	Label string
	Body  []Statement
}

func (s *Loop) exec(ctx context.Context, ex *Executor) (result, error) {
	for {
		r, err := ex.run(ctx, s.Body)
		if err != nil {
			return result{}, err
		}
		switch r.code {
		case ctrlBreak:
			if r.label == "" || r.label == s.Label {
				return plain()
			}
			return r, nil
		case ctrlContinue:
			if r.label == "" || r.label == s.Label {
				continue
			}
			return r, nil
		case ctrlReturn:
			return r, nil
		}
	}
}

// Break unwinds the innermost Loop, or the one named Label.
type Break struct{ Label string }

func (s *Break) exec(ctx context.Context, ex *Executor) (result, error) {
	return result{code: ctrlBreak, label: s.Label}, nil
}

// Continue restarts the innermost Loop, or the one named Label.
type Continue struct{ Label string }

func (s *Continue) exec(ctx context.Context, ex *Executor) (result, error) {
	return result{code: ctrlContinue, label: s.Label}, nil
}

// Return ends the whole script immediately, yielding Rows followed by
// each named temp variable in Vars, chained through NamedRows.Next (the
// first Vars entry heads the chain when Rows is nil), so a script can
// `return` previously `store_as`'d results by name.
type Return struct {
	Rows *NamedRows
	Vars []string
}

func (s *Return) exec(ctx context.Context, ex *Executor) (result, error) {
	rows := s.Rows
	for _, name := range s.Vars {
		v, ok := ex.vars[name]
		if !ok {
			return result{}, errs.New(errs.NotFound, "no temp variable named %q to return", name)
		}
		if rows == nil {
			rows = v
		} else {
			tail := rows
			for tail.Next != nil {
				tail = tail.Next
			}
			tail.Next = v
		}
	}
	return result{code: ctrlReturn, rows: rows}, nil
}

// TempSwap exchanges the contents of two temp variables in place,
// letting a Loop body "commit" a freshly computed next-round relation
// over the name the next iteration reads, without an intervening copy.
type TempSwap struct {
	Left, Right string
}

func (s *TempSwap) exec(ctx context.Context, ex *Executor) (result, error) {
	ex.vars[s.Left], ex.vars[s.Right] = ex.vars[s.Right], ex.vars[s.Left]
	return plain()
}

// runQuery seeds an eval.Stores from inputs, runs compiled to a fixed
// point, and projects the entry relation into a NamedRows under headers.
func (ex *Executor) runQuery(ctx context.Context, compiled *program.CompiledProgram, headers []string, inputs []ProgramInput) (*NamedRows, error) {
	start := time.Now()
	logging.QueryStart(ex.Log, compiled.Entry.String(), len(compiled.Strata), false)
	stores := eval.Stores{}
	for _, in := range inputs {
		store := stores.Get(in.Symbol)
		switch {
		case in.Stored != "":
			rel, err := ex.tx.Open(ctx, in.Stored)
			if err != nil {
				return nil, err
			}
			it, err := rel.ScanAll(ctx, ex.tx.StoreTx())
			if err != nil {
				return nil, err
			}
			for {
				key, nonKey, ok, err := it.Next()
				if err != nil {
					it.Close()
					return nil, err
				}
				if !ok {
					break
				}
				store.Put(append(append(value.Tuple{}, key...), nonKey...), 0)
			}
			it.Close()
		case in.Temp != "":
			tmp, ok := ex.vars[in.Temp]
			if !ok {
				return nil, errs.New(errs.NotFound, "no temp variable named %q", in.Temp)
			}
			for _, row := range tmp.Rows {
				store.Put(row, 0)
			}
		default:
			return nil, errs.New(errs.Invariant, "program input for %s names neither a stored relation nor a temp variable", in.Symbol)
		}
	}

	out, err := ex.evaluator.Run(ctx, compiled, stores)
	if err != nil {
		return nil, err
	}
	it, err := out.ScanAll(0)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var rows []value.Tuple
	for {
		row, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		rows = append(rows, row)
	}
	logging.QueryDone(ex.Log, compiled.Entry.String(), len(rows), time.Since(start).Milliseconds())
	return &NamedRows{Headers: headers, Rows: rows}, nil
}

func (ex *Executor) boolVar(name string) (bool, error) {
	rows, ok := ex.vars[name]
	if !ok {
		return false, errs.New(errs.NotFound, "no temp variable named %q", name)
	}
	if len(rows.Rows) == 0 {
		return false, nil
	}
	if len(rows.Rows[0]) != 1 {
		return false, errs.New(errs.Schema, "condition variable %q must be a single-column result", name)
	}
	b, ok := rows.Rows[0][0].(value.Bool)
	if !ok {
		return false, errs.New(errs.Type, "condition variable %q is not boolean", name)
	}
	return bool(b), nil
}
