// Package main is a thin example binary wiring an in-memory KV store to
// the engine's transaction and statement driver, in the teacher's
// rootCmd-plus-subcommands cobra shape (cmd/smf/main.go). It is glue for
// exercising the library from a shell, not the rich CLI surface the
// library itself leaves out of scope.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	"strata/internal/config"
	"strata/internal/eval"
	"strata/internal/expr"
	"strata/internal/fixedrule"
	"strata/internal/imperative"
	"strata/internal/kv/memkv"
	"strata/internal/logging"
	"strata/internal/program"
	"strata/internal/relation"
	"strata/internal/txn"
	"strata/internal/value"
)

type runFlags struct {
	configPath string
	relation   string
	values     []int64
}

type benchFlags struct {
	configPath string
	nodes      int
	edges      int
	seed       int64
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "strata",
		Short: "Example driver for the strata Datalog engine",
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(benchCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadEngineOptions(path string) (config.EngineOptions, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func runCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create a relation, seed it with facts, and run an identity query over it",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runDemo(flags)
		},
	}
	cmd.Flags().StringVar(&flags.configPath, "config", "", "Path to an EngineOptions TOML file")
	cmd.Flags().StringVar(&flags.relation, "relation", "nums", "Name of the relation to create and query")
	cmd.Flags().Int64SliceVar(&flags.values, "values", []int64{1, 2, 3}, "Integer facts to seed the relation with")
	return cmd
}

// runDemo creates flags.relation with one integer key column, seeds it
// with flags.values, compiles a single-rule program that projects the
// relation back out unchanged, and runs it through the imperative
// driver inside one transaction, printing the result rows.
func runDemo(flags *runFlags) error {
	ctx := context.Background()
	opts, err := loadEngineOptions(flags.configPath)
	if err != nil {
		return fmt.Errorf("strata run: %w", err)
	}
	log, err := logging.New()
	if err != nil {
		return fmt.Errorf("strata run: %w", err)
	}
	defer func() { _ = log.Sync() }()

	mgr := txn.NewManager(memkv.New()).WithLogger(log)

	setup, err := txn.Begin(ctx, mgr, []string{flags.relation})
	if err != nil {
		return fmt.Errorf("strata run: %w", err)
	}
	schema, err := relation.NewRelationSchema(
		flags.relation,
		[]relation.ColumnDef{{Name: "x", Type: value.ColumnType{Tag: value.TInt}}},
		nil,
		relation.Normal,
		relation.TriggerSet{},
	)
	if err != nil {
		return fmt.Errorf("strata run: %w", err)
	}
	rel, err := setup.Create(ctx, flags.relation, schema)
	if err != nil {
		return fmt.Errorf("strata run: %w", err)
	}
	for _, v := range flags.values {
		if err := rel.Put(ctx, setup.StoreTx(), value.Tuple{value.Int(v)}, nil, nil); err != nil {
			return fmt.Errorf("strata run: %w", err)
		}
	}
	if err := setup.Commit(ctx); err != nil {
		return fmt.Errorf("strata run: %w", err)
	}

	tx, err := txn.Begin(ctx, mgr, nil)
	if err != nil {
		return fmt.Errorf("strata run: %w", err)
	}
	ev := eval.New(opts.EvalOptions())
	ex := imperative.NewExecutor(tx, ev, nil, nil)
	ex.Log = log

	compiled, err := identityQuery(flags.relation)
	if err != nil {
		return fmt.Errorf("strata run: %w", err)
	}
	prog := &imperative.Program{
		Compiled: compiled,
		Headers:  []string{"x"},
		Inputs:   []imperative.ProgramInput{{Symbol: program.MagicSymbol{Name: "base"}, Stored: flags.relation}},
	}
	rows, err := ex.Run(ctx, []imperative.Statement{prog})
	if err != nil {
		return fmt.Errorf("strata run: %w", err)
	}

	fmt.Println(rows.Headers)
	for _, row := range rows.Rows {
		fmt.Println(row)
	}
	return nil
}

// identityQuery builds a one-rule program that copies the "base" input
// symbol's rows to its entry symbol unchanged, the smallest useful
// query the imperative driver can run against a stored relation.
func identityQuery(relName string) (*program.CompiledProgram, error) {
	bc, err := expr.Compile(expr.Binding{Name: "x"})
	if err != nil {
		return nil, err
	}
	base := program.MagicSymbol{Name: "base"}
	entry := program.MagicSymbol{Name: relName + "_entry"}
	rule := &program.Rule{
		Head:    []program.HeadColumn{{Expr: bc}},
		Body:    []program.Atom{{Relation: base, Vars: []string{"x"}}},
		Depends: []program.Dependency{{On: base, Kind: program.DependPositive}},
	}
	ruleSets := map[program.MagicSymbol]program.RuleSet{
		entry: &program.RuleGroup{Rules: []*program.Rule{rule}},
	}
	return program.Stratify(ruleSets, entry)
}

func benchCmd() *cobra.Command {
	flags := &benchFlags{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Generate a random graph and time connected_components over it",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runBench(flags)
		},
	}
	cmd.Flags().StringVar(&flags.configPath, "config", "", "Path to an EngineOptions TOML file")
	cmd.Flags().IntVar(&flags.nodes, "nodes", 1000, "Number of graph nodes")
	cmd.Flags().IntVar(&flags.edges, "edges", 4000, "Number of random edges")
	cmd.Flags().Int64Var(&flags.seed, "seed", 1, "Random seed for graph generation")
	return cmd
}

func runBench(flags *benchFlags) error {
	opts, err := loadEngineOptions(flags.configPath)
	if err != nil {
		return fmt.Errorf("strata bench: %w", err)
	}
	rng := rand.New(rand.NewSource(flags.seed))
	rows := make([]value.Tuple, 0, flags.edges)
	for i := 0; i < flags.edges; i++ {
		from := rng.Intn(flags.nodes)
		to := rng.Intn(flags.nodes)
		rows = append(rows, value.Tuple{value.Int(int64(from)), value.Int(int64(to))})
	}

	algo := fixedrule.ConnectedComponents{}
	rc := fixedrule.RunContext{
		Args:   []fixedrule.RowSource{&sliceSource{rows: rows}},
		Poison: eval.NewPoison(opts.PoisonCheckEvery),
	}

	start := time.Now()
	components := map[value.Value]struct{}{}
	err = algo.Run(context.Background(), rc, func(row value.Tuple) error {
		components[row[1]] = struct{}{}
		return nil
	})
	elapsed := time.Since(start)
	if err != nil {
		return fmt.Errorf("strata bench: %w", err)
	}

	fmt.Printf("nodes=%d edges=%d components=%d elapsed=%s\n", flags.nodes, flags.edges, len(components), elapsed)
	return nil
}

// sliceSource adapts a fixed slice of rows into a fixedrule.RowSource,
// letting the bench subcommand exercise a fixed-rule algorithm without
// standing up a full relation/store.
type sliceSource struct {
	rows []value.Tuple
	pos  int
}

func (s *sliceSource) Next() (value.Tuple, bool, error) {
	if s.pos >= len(s.rows) {
		return nil, false, nil
	}
	row := s.rows[s.pos]
	s.pos++
	return row, true, nil
}
