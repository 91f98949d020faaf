// Package config loads the engine's on-disk configuration: the one piece
// of host configuration an embeddable core owns, in the teacher's
// internal/parser/toml decode-then-validate shape (BurntSushi/toml into an
// unexported file-shaped struct, then converted to the public type).
package config

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"

	"strata/internal/eval"
)

// EngineOptions configures one engine instance: WorkerPoolSize bounds
// how many rule sets of one stratum the evaluator runs in parallel
// (eval.Options.MaxConcurrency), and PoisonCheckEvery sets how often a
// running evaluation polls its Poison flag. DefaultQueryLimit is loaded
// and carried here, but EvalOptions does not pass it on and the
// evaluator applies no default LIMIT.
type EngineOptions struct {
	WorkerPoolSize    int
	DefaultQueryLimit int64
	PoisonCheckEvery  uint64
}

// Default mirrors the zero-value behavior internal/eval already falls
// back to (NewPoison(0) rounds up to 4096, an unbounded worker pool when
// MaxConcurrency is 0, and no implicit LIMIT), expressed as an explicit
// value so callers who load no file still get a documented baseline.
func Default() EngineOptions {
	return EngineOptions{
		WorkerPoolSize:    0,
		DefaultQueryLimit: -1,
		PoisonCheckEvery:  4096,
	}
}

// engineFile is the top-level TOML document, a [engine] table mapping
// 1:1 onto EngineOptions.
type engineFile struct {
	Engine tomlEngine `toml:"engine"`
}

type tomlEngine struct {
	WorkerPoolSize    int    `toml:"worker_pool_size"`
	DefaultQueryLimit int64  `toml:"default_query_limit"`
	PoisonCheckEvery  uint64 `toml:"poison_check_every"`
}

// Load reads path as a TOML engine config and returns its EngineOptions,
// starting from Default() so a file that omits a field keeps the
// documented baseline for it rather than silently zeroing it out.
func Load(path string) (EngineOptions, error) {
	f, err := os.Open(path)
	if err != nil {
		return EngineOptions{}, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads TOML content from r and returns the corresponding
// EngineOptions.
func Parse(r io.Reader) (EngineOptions, error) {
	ef := engineFile{Engine: tomlEngine{
		WorkerPoolSize:    0,
		DefaultQueryLimit: -1,
		PoisonCheckEvery:  4096,
	}}
	if _, err := toml.NewDecoder(r).Decode(&ef); err != nil {
		return EngineOptions{}, fmt.Errorf("config: decode error: %w", err)
	}
	return EngineOptions{
		WorkerPoolSize:    ef.Engine.WorkerPoolSize,
		DefaultQueryLimit: ef.Engine.DefaultQueryLimit,
		PoisonCheckEvery:  ef.Engine.PoisonCheckEvery,
	}, nil
}

// EvalOptions translates EngineOptions into internal/eval's own Options
// shape (MaxConcurrency, a fresh Poison at the configured cadence); the
// Limiter is left to the caller since it depends on a specific program's
// declared LIMIT/OFFSET, not engine-wide config.
func (o EngineOptions) EvalOptions() eval.Options {
	return eval.Options{
		MaxConcurrency: o.WorkerPoolSize,
		Poison:         eval.NewPoison(o.PoisonCheckEvery),
	}
}
