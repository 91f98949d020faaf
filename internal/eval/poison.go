package eval

import (
	"sync/atomic"

	"strata/internal/errs"
)

// Poison is the cooperative cancellation handle of spec.md §4.6: a single
// flag shared by every evaluator function under one transaction. Setting
// it makes every subsequent Check call (and every fixed-rule algorithm,
// which polls it through the fixedrule.PoisonChecker interface) return a
// Cancelled error. Cadence is advisory: callers in hot loops are expected
// to call Check every Cadence iterations rather than on every one, to
// keep the atomic load off the critical path; PoisonCheckEvery in
// EngineOptions feeds Cadence, defaulting to 4096 per spec.md §4.6.
type Poison struct {
	flag    atomic.Bool
	cadence uint64
}

func NewPoison(cadence uint64) *Poison {
	if cadence == 0 {
		cadence = 4096
	}
	return &Poison{cadence: cadence}
}

func (p *Poison) Set()   { p.flag.Store(true) }
func (p *Poison) Clear() { p.flag.Store(false) }
func (p *Poison) IsSet() bool {
	return p.flag.Load()
}

func (p *Poison) Cadence() uint64 { return p.cadence }

// Check implements fixedrule.PoisonChecker and is also called directly by
// the evaluator between epochs.
func (p *Poison) Check() error {
	if p.flag.Load() {
		return errs.New(errs.Cancelled, "evaluation cancelled")
	}
	return nil
}
