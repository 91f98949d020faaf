package eval

import "sync"

// QueryLimiter implements a top-level LIMIT/OFFSET window over a program
// entry's output, per spec.md §4.6's early-stop rule. It plays two
// distinct roles:
//
//   - Admit is called once per newly-discovered entry tuple during the
//     semi-naive loop: the first Offset calls fall in the skip window
//     (the tuple is kept only so Exists stays idempotent, via
//     memrel.PutWithSkip, and never counts toward Limit); the next Limit
//     calls are real output, and the Limit-th one reports done so the
//     evaluator can stop the whole fixpoint early.
//   - Allow satisfies memrel.Limiter for NormalAggrScanAndPut: groups
//     falling in the offset window are dropped outright (never written
//     to the target relation at all, since a normal-aggregation head has
//     no concept of a skip-marked row), then Limit groups are let
//     through.
//
// A nil *QueryLimiter is treated as unlimited by every caller in this
// package (checked before dereferencing).
type QueryLimiter struct {
	mu      sync.Mutex
	offset  int64
	limit   int64 // negative means unlimited
	skipped int64
	kept    int64
}

// NewQueryLimiter builds a limiter for the given offset/limit. A negative
// limit means unlimited output (only the offset applies).
func NewQueryLimiter(offset, limit int64) *QueryLimiter {
	if offset < 0 {
		offset = 0
	}
	return &QueryLimiter{offset: offset, limit: limit}
}

// Admit records one new entry tuple. putSkip reports whether the caller
// should store it as a skip-marked row instead of real output; done
// reports whether the limit was just reached and evaluation should stop.
func (l *QueryLimiter) Admit() (putSkip bool, done bool) {
	if l == nil {
		return false, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.skipped < l.offset {
		l.skipped++
		return true, false
	}
	if l.limit < 0 {
		return false, false
	}
	l.kept++
	return false, l.kept >= l.limit
}

// Allow implements memrel.Limiter: the offset window is dropped, then
// Limit rows are let through.
func (l *QueryLimiter) Allow() bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.skipped < l.offset {
		l.skipped++
		return false
	}
	if l.limit < 0 {
		return true
	}
	if l.kept >= l.limit {
		return false
	}
	l.kept++
	return true
}

// Done reports whether Limit rows have already been admitted/allowed.
func (l *QueryLimiter) Done() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit >= 0 && l.kept >= l.limit
}
