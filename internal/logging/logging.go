// Package logging wires the engine's structured logger: a sugared
// *zap.Logger, reached for and used the way the pack's entries that log
// at all do it (zap.S().Infow(...) with paired structured fields) rather
// than a bespoke leveled-writer shim.
package logging

import (
	"go.uber.org/zap"
)

// New builds a production zap logger (JSON encoding, info level) and
// returns its sugared form, the calling convention the corpus's one
// direct zap usage (query-optimizer diagnostics) follows.
func New() (*zap.SugaredLogger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// Nop returns a logger that discards everything, for tests and library
// embedding where the caller hasn't wired output.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// QueryStart logs the start of one evaluator run: entry symbol, stratum
// count, and whether a row limit is in effect.
func QueryStart(log *zap.SugaredLogger, entry string, strata int, limited bool) {
	log.Infow("query start", "entry", entry, "strata", strata, "limited", limited)
}

// QueryDone logs a completed evaluator run's row count and elapsed time.
func QueryDone(log *zap.SugaredLogger, entry string, rows int, elapsedMs int64) {
	log.Infow("query done", "entry", entry, "rows", rows, "elapsed_ms", elapsedMs)
}

// TxnCommit logs a transaction's commit, including how many purge ranges
// it applied and how many callback events it buffered.
func TxnCommit(log *zap.SugaredLogger, writable bool, purges, events int) {
	log.Infow("transaction commit", "writable", writable, "purges", purges, "callback_events", events)
}

// TxnRollback logs a transaction's rollback and the error that caused it.
func TxnRollback(log *zap.SugaredLogger, err error) {
	log.Infow("transaction rollback", "error", err)
}
