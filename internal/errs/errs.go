// Package errs defines the error taxonomy shared across the engine: a
// stable code, a human message, an optional source span, and a help string.
package errs

import "fmt"

// Code is one of the stable error kinds from the engine's error taxonomy.
type Code string

const (
	Parse        Code = "parse"
	Type         Code = "type"
	Schema       Code = "schema"
	NotFound     Code = "not-found"
	Access       Code = "access"
	Conflict     Code = "conflict"
	Invariant    Code = "invariant"
	EdgeShape    Code = "edge-shape"
	BadWeight    Code = "bad-weight"
	Cancelled    Code = "cancelled"
	Corrupt      Code = "corrupt"
	Engine       Code = "engine"
)

// Span locates a diagnostic in source text, when the offending text came
// from a parsed program.
type Span struct {
	Offset int
	Length int
}

// Error is the user-visible diagnostic returned by fallible engine
// operations.
type Error struct {
	Code    Code
	Message string
	Span    *Span
	Help    string
	Cause   error
}

func (e *Error) Error() string {
	if e.Span != nil {
		return fmt.Sprintf("%s: %s (at %d+%d)", e.Code, e.Message, e.Span.Offset, e.Span.Length)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no span or help text.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches code/message context to an underlying cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithSpan returns a copy of e carrying the given source span.
func (e *Error) WithSpan(offset, length int) *Error {
	cp := *e
	cp.Span = &Span{Offset: offset, Length: length}
	return &cp
}

// WithHelp returns a copy of e carrying the given help text.
func (e *Error) WithHelp(help string) *Error {
	cp := *e
	cp.Help = help
	return &cp
}

// IsCancelled reports whether err (or something it wraps) is a poison
// cancellation.
func IsCancelled(err error) bool {
	var e *Error
	if ok := As(err, &e); ok {
		return e.Code == Cancelled
	}
	return false
}

// As is a tiny local wrapper so callers don't need a separate import in
// call sites that only care about this package's error shape.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
