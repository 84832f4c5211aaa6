// Package engineerr classifies the failures cmd/engine can surface
// (SPEC_FULL.md §7), following the teacher's fmt.Errorf("...: %w", err)
// wrapping idiom rather than a bare error-code enum: every error the
// cycle loop returns is tagged with a Kind so the caller can decide
// whether to log-and-continue or exit non-zero.
package engineerr

import (
	"errors"
	"fmt"
)

// Kind classifies why a cycle step failed.
type Kind string

const (
	// DataUnavailable means the MarketData fallback plan was exhausted.
	DataUnavailable Kind = "data_unavailable"
	// OracleFailure means the scenario oracle returned malformed output
	// or could not be reached.
	OracleFailure Kind = "oracle_failure"
	// ExecutionRejected means the paper exchange could not fill an order
	// (no price, limit not reached).
	ExecutionRejected Kind = "execution_rejected"
	// PersistenceError means a store read or write failed.
	PersistenceError Kind = "persistence_error"
	// ConfigError means a flag or config file value was invalid.
	ConfigError Kind = "config_error"
	// InvariantViolation means a controller invariant was broken (slot
	// overflow, duplicate holding).
	InvariantViolation Kind = "invariant_violation"
)

// Error pairs a Kind with the underlying error, matching the teacher's
// wrap-and-classify pattern already used throughout internal/risk and
// internal/storage.
type Error struct {
	Kind Kind
	Err  error
}

// New wraps err with kind.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Newf wraps a formatted error with kind.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Recoverable reports whether the cycle loop should log the failure and
// continue to the next cycle rather than exit the process.
// PersistenceError, InvariantViolation and ConfigError are treated as
// fatal — a failed store, a bug or a misconfiguration rather than a
// transient condition.
func Recoverable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return true
	}
	switch e.Kind {
	case PersistenceError, InvariantViolation, ConfigError:
		return false
	default:
		return true
	}
}
