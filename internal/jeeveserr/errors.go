// Package jeeveserr defines the error categories the orchestrator core
// surfaces at its boundaries, so callers (HTTP handlers, tests) can
// distinguish them with errors.As instead of string matching.
package jeeveserr

import "fmt"

// ValidationError wraps a workflow-load or malformed-state failure.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("validation: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("validation: %s", e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidation builds a ValidationError.
func NewValidation(reason string, err error) *ValidationError {
	return &ValidationError{Reason: reason, Err: err}
}

// NotFoundError wraps a missing worktree, prompt, or issue state.
type NotFoundError struct {
	Kind string // "worktree", "issue", "workflow", ...
	What string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.What)
}

// NewNotFound builds a NotFoundError.
func NewNotFound(kind, what string) *NotFoundError {
	return &NotFoundError{Kind: kind, What: what}
}

// ConflictError wraps a request that conflicts with the current run
// state (start while running, edit state while running).
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s", e.Reason)
}

// NewConflict builds a ConflictError.
func NewConflict(reason string) *ConflictError {
	return &ConflictError{Reason: reason}
}

// TimeoutError wraps an iteration wall-clock, inactivity, or
// child-wait-grace timeout. It is handled internally by the
// orchestrator (kill, log, advance) and rarely needs to cross a
// process boundary, but is typed so tests can assert on it.
type TimeoutError struct {
	Reason  string
	Elapsed float64 // seconds
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: %s (elapsed %.1fs)", e.Reason, e.Elapsed)
}

// NewTimeout builds a TimeoutError.
func NewTimeout(reason string, elapsed float64) *TimeoutError {
	return &TimeoutError{Reason: reason, Elapsed: elapsed}
}

// TransientChildFailure wraps a non-zero agent exit or reader-thread
// exception. The supervisor logs it and continues to the next
// iteration; it never aborts the run.
type TransientChildFailure struct {
	ExitCode int
	Err      error
}

func (e *TransientChildFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient child failure (exit %d): %v", e.ExitCode, e.Err)
	}
	return fmt.Sprintf("transient child failure (exit %d)", e.ExitCode)
}

func (e *TransientChildFailure) Unwrap() error { return e.Err }

// NewTransientChildFailure builds a TransientChildFailure.
func NewTransientChildFailure(exitCode int, err error) *TransientChildFailure {
	return &TransientChildFailure{ExitCode: exitCode, Err: err}
}
