package mutation

import (
	"context"
	"errors"
	"fmt"
)

// ErrUndone resolves calls whose undoable entry was cancelled.
var ErrUndone = errors.New("mutation undone")

// ProgrammerError reports a mutation issued without a required parameter.
// It is raised before any cache or network effect and is never retried.
type ProgrammerError struct {
	// Action is the mutation that rejected its parameters (e.g. "update").
	Action string

	// Field names the missing parameter (resource, id, ids, data).
	Field string

	// Message optionally replaces the default description.
	Message string
}

// Error implements the error interface.
func (e *ProgrammerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Action, e.Message)
	}
	return fmt.Sprintf("%s: missing required parameter %q", e.Action, e.Field)
}

// MissingParam returns a ProgrammerError for a missing field.
func MissingParam(action, field string) error {
	return &ProgrammerError{Action: action, Field: field}
}

// IsProgrammerError reports whether err is, or wraps, a ProgrammerError.
func IsProgrammerError(err error) bool {
	var pe *ProgrammerError
	return errors.As(err, &pe)
}

// aborter is implemented by transport errors that represent an aborted request.
type aborter interface {
	Aborted() bool
}

// IsAbortError reports whether err represents a cancelled request rather than
// a failure. Callers should not report abort errors as hard failures.
func IsAbortError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var a aborter
	return errors.As(err, &a) && a.Aborted()
}
