package action

import (
	"errors"
	"fmt"

	"github.com/roach88/tripwire/internal/ir"
)

// ErrNoSink is returned when no sink is registered for an action kind.
var ErrNoSink = errors.New("no sink registered")

// Error is a failed action: resolution of one of its expression fields or
// the downstream call. It is reported, never retried by the engine.
type Error struct {
	Kind       ir.ActionKind
	ActionName string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("action %s (%s): %v", e.ActionName, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsActionError reports whether err is an *Error.
func IsActionError(err error) bool {
	var ae *Error
	return errors.As(err, &ae)
}

func fail(kind ir.ActionKind, name string, err error) *Error {
	return &Error{Kind: kind, ActionName: name, Err: err}
}
