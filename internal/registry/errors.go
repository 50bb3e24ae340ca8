package registry

import (
	"errors"
	"fmt"

	"github.com/roach88/tripwire/internal/ir"
)

// Sentinel errors for registry lookups.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// NotFoundError names the missing resource.
type NotFoundError struct {
	Kind string // "detector model", "input", "version"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError reports a create for a name already in use.
type ConflictError struct {
	Kind string
	Name string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Kind, e.Name)
}

func (e *ConflictError) Is(target error) bool { return target == ErrAlreadyExists }

// StatusError rejects a status change the lifecycle does not allow.
type StatusError struct {
	Name string
	From ir.ModelStatus
	To   ir.ModelStatus
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("detector model %q: illegal status change %s -> %s", e.Name, e.From, e.To)
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is a duplicate-name error.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsStatusError reports whether err is an illegal status change.
func IsStatusError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}
