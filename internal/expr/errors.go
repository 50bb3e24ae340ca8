package expr

import (
	"errors"
	"fmt"
)

// ErrExpression matches every *Error via errors.Is.
var ErrExpression = errors.New("expression error")

// Kind classifies an expression failure.
type Kind string

const (
	// KindSyntax is a malformed expression, found at parse time.
	KindSyntax Kind = "Syntax"
	// KindUnresolved is a reference to an input, attribute or variable
	// that has no value in the current cycle.
	KindUnresolved Kind = "Unresolved"
	// KindTypeMismatch is an operand or result of the wrong type.
	KindTypeMismatch Kind = "TypeMismatch"
)

// Error is the single error type produced by parsing and evaluation.
type Error struct {
	Kind    Kind
	Source  string // full expression text
	Pos     int    // byte offset into Source
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error at %d: %s", e.Kind, e.Pos, e.Message)
	if e.Source != "" {
		msg = fmt.Sprintf("expression %q: %s", e.Source, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrExpression) true for every *Error.
func (e *Error) Is(target error) bool {
	return target == ErrExpression
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsUnresolved reports whether err is an unresolved reference.
func IsUnresolved(err error) bool {
	return IsKind(err, KindUnresolved)
}

// IsTypeMismatch reports whether err is a type mismatch.
func IsTypeMismatch(err error) bool {
	return IsKind(err, KindTypeMismatch)
}

func syntaxErr(pos int, format string, args ...any) *Error {
	return &Error{Kind: KindSyntax, Pos: pos, Message: fmt.Sprintf(format, args...)}
}

func unresolvedErr(pos int, format string, args ...any) *Error {
	return &Error{Kind: KindUnresolved, Pos: pos, Message: fmt.Sprintf(format, args...)}
}

func typeErr(pos int, format string, args ...any) *Error {
	return &Error{Kind: KindTypeMismatch, Pos: pos, Message: fmt.Sprintf(format, args...)}
}
