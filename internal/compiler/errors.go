package compiler

import (
	"errors"
	"fmt"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Validation error codes (E200-E299)
const (
	ErrModelName          = "E200" // missing or malformed model name
	ErrMalformed          = "E201" // definition does not decode (unknown action, bad enum)
	ErrNoStates           = "E202" // at least one state required
	ErrDuplicateState     = "E203" // duplicate state name
	ErrInitialState       = "E204" // initialStateName missing or unknown
	ErrUnknownNextState   = "E205" // nextState does not resolve
	ErrExpressionSyntax   = "E206" // expression fails to parse
	ErrTemplateSyntax     = "E207" // ${} template fails to parse
	ErrTimerDuration      = "E208" // literal timer duration out of range
	ErrTimerSpec          = "E209" // setTimer needs exactly one of seconds/durationExpression
	ErrMissingField       = "E210" // required action field is empty
	ErrKeyPath            = "E211" // key is not a valid attribute path
	ErrPropertyValue      = "E212" // property value must set exactly one member
	ErrStateName          = "E213" // malformed state name
	ErrInputName          = "E220" // missing or malformed input name
	ErrInputAttributes    = "E221" // input has no attributes or a bad attribute path
	ErrDuplicateAttribute = "E222" // attribute declared twice
)

// Warning codes (W300-W399). Warnings never reject a definition.
const (
	WarnUnreachableState = "W301"
	WarnUndeclaredInput  = "W302"
	WarnUnknownAttribute = "W303"
	WarnTimerNeverSet    = "W304"
	WarnVariableNeverSet = "W305"
	WarnNoTransitions    = "W306"
)

// ValidationError represents a definition validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Warning is a non-fatal finding about a definition.
type Warning struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (w Warning) String() string {
	return fmt.Sprintf("[%s] %s: %s", w.Code, w.Field, w.Message)
}

// DefinitionError rejects a malformed model or input. It is returned by
// create and update calls and never reaches the interpreter.
type DefinitionError struct {
	Name   string
	Errors []ValidationError
}

func (e *DefinitionError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	return fmt.Sprintf("invalid definition %q: %d error(s): %s", e.Name, len(e.Errors), strings.Join(msgs, "; "))
}

// IsDefinitionError reports whether err is a *DefinitionError.
func IsDefinitionError(err error) bool {
	var de *DefinitionError
	return errors.As(err, &de)
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := cueerrors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
