package engine

import (
	"errors"
	"fmt"
)

// ErrDetectorNotFound is returned when no detector exists for a model and key.
var ErrDetectorNotFound = errors.New("detector not found")

// ErrClosed is returned for work submitted after Close.
var ErrClosed = errors.New("engine closed")

// RoutingError reports a message that could not be delivered to a
// detector. The message is dropped for that model; no detector is created
// or mutated.
type RoutingError struct {
	// Code identifies the error category.
	Code RoutingErrorCode

	// MessageID identifies the dropped message.
	MessageID string

	// InputName is the input the message was sent to.
	InputName string

	// Model is set when the failure is specific to one model.
	Model string

	// Message is a human-readable description.
	Message string
}

// RoutingErrorCode categorizes routing errors.
type RoutingErrorCode string

const (
	// ErrCodeInputNotFound indicates the input is neither declared nor read
	// by any model.
	ErrCodeInputNotFound RoutingErrorCode = "INPUT_NOT_FOUND"

	// ErrCodeNoActiveModel indicates no ACTIVE model reads the input.
	ErrCodeNoActiveModel RoutingErrorCode = "NO_ACTIVE_MODEL"

	// ErrCodeKeyNotFound indicates the model's key could not be extracted
	// from the payload.
	ErrCodeKeyNotFound RoutingErrorCode = "KEY_NOT_FOUND"

	// ErrCodeLoopLimit indicates a loop-back message nested deeper than
	// the engine's maximum loop depth.
	ErrCodeLoopLimit RoutingErrorCode = "LOOP_LIMIT_EXCEEDED"
)

// Error implements the error interface.
func (e *RoutingError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("%s: %s (input=%s, model=%s)", e.Code, e.Message, e.InputName, e.Model)
	}
	return fmt.Sprintf("%s: %s (input=%s)", e.Code, e.Message, e.InputName)
}

// IsRoutingError reports whether err is a *RoutingError with one of the
// given codes, or any code when none are given.
func IsRoutingError(err error, codes ...RoutingErrorCode) bool {
	var re *RoutingError
	if !errors.As(err, &re) {
		return false
	}
	if len(codes) == 0 {
		return true
	}
	for _, c := range codes {
		if re.Code == c {
			return true
		}
	}
	return false
}

// TimerError reports a timer action that could not be applied.
type TimerError struct {
	Timer   string
	Message string
}

func (e *TimerError) Error() string {
	return fmt.Sprintf("timer %q: %s", e.Timer, e.Message)
}

// ErrorEntry is the wire form of a RoutingError in batch responses.
type ErrorEntry struct {
	MessageID    string           `json:"messageId"`
	ErrorCode    RoutingErrorCode `json:"errorCode"`
	ErrorMessage string           `json:"errorMessage"`
}

// ErrorEntries converts routing errors to their wire form. Returns an
// empty slice (not nil) when there are none.
func ErrorEntries(rerrs []*RoutingError) []ErrorEntry {
	out := make([]ErrorEntry, 0, len(rerrs))
	for _, re := range rerrs {
		out = append(out, ErrorEntry{MessageID: re.MessageID, ErrorCode: re.Code, ErrorMessage: re.Error()})
	}
	return out
}
