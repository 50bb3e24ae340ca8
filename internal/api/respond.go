package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/roach88/tripwire/internal/compiler"
	"github.com/roach88/tripwire/internal/engine"
	"github.com/roach88/tripwire/internal/registry"
)

// ErrorBody is the body of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Code    string                     `json:"code"`
	Message string                     `json:"message"`
	Details []compiler.ValidationError `json:"details,omitempty"`
}

// Error codes.
const (
	CodeBadRequest  = "BAD_REQUEST"
	CodeInvalid     = "INVALID_DEFINITION"
	CodeNotFound    = "NOT_FOUND"
	CodeConflict    = "CONFLICT"
	CodeUnavailable = "UNAVAILABLE"
	CodeNoHistory   = "HISTORY_NOT_STORED"
	CodeInternal    = "INTERNAL"
)

var errNoHistory = errors.New("detector history is not stored; run with a store")

// badRequest marks an error caused by the request itself.
type badRequest struct{ err error }

func (e *badRequest) Error() string { return e.err.Error() }
func (e *badRequest) Unwrap() error { return e.err }

func badRequestf(format string, args ...any) error {
	return &badRequest{err: fmt.Errorf(format, args...)}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response failed", "error", err)
	}
}

// writeError maps err to a status code and writes it.
func writeError(w http.ResponseWriter, err error) {
	status, detail := classify(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, ErrorBody{Error: detail})
}

func classify(err error) (int, ErrorDetail) {
	detail := ErrorDetail{Message: err.Error()}

	var de *compiler.DefinitionError
	var br *badRequest
	switch {
	case errors.As(err, &de):
		detail.Code = CodeInvalid
		detail.Details = de.Errors
		return http.StatusBadRequest, detail
	case errors.As(err, &br):
		detail.Code = CodeBadRequest
		return http.StatusBadRequest, detail
	case registry.IsNotFound(err), errors.Is(err, engine.ErrDetectorNotFound):
		detail.Code = CodeNotFound
		return http.StatusNotFound, detail
	case registry.IsConflict(err), registry.IsStatusError(err):
		detail.Code = CodeConflict
		return http.StatusConflict, detail
	case errors.Is(err, errNoHistory):
		detail.Code = CodeNoHistory
		return http.StatusNotImplemented, detail
	case errors.Is(err, engine.ErrClosed):
		detail.Code = CodeUnavailable
		return http.StatusServiceUnavailable, detail
	}
	detail.Code = CodeInternal
	return http.StatusInternalServerError, detail
}

// readBody reads a bounded request body.
func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, badRequestf("read body: %v", err)
	}
	if len(data) > MaxBodyBytes {
		return nil, badRequestf("body exceeds %d bytes", MaxBodyBytes)
	}
	return data, nil
}

// decodeJSON strictly decodes the request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	data, err := readBody(r)
	if err != nil {
		return err
	}
	if err := decodeStrict(data, dst); err != nil {
		return badRequestf("invalid request body: %v", err)
	}
	return nil
}

func decodeStrict(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
