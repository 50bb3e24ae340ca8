package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/tripwire/internal/compiler"
	"github.com/roach88/tripwire/internal/ir"
	"github.com/roach88/tripwire/internal/registry"
)

// InputDescription is a stored input.
type InputDescription struct {
	Input     ir.Input       `json:"input"`
	Status    ir.InputStatus `json:"status"`
	CreatedAt time.Time      `json:"creationTime"`
	UpdatedAt time.Time      `json:"lastUpdateTime"`
}

func inputDescription(rec registry.InputRecord) InputDescription {
	return InputDescription{Input: rec.Input, Status: rec.Status, CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt}
}

func (s *Server) listInputs(w http.ResponseWriter, _ *http.Request) {
	recs := s.reg.ListInputs()
	out := make([]InputDescription, len(recs))
	for i, rec := range recs {
		out[i] = inputDescription(rec)
	}
	writeJSON(w, http.StatusOK, map[string]any{"inputSummaries": out})
}

func (s *Server) createInput(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	in, err := compiler.DecodeInput(data)
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.reg.CreateInput(*in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inputDescription(rec))
}

func (s *Server) updateInput(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	data, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	in, err := compiler.DecodeInput(data)
	if err != nil {
		writeError(w, err)
		return
	}
	if in.Name == "" {
		in.Name = name
	}
	if in.Name != name {
		writeError(w, badRequestf("body names input %q, path names %q", in.Name, name))
		return
	}
	rec, err := s.reg.UpdateInput(*in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inputDescription(rec))
}

func (s *Server) describeInput(w http.ResponseWriter, r *http.Request) {
	rec, err := s.reg.DescribeInput(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inputDescription(rec))
}

func (s *Server) deleteInput(w http.ResponseWriter, r *http.Request) {
	if err := s.reg.DeleteInput(chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
