package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/tripwire/internal/compiler"
	"github.com/roach88/tripwire/internal/ir"
	"github.com/roach88/tripwire/internal/registry"
)

// ModelConfiguration describes one model version.
type ModelConfiguration struct {
	Name             string              `json:"detectorModelName"`
	Version          string              `json:"detectorModelVersion"`
	Status           ir.ModelStatus      `json:"status"`
	EvaluationMethod ir.EvaluationMethod `json:"evaluationMethod"`
	Key              string              `json:"key,omitempty"`
	Hash             string              `json:"hash"`
	CreatedAt        time.Time           `json:"creationTime"`
	UpdatedAt        time.Time           `json:"lastUpdateTime"`
}

// ModelDescription is a model version with its definition.
type ModelDescription struct {
	Model         ir.DetectorModel   `json:"detectorModel"`
	Configuration ModelConfiguration `json:"detectorModelConfiguration"`
	Warnings      []compiler.Warning `json:"warnings,omitempty"`
}

func configurationOf(v registry.Version) ModelConfiguration {
	return ModelConfiguration{
		Name:             v.ModelName,
		Version:          v.Version,
		Status:           v.Status,
		EvaluationMethod: v.EvaluationMethod(),
		Key:              v.Model().Key,
		Hash:             v.Hash(),
		CreatedAt:        v.CreatedAt,
		UpdatedAt:        v.UpdatedAt,
	}
}

func describe(v registry.Version) ModelDescription {
	return ModelDescription{
		Model:         v.Model(),
		Configuration: configurationOf(v),
		Warnings:      v.Program.Warnings,
	}
}

func (s *Server) listModels(w http.ResponseWriter, _ *http.Request) {
	versions := s.reg.ListModels()
	out := make([]ModelConfiguration, len(versions))
	for i, v := range versions {
		out[i] = configurationOf(v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"detectorModelSummaries": out})
}

func (s *Server) createModel(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	m, err := compiler.DecodeDetectorModel(data)
	if err != nil {
		writeError(w, err)
		return
	}
	v, err := s.reg.CreateModel(*m)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, describe(v))
}

func (s *Server) updateModel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	data, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	m, err := compiler.DecodeDetectorModel(data)
	if err != nil {
		writeError(w, err)
		return
	}
	if m.Name == "" {
		m.Name = name
	}
	if m.Name != name {
		writeError(w, badRequestf("body names model %q, path names %q", m.Name, name))
		return
	}
	v, err := s.reg.UpdateModel(*m)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, describe(v))
}

func (s *Server) describeModel(w http.ResponseWriter, r *http.Request) {
	v, err := s.reg.DescribeModel(chi.URLParam(r, "name"), r.URL.Query().Get("version"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, describe(v))
}

func (s *Server) listVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.reg.ListVersions(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]ModelConfiguration, len(versions))
	for i, v := range versions {
		out[i] = configurationOf(v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"detectorModelVersionSummaries": out})
}

// StatusRequest changes a model's status, e.g. to pause it.
type StatusRequest struct {
	Status ir.ModelStatus `json:"status"`
}

func (s *Server) setModelStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	v, err := s.reg.SetModelStatus(chi.URLParam(r, "name"), req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, configurationOf(v))
}

func (s *Server) deleteModel(w http.ResponseWriter, r *http.Request) {
	if err := s.reg.DeleteModel(chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
