package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/tripwire/internal/engine"
	"github.com/roach88/tripwire/internal/ir"
)

func (s *Server) listDetectors(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.eng.ListDetectors(chi.URLParam(r, "model"), r.URL.Query().Get("stateName"))
	if err != nil {
		writeError(w, err)
		return
	}
	if snaps == nil {
		snaps = []ir.DetectorSnapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"detectorSummaries": snaps})
}

// describeDetector takes the key as the keyValue query parameter; keyless
// models omit it.
func (s *Server) describeDetector(w http.ResponseWriter, r *http.Request) {
	snap, err := s.eng.DescribeDetector(chi.URLParam(r, "model"), r.URL.Query().Get("keyValue"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"detector": snap})
}

// BatchUpdateRequest is the body of POST /detectors.
type BatchUpdateRequest struct {
	Detectors []engine.DetectorUpdate `json:"detectors"`
}

// UpdateErrorEntry reports one failed update.
type UpdateErrorEntry struct {
	MessageID    string `json:"messageId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func (s *Server) batchUpdateDetector(w http.ResponseWriter, r *http.Request) {
	var req BatchUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Detectors) == 0 {
		writeError(w, badRequestf("detectors must not be empty"))
		return
	}

	errs := s.eng.BatchUpdateDetector(r.Context(), req.Detectors)
	entries := []UpdateErrorEntry{}
	for i, err := range errs {
		if err == nil {
			continue
		}
		_, detail := classify(err)
		entries = append(entries, UpdateErrorEntry{
			MessageID:    req.Detectors[i].MessageID,
			ErrorCode:    detail.Code,
			ErrorMessage: err.Error(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"batchUpdateDetectorErrorEntries": entries})
}

func (s *Server) detectorHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, errNoHistory)
		return
	}
	cycles, err := s.history.ReadCycles(r.Context(), chi.URLParam(r, "model"), r.URL.Query().Get("keyValue"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycles": cycles})
}

func (s *Server) detectorActions(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, errNoHistory)
		return
	}
	entries, err := s.history.ReadActionLog(r.Context(), chi.URLParam(r, "model"), r.URL.Query().Get("keyValue"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": entries})
}
