package api

import (
	"net/http"

	"github.com/roach88/tripwire/internal/engine"
	"github.com/roach88/tripwire/internal/ir"
)

// BatchPutRequest is the body of POST /messages.
type BatchPutRequest struct {
	Messages []ir.Message `json:"messages"`
}

// BatchPutResponse lists the messages that could not be routed.
type BatchPutResponse struct {
	Entries []engine.ErrorEntry `json:"batchPutMessageErrorEntries"`
}

func (s *Server) batchPutMessage(w http.ResponseWriter, r *http.Request) {
	var req BatchPutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, badRequestf("messages must not be empty"))
		return
	}
	for i, m := range req.Messages {
		if m.InputName == "" {
			writeError(w, badRequestf("messages[%d]: inputName is required", i))
			return
		}
	}

	// Evaluation outlives the request; only routing happens here.
	rerrs, err := s.eng.BatchPutMessage(r.Context(), req.Messages)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BatchPutResponse{Entries: engine.ErrorEntries(rerrs)})
}
