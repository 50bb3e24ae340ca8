package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/tripwire/internal/engine"
)

func (s *Server) getLogging(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"loggingOptions": s.eng.Debug().Options()})
}

// LoggingRequest is the body of PUT /logging.
type LoggingRequest struct {
	Options engine.LoggingOptions `json:"loggingOptions"`
}

func (s *Server) putLogging(w http.ResponseWriter, r *http.Request) {
	var req LoggingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.eng.Debug().SetOptions(req.Options); err != nil {
		writeError(w, &badRequest{err: err})
		return
	}
	slog.Info("logging options changed",
		"enabled", req.Options.Enabled,
		"level", req.Options.Level,
		"filters", len(req.Options.DetectorFilters),
	)
	writeJSON(w, http.StatusOK, map[string]any{"loggingOptions": s.eng.Debug().Options()})
}

const writeWait = 10 * time.Second

// debugStream upgrades to a websocket and sends every debug entry that
// passes the logging gate as a JSON text message. Entries are dropped for
// a connection that cannot keep up.
func (s *Server) debugStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("debug stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	entries, cancel := s.eng.Debug().Subscribe(s.streamBuffer)
	defer cancel()

	slog.Debug("debug stream opened", "remote", r.RemoteAddr)
	defer slog.Debug("debug stream closed", "remote", r.RemoteAddr)

	// The read loop only notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(s.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case e, ok := <-entries:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				slog.Error("debug entry encode failed", "error", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
