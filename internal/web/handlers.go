package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"fibscan/internal/engine"
	"fibscan/pkg/model"
)

// ErrorResponse is the JSON body returned for failed requests.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleAnalyze runs a batch analysis for the posted request. Validation
// problems come back as 400 with a per-field breakdown; the happy path
// returns the sanitized batch result.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed, use POST"})
		return
	}

	var req model.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}

	start := time.Now()
	result, err := s.engine.RunBatch(r.Context(), req, nil)
	if err != nil {
		var verr *engine.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request", Fields: verr.Fields})
			return
		}
		s.log.WithError(err).Error("batch failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	s.log.WithField("duration", time.Since(start).Round(time.Millisecond)).
		WithField("signals", len(result.Signals)).
		Info("analyze request served")
	writeJSON(w, http.StatusOK, result)
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed, use GET"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
