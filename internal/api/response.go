// Package api is the JSON HTTP surface: a synchronous chat endpoint and an
// SSE streaming endpoint, both driving the same session orchestrator so the
// two modes cannot diverge in behavior.
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/finchlabs/finch/internal/log"
)

// writeJSON writes a JSON response. Buffer-first so headers are only sent
// after successful encoding and an encode failure can still become a 500.
func writeJSON(w http.ResponseWriter, status int, data any, logger log.Logger) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		logger.Error("encoding JSON response failed", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		// Client disconnects are common and expected.
		logger.Debug("writing response body failed", "error", err)
	}
}

// errorBody is the uniform JSON error shape.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string, logger log.Logger) {
	writeJSON(w, status, errorBody{Error: code, Message: message}, logger)
}
