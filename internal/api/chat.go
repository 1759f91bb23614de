package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/finchlabs/finch/internal/core"
	"github.com/finchlabs/finch/internal/log"
	"github.com/finchlabs/finch/internal/orchestrator"
)

// maxRequestBytes caps chat request bodies.
const maxRequestBytes = 1 << 20

// Runner executes one chat session. Implemented by orchestrator.Orchestrator.
type Runner interface {
	Run(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// chatRequest is the wire shape of both chat endpoints.
type chatRequest struct {
	SessionID string          `json:"session_id"`
	Messages  []core.Message  `json:"messages"`
	Features  map[string]bool `json:"features,omitempty"`
}

// chatHandler serves the synchronous and streaming chat endpoints.
type chatHandler struct {
	runner Runner
	logger log.Logger
}

// parse validates the request body and resolves the session ID. A missing
// session ID gets a fresh one: sessions are optional, not mandatory.
func (h *chatHandler) parse(w http.ResponseWriter, r *http.Request) (orchestrator.Request, error) {
	var body chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return orchestrator.Request{}, fmt.Errorf("invalid request body: %w", err)
	}
	if len(body.Messages) == 0 {
		return orchestrator.Request{}, fmt.Errorf("messages are required")
	}
	if _, ok := core.LastUser(body.Messages); !ok {
		return orchestrator.Request{}, fmt.Errorf("the final message must be a user turn")
	}

	sessionID := uuid.New()
	if body.SessionID != "" {
		parsed, err := uuid.Parse(body.SessionID)
		if err != nil {
			return orchestrator.Request{}, fmt.Errorf("invalid session_id: %w", err)
		}
		sessionID = parsed
	}

	return orchestrator.Request{
		Messages:         body.Messages,
		SessionID:        sessionID,
		FeatureOverrides: body.Features,
	}, nil
}

// send handles POST /api/chat: run the full session, return the final result.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	req, err := h.parse(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
		return
	}

	result, err := h.runner.Run(r.Context(), req)
	if err != nil {
		h.logger.Error("chat session failed",
			"session_id", req.SessionID,
			"request_id", requestIDFromContext(r.Context()),
			"error", err)
		writeError(w, http.StatusBadGateway, "session_failed",
			"the assistant could not complete the request", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		SessionID string `json:"session_id"`
		*orchestrator.Result
	}{SessionID: req.SessionID.String(), Result: result}, h.logger)
}

// stream handles POST /api/chat/stream: the same session, with every
// orchestrator event forwarded as an SSE event as it happens.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	req, err := h.parse(w, r)
	if err != nil {
		_ = writeEvent(w, flusher, string(orchestrator.EventError),
			orchestrator.ErrorPayload{Message: err.Error()})
		return
	}

	sink := &sseSink{w: w, flusher: flusher, ctx: r.Context(), logger: h.logger}
	req.Sink = sink

	h.logger.Debug("SSE stream started", "session_id", req.SessionID)

	if _, err := h.runner.Run(r.Context(), req); err != nil {
		// The orchestrator already emitted an error event; nothing more to
		// send, but log with the request ID for correlation.
		h.logger.Error("streamed session failed",
			"session_id", req.SessionID,
			"request_id", requestIDFromContext(r.Context()),
			"error", err)
		return
	}

	h.logger.Debug("SSE stream completed", "session_id", req.SessionID)
}

// sseSink forwards orchestrator events to the SSE connection. Emit is called
// from the handler goroutine, so no locking is needed; after the first write
// failure (client gone) remaining events are dropped.
type sseSink struct {
	w       io.Writer
	flusher http.Flusher
	ctx     context.Context
	logger  log.Logger
	dead    bool
}

// Emit implements orchestrator.Sink.
func (s *sseSink) Emit(event orchestrator.EventType, payload any) {
	if s.dead {
		return
	}
	select {
	case <-s.ctx.Done():
		s.dead = true
		return
	default:
	}
	if err := writeEvent(s.w, s.flusher, string(event), payload); err != nil {
		s.logger.Debug("SSE write failed, dropping remaining events", "error", err)
		s.dead = true
	}
}

// writeEvent writes one SSE event: "event: <type>\ndata: <json>\n\n".
func writeEvent(w io.Writer, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	flusher.Flush()
	return nil
}
