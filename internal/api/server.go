package api

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finchlabs/finch/internal/log"
)

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Runner     Runner        // Required
	Logger     log.Logger    // Required
	Pool       *pgxpool.Pool // Optional: nil disables pool stats in /ready
	TrustProxy bool          // Trust X-Real-IP/X-Forwarded-For (behind a reverse proxy)
	RateBurst  int           // Per-IP burst size (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Runner == nil {
		return nil, errors.New("runner is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}

	ch := &chatHandler{runner: cfg.Runner, logger: cfg.Logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", ch.send)
	mux.HandleFunc("POST /api/chat/stream", ch.stream)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack, outermost first:
	//   Recovery -> RequestID -> Logging -> RateLimit -> Routes
	// RequestID sits before Logging so request_id appears in log attributes.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, cfg.Logger)(handler)
	handler = loggingMiddleware(cfg.Logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(cfg.Logger)(handler)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
