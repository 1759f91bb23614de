package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/finchlabs/finch/internal/log"
)

func newTestEmbedder(t *testing.T, handler http.HandlerFunc) *EmbeddingClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewEmbeddingClient(EmbeddingConfig{
		BaseURL:        srv.URL,
		APIKey:         "sk-test",
		Model:          "text-embedding-3-small",
		AttemptTimeout: 2 * time.Second,
	}, log.NewNop())
	if err != nil {
		t.Fatalf("NewEmbeddingClient() error = %v", err)
	}
	return c
}

func TestEmbed(t *testing.T) {
	var gotBody map[string]any
	c := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	})

	vec, err := c.Embed(context.Background(), "return policy text")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	if gotBody["model"] != "text-embedding-3-small" || gotBody["input"] != "return policy text" {
		t.Errorf("request body = %v, want model and input", gotBody)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Errorf("Embed() = %v, want the parsed vector", vec)
	}
}

func TestEmbedEmptyResponse(t *testing.T) {
	c := newTestEmbedder(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[]}`))
	})

	if _, err := c.Embed(context.Background(), "text"); err == nil {
		t.Error("Embed() error = nil for an empty response, want error")
	}
}

func TestEmbedErrorStatus(t *testing.T) {
	c := newTestEmbedder(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"input too long"}}`))
	})

	_, err := c.Embed(context.Background(), "text")
	if err == nil {
		t.Fatal("Embed() error = nil, want the upstream error")
	}
}
