// Package session persists conversation state: transcripts, per-session
// feature choices, and completed request traces. All writes happen off the
// request path; a slow database degrades observability, never responses.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/finchlabs/finch/internal/core"
	"github.com/finchlabs/finch/internal/log"
	"github.com/finchlabs/finch/internal/orchestrator"
)

// ErrNotFound is returned when a session has no stored state.
var ErrNotFound = errors.New("session: not found")

// Querier is the database seam, defined here by the consumer. *pgxpool.Pool
// satisfies it directly.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is the pgx-backed session store. Safe for concurrent use.
type Store struct {
	db     Querier
	logger log.Logger
}

// New creates a session store.
func New(db Querier, logger log.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("querier is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Store{db: db, logger: logger}, nil
}

// LoadFeatures returns the persisted feature choices for a session. A session
// with no saved choices returns an empty map, not an error.
func (s *Store) LoadFeatures(ctx context.Context, sessionID uuid.UUID) (map[string]bool, error) {
	rows, err := s.db.Query(ctx,
		`SELECT features FROM session_features WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading features for %s: %w", sessionID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return map[string]bool{}, rows.Err()
	}

	var raw []byte
	if err := rows.Scan(&raw); err != nil {
		return nil, fmt.Errorf("scanning features for %s: %w", sessionID, err)
	}

	features := map[string]bool{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &features); err != nil {
			return nil, fmt.Errorf("parsing features for %s: %w", sessionID, err)
		}
	}
	return features, nil
}

// SaveFeatures upserts the session's feature choices, merging over any
// previously saved flags.
func (s *Store) SaveFeatures(ctx context.Context, sessionID uuid.UUID, overrides map[string]bool) error {
	if len(overrides) == 0 {
		return nil
	}

	existing, err := s.LoadFeatures(ctx, sessionID)
	if err != nil {
		return err
	}
	for name, v := range overrides {
		existing[name] = v
	}

	raw, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("marshaling features for %s: %w", sessionID, err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO session_features (session_id, features, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (session_id) DO UPDATE SET
			features = EXCLUDED.features,
			updated_at = now()`,
		sessionID, raw)
	if err != nil {
		return fmt.Errorf("saving features for %s: %w", sessionID, err)
	}
	return nil
}

// SaveTranscript replaces the session's stored transcript with the full
// message list. Replacing is simpler and idempotent compared to appending,
// and retries cannot duplicate turns.
func (s *Store) SaveTranscript(ctx context.Context, sessionID uuid.UUID, messages []core.Message) error {
	raw, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshaling transcript for %s: %w", sessionID, err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO session_transcripts (session_id, messages, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (session_id) DO UPDATE SET
			messages = EXCLUDED.messages,
			updated_at = now()`,
		sessionID, raw)
	if err != nil {
		return fmt.Errorf("saving transcript for %s: %w", sessionID, err)
	}

	s.logger.Debug("saved transcript", "session_id", sessionID, "messages", len(messages))
	return nil
}

// LoadTranscript returns the stored transcript, or ErrNotFound.
func (s *Store) LoadTranscript(ctx context.Context, sessionID uuid.UUID) ([]core.Message, error) {
	rows, err := s.db.Query(ctx,
		`SELECT messages FROM session_transcripts WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading transcript for %s: %w", sessionID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	var raw []byte
	if err := rows.Scan(&raw); err != nil {
		return nil, fmt.Errorf("scanning transcript for %s: %w", sessionID, err)
	}

	var messages []core.Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, fmt.Errorf("parsing transcript for %s: %w", sessionID, err)
	}
	return messages, nil
}

// SaveTrace appends one completed request trace. Traces are append-only: one
// session accumulates a row per request.
func (s *Store) SaveTrace(ctx context.Context, trace *orchestrator.SessionTrace) error {
	raw, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("marshaling trace for %s: %w", trace.SessionID, err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO session_traces (session_id, failed, trace, created_at)
		VALUES ($1, $2, $3, now())`,
		trace.SessionID, trace.Failed, raw)
	if err != nil {
		return fmt.Errorf("saving trace for %s: %w", trace.SessionID, err)
	}
	return nil
}
