// Package vectorstore is the local PostgreSQL + pgvector mirror of the
// knowledge corpus. It backs the last-resort retrieval path: when the managed
// search service is unreachable, pure vector similarity against the mirror
// still produces evidence.
package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/finchlabs/finch/internal/log"
	"github.com/finchlabs/finch/internal/retrieval"
)

// ErrHybridUnsupported is returned by HybridSearch: the mirror has no keyword
// index or reranker, only embeddings.
var ErrHybridUnsupported = errors.New("vectorstore: hybrid search requires the managed search service")

// queryTimeout bounds a single vector similarity query.
const queryTimeout = 10 * time.Second

// Querier is the database seam, defined here by the consumer. *pgxpool.Pool
// satisfies it directly.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Document is one mirrored corpus entry. The JSON shape matches the ingest
// command's input files.
type Document struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	URL        string            `json:"url"`
	PageNumber int               `json:"page_number"`
	Metadata   map[string]string `json:"metadata"`
}

// Store mirrors corpus documents with embeddings. Safe for concurrent use.
type Store struct {
	db       Querier
	embedder Embedder
	logger   log.Logger
}

// New creates a mirror store.
func New(db Querier, embedder Embedder, logger log.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("querier is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Store{db: db, embedder: embedder, logger: logger}, nil
}

// Add upserts one document into the mirror, embedding its content.
func (s *Store) Add(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		return errors.New("document ID is required")
	}

	vec, err := s.embedder.Embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("embedding document %q: %w", doc.ID, err)
	}
	embedding := pgvector.NewVector(vec)

	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata for %q: %w", doc.ID, err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO documents (id, title, content, url, page_number, metadata, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			url = EXCLUDED.url,
			page_number = EXCLUDED.page_number,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding,
			updated_at = now()`,
		doc.ID, doc.Title, doc.Content, doc.URL, doc.PageNumber, metadataJSON, embedding)
	if err != nil {
		return fmt.Errorf("upserting document %q: %w", doc.ID, err)
	}

	s.logger.Debug("mirrored document", "id", doc.ID, "content_length", len(doc.Content))
	return nil
}

// VectorSearch implements retrieval.Backend using cosine similarity over the
// mirror. Filters are ignored: the mirror is a degraded path and returning
// slightly broader evidence beats returning none.
func (s *Store) VectorSearch(ctx context.Context, q retrieval.Query) (*retrieval.SearchResult, error) {
	if q.Filter != "" {
		s.logger.Debug("mirror ignores search filter", "filter", q.Filter)
	}

	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	vec, err := s.embedder.Embed(queryCtx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	embedding := pgvector.NewVector(vec)

	top := q.Top
	if top <= 0 {
		top = 5
	}

	rows, err := s.db.Query(queryCtx, `
		SELECT id, title, content, url, page_number, metadata,
		       1 - (embedding <=> $1) AS similarity
		FROM documents
		ORDER BY embedding <=> $1
		LIMIT $2`,
		embedding, top)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("vector search timeout: %w", err)
		}
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var refs []retrieval.Reference
	for rows.Next() {
		var (
			ref          retrieval.Reference
			metadataJSON []byte
		)
		if err := rows.Scan(&ref.ID, &ref.Title, &ref.Content, &ref.URL,
			&ref.PageNumber, &metadataJSON, &ref.Score); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &ref.Metadata); err != nil {
				s.logger.Warn("unparsable document metadata", "id", ref.ID, "error", err)
			}
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search rows: %w", err)
	}

	s.logger.Debug("mirror vector search", "results", len(refs), "top", top)
	return &retrieval.SearchResult{References: refs}, nil
}

// HybridSearch implements retrieval.Backend. Always fails: callers must route
// hybrid queries to the managed service.
func (s *Store) HybridSearch(context.Context, retrieval.Query) (*retrieval.SearchResult, error) {
	return nil, ErrHybridUnsupported
}

// Delete removes one document from the mirror.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting document %q: %w", id, err)
	}
	return nil
}

// Count returns the number of mirrored documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	rows, err := s.db.Query(ctx, `SELECT count(*) FROM documents`)
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	defer rows.Close()

	var count int
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, fmt.Errorf("scanning count: %w", err)
		}
	}
	return count, rows.Err()
}
