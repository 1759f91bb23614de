package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finchlabs/finch/db"
	"github.com/finchlabs/finch/internal/auth"
	"github.com/finchlabs/finch/internal/config"
	"github.com/finchlabs/finch/internal/critic"
	"github.com/finchlabs/finch/internal/llm"
	"github.com/finchlabs/finch/internal/log"
	"github.com/finchlabs/finch/internal/orchestrator"
	"github.com/finchlabs/finch/internal/planner"
	"github.com/finchlabs/finch/internal/retrieval"
	"github.com/finchlabs/finch/internal/searchapi"
	"github.com/finchlabs/finch/internal/session"
	"github.com/finchlabs/finch/internal/synth"
	"github.com/finchlabs/finch/internal/vectorstore"
	"github.com/finchlabs/finch/internal/websearch"
)

// completionRetries is the per-call retry budget for completion and search
// requests; the fallback ladder handles anything beyond that.
const completionRetries = 2

// runtime holds the wired application graph.
type runtime struct {
	orch *orchestrator.Orchestrator
	pool *pgxpool.Pool
}

// close releases runtime resources.
func (r *runtime) close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// completionTokenSource picks the completion credential. A static API key
// wins; without one, bearer tokens come from the single-flight token cache
// over the client-credentials exchange.
func completionTokenSource(cfg *config.Config, logger log.Logger) (llm.TokenSource, error) {
	if cfg.Completion.APIKey != "" {
		return nil, nil
	}
	refresh, err := auth.ClientCredentials(auth.ClientCredentialsConfig{
		TokenURL:     cfg.Completion.TokenURL,
		ClientID:     cfg.Completion.ClientID,
		ClientSecret: cfg.Completion.ClientSecret,
	}, logger.With("component", "auth"))
	if err != nil {
		return nil, fmt.Errorf("building token refresh: %w", err)
	}
	cache, err := auth.NewTokenCache(refresh, logger.With("component", "auth"))
	if err != nil {
		return nil, fmt.Errorf("building token cache: %w", err)
	}
	return cache, nil
}

// openDatabase connects the PostgreSQL pool and applies migrations.
func openDatabase(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.PostgresUser, cfg.PostgresPassword,
		cfg.PostgresHost, cfg.PostgresPort,
		cfg.PostgresDBName, cfg.PostgresSSLMode)
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	if err := db.Migrate(dsn, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("applying migrations: %w", err)
	}
	return pool, nil
}

// buildRuntime constructs the full dependency graph from configuration.
// PostgreSQL is optional at runtime: without it, transcripts are not persisted
// and the vector safety net degrades to the managed service.
func buildRuntime(ctx context.Context, cfg *config.Config, logger log.Logger) (*runtime, error) {
	tokens, err := completionTokenSource(cfg, logger)
	if err != nil {
		return nil, err
	}

	completion, err := llm.NewRestClient(llm.Config{
		BaseURL:        cfg.Completion.BaseURL,
		APIKey:         cfg.Completion.APIKey,
		Model:          cfg.Completion.Model,
		StoreResponses: cfg.Completion.StoreResponses,
		AttemptTimeout: cfg.CompletionTimeout(),
		MaxRetries:     completionRetries,
		Tokens:         tokens,
	}, logger.With("component", "llm"))
	if err != nil {
		return nil, fmt.Errorf("building completion client: %w", err)
	}

	search, err := searchapi.New(searchapi.Config{
		Endpoint:      cfg.Search.Endpoint,
		APIKey:        cfg.Search.APIKey,
		Index:         cfg.Search.Index,
		Agent:         cfg.Search.Agent,
		SearchTimeout: cfg.SearchTimeout(),
		AgentTimeout:  cfg.AgentTimeout(),
		MaxRetries:    completionRetries,
	}, logger.With("component", "searchapi"))
	if err != nil {
		return nil, fmt.Errorf("building search client: %w", err)
	}

	var web websearch.Searcher
	if cfg.WebSearch.BaseURL != "" {
		webClient, err := websearch.New(websearch.Config{
			BaseURL: cfg.WebSearch.BaseURL,
		}, logger.With("component", "websearch"))
		if err != nil {
			return nil, fmt.Errorf("building web search client: %w", err)
		}
		web = webClient
	}

	plan := planner.New(completion, planner.Config{
		UseLLM:                 cfg.Planner.UseLLM,
		DualRetrievalThreshold: cfg.Planner.DualRetrievalThreshold,
	}, logger.With("component", "planner"))

	synthesizer, err := synth.New(completion, cfg.Completion.Temperature,
		cfg.Completion.MaxTokens, logger.With("component", "synth"))
	if err != nil {
		return nil, fmt.Errorf("building synthesizer: %w", err)
	}

	reviewer, err := critic.New(completion, critic.Config{
		AcceptThreshold: cfg.Critic.AcceptThreshold,
	}, logger.With("component", "critic"))
	if err != nil {
		return nil, fmt.Errorf("building critic: %w", err)
	}

	// PostgreSQL: session persistence and the local vector mirror.
	var (
		pool      *pgxpool.Pool
		store     orchestrator.Store
		safetyNet retrieval.Backend
	)
	pool, err = openDatabase(ctx, cfg, logger)
	if err != nil {
		// The service can still answer from the managed backends.
		logger.Warn("database unavailable, persistence and vector mirror disabled", "error", err)
		pool = nil
	} else {
		sessions, err := session.New(pool, logger.With("component", "session"))
		if err != nil {
			return nil, fmt.Errorf("building session store: %w", err)
		}
		store = sessions

		embedder, err := llm.NewEmbeddingClient(llm.EmbeddingConfig{
			BaseURL:        cfg.Completion.BaseURL,
			APIKey:         cfg.Completion.APIKey,
			Model:          "text-embedding-3-small",
			AttemptTimeout: cfg.CompletionTimeout(),
			MaxRetries:     completionRetries,
			Tokens:         tokens,
		}, logger.With("component", "embeddings"))
		if err != nil {
			return nil, fmt.Errorf("building embedding client: %w", err)
		}
		mirror, err := vectorstore.New(pool, embedder, logger.With("component", "vectorstore"))
		if err != nil {
			return nil, fmt.Errorf("building vector mirror: %w", err)
		}
		safetyNet = mirror
	}

	var agent retrieval.AgentBackend
	if cfg.Search.Agent != "" {
		agent = search
	}

	orch, err := orchestrator.New(
		plan, synthesizer, reviewer,
		search, agent, search, safetyNet, web, store,
		orchestrator.Config{
			MinDocs:           cfg.Search.MinDocs,
			Top:               cfg.Search.TopK,
			RerankerThreshold: cfg.Search.RerankerThreshold,
			FallbackThreshold: cfg.Search.FallbackThreshold,
			CoverageFloor:     cfg.Search.CoverageFloor,
			AgentMaxTurns:     cfg.Search.AgentMaxTurns,
			FederatedIndexes:  cfg.Search.FederatedIndexes,
			CriticMaxRetries:  cfg.Critic.MaxRetries,
			StoreResponses:    cfg.Completion.StoreResponses,
			MaxHistoryTokens:  cfg.MaxHistoryTokens,
			WebSearchCount:    cfg.WebSearch.Count,
			FeatureDefaults:   cfg.Features,
		},
		logger.With("component", "orchestrator"),
	)
	if err != nil {
		return nil, fmt.Errorf("building orchestrator: %w", err)
	}

	return &runtime{orch: orch, pool: pool}, nil
}
