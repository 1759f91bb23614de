package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/finchlabs/finch/internal/config"
	"github.com/finchlabs/finch/internal/llm"
	"github.com/finchlabs/finch/internal/vectorstore"
)

var ingestRemove string

var ingestCmd = &cobra.Command{
	Use:   "ingest [documents.json]",
	Short: "Mirror corpus documents into the local vector store",
	Long: `Ingest upserts documents into the PostgreSQL vector mirror backing the
last-resort retrieval path. The input is a JSON array of documents:

  [{"id": "doc-1", "title": "...", "content": "...", "url": "...", "page_number": 1}]

Each document is embedded on the way in, so ingestion needs the completion
credentials as well as the database.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestRemove, "remove", "",
		"delete one document from the mirror by ID instead of ingesting")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger(false)

	if ingestRemove == "" && len(args) == 0 {
		return fmt.Errorf("either a documents file or --remove is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	pool, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	tokens, err := completionTokenSource(cfg, logger)
	if err != nil {
		return err
	}
	embedder, err := llm.NewEmbeddingClient(llm.EmbeddingConfig{
		BaseURL:        cfg.Completion.BaseURL,
		APIKey:         cfg.Completion.APIKey,
		Model:          "text-embedding-3-small",
		AttemptTimeout: cfg.CompletionTimeout(),
		MaxRetries:     completionRetries,
		Tokens:         tokens,
	}, logger.With("component", "embeddings"))
	if err != nil {
		return fmt.Errorf("building embedding client: %w", err)
	}

	mirror, err := vectorstore.New(pool, embedder, logger.With("component", "vectorstore"))
	if err != nil {
		return fmt.Errorf("building vector mirror: %w", err)
	}

	if ingestRemove != "" {
		if err := mirror.Delete(ctx, ingestRemove); err != nil {
			return err
		}
		fmt.Printf("removed %s\n", ingestRemove)
	} else {
		docs, err := readDocuments(args[0])
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if err := mirror.Add(ctx, doc); err != nil {
				return fmt.Errorf("ingesting %q: %w", doc.ID, err)
			}
		}
		fmt.Printf("ingested %d documents\n", len(docs))
	}

	total, err := mirror.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting mirrored documents: %w", err)
	}
	fmt.Printf("mirror holds %d documents\n", total)
	return nil
}

// readDocuments parses an ingest input file: a JSON array of documents, each
// with a non-empty ID.
func readDocuments(path string) ([]vectorstore.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var docs []vectorstore.Document
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%s contains no documents", path)
	}
	for i, doc := range docs {
		if doc.ID == "" {
			return nil, fmt.Errorf("%s: document %d has no id", path, i)
		}
	}
	return docs, nil
}
