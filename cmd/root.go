// Package cmd provides the CLI commands.
//
// Commands:
//   - ask: one-shot question answering on the terminal
//   - serve: HTTP API server with SSE streaming
//   - sessions: inspect stored session transcripts
//   - ingest: mirror corpus documents into the local vector store
//   - version: build information
//
// All commands handle SIGINT/SIGTERM via context cancellation.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/finchlabs/finch/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "finch",
	Short: "Finch - retrieval-grounded chat assistant",
	Long: `Finch answers questions grounded in a knowledge corpus: it plans the
retrieval strategy, searches with multi-stage fallback, synthesizes a cited
answer, and reviews it before responding.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the process logger. DEBUG in the environment lowers the
// level; serve mode switches to JSON output for log aggregation.
func newLogger(json bool) log.Logger {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: json})
}
