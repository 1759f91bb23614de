package cmd

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/finchlabs/finch/internal/config"
	"github.com/finchlabs/finch/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions [session-id]",
	Short: "Show the stored transcript for a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger(false)

	sessionID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid session id %q: %w", args[0], err)
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

	store, err := session.New(pool, logger.With("component", "session"))
	if err != nil {
		return fmt.Errorf("building session store: %w", err)
	}

	messages, err := store.LoadTranscript(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		fmt.Printf("no transcript stored for session %s\n", sessionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading transcript: %w", err)
	}

	for _, msg := range messages {
		fmt.Printf("[%s] %s\n", msg.Role, msg.Content)
	}
	return nil
}
