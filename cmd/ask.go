package cmd

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/finchlabs/finch/internal/config"
	"github.com/finchlabs/finch/internal/core"
	"github.com/finchlabs/finch/internal/orchestrator"
)

var askFeatures []string

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask one question and print the grounded answer",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringSliceVar(&askFeatures, "enable", nil,
		"feature flags to force on for this request (e.g. --enable web_search)")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger(false)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return fmt.Errorf("question is empty")
	}

	overrides := map[string]bool{}
	for _, name := range askFeatures {
		overrides[name] = true
	}

	result, err := rt.orch.Run(ctx, orchestrator.Request{
		Messages:         []core.Message{core.UserMessage(question)},
		SessionID:        uuid.New(),
		FeatureOverrides: overrides,
	})
	if err != nil {
		return fmt.Errorf("answering: %w", err)
	}

	fmt.Println(result.Answer)

	if len(result.Citations) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for i, ref := range result.Citations {
			line := fmt.Sprintf("  [%d] %s", i+1, ref.Title)
			if ref.URL != "" {
				line += " <" + ref.URL + ">"
			}
			fmt.Println(line)
		}
	}
	return nil
}
