package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MrDeox/Autogs/internal/evolution/engine"
	"github.com/MrDeox/Autogs/internal/evolution/models"
	"github.com/MrDeox/Autogs/internal/observability"
)

// newEvolveCmd creates the 'evolve' command: a bounded number of
// foreground evolution cycles against the organism.
func newEvolveCmd() *cobra.Command {
	var cycles int

	cmd := &cobra.Command{
		Use:   "evolve",
		Short: "Runs a bounded number of evolution cycles in the foreground.",
		Long: `The evolve command runs the deliberate-generate-screen-test-commit pipeline
a fixed number of times and reports each cycle's outcome. Rejected candidates
are discarded; the organism only advances on a committed revision.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			components, err := initializePipeline(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize pipeline: %w", err)
			}
			defer components.Shutdown()

			return runEvolve(ctx, logger, components.Engine, cycles)
		},
	}

	cmd.Flags().IntVarP(&cycles, "cycles", "n", 1, "Number of cycles to run.")
	return cmd
}

// runEvolve contains the core foreground loop. It is decoupled from
// cobra and accepts all dependencies as arguments.
func runEvolve(ctx context.Context, logger *zap.Logger, eng *engine.Engine, cycles int) error {
	if cycles < 1 {
		return fmt.Errorf("--cycles must be at least 1, got %d", cycles)
	}

	for i := 0; i < cycles; i++ {
		res, err := eng.RunCycle(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Warn("Evolution aborted by user signal")
				return fmt.Errorf("evolution aborted by user signal")
			}
			// A commit contract violation is unrecoverable.
			logger.Error("Evolution halted", zap.Error(err))
			return err
		}
		printCycle(res)
	}

	status := eng.Status(ctx)
	fmt.Printf("\nDone. Revision %d (%s), %d episodes recorded.\n",
		status.CurrentRevisionSeq, shortID(status.CurrentRevisionID), status.EpisodeCount)
	return nil
}

// printCycle renders one cycle result for the terminal.
func printCycle(res models.CycleResult) {
	line := fmt.Sprintf("cycle %d: %s", res.Number, res.Outcome)
	if res.Hypothesis != nil {
		line += fmt.Sprintf(" [%s %s]", res.Hypothesis.Kind, res.Hypothesis.Component)
	}
	if res.Outcome == models.CycleCommitted {
		line += fmt.Sprintf(" -> revision %s", shortID(res.RevisionID))
	}
	if res.Error != "" {
		line += fmt.Sprintf(" (%s)", res.Error)
	}
	fmt.Println(line)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
