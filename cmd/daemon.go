package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MrDeox/Autogs/internal/evolution/engine"
	"github.com/MrDeox/Autogs/internal/observability"
)

// newDaemonCmd creates the 'daemon' command: the autonomous loop that
// keeps running cycles, pausing adaptively between them, until it is
// interrupted.
func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Runs the autonomous evolution loop until interrupted.",
		Long: `The daemon command starts the continuous evolution loop. Cycles are
separated by an adaptive reflection pause, interrupts are honored at cycle
boundaries only, and the in-flight cycle always finishes before shutdown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Honor SIGINT/SIGTERM as a stop request. The loop itself only
			// checks for cancellation at the top of a cycle, so the cycle in
			// flight runs to completion.
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := observability.GetLogger()

			components, err := initializePipeline(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize pipeline: %w", err)
			}
			defer components.Shutdown()

			return runDaemon(ctx, logger, components.Engine)
		},
	}
}

// runDaemon drives the autonomous loop and reports the final state.
func runDaemon(ctx context.Context, logger *zap.Logger, eng *engine.Engine) error {
	if err := eng.RunLoop(ctx); err != nil {
		logger.Error("Autonomous loop halted by fatal error", zap.Error(err))
		return err
	}

	// Status after a clean stop; use a fresh context since ctx is done.
	status := eng.Status(context.Background())
	logger.Info("Daemon stopped",
		zap.Int("cycles_run", status.CyclesRun),
		zap.Int("revision_seq", status.CurrentRevisionSeq),
		zap.Int("episodes", status.EpisodeCount),
	)
	return nil
}
