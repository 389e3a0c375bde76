package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/stratlab/internal/runner"
	"github.com/ajitpratap0/stratlab/internal/strategy"
)

// ============================================================================
// WORKER
// ============================================================================

func newWorkerCmd() *cobra.Command {
	var (
		runID string
		index int
	)

	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run one optimization worker against an existing run (started by run)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// SIGINT stops the worker after its current trial
			ctx, stop := signalContext()
			defer stop()

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			stats, err := runner.RunWorker(ctx, cfg, strategy.NewRegistry(), runID, index)
			if err != nil {
				return fmt.Errorf("worker %d: %w", index, err)
			}

			log.Debug().
				Int("worker", index).
				Int("evaluated", stats.Evaluated).
				Str("stop_reason", string(stats.StopReason)).
				Msg("Worker exiting")
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "Run identifier")
	cmd.Flags().IntVar(&index, "worker-index", 0, "Worker index within the run")
	_ = cmd.MarkFlagRequired("run-id")

	return cmd
}
