package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/stratlab/internal/config"
	"github.com/ajitpratap0/stratlab/internal/runner"
	"github.com/ajitpratap0/stratlab/internal/strategy"
	"github.com/ajitpratap0/stratlab/pkg/ranking"
)

// ============================================================================
// RUN
// ============================================================================

type runOptions struct {
	workers    int
	trials     int
	inProcess  bool
	runID      string
	outputDir  string
	skipChecks bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a parameter search",
		Long: `Run a parameter search over the in-sample period.

With more than one worker the search runs in worker processes that coordinate
through the shared trial log. The ranked results are printed as JSON and, with
--output, written to results.csv and report.json.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSearch(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "Override optimization.workers")
	cmd.Flags().IntVarP(&opts.trials, "trials", "n", 0, "Override the trial budget (sets budget mode to trials)")
	cmd.Flags().BoolVar(&opts.inProcess, "in-process", false, "Run workers as goroutines instead of processes")
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "Run identifier (default: generated UUID)")
	cmd.Flags().StringVarP(&opts.outputDir, "output", "o", "", "Directory for results.csv and report.json")
	cmd.Flags().BoolVar(&opts.skipChecks, "skip-checks", false, "Skip data source and storage connectivity checks")

	return cmd
}

func runSearch(cmd *cobra.Command, opts *runOptions) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	if opts.workers > 0 {
		cfg.Optimization.Workers = opts.workers
	}
	if opts.trials > 0 {
		cfg.Optimization.Budget.Mode = config.BudgetTrials
		cfg.Optimization.Budget.Trials = opts.trials
	}
	if opts.inProcess {
		cfg.Optimization.InProcess = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	validatorOpts := config.DefaultValidatorOptions()
	validatorOpts.VerifyConnectivity = !opts.skipChecks
	if err := config.NewValidator(cfg, validatorOpts).ValidateStartup(ctx); err != nil {
		return err
	}

	r := runner.New(cfg, strategy.NewRegistry())
	r.ConfigPath = configPath
	r.RunID = opts.runID

	report, err := r.Run(ctx)
	if err != nil {
		return err
	}

	if opts.outputDir != "" {
		if err := writeOutputs(opts.outputDir, report); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report.Summary)
}

// writeOutputs writes the ranked results as CSV and the full report as JSON
func writeOutputs(dir string, report *runner.Report) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	csvPath := filepath.Join(dir, "results.csv")
	f, err := os.Create(csvPath) // #nosec G304 path from command line
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", csvPath, err)
	}
	if err := ranking.WriteCSV(f, report.Results, report.Schema, report.Objectives); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", csvPath, err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	reportPath := filepath.Join(dir, "report.json")
	if err := os.WriteFile(reportPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", reportPath, err)
	}

	log.Info().
		Str("csv", csvPath).
		Str("report", reportPath).
		Int("results", len(report.Results)).
		Msg("Results written")
	return nil
}
