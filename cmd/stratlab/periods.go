package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/stratlab/internal/config"
	"github.com/ajitpratap0/stratlab/internal/db"
	"github.com/ajitpratap0/stratlab/internal/strategy"
	"github.com/ajitpratap0/stratlab/pkg/backtest"
)

// ============================================================================
// PERIODS
// ============================================================================

func newPeriodsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "periods",
		Short: "Print the IS, FT and OOS periods of the configured date range",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(context.Background())
			if err != nil {
				return err
			}

			start, err := cfg.Data.StartTime()
			if err != nil {
				return err
			}
			end, err := cfg.Data.EndTime()
			if err != nil {
				return err
			}
			split, err := backtest.SplitPeriods(start, end, cfg.Data.OOSDays, cfg.Data.FTDays)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PERIOD\tSTART\tEND\tDAYS")
			rows := []struct {
				name   string
				period backtest.Period
				ok     bool
			}{
				{"IS", split.IS, true},
				{"FT", split.FT, split.HasFT()},
				{"OOS", split.OOS, split.HasOOS()},
			}
			for _, r := range rows {
				if !r.ok {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", r.name,
					r.period.Start.Format(config.DateLayout), r.period.End.Format(config.DateLayout), r.period.Days())
			}
			return w.Flush()
		},
	}
}

// ============================================================================
// SCHEMA
// ============================================================================

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect strategy parameter schemas",
	}

	var (
		strategyID string
		overrides  string
		format     string
		output     string
	)

	export := &cobra.Command{
		Use:   "export",
		Short: "Export a strategy's parameter schema as an editable override document",
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry := strategy.NewRegistry()
			schema, err := registry.Schema(strategyID, overrides)
			if err != nil {
				return err
			}

			doc := strategy.NewDocument(strategyID, schema)
			if output != "" {
				return strategy.ExportToFile(doc, output)
			}

			data, err := strategy.Export(doc, strategy.ExportFormat(format))
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	export.Flags().StringVarP(&strategyID, "strategy", "s", backtest.TrailMAStrategyID, "Strategy identifier")
	export.Flags().StringVar(&overrides, "from", "", "Apply this override document before exporting")
	export.Flags().StringVarP(&format, "format", "f", string(strategy.FormatYAML), "Output format: yaml or json")
	export.Flags().StringVarP(&output, "output", "o", "", "Write to file; the format follows the extension")

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered strategies",
		Run: func(cmd *cobra.Command, _ []string) {
			for _, id := range strategy.NewRegistry().IDs() {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
		},
	}

	cmd.AddCommand(export, list)
	return cmd
}

// ============================================================================
// MIGRATE
// ============================================================================

func newMigrateCmd() *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema of the trial log and candlestick tables",
	}
	cmd.PersistentFlags().StringVar(&databaseURL, "db", "", "Database URL (default storage.database_url, then data.database_url)")

	openMigrator := func() (*db.Migrator, func() error, error) {
		url := databaseURL
		if url == "" {
			cfg, err := loadConfig(context.Background())
			if err != nil {
				return nil, nil, err
			}
			url = cfg.Storage.DatabaseURL
			if url == "" {
				url = cfg.Data.DatabaseURL
			}
		}
		if url == "" {
			return nil, nil, fmt.Errorf("no database URL configured")
		}
		return db.OpenMigrator(url)
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			migrator, closeFn, err := openMigrator()
			if err != nil {
				return err
			}
			defer closeFn()
			return migrator.Migrate(cmd.Context())
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			migrator, closeFn, err := openMigrator()
			if err != nil {
				return err
			}
			defer closeFn()
			return migrator.Status(cmd.Context(), os.Stdout)
		},
	}

	cmd.AddCommand(up, status)
	return cmd
}
