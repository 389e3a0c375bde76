package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/stratlab/internal/runner"
	"github.com/ajitpratap0/stratlab/internal/strategy"
	"github.com/ajitpratap0/stratlab/pkg/backtest"
)

// ============================================================================
// BACKTEST
// ============================================================================

func newBacktestCmd() *cobra.Command {
	var (
		paramsFile string
		set        []string
	)

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Simulate one parameter set over the IS, FT and OOS periods",
		Example: `  stratlab backtest --params best.json
  stratlab backtest --set ma_length=55 --set ma_type=EMA`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			params, err := readParams(paramsFile, set)
			if err != nil {
				return err
			}

			env, err := runner.Prepare(ctx, cfg, strategy.NewRegistry())
			if err != nil {
				return err
			}

			results, err := env.Backtest(params)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, r := range results {
				fmt.Fprintf(out, "\n%s %s\n", strings.ToUpper(r.Name), r.Period)
				fmt.Fprintln(out, backtest.GenerateReport(r.Metrics))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&paramsFile, "params", "p", "", "JSON file with a parameter object")
	cmd.Flags().StringArrayVar(&set, "set", nil, "Parameter override name=value, repeatable")

	return cmd
}

// readParams merges a JSON parameter file with name=value overrides. Override
// values are decoded as JSON when possible and kept as strings otherwise.
func readParams(path string, set []string) (backtest.ParameterSet, error) {
	params := make(backtest.ParameterSet)

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 path from command line
		if err != nil {
			return nil, fmt.Errorf("failed to read parameters: %w", err)
		}
		if err := json.Unmarshal(data, &params); err != nil {
			return nil, fmt.Errorf("failed to parse parameters: %w", err)
		}
	}

	for _, kv := range set {
		name, raw, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --set %q, expected name=value", kv)
		}
		var v interface{}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		params[name] = v
	}
	return params, nil
}
