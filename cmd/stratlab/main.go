// StratLab CLI
// Searches strategy parameters over historical bars with one or more workers
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/stratlab/internal/config"
)

// ============================================================================
// ROOT COMMAND
// ============================================================================

var (
	configPath string
	logLevel   string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "stratlab",
		Short:         "Strategy parameter search and simulation engine",
		Version:       config.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file (default ./configs/config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override app.log_level")

	root.AddCommand(
		newRunCmd(),
		newWorkerCmd(),
		newBacktestCmd(),
		newPeriodsCmd(),
		newSchemaCmd(),
		newMigrateCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// ============================================================================
// SHARED SETUP
// ============================================================================

// loadConfig loads and validates the configuration, fills secrets from Vault when
// VAULT_ENABLED is set and initializes the global logger
func loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if logLevel != "" {
		cfg.App.LogLevel = logLevel
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	if err := config.LoadSecretsFromVault(ctx, cfg, config.GetVaultConfigFromEnv()); err != nil {
		return nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
