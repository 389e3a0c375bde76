package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ValidatorOptions contains options for startup validation
type ValidatorOptions struct {
	VerifyConnectivity bool // Check database/Redis connectivity
	Timeout            time.Duration
}

// DefaultValidatorOptions returns default validator options for startup
func DefaultValidatorOptions() ValidatorOptions {
	return ValidatorOptions{
		VerifyConnectivity: true,
		Timeout:            5 * time.Second,
	}
}

// Validator checks that the resources a run depends on are reachable before any
// worker is started
type Validator struct {
	config  *Config
	options ValidatorOptions
}

// NewValidator creates a new startup validator
func NewValidator(config *Config, options ValidatorOptions) *Validator {
	return &Validator{
		config:  config,
		options: options,
	}
}

// ValidateStartup checks the data source and the trial log backend
func (v *Validator) ValidateStartup(ctx context.Context) error {
	log.Debug().Msg("Validating run resources...")

	if err := v.checkDataSource(ctx); err != nil {
		return fmt.Errorf("data source check failed: %w", err)
	}

	if err := v.checkStorage(ctx); err != nil {
		return fmt.Errorf("storage check failed: %w", err)
	}

	log.Debug().Msg("Run resources validated")
	return nil
}

func (v *Validator) checkDataSource(ctx context.Context) error {
	switch v.config.Data.Source {
	case "csv":
		if _, err := os.Stat(v.config.Data.CSVPath); err != nil {
			return fmt.Errorf("failed to stat bar file: %w", err)
		}
	case "postgres":
		if v.options.VerifyConnectivity {
			return v.checkDatabaseConnectivity(ctx, v.config.Data.DatabaseURL)
		}
	}
	return nil
}

func (v *Validator) checkStorage(ctx context.Context) error {
	switch v.config.Storage.Backend {
	case BackendFile:
		if err := os.MkdirAll(v.config.Storage.Dir, 0o755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
		probe, err := os.CreateTemp(v.config.Storage.Dir, ".probe-*")
		if err != nil {
			return fmt.Errorf("storage directory %s is not writable: %w", filepath.Clean(v.config.Storage.Dir), err)
		}
		probe.Close()
		return os.Remove(probe.Name())
	case BackendRedis:
		if v.options.VerifyConnectivity {
			return v.checkRedisConnectivity(ctx)
		}
	case BackendPostgres:
		if v.options.VerifyConnectivity {
			return v.checkDatabaseConnectivity(ctx, v.config.Storage.DatabaseURL)
		}
	}
	return nil
}

// checkDatabaseConnectivity tests a database connection with timeout
func (v *Validator) checkDatabaseConnectivity(ctx context.Context, connString string) error {
	connCtx, cancel := context.WithTimeout(ctx, v.options.Timeout)
	defer cancel()

	pool, err := pgxpool.New(connCtx, connString)
	if err != nil {
		return fmt.Errorf("failed to create database connection pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(connCtx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	var dbName string
	if err := pool.QueryRow(connCtx, "SELECT current_database()").Scan(&dbName); err != nil {
		return fmt.Errorf("failed to verify database: %w", err)
	}

	log.Info().Str("database", dbName).Msg("Database connectivity check passed")
	return nil
}

// checkRedisConnectivity tests the Redis connection with timeout
func (v *Validator) checkRedisConnectivity(ctx context.Context) error {
	connCtx, cancel := context.WithTimeout(ctx, v.options.Timeout)
	defer cancel()

	client := redis.NewClient(&redis.Options{
		Addr:     v.config.Storage.RedisAddr,
		Password: v.config.Storage.RedisPassword,
		DB:       v.config.Storage.RedisDB,
	})
	defer client.Close()

	if err := client.Ping(connCtx).Err(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}

	log.Info().
		Str("addr", v.config.Storage.RedisAddr).
		Int("db", v.config.Storage.RedisDB).
		Msg("Redis connectivity check passed")
	return nil
}
