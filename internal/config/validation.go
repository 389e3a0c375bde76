package config

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/stratlab/pkg/backtest"
	"github.com/ajitpratap0/stratlab/pkg/sampler"
	"github.com/ajitpratap0/stratlab/pkg/study"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	sb.WriteString("\nPlease fix the above errors and try again.\n")
	return sb.String()
}

// Has reports whether a validation error was recorded for field
func (ve ValidationErrors) Has(field string) bool {
	for _, err := range ve {
		if err.Field == field {
			return true
		}
	}
	return false
}

// Validate performs configuration validation. Every problem is collected so they
// are reported together before any worker starts.
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateApp()...)
	errors = append(errors, c.validateData()...)
	errors = append(errors, c.validateSimulation()...)
	errors = append(errors, c.validateOptimization()...)
	errors = append(errors, c.validateStorage()...)
	errors = append(errors, c.validateMonitoring()...)
	errors = append(errors, c.validateProductionSecrets()...)

	if len(errors) > 0 {
		return errors
	}

	return nil
}

func oneOf(value string, valid []string) bool {
	for _, v := range valid {
		if value == v {
			return true
		}
	}
	return false
}

func (c *Config) validateApp() ValidationErrors {
	var errors ValidationErrors

	if c.App.Name == "" {
		errors = append(errors, ValidationError{
			Field:   "app.name",
			Message: "Application name is required",
		})
	}

	validEnvs := []string{"development", "staging", "production"}
	if !oneOf(c.App.Environment, validEnvs) {
		errors = append(errors, ValidationError{
			Field:   "app.environment",
			Message: fmt.Sprintf("Invalid environment '%s'. Must be one of: %v", c.App.Environment, validEnvs),
		})
	}

	if c.App.LogLevel == "" {
		errors = append(errors, ValidationError{
			Field:   "app.log_level",
			Message: "Log level is required (debug, info, warn, error)",
		})
	}

	if c.App.LogFormat != "json" && c.App.LogFormat != "console" {
		errors = append(errors, ValidationError{
			Field:   "app.log_format",
			Message: fmt.Sprintf("Invalid log format '%s'. Must be 'json' or 'console'", c.App.LogFormat),
		})
	}

	return errors
}

func (c *Config) validateData() ValidationErrors {
	var errors ValidationErrors

	switch c.Data.Source {
	case "csv":
		if c.Data.CSVPath == "" {
			errors = append(errors, ValidationError{
				Field:   "data.csv_path",
				Message: "CSV path is required when data.source is 'csv'",
			})
		}
	case "postgres":
		if c.Data.DatabaseURL == "" {
			errors = append(errors, ValidationError{
				Field:   "data.database_url",
				Message: "Database URL is required when data.source is 'postgres'",
			})
		}
		if c.Data.Exchange == "" {
			errors = append(errors, ValidationError{
				Field:   "data.exchange",
				Message: "Exchange is required when data.source is 'postgres'",
			})
		}
		if c.Data.Interval == "" {
			errors = append(errors, ValidationError{
				Field:   "data.interval",
				Message: "Interval is required when data.source is 'postgres'",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "data.source",
			Message: fmt.Sprintf("Invalid data source '%s'. Must be 'csv' or 'postgres'", c.Data.Source),
		})
	}

	if c.Data.Symbol == "" {
		errors = append(errors, ValidationError{
			Field:   "data.symbol",
			Message: "Symbol is required",
		})
	}

	start, startErr := c.Data.StartTime()
	if startErr != nil {
		errors = append(errors, ValidationError{Field: "data.start_date", Message: startErr.Error()})
	}
	end, endErr := c.Data.EndTime()
	if endErr != nil {
		errors = append(errors, ValidationError{Field: "data.end_date", Message: endErr.Error()})
	}

	if c.Data.OOSDays < 0 || c.Data.FTDays < 0 {
		errors = append(errors, ValidationError{
			Field:   "data.oos_days",
			Message: "OOS and FT lengths must not be negative",
		})
	} else if startErr == nil && endErr == nil {
		if _, err := backtest.SplitPeriods(start, end, c.Data.OOSDays, c.Data.FTDays); err != nil {
			errors = append(errors, ValidationError{
				Field:   "data.start_date",
				Message: err.Error(),
			})
		}
	}

	if c.Data.WarmupBars < 0 {
		errors = append(errors, ValidationError{
			Field:   "data.warmup_bars",
			Message: "Warmup bars must not be negative",
		})
	}

	if c.Data.Cache.Enabled && c.Data.Cache.RedisAddr == "" {
		errors = append(errors, ValidationError{
			Field:   "data.cache.redis_addr",
			Message: "Redis address is required when the bar cache is enabled",
		})
	}

	return errors
}

func (c *Config) validateSimulation() ValidationErrors {
	var errors ValidationErrors

	if c.Simulation.InitialCapital <= 0 {
		errors = append(errors, ValidationError{
			Field:   "simulation.initial_capital",
			Message: "Initial capital must be greater than 0",
		})
	}

	if c.Simulation.CommissionPct < 0 || c.Simulation.CommissionPct >= 100 {
		errors = append(errors, ValidationError{
			Field:   "simulation.commission_pct",
			Message: fmt.Sprintf("Invalid commission %.4f. Must be between 0-100", c.Simulation.CommissionPct),
		})
	}

	if c.Simulation.LotStep <= 0 {
		errors = append(errors, ValidationError{
			Field:   "simulation.lot_step",
			Message: "Lot step must be greater than 0",
		})
	}

	if c.Simulation.CheckpointEvery < 0 {
		errors = append(errors, ValidationError{
			Field:   "simulation.checkpoint_every",
			Message: "Checkpoint interval must not be negative",
		})
	}

	return errors
}

func (c *Config) validateOptimization() ValidationErrors {
	var errors ValidationErrors
	o := &c.Optimization

	if o.Strategy == "" {
		errors = append(errors, ValidationError{
			Field:   "optimization.strategy",
			Message: "Strategy is required",
		})
	}

	if len(o.Objectives) == 0 {
		errors = append(errors, ValidationError{
			Field:   "optimization.objectives",
			Message: "At least one objective is required",
		})
	}
	for _, obj := range o.Objectives {
		if !backtest.IsMetricKey(obj) {
			errors = append(errors, ValidationError{
				Field:   "optimization.objectives",
				Message: fmt.Sprintf("Unknown objective metric '%s'. Must be one of: %v", obj, backtest.MetricKeys),
			})
		}
	}

	if len(o.Directions) != len(o.Objectives) {
		errors = append(errors, ValidationError{
			Field:   "optimization.directions",
			Message: fmt.Sprintf("Expected %d direction(s), one per objective, got %d", len(o.Objectives), len(o.Directions)),
		})
	}
	for _, d := range o.Directions {
		if d != string(study.Maximize) && d != string(study.Minimize) {
			errors = append(errors, ValidationError{
				Field:   "optimization.directions",
				Message: fmt.Sprintf("Invalid direction '%s'. Must be 'maximize' or 'minimize'", d),
			})
		}
	}

	if !oneOf(strings.ToLower(o.Sampler), []string{sampler.NameTPE, sampler.NameNSGA2, sampler.NameRandom}) {
		errors = append(errors, ValidationError{
			Field:   "optimization.sampler",
			Message: fmt.Sprintf("Unknown sampler '%s'. Must be tpe, nsga2 or random", o.Sampler),
		})
	}

	if o.StartupTrials < 0 || o.CoverageTrials < 0 {
		errors = append(errors, ValidationError{
			Field:   "optimization.startup_trials",
			Message: "Startup and coverage trial counts must not be negative",
		})
	}

	if o.PopulationSize < 2 {
		errors = append(errors, ValidationError{
			Field:   "optimization.population_size",
			Message: "Population size must be at least 2",
		})
	}

	errors = append(errors, c.validateBudget()...)

	if o.Workers < 1 {
		errors = append(errors, ValidationError{
			Field:   "optimization.workers",
			Message: "Workers must be at least 1",
		})
	}

	if o.Pruning.Enabled && (o.Pruning.StartupTrials < 0 || o.Pruning.WarmupSteps < 0) {
		errors = append(errors, ValidationError{
			Field:   "optimization.pruning",
			Message: "Pruning startup trials and warmup steps must not be negative",
		})
	}

	for i, constraint := range o.Constraints {
		if err := constraint.Validate(); err != nil {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("optimization.constraints[%d]", i),
				Message: err.Error(),
			})
		}
	}

	if err := o.Score.Validate(); err != nil {
		errors = append(errors, ValidationError{
			Field:   "optimization.score",
			Message: err.Error(),
		})
	}

	return errors
}

func (c *Config) validateBudget() ValidationErrors {
	var errors ValidationErrors
	b := &c.Optimization.Budget

	switch b.Mode {
	case BudgetTrials:
		if b.Trials < 1 {
			errors = append(errors, ValidationError{
				Field:   "optimization.budget.trials",
				Message: "Trial budget must be at least 1",
			})
		}
	case BudgetTime:
		if b.Timeout <= 0 {
			errors = append(errors, ValidationError{
				Field:   "optimization.budget.timeout",
				Message: "Timeout must be positive when budget mode is 'time'",
			})
		}
	case BudgetConvergence:
		if b.Patience < 1 {
			errors = append(errors, ValidationError{
				Field:   "optimization.budget.patience",
				Message: "Patience must be at least 1 when budget mode is 'convergence'",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "optimization.budget.mode",
			Message: fmt.Sprintf("Invalid budget mode '%s'. Must be trials, time or convergence", b.Mode),
		})
	}

	return errors
}

func (c *Config) validateStorage() ValidationErrors {
	var errors ValidationErrors
	s := &c.Storage

	switch s.Backend {
	case BackendMemory:
		if c.Optimization.Workers > 1 && !c.Optimization.InProcess {
			errors = append(errors, ValidationError{
				Field:   "storage.backend",
				Message: "The memory backend cannot be shared by worker processes; use file, redis or postgres, or set optimization.in_process",
			})
		}
	case BackendFile:
		if s.Dir == "" {
			errors = append(errors, ValidationError{
				Field:   "storage.dir",
				Message: "Directory is required for the file backend",
			})
		}
	case BackendRedis:
		if s.RedisAddr == "" {
			errors = append(errors, ValidationError{
				Field:   "storage.redis_addr",
				Message: "Redis address is required for the redis backend",
			})
		}
	case BackendPostgres:
		if s.DatabaseURL == "" {
			errors = append(errors, ValidationError{
				Field:   "storage.database_url",
				Message: "Database URL is required for the postgres backend",
			})
		}
		if s.PoolSize < 1 {
			errors = append(errors, ValidationError{
				Field:   "storage.pool_size",
				Message: "Database pool size must be at least 1",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("Invalid storage backend '%s'. Must be memory, file, redis or postgres", s.Backend),
		})
	}

	if s.Breaker.Enabled && (s.Breaker.FailureRatio <= 0 || s.Breaker.FailureRatio > 1) {
		errors = append(errors, ValidationError{
			Field:   "storage.breaker.failure_ratio",
			Message: fmt.Sprintf("Invalid failure ratio %.2f. Must be between 0-1", s.Breaker.FailureRatio),
		})
	}

	return errors
}

func (c *Config) validateMonitoring() ValidationErrors {
	var errors ValidationErrors

	if c.Monitoring.EnableMetrics && (c.Monitoring.PrometheusPort < 1 || c.Monitoring.PrometheusPort > 65535) {
		errors = append(errors, ValidationError{
			Field:   "monitoring.prometheus_port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.Monitoring.PrometheusPort),
		})
	}

	if c.Monitoring.ProgressInterval < 0 {
		errors = append(errors, ValidationError{
			Field:   "monitoring.progress_interval",
			Message: "Progress interval must not be negative",
		})
	}

	return errors
}
