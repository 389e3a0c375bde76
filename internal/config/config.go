package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ajitpratap0/stratlab/pkg/ranking"
)

// Config holds all application configuration
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Data         DataConfig         `mapstructure:"data"`
	Simulation   SimulationConfig   `mapstructure:"simulation"`
	Optimization OptimizationConfig `mapstructure:"optimization"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // json or console
}

// DataConfig selects the bar series and the backtest periods
type DataConfig struct {
	Source      string `mapstructure:"source"` // csv or postgres
	CSVPath     string `mapstructure:"csv_path"`
	DatabaseURL string `mapstructure:"database_url"`
	Symbol      string `mapstructure:"symbol"`
	Exchange    string `mapstructure:"exchange"`
	Interval    string `mapstructure:"interval"`
	StartDate   string `mapstructure:"start_date"` // 2006-01-02
	EndDate     string `mapstructure:"end_date"`
	OOSDays     int    `mapstructure:"oos_days"`
	FTDays      int    `mapstructure:"ft_days"`
	WarmupBars  int    `mapstructure:"warmup_bars"`

	Cache BarCacheConfig `mapstructure:"cache"`
}

// BarCacheConfig configures the optional Redis cache of loaded bars
type BarCacheConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// SimulationConfig contains the account settings shared by every trial
type SimulationConfig struct {
	InitialCapital  float64 `mapstructure:"initial_capital"`
	CommissionPct   float64 `mapstructure:"commission_pct"`
	LotStep         float64 `mapstructure:"lot_step"`
	CheckpointEvery int     `mapstructure:"checkpoint_every"` // bars between pruning checkpoints
}

// OptimizationConfig contains the search settings
type OptimizationConfig struct {
	Strategy   string   `mapstructure:"strategy"`
	SchemaFile string   `mapstructure:"schema_file"` // optional YAML parameter overrides
	Objectives []string `mapstructure:"objectives"`
	Directions []string `mapstructure:"directions"`

	Sampler        string `mapstructure:"sampler"` // tpe, nsga2 or random
	Seed           int64  `mapstructure:"seed"`
	ConstantLiar   bool   `mapstructure:"constant_liar"`
	StartupTrials  int    `mapstructure:"startup_trials"`
	PopulationSize int    `mapstructure:"population_size"`
	CoverageTrials int    `mapstructure:"coverage_trials"`

	Budget  BudgetConfig  `mapstructure:"budget"`
	Pruning PruningConfig `mapstructure:"pruning"`

	Workers   int  `mapstructure:"workers"`
	InProcess bool `mapstructure:"in_process"` // run workers as goroutines instead of processes

	Constraints []ranking.Constraint `mapstructure:"constraints"`
	Score       ranking.ScoreConfig  `mapstructure:"score"`
}

// Budget modes
const (
	BudgetTrials      = "trials"
	BudgetTime        = "time"
	BudgetConvergence = "convergence"
)

// BudgetConfig bounds a run
type BudgetConfig struct {
	Mode     string        `mapstructure:"mode"`
	Trials   int           `mapstructure:"trials"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Patience int           `mapstructure:"patience"`
}

// PruningConfig configures the median pruner
type PruningConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	StartupTrials int  `mapstructure:"startup_trials"`
	WarmupSteps   int  `mapstructure:"warmup_steps"`
}

// Storage backends for the shared trial log
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// StorageConfig selects where the trial log lives
type StorageConfig struct {
	Backend       string        `mapstructure:"backend"`
	Dir           string        `mapstructure:"dir"`
	Keep          bool          `mapstructure:"keep"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	DatabaseURL   string        `mapstructure:"database_url"`
	PoolSize      int           `mapstructure:"pool_size"`
	Breaker       BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig configures the circuit breaker around networked backends
type BreakerConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	MinRequests         uint32        `mapstructure:"min_requests"`
	FailureRatio        float64       `mapstructure:"failure_ratio"`
	OpenTimeout         time.Duration `mapstructure:"open_timeout"`
	HalfOpenMaxRequests uint32        `mapstructure:"half_open_max_requests"`
	Interval            time.Duration `mapstructure:"interval"`
}

// MonitoringConfig contains monitoring settings
type MonitoringConfig struct {
	PrometheusPort   int           `mapstructure:"prometheus_port"`
	EnableMetrics    bool          `mapstructure:"enable_metrics"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// STRATLAB_STORAGE_BACKEND overrides storage.backend
	v.SetEnvPrefix("STRATLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "StratLab")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "console")

	// Data defaults
	v.SetDefault("data.source", "csv")
	v.SetDefault("data.csv_path", "data/bars.csv")
	v.SetDefault("data.symbol", "BTCUSDT")
	v.SetDefault("data.exchange", "binance")
	v.SetDefault("data.interval", "1h")
	v.SetDefault("data.oos_days", 30)
	v.SetDefault("data.ft_days", 15)
	v.SetDefault("data.warmup_bars", 300)
	v.SetDefault("data.cache.enabled", false)
	v.SetDefault("data.cache.redis_addr", fmt.Sprintf("localhost:%d", RedisPort))
	v.SetDefault("data.cache.redis_db", 1)
	v.SetDefault("data.cache.ttl", time.Hour)

	// Simulation defaults
	v.SetDefault("simulation.initial_capital", 10000.0)
	v.SetDefault("simulation.commission_pct", 0.1)
	v.SetDefault("simulation.lot_step", 0.001)
	v.SetDefault("simulation.checkpoint_every", 500)

	// Optimization defaults
	v.SetDefault("optimization.strategy", "trail_ma")
	v.SetDefault("optimization.objectives", []string{"net_profit_pct"})
	v.SetDefault("optimization.directions", []string{"maximize"})
	v.SetDefault("optimization.sampler", "tpe")
	v.SetDefault("optimization.seed", 42)
	v.SetDefault("optimization.constant_liar", true)
	v.SetDefault("optimization.startup_trials", 10)
	v.SetDefault("optimization.population_size", 20)
	v.SetDefault("optimization.coverage_trials", 0)
	v.SetDefault("optimization.budget.mode", BudgetTrials)
	v.SetDefault("optimization.budget.trials", 200)
	v.SetDefault("optimization.budget.timeout", 30*time.Minute)
	v.SetDefault("optimization.budget.patience", 50)
	v.SetDefault("optimization.pruning.enabled", true)
	v.SetDefault("optimization.pruning.startup_trials", 5)
	v.SetDefault("optimization.pruning.warmup_steps", 1)
	v.SetDefault("optimization.workers", 1)
	v.SetDefault("optimization.in_process", false)

	// Nested defaults must be generic maps so that file values merge into them
	score := ranking.DefaultScoreConfig()
	weights := make(map[string]interface{}, len(score.Weights))
	for k, w := range score.Weights {
		weights[k] = w
	}
	invert := make(map[string]interface{}, len(score.Invert))
	for k, inv := range score.Invert {
		invert[k] = inv
	}
	v.SetDefault("optimization.score.weights", weights)
	v.SetDefault("optimization.score.invert", invert)

	// Storage defaults
	v.SetDefault("storage.backend", BackendFile)
	v.SetDefault("storage.dir", "runs")
	v.SetDefault("storage.keep", true)
	v.SetDefault("storage.redis_addr", fmt.Sprintf("localhost:%d", RedisPort))
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.pool_size", 10)
	v.SetDefault("storage.breaker.enabled", true)
	v.SetDefault("storage.breaker.min_requests", 5)
	v.SetDefault("storage.breaker.failure_ratio", 0.6)
	v.SetDefault("storage.breaker.open_timeout", 10*time.Second)
	v.SetDefault("storage.breaker.half_open_max_requests", 2)
	v.SetDefault("storage.breaker.interval", 30*time.Second)

	// Monitoring defaults
	v.SetDefault("monitoring.prometheus_port", MetricsPort)
	v.SetDefault("monitoring.enable_metrics", false)
	v.SetDefault("monitoring.progress_interval", 5*time.Second)
}

// MultiProcess reports whether the run uses more than one worker
func (c *OptimizationConfig) MultiProcess() bool {
	return c.Workers > 1
}

// StartTime parses data.start_date
func (c *DataConfig) StartTime() (time.Time, error) {
	return parseDate(c.StartDate)
}

// EndTime parses data.end_date
func (c *DataConfig) EndTime() (time.Time, error) {
	return parseDate(c.EndDate)
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected %s", s, DateLayout)
	}
	return t, nil
}

// DateLayout is the format of configured dates
const DateLayout = "2006-01-02"
