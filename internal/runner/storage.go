package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/stratlab/internal/config"
	"github.com/ajitpratap0/stratlab/internal/db"
	"github.com/ajitpratap0/stratlab/internal/journal"
	"github.com/ajitpratap0/stratlab/pkg/study"
)

// Storage opens handles on the trial log of one run. Every worker opens its own
// handle; the memory backend shares one store between in-process handles.
type Storage struct {
	cfg    config.StorageConfig
	runID  string
	memory *journal.Memory
}

// NewStorage creates the storage of run runID
func NewStorage(cfg config.StorageConfig, runID string) *Storage {
	s := &Storage{cfg: cfg, runID: runID}
	if cfg.Backend == config.BackendMemory {
		s.memory = journal.NewMemory()
	}
	return s
}

// Location describes where the log lives, for logs and reports
func (s *Storage) Location() string {
	switch s.cfg.Backend {
	case config.BackendFile:
		return s.filePath()
	case config.BackendRedis:
		return "redis://" + s.cfg.RedisAddr + "/" + s.redisKey()
	case config.BackendPostgres:
		return "postgres:trial_log/" + s.runID
	default:
		return "memory"
	}
}

func (s *Storage) filePath() string {
	return filepath.Join(s.cfg.Dir, s.runID+".jsonl")
}

func (s *Storage) redisKey() string {
	return "stratlab:run:" + s.runID
}

// Open returns a new backend handle
func (s *Storage) Open(ctx context.Context) (study.Backend, error) {
	switch s.cfg.Backend {
	case config.BackendMemory:
		return s.memory.Handle(), nil

	case config.BackendFile:
		if err := os.MkdirAll(s.cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		return journal.OpenFile(s.filePath())

	case config.BackendRedis:
		backend, err := journal.DialRedis(ctx, s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB, s.redisKey())
		if err != nil {
			return nil, err
		}
		return s.guard(backend), nil

	case config.BackendPostgres:
		database, err := db.New(ctx, s.cfg.DatabaseURL, db.PoolOptions{MaxConns: int32(s.cfg.PoolSize)})
		if err != nil {
			return nil, err
		}
		backend := journal.NewPostgres(database.Pool(), s.runID)
		if err := backend.EnsureSchema(ctx); err != nil {
			database.Close()
			return nil, err
		}
		return &pooledBackend{Backend: s.guard(backend), database: database}, nil

	default:
		return nil, fmt.Errorf("unknown storage backend: %s", s.cfg.Backend)
	}
}

// guard wraps a networked backend in a circuit breaker when enabled
func (s *Storage) guard(backend journal.Backend) journal.Backend {
	if !s.cfg.Breaker.Enabled {
		return backend
	}
	b := s.cfg.Breaker
	return journal.NewGuarded(backend, s.cfg.Backend, journal.BreakerSettings{
		MinRequests:     b.MinRequests,
		FailureRatio:    b.FailureRatio,
		OpenTimeout:     b.OpenTimeout,
		HalfOpenMaxReqs: b.HalfOpenMaxRequests,
		CountInterval:   b.Interval,
	})
}

// Remove deletes the log of the run
func (s *Storage) Remove(ctx context.Context) error {
	switch s.cfg.Backend {
	case config.BackendMemory:
		return nil

	case config.BackendFile:
		return journal.RemoveFile(s.filePath())

	case config.BackendRedis:
		backend, err := journal.DialRedis(ctx, s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB, s.redisKey())
		if err != nil {
			return err
		}
		defer backend.Close()
		return backend.Delete(ctx)

	case config.BackendPostgres:
		database, err := db.New(ctx, s.cfg.DatabaseURL, db.PoolOptions{MaxConns: 1})
		if err != nil {
			return err
		}
		defer database.Close()
		return journal.NewPostgres(database.Pool(), s.runID).Delete(ctx)

	default:
		return fmt.Errorf("unknown storage backend: %s", s.cfg.Backend)
	}
}

// pooledBackend closes the database pool it was opened with
type pooledBackend struct {
	journal.Backend
	database *db.DB
}

func (b *pooledBackend) Close() error {
	err := b.Backend.Close()
	b.database.Close()
	return err
}

// retain applies the retention setting once the run has been ranked
func (s *Storage) retain(ctx context.Context) {
	if s.cfg.Keep {
		log.Info().Str("log", s.Location()).Msg("Trial log retained")
		return
	}
	if err := s.Remove(ctx); err != nil {
		log.Warn().Err(err).Str("log", s.Location()).Msg("Failed to remove trial log")
		return
	}
	log.Info().Str("log", s.Location()).Msg("Trial log removed")
}
