package marketdata

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/stratlab/internal/config"
	"github.com/ajitpratap0/stratlab/internal/db"
)

// Source is a configured loader together with the resources it holds
type Source struct {
	Loader Loader

	database *db.DB
	redis    *redis.Client
}

// Open builds the loader described by the data configuration
func Open(ctx context.Context, cfg config.DataConfig) (*Source, error) {
	src := &Source{}

	switch cfg.Source {
	case "csv":
		src.Loader = NewCSVLoader(cfg.CSVPath)
	case "postgres":
		database, err := db.New(ctx, cfg.DatabaseURL, db.PoolOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to market data database: %w", err)
		}
		src.database = database
		src.Loader = NewPostgresLoader(database.Pool())
	default:
		return nil, fmt.Errorf("unknown data source: %s", cfg.Source)
	}

	if cfg.Cache.Enabled {
		src.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		cache := NewRedisBarCache(src.redis, cfg.Cache.TTL)
		if err := cache.Health(ctx); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Cache.RedisAddr).Msg("Bar cache unavailable, loading without it")
		} else {
			src.Loader = WithCache(src.Loader, cache)
		}
	}

	return src, nil
}

// Close releases the database pool and the cache client
func (s *Source) Close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			log.Debug().Err(err).Msg("Failed to close bar cache client")
		}
	}
	if s.database != nil {
		s.database.Close()
	}
}

// QueryFor returns the query covering every bar up to the configured end date.
// The start is left open so that warm-up bars before the first period are available.
func QueryFor(cfg config.DataConfig) (Query, error) {
	end, err := cfg.EndTime()
	if err != nil {
		return Query{}, err
	}
	return Query{
		Symbol:   cfg.Symbol,
		Exchange: cfg.Exchange,
		Interval: cfg.Interval,
		End:      ThroughDay(end),
	}, nil
}
