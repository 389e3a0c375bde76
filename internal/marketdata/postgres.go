package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/stratlab/pkg/backtest"
)

// PoolInterface defines the database pool operations the loader needs
type PoolInterface interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// PostgresLoader reads bars from the candlesticks table
type PostgresLoader struct {
	pool PoolInterface
}

// NewPostgresLoader creates a loader backed by a pgx pool
func NewPostgresLoader(pool PoolInterface) *PostgresLoader {
	return &PostgresLoader{pool: pool}
}

// Unbounded query sides are passed as the extremes of TIMESTAMPTZ
var (
	minTime = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	maxTime = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
)

// Load implements Loader
func (l *PostgresLoader) Load(ctx context.Context, q Query) ([]*backtest.Candlestick, error) {
	query := `
		SELECT
			open_time,
			open,
			high,
			low,
			close,
			volume
		FROM candlesticks
		WHERE symbol = $1
			AND exchange = $2
			AND interval = $3
			AND open_time >= $4
			AND open_time < $5
		ORDER BY open_time ASC
	`

	start, end := q.Start, q.End
	if start.IsZero() {
		start = minTime
	}
	if end.IsZero() {
		end = maxTime
	}

	rows, err := l.pool.Query(ctx, query, q.Symbol, q.Exchange, q.Interval, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query candlesticks: %w", err)
	}
	defer rows.Close()

	var bars []*backtest.Candlestick
	for rows.Next() {
		bar := &backtest.Candlestick{Symbol: q.Symbol}
		if err := rows.Scan(
			&bar.Timestamp,
			&bar.Open,
			&bar.High,
			&bar.Low,
			&bar.Close,
			&bar.Volume,
		); err != nil {
			return nil, fmt.Errorf("failed to scan candlestick: %w", err)
		}
		bar.Timestamp = bar.Timestamp.UTC()
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	if err := checkSeries(bars); err != nil {
		return nil, err
	}

	log.Info().
		Str("query", q.String()).
		Int("bars", len(bars)).
		Msg("Loaded bars from database")

	return bars, nil
}
