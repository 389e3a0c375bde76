// Package runner drives an optimization run: it prepares the bar series and the
// search space, creates the shared trial log, launches the workers and ranks the
// trials reconstructed from the log.
package runner

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/stratlab/internal/config"
	"github.com/ajitpratap0/stratlab/internal/marketdata"
	"github.com/ajitpratap0/stratlab/internal/strategy"
	"github.com/ajitpratap0/stratlab/pkg/backtest"
	"github.com/ajitpratap0/stratlab/pkg/searchspace"
	"github.com/ajitpratap0/stratlab/pkg/study"
)

// Env is everything a worker needs to evaluate trials. It is built fresh in every
// process from the configuration; nothing in it is shared across processes.
type Env struct {
	Config     *config.Config
	Strategy   backtest.Strategy
	Schema     []*backtest.Parameter
	Space      *searchspace.Space
	Periods    *backtest.PeriodSplit
	Bars       []*backtest.Candlestick // every loaded bar up to the end date
	Series     []*backtest.Candlestick // in-sample bars preceded by warm-up bars
	TradeStart int                     // index of the first in-sample bar in Series
}

// Prepare resolves the strategy and its search space, splits the configured date
// range and loads the in-sample bars
func Prepare(ctx context.Context, cfg *config.Config, registry *strategy.Registry) (*Env, error) {
	opt := cfg.Optimization

	strat, err := registry.Get(opt.Strategy)
	if err != nil {
		return nil, err
	}

	schema, err := registry.Schema(opt.Strategy, opt.SchemaFile)
	if err != nil {
		return nil, err
	}

	space, err := searchspace.Build(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to build search space: %w", err)
	}

	start, err := cfg.Data.StartTime()
	if err != nil {
		return nil, err
	}
	end, err := cfg.Data.EndTime()
	if err != nil {
		return nil, err
	}
	periods, err := backtest.SplitPeriods(start, end, cfg.Data.OOSDays, cfg.Data.FTDays)
	if err != nil {
		return nil, fmt.Errorf("failed to split periods: %w", err)
	}

	bars, err := loadBars(ctx, cfg.Data)
	if err != nil {
		return nil, err
	}

	series, tradeStart, err := backtest.SlicePeriod(bars, periods.IS, cfg.Data.WarmupBars)
	if err != nil {
		return nil, fmt.Errorf("failed to slice in-sample period %s: %w", periods.IS, err)
	}

	log.Debug().
		Str("strategy", strat.ID()).
		Int("dimensions", len(space.Dimensions)).
		Str("is", periods.IS.String()).
		Int("bars", len(series)).
		Int("warmup", tradeStart).
		Msg("Run environment prepared")

	return &Env{
		Config:     cfg,
		Strategy:   strat,
		Schema:     schema,
		Space:      space,
		Periods:    periods,
		Bars:       bars,
		Series:     series,
		TradeStart: tradeStart,
	}, nil
}

func loadBars(ctx context.Context, cfg config.DataConfig) ([]*backtest.Candlestick, error) {
	src, err := marketdata.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	q, err := marketdata.QueryFor(cfg)
	if err != nil {
		return nil, err
	}

	bars, err := src.Loader.Load(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to load bars: %w", err)
	}
	return bars, nil
}

// Directions converts the configured objective directions
func (e *Env) Directions() []study.Direction {
	directions := make([]study.Direction, len(e.Config.Optimization.Directions))
	for i, d := range e.Config.Optimization.Directions {
		directions[i] = study.Direction(d)
	}
	return directions
}
