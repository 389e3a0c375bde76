// Package backtest provides the bar-by-bar strategy simulator, performance
// metrics and period splitting used by the parameter search.
package backtest

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/stratlab/internal/indicators"
)

// ============================================================================
// DATA STRUCTURES
// ============================================================================

// Candlestick represents OHLCV data for a time period
type Candlestick struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Side is the direction of a position
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// ExitReason records why a position was closed
type ExitReason string

const (
	ExitStop      ExitReason = "stop"
	ExitTarget    ExitReason = "target"
	ExitTrail     ExitReason = "trail"
	ExitMaxDays   ExitReason = "max_days"
	ExitEndOfData ExitReason = "end_of_data"
)

// PositionState is the lifecycle stage of the simulated position
type PositionState int

const (
	StateFlat PositionState = iota
	StateEntered
	StateTrailingArmed
)

// Trade represents a closed position with P&L
type Trade struct {
	ID          int           `json:"id"`
	Side        Side          `json:"side"`
	EntryIndex  int           `json:"entry_index"`
	ExitIndex   int           `json:"exit_index"`
	EntryTime   time.Time     `json:"entry_time"`
	ExitTime    time.Time     `json:"exit_time"`
	EntryPrice  float64       `json:"entry_price"`
	ExitPrice   float64       `json:"exit_price"`
	Quantity    float64       `json:"quantity"`
	StopPrice   float64       `json:"stop_price"`
	TargetPrice float64       `json:"target_price"`
	RealizedPL  float64       `json:"realized_pl"`
	ReturnPct   float64       `json:"return_pct"`
	Commission  float64       `json:"commission"`
	HoldingTime time.Duration `json:"holding_time"`
	ExitReason  ExitReason    `json:"exit_reason"`
	Trailed     bool          `json:"trailed"`
}

// EquityPoint represents account equity at a point in time
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// SimConfig holds account-level settings that are not optimized
type SimConfig struct {
	InitialCapital float64 `json:"initial_capital"`
	CommissionPct  float64 `json:"commission_pct"` // percent of notional, charged per side
	LotStep        float64 `json:"lot_step"`       // position size granularity

	// CheckpointEvery reports progress to OnCheckpoint every N tradable bars.
	// Returning false from OnCheckpoint stops the simulation.
	CheckpointEvery int                                 `json:"-"`
	OnCheckpoint    func(step int, profitPct float64) bool `json:"-"`
}

// SimResult is the output of one simulation
type SimResult struct {
	Trades          []*Trade       `json:"trades"`
	RealizedCurve   []*EquityPoint `json:"realized_curve"`
	MTMCurve        []*EquityPoint `json:"mtm_curve"`
	InitialCapital  float64        `json:"initial_capital"`
	FinalEquity     float64        `json:"final_equity"`
	TotalTrades     int            `json:"total_trades"`
	WinningTrades   int            `json:"winning_trades"`
	LosingTrades    int            `json:"losing_trades"`
	RejectedEntries int            `json:"rejected_entries"`
	BarsProcessed   int            `json:"bars_processed"`
	Stopped         bool           `json:"stopped"`
}

var (
	// ErrNoData is returned when the series is empty
	ErrNoData = errors.New("no candlesticks provided")
)

// ============================================================================
// SIMULATION
// ============================================================================

// position holds all position-scoped state; it is zeroed on close
type position struct {
	state      PositionState
	side       Side
	entryIndex int
	entryTime  time.Time
	entryPrice float64
	quantity   float64
	stopDist   float64
	stop       float64
	target     float64
	armLevel   float64
	trail      float64
	entryComm  float64
}

func (p *position) direction() float64 {
	if p.side == SideShort {
		return -1
	}
	return 1
}

type simulator struct {
	params *TrailMAParams
	cfg    SimConfig
	series []*Candlestick

	trendMA []float64
	trailMA []float64
	atr     []float64
	lowest  []float64
	highest []float64

	countLong  int
	countShort int

	realized float64
	mtm      float64
	pos      position
	result   *SimResult
}

// Simulate runs the trailing MA strategy over series. Bars before tradeStart only
// warm up indicators and entry counters; they never open positions.
func Simulate(params *TrailMAParams, series []*Candlestick, tradeStart int, cfg SimConfig) (*SimResult, error) {
	if len(series) == 0 {
		return nil, ErrNoData
	}
	if tradeStart < 0 || tradeStart >= len(series) {
		return nil, fmt.Errorf("trade start index %d out of range [0, %d)", tradeStart, len(series))
	}
	if cfg.InitialCapital <= 0 {
		return nil, fmt.Errorf("initial capital must be positive, got %v", cfg.InitialCapital)
	}
	if cfg.LotStep <= 0 {
		return nil, fmt.Errorf("lot step must be positive, got %v", cfg.LotStep)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	sim, err := newSimulator(params, series, cfg)
	if err != nil {
		return nil, err
	}
	return sim.run(tradeStart), nil
}

func newSimulator(params *TrailMAParams, series []*Candlestick, cfg SimConfig) (*simulator, error) {
	n := len(series)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, c := range series {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}

	trendMA, err := indicators.MovingAverage(params.MAType, closes, params.MALength)
	if err != nil {
		return nil, fmt.Errorf("failed to compute trend MA: %w", err)
	}
	trailMA, err := indicators.MovingAverage(params.TrailMAType, closes, params.TrailMALength)
	if err != nil {
		return nil, fmt.Errorf("failed to compute trailing MA: %w", err)
	}

	return &simulator{
		params:   params,
		cfg:      cfg,
		series:   series,
		trendMA:  trendMA,
		trailMA:  trailMA,
		atr:      indicators.ATR(highs, lows, closes, params.ATRPeriod),
		lowest:   indicators.Lowest(lows, params.StopLookback),
		highest:  indicators.Highest(highs, params.StopLookback),
		realized: cfg.InitialCapital,
		mtm:      cfg.InitialCapital,
		result: &SimResult{
			Trades:         []*Trade{},
			RealizedCurve:  []*EquityPoint{},
			MTMCurve:       []*EquityPoint{},
			InitialCapital: cfg.InitialCapital,
		},
	}, nil
}

func (s *simulator) run(tradeStart int) *SimResult {
	step := 0
	for i := range s.series {
		if i < tradeStart {
			s.updateCounters(i)
			continue
		}

		closedThisBar := false
		if s.pos.state != StateFlat {
			closedThisBar = s.manage(i)
		}

		s.updateCounters(i)

		if s.pos.state == StateFlat && !closedThisBar {
			s.tryEnter(i)
		}

		s.markToMarket(i)
		s.result.BarsProcessed++

		if s.cfg.CheckpointEvery > 0 && s.cfg.OnCheckpoint != nil && s.result.BarsProcessed%s.cfg.CheckpointEvery == 0 {
			step++
			profitPct := (s.mtm - s.cfg.InitialCapital) / s.cfg.InitialCapital * 100.0
			if !s.cfg.OnCheckpoint(step, profitPct) {
				s.result.Stopped = true
				s.result.FinalEquity = s.mtm
				return s.result
			}
		}
	}

	if s.pos.state != StateFlat {
		last := len(s.series) - 1
		s.closePosition(last, s.series[last].Close, ExitEndOfData)
		s.markToMarketReplace(last)
	}

	s.result.FinalEquity = s.realized
	return s.result
}

// updateCounters tracks consecutive closes beyond the trend MA
func (s *simulator) updateCounters(i int) {
	ma := s.trendMA[i]
	c := s.series[i].Close

	switch {
	case math.IsNaN(ma):
		s.countLong, s.countShort = 0, 0
	case c > ma:
		s.countLong++
		s.countShort = 0
	case c < ma:
		s.countShort++
		s.countLong = 0
	default:
		s.countLong, s.countShort = 0, 0
	}
}

// tryEnter opens a position at the bar close when the close counter qualifies
func (s *simulator) tryEnter(i int) {
	p := s.params
	if p.AllowLong && s.countLong >= p.CloseCountLong {
		s.enter(i, SideLong)
		return
	}
	if p.AllowShort && s.countShort >= p.CloseCountShort {
		s.enter(i, SideShort)
	}
}

func (s *simulator) enter(i int, side Side) {
	bar := s.series[i]
	price := bar.Close
	atr := s.atr[i]

	var stop float64
	switch side {
	case SideLong:
		stop = s.lowest[i] - atr*s.params.StopATRMult
	case SideShort:
		stop = s.highest[i] + atr*s.params.StopATRMult
	}
	if math.IsNaN(stop) || price <= 0 {
		return
	}

	dist := price - stop
	if side == SideShort {
		dist = stop - price
	}
	if dist <= 0 {
		s.result.RejectedEntries++
		log.Debug().
			Str("side", string(side)).
			Time("bar", bar.Timestamp).
			Float64("price", price).
			Float64("stop", stop).
			Msg("Stop on the wrong side of entry, skipping entry")
		return
	}

	stopPct := dist / price * 100.0
	if s.params.MaxStopPct > 0 && stopPct > s.params.MaxStopPct {
		s.result.RejectedEntries++
		log.Debug().
			Str("side", string(side)).
			Time("bar", bar.Timestamp).
			Float64("stop_pct", stopPct).
			Float64("max_stop_pct", s.params.MaxStopPct).
			Msg("Stop too wide, skipping entry")
		return
	}

	riskAmount := s.realized * s.params.RiskPct / 100.0
	lots := math.Floor(riskAmount/dist/s.cfg.LotStep + 1e-9)
	quantity := lots * s.cfg.LotStep
	if quantity <= 0 {
		s.result.RejectedEntries++
		log.Debug().
			Str("side", string(side)).
			Time("bar", bar.Timestamp).
			Float64("risk", riskAmount).
			Float64("lot_step", s.cfg.LotStep).
			Msg("Position below one lot, skipping entry")
		return
	}

	commission := price * quantity * s.cfg.CommissionPct / 100.0
	s.realized -= commission

	dir := 1.0
	if side == SideShort {
		dir = -1.0
	}

	s.pos = position{
		state:      StateEntered,
		side:       side,
		entryIndex: i,
		entryTime:  bar.Timestamp,
		entryPrice: price,
		quantity:   quantity,
		stopDist:   dist,
		stop:       stop,
		target:     price + dir*dist*s.params.RewardRatio,
		armLevel:   price + dir*dist*s.params.TrailRR,
		entryComm:  commission,
	}
}

// manage applies the exit rules to an open position and reports whether it closed
func (s *simulator) manage(i int) bool {
	bar := s.series[i]
	pos := &s.pos
	long := pos.side == SideLong

	if pos.state == StateTrailingArmed {
		if (long && bar.Low <= pos.trail) || (!long && bar.High >= pos.trail) {
			s.closePosition(i, clamp(pos.trail, bar.Low, bar.High), ExitTrail)
			return true
		}
	} else {
		switch {
		case long && bar.Low <= pos.stop, !long && bar.High >= pos.stop:
			s.closePosition(i, clamp(pos.stop, bar.Low, bar.High), ExitStop)
			return true
		case long && bar.High >= pos.target, !long && bar.Low <= pos.target:
			s.closePosition(i, clamp(pos.target, bar.Low, bar.High), ExitTarget)
			return true
		}
	}

	if s.params.MaxDays > 0 && calendarDays(pos.entryTime, bar.Timestamp) >= s.params.MaxDays {
		s.closePosition(i, bar.Close, ExitMaxDays)
		return true
	}

	s.updateTrail(i)
	return false
}

// updateTrail arms the trailing exit and ratchets its level using this bar's
// trailing MA, so the level first applies on the next bar.
func (s *simulator) updateTrail(i int) {
	bar := s.series[i]
	pos := &s.pos
	long := pos.side == SideLong

	offset := s.params.TrailOffsetLong
	if !long {
		offset = s.params.TrailOffsetShort
	}
	level := s.trailMA[i] * (1 + offset/100.0)

	if pos.state == StateEntered {
		if (long && bar.High >= pos.armLevel) || (!long && bar.Low <= pos.armLevel) {
			pos.state = StateTrailingArmed
			pos.trail = pos.stop
			if !math.IsNaN(level) {
				pos.trail = level
			}
		}
		return
	}

	if math.IsNaN(level) {
		return
	}
	if (long && level > pos.trail) || (!long && level < pos.trail) {
		pos.trail = level
	}
}

func (s *simulator) closePosition(i int, price float64, reason ExitReason) {
	bar := s.series[i]
	pos := s.pos

	exitComm := price * pos.quantity * s.cfg.CommissionPct / 100.0
	gross := (price - pos.entryPrice) * pos.quantity * pos.direction()
	s.realized += gross - exitComm

	pnl := gross - pos.entryComm - exitComm
	trade := &Trade{
		ID:          len(s.result.Trades) + 1,
		Side:        pos.side,
		EntryIndex:  pos.entryIndex,
		ExitIndex:   i,
		EntryTime:   pos.entryTime,
		ExitTime:    bar.Timestamp,
		EntryPrice:  pos.entryPrice,
		ExitPrice:   price,
		Quantity:    pos.quantity,
		StopPrice:   pos.stop,
		TargetPrice: pos.target,
		RealizedPL:  pnl,
		ReturnPct:   pnl / (pos.entryPrice * pos.quantity) * 100.0,
		Commission:  pos.entryComm + exitComm,
		HoldingTime: bar.Timestamp.Sub(pos.entryTime),
		ExitReason:  reason,
		Trailed:     pos.state == StateTrailingArmed,
	}

	s.result.Trades = append(s.result.Trades, trade)
	s.result.TotalTrades++
	if pnl > 0 {
		s.result.WinningTrades++
	} else {
		s.result.LosingTrades++
	}

	s.pos = position{}
}

// markToMarket appends both equity curves for bar i
func (s *simulator) markToMarket(i int) {
	bar := s.series[i]
	s.mtm = s.realized
	if s.pos.state != StateFlat {
		s.mtm += (bar.Close - s.pos.entryPrice) * s.pos.quantity * s.pos.direction()
	}

	s.result.RealizedCurve = append(s.result.RealizedCurve, &EquityPoint{Timestamp: bar.Timestamp, Equity: s.realized})
	s.result.MTMCurve = append(s.result.MTMCurve, &EquityPoint{Timestamp: bar.Timestamp, Equity: s.mtm})
}

// markToMarketReplace rewrites the final curve points after the end-of-data close
func (s *simulator) markToMarketReplace(i int) {
	s.mtm = s.realized
	if n := len(s.result.MTMCurve); n > 0 && s.result.MTMCurve[n-1].Timestamp.Equal(s.series[i].Timestamp) {
		s.result.MTMCurve[n-1].Equity = s.mtm
		s.result.RealizedCurve[n-1].Equity = s.realized
	}
}

func clamp(v, low, high float64) float64 {
	return math.Min(math.Max(v, low), high)
}

// calendarDays counts whole calendar days between two timestamps, ignoring time of day
func calendarDays(from, to time.Time) int {
	y1, m1, d1 := from.Date()
	y2, m2, d2 := to.In(from.Location()).Date()
	start := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	end := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return int(end.Sub(start).Hours() / 24)
}
