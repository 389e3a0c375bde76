// Trailing moving-average strategy definition and parameter decoding
package backtest

import (
	"fmt"

	"github.com/ajitpratap0/stratlab/internal/indicators"
)

// ============================================================================
// STRATEGY INTERFACE
// ============================================================================

// Strategy is the interface that optimizable strategies must implement.
// Simulate must be pure: the same inputs always produce the same result.
type Strategy interface {
	// ID is the registry identifier
	ID() string

	// Schema returns the default parameter definitions
	Schema() []*Parameter

	// Simulate runs the strategy over series, trading only from tradeStart onwards
	Simulate(params ParameterSet, series []*Candlestick, tradeStart int, cfg SimConfig) (*SimResult, error)
}

// StrategyFactory creates a strategy instance
type StrategyFactory func() Strategy

// ============================================================================
// TRAILING MA STRATEGY
// ============================================================================

// TrailMAStrategyID is the registry id of the built-in trailing MA strategy
const TrailMAStrategyID = "trail_ma"

// TrailMAParams holds the decoded parameters of the trailing MA strategy
type TrailMAParams struct {
	MAType          indicators.MAType
	MALength        int
	CloseCountLong  int
	CloseCountShort int

	ATRPeriod    int
	StopATRMult  float64
	StopLookback int
	RewardRatio  float64
	MaxStopPct   float64
	MaxDays      int
	RiskPct      float64

	TrailRR          float64
	TrailMAType      indicators.MAType
	TrailMALength    int
	TrailOffsetLong  float64 // percent, applied multiplicatively to the trailing MA
	TrailOffsetShort float64

	AllowLong  bool
	AllowShort bool
}

// TrailMAStrategy enters after consecutive closes beyond a trend MA, exits on an
// ATR stop, a reward target, a trailing MA once armed, or a max holding period.
type TrailMAStrategy struct{}

// NewTrailMAStrategy creates the built-in trailing MA strategy
func NewTrailMAStrategy() Strategy {
	return &TrailMAStrategy{}
}

// ID implements Strategy
func (s *TrailMAStrategy) ID() string {
	return TrailMAStrategyID
}

// Schema implements Strategy
func (s *TrailMAStrategy) Schema() []*Parameter {
	return []*Parameter{
		{Name: "ma_type", Type: ParamTypeCategorical, Default: "EMA", Values: []string{"SMA", "EMA"}, Enabled: true},
		{Name: "ma_length", Type: ParamTypeInt, Default: 50, Min: 5, Max: 300, Step: 5, Enabled: true},
		{Name: "close_count_long", Type: ParamTypeInt, Default: 3, Min: 1, Max: 10, Step: 1, Enabled: true},
		{Name: "close_count_short", Type: ParamTypeInt, Default: 3, Min: 1, Max: 10, Step: 1, Enabled: true},
		{Name: "atr_period", Type: ParamTypeInt, Default: 14, Min: 5, Max: 50, Step: 1},
		{Name: "stop_atr_mult", Type: ParamTypeFloat, Default: 2.0, Min: 0.5, Max: 5.0, Step: 0.1, Enabled: true},
		{Name: "stop_lookback", Type: ParamTypeInt, Default: 5, Min: 1, Max: 30, Step: 1, Enabled: true},
		{Name: "reward_ratio", Type: ParamTypeFloat, Default: 3.0, Min: 1.0, Max: 10.0, Step: 0.5, Enabled: true},
		{Name: "max_stop_pct", Type: ParamTypeFloat, Default: 5.0, Min: 0, Max: 20.0, Step: 0.5},
		{Name: "max_days", Type: ParamTypeInt, Default: 30, Min: 0, Max: 120, Step: 1},
		{Name: "risk_pct", Type: ParamTypeFloat, Default: 2.0, Min: 0.1, Max: 10.0, Step: 0.1},
		{Name: "trail_rr", Type: ParamTypeFloat, Default: 1.0, Min: 0.5, Max: 5.0, Step: 0.1, Enabled: true},
		{Name: "trail_ma_type", Type: ParamTypeCategorical, Default: "SMA", Values: []string{"SMA", "EMA"}, Enabled: true},
		{Name: "trail_ma_length", Type: ParamTypeInt, Default: 20, Min: 5, Max: 200, Step: 5, Enabled: true},
		{Name: "trail_offset_long", Type: ParamTypeFloat, Default: -1.0, Min: -5.0, Max: 2.0, Step: 0.1},
		{Name: "trail_offset_short", Type: ParamTypeFloat, Default: 1.0, Min: -2.0, Max: 5.0, Step: 0.1},
		{Name: "allow_long", Type: ParamTypeBool, Default: true},
		{Name: "allow_short", Type: ParamTypeBool, Default: true},
	}
}

// Simulate implements Strategy
func (s *TrailMAStrategy) Simulate(params ParameterSet, series []*Candlestick, tradeStart int, cfg SimConfig) (*SimResult, error) {
	decoded, err := DecodeTrailMAParams(params, s.Schema())
	if err != nil {
		return nil, err
	}
	return Simulate(decoded, series, tradeStart, cfg)
}

// WithDefaults fills parameters missing from params with schema defaults
func WithDefaults(params ParameterSet, schema []*Parameter) ParameterSet {
	merged := params.Clone()
	for _, p := range schema {
		if _, ok := merged[p.Name]; !ok && p.Default != nil {
			merged[p.Name] = p.Default
		}
	}
	return merged
}

// DecodeTrailMAParams decodes a parameter set, falling back to schema defaults
func DecodeTrailMAParams(params ParameterSet, schema []*Parameter) (*TrailMAParams, error) {
	ps := WithDefaults(params, schema)
	d := &decoder{ps: ps}

	p := &TrailMAParams{
		MALength:         d.intVal("ma_length"),
		CloseCountLong:   d.intVal("close_count_long"),
		CloseCountShort:  d.intVal("close_count_short"),
		ATRPeriod:        d.intVal("atr_period"),
		StopATRMult:      d.floatVal("stop_atr_mult"),
		StopLookback:     d.intVal("stop_lookback"),
		RewardRatio:      d.floatVal("reward_ratio"),
		MaxStopPct:       d.floatVal("max_stop_pct"),
		MaxDays:          d.intVal("max_days"),
		RiskPct:          d.floatVal("risk_pct"),
		TrailRR:          d.floatVal("trail_rr"),
		TrailMALength:    d.intVal("trail_ma_length"),
		TrailOffsetLong:  d.floatVal("trail_offset_long"),
		TrailOffsetShort: d.floatVal("trail_offset_short"),
		AllowLong:        d.boolVal("allow_long"),
		AllowShort:       d.boolVal("allow_short"),
	}
	p.MAType = d.maType("ma_type")
	p.TrailMAType = d.maType("trail_ma_type")

	if d.err != nil {
		return nil, d.err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the decoded parameters
func (p *TrailMAParams) Validate() error {
	switch {
	case p.MALength < 1:
		return fmt.Errorf("ma_length must be positive, got %d", p.MALength)
	case p.TrailMALength < 1:
		return fmt.Errorf("trail_ma_length must be positive, got %d", p.TrailMALength)
	case p.CloseCountLong < 1 || p.CloseCountShort < 1:
		return fmt.Errorf("close counts must be positive")
	case p.ATRPeriod < 1:
		return fmt.Errorf("atr_period must be positive, got %d", p.ATRPeriod)
	case p.StopLookback < 1:
		return fmt.Errorf("stop_lookback must be positive, got %d", p.StopLookback)
	case p.RiskPct <= 0:
		return fmt.Errorf("risk_pct must be positive, got %v", p.RiskPct)
	case p.RewardRatio <= 0 || p.TrailRR <= 0:
		return fmt.Errorf("reward ratios must be positive")
	}
	return nil
}

// decoder accumulates the first decoding error
type decoder struct {
	ps  ParameterSet
	err error
}

func (d *decoder) intVal(name string) int {
	v, err := d.ps.Int(name)
	d.keep(err)
	return v
}

func (d *decoder) floatVal(name string) float64 {
	v, err := d.ps.Float(name)
	d.keep(err)
	return v
}

func (d *decoder) boolVal(name string) bool {
	v, err := d.ps.Bool(name)
	d.keep(err)
	return v
}

func (d *decoder) maType(name string) indicators.MAType {
	v, err := d.ps.String(name)
	if err != nil {
		d.keep(err)
		return ""
	}
	kind, err := indicators.ParseMAType(v)
	d.keep(err)
	return kind
}

func (d *decoder) keep(err error) {
	if d.err == nil && err != nil {
		d.err = err
	}
}
