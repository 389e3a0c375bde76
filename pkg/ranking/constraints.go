package ranking

import (
	"fmt"
	"math"

	"github.com/ajitpratap0/stratlab/pkg/backtest"
)

// Operator compares a metric with a constraint threshold
type Operator string

const (
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
)

// Constraint bounds one metric of a trial
type Constraint struct {
	Metric    string   `mapstructure:"metric" yaml:"metric" json:"metric"`
	Operator  Operator `mapstructure:"operator" yaml:"operator" json:"operator"`
	Threshold float64  `mapstructure:"threshold" yaml:"threshold" json:"threshold"`
	Enabled   bool     `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
}

// Validate checks the constraint definition
func (c Constraint) Validate() error {
	if !backtest.IsMetricKey(c.Metric) {
		return fmt.Errorf("constraint on unknown metric %q", c.Metric)
	}
	if c.Operator != OpGreaterEqual && c.Operator != OpLessEqual {
		return fmt.Errorf("constraint on %s: operator must be >= or <=, got %q", c.Metric, c.Operator)
	}
	if math.IsNaN(c.Threshold) || math.IsInf(c.Threshold, 0) {
		return fmt.Errorf("constraint on %s: threshold must be finite", c.Metric)
	}
	return nil
}

// Violation returns how far metrics miss the constraint: positive when violated,
// zero or negative when satisfied, NaN when the metric is undefined
func (c Constraint) Violation(metrics map[string]float64) float64 {
	v, ok := metrics[c.Metric]
	if !ok || math.IsNaN(v) {
		return math.NaN()
	}
	if c.Operator == OpGreaterEqual {
		return c.Threshold - v
	}
	return v - c.Threshold
}

// Violations evaluates every enabled constraint, in order. It returns nil when no
// constraint is enabled.
func Violations(constraints []Constraint, metrics map[string]float64) []float64 {
	var out []float64
	for _, c := range constraints {
		if !c.Enabled {
			continue
		}
		out = append(out, c.Violation(metrics))
	}
	return out
}
