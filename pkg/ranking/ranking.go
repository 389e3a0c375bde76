// Package ranking turns the completed trials of a run into the ordered result
// list: composite percentile scores for single-objective runs, Pareto fronts
// with constraint-violation ordering for multi-objective runs.
package ranking

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/ajitpratap0/stratlab/pkg/backtest"
	"github.com/ajitpratap0/stratlab/pkg/study"
)

// ============================================================================
// SCORE CONFIGURATION
// ============================================================================

// ScoreConfig weights metrics into the composite score
type ScoreConfig struct {
	// Weights per metric key; metrics with a zero weight are ignored
	Weights map[string]float64 `mapstructure:"weights" yaml:"weights" json:"weights"`
	// Invert marks metrics where smaller is better
	Invert map[string]bool `mapstructure:"invert" yaml:"invert" json:"invert"`
}

// DefaultScoreConfig returns the default composite score weights
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		Weights: map[string]float64{
			backtest.MetricNetProfitPct:     1.0,
			backtest.MetricMaxDrawdownPct:   1.0,
			backtest.MetricSharpeRatio:      1.0,
			backtest.MetricProfitFactor:     1.0,
			backtest.MetricRoMaD:            1.0,
			backtest.MetricUlcerIndex:       0.5,
			backtest.MetricRecoveryFactor:   0.5,
			backtest.MetricConsistencyScore: 0.5,
		},
		Invert: map[string]bool{
			backtest.MetricMaxDrawdownPct: true,
			backtest.MetricUlcerIndex:     true,
		},
	}
}

// Validate checks metric names and weights
func (c ScoreConfig) Validate() error {
	for metric, w := range c.Weights {
		if !backtest.IsMetricKey(metric) {
			return fmt.Errorf("score weight for unknown metric %q", metric)
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("score weight for %s must be a finite non-negative number", metric)
		}
	}
	for metric := range c.Invert {
		if !backtest.IsMetricKey(metric) {
			return fmt.Errorf("score inversion for unknown metric %q", metric)
		}
	}
	return nil
}

// ============================================================================
// RESULTS
// ============================================================================

// Result is the externally visible record of one completed trial
type Result struct {
	Rank          int                   `json:"rank"`
	TrialNumber   int                   `json:"trial_number"`
	Params        backtest.ParameterSet `json:"params"`
	Values        []float64             `json:"values"`
	Metrics       map[string]float64    `json:"-"`
	Score         float64               `json:"-"`
	ParetoOptimal bool                  `json:"pareto_optimal"`
	Feasible      bool                  `json:"feasible"`
	Violation     float64               `json:"violation"`
}

// MarshalJSON encodes an unbounded violation as null
func (r *Result) MarshalJSON() ([]byte, error) {
	type plain Result
	out := struct {
		*plain
		Violation *float64 `json:"violation"`
	}{plain: (*plain)(r)}
	if !math.IsInf(r.Violation, 0) && !math.IsNaN(r.Violation) {
		v := r.Violation
		out.Violation = &v
	}
	return json.Marshal(out)
}

// Rank builds results from the COMPLETE trials and orders them best first.
//
// Single objective: feasible trials first, by descending composite score, then
// infeasible trials by ascending violation. Several objectives: feasible
// Pareto-optimal, feasible dominated, then infeasible by ascending violation.
// Ties fall back to the primary objective and then the trial number.
func Rank(trials []*study.Trial, directions []study.Direction, cfg ScoreConfig) []*Result {
	var results []*Result
	for _, t := range trials {
		if t.State != study.StateComplete || len(t.Values) != len(directions) {
			continue
		}
		results = append(results, &Result{
			TrialNumber: t.Number,
			Params:      t.Params.Clone(),
			Values:      append([]float64(nil), t.Values...),
			Metrics:     t.Metrics,
			Feasible:    t.Feasible(),
			Violation:   t.Violation(),
		})
	}
	if len(results) == 0 {
		return nil
	}

	scoreResults(results, cfg)
	markPareto(results, directions)

	primary := directions[0]
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if ga, gb := group(a, len(directions)), group(b, len(directions)); ga != gb {
			return ga < gb
		}
		if !a.Feasible && a.Violation != b.Violation {
			return a.Violation < b.Violation
		}
		if len(directions) == 1 && !sameScore(a.Score, b.Score) {
			return scoreGreater(a.Score, b.Score)
		}
		if a.Values[0] != b.Values[0] {
			return primary.Better(a.Values[0], b.Values[0])
		}
		return a.TrialNumber < b.TrialNumber
	})

	for i, r := range results {
		r.Rank = i + 1
	}
	return results
}

// group is the ordering bucket of a result
func group(r *Result, objectives int) int {
	switch {
	case !r.Feasible:
		return 2
	case objectives > 1 && !r.ParetoOptimal:
		return 1
	default:
		return 0
	}
}

// scoreGreater orders scores descending with NaN last
func scoreGreater(a, b float64) bool {
	if math.IsNaN(b) {
		return !math.IsNaN(a)
	}
	if math.IsNaN(a) {
		return false
	}
	return a > b
}

func sameScore(a, b float64) bool {
	return a == b || (math.IsNaN(a) && math.IsNaN(b))
}

// ParetoFront returns the feasible non-dominated results
func ParetoFront(results []*Result) []*Result {
	var front []*Result
	for _, r := range results {
		if r.ParetoOptimal {
			front = append(front, r)
		}
	}
	return front
}

// markPareto flags the feasible results no other feasible result dominates
func markPareto(results []*Result, directions []study.Direction) {
	for _, r := range results {
		if !r.Feasible {
			continue
		}
		r.ParetoOptimal = true
		for _, other := range results {
			if other != r && other.Feasible && study.Dominates(other.Values, r.Values, directions) {
				r.ParetoOptimal = false
				break
			}
		}
	}
}

// ============================================================================
// COMPOSITE SCORE
// ============================================================================

// scoreResults sets the composite score of every result: the weighted mean of the
// per-metric percentile ranks over the full set, scaled to 0-100. A metric that is
// undefined for a result is left out of that result's mean.
func scoreResults(results []*Result, cfg ScoreConfig) {
	metrics := make([]string, 0, len(cfg.Weights))
	for metric, w := range cfg.Weights {
		if w > 0 {
			metrics = append(metrics, metric)
		}
	}
	sort.Strings(metrics)

	weighted := make([]float64, len(results))
	weights := make([]float64, len(results))

	for _, metric := range metrics {
		values := make([]float64, 0, len(results))
		for _, r := range results {
			if v, ok := r.Metrics[metric]; ok && !math.IsNaN(v) {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}
		sort.Float64s(values)

		w := cfg.Weights[metric]
		for i, r := range results {
			v, ok := r.Metrics[metric]
			if !ok || math.IsNaN(v) {
				continue
			}
			p := percentile(values, v)
			if cfg.Invert[metric] {
				p = 1 - p
			}
			weighted[i] += w * p
			weights[i] += w
		}
	}

	for i, r := range results {
		if weights[i] == 0 {
			r.Score = math.NaN()
			continue
		}
		r.Score = weighted[i] / weights[i] * 100
	}
}

// percentile returns the mid-rank of v within sorted, in [0,1]
func percentile(sorted []float64, v float64) float64 {
	less := sort.SearchFloat64s(sorted, v)
	upTo := sort.Search(len(sorted), func(i int) bool { return sorted[i] > v })
	equal := upTo - less
	return (float64(less) + 0.5*float64(equal)) / float64(len(sorted))
}
