package ranking

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/stratlab/pkg/backtest"
	"github.com/ajitpratap0/stratlab/pkg/study"
)

var (
	maximize       = []study.Direction{study.Maximize}
	profitDrawdown = []study.Direction{study.Maximize, study.Minimize}
)

func completeTrial(number int, values []float64, metrics map[string]float64, constraints ...float64) *study.Trial {
	return &study.Trial{
		Number:      number,
		State:       study.StateComplete,
		Params:      backtest.ParameterSet{"x": float64(number)},
		Values:      values,
		Constraints: constraints,
		Metrics:     metrics,
	}
}

func profitOnly() ScoreConfig {
	return ScoreConfig{Weights: map[string]float64{backtest.MetricNetProfitPct: 1}}
}

func numbers(results []*Result) []int {
	out := make([]int, len(results))
	for i, r := range results {
		out[i] = r.TrialNumber
	}
	return out
}

func TestRank_OnlyCompleteTrials(t *testing.T) {
	trials := []*study.Trial{
		completeTrial(0, []float64{5}, map[string]float64{backtest.MetricNetProfitPct: 5}),
		{Number: 1, State: study.StateFailed, Reason: "no trades"},
		{Number: 2, State: study.StatePruned, Intermediate: map[int]float64{100: -3}},
		{Number: 3, State: study.StateRunning},
		completeTrial(4, []float64{9}, map[string]float64{backtest.MetricNetProfitPct: 9}),
	}

	results := Rank(trials, maximize, profitOnly())
	assert.Equal(t, []int{4, 0}, numbers(results))
	assert.Equal(t, 1, results[0].Rank)
	assert.Equal(t, 2, results[1].Rank)

	assert.Nil(t, Rank(trials[1:4], maximize, profitOnly()))
}

func TestRank_CompositeScore(t *testing.T) {
	cfg := ScoreConfig{
		Weights: map[string]float64{
			backtest.MetricNetProfitPct:   1,
			backtest.MetricMaxDrawdownPct: 1,
		},
		Invert: map[string]bool{backtest.MetricMaxDrawdownPct: true},
	}
	trials := []*study.Trial{
		// best profit, worst drawdown
		completeTrial(0, []float64{30}, map[string]float64{backtest.MetricNetProfitPct: 30, backtest.MetricMaxDrawdownPct: 40}),
		// middle on both
		completeTrial(1, []float64{20}, map[string]float64{backtest.MetricNetProfitPct: 20, backtest.MetricMaxDrawdownPct: 10}),
		// worst profit, best drawdown
		completeTrial(2, []float64{10}, map[string]float64{backtest.MetricNetProfitPct: 10, backtest.MetricMaxDrawdownPct: 5}),
	}

	results := Rank(trials, maximize, cfg)
	require.Len(t, results, 3)

	// Percentiles (mid-rank over 3): 1/6, 1/2, 5/6. Every trial averages to 1/2.
	for _, r := range results {
		assert.InDelta(t, 50, r.Score, 1e-9)
	}
	assert.ElementsMatch(t, []int{0, 1, 2}, numbers(results))
}

func TestRank_ScoreOrdersSingleObjective(t *testing.T) {
	cfg := ScoreConfig{Weights: map[string]float64{backtest.MetricSharpeRatio: 1}}
	trials := []*study.Trial{
		completeTrial(0, []float64{50}, map[string]float64{backtest.MetricSharpeRatio: 0.5}),
		completeTrial(1, []float64{10}, map[string]float64{backtest.MetricSharpeRatio: 2.0}),
		completeTrial(2, []float64{30}, map[string]float64{backtest.MetricSharpeRatio: 1.0}),
	}

	results := Rank(trials, maximize, cfg)
	assert.Equal(t, []int{1, 2, 0}, numbers(results))
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestRank_NaNMetricReweights(t *testing.T) {
	cfg := ScoreConfig{Weights: map[string]float64{
		backtest.MetricNetProfitPct:  1,
		backtest.MetricProfitFactor: 3,
	}}
	trials := []*study.Trial{
		completeTrial(0, []float64{10}, map[string]float64{backtest.MetricNetProfitPct: 10, backtest.MetricProfitFactor: math.NaN()}),
		completeTrial(1, []float64{5}, map[string]float64{backtest.MetricNetProfitPct: 5, backtest.MetricProfitFactor: 1.5}),
		completeTrial(2, []float64{1}, map[string]float64{backtest.MetricNetProfitPct: math.NaN(), backtest.MetricProfitFactor: math.NaN()}),
	}

	results := Rank(trials, maximize, cfg)
	require.Len(t, results, 3)

	byNumber := make(map[int]*Result)
	for _, r := range results {
		byNumber[r.TrialNumber] = r
	}

	// Profit percentiles over {5, 10}: 0.25, 0.75. Profit factor only defined for trial 1.
	assert.InDelta(t, 75, byNumber[0].Score, 1e-9)
	assert.InDelta(t, (0.25*1+0.5*3)/4*100, byNumber[1].Score, 1e-9)
	assert.True(t, math.IsNaN(byNumber[2].Score))
	assert.Equal(t, 2, results[2].TrialNumber)
}

func TestRank_SingleObjectiveFeasibleFirst(t *testing.T) {
	trials := []*study.Trial{
		completeTrial(0, []float64{100}, map[string]float64{backtest.MetricNetProfitPct: 100}, 2),
		completeTrial(1, []float64{5}, map[string]float64{backtest.MetricNetProfitPct: 5}, -1),
		completeTrial(2, []float64{80}, map[string]float64{backtest.MetricNetProfitPct: 80}, 0.5),
		completeTrial(3, []float64{7}, map[string]float64{backtest.MetricNetProfitPct: 7}, 0),
	}

	results := Rank(trials, maximize, profitOnly())
	assert.Equal(t, []int{3, 1, 2, 0}, numbers(results))
	assert.True(t, results[0].Feasible)
	assert.False(t, results[2].Feasible)
	assert.Equal(t, 0.5, results[2].Violation)
}

func TestRank_MultiObjectiveOrder(t *testing.T) {
	trials := []*study.Trial{
		completeTrial(0, []float64{10, 5}, nil),         // pareto
		completeTrial(1, []float64{8, 2}, nil),          // pareto
		completeTrial(2, []float64{7, 6}, nil),          // dominated
		completeTrial(3, []float64{50, 1}, nil, 3),      // infeasible, violation 3
		completeTrial(4, []float64{60, 0.5}, nil, 1, 1), // infeasible, violation 2
		completeTrial(5, []float64{6, 9}, nil),          // dominated
		completeTrial(6, []float64{10, 5}, nil),         // ties trial 0
	}

	results := Rank(trials, profitDrawdown, profitOnly())
	assert.Equal(t, []int{0, 6, 1, 2, 5, 4, 3}, numbers(results))

	front := ParetoFront(results)
	assert.Equal(t, []int{0, 6, 1}, numbers(front))
	for _, r := range results {
		if !r.Feasible {
			assert.False(t, r.ParetoOptimal)
		}
	}
}

func TestRank_InfeasibleDoNotShadowPareto(t *testing.T) {
	// An infeasible trial dominating everything must not remove feasible ones from the front
	trials := []*study.Trial{
		completeTrial(0, []float64{100, 0}, nil, 5),
		completeTrial(1, []float64{10, 5}, nil),
	}

	results := Rank(trials, profitDrawdown, profitOnly())
	assert.Equal(t, []int{1, 0}, numbers(results))
	assert.True(t, results[0].ParetoOptimal)
}

func TestRank_StableUnderPermutation(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	var trials []*study.Trial
	for i := 0; i < 40; i++ {
		metrics := map[string]float64{
			backtest.MetricNetProfitPct:   float64(rng.Intn(20)),
			backtest.MetricMaxDrawdownPct: float64(rng.Intn(10)),
		}
		var constraints []float64
		if i%5 == 0 {
			constraints = []float64{float64(rng.Intn(3))}
		}
		trials = append(trials, completeTrial(i,
			[]float64{metrics[backtest.MetricNetProfitPct], metrics[backtest.MetricMaxDrawdownPct]},
			metrics, constraints...))
	}

	for _, dirs := range [][]study.Direction{maximize, profitDrawdown} {
		objectives := make([]*study.Trial, len(trials))
		for i, tr := range trials {
			c := tr.Clone()
			c.Values = c.Values[:len(dirs)]
			objectives[i] = c
		}

		want := numbers(Rank(objectives, dirs, DefaultScoreConfig()))
		for k := 0; k < 5; k++ {
			shuffled := append([]*study.Trial(nil), objectives...)
			rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
			assert.Equal(t, want, numbers(Rank(shuffled, dirs, DefaultScoreConfig())))
		}
	}
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 2, 4}
	assert.InDelta(t, 0.125, percentile(sorted, 1), 1e-12)
	assert.InDelta(t, 0.5, percentile(sorted, 2), 1e-12)
	assert.InDelta(t, 0.875, percentile(sorted, 4), 1e-12)
	assert.InDelta(t, 0.5, percentile([]float64{3}, 3), 1e-12)
}

func TestScoreConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultScoreConfig().Validate())

	tests := []struct {
		name string
		cfg  ScoreConfig
	}{
		{"unknown metric", ScoreConfig{Weights: map[string]float64{"alpha": 1}}},
		{"negative weight", ScoreConfig{Weights: map[string]float64{backtest.MetricRoMaD: -1}}},
		{"nan weight", ScoreConfig{Weights: map[string]float64{backtest.MetricRoMaD: math.NaN()}}},
		{"unknown inversion", ScoreConfig{Invert: map[string]bool{"beta": true}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cfg.Validate())
		})
	}
}

func TestSummarize(t *testing.T) {
	trials := []*study.Trial{
		completeTrial(0, []float64{5}, map[string]float64{backtest.MetricNetProfitPct: 5}),
		completeTrial(1, []float64{9}, map[string]float64{backtest.MetricNetProfitPct: 9}),
		{Number: 2, State: study.StatePruned},
		{Number: 3, State: study.StateFailed},
		{Number: 4, State: study.StateRunning},
		{Number: 5, State: study.StateWaiting, Enqueued: true},
	}
	results := Rank(trials, maximize, profitOnly())

	s := Summarize(trials, results, 1500*time.Millisecond, true)
	assert.Equal(t, 5, s.TotalTrials)
	assert.Equal(t, 2, s.CompletedTrials)
	assert.Equal(t, 1, s.PrunedTrials)
	assert.Equal(t, 1, s.FailedTrials)
	assert.Equal(t, 1, s.RunningTrials)
	require.NotNil(t, s.BestTrialNumber)
	assert.Equal(t, 1, *s.BestTrialNumber)
	assert.Equal(t, 9.0, *s.BestValue)
	assert.Equal(t, 1.5, s.ElapsedSeconds)
	assert.True(t, s.MultiProcess)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"bestTrialNumber":1`)
	assert.Contains(t, string(data), `"multiProcess":true`)
}

func TestSummarize_NoResults(t *testing.T) {
	s := Summarize([]*study.Trial{{Number: 0, State: study.StateFailed}}, nil, time.Second, false)
	assert.Equal(t, 1, s.TotalTrials)
	assert.Nil(t, s.BestTrialNumber)
	assert.Nil(t, s.BestValue)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"bestValue":null`)
}

func TestConstraint(t *testing.T) {
	metrics := map[string]float64{
		backtest.MetricMaxDrawdownPct: 25,
		backtest.MetricTotalTrades:    40,
		backtest.MetricProfitFactor:   math.NaN(),
	}
	constraints := []Constraint{
		{Metric: backtest.MetricMaxDrawdownPct, Operator: OpLessEqual, Threshold: 20, Enabled: true},
		{Metric: backtest.MetricTotalTrades, Operator: OpGreaterEqual, Threshold: 30, Enabled: true},
		{Metric: backtest.MetricWinRate, Operator: OpGreaterEqual, Threshold: 90, Enabled: false},
		{Metric: backtest.MetricProfitFactor, Operator: OpGreaterEqual, Threshold: 1, Enabled: true},
	}

	v := Violations(constraints, metrics)
	require.Len(t, v, 3)
	assert.Equal(t, 5.0, v[0])
	assert.Equal(t, -10.0, v[1])
	assert.True(t, math.IsNaN(v[2]))

	assert.Nil(t, Violations(constraints[2:3], metrics))

	for _, c := range constraints {
		assert.NoError(t, c.Validate())
	}
	assert.Error(t, Constraint{Metric: "gamma", Operator: OpLessEqual}.Validate())
	assert.Error(t, Constraint{Metric: backtest.MetricWinRate, Operator: "=="}.Validate())
	assert.Error(t, Constraint{Metric: backtest.MetricWinRate, Operator: OpLessEqual, Threshold: math.Inf(1)}.Validate())
}

func TestWriteCSV(t *testing.T) {
	schema := []*backtest.Parameter{
		{Name: "x", Type: backtest.ParamTypeFloat, Default: 1.0, Min: 0, Max: 10, Enabled: true},
		{Name: "mode", Type: backtest.ParamTypeCategorical, Default: "a", Values: []string{"a", "b"}},
	}
	trials := []*study.Trial{
		completeTrial(3, []float64{12.5}, map[string]float64{backtest.MetricNetProfitPct: 12.5, backtest.MetricSharpeRatio: math.NaN()}),
	}
	results := Rank(trials, maximize, profitOnly())

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, results, schema, []string{backtest.MetricNetProfitPct}))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	header, row := rows[0], rows[1]
	require.Len(t, row, len(header))
	col := func(name string) string {
		for i, h := range header {
			if h == name {
				return row[i]
			}
		}
		t.Fatalf("missing column %s", name)
		return ""
	}

	assert.Equal(t, "1", col("rank"))
	assert.Equal(t, "3", col("trial"))
	assert.Equal(t, "3", col("x"))
	assert.Equal(t, "a", col("mode"))
	assert.Equal(t, "12.5", col("objective_net_profit_pct"))
	assert.Equal(t, "", col(backtest.MetricSharpeRatio))
	assert.Equal(t, "true", col("feasible"))
}

func TestResult_MarshalJSON(t *testing.T) {
	r := &Result{Rank: 1, TrialNumber: 7, Values: []float64{12.5}, Violation: math.Inf(1), Score: math.NaN()}
	data, err := json.Marshal(r)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Nil(t, decoded["violation"])
	assert.Equal(t, 7.0, decoded["trial_number"])
	assert.NotContains(t, decoded, "Score")

	r.Violation = 0.5
	data, err = json.Marshal(r)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 0.5, decoded["violation"])
}
