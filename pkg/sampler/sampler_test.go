package sampler

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/stratlab/pkg/backtest"
	"github.com/ajitpratap0/stratlab/pkg/searchspace"
	"github.com/ajitpratap0/stratlab/pkg/study"
)

var maximize = []study.Direction{study.Maximize}

func testSpace(t *testing.T) *searchspace.Space {
	t.Helper()
	space, err := searchspace.Build([]*backtest.Parameter{
		{Name: "x", Type: backtest.ParamTypeFloat, Default: 5.0, Min: 0, Max: 10, Enabled: true},
		{Name: "n", Type: backtest.ParamTypeInt, Default: 3, Min: 1, Max: 9, Step: 1, Enabled: true},
		{Name: "mode", Type: backtest.ParamTypeCategorical, Default: "a", Values: []string{"a", "b", "c"}, Enabled: true},
		{Name: "flag", Type: backtest.ParamTypeBool, Default: true},
	})
	require.NoError(t, err)
	return space
}

func completeTrial(number int, params backtest.ParameterSet, values ...float64) *study.Trial {
	return &study.Trial{Number: number, State: study.StateComplete, Params: params, Values: values}
}

func assertInSpace(t *testing.T, space *searchspace.Space, params backtest.ParameterSet) {
	t.Helper()
	coerced, err := space.Coerce(params)
	require.NoError(t, err)
	assert.Equal(t, params, coerced)
}

func TestNew(t *testing.T) {
	for _, name := range []string{NameTPE, NameNSGA2, NameRandom, "TPE"} {
		s, err := New(name, Options{Seed: 1})
		require.NoError(t, err)
		assert.NotNil(t, s)
	}

	s, err := New(NameTPE, Options{Seed: 1, ConstantLiar: true, StartupTrials: 3})
	require.NoError(t, err)
	tpe := s.(*TPE)
	assert.True(t, tpe.ConstantLiar)
	assert.Equal(t, 3, tpe.StartupTrials)

	_, err = New("cmaes", Options{})
	assert.Error(t, err)
}

func TestRandom_DeterministicAndInBounds(t *testing.T) {
	space := testSpace(t)
	a, b := NewRandom(42), NewRandom(42)

	for i := 0; i < 20; i++ {
		pa, err := a.Sample(nil, space, maximize)
		require.NoError(t, err)
		pb, err := b.Sample(nil, space, maximize)
		require.NoError(t, err)

		assert.Equal(t, pa, pb)
		assertInSpace(t, space, pa)
		assert.Equal(t, true, pa["flag"])
	}
}

func TestTPE_StartupIsRandom(t *testing.T) {
	space := testSpace(t)
	tpe := NewTPE(7)
	random := NewRandom(7)

	p1, err := tpe.Sample(nil, space, maximize)
	require.NoError(t, err)
	p2, err := random.Sample(nil, space, maximize)
	require.NoError(t, err)
	assert.Equal(t, p2, p1)
}

func TestTPE_IgnoresFailedAndPrunedTrials(t *testing.T) {
	space := testSpace(t)
	rng := rand.New(rand.NewSource(3))

	var clean []*study.Trial
	for i := 0; i < 15; i++ {
		params, err := randomParams(space, rng)
		require.NoError(t, err)
		x, _ := params.Float("x")
		clean = append(clean, completeTrial(i, params, -math.Abs(x-7)))
	}

	noisy := append([]*study.Trial(nil), clean...)
	noisy = append(noisy,
		&study.Trial{Number: 15, State: study.StateFailed, Params: backtest.ParameterSet{"x": 0.0, "n": 1, "mode": "c", "flag": true}},
		&study.Trial{Number: 16, State: study.StatePruned, Params: backtest.ParameterSet{"x": 0.5, "n": 1, "mode": "c", "flag": true}},
	)

	a, err := NewTPE(11).Sample(clean, space, maximize)
	require.NoError(t, err)
	b, err := NewTPE(11).Sample(noisy, space, maximize)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCompleted_SkipsFailedTrialsWithMetrics(t *testing.T) {
	params := backtest.ParameterSet{"x": 1.0, "n": 1, "mode": "a", "flag": false}
	history := []*study.Trial{
		completeTrial(0, params, 4.5),
		{
			Number:  1,
			State:   study.StateFailed,
			Params:  params,
			Reason:  "no trades",
			Metrics: map[string]float64{backtest.MetricNetProfitPct: 0, backtest.MetricTotalTrades: 0},
		},
	}

	obs := completed(history, 1)
	require.Len(t, obs, 1)
	assert.Equal(t, 0, obs[0].number)

	// Only running trials get a liar
	assert.Len(t, withLiars(obs, history, 1), 1)
}

func TestTPE_ConcentratesNearOptimum(t *testing.T) {
	space := testSpace(t)
	tpe := NewTPE(5)

	var history []*study.Trial
	var lateError float64
	const total, late = 80, 20
	for i := 0; i < total; i++ {
		params, err := tpe.Sample(history, space, maximize)
		require.NoError(t, err)
		assertInSpace(t, space, params)

		x, _ := params.Float("x")
		history = append(history, completeTrial(i, params, -math.Abs(x-7)))
		if i >= total-late {
			lateError += math.Abs(x - 7)
		}
	}

	// Uniform sampling over [0,10] averages 2.9 away from 7
	assert.Less(t, lateError/late, 2.0)
}

func TestWithLiars(t *testing.T) {
	obs := []observation{
		{number: 0, values: []float64{1, 10}},
		{number: 1, values: []float64{3, 30}},
		{number: 2, values: []float64{2, 20}},
	}
	history := []*study.Trial{
		{Number: 3, State: study.StateRunning, Params: backtest.ParameterSet{"x": 1.0}},
		{Number: 4, State: study.StateFailed, Params: backtest.ParameterSet{"x": 2.0}},
		{Number: 5, State: study.StateWaiting, Params: backtest.ParameterSet{"x": 3.0}},
	}

	out := withLiars(obs, history, 2)
	require.Len(t, out, 4)
	assert.True(t, out[3].liar)
	assert.Equal(t, 3, out[3].number)
	assert.Equal(t, []float64{2, 20}, out[3].values)

	assert.Empty(t, withLiars(nil, history, 2))
}

func TestRankOrder(t *testing.T) {
	obs := []observation{
		{number: 0, values: []float64{5}},
		{number: 1, values: []float64{9}, violation: 1},
		{number: 2, values: []float64{7}},
		{number: 3, values: []float64{7}},
		{number: 4, values: []float64{1}, violation: 0.5},
	}

	assert.Equal(t, []int{2, 3, 0, 4, 1}, rankOrder(obs, maximize))
	assert.Equal(t, []int{0, 2, 3, 4, 1}, rankOrder(obs, []study.Direction{study.Minimize}))
}

func TestNondominatedFronts(t *testing.T) {
	dirs := []study.Direction{study.Maximize, study.Minimize}
	obs := []observation{
		{values: []float64{10, 5}}, // front 0
		{values: []float64{8, 2}},  // front 0
		{values: []float64{7, 6}},  // dominated by both
		{values: []float64{20, 1}, violation: 2},
	}

	assert.Equal(t, []int{0, 0, 1, 2}, nondominatedFronts(obs, dirs))
}

func TestGamma(t *testing.T) {
	assert.Equal(t, 1, gamma(1))
	assert.Equal(t, 2, gamma(11))
	assert.Equal(t, 25, gamma(1000))
}

func TestParzen_IntegratesToOne(t *testing.T) {
	p := newParzen([]float64{0.1, 0.15, 0.8}, 1.0)

	const steps = 2000
	var total float64
	for i := 0; i < steps; i++ {
		x := (float64(i) + 0.5) / steps
		total += math.Exp(p.logPDF(x)) / steps
	}
	assert.InDelta(t, 1.0, total, 0.01)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		x := p.sample(rng)
		assert.GreaterOrEqual(t, x, 0.0)
		assert.LessOrEqual(t, x, 1.0)
	}
}

func TestCategoricalEstimator(t *testing.T) {
	c := newCategorical([]int{0, 0, 0, 2}, 3, 3)

	// weights 4, 1, 2 out of 7
	assert.InDelta(t, 4.0/7, c.probs[0], 1e-12)
	assert.InDelta(t, 1.0/7, c.probs[1], 1e-12)
	assert.InDelta(t, math.Log(2.0/7), c.logPMF(2), 1e-12)
}
