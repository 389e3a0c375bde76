package study

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/stratlab/internal/journal"
	"github.com/ajitpratap0/stratlab/pkg/backtest"
)

func testHeader(budget int) Header {
	return Header{
		RunID:      "test-run",
		Objectives: []string{backtest.MetricNetProfitPct},
		Directions: []Direction{Maximize},
		Budget:     budget,
	}
}

func newTestLog(t *testing.T, budget int) (*TrialLog, *journal.Memory) {
	t.Helper()
	mem := journal.NewMemory()
	l := NewTrialLog(mem)
	require.NoError(t, l.Init(context.Background(), testHeader(budget)))
	return l, mem
}

func constantSuggest(x float64) SuggestFunc {
	return func(history []*Trial) (backtest.ParameterSet, error) {
		return backtest.ParameterSet{"x": x}, nil
	}
}

func TestTrialLog_Init(t *testing.T) {
	ctx := context.Background()
	l, mem := newTestLog(t, 10)

	h, err := l.Header(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test-run", h.RunID)
	assert.Equal(t, LogFormatVersion, h.Version)
	assert.False(t, h.CreatedAt.IsZero())

	// Another handle sees the same header and cannot overwrite it
	other := NewTrialLog(mem.Handle())
	err = other.Init(ctx, testHeader(5))
	assert.ErrorIs(t, err, ErrLogInitialized)

	h, err = other.Header(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, h.Budget)
}

func TestTrialLog_InitRejectsMismatchedDirections(t *testing.T) {
	l := NewTrialLog(journal.NewMemory())
	err := l.Init(context.Background(), Header{Objectives: []string{"a", "b"}, Directions: []Direction{Maximize}})
	assert.Error(t, err)
}

func TestTrialLog_NoHeader(t *testing.T) {
	ctx := context.Background()
	l := NewTrialLog(journal.NewMemory())

	_, err := l.Header(ctx)
	assert.ErrorIs(t, err, ErrNoHeader)

	_, err = l.Reserve(ctx, "w0", constantSuggest(1))
	assert.ErrorIs(t, err, ErrNoHeader)
}

func TestTrialLog_ReserveNumbering(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLog(t, 0)

	for i := 0; i < 3; i++ {
		trial, err := l.Reserve(ctx, "w0", constantSuggest(float64(i)))
		require.NoError(t, err)
		assert.Equal(t, i, trial.Number)
		assert.Equal(t, StateRunning, trial.State)
		assert.Equal(t, "w0", trial.Worker)
		assert.Equal(t, float64(i), trial.Params["x"])
	}
}

func TestTrialLog_EnqueuedTrialsClaimedFirst(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLog(t, 0)

	require.NoError(t, l.Enqueue(ctx,
		backtest.ParameterSet{"x": 1.0},
		backtest.ParameterSet{"x": 2.0},
	))

	suggestCalled := false
	suggest := func(history []*Trial) (backtest.ParameterSet, error) {
		suggestCalled = true
		return backtest.ParameterSet{"x": 9.0}, nil
	}

	first, err := l.Reserve(ctx, "w0", suggest)
	require.NoError(t, err)
	second, err := l.Reserve(ctx, "w1", suggest)
	require.NoError(t, err)
	assert.False(t, suggestCalled)

	assert.Equal(t, 0, first.Number)
	assert.True(t, first.Enqueued)
	assert.Equal(t, 1.0, first.Params["x"])
	assert.Equal(t, 1, second.Number)
	assert.Equal(t, "w1", second.Worker)

	third, err := l.Reserve(ctx, "w0", suggest)
	require.NoError(t, err)
	assert.True(t, suggestCalled)
	assert.Equal(t, 2, third.Number)
	assert.False(t, third.Enqueued)
}

func TestTrialLog_BudgetExhausted(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLog(t, 2)

	for i := 0; i < 2; i++ {
		_, err := l.Reserve(ctx, "w0", constantSuggest(1))
		require.NoError(t, err)
	}

	_, err := l.Reserve(ctx, "w0", constantSuggest(1))
	assert.ErrorIs(t, err, ErrBudgetExhausted)
}

func TestTrialLog_WaitingTrialsDoNotConsumeBudget(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLog(t, 1)

	require.NoError(t, l.Enqueue(ctx, backtest.ParameterSet{"x": 1.0}, backtest.ParameterSet{"x": 2.0}))

	_, err := l.Reserve(ctx, "w0", constantSuggest(1))
	require.NoError(t, err)

	_, err = l.Reserve(ctx, "w0", constantSuggest(1))
	assert.ErrorIs(t, err, ErrBudgetExhausted)

	trials, err := l.Trials(ctx)
	require.NoError(t, err)
	require.Len(t, trials, 2)
	assert.Equal(t, StateWaiting, trials[1].State)
}

func TestTrialLog_Timeout(t *testing.T) {
	ctx := context.Background()
	l := NewTrialLog(journal.NewMemory())

	h := testHeader(0)
	h.TimeLimit = 60
	h.CreatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, l.Init(ctx, h))

	_, err := l.Reserve(ctx, "w0", constantSuggest(1))
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestTrialLog_SuggestError(t *testing.T) {
	l, _ := newTestLog(t, 0)
	_, err := l.Reserve(context.Background(), "w0", func([]*Trial) (backtest.ParameterSet, error) {
		return nil, errors.New("no candidates")
	})
	assert.Error(t, err)
}

func TestTrialLog_FinishAndReplay(t *testing.T) {
	ctx := context.Background()
	l, mem := newTestLog(t, 0)

	trial, err := l.Reserve(ctx, "w0", constantSuggest(3))
	require.NoError(t, err)
	require.NoError(t, l.Report(ctx, trial.Number, 1, 4.5))
	require.NoError(t, l.Finish(ctx, trial.Number, Complete(
		[]float64{12.5},
		[]float64{-1, math.NaN()},
		map[string]float64{backtest.MetricSharpeRatio: math.NaN(), backtest.MetricTotalTrades: 7},
	)))

	// A fresh handle rebuilds the same state from the records
	replayed, err := NewTrialLog(mem.Handle()).Trials(ctx)
	require.NoError(t, err)
	require.Len(t, replayed, 1)

	got := replayed[0]
	assert.Equal(t, StateComplete, got.State)
	assert.Equal(t, []float64{12.5}, got.Values)
	assert.Equal(t, 4.5, got.Intermediate[1])
	assert.True(t, math.IsNaN(got.Metrics[backtest.MetricSharpeRatio]))
	assert.Equal(t, 7.0, got.Metrics[backtest.MetricTotalTrades])
	assert.True(t, math.IsNaN(got.Constraints[1]))
	assert.False(t, got.Feasible())
	assert.False(t, got.FinishedAt.IsZero())
}

func TestTrialLog_FinishIgnoresUnknownAndRepeatedTrials(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLog(t, 0)

	trial, err := l.Reserve(ctx, "w0", constantSuggest(1))
	require.NoError(t, err)
	require.NoError(t, l.Finish(ctx, trial.Number, Failed("boom", nil)))
	require.NoError(t, l.Finish(ctx, trial.Number, Complete([]float64{1}, nil, nil)))
	require.NoError(t, l.Finish(ctx, 42, Complete([]float64{1}, nil, nil)))

	trials, err := l.Trials(ctx)
	require.NoError(t, err)
	require.Len(t, trials, 1)
	assert.Equal(t, StateFailed, trials[0].State)
	assert.Equal(t, "boom", trials[0].Reason)
}

func TestTrialLog_RejectsIncompatibleVersion(t *testing.T) {
	ctx := context.Background()
	mem := journal.NewMemory()

	h := testHeader(0)
	h.Version = "2.0.0"
	data, err := json.Marshal(record{Op: opHeader, Header: &h, Time: time.Now()})
	require.NoError(t, err)
	_, err = mem.Append(ctx, 0, data)
	require.NoError(t, err)

	_, err = NewTrialLog(mem).Header(ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported log format version")
}

func TestTrialLog_ConcurrentWorkersRespectBudget(t *testing.T) {
	ctx := context.Background()
	const budget, workers = 50, 5
	_, mem := newTestLog(t, budget)

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			l := NewTrialLog(mem.Handle())
			for {
				trial, err := l.Reserve(ctx, "w", constantSuggest(float64(w)))
				if errors.Is(err, ErrBudgetExhausted) {
					return
				}
				if err != nil {
					errs <- err
					return
				}
				if err := l.Finish(ctx, trial.Number, Complete([]float64{float64(w)}, nil, nil)); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	trials, err := NewTrialLog(mem.Handle()).Trials(ctx)
	require.NoError(t, err)
	require.Len(t, trials, budget)
	for i, trial := range trials {
		assert.Equal(t, i, trial.Number)
		assert.Equal(t, StateComplete, trial.State)
	}
}
