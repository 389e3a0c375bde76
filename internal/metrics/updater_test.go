package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUpdater(t *testing.T) {
	interval := 10 * time.Second
	updater := NewUpdater(nil, interval)

	assert.NotNil(t, updater)
	assert.Equal(t, interval, updater.interval)
	assert.NotNil(t, updater.stopCh)
}

func TestUpdater_Stop(t *testing.T) {
	updater := NewUpdater(nil, time.Second)

	assert.NotPanics(t, func() {
		updater.Stop()
	})

	_, ok := <-updater.stopCh
	assert.False(t, ok, "stopCh should be closed")
}

func TestUpdater_PublishesSnapshot(t *testing.T) {
	source := func(ctx context.Context) (*Snapshot, error) {
		return &Snapshot{
			Counts:  map[string]int{"COMPLETE": 7, "RUNNING": 2},
			Best:    12.5,
			HasBest: true,
		}, nil
	}

	var seen *Snapshot
	updater := NewUpdater(source, time.Hour).OnUpdate(func(s *Snapshot) { seen = s })
	updater.update(context.Background())

	require.NotNil(t, seen)
	assert.Equal(t, 7.0, testutil.ToFloat64(TrialsInLog.WithLabelValues("COMPLETE")))
	assert.Equal(t, 2.0, testutil.ToFloat64(TrialsInLog.WithLabelValues("RUNNING")))
	assert.Equal(t, 12.5, testutil.ToFloat64(BestObjective))
}

func TestUpdater_SourceErrorSkipsCallback(t *testing.T) {
	source := func(ctx context.Context) (*Snapshot, error) {
		return nil, errors.New("log unavailable")
	}

	called := false
	updater := NewUpdater(source, time.Hour).OnUpdate(func(*Snapshot) { called = true })
	assert.NotPanics(t, func() { updater.update(context.Background()) })
	assert.False(t, called)
}

func TestUpdater_StartStopsOnCancel(t *testing.T) {
	calls := make(chan struct{}, 10)
	source := func(ctx context.Context) (*Snapshot, error) {
		calls <- struct{}{}
		return &Snapshot{Counts: map[string]int{}}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	updater := NewUpdater(source, time.Hour)

	done := make(chan struct{})
	go func() {
		updater.Start(ctx)
		close(done)
	}()

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("updater did not refresh on start")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("updater did not stop on cancel")
	}
}
