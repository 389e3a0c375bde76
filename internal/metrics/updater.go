package metrics

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"
)

// Snapshot is a point-in-time view of a run used to refresh gauges
type Snapshot struct {
	Counts  map[string]int
	Best    float64
	HasBest bool
}

// SnapshotFunc reads the current run snapshot
type SnapshotFunc func(ctx context.Context) (*Snapshot, error)

// Updater periodically refreshes the run gauges from the shared trial log
type Updater struct {
	source   SnapshotFunc
	interval time.Duration
	onUpdate func(*Snapshot)
	stopCh   chan struct{}
}

// NewUpdater creates a new metrics updater
func NewUpdater(source SnapshotFunc, interval time.Duration) *Updater {
	return &Updater{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// OnUpdate registers a callback invoked after every successful refresh
func (u *Updater) OnUpdate(fn func(*Snapshot)) *Updater {
	u.onUpdate = fn
	return u
}

// Start begins the metrics update loop
func (u *Updater) Start(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	// Update immediately on start
	u.update(ctx)

	for {
		select {
		case <-ticker.C:
			u.update(ctx)
		case <-u.stopCh:
			log.Debug().Msg("Metrics updater stopped")
			return
		case <-ctx.Done():
			log.Debug().Msg("Metrics updater context cancelled")
			return
		}
	}
}

// Stop stops the metrics updater
func (u *Updater) Stop() {
	close(u.stopCh)
}

// update reads one snapshot and publishes it
func (u *Updater) update(ctx context.Context) {
	if u.source == nil {
		return
	}

	snap, err := u.source(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read run snapshot")
		return
	}

	SetLogProgress(snap.Counts)
	if snap.HasBest && !math.IsNaN(snap.Best) && !math.IsInf(snap.Best, 0) {
		SetBestObjective(snap.Best)
	}

	if u.onUpdate != nil {
		u.onUpdate(snap)
	}
}
