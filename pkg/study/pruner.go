package study

import (
	"sort"
)

// Pruner decides whether a running trial should stop early
type Pruner interface {
	// Prune is called after trial reports value at step. history holds the other
	// trials of the run as last read from the log.
	Prune(trial *Trial, step int, value float64, history []*Trial) bool
}

// MedianPruner stops a trial whose intermediate value is worse than the median of
// the completed trials' values at the same step
type MedianPruner struct {
	// StartupTrials is the number of completed trials needed before pruning starts
	StartupTrials int
	// WarmupSteps disables pruning for the first steps of every trial
	WarmupSteps int
	// Interval checks only every Interval-th step after warmup
	Interval int
	// Direction of the intermediate value
	Direction Direction
}

// NewMedianPruner creates a median pruner with the usual defaults
func NewMedianPruner(direction Direction) *MedianPruner {
	return &MedianPruner{
		StartupTrials: 5,
		WarmupSteps:   0,
		Interval:      1,
		Direction:     direction,
	}
}

// Prune implements Pruner
func (p *MedianPruner) Prune(trial *Trial, step int, value float64, history []*Trial) bool {
	if step < p.WarmupSteps {
		return false
	}
	interval := p.Interval
	if interval < 1 {
		interval = 1
	}
	if (step-p.WarmupSteps)%interval != 0 {
		return false
	}

	var peers []float64
	completed := 0
	for _, t := range history {
		if t.Number == trial.Number || t.State != StateComplete {
			continue
		}
		completed++
		if v, ok := t.Intermediate[step]; ok {
			peers = append(peers, v)
		}
	}

	if completed < p.StartupTrials || len(peers) == 0 {
		return false
	}

	return p.Direction.Better(median(peers), value)
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
