package runner

import (
	"context"
	"fmt"
	"math"

	"github.com/ajitpratap0/stratlab/internal/metrics"
	"github.com/ajitpratap0/stratlab/pkg/backtest"
	"github.com/ajitpratap0/stratlab/pkg/ranking"
	"github.com/ajitpratap0/stratlab/pkg/study"
)

// Objective evaluates one parameter set by simulating it over the in-sample bars
type Objective struct {
	env         *Env
	objectives  []string
	constraints []ranking.Constraint
	sim         backtest.SimConfig
}

// NewObjective creates the objective of a run
func NewObjective(env *Env) *Objective {
	cfg := env.Config
	return &Objective{
		env:         env,
		objectives:  cfg.Optimization.Objectives,
		constraints: cfg.Optimization.Constraints,
		sim: backtest.SimConfig{
			InitialCapital:  cfg.Simulation.InitialCapital,
			CommissionPct:   cfg.Simulation.CommissionPct,
			LotStep:         cfg.Simulation.LotStep,
			CheckpointEvery: cfg.Simulation.CheckpointEvery,
		},
	}
}

// Evaluate implements study.ObjectiveFunc. A trial whose objective is undefined
// (no trades, zero drawdown ratios) fails instead of scoring a penalty value.
func (o *Objective) Evaluate(_ context.Context, eval *study.Evaluation) study.Outcome {
	sim := o.sim
	if sim.CheckpointEvery > 0 {
		sim.OnCheckpoint = func(step int, profitPct float64) bool {
			return !eval.Report(step, profitPct)
		}
	}

	result, err := o.env.Strategy.Simulate(eval.Params, o.env.Series, o.env.TradeStart, sim)
	if err != nil {
		return study.Failed(fmt.Sprintf("simulation failed: %v", err), nil)
	}
	metrics.RecordBars(result.BarsProcessed)

	if result.Stopped && eval.ShouldPrune() {
		return study.Pruned(fmt.Sprintf("pruned after %d bars", result.BarsProcessed), nil)
	}

	m, err := backtest.CalculateMetrics(result)
	if err != nil {
		return study.Failed(fmt.Sprintf("failed to calculate metrics: %v", err), nil)
	}
	values := m.Map()

	// Profit and drawdown of a flat run are 0, not a measurement
	if result.TotalTrades == 0 {
		return study.Failed("no trades", values)
	}

	objectives := make([]float64, len(o.objectives))
	for i, name := range o.objectives {
		v, ok := values[name]
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			return study.Failed(fmt.Sprintf("objective %s is undefined", name), values)
		}
		objectives[i] = v
	}

	return study.Complete(objectives, ranking.Violations(o.constraints, values), values)
}
