package runner

import (
	"fmt"

	"github.com/ajitpratap0/stratlab/pkg/backtest"
)

// PeriodResult is the simulation of one parameter set over one period
type PeriodResult struct {
	Name    string
	Period  backtest.Period
	Result  *backtest.SimResult
	Metrics *backtest.Metrics
}

// Backtest simulates params over the in-sample period and, when configured, the
// forward-test and out-of-sample periods. Missing parameters take their defaults.
func (e *Env) Backtest(params backtest.ParameterSet) ([]*PeriodResult, error) {
	full := params.Clone()
	if full == nil {
		full = make(backtest.ParameterSet)
	}
	for _, p := range e.Schema {
		if _, ok := full[p.Name]; !ok {
			full[p.Name] = p.Default
		}
	}
	full, err := e.Space.Coerce(full)
	if err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}

	periods := []struct {
		name   string
		period backtest.Period
		ok     bool
	}{
		{"is", e.Periods.IS, true},
		{"ft", e.Periods.FT, e.Periods.HasFT()},
		{"oos", e.Periods.OOS, e.Periods.HasOOS()},
	}

	sim := NewObjective(e).sim
	var out []*PeriodResult
	for _, p := range periods {
		if !p.ok {
			continue
		}

		series, tradeStart, err := backtest.SlicePeriod(e.Bars, p.period, e.Config.Data.WarmupBars)
		if err != nil {
			return nil, fmt.Errorf("failed to slice %s period: %w", p.name, err)
		}

		result, err := e.Strategy.Simulate(full, series, tradeStart, sim)
		if err != nil {
			return nil, fmt.Errorf("failed to simulate %s period: %w", p.name, err)
		}

		metrics, err := backtest.CalculateMetrics(result)
		if err != nil {
			return nil, fmt.Errorf("failed to calculate %s metrics: %w", p.name, err)
		}

		out = append(out, &PeriodResult{
			Name:    p.name,
			Period:  p.period,
			Result:  result,
			Metrics: metrics,
		})
	}
	return out, nil
}
