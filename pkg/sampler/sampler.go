// Package sampler implements the parameter proposal strategies of the optimizer:
// tree-structured Parzen estimation, NSGA-II and uniform random sampling.
//
// Samplers only learn from COMPLETE trials. FAILED and PRUNED trials are
// invisible to them; RUNNING trials are visible to TPE only when the constant
// liar is enabled, and then with a median placeholder value.
package sampler

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/ajitpratap0/stratlab/pkg/backtest"
	"github.com/ajitpratap0/stratlab/pkg/searchspace"
	"github.com/ajitpratap0/stratlab/pkg/study"
)

// Sampler names accepted by New
const (
	NameTPE    = "tpe"
	NameNSGA2  = "nsga2"
	NameRandom = "random"
)

// Options configures a sampler created by New
type Options struct {
	Seed int64

	// ConstantLiar makes TPE treat running trials as finished with a median value
	ConstantLiar bool

	// StartupTrials is the number of completed trials TPE samples randomly before modelling
	StartupTrials int

	// PopulationSize is the NSGA-II population size
	PopulationSize int
}

// New creates the sampler registered under name
func New(name string, opts Options) (study.Sampler, error) {
	switch strings.ToLower(name) {
	case NameTPE:
		t := NewTPE(opts.Seed)
		t.ConstantLiar = opts.ConstantLiar
		if opts.StartupTrials > 0 {
			t.StartupTrials = opts.StartupTrials
		}
		return t, nil
	case NameNSGA2:
		n := NewNSGA2(opts.Seed)
		if opts.PopulationSize > 0 {
			n.PopulationSize = opts.PopulationSize
		}
		return n, nil
	case NameRandom:
		return NewRandom(opts.Seed), nil
	default:
		return nil, fmt.Errorf("unknown sampler %q (expected tpe, nsga2 or random)", name)
	}
}

// ============================================================================
// OBSERVATIONS
// ============================================================================

// observation is a trial as a sampler sees it
type observation struct {
	number    int
	params    backtest.ParameterSet
	values    []float64
	violation float64
	liar      bool
}

// completed returns the COMPLETE trials with one value per objective
func completed(history []*study.Trial, objectives int) []observation {
	var out []observation
	for _, t := range history {
		if t.State != study.StateComplete || len(t.Values) != objectives {
			continue
		}
		out = append(out, observation{
			number:    t.Number,
			params:    t.Params,
			values:    t.Values,
			violation: t.Violation(),
		})
	}
	return out
}

// withLiars adds running trials with the per-objective median of obs as their value
func withLiars(obs []observation, history []*study.Trial, objectives int) []observation {
	if len(obs) == 0 {
		return obs
	}

	lie := make([]float64, objectives)
	column := make([]float64, len(obs))
	for k := 0; k < objectives; k++ {
		for i, o := range obs {
			column[i] = o.values[k]
		}
		lie[k] = median(column)
	}

	out := append([]observation(nil), obs...)
	for _, t := range history {
		if t.State != study.StateRunning || t.Params == nil {
			continue
		}
		out = append(out, observation{number: t.Number, params: t.Params, values: lie, liar: true})
	}
	return out
}

// rankOrder sorts observation indices best first: feasible before infeasible
// (by violation), then by objective for one direction or by non-dominated front
// for several, ties broken by trial number
func rankOrder(obs []observation, directions []study.Direction) []int {
	var fronts []int
	if len(directions) > 1 {
		fronts = nondominatedFronts(obs, directions)
	}

	order := make([]int, len(obs))
	for i := range order {
		order[i] = i
	}

	sort.SliceStable(order, func(a, b int) bool {
		oa, ob := obs[order[a]], obs[order[b]]
		if oa.violation != ob.violation {
			return oa.violation < ob.violation
		}
		if fronts != nil {
			if fronts[order[a]] != fronts[order[b]] {
				return fronts[order[a]] < fronts[order[b]]
			}
		} else if oa.values[0] != ob.values[0] {
			return directions[0].Better(oa.values[0], ob.values[0])
		}
		return oa.number < ob.number
	})
	return order
}

// nondominatedFronts returns the Pareto front index of each observation, 0 being
// the non-dominated set
func nondominatedFronts(obs []observation, directions []study.Direction) []int {
	n := len(obs)
	front := make([]int, n)
	dominatedBy := make([]int, n)
	dominates := make([][]int, n)

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			switch {
			case constrainedDominates(obs[i], obs[j], directions):
				dominates[i] = append(dominates[i], j)
				dominatedBy[j]++
			case constrainedDominates(obs[j], obs[i], directions):
				dominates[j] = append(dominates[j], i)
				dominatedBy[i]++
			}
		}
	}

	var current []int
	for i := 0; i < n; i++ {
		if dominatedBy[i] == 0 {
			current = append(current, i)
		}
	}

	for rank := 0; len(current) > 0; rank++ {
		var next []int
		for _, i := range current {
			front[i] = rank
			for _, j := range dominates[i] {
				dominatedBy[j]--
				if dominatedBy[j] == 0 {
					next = append(next, j)
				}
			}
		}
		current = next
	}
	return front
}

// constrainedDominates prefers feasible trials, then lower violation, then Pareto dominance
func constrainedDominates(a, b observation, directions []study.Direction) bool {
	aFeasible, bFeasible := a.violation <= 0, b.violation <= 0
	switch {
	case aFeasible && !bFeasible:
		return true
	case !aFeasible && bFeasible:
		return false
	case !aFeasible && !bFeasible:
		return a.violation < b.violation
	}
	return study.Dominates(a.values, b.values, directions)
}

// ============================================================================
// HELPERS
// ============================================================================

// randomParams draws a uniform point of the space
func randomParams(space *searchspace.Space, rng *rand.Rand) (backtest.ParameterSet, error) {
	point := make([]float64, len(space.Dimensions))
	for i := range point {
		point[i] = rng.Float64()
	}
	return space.Denormalize(point)
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
