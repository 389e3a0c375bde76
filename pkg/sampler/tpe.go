package sampler

import (
	"math"
	"math/rand"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/stratlab/pkg/backtest"
	"github.com/ajitpratap0/stratlab/pkg/searchspace"
	"github.com/ajitpratap0/stratlab/pkg/study"
)

// TPE is a univariate tree-structured Parzen estimator. Observations are split
// into a good and a bad group; every dimension is sampled from the good-group
// density at the candidate maximising l(x)/g(x).
type TPE struct {
	// StartupTrials completed trials are sampled uniformly before modelling starts
	StartupTrials int
	// Candidates drawn from l(x) per dimension
	Candidates int
	// PriorWeight of the flat prior kernel
	PriorWeight float64
	// ConstantLiar counts running trials as finished with the median value so that
	// concurrent workers spread out instead of proposing the same region
	ConstantLiar bool

	mu  sync.Mutex
	rng *rand.Rand
}

// NewTPE creates a seeded TPE sampler with the usual defaults
func NewTPE(seed int64) *TPE {
	return &TPE{
		StartupTrials: 10,
		Candidates:    24,
		PriorWeight:   1.0,
		rng:           rand.New(rand.NewSource(seed)),
	}
}

// gamma is the size of the good group for n observations
func gamma(n int) int {
	g := int(math.Ceil(0.1 * float64(n)))
	if g > 25 {
		g = 25
	}
	if g < 1 {
		g = 1
	}
	return g
}

// Sample implements study.Sampler
func (t *TPE) Sample(history []*study.Trial, space *searchspace.Space, directions []study.Direction) (backtest.ParameterSet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	obs := completed(history, len(directions))
	if len(obs) < t.StartupTrials || len(obs) == 0 {
		return randomParams(space, t.rng)
	}
	if t.ConstantLiar {
		obs = withLiars(obs, history, len(directions))
	}

	order := rankOrder(obs, directions)
	nBelow := gamma(len(obs))
	below := make([]observation, 0, nBelow)
	above := make([]observation, 0, len(obs)-nBelow)
	for i, idx := range order {
		if i < nBelow {
			below = append(below, obs[idx])
		} else {
			above = append(above, obs[idx])
		}
	}

	params := space.Fixed.Clone()
	for _, d := range space.Dimensions {
		if d.IsNumeric() {
			params[d.Name] = d.Value(t.sampleNumeric(d, below, above))
		} else {
			params[d.Name] = d.Option(t.sampleCategorical(d, below, above))
		}
	}

	log.Debug().Int("observations", len(obs)).Int("below", len(below)).Msg("TPE proposal")
	return params, nil
}

func (t *TPE) sampleNumeric(d *searchspace.Dimension, below, above []observation) float64 {
	l := newParzen(normalized(d, below), t.PriorWeight)
	g := newParzen(normalized(d, above), t.PriorWeight)

	best, bestScore := 0.5, math.Inf(-1)
	for i := 0; i < t.Candidates; i++ {
		x := l.sample(t.rng)
		if score := l.logPDF(x) - g.logPDF(x); score > bestScore {
			best, bestScore = x, score
		}
	}
	return best
}

func (t *TPE) sampleCategorical(d *searchspace.Dimension, below, above []observation) int {
	l := newCategorical(indices(d, below), len(d.Options), t.PriorWeight)
	g := newCategorical(indices(d, above), len(d.Options), t.PriorWeight)

	best, bestScore := 0, math.Inf(-1)
	for i := 0; i < t.Candidates; i++ {
		idx := l.sample(t.rng)
		if score := l.logPMF(idx) - g.logPMF(idx); score > bestScore {
			best, bestScore = idx, score
		}
	}
	return best
}

// normalized maps the observed values of d into [0,1], skipping values that no
// longer fit the dimension
func normalized(d *searchspace.Dimension, obs []observation) []float64 {
	out := make([]float64, 0, len(obs))
	for _, o := range obs {
		v, ok := o.params[d.Name]
		if !ok {
			continue
		}
		x, err := d.Normalize(v)
		if err != nil {
			continue
		}
		out = append(out, x)
	}
	return out
}

func indices(d *searchspace.Dimension, obs []observation) []int {
	out := make([]int, 0, len(obs))
	for _, o := range obs {
		v, ok := o.params[d.Name]
		if !ok {
			continue
		}
		idx, err := d.Index(v)
		if err != nil {
			continue
		}
		out = append(out, idx)
	}
	return out
}
