package sampler

import (
	"math"
	"math/rand"
	"sort"
)

// parzen is a mixture of Gaussians truncated to [0,1], one kernel per observed
// point plus a wide prior kernel centred in the range
type parzen struct {
	mus     []float64
	sigmas  []float64
	weights []float64
	norms   []float64 // probability mass of each kernel inside [0,1]
}

func newParzen(points []float64, priorWeight float64) *parzen {
	n := len(points)
	p := &parzen{
		mus:     make([]float64, 0, n+1),
		sigmas:  make([]float64, 0, n+1),
		weights: make([]float64, 0, n+1),
	}

	sorted := append([]float64(nil), points...)
	sort.Float64s(sorted)

	minSigma := 1 / math.Min(100, float64(1+n))
	for i, mu := range sorted {
		left, right := mu, 1-mu
		if i > 0 {
			left = mu - sorted[i-1]
		}
		if i < n-1 {
			right = sorted[i+1] - mu
		}
		sigma := math.Min(math.Max(math.Max(left, right), minSigma), 1)

		p.mus = append(p.mus, mu)
		p.sigmas = append(p.sigmas, sigma)
		p.weights = append(p.weights, 1)
	}

	p.mus = append(p.mus, 0.5)
	p.sigmas = append(p.sigmas, 1)
	p.weights = append(p.weights, priorWeight)

	var total float64
	for _, w := range p.weights {
		total += w
	}
	p.norms = make([]float64, len(p.mus))
	for i := range p.weights {
		p.weights[i] /= total
		p.norms[i] = normalCDF((1-p.mus[i])/p.sigmas[i]) - normalCDF((0-p.mus[i])/p.sigmas[i])
	}
	return p
}

// sample draws one point from the mixture
func (p *parzen) sample(rng *rand.Rand) float64 {
	u := rng.Float64()
	k := len(p.weights) - 1
	for i, w := range p.weights {
		if u < w {
			k = i
			break
		}
		u -= w
	}

	for attempt := 0; attempt < 100; attempt++ {
		x := p.mus[k] + rng.NormFloat64()*p.sigmas[k]
		if x >= 0 && x <= 1 {
			return x
		}
	}
	return math.Min(math.Max(p.mus[k], 0), 1)
}

// logPDF returns the log density of the truncated mixture at x
func (p *parzen) logPDF(x float64) float64 {
	var density float64
	for i := range p.mus {
		z := (x - p.mus[i]) / p.sigmas[i]
		density += p.weights[i] * math.Exp(-0.5*z*z) / (p.sigmas[i] * math.Sqrt(2*math.Pi) * p.norms[i])
	}
	if density <= 0 {
		return math.Inf(-1)
	}
	return math.Log(density)
}

func normalCDF(z float64) float64 {
	return 0.5 * (1 + math.Erf(z/math.Sqrt2))
}

// categoricalEstimator is a smoothed frequency distribution over option indices
type categoricalEstimator struct {
	probs []float64
}

func newCategorical(indices []int, options int, priorWeight float64) *categoricalEstimator {
	weights := make([]float64, options)
	for i := range weights {
		weights[i] = priorWeight / float64(options)
	}
	for _, idx := range indices {
		weights[idx]++
	}

	var total float64
	for _, w := range weights {
		total += w
	}
	for i := range weights {
		weights[i] /= total
	}
	return &categoricalEstimator{probs: weights}
}

func (c *categoricalEstimator) sample(rng *rand.Rand) int {
	u := rng.Float64()
	for i, p := range c.probs {
		if u < p {
			return i
		}
		u -= p
	}
	return len(c.probs) - 1
}

func (c *categoricalEstimator) logPMF(idx int) float64 {
	return math.Log(c.probs[idx])
}
