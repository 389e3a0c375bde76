package searchspace

import (
	"math/rand"

	"github.com/ajitpratap0/stratlab/pkg/backtest"
)

// coverageSeed keeps coverage output identical across runs and processes
const coverageSeed = 20240501

// CoverageTrials generates n deterministic parameter sets that spread evenly over the
// space. Without categorical dimensions the numeric dimensions are sampled by
// stratification (one point per equal-width bin, bin order permuted per dimension).
// Otherwise the categorical dimension with the most options is the primary axis: the
// budget is split across its options as evenly as possible, each option gets its own
// stratified numeric sample, and secondary categoricals are assigned round-robin with
// a stride coprime to their option count. The result is shuffled with a fixed seed.
func CoverageTrials(space *Space, n int) []backtest.ParameterSet {
	if n <= 0 {
		return nil
	}

	rng := rand.New(rand.NewSource(coverageSeed))
	numeric := space.Numeric()
	categorical := space.Categorical()

	if len(categorical) == 0 {
		trials := make([]backtest.ParameterSet, 0, n)
		for _, point := range stratified(rng, len(numeric), n) {
			params := space.Fixed.Clone()
			assignNumeric(params, numeric, point)
			trials = append(trials, params)
		}
		return trials
	}

	primary := categorical[0]
	for _, d := range categorical[1:] {
		if len(d.Options) > len(primary.Options) {
			primary = d
		}
	}

	k := len(primary.Options)
	base, extra := n/k, n%k

	trials := make([]backtest.ParameterSet, 0, n)
	for opt := 0; opt < k; opt++ {
		count := base
		if opt < extra {
			count++
		}
		for _, point := range stratified(rng, len(numeric), count) {
			params := space.Fixed.Clone()
			params[primary.Name] = primary.option(opt)
			assignNumeric(params, numeric, point)
			trials = append(trials, params)
		}
	}

	for _, d := range categorical {
		if d == primary {
			continue
		}
		m := len(d.Options)
		stride := coprimeStride(m)
		for i, params := range trials {
			params[d.Name] = d.option((i * stride) % m)
		}
	}

	rng.Shuffle(len(trials), func(i, j int) {
		trials[i], trials[j] = trials[j], trials[i]
	})

	return trials
}

// stratified returns count points in [0,1]^dims with exactly one point in each of
// the count equal-width bins of every dimension
func stratified(rng *rand.Rand, dims, count int) [][]float64 {
	points := make([][]float64, count)
	for i := range points {
		points[i] = make([]float64, dims)
	}
	if count == 0 {
		return points
	}

	for d := 0; d < dims; d++ {
		perm := rng.Perm(count)
		for i := range points {
			points[i][d] = (float64(perm[i]) + rng.Float64()) / float64(count)
		}
	}
	return points
}

func assignNumeric(params backtest.ParameterSet, dims []*Dimension, point []float64) {
	for i, d := range dims {
		params[d.Name] = d.Value(point[i])
	}
}

// coprimeStride returns the smallest integer >= 2 coprime to m
func coprimeStride(m int) int {
	for s := 2; ; s++ {
		if gcd(s, m) == 1 {
			return s
		}
	}
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
