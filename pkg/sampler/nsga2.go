package sampler

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/ajitpratap0/stratlab/pkg/backtest"
	"github.com/ajitpratap0/stratlab/pkg/searchspace"
	"github.com/ajitpratap0/stratlab/pkg/study"
)

// NSGA2 is a steady-state NSGA-II: the elite population is kept by non-dominated
// sorting with crowding distance, and each proposal is one child bred from two
// tournament-selected elite parents. Infeasible trials lose to feasible ones.
type NSGA2 struct {
	PopulationSize int
	// CrossoverProb is the chance a child mixes both parents instead of copying one
	CrossoverProb float64
	// MutationProb is the per-dimension mutation chance; 0 means 1/dimensions
	MutationProb float64
	// MutationScale is the standard deviation of numeric mutation in [0,1] units
	MutationScale float64

	mu    sync.Mutex
	rng   *rand.Rand
	elite map[int]bool // trial numbers of the current population
	seen  map[int]bool // trial numbers already considered for the population
}

// NewNSGA2 creates a seeded NSGA-II sampler with the usual defaults
func NewNSGA2(seed int64) *NSGA2 {
	return &NSGA2{
		PopulationSize: 20,
		CrossoverProb:  0.9,
		MutationScale:  0.1,
		rng:            rand.New(rand.NewSource(seed)),
		elite:          make(map[int]bool),
		seen:           make(map[int]bool),
	}
}

type individual struct {
	obs      observation
	front    int
	crowding float64
}

// Sample implements study.Sampler
func (n *NSGA2) Sample(history []*study.Trial, space *searchspace.Space, directions []study.Direction) (backtest.ParameterSet, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	obs := completed(history, len(directions))
	if len(obs) < n.PopulationSize || len(obs) < 2 {
		return randomParams(space, n.rng)
	}

	population := n.selectElite(obs, directions)
	p1 := n.tournament(population)
	p2 := n.tournament(population)
	return n.breed(space, p1.obs, p2.obs), nil
}

// selectElite merges newly completed trials into the elite and truncates it to the
// population size
func (n *NSGA2) selectElite(obs []observation, directions []study.Direction) []*individual {
	var pool []observation
	for _, o := range obs {
		if n.elite[o.number] || !n.seen[o.number] {
			pool = append(pool, o)
			n.seen[o.number] = true
		}
	}

	fronts := nondominatedFronts(pool, directions)
	byFront := make(map[int][]int)
	maxFront := 0
	for i, f := range fronts {
		byFront[f] = append(byFront[f], i)
		if f > maxFront {
			maxFront = f
		}
	}

	var population []*individual
	for f := 0; f <= maxFront && len(population) < n.PopulationSize; f++ {
		members := byFront[f]
		crowd := crowdingDistance(pool, members, len(directions))

		order := make([]int, len(members))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			if crowd[order[a]] != crowd[order[b]] {
				return crowd[order[a]] > crowd[order[b]]
			}
			return pool[members[order[a]]].number < pool[members[order[b]]].number
		})

		for _, i := range order {
			if len(population) == n.PopulationSize {
				break
			}
			population = append(population, &individual{obs: pool[members[i]], front: f, crowding: crowd[i]})
		}
	}

	n.elite = make(map[int]bool, len(population))
	for _, ind := range population {
		n.elite[ind.obs.number] = true
	}
	return population
}

// crowdingDistance computes the crowding distance of members within one front
func crowdingDistance(pool []observation, members []int, objectives int) []float64 {
	dist := make([]float64, len(members))
	if len(members) <= 2 {
		for i := range dist {
			dist[i] = math.Inf(1)
		}
		return dist
	}

	order := make([]int, len(members))
	for k := 0; k < objectives; k++ {
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return pool[members[order[a]]].values[k] < pool[members[order[b]]].values[k]
		})

		lo := pool[members[order[0]]].values[k]
		hi := pool[members[order[len(order)-1]]].values[k]
		dist[order[0]] = math.Inf(1)
		dist[order[len(order)-1]] = math.Inf(1)
		if hi == lo {
			continue
		}
		for i := 1; i < len(order)-1; i++ {
			prev := pool[members[order[i-1]]].values[k]
			next := pool[members[order[i+1]]].values[k]
			dist[order[i]] += (next - prev) / (hi - lo)
		}
	}
	return dist
}

// tournament picks the better of two random individuals by front, then crowding
func (n *NSGA2) tournament(population []*individual) *individual {
	a := population[n.rng.Intn(len(population))]
	b := population[n.rng.Intn(len(population))]
	if b.front < a.front || (b.front == a.front && b.crowding > a.crowding) {
		return b
	}
	return a
}

// breed applies uniform crossover and mutation in normalized coordinates
func (n *NSGA2) breed(space *searchspace.Space, p1, p2 observation) backtest.ParameterSet {
	mutation := n.MutationProb
	if mutation <= 0 && len(space.Dimensions) > 0 {
		mutation = 1 / float64(len(space.Dimensions))
	}
	mix := n.rng.Float64() < n.CrossoverProb

	child := space.Fixed.Clone()
	for _, d := range space.Dimensions {
		parent := p1
		if mix && n.rng.Float64() < 0.5 {
			parent = p2
		}
		mutate := n.rng.Float64() < mutation

		if d.IsNumeric() {
			x, err := d.Normalize(parent.params[d.Name])
			if err != nil {
				x = n.rng.Float64()
			}
			if mutate {
				x = math.Min(math.Max(x+n.rng.NormFloat64()*n.MutationScale, 0), 1)
			}
			child[d.Name] = d.Value(x)
			continue
		}

		idx, err := d.Index(parent.params[d.Name])
		if err != nil || mutate {
			idx = n.rng.Intn(len(d.Options))
		}
		child[d.Name] = d.Option(idx)
	}
	return child
}
