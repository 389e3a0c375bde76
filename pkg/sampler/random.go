package sampler

import (
	"math/rand"
	"sync"

	"github.com/ajitpratap0/stratlab/pkg/backtest"
	"github.com/ajitpratap0/stratlab/pkg/searchspace"
	"github.com/ajitpratap0/stratlab/pkg/study"
)

// Random samples every dimension uniformly and ignores the history
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandom creates a seeded uniform sampler
func NewRandom(seed int64) *Random {
	return &Random{rng: rand.New(rand.NewSource(seed))}
}

// Sample implements study.Sampler
func (r *Random) Sample(history []*study.Trial, space *searchspace.Space, directions []study.Direction) (backtest.ParameterSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return randomParams(space, r.rng)
}
