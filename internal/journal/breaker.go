package journal

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/ajitpratap0/stratlab/internal/metrics"
)

// Breaker defaults for networked journals
const (
	BreakerMinRequests     = 5                // Minimum requests before tripping
	BreakerFailureRatio    = 0.6              // Failure ratio threshold (60%)
	BreakerOpenTimeout     = 10 * time.Second // How long the circuit stays open
	BreakerHalfOpenMaxReqs = 2                // Max requests in half-open state
	BreakerCountInterval   = 30 * time.Second // Window for counting failures
)

// BreakerSettings configures a guarded journal
type BreakerSettings struct {
	MinRequests     uint32
	FailureRatio    float64
	OpenTimeout     time.Duration
	HalfOpenMaxReqs uint32
	CountInterval   time.Duration
}

// DefaultBreakerSettings returns the default breaker thresholds
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MinRequests:     BreakerMinRequests,
		FailureRatio:    BreakerFailureRatio,
		OpenTimeout:     BreakerOpenTimeout,
		HalfOpenMaxReqs: BreakerHalfOpenMaxReqs,
		CountInterval:   BreakerCountInterval,
	}
}

// Guarded wraps a backend with a circuit breaker and operation metrics. A lost
// compare-and-append is a normal outcome and does not count as a failure.
type Guarded struct {
	inner Backend
	name  string
	cb    *gobreaker.CircuitBreaker
}

// NewGuarded wraps inner; name labels the breaker and its metrics
func NewGuarded(inner Backend, name string, settings BreakerSettings) *Guarded {
	g := &Guarded{inner: inner, name: name}

	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "journal_" + name,
		MaxRequests: settings.HalfOpenMaxReqs,
		Interval:    settings.CountInterval,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= settings.MinRequests && failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(_ string, from gobreaker.State, to gobreaker.State) {
			log.Warn().
				Str("backend", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Journal circuit breaker state changed")
			metrics.SetJournalBreakerState(name, breakerStateValue(to))
		},
	})
	metrics.SetJournalBreakerState(name, breakerStateValue(g.cb.State()))

	return g
}

// State returns the current breaker state
func (g *Guarded) State() gobreaker.State {
	return g.cb.State()
}

type readResult struct {
	records [][]byte
	next    int64
}

// Read implements Backend
func (g *Guarded) Read(ctx context.Context, cursor int64) ([][]byte, int64, error) {
	start := time.Now()
	out, err := g.cb.Execute(func() (interface{}, error) {
		records, next, err := g.inner.Read(ctx, cursor)
		if err != nil {
			return nil, err
		}
		return readResult{records: records, next: next}, nil
	})
	g.record(metrics.OpRead, err, true, start)
	if err != nil {
		return nil, cursor, err
	}
	res := out.(readResult)
	return res.records, res.next, nil
}

// Append implements Backend
func (g *Guarded) Append(ctx context.Context, expected int64, records ...[]byte) (bool, error) {
	start := time.Now()
	out, err := g.cb.Execute(func() (interface{}, error) {
		return g.inner.Append(ctx, expected, records...)
	})
	if err != nil {
		g.record(metrics.OpAppend, err, true, start)
		return false, err
	}
	ok := out.(bool)
	g.record(metrics.OpAppend, nil, ok, start)
	return ok, nil
}

// Close implements Backend
func (g *Guarded) Close() error {
	return g.inner.Close()
}

func (g *Guarded) record(op string, err error, ok bool, start time.Time) {
	result := metrics.ResultOK
	switch {
	case err != nil:
		result = metrics.ResultError
	case !ok:
		result = metrics.ResultConflict
	}
	metrics.RecordJournalOperation(g.name, op, result, float64(time.Since(start).Microseconds())/1000)
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
