// Package study coordinates trials: the shared append-only trial log, the
// optimize loop with its stop rules, sampler and pruner contracts, and trial
// outcomes.
package study

import (
	"encoding/json"
	"math"
	"time"

	"github.com/ajitpratap0/stratlab/pkg/backtest"
)

// ============================================================================
// TRIAL
// ============================================================================

// TrialState is the lifecycle state of a trial
type TrialState string

const (
	// StateWaiting marks an enqueued trial that no worker has claimed yet
	StateWaiting  TrialState = "WAITING"
	StateRunning  TrialState = "RUNNING"
	StateComplete TrialState = "COMPLETE"
	StatePruned   TrialState = "PRUNED"
	StateFailed   TrialState = "FAILED"
)

// IsFinished reports whether the state is terminal
func (s TrialState) IsFinished() bool {
	return s == StateComplete || s == StatePruned || s == StateFailed
}

// Direction is the optimization direction of one objective
type Direction string

const (
	Maximize Direction = "maximize"
	Minimize Direction = "minimize"
)

// Better reports whether a is strictly better than b in this direction
func (d Direction) Better(a, b float64) bool {
	if d == Minimize {
		return a < b
	}
	return a > b
}

// Trial is one evaluated parameter combination as reconstructed from the log
type Trial struct {
	Number       int                   `json:"number"`
	State        TrialState            `json:"state"`
	Params       backtest.ParameterSet `json:"params"`
	Values       []float64             `json:"values,omitempty"`
	Constraints  []float64             `json:"constraints,omitempty"`
	Metrics      map[string]float64    `json:"-"`
	Intermediate map[int]float64       `json:"intermediate,omitempty"`
	Worker       string                `json:"worker,omitempty"`
	Reason       string                `json:"reason,omitempty"`
	Enqueued     bool                  `json:"enqueued,omitempty"`
	StartedAt    time.Time             `json:"started_at,omitempty"`
	FinishedAt   time.Time             `json:"finished_at,omitempty"`
}

// Duration returns the wall time of a finished trial
func (t *Trial) Duration() time.Duration {
	if t.StartedAt.IsZero() || t.FinishedAt.IsZero() {
		return 0
	}
	return t.FinishedAt.Sub(t.StartedAt)
}

// Feasible reports whether every constraint violation is non-positive
func (t *Trial) Feasible() bool {
	for _, v := range t.Constraints {
		if math.IsNaN(v) || v > 0 {
			return false
		}
	}
	return true
}

// Violation returns the sum of positive constraint violations.
// A constraint that could not be evaluated counts as infinitely violated.
func (t *Trial) Violation() float64 {
	var total float64
	for _, v := range t.Constraints {
		switch {
		case math.IsNaN(v):
			return math.Inf(1)
		case v > 0:
			total += v
		}
	}
	return total
}

// Clone returns a deep copy of the trial
func (t *Trial) Clone() *Trial {
	c := *t
	c.Params = t.Params.Clone()
	c.Values = append([]float64(nil), t.Values...)
	c.Constraints = append([]float64(nil), t.Constraints...)
	if t.Metrics != nil {
		c.Metrics = make(map[string]float64, len(t.Metrics))
		for k, v := range t.Metrics {
			c.Metrics[k] = v
		}
	}
	if t.Intermediate != nil {
		c.Intermediate = make(map[int]float64, len(t.Intermediate))
		for k, v := range t.Intermediate {
			c.Intermediate[k] = v
		}
	}
	return &c
}

// Dominates reports whether a Pareto-dominates b: at least as good on every
// objective and strictly better on one
func Dominates(a, b []float64, directions []Direction) bool {
	if len(a) != len(b) || len(a) != len(directions) {
		return false
	}

	strictly := false
	for i, d := range directions {
		if d.Better(b[i], a[i]) {
			return false
		}
		if d.Better(a[i], b[i]) {
			strictly = true
		}
	}
	return strictly
}

// ============================================================================
// OUTCOME
// ============================================================================

// OutcomeKind discriminates how a trial ended
type OutcomeKind int

const (
	OutcomeComplete OutcomeKind = iota
	OutcomePruned
	OutcomeFailed
)

// Outcome is the result of evaluating one trial
type Outcome struct {
	Kind        OutcomeKind
	Values      []float64
	Constraints []float64
	Metrics     map[string]float64
	Reason      string
}

// Complete builds a successful outcome
func Complete(values, constraints []float64, metrics map[string]float64) Outcome {
	return Outcome{Kind: OutcomeComplete, Values: values, Constraints: constraints, Metrics: metrics}
}

// Pruned builds an early-stopped outcome
func Pruned(reason string, metrics map[string]float64) Outcome {
	return Outcome{Kind: OutcomePruned, Reason: reason, Metrics: metrics}
}

// Failed builds a failed outcome
func Failed(reason string, metrics map[string]float64) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: reason, Metrics: metrics}
}

// State maps the outcome onto a terminal trial state
func (o Outcome) State() TrialState {
	switch o.Kind {
	case OutcomeComplete:
		return StateComplete
	case OutcomePruned:
		return StatePruned
	default:
		return StateFailed
	}
}

// normalize turns a complete outcome with missing or non-finite objective values into a failure
func (o Outcome) normalize(objectives int) Outcome {
	if o.Kind != OutcomeComplete {
		return o
	}
	if len(o.Values) != objectives {
		return Failed("objective count mismatch", o.Metrics)
	}
	for _, v := range o.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Failed("objective is not finite", o.Metrics)
		}
	}
	return o
}

// ============================================================================
// JSON ENCODING
// ============================================================================

// floatMap encodes NaN and infinities as null
type floatMap map[string]float64

func (m floatMap) MarshalJSON() ([]byte, error) {
	out := make(map[string]*float64, len(m))
	for k, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[k] = nil
			continue
		}
		v := v
		out[k] = &v
	}
	return json.Marshal(out)
}

func (m *floatMap) UnmarshalJSON(data []byte) error {
	var raw map[string]*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = make(floatMap, len(raw))
	for k, v := range raw {
		if v == nil {
			(*m)[k] = math.NaN()
			continue
		}
		(*m)[k] = *v
	}
	return nil
}

// floatList encodes NaN and infinities as null
type floatList []float64

func (l floatList) MarshalJSON() ([]byte, error) {
	out := make([]*float64, len(l))
	for i, v := range l {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		v := v
		out[i] = &v
	}
	return json.Marshal(out)
}

func (l *floatList) UnmarshalJSON(data []byte) error {
	var raw []*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*l = make(floatList, len(raw))
	for i, v := range raw {
		if v == nil {
			(*l)[i] = math.NaN()
			continue
		}
		(*l)[i] = *v
	}
	return nil
}
