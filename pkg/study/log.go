package study

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/stratlab/pkg/backtest"
)

// ============================================================================
// BACKEND CONTRACT
// ============================================================================

// Backend is durable, multi-writer-safe storage for encoded log records.
// Cursors are opaque positions in the record sequence.
type Backend interface {
	// Read returns the records after cursor and the cursor that follows them
	Read(ctx context.Context, cursor int64) ([][]byte, int64, error)

	// Append writes records atomically if the end of the log is still at expected,
	// and reports whether it did. A negative expected appends unconditionally.
	Append(ctx context.Context, expected int64, records ...[]byte) (bool, error)

	// Close releases the backend handle
	Close() error
}

// LogFormatVersion is written into every log header
const LogFormatVersion = "1.2.0"

// supportedLogFormats is the range of header versions this build can replay
const supportedLogFormats = ">= 1.0.0, < 2.0.0"

var (
	// ErrBudgetExhausted is returned by Reserve once the global trial budget is used up
	ErrBudgetExhausted = errors.New("trial budget exhausted")

	// ErrTimeout is returned by Reserve once the run's time limit has passed
	ErrTimeout = errors.New("run time limit reached")

	// ErrNoHeader is returned when the log has not been initialized
	ErrNoHeader = errors.New("trial log has no header")

	// ErrLogInitialized is returned when Init finds an existing header
	ErrLogInitialized = errors.New("trial log already initialized")
)

// Header describes a run; it is the first record of every log
type Header struct {
	RunID      string      `json:"run_id"`
	Version    string      `json:"version"`
	Objectives []string    `json:"objectives"`
	Directions []Direction `json:"directions"`
	Budget     int         `json:"budget"`     // total trials across all workers, 0 = unlimited
	TimeLimit  float64     `json:"time_limit"` // seconds from CreatedAt, 0 = unlimited
	CreatedAt  time.Time   `json:"created_at"`
}

// Deadline returns the run deadline, zero when there is no time limit
func (h *Header) Deadline() time.Time {
	if h.TimeLimit <= 0 {
		return time.Time{}
	}
	return h.CreatedAt.Add(time.Duration(h.TimeLimit * float64(time.Second)))
}

// ============================================================================
// RECORDS
// ============================================================================

type recordOp string

const (
	opHeader       recordOp = "header"
	opEnqueue      recordOp = "enqueue"
	opCreate       recordOp = "create"
	opClaim        recordOp = "claim"
	opIntermediate recordOp = "intermediate"
	opFinish       recordOp = "finish"
)

type record struct {
	Op          recordOp              `json:"op"`
	Number      int                   `json:"number"`
	Header      *Header               `json:"header,omitempty"`
	Params      backtest.ParameterSet `json:"params,omitempty"`
	State       TrialState            `json:"state,omitempty"`
	Values      floatList             `json:"values,omitempty"`
	Constraints floatList             `json:"constraints,omitempty"`
	Metrics     floatMap              `json:"metrics,omitempty"`
	Step        int                   `json:"step,omitempty"`
	Value       float64               `json:"value,omitempty"`
	Worker      string                `json:"worker,omitempty"`
	Reason      string                `json:"reason,omitempty"`
	Time        time.Time             `json:"time"`
}

// ============================================================================
// TRIAL LOG
// ============================================================================

// SuggestFunc proposes parameters for a new trial given the current history
type SuggestFunc func(history []*Trial) (backtest.ParameterSet, error)

// TrialLog is a replayed view of the shared append-only trial log. Every process
// holds its own TrialLog over its own backend handle; the log is the only state
// shared between them.
type TrialLog struct {
	mu      sync.Mutex
	backend Backend
	cursor  int64
	header  *Header
	trials  []*Trial
	now     func() time.Time
}

// NewTrialLog creates a log view over backend
func NewTrialLog(backend Backend) *TrialLog {
	return &TrialLog{
		backend: backend,
		now:     time.Now,
	}
}

// Init writes the run header. It fails with ErrLogInitialized if another header exists.
func (l *TrialLog) Init(ctx context.Context, header Header) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if header.Version == "" {
		header.Version = LogFormatVersion
	}
	if header.CreatedAt.IsZero() {
		header.CreatedAt = l.now().UTC()
	}
	if len(header.Objectives) != len(header.Directions) || len(header.Directions) == 0 {
		return fmt.Errorf("header needs one direction per objective")
	}

	for {
		if err := l.sync(ctx); err != nil {
			return err
		}
		if l.header != nil {
			return ErrLogInitialized
		}

		data, err := encode(record{Op: opHeader, Header: &header, Time: header.CreatedAt})
		if err != nil {
			return err
		}
		ok, err := l.backend.Append(ctx, l.cursor, data)
		if err != nil {
			return fmt.Errorf("failed to write log header: %w", err)
		}
		if ok {
			return l.sync(ctx)
		}
	}
}

// Header returns the run header, syncing first if it has not been seen yet
func (l *TrialLog) Header(ctx context.Context) (*Header, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.header == nil {
		if err := l.sync(ctx); err != nil {
			return nil, err
		}
	}
	if l.header == nil {
		return nil, ErrNoHeader
	}
	h := *l.header
	return &h, nil
}

// Enqueue appends pre-specified trials; workers claim them before sampling new ones
func (l *TrialLog) Enqueue(ctx context.Context, params ...backtest.ParameterSet) error {
	if len(params) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	records := make([][]byte, 0, len(params))
	for _, p := range params {
		data, err := encode(record{Op: opEnqueue, Params: p, Time: now})
		if err != nil {
			return err
		}
		records = append(records, data)
	}

	if _, err := l.backend.Append(ctx, -1, records...); err != nil {
		return fmt.Errorf("failed to enqueue trials: %w", err)
	}
	return l.sync(ctx)
}

// Reserve assigns the next trial to worker. It claims the oldest waiting trial or
// creates a new one from suggest, retrying when another writer appended first.
// The budget and time limit in the header are enforced across all writers.
func (l *TrialLog) Reserve(ctx context.Context, worker string, suggest SuggestFunc) (*Trial, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for attempt := 1; ; attempt++ {
		if err := l.sync(ctx); err != nil {
			return nil, err
		}
		if l.header == nil {
			return nil, ErrNoHeader
		}

		if l.header.Budget > 0 && l.reserved() >= l.header.Budget {
			return nil, ErrBudgetExhausted
		}
		if deadline := l.header.Deadline(); !deadline.IsZero() && !l.now().Before(deadline) {
			return nil, ErrTimeout
		}

		now := l.now().UTC()
		rec := record{Worker: worker, Time: now}
		if waiting := l.firstWaiting(); waiting != nil {
			rec.Op = opClaim
			rec.Number = waiting.Number
		} else {
			params, err := suggest(l.snapshot())
			if err != nil {
				return nil, fmt.Errorf("failed to sample parameters: %w", err)
			}
			rec.Op = opCreate
			rec.Number = len(l.trials)
			rec.Params = params
		}

		data, err := encode(rec)
		if err != nil {
			return nil, err
		}

		ok, err := l.backend.Append(ctx, l.cursor, data)
		if err != nil {
			return nil, fmt.Errorf("failed to reserve trial: %w", err)
		}
		if !ok {
			if attempt%50 == 0 {
				log.Debug().Str("worker", worker).Int("attempts", attempt).Msg("Trial reservation contended")
			}
			continue
		}

		if err := l.sync(ctx); err != nil {
			return nil, err
		}
		return l.trials[rec.Number].Clone(), nil
	}
}

// Report records an intermediate value of a running trial
func (l *TrialLog) Report(ctx context.Context, number, step int, value float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := encode(record{Op: opIntermediate, Number: number, Step: step, Value: value, Time: l.now().UTC()})
	if err != nil {
		return err
	}
	if _, err := l.backend.Append(ctx, -1, data); err != nil {
		return fmt.Errorf("failed to report intermediate value: %w", err)
	}
	return nil
}

// Finish records the terminal outcome of a trial
func (l *TrialLog) Finish(ctx context.Context, number int, outcome Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := encode(record{
		Op:          opFinish,
		Number:      number,
		State:       outcome.State(),
		Values:      outcome.Values,
		Constraints: outcome.Constraints,
		Metrics:     outcome.Metrics,
		Reason:      outcome.Reason,
		Time:        l.now().UTC(),
	})
	if err != nil {
		return err
	}
	if _, err := l.backend.Append(ctx, -1, data); err != nil {
		return fmt.Errorf("failed to finish trial %d: %w", number, err)
	}
	return l.sync(ctx)
}

// Trials replays the log and returns a copy of every trial ordered by number
func (l *TrialLog) Trials(ctx context.Context) ([]*Trial, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.sync(ctx); err != nil {
		return nil, err
	}
	return l.snapshot(), nil
}

// Close closes the backend handle
func (l *TrialLog) Close() error {
	return l.backend.Close()
}

// sync applies records appended since the last read
func (l *TrialLog) sync(ctx context.Context) error {
	records, next, err := l.backend.Read(ctx, l.cursor)
	if err != nil {
		return fmt.Errorf("failed to read trial log: %w", err)
	}

	for _, data := range records {
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("failed to decode log record: %w", err)
		}
		if err := l.apply(&rec); err != nil {
			return err
		}
	}
	l.cursor = next
	return nil
}

func (l *TrialLog) apply(rec *record) error {
	switch rec.Op {
	case opHeader:
		if l.header != nil {
			return nil
		}
		if rec.Header == nil {
			return fmt.Errorf("log header record is empty")
		}
		if err := checkVersion(rec.Header.Version); err != nil {
			return err
		}
		l.header = rec.Header

	case opEnqueue:
		l.trials = append(l.trials, &Trial{
			Number:   len(l.trials),
			State:    StateWaiting,
			Params:   rec.Params,
			Enqueued: true,
		})

	case opCreate:
		if rec.Number != len(l.trials) {
			return fmt.Errorf("log record creates trial %d, expected %d", rec.Number, len(l.trials))
		}
		l.trials = append(l.trials, &Trial{
			Number:    rec.Number,
			State:     StateRunning,
			Params:    rec.Params,
			Worker:    rec.Worker,
			StartedAt: rec.Time,
		})

	case opClaim:
		if t := l.trial(rec.Number); t != nil && t.State == StateWaiting {
			t.State = StateRunning
			t.Worker = rec.Worker
			t.StartedAt = rec.Time
		}

	case opIntermediate:
		if t := l.trial(rec.Number); t != nil && t.State == StateRunning {
			if t.Intermediate == nil {
				t.Intermediate = make(map[int]float64)
			}
			t.Intermediate[rec.Step] = rec.Value
		}

	case opFinish:
		if t := l.trial(rec.Number); t != nil && t.State == StateRunning {
			t.State = rec.State
			t.Values = rec.Values
			t.Constraints = rec.Constraints
			t.Metrics = rec.Metrics
			t.Reason = rec.Reason
			t.FinishedAt = rec.Time
		}

	default:
		return fmt.Errorf("unknown log record op %q", rec.Op)
	}
	return nil
}

func (l *TrialLog) trial(number int) *Trial {
	if number < 0 || number >= len(l.trials) {
		return nil
	}
	return l.trials[number]
}

// reserved counts trials that were handed to a worker, finished or not
func (l *TrialLog) reserved() int {
	n := 0
	for _, t := range l.trials {
		if t.State != StateWaiting {
			n++
		}
	}
	return n
}

func (l *TrialLog) firstWaiting() *Trial {
	for _, t := range l.trials {
		if t.State == StateWaiting {
			return t
		}
	}
	return nil
}

func (l *TrialLog) snapshot() []*Trial {
	out := make([]*Trial, len(l.trials))
	for i, t := range l.trials {
		out[i] = t.Clone()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func encode(rec record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode log record: %w", err)
	}
	return data, nil
}

// checkVersion rejects logs written by an incompatible format
func checkVersion(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid log format version %q: %w", version, err)
	}
	constraint, err := semver.NewConstraint(supportedLogFormats)
	if err != nil {
		return fmt.Errorf("invalid log format constraint: %w", err)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("unsupported log format version %s (supported: %s)", version, supportedLogFormats)
	}
	return nil
}
