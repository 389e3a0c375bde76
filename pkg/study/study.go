package study

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/stratlab/pkg/backtest"
	"github.com/ajitpratap0/stratlab/pkg/searchspace"
)

// ============================================================================
// CONTRACTS
// ============================================================================

// Sampler proposes parameters for the next trial. history contains every trial of
// the run including running ones; FAILED trials must not influence the proposal.
type Sampler interface {
	Sample(history []*Trial, space *searchspace.Space, directions []Direction) (backtest.ParameterSet, error)
}

// ObjectiveFunc evaluates one trial
type ObjectiveFunc func(ctx context.Context, eval *Evaluation) Outcome

// Evaluation is the handle an objective uses to read its parameters and report progress
type Evaluation struct {
	Number int
	Params backtest.ParameterSet

	ctx    context.Context
	study  *Study
	trial  *Trial
	pruned bool
}

// Report records an intermediate value and reports whether the trial should stop
func (e *Evaluation) Report(step int, value float64) bool {
	if e.study.Pruner == nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return false
	}

	if err := e.study.Log.Report(e.ctx, e.Number, step, value); err != nil {
		e.study.logger.Warn().Err(err).Int("trial", e.Number).Msg("Failed to report intermediate value")
		return false
	}

	if e.trial.Intermediate == nil {
		e.trial.Intermediate = make(map[int]float64)
	}
	e.trial.Intermediate[step] = value

	history, err := e.study.Log.Trials(e.ctx)
	if err != nil {
		e.study.logger.Warn().Err(err).Int("trial", e.Number).Msg("Failed to read trials for pruning")
		return false
	}

	if e.study.Pruner.Prune(e.trial, step, value, history) {
		e.pruned = true
		return true
	}
	return false
}

// ShouldPrune reports whether a previous Report asked the trial to stop
func (e *Evaluation) ShouldPrune() bool {
	return e.pruned
}

// ============================================================================
// STOP RULES
// ============================================================================

// StopRule bounds a run. MaxTrials and Timeout are written into the log header and
// enforced globally; Patience is enforced by each Optimize loop on its own trials.
type StopRule struct {
	MaxTrials int
	Timeout   time.Duration
	// Patience stops after this many consecutive finished trials without improvement
	Patience int
}

// StopReason records why an optimize loop ended
type StopReason string

const (
	StopBudget      StopReason = "budget"
	StopTimeout     StopReason = "timeout"
	StopConvergence StopReason = "convergence"
	StopInterrupted StopReason = "interrupted"
)

// OptimizeStats summarises one Optimize loop
type OptimizeStats struct {
	Evaluated  int
	Completed  int
	Pruned     int
	Failed     int
	StopReason StopReason
}

// ============================================================================
// STUDY
// ============================================================================

// Study runs the optimize loop of one worker against a shared trial log
type Study struct {
	Log     *TrialLog
	Space   *searchspace.Space
	Sampler Sampler
	Pruner  Pruner
	Worker  string

	// OnTrialFinished is called after each trial outcome is written
	OnTrialFinished func(trial *Trial, outcome Outcome, elapsed time.Duration)

	logger zerolog.Logger
}

// NewStudy creates a study for worker
func NewStudy(trialLog *TrialLog, space *searchspace.Space, sampler Sampler, pruner Pruner, worker string) *Study {
	return &Study{
		Log:     trialLog,
		Space:   space,
		Sampler: sampler,
		Pruner:  pruner,
		Worker:  worker,
		logger:  log.With().Str("component", "study").Str("worker", worker).Logger(),
	}
}

// WithLogger replaces the study logger
func (s *Study) WithLogger(logger zerolog.Logger) *Study {
	s.logger = logger
	return s
}

// Optimize reserves and evaluates trials until the global budget or time limit in
// the log header is reached, the context is cancelled, or patience runs out.
func (s *Study) Optimize(ctx context.Context, objective ObjectiveFunc, patience int) (*OptimizeStats, error) {
	header, err := s.Log.Header(ctx)
	if err != nil {
		return nil, err
	}

	if len(header.Directions) > 1 && s.Pruner != nil {
		s.logger.Warn().Msg("Pruning disabled for multi-objective run")
		s.Pruner = nil
	}

	stats := &OptimizeStats{}
	var best []float64
	sinceImprovement := 0

	for {
		if ctx.Err() != nil {
			stats.StopReason = StopInterrupted
			return stats, nil
		}

		trial, err := s.Log.Reserve(ctx, s.Worker, s.suggest(header.Directions))
		switch {
		case errors.Is(err, ErrBudgetExhausted):
			stats.StopReason = StopBudget
			return stats, nil
		case errors.Is(err, ErrTimeout):
			stats.StopReason = StopTimeout
			return stats, nil
		case err != nil && ctx.Err() != nil:
			stats.StopReason = StopInterrupted
			return stats, nil
		case err != nil:
			return stats, err
		}

		started := time.Now()
		outcome := s.evaluate(ctx, trial, objective).normalize(len(header.Directions))
		elapsed := time.Since(started)

		// The outcome is persisted even when the run is being interrupted
		if err := s.Log.Finish(context.WithoutCancel(ctx), trial.Number, outcome); err != nil {
			return stats, err
		}

		stats.Evaluated++
		switch outcome.Kind {
		case OutcomeComplete:
			stats.Completed++
		case OutcomePruned:
			stats.Pruned++
		default:
			stats.Failed++
		}

		s.logger.Debug().
			Int("trial", trial.Number).
			Str("state", string(outcome.State())).
			Floats64("values", outcome.Values).
			Str("reason", outcome.Reason).
			Dur("elapsed", elapsed).
			Msg("Trial finished")

		if s.OnTrialFinished != nil {
			trial.State = outcome.State()
			trial.Values = outcome.Values
			s.OnTrialFinished(trial, outcome, elapsed)
		}

		if outcome.Kind == OutcomeComplete && (best == nil || improves(outcome.Values, best, header.Directions)) {
			best = outcome.Values
			sinceImprovement = 0
		} else {
			sinceImprovement++
		}

		if patience > 0 && sinceImprovement >= patience {
			s.logger.Info().Int("patience", patience).Int("evaluated", stats.Evaluated).Msg("Converged without improvement")
			stats.StopReason = StopConvergence
			return stats, nil
		}
	}
}

func (s *Study) suggest(directions []Direction) SuggestFunc {
	return func(history []*Trial) (backtest.ParameterSet, error) {
		params, err := s.Sampler.Sample(history, s.Space, directions)
		if err != nil {
			return nil, err
		}
		return s.Space.Coerce(params)
	}
}

// evaluate runs the objective, turning bad parameters and panics into failures
func (s *Study) evaluate(ctx context.Context, trial *Trial, objective ObjectiveFunc) (outcome Outcome) {
	params, err := s.Space.Coerce(trial.Params)
	if err != nil {
		return Failed(fmt.Sprintf("invalid parameters: %v", err), nil)
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Int("trial", trial.Number).Interface("panic", r).Msg("Objective panicked")
			outcome = Failed(fmt.Sprintf("panic: %v", r), nil)
		}
	}()

	eval := &Evaluation{
		Number: trial.Number,
		Params: params,
		ctx:    ctx,
		study:  s,
		trial:  trial,
	}
	return objective(ctx, eval)
}

// improves compares on the objective for single-objective runs and by Pareto
// dominance otherwise
func improves(candidate, best []float64, directions []Direction) bool {
	if len(directions) == 1 {
		return directions[0].Better(candidate[0], best[0])
	}
	return Dominates(candidate, best, directions)
}
