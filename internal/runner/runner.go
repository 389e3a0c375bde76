package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/stratlab/internal/config"
	"github.com/ajitpratap0/stratlab/internal/metrics"
	"github.com/ajitpratap0/stratlab/internal/strategy"
	"github.com/ajitpratap0/stratlab/pkg/backtest"
	"github.com/ajitpratap0/stratlab/pkg/ranking"
	"github.com/ajitpratap0/stratlab/pkg/searchspace"
	"github.com/ajitpratap0/stratlab/pkg/study"
)

// ConvergenceTrialCap is the trial budget of a convergence run with several
// workers, which cannot share an improvement counter
const ConvergenceTrialCap = 10000

// defaultProgressInterval is used when monitoring.progress_interval is unset
const defaultProgressInterval = 5 * time.Second

// Report is the outcome of a run, reconstructed from its trial log
type Report struct {
	RunID       string                `json:"run_id"`
	Strategy    string                `json:"strategy"`
	Objectives  []string              `json:"objectives"`
	Directions  []study.Direction     `json:"directions"`
	Periods     *backtest.PeriodSplit `json:"periods"`
	Summary     *ranking.Summary      `json:"summary"`
	Results     []*ranking.Result     `json:"results"`
	Schema      []*backtest.Parameter `json:"-"`
	Log         string                `json:"log"`
	Interrupted bool                  `json:"interrupted"`
	// WorkerError is the first worker failure; results are still those in the log
	WorkerError string `json:"worker_error,omitempty"`
}

// Best returns the top ranked result, or nil when no trial completed
func (r *Report) Best() *ranking.Result {
	if len(r.Results) == 0 {
		return nil
	}
	return r.Results[0]
}

// Runner executes one optimization run
type Runner struct {
	cfg      *config.Config
	registry *strategy.Registry

	// ConfigPath is passed to worker processes
	ConfigPath string
	// RunID names the run; a UUID is generated when empty
	RunID string
	// Launcher overrides the launcher chosen from the configuration
	Launcher Launcher
}

// New creates a runner
func New(cfg *config.Config, registry *strategy.Registry) *Runner {
	return &Runner{cfg: cfg, registry: registry}
}

// Run prepares the run, creates its trial log, runs the workers and ranks the
// trials found in the log. Worker failures and interruption still return the
// results that reached the log.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	started := time.Now()
	opt := r.cfg.Optimization

	env, err := Prepare(ctx, r.cfg, r.registry)
	if err != nil {
		return nil, err
	}

	runID := r.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	storage := NewStorage(r.cfg.Storage, runID)
	backend, err := storage.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open trial log: %w", err)
	}
	trialLog := study.NewTrialLog(backend)
	defer trialLog.Close()

	if err := trialLog.Init(ctx, r.header(runID, env)); err != nil {
		return nil, fmt.Errorf("failed to initialize trial log: %w", err)
	}

	if opt.CoverageTrials > 0 {
		coverage := searchspace.CoverageTrials(env.Space, opt.CoverageTrials)
		if err := trialLog.Enqueue(ctx, coverage...); err != nil {
			return nil, err
		}
		log.Info().Int("trials", len(coverage)).Msg("Coverage trials enqueued")
	}

	log.Info().
		Str("run_id", runID).
		Str("strategy", env.Strategy.ID()).
		Strs("objectives", opt.Objectives).
		Str("sampler", opt.Sampler).
		Str("budget", opt.Budget.Mode).
		Int("workers", opt.Workers).
		Str("log", storage.Location()).
		Msg("Starting optimization run")

	directions := env.Directions()
	snapshot := snapshotFunc(trialLog, directions[0])

	if r.cfg.Monitoring.EnableMetrics {
		server := metrics.NewServer(r.cfg.Monitoring.PrometheusPort, config.NewLogger("metrics")).
			WithProgress(func(ctx context.Context) (interface{}, error) {
				return snapshot(ctx)
			})
		if err := server.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start metrics server")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()
		}
	}

	interval := r.cfg.Monitoring.ProgressInterval
	if interval <= 0 {
		interval = defaultProgressInterval
	}
	updater := metrics.NewUpdater(snapshot, interval).OnUpdate(func(s *metrics.Snapshot) {
		event := log.Info().Interface("trials", s.Counts)
		if s.HasBest {
			event = event.Float64("best", s.Best)
		}
		event.Msg("Run progress")
	})
	go updater.Start(ctx)

	workerErr := r.launch(ctx, env, storage, runID)
	updater.Stop()

	// The log is read even after an interrupt; whatever reached it is the result
	readCtx := context.WithoutCancel(ctx)
	trials, err := trialLog.Trials(readCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to read trials: %w", err)
	}

	results := ranking.Rank(trials, directions, opt.Score)
	report := &Report{
		RunID:       runID,
		Strategy:    env.Strategy.ID(),
		Objectives:  opt.Objectives,
		Directions:  directions,
		Periods:     env.Periods,
		Summary:     ranking.Summarize(trials, results, time.Since(started), opt.MultiProcess()),
		Results:     results,
		Schema:      env.Schema,
		Log:         storage.Location(),
		Interrupted: ctx.Err() != nil,
	}
	if workerErr != nil {
		report.WorkerError = workerErr.Error()
		log.Warn().Err(workerErr).Msg("Run finished with worker failures, ranking durable trials")
	}

	event := log.Info().
		Str("run_id", runID).
		Int("total", report.Summary.TotalTrials).
		Int("completed", report.Summary.CompletedTrials).
		Int("pruned", report.Summary.PrunedTrials).
		Int("failed", report.Summary.FailedTrials).
		Bool("interrupted", report.Interrupted).
		Dur("elapsed", time.Since(started))
	if best := report.Best(); best != nil {
		event = event.Int("best_trial", best.TrialNumber).Floats64("best_values", best.Values)
	}
	event.Msg("Optimization run finished")

	storage.retain(readCtx)
	return report, nil
}

// header builds the log header; trial and time budgets are enforced across
// all workers through it
func (r *Runner) header(runID string, env *Env) study.Header {
	opt := r.cfg.Optimization
	header := study.Header{
		RunID:      runID,
		Objectives: opt.Objectives,
		Directions: env.Directions(),
	}

	switch opt.Budget.Mode {
	case config.BudgetTrials:
		header.Budget = opt.Budget.Trials
	case config.BudgetTime:
		header.TimeLimit = opt.Budget.Timeout.Seconds()
	case config.BudgetConvergence:
		header.Budget = ConvergenceTrialCap
		if opt.MultiProcess() {
			log.Warn().
				Int("patience", opt.Budget.Patience).
				Int("cap", ConvergenceTrialCap).
				Msg("Convergence budget is not supported with several workers, running to a fixed trial cap")
		}
	}
	return header
}

// patience is the convergence patience of the single in-thread loop
func (r *Runner) patience() int {
	opt := r.cfg.Optimization
	if opt.Budget.Mode != config.BudgetConvergence || opt.MultiProcess() {
		return 0
	}
	return opt.Budget.Patience
}

// launch runs the optimize loops and returns the first worker failure
func (r *Runner) launch(ctx context.Context, env *Env, storage *Storage, runID string) error {
	opt := r.cfg.Optimization

	if !opt.MultiProcess() {
		backend, err := storage.Open(ctx)
		if err != nil {
			return fmt.Errorf("failed to open trial log: %w", err)
		}
		_, err = runStudy(ctx, env, backend, runID, 0, r.patience())
		return err
	}

	launcher := r.Launcher
	if launcher == nil {
		if opt.InProcess {
			launcher = &InProcessLauncher{
				Worker: func(ctx context.Context, index int) error {
					backend, err := storage.Open(ctx)
					if err != nil {
						return fmt.Errorf("failed to open trial log: %w", err)
					}
					_, err = runStudy(ctx, env, backend, runID, index, 0)
					return err
				},
			}
		} else {
			pl, err := NewProcessLauncher(r.ConfigPath)
			if err != nil {
				return err
			}
			// Workers reload the config file, so flag overrides travel on the command line
			pl.LogLevel = r.cfg.App.LogLevel
			launcher = pl
		}
	}

	return launcher.Launch(ctx, runID, opt.Workers)
}

// snapshotFunc reads per-state counts and the best primary value from the log
func snapshotFunc(trialLog *study.TrialLog, primary study.Direction) metrics.SnapshotFunc {
	return func(ctx context.Context) (*metrics.Snapshot, error) {
		trials, err := trialLog.Trials(ctx)
		if err != nil {
			return nil, err
		}

		snap := &metrics.Snapshot{Counts: make(map[string]int)}
		for _, t := range trials {
			snap.Counts[string(t.State)]++
			if t.State != study.StateComplete || len(t.Values) == 0 {
				continue
			}
			if !snap.HasBest || primary.Better(t.Values[0], snap.Best) {
				snap.Best = t.Values[0]
				snap.HasBest = true
			}
		}
		return snap, nil
	}
}
