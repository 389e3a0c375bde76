package runner

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/ajitpratap0/stratlab/internal/config"
	"github.com/ajitpratap0/stratlab/internal/metrics"
	"github.com/ajitpratap0/stratlab/internal/strategy"
	"github.com/ajitpratap0/stratlab/pkg/sampler"
	"github.com/ajitpratap0/stratlab/pkg/study"
)

// RunWorker is the entry point of a worker process. It rebuilds the environment
// from the configuration, opens its own handle on the log of runID and optimizes
// until the stop rule in the log header ends the run or ctx is cancelled.
func RunWorker(ctx context.Context, cfg *config.Config, registry *strategy.Registry, runID string, index int) (*study.OptimizeStats, error) {
	env, err := Prepare(ctx, cfg, registry)
	if err != nil {
		return nil, err
	}

	backend, err := NewStorage(cfg.Storage, runID).Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open trial log: %w", err)
	}

	if cfg.Monitoring.EnableMetrics {
		if port := config.WorkerMetricsPort(cfg.Monitoring.PrometheusPort, index); port > 0 {
			server := metrics.NewServer(port, config.NewWorkerLogger(WorkerName(index), runID))
			if err := server.Start(); err == nil {
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
					defer cancel()
					_ = server.Shutdown(shutdownCtx)
				}()
			}
		}
	}

	return runStudy(ctx, env, backend, runID, index, 0)
}

// WorkerName is the log and trial attribution name of worker index
func WorkerName(index int) string {
	return fmt.Sprintf("worker-%d", index)
}

// runStudy runs one optimize loop over backend and closes it
func runStudy(ctx context.Context, env *Env, backend study.Backend, runID string, index, patience int) (*study.OptimizeStats, error) {
	trialLog := study.NewTrialLog(backend)
	defer trialLog.Close()

	opt := env.Config.Optimization
	name := WorkerName(index)
	logger := config.NewWorkerLogger(name, runID)

	// Workers get distinct seeds so that they do not propose the same points
	smp, err := sampler.New(opt.Sampler, sampler.Options{
		Seed:           opt.Seed + int64(index),
		ConstantLiar:   opt.ConstantLiar,
		StartupTrials:  opt.StartupTrials,
		PopulationSize: opt.PopulationSize,
	})
	if err != nil {
		return nil, err
	}

	var pruner study.Pruner
	if opt.Pruning.Enabled && len(opt.Objectives) == 1 && env.Config.Simulation.CheckpointEvery > 0 {
		// Checkpoints report mark-to-market profit, which is always maximised
		median := study.NewMedianPruner(study.Maximize)
		median.StartupTrials = opt.Pruning.StartupTrials
		median.WarmupSteps = opt.Pruning.WarmupSteps
		pruner = median
	}

	s := study.NewStudy(trialLog, env.Space, smp, pruner, name).WithLogger(logger)

	progress := &rate.Sometimes{Interval: env.Config.Monitoring.ProgressInterval}
	if progress.Interval <= 0 {
		progress = &rate.Sometimes{Every: 1}
	}
	s.OnTrialFinished = func(trial *study.Trial, outcome study.Outcome, elapsed time.Duration) {
		metrics.RecordTrial(string(outcome.State()), elapsed.Seconds())
		progress.Do(func() {
			logger.Info().
				Int("trial", trial.Number).
				Str("state", string(outcome.State())).
				Floats64("values", outcome.Values).
				Dur("elapsed", elapsed).
				Msg("Trial finished")
		})
	}

	logger.Info().
		Str("sampler", opt.Sampler).
		Bool("pruning", pruner != nil).
		Int("patience", patience).
		Msg("Worker starting")

	stats, err := s.Optimize(ctx, NewObjective(env).Evaluate, patience)
	if err != nil {
		return stats, fmt.Errorf("%s failed: %w", name, err)
	}

	logger.Info().
		Int("evaluated", stats.Evaluated).
		Int("completed", stats.Completed).
		Int("pruned", stats.Pruned).
		Int("failed", stats.Failed).
		Str("stop_reason", string(stats.StopReason)).
		Msg("Worker finished")

	return stats, nil
}
