package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/stratlab/internal/metrics"
)

// Launcher starts the workers of a multi-worker run and waits for all of them.
// A failed worker does not stop the others; the first failure is returned once
// every worker has exited.
type Launcher interface {
	Launch(ctx context.Context, runID string, workers int) error
}

// ============================================================================
// OS PROCESSES
// ============================================================================

// DefaultStopGrace is how long a worker may take to finish its trial after a stop request
const DefaultStopGrace = 30 * time.Second

// ProcessLauncher runs every worker as a child process executing the worker
// command of the current binary
type ProcessLauncher struct {
	Executable string
	ConfigPath string
	LogLevel   string
	// Env holds extra KEY=VALUE entries on top of the parent environment
	Env       []string
	StopGrace time.Duration
}

// NewProcessLauncher creates a launcher re-executing the running binary
func NewProcessLauncher(configPath string) (*ProcessLauncher, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable: %w", err)
	}
	return &ProcessLauncher{
		Executable: exe,
		ConfigPath: configPath,
		StopGrace:  DefaultStopGrace,
	}, nil
}

// Args returns the command line of worker index
func (l *ProcessLauncher) Args(runID string, index int) []string {
	args := []string{"worker", "--run-id", runID, "--worker-index", strconv.Itoa(index)}
	if l.ConfigPath != "" {
		args = append(args, "--config", l.ConfigPath)
	}
	if l.LogLevel != "" {
		args = append(args, "--log-level", l.LogLevel)
	}
	return args
}

// Launch implements Launcher
func (l *ProcessLauncher) Launch(ctx context.Context, runID string, workers int) error {
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		index := i
		g.Go(func() error {
			return l.runProcess(ctx, runID, index)
		})
	}
	return g.Wait()
}

func (l *ProcessLauncher) runProcess(ctx context.Context, runID string, index int) error {
	cmd := exec.CommandContext(ctx, l.Executable, l.Args(runID, index)...) // #nosec G204 executable is the running binary
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	// Cancellation asks the worker to stop after its current trial
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = l.StopGrace

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start worker %d: %w", index, err)
	}
	metrics.WorkerStarted()

	log.Info().
		Int("worker", index).
		Int("pid", cmd.Process.Pid).
		Msg("Worker process started")

	started := time.Now()
	err := cmd.Wait()
	metrics.WorkerExited(err)

	if err == nil {
		log.Info().
			Int("worker", index).
			Dur("elapsed", time.Since(started)).
			Msg("Worker process exited")
		return nil
	}

	if ctx.Err() != nil {
		log.Warn().Err(err).Int("worker", index).Msg("Worker process stopped on interrupt")
		return nil
	}

	event := log.Error().Err(err).Int("worker", index)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		event = event.Int("exit_code", exitErr.ExitCode()).Str("status", exitErr.String())
	}
	event.Msg("Worker process crashed")

	return fmt.Errorf("worker %d exited: %w", index, err)
}

// ============================================================================
// GOROUTINES
// ============================================================================

// InProcessLauncher runs every worker as a goroutine. Each worker still opens
// its own trial log handle and coordinates only through the log.
type InProcessLauncher struct {
	Worker func(ctx context.Context, index int) error
}

// Launch implements Launcher
func (l *InProcessLauncher) Launch(ctx context.Context, _ string, workers int) error {
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		index := i
		g.Go(func() error {
			metrics.WorkerStarted()
			err := l.Worker(ctx, index)
			metrics.WorkerExited(err)
			if err != nil {
				log.Error().Err(err).Int("worker", index).Msg("Worker failed")
				return fmt.Errorf("worker %d: %w", index, err)
			}
			return nil
		})
	}
	return g.Wait()
}
