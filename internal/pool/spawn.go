package pool

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/taskbuffet/buffet/internal/errors"
	"github.com/taskbuffet/buffet/internal/logging"
)

// DefaultStopGrace is how long a child may take to hand back its task after
// being interrupted before it is killed.
const DefaultStopGrace = 10 * time.Second

// SpawnConfig describes the child processes started by Spawn.
type SpawnConfig struct {
	// Executable is the buffet binary; empty means the running executable.
	Executable string
	// Args precede the worker id flag, e.g. ["work", "--buffet", path].
	Args []string
	// BaseID is combined with the child index into each worker id.
	BaseID string

	Stdout io.Writer
	Stderr io.Writer
	Env    []string

	// StopGrace bounds the wait after SIGTERM on cancellation.
	StopGrace time.Duration

	Logger *logging.Logger
}

// ChildResult is how one child process ended.
type ChildResult struct {
	WorkerID string `json:"worker_id"`
	ExitCode int    `json:"exit_code"`
	Err      string `json:"error,omitempty"`
}

// Spawn starts n children running "<exe> <args> --worker-id <base>-<i>" and
// waits for all of them. Cancelling ctx sends SIGTERM to every child so each
// can hand back its task. The returned error reports the first child that
// exited non-zero.
func Spawn(ctx context.Context, n int, cfg SpawnConfig) ([]ChildResult, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: worker count must be at least 1, got %d", errors.ErrInvalidInput, n)
	}
	if cfg.BaseID == "" {
		return nil, fmt.Errorf("%w: base worker id must not be empty", errors.ErrInvalidInput)
	}
	exe := cfg.Executable
	if exe == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve own executable: %w", err)
		}
		exe = self
	}
	grace := cfg.StopGrace
	if grace <= 0 {
		grace = DefaultStopGrace
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}

	results := make([]ChildResult, n)
	p := pool.New().WithErrors().WithFirstError().WithContext(ctx)
	for i := range n {
		id := WorkerID(cfg.BaseID, i)
		p.Go(func(ctx context.Context) error {
			args := append(append([]string(nil), cfg.Args...), "--worker-id", id)
			cmd := exec.CommandContext(ctx, exe, args...)
			cmd.Stdout = cfg.Stdout
			cmd.Stderr = cfg.Stderr
			if cfg.Env != nil {
				cmd.Env = cfg.Env
			}
			cmd.Cancel = func() error {
				return cmd.Process.Signal(syscall.SIGTERM)
			}
			cmd.WaitDelay = grace

			logger.WithWorker(id).Info("starting child worker", "exe", exe)
			err := cmd.Run()

			results[i] = ChildResult{WorkerID: id}
			if cmd.ProcessState != nil {
				results[i].ExitCode = cmd.ProcessState.ExitCode()
			}
			if err == nil {
				return nil
			}
			results[i].Err = err.Error()
			logger.WithWorker(id).Warn("child worker failed",
				"exit_code", results[i].ExitCode, "error", err.Error())
			return fmt.Errorf("worker %s: %w", id, err)
		})
	}
	err := p.Wait()
	return results, err
}
