package executor

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/taskbuffet/buffet/internal/errors"
)

// DefaultRequeueExitCode is the exit status a task uses to ask to be put
// back as Pending (EX_TEMPFAIL).
const DefaultRequeueExitCode = 75

// Environment variables exported to shell tasks.
const (
	EnvTaskID      = "BUFFET_TASK_ID"
	EnvWorkerID    = "BUFFET_WORKER_ID"
	EnvTimeLeft    = "BUFFET_TIME_LEFT"
	EnvParamPrefix = "BUFFET_PARAM_"
)

// ShellConfig configures a Shell executor.
type ShellConfig struct {
	// Shell is the interpreter invoked as "<shell> -c <command>".
	Shell string
	// Dir is the working directory; empty means the worker's.
	Dir string
	// Timeout bounds a single task. A task that exceeds it fails.
	Timeout time.Duration
	// RequeueExitCode is the exit status mapped to Requeue. Zero disables it.
	RequeueExitCode int
	// Stdout and Stderr receive the task's output; nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

// Shell runs a task's payload command through a shell in its own process
// group. Exit status 0 is Success, RequeueExitCode is Requeue, anything
// else is Failure.
type Shell struct {
	cfg ShellConfig
}

// NewShell creates a Shell executor.
func NewShell(cfg ShellConfig) *Shell {
	if cfg.Shell == "" {
		cfg.Shell = "/bin/sh"
	}
	return &Shell{cfg: cfg}
}

// Execute runs the task command and waits for it. If ctx ends first the
// whole process group is killed and ctx.Err() is returned; a command that
// exits before the kill keeps its exit status.
func (s *Shell) Execute(ctx context.Context, req Request) (Result, error) {
	if req.Task == nil {
		return Result{}, fmt.Errorf("%w: nil task", errors.ErrInvalidInput)
	}
	command := req.Task.Payload.Command
	if strings.TrimSpace(command) == "" {
		return Result{}, errors.NewTaskError("launch", fmt.Errorf("%w: empty command", errors.ErrTaskExecution)).
			WithTaskID(req.Task.ID).WithOwner(req.WorkerID)
	}

	runCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, s.cfg.Shell, "-c", command)
	cmd.Dir = s.cfg.Dir
	cmd.Env = append(os.Environ(), taskEnv(req, time.Now())...)
	cmd.Stdout = s.cfg.Stdout
	cmd.Stderr = s.cfg.Stderr
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, errors.NewTaskError("launch", fmt.Errorf("%w: %v", errors.ErrTaskExecution, err)).
			WithTaskID(req.Task.ID).WithOwner(req.WorkerID)
	}
	waitErr := cmd.Wait()
	res := Result{Duration: time.Since(start)}

	// A command that exited on its own keeps its status, even when ctx
	// ended while it was finishing.
	if state := cmd.ProcessState; state != nil && state.Exited() {
		res.ExitCode = state.ExitCode()
		switch {
		case res.ExitCode == 0:
			res.Outcome = Success
		case s.cfg.RequeueExitCode != 0 && res.ExitCode == s.cfg.RequeueExitCode:
			res.Outcome = Requeue
			res.Detail = fmt.Sprintf("exit status %d", res.ExitCode)
		default:
			res.Outcome = Failure
			res.Detail = fmt.Sprintf("exit status %d", res.ExitCode)
		}
		return res, nil
	}

	res.ExitCode = -1
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	if runCtx.Err() != nil {
		res.Outcome = Failure
		res.Detail = fmt.Sprintf("timed out after %s", s.cfg.Timeout)
		return res, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		return res, errors.NewTaskError("wait", fmt.Errorf("%w: %v", errors.ErrTaskExecution, waitErr)).
			WithTaskID(req.Task.ID).WithOwner(req.WorkerID)
	}
	// Killed by a signal nobody here sent.
	res.Outcome = Failure
	res.Detail = exitErr.Error()
	return res, nil
}

// taskEnv returns the variables describing req to the task process.
func taskEnv(req Request, now time.Time) []string {
	env := []string{
		EnvTaskID + "=" + req.Task.ID,
		EnvWorkerID + "=" + req.WorkerID,
	}

	names := make([]string, 0, len(req.Task.Payload.Params))
	for name := range req.Task.Payload.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		env = append(env, EnvParamPrefix+envName(name)+"="+req.Task.Payload.Params[name])
	}

	if !req.Deadline.IsZero() {
		left := math.Max(0, req.Deadline.Sub(now).Seconds())
		env = append(env, fmt.Sprintf("%s=%d", EnvTimeLeft, int64(left)))
	}
	return env
}

// envName upper-cases name and replaces anything that is not a letter,
// digit or underscore.
func envName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
