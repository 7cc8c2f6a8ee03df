package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/taskbuffet/buffet/internal/buffet"
	"github.com/taskbuffet/buffet/internal/config"
	"github.com/taskbuffet/buffet/internal/errors"
	"github.com/taskbuffet/buffet/internal/event"
	"github.com/taskbuffet/buffet/internal/executor"
	"github.com/taskbuffet/buffet/internal/filelock"
	"github.com/taskbuffet/buffet/internal/logging"
	"github.com/taskbuffet/buffet/internal/tasksource"
	"github.com/taskbuffet/buffet/internal/worker"
)

// Flags shared by every command that opens the buffet, mapped to config keys.
var buffetFlagKeys = map[string]string{
	"buffet":       "buffet.path",
	"lock":         "buffet.lock_path",
	"format":       "buffet.format",
	"tasks":        "buffet.tasks_file",
	"merge":        "buffet.merge",
	"lock-timeout": "lock.timeout",
}

// Flags of commands that run workers.
var workerFlagKeys = map[string]string{
	"worker-id":     "worker.id",
	"time-budget":   "worker.time_budget",
	"fail-on-error": "worker.fail_on_error",
	"shell":         "executor.shell",
	"task-timeout":  "executor.task_timeout",
	"workdir":       "executor.workdir",
}

func addBuffetFlags(cmd *cobra.Command) {
	cmd.Flags().String("buffet", "", "buffet file shared by all workers (default: buffet.json)")
	cmd.Flags().String("lock", "", "lock file (default: <buffet>.lock)")
	cmd.Flags().String("format", "", "buffet format: json, json.gz or bolt")
	cmd.Flags().String("tasks", "", "YAML or JSON task list used to create the buffet")
	cmd.Flags().Bool("merge", true, "merge a changed task list into an existing buffet")
	cmd.Flags().Duration("lock-timeout", 0, "give up waiting for the lock after this long (0 waits forever)")
}

func addWorkerFlags(cmd *cobra.Command) {
	cmd.Flags().String("worker-id", "", "worker identity recorded as task owner (default: <host>-<pid>-<random>)")
	cmd.Flags().Duration("time-budget", 0, "stop picking tasks after this long (0 disables)")
	cmd.Flags().Bool("fail-on-error", false, "abort when a task cannot be launched")
	cmd.Flags().String("shell", "", "shell that runs task commands (default: /bin/sh)")
	cmd.Flags().Duration("task-timeout", 0, "fail a task that runs longer than this (0 disables)")
	cmd.Flags().String("workdir", "", "working directory of task commands")
}

func mergeKeys(maps ...map[string]string) map[string]string {
	merged := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			merged[k] = v
		}
	}
	return merged
}

// defaultWorkerID returns <hostname>-<pid>-<8 hex digits>.
func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.New().String()[:8])
}

// newLogger returns the process logger. With a log directory every process
// writes its own rotated file so concurrent workers never share one.
func newLogger(cmd *cobra.Command, cfg *config.Config) (*logging.Logger, error) {
	level := logging.ParseLevel(cfg.Logging.Level)
	if cfg.Logging.Dir == "" {
		return logging.NewWriterLogger(cmd.ErrOrStderr(), level), nil
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	name := fmt.Sprintf("buffet-%s-%d.log", host, os.Getpid())
	logger, err := logging.NewLoggerWithRotation(cfg.Logging.Dir, name, level, cfg.Logging.Rotation())
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

func newStore(cfg *config.Config) (buffet.Store, error) {
	return buffet.NewStore(cfg.Buffet.Format, cfg.Buffet.Path, nil)
}

func newLock(cfg *config.Config, owner string) *filelock.Lock {
	return filelock.New(cfg.Buffet.ResolveLockPath(), cfg.Lock.LockOptions(owner)...)
}

// seedFor returns the task source seed, or nil without a tasks file.
func seedFor(cfg *config.Config) buffet.Seed {
	if cfg.Buffet.TasksFile == "" {
		return nil
	}
	return tasksource.FromFile(cfg.Buffet.TasksFile)
}

// withLock runs fn while holding lock. A timed out wait names the last
// recorded holder.
func withLock(ctx context.Context, lock *filelock.Lock, fn func() error) (err error) {
	if err := lock.Lock(ctx); err != nil {
		if errors.Is(err, errors.ErrLockTimeout) {
			if h, herr := filelock.ReadHolder(lock.Path()); herr == nil && h != nil {
				return fmt.Errorf("%w (held by %s pid %d on %s since %s)",
					err, h.Owner, h.PID, h.Hostname, h.AcquiredAt.Format(time.RFC3339))
			}
		}
		return err
	}
	defer func() {
		if uerr := lock.Unlock(); uerr != nil && err == nil {
			err = errors.NewLockError("release", uerr).WithPath(lock.Path())
		}
	}()
	return fn()
}

// workerDeps bundles what every worker of one invocation shares.
type workerDeps struct {
	cfg    *config.Config
	logger *logging.Logger
	bus    *event.Bus
	stdout io.Writer
	stderr io.Writer
}

// newWorker builds a worker with its own lock handle, store and executor.
func (d workerDeps) newWorker(id string) (*worker.Worker, error) {
	store, err := newStore(d.cfg)
	if err != nil {
		return nil, err
	}

	shell := d.cfg.Executor.ShellConfig()
	shell.Stdout = d.stdout
	shell.Stderr = d.stderr

	return worker.New(worker.Config{
		ID:          id,
		Lock:        newLock(d.cfg, id),
		Store:       store,
		Executor:    executor.NewShell(shell),
		Seed:        seedFor(d.cfg),
		Merge:       d.cfg.Buffet.Merge,
		TimeBudget:  d.cfg.Worker.TimeBudget,
		FailOnError: d.cfg.Worker.FailOnError,
		Logger:      d.logger,
		Bus:         d.bus,
	})
}

// syncWriter serializes writes from concurrent workers.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newSyncWriter(w io.Writer) *syncWriter {
	return &syncWriter{w: w}
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// printProgress prints one line per buffet and task event.
func printProgress(bus *event.Bus, w io.Writer) {
	bus.Subscribe(event.TypeBuffetCreated, func(e event.Event) {
		ev := e.(event.BuffetCreatedEvent)
		fmt.Fprintf(w, "[%s] created %s with %d tasks\n", ev.WorkerID, ev.Path, ev.Tasks)
	})
	bus.Subscribe(event.TypeBuffetMerged, func(e event.Event) {
		ev := e.(event.BuffetMergedEvent)
		fmt.Fprintf(w, "[%s] merged task list into %s (%d tasks)\n", ev.WorkerID, ev.Path, ev.Tasks)
	})
	bus.Subscribe(event.TypeTaskPicked, func(e event.Event) {
		ev := e.(event.TaskPickedEvent)
		fmt.Fprintf(w, "[%s] picked %s (attempt %d)\n", ev.WorkerID, ev.TaskID, ev.Attempt)
	})
	bus.Subscribe(event.TypeTaskResolved, func(e event.Event) {
		ev := e.(event.TaskResolvedEvent)
		line := fmt.Sprintf("[%s] %s %s in %s", ev.WorkerID, ev.TaskID, ev.State, ev.Duration.Round(time.Millisecond))
		if ev.Detail != "" {
			line += ": " + ev.Detail
		}
		fmt.Fprintln(w, line)
	})
}

// printResult prints the summary line of one worker.
func printResult(w io.Writer, res worker.Result) {
	fmt.Fprintf(w, "%s: executed %d (%d done, %d failed, %d requeued)",
		res.WorkerID, res.Executed, res.Succeeded, res.Failed, res.Requeued)
	if res.OutOfTime {
		fmt.Fprint(w, ", time budget exhausted")
	}
	fmt.Fprintln(w)
}
