package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/taskbuffet/buffet/internal/buffet"
	"github.com/taskbuffet/buffet/internal/errors"
	"github.com/taskbuffet/buffet/internal/event"
	"github.com/taskbuffet/buffet/internal/executor"
	"github.com/taskbuffet/buffet/internal/logging"
)

// State is the position of a worker in its loop.
type State string

const (
	StateBootstrapping State = "bootstrapping"
	StateIdle          State = "idle"
	StateHolding       State = "holding"
	StateExecuting     State = "executing"
	StateFinished      State = "finished"
)

// Locker guards the buffet. *filelock.Lock satisfies it.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock() error
	Path() string
}

// Config holds everything a worker needs.
type Config struct {
	// ID is recorded as the owner of every task the worker picks.
	ID string

	Lock     Locker
	Store    buffet.Store
	Executor executor.Executor

	// Seed creates the buffet when it does not exist yet. With Merge set it
	// is also reconciled against an existing buffet during bootstrap.
	Seed  buffet.Seed
	Merge bool

	// TimeBudget bounds the whole run. Zero means unbounded.
	TimeBudget time.Duration

	// FailOnError aborts the worker when a task cannot be launched.
	FailOnError bool

	Logger *logging.Logger
	Bus    *event.Bus
}

// Result summarizes one run.
type Result struct {
	WorkerID  string `json:"worker_id"`
	Executed  int    `json:"executed"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Requeued  int    `json:"requeued"`
	// OutOfTime reports that the worker stopped picking because its time
	// budget ran out.
	OutOfTime bool `json:"out_of_time"`
}

// Worker runs the pick and execute loop against a shared buffet.
type Worker struct {
	cfg    Config
	logger *logging.Logger
	now    func() time.Time

	mu    sync.RWMutex
	state State
}

// New creates a worker from cfg.
func New(cfg Config) (*Worker, error) {
	switch {
	case cfg.ID == "":
		return nil, fmt.Errorf("%w: worker id must not be empty", errors.ErrInvalidInput)
	case cfg.Lock == nil:
		return nil, fmt.Errorf("%w: worker needs a lock", errors.ErrInvalidInput)
	case cfg.Store == nil:
		return nil, fmt.Errorf("%w: worker needs a store", errors.ErrInvalidInput)
	case cfg.Executor == nil:
		return nil, fmt.Errorf("%w: worker needs an executor", errors.ErrInvalidInput)
	case cfg.TimeBudget < 0:
		return nil, fmt.Errorf("%w: time budget must not be negative", errors.ErrInvalidInput)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}

	return &Worker{
		cfg:    cfg,
		logger: logger.WithWorker(cfg.ID).With(logging.KeyBuffet, cfg.Store.Path()),
		now:    time.Now,
		state:  StateBootstrapping,
	}, nil
}

// ID returns the worker identity.
func (w *Worker) ID() string {
	return w.cfg.ID
}

// State returns the current loop state.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	prev := w.state
	w.state = s
	w.mu.Unlock()

	if prev != s {
		w.logger.Debug("worker state changed", "from", string(prev), "to", string(s))
	}
}

// Run bootstraps the buffet and then picks and executes tasks until none is
// Pending, the time budget runs out, or ctx is cancelled.
//
// Task failures are recorded in the buffet and never end the run. Lock and
// store errors are returned immediately. When ctx is cancelled while a task
// runs, the task is handed back as Pending before Run returns ctx.Err().
func (w *Worker) Run(ctx context.Context) (res Result, err error) {
	res.WorkerID = w.cfg.ID
	start := w.now()

	var deadline time.Time
	if w.cfg.TimeBudget > 0 {
		deadline = start.Add(w.cfg.TimeBudget)
	}

	w.logger.Info("worker starting", "time_budget", w.cfg.TimeBudget.String())
	defer func() {
		w.setState(StateFinished)
		w.cfg.Bus.Publish(event.NewWorkerFinishedEvent(w.cfg.ID,
			res.Executed, res.Succeeded, res.Failed, res.Requeued, res.OutOfTime, err))
		if err != nil {
			attrs := append([]any{"error", err.Error(), "executed", res.Executed}, errors.LogAttrs(err)...)
			w.logger.Error("worker stopped", attrs...)
			return
		}
		w.logger.Info("worker finished", "executed", res.Executed, "succeeded", res.Succeeded,
			"failed", res.Failed, "requeued", res.Requeued, "out_of_time", res.OutOfTime,
			"elapsed", time.Since(start).String())
	}()

	w.setState(StateBootstrapping)
	if err := w.bootstrap(ctx); err != nil {
		return res, err
	}
	w.setState(StateIdle)

	var task *buffet.Task
	if w.budgetLeft(deadline) {
		if task, err = w.pick(ctx); err != nil {
			return res, err
		}
	} else {
		res.OutOfTime = true
	}

	for task != nil {
		w.setState(StateHolding)
		if ctx.Err() != nil {
			// Cancelled before the task started; hand it back untouched.
			r := resolution{taskID: task.ID, state: buffet.StatePending, detail: "interrupted"}
			if _, rerr := w.resolveAndPick(context.WithoutCancel(ctx), task, r, nil); rerr != nil {
				return res, errors.Join(ctx.Err(), rerr)
			}
			res.Requeued++
			return res, ctx.Err()
		}

		w.setState(StateExecuting)
		r, execErr := w.execute(ctx, task, deadline)
		res.Executed++
		res.count(r)

		abort := execErr != nil && w.cfg.FailOnError
		next := func() bool {
			if ctx.Err() != nil || abort {
				return false
			}
			if !w.budgetLeft(deadline) {
				res.OutOfTime = true
				return false
			}
			return true
		}

		// The resolve itself is not cancellable: the outcome must be
		// recorded even if ctx ends while waiting for the lock.
		task, err = w.resolveAndPick(context.WithoutCancel(ctx), task, r, next)
		switch {
		case err != nil && ctx.Err() != nil:
			return res, errors.Join(ctx.Err(), err)
		case err != nil:
			return res, err
		case abort:
			if !errors.Is(execErr, errors.ErrTaskExecution) {
				execErr = fmt.Errorf("%w: %w", errors.ErrTaskExecution, execErr)
			}
			return res, errors.NewTaskError("aborting on task error", execErr).
				WithTaskID(r.taskID).WithOwner(w.cfg.ID)
		case task == nil && ctx.Err() != nil:
			return res, ctx.Err()
		}
	}

	w.setState(StateIdle)
	return res, nil
}

func (res *Result) count(r resolution) {
	if r.outOfTime {
		res.OutOfTime = true
	}
	switch r.state {
	case buffet.StateDone:
		res.Succeeded++
	case buffet.StateFailed:
		res.Failed++
	case buffet.StatePending:
		res.Requeued++
	}
}

func (w *Worker) budgetLeft(deadline time.Time) bool {
	return deadline.IsZero() || w.now().Before(deadline)
}

// withLock runs fn while holding the buffet lock. The lock is released on
// every return path.
func (w *Worker) withLock(ctx context.Context, fn func() error) (err error) {
	if err := w.cfg.Lock.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		if uerr := w.cfg.Lock.Unlock(); uerr != nil {
			w.logger.Warn("failed to release lock", "error", uerr.Error())
			if err == nil {
				err = errors.NewLockError("release", uerr).WithPath(w.cfg.Lock.Path())
			}
		}
	}()
	return fn()
}

// critical loads the buffet under the lock, applies fn and saves the result
// when fn reports a change.
func (w *Worker) critical(ctx context.Context, fn func(b *buffet.Buffet) (bool, error)) error {
	return w.withLock(ctx, func() error {
		b, err := w.cfg.Store.Load()
		if err != nil {
			return err
		}
		changed, err := fn(b)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		return w.cfg.Store.Save(b)
	})
}

// bootstrap opens the buffet, creating it from the seed when absent and
// merging a changed task list when configured to.
func (w *Worker) bootstrap(ctx context.Context) error {
	var (
		created, merged bool
		total           int
	)

	err := w.withLock(ctx, func() error {
		b, isNew, err := buffet.OpenOrCreate(w.cfg.Store, w.cfg.Seed, w.cfg.ID)
		if err != nil {
			return err
		}
		created = isNew
		total = len(b.Tasks)
		if created || !w.cfg.Merge || w.cfg.Seed == nil {
			return nil
		}

		specs, err := w.cfg.Seed()
		if err != nil {
			return fmt.Errorf("load task source: %w", err)
		}
		if merged, err = b.Reconcile(specs); err != nil {
			return err
		}
		if !merged {
			return nil
		}
		total = len(b.Tasks)
		return w.cfg.Store.Save(b)
	})
	if err != nil {
		return err
	}

	switch {
	case created:
		w.logger.Info("buffet created", "tasks", total)
		w.cfg.Bus.Publish(event.NewBuffetCreatedEvent(w.cfg.ID, w.cfg.Store.Path(), total))
	case merged:
		w.logger.Info("buffet merged with task source", "tasks", total)
		w.cfg.Bus.Publish(event.NewBuffetMergedEvent(w.cfg.ID, w.cfg.Store.Path(), total))
	default:
		w.logger.Debug("buffet opened", "tasks", total)
	}
	return nil
}

// pick marks the next Pending task InExecution for this worker. It returns
// nil when none is left.
func (w *Worker) pick(ctx context.Context) (*buffet.Task, error) {
	var task *buffet.Task
	err := w.critical(ctx, func(b *buffet.Buffet) (bool, error) {
		var err error
		task, err = b.Pick(w.cfg.ID, w.now())
		return task != nil, err
	})
	if err != nil {
		return nil, err
	}
	w.picked(task)
	return task, nil
}

func (w *Worker) picked(task *buffet.Task) {
	if task == nil {
		w.logger.Info("no pending task left")
		return
	}
	w.logger.WithTask(task.ID).Info("task picked", "attempt", task.Attempts)
	w.cfg.Bus.Publish(event.NewTaskPickedEvent(w.cfg.ID, task.ID, task.Attempts))
}

// resolution is the buffet transition that follows an execution.
type resolution struct {
	taskID    string
	state     buffet.State
	detail    string
	duration  time.Duration
	outOfTime bool
}

// execute runs task outside the lock and translates the outcome into the
// state the task moves to. The returned error is the executor's own error,
// already folded into the resolution.
func (w *Worker) execute(ctx context.Context, task *buffet.Task, deadline time.Time) (resolution, error) {
	execCtx := ctx
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	logger := w.logger.WithTask(task.ID)
	logger.Debug("executing task", "command", task.Payload.Command)

	start := w.now()
	result, err := w.cfg.Executor.Execute(execCtx, executor.Request{
		Task:     task,
		WorkerID: w.cfg.ID,
		Deadline: deadline,
	})
	r := resolution{taskID: task.ID, duration: result.Duration}
	if r.duration == 0 {
		r.duration = w.now().Sub(start)
	}

	switch {
	case err != nil && ctx.Err() != nil:
		r.state = buffet.StatePending
		r.detail = "interrupted"
		return r, nil
	case err != nil && execCtx.Err() != nil:
		r.state = buffet.StatePending
		r.detail = "time budget exhausted"
		r.outOfTime = true
		logger.Warn("task stopped by time budget")
		return r, nil
	case err != nil:
		r.state = buffet.StateFailed
		r.detail = err.Error()
		logger.Error("task could not be executed", "error", err.Error())
		return r, err
	}

	switch result.Outcome {
	case executor.Success:
		r.state = buffet.StateDone
	case executor.Requeue:
		r.state = buffet.StatePending
		r.detail = result.Detail
	default:
		r.state = buffet.StateFailed
		r.detail = result.Detail
	}
	return r, nil
}

// resolveAndPick records the outcome of task and, when next reports true,
// picks the following task in the same critical section. next is evaluated
// while the lock is held; a nil next never picks.
func (w *Worker) resolveAndPick(ctx context.Context, task *buffet.Task, r resolution, next func() bool) (*buffet.Task, error) {
	var (
		picked  *buffet.Task
		didPick bool
	)
	err := w.critical(ctx, func(b *buffet.Buffet) (bool, error) {
		now := w.now()
		if err := b.Resolve(task.ID, w.cfg.ID, r.state, r.detail, now); err != nil {
			return false, err
		}
		if next == nil || !next() {
			return true, nil
		}
		didPick = true
		var err error
		picked, err = b.Pick(w.cfg.ID, now)
		return true, err
	})
	if err != nil {
		return nil, err
	}

	w.logger.WithTask(task.ID).Info("task resolved",
		"state", r.state.String(), "detail", r.detail, "duration", r.duration.String())
	w.cfg.Bus.Publish(event.NewTaskResolvedEvent(w.cfg.ID, task.ID, r.state.String(), r.detail, r.duration))

	if didPick {
		w.picked(picked)
	}
	return picked, nil
}
