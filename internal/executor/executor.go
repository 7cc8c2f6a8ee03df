// Package executor runs the work a task refers to and reports how it ended.
//
// The worker loop only depends on the [Executor] interface. [Shell] runs a
// task's command through a shell; [Func] adapts a Go function, which is how
// tests and embedding programs supply work.
package executor

import (
	"context"
	"time"

	"github.com/taskbuffet/buffet/internal/buffet"
	"github.com/taskbuffet/buffet/internal/errors"
)

// Outcome is how a task execution ended.
type Outcome int

const (
	// Success marks the task Done.
	Success Outcome = iota
	// Failure marks the task Failed.
	Failure
	// Requeue hands the task back as Pending.
	Requeue
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Requeue:
		return "requeue"
	default:
		return "unknown"
	}
}

// Request is one task handed to an executor.
type Request struct {
	Task     *buffet.Task
	WorkerID string
	// Deadline is when the worker's time budget runs out, zero if unbounded.
	Deadline time.Time
}

// Result reports how an execution ended.
type Result struct {
	Outcome  Outcome
	ExitCode int
	// Detail is recorded on the task for Failure and Requeue outcomes.
	Detail   string
	Duration time.Duration
}

// Executor performs the work of a task.
//
// A returned error means the task could not be run at all. When ctx ends
// before the work finishes, Execute stops the work and returns ctx.Err().
// Work that completes keeps its result even if ctx ended meanwhile.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// Func adapts a Go function to Executor. A nil error is Success; a non-nil
// error is Failure with the error text as detail, unless it wraps the error
// of an ended ctx.
type Func func(ctx context.Context, req Request) error

// Execute calls f.
func (f Func) Execute(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	err := f(ctx, req)
	res := Result{Duration: time.Since(start)}

	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return res, ctx.Err()
	}
	if err != nil {
		res.Outcome = Failure
		res.ExitCode = 1
		res.Detail = err.Error()
	}
	return res, nil
}
