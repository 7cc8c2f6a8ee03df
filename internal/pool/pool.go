// Package pool runs several buffet workers from one invocation.
//
// [RunLocal] runs workers as goroutines of the current process. Each one gets
// its own lock handle and store from the factory, so they contend for the
// buffet exactly as separate processes would. [Spawn] starts child processes
// of the buffet binary instead.
package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/taskbuffet/buffet/internal/errors"
	"github.com/taskbuffet/buffet/internal/event"
	"github.com/taskbuffet/buffet/internal/worker"
)

// Factory builds the i-th worker, 0 <= i < n.
type Factory func(i int) (*worker.Worker, error)

// Result aggregates the runs of all workers.
type Result struct {
	Workers []worker.Result `json:"workers"`
}

// Totals sums the per-worker counters. OutOfTime is set if any worker ran
// out of time.
func (r Result) Totals() worker.Result {
	var total worker.Result
	for _, w := range r.Workers {
		total.Executed += w.Executed
		total.Succeeded += w.Succeeded
		total.Failed += w.Failed
		total.Requeued += w.Requeued
		total.OutOfTime = total.OutOfTime || w.OutOfTime
	}
	return total
}

// WorkerID returns the id of the i-th worker derived from base.
func WorkerID(base string, i int) string {
	return fmt.Sprintf("%s-%d", base, i)
}

// RunLocal runs n workers concurrently and waits for all of them. A worker
// that fails does not stop the others. The returned error is the first
// worker error, if any.
func RunLocal(ctx context.Context, n int, factory Factory) (Result, error) {
	if n < 1 {
		return Result{}, fmt.Errorf("%w: worker count must be at least 1, got %d", errors.ErrInvalidInput, n)
	}

	workers := make([]*worker.Worker, n)
	for i := range workers {
		w, err := factory(i)
		if err != nil {
			return Result{}, fmt.Errorf("create worker %d: %w", i, err)
		}
		workers[i] = w
	}

	res := Result{Workers: make([]worker.Result, n)}
	p := pool.New().WithErrors().WithFirstError().WithContext(ctx)
	for i, w := range workers {
		p.Go(func(ctx context.Context) error {
			r, err := w.Run(ctx)
			res.Workers[i] = r
			if err != nil {
				return fmt.Errorf("worker %s: %w", w.ID(), err)
			}
			return nil
		})
	}
	err := p.Wait()
	return res, err
}

// Progress counts task events published by the workers of a pool.
type Progress struct {
	mu       sync.Mutex
	picked   int
	resolved map[string]int
	workers  int
}

// NewProgress subscribes a Progress to bus.
func NewProgress(bus *event.Bus) *Progress {
	p := &Progress{resolved: make(map[string]int)}
	bus.SubscribeAll(p.handle)
	return p
}

func (p *Progress) handle(e event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev := e.(type) {
	case event.TaskPickedEvent:
		p.picked++
	case event.TaskResolvedEvent:
		p.resolved[ev.State]++
	case event.WorkerFinishedEvent:
		p.workers++
	}
}

// Snapshot returns the number of picks, resolutions per state and finished
// workers seen so far.
func (p *Progress) Snapshot() (picked int, resolved map[string]int, finished int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	resolved = make(map[string]int, len(p.resolved))
	for k, v := range p.resolved {
		resolved[k] = v
	}
	return p.picked, resolved, p.workers
}
