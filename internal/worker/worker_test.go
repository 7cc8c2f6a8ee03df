package worker

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/taskbuffet/buffet/internal/buffet"
	"github.com/taskbuffet/buffet/internal/errors"
	"github.com/taskbuffet/buffet/internal/event"
	"github.com/taskbuffet/buffet/internal/executor"
	"github.com/taskbuffet/buffet/internal/filelock"
	"github.com/taskbuffet/buffet/internal/logging"
	"github.com/taskbuffet/buffet/internal/testutil"
)

// newWorker builds a worker with its own lock handle and store on paths.
func newWorker(t *testing.T, paths testutil.Paths, id string, exe executor.Executor, opts ...func(*Config)) *Worker {
	t.Helper()

	cfg := Config{
		ID:       id,
		Lock:     filelock.New(paths.Lock, filelock.WithOwner(id), filelock.WithPollInterval(5*time.Millisecond)),
		Store:    buffet.NewFileStore(nil, paths.Buffet, false),
		Executor: exe,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	w, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

func withSeed(specs []buffet.Spec) func(*Config) {
	return func(c *Config) { c.Seed = testutil.Seed(specs) }
}

func withBus(bus *event.Bus) func(*Config) {
	return func(c *Config) { c.Bus = bus }
}

// writeBuffet stores a buffet of ids after applying mutate to it.
func writeBuffet(t *testing.T, path string, mutate func(b *buffet.Buffet), ids ...string) {
	t.Helper()

	b, err := buffet.New(testutil.Specs(ids...), "setup", time.Now())
	if err != nil {
		t.Fatalf("buffet.New: %v", err)
	}
	if mutate != nil {
		mutate(b)
	}
	testutil.WriteBuffet(t, path, b)
}

// eventLog collects the types of published events.
type eventLog struct {
	mu    sync.Mutex
	types []string
}

func recordEvents(bus *event.Bus) *eventLog {
	l := &eventLog{}
	bus.SubscribeAll(func(e event.Event) {
		l.mu.Lock()
		l.types = append(l.types, e.EventType())
		l.mu.Unlock()
	})
	return l
}

func (l *eventLog) count(eventType string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, t := range l.types {
		if t == eventType {
			n++
		}
	}
	return n
}

// scripted returns a canned outcome per task id and call number.
type scripted struct {
	mu      sync.Mutex
	calls   []string
	outcome func(id string, attempt int) (executor.Result, error)
}

func (s *scripted) Execute(ctx context.Context, req executor.Request) (executor.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req.Task.ID)
	attempt := 0
	for _, id := range s.calls {
		if id == req.Task.ID {
			attempt++
		}
	}
	s.mu.Unlock()
	return s.outcome(req.Task.ID, attempt)
}

func TestNew(t *testing.T) {
	paths := testutil.SetupBuffetDir(t)
	lock := filelock.New(paths.Lock)
	store := buffet.NewFileStore(nil, paths.Buffet, false)
	exe := testutil.NewRecorder(0)

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{ID: "w1", Lock: lock, Store: store, Executor: exe}, false},
		{"missing id", Config{Lock: lock, Store: store, Executor: exe}, true},
		{"missing lock", Config{ID: "w1", Store: store, Executor: exe}, true},
		{"missing store", Config{ID: "w1", Lock: lock, Executor: exe}, true},
		{"missing executor", Config{ID: "w1", Lock: lock, Store: store}, true},
		{"negative budget", Config{ID: "w1", Lock: lock, Store: store, Executor: exe, TimeBudget: -time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, errors.ErrInvalidInput) {
					t.Errorf("error %v should wrap ErrInvalidInput", err)
				}
				return
			}
			if w.State() != StateBootstrapping {
				t.Errorf("initial state = %s, want %s", w.State(), StateBootstrapping)
			}
		})
	}
}

func TestWorker_RunsTasksInCreationOrder(t *testing.T) {
	paths := testutil.SetupBuffetDir(t)
	rec := testutil.NewRecorder(0)
	bus := event.NewBus()
	events := recordEvents(bus)

	w := newWorker(t, paths, "w1", rec, withSeed(testutil.Specs("A", "B", "C")), withBus(bus))
	res, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := rec.TaskIDs(); !slices.Equal(got, []string{"A", "B", "C"}) {
		t.Errorf("execution order = %v, want [A B C]", got)
	}
	if res.Executed != 3 || res.Succeeded != 3 || res.Failed != 0 || res.OutOfTime {
		t.Errorf("result = %+v", res)
	}
	if w.State() != StateFinished {
		t.Errorf("state = %s, want finished", w.State())
	}

	b := testutil.LoadBuffet(t, paths.Buffet)
	for _, task := range b.Tasks {
		if task.State != buffet.StateDone || task.Owner != "w1" || task.Attempts != 1 {
			t.Errorf("task %s = state %s owner %q attempts %d", task.ID, task.State, task.Owner, task.Attempts)
		}
		if task.PickedAt == nil || task.FinishedAt == nil {
			t.Errorf("task %s missing timestamps", task.ID)
		}
	}

	if events.count(event.TypeBuffetCreated) != 1 {
		t.Errorf("buffet.created published %d times", events.count(event.TypeBuffetCreated))
	}
	if events.count(event.TypeTaskPicked) != 3 || events.count(event.TypeTaskResolved) != 3 {
		t.Errorf("events = %v", events.types)
	}
	if events.count(event.TypeWorkerFinished) != 1 {
		t.Errorf("worker.finished published %d times", events.count(event.TypeWorkerFinished))
	}
}

func TestWorker_NothingPending(t *testing.T) {
	paths := testutil.SetupBuffetDir(t)
	writeBuffet(t, paths.Buffet, func(b *buffet.Buffet) {
		now := time.Now()
		for _, task := range b.Tasks {
			task.State = buffet.StateDone
			task.Owner = "earlier"
			task.PickedAt, task.FinishedAt = &now, &now
		}
		b.Tasks[1].State = buffet.StateFailed
	}, "A", "B")

	rec := testutil.NewRecorder(0)
	bus := event.NewBus()
	events := recordEvents(bus)

	w := newWorker(t, paths, "w1", rec, withBus(bus))
	res, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(rec.Calls()) != 0 || res.Executed != 0 {
		t.Errorf("executed %d tasks, want none", len(rec.Calls()))
	}
	if events.count(event.TypeTaskPicked) != 0 {
		t.Error("worker should never hold a task")
	}
	if w.State() != StateFinished {
		t.Errorf("state = %s, want finished", w.State())
	}
}

func TestWorker_FailedTaskDoesNotAbort(t *testing.T) {
	paths := testutil.SetupBuffetDir(t)
	exe := executor.Func(func(ctx context.Context, req executor.Request) error {
		if req.Task.ID == "B" {
			return fmt.Errorf("boom")
		}
		return nil
	})

	w := newWorker(t, paths, "w1", exe, withSeed(testutil.Specs("A", "B", "C")))
	res, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Succeeded != 2 || res.Failed != 1 {
		t.Errorf("result = %+v", res)
	}

	b := testutil.LoadBuffet(t, paths.Buffet)
	want := map[string]buffet.State{"A": buffet.StateDone, "B": buffet.StateFailed, "C": buffet.StateDone}
	for id, state := range testutil.StateOf(b) {
		if state != want[id] {
			t.Errorf("task %s = %s, want %s", id, state, want[id])
		}
	}
	if task, _ := b.Lookup("B"); task.Error != "boom" {
		t.Errorf("task B error = %q, want boom", task.Error)
	}
}

func TestWorker_Requeue(t *testing.T) {
	paths := testutil.SetupBuffetDir(t)
	exe := &scripted{outcome: func(id string, attempt int) (executor.Result, error) {
		if id == "A" && attempt == 1 {
			return executor.Result{Outcome: executor.Requeue, Detail: "not yet"}, nil
		}
		return executor.Result{Outcome: executor.Success}, nil
	}}

	w := newWorker(t, paths, "w1", exe, withSeed(testutil.Specs("A", "B")))
	res, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !slices.Equal(exe.calls, []string{"A", "A", "B"}) {
		t.Errorf("calls = %v, want [A A B]", exe.calls)
	}
	if res.Requeued != 1 || res.Succeeded != 2 || res.Executed != 3 {
		t.Errorf("result = %+v", res)
	}

	b := testutil.LoadBuffet(t, paths.Buffet)
	a, _ := b.Lookup("A")
	if a.State != buffet.StateDone || a.Attempts != 2 {
		t.Errorf("task A = state %s attempts %d", a.State, a.Attempts)
	}
}

func TestWorker_ExecutorError(t *testing.T) {
	launchFails := func(id string, attempt int) (executor.Result, error) {
		if id == "A" {
			return executor.Result{}, fmt.Errorf("cannot launch")
		}
		return executor.Result{Outcome: executor.Success}, nil
	}

	t.Run("recorded and skipped", func(t *testing.T) {
		paths := testutil.SetupBuffetDir(t)
		w := newWorker(t, paths, "w1", &scripted{outcome: launchFails}, withSeed(testutil.Specs("A", "B")))

		if _, err := w.Run(context.Background()); err != nil {
			t.Fatalf("Run: %v", err)
		}
		b := testutil.LoadBuffet(t, paths.Buffet)
		a, _ := b.Lookup("A")
		if a.State != buffet.StateFailed || a.Error != "cannot launch" {
			t.Errorf("task A = state %s error %q", a.State, a.Error)
		}
		if bTask, _ := b.Lookup("B"); bTask.State != buffet.StateDone {
			t.Errorf("task B = %s, want done", bTask.State)
		}
	})

	t.Run("fail on error aborts", func(t *testing.T) {
		paths := testutil.SetupBuffetDir(t)
		w := newWorker(t, paths, "w1", &scripted{outcome: launchFails},
			withSeed(testutil.Specs("A", "B")),
			func(c *Config) { c.FailOnError = true })

		_, err := w.Run(context.Background())
		if errors.Kind(err) != errors.KindTaskError {
			t.Fatalf("Run error = %v (kind %q), want TaskError", err, errors.Kind(err))
		}
		var taskErr *errors.TaskError
		if !errors.As(err, &taskErr) || taskErr.TaskID != "A" || taskErr.Owner != "w1" {
			t.Errorf("error = %#v", err)
		}

		b := testutil.LoadBuffet(t, paths.Buffet)
		want := map[string]buffet.State{"A": buffet.StateFailed, "B": buffet.StatePending}
		for id, state := range testutil.StateOf(b) {
			if state != want[id] {
				t.Errorf("task %s = %s, want %s", id, state, want[id])
			}
		}
	})
}

func TestWorker_TimeBudget(t *testing.T) {
	t.Run("task stopped by budget is requeued", func(t *testing.T) {
		paths := testutil.SetupBuffetDir(t)
		exe := executor.Func(func(ctx context.Context, req executor.Request) error {
			if req.Deadline.IsZero() {
				t.Error("request should carry the budget deadline")
			}
			<-ctx.Done()
			return ctx.Err()
		})

		w := newWorker(t, paths, "w1", exe, withSeed(testutil.Specs("A", "B")),
			func(c *Config) { c.TimeBudget = 100 * time.Millisecond })
		res, err := w.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if !res.OutOfTime || res.Executed != 1 || res.Requeued != 1 {
			t.Errorf("result = %+v", res)
		}

		b := testutil.LoadBuffet(t, paths.Buffet)
		a, _ := b.Lookup("A")
		if a.State != buffet.StatePending || a.Error != "time budget exhausted" || a.Attempts != 1 {
			t.Errorf("task A = state %s error %q attempts %d", a.State, a.Error, a.Attempts)
		}
		if bTask, _ := b.Lookup("B"); bTask.State != buffet.StatePending {
			t.Errorf("task B = %s, want pending", bTask.State)
		}
	})

	t.Run("task finishing past the budget is done", func(t *testing.T) {
		paths := testutil.SetupBuffetDir(t)
		exe := executor.Func(func(ctx context.Context, req executor.Request) error {
			time.Sleep(80 * time.Millisecond)
			return nil
		})

		w := newWorker(t, paths, "w1", exe, withSeed(testutil.Specs("A", "B")),
			func(c *Config) { c.TimeBudget = 30 * time.Millisecond })
		res, err := w.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if !res.OutOfTime || res.Executed != 1 || res.Succeeded != 1 || res.Requeued != 0 {
			t.Errorf("result = %+v", res)
		}

		b := testutil.LoadBuffet(t, paths.Buffet)
		if a, _ := b.Lookup("A"); a.State != buffet.StateDone {
			t.Errorf("task A = %s (%q), want done", a.State, a.Error)
		}
		if bTask, _ := b.Lookup("B"); bTask.State != buffet.StatePending {
			t.Errorf("task B = %s, want pending", bTask.State)
		}
	})

	t.Run("exhausted before first pick", func(t *testing.T) {
		paths := testutil.SetupBuffetDir(t)
		rec := testutil.NewRecorder(0)

		w := newWorker(t, paths, "w1", rec, withSeed(testutil.Specs("A")),
			func(c *Config) { c.TimeBudget = time.Nanosecond })
		res, err := w.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if !res.OutOfTime || len(rec.Calls()) != 0 {
			t.Errorf("result = %+v, calls = %v", res, rec.Calls())
		}
	})
}

func TestWorker_InterruptRequeuesHeldTask(t *testing.T) {
	paths := testutil.SetupBuffetDir(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exe := executor.Func(func(ctx context.Context, req executor.Request) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})

	w := newWorker(t, paths, "w1", exe, withSeed(testutil.Specs("A", "B")))
	res, err := w.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if res.Requeued != 1 {
		t.Errorf("result = %+v", res)
	}

	b := testutil.LoadBuffet(t, paths.Buffet)
	for _, task := range b.Tasks {
		if task.State != buffet.StatePending {
			t.Errorf("task %s = %s, want pending", task.ID, task.State)
		}
	}
	if a, _ := b.Lookup("A"); a.Error != "interrupted" {
		t.Errorf("task A error = %q", a.Error)
	}
}

func TestWorker_InterruptKeepsFinishedResult(t *testing.T) {
	paths := testutil.SetupBuffetDir(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exe := executor.Func(func(ctx context.Context, req executor.Request) error {
		cancel()
		return nil
	})

	w := newWorker(t, paths, "w1", exe, withSeed(testutil.Specs("A", "B")))
	res, err := w.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if res.Succeeded != 1 || res.Requeued != 0 {
		t.Errorf("result = %+v", res)
	}

	b := testutil.LoadBuffet(t, paths.Buffet)
	if a, _ := b.Lookup("A"); a.State != buffet.StateDone {
		t.Errorf("task A = %s, want done", a.State)
	}
	if bTask, _ := b.Lookup("B"); bTask.State != buffet.StatePending {
		t.Errorf("task B = %s, want pending", bTask.State)
	}
}

func TestWorker_Bootstrap(t *testing.T) {
	doneA := func(b *buffet.Buffet) {
		now := time.Now()
		b.Tasks[0].State = buffet.StateDone
		b.Tasks[0].Owner = "earlier"
		b.Tasks[0].PickedAt, b.Tasks[0].FinishedAt = &now, &now
	}

	t.Run("merges new tasks", func(t *testing.T) {
		paths := testutil.SetupBuffetDir(t)
		writeBuffet(t, paths.Buffet, doneA, "A")
		rec := testutil.NewRecorder(0)
		bus := event.NewBus()
		events := recordEvents(bus)

		w := newWorker(t, paths, "w1", rec, withSeed(testutil.Specs("A", "B")), withBus(bus),
			func(c *Config) { c.Merge = true })
		if _, err := w.Run(context.Background()); err != nil {
			t.Fatalf("Run: %v", err)
		}

		if got := rec.TaskIDs(); !slices.Equal(got, []string{"B"}) {
			t.Errorf("executed %v, want [B]", got)
		}
		if events.count(event.TypeBuffetMerged) != 1 || events.count(event.TypeBuffetCreated) != 0 {
			t.Errorf("events = %v", events.types)
		}
		b := testutil.LoadBuffet(t, paths.Buffet)
		if a, _ := b.Lookup("A"); a.Owner != "earlier" {
			t.Errorf("task A owner = %q, merge should keep it", a.Owner)
		}
	})

	t.Run("merge disabled ignores source", func(t *testing.T) {
		paths := testutil.SetupBuffetDir(t)
		writeBuffet(t, paths.Buffet, doneA, "A")
		rec := testutil.NewRecorder(0)

		w := newWorker(t, paths, "w1", rec, withSeed(testutil.Specs("A", "B")))
		if _, err := w.Run(context.Background()); err != nil {
			t.Fatalf("Run: %v", err)
		}
		if len(rec.Calls()) != 0 {
			t.Errorf("executed %v, want nothing", rec.TaskIDs())
		}
		if b := testutil.LoadBuffet(t, paths.Buffet); len(b.Tasks) != 1 {
			t.Errorf("buffet has %d tasks, want 1", len(b.Tasks))
		}
	})

	t.Run("mismatch is fatal", func(t *testing.T) {
		paths := testutil.SetupBuffetDir(t)
		writeBuffet(t, paths.Buffet, doneA, "A")

		w := newWorker(t, paths, "w1", testutil.NewRecorder(0), withSeed(testutil.Specs("B")),
			func(c *Config) { c.Merge = true })
		_, err := w.Run(context.Background())
		if !errors.Is(err, errors.ErrTaskSetMismatch) {
			t.Fatalf("Run error = %v, want ErrTaskSetMismatch", err)
		}
		if errors.ExitCode(err) != errors.ExitCorruptStatus {
			t.Errorf("exit code = %d", errors.ExitCode(err))
		}
	})

	t.Run("no source", func(t *testing.T) {
		paths := testutil.SetupBuffetDir(t)
		w := newWorker(t, paths, "w1", testutil.NewRecorder(0))
		if _, err := w.Run(context.Background()); !errors.Is(err, errors.ErrNoTaskSource) {
			t.Fatalf("Run error = %v, want ErrNoTaskSource", err)
		}
	})

	t.Run("corrupt status", func(t *testing.T) {
		paths := testutil.SetupBuffetDir(t)
		testutil.WriteFile(t, paths.Dir, "buffet.json", "{not json")

		w := newWorker(t, paths, "w1", testutil.NewRecorder(0), withSeed(testutil.Specs("A")))
		_, err := w.Run(context.Background())
		if !errors.Is(err, errors.ErrCorruptStatus) {
			t.Fatalf("Run error = %v, want ErrCorruptStatus", err)
		}
		if w.State() != StateFinished {
			t.Errorf("state = %s", w.State())
		}
	})
}

func TestWorker_InfrastructureErrors(t *testing.T) {
	t.Run("lock timeout", func(t *testing.T) {
		paths := testutil.SetupBuffetDir(t)
		holder := filelock.New(paths.Lock)
		if err := holder.Lock(context.Background()); err != nil {
			t.Fatalf("Lock: %v", err)
		}
		defer holder.Unlock()

		var logs bytes.Buffer
		w := newWorker(t, paths, "w1", testutil.NewRecorder(0), withSeed(testutil.Specs("A")),
			func(c *Config) {
				c.Lock = filelock.New(paths.Lock, filelock.WithTimeout(50*time.Millisecond),
					filelock.WithPollInterval(5*time.Millisecond))
				c.Logger = logging.NewWriterLogger(&logs, "error")
			})
		_, err := w.Run(context.Background())
		if errors.ExitCode(err) != errors.ExitLockTimeout {
			t.Fatalf("Run error = %v, want LockTimeout", err)
		}
		for _, want := range []string{`"msg":"worker stopped"`, `"kind":"LockTimeout"`, `"severity":"critical"`, `"retryable":true`} {
			if !strings.Contains(logs.String(), want) {
				t.Errorf("log missing %s:\n%s", want, logs.String())
			}
		}
	})

	t.Run("persist error", func(t *testing.T) {
		paths := testutil.SetupBuffetDir(t)
		writeBuffet(t, paths.Buffet, nil, "A")
		rec := testutil.NewRecorder(0)

		w := newWorker(t, paths, "w1", rec, func(c *Config) {
			c.Store = buffet.NewFileStore(afero.NewReadOnlyFs(afero.NewOsFs()), paths.Buffet, false)
		})
		_, err := w.Run(context.Background())
		if !errors.Is(err, errors.ErrPersist) {
			t.Fatalf("Run error = %v, want ErrPersist", err)
		}
		if len(rec.Calls()) != 0 {
			t.Error("no task may run on an unsaved pick")
		}
	})

	t.Run("owner already holds a task", func(t *testing.T) {
		paths := testutil.SetupBuffetDir(t)
		writeBuffet(t, paths.Buffet, func(b *buffet.Buffet) {
			now := time.Now()
			b.Tasks[0].State = buffet.StateInExecution
			b.Tasks[0].Owner = "w1"
			b.Tasks[0].PickedAt = &now
		}, "A", "B")

		w := newWorker(t, paths, "w1", testutil.NewRecorder(0))
		if _, err := w.Run(context.Background()); !errors.Is(err, errors.ErrOwnerBusy) {
			t.Fatalf("Run error = %v, want ErrOwnerBusy", err)
		}
	})
}

// runWorkers starts one worker per id concurrently, each with its own lock
// handle and store, and waits for all of them.
func runWorkers(t *testing.T, paths testutil.Paths, exe executor.Executor, specs []buffet.Spec, bus *event.Bus, ids ...string) ([]*Worker, []Result) {
	t.Helper()

	workers := make([]*Worker, len(ids))
	for i, id := range ids {
		workers[i] = newWorker(t, paths, id, exe, withSeed(specs), withBus(bus))
	}

	results := make([]Result, len(ids))
	start := make(chan struct{})
	g, ctx := errgroup.WithContext(context.Background())
	for i, w := range workers {
		g.Go(func() error {
			<-start
			res, err := w.Run(ctx)
			results[i] = res
			return err
		})
	}
	close(start)

	if err := g.Wait(); err != nil {
		t.Fatalf("worker failed: %v", err)
	}
	return workers, results
}

func TestWorkers_MutualExclusion(t *testing.T) {
	paths := testutil.SetupBuffetDir(t)
	specs := testutil.NumberedSpecs(30)
	rec := testutil.NewRecorder(2 * time.Millisecond)

	_, results := runWorkers(t, paths, rec, specs, nil, "w1", "w2", "w3", "w4")

	executedBy := make(map[string]string)
	for _, call := range rec.Calls() {
		if prev, dup := executedBy[call.TaskID]; dup {
			t.Errorf("task %s executed by both %s and %s", call.TaskID, prev, call.WorkerID)
		}
		executedBy[call.TaskID] = call.WorkerID
	}
	if len(executedBy) != len(specs) {
		t.Errorf("executed %d distinct tasks, want %d", len(executedBy), len(specs))
	}

	total := 0
	for _, res := range results {
		total += res.Executed
	}
	if total != len(specs) {
		t.Errorf("workers report %d executions, want %d", total, len(specs))
	}

	b := testutil.LoadBuffet(t, paths.Buffet)
	for _, task := range b.Tasks {
		if task.State != buffet.StateDone {
			t.Errorf("task %s = %s, want done", task.ID, task.State)
		}
		if task.Owner != executedBy[task.ID] {
			t.Errorf("task %s owner %q, executed by %q", task.ID, task.Owner, executedBy[task.ID])
		}
	}
}

func TestWorkers_IdempotentBootstrap(t *testing.T) {
	paths := testutil.SetupBuffetDir(t)
	specs := testutil.NumberedSpecs(5)
	bus := event.NewBus()

	var created atomic.Int32
	var createdTasks atomic.Int32
	bus.Subscribe(event.TypeBuffetCreated, func(e event.Event) {
		created.Add(1)
		createdTasks.Store(int32(e.(event.BuffetCreatedEvent).Tasks))
	})

	runWorkers(t, paths, testutil.NewRecorder(0), specs, bus, "w1", "w2", "w3", "w4", "w5", "w6")

	if created.Load() != 1 {
		t.Fatalf("buffet created %d times, want exactly once", created.Load())
	}
	if createdTasks.Load() != int32(len(specs)) {
		t.Errorf("created with %d tasks, want %d", createdTasks.Load(), len(specs))
	}

	b := testutil.LoadBuffet(t, paths.Buffet)
	if len(b.Tasks) != len(specs) {
		t.Fatalf("buffet has %d tasks, want %d", len(b.Tasks), len(specs))
	}
	for i, task := range b.Tasks {
		if task.ID != specs[i].ID || task.Seq != i {
			t.Errorf("task %d = %s (seq %d), want %s", i, task.ID, task.Seq, specs[i].ID)
		}
	}
}

func TestWorkers_TwoWorkersThreeTasks(t *testing.T) {
	paths := testutil.SetupBuffetDir(t)
	rec := testutil.NewRecorder(10 * time.Millisecond)

	workers, _ := runWorkers(t, paths, rec, testutil.Specs("T1", "T2", "T3"), nil, "W1", "W2")

	for _, w := range workers {
		if w.State() != StateFinished {
			t.Errorf("worker %s state = %s, want finished", w.ID(), w.State())
		}
	}

	if len(rec.Calls()) != 3 {
		t.Errorf("calls = %v, want 3 executions", rec.Calls())
	}
	b := testutil.LoadBuffet(t, paths.Buffet)
	for _, task := range b.Tasks {
		if task.State == buffet.StatePending {
			t.Errorf("task %s still pending", task.ID)
		}
		if task.Owner != "W1" && task.Owner != "W2" {
			t.Errorf("task %s owner = %q", task.ID, task.Owner)
		}
	}
}
