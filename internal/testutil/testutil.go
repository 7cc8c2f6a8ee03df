// Package testutil provides testing utilities for buffet tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/taskbuffet/buffet/internal/buffet"
	"github.com/taskbuffet/buffet/internal/executor"
)

// Paths holds the shared files of a test buffet.
type Paths struct {
	Dir    string
	Buffet string
	Lock   string
}

// SetupBuffetDir creates a temporary directory for a buffet and its lock.
// The directory is automatically cleaned up when the test completes.
func SetupBuffetDir(t *testing.T) Paths {
	t.Helper()

	dir := t.TempDir()
	return Paths{
		Dir:    dir,
		Buffet: filepath.Join(dir, "buffet.json"),
		Lock:   filepath.Join(dir, "buffet.json.lock"),
	}
}

// Specs returns one spec per id, each with the command "echo <id>".
func Specs(ids ...string) []buffet.Spec {
	specs := make([]buffet.Spec, len(ids))
	for i, id := range ids {
		specs[i] = buffet.Spec{ID: id, Payload: buffet.Payload{Command: "echo " + id}}
	}
	return specs
}

// NumberedSpecs returns n specs with ids T1..Tn.
func NumberedSpecs(n int) []buffet.Spec {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("T%d", i+1)
	}
	return Specs(ids...)
}

// Seed returns a seed that always yields specs.
func Seed(specs []buffet.Spec) buffet.Seed {
	return func() ([]buffet.Spec, error) {
		return specs, nil
	}
}

// WriteBuffet saves b as JSON at path.
func WriteBuffet(t *testing.T, path string, b *buffet.Buffet) {
	t.Helper()

	if err := buffet.NewFileStore(nil, path, false).Save(b); err != nil {
		t.Fatalf("failed to write buffet %s: %v", path, err)
	}
}

// LoadBuffet reads the JSON buffet at path.
func LoadBuffet(t *testing.T, path string) *buffet.Buffet {
	t.Helper()

	b, err := buffet.NewFileStore(nil, path, false).Load()
	if err != nil {
		t.Fatalf("failed to load buffet %s: %v", path, err)
	}
	return b
}

// WriteFile writes content to dir/name and returns the full path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", name, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file %s: %v", name, err)
	}
	return path
}

// StateOf returns the state of every task keyed by id.
func StateOf(b *buffet.Buffet) map[string]buffet.State {
	states := make(map[string]buffet.State, len(b.Tasks))
	for _, task := range b.Tasks {
		states[task.ID] = task.State
	}
	return states
}

// Recorder is an executor that records every task it runs. It is safe for
// use by concurrent workers.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
	delay time.Duration
}

// Call is one execution seen by a Recorder.
type Call struct {
	TaskID   string
	WorkerID string
}

// NewRecorder returns a Recorder that sleeps for delay on every task.
func NewRecorder(delay time.Duration) *Recorder {
	return &Recorder{delay: delay}
}

// Execute records the request and succeeds.
func (r *Recorder) Execute(ctx context.Context, req executor.Request) (executor.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{TaskID: req.Task.ID, WorkerID: req.WorkerID})
	r.mu.Unlock()

	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return executor.Result{}, ctx.Err()
		}
	}
	return executor.Result{Outcome: executor.Success, Duration: r.delay}, nil
}

// Calls returns the recorded executions in order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// TaskIDs returns the ids of the recorded executions in order.
func (r *Recorder) TaskIDs() []string {
	calls := r.Calls()
	ids := make([]string, len(calls))
	for i, c := range calls {
		ids[i] = c.TaskID
	}
	return ids
}

// SkipIfNoShell skips the test if /bin/sh is not available.
func SkipIfNoShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}
