package buffet

import (
	"maps"
	"time"
)

// FormatVersion is the on-disk schema version written into every buffet.
const FormatVersion = 1

// State represents the execution state of a task.
type State string

const (
	// StatePending indicates the task is waiting to be picked.
	StatePending State = "pending"

	// StateInExecution indicates a worker has picked the task and owns it.
	StateInExecution State = "in_execution"

	// StateDone indicates the task finished successfully.
	StateDone State = "done"

	// StateFailed indicates the executor reported a failure.
	StateFailed State = "failed"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsTerminal returns true if this state is final for the task.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateInExecution, StateDone, StateFailed:
		return true
	}
	return false
}

// ParseState converts a user-supplied name into a State.
func ParseState(s string) (State, bool) {
	st := State(s)
	if st == "running" {
		st = StateInExecution
	}
	return st, st.Valid()
}

// Payload is the opaque work reference handed to the executor.
type Payload struct {
	Command string            `json:"command,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
}

// Equal reports whether two payloads describe the same work.
func (p Payload) Equal(o Payload) bool {
	return p.Command == o.Command && maps.Equal(p.Params, o.Params)
}

// Task is an immutable descriptor plus its mutable execution state.
type Task struct {
	// ID is unique within the buffet and never reused.
	ID string `json:"id"`

	// Seq is the creation order, starting at zero.
	Seq int `json:"seq"`

	// Payload is the work passed to the executor.
	Payload Payload `json:"payload"`

	State State `json:"state"`

	// Owner is the worker that picked the task. It is kept after the task
	// leaves InExecution.
	Owner string `json:"owner,omitempty"`

	PickedAt   *time.Time `json:"picked_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Attempts counts how many times the task was picked.
	Attempts int `json:"attempts"`

	// Error holds the failure detail of the last attempt.
	Error string `json:"error,omitempty"`
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	cp := *t
	cp.Payload.Params = maps.Clone(t.Payload.Params)
	if t.PickedAt != nil {
		at := *t.PickedAt
		cp.PickedAt = &at
	}
	if t.FinishedAt != nil {
		at := *t.FinishedAt
		cp.FinishedAt = &at
	}
	return &cp
}

// Buffet is the shared task-status structure. It must only be read or
// written while the guarding lock is held.
type Buffet struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by,omitempty"`
	Tasks     []*Task   `json:"tasks"`
}

// Spec describes one task as provided by a task source.
type Spec struct {
	ID      string
	Payload Payload
}

// Seed produces the ordered task list a new buffet is created from.
type Seed func() ([]Spec, error)

// Counts is a snapshot of how many tasks are in each state.
type Counts struct {
	Total       int `json:"total"`
	Pending     int `json:"pending"`
	InExecution int `json:"in_execution"`
	Done        int `json:"done"`
	Failed      int `json:"failed"`
}

// Finished returns the number of tasks in a terminal state.
func (c Counts) Finished() int {
	return c.Done + c.Failed
}
