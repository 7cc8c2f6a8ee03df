package buffet

import (
	"fmt"
	"maps"
	"time"

	"github.com/taskbuffet/buffet/internal/errors"
)

// New builds a buffet with every spec Pending, in the order given.
func New(specs []Spec, createdBy string, now time.Time) (*Buffet, error) {
	if err := checkSpecs(specs); err != nil {
		return nil, err
	}

	tasks := make([]*Task, len(specs))
	for i, s := range specs {
		tasks[i] = newTask(s, i)
	}

	return &Buffet{
		Version:   FormatVersion,
		CreatedAt: now.UTC(),
		CreatedBy: createdBy,
		Tasks:     tasks,
	}, nil
}

func newTask(s Spec, seq int) *Task {
	return &Task{
		ID:      s.ID,
		Seq:     seq,
		Payload: Payload{Command: s.Payload.Command, Params: maps.Clone(s.Payload.Params)},
		State:   StatePending,
	}
}

func checkSpecs(specs []Spec) error {
	seen := make(map[string]bool, len(specs))
	for i, s := range specs {
		if s.ID == "" {
			return fmt.Errorf("%w: task %d has an empty id", errors.ErrInvalidInput, i)
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: duplicate task id %q", errors.ErrInvalidInput, s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// Lookup returns the task with the given id.
func (b *Buffet) Lookup(id string) (*Task, bool) {
	for _, t := range b.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

// Counts returns the number of tasks per state.
func (b *Buffet) Counts() Counts {
	c := Counts{Total: len(b.Tasks)}
	for _, t := range b.Tasks {
		switch t.State {
		case StatePending:
			c.Pending++
		case StateInExecution:
			c.InExecution++
		case StateDone:
			c.Done++
		case StateFailed:
			c.Failed++
		}
	}
	return c
}

// HeldBy returns the task currently InExecution by owner, if any.
func (b *Buffet) HeldBy(owner string) (*Task, bool) {
	for _, t := range b.Tasks {
		if t.State == StateInExecution && t.Owner == owner {
			return t, true
		}
	}
	return nil, false
}

// Pick selects the next Pending task and marks it InExecution for owner.
// It returns nil when no task is Pending. Pick must run in the same critical
// section as the load that produced b; that is what keeps two workers from
// being handed the same task.
func (b *Buffet) Pick(owner string, now time.Time) (*Task, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: owner must not be empty", errors.ErrInvalidInput)
	}
	if held, ok := b.HeldBy(owner); ok {
		return nil, fmt.Errorf("%w: %s holds %s", errors.ErrOwnerBusy, owner, held.ID)
	}

	t := PickNext(b)
	if t == nil {
		return nil, nil
	}

	at := now.UTC()
	t.State = StateInExecution
	t.Owner = owner
	t.PickedAt = &at
	t.FinishedAt = nil
	t.Error = ""
	t.Attempts++

	return t.Clone(), nil
}

// Resolve moves a task owned by owner out of InExecution. The target state
// is Done, Failed, or Pending to hand the task back.
func (b *Buffet) Resolve(id, owner string, to State, detail string, now time.Time) error {
	t, ok := b.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrTaskNotFound, id)
	}
	if t.State != StateInExecution {
		return fmt.Errorf("%w: cannot resolve %s from %s", errors.ErrInvalidTransition, id, t.State)
	}
	if t.Owner != owner {
		return fmt.Errorf("%w: %s is owned by %s, not %s", errors.ErrInvalidTransition, id, t.Owner, owner)
	}

	switch to {
	case StateDone, StateFailed:
		at := now.UTC()
		t.FinishedAt = &at
	case StatePending:
		t.PickedAt = nil
	default:
		return fmt.Errorf("%w: cannot resolve %s to %s", errors.ErrInvalidTransition, id, to)
	}

	t.State = to
	t.Error = detail
	return nil
}

// Reset puts every task in one of the given states back to Pending and
// returns the affected ids. It is an administrative operation for tasks left
// behind by crashed workers or failed runs.
func (b *Buffet) Reset(states ...State) []string {
	var ids []string
	for _, t := range b.Tasks {
		for _, s := range states {
			if t.State != s || s == StatePending {
				continue
			}
			t.State = StatePending
			t.PickedAt = nil
			t.FinishedAt = nil
			t.Error = ""
			ids = append(ids, t.ID)
			break
		}
	}
	return ids
}

// Validate checks the structural invariants of a loaded buffet.
func (b *Buffet) Validate() error {
	seen := make(map[string]bool, len(b.Tasks))
	holders := make(map[string]string)

	for i, t := range b.Tasks {
		if t == nil {
			return fmt.Errorf("task %d is null", i)
		}
		if t.ID == "" {
			return fmt.Errorf("task %d has an empty id", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		seen[t.ID] = true

		if !t.State.Valid() {
			return fmt.Errorf("task %s has unknown state %q", t.ID, t.State)
		}
		if t.State != StateInExecution {
			continue
		}
		if t.Owner == "" {
			return fmt.Errorf("task %s is in execution without an owner", t.ID)
		}
		if other, dup := holders[t.Owner]; dup {
			return fmt.Errorf("worker %s holds both %s and %s", t.Owner, other, t.ID)
		}
		holders[t.Owner] = t.ID
	}
	return nil
}
