package buffet

import (
	"fmt"

	"github.com/taskbuffet/buffet/internal/errors"
)

// Reconcile merges a task list from the source into a stored buffet.
//
// An identical task set leaves b untouched and returns false. Otherwise the
// tasks are rebuilt in the source's order: known ids keep their execution
// state, new ids start Pending. A stored id that the source no longer lists,
// or whose payload changed, fails with errors.ErrTaskSetMismatch and leaves
// b untouched.
func (b *Buffet) Reconcile(specs []Spec) (bool, error) {
	if err := checkSpecs(specs); err != nil {
		return false, err
	}
	if b.sameTasks(specs) {
		return false, nil
	}

	stored := make(map[string]*Task, len(b.Tasks))
	for _, t := range b.Tasks {
		stored[t.ID] = t
	}

	listed := make(map[string]bool, len(specs))
	merged := make([]*Task, len(specs))
	for i, s := range specs {
		listed[s.ID] = true
		old, ok := stored[s.ID]
		if !ok {
			merged[i] = newTask(s, i)
			continue
		}
		if !old.Payload.Equal(s.Payload) {
			return false, fmt.Errorf("%w: payload of %s changed", errors.ErrTaskSetMismatch, s.ID)
		}
		t := old.Clone()
		t.Seq = i
		merged[i] = t
	}

	for _, t := range b.Tasks {
		if !listed[t.ID] {
			return false, fmt.Errorf("%w: stored task %s is missing from the source", errors.ErrTaskSetMismatch, t.ID)
		}
	}

	b.Tasks = merged
	return true, nil
}

func (b *Buffet) sameTasks(specs []Spec) bool {
	if len(specs) != len(b.Tasks) {
		return false
	}
	for i, s := range specs {
		t := b.Tasks[i]
		if t.ID != s.ID || !t.Payload.Equal(s.Payload) {
			return false
		}
	}
	return true
}
