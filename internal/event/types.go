package event

import "time"

// Event types published by workers.
const (
	TypeBuffetCreated  = "buffet.created"
	TypeBuffetMerged   = "buffet.merged"
	TypeTaskPicked     = "task.picked"
	TypeTaskResolved   = "task.resolved"
	TypeWorkerFinished = "worker.finished"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns "category.action", e.g. "task.picked".
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Buffet Events
// -----------------------------------------------------------------------------

// BuffetCreatedEvent is emitted by the worker that created the buffet.
type BuffetCreatedEvent struct {
	baseEvent
	WorkerID string
	Path     string
	Tasks    int
}

// NewBuffetCreatedEvent creates a BuffetCreatedEvent.
func NewBuffetCreatedEvent(workerID, path string, tasks int) BuffetCreatedEvent {
	return BuffetCreatedEvent{
		baseEvent: newBaseEvent(TypeBuffetCreated),
		WorkerID:  workerID,
		Path:      path,
		Tasks:     tasks,
	}
}

// BuffetMergedEvent is emitted when a changed task list was merged into an
// existing buffet.
type BuffetMergedEvent struct {
	baseEvent
	WorkerID string
	Path     string
	Tasks    int // task count after the merge
}

// NewBuffetMergedEvent creates a BuffetMergedEvent.
func NewBuffetMergedEvent(workerID, path string, tasks int) BuffetMergedEvent {
	return BuffetMergedEvent{
		baseEvent: newBaseEvent(TypeBuffetMerged),
		WorkerID:  workerID,
		Path:      path,
		Tasks:     tasks,
	}
}

// -----------------------------------------------------------------------------
// Task Events
// -----------------------------------------------------------------------------

// TaskPickedEvent is emitted after a task was marked InExecution and saved.
type TaskPickedEvent struct {
	baseEvent
	WorkerID string
	TaskID   string
	Attempt  int
}

// NewTaskPickedEvent creates a TaskPickedEvent.
func NewTaskPickedEvent(workerID, taskID string, attempt int) TaskPickedEvent {
	return TaskPickedEvent{
		baseEvent: newBaseEvent(TypeTaskPicked),
		WorkerID:  workerID,
		TaskID:    taskID,
		Attempt:   attempt,
	}
}

// TaskResolvedEvent is emitted after a task's outcome was saved.
type TaskResolvedEvent struct {
	baseEvent
	WorkerID string
	TaskID   string
	State    string // done, failed or pending (handed back)
	Detail   string
	Duration time.Duration
}

// NewTaskResolvedEvent creates a TaskResolvedEvent.
func NewTaskResolvedEvent(workerID, taskID, state, detail string, duration time.Duration) TaskResolvedEvent {
	return TaskResolvedEvent{
		baseEvent: newBaseEvent(TypeTaskResolved),
		WorkerID:  workerID,
		TaskID:    taskID,
		State:     state,
		Detail:    detail,
		Duration:  duration,
	}
}

// -----------------------------------------------------------------------------
// Worker Events
// -----------------------------------------------------------------------------

// WorkerFinishedEvent is emitted when a worker leaves its loop.
type WorkerFinishedEvent struct {
	baseEvent
	WorkerID  string
	Executed  int
	Succeeded int
	Failed    int
	Requeued  int
	OutOfTime bool
	Err       error // nil when the worker reached Finished
}

// NewWorkerFinishedEvent creates a WorkerFinishedEvent.
func NewWorkerFinishedEvent(workerID string, executed, succeeded, failed, requeued int, outOfTime bool, err error) WorkerFinishedEvent {
	return WorkerFinishedEvent{
		baseEvent: newBaseEvent(TypeWorkerFinished),
		WorkerID:  workerID,
		Executed:  executed,
		Succeeded: succeeded,
		Failed:    failed,
		Requeued:  requeued,
		OutOfTime: outOfTime,
		Err:       err,
	}
}
