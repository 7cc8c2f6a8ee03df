// Package event provides a synchronous pub-sub bus for worker lifecycle
// events.
//
// Workers publish what they do to the shared buffet; the CLI subscribes to
// print progress and the pool subscribes to aggregate counters. Neither side
// needs to know about the other.
//
// # Event Types
//
//   - [BuffetCreatedEvent]: this worker created the buffet during bootstrap
//   - [BuffetMergedEvent]: a changed task list was merged into the buffet
//   - [TaskPickedEvent]: a task was marked InExecution for a worker
//   - [TaskResolvedEvent]: a task was marked Done, Failed, or handed back
//   - [WorkerFinishedEvent]: a worker left its loop
//
// Events are published after the corresponding save, outside the buffet lock.
//
// # Thread Safety
//
// [Bus] is safe for concurrent use. Handlers run synchronously on the
// publishing goroutine, so several workers in one process may call the same
// handler concurrently.
//
// # Basic Usage
//
//	bus := event.NewBus()
//	bus.Subscribe(event.TypeTaskResolved, func(e event.Event) {
//	    r := e.(event.TaskResolvedEvent)
//	    fmt.Printf("%s %s\n", r.TaskID, r.State)
//	})
package event
