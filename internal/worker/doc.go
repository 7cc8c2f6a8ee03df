// Package worker implements the loop every buffet worker runs.
//
// A worker moves through these states:
//
//	Bootstrapping -> Idle -> Holding -> Executing -> Idle -> ... -> Finished
//
// Bootstrapping opens the buffet under the lock, creating it from the task
// source when it does not exist. Each later step that reads or changes the
// buffet happens in one critical section: lock, load, mutate, save, unlock.
// After a task finishes, its outcome is recorded and the next task picked in
// the same critical section. Task execution always happens outside the lock.
//
// A worker finishes when its last pick finds no Pending task. Tasks other
// workers still execute do not keep it alive.
//
// # Failures
//
// A task that fails is marked Failed and the loop moves on. Lock and store
// errors end the run. A worker interrupted through its context hands its
// task back as Pending before returning. A worker that crashes leaves its
// task InExecution; "buffet reset --running" returns such tasks to Pending.
package worker
