// Package buffet defines the shared task-status structure and the operations
// workers perform on it while holding the buffet lock.
//
// A [Buffet] is an ordered list of [Task] values. Order is creation order and
// never changes except through [Buffet.Reconcile]. Each task moves through
// the states
//
//	Pending -> InExecution -> Done | Failed
//	               |
//	               +-> Pending (handed back by its owner)
//
// [PickNext] is the pure picker: the first Pending task in order. [Buffet.Pick]
// runs it and marks the result InExecution for a worker in one step;
// [Buffet.Resolve] records the outcome.
//
// # Storage
//
// A [Store] loads and saves the whole structure. Three formats exist:
//
//   - json: indented JSON document, written to a temp file and renamed
//   - json.gz: the same document, gzip compressed
//   - bolt: a bbolt database with one record per task
//
// [OpenOrCreate] loads the buffet or, when it does not exist yet, creates it
// from a [Seed] and saves it immediately. None of the stores take the lock
// themselves; callers wrap every use in a filelock critical section.
package buffet
