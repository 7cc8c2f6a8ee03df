// Package filelock provides the exclusive advisory lock that serializes every
// access to a shared buffet.
//
// A [Lock] is bound to one well-known path on a filesystem visible to all
// workers. [Lock.Lock] blocks until the calling process holds flock(2) on that
// path, creating the lock file if it is absent; [Lock.Unlock] releases it for
// the next waiter in whatever order the kernel or the network filesystem
// provides. No fairness is promised beyond that.
//
// # Waiting
//
// By default acquisition waits without bound in a single blocking flock call.
// When a timeout is configured with [WithTimeout], or the context passed to
// Lock can be canceled, acquisition polls with a non-blocking flock every
// poll interval instead, failing with errors.ErrLockTimeout once the
// deadline passes.
//
// # Reentrancy
//
// A Lock is not reentrant. Calling Lock while already holding it returns
// [ErrAlreadyHeld] instead of deadlocking. Separate Lock values on the same
// path exclude each other even inside one process, because flock locks are
// owned by the open file description.
//
// # Holder Metadata
//
// After acquiring, the holder's pid, hostname and owner label are written
// into the lock file. [ReadHolder] returns the last holder, which is useful
// when diagnosing a contended or abandoned lock.
//
// # Basic Usage
//
//	lock := filelock.New("/shared/run/buffet.json.lock", filelock.WithOwner("node3-4242"))
//	if err := lock.Lock(ctx); err != nil {
//	    return err
//	}
//	defer func() { _ = lock.Unlock() }()
package filelock
