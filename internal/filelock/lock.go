package filelock

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/taskbuffet/buffet/internal/errors"
)

// DefaultPollInterval is how often a bounded wait retries.
const DefaultPollInterval = 100 * time.Millisecond

// ErrAlreadyHeld is returned when Lock is called on a Lock that is already held.
var ErrAlreadyHeld = errors.New("lock already held by this handle")

// Lock provides cross-process mutual exclusion on a single path using flock(2).
type Lock struct {
	mu           sync.Mutex
	path         string
	owner        string
	timeout      time.Duration
	pollInterval time.Duration
	file         *os.File
	acquiredAt   time.Time
}

// Option configures a Lock.
type Option func(*Lock)

// WithTimeout bounds how long Lock waits. Zero means wait forever.
func WithTimeout(d time.Duration) Option {
	return func(l *Lock) {
		l.timeout = d
	}
}

// WithPollInterval sets the retry interval for bounded waits.
func WithPollInterval(d time.Duration) Option {
	return func(l *Lock) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// WithOwner sets the label recorded in the lock file while held.
func WithOwner(owner string) Option {
	return func(l *Lock) {
		l.owner = owner
	}
}

// New creates a Lock for path. Nothing is opened until Lock is called.
func New(path string, opts ...Option) *Lock {
	l := &Lock{
		path:         path,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Held reports whether this handle currently holds the lock.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file != nil
}

// Lock acquires the exclusive lock, creating the lock file if needed.
//
// Without a timeout the wait is a blocking flock(2), so waiters are served
// in the order the kernel grants the lock. A bounded wait polls with
// LOCK_NB every poll interval instead.
//
// Failures are reported as *errors.LockError wrapping errors.ErrLockUnavailable
// or errors.ErrLockTimeout. Cancellation of ctx is returned as ctx.Err().
func (l *Lock) Lock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return ErrAlreadyHeld
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return errors.NewLockError("open lock file", fmt.Errorf("%w: %v", errors.ErrLockUnavailable, err)).WithPath(l.path)
	}

	switch {
	case l.timeout == 0 && ctx.Done() == nil:
		err = flockBlocking(f)
	case l.timeout == 0:
		// flockCancelable closes f itself on failure.
		if err := l.flockCancelable(ctx, f); err != nil {
			return err
		}
	default:
		err = l.flockPolling(ctx, f)
	}
	if err != nil {
		_ = f.Close()
		return err
	}

	l.file = f
	l.acquiredAt = time.Now()
	l.writeHolder()
	return nil
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false if it is held elsewhere.
func (l *Lock) TryLock() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return false, ErrAlreadyHeld
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return false, errors.NewLockError("open lock file", fmt.Errorf("%w: %v", errors.ErrLockUnavailable, err)).WithPath(l.path)
	}

	acquired, err := l.tryFlock(f)
	if err != nil || !acquired {
		_ = f.Close()
		return false, err
	}

	l.file = f
	l.acquiredAt = time.Now()
	l.writeHolder()
	return true, nil
}

// Unlock releases the lock and closes the lock file.
// Unlock on a handle that does not hold the lock is a no-op.
func (l *Lock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}

	f := l.file
	l.file = nil

	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		_ = f.Close()
		return errors.NewLockError("release", err).WithPath(l.path)
	}
	return f.Close()
}

// HeldFor returns how long the lock has been held, or zero if not held.
func (l *Lock) HeldFor() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return 0
	}
	return time.Since(l.acquiredAt)
}

func flockBlocking(f *os.File) error {
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX)
		if err == nil {
			return nil
		}
		if err == unix.EINTR {
			continue
		}
		return errors.NewLockError("acquire", fmt.Errorf("%w: %v", errors.ErrLockUnavailable, err)).WithPath(f.Name())
	}
}

// flockCancelable blocks in flock(2) on a separate goroutine until the lock
// is granted or ctx ends. After cancellation that goroutine owns f: it
// releases the lock if flock still succeeds, then closes f.
func (l *Lock) flockCancelable(ctx context.Context, f *os.File) error {
	acquired, err := l.tryFlock(f)
	if err != nil || acquired {
		if err != nil {
			_ = f.Close()
		}
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- flockBlocking(f)
	}()

	select {
	case err := <-done:
		if err != nil {
			_ = f.Close()
		}
		return err
	case <-ctx.Done():
		go func() {
			if err := <-done; err == nil {
				_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
			}
			_ = f.Close()
		}()
		return fmt.Errorf("acquire lock %s: %w", l.path, ctx.Err())
	}
}

func (l *Lock) tryFlock(f *os.File) (bool, error) {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	switch err {
	case nil:
		return true, nil
	case unix.EWOULDBLOCK, unix.EINTR:
		return false, nil
	default:
		return false, errors.NewLockError("acquire", fmt.Errorf("%w: %v", errors.ErrLockUnavailable, err)).WithPath(l.path)
	}
}

func (l *Lock) flockPolling(ctx context.Context, f *os.File) error {
	var deadline <-chan time.Time
	if l.timeout > 0 {
		timer := time.NewTimer(l.timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		acquired, err := l.tryFlock(f)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("acquire lock %s: %w", l.path, ctx.Err())
		case <-deadline:
			return errors.NewLockError(fmt.Sprintf("acquire after %s", l.timeout), errors.ErrLockTimeout).WithPath(l.path)
		case <-ticker.C:
		}
	}
}
