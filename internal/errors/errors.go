// Package errors provides centralized error definitions and error handling utilities
// for buffet. It defines the failure taxonomy of the coordination protocol, typed
// errors carrying path/task context, and classification helpers used by the CLI to
// report the error kind and choose the process exit status.
//
// # Error Taxonomy
//
// Infrastructure errors come from the shared lock:
//   - ErrLockUnavailable: the lock path cannot be reached or locked
//   - ErrLockTimeout: a bounded wait was configured and exceeded
//
// Data errors come from the status store:
//   - ErrCorruptStatus: the stored buffet cannot be parsed (no auto-repair)
//   - ErrPersist: the buffet could not be written
//
// Task-level failures are not errors: they are recorded in the buffet as the
// Failed state. TaskError is only used when a worker is configured to abort
// after a task could not be launched at all.
//
// # Usage
//
//	err := errors.NewLockError("acquire", errors.ErrLockTimeout).WithPath(path)
//
//	if errors.Is(err, errors.ErrLockTimeout) { ... }
//
//	fmt.Fprintf(os.Stderr, "%s: %v\n", errors.Kind(err), err)
//	if errors.IsRetryable(err) { ... }
//	os.Exit(errors.ExitCode(err))
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityWarning is for errors that might indicate a problem but aren't fatal.
	SeverityWarning Severity = iota
	// SeverityError is for errors that abort the current operation.
	SeverityError
	// SeverityCritical is for errors that abort the worker process.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Lock-related sentinel errors
var (
	// ErrLockUnavailable indicates the shared lock path is not reachable.
	ErrLockUnavailable = New("lock unavailable")
	// ErrLockTimeout indicates a bounded lock wait was exceeded.
	ErrLockTimeout = New("lock wait timed out")
)

// Store-related sentinel errors
var (
	// ErrCorruptStatus indicates the stored buffet could not be parsed.
	ErrCorruptStatus = New("buffet status is corrupt")
	// ErrPersist indicates the buffet could not be written.
	ErrPersist = New("buffet could not be persisted")
	// ErrBuffetNotFound indicates there is no buffet at the configured path.
	ErrBuffetNotFound = New("buffet not found")
	// ErrNoTaskSource indicates a buffet had to be created but no task source was given.
	ErrNoTaskSource = New("no task source to create the buffet from")
	// ErrTaskSetMismatch indicates the stored task set cannot be reconciled with the source.
	ErrTaskSetMismatch = New("stored task set does not match task source")
)

// Task-related sentinel errors
var (
	// ErrTaskNotFound indicates that a task id is not part of the buffet.
	ErrTaskNotFound = New("task not found")
	// ErrInvalidTransition indicates a task state change that the protocol forbids.
	ErrInvalidTransition = New("invalid task state transition")
	// ErrOwnerBusy indicates a worker tried to pick while still holding a task.
	ErrOwnerBusy = New("worker already holds a task")
	// ErrTaskExecution indicates the executor could not run a task at all.
	ErrTaskExecution = New("task execution error")
)

// General sentinel errors
var (
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// BuffetError is the base interface for all typed buffet errors.
type BuffetError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the condition is transient and the
	// operation may succeed if the process is started again.
	IsRetryable() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// format renders "<prefix> [k=v, ...]: message: cause".
func (e *baseError) format(prefix string, parts []string) string {
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", prefix, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// LockError represents a failure to acquire or release the shared lock.
//
// Example:
//
//	err := errors.NewLockError("acquire", errors.ErrLockTimeout).WithPath("/shared/buffet.lock")
//	fmt.Println(err) // "lock error [path=/shared/buffet.lock]: acquire: lock wait timed out"
type LockError struct {
	baseError
	Path string
}

// NewLockError creates a new LockError. Timeouts are marked retryable.
func NewLockError(message string, cause error) *LockError {
	return &LockError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			severity:  SeverityCritical,
			retryable: errors.Is(cause, ErrLockTimeout),
		},
	}
}

// WithPath adds the lock path to the error context.
func (e *LockError) WithPath(path string) *LockError {
	e.Path = path
	return e
}

// Error returns the formatted error message.
func (e *LockError) Error() string {
	var parts []string
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	return e.format("lock error", parts)
}

// StoreError represents a failure to load or save the buffet.
type StoreError struct {
	baseError
	Path string
	Op   string
}

// NewStoreError creates a new StoreError.
func NewStoreError(op string, cause error) *StoreError {
	return &StoreError{
		baseError: baseError{
			message:  op,
			cause:    cause,
			severity: SeverityCritical,
		},
		Op: op,
	}
}

// WithPath adds the buffet path to the error context.
func (e *StoreError) WithPath(path string) *StoreError {
	e.Path = path
	return e
}

// Error returns the formatted error message.
func (e *StoreError) Error() string {
	var parts []string
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	return e.format("store error", parts)
}

// TaskError represents a failure attributed to a single task.
type TaskError struct {
	baseError
	TaskID string
	Owner  string
}

// NewTaskError creates a new TaskError.
func NewTaskError(message string, cause error) *TaskError {
	return &TaskError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
	}
}

// WithTaskID adds the task id to the error context.
func (e *TaskError) WithTaskID(id string) *TaskError {
	e.TaskID = id
	return e
}

// WithOwner adds the worker id to the error context.
func (e *TaskError) WithOwner(owner string) *TaskError {
	e.Owner = owner
	return e
}

// Error returns the formatted error message.
func (e *TaskError) Error() string {
	var parts []string
	if e.TaskID != "" {
		parts = append(parts, fmt.Sprintf("task=%s", e.TaskID))
	}
	if e.Owner != "" {
		parts = append(parts, fmt.Sprintf("owner=%s", e.Owner))
	}
	return e.format("task error", parts)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// Error kinds reported to users.
const (
	KindLockUnavailable = "LockUnavailable"
	KindLockTimeout     = "LockTimeout"
	KindCorruptStatus   = "CorruptStatus"
	KindPersistError    = "PersistError"
	KindTaskError       = "TaskError"
	KindInternal        = "Internal"
)

// Process exit statuses. A worker that reached Finished exits with ExitOK
// no matter how many tasks ended Failed.
const (
	ExitOK              = 0
	ExitInternal        = 1
	ExitLockUnavailable = 3
	ExitLockTimeout     = 4
	ExitCorruptStatus   = 5
	ExitPersistError    = 6
	ExitTaskError       = 7
)

// Kind returns the taxonomy name of err, or "" for nil.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case Is(err, ErrLockTimeout):
		return KindLockTimeout
	case Is(err, ErrLockUnavailable):
		return KindLockUnavailable
	case Is(err, ErrCorruptStatus), Is(err, ErrTaskSetMismatch):
		return KindCorruptStatus
	case Is(err, ErrPersist):
		return KindPersistError
	case Is(err, ErrTaskExecution):
		return KindTaskError
	default:
		return KindInternal
	}
}

// ExitCode maps err to the process exit status.
func ExitCode(err error) int {
	switch Kind(err) {
	case "":
		return ExitOK
	case KindLockTimeout:
		return ExitLockTimeout
	case KindLockUnavailable:
		return ExitLockUnavailable
	case KindCorruptStatus:
		return ExitCorruptStatus
	case KindPersistError:
		return ExitPersistError
	case KindTaskError:
		return ExitTaskError
	default:
		return ExitInternal
	}
}

// IsRetryable returns true if the error represents a transient condition
// that may succeed when the worker is started again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var buffetErr BuffetError
	if As(err, &buffetErr) {
		return buffetErr.IsRetryable()
	}

	return Is(err, ErrLockTimeout)
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement BuffetError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityWarning
	}

	var buffetErr BuffetError
	if As(err, &buffetErr) {
		return buffetErr.Severity()
	}

	return SeverityError
}

// LogAttrs returns the classification of err as slog key/value pairs: kind,
// severity and retryable.
func LogAttrs(err error) []any {
	return []any{
		"kind", Kind(err),
		"severity", GetSeverity(err).String(),
		"retryable", IsRetryable(err),
	}
}
