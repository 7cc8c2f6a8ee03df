package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/taskbuffet/buffet/internal/buffet"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "lock.timeout")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	errs = append(errs, c.validateBuffet()...)
	errs = append(errs, c.validateLock()...)
	errs = append(errs, c.validateWorker()...)
	errs = append(errs, c.validateExecutor()...)
	errs = append(errs, c.validateLogging()...)
	return errs
}

func (c *Config) validateBuffet() []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(c.Buffet.Path) == "" {
		errs = append(errs, ValidationError{
			Field:   "buffet.path",
			Value:   c.Buffet.Path,
			Message: "must not be empty",
		})
	}
	if c.Buffet.LockPath != "" && c.Buffet.LockPath == c.Buffet.Path {
		errs = append(errs, ValidationError{
			Field:   "buffet.lock_path",
			Value:   c.Buffet.LockPath,
			Message: "must differ from buffet.path, since saves replace the buffet file",
		})
	}
	if !slices.Contains(buffet.ValidFormats, c.Buffet.Format) {
		errs = append(errs, ValidationError{
			Field:   "buffet.format",
			Value:   c.Buffet.Format,
			Message: fmt.Sprintf("must be one of: %v", buffet.ValidFormats),
		})
	}

	return errs
}

func (c *Config) validateLock() []ValidationError {
	var errs []ValidationError

	if c.Lock.Timeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "lock.timeout",
			Value:   c.Lock.Timeout,
			Message: "must be non-negative (0 waits forever)",
		})
	}
	if c.Lock.PollInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "lock.poll_interval",
			Value:   c.Lock.PollInterval,
			Message: "must be positive",
		})
	}

	return errs
}

func (c *Config) validateWorker() []ValidationError {
	var errs []ValidationError

	if c.Worker.Count < 1 {
		errs = append(errs, ValidationError{
			Field:   "worker.count",
			Value:   c.Worker.Count,
			Message: "must be at least 1",
		})
	}
	if c.Worker.TimeBudget < 0 {
		errs = append(errs, ValidationError{
			Field:   "worker.time_budget",
			Value:   c.Worker.TimeBudget,
			Message: "must be non-negative (0 disables the budget)",
		})
	}
	if strings.ContainsAny(c.Worker.ID, " \t\n") {
		errs = append(errs, ValidationError{
			Field:   "worker.id",
			Value:   c.Worker.ID,
			Message: "must not contain whitespace",
		})
	}

	return errs
}

func (c *Config) validateExecutor() []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(c.Executor.Shell) == "" {
		errs = append(errs, ValidationError{
			Field:   "executor.shell",
			Value:   c.Executor.Shell,
			Message: "must not be empty",
		})
	}
	if c.Executor.TaskTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "executor.task_timeout",
			Value:   c.Executor.TaskTimeout,
			Message: "must be non-negative (0 disables the timeout)",
		})
	}
	if c.Executor.RequeueExitCode < 0 || c.Executor.RequeueExitCode > 255 {
		errs = append(errs, ValidationError{
			Field:   "executor.requeue_exit_code",
			Value:   c.Executor.RequeueExitCode,
			Message: "must be between 0 and 255 (0 disables requeueing)",
		})
	}

	return errs
}

func (c *Config) validateLogging() []ValidationError {
	var errs []ValidationError

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative (0 disables rotation)",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errs
}
