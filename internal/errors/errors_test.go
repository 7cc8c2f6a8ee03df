package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLockError(t *testing.T) {
	err := NewLockError("acquire", ErrLockTimeout).WithPath("/shared/b.lock")

	want := "lock error [path=/shared/b.lock]: acquire: lock wait timed out"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !Is(err, ErrLockTimeout) {
		t.Error("LockError should unwrap to ErrLockTimeout")
	}
	if !err.IsRetryable() {
		t.Error("timeouts should be retryable")
	}
	if err.Severity() != SeverityCritical {
		t.Errorf("Severity() = %v, want critical", err.Severity())
	}

	unavailable := NewLockError("open", ErrLockUnavailable)
	if unavailable.IsRetryable() {
		t.Error("unavailable lock should not be retryable")
	}
	if unavailable.Error() != "lock error: open: lock unavailable" {
		t.Errorf("Error() = %q", unavailable.Error())
	}
}

func TestStoreError(t *testing.T) {
	err := NewStoreError("save", fmt.Errorf("%w: disk full", ErrPersist)).WithPath("/shared/b.json")

	want := "store error [path=/shared/b.json]: save: buffet could not be persisted: disk full"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !Is(err, ErrPersist) {
		t.Error("StoreError should unwrap to ErrPersist")
	}
	if err.Op != "save" {
		t.Errorf("Op = %q, want save", err.Op)
	}
}

func TestTaskError(t *testing.T) {
	err := NewTaskError("launch", ErrTaskExecution).WithTaskID("t1").WithOwner("w1")

	want := "task error [task=t1, owner=w1]: launch: task execution error"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if err.Severity() != SeverityError {
		t.Errorf("Severity() = %v, want error", err.Severity())
	}
}

func TestKindAndExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind string
		wantCode int
	}{
		{"nil", nil, "", ExitOK},
		{"lock unavailable", NewLockError("open", ErrLockUnavailable), KindLockUnavailable, ExitLockUnavailable},
		{"lock timeout", fmt.Errorf("bootstrap: %w", NewLockError("acquire", ErrLockTimeout)), KindLockTimeout, ExitLockTimeout},
		{"corrupt", NewStoreError("load", ErrCorruptStatus), KindCorruptStatus, ExitCorruptStatus},
		{"mismatch", fmt.Errorf("merge: %w", ErrTaskSetMismatch), KindCorruptStatus, ExitCorruptStatus},
		{"persist", NewStoreError("save", ErrPersist), KindPersistError, ExitPersistError},
		{"task", NewTaskError("launch", ErrTaskExecution), KindTaskError, ExitTaskError},
		{"other", errors.New("boom"), KindInternal, ExitInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.wantKind {
				t.Errorf("Kind() = %q, want %q", got, tt.wantKind)
			}
			if got := ExitCode(tt.err); got != tt.wantCode {
				t.Errorf("ExitCode() = %d, want %d", got, tt.wantCode)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
	if !IsRetryable(fmt.Errorf("wrapped: %w", NewLockError("acquire", ErrLockTimeout))) {
		t.Error("wrapped lock timeout should be retryable")
	}
	if !IsRetryable(ErrLockTimeout) {
		t.Error("bare ErrLockTimeout should be retryable")
	}
	if IsRetryable(NewStoreError("load", ErrCorruptStatus)) {
		t.Error("corrupt status should not be retryable")
	}
}

func TestGetSeverity(t *testing.T) {
	if got := GetSeverity(errors.New("plain")); got != SeverityError {
		t.Errorf("GetSeverity(plain) = %v, want error", got)
	}
	if got := GetSeverity(NewStoreError("load", ErrCorruptStatus)); got != SeverityCritical {
		t.Errorf("GetSeverity(store) = %v, want critical", got)
	}
}

func TestLogAttrs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      string
		severity  string
		retryable bool
	}{
		{"lock timeout", fmt.Errorf("status: %w", NewLockError("acquire", ErrLockTimeout)), KindLockTimeout, "critical", true},
		{"corrupt buffet", NewStoreError("load", ErrCorruptStatus), KindCorruptStatus, "critical", false},
		{"task abort", NewTaskError("abort", ErrTaskExecution), KindTaskError, "error", false},
		{"plain", errors.New("boom"), KindInternal, "error", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := LogAttrs(tt.err)
			want := []any{"kind", tt.kind, "severity", tt.severity, "retryable", tt.retryable}
			if fmt.Sprint(attrs) != fmt.Sprint(want) {
				t.Errorf("LogAttrs() = %v, want %v", attrs, want)
			}
		})
	}
}
