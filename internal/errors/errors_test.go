package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
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

// -----------------------------------------------------------------------------
// LockError Tests
// -----------------------------------------------------------------------------

func TestNewLockConflict(t *testing.T) {
	expires := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := NewLockConflict("studio/song", "alice", "mbp-1", expires)

	if !Is(err, ErrLockConflict) {
		t.Error("expected conflict to match ErrLockConflict")
	}
	if err.IsRetryable() {
		t.Error("IsRetryable() = true, want false")
	}
	if !err.IsUserFacing() {
		t.Error("IsUserFacing() = false, want true")
	}

	msg := err.Error()
	for _, want := range []string{"repo=studio/song", "holder=alice", "2026-03-01T12:00:00Z"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestConflictDetails(t *testing.T) {
	expires := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	wrapped := Wrap(NewLockConflict("r", "bob", "m", expires), "acquire")

	holder, at, ok := ConflictDetails(wrapped)
	if !ok {
		t.Fatal("ConflictDetails() ok = false, want true")
	}
	if holder != "bob" || !at.Equal(expires) {
		t.Errorf("ConflictDetails() = (%q, %v), want (bob, %v)", holder, at, expires)
	}

	if _, _, ok := ConflictDetails(NewLockError("gone", ErrLockNotFound)); ok {
		t.Error("ConflictDetails() on not-found should be false")
	}
}

func TestIsLockGone(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"not found", NewLockError("no lock", ErrLockNotFound), true},
		{"expired", Wrap(NewLockError("stale", ErrLockExpired), "heartbeat"), true},
		{"conflict", NewLockConflict("r", "a", "m", time.Now()), false},
		{"not holder", NewLockError("token", ErrNotHolder), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsLockGone(tt.err); got != tt.want {
				t.Errorf("IsLockGone() = %v, want %v", got, tt.want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// NetworkError / VCSError / FilesystemError Tests
// -----------------------------------------------------------------------------

func TestNetworkError(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := NewNetworkError("acquire lock", cause).WithEndpoint("http://lock:3000")

	if !IsRetryable(err) {
		t.Error("network errors must be retryable")
	}
	if !IsNetwork(Wrap(err, "orchestrator")) {
		t.Error("IsNetwork() should see through wrapping")
	}
	if !strings.Contains(err.Error(), "endpoint=http://lock:3000") {
		t.Errorf("Error() = %q, missing endpoint", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable")
	}
}

func TestVCSError_Error(t *testing.T) {
	err := NewVCSError("commit failed", fmt.Errorf("exit status 128")).
		WithCommand("commit").
		WithBranch("draft").
		WithRepository("/tmp/proj").
		WithOutput("fatal: Unable to create '.git/index.lock'")

	msg := err.Error()
	for _, want := range []string{"cmd=commit", "branch=draft", "repo=/tmp/proj", "exit status 128", "index.lock"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
	if !Is(err, ErrVCSEngine) {
		t.Error("expected VCSError to match ErrVCSEngine")
	}
	if IsRetryable(err) {
		t.Error("VCS errors default to non-retryable")
	}
	if !IsRetryable(err.WithRetryable(true)) {
		t.Error("WithRetryable(true) should mark error retryable")
	}
}

func TestFilesystemError(t *testing.T) {
	err := NewFilesystemError("stage", "/tmp/proj/a.wav", fmt.Errorf("resource busy"))
	if !Is(err, ErrFilesystem) {
		t.Error("expected FilesystemError to match ErrFilesystem")
	}
	if !strings.Contains(err.Error(), "path=/tmp/proj/a.wav") {
		t.Errorf("Error() = %q, missing path", err.Error())
	}
}

// -----------------------------------------------------------------------------
// DivergenceError Tests
// -----------------------------------------------------------------------------

func TestDivergenceError(t *testing.T) {
	err := NewDivergenceError("abc123", "def456")

	if !IsTerminal(err) {
		t.Error("divergence must be terminal")
	}
	if IsRetryable(err) {
		t.Error("divergence must not be retryable")
	}
	if GetSeverity(err) != SeverityCritical {
		t.Errorf("GetSeverity() = %v, want critical", GetSeverity(err))
	}
	msg := err.Error()
	if !strings.Contains(msg, "local=abc123") || !strings.Contains(msg, "remote=def456") {
		t.Errorf("Error() = %q, want both heads", msg)
	}
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

func TestNotFoundError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *NotFoundError
		want string
	}{
		{
			name: "without cause",
			err:  NewNotFoundError("project", "abc"),
			want: "project 'abc' not found",
		},
		{
			name: "with cause",
			err:  NewNotFoundError("project", "abc").WithCause(fmt.Errorf("db closed")),
			want: "project 'abc' not found: db closed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidationError_Is(t *testing.T) {
	err := NewValidationError("timeout must be positive").WithField("timeout_hours").WithValue(0)

	if !Is(err, ErrInvalidInput) {
		t.Error("ValidationError should match ErrInvalidInput")
	}
	if !strings.Contains(err.Error(), "field=timeout_hours") {
		t.Errorf("Error() = %q, missing field", err.Error())
	}
}

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("power commit", 2*time.Second)
	if !IsRetryable(err) {
		t.Error("timeouts should be retryable")
	}
	if !Is(err, ErrTimeout) {
		t.Error("TimeoutError should match ErrTimeout")
	}
	if got := err.Error(); got != "timeout error: power commit (timeout: 2s)" {
		t.Errorf("Error() = %q", got)
	}
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", fmt.Errorf("boom"), false},
		{"wrapped timeout sentinel", Wrap(ErrTimeout, "heartbeat"), true},
		{"network sentinel", Wrap(ErrNetworkUnavailable, "push"), true},
		{"lock conflict", NewLockConflict("r", "a", "m", time.Now()), false},
		{"network error", NewNetworkError("status", nil), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsUserFacing(t *testing.T) {
	if IsUserFacing(nil) {
		t.Error("nil should not be user-facing")
	}
	if IsUserFacing(fmt.Errorf("internal")) {
		t.Error("plain errors should not be user-facing")
	}
	if !IsUserFacing(NewNotFoundError("lock", "x")) {
		t.Error("NotFoundError should be user-facing")
	}
}

func TestGetSeverity(t *testing.T) {
	if got := GetSeverity(nil); got != SeverityDebug {
		t.Errorf("GetSeverity(nil) = %v, want debug", got)
	}
	if got := GetSeverity(fmt.Errorf("x")); got != SeverityError {
		t.Errorf("GetSeverity(plain) = %v, want error", got)
	}
	if got := GetSeverity(NewLockError("x", ErrNotHolder).WithSeverity(SeverityInfo)); got != SeverityInfo {
		t.Errorf("GetSeverity(lock) = %v, want info", got)
	}
}

func TestWrapf(t *testing.T) {
	if Wrapf(nil, "ctx %d", 1) != nil {
		t.Error("Wrapf(nil) should be nil")
	}
	err := Wrapf(ErrLockNotFound, "release %s", "studio/song")
	if err.Error() != "release studio/song: lock not found" {
		t.Errorf("Wrapf() = %q", err.Error())
	}
	if !Is(err, ErrLockNotFound) {
		t.Error("Wrapf should preserve the chain")
	}
}
