// Package errors provides the error taxonomy shared by the lock service,
// the lock client, the commit orchestrator and the offline queue.
//
// # Error Types
//
// Domain errors describe failures of a specific subsystem:
//   - LockError: lock conflicts, missing or expired locks, wrong holder
//   - NetworkError: the lock service or a VCS remote could not be reached
//   - VCSError: the version-control engine reported a failure
//   - FilesystemError: staging or persistence hit an I/O error
//   - DivergenceError: local and remote history have diverged
//
// Semantic errors describe common conditions:
//   - NotFoundError, ValidationError, TimeoutError
//
// # Usage
//
//	err := errors.NewLockConflict("studio/song", "alice", "mbp-1", expires)
//	if errors.IsLockConflict(err) { ... }
//	if errors.IsRetryable(err) { ... }
//
// # Classification
//
// Every error carries a severity, a retryable flag and a user-facing flag.
// Retryable errors are retried locally and then handed to the offline queue.
// Terminal errors (divergence, non-transient engine failures) stop automation
// and are surfaced to the user.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
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
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
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
	// ErrLockConflict indicates that another holder owns a live lock.
	ErrLockConflict = New("lock held by another user")
	// ErrLockNotFound indicates that no live lock exists for the repository.
	ErrLockNotFound = New("lock not found")
	// ErrLockExpired indicates that the lock existed but its expiry has passed.
	ErrLockExpired = New("lock expired")
	// ErrNotHolder indicates that the presented lock_id is not the live token.
	ErrNotHolder = New("not the current lock holder")
)

// Transport and engine sentinel errors
var (
	// ErrNetworkUnavailable indicates that a remote endpoint could not be reached.
	ErrNetworkUnavailable = New("network unavailable")
	// ErrVCSEngine indicates a failure reported by the version-control engine.
	ErrVCSEngine = New("vcs engine error")
	// ErrFilesystem indicates an I/O failure on the working tree.
	ErrFilesystem = New("filesystem error")
	// ErrConflictDivergence indicates that local and remote history diverged.
	ErrConflictDivergence = New("history diverged")
	// ErrQueueEntryExpired indicates that an offline queue entry outlived its TTL.
	ErrQueueEntryExpired = New("queue entry expired")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// AuxinError is the base interface for all errors defined in this package.
type AuxinError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the operation may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
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

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// formatWithContext renders "<kind> [k=v, ...]: message: cause".
func formatWithContext(kind string, parts []string, message string, cause error) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, message, cause)
	}
	return fmt.Sprintf("%s: %s", prefix, message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// LockError represents a lock operation that could not be completed.
// For conflicts, Holder, Machine and ExpiresAt describe the current owner so
// the UI can show who holds the project and until when.
//
// Example:
//
//	err := errors.NewLockConflict("studio/song", "alice", "mbp-1", expires)
//	fmt.Println(err) // "lock error [repo=studio/song, holder=alice, ...]: ..."
type LockError struct {
	baseError
	Repository string
	Holder     string
	Machine    string
	ExpiresAt  time.Time
}

// NewLockError creates a new LockError wrapping one of the lock sentinels.
func NewLockError(message string, cause error) *LockError {
	return &LockError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// NewLockConflict creates a LockError describing the current holder.
func NewLockConflict(repository, holder, machine string, expiresAt time.Time) *LockError {
	e := NewLockError(
		fmt.Sprintf("held by %s until %s", holder, expiresAt.UTC().Format(time.RFC3339)),
		ErrLockConflict,
	)
	e.Repository = repository
	e.Holder = holder
	e.Machine = machine
	e.ExpiresAt = expiresAt
	return e
}

// WithRepository adds a repository identifier to the error context.
func (e *LockError) WithRepository(repo string) *LockError {
	e.Repository = repo
	return e
}

// WithSeverity sets the error severity.
func (e *LockError) WithSeverity(s Severity) *LockError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *LockError) Error() string {
	var parts []string
	if e.Repository != "" {
		parts = append(parts, fmt.Sprintf("repo=%s", e.Repository))
	}
	if e.Holder != "" {
		parts = append(parts, fmt.Sprintf("holder=%s", e.Holder))
	}
	if e.Machine != "" {
		parts = append(parts, fmt.Sprintf("machine=%s", e.Machine))
	}
	return formatWithContext("lock error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *LockError) Is(target error) bool {
	if _, ok := target.(*LockError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// NetworkError represents a remote endpoint that could not be reached, or a
// request that timed out. Network errors are always retryable.
type NetworkError struct {
	baseError
	Endpoint  string
	Operation string
}

// NewNetworkError creates a new NetworkError.
func NewNetworkError(operation string, cause error) *NetworkError {
	return &NetworkError{
		baseError: baseError{
			message:    operation,
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
	}
}

// WithEndpoint adds the endpoint URL to the error context.
func (e *NetworkError) WithEndpoint(endpoint string) *NetworkError {
	e.Endpoint = endpoint
	return e
}

// Error returns the formatted error message.
func (e *NetworkError) Error() string {
	var parts []string
	if e.Endpoint != "" {
		parts = append(parts, fmt.Sprintf("endpoint=%s", e.Endpoint))
	}
	return formatWithContext("network error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *NetworkError) Is(target error) bool {
	if _, ok := target.(*NetworkError); ok {
		return true
	}
	if target == ErrNetworkUnavailable {
		return true
	}
	return e.baseError.Is(target)
}

// VCSError represents a failure reported by the version-control engine.
// The engine's output is carried verbatim and is never rewritten.
//
// Example:
//
//	err := errors.NewVCSError("commit failed", cause).WithRepository(root).WithOutput(out)
type VCSError struct {
	baseError
	Repository string
	Branch     string
	Command    string
	Output     string
}

// NewVCSError creates a new VCSError.
func NewVCSError(message string, cause error) *VCSError {
	return &VCSError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithRepository adds a repository path to the error context.
func (e *VCSError) WithRepository(path string) *VCSError {
	e.Repository = path
	return e
}

// WithBranch adds a branch name to the error context.
func (e *VCSError) WithBranch(branch string) *VCSError {
	e.Branch = branch
	return e
}

// WithCommand adds the engine command that failed.
func (e *VCSError) WithCommand(cmd string) *VCSError {
	e.Command = cmd
	return e
}

// WithOutput adds engine output to the error context.
func (e *VCSError) WithOutput(output string) *VCSError {
	e.Output = output
	return e
}

// WithRetryable marks the engine failure as transient (e.g. the engine's
// index was temporarily locked).
func (e *VCSError) WithRetryable(r bool) *VCSError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *VCSError) Error() string {
	var parts []string
	if e.Command != "" {
		parts = append(parts, fmt.Sprintf("cmd=%s", e.Command))
	}
	if e.Branch != "" {
		parts = append(parts, fmt.Sprintf("branch=%s", e.Branch))
	}
	if e.Repository != "" {
		parts = append(parts, fmt.Sprintf("repo=%s", e.Repository))
	}

	msg := e.message
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	if e.Output != "" {
		msg = fmt.Sprintf("%s\nengine output: %s", msg, e.Output)
	}
	return formatWithContext("vcs error", parts, msg, nil)
}

// Is checks if this error matches the target.
func (e *VCSError) Is(target error) bool {
	if _, ok := target.(*VCSError); ok {
		return true
	}
	if target == ErrVCSEngine {
		return true
	}
	return e.baseError.Is(target)
}

// FilesystemError represents an I/O failure while staging or persisting.
// It aborts the current attempt only.
type FilesystemError struct {
	baseError
	Path      string
	Operation string
}

// NewFilesystemError creates a new FilesystemError.
func NewFilesystemError(operation, path string, cause error) *FilesystemError {
	return &FilesystemError{
		baseError: baseError{
			message:    operation,
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		Path:      path,
		Operation: operation,
	}
}

// Error returns the formatted error message.
func (e *FilesystemError) Error() string {
	var parts []string
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	return formatWithContext("filesystem error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *FilesystemError) Is(target error) bool {
	if _, ok := target.(*FilesystemError); ok {
		return true
	}
	if target == ErrFilesystem {
		return true
	}
	return e.baseError.Is(target)
}

// DivergenceError reports that local and remote history each contain
// commits absent from the other. It is terminal for automation.
type DivergenceError struct {
	baseError
	LocalHead  string
	RemoteHead string
}

// NewDivergenceError creates a new DivergenceError for the two heads.
func NewDivergenceError(localHead, remoteHead string) *DivergenceError {
	return &DivergenceError{
		baseError: baseError{
			message:    "automatic consolidation refused, choose which side to keep",
			severity:   SeverityCritical,
			retryable:  false,
			userFacing: true,
		},
		LocalHead:  localHead,
		RemoteHead: remoteHead,
	}
}

// Error returns the formatted error message.
func (e *DivergenceError) Error() string {
	parts := []string{
		fmt.Sprintf("local=%s", e.LocalHead),
		fmt.Sprintf("remote=%s", e.RemoteHead),
	}
	return formatWithContext("history diverged", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *DivergenceError) Is(target error) bool {
	if _, ok := target.(*DivergenceError); ok {
		return true
	}
	if target == ErrConflictDivergence {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("project", "abc123")
//	fmt.Println(err) // "project 'abc123' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("timeout must be positive").WithField("timeout_hours").WithValue(0)
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return formatWithContext("validation error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if target == ErrInvalidInput {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if target == ErrTimeout {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var auxinErr AuxinError
	if As(err, &auxinErr) {
		return auxinErr.IsRetryable()
	}

	return Is(err, ErrTimeout) || Is(err, ErrNetworkUnavailable)
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var auxinErr AuxinError
	if As(err, &auxinErr) {
		return auxinErr.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement AuxinError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var auxinErr AuxinError
	if As(err, &auxinErr) {
		return auxinErr.Severity()
	}
	return SeverityError
}

// IsLockConflict reports whether err describes a lock held by someone else.
func IsLockConflict(err error) bool {
	return err != nil && Is(err, ErrLockConflict)
}

// IsLockGone reports whether err means "there is no live lock". Callers treat
// both not-found and expired as currently unlocked.
func IsLockGone(err error) bool {
	return err != nil && (Is(err, ErrLockNotFound) || Is(err, ErrLockExpired))
}

// IsNetwork reports whether err is a transport failure.
func IsNetwork(err error) bool {
	return err != nil && Is(err, ErrNetworkUnavailable)
}

// IsTerminal reports whether automation must stop and a human must decide.
func IsTerminal(err error) bool {
	return err != nil && Is(err, ErrConflictDivergence)
}

// ConflictDetails extracts holder and expiry from a lock conflict.
func ConflictDetails(err error) (holder string, expiresAt time.Time, ok bool) {
	var lockErr *LockError
	if !As(err, &lockErr) || !IsLockConflict(err) {
		return "", time.Time{}, false
	}
	return lockErr.Holder, lockErr.ExpiresAt, true
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
