package config

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "watch.debounce_seconds")
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

// branchNameRegex validates draft/main branch names
var branchNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._/-]*$`)

// namespaceRegex validates the lock service namespace path segment
var namespaceRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateLock()...)
	errors = append(errors, c.validateWatch()...)
	errors = append(errors, c.validateDraft()...)
	errors = append(errors, c.validateRetry()...)
	errors = append(errors, c.validateQueue()...)
	errors = append(errors, c.validatePower()...)
	errors = append(errors, c.validateServer()...)
	errors = append(errors, c.validateIdentity()...)
	errors = append(errors, c.validateVCS()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func positive(field string, value int) []ValidationError {
	if value > 0 {
		return nil
	}
	return []ValidationError{{Field: field, Value: value, Message: "must be positive"}}
}

// validateLock validates the LockConfig
func (c *Config) validateLock() []ValidationError {
	var errors []ValidationError

	errors = append(errors, positive("lock.timeout_hours", c.Lock.TimeoutHours)...)
	errors = append(errors, positive("lock.heartbeat_interval_seconds", c.Lock.HeartbeatIntervalSeconds)...)

	// A heartbeat slower than the lock lifetime lets the lock lapse while held
	if c.Lock.TimeoutHours > 0 && c.Lock.HeartbeatIntervalSeconds >= c.Lock.TimeoutHours*3600 {
		errors = append(errors, ValidationError{
			Field:   "lock.heartbeat_interval_seconds",
			Value:   c.Lock.HeartbeatIntervalSeconds,
			Message: "must be shorter than lock.timeout_hours",
		})
	}

	const maxTimeoutHours = 24 * 7
	if c.Lock.TimeoutHours > maxTimeoutHours {
		errors = append(errors, ValidationError{
			Field:   "lock.timeout_hours",
			Value:   c.Lock.TimeoutHours,
			Message: fmt.Sprintf("exceeds maximum of %d hours", maxTimeoutHours),
		})
	}

	return errors
}

// validateWatch validates the WatchConfig
func (c *Config) validateWatch() []ValidationError {
	return positive("watch.debounce_seconds", c.Watch.DebounceSeconds)
}

// validateDraft validates the DraftConfig
func (c *Config) validateDraft() []ValidationError {
	var errors []ValidationError

	errors = append(errors, positive("draft.max_commits", c.Draft.MaxCommits)...)

	if !branchNameRegex.MatchString(c.Draft.Branch) {
		errors = append(errors, ValidationError{
			Field:   "draft.branch",
			Value:   c.Draft.Branch,
			Message: "must be a valid branch name",
		})
	}
	if !branchNameRegex.MatchString(c.Draft.MainBranch) {
		errors = append(errors, ValidationError{
			Field:   "draft.main_branch",
			Value:   c.Draft.MainBranch,
			Message: "must be a valid branch name",
		})
	}
	if c.Draft.Branch != "" && c.Draft.Branch == c.Draft.MainBranch {
		errors = append(errors, ValidationError{
			Field:   "draft.branch",
			Value:   c.Draft.Branch,
			Message: "must differ from draft.main_branch",
		})
	}

	return errors
}

// validateRetry validates the RetryConfig
func (c *Config) validateRetry() []ValidationError {
	var errors []ValidationError

	errors = append(errors, positive("retry.max_attempts", c.Retry.MaxAttempts)...)
	errors = append(errors, positive("retry.backoff_initial_ms", c.Retry.BackoffInitialMs)...)
	errors = append(errors, positive("retry.backoff_max_ms", c.Retry.BackoffMaxMs)...)

	if c.Retry.BackoffInitialMs > 0 && c.Retry.BackoffMaxMs > 0 && c.Retry.BackoffMaxMs < c.Retry.BackoffInitialMs {
		errors = append(errors, ValidationError{
			Field:   "retry.backoff_max_ms",
			Value:   c.Retry.BackoffMaxMs,
			Message: "must be at least retry.backoff_initial_ms",
		})
	}

	return errors
}

// validateQueue validates the QueueConfig
func (c *Config) validateQueue() []ValidationError {
	var errors []ValidationError
	errors = append(errors, positive("queue.entry_ttl_days", c.Queue.EntryTTLDays)...)
	errors = append(errors, positive("queue.max_attempts", c.Queue.MaxAttempts)...)
	errors = append(errors, positive("queue.replay_interval_seconds", c.Queue.ReplayIntervalSeconds)...)
	return errors
}

// validatePower validates the PowerConfig
func (c *Config) validatePower() []ValidationError {
	var errors []ValidationError

	errors = append(errors, positive("power.deadline_ms", c.Power.DeadlineMs)...)

	// The OS will not wait long on suspend; a long deadline defeats the hook
	const maxDeadlineMs = 30000
	if c.Power.DeadlineMs > maxDeadlineMs {
		errors = append(errors, ValidationError{
			Field:   "power.deadline_ms",
			Value:   c.Power.DeadlineMs,
			Message: fmt.Sprintf("exceeds maximum of %dms", maxDeadlineMs),
		})
	}

	return errors
}

// validateServer validates the ServerConfig
func (c *Config) validateServer() []ValidationError {
	var errors []ValidationError

	if c.Server.Addr == "" {
		errors = append(errors, ValidationError{
			Field:   "server.addr",
			Value:   c.Server.Addr,
			Message: "must not be empty",
		})
	}

	if u, err := url.Parse(c.Server.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "server.url",
			Value:   c.Server.URL,
			Message: "must be an absolute http(s) URL",
		})
	}

	if !namespaceRegex.MatchString(c.Server.Namespace) {
		errors = append(errors, ValidationError{
			Field:   "server.namespace",
			Value:   c.Server.Namespace,
			Message: "must be a single path segment of letters, digits, '.', '_' or '-'",
		})
	}

	errors = append(errors, positive("server.request_timeout_ms", c.Server.RequestTimeoutMs)...)
	errors = append(errors, positive("server.cleanup_interval_minutes", c.Server.CleanupIntervalMinutes)...)

	return errors
}

// validateIdentity validates the IdentityConfig
func (c *Config) validateIdentity() []ValidationError {
	var errors []ValidationError
	if strings.TrimSpace(c.Identity.Holder) == "" {
		errors = append(errors, ValidationError{
			Field:   "identity.holder",
			Value:   c.Identity.Holder,
			Message: "must not be empty",
		})
	}
	if strings.TrimSpace(c.Identity.MachineID) == "" {
		errors = append(errors, ValidationError{
			Field:   "identity.machine_id",
			Value:   c.Identity.MachineID,
			Message: "must not be empty",
		})
	}
	return errors
}

// validateVCS validates the VCSConfig
func (c *Config) validateVCS() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.VCS.Binary) == "" {
		errors = append(errors, ValidationError{Field: "vcs.binary", Value: c.VCS.Binary, Message: "must not be empty"})
	}
	if c.VCS.Push && strings.TrimSpace(c.VCS.Remote) == "" {
		errors = append(errors, ValidationError{
			Field:   "vcs.remote",
			Value:   c.VCS.Remote,
			Message: "must be set when vcs.push is enabled",
		})
	}
	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
