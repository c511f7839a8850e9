package config

import (
	"strings"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{Field: "watch.debounce_seconds", Value: 0, Message: "must be positive"}
	want := "watch.debounce_seconds: must be positive (got: 0)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	if got := ValidationErrors(nil).Error(); got != "" {
		t.Errorf("empty Error() = %q", got)
	}

	errs := ValidationErrors{
		{Field: "a", Value: 1, Message: "bad"},
		{Field: "b", Value: 2, Message: "worse"},
	}
	msg := errs.Error()
	if !strings.HasPrefix(msg, "2 validation errors:") {
		t.Errorf("Error() = %q", msg)
	}
	if !strings.Contains(msg, "1. a: bad") || !strings.Contains(msg, "2. b: worse") {
		t.Errorf("Error() = %q, missing entries", msg)
	}
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	if errs := Default().Validate(); len(errs) != 0 {
		t.Errorf("default config should be valid, got %v", errs)
	}
}

func hasField(errs []ValidationError, field string) bool {
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{"zero lock timeout", func(c *Config) { c.Lock.TimeoutHours = 0 }, "lock.timeout_hours"},
		{"huge lock timeout", func(c *Config) { c.Lock.TimeoutHours = 1000 }, "lock.timeout_hours"},
		{"heartbeat slower than timeout", func(c *Config) {
			c.Lock.TimeoutHours = 1
			c.Lock.HeartbeatIntervalSeconds = 3600
		}, "lock.heartbeat_interval_seconds"},
		{"zero debounce", func(c *Config) { c.Watch.DebounceSeconds = 0 }, "watch.debounce_seconds"},
		{"zero max draft commits", func(c *Config) { c.Draft.MaxCommits = 0 }, "draft.max_commits"},
		{"bad draft branch", func(c *Config) { c.Draft.Branch = "-bad" }, "draft.branch"},
		{"draft equals main", func(c *Config) { c.Draft.Branch = "main" }, "draft.branch"},
		{"zero retries", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"max below initial", func(c *Config) {
			c.Retry.BackoffInitialMs = 1000
			c.Retry.BackoffMaxMs = 10
		}, "retry.backoff_max_ms"},
		{"zero ttl", func(c *Config) { c.Queue.EntryTTLDays = 0 }, "queue.entry_ttl_days"},
		{"long power deadline", func(c *Config) { c.Power.DeadlineMs = 60000 }, "power.deadline_ms"},
		{"empty addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
		{"relative url", func(c *Config) { c.Server.URL = "localhost:3000" }, "server.url"},
		{"namespace with slash", func(c *Config) { c.Server.Namespace = "a/b" }, "server.namespace"},
		{"empty holder", func(c *Config) { c.Identity.Holder = " " }, "identity.holder"},
		{"empty machine", func(c *Config) { c.Identity.MachineID = "" }, "identity.machine_id"},
		{"empty vcs binary", func(c *Config) { c.VCS.Binary = "" }, "vcs.binary"},
		{"push without remote", func(c *Config) { c.VCS.Remote = " " }, "vcs.remote"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"negative backups", func(c *Config) { c.Logging.MaxBackups = -1 }, "logging.max_backups"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			if !hasField(errs, tt.wantField) {
				t.Errorf("expected error on %s, got %v", tt.wantField, errs)
			}
		})
	}
}

func TestConfig_Validate_UppercaseLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "DEBUG"
	if errs := cfg.validateLogging(); len(errs) != 0 {
		t.Errorf("uppercase level should be accepted, got %v", errs)
	}
}

func TestConfig_Validate_NoRemoteWithoutPush(t *testing.T) {
	cfg := Default()
	cfg.VCS.Remote = ""
	cfg.VCS.Push = false
	if errs := cfg.validateVCS(); len(errs) != 0 {
		t.Errorf("local-only setup should be valid, got %v", errs)
	}
}
