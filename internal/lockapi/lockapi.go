// Package lockapi defines the JSON envelopes exchanged between the lock
// service and its clients.
package lockapi

import (
	"fmt"
	"regexp"
	"time"
)

// Lock is the wire form of a lock record.
type Lock struct {
	RepositoryID    string    `json:"repository_id"`
	LockID          string    `json:"lock_id"`
	Holder          string    `json:"holder"`
	MachineID       string    `json:"machine_id"`
	AcquiredAt      time.Time `json:"acquired_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
}

// Live reports whether the lock is unexpired at now.
func (l *Lock) Live(now time.Time) bool {
	return l != nil && l.ExpiresAt.After(now)
}

// AcquireRequest is the body of POST .../locks/acquire and .../locks/break.
type AcquireRequest struct {
	Holder       string  `json:"holder"`
	MachineID    string  `json:"machine_id"`
	TimeoutHours float64 `json:"timeout_hours"`
}

// Validate checks required fields.
func (r AcquireRequest) Validate() error {
	if r.Holder == "" {
		return fmt.Errorf("holder is required")
	}
	if r.MachineID == "" {
		return fmt.Errorf("machine_id is required")
	}
	if r.TimeoutHours <= 0 || r.TimeoutHours > MaxTimeoutHours {
		return fmt.Errorf("timeout_hours must be in (0, %d]", MaxTimeoutHours)
	}
	return nil
}

// Timeout converts TimeoutHours to a duration.
func (r AcquireRequest) Timeout() time.Duration {
	return time.Duration(r.TimeoutHours * float64(time.Hour))
}

// MaxTimeoutHours bounds a single acquisition or heartbeat.
const MaxTimeoutHours = 24 * 7

// TokenRequest is the body of release and heartbeat.
type TokenRequest struct {
	LockID string `json:"lock_id"`
	// TimeoutHours optionally overrides the heartbeat extension.
	TimeoutHours float64 `json:"timeout_hours,omitempty"`
}

// ReleaseResponse acknowledges a release.
type ReleaseResponse struct {
	Released bool   `json:"released"`
	LockID   string `json:"lock_id"`
}

// StatusResponse is the body of GET .../locks/status.
type StatusResponse struct {
	Locked bool  `json:"locked"`
	Lock   *Lock `json:"lock,omitempty"`
}

// ActivityKind identifies an activity log entry type.
type ActivityKind string

const (
	ActivityAcquired    ActivityKind = "lock_acquired"
	ActivityReleased    ActivityKind = "lock_released"
	ActivityForceBroken ActivityKind = "lock_force_broken"
	ActivityExpired     ActivityKind = "lock_expired"
)

// ActivityEntry is one row of a repository's activity log.
type ActivityEntry struct {
	ID           int64        `json:"id"`
	RepositoryID string       `json:"repository_id"`
	Kind         ActivityKind `json:"kind"`
	Actor        string       `json:"actor"`
	MachineID    string       `json:"machine_id"`
	Detail       string       `json:"detail,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// ActivityResponse is the body of GET .../activity.
type ActivityResponse struct {
	Entries []ActivityEntry `json:"entries"`
}

// ErrorResponse is every non-2xx body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ConflictMessage formats the 409 error text.
func ConflictMessage(holder string, expiresAt time.Time) string {
	return fmt.Sprintf("Conflict: held by %s until %s", holder, expiresAt.UTC().Format(time.RFC3339))
}

var conflictPattern = regexp.MustCompile(`^Conflict: held by (.+) until (\S+)$`)

// ParseConflictMessage extracts the holder and expiry from a 409 error
// text. ok is false when msg is not in the expected form.
func ParseConflictMessage(msg string) (holder string, expiresAt time.Time, ok bool) {
	m := conflictPattern.FindStringSubmatch(msg)
	if m == nil {
		return "", time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, m[2])
	if err != nil {
		return "", time.Time{}, false
	}
	return m[1], t, true
}

// RepositoryID joins namespace and name the way the service keys locks.
func RepositoryID(namespace, name string) string {
	return namespace + "/" + name
}
