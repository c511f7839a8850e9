// Package controlapi defines the JSON envelopes of the daemon's control API,
// served over a unix socket.
package controlapi

import (
	"time"

	"github.com/jbacus/auxin/internal/commitmsg"
	"github.com/jbacus/auxin/internal/conflict"
	"github.com/jbacus/auxin/internal/draft"
	"github.com/jbacus/auxin/internal/lockapi"
)

// SchemaVersion is reported in every status response.
const SchemaVersion = "v1"

// Error codes carried in ErrorResponse.
const (
	CodeInvalidRequest = "invalid_request"
	CodeNotFound       = "not_found"
	CodeConflict       = "conflict"
	CodeNotHolder      = "not_holder"
	CodeQueued         = "queued"
	CodeUnavailable    = "unavailable"
	CodeInternal       = "internal"
)

// ProjectStatus is one registered project.
type ProjectStatus struct {
	ID           string        `json:"id"`
	Root         string        `json:"root"`
	AppType      string        `json:"app_type"`
	Repository   string        `json:"repository"`
	State        string        `json:"state"`
	Pending      bool          `json:"pending"`
	Deadline     time.Time     `json:"deadline,omitzero"`
	LastChangeAt time.Time     `json:"last_change_at,omitzero"`
	LastCommitID string        `json:"last_commit_id,omitempty"`
	LastCommitAt time.Time     `json:"last_commit_at,omitzero"`
	LastError    string        `json:"last_error,omitempty"`
	Lock         *lockapi.Lock `json:"lock,omitempty"`
	LockHeld     bool          `json:"lock_held"`
	Draft        draft.Stats   `json:"draft"`
	Advisory     bool          `json:"advisory"`
	QueueDepth   int           `json:"queue_depth"`
	// History is the last comparison of the draft branch with the remote.
	History *conflict.Result `json:"history,omitempty"`
}

// StatusResponse is the body of GET /v1/status.
type StatusResponse struct {
	SchemaVersion string          `json:"schema_version"`
	Version       string          `json:"version"`
	PID           int             `json:"pid"`
	StartedAt     time.Time       `json:"started_at"`
	Online        bool            `json:"online"`
	Projects      []ProjectStatus `json:"projects"`
}

// AddProjectRequest is the body of POST /v1/projects.
type AddProjectRequest struct {
	Root string `json:"root"`
	// AppType forces an application type instead of detection.
	AppType string `json:"app_type,omitempty"`
}

// CommitRequest is the body of POST /v1/projects/{id}/commit. Without
// Metadata the commit is a manual snapshot.
type CommitRequest struct {
	Metadata *commitmsg.Metadata `json:"metadata,omitempty"`
}

// CommitResponse reports the outcome of a commit request.
type CommitResponse struct {
	CommitID string `json:"commit_id,omitempty"`
	// Queued is set when the commit was deferred to the offline queue.
	Queued bool `json:"queued"`
	// Skipped is set when there was nothing to commit.
	Skipped bool `json:"skipped"`
}

// ReplayResponse is the body returned by POST /v1/projects/{id}/replay.
type ReplayResponse struct {
	Replayed  int  `json:"replayed"`
	Failed    int  `json:"failed"`
	Dropped   int  `json:"dropped"`
	Blocked   bool `json:"blocked"`
	Remaining int  `json:"remaining"`
}

// ErrorBody is the error detail of a non-2xx response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is every non-2xx body.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}
