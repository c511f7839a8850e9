package offlinequeue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jbacus/auxin/internal/commitmsg"
)

// Kind is the operation a queue entry replays.
type Kind string

const (
	KindCommit    Kind = "commit"
	KindPush      Kind = "push"
	KindHeartbeat Kind = "heartbeat"
	KindRelease   Kind = "release"
)

// Entry is one deferred operation.
type Entry struct {
	ID            string          `json:"id"`
	Kind          Kind            `json:"operation_kind"`
	ProjectID     string          `json:"project_id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	AttemptCount  int             `json:"attempt_count"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	CreatedAt     time.Time       `json:"created_at"`
	LastError     string          `json:"last_error,omitempty"`
}

// Decode unmarshals the payload into v.
func (e Entry) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload of entry %s: %w", e.Kind, e.ID, err)
	}
	return nil
}

// CommitPayload captures a commit that could not be completed.
type CommitPayload struct {
	Message  string              `json:"message"`
	Reason   commitmsg.Reason    `json:"reason,omitempty"`
	Paths    []string            `json:"paths,omitempty"`
	Metadata *commitmsg.Metadata `json:"metadata,omitempty"`
}

// PushPayload names the branch to push.
type PushPayload struct {
	Branch string `json:"branch"`
}

// LockPayload carries the token of a deferred heartbeat or release.
type LockPayload struct {
	LockID string `json:"lock_id"`
}
