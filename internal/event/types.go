package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "commit.created", "queue.dropped")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers
const (
	TypeStateChanged        = "commit.state_changed"
	TypeCommitCreated       = "commit.created"
	TypeCommitSkipped       = "commit.skipped"
	TypeCommitFailed        = "commit.failed"
	TypeQueueEnqueued       = "queue.enqueued"
	TypeQueueReplayed       = "queue.replayed"
	TypeQueueDropped        = "queue.dropped"
	TypeDraftAdvisory       = "draft.advisory"
	TypeLockLost            = "lock.lost"
	TypeLockConflict        = "lock.conflict"
	TypeDivergence          = "conflict.diverged"
	TypeConnectivityChanged = "network.connectivity"
	TypePowerTriggered      = "power.triggered"
)

// baseEvent provides common fields for all events.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Commit Lane Events
// -----------------------------------------------------------------------------

// StateChangedEvent is emitted on every commit lane state transition.
type StateChangedEvent struct {
	baseEvent
	ProjectID string
	From      string
	To        string
}

// NewStateChangedEvent creates a StateChangedEvent.
func NewStateChangedEvent(projectID, from, to string) StateChangedEvent {
	return StateChangedEvent{
		baseEvent: newBaseEvent(TypeStateChanged),
		ProjectID: projectID,
		From:      from,
		To:        to,
	}
}

// CommitCreatedEvent is emitted after the engine records a commit.
type CommitCreatedEvent struct {
	baseEvent
	ProjectID string
	CommitID  string
	Branch    string
	Automatic bool // false for milestone commits
	Replayed  bool // true when produced by an offline queue replay
}

// NewCommitCreatedEvent creates a CommitCreatedEvent.
func NewCommitCreatedEvent(projectID, commitID, branch string, automatic, replayed bool) CommitCreatedEvent {
	return CommitCreatedEvent{
		baseEvent: newBaseEvent(TypeCommitCreated),
		ProjectID: projectID,
		CommitID:  commitID,
		Branch:    branch,
		Automatic: automatic,
		Replayed:  replayed,
	}
}

// CommitSkippedEvent is emitted when a settled signal is dropped, most often
// because the lock is not owned by this machine.
type CommitSkippedEvent struct {
	baseEvent
	ProjectID string
	Reason    string
}

// NewCommitSkippedEvent creates a CommitSkippedEvent.
func NewCommitSkippedEvent(projectID, reason string) CommitSkippedEvent {
	return CommitSkippedEvent{
		baseEvent: newBaseEvent(TypeCommitSkipped),
		ProjectID: projectID,
		Reason:    reason,
	}
}

// CommitFailedEvent is emitted when a commit attempt fails. Terminal failures
// need a human; others will be retried or queued.
type CommitFailedEvent struct {
	baseEvent
	ProjectID string
	Operation string
	Error     string
	Terminal  bool
}

// NewCommitFailedEvent creates a CommitFailedEvent.
func NewCommitFailedEvent(projectID, operation, errMsg string, terminal bool) CommitFailedEvent {
	return CommitFailedEvent{
		baseEvent: newBaseEvent(TypeCommitFailed),
		ProjectID: projectID,
		Operation: operation,
		Error:     errMsg,
		Terminal:  terminal,
	}
}

// -----------------------------------------------------------------------------
// Offline Queue Events
// -----------------------------------------------------------------------------

// QueueEvent reports offline queue activity. Reason is set for drops.
type QueueEvent struct {
	baseEvent
	ProjectID string
	EntryID   string
	Kind      string
	Attempts  int
	Reason    string
}

// NewQueueEnqueuedEvent creates a QueueEvent for a newly persisted entry.
func NewQueueEnqueuedEvent(projectID, entryID, kind string) QueueEvent {
	return QueueEvent{
		baseEvent: newBaseEvent(TypeQueueEnqueued),
		ProjectID: projectID,
		EntryID:   entryID,
		Kind:      kind,
	}
}

// NewQueueReplayedEvent creates a QueueEvent for a successfully replayed entry.
func NewQueueReplayedEvent(projectID, entryID, kind string, attempts int) QueueEvent {
	return QueueEvent{
		baseEvent: newBaseEvent(TypeQueueReplayed),
		ProjectID: projectID,
		EntryID:   entryID,
		Kind:      kind,
		Attempts:  attempts,
	}
}

// NewQueueDroppedEvent creates a QueueEvent for an entry dropped by TTL or
// attempt limit.
func NewQueueDroppedEvent(projectID, entryID, kind string, attempts int, reason string) QueueEvent {
	return QueueEvent{
		baseEvent: newBaseEvent(TypeQueueDropped),
		ProjectID: projectID,
		EntryID:   entryID,
		Kind:      kind,
		Attempts:  attempts,
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Draft, Lock and History Events
// -----------------------------------------------------------------------------

// DraftAdvisoryEvent is emitted when the draft branch exceeds its threshold.
type DraftAdvisoryEvent struct {
	baseEvent
	ProjectID   string
	Branch      string
	CommitCount int
	Threshold   int
}

// NewDraftAdvisoryEvent creates a DraftAdvisoryEvent.
func NewDraftAdvisoryEvent(projectID, branch string, count, threshold int) DraftAdvisoryEvent {
	return DraftAdvisoryEvent{
		baseEvent:   newBaseEvent(TypeDraftAdvisory),
		ProjectID:   projectID,
		Branch:      branch,
		CommitCount: count,
		Threshold:   threshold,
	}
}

// LockLostEvent is emitted when a held lock is found gone or superseded.
type LockLostEvent struct {
	baseEvent
	ProjectID string
	LockID    string
	Reason    string
}

// NewLockLostEvent creates a LockLostEvent.
func NewLockLostEvent(projectID, lockID, reason string) LockLostEvent {
	return LockLostEvent{
		baseEvent: newBaseEvent(TypeLockLost),
		ProjectID: projectID,
		LockID:    lockID,
		Reason:    reason,
	}
}

// LockConflictEvent is emitted when an acquire finds another holder.
type LockConflictEvent struct {
	baseEvent
	ProjectID string
	Holder    string
	ExpiresAt time.Time
}

// NewLockConflictEvent creates a LockConflictEvent.
func NewLockConflictEvent(projectID, holder string, expiresAt time.Time) LockConflictEvent {
	return LockConflictEvent{
		baseEvent: newBaseEvent(TypeLockConflict),
		ProjectID: projectID,
		Holder:    holder,
		ExpiresAt: expiresAt,
	}
}

// DivergenceEvent is emitted when local and remote history diverged.
type DivergenceEvent struct {
	baseEvent
	ProjectID  string
	LocalHead  string
	RemoteHead string
}

// NewDivergenceEvent creates a DivergenceEvent.
func NewDivergenceEvent(projectID, localHead, remoteHead string) DivergenceEvent {
	return DivergenceEvent{
		baseEvent:  newBaseEvent(TypeDivergence),
		ProjectID:  projectID,
		LocalHead:  localHead,
		RemoteHead: remoteHead,
	}
}

// ConnectivityChangedEvent is emitted when the lock service becomes
// reachable or unreachable.
type ConnectivityChangedEvent struct {
	baseEvent
	Online bool
}

// NewConnectivityChangedEvent creates a ConnectivityChangedEvent.
func NewConnectivityChangedEvent(online bool) ConnectivityChangedEvent {
	return ConnectivityChangedEvent{
		baseEvent: newBaseEvent(TypeConnectivityChanged),
		Online:    online,
	}
}

// PowerTriggeredEvent is emitted when a suspend or shutdown forces commits.
type PowerTriggeredEvent struct {
	baseEvent
	Reason    string
	Committed int
	Failed    int
}

// NewPowerTriggeredEvent creates a PowerTriggeredEvent.
func NewPowerTriggeredEvent(reason string, committed, failed int) PowerTriggeredEvent {
	return PowerTriggeredEvent{
		baseEvent: newBaseEvent(TypePowerTriggered),
		Reason:    reason,
		Committed: committed,
		Failed:    failed,
	}
}
