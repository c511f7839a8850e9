package offlinequeue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	auxerrors "github.com/jbacus/auxin/internal/errors"
	"github.com/jbacus/auxin/internal/event"
	"github.com/jbacus/auxin/internal/logging"
	"github.com/jbacus/auxin/internal/retry"
)

// Drop reasons reported in QueueDropped events.
const (
	DropExpired  = "expired"
	DropAttempts = "max_attempts"
	DropTerminal = "terminal_error"
)

// Executor replays one entry.
type Executor func(ctx context.Context, e Entry) error

// Options configures a Queue.
type Options struct {
	// Dir is the project's state directory.
	Dir         string
	ProjectID   string
	TTL         time.Duration
	MaxAttempts int
	Backoff     retry.Policy
	Bus         *event.Bus
	Logger      *logging.Logger
	Now         func() time.Time
}

// ReplayResult summarizes one Replay pass.
type ReplayResult struct {
	Replayed int
	Failed   int
	Dropped  int
	// Blocked is set when the head entry is waiting for its next attempt.
	Blocked bool
}

// Queue is a durable FIFO of operations that failed while offline. Every
// mutation is persisted before the call returns.
type Queue struct {
	opts    Options
	logger  *logging.Logger
	mu      sync.Mutex
	entries []*Entry

	// replayMu makes Replay passes exclusive so no entry runs twice.
	replayMu sync.Mutex
}

// Open loads or creates the queue in opts.Dir.
func Open(opts Options) (*Queue, error) {
	if opts.Dir == "" {
		return nil, auxerrors.NewValidationError("queue directory is required").WithField("dir")
	}
	if opts.TTL <= 0 {
		opts.TTL = 7 * 24 * time.Hour
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if opts.Backoff.Initial <= 0 {
		opts.Backoff = retry.DefaultPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, auxerrors.NewFilesystemError("create queue dir", opts.Dir, err)
	}

	state, err := readState(opts.Dir)
	if err != nil {
		return nil, err
	}
	q := &Queue{
		opts:    opts,
		logger:  opts.Logger.WithComponent("offline_queue").WithProject(opts.ProjectID),
		entries: state.Entries,
	}
	if len(q.entries) > 0 {
		q.logger.Info("loaded offline queue", "entries", len(q.entries))
	}
	return q, nil
}

// Enqueue appends an operation. payload is marshaled to JSON; nil is allowed.
func (q *Queue) Enqueue(kind Kind, payload any, cause error) (Entry, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Entry{}, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		raw = data
	}
	now := q.opts.Now().UTC()
	e := &Entry{
		ID:            uuid.NewString(),
		Kind:          kind,
		ProjectID:     q.opts.ProjectID,
		Payload:       raw,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
	if cause != nil {
		e.LastError = cause.Error()
	}

	q.mu.Lock()
	q.entries = append(q.entries, e)
	err := q.saveLocked()
	if err != nil {
		q.entries = q.entries[:len(q.entries)-1]
	}
	q.mu.Unlock()
	if err != nil {
		return Entry{}, err
	}

	q.logger.Warn("operation queued for replay", "entry_id", e.ID, "kind", kind, "cause", e.LastError)
	q.publish(event.NewQueueEnqueuedEvent(q.opts.ProjectID, e.ID, string(kind)))
	return *e, nil
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Entries returns copies of the pending entries in FIFO order.
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.entries))
	for i, e := range q.entries {
		out[i] = *e
	}
	return out
}

// Clear drops every entry and returns how many were removed.
func (q *Queue) Clear() (int, error) {
	q.replayMu.Lock()
	defer q.replayMu.Unlock()
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.entries)
	q.entries = nil
	return n, q.saveLocked()
}

// Replay executes due entries in order. Entries past their TTL or attempt
// limit are dropped with a warning. A failing entry is rescheduled with
// backoff and stops the pass, so later entries never overtake it.
func (q *Queue) Replay(ctx context.Context, exec Executor) (ReplayResult, error) {
	q.replayMu.Lock()
	defer q.replayMu.Unlock()

	var res ReplayResult
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		q.mu.Lock()
		if len(q.entries) == 0 {
			q.mu.Unlock()
			return res, nil
		}
		head := q.entries[0]
		now := q.opts.Now()
		if now.Sub(head.CreatedAt) > q.opts.TTL {
			err := q.dropHeadLocked()
			q.mu.Unlock()
			if err != nil {
				return res, err
			}
			res.Dropped++
			q.dropped(*head, DropExpired)
			continue
		}
		if head.NextAttemptAt.After(now) {
			q.mu.Unlock()
			res.Blocked = true
			return res, nil
		}
		snapshot := *head
		q.mu.Unlock()

		execErr := exec(ctx, snapshot)

		q.mu.Lock()
		if execErr == nil {
			err := q.dropHeadLocked()
			q.mu.Unlock()
			if err != nil {
				return res, err
			}
			res.Replayed++
			q.logger.Info("replayed queued operation", "entry_id", snapshot.ID, "kind", snapshot.Kind, "attempts", snapshot.AttemptCount+1)
			q.publish(event.NewQueueReplayedEvent(q.opts.ProjectID, snapshot.ID, string(snapshot.Kind), snapshot.AttemptCount+1))
			continue
		}

		head.AttemptCount++
		head.LastError = execErr.Error()
		reason := ""
		switch {
		case auxerrors.IsTerminal(execErr):
			reason = DropTerminal
		case head.AttemptCount >= q.opts.MaxAttempts:
			reason = DropAttempts
		}
		if reason != "" {
			dropped := *head
			err := q.dropHeadLocked()
			q.mu.Unlock()
			if err != nil {
				return res, err
			}
			res.Dropped++
			q.dropped(dropped, reason)
			continue
		}

		head.NextAttemptAt = q.opts.Now().Add(q.opts.Backoff.Delay(head.AttemptCount))
		err := q.saveLocked()
		next := head.NextAttemptAt
		q.mu.Unlock()
		res.Failed++
		q.logger.Warn("queued operation failed",
			"entry_id", snapshot.ID,
			"kind", snapshot.Kind,
			"attempts", snapshot.AttemptCount+1,
			"next_attempt_at", next,
			"error", execErr)
		return res, err
	}
}

// NextDue returns when the head entry may next be attempted.
func (q *Queue) NextDue() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return time.Time{}, false
	}
	return q.entries[0].NextAttemptAt, true
}

func (q *Queue) dropHeadLocked() error {
	q.entries[0] = nil
	q.entries = q.entries[1:]
	return q.saveLocked()
}

func (q *Queue) dropped(e Entry, reason string) {
	q.logger.Warn("dropped queued operation",
		"entry_id", e.ID,
		"kind", e.Kind,
		"attempts", e.AttemptCount,
		"reason", reason,
		"last_error", e.LastError)
	q.publish(event.NewQueueDroppedEvent(q.opts.ProjectID, e.ID, string(e.Kind), e.AttemptCount, reason))
}

func (q *Queue) saveLocked() error {
	if err := writeState(q.opts.Dir, persistedState{
		Version:   stateVersion,
		ProjectID: q.opts.ProjectID,
		Entries:   q.entries,
	}); err != nil {
		return auxerrors.NewFilesystemError("save offline queue", q.opts.Dir, err)
	}
	return nil
}

func (q *Queue) publish(e event.Event) {
	if q.opts.Bus != nil {
		q.opts.Bus.Publish(e)
	}
}
