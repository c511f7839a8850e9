package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/jbacus/auxin/internal/apptype"
	"github.com/jbacus/auxin/internal/commitmsg"
	"github.com/jbacus/auxin/internal/draft"
	auxerrors "github.com/jbacus/auxin/internal/errors"
	"github.com/jbacus/auxin/internal/event"
	"github.com/jbacus/auxin/internal/lockapi"
	"github.com/jbacus/auxin/internal/logging"
	"github.com/jbacus/auxin/internal/offlinequeue"
	"github.com/jbacus/auxin/internal/vcs"
	"github.com/jbacus/auxin/internal/watcher"
)

var (
	// ErrQueued is wrapped when an operation was deferred to the offline
	// queue instead of failing.
	ErrQueued = errors.New("operation queued for replay")
	// ErrLaneClosed is returned once a lane has been shut down.
	ErrLaneClosed = errors.New("project lane is shut down")
)

// LockGuard is the part of the lock client a lane needs.
type LockGuard interface {
	// Owns asks the lock service whether this holder and machine hold a
	// live lock.
	Owns(ctx context.Context) (bool, error)
	Heartbeat(ctx context.Context) (*lockapi.Lock, error)
	Release(ctx context.Context) error
}

// Project bundles the collaborators of one lane.
type Project struct {
	ID         string
	Root       string
	Capability apptype.Capability
	Engine     vcs.Engine
	Lock       LockGuard
	Draft      *draft.Manager
	Queue      *offlinequeue.Queue
}

func (p Project) validate() error {
	switch {
	case p.ID == "":
		return auxerrors.NewValidationError("project id is required").WithField("id")
	case p.Capability == nil:
		return auxerrors.NewValidationError("application type is required").WithField("capability")
	case p.Engine == nil:
		return auxerrors.NewValidationError("engine is required").WithField("engine")
	case p.Lock == nil:
		return auxerrors.NewValidationError("lock guard is required").WithField("lock")
	case p.Draft == nil:
		return auxerrors.NewValidationError("draft manager is required").WithField("draft")
	case p.Queue == nil:
		return auxerrors.NewValidationError("offline queue is required").WithField("queue")
	}
	return nil
}

// LaneStatus is a point-in-time view of a lane.
type LaneStatus struct {
	ProjectID    string      `json:"id"`
	Root         string      `json:"root"`
	AppType      string      `json:"app_type"`
	State        State       `json:"state"`
	Pending      bool        `json:"pending"`
	Deadline     time.Time   `json:"deadline,omitzero"`
	LastChangeAt time.Time   `json:"last_change_at,omitzero"`
	LastCommitID string      `json:"last_commit_id,omitempty"`
	LastCommitAt time.Time   `json:"last_commit_at,omitzero"`
	LastError    string      `json:"last_error,omitempty"`
	QueueDepth   int         `json:"queue_depth"`
	Draft        draft.Stats `json:"draft"`
}

type commitRequest struct {
	reason    commitmsg.Reason
	message   string
	milestone *commitmsg.Metadata
	// force commits even when no change is pending.
	force bool
	// replay runs a single attempt and never enqueues.
	replay bool
}

func (r commitRequest) label(now time.Time, schema []apptype.MetadataField) string {
	switch {
	case r.message != "":
		return r.message
	case r.milestone != nil:
		return commitmsg.Format(*r.milestone, schema)
	default:
		return commitmsg.AutoLabel(r.reason, now)
	}
}

// Lane serializes the commits of one project. Change notifications only
// touch the debounce window; commits run on their own goroutine.
type Lane struct {
	p      Project
	opts   *Options
	logger *logging.Logger
	window *watcher.Window

	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup

	// commitMu makes the lane single-file: one commit at a time.
	commitMu sync.Mutex

	mu           sync.Mutex
	state        State
	deferred     bool
	closed       bool
	lastChangeAt time.Time
	lastCommitID string
	lastCommitAt time.Time
	lastErr      string
}

func newLane(p Project, opts *Options) *Lane {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Lane{
		p:      p,
		opts:   opts,
		logger: opts.Logger.WithProject(p.ID).WithComponent("orchestrator"),
		ctx:    ctx,
		cancel: cancel,
		state:  StateIdle,
	}
	l.window = watcher.NewWindow(opts.Debounce, func() { l.launch(commitmsg.ReasonSettled) })
	if p.Queue.Len() > 0 {
		l.state = StateQueued
	}
	return l
}

// ID returns the project id.
func (l *Lane) ID() string { return l.p.ID }

// Project returns the lane's collaborators.
func (l *Lane) Project() Project { return l.p }

// State returns the current lane state.
func (l *Lane) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Status returns a snapshot for display.
func (l *Lane) Status() LaneStatus {
	l.mu.Lock()
	s := LaneStatus{
		ProjectID:    l.p.ID,
		Root:         l.p.Root,
		AppType:      l.p.Capability.Name(),
		State:        l.state,
		LastChangeAt: l.lastChangeAt,
		LastCommitID: l.lastCommitID,
		LastCommitAt: l.lastCommitAt,
		LastError:    l.lastErr,
	}
	l.mu.Unlock()

	s.Pending = l.window.Pending()
	s.Deadline = l.window.Deadline()
	s.QueueDepth = l.p.Queue.Len()
	s.Draft = l.p.Draft.Stats()
	return s
}

// OnChange records a file change. It never blocks on I/O.
func (l *Lane) OnChange(ev watcher.ChangeEvent) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.lastChangeAt = ev.Timestamp
	if l.state == StateCommitting || l.state == StateRetrying {
		l.deferred = true
		l.mu.Unlock()
		return
	}
	stateEv, changed := l.transitionLocked(StateDebouncing)
	l.window.Touch()
	l.mu.Unlock()

	if changed {
		l.publish(stateEv)
	}
}

// CommitNow commits pending changes without waiting for the quiet period.
// A manual reason commits even when nothing was observed.
func (l *Lane) CommitNow(ctx context.Context, reason commitmsg.Reason) (string, error) {
	if l.isClosed() {
		return "", ErrLaneClosed
	}
	l.window.Cancel()
	return l.run(ctx, commitRequest{reason: reason, force: reason == commitmsg.ReasonManual})
}

// Milestone records a human commit carrying structured metadata.
func (l *Lane) Milestone(ctx context.Context, meta commitmsg.Metadata) (string, error) {
	if l.isClosed() {
		return "", ErrLaneClosed
	}
	if err := meta.Validate(l.p.Capability.MetadataSchema()); err != nil {
		return "", err
	}
	l.window.Cancel()
	return l.run(ctx, commitRequest{reason: commitmsg.ReasonManual, milestone: &meta, force: true})
}

// Replay drains due offline queue entries.
func (l *Lane) Replay(ctx context.Context) (offlinequeue.ReplayResult, error) {
	res, err := l.p.Queue.Replay(ctx, l.replayEntry)

	l.mu.Lock()
	var ev event.Event
	var changed bool
	if l.state == StateQueued && l.p.Queue.Len() == 0 {
		ev, changed = l.transitionLocked(StateIdle)
	}
	l.mu.Unlock()
	if changed {
		l.publish(ev)
	}
	return res, err
}

// Release returns the lock, queueing the release when the service cannot
// be reached.
func (l *Lane) Release(ctx context.Context) error {
	err := l.p.Lock.Release(ctx)
	if err == nil || !auxerrors.IsRetryable(err) {
		return err
	}
	if qerr := l.enqueue(offlinequeue.KindRelease, nil, err, true); qerr != nil {
		return errors.Join(err, qerr)
	}
	return fmt.Errorf("%w: %w", ErrQueued, err)
}

// QueueHeartbeat defers a heartbeat that could not reach the lock service.
// At most one heartbeat waits in the queue.
func (l *Lane) QueueHeartbeat(cause error) error {
	return l.enqueue(offlinequeue.KindHeartbeat, nil, cause, true)
}

// Shutdown stops accepting changes, cancels the debounce timer and waits
// for an in-flight commit until ctx is done.
func (l *Lane) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.window.Cancel()

	done := make(chan struct{})
	go func() {
		l.inflight.Wait()
		close(done)
	}()

	defer l.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		l.logger.Warn("shutdown deadline reached with commit in flight")
		return ctx.Err()
	}
}

func (l *Lane) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// launch starts a settled commit on its own goroutine.
func (l *Lane) launch(reason commitmsg.Reason) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.inflight.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.inflight.Done()
		l.guard("commit", func() {
			_, _ = l.run(l.ctx, commitRequest{reason: reason})
		})
	}()
}

// guard isolates a panic to this lane.
func (l *Lane) guard(op string, fn func()) {
	var catcher panics.Catcher
	catcher.Try(fn)
	if r := catcher.Recovered(); r != nil {
		l.logger.Error("lane panicked", "operation", op, "panic", r.Value)
		l.publish(event.NewCommitFailedEvent(l.p.ID, op, fmt.Sprint(r.Value), true))
		l.mu.Lock()
		l.state = StateIdle
		l.deferred = false
		l.lastErr = fmt.Sprintf("panic: %v", r.Value)
		l.mu.Unlock()
	}
}

// run executes one commit on the lane and applies the outcome.
func (l *Lane) run(ctx context.Context, req commitRequest) (string, error) {
	l.commitMu.Lock()
	defer l.commitMu.Unlock()

	if !l.window.Flush() && !req.force {
		l.finish("", nil)
		return "", nil
	}
	l.transition(StateCommitting)

	id, err := l.attempt(ctx, req)
	l.finish(id, err)
	return id, err
}

// attempt commits, asking the lock service for ownership immediately
// before every try. Caller holds commitMu.
func (l *Lane) attempt(ctx context.Context, req commitRequest) (string, error) {
	log := l.logger.WithOperation("commit")

	attempts := l.opts.MaxAttempts
	if req.replay {
		attempts = 1
	}
	message := req.label(l.opts.Now(), l.p.Capability.MetadataSchema())
	paths := l.p.Capability.TrackedPaths(l.p.Root)

	var id string
	err := l.opts.Backoff.Do(ctx, attempts, func(attempt int) error {
		if attempt > 1 {
			l.transition(StateRetrying)
			log.Info("retrying commit", "attempt", attempt)
		}
		owned, err := l.p.Lock.Owns(ctx)
		if err != nil {
			return ownershipUnknown{err: err}
		}
		if !owned {
			return auxerrors.NewLockError("lock not held by this machine", auxerrors.ErrNotHolder).
				WithRepository(l.p.ID)
		}
		if err := l.p.Draft.EnsureCheckedOut(ctx); err != nil {
			return err
		}
		if err := l.p.Engine.Add(ctx, paths); err != nil {
			return err
		}
		var cerr error
		id, cerr = l.p.Engine.Commit(ctx, message)
		return cerr
	})

	var unknown ownershipUnknown
	switch {
	case err == nil:
		l.recorded(ctx, req, id)
		return id, nil
	case errors.As(err, &unknown):
		if auxerrors.IsRetryable(unknown.err) && !req.replay {
			return "", l.deferCommit(req, unknown.err)
		}
		return "", unknown.err
	case auxerrors.Is(err, auxerrors.ErrNotHolder):
		log.Warn("commit skipped", "reason", "lock not owned")
		l.publish(event.NewCommitSkippedEvent(l.p.ID, "lock not owned"))
		return "", err
	case auxerrors.Is(err, vcs.ErrNothingToCommit):
		if req.milestone != nil {
			return "", err
		}
		log.Debug("nothing to commit")
		l.publish(event.NewCommitSkippedEvent(l.p.ID, "nothing to commit"))
		return "", nil
	case auxerrors.Is(err, auxerrors.ErrFilesystem):
		log.Error("commit attempt aborted", "error", err)
		l.publish(event.NewCommitFailedEvent(l.p.ID, "commit", err.Error(), false))
		return "", err
	case auxerrors.IsRetryable(err) && !req.replay:
		return "", l.deferCommit(req, err)
	case req.replay:
		return "", err
	default:
		log.Error("commit failed", "error", err)
		l.publish(event.NewCommitFailedEvent(l.p.ID, "commit", err.Error(), true))
		return "", err
	}
}

// ownershipUnknown ends the retry loop when the lock service cannot answer;
// the commit is queued instead of retried locally.
type ownershipUnknown struct{ err error }

func (e ownershipUnknown) Error() string { return "check lock ownership: " + e.err.Error() }

// deferCommit puts a commit that failed transiently into the offline queue.
func (l *Lane) deferCommit(req commitRequest, cause error) error {
	payload := offlinequeue.CommitPayload{
		Message:  req.label(l.opts.Now(), l.p.Capability.MetadataSchema()),
		Reason:   req.reason,
		Metadata: req.milestone,
	}
	// A queued auto-save snapshots the whole tree, so one is enough.
	dedupe := req.milestone == nil
	if err := l.enqueue(offlinequeue.KindCommit, payload, cause, dedupe); err != nil {
		return errors.Join(cause, err)
	}
	return fmt.Errorf("%w: %w", ErrQueued, cause)
}

// recorded updates draft statistics and pushes after a successful commit.
func (l *Lane) recorded(ctx context.Context, req commitRequest, id string) {
	log := l.logger.WithOperation("commit")
	record := l.p.Draft.RecordAutoCommit
	if req.milestone != nil {
		record = l.p.Draft.RecordMilestone
	}
	if err := record(id); err != nil {
		log.Warn("failed to record draft statistics", "error", err)
	}
	branch := l.p.Draft.Branch()
	log.Info("commit created", "commit_id", id, "branch", branch, "reason", req.reason)
	l.publish(event.NewCommitCreatedEvent(l.p.ID, id, branch, req.milestone == nil, req.replay))

	if adv := l.p.Draft.Advisory(); adv != nil {
		log.Warn(adv.String())
		l.publish(event.NewDraftAdvisoryEvent(l.p.ID, adv.Branch, adv.CommitCount, adv.Threshold))
	}

	if l.opts.Push {
		if err := l.p.Engine.Push(ctx, branch); err != nil {
			if auxerrors.IsRetryable(err) && !req.replay {
				if qerr := l.enqueue(offlinequeue.KindPush, offlinequeue.PushPayload{Branch: branch}, err, true); qerr != nil {
					l.publish(event.NewCommitFailedEvent(l.p.ID, "push", errors.Join(err, qerr).Error(), true))
				}
				return
			}
			log.Error("push failed", "branch", branch, "error", err)
			l.publish(event.NewCommitFailedEvent(l.p.ID, "push", err.Error(), !auxerrors.IsRetryable(err)))
		}
	}
}

// finish settles the lane state after a commit and re-arms the window for
// changes that arrived meanwhile.
func (l *Lane) finish(id string, err error) {
	now := l.opts.Now()
	depth := l.p.Queue.Len()

	l.mu.Lock()
	switch {
	case err != nil:
		l.lastErr = err.Error()
	case id != "":
		l.lastErr = ""
		l.lastCommitID = id
		l.lastCommitAt = now
	}
	next := StateIdle
	if depth > 0 {
		next = StateQueued
	}
	rearm := l.deferred && !l.closed
	l.deferred = false
	if rearm {
		next = StateDebouncing
	}
	ev, changed := l.transitionLocked(next)
	if rearm {
		l.window.Touch()
	}
	l.mu.Unlock()

	if changed {
		l.publish(ev)
	}
}

func (l *Lane) replayEntry(ctx context.Context, e offlinequeue.Entry) error {
	log := l.logger.WithOperation("replay").With("entry_id", e.ID, "kind", e.Kind)

	switch e.Kind {
	case offlinequeue.KindCommit:
		var p offlinequeue.CommitPayload
		if err := e.Decode(&p); err != nil {
			log.Error("dropping undecodable entry", "error", err)
			return nil
		}
		l.commitMu.Lock()
		defer l.commitMu.Unlock()

		l.transition(StateCommitting)
		id, err := l.attempt(ctx, commitRequest{
			reason:    commitmsg.ReasonReplay,
			message:   p.Message,
			milestone: p.Metadata,
			force:     true,
			replay:    true,
		})
		if auxerrors.Is(err, auxerrors.ErrNotHolder) {
			// The lock moved on while offline; the snapshot is stale.
			l.finish("", nil)
			return nil
		}
		l.finish(id, err)
		return err

	case offlinequeue.KindPush:
		var p offlinequeue.PushPayload
		if err := e.Decode(&p); err != nil || p.Branch == "" {
			log.Error("dropping push entry without branch", "error", err)
			return nil
		}
		return l.p.Engine.Push(ctx, p.Branch)

	case offlinequeue.KindHeartbeat:
		_, err := l.p.Lock.Heartbeat(ctx)
		if auxerrors.IsLockGone(err) || auxerrors.Is(err, auxerrors.ErrNotHolder) {
			log.Warn("queued heartbeat found the lock gone", "error", err)
			l.publish(event.NewLockLostEvent(l.p.ID, "", err.Error()))
			return nil
		}
		return err

	case offlinequeue.KindRelease:
		err := l.p.Lock.Release(ctx)
		if auxerrors.IsLockGone(err) || auxerrors.Is(err, auxerrors.ErrNotHolder) {
			return nil
		}
		return err

	default:
		log.Error("dropping entry of unknown kind")
		return nil
	}
}

// enqueue persists an operation and marks the lane queued. With dedupe an
// entry of the same kind already waiting makes this a no-op.
func (l *Lane) enqueue(kind offlinequeue.Kind, payload any, cause error, dedupe bool) error {
	if dedupe {
		for _, e := range l.p.Queue.Entries() {
			if e.Kind != kind {
				continue
			}
			if kind == offlinequeue.KindCommit {
				var p offlinequeue.CommitPayload
				if e.Decode(&p) != nil || p.Metadata != nil {
					continue
				}
			}
			l.logger.Debug("operation already queued", "kind", kind, "entry_id", e.ID)
			return nil
		}
	}
	if _, err := l.p.Queue.Enqueue(kind, payload, cause); err != nil {
		l.logger.Error("failed to queue operation", "kind", kind, "error", err)
		return err
	}

	l.mu.Lock()
	var ev event.Event
	var changed bool
	if l.state == StateIdle {
		ev, changed = l.transitionLocked(StateQueued)
	}
	l.mu.Unlock()
	if changed {
		l.publish(ev)
	}
	return nil
}

func (l *Lane) transition(to State) {
	l.mu.Lock()
	ev, changed := l.transitionLocked(to)
	l.mu.Unlock()
	if changed {
		l.publish(ev)
	}
}

// transitionLocked moves to a new state. Invalid moves are logged and
// ignored. Caller holds mu and publishes the returned event after
// unlocking.
func (l *Lane) transitionLocked(to State) (event.Event, bool) {
	from := l.state
	if from == to {
		return nil, false
	}
	if !CanTransition(from, to) {
		err := &TransitionError{ProjectID: l.p.ID, From: from, To: to}
		l.logger.Error("rejected state transition", "error", err)
		return nil, false
	}
	l.state = to
	l.logger.Debug("state changed", "from", from, "to", to)
	return event.NewStateChangedEvent(l.p.ID, string(from), string(to)), true
}

func (l *Lane) publish(ev event.Event) {
	if l.opts.Bus != nil && ev != nil {
		l.opts.Bus.Publish(ev)
	}
}
