// Package orchestrator turns settled file changes into draft commits.
//
// Every registered project gets a [Lane]: a debounce window, a single commit
// slot and an explicit [State]. Change notifications only touch the window.
// When the window settles the lane re-validates lock ownership with the
// lock service, stages the application's tracked paths and commits with an
// automatic label. Transient failures are retried with backoff and then
// handed to the project's offline queue. Lanes are independent: a failure
// or panic in one project never reaches another.
//
// State machine:
//
//	idle ──change──▶ debouncing ──settled──▶ committing ──ok──▶ idle
//	                     ▲                      │  │
//	                     └──changes meanwhile───┘  ├─transient─▶ retrying ─exhausted─▶ queued
//	                                               └─exhausted─────────────────────────▶ queued
//
// Usage:
//
//	orch := orchestrator.New(orchestrator.Options{Debounce: 30 * time.Second, Bus: bus})
//	lane, err := orch.AddProject(project)
//	monitor.Add(project.ID, project.Root, matcher, orch.Handle)
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jbacus/auxin/internal/commitmsg"
	auxerrors "github.com/jbacus/auxin/internal/errors"
	"github.com/jbacus/auxin/internal/event"
	"github.com/jbacus/auxin/internal/logging"
	"github.com/jbacus/auxin/internal/offlinequeue"
	"github.com/jbacus/auxin/internal/retry"
	"github.com/jbacus/auxin/internal/watcher"
)

// Options configures an Orchestrator and all of its lanes.
type Options struct {
	// Debounce is the quiet period before a commit (default: 30s).
	Debounce time.Duration
	// MaxAttempts is the number of local commit attempts before queueing
	// (default: 5).
	MaxAttempts int
	Backoff     retry.Policy
	// Push sends the draft branch to the remote after each commit.
	Push   bool
	Bus    *event.Bus
	Logger *logging.Logger
	Now    func() time.Time
}

// Orchestrator owns one Lane per project.
type Orchestrator struct {
	opts   Options
	logger *logging.Logger

	mu     sync.RWMutex
	lanes  map[string]*Lane
	closed bool
}

// New creates an Orchestrator with no projects.
func New(opts Options) *Orchestrator {
	if opts.Debounce <= 0 {
		opts.Debounce = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
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
	return &Orchestrator{
		opts:   opts,
		logger: opts.Logger.WithComponent("orchestrator"),
		lanes:  make(map[string]*Lane),
	}
}

// AddProject registers a project and returns its lane.
func (o *Orchestrator) AddProject(p Project) (*Lane, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrLaneClosed
	}
	if _, exists := o.lanes[p.ID]; exists {
		return nil, auxerrors.NewValidationError("project already registered").WithField("id").WithValue(p.ID)
	}
	lane := newLane(p, &o.opts)
	o.lanes[p.ID] = lane
	o.logger.Info("project registered", "project_id", p.ID, "root", p.Root, "app_type", p.Capability.Name())
	return lane, nil
}

// RemoveProject shuts the project's lane down and forgets it.
func (o *Orchestrator) RemoveProject(ctx context.Context, id string) error {
	o.mu.Lock()
	lane, ok := o.lanes[id]
	delete(o.lanes, id)
	o.mu.Unlock()
	if !ok {
		return auxerrors.NewNotFoundError("project", id)
	}
	o.logger.Info("project removed", "project_id", id)
	return lane.Shutdown(ctx)
}

// Lane returns the lane for id.
func (o *Orchestrator) Lane(id string) (*Lane, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	lane, ok := o.lanes[id]
	if !ok {
		return nil, auxerrors.NewNotFoundError("project", id)
	}
	return lane, nil
}

// Lanes returns all lanes ordered by project id.
func (o *Orchestrator) Lanes() []*Lane {
	o.mu.RLock()
	out := make([]*Lane, 0, len(o.lanes))
	for _, l := range o.lanes {
		out = append(out, l)
	}
	o.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Handle routes a change notification to its lane. It has the shape of
// watcher.Handler.
func (o *Orchestrator) Handle(ev watcher.ChangeEvent) {
	lane, err := o.Lane(ev.ProjectID)
	if err != nil {
		o.logger.Debug("change for unknown project", "project_id", ev.ProjectID, "path", ev.Path)
		return
	}
	lane.OnChange(ev)
}

// CommitNow commits a project's pending changes immediately.
func (o *Orchestrator) CommitNow(ctx context.Context, id string, reason commitmsg.Reason) (string, error) {
	lane, err := o.Lane(id)
	if err != nil {
		return "", err
	}
	return lane.CommitNow(ctx, reason)
}

// Milestone records a human commit with metadata on a project.
func (o *Orchestrator) Milestone(ctx context.Context, id string, meta commitmsg.Metadata) (string, error) {
	lane, err := o.Lane(id)
	if err != nil {
		return "", err
	}
	return lane.Milestone(ctx, meta)
}

// Replay drains one project's due offline queue entries.
func (o *Orchestrator) Replay(ctx context.Context, id string) (offlinequeue.ReplayResult, error) {
	lane, err := o.Lane(id)
	if err != nil {
		return offlinequeue.ReplayResult{}, err
	}
	return lane.Replay(ctx)
}

// ReplayAll replays every project with queued work. Errors are logged per
// project and joined.
func (o *Orchestrator) ReplayAll(ctx context.Context) error {
	var errs []error
	for _, lane := range o.Lanes() {
		if lane.Project().Queue.Len() == 0 {
			continue
		}
		var res offlinequeue.ReplayResult
		var err error
		lane.guard("replay", func() { res, err = lane.Replay(ctx) })
		if err != nil {
			o.logger.Warn("replay failed", "project_id", lane.ID(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", lane.ID(), err))
			continue
		}
		if res.Replayed+res.Dropped+res.Failed > 0 {
			o.logger.Info("replay pass",
				"project_id", lane.ID(),
				"replayed", res.Replayed,
				"failed", res.Failed,
				"dropped", res.Dropped)
		}
	}
	return errors.Join(errs...)
}

// CommitAll forces a commit of pending changes on every project in
// parallel. It returns how many commits were created; queued commits are
// not failures.
func (o *Orchestrator) CommitAll(ctx context.Context, reason commitmsg.Reason) (int, error) {
	lanes := o.Lanes()

	var (
		mu        sync.Mutex
		committed int
		errs      []error
		wg        sync.WaitGroup
	)
	for _, lane := range lanes {
		wg.Go(func() {
			var id string
			var err error
			lane.guard("commit", func() { id, err = lane.CommitNow(ctx, reason) })

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && id != "":
				committed++
			case err != nil && !errors.Is(err, ErrQueued) && !errors.Is(err, ErrLaneClosed):
				errs = append(errs, fmt.Errorf("%s: %w", lane.ID(), err))
			}
		})
	}
	wg.Wait()
	return committed, errors.Join(errs...)
}

// Shutdown stops every lane and waits for in-flight commits until ctx is
// done.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	lanes := make([]*Lane, 0, len(o.lanes))
	for _, l := range o.lanes {
		lanes = append(lanes, l)
	}
	o.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(lanes))
	for i, lane := range lanes {
		wg.Go(func() { errs[i] = lane.Shutdown(ctx) })
	}
	wg.Wait()
	return errors.Join(errs...)
}
