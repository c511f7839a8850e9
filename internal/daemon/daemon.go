// Package daemon runs the background process: it watches registered
// projects, commits settled changes to their draft branches, keeps held
// locks alive, replays the offline queue and serves a control API on a
// unix socket.
package daemon

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/jbacus/auxin/internal/apptype"
	"github.com/jbacus/auxin/internal/config"
	"github.com/jbacus/auxin/internal/conflict"
	"github.com/jbacus/auxin/internal/controlapi"
	auxerrors "github.com/jbacus/auxin/internal/errors"
	"github.com/jbacus/auxin/internal/event"
	"github.com/jbacus/auxin/internal/lockclient"
	"github.com/jbacus/auxin/internal/logging"
	"github.com/jbacus/auxin/internal/orchestrator"
	"github.com/jbacus/auxin/internal/powerhook"
	"github.com/jbacus/auxin/internal/retry"
	"github.com/jbacus/auxin/internal/vcs"
	"github.com/jbacus/auxin/internal/watcher"
)

// Options carries the daemon's injectable collaborators. Zero values
// select production defaults.
type Options struct {
	Version  string
	Logger   *logging.Logger
	Registry *apptype.Registry
	Fs       afero.Fs
	// NewEngine creates the VCS engine for a project root.
	NewEngine  func(root string) vcs.Engine
	HTTPClient *http.Client
	// PowerSource defaults to OS signals.
	PowerSource powerhook.Source
}

// Daemon owns all registered projects.
type Daemon struct {
	cfg      *config.Config
	opts     Options
	logger   *logging.Logger
	fs       afero.Fs
	registry *apptype.Registry
	bus      *event.Bus
	orch     *orchestrator.Orchestrator
	monitor  *watcher.Monitor
	probe    *lockclient.Client
	stateDir string

	startedAt time.Time
	online    atomic.Bool

	mu       sync.RWMutex
	projects map[string]*managed
	// runCtx parents the per-project lock supervisors once Run starts.
	runCtx context.Context
}

// New builds a daemon from configuration. Projects listed in the config
// are registered by Run.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.Registry == nil {
		opts.Registry = apptype.DefaultRegistry()
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	logger := opts.Logger.WithComponent("daemon")
	if path := cfg.Daemon.AppTypesFile; path != "" {
		n, err := opts.Registry.LoadDefinitions(path)
		if err != nil {
			return nil, err
		}
		logger.Info("loaded application types", "file", path, "count", n)
	}

	bus := event.NewBus(opts.Logger)
	monitor, err := watcher.New(opts.Logger)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:      cfg,
		opts:     opts,
		logger:   logger,
		fs:       opts.Fs,
		registry: opts.Registry,
		bus:      bus,
		monitor:  monitor,
		stateDir: cfg.Daemon.ResolveStateDir(),
		projects: make(map[string]*managed),
		runCtx:   context.Background(),
	}
	if d.opts.NewEngine == nil {
		d.opts.NewEngine = d.defaultEngine
	}
	d.orch = orchestrator.New(orchestrator.Options{
		Debounce:    cfg.Watch.DebounceWindow(),
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff:     retry.FromConfig(cfg.Retry),
		Push:        cfg.VCS.Push,
		Bus:         bus,
		Logger:      opts.Logger,
	})
	d.probe, err = d.newLockClient("daemon")
	if err != nil {
		return nil, err
	}
	d.online.Store(true)
	d.bus.SubscribeAll(d.logEvent)
	return d, nil
}

// Bus exposes the daemon's event bus.
func (d *Daemon) Bus() *event.Bus { return d.bus }

// Orchestrator exposes the commit orchestrator.
func (d *Daemon) Orchestrator() *orchestrator.Orchestrator { return d.orch }

// Online reports the last connectivity probe result.
func (d *Daemon) Online() bool { return d.online.Load() }

// Run registers configured projects and runs every loop until ctx is done
// or a terminating power notice has been handled.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.mu.Lock()
	d.runCtx = ctx
	d.startedAt = time.Now()
	d.mu.Unlock()

	for _, root := range d.cfg.Daemon.Projects {
		if _, err := d.AddProject(ctx, controlapi.AddProjectRequest{Root: root}); err != nil {
			d.logger.Error("failed to register project", "root", root, "error", err)
		}
	}
	d.monitor.Start()

	server := NewServer(d, d.cfg.Daemon.ResolveSocketPath())
	hook := powerhook.New(powerhook.Options{
		Committer: d.orch,
		Source:    d.opts.PowerSource,
		Deadline:  d.cfg.Power.Deadline(),
		Bus:       d.bus,
		Logger:    d.logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := server.Start(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		err := hook.Run(gctx)
		cancel()
		return err
	})
	g.Go(func() error {
		d.replayLoop(gctx)
		return nil
	})
	d.logger.Info("daemon started", "pid", os.Getpid(), "socket", server.SocketPath(), "projects", len(d.cfg.Daemon.Projects))

	err := g.Wait()
	d.shutdown()
	return err
}

// shutdown stops watching, lets in-flight commits finish within the power
// deadline and stops lock supervisors.
func (d *Daemon) shutdown() {
	d.monitor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Power.Deadline())
	defer cancel()
	if err := d.orch.Shutdown(ctx); err != nil {
		d.logger.Warn("commit lanes did not stop cleanly", "error", err)
	}

	d.mu.Lock()
	projects := make([]*managed, 0, len(d.projects))
	for _, m := range d.projects {
		projects = append(projects, m)
	}
	d.mu.Unlock()
	for _, m := range projects {
		m.stop()
		<-m.done
	}
	d.logger.Info("daemon stopped")
}

// AddProject registers a project root and starts watching it.
func (d *Daemon) AddProject(ctx context.Context, req controlapi.AddProjectRequest) (controlapi.ProjectStatus, error) {
	if req.Root == "" {
		return controlapi.ProjectStatus{}, auxerrors.NewValidationError("root is required").WithField("root")
	}
	if abs, err := filepath.Abs(req.Root); err == nil {
		d.mu.RLock()
		err = d.checkRegistered(ProjectKey(abs), abs)
		d.mu.RUnlock()
		if err != nil {
			return controlapi.ProjectStatus{}, err
		}
	}
	p, client, matcher, err := d.build(ctx, req.Root, req.AppType)
	if err != nil {
		return controlapi.ProjectStatus{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkRegistered(p.ID, p.Root); err != nil {
		return controlapi.ProjectStatus{}, err
	}
	detector := conflict.New(conflict.Options{Engine: p.Engine, Logger: d.logger.WithProject(p.ID)})
	detector.SetDivergenceCallback(func(r conflict.Result) {
		d.bus.Publish(event.NewDivergenceEvent(p.ID, r.LocalHead, r.RemoteHead))
	})
	lane, err := d.orch.AddProject(p)
	if err != nil {
		return controlapi.ProjectStatus{}, err
	}
	if err := d.monitor.Add(p.ID, p.Root, matcher, d.orch.Handle); err != nil {
		_ = d.orch.RemoveProject(ctx, p.ID)
		return controlapi.ProjectStatus{}, err
	}

	sctx, stop := context.WithCancel(d.runCtx)
	m := &managed{lane: lane, client: client, matcher: matcher, detector: detector, stop: stop, done: make(chan struct{})}
	d.projects[p.ID] = m
	go func() {
		defer close(m.done)
		d.superviseLock(sctx, m)
	}()

	d.logger.Info("project added", "project_id", p.ID, "root", p.Root, "app_type", p.Capability.Name())
	return d.projectStatus(m), nil
}

// checkRegistered refuses an id that is already registered. Caller holds mu.
func (d *Daemon) checkRegistered(id, root string) error {
	m, exists := d.projects[id]
	switch {
	case !exists:
		return nil
	case m.lane.Project().Root == root:
		return auxerrors.NewValidationError("project already registered").WithField("id").WithValue(id)
	default:
		return collisionError(id, m.lane.Project().Root, root)
	}
}

// RemoveProject stops watching a project. Its queue and draft state stay
// on disk.
func (d *Daemon) RemoveProject(ctx context.Context, id string) error {
	d.mu.Lock()
	m, ok := d.projects[id]
	delete(d.projects, id)
	d.mu.Unlock()
	if !ok {
		return auxerrors.NewNotFoundError("project", id)
	}

	d.monitor.Remove(id)
	m.stop()
	<-m.done
	return d.orch.RemoveProject(ctx, id)
}

// Status returns a snapshot of the daemon and all projects.
func (d *Daemon) Status() controlapi.StatusResponse {
	d.mu.RLock()
	startedAt := d.startedAt
	projects := make([]controlapi.ProjectStatus, 0, len(d.projects))
	for _, lane := range d.orch.Lanes() {
		if m, ok := d.projects[lane.ID()]; ok {
			projects = append(projects, d.projectStatus(m))
		}
	}
	d.mu.RUnlock()

	return controlapi.StatusResponse{
		SchemaVersion: controlapi.SchemaVersion,
		Version:       d.opts.Version,
		PID:           os.Getpid(),
		StartedAt:     startedAt,
		Online:        d.Online(),
		Projects:      projects,
	}
}

func (d *Daemon) projectStatus(m *managed) controlapi.ProjectStatus {
	ls := m.lane.Status()
	lock, _ := m.client.Cache().Snapshot()
	var history *conflict.Result
	if r, ok := m.detector.Last(); ok {
		history = &r
	}
	return controlapi.ProjectStatus{
		ID:           ls.ProjectID,
		Root:         ls.Root,
		AppType:      ls.AppType,
		Repository:   m.client.RepositoryID(),
		State:        string(ls.State),
		Pending:      ls.Pending,
		Deadline:     ls.Deadline,
		LastChangeAt: ls.LastChangeAt,
		LastCommitID: ls.LastCommitID,
		LastCommitAt: ls.LastCommitAt,
		LastError:    ls.LastError,
		Lock:         lock,
		LockHeld:     m.client.Cache().Believed(time.Now()),
		Draft:        ls.Draft,
		Advisory:     ls.Draft.Advisory(),
		QueueDepth:   ls.QueueDepth,
		History:      history,
	}
}

// superviseLock heartbeats the project's lock while this machine holds it
// and checks again every interval otherwise.
func (d *Daemon) superviseLock(ctx context.Context, m *managed) {
	interval := d.cfg.Lock.HeartbeatInterval()
	logger := d.logger.WithProject(m.lane.ID()).WithOperation("lock_supervisor")

	for {
		owned, err := m.client.Owns(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			logger.Debug("lock status unavailable", "error", err)
		case owned:
			d.checkHistory(ctx, m)
			hb := m.client.NewHeartbeater(interval, lockclient.HeartbeatCallbacks{
				OnLost: func(err error) {
					d.bus.Publish(event.NewLockLostEvent(m.lane.ID(), "", err.Error()))
				},
				OnNetworkError: func(err error) {
					if qerr := m.lane.QueueHeartbeat(err); qerr != nil {
						logger.Warn("failed to queue heartbeat", "error", qerr)
					}
				},
			})
			_ = hb.Run(ctx)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// checkHistory compares the draft branch with the remote when this machine
// holds the lock. Divergence is published by the detector's callback.
func (d *Daemon) checkHistory(ctx context.Context, m *managed) {
	if _, err := m.detector.Check(ctx, d.cfg.Draft.Branch); err != nil && ctx.Err() == nil {
		d.logger.WithProject(m.lane.ID()).Debug("history check failed", "error", err)
	}
}

// replayLoop probes the lock service and replays queues on a timer and on
// every offline-to-online transition.
func (d *Daemon) replayLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Queue.ReplayInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !d.checkConnectivity(ctx) {
			continue
		}
		if err := d.orch.ReplayAll(ctx); err != nil && ctx.Err() == nil {
			d.logger.Warn("queue replay incomplete", "error", err)
		}
	}
}

// checkConnectivity probes the lock service and publishes transitions. It
// reports whether the service is reachable.
func (d *Daemon) checkConnectivity(ctx context.Context) bool {
	err := d.probe.Probe(ctx)
	online := err == nil
	if d.online.Swap(online) != online {
		if online {
			d.logger.Info("lock service reachable again")
		} else {
			d.logger.Warn("lock service unreachable", "error", err)
		}
		d.bus.Publish(event.NewConnectivityChangedEvent(online))
	}
	return online
}

// logEvent writes bus events to the daemon log.
func (d *Daemon) logEvent(e event.Event) {
	switch ev := e.(type) {
	case event.LockLostEvent:
		d.logger.Warn("lock lost", "project_id", ev.ProjectID, "reason", ev.Reason)
	case event.DraftAdvisoryEvent:
		d.logger.Info("draft branch needs consolidation", "project_id", ev.ProjectID, "commits", ev.CommitCount)
	case event.DivergenceEvent:
		d.logger.Warn("history diverged; consolidate manually", "project_id", ev.ProjectID,
			"local_head", ev.LocalHead, "remote_head", ev.RemoteHead)
	case event.PowerTriggeredEvent:
		d.logger.Info("power notice", "reason", ev.Reason, "committed", ev.Committed)
	default:
		d.logger.Debug("event", "type", e.EventType())
	}
}
