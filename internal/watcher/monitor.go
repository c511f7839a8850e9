// Package watcher turns filesystem notifications for registered project
// roots into filtered change events, and provides the debounce window that
// coalesces bursts of those events into a single settled signal.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sourcegraph/conc/panics"

	"github.com/jbacus/auxin/internal/ignore"
	"github.com/jbacus/auxin/internal/logging"
)

// Kind classifies a change.
type Kind string

const (
	Created  Kind = "created"
	Modified Kind = "modified"
	Removed  Kind = "removed"
)

// ChangeEvent is a single filtered filesystem change inside a project.
type ChangeEvent struct {
	ProjectID string
	Path      string // slash-separated, relative to the project root
	Timestamp time.Time
	Kind      Kind
}

// Handler receives change events for one project. It is called on the
// monitor's goroutine and must not block.
type Handler func(ChangeEvent)

type project struct {
	id      string
	root    string
	matcher *ignore.Matcher
	handler Handler
	dirs    map[string]struct{}
}

// Monitor watches any number of project roots with a single fsnotify
// watcher.
type Monitor struct {
	watcher *fsnotify.Watcher
	logger  *logging.Logger
	now     func() time.Time

	mu       sync.RWMutex
	projects map[string]*project

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New creates a monitor. Call Start to begin delivering events.
func New(logger *logging.Logger) (*Monitor, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Monitor{
		watcher:  w,
		logger:   logger.WithComponent("watcher"),
		now:      time.Now,
		projects: make(map[string]*project),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Add registers root under projectID. Every directory below root that is
// not ignored by matcher is watched; directories created later are added
// as they appear.
func (m *Monitor) Add(projectID, root string, matcher *ignore.Matcher, h Handler) error {
	if h == nil {
		return fmt.Errorf("handler is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("failed to stat project root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("project root %s is not a directory", abs)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.projects[projectID]; exists {
		return fmt.Errorf("project %s is already watched", projectID)
	}
	p := &project{
		id:      projectID,
		root:    abs,
		matcher: matcher,
		handler: h,
		dirs:    make(map[string]struct{}),
	}
	if err := m.watchTree(p, abs); err != nil {
		m.unwatch(p)
		return err
	}
	m.projects[projectID] = p
	m.logger.Info("watching project", "project_id", projectID, "root", abs, "dirs", len(p.dirs))
	return nil
}

// Remove stops watching projectID. Unknown ids are ignored.
func (m *Monitor) Remove(projectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok {
		return
	}
	m.unwatch(p)
	delete(m.projects, projectID)
}

// Projects returns the watched project ids, sorted.
func (m *Monitor) Projects() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.projects))
	for id := range m.projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// watchTree adds dir and its non-ignored subdirectories. Caller holds mu.
func (m *Monitor) watchTree(p *project, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil // Skip unreadable entries, continue walking
		}
		if !d.IsDir() {
			return nil
		}
		if path != p.root {
			if rel, ok := p.rel(path); ok && p.matcher.Match(rel) {
				return filepath.SkipDir
			}
		}
		if _, seen := p.dirs[path]; seen {
			return nil
		}
		if err := m.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		p.dirs[path] = struct{}{}
		return nil
	})
}

// unwatch drops all of p's watches. Caller holds mu.
func (m *Monitor) unwatch(p *project) {
	for dir := range p.dirs {
		_ = m.watcher.Remove(dir)
	}
	p.dirs = make(map[string]struct{})
}

func (p *project) rel(path string) (string, bool) {
	rel, err := filepath.Rel(p.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// Start begins the event loop. It is safe to call more than once.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		m.started.Store(true)
		go m.loop()
	})
}

// Stop ends the event loop and closes the underlying watcher.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		_ = m.watcher.Close()
	})
	if m.started.Load() {
		<-m.doneCh
	}
}

func (m *Monitor) loop() {
	defer close(m.doneCh)
	for {
		select {
		case <-m.stopCh:
			return

		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.dispatch(ev)

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("file watcher error", "error", err)
		}
	}
}

// dispatch filters ev and hands it to the owning project's handler.
func (m *Monitor) dispatch(ev fsnotify.Event) {
	kind, ok := classify(ev.Op)
	if !ok {
		return
	}

	m.mu.Lock()
	p := m.owner(ev.Name)
	if p == nil {
		m.mu.Unlock()
		return
	}
	rel, ok := p.rel(ev.Name)
	if !ok || rel == "." || p.matcher.Match(rel) {
		m.mu.Unlock()
		return
	}
	if kind == Created {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := m.watchTree(p, ev.Name); err != nil {
				m.logger.Warn("failed to watch new directory", "project_id", p.id, "path", rel, "error", err)
			}
		}
	}
	if kind == Removed {
		if _, watched := p.dirs[ev.Name]; watched {
			delete(p.dirs, ev.Name)
		}
	}
	handler := p.handler
	id := p.id
	m.mu.Unlock()

	change := ChangeEvent{ProjectID: id, Path: rel, Timestamp: m.now(), Kind: kind}
	var catcher panics.Catcher
	catcher.Try(func() { handler(change) })
	if r := catcher.Recovered(); r != nil {
		m.logger.Error("change handler panicked", "project_id", id, "panic", r.Value)
	}
}

// owner returns the project with the longest root containing path.
// Caller holds mu.
func (m *Monitor) owner(path string) *project {
	var best *project
	for _, p := range m.projects {
		if path != p.root && !strings.HasPrefix(path, p.root+string(filepath.Separator)) {
			continue
		}
		if best == nil || len(p.root) > len(best.root) {
			best = p
		}
	}
	return best
}

func classify(op fsnotify.Op) (Kind, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return Created, true
	case op.Has(fsnotify.Write):
		return Modified, true
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return Removed, true
	default:
		return "", false
	}
}
