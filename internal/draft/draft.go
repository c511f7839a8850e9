// Package draft manages the draft branch that receives automatic commits.
//
// Automatic commits accumulate on the draft branch so the main branch only
// sees consolidated milestones. The manager counts draft commits and raises
// an advisory when the count passes a threshold. It never squashes, merges
// or prunes on its own; consolidation is always a human decision.
package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	auxerrors "github.com/jbacus/auxin/internal/errors"
	"github.com/jbacus/auxin/internal/logging"
	"github.com/jbacus/auxin/internal/vcs"
)

// StatsFileName is the file holding persisted Stats in the state directory.
const StatsFileName = "draft-stats.json"

// Stats describes the draft branch.
type Stats struct {
	Branch             string    `json:"draft_branch_name"`
	CommitCount        int       `json:"commit_count"`
	MaxCommits         int       `json:"max_commits_threshold"`
	Milestones         int       `json:"milestones"`
	LastCommitID       string    `json:"last_commit_id,omitempty"`
	LastCommitAt       time.Time `json:"last_commit_at,omitzero"`
	LastConsolidatedAt time.Time `json:"last_consolidated_at,omitzero"`
}

// Advisory reports whether Stats call for consolidation.
func (s Stats) Advisory() bool {
	return s.MaxCommits > 0 && s.CommitCount > s.MaxCommits
}

// Advisory suggests consolidating the draft branch.
type Advisory struct {
	Branch      string
	CommitCount int
	Threshold   int
}

func (a Advisory) String() string {
	return fmt.Sprintf("draft branch %s has %d commits (threshold %d); consider consolidating a milestone",
		a.Branch, a.CommitCount, a.Threshold)
}

// Options configures a Manager.
type Options struct {
	Engine vcs.Engine
	// Fs holds the stats file (default: the OS filesystem).
	Fs afero.Fs
	// StateDir is where StatsFileName lives.
	StateDir   string
	Branch     string
	MainBranch string
	MaxCommits int
	Logger     *logging.Logger
	Now        func() time.Time
}

// Manager tracks one project's draft branch.
type Manager struct {
	mu     sync.Mutex
	engine vcs.Engine
	fs     afero.Fs
	path   string
	main   string
	stats  Stats
	logger *logging.Logger
	now    func() time.Time
}

// New loads persisted stats, if any, and returns a Manager.
func New(opts Options) (*Manager, error) {
	if opts.Engine == nil {
		return nil, auxerrors.NewValidationError("engine is required").WithField("engine")
	}
	if opts.Branch == "" {
		opts.Branch = "draft"
	}
	if opts.MainBranch == "" {
		opts.MainBranch = "main"
	}
	if opts.Branch == opts.MainBranch {
		return nil, auxerrors.NewValidationError("draft branch must differ from main branch").
			WithField("branch").WithValue(opts.Branch)
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	m := &Manager{
		engine: opts.Engine,
		fs:     opts.Fs,
		path:   filepath.Join(opts.StateDir, StatsFileName),
		main:   opts.MainBranch,
		logger: opts.Logger.WithComponent("draft"),
		now:    opts.Now,
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	// Configuration wins over whatever was persisted.
	m.stats.Branch = opts.Branch
	m.stats.MaxCommits = opts.MaxCommits
	return m, nil
}

// Branch returns the draft branch name.
func (m *Manager) Branch() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats.Branch
}

// MainBranch returns the branch milestones are consolidated into.
func (m *Manager) MainBranch() string { return m.main }

// Initialize makes sure the draft branch exists and is checked out. An
// unborn repository first gets an initial commit on the main branch.
func (m *Manager) Initialize(ctx context.Context) error {
	branch := m.Branch()
	if err := m.engine.Init(ctx); err != nil {
		return err
	}

	exists, err := m.engine.BranchExists(ctx, branch)
	if err != nil {
		return err
	}
	if !exists {
		if err := m.ensureHistory(ctx); err != nil {
			return err
		}
		from := m.main
		if ok, err := m.engine.BranchExists(ctx, m.main); err != nil {
			return err
		} else if !ok {
			from = ""
		}
		if err := m.engine.CreateBranch(ctx, branch, from); err != nil {
			return err
		}
		m.logger.Info("created draft branch", "branch", branch, "from", from)
	}
	return m.EnsureCheckedOut(ctx)
}

func (m *Manager) ensureHistory(ctx context.Context) error {
	_, err := m.engine.Log(ctx, "HEAD", 1)
	if err == nil || !auxerrors.Is(err, vcs.ErrUnknownRef) {
		return err
	}
	if err := m.engine.Add(ctx, nil); err != nil {
		return err
	}
	if _, err := m.engine.Commit(ctx, "Initial commit"); err != nil {
		if auxerrors.Is(err, vcs.ErrNothingToCommit) {
			return auxerrors.NewValidationError("project has no files to version").WithField("root").WithValue(m.engine.Root())
		}
		return err
	}
	return nil
}

// EnsureCheckedOut switches to the draft branch if another branch is
// checked out.
func (m *Manager) EnsureCheckedOut(ctx context.Context) error {
	branch := m.Branch()
	current, err := m.engine.CurrentBranch(ctx)
	if err != nil {
		return err
	}
	if current == branch {
		return nil
	}
	m.logger.Info("switching to draft branch", "from", current, "branch", branch)
	return m.engine.CheckoutBranch(ctx, branch)
}

// RecordAutoCommit counts an automatic commit on the draft branch.
func (m *Manager) RecordAutoCommit(commitID string) error {
	return m.record(commitID, false)
}

// RecordMilestone counts a human milestone commit on the draft branch.
func (m *Manager) RecordMilestone(commitID string) error {
	return m.record(commitID, true)
}

func (m *Manager) record(commitID string, milestone bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.CommitCount++
	if milestone {
		m.stats.Milestones++
	}
	m.stats.LastCommitID = commitID
	m.stats.LastCommitAt = m.now().UTC()
	return m.saveLocked()
}

// Stats returns a snapshot of the draft statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Advisory returns a consolidation advisory, or nil when the draft branch is
// within its threshold.
func (m *Manager) Advisory() *Advisory {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stats.Advisory() {
		return nil
	}
	return &Advisory{
		Branch:      m.stats.Branch,
		CommitCount: m.stats.CommitCount,
		Threshold:   m.stats.MaxCommits,
	}
}

// Reset zeroes the commit count after the user consolidated the draft
// branch into the main branch.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.CommitCount = 0
	m.stats.Milestones = 0
	m.stats.LastConsolidatedAt = m.now().UTC()
	m.logger.Info("draft statistics reset", "branch", m.stats.Branch)
	return m.saveLocked()
}

func (m *Manager) load() error {
	data, err := afero.ReadFile(m.fs, m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return auxerrors.NewFilesystemError("read draft stats", m.path, err)
	}
	if err := json.Unmarshal(data, &m.stats); err != nil {
		return fmt.Errorf("failed to parse %s: %w", m.path, err)
	}
	return nil
}

func (m *Manager) saveLocked() error {
	data, err := json.MarshalIndent(m.stats, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal draft stats: %w", err)
	}
	if err := m.fs.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return auxerrors.NewFilesystemError("create state dir", filepath.Dir(m.path), err)
	}
	tmp := m.path + ".tmp"
	if err := afero.WriteFile(m.fs, tmp, data, 0644); err != nil {
		return auxerrors.NewFilesystemError("write draft stats", tmp, err)
	}
	if err := m.fs.Rename(tmp, m.path); err != nil {
		_ = m.fs.Remove(tmp)
		return auxerrors.NewFilesystemError("replace draft stats", m.path, err)
	}
	return nil
}
