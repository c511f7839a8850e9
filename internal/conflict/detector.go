// Package conflict compares local and remote history and refuses automatic
// consolidation when they diverged.
package conflict

import (
	"context"
	"fmt"
	"sync"
	"time"

	auxerrors "github.com/jbacus/auxin/internal/errors"
	"github.com/jbacus/auxin/internal/logging"
	"github.com/jbacus/auxin/internal/vcs"
)

// Status classifies local history against remote history.
type Status string

const (
	// StatusUpToDate means the remote holds nothing the local branch lacks.
	StatusUpToDate Status = "up_to_date"
	// StatusFastForward means the remote is strictly ahead of local.
	StatusFastForward Status = "fast_forward_available"
	// StatusDiverged means both sides have commits the other lacks.
	StatusDiverged Status = "diverged"
)

// Result is the outcome of a history comparison.
type Result struct {
	Status      Status    `json:"status"`
	LocalHead   string    `json:"local_head,omitempty"`
	RemoteHead  string    `json:"remote_head,omitempty"`
	LocalAhead  int       `json:"local_ahead"`
	RemoteAhead int       `json:"remote_ahead"`
	CheckedAt   time.Time `json:"checked_at"`
}

// Summary describes the result for a person.
func (r Result) Summary() string {
	switch r.Status {
	case StatusFastForward:
		return fmt.Sprintf("remote is %d commit(s) ahead; fast-forward available", r.RemoteAhead)
	case StatusDiverged:
		return fmt.Sprintf("history diverged: local %s (+%d) vs remote %s (+%d); choose which side to keep",
			short(r.LocalHead), r.LocalAhead, short(r.RemoteHead), r.RemoteAhead)
	default:
		if r.LocalAhead > 0 {
			return fmt.Sprintf("up to date; %d local commit(s) not yet pushed", r.LocalAhead)
		}
		return "up to date"
	}
}

func short(id string) string {
	if len(id) > 10 {
		return id[:10]
	}
	return id
}

// Classify compares two histories, each listed newest first. A local branch
// that is ahead of a remote with nothing new reports StatusUpToDate with
// LocalAhead set.
func Classify(local, remote []vcs.Commit) Result {
	var r Result
	if len(local) > 0 {
		r.LocalHead = local[0].ID
	}
	if len(remote) > 0 {
		r.RemoteHead = remote[0].ID
	}

	switch {
	case len(remote) == 0:
		r.Status = StatusUpToDate
		r.LocalAhead = len(local)
		return r
	case len(local) == 0:
		r.Status = StatusFastForward
		r.RemoteAhead = len(remote)
		return r
	case r.LocalHead == r.RemoteHead:
		r.Status = StatusUpToDate
		return r
	}

	if i := indexOf(local, r.RemoteHead); i >= 0 {
		r.Status = StatusUpToDate
		r.LocalAhead = i
		return r
	}
	if j := indexOf(remote, r.LocalHead); j >= 0 {
		r.Status = StatusFastForward
		r.RemoteAhead = j
		return r
	}

	r.Status = StatusDiverged
	r.LocalAhead = countMissing(local, remote)
	r.RemoteAhead = countMissing(remote, local)
	return r
}

func indexOf(history []vcs.Commit, id string) int {
	for i, c := range history {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// countMissing counts commits of a up to the first one also present in b.
func countMissing(a, b []vcs.Commit) int {
	seen := make(map[string]struct{}, len(b))
	for _, c := range b {
		seen[c.ID] = struct{}{}
	}
	n := 0
	for _, c := range a {
		if _, ok := seen[c.ID]; ok {
			break
		}
		n++
	}
	return n
}

// Options configures a Detector.
type Options struct {
	Engine vcs.Engine
	Logger *logging.Logger
	// Depth bounds how much history is compared (default: 500).
	Depth int
	// SkipFetch compares against the last fetched remote state.
	SkipFetch bool
	Now       func() time.Time
}

// Detector checks one project's branch against its remote counterpart.
type Detector struct {
	engine    vcs.Engine
	logger    *logging.Logger
	depth     int
	skipFetch bool
	now       func() time.Time

	mu         sync.RWMutex
	last       *Result
	onDiverged func(Result)
}

// New creates a Detector.
func New(opts Options) *Detector {
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.Depth <= 0 {
		opts.Depth = 500
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Detector{
		engine:    opts.Engine,
		logger:    opts.Logger.WithComponent("conflict"),
		depth:     opts.Depth,
		skipFetch: opts.SkipFetch,
		now:       opts.Now,
	}
}

// SetDivergenceCallback sets the callback invoked when Check finds diverged
// history.
func (d *Detector) SetDivergenceCallback(cb func(Result)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onDiverged = cb
}

// Check fetches and compares branch with its remote-tracking ref. A branch
// that was never pushed compares as up to date.
func (d *Detector) Check(ctx context.Context, branch string) (Result, error) {
	if !d.skipFetch {
		if err := d.engine.Fetch(ctx); err != nil {
			return Result{}, err
		}
	}

	local, err := d.history(ctx, branch)
	if err != nil {
		return Result{}, err
	}
	remote, err := d.history(ctx, d.engine.RemoteRef(branch))
	if err != nil {
		return Result{}, err
	}

	result := Classify(local, remote)
	result.CheckedAt = d.now().UTC()

	d.mu.Lock()
	d.last = &result
	cb := d.onDiverged
	d.mu.Unlock()

	if result.Status == StatusDiverged {
		d.logger.Warn("history diverged",
			"branch", branch,
			"local_head", result.LocalHead,
			"remote_head", result.RemoteHead)
		if cb != nil {
			cb(result)
		}
	}
	return result, nil
}

func (d *Detector) history(ctx context.Context, ref string) ([]vcs.Commit, error) {
	commits, err := d.engine.Log(ctx, ref, d.depth)
	if auxerrors.Is(err, vcs.ErrUnknownRef) {
		return nil, nil
	}
	return commits, err
}

// GuardConsolidation returns a DivergenceError carrying both heads when the
// branch diverged from its remote. Other statuses return the result and nil.
func (d *Detector) GuardConsolidation(ctx context.Context, branch string) (Result, error) {
	result, err := d.Check(ctx, branch)
	if err != nil {
		return result, err
	}
	if result.Status == StatusDiverged {
		return result, auxerrors.NewDivergenceError(result.LocalHead, result.RemoteHead)
	}
	return result, nil
}

// Last returns the most recent result, if any.
func (d *Detector) Last() (Result, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.last == nil {
		return Result{}, false
	}
	return *d.last, true
}
