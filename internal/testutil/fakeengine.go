package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jbacus/auxin/internal/vcs"
)

// FakeEngine is an in-memory vcs.Engine. Every Add stages a change unless
// SetClean(true) is in effect. Errors can be injected per operation.
type FakeEngine struct {
	mu       sync.Mutex
	root     string
	current  string
	branches map[string][]vcs.Commit // oldest first
	remote   map[string][]vcs.Commit
	staged   []string
	clean    bool
	seq      int

	once   map[string][]error
	always map[string]error
	calls  map[string]int
	msgs   []string
}

// NewFakeEngine creates an engine on an empty main branch.
func NewFakeEngine(root string) *FakeEngine {
	return &FakeEngine{
		root:     root,
		current:  "main",
		branches: map[string][]vcs.Commit{"main": nil},
		remote:   map[string][]vcs.Commit{},
		once:     map[string][]error{},
		always:   map[string]error{},
		calls:    map[string]int{},
	}
}

// FailNext makes the next len(errs) calls of op return errs in order.
func (f *FakeEngine) FailNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.once[op] = append(f.once[op], errs...)
}

// FailAlways makes every call of op return err until Heal.
func (f *FakeEngine) FailAlways(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.always[op] = err
}

// Heal clears injected failures for op.
func (f *FakeEngine) Heal(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.always, op)
	delete(f.once, op)
}

// SetClean makes Add stage nothing, so Commit reports nothing to commit.
func (f *FakeEngine) SetClean(clean bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clean = clean
}

// Calls returns how many times op was invoked, including failed calls.
func (f *FakeEngine) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Commits returns branch history, oldest first.
func (f *FakeEngine) Commits(branch string) []vcs.Commit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]vcs.Commit(nil), f.branches[branch]...)
}

// Messages returns every committed message in order.
func (f *FakeEngine) Messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.msgs...)
}

// StagedPaths returns the paths passed to the last Add.
func (f *FakeEngine) StagedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.staged...)
}

// RemoteCommit adds a commit that exists only on the remote branch, as if a
// collaborator had pushed it.
func (f *FakeEngine) RemoteCommit(branch, subject string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.newCommit(subject, f.remote[branch])
	f.remote[branch] = append(f.remote[branch], c)
	return c.ID
}

// enter records a call and returns any injected failure. Caller holds mu.
func (f *FakeEngine) enter(op string) error {
	f.calls[op]++
	if errs := f.once[op]; len(errs) > 0 {
		f.once[op] = errs[1:]
		return errs[0]
	}
	return f.always[op]
}

func (f *FakeEngine) newCommit(subject string, history []vcs.Commit) vcs.Commit {
	f.seq++
	c := vcs.Commit{
		ID:      fmt.Sprintf("c%04d", f.seq),
		Author:  "Auxin Test",
		When:    time.Unix(int64(1_700_000_000+f.seq), 0).UTC(),
		Subject: subject,
	}
	if n := len(history); n > 0 {
		c.Parents = []string{history[n-1].ID}
	}
	return c
}

func (f *FakeEngine) Root() string { return f.root }

func (f *FakeEngine) RemoteRef(branch string) string { return "origin/" + branch }

func (f *FakeEngine) Init(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enter("init")
}

func (f *FakeEngine) Add(ctx context.Context, paths []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("add"); err != nil {
		return err
	}
	if f.clean {
		f.staged = nil
		return nil
	}
	f.staged = append([]string(nil), paths...)
	if len(f.staged) == 0 {
		f.staged = []string{"."}
	}
	return nil
}

func (f *FakeEngine) Commit(ctx context.Context, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("commit"); err != nil {
		return "", err
	}
	if len(f.staged) == 0 {
		return "", vcs.ErrNothingToCommit
	}
	c := f.newCommit(firstLine(message), f.branches[f.current])
	f.branches[f.current] = append(f.branches[f.current], c)
	f.msgs = append(f.msgs, message)
	f.staged = nil
	return c.ID, nil
}

func (f *FakeEngine) Log(ctx context.Context, ref string, limit int) ([]vcs.Commit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("log"); err != nil {
		return nil, err
	}
	var history []vcs.Commit
	var ok bool
	if len(ref) > len("origin/") && ref[:len("origin/")] == "origin/" {
		history, ok = f.remote[ref[len("origin/"):]]
	} else {
		if ref == "" || ref == "HEAD" {
			ref = f.current
		}
		history, ok = f.branches[ref]
	}
	if !ok || len(history) == 0 {
		return nil, fmt.Errorf("%w: %s", vcs.ErrUnknownRef, ref)
	}
	out := make([]vcs.Commit, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		out = append(out, history[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *FakeEngine) Checkout(ctx context.Context, commit string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enter("checkout")
}

func (f *FakeEngine) Diff(ctx context.Context, from, to string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("diff"); err != nil {
		return "", err
	}
	return fmt.Sprintf("M\t%s..%s", from, to), nil
}

func (f *FakeEngine) CreateBranch(ctx context.Context, name, from string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("branch"); err != nil {
		return err
	}
	if _, exists := f.branches[name]; exists {
		return fmt.Errorf("branch %s already exists", name)
	}
	if from == "" {
		from = f.current
	}
	base, ok := f.branches[from]
	if !ok {
		return fmt.Errorf("%w: %s", vcs.ErrUnknownRef, from)
	}
	f.branches[name] = append([]vcs.Commit(nil), base...)
	return nil
}

func (f *FakeEngine) CheckoutBranch(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("checkout"); err != nil {
		return err
	}
	if _, ok := f.branches[name]; !ok {
		return fmt.Errorf("%w: %s", vcs.ErrUnknownRef, name)
	}
	f.current = name
	return nil
}

func (f *FakeEngine) CurrentBranch(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, f.enter("current")
}

func (f *FakeEngine) BranchExists(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("exists"); err != nil {
		return false, err
	}
	_, ok := f.branches[name]
	return ok, nil
}

func (f *FakeEngine) Push(ctx context.Context, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("push"); err != nil {
		return err
	}
	f.remote[branch] = append([]vcs.Commit(nil), f.branches[branch]...)
	return nil
}

func (f *FakeEngine) Fetch(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enter("fetch")
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

var _ vcs.Engine = (*FakeEngine)(nil)
