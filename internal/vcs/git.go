package vcs

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	auxerrors "github.com/jbacus/auxin/internal/errors"
)

// Runner abstracts command execution so tests can substitute output.
type Runner interface {
	// Run executes name with args in dir and returns combined output.
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")
	return cmd.CombinedOutput()
}

// GitOptions configures a GitEngine.
type GitOptions struct {
	// Binary is the engine executable (default: "git").
	Binary string
	// Remote is used by Push, Fetch and RemoteRef (default: "origin").
	Remote string
	// InitialBranch names the first branch created by Init (default: "main").
	InitialBranch string
	// AuthorName and AuthorEmail are passed per commit when set.
	AuthorName  string
	AuthorEmail string
	Runner      Runner
}

// GitEngine implements Engine on top of the git CLI.
type GitEngine struct {
	root string
	opts GitOptions
}

// NewGitEngine creates an engine rooted at root.
func NewGitEngine(root string, opts GitOptions) *GitEngine {
	if opts.Binary == "" {
		opts.Binary = "git"
	}
	if opts.Remote == "" {
		opts.Remote = "origin"
	}
	if opts.InitialBranch == "" {
		opts.InitialBranch = "main"
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	return &GitEngine{root: root, opts: opts}
}

func (g *GitEngine) Root() string { return g.root }

func (g *GitEngine) RemoteRef(branch string) string {
	return g.opts.Remote + "/" + branch
}

// run executes the engine and classifies failures.
func (g *GitEngine) run(ctx context.Context, op string, args ...string) (string, error) {
	out, err := g.opts.Runner.Run(ctx, g.root, g.opts.Binary, args...)
	output := strings.TrimSpace(string(out))
	if err == nil {
		return output, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if auxerrors.Is(ctxErr, context.DeadlineExceeded) {
			return output, auxerrors.NewTimeoutError(op, 0).WithCause(ctxErr)
		}
		return output, auxerrors.Wrap(auxerrors.ErrCanceled, op)
	}
	return output, g.classify(op, args, output, err)
}

func (g *GitEngine) classify(op string, args []string, output string, err error) error {
	lower := strings.ToLower(output)
	command := g.opts.Binary + " " + strings.Join(args, " ")

	if (op == "push" || op == "fetch") && isNetworkOutput(lower) {
		return auxerrors.NewNetworkError(op, fmt.Errorf("%w: %s", err, output)).WithEndpoint(g.opts.Remote)
	}
	if strings.Contains(lower, "permission denied") || strings.Contains(lower, "read-only file system") || strings.Contains(lower, "no space left") {
		return auxerrors.NewFilesystemError(op, g.root, fmt.Errorf("%w: %s", err, output))
	}
	return auxerrors.NewVCSError(op+" failed", err).
		WithRepository(g.root).
		WithCommand(command).
		WithOutput(output).
		WithRetryable(isLockContention(lower))
}

// onBranch records the branch an engine failure concerns.
func onBranch(err error, branch string) error {
	var vcsErr *auxerrors.VCSError
	if auxerrors.As(err, &vcsErr) {
		vcsErr.WithBranch(branch)
	}
	return err
}

func isLockContention(lower string) bool {
	return strings.Contains(lower, "index.lock") ||
		strings.Contains(lower, "unable to lock") ||
		strings.Contains(lower, "another git process")
}

func isNetworkOutput(lower string) bool {
	for _, marker := range []string{
		"could not resolve host",
		"unable to access",
		"connection refused",
		"connection timed out",
		"operation timed out",
		"network is unreachable",
		"could not read from remote repository",
		"the remote end hung up",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Init creates a repository with the initial branch if Root has none.
func (g *GitEngine) Init(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(g.root, ".git")); err == nil {
		return nil
	}
	if _, err := g.run(ctx, "init", "init"); err != nil {
		return err
	}
	_, err := g.run(ctx, "init", "symbolic-ref", "HEAD", "refs/heads/"+g.opts.InitialBranch)
	return err
}

// Add stages paths, recording removals too.
func (g *GitEngine) Add(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		paths = []string{"."}
	}
	args := append([]string{"add", "-A", "--"}, paths...)
	_, err := g.run(ctx, "add", args...)
	return err
}

// Commit records the staged tree. ErrNothingToCommit is returned when there
// is nothing staged.
func (g *GitEngine) Commit(ctx context.Context, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", auxerrors.NewValidationError("commit message is required").WithField("message")
	}
	args := []string{}
	if g.opts.AuthorName != "" {
		args = append(args, "-c", "user.name="+g.opts.AuthorName)
	}
	if g.opts.AuthorEmail != "" {
		args = append(args, "-c", "user.email="+g.opts.AuthorEmail)
	}
	args = append(args, "commit", "--no-verify", "-m", message)

	out, err := g.run(ctx, "commit", args...)
	if err != nil {
		lower := strings.ToLower(out)
		if strings.Contains(lower, "nothing to commit") || strings.Contains(lower, "nothing added to commit") || strings.Contains(lower, "no changes added to commit") {
			return "", ErrNothingToCommit
		}
		return "", err
	}
	return g.run(ctx, "commit", "rev-parse", "HEAD")
}

const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"
)

// Log lists history from ref, newest first.
func (g *GitEngine) Log(ctx context.Context, ref string, limit int) ([]Commit, error) {
	if ref == "" {
		ref = "HEAD"
	}
	args := []string{"log", "--format=%H%x1f%P%x1f%an%x1f%aI%x1f%s%x1e"}
	if limit > 0 {
		args = append(args, fmt.Sprintf("-n%d", limit))
	}
	args = append(args, ref, "--")

	out, err := g.run(ctx, "log", args...)
	if err != nil {
		lower := strings.ToLower(out)
		if strings.Contains(lower, "unknown revision") ||
			strings.Contains(lower, "bad revision") ||
			strings.Contains(lower, "does not have any commits yet") ||
			strings.Contains(lower, "bad default revision") {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRef, ref)
		}
		return nil, err
	}
	return parseLog(out)
}

func parseLog(out string) ([]Commit, error) {
	var commits []Commit
	for _, rec := range strings.Split(out, recordSep) {
		rec = strings.TrimSpace(rec)
		if rec == "" {
			continue
		}
		fields := strings.Split(rec, fieldSep)
		if len(fields) != 5 {
			return nil, fmt.Errorf("unexpected log record %q", rec)
		}
		when, err := time.Parse(time.RFC3339, fields[3])
		if err != nil {
			return nil, fmt.Errorf("parse commit time %q: %w", fields[3], err)
		}
		commits = append(commits, Commit{
			ID:      fields[0],
			Parents: strings.Fields(fields[1]),
			Author:  fields[2],
			When:    when,
			Subject: fields[4],
		})
	}
	return commits, nil
}

// Checkout restores the working tree to commit (detached).
func (g *GitEngine) Checkout(ctx context.Context, commit string) error {
	_, err := g.run(ctx, "checkout", "checkout", "--detach", commit)
	return err
}

// Diff returns a name-status summary between two commits.
func (g *GitEngine) Diff(ctx context.Context, from, to string) (string, error) {
	return g.run(ctx, "diff", "diff", "--name-status", from, to)
}

// CreateBranch creates name at from (HEAD when empty) without switching.
func (g *GitEngine) CreateBranch(ctx context.Context, name, from string) error {
	args := []string{"branch", name}
	if from != "" {
		args = append(args, from)
	}
	_, err := g.run(ctx, "branch", args...)
	return onBranch(err, name)
}

func (g *GitEngine) CheckoutBranch(ctx context.Context, name string) error {
	_, err := g.run(ctx, "checkout", "checkout", name)
	return onBranch(err, name)
}

// CurrentBranch returns the checked-out branch, including an unborn one.
func (g *GitEngine) CurrentBranch(ctx context.Context) (string, error) {
	return g.run(ctx, "branch", "symbolic-ref", "--short", "HEAD")
}

func (g *GitEngine) BranchExists(ctx context.Context, name string) (bool, error) {
	_, err := g.run(ctx, "branch", "rev-parse", "--verify", "--quiet", "refs/heads/"+name)
	if err == nil {
		return true, nil
	}
	var vcsErr *auxerrors.VCSError
	if auxerrors.As(err, &vcsErr) {
		return false, nil
	}
	return false, err
}

func (g *GitEngine) Push(ctx context.Context, branch string) error {
	_, err := g.run(ctx, "push", "push", g.opts.Remote, branch)
	return onBranch(err, branch)
}

func (g *GitEngine) Fetch(ctx context.Context) error {
	_, err := g.run(ctx, "fetch", "fetch", "--quiet", g.opts.Remote)
	return err
}
