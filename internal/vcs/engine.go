// Package vcs is the boundary to the version-control engine that stores
// project content. auxin never reimplements storage or history; it drives
// the engine through the Engine interface.
package vcs

import (
	"context"
	"errors"
	"time"
)

// ErrNothingToCommit is returned by Commit when the staged tree matches HEAD.
var ErrNothingToCommit = errors.New("nothing to commit")

// ErrUnknownRef is returned when a ref does not exist (yet).
var ErrUnknownRef = errors.New("unknown ref")

// Commit is one entry of engine history.
type Commit struct {
	ID      string    `json:"id"`
	Parents []string  `json:"parents,omitempty"`
	Author  string    `json:"author"`
	When    time.Time `json:"when"`
	Subject string    `json:"subject"`
}

// Engine is the subset of engine operations auxin needs. Implementations
// must be safe for use by one goroutine at a time per repository; the
// commit lane serializes access.
type Engine interface {
	// Root is the working tree the engine operates on.
	Root() string
	// Init creates a repository if none exists.
	Init(ctx context.Context) error
	// Add stages paths relative to Root.
	Add(ctx context.Context, paths []string) error
	// Commit records the staged tree and returns the new commit id.
	Commit(ctx context.Context, message string) (string, error)
	// Log lists history reachable from ref, newest first, up to limit
	// entries (0 means no limit).
	Log(ctx context.Context, ref string, limit int) ([]Commit, error)
	// Checkout restores the working tree to commit.
	Checkout(ctx context.Context, commit string) error
	// Diff summarizes changes between two commits.
	Diff(ctx context.Context, from, to string) (string, error)
	CreateBranch(ctx context.Context, name, from string) error
	CheckoutBranch(ctx context.Context, name string) error
	CurrentBranch(ctx context.Context) (string, error)
	BranchExists(ctx context.Context, name string) (bool, error)
	// Push publishes branch to the configured remote.
	Push(ctx context.Context, branch string) error
	// Fetch updates remote-tracking refs.
	Fetch(ctx context.Context) error
	// RemoteRef names the remote-tracking ref for branch.
	RemoteRef(branch string) string
}
