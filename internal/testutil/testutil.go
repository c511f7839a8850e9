// Package testutil provides helpers shared by auxin tests: throwaway git
// repositories for engine tests and an in-memory engine for everything
// that only needs engine behavior.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

const (
	testAuthor = "Auxin Test"
	testEmail  = "test@auxin.dev"
)

// SetupTestRepo creates a temporary git repository on branch main with one
// initial commit. It is removed when the test completes.
func SetupTestRepo(t *testing.T) string {
	t.Helper()
	SkipIfNoGit(t)

	dir := t.TempDir()
	mustGit(t, dir, "init")
	mustGit(t, dir, "config", "user.email", testEmail)
	mustGit(t, dir, "config", "user.name", testAuthor)

	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Test Project\n"), 0644); err != nil {
		t.Fatalf("failed to create README: %v", err)
	}
	mustGit(t, dir, "add", ".")
	mustGit(t, dir, "commit", "-m", "Initial commit")
	// Some systems default to master
	mustGit(t, dir, "branch", "-M", "main")
	return dir
}

// SetupTestRepoWithRemote creates a repository whose origin is a bare
// repository in another temp dir, with main already pushed.
func SetupTestRepoWithRemote(t *testing.T) (repoDir, remoteDir string) {
	t.Helper()

	remoteDir = t.TempDir()
	mustGit(t, remoteDir, "init", "--bare")

	repoDir = SetupTestRepo(t)
	mustGit(t, repoDir, "remote", "add", "origin", remoteDir)
	mustGit(t, repoDir, "push", "-u", "origin", "main")
	return repoDir, remoteDir
}

// CloneRepo clones remoteDir into a fresh temp dir, as a collaborator's
// machine would.
func CloneRepo(t *testing.T, remoteDir string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "clone")
	mustGit(t, filepath.Dir(dir), "clone", remoteDir, dir)
	mustGit(t, dir, "config", "user.email", testEmail)
	mustGit(t, dir, "config", "user.name", testAuthor)
	return dir
}

// WriteFile creates or replaces a file below dir.
func WriteFile(t *testing.T, dir, path, content string) {
	t.Helper()
	full := filepath.Join(dir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file %s: %v", path, err)
	}
}

// CommitFile writes and commits a single file.
func CommitFile(t *testing.T, repoDir, path, content, message string) {
	t.Helper()
	WriteFile(t, repoDir, path, content)
	mustGit(t, repoDir, "add", path)
	mustGit(t, repoDir, "commit", "-m", message)
}

// Git runs git in dir and returns trimmed output, failing the test on error.
func Git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	return mustGit(t, dir, args...)
}

// GetCommitCount returns the number of commits reachable from ref.
func GetCommitCount(t *testing.T, repoDir, ref string) int {
	t.Helper()
	out := mustGit(t, repoDir, "rev-list", "--count", ref)
	n, err := strconv.Atoi(out)
	if err != nil {
		t.Fatalf("failed to parse commit count %q: %v", out, err)
	}
	return n
}

// SkipIfNoGit skips the test if git is not installed.
func SkipIfNoGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH, skipping test")
	}
}

func mustGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME="+testAuthor,
		"GIT_AUTHOR_EMAIL="+testEmail,
		"GIT_COMMITTER_NAME="+testAuthor,
		"GIT_COMMITTER_EMAIL="+testEmail,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, output)
	}
	return strings.TrimSpace(string(output))
}
