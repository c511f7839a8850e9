package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jbacus/auxin/internal/controlapi"
	"github.com/jbacus/auxin/internal/daemon"
	"github.com/jbacus/auxin/internal/lockservice"
	"github.com/jbacus/auxin/internal/offlinequeue"
	"github.com/jbacus/auxin/internal/testutil"
)

// executeCommand runs a fresh command tree with args and returns captured output.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("test")
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

type testEnv struct {
	dir      string
	stateDir string
	socket   string
	lockURL  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	sockDir, err := os.MkdirTemp("", "auxcli")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(sockDir) })
	return &testEnv{
		dir:      t.TempDir(),
		stateDir: t.TempDir(),
		socket:   filepath.Join(sockDir, "d.sock"),
	}
}

// withLockService starts a lock service backed by a temporary database.
func (e *testEnv) withLockService(t *testing.T) {
	t.Helper()
	store, err := lockservice.Open(context.Background(), filepath.Join(t.TempDir(), "locks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	srv := httptest.NewServer(lockservice.NewServer(store, nil, lockservice.ServerOptions{}).Handler())
	t.Cleanup(srv.Close)
	e.lockURL = srv.URL
}

// withDaemon serves h on the control socket in place of a real daemon.
func (e *testEnv) withDaemon(t *testing.T, h http.Handler) {
	t.Helper()
	ln, err := net.Listen("unix", e.socket)
	require.NoError(t, err)
	srv := &http.Server{Handler: h}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })
}

// config writes a config file for holder and returns its path.
func (e *testEnv) config(t *testing.T, holder string) string {
	t.Helper()
	url := e.lockURL
	if url == "" {
		url = "http://127.0.0.1:1"
	}
	cfg := map[string]any{
		"server":   map[string]any{"url": url},
		"identity": map[string]any{"holder": holder, "machine_id": holder + "-mac"},
		"daemon":   map[string]any{"socket_path": e.socket, "state_dir": e.stateDir},
		"logging":  map[string]any{"console": false, "level": "error"},
	}
	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(e.dir, holder+".yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestRootCommand(t *testing.T) {
	root := NewRootCmd("1.2.3")
	assert.Equal(t, "auxin", root.Use)
	assert.Equal(t, "1.2.3", root.Version)

	expected := []string{"serve", "daemon", "lock", "project", "commit", "conflict", "queue", "ignore", "activity", "status", "config"}
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range expected {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("log-level"))
}

func TestCommitFlags_Metadata(t *testing.T) {
	meta, err := (&commitFlags{}).metadata()
	require.NoError(t, err)
	assert.Nil(t, meta)

	_, err = (&commitFlags{bpm: 120}).metadata()
	assert.Error(t, err, "metadata without a milestone message")

	meta, err = (&commitFlags{
		milestone: "Final mix",
		bpm:       120,
		key:       "A minor",
		tags:      []string{"mix"},
		fields:    []string{"camera = wide"},
	}).metadata()
	require.NoError(t, err)
	assert.Equal(t, "Final mix", meta.Message)
	assert.Equal(t, 120.0, meta.BPM)
	assert.Equal(t, "A minor", meta.KeySignature)
	assert.Equal(t, map[string]string{"camera": "wide"}, meta.Fields)

	_, err = (&commitFlags{milestone: "x", fields: []string{"novalue"}}).metadata()
	assert.Error(t, err)
}

func TestLockCommands(t *testing.T) {
	env := newTestEnv(t)
	env.withLockService(t)
	alice := env.config(t, "alice")
	bob := env.config(t, "bob")
	project := filepath.Join(t.TempDir(), "Demo Song")
	require.NoError(t, os.MkdirAll(project, 0o755))

	out, err := executeCommand(t, "--config", alice, "lock", "acquire", project)
	require.NoError(t, err)
	assert.Contains(t, out, "locked default/demo-song")

	_, err = executeCommand(t, "--config", bob, "lock", "acquire", project)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock is held by alice")

	out, err = executeCommand(t, "--config", bob, "lock", "status", project)
	require.NoError(t, err)
	assert.Contains(t, out, "held by alice@alice-mac")

	out, err = executeCommand(t, "--config", alice, "lock", "heartbeat", project)
	require.NoError(t, err)
	assert.Contains(t, out, "extended default/demo-song")

	_, err = executeCommand(t, "--config", bob, "lock", "break", project)
	require.Error(t, err, "break requires --yes")

	out, err = executeCommand(t, "--config", alice, "lock", "release", project)
	require.NoError(t, err)
	assert.Contains(t, out, "released default/demo-song")

	out, err = executeCommand(t, "--config", bob, "lock", "status", "--json", project)
	require.NoError(t, err)
	assert.Contains(t, out, `"locked": false`)

	out, err = executeCommand(t, "--config", alice, "activity", project)
	require.NoError(t, err)
	assert.Contains(t, out, "lock_acquired")
	assert.Contains(t, out, "lock_released")
}

func TestLockCommands_RepoOverride(t *testing.T) {
	env := newTestEnv(t)
	env.withLockService(t)
	alice := env.config(t, "alice")

	out, err := executeCommand(t, "--config", alice, "lock", "acquire", "--repo", "album", env.dir)
	require.NoError(t, err)
	assert.Contains(t, out, "locked default/album")
}

func TestLockAcquire_RefusedOnDivergedDraft(t *testing.T) {
	repo, remote := testutil.SetupTestRepoWithRemote(t)
	testutil.Git(t, repo, "checkout", "-b", "draft")
	testutil.CommitFile(t, repo, "mix.txt", "v1\n", "Auto-save")
	testutil.Git(t, repo, "push", "-u", "origin", "draft")

	// A collaborator pushes to draft while this machine commits locally.
	other := testutil.CloneRepo(t, remote)
	testutil.Git(t, other, "checkout", "draft")
	testutil.CommitFile(t, other, "mix.txt", "theirs\n", "Auto-save from the other studio")
	testutil.Git(t, other, "push", "origin", "draft")
	testutil.CommitFile(t, repo, "mix.txt", "mine\n", "Auto-save")

	env := newTestEnv(t)
	env.withLockService(t)
	alice := env.config(t, "alice")

	_, err := executeCommand(t, "--config", alice, "lock", "acquire", "--repo", "song", repo)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "draft history diverged")
	assert.Contains(t, err.Error(), "--no-check")

	out, err := executeCommand(t, "--config", alice, "lock", "status", "--repo", "song", repo)
	require.NoError(t, err)
	assert.Contains(t, out, "unlocked", "a refused acquire leaves the lock untouched")

	out, err = executeCommand(t, "--config", alice, "lock", "acquire", "--no-check", "--repo", "song", repo)
	require.NoError(t, err)
	assert.Contains(t, out, "locked default/song")
}

func TestLockAcquire_InSyncHistoryIsLocked(t *testing.T) {
	repo, _ := testutil.SetupTestRepoWithRemote(t)
	testutil.CommitFile(t, repo, "mix.txt", "v1\n", "unpushed work")

	env := newTestEnv(t)
	env.withLockService(t)

	out, err := executeCommand(t, "--config", env.config(t, "alice"), "lock", "acquire", "--repo", "song", repo)
	require.NoError(t, err)
	assert.Contains(t, out, "locked default/song")
}

func TestLockCommands_ServiceUnreachable(t *testing.T) {
	env := newTestEnv(t)
	_, err := executeCommand(t, "--config", env.config(t, "alice"), "lock", "status", env.dir)
	require.Error(t, err)
}

func TestProjectCommands(t *testing.T) {
	env := newTestEnv(t)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, controlapi.StatusResponse{Projects: []controlapi.ProjectStatus{
			{ID: "my-song", AppType: "logic", Root: "/music/My Song.logicx"},
		}})
	})
	mux.HandleFunc("POST /v1/projects", func(w http.ResponseWriter, r *http.Request) {
		var req controlapi.AddProjectRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, controlapi.ProjectStatus{ID: daemon.ProjectKey(req.Root), AppType: "generic", Root: req.Root})
	})
	mux.HandleFunc("DELETE /v1/projects/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "my-song" {
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, controlapi.ErrorResponse{Error: controlapi.ErrorBody{Code: controlapi.CodeNotFound, Message: "project not found"}})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	env.withDaemon(t, mux)
	cfg := env.config(t, "alice")

	out, err := executeCommand(t, "--config", cfg, "project", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "my-song")
	assert.Contains(t, out, "logic")

	out, err = executeCommand(t, "--config", cfg, "project", "add", env.dir)
	require.NoError(t, err)
	assert.Contains(t, out, "watching "+daemon.ProjectKey(env.dir))

	out, err = executeCommand(t, "--config", cfg, "project", "remove", "my-song")
	require.NoError(t, err)
	assert.Contains(t, out, "removed my-song")

	_, err = executeCommand(t, "--config", cfg, "project", "remove", "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not_found")
}

func TestCommitCommand(t *testing.T) {
	env := newTestEnv(t)
	var got controlapi.CommitRequest
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/projects/{id}/commit", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		switch r.PathValue("id") {
		case "offline":
			w.WriteHeader(http.StatusAccepted)
			writeJSON(w, controlapi.CommitResponse{Queued: true})
		default:
			writeJSON(w, controlapi.CommitResponse{CommitID: "abc123"})
		}
	})
	env.withDaemon(t, mux)
	cfg := env.config(t, "alice")

	out, err := executeCommand(t, "--config", cfg, "commit", "my-song", "-m", "Final mix", "--bpm", "120", "--tag", "mix")
	require.NoError(t, err)
	assert.Contains(t, out, "committed abc123")
	require.NotNil(t, got.Metadata)
	assert.Equal(t, "Final mix", got.Metadata.Message)
	assert.Equal(t, []string{"mix"}, got.Metadata.Tags)

	out, err = executeCommand(t, "--config", cfg, "commit", "offline")
	require.NoError(t, err)
	assert.Contains(t, out, "queued for replay")
	assert.Nil(t, got.Metadata)
}

func TestStatusCommand(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config(t, "alice")

	_, err := executeCommand(t, "--config", cfg, "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon not reachable")

	env.withDaemon(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, controlapi.StatusResponse{Version: "9.9", Online: true, Projects: []controlapi.ProjectStatus{
			{ID: "house", State: "idle", QueueDepth: 2},
		}})
	}))
	out, err := executeCommand(t, "--config", cfg, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "house")
	assert.Contains(t, out, "9.9")

	out, err = executeCommand(t, "--config", cfg, "status", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"queue_depth": 2`)

	_, err = executeCommand(t, "--config", cfg, "status", "--watch")
	require.Error(t, err, "the dashboard needs a terminal")
}

func TestQueueCommands(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config(t, "alice")

	q, err := offlinequeue.Open(offlinequeue.Options{Dir: daemon.ProjectStateDir(env.stateDir, "song"), ProjectID: "song"})
	require.NoError(t, err)
	_, err = q.Enqueue(offlinequeue.KindCommit, offlinequeue.CommitPayload{Message: "auto"}, errors.New("network down"))
	require.NoError(t, err)

	out, err := executeCommand(t, "--config", cfg, "queue", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "song (1 queued)")
	assert.Contains(t, out, "commit")
	assert.Contains(t, out, "network down")

	_, err = executeCommand(t, "--config", cfg, "queue", "clear", "song")
	require.Error(t, err, "clear requires --yes")

	out, err = executeCommand(t, "--config", cfg, "queue", "clear", "song", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "cleared 1 entries")

	out, err = executeCommand(t, "--config", cfg, "queue", "list", "song")
	require.NoError(t, err)
	assert.Contains(t, out, "offline queue is empty")
}

func TestQueueFlush(t *testing.T) {
	env := newTestEnv(t)
	env.withDaemon(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/projects/song/replay", r.URL.Path)
		writeJSON(w, controlapi.ReplayResponse{Replayed: 2, Blocked: true, Remaining: 1})
	}))
	out, err := executeCommand(t, "--config", env.config(t, "alice"), "queue", "flush", "song")
	require.NoError(t, err)
	assert.Contains(t, out, "replayed 2, failed 0, dropped 0, 1 remaining")
	assert.Contains(t, out, "waiting for its next attempt")
}

func TestIgnoreCommands(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config(t, "alice")
	project := t.TempDir()

	out, err := executeCommand(t, "--config", cfg, "ignore", "show", "--type", "logic", project)
	require.NoError(t, err)
	assert.Contains(t, out, "# Application: logic")
	assert.Contains(t, out, ".DS_Store")

	_, err = executeCommand(t, "--config", cfg, "ignore", "show", "--type", "nope", project)
	require.Error(t, err)

	out, err = executeCommand(t, "--config", cfg, "ignore", "write", project)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote")
	assert.FileExists(t, filepath.Join(project, ".gitignore"))

	out, err = executeCommand(t, "--config", cfg, "ignore", "write", project)
	require.NoError(t, err)
	assert.Contains(t, out, "unchanged")

	out, err = executeCommand(t, "--config", cfg, "ignore", "check", "--project", project, ".DS_Store", "mix.wav")
	require.NoError(t, err)
	assert.Contains(t, out, "ignored .DS_Store (.DS_Store)")
	assert.Contains(t, out, "tracked mix.wav")
}

func TestConfigCommands(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config(t, "alice")

	out, err := executeCommand(t, "--config", cfg, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "debounce_seconds: 30")
	assert.Contains(t, out, "holder: alice")

	out, err = executeCommand(t, "--config", cfg, "config", "path")
	require.NoError(t, err)
	assert.Contains(t, out, cfg)
}

func TestConfigCommands_InvalidFile(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(env.dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("watch:\n  debounce_seconds: -1\n"), 0o644))
	_, err := executeCommand(t, "--config", path, "config", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}
