// Package internal holds cross-package tests: two collaborators sharing a
// lock service, each with their own commit orchestrator.
package internal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbacus/auxin/internal/apptype"
	"github.com/jbacus/auxin/internal/commitmsg"
	"github.com/jbacus/auxin/internal/draft"
	auxerrors "github.com/jbacus/auxin/internal/errors"
	"github.com/jbacus/auxin/internal/event"
	"github.com/jbacus/auxin/internal/lockclient"
	"github.com/jbacus/auxin/internal/lockservice"
	"github.com/jbacus/auxin/internal/offlinequeue"
	"github.com/jbacus/auxin/internal/orchestrator"
	"github.com/jbacus/auxin/internal/retry"
	"github.com/jbacus/auxin/internal/testutil"
)

// flakyService fronts the lock service and can simulate an outage.
type flakyService struct {
	next http.Handler
	down atomic.Bool
}

func (f *flakyService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.down.Load() {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	f.next.ServeHTTP(w, r)
}

type collaborator struct {
	client *lockclient.Client
	orch   *orchestrator.Orchestrator
	lane   *orchestrator.Lane
	engine *testutil.FakeEngine
	queue  *offlinequeue.Queue
	bus    *event.Bus
}

func newCollaborator(t *testing.T, serverURL, holder string) *collaborator {
	t.Helper()
	backoff := retry.Policy{Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2}
	bus := event.NewBus(nil)

	client, err := lockclient.New(lockclient.Options{
		ServerURL:      serverURL,
		Namespace:      "studio",
		Repository:     "song",
		Holder:         holder,
		MachineID:      holder + "-mac",
		LockTimeout:    time.Hour,
		RequestTimeout: 2 * time.Second,
	})
	require.NoError(t, err)

	root := t.TempDir()
	engine := testutil.NewFakeEngine(root)
	dm, err := draft.New(draft.Options{
		Engine:     engine,
		Fs:         afero.NewMemMapFs(),
		StateDir:   "/state/song",
		Branch:     "draft",
		MainBranch: "main",
		MaxCommits: 100,
	})
	require.NoError(t, err)
	require.NoError(t, dm.Initialize(context.Background()))

	queue, err := offlinequeue.Open(offlinequeue.Options{
		Dir:       t.TempDir(),
		ProjectID: "song",
		Backoff:   backoff,
		Bus:       bus,
	})
	require.NoError(t, err)

	orch := orchestrator.New(orchestrator.Options{
		Debounce:    time.Hour,
		MaxAttempts: 2,
		Backoff:     backoff,
		Bus:         bus,
	})
	t.Cleanup(func() { _ = orch.Shutdown(context.Background()) })

	lane, err := orch.AddProject(orchestrator.Project{
		ID:         "song",
		Root:       root,
		Capability: apptype.Generic{},
		Engine:     engine,
		Lock:       client,
		Draft:      dm,
		Queue:      queue,
	})
	require.NoError(t, err)

	return &collaborator{client: client, orch: orch, lane: lane, engine: engine, queue: queue, bus: bus}
}

func TestTwoCollaboratorsShareOneLock(t *testing.T) {
	ctx := context.Background()
	store, err := lockservice.Open(ctx, filepath.Join(t.TempDir(), "locks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	front := &flakyService{next: lockservice.NewServer(store, nil, lockservice.ServerOptions{}).Handler()}
	srv := httptest.NewServer(front)
	t.Cleanup(srv.Close)

	alice := newCollaborator(t, srv.URL, "alice")
	bob := newCollaborator(t, srv.URL, "bob")
	// Draft initialization may record a commit of its own.
	base := len(bob.engine.Messages())

	// Alice holds the lock and her snapshot lands on her draft branch.
	_, err = alice.client.Acquire(ctx)
	require.NoError(t, err)
	id, err := alice.lane.CommitNow(ctx, commitmsg.ReasonManual)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// Bob can neither commit nor take the lock, and learns who holds it.
	_, err = bob.lane.CommitNow(ctx, commitmsg.ReasonManual)
	assert.ErrorIs(t, err, auxerrors.ErrNotHolder)
	_, err = bob.client.Acquire(ctx)
	require.Error(t, err)
	holder, expires, ok := auxerrors.ConflictDetails(err)
	require.True(t, ok)
	assert.Equal(t, "alice", holder)
	assert.True(t, expires.After(time.Now()))
	assert.Len(t, bob.engine.Messages(), base)

	// Once Alice releases, Bob takes over.
	require.NoError(t, alice.client.Release(ctx))
	_, err = bob.client.Acquire(ctx)
	require.NoError(t, err)
	_, err = bob.lane.CommitNow(ctx, commitmsg.ReasonManual)
	require.NoError(t, err)
	committed := len(bob.engine.Messages())
	assert.Equal(t, base+1, committed)

	// During an outage Bob's work is queued, not lost.
	front.down.Store(true)
	_, err = bob.lane.CommitNow(ctx, commitmsg.ReasonManual)
	assert.ErrorIs(t, err, orchestrator.ErrQueued)
	assert.Equal(t, 1, bob.queue.Len())

	// When the service returns, the entry replays exactly once.
	front.down.Store(false)
	res, err := bob.lane.Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Replayed)
	assert.Zero(t, bob.queue.Len())
	assert.Len(t, bob.engine.Messages(), committed+1)

	res, err = bob.lane.Replay(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Replayed)
	assert.Len(t, bob.engine.Messages(), committed+1)
}
