package lockservice

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auxerrors "github.com/jbacus/auxin/internal/errors"
	"github.com/jbacus/auxin/internal/lockapi"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func openStore(t *testing.T, clock *fakeClock) *Store {
	t.Helper()
	opts := []Option{}
	if clock != nil {
		opts = append(opts, WithClock(clock.Now))
	}
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "locks.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

const repo = "studio/song"

func TestMigrationsAreIdempotent(t *testing.T) {
	s := openStore(t, nil)
	ctx := context.Background()
	require.NoError(t, ApplyMigrations(ctx, s.DB()))

	v, err := SchemaVersion(ctx, s.DB())
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
}

func TestAcquireConflictLeavesRecordUnmodified(t *testing.T) {
	clock := newFakeClock()
	s := openStore(t, clock)
	ctx := context.Background()

	a, err := s.Acquire(ctx, repo, "alice", "mbp", time.Hour)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = s.Acquire(ctx, repo, "bob", "studio-pc", time.Hour)
	require.Error(t, err)
	assert.True(t, auxerrors.IsLockConflict(err))

	holder, expires, ok := auxerrors.ConflictDetails(err)
	require.True(t, ok)
	assert.Equal(t, "alice", holder)
	assert.True(t, expires.Equal(a.ExpiresAt))

	cur, err := s.Status(ctx, repo)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, a.LockID, cur.LockID)
	assert.True(t, cur.ExpiresAt.Equal(a.ExpiresAt))
	assert.True(t, cur.LastHeartbeatAt.Equal(a.LastHeartbeatAt))
}

func TestReacquireBySameHolderKeepsLockID(t *testing.T) {
	clock := newFakeClock()
	s := openStore(t, clock)
	ctx := context.Background()

	first, err := s.Acquire(ctx, repo, "alice", "mbp", time.Hour)
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)
	second, err := s.Acquire(ctx, repo, "alice", "mbp", time.Hour)
	require.NoError(t, err)

	assert.Equal(t, first.LockID, second.LockID)
	assert.True(t, second.ExpiresAt.After(first.ExpiresAt))

	_, err = s.Acquire(ctx, repo, "alice", "other-machine", time.Hour)
	assert.True(t, auxerrors.IsLockConflict(err), "same holder on another machine must conflict")
}

func TestReleaseThenAcquireByOtherHolder(t *testing.T) {
	s := openStore(t, nil)
	ctx := context.Background()

	a, err := s.Acquire(ctx, repo, "alice", "mbp", time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, repo, a.LockID))

	b, err := s.Acquire(ctx, repo, "bob", "studio-pc", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "bob", b.Holder)
	assert.NotEqual(t, a.LockID, b.LockID)
}

func TestReleaseErrors(t *testing.T) {
	s := openStore(t, nil)
	ctx := context.Background()

	err := s.Release(ctx, repo, "nope")
	assert.ErrorIs(t, err, auxerrors.ErrLockNotFound)

	_, err = s.Acquire(ctx, repo, "alice", "mbp", time.Hour)
	require.NoError(t, err)
	err = s.Release(ctx, repo, "wrong-token")
	assert.ErrorIs(t, err, auxerrors.ErrNotHolder)
}

func TestHeartbeatNeverDecreasesExpiry(t *testing.T) {
	clock := newFakeClock()
	s := openStore(t, clock)
	ctx := context.Background()

	rec, err := s.Acquire(ctx, repo, "alice", "mbp", 4*time.Hour)
	require.NoError(t, err)
	prev := rec.ExpiresAt

	steps := []struct {
		advance time.Duration
		timeout time.Duration
	}{
		{time.Minute, 4 * time.Hour},
		{time.Minute, time.Minute}, // shorter extension must not shrink expiry
		{time.Hour, 4 * time.Hour},
		{0, time.Second},
	}
	for i, step := range steps {
		clock.Advance(step.advance)
		hb, err := s.Heartbeat(ctx, repo, rec.LockID, step.timeout)
		require.NoError(t, err, "step %d", i)
		assert.False(t, hb.ExpiresAt.Before(prev), "step %d: expiry moved backwards", i)
		prev = hb.ExpiresAt
	}
}

func TestHeartbeatErrors(t *testing.T) {
	clock := newFakeClock()
	s := openStore(t, clock)
	ctx := context.Background()

	_, err := s.Heartbeat(ctx, repo, "none", time.Hour)
	assert.ErrorIs(t, err, auxerrors.ErrLockNotFound)

	rec, err := s.Acquire(ctx, repo, "alice", "mbp", time.Hour)
	require.NoError(t, err)

	_, err = s.Heartbeat(ctx, repo, "other", time.Hour)
	assert.ErrorIs(t, err, auxerrors.ErrNotHolder)

	clock.Advance(2 * time.Hour)
	_, err = s.Heartbeat(ctx, repo, rec.LockID, time.Hour)
	assert.ErrorIs(t, err, auxerrors.ErrLockExpired)

	entries, err := s.Activity(ctx, repo, 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, lockapi.ActivityExpired, entries[0].Kind)
}

func TestExpiredLockIsUnlocked(t *testing.T) {
	clock := newFakeClock()
	s := openStore(t, clock)
	ctx := context.Background()

	_, err := s.Acquire(ctx, repo, "alice", "mbp", time.Hour)
	require.NoError(t, err)

	clock.Advance(time.Hour) // expires_at == now counts as expired
	cur, err := s.Status(ctx, repo)
	require.NoError(t, err)
	assert.Nil(t, cur)

	b, err := s.Acquire(ctx, repo, "bob", "pc", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "bob", b.Holder)
}

func TestForceBreakInvalidatesOldToken(t *testing.T) {
	s := openStore(t, nil)
	ctx := context.Background()

	a, err := s.Acquire(ctx, repo, "alice", "mbp", time.Hour)
	require.NoError(t, err)

	b, err := s.ForceBreak(ctx, repo, "bob", "pc", time.Hour, "admin")
	require.NoError(t, err)
	assert.NotEqual(t, a.LockID, b.LockID)

	_, err = s.Heartbeat(ctx, repo, a.LockID, time.Hour)
	require.Error(t, err)
	assert.ErrorIs(t, err, auxerrors.ErrNotHolder)

	_, err = s.Heartbeat(ctx, repo, b.LockID, time.Hour)
	assert.NoError(t, err)

	entries, err := s.Activity(ctx, repo, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, lockapi.ActivityForceBroken, entries[0].Kind)
	assert.Equal(t, "admin", entries[0].Actor)
	assert.Contains(t, entries[0].Detail, "alice")
}

func TestConcurrentAcquireSingleHolder(t *testing.T) {
	s := openStore(t, nil)
	ctx := context.Background()

	const holders = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < holders; i++ {
		holder := fmt.Sprintf("user-%d", i)
		wg.Go(func() {
			rec, err := s.Acquire(ctx, repo, holder, "machine-"+holder, time.Hour)
			if err != nil {
				if !auxerrors.IsLockConflict(err) {
					t.Errorf("unexpected error for %s: %v", holder, err)
				}
				return
			}
			mu.Lock()
			winners = append(winners, rec.Holder)
			mu.Unlock()
		})
	}
	wg.Wait()

	require.Len(t, winners, 1, "exactly one holder may win")

	var live int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM locks WHERE repository_id = ?`, repo).Scan(&live))
	assert.Equal(t, 1, live)

	cur, err := s.Status(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, winners[0], cur.Holder)
}

func TestCleanupRemovesExpired(t *testing.T) {
	clock := newFakeClock()
	s := openStore(t, clock)
	ctx := context.Background()

	_, err := s.Acquire(ctx, "a/one", "alice", "mbp", time.Hour)
	require.NoError(t, err)
	_, err = s.Acquire(ctx, "a/two", "alice", "mbp", 3*time.Hour)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	n, err := s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cur, err := s.Status(ctx, "a/two")
	require.NoError(t, err)
	assert.NotNil(t, cur)
}

func TestAcquireValidation(t *testing.T) {
	s := openStore(t, nil)
	_, err := s.Acquire(context.Background(), repo, "", "mbp", time.Hour)
	assert.ErrorIs(t, err, auxerrors.ErrInvalidInput)
	_, err = s.Acquire(context.Background(), repo, "alice", "mbp", 0)
	assert.ErrorIs(t, err, auxerrors.ErrInvalidInput)
}
