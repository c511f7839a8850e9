package offlinequeue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auxerrors "github.com/jbacus/auxin/internal/errors"
	"github.com/jbacus/auxin/internal/event"
	"github.com/jbacus/auxin/internal/logging"
	"github.com/jbacus/auxin/internal/retry"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errOffline = auxerrors.NewNetworkError("commit", errors.New("connection refused"))

func openQueue(t *testing.T, dir string, clk *clock, bus *event.Bus) *Queue {
	t.Helper()
	q, err := Open(Options{
		Dir:         dir,
		ProjectID:   "studio/song",
		TTL:         7 * 24 * time.Hour,
		MaxAttempts: 3,
		Backoff:     retry.Policy{Initial: time.Minute, Max: time.Hour, Multiplier: 2},
		Bus:         bus,
		Now:         clk.Now,
	})
	require.NoError(t, err)
	return q
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func TestEnqueue_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	clk := newClock()
	q := openQueue(t, dir, clk, nil)

	_, err := q.Enqueue(KindCommit, CommitPayload{Message: "Auto-save"}, errOffline)
	require.NoError(t, err)
	_, err = q.Enqueue(KindPush, PushPayload{Branch: "draft"}, nil)
	require.NoError(t, err)

	reopened := openQueue(t, dir, clk, nil)
	entries := reopened.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, KindCommit, entries[0].Kind)
	assert.Equal(t, KindPush, entries[1].Kind)
	assert.Equal(t, "studio/song", entries[0].ProjectID)
	assert.Contains(t, entries[0].LastError, "connection refused")

	var payload CommitPayload
	require.NoError(t, entries[0].Decode(&payload))
	assert.Equal(t, "Auto-save", payload.Message)

	fromDisk, err := ReadEntries(dir)
	require.NoError(t, err)
	assert.Len(t, fromDisk, 2)
}

func TestReplay_ExactlyOnceAndRemoved(t *testing.T) {
	clk := newClock()
	q := openQueue(t, t.TempDir(), clk, nil)
	entry, err := q.Enqueue(KindCommit, CommitPayload{Message: "Auto-save"}, errOffline)
	require.NoError(t, err)

	var runs atomic.Int32
	exec := func(ctx context.Context, e Entry) error {
		assert.Equal(t, entry.ID, e.ID)
		runs.Add(1)
		return nil
	}

	var wg sync.WaitGroup
	for range 4 {
		wg.Go(func() {
			_, err := q.Replay(context.Background(), exec)
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	assert.EqualValues(t, 1, runs.Load())
	assert.Zero(t, q.Len())
}

func TestReplay_FIFOAndBackoffBlocksLaterEntries(t *testing.T) {
	clk := newClock()
	q := openQueue(t, t.TempDir(), clk, nil)
	first, _ := q.Enqueue(KindCommit, nil, nil)
	_, _ = q.Enqueue(KindPush, nil, nil)

	var order []Kind
	failFirst := true
	exec := func(ctx context.Context, e Entry) error {
		order = append(order, e.Kind)
		if e.ID == first.ID && failFirst {
			return errOffline
		}
		return nil
	}

	res, err := q.Replay(context.Background(), exec)
	require.NoError(t, err)
	assert.Equal(t, ReplayResult{Failed: 1}, res)
	assert.Equal(t, []Kind{KindCommit}, order, "later entry must wait")

	head := q.Entries()[0]
	assert.Equal(t, 1, head.AttemptCount)
	assert.Equal(t, clk.Now().Add(time.Minute), head.NextAttemptAt)

	res, err = q.Replay(context.Background(), exec)
	require.NoError(t, err)
	assert.True(t, res.Blocked, "head not yet due")
	assert.Len(t, order, 1)

	clk.Advance(time.Minute)
	failFirst = false
	res, err = q.Replay(context.Background(), exec)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Replayed)
	assert.Equal(t, []Kind{KindCommit, KindCommit, KindPush}, order)
	assert.Zero(t, q.Len())
}

func TestReplay_DropsAfterMaxAttempts(t *testing.T) {
	clk := newClock()
	bus := event.NewBus(logging.NopLogger())
	var drops []event.QueueEvent
	bus.Subscribe(event.TypeQueueDropped, func(e event.Event) {
		drops = append(drops, e.(event.QueueEvent))
	})
	q := openQueue(t, t.TempDir(), clk, bus)
	_, _ = q.Enqueue(KindHeartbeat, LockPayload{LockID: "l1"}, nil)

	fail := func(context.Context, Entry) error { return errOffline }
	for i := 0; i < 3; i++ {
		_, err := q.Replay(context.Background(), fail)
		require.NoError(t, err)
		clk.Advance(time.Hour)
	}

	assert.Zero(t, q.Len())
	require.Len(t, drops, 1)
	assert.Equal(t, DropAttempts, drops[0].Reason)
	assert.Equal(t, 3, drops[0].Attempts)
}

func TestReplay_DropsExpiredEntries(t *testing.T) {
	clk := newClock()
	q := openQueue(t, t.TempDir(), clk, nil)
	_, _ = q.Enqueue(KindCommit, nil, nil)
	clk.Advance(8 * 24 * time.Hour)
	_, _ = q.Enqueue(KindPush, nil, nil)

	var ran []Kind
	res, err := q.Replay(context.Background(), func(_ context.Context, e Entry) error {
		ran = append(ran, e.Kind)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, 1, res.Replayed)
	assert.Equal(t, []Kind{KindPush}, ran)
}

func TestReplay_TerminalErrorDrops(t *testing.T) {
	q := openQueue(t, t.TempDir(), newClock(), nil)
	_, _ = q.Enqueue(KindPush, PushPayload{Branch: "draft"}, nil)

	res, err := q.Replay(context.Background(), func(context.Context, Entry) error {
		return auxerrors.NewDivergenceError("a", "b")
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dropped)
	assert.Zero(t, q.Len())
}

func TestReplay_CanceledContext(t *testing.T) {
	q := openQueue(t, t.TempDir(), newClock(), nil)
	_, _ = q.Enqueue(KindCommit, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Replay(ctx, func(context.Context, Entry) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, q.Len())
}

func TestClearAndNextDue(t *testing.T) {
	clk := newClock()
	q := openQueue(t, t.TempDir(), clk, nil)
	_, ok := q.NextDue()
	assert.False(t, ok)

	_, _ = q.Enqueue(KindCommit, nil, nil)
	due, ok := q.NextDue()
	assert.True(t, ok)
	assert.Equal(t, clk.Now(), due)

	n, err := q.Clear()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, q.Len())
}

func TestOpen_Validation(t *testing.T) {
	_, err := Open(Options{})
	assert.ErrorIs(t, err, auxerrors.ErrInvalidInput)
}

func TestReadEntries_MissingDir(t *testing.T) {
	entries, err := ReadEntries(t.TempDir() + "/nope")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
