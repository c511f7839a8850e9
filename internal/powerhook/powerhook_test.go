package powerhook

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbacus/auxin/internal/commitmsg"
	"github.com/jbacus/auxin/internal/event"
	"github.com/jbacus/auxin/internal/logging"
)

type chanSource struct {
	ch      chan Notice
	stopped atomic.Bool
}

func newChanSource() *chanSource { return &chanSource{ch: make(chan Notice, 4)} }

func (s *chanSource) Subscribe() (<-chan Notice, func()) {
	return s.ch, func() { s.stopped.Store(true) }
}

type fakeCommitter struct {
	mu      sync.Mutex
	calls   int
	reasons []commitmsg.Reason
	n       int
	err     error
	block   bool
	ctxErr  error
}

func (f *fakeCommitter) CommitAll(ctx context.Context, reason commitmsg.Reason) (int, error) {
	f.mu.Lock()
	f.calls++
	f.reasons = append(f.reasons, reason)
	block := f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		f.mu.Lock()
		f.ctxErr = ctx.Err()
		f.mu.Unlock()
		return 0, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return f.n, f.err
}

func TestTrigger_CommitsWithPowerReason(t *testing.T) {
	bus := event.NewBus(logging.NopLogger())
	var got []event.PowerTriggeredEvent
	bus.Subscribe(event.TypePowerTriggered, func(e event.Event) {
		got = append(got, e.(event.PowerTriggeredEvent))
	})
	c := &fakeCommitter{n: 2, err: errors.Join(errors.New("a"), errors.New("b"))}
	h := New(Options{Committer: c, Source: newChanSource(), Bus: bus})

	res := h.Trigger(context.Background(), "sleep")

	assert.Equal(t, 2, res.Committed)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, []commitmsg.Reason{commitmsg.ReasonPower}, c.reasons)
	require.Len(t, got, 1)
	assert.Equal(t, "sleep", got[0].Reason)
	assert.Equal(t, 2, got[0].Committed)
}

func TestTrigger_RunsAfterParentCanceled(t *testing.T) {
	c := &fakeCommitter{n: 1}
	h := New(Options{Committer: c, Source: newChanSource()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := h.Trigger(ctx, "terminated")

	assert.Equal(t, 1, res.Committed)
	assert.Zero(t, res.Failed)
}

func TestTrigger_BoundedByDeadline(t *testing.T) {
	c := &fakeCommitter{block: true}
	h := New(Options{Committer: c, Source: newChanSource(), Deadline: 30 * time.Millisecond})

	start := time.Now()
	res := h.Trigger(context.Background(), "sleep")

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, -1, res.Failed)
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return errors.Is(c.ctxErr, context.DeadlineExceeded)
	}, time.Second, 5*time.Millisecond, "committer sees the deadline")
}

func TestRun_HangupKeepsRunning(t *testing.T) {
	src := newChanSource()
	c := &fakeCommitter{}
	h := New(Options{Committer: c, Source: src})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	src.ch <- Notice{Reason: "hangup"}
	src.ch <- Notice{Reason: "hangup"}
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.calls == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.True(t, src.stopped.Load())
}

func TestRun_TerminateReturns(t *testing.T) {
	src := newChanSource()
	c := &fakeCommitter{}
	h := New(Options{Committer: c, Source: src})

	src.ch <- Notice{Reason: "terminated", Terminate: true}
	require.NoError(t, h.Run(context.Background()))
	assert.Equal(t, 1, c.calls)
}

func TestCountErrors(t *testing.T) {
	assert.Zero(t, countErrors(nil))
	assert.Equal(t, 1, countErrors(errors.New("x")))
	assert.Equal(t, 3, countErrors(errors.Join(errors.New("a"), errors.New("b"), errors.New("c"))))
}
