// Package powerhook commits pending work when the machine is about to
// sleep, shut down or lose the session.
//
// The hook listens to a [Source] of power notices. Each notice forces a
// commit across all projects, bounded by a short deadline so the OS is
// never held up. Failures are logged and published, never returned to the
// source.
package powerhook

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jbacus/auxin/internal/commitmsg"
	"github.com/jbacus/auxin/internal/event"
	"github.com/jbacus/auxin/internal/logging"
)

// DefaultDeadline bounds a forced commit when none is configured.
const DefaultDeadline = 2 * time.Second

// Notice is one power event.
type Notice struct {
	Reason string
	// Terminate means the process is expected to exit afterwards.
	Terminate bool
}

// Source delivers power notices until stop is called.
type Source interface {
	Subscribe() (notices <-chan Notice, stop func())
}

// Committer forces commits of pending changes.
type Committer interface {
	CommitAll(ctx context.Context, reason commitmsg.Reason) (int, error)
}

// SignalSource turns OS signals into notices. SIGHUP commits and keeps
// running; SIGINT and SIGTERM commit and terminate.
type SignalSource struct{}

// Subscribe registers for SIGHUP, SIGINT and SIGTERM.
func (SignalSource) Subscribe() (<-chan Notice, func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	out := make(chan Notice, 1)
	done := make(chan struct{})
	var once sync.Once
	go func() {
		defer close(out)
		for {
			select {
			case sig := <-sigs:
				n := Notice{Reason: sig.String(), Terminate: sig != syscall.SIGHUP}
				select {
				case out <- n:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()
	return out, func() {
		once.Do(func() {
			signal.Stop(sigs)
			close(done)
		})
	}
}

// Result summarizes one forced commit pass.
type Result struct {
	Reason    string
	Committed int
	Failed    int
	Duration  time.Duration
}

// Options configures a Hook.
type Options struct {
	Committer Committer
	// Source defaults to SignalSource.
	Source   Source
	Deadline time.Duration
	Bus      *event.Bus
	Logger   *logging.Logger
}

// Hook runs forced commits on power notices.
type Hook struct {
	opts   Options
	logger *logging.Logger

	// mu keeps triggers from overlapping.
	mu sync.Mutex
}

// New creates a Hook.
func New(opts Options) *Hook {
	if opts.Source == nil {
		opts.Source = SignalSource{}
	}
	if opts.Deadline <= 0 {
		opts.Deadline = DefaultDeadline
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	return &Hook{opts: opts, logger: opts.Logger.WithComponent("powerhook")}
}

// Run handles notices until ctx is done or a terminating notice has been
// handled. It returns nil in both cases.
func (h *Hook) Run(ctx context.Context) error {
	notices, stop := h.opts.Source.Subscribe()
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-notices:
			if !ok {
				return nil
			}
			h.Trigger(ctx, n.Reason)
			if n.Terminate {
				h.logger.Info("terminating after power notice", "reason", n.Reason)
				return nil
			}
		}
	}
}

// Trigger forces a commit on every project and waits at most the
// configured deadline. The commit runs even when ctx is already canceled,
// since shutdown is the common reason to be here.
func (h *Hook) Trigger(ctx context.Context, reason string) Result {
	h.mu.Lock()
	defer h.mu.Unlock()

	start := time.Now()
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.opts.Deadline)
	defer cancel()

	type outcome struct {
		committed int
		err       error
	}
	done := make(chan outcome, 1)
	go func() {
		n, err := h.opts.Committer.CommitAll(tctx, commitmsg.ReasonPower)
		done <- outcome{n, err}
	}()

	res := Result{Reason: reason}
	select {
	case o := <-done:
		res.Committed = o.committed
		res.Failed = countErrors(o.err)
		if o.err != nil {
			h.logger.Warn("forced commit incomplete", "reason", reason, "error", o.err)
		}
	case <-tctx.Done():
		res.Failed = -1
		h.logger.Warn("forced commit deadline reached", "reason", reason, "deadline", h.opts.Deadline)
	}
	res.Duration = time.Since(start)

	h.logger.Info("power notice handled",
		"reason", reason,
		"committed", res.Committed,
		"failed", res.Failed,
		"duration", res.Duration)
	if h.opts.Bus != nil {
		h.opts.Bus.Publish(event.NewPowerTriggeredEvent(reason, res.Committed, res.Failed))
	}
	return res
}

// countErrors counts the leaves of a joined error.
func countErrors(err error) int {
	if err == nil {
		return 0
	}
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		return len(joined.Unwrap())
	}
	return 1
}
