package lockclient

import (
	"context"
	"time"

	auxerrors "github.com/jbacus/auxin/internal/errors"
)

// HeartbeatCallbacks receive heartbeat outcomes. Both are optional and are
// called on the heartbeater's goroutine.
type HeartbeatCallbacks struct {
	// OnLost is called once when the service reports the lock gone or
	// superseded. The heartbeater stops afterwards.
	OnLost func(err error)
	// OnNetworkError is called for every transient failure.
	OnNetworkError func(err error)
}

// Heartbeater refreshes a held lock periodically.
type Heartbeater struct {
	client   *Client
	interval time.Duration
	cb       HeartbeatCallbacks
}

// NewHeartbeater creates a heartbeater for c.
func (c *Client) NewHeartbeater(interval time.Duration, cb HeartbeatCallbacks) *Heartbeater {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Heartbeater{client: c, interval: interval, cb: cb}
}

// Run heartbeats until ctx is done or the lock is lost. It returns nil on
// cancellation and the loss error otherwise.
func (h *Heartbeater) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	logger := h.client.logger.WithOperation("heartbeat")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		rec, err := h.client.Heartbeat(ctx)
		switch {
		case err == nil:
			logger.Debug("lock extended", "expires_at", rec.ExpiresAt)
		case ctx.Err() != nil:
			return nil
		case auxerrors.IsLockGone(err) || auxerrors.Is(err, auxerrors.ErrNotHolder):
			logger.Warn("lock lost", "error", err)
			if h.cb.OnLost != nil {
				h.cb.OnLost(err)
			}
			return err
		case auxerrors.IsRetryable(err):
			logger.Warn("heartbeat failed, will retry", "error", err)
			if h.cb.OnNetworkError != nil {
				h.cb.OnNetworkError(err)
			}
		default:
			logger.Error("heartbeat failed", "error", err)
		}
	}
}
