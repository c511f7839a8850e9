// Package lockclient talks to the lock service on behalf of one repository.
// The service's expires_at is the only source of truth: the client keeps a
// cache of the last record it saw for display, and Owns re-validates with
// the service before every commit.
package lockclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	auxerrors "github.com/jbacus/auxin/internal/errors"
	"github.com/jbacus/auxin/internal/lockapi"
	"github.com/jbacus/auxin/internal/logging"
)

const defaultRequestTimeout = 10 * time.Second

// Options configures a Client.
type Options struct {
	// ServerURL is the service root, e.g. "http://localhost:3000".
	ServerURL string
	Namespace string
	// Repository is the repository name within Namespace.
	Repository string
	Holder     string
	MachineID  string
	// LockTimeout is requested on acquire and heartbeat.
	LockTimeout time.Duration
	// RequestTimeout bounds each HTTP request (default: 10s).
	RequestTimeout time.Duration
	HTTPClient     *http.Client
	Logger         *logging.Logger
	// Now overrides the clock used for expiry checks.
	Now func() time.Time
}

// Client is a lock service client bound to one repository.
type Client struct {
	rootURL string
	repoURL string
	repoID  string
	opts    Options
	http    *http.Client
	cache   *Cache
	logger  *logging.Logger
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(opts.ServerURL, "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, auxerrors.NewValidationError("server URL must be an absolute http(s) URL").WithField("server_url").WithValue(opts.ServerURL)
	}
	if opts.Namespace == "" || opts.Repository == "" {
		return nil, auxerrors.NewValidationError("namespace and repository are required").WithField("repository")
	}
	if opts.Holder == "" || opts.MachineID == "" {
		return nil, auxerrors.NewValidationError("holder and machine id are required").WithField("holder")
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 4 * time.Hour
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	root := u.String()
	return &Client{
		rootURL: root,
		repoURL: fmt.Sprintf("%s/api/repos/%s/%s", root, url.PathEscape(opts.Namespace), url.PathEscape(opts.Repository)),
		repoID:  lockapi.RepositoryID(opts.Namespace, opts.Repository),
		opts:    opts,
		http:    opts.HTTPClient,
		cache:   &Cache{},
		logger:  opts.Logger.WithComponent("lockclient").With("repository_id", lockapi.RepositoryID(opts.Namespace, opts.Repository)),
	}, nil
}

// RepositoryID returns "namespace/name".
func (c *Client) RepositoryID() string { return c.repoID }

// Holder returns the identity this client acquires as.
func (c *Client) Holder() string { return c.opts.Holder }

// Cache returns the client's last-known lock state.
func (c *Client) Cache() *Cache { return c.cache }

// Acquire requests the lock. A conflict is returned as a LockError carrying
// the current holder and expiry.
func (c *Client) Acquire(ctx context.Context) (*lockapi.Lock, error) {
	var rec lockapi.Lock
	err := c.do(ctx, "acquire", http.MethodPost, c.repoURL+"/locks/acquire", lockapi.AcquireRequest{
		Holder:       c.opts.Holder,
		MachineID:    c.opts.MachineID,
		TimeoutHours: c.opts.LockTimeout.Hours(),
	}, &rec)
	if err != nil {
		return nil, err
	}
	c.cache.set(&rec, c.opts.Now())
	c.logger.Info("lock acquired", "lock_id", rec.LockID, "expires_at", rec.ExpiresAt)
	return &rec, nil
}

// Release frees the lock this client holds.
func (c *Client) Release(ctx context.Context) error {
	id, err := c.token(ctx)
	if err != nil {
		return err
	}
	if err := c.do(ctx, "release", http.MethodPost, c.repoURL+"/locks/release", lockapi.TokenRequest{LockID: id}, nil); err != nil {
		if auxerrors.IsLockGone(err) || auxerrors.Is(err, auxerrors.ErrNotHolder) {
			c.cache.clear(c.opts.Now())
		}
		return err
	}
	c.cache.clear(c.opts.Now())
	c.logger.Info("lock released", "lock_id", id)
	return nil
}

// Heartbeat extends the held lock.
func (c *Client) Heartbeat(ctx context.Context) (*lockapi.Lock, error) {
	id, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	var rec lockapi.Lock
	err = c.do(ctx, "heartbeat", http.MethodPost, c.repoURL+"/locks/heartbeat", lockapi.TokenRequest{
		LockID:       id,
		TimeoutHours: c.opts.LockTimeout.Hours(),
	}, &rec)
	if err != nil {
		if auxerrors.IsLockGone(err) || auxerrors.Is(err, auxerrors.ErrNotHolder) {
			c.cache.clear(c.opts.Now())
		}
		return nil, err
	}
	c.cache.set(&rec, c.opts.Now())
	return &rec, nil
}

// Status returns the live lock, or nil when the repository is unlocked.
func (c *Client) Status(ctx context.Context) (*lockapi.Lock, error) {
	var resp lockapi.StatusResponse
	if err := c.do(ctx, "status", http.MethodGet, c.repoURL+"/locks/status", nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Locked {
		return nil, nil
	}
	return resp.Lock, nil
}

// ForceBreak revokes whatever lock exists and takes it for this client.
func (c *Client) ForceBreak(ctx context.Context) (*lockapi.Lock, error) {
	var rec lockapi.Lock
	err := c.do(ctx, "break", http.MethodPost, c.repoURL+"/locks/break", lockapi.AcquireRequest{
		Holder:       c.opts.Holder,
		MachineID:    c.opts.MachineID,
		TimeoutHours: c.opts.LockTimeout.Hours(),
	}, &rec)
	if err != nil {
		return nil, err
	}
	c.cache.set(&rec, c.opts.Now())
	c.logger.Warn("lock force-broken", "lock_id", rec.LockID)
	return &rec, nil
}

// Activity returns recent activity, newest first.
func (c *Client) Activity(ctx context.Context, limit int) ([]lockapi.ActivityEntry, error) {
	u := c.repoURL + "/activity"
	if limit > 0 {
		u += "?limit=" + strconv.Itoa(limit)
	}
	var resp lockapi.ActivityResponse
	if err := c.do(ctx, "activity", http.MethodGet, u, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// Owns asks the service whether this client's holder and machine hold a
// live lock right now, and refreshes the cache with the answer.
func (c *Client) Owns(ctx context.Context) (bool, error) {
	rec, err := c.Status(ctx)
	if err != nil {
		return false, err
	}
	now := c.opts.Now()
	if rec == nil || !rec.Live(now) || rec.Holder != c.opts.Holder || rec.MachineID != c.opts.MachineID {
		c.cache.clear(now)
		return false, nil
	}
	c.cache.set(rec, now)
	return true, nil
}

// Probe checks that the service is reachable.
func (c *Client) Probe(ctx context.Context) error {
	var resp lockapi.HealthResponse
	if err := c.do(ctx, "probe", http.MethodGet, c.rootURL+"/health", nil, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return auxerrors.NewNetworkError("probe", fmt.Errorf("service reported status %q", resp.Status)).WithEndpoint(c.rootURL)
	}
	return nil
}

// token returns the lock id to present. Without a cached lock (e.g. a CLI
// process that did not acquire), the live lock is adopted when it belongs to
// this holder and machine.
func (c *Client) token(ctx context.Context) (string, error) {
	if rec, _ := c.cache.Snapshot(); rec != nil {
		return rec.LockID, nil
	}
	rec, err := c.Status(ctx)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", auxerrors.NewLockError("no lock held", auxerrors.ErrLockNotFound).WithRepository(c.repoID)
	}
	if rec.Holder != c.opts.Holder || rec.MachineID != c.opts.MachineID {
		return "", auxerrors.NewLockError(fmt.Sprintf("lock is held by %s on %s", rec.Holder, rec.MachineID), auxerrors.ErrNotHolder).WithRepository(c.repoID)
	}
	c.cache.set(rec, c.opts.Now())
	return rec.LockID, nil
}

// do performs one request and maps failures onto the error taxonomy.
func (c *Client) do(ctx context.Context, op, method, u string, body, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = buf
	}
	req, err := http.NewRequestWithContext(reqCtx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return auxerrors.Wrap(auxerrors.ErrCanceled, op)
		}
		c.logger.Debug("lock service unreachable", "operation", op, "error", err)
		return auxerrors.NewNetworkError(op, err).WithEndpoint(u)
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return auxerrors.NewNetworkError(op, fmt.Errorf("read response: %w", err)).WithEndpoint(u)
	}
	if resp.StatusCode >= 400 {
		return c.mapStatus(op, u, resp.StatusCode, payload)
	}
	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("decode %s response: %w", op, err)
		}
	}
	return nil
}

func (c *Client) mapStatus(op, u string, status int, payload []byte) error {
	var er lockapi.ErrorResponse
	msg := strings.TrimSpace(string(payload))
	if err := json.Unmarshal(payload, &er); err == nil && er.Error != "" {
		msg = er.Error
	}

	switch {
	case status == http.StatusConflict:
		holder, expiresAt, ok := lockapi.ParseConflictMessage(msg)
		if !ok {
			return auxerrors.NewLockError(msg, auxerrors.ErrLockConflict).WithRepository(c.repoID)
		}
		return auxerrors.NewLockConflict(c.repoID, holder, "", expiresAt)
	case status == http.StatusUnauthorized:
		return auxerrors.NewLockError(msg, auxerrors.ErrNotHolder).WithRepository(c.repoID)
	case status == http.StatusNotFound:
		return auxerrors.NewLockError(msg, auxerrors.ErrLockNotFound).WithRepository(c.repoID)
	case status == http.StatusBadRequest:
		return auxerrors.NewValidationError(msg).WithField(op)
	case status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout:
		return auxerrors.NewNetworkError(op, fmt.Errorf("http %d: %s", status, msg)).WithEndpoint(u)
	default:
		return fmt.Errorf("%s: http %d: %s", op, status, msg)
	}
}
