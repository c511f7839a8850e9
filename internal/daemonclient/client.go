// Package daemonclient talks to a running daemon over its unix socket.
package daemonclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jbacus/auxin/internal/commitmsg"
	"github.com/jbacus/auxin/internal/controlapi"
	auxerrors "github.com/jbacus/auxin/internal/errors"
)

const defaultTimeout = 10 * time.Second

// Client is a typed control API client.
type Client struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

// RequestError is a non-2xx response from the daemon.
type RequestError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	message := strings.TrimSpace(e.Message)
	switch {
	case code != "" && message != "":
		return fmt.Sprintf("%s: %s", code, message)
	case message != "":
		return fmt.Sprintf("http %d: %s", e.StatusCode, message)
	case code != "":
		return fmt.Sprintf("http %d: %s", e.StatusCode, code)
	default:
		return fmt.Sprintf("http %d", e.StatusCode)
	}
}

// Retryable reports whether repeating the request may succeed.
func (e *RequestError) Retryable() bool {
	if e == nil {
		return false
	}
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout {
		return true
	}
	return e.StatusCode >= 500
}

// New dials the daemon's unix socket.
func New(socketPath string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	return NewWithClient("http://unix", &http.Client{Transport: transport})
}

// NewWithClient targets baseURL with a custom client, for tests.
func NewWithClient(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		timeout: defaultTimeout,
	}
}

// WithTimeout returns a copy of c with a different per-request timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	clone := *c
	clone.timeout = timeout
	return &clone
}

// Status returns the daemon and project snapshot.
func (c *Client) Status(ctx context.Context) (controlapi.StatusResponse, error) {
	var out controlapi.StatusResponse
	err := c.do(ctx, http.MethodGet, "/v1/status", nil, &out)
	return out, err
}

// AddProject registers a project root.
func (c *Client) AddProject(ctx context.Context, root, appType string) (controlapi.ProjectStatus, error) {
	var out controlapi.ProjectStatus
	err := c.do(ctx, http.MethodPost, "/v1/projects", controlapi.AddProjectRequest{Root: root, AppType: appType}, &out)
	return out, err
}

// RemoveProject unregisters a project.
func (c *Client) RemoveProject(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/projects/"+url.PathEscape(id), nil, nil)
}

// Commit requests a manual snapshot, or a milestone when meta is non-nil.
func (c *Client) Commit(ctx context.Context, id string, meta *commitmsg.Metadata) (controlapi.CommitResponse, error) {
	var out controlapi.CommitResponse
	err := c.do(ctx, http.MethodPost, "/v1/projects/"+url.PathEscape(id)+"/commit", controlapi.CommitRequest{Metadata: meta}, &out)
	return out, err
}

// Replay drains a project's offline queue.
func (c *Client) Replay(ctx context.Context, id string) (controlapi.ReplayResponse, error) {
	var out controlapi.ReplayResponse
	err := c.do(ctx, http.MethodPost, "/v1/projects/"+url.PathEscape(id)+"/replay", struct{}{}, &out)
	return out, err
}

// Ping reports whether the daemon answers.
func (c *Client) Ping(ctx context.Context) bool {
	_, err := c.Status(ctx)
	return err == nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return auxerrors.NewTimeoutError("daemon "+path, c.timeout).WithCause(err)
		}
		return auxerrors.NewNetworkError("daemon "+path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return auxerrors.NewNetworkError("daemon "+path, err)
	}
	if resp.StatusCode >= 400 {
		var er controlapi.ErrorResponse
		if err := json.Unmarshal(payload, &er); err == nil && er.Error.Code != "" {
			return &RequestError{StatusCode: resp.StatusCode, Code: er.Error.Code, Message: er.Error.Message}
		}
		return &RequestError{
			StatusCode: resp.StatusCode,
			Code:       fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message:    strings.TrimSpace(string(payload)),
		}
	}
	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
