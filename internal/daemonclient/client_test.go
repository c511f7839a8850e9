package daemonclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbacus/auxin/internal/commitmsg"
	"github.com/jbacus/auxin/internal/controlapi"
	auxerrors "github.com/jbacus/auxin/internal/errors"
)

func TestClient_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/status", r.URL.Path)
		_ = json.NewEncoder(w).Encode(controlapi.StatusResponse{
			Version:  "1.2.3",
			PID:      42,
			Projects: []controlapi.ProjectStatus{{ID: "song", State: "idle", QueueDepth: 2}},
		})
	}))
	defer srv.Close()

	st, err := NewWithClient(srv.URL, srv.Client()).Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", st.Version)
	require.Len(t, st.Projects, 1)
	assert.Equal(t, 2, st.Projects[0].QueueDepth)
}

func TestClient_CommitSendsMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/projects/my%20song/commit", r.URL.EscapedPath())
		var req controlapi.CommitRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.Metadata)
		assert.Equal(t, 120.0, req.Metadata.BPM)
		_ = json.NewEncoder(w).Encode(controlapi.CommitResponse{CommitID: "abc123"})
	}))
	defer srv.Close()

	resp, err := NewWithClient(srv.URL, srv.Client()).Commit(context.Background(), "my song", &commitmsg.Metadata{Message: "Mix", BPM: 120})
	require.NoError(t, err)
	assert.Equal(t, "abc123", resp.CommitID)
}

func TestClient_RequestErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantCode  string
		retryable bool
	}{
		{"structured", http.StatusConflict, `{"error":{"code":"not_holder","message":"lock held elsewhere"}}`, "not_holder", false},
		{"unavailable", http.StatusServiceUnavailable, `{"error":{"code":"unavailable","message":"offline"}}`, "unavailable", true},
		{"plain text", http.StatusBadGateway, "bad gateway", "HTTP_502", true},
		{"not found", http.StatusNotFound, `{"error":{"code":"not_found","message":"project 'x' not found"}}`, "not_found", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := NewWithClient(srv.URL, srv.Client()).RemoveProject(context.Background(), "x")
			var reqErr *RequestError
			require.ErrorAs(t, err, &reqErr)
			assert.Equal(t, tt.status, reqErr.StatusCode)
			assert.Equal(t, tt.wantCode, reqErr.Code)
			assert.Equal(t, tt.retryable, reqErr.Retryable())
		})
	}
}

func TestClient_UnreachableSocket(t *testing.T) {
	c := New(t.TempDir() + "/missing.sock")
	_, err := c.Status(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, auxerrors.ErrNetworkUnavailable))
	assert.False(t, c.Ping(context.Background()))
}

func TestRequestError_Message(t *testing.T) {
	assert.Equal(t, "conflict: busy", (&RequestError{StatusCode: 409, Code: "conflict", Message: "busy"}).Error())
	assert.Equal(t, "http 500", (&RequestError{StatusCode: 500}).Error())
	var nilErr *RequestError
	assert.False(t, nilErr.Retryable())
}
