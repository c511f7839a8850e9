package lockservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	auxerrors "github.com/jbacus/auxin/internal/errors"
	"github.com/jbacus/auxin/internal/lockapi"
	"github.com/jbacus/auxin/internal/logging"
)

// ServerOptions configures the HTTP front end.
type ServerOptions struct {
	// Addr is the listen address, e.g. ":3000".
	Addr string
	// DefaultTimeout applies when a request omits timeout_hours.
	DefaultTimeout time.Duration
	// CleanupInterval is how often expired rows are purged. Zero disables
	// the janitor.
	CleanupInterval time.Duration
}

// Server exposes a Store over HTTP.
type Server struct {
	store   *Store
	logger  *logging.Logger
	opts    ServerOptions
	httpSrv *http.Server
}

const maxBodyBytes = 64 << 10

// NewServer creates a Server backed by store.
func NewServer(store *Store, logger *logging.Logger, opts ServerOptions) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 4 * time.Hour
	}
	s := &Server{
		store:  store,
		logger: logger.WithComponent("lockserver"),
		opts:   opts,
	}
	s.httpSrv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("POST /api/repos/{namespace}/{name}/locks/acquire", s.acquireHandler)
	mux.HandleFunc("POST /api/repos/{namespace}/{name}/locks/release", s.releaseHandler)
	mux.HandleFunc("POST /api/repos/{namespace}/{name}/locks/heartbeat", s.heartbeatHandler)
	mux.HandleFunc("GET /api/repos/{namespace}/{name}/locks/status", s.statusHandler)
	mux.HandleFunc("POST /api/repos/{namespace}/{name}/locks/break", s.breakHandler)
	mux.HandleFunc("GET /api/repos/{namespace}/{name}/activity", s.activityHandler)
	return s.logRequests(mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
// When a cleanup interval is configured, expired rows are purged in the
// background.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("lock service listening", "addr", ln.Addr().String())

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	if s.opts.CleanupInterval > 0 {
		go s.runJanitor(janitorCtx, s.opts.CleanupInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}
}

func (s *Server) runJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.store.Cleanup(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("lock cleanup failed", "error", err)
			}
		}
	}
}

func repoID(r *http.Request) string {
	return lockapi.RepositoryID(r.PathValue("namespace"), r.PathValue("name"))
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, lockapi.HealthResponse{Status: "ok"})
}

func (s *Server) acquireHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAcquire(w, r)
	if !ok {
		return
	}
	rec, err := s.store.Acquire(r.Context(), repoID(r), req.Holder, req.MachineID, req.Timeout())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) breakHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAcquire(w, r)
	if !ok {
		return
	}
	rec, err := s.store.ForceBreak(r.Context(), repoID(r), req.Holder, req.MachineID, req.Timeout(), req.Holder)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) releaseHandler(w http.ResponseWriter, r *http.Request) {
	var req lockapi.TokenRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.LockID) == "" {
		s.writeError(w, http.StatusBadRequest, "lock_id is required")
		return
	}
	if err := s.store.Release(r.Context(), repoID(r), req.LockID); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, lockapi.ReleaseResponse{Released: true, LockID: req.LockID})
}

func (s *Server) heartbeatHandler(w http.ResponseWriter, r *http.Request) {
	var req lockapi.TokenRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.LockID) == "" {
		s.writeError(w, http.StatusBadRequest, "lock_id is required")
		return
	}
	timeout := s.opts.DefaultTimeout
	if req.TimeoutHours != 0 {
		if req.TimeoutHours < 0 || req.TimeoutHours > lockapi.MaxTimeoutHours {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("timeout_hours must be in (0, %d]", lockapi.MaxTimeoutHours))
			return
		}
		timeout = time.Duration(req.TimeoutHours * float64(time.Hour))
	}
	rec, err := s.store.Heartbeat(r.Context(), repoID(r), req.LockID, timeout)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Status(r.Context(), repoID(r))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, lockapi.StatusResponse{Locked: rec != nil, Lock: rec})
}

func (s *Server) activityHandler(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	entries, err := s.store.Activity(r.Context(), repoID(r), limit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, lockapi.ActivityResponse{Entries: entries})
}

func (s *Server) decodeAcquire(w http.ResponseWriter, r *http.Request) (lockapi.AcquireRequest, bool) {
	var req lockapi.AcquireRequest
	if !s.decode(w, r, &req) {
		return req, false
	}
	if req.TimeoutHours == 0 {
		req.TimeoutHours = s.opts.DefaultTimeout.Hours()
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	return req, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeStoreError maps the error taxonomy to status codes.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case auxerrors.IsLockConflict(err):
		holder, expiresAt, _ := auxerrors.ConflictDetails(err)
		s.writeError(w, http.StatusConflict, lockapi.ConflictMessage(holder, expiresAt))
	case auxerrors.Is(err, auxerrors.ErrNotHolder):
		s.writeError(w, http.StatusUnauthorized, "Unauthorized: lock_id is not the current lock")
	case auxerrors.IsLockGone(err):
		s.writeError(w, http.StatusNotFound, "Not found: no active lock")
	case auxerrors.Is(err, auxerrors.ErrInvalidInput):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("lock store failure", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, lockapi.ErrorResponse{Error: msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
