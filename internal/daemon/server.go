package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/jbacus/auxin/internal/commitmsg"
	"github.com/jbacus/auxin/internal/controlapi"
	auxerrors "github.com/jbacus/auxin/internal/errors"
	"github.com/jbacus/auxin/internal/logging"
	"github.com/jbacus/auxin/internal/orchestrator"
	"github.com/jbacus/auxin/internal/vcs"
)

const maxBodyBytes = 64 << 10

// Server serves the control API on a unix socket.
type Server struct {
	d          *Daemon
	socketPath string
	logger     *logging.Logger
	httpSrv    *http.Server

	mu       sync.Mutex
	listener net.Listener
	lockFile *os.File

	shutdown    sync.Once
	shutdownErr error
}

// NewServer routes the control API onto d.
func NewServer(d *Daemon, socketPath string) *Server {
	s := &Server{
		d:          d,
		socketPath: socketPath,
		logger:     d.logger.WithComponent("control_api"),
	}
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// SocketPath returns the unix socket path.
func (s *Server) SocketPath() string { return s.socketPath }

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", s.statusHandler)
	mux.HandleFunc("POST /v1/projects", s.addProjectHandler)
	mux.HandleFunc("DELETE /v1/projects/{id}", s.removeProjectHandler)
	mux.HandleFunc("POST /v1/projects/{id}/commit", s.commitHandler)
	mux.HandleFunc("POST /v1/projects/{id}/replay", s.replayHandler)
	return mux
}

// Start listens on the socket and serves until ctx is done. A second
// daemon on the same socket fails fast.
func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o755); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	if err := s.acquireLock(); err != nil {
		return err
	}
	if st, err := os.Lstat(s.socketPath); err == nil {
		if st.Mode()&os.ModeSocket == 0 {
			_ = s.releaseLock()
			return fmt.Errorf("socket path exists and is not a unix socket: %s", s.socketPath)
		}
		if err := os.Remove(s.socketPath); err != nil {
			_ = s.releaseLock()
			return fmt.Errorf("remove stale socket: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		_ = s.releaseLock()
		return fmt.Errorf("stat socket path: %w", err)
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		_ = s.releaseLock()
		return fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		_ = ln.Close()
		_ = s.releaseLock()
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

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
		_ = s.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			_ = s.Shutdown(context.Background())
			return fmt.Errorf("serve control socket: %w", err)
		}
		return nil
	}
}

// Shutdown stops serving and removes the socket.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Do(func() {
		var errs []error
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		s.mu.Lock()
		ln := s.listener
		s.listener = nil
		s.mu.Unlock()
		if ln != nil {
			if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				errs = append(errs, err)
			}
		}
		if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
		if err := s.releaseLock(); err != nil {
			errs = append(errs, err)
		}
		s.shutdownErr = errors.Join(errs...)
	})
	return s.shutdownErr
}

func (s *Server) acquireLock() error {
	f, err := os.OpenFile(s.socketPath+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open daemon lock: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		return auxerrors.NewValidationError("daemon already running").WithField("socket").WithValue(s.socketPath)
	}
	s.mu.Lock()
	s.lockFile = f
	s.mu.Unlock()
	return nil
}

func (s *Server) releaseLock() error {
	s.mu.Lock()
	f := s.lockFile
	s.lockFile = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.d.Status())
}

func (s *Server) addProjectHandler(w http.ResponseWriter, r *http.Request) {
	var req controlapi.AddProjectRequest
	if !s.decode(w, r, &req) {
		return
	}
	st, err := s.d.AddProject(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, st)
}

func (s *Server) removeProjectHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.d.RemoveProject(r.Context(), r.PathValue("id")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) commitHandler(w http.ResponseWriter, r *http.Request) {
	var req controlapi.CommitRequest
	if !s.decode(w, r, &req) {
		return
	}
	id := r.PathValue("id")

	var (
		commitID string
		err      error
	)
	if req.Metadata != nil {
		commitID, err = s.d.orch.Milestone(r.Context(), id, *req.Metadata)
	} else {
		commitID, err = s.d.orch.CommitNow(r.Context(), id, commitmsg.ReasonManual)
	}
	switch {
	case errors.Is(err, orchestrator.ErrQueued):
		s.writeJSON(w, http.StatusAccepted, controlapi.CommitResponse{Queued: true})
	case err != nil:
		s.writeDomainError(w, err)
	default:
		s.writeJSON(w, http.StatusOK, controlapi.CommitResponse{CommitID: commitID, Skipped: commitID == ""})
	}
}

func (s *Server) replayHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, err := s.d.orch.Replay(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	lane, err := s.d.orch.Lane(id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, controlapi.ReplayResponse{
		Replayed:  res.Replayed,
		Failed:    res.Failed,
		Dropped:   res.Dropped,
		Blocked:   res.Blocked,
		Remaining: lane.Project().Queue.Len(),
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, controlapi.CodeInvalidRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeDomainError maps the error taxonomy onto status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var nf *auxerrors.NotFoundError
	switch {
	case errors.As(err, &nf):
		s.writeError(w, http.StatusNotFound, controlapi.CodeNotFound, err.Error())
	case errors.Is(err, auxerrors.ErrNotHolder), errors.Is(err, auxerrors.ErrLockNotFound):
		s.writeError(w, http.StatusConflict, controlapi.CodeNotHolder, err.Error())
	case errors.Is(err, vcs.ErrNothingToCommit):
		s.writeError(w, http.StatusConflict, controlapi.CodeConflict, err.Error())
	case errors.Is(err, auxerrors.ErrInvalidInput), errors.Is(err, auxerrors.ErrFilesystem):
		s.writeError(w, http.StatusBadRequest, controlapi.CodeInvalidRequest, err.Error())
	case errors.Is(err, orchestrator.ErrLaneClosed):
		s.writeError(w, http.StatusServiceUnavailable, controlapi.CodeUnavailable, err.Error())
	case auxerrors.IsRetryable(err):
		s.writeError(w, http.StatusServiceUnavailable, controlapi.CodeUnavailable, err.Error())
	default:
		s.logFailure(err)
		msg := "internal error; see the daemon log"
		if auxerrors.IsUserFacing(err) {
			msg = err.Error()
		}
		s.writeError(w, http.StatusInternalServerError, controlapi.CodeInternal, msg)
	}
}

// logFailure logs an unexpected request failure at the error's severity.
func (s *Server) logFailure(err error) {
	switch auxerrors.GetSeverity(err) {
	case auxerrors.SeverityDebug:
		s.logger.Debug("request failed", "error", err)
	case auxerrors.SeverityInfo:
		s.logger.Info("request failed", "error", err)
	case auxerrors.SeverityWarning:
		s.logger.Warn("request failed", "error", err)
	default:
		s.logger.Error("request failed", "error", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, msg string) {
	s.writeJSON(w, status, controlapi.ErrorResponse{Error: controlapi.ErrorBody{Code: code, Message: msg}})
}
