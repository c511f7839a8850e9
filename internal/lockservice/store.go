// Package lockservice is the authoritative pessimistic lock service. Lock
// records and the activity log live in sqlite; every operation runs in a
// single transaction and treats a record whose expiry has passed as absent.
package lockservice

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	auxerrors "github.com/jbacus/auxin/internal/errors"
	"github.com/jbacus/auxin/internal/lockapi"
	"github.com/jbacus/auxin/internal/logging"
)

// tsLayout is fixed-width UTC so stored timestamps compare lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// Store persists lock records.
type Store struct {
	db     *sql.DB
	now    func() time.Time
	logger *logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store's logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open opens (creating if needed) the database at path and applies
// migrations.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}

	s := &Store{db: db, now: time.Now, logger: logging.NopLogger()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("lockservice")
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the handle for diagnostics and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Acquire grants repo to holder on machine for timeout. A live lock owned by
// the same holder and machine is refreshed and returned unchanged in
// identity; a live lock owned by anyone else yields a conflict and is left
// untouched.
func (s *Store) Acquire(ctx context.Context, repo, holder, machine string, timeout time.Duration) (*lockapi.Lock, error) {
	if err := validateGrant(repo, holder, machine, timeout); err != nil {
		return nil, err
	}
	var (
		out     *lockapi.Lock
		outcome error
	)
	err := s.inTx(ctx, func(tx *sql.Tx, now time.Time) error {
		rec, err := s.liveLock(ctx, tx, repo, now)
		if err != nil {
			return err
		}
		if rec != nil {
			if rec.Holder != holder || rec.MachineID != machine {
				outcome = auxerrors.NewLockConflict(repo, rec.Holder, rec.MachineID, rec.ExpiresAt)
				return nil
			}
			rec.ExpiresAt = later(rec.ExpiresAt, now.Add(timeout))
			rec.LastHeartbeatAt = now
			if err := updateExpiry(ctx, tx, rec); err != nil {
				return err
			}
			out = rec
			return nil
		}

		rec = &lockapi.Lock{
			RepositoryID:    repo,
			LockID:          uuid.NewString(),
			Holder:          holder,
			MachineID:       machine,
			AcquiredAt:      now,
			ExpiresAt:       now.Add(timeout),
			LastHeartbeatAt: now,
		}
		if err := insertLock(ctx, tx, rec); err != nil {
			return err
		}
		if err := logActivity(ctx, tx, repo, lockapi.ActivityAcquired, holder, machine, "", now); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	if outcome != nil {
		return nil, outcome
	}
	s.logger.Info("lock acquired", "repository_id", repo, "holder", holder, "lock_id", out.LockID, "expires_at", out.ExpiresAt)
	return out, nil
}

// Release frees repo if lockID is the live token.
func (s *Store) Release(ctx context.Context, repo, lockID string) error {
	var outcome error
	err := s.inTx(ctx, func(tx *sql.Tx, now time.Time) error {
		rec, err := s.liveLock(ctx, tx, repo, now)
		if err != nil {
			return err
		}
		if rec == nil {
			outcome = auxerrors.NewLockError("no lock to release", auxerrors.ErrLockNotFound).WithRepository(repo)
			return nil
		}
		if rec.LockID != lockID {
			outcome = auxerrors.NewLockError("lock_id does not match the live lock", auxerrors.ErrNotHolder).WithRepository(repo)
			return nil
		}
		if err := deleteLock(ctx, tx, repo); err != nil {
			return err
		}
		return logActivity(ctx, tx, repo, lockapi.ActivityReleased, rec.Holder, rec.MachineID, "", now)
	})
	if err != nil {
		return err
	}
	if outcome != nil {
		return outcome
	}
	s.logger.Info("lock released", "repository_id", repo, "lock_id", lockID)
	return nil
}

// Heartbeat extends the live lock identified by lockID. The expiry never
// moves backwards.
func (s *Store) Heartbeat(ctx context.Context, repo, lockID string, timeout time.Duration) (*lockapi.Lock, error) {
	if timeout <= 0 {
		return nil, auxerrors.NewValidationError("timeout must be positive").WithField("timeout").WithValue(timeout)
	}
	var (
		out     *lockapi.Lock
		outcome error
	)
	err := s.inTx(ctx, func(tx *sql.Tx, now time.Time) error {
		rec, err := getLock(ctx, tx, repo)
		if err != nil {
			return err
		}
		if rec == nil {
			outcome = auxerrors.NewLockError("no lock to heartbeat", auxerrors.ErrLockNotFound).WithRepository(repo)
			return nil
		}
		if !rec.Live(now) {
			outcome = auxerrors.NewLockError("lock expired before heartbeat", auxerrors.ErrLockExpired).WithRepository(repo)
			return s.expire(ctx, tx, rec, now)
		}
		if rec.LockID != lockID {
			outcome = auxerrors.NewLockError("lock_id does not match the live lock", auxerrors.ErrNotHolder).WithRepository(repo)
			return nil
		}
		rec.ExpiresAt = later(rec.ExpiresAt, now.Add(timeout))
		rec.LastHeartbeatAt = now
		if err := updateExpiry(ctx, tx, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	if outcome != nil {
		return nil, outcome
	}
	s.logger.Debug("lock heartbeat", "repository_id", repo, "lock_id", lockID, "expires_at", out.ExpiresAt)
	return out, nil
}

// Status returns the live lock for repo, or nil when unlocked.
func (s *Store) Status(ctx context.Context, repo string) (*lockapi.Lock, error) {
	rec, err := getLock(ctx, s.db, repo)
	if err != nil {
		return nil, err
	}
	if !rec.Live(s.now()) {
		return nil, nil
	}
	return rec, nil
}

// ForceBreak revokes any lock on repo and grants a fresh one to holder.
// The previous token is invalidated. actor is recorded in the activity log.
func (s *Store) ForceBreak(ctx context.Context, repo, holder, machine string, timeout time.Duration, actor string) (*lockapi.Lock, error) {
	if err := validateGrant(repo, holder, machine, timeout); err != nil {
		return nil, err
	}
	if actor == "" {
		actor = holder
	}
	var (
		out  *lockapi.Lock
		prev *lockapi.Lock
	)
	err := s.inTx(ctx, func(tx *sql.Tx, now time.Time) error {
		var err error
		prev, err = s.liveLock(ctx, tx, repo, now)
		if err != nil {
			return err
		}
		if err := deleteLock(ctx, tx, repo); err != nil {
			return err
		}
		out = &lockapi.Lock{
			RepositoryID:    repo,
			LockID:          uuid.NewString(),
			Holder:          holder,
			MachineID:       machine,
			AcquiredAt:      now,
			ExpiresAt:       now.Add(timeout),
			LastHeartbeatAt: now,
		}
		if err := insertLock(ctx, tx, out); err != nil {
			return err
		}
		detail := "no previous holder"
		if prev != nil {
			detail = fmt.Sprintf("revoked %s on %s (lock %s), granted to %s", prev.Holder, prev.MachineID, prev.LockID, holder)
		}
		return logActivity(ctx, tx, repo, lockapi.ActivityForceBroken, actor, machine, detail, now)
	})
	if err != nil {
		return nil, err
	}
	args := []any{"repository_id", repo, "actor", actor, "holder", holder, "lock_id", out.LockID}
	if prev != nil {
		args = append(args, "previous_holder", prev.Holder)
	}
	s.logger.Warn("lock force-broken", args...)
	return out, nil
}

// Activity returns up to limit entries for repo, newest first.
func (s *Store) Activity(ctx context.Context, repo string, limit int) ([]lockapi.ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, repository_id, kind, actor, machine_id, detail, created_at
FROM activity
WHERE repository_id = ?
ORDER BY id DESC
LIMIT ?`, repo, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := make([]lockapi.ActivityEntry, 0)
	for rows.Next() {
		var (
			e       lockapi.ActivityEntry
			kind    string
			created string
		)
		if err := rows.Scan(&e.ID, &e.RepositoryID, &kind, &e.Actor, &e.MachineID, &e.Detail, &created); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		e.Kind = lockapi.ActivityKind(kind)
		if e.CreatedAt, err = parseTS(created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter activity: %w", err)
	}
	return out, nil
}

// Cleanup deletes expired lock rows, logging each as expired. Correctness
// never depends on it; it only keeps the table small.
func (s *Store) Cleanup(ctx context.Context) (int, error) {
	removed := 0
	err := s.inTx(ctx, func(tx *sql.Tx, now time.Time) error {
		rows, err := tx.QueryContext(ctx, `
SELECT repository_id, lock_id, holder, machine_id, acquired_at, expires_at, last_heartbeat_at
FROM locks WHERE expires_at <= ?`, ts(now))
		if err != nil {
			return fmt.Errorf("list expired locks: %w", err)
		}
		var expired []*lockapi.Lock
		for rows.Next() {
			rec, err := scanLock(rows)
			if err != nil {
				rows.Close() //nolint:errcheck
				return err
			}
			expired = append(expired, rec)
		}
		if err := rows.Err(); err != nil {
			rows.Close() //nolint:errcheck
			return fmt.Errorf("iter expired locks: %w", err)
		}
		rows.Close() //nolint:errcheck

		for _, rec := range expired {
			if err := s.expire(ctx, tx, rec, now); err != nil {
				return err
			}
		}
		removed = len(expired)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("expired locks cleaned up", "count", removed)
	}
	return removed, nil
}

// -----------------------------------------------------------------------------
// internals
// -----------------------------------------------------------------------------

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// inTx runs fn in a transaction. Operations that fail a precondition return
// nil from fn and report the failure afterwards, so lazy expiry deletions
// and their activity rows still commit.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx, now time.Time) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx, s.now().UTC()); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// liveLock returns the unexpired lock for repo, deleting an expired one.
func (s *Store) liveLock(ctx context.Context, tx *sql.Tx, repo string, now time.Time) (*lockapi.Lock, error) {
	rec, err := getLock(ctx, tx, repo)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.Live(now) {
		return rec, nil
	}
	if err := s.expire(ctx, tx, rec, now); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Store) expire(ctx context.Context, tx *sql.Tx, rec *lockapi.Lock, now time.Time) error {
	if err := deleteLock(ctx, tx, rec.RepositoryID); err != nil {
		return err
	}
	detail := fmt.Sprintf("lock %s expired at %s", rec.LockID, rec.ExpiresAt.UTC().Format(time.RFC3339))
	return logActivity(ctx, tx, rec.RepositoryID, lockapi.ActivityExpired, rec.Holder, rec.MachineID, detail, now)
}

func getLock(ctx context.Context, q queryer, repo string) (*lockapi.Lock, error) {
	row := q.QueryRowContext(ctx, `
SELECT repository_id, lock_id, holder, machine_id, acquired_at, expires_at, last_heartbeat_at
FROM locks WHERE repository_id = ?`, repo)
	rec, err := scanLock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func scanLock(scanner interface{ Scan(dest ...any) error }) (*lockapi.Lock, error) {
	var (
		rec                          lockapi.Lock
		acquired, expires, heartbeat string
	)
	if err := scanner.Scan(&rec.RepositoryID, &rec.LockID, &rec.Holder, &rec.MachineID, &acquired, &expires, &heartbeat); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan lock: %w", err)
	}
	var err error
	if rec.AcquiredAt, err = parseTS(acquired); err != nil {
		return nil, err
	}
	if rec.ExpiresAt, err = parseTS(expires); err != nil {
		return nil, err
	}
	if rec.LastHeartbeatAt, err = parseTS(heartbeat); err != nil {
		return nil, err
	}
	return &rec, nil
}

func insertLock(ctx context.Context, tx *sql.Tx, rec *lockapi.Lock) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO locks(repository_id, lock_id, holder, machine_id, acquired_at, expires_at, last_heartbeat_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RepositoryID, rec.LockID, rec.Holder, rec.MachineID, ts(rec.AcquiredAt), ts(rec.ExpiresAt), ts(rec.LastHeartbeatAt))
	if err != nil {
		return fmt.Errorf("insert lock: %w", err)
	}
	return nil
}

func updateExpiry(ctx context.Context, tx *sql.Tx, rec *lockapi.Lock) error {
	_, err := tx.ExecContext(ctx, `
UPDATE locks SET expires_at = ?, last_heartbeat_at = ?
WHERE repository_id = ? AND lock_id = ?`,
		ts(rec.ExpiresAt), ts(rec.LastHeartbeatAt), rec.RepositoryID, rec.LockID)
	if err != nil {
		return fmt.Errorf("update lock: %w", err)
	}
	return nil
}

func deleteLock(ctx context.Context, tx *sql.Tx, repo string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM locks WHERE repository_id = ?`, repo); err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	return nil
}

func logActivity(ctx context.Context, tx *sql.Tx, repo string, kind lockapi.ActivityKind, actor, machine, detail string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO activity(repository_id, kind, actor, machine_id, detail, created_at)
VALUES (?, ?, ?, ?, ?, ?)`, repo, string(kind), actor, machine, detail, ts(at))
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func validateGrant(repo, holder, machine string, timeout time.Duration) error {
	switch {
	case repo == "":
		return auxerrors.NewValidationError("repository is required").WithField("repository_id")
	case holder == "":
		return auxerrors.NewValidationError("holder is required").WithField("holder")
	case machine == "":
		return auxerrors.NewValidationError("machine_id is required").WithField("machine_id")
	case timeout <= 0:
		return auxerrors.NewValidationError("timeout must be positive").WithField("timeout").WithValue(timeout)
	}
	return nil
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
