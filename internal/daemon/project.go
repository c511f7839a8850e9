package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/afero"

	"github.com/jbacus/auxin/internal/apptype"
	"github.com/jbacus/auxin/internal/conflict"
	"github.com/jbacus/auxin/internal/draft"
	auxerrors "github.com/jbacus/auxin/internal/errors"
	"github.com/jbacus/auxin/internal/ignore"
	"github.com/jbacus/auxin/internal/lockclient"
	"github.com/jbacus/auxin/internal/offlinequeue"
	"github.com/jbacus/auxin/internal/orchestrator"
	"github.com/jbacus/auxin/internal/retry"
	"github.com/jbacus/auxin/internal/vcs"
)

var unsafeIDChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// ProjectKey derives the project id, which is also the repository name on
// the lock service, from a project root.
func ProjectKey(root string) string {
	base := filepath.Base(filepath.Clean(root))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	key := strings.Trim(unsafeIDChars.ReplaceAllString(base, "-"), "-.")
	if key == "" {
		return "project"
	}
	return strings.ToLower(key)
}

// rootMarkerFile records which project root owns a state directory.
const rootMarkerFile = "root"

// collisionError explains two project roots that map to the same id.
func collisionError(id, owner, root string) error {
	return auxerrors.NewValidationError(fmt.Sprintf(
		"project id %q is already used by %s; rename the folder of %s so the names differ",
		id, owner, root)).WithField("root").WithValue(root)
}

// claimStateDir binds a project's state directory to its root, refusing a
// different root whose folder name maps to the same id.
func (d *Daemon) claimStateDir(id, root string) error {
	dir := ProjectStateDir(d.stateDir, id)
	marker := filepath.Join(dir, rootMarkerFile)
	data, err := afero.ReadFile(d.fs, marker)
	switch {
	case err == nil:
		if owner := strings.TrimSpace(string(data)); owner != root {
			return collisionError(id, owner, root)
		}
		return nil
	case !errors.Is(err, fs.ErrNotExist):
		return auxerrors.NewFilesystemError("read root marker", marker, err)
	}
	if err := d.fs.MkdirAll(dir, 0o755); err != nil {
		return auxerrors.NewFilesystemError("create state dir", dir, err)
	}
	if err := afero.WriteFile(d.fs, marker, []byte(root+"\n"), 0o644); err != nil {
		return auxerrors.NewFilesystemError("write root marker", marker, err)
	}
	return nil
}

// ProjectStateDir is where a project's queue and draft statistics live.
func ProjectStateDir(stateDir, id string) string {
	return filepath.Join(stateDir, "projects", id)
}

// managed is a registered project and everything the daemon owns for it.
type managed struct {
	lane     *orchestrator.Lane
	client   *lockclient.Client
	matcher  *ignore.Matcher
	detector *conflict.Detector
	// stop ends the project's lock supervisor.
	stop func()
	done chan struct{}
}

// build assembles a project's collaborators: application type, ignore
// policy, engine, draft branch, offline queue and lock client.
func (d *Daemon) build(ctx context.Context, root, appType string) (orchestrator.Project, *lockclient.Client, *ignore.Matcher, error) {
	var zero orchestrator.Project
	abs, err := filepath.Abs(root)
	if err != nil {
		return zero, nil, nil, auxerrors.NewFilesystemError("resolve root", root, err)
	}
	info, err := d.fs.Stat(abs)
	if err != nil {
		return zero, nil, nil, auxerrors.NewFilesystemError("stat root", abs, err)
	}
	if !info.IsDir() {
		return zero, nil, nil, auxerrors.NewValidationError("project root must be a directory").WithField("root").WithValue(abs)
	}

	var capability apptype.Capability
	if appType != "" {
		c, ok := d.registry.Lookup(appType)
		if !ok {
			return zero, nil, nil, auxerrors.NewValidationError("unknown application type").WithField("app_type").WithValue(appType)
		}
		capability = c
	} else {
		capability = d.registry.Detect(abs)
	}

	id := ProjectKey(abs)
	logger := d.logger.WithProject(id)
	if err := d.claimStateDir(id, abs); err != nil {
		return zero, nil, nil, err
	}

	policy := ignore.New(capability)
	if changed, err := ignore.WriteFile(d.fs, abs, "", policy); err != nil {
		logger.Warn("failed to write ignore file", "error", err)
	} else if changed {
		logger.Info("ignore file written", "app_type", capability.Name())
	}
	matcher, err := ignore.Load(d.fs, abs, policy)
	if err != nil {
		return zero, nil, nil, auxerrors.Wrapf(err, "load ignore policy for %s", id)
	}

	engine := d.opts.NewEngine(abs)
	cfg := d.cfg
	dm, err := draft.New(draft.Options{
		Engine:     engine,
		Fs:         d.fs,
		StateDir:   ProjectStateDir(d.stateDir, id),
		Branch:     cfg.Draft.Branch,
		MainBranch: cfg.Draft.MainBranch,
		MaxCommits: cfg.Draft.MaxCommits,
		Logger:     logger,
	})
	if err != nil {
		return zero, nil, nil, err
	}
	if err := dm.Initialize(ctx); err != nil {
		return zero, nil, nil, auxerrors.Wrapf(err, "initialize draft branch %s", cfg.Draft.Branch)
	}

	queue, err := offlinequeue.Open(offlinequeue.Options{
		Dir:         ProjectStateDir(d.stateDir, id),
		ProjectID:   id,
		TTL:         cfg.Queue.EntryTTL(),
		MaxAttempts: cfg.Queue.MaxAttempts,
		Backoff:     retry.FromConfig(cfg.Retry),
		Bus:         d.bus,
		Logger:      logger,
	})
	if err != nil {
		return zero, nil, nil, err
	}

	client, err := d.newLockClient(id)
	if err != nil {
		return zero, nil, nil, err
	}

	return orchestrator.Project{
		ID:         id,
		Root:       abs,
		Capability: capability,
		Engine:     engine,
		Lock:       client,
		Draft:      dm,
		Queue:      queue,
	}, client, matcher, nil
}

func (d *Daemon) newLockClient(repository string) (*lockclient.Client, error) {
	return lockclient.New(lockclient.Options{
		ServerURL:      d.cfg.Server.URL,
		Namespace:      d.cfg.Server.Namespace,
		Repository:     repository,
		Holder:         d.cfg.Identity.Holder,
		MachineID:      d.cfg.Identity.MachineID,
		LockTimeout:    d.cfg.Lock.LockTimeout(),
		RequestTimeout: d.cfg.Server.RequestTimeout(),
		HTTPClient:     d.opts.HTTPClient,
		Logger:         d.logger,
	})
}

// defaultEngine runs the configured VCS binary.
func (d *Daemon) defaultEngine(root string) vcs.Engine {
	return vcs.NewGitEngine(root, vcs.GitOptions{
		Binary:        d.cfg.VCS.Binary,
		Remote:        d.cfg.VCS.Remote,
		InitialBranch: d.cfg.Draft.MainBranch,
	})
}
