// Package cli holds state shared by the auxin subcommands: the loaded
// configuration, the logger and the clients built from them.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"github.com/jbacus/auxin/internal/apptype"
	"github.com/jbacus/auxin/internal/config"
	"github.com/jbacus/auxin/internal/daemon"
	"github.com/jbacus/auxin/internal/daemonclient"
	"github.com/jbacus/auxin/internal/lockclient"
	"github.com/jbacus/auxin/internal/logging"
)

// Env is created once by the root command and handed to every Register
// function. Configuration is loaded lazily on first use.
type Env struct {
	// ConfigFile and LogLevel are bound to the root's persistent flags.
	ConfigFile string
	LogLevel   string
	Version    string

	once   sync.Once
	cfg    *config.Config
	err    error
	mu     sync.Mutex
	logger *logging.Logger
}

// NewEnv returns an Env for the given build version.
func NewEnv(version string) *Env {
	return &Env{Version: version}
}

// Config loads and validates the configuration once.
func (e *Env) Config() (*config.Config, error) {
	e.once.Do(func() {
		cfg, err := config.Load(config.NewViper(e.ConfigFile))
		if err != nil {
			e.err = fmt.Errorf("load config: %w", err)
			return
		}
		if e.LogLevel != "" {
			cfg.Logging.Level = logging.ParseLevel(e.LogLevel)
		}
		e.cfg = cfg
	})
	return e.cfg, e.err
}

// Logger returns the process logger. Long-running commands pass
// withFile to also write the rotating JSON log.
func (e *Env) Logger(withFile bool) (*logging.Logger, error) {
	cfg, err := e.Config()
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.logger != nil {
		return e.logger, nil
	}
	opts := logging.Options{
		Level:      cfg.Logging.Level,
		Console:    cfg.Logging.Console,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   true,
	}
	if withFile {
		opts.File = cfg.Logging.ResolveFile()
	}
	logger, err := logging.New(opts)
	if err != nil {
		return nil, err
	}
	e.logger = logger
	return logger, nil
}

// Close flushes the logger.
func (e *Env) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.logger == nil {
		return nil
	}
	return e.logger.Close()
}

// LockClient builds a lock service client for repository.
func (e *Env) LockClient(repository string) (*lockclient.Client, error) {
	cfg, err := e.Config()
	if err != nil {
		return nil, err
	}
	logger, err := e.Logger(false)
	if err != nil {
		return nil, err
	}
	return lockclient.New(lockclient.Options{
		ServerURL:      cfg.Server.URL,
		Namespace:      cfg.Server.Namespace,
		Repository:     repository,
		Holder:         cfg.Identity.Holder,
		MachineID:      cfg.Identity.MachineID,
		LockTimeout:    cfg.Lock.LockTimeout(),
		RequestTimeout: cfg.Server.RequestTimeout(),
		Logger:         logger,
	})
}

// DaemonClient connects to the configured control socket.
func (e *Env) DaemonClient() (*daemonclient.Client, error) {
	cfg, err := e.Config()
	if err != nil {
		return nil, err
	}
	return daemonclient.New(cfg.Daemon.ResolveSocketPath()), nil
}

// Registry returns the built-in application types plus any configured
// custom definitions.
func (e *Env) Registry() (*apptype.Registry, error) {
	cfg, err := e.Config()
	if err != nil {
		return nil, err
	}
	reg := apptype.DefaultRegistry()
	if cfg.Daemon.AppTypesFile != "" {
		if _, err := reg.LoadDefinitions(cfg.Daemon.AppTypesFile); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// ResolveProject maps an optional path argument (default: the working
// directory) to its absolute root and project ID. A non-empty override
// replaces the derived ID.
func ResolveProject(args []string, override string) (root, id string, err error) {
	root = "."
	if len(args) > 0 && args[0] != "" {
		root = args[0]
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return "", "", fmt.Errorf("resolve project path: %w", err)
	}
	if info, statErr := os.Stat(root); statErr != nil {
		return "", "", fmt.Errorf("project path: %w", statErr)
	} else if !info.IsDir() {
		return "", "", fmt.Errorf("project path %s is not a directory", root)
	}
	if override != "" {
		return root, override, nil
	}
	return root, daemon.ProjectKey(root), nil
}

// AddRepoFlag registers the --repo flag used to override the derived
// repository name.
func AddRepoFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVar(target, "repo", "", "repository name on the lock service (default: derived from the project directory)")
}
