package config

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete auxin configuration. It is loaded once at
// process start and passed by pointer into each component.
type Config struct {
	Lock     LockConfig     `mapstructure:"lock" yaml:"lock"`
	Watch    WatchConfig    `mapstructure:"watch" yaml:"watch"`
	Draft    DraftConfig    `mapstructure:"draft" yaml:"draft"`
	Retry    RetryConfig    `mapstructure:"retry" yaml:"retry"`
	Queue    QueueConfig    `mapstructure:"queue" yaml:"queue"`
	Power    PowerConfig    `mapstructure:"power" yaml:"power"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Identity IdentityConfig `mapstructure:"identity" yaml:"identity"`
	Daemon   DaemonConfig   `mapstructure:"daemon" yaml:"daemon"`
	VCS      VCSConfig      `mapstructure:"vcs" yaml:"vcs"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// LockConfig controls lock lifetime
type LockConfig struct {
	// TimeoutHours is how long an acquired lock stays valid without a heartbeat (default: 4)
	TimeoutHours int `mapstructure:"timeout_hours" yaml:"timeout_hours"`
	// HeartbeatIntervalSeconds is how often a held lock is refreshed (default: 60)
	HeartbeatIntervalSeconds int `mapstructure:"heartbeat_interval_seconds" yaml:"heartbeat_interval_seconds"`
}

// WatchConfig controls the file change monitor
type WatchConfig struct {
	// DebounceSeconds is the quiet period after the last change before a commit (default: 30)
	DebounceSeconds int `mapstructure:"debounce_seconds" yaml:"debounce_seconds"`
}

// DraftConfig controls the draft branch workflow
type DraftConfig struct {
	// Branch is the branch receiving automatic commits (default: "draft")
	Branch string `mapstructure:"branch" yaml:"branch"`
	// MainBranch is the branch receiving consolidated milestones (default: "main")
	MainBranch string `mapstructure:"main_branch" yaml:"main_branch"`
	// MaxCommits is the draft commit count above which an advisory is raised (default: 100)
	MaxCommits int `mapstructure:"max_commits" yaml:"max_commits"`
}

// RetryConfig controls local retries of a failed commit before queueing
type RetryConfig struct {
	// MaxAttempts is the number of local attempts, including the first (default: 5)
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
	// BackoffInitialMs is the first backoff delay (default: 500)
	BackoffInitialMs int `mapstructure:"backoff_initial_ms" yaml:"backoff_initial_ms"`
	// BackoffMaxMs caps the backoff delay (default: 30000)
	BackoffMaxMs int `mapstructure:"backoff_max_ms" yaml:"backoff_max_ms"`
}

// QueueConfig controls the offline queue
type QueueConfig struct {
	// EntryTTLDays drops entries older than this with a warning (default: 7)
	EntryTTLDays int `mapstructure:"entry_ttl_days" yaml:"entry_ttl_days"`
	// MaxAttempts drops entries after this many failed replays (default: 10)
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
	// ReplayIntervalSeconds is how often due entries are replayed (default: 30)
	ReplayIntervalSeconds int `mapstructure:"replay_interval_seconds" yaml:"replay_interval_seconds"`
}

// PowerConfig controls the suspend/shutdown hook
type PowerConfig struct {
	// DeadlineMs bounds the forced commit on suspend or shutdown (default: 2000)
	DeadlineMs int `mapstructure:"deadline_ms" yaml:"deadline_ms"`
}

// ServerConfig controls the lock service and how clients reach it
type ServerConfig struct {
	// Addr is the listen address for `auxin serve` (default: ":3000")
	Addr string `mapstructure:"addr" yaml:"addr"`
	// DBPath is the sqlite database file. Empty means <data dir>/locks.db.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
	// URL is the base URL clients use to reach the lock service (default: "http://localhost:3000")
	URL string `mapstructure:"url" yaml:"url"`
	// Namespace is the repository namespace on the lock service (default: "default")
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
	// RequestTimeoutMs bounds each lock service request (default: 10000)
	RequestTimeoutMs int `mapstructure:"request_timeout_ms" yaml:"request_timeout_ms"`
	// CleanupIntervalMinutes is how often expired rows are purged (default: 15)
	CleanupIntervalMinutes int `mapstructure:"cleanup_interval_minutes" yaml:"cleanup_interval_minutes"`
}

// IdentityConfig identifies the local user and machine to the lock service
type IdentityConfig struct {
	// Holder defaults to the current OS user
	Holder string `mapstructure:"holder" yaml:"holder"`
	// MachineID defaults to the hostname
	MachineID string `mapstructure:"machine_id" yaml:"machine_id"`
}

// DaemonConfig controls the background process
type DaemonConfig struct {
	// SocketPath is the control API unix socket. Empty means <data dir>/daemon.sock.
	SocketPath string `mapstructure:"socket_path" yaml:"socket_path"`
	// StateDir holds queue and draft state. Empty means <data dir>/state.
	StateDir string `mapstructure:"state_dir" yaml:"state_dir"`
	// Projects are registered automatically at daemon start
	Projects []string `mapstructure:"projects" yaml:"projects"`
	// AppTypesFile is an optional YAML file of extra application types
	AppTypesFile string `mapstructure:"app_types_file" yaml:"app_types_file"`
}

// VCSConfig controls the version-control engine invocation
type VCSConfig struct {
	// Binary is the engine CLI (default: "git")
	Binary string `mapstructure:"binary" yaml:"binary"`
	// Remote is the remote name used for fetch/push (default: "origin")
	Remote string `mapstructure:"remote" yaml:"remote"`
	// Push sends the draft branch to Remote after every commit (default: true)
	Push bool `mapstructure:"push" yaml:"push"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// File is the JSON log file. Empty means <data dir>/logs/auxin.log.
	File string `mapstructure:"file" yaml:"file"`
	// Console enables human-readable stderr output (default: true)
	Console bool `mapstructure:"console" yaml:"console"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Lock: LockConfig{
			TimeoutHours:             4,
			HeartbeatIntervalSeconds: 60,
		},
		Watch: WatchConfig{
			DebounceSeconds: 30,
		},
		Draft: DraftConfig{
			Branch:     "draft",
			MainBranch: "main",
			MaxCommits: 100,
		},
		Retry: RetryConfig{
			MaxAttempts:      5,
			BackoffInitialMs: 500,
			BackoffMaxMs:     30000,
		},
		Queue: QueueConfig{
			EntryTTLDays:          7,
			MaxAttempts:           10,
			ReplayIntervalSeconds: 30,
		},
		Power: PowerConfig{
			DeadlineMs: 2000,
		},
		Server: ServerConfig{
			Addr:                   ":3000",
			URL:                    "http://localhost:3000",
			Namespace:              "default",
			RequestTimeoutMs:       10000,
			CleanupIntervalMinutes: 15,
		},
		Identity: IdentityConfig{
			Holder:    defaultHolder(),
			MachineID: defaultMachineID(),
		},
		Daemon: DaemonConfig{
			Projects: []string{},
		},
		VCS: VCSConfig{
			Binary: "git",
			Remote: "origin",
			Push:   true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Console:    true,
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

func defaultHolder() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}

func defaultMachineID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "unknown-machine"
}

// LockTimeout returns the lock lifetime as a time.Duration
func (c *LockConfig) LockTimeout() time.Duration {
	return time.Duration(c.TimeoutHours) * time.Hour
}

// HeartbeatInterval returns the heartbeat period as a time.Duration
func (c *LockConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

// DebounceWindow returns the debounce quiet period as a time.Duration
func (c *WatchConfig) DebounceWindow() time.Duration {
	return time.Duration(c.DebounceSeconds) * time.Second
}

// BackoffInitial returns the first retry delay
func (c *RetryConfig) BackoffInitial() time.Duration {
	return time.Duration(c.BackoffInitialMs) * time.Millisecond
}

// BackoffMax returns the retry delay cap
func (c *RetryConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}

// EntryTTL returns the offline queue entry lifetime
func (c *QueueConfig) EntryTTL() time.Duration {
	return time.Duration(c.EntryTTLDays) * 24 * time.Hour
}

// ReplayInterval returns how often the queue is replayed
func (c *QueueConfig) ReplayInterval() time.Duration {
	return time.Duration(c.ReplayIntervalSeconds) * time.Second
}

// Deadline returns the power-event commit deadline
func (c *PowerConfig) Deadline() time.Duration {
	return time.Duration(c.DeadlineMs) * time.Millisecond
}

// RequestTimeout returns the per-request lock service timeout
func (c *ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// CleanupInterval returns how often the lock service purges expired rows
func (c *ServerConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMinutes) * time.Minute
}

// ResolveDBPath returns the sqlite path, defaulting under DataDir.
func (c *ServerConfig) ResolveDBPath() string {
	if c.DBPath != "" {
		return expandHome(c.DBPath)
	}
	return filepath.Join(DataDir(), "locks.db")
}

// ResolveSocketPath returns the control socket path, defaulting under DataDir.
func (c *DaemonConfig) ResolveSocketPath() string {
	if c.SocketPath != "" {
		return expandHome(c.SocketPath)
	}
	return filepath.Join(DataDir(), "daemon.sock")
}

// ResolveStateDir returns the state directory, defaulting under DataDir.
func (c *DaemonConfig) ResolveStateDir() string {
	if c.StateDir != "" {
		return expandHome(c.StateDir)
	}
	return filepath.Join(DataDir(), "state")
}

// ResolveFile returns the log file path, defaulting under DataDir.
func (c *LoggingConfig) ResolveFile() string {
	if c.File != "" {
		return expandHome(c.File)
	}
	return filepath.Join(DataDir(), "logs", "auxin.log")
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
	}
	return path
}

// NewViper returns a viper instance with defaults, env binding and the
// standard config search paths. If cfgFile is non-empty it is used instead
// of the search paths.
func NewViper(cfgFile string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(ConfigDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("AUXIN")
	// e.g., AUXIN_WATCH_DEBOUNCE_SECONDS for watch.debounce_seconds
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// SetDefaults registers default values with v
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("lock.timeout_hours", defaults.Lock.TimeoutHours)
	v.SetDefault("lock.heartbeat_interval_seconds", defaults.Lock.HeartbeatIntervalSeconds)

	v.SetDefault("watch.debounce_seconds", defaults.Watch.DebounceSeconds)

	v.SetDefault("draft.branch", defaults.Draft.Branch)
	v.SetDefault("draft.main_branch", defaults.Draft.MainBranch)
	v.SetDefault("draft.max_commits", defaults.Draft.MaxCommits)

	v.SetDefault("retry.max_attempts", defaults.Retry.MaxAttempts)
	v.SetDefault("retry.backoff_initial_ms", defaults.Retry.BackoffInitialMs)
	v.SetDefault("retry.backoff_max_ms", defaults.Retry.BackoffMaxMs)

	v.SetDefault("queue.entry_ttl_days", defaults.Queue.EntryTTLDays)
	v.SetDefault("queue.max_attempts", defaults.Queue.MaxAttempts)
	v.SetDefault("queue.replay_interval_seconds", defaults.Queue.ReplayIntervalSeconds)

	v.SetDefault("power.deadline_ms", defaults.Power.DeadlineMs)

	v.SetDefault("server.addr", defaults.Server.Addr)
	v.SetDefault("server.db_path", defaults.Server.DBPath)
	v.SetDefault("server.url", defaults.Server.URL)
	v.SetDefault("server.namespace", defaults.Server.Namespace)
	v.SetDefault("server.request_timeout_ms", defaults.Server.RequestTimeoutMs)
	v.SetDefault("server.cleanup_interval_minutes", defaults.Server.CleanupIntervalMinutes)

	v.SetDefault("identity.holder", defaults.Identity.Holder)
	v.SetDefault("identity.machine_id", defaults.Identity.MachineID)

	v.SetDefault("daemon.socket_path", defaults.Daemon.SocketPath)
	v.SetDefault("daemon.state_dir", defaults.Daemon.StateDir)
	v.SetDefault("daemon.projects", defaults.Daemon.Projects)
	v.SetDefault("daemon.app_types_file", defaults.Daemon.AppTypesFile)

	v.SetDefault("vcs.binary", defaults.VCS.Binary)
	v.SetDefault("vcs.remote", defaults.VCS.Remote)
	v.SetDefault("vcs.push", defaults.VCS.Push)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.file", defaults.Logging.File)
	v.SetDefault("logging.console", defaults.Logging.Console)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
}

// Load reads the config file (if any) into v, unmarshals it into a Config
// and validates it. A missing config file is not an error.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !asNotFound(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// asNotFound reports whether err means no config file was found. An
// explicitly named file that does not exist surfaces as an fs error.
func asNotFound(err error, target *viper.ConfigFileNotFoundError) bool {
	if e, ok := err.(viper.ConfigFileNotFoundError); ok {
		*target = e
		return true
	}
	return os.IsNotExist(err)
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "auxin")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".auxin"
	}
	return filepath.Join(home, ".config", "auxin")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DataDir returns the directory for databases, sockets, state and logs
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "auxin")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".auxin"
	}
	return filepath.Join(home, ".local", "share", "auxin")
}
