package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/taskbuffet/buffet/internal/buffet"
	"github.com/taskbuffet/buffet/internal/errors"
	"github.com/taskbuffet/buffet/internal/executor"
	"github.com/taskbuffet/buffet/internal/filelock"
	"github.com/taskbuffet/buffet/internal/logging"
)

// EnvPrefix is the prefix of environment variables that override config
// keys, e.g. BUFFET_LOCK_TIMEOUT for lock.timeout.
const EnvPrefix = "BUFFET"

// Config represents the complete buffet configuration
type Config struct {
	Buffet   BuffetConfig   `mapstructure:"buffet" yaml:"buffet"`
	Lock     LockConfig     `mapstructure:"lock" yaml:"lock"`
	Worker   WorkerConfig   `mapstructure:"worker" yaml:"worker"`
	Executor ExecutorConfig `mapstructure:"executor" yaml:"executor"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// BuffetConfig locates the shared buffet and its task source
type BuffetConfig struct {
	// Path is the buffet file shared by all workers
	Path string `mapstructure:"path" yaml:"path"`
	// LockPath is the advisory lock file (default: <path>.lock)
	LockPath string `mapstructure:"lock_path" yaml:"lock_path"`
	// Format is the on-disk encoding: "json", "json.gz" or "bolt"
	Format buffet.Format `mapstructure:"format" yaml:"format"`
	// TasksFile is the YAML or JSON task list used to create the buffet
	TasksFile string `mapstructure:"tasks_file" yaml:"tasks_file"`
	// Merge reconciles an existing buffet with a changed task list (default: true)
	Merge bool `mapstructure:"merge" yaml:"merge"`
}

// LockConfig controls waiting for the shared lock
type LockConfig struct {
	// Timeout bounds each lock wait; 0 waits forever
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// PollInterval is how often a bounded wait retries
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// WorkerConfig controls the worker loop
type WorkerConfig struct {
	// ID is the owner recorded on picked tasks (default: <hostname>-<pid>-<random>)
	ID string `mapstructure:"id" yaml:"id"`
	// Count is the number of workers "buffet run" starts
	Count int `mapstructure:"count" yaml:"count"`
	// Spawn runs workers as child processes instead of goroutines
	Spawn bool `mapstructure:"spawn" yaml:"spawn"`
	// TimeBudget stops picking new tasks after this long; 0 disables it
	TimeBudget time.Duration `mapstructure:"time_budget" yaml:"time_budget"`
	// FailOnError aborts the worker when a task cannot be launched
	FailOnError bool `mapstructure:"fail_on_error" yaml:"fail_on_error"`
}

// ExecutorConfig controls how task commands run
type ExecutorConfig struct {
	// Shell interprets task commands (default: /bin/sh)
	Shell string `mapstructure:"shell" yaml:"shell"`
	// TaskTimeout bounds a single task; 0 disables it
	TaskTimeout time.Duration `mapstructure:"task_timeout" yaml:"task_timeout"`
	// RequeueExitCode hands the task back as Pending; 0 disables it
	RequeueExitCode int `mapstructure:"requeue_exit_code" yaml:"requeue_exit_code"`
	// Workdir is the working directory of task commands
	Workdir string `mapstructure:"workdir" yaml:"workdir"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", or "error"
	Level string `mapstructure:"level" yaml:"level"`
	// Dir holds log files; empty logs to stderr
	Dir string `mapstructure:"dir" yaml:"dir"`
	// MaxSizeMB is the maximum log file size before rotation
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of rotated log files to keep
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
	// Compress gzips rotated log files
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// ResolveLockPath returns the lock file path, defaulting to <path>.lock.
func (b *BuffetConfig) ResolveLockPath() string {
	if b.LockPath != "" {
		return b.LockPath
	}
	return b.Path + ".lock"
}

// LockOptions returns the filelock options for this config.
func (l *LockConfig) LockOptions(owner string) []filelock.Option {
	return []filelock.Option{
		filelock.WithTimeout(l.Timeout),
		filelock.WithPollInterval(l.PollInterval),
		filelock.WithOwner(owner),
	}
}

// ShellConfig returns the shell executor settings.
func (e *ExecutorConfig) ShellConfig() executor.ShellConfig {
	return executor.ShellConfig{
		Shell:           e.Shell,
		Dir:             e.Workdir,
		Timeout:         e.TaskTimeout,
		RequeueExitCode: e.RequeueExitCode,
	}
}

// Rotation returns the log rotation settings.
func (l *LoggingConfig) Rotation() logging.RotationConfig {
	return logging.RotationConfig{
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		Compress:   l.Compress,
	}
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Buffet: BuffetConfig{
			Path:   "buffet.json",
			Format: buffet.FormatJSON,
			Merge:  true,
		},
		Lock: LockConfig{
			Timeout:      0, // Wait forever, like flock(1)
			PollInterval: filelock.DefaultPollInterval,
		},
		Worker: WorkerConfig{
			Count: 1,
		},
		Executor: ExecutorConfig{
			Shell:           "/bin/sh",
			RequeueExitCode: executor.DefaultRequeueExitCode,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	setDefaults(viper.GetViper())
}

func setDefaults(v *viper.Viper) {
	defaults := Default()

	// Buffet defaults
	v.SetDefault("buffet.path", defaults.Buffet.Path)
	v.SetDefault("buffet.lock_path", defaults.Buffet.LockPath)
	v.SetDefault("buffet.format", string(defaults.Buffet.Format))
	v.SetDefault("buffet.tasks_file", defaults.Buffet.TasksFile)
	v.SetDefault("buffet.merge", defaults.Buffet.Merge)

	// Lock defaults
	v.SetDefault("lock.timeout", defaults.Lock.Timeout)
	v.SetDefault("lock.poll_interval", defaults.Lock.PollInterval)

	// Worker defaults
	v.SetDefault("worker.id", defaults.Worker.ID)
	v.SetDefault("worker.count", defaults.Worker.Count)
	v.SetDefault("worker.spawn", defaults.Worker.Spawn)
	v.SetDefault("worker.time_budget", defaults.Worker.TimeBudget)
	v.SetDefault("worker.fail_on_error", defaults.Worker.FailOnError)

	// Executor defaults
	v.SetDefault("executor.shell", defaults.Executor.Shell)
	v.SetDefault("executor.task_timeout", defaults.Executor.TaskTimeout)
	v.SetDefault("executor.requeue_exit_code", defaults.Executor.RequeueExitCode)
	v.SetDefault("executor.workdir", defaults.Executor.Workdir)

	// Logging defaults
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.dir", defaults.Logging.Dir)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	v.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Setup points viper at the config file and environment. An explicit
// cfgFile must exist; otherwise buffet.yaml (or buffet.yml) is looked up in
// the current directory and ConfigDir, and a missing file is not an error.
func Setup(cfgFile string) error {
	return SetupViper(viper.GetViper(), cfgFile)
}

// SetupViper is Setup for a specific viper instance.
func SetupViper(v *viper.Viper, cfgFile string) error {
	setDefaults(v)

	explicit := cfgFile != ""
	if !explicit {
		cfgFile = FindConfigFile()
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}

	v.SetEnvPrefix(EnvPrefix)
	// e.g., BUFFET_WORKER_TIME_BUDGET for worker.time_budget
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile == "" {
		return nil
	}
	if err := v.ReadInConfig(); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// configNames are the file names looked up when no config file is given.
// Only YAML names are searched: a bare "buffet" base name would also match
// the buffet data file (buffet.json) in the working directory.
var configNames = []string{"buffet.yaml", "buffet.yml"}

// FindConfigFile returns the first config file in the current directory or
// ConfigDir, or "" when there is none.
func FindConfigFile() string {
	for _, dir := range []string{".", ConfigDir()} {
		for _, name := range configNames {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
				return path
			}
		}
	}
	return ""
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom is Load for a specific viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// decodeHook converts duration strings and normalizes format names.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		formatHook,
	)
}

var formatType = reflect.TypeOf(buffet.Format(""))

func formatHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != formatType {
		return data, nil
	}
	switch s := strings.ToLower(strings.TrimSpace(data.(string))); s {
	case "gz", "jsongz", "json-gz":
		return buffet.FormatJSONGz, nil
	case "bbolt", "boltdb", "db":
		return buffet.FormatBolt, nil
	default:
		return buffet.Format(s), nil
	}
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "buffet")
	}
	// Fall back to ~/.config/buffet
	home, err := os.UserHomeDir()
	if err != nil {
		return ".buffet"
	}
	return filepath.Join(home, ".config", "buffet")
}

// ConfigFile returns the path to the user-level config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "buffet.yaml")
}
