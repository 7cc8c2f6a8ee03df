package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/taskbuffet/buffet/internal/buffet"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Buffet.Path != "buffet.json" {
		t.Errorf("Buffet.Path = %q, want %q", cfg.Buffet.Path, "buffet.json")
	}
	if cfg.Buffet.Format != buffet.FormatJSON {
		t.Errorf("Buffet.Format = %q, want json", cfg.Buffet.Format)
	}
	if !cfg.Buffet.Merge {
		t.Error("Buffet.Merge should be true by default")
	}
	if cfg.Lock.Timeout != 0 {
		t.Errorf("Lock.Timeout = %v, want unbounded", cfg.Lock.Timeout)
	}
	if cfg.Worker.Count != 1 {
		t.Errorf("Worker.Count = %d, want 1", cfg.Worker.Count)
	}
	if cfg.Executor.RequeueExitCode != 75 {
		t.Errorf("Executor.RequeueExitCode = %d, want 75", cfg.Executor.RequeueExitCode)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		t.Errorf("Default config should be valid, got %v", ValidationErrors(errs))
	}
}

func TestResolveLockPath(t *testing.T) {
	tests := []struct {
		name string
		cfg  BuffetConfig
		want string
	}{
		{"derived", BuffetConfig{Path: "/shared/run.json"}, "/shared/run.json.lock"},
		{"explicit", BuffetConfig{Path: "/shared/run.json", LockPath: "/locks/run"}, "/locks/run"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.ResolveLockPath(); got != tt.want {
				t.Errorf("ResolveLockPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "buffet.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadFrom(t *testing.T) {
	t.Run("defaults only", func(t *testing.T) {
		v := viper.New()
		setDefaults(v)

		cfg, err := LoadFrom(v)
		if err != nil {
			t.Fatalf("LoadFrom: %v", err)
		}
		if cfg.Lock.PollInterval != 100*time.Millisecond {
			t.Errorf("Lock.PollInterval = %v", cfg.Lock.PollInterval)
		}
	})

	t.Run("config file", func(t *testing.T) {
		path := writeConfig(t, `
buffet:
  path: /shared/exp.json
  format: BBolt
  tasks_file: tasks.yaml
lock:
  timeout: 30s
worker:
  count: 4
  time_budget: 2h
executor:
  task_timeout: 90s
logging:
  level: debug
`)
		v := viper.New()
		if err := SetupViper(v, path); err != nil {
			t.Fatalf("SetupViper: %v", err)
		}
		cfg, err := LoadFrom(v)
		if err != nil {
			t.Fatalf("LoadFrom: %v", err)
		}

		if cfg.Buffet.Path != "/shared/exp.json" || cfg.Buffet.TasksFile != "tasks.yaml" {
			t.Errorf("Buffet = %+v", cfg.Buffet)
		}
		if cfg.Buffet.Format != buffet.FormatBolt {
			t.Errorf("Buffet.Format = %q, want bolt", cfg.Buffet.Format)
		}
		if cfg.Lock.Timeout != 30*time.Second {
			t.Errorf("Lock.Timeout = %v", cfg.Lock.Timeout)
		}
		if cfg.Worker.Count != 4 || cfg.Worker.TimeBudget != 2*time.Hour {
			t.Errorf("Worker = %+v", cfg.Worker)
		}
		if cfg.Executor.TaskTimeout != 90*time.Second {
			t.Errorf("Executor.TaskTimeout = %v", cfg.Executor.TaskTimeout)
		}
		if !cfg.Buffet.Merge {
			t.Error("unset keys should keep their defaults")
		}
	})

	t.Run("environment overrides file", func(t *testing.T) {
		path := writeConfig(t, "worker:\n  count: 2\n")
		t.Setenv("BUFFET_WORKER_COUNT", "8")
		t.Setenv("BUFFET_BUFFET_FORMAT", "gz")

		v := viper.New()
		if err := SetupViper(v, path); err != nil {
			t.Fatalf("SetupViper: %v", err)
		}
		cfg, err := LoadFrom(v)
		if err != nil {
			t.Fatalf("LoadFrom: %v", err)
		}
		if cfg.Worker.Count != 8 {
			t.Errorf("Worker.Count = %d, want 8", cfg.Worker.Count)
		}
		if cfg.Buffet.Format != buffet.FormatJSONGz {
			t.Errorf("Buffet.Format = %q, want json.gz", cfg.Buffet.Format)
		}
	})

	t.Run("invalid values", func(t *testing.T) {
		v := viper.New()
		setDefaults(v)
		v.Set("worker.count", 0)
		v.Set("buffet.format", "xml")

		_, err := LoadFrom(v)
		errs, ok := err.(ValidationErrors)
		if !ok {
			t.Fatalf("LoadFrom error = %T %v, want ValidationErrors", err, err)
		}
		if len(errs) != 2 {
			t.Errorf("got %d validation errors, want 2: %v", len(errs), errs)
		}
	})
}

func TestSetup(t *testing.T) {
	t.Run("missing default file is fine", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("XDG_CONFIG_HOME", t.TempDir())

		if err := SetupViper(viper.New(), ""); err != nil {
			t.Errorf("setup without a config file: %v", err)
		}
	})

	t.Run("buffet data file is not a config file", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)
		t.Setenv("XDG_CONFIG_HOME", t.TempDir())
		if err := os.WriteFile(filepath.Join(dir, "buffet.json"), []byte(`{"tasks": []}`), 0644); err != nil {
			t.Fatal(err)
		}

		v := viper.New()
		if err := SetupViper(v, ""); err != nil {
			t.Fatalf("SetupViper: %v", err)
		}
		if used := v.ConfigFileUsed(); used != "" {
			t.Errorf("ConfigFileUsed() = %q, want none", used)
		}
	})

	t.Run("yaml file in working directory", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)
		t.Setenv("XDG_CONFIG_HOME", t.TempDir())
		if err := os.WriteFile(filepath.Join(dir, "buffet.yml"), []byte("lock:\n  timeout: 3s\n"), 0644); err != nil {
			t.Fatal(err)
		}

		v := viper.New()
		if err := SetupViper(v, ""); err != nil {
			t.Fatalf("SetupViper: %v", err)
		}
		cfg, err := LoadFrom(v)
		if err != nil {
			t.Fatalf("LoadFrom: %v", err)
		}
		if cfg.Lock.Timeout != 3*time.Second {
			t.Errorf("lock timeout = %v, want 3s", cfg.Lock.Timeout)
		}
	})

	t.Run("missing explicit file fails", func(t *testing.T) {
		if err := SetupViper(viper.New(), filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("setup should fail for a missing explicit config file")
		}
	})
}

func TestConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	if got := ConfigDir(); got != "/tmp/xdg/buffet" {
		t.Errorf("ConfigDir() = %q", got)
	}
	if got := ConfigFile(); got != "/tmp/xdg/buffet/buffet.yaml" {
		t.Errorf("ConfigFile() = %q", got)
	}
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.Lock.Timeout = time.Second
	cfg.Executor.Workdir = "/work"
	cfg.Executor.TaskTimeout = time.Minute
	cfg.Logging.Compress = true

	if opts := cfg.Lock.LockOptions("w1"); len(opts) != 3 {
		t.Errorf("LockOptions returned %d options", len(opts))
	}
	shell := cfg.Executor.ShellConfig()
	if shell.Shell != "/bin/sh" || shell.Dir != "/work" || shell.Timeout != time.Minute || shell.RequeueExitCode != 75 {
		t.Errorf("ShellConfig() = %+v", shell)
	}
	rot := cfg.Logging.Rotation()
	if rot.MaxSizeMB != 10 || rot.MaxBackups != 3 || !rot.Compress {
		t.Errorf("Rotation() = %+v", rot)
	}
}
