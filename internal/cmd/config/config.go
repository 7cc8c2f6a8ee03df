// Package config provides CLI commands for inspecting and writing the buffet
// configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	appconfig "github.com/taskbuffet/buffet/internal/config"
)

// Register adds the config command to parent. v is the viper instance the
// root command sets up before any subcommand runs.
func Register(parent *cobra.Command, v *viper.Viper) {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "View or modify buffet configuration",
		Long: `View or modify buffet configuration.

Settings are read, in increasing priority, from defaults, the config file,
BUFFET_* environment variables and command line flags.`,
	}

	configCmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show the resolved configuration as YAML",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runShow(cmd, v)
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Show the config file path",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runPath(cmd, v)
			},
		},
		&cobra.Command{
			Use:   "init [file]",
			Short: "Create a commented config file",
			Long: `Create a config file with every option and its default value.
Without an argument the file is written to the user config directory.`,
			Args: cobra.MaximumNArgs(1),
			RunE: runInit,
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Set a configuration value",
			Long: `Set a configuration value in the active config file, or in the user
config file when none is active.

Keys use dot notation, e.g.:
  buffet config set lock.timeout 30s
  buffet config set worker.count 8
  buffet config set buffet.format json.gz`,
			Args: cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSet(cmd, v, args[0], args[1])
			},
		},
	)

	parent.AddCommand(configCmd)
}

func runShow(cmd *cobra.Command, v *viper.Viper) error {
	cfg, err := appconfig.LoadFrom(v)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if used := v.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "# Config file: %s\n", used)
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

func runPath(cmd *cobra.Command, v *viper.Viper) error {
	out := cmd.OutOrStdout()
	if used := v.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "Active config: %s\n", used)
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", appconfig.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintln(out, "  1. ./buffet.yaml or ./buffet.yml (current directory)")
	fmt.Fprintf(out, "  2. %s\n", appconfig.ConfigFile())
	fmt.Fprintf(out, "\nEnvironment variables: %s_* (e.g., %s_LOCK_TIMEOUT)\n", appconfig.EnvPrefix, appconfig.EnvPrefix)
	return nil
}

const configTemplate = `# Buffet configuration

buffet:
  # Buffet file shared by all workers
  path: buffet.json
  # Advisory lock file (default: <path>.lock)
  lock_path: ""
  # On-disk encoding: json, json.gz or bolt
  format: json
  # YAML or JSON task list used to create the buffet
  tasks_file: ""
  # Merge a changed task list into an existing buffet
  merge: true

lock:
  # Give up waiting for the lock after this long (0 waits forever)
  timeout: 0s
  # How often a bounded wait retries
  poll_interval: 100ms

worker:
  # Owner recorded on picked tasks (default: <hostname>-<pid>-<random>)
  id: ""
  # Number of workers "buffet run" starts
  count: 1
  # Run workers as child processes instead of goroutines
  spawn: false
  # Stop picking new tasks after this long (0 disables)
  time_budget: 0s
  # Abort when a task cannot be launched
  fail_on_error: false

executor:
  shell: /bin/sh
  # Fail a task that runs longer than this (0 disables)
  task_timeout: 0s
  # A task exiting with this code goes back to pending (0 disables)
  requeue_exit_code: 75
  workdir: ""

logging:
  # debug, info, warn or error
  level: info
  # Directory for log files; empty logs to stderr
  dir: ""
  max_size_mb: 10
  max_backups: 3
  compress: false
`

func runInit(cmd *cobra.Command, args []string) error {
	configFile := appconfig.ConfigFile()
	if len(args) == 1 {
		configFile = args[0]
	}

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'buffet config set' to modify values", configFile)
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runSet(cmd *cobra.Command, v *viper.Viper, key, value string) error {
	keys := v.AllKeys()
	sort.Strings(keys)
	if !slices.Contains(keys, key) {
		return fmt.Errorf("unknown configuration key: %s\nValid keys: %s", key, strings.Join(keys, ", "))
	}

	v.Set(key, value)
	if _, err := appconfig.LoadFrom(v); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	configFile := v.ConfigFileUsed()
	if configFile == "" {
		configFile = appconfig.ConfigFile()
		if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := v.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\nConfig saved to %s\n", key, value, configFile)
	return nil
}
