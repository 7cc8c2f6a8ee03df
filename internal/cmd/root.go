package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	configcmd "github.com/taskbuffet/buffet/internal/cmd/config"
	"github.com/taskbuffet/buffet/internal/config"
)

// app holds the state shared by one command tree.
type app struct {
	v       *viper.Viper
	cfgFile string
}

// NewRootCmd builds the buffet command tree with its own configuration.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "buffet",
		Short: "Share a task list among independent workers",
		Long: `Buffet lets any number of worker processes, on one machine or many,
eat through a shared list of tasks. Workers coordinate only through an
advisory lock on a file in a shared directory: each task is picked by
exactly one worker, and no coordinator process is needed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.SetupViper(a.v, a.cfgFile)
		},
	}

	// Global flags
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./buffet.yaml or $XDG_CONFIG_HOME/buffet/buffet.yaml)")
	root.PersistentFlags().String("log-level", "", "log level (debug/info/warn/error)")
	root.PersistentFlags().String("log-dir", "", "directory for log files (default: stderr)")
	_ = a.v.BindPFlag("logging.level", root.PersistentFlags().Lookup("log-level"))
	_ = a.v.BindPFlag("logging.dir", root.PersistentFlags().Lookup("log-dir"))

	registerWorkCmd(root, a)
	registerRunCmd(root, a)
	registerInitCmd(root, a)
	registerStatusCmd(root, a)
	registerResetCmd(root, a)
	registerLogsCmd(root, a)
	configcmd.Register(root, a.v)

	return root
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

// bindFlags binds the named flags of cmd to config keys. It runs when the
// command executes, so commands sharing a key do not steal each other's
// binding.
func (a *app) bindFlags(keys map[string]string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		for flag, key := range keys {
			if err := a.v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
				return fmt.Errorf("bind --%s: %w", flag, err)
			}
		}
		return nil
	}
}

// loadConfig decodes and validates the configuration.
func (a *app) loadConfig() (*config.Config, error) {
	return config.LoadFrom(a.v)
}
