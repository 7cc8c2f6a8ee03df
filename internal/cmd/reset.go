package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/taskbuffet/buffet/internal/buffet"
	"github.com/taskbuffet/buffet/internal/errors"
)

// backupSuffix is appended to the buffet path for the copy reset writes
// before changing anything.
const backupSuffix = ".bkp"

func registerResetCmd(root *cobra.Command, a *app) {
	var (
		failed   bool
		running  bool
		noBackup bool
	)
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Put failed or stuck tasks back to pending",
		Long: `Hand tasks back to the buffet so workers pick them again.

--failed resets tasks whose execution failed. --running resets tasks left in
execution, which is only safe once the workers holding them are known to be
gone. A copy of the buffet is written to <buffet>.bkp first.`,
		Args:    cobra.NoArgs,
		PreRunE: a.bindFlags(buffetFlagKeys),
		RunE: func(cmd *cobra.Command, args []string) error {
			var states []buffet.State
			if failed {
				states = append(states, buffet.StateFailed)
			}
			if running {
				states = append(states, buffet.StateInExecution)
			}
			if len(states) == 0 {
				return fmt.Errorf("%w: choose at least one of --failed and --running", errors.ErrInvalidInput)
			}
			return a.runReset(cmd, states, !noBackup)
		},
	}
	addBuffetFlags(cmd)
	cmd.Flags().BoolVar(&failed, "failed", false, "reset failed tasks")
	cmd.Flags().BoolVar(&running, "running", false, "reset tasks in execution")
	cmd.Flags().BoolVar(&noBackup, "no-backup", false, "do not write <buffet>.bkp")
	root.AddCommand(cmd)
}

func (a *app) runReset(cmd *cobra.Command, states []buffet.State, backup bool) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	store, err := newStore(cfg)
	if err != nil {
		return err
	}

	var ids []string
	err = withLock(commandContext(cmd), newLock(cfg, "reset"), func() error {
		b, err := store.Load()
		if err != nil {
			return err
		}
		if backup {
			if err := backupFile(afero.NewOsFs(), store.Path()); err != nil {
				return err
			}
		}
		if ids = b.Reset(states...); len(ids) == 0 {
			return nil
		}
		return store.Save(b)
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(ids) == 0 {
		fmt.Fprintln(out, "No tasks to reset")
		return nil
	}
	fmt.Fprintf(out, "Reset %d tasks to pending: %s\n", len(ids), strings.Join(ids, ", "))
	return nil
}

// backupFile copies path to path+backupSuffix. The caller holds the lock.
func backupFile(fs afero.Fs, path string) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return errors.NewStoreError("backup", err).WithPath(path)
	}
	if err := afero.WriteFile(fs, path+backupSuffix, data, 0o644); err != nil {
		return errors.NewStoreError("backup", fmt.Errorf("%w: %v", errors.ErrPersist, err)).WithPath(path)
	}
	return nil
}
