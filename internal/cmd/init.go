package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskbuffet/buffet/internal/buffet"
)

func registerInitCmd(root *cobra.Command, a *app) {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the buffet from a task list",
		Long: `Create the buffet from --tasks without running any task. If the buffet
already exists it is left as is, or merged with the task list when
--merge is set.

Workers create the buffet on their own, so init is only needed to inspect
the buffet before the first worker starts.`,
		Args:    cobra.NoArgs,
		PreRunE: a.bindFlags(buffetFlagKeys),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runInit(cmd)
		},
	}
	addBuffetFlags(cmd)
	root.AddCommand(cmd)
}

func (a *app) runInit(cmd *cobra.Command) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	store, err := newStore(cfg)
	if err != nil {
		return err
	}
	id := defaultWorkerID()
	seed := seedFor(cfg)

	var (
		b               *buffet.Buffet
		created, merged bool
	)
	err = withLock(commandContext(cmd), newLock(cfg, id), func() error {
		var err error
		b, created, err = buffet.OpenOrCreate(store, seed, id)
		if err != nil || created || !cfg.Buffet.Merge || seed == nil {
			return err
		}
		specs, err := seed()
		if err != nil {
			return fmt.Errorf("load task source: %w", err)
		}
		if merged, err = b.Reconcile(specs); err != nil || !merged {
			return err
		}
		return store.Save(b)
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case created:
		fmt.Fprintf(out, "Created %s with %d tasks\n", store.Path(), len(b.Tasks))
	case merged:
		fmt.Fprintf(out, "Merged task list into %s (%d tasks)\n", store.Path(), len(b.Tasks))
	default:
		fmt.Fprintf(out, "%s already exists (%d tasks)\n", store.Path(), len(b.Tasks))
	}
	return nil
}
