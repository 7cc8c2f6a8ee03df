package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/taskbuffet/buffet/internal/event"
)

func registerWorkCmd(root *cobra.Command, a *app) {
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Run one worker against the buffet",
		Long: `Run a single worker. The worker creates the buffet from --tasks if it does
not exist yet, then picks pending tasks in creation order and runs each one
until nothing is left, its time budget runs out, or it is interrupted.

Start as many "buffet work" processes as you like, on any host that sees
the same buffet directory. Interrupting a worker hands its current task
back to the buffet.

Examples:
  # First worker creates the buffet, later ones join it
  buffet work --tasks tasks.yaml --buffet /shared/exp/buffet.json

  # Stop picking new tasks after two hours
  buffet work --buffet /shared/exp/buffet.json --time-budget 2h`,
		Args:    cobra.NoArgs,
		PreRunE: a.bindFlags(mergeKeys(buffetFlagKeys, workerFlagKeys)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWork(cmd)
		},
	}
	addBuffetFlags(cmd)
	addWorkerFlags(cmd)
	root.AddCommand(cmd)
}

func (a *app) runWork(cmd *cobra.Command) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	id := cfg.Worker.ID
	if id == "" {
		id = defaultWorkerID()
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := newSyncWriter(cmd.OutOrStdout())
	bus := event.NewBus(event.WithLogger(logger))
	printProgress(bus, out)

	deps := workerDeps{cfg: cfg, logger: logger, bus: bus, stdout: out, stderr: cmd.ErrOrStderr()}
	w, err := deps.newWorker(id)
	if err != nil {
		return err
	}

	res, err := w.Run(ctx)
	printResult(out, res)
	return err
}

// commandContext returns the command's context, or a background one when
// the command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
