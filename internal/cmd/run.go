package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/taskbuffet/buffet/internal/config"
	"github.com/taskbuffet/buffet/internal/event"
	"github.com/taskbuffet/buffet/internal/pool"
	"github.com/taskbuffet/buffet/internal/worker"
)

func registerRunCmd(root *cobra.Command, a *app) {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run several workers from one invocation",
		Long: `Run --workers workers against the buffet and wait for all of them.

By default the workers are goroutines of this process, each with its own
lock handle, so they coordinate exactly as separate processes would. With
--spawn every worker is a child "buffet work" process instead.

Examples:
  buffet run --tasks tasks.yaml --workers 8
  buffet run --buffet /shared/exp/buffet.json --workers 4 --spawn`,
		Args: cobra.NoArgs,
		PreRunE: a.bindFlags(mergeKeys(buffetFlagKeys, workerFlagKeys, map[string]string{
			"workers": "worker.count",
			"spawn":   "worker.spawn",
		})),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRun(cmd)
		},
	}
	addBuffetFlags(cmd)
	addWorkerFlags(cmd)
	cmd.Flags().IntP("workers", "n", 1, "number of workers")
	cmd.Flags().Bool("spawn", false, "run each worker as a child process")
	root.AddCommand(cmd)
}

func (a *app) runRun(cmd *cobra.Command) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	base := cfg.Worker.ID
	if base == "" {
		base = defaultWorkerID()
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := newSyncWriter(cmd.OutOrStdout())

	if cfg.Worker.Spawn {
		results, err := pool.Spawn(ctx, cfg.Worker.Count, pool.SpawnConfig{
			Args:   childArgs(cfg, a.cfgFile),
			BaseID: base,
			Stdout: out,
			Stderr: cmd.ErrOrStderr(),
			Logger: logger,
		})
		for _, r := range results {
			if r.Err != "" {
				fmt.Fprintf(out, "%s: exit %d: %s\n", r.WorkerID, r.ExitCode, r.Err)
			} else {
				fmt.Fprintf(out, "%s: exit %d\n", r.WorkerID, r.ExitCode)
			}
		}
		return err
	}

	bus := event.NewBus(event.WithLogger(logger))
	printProgress(bus, out)
	progress := pool.NewProgress(bus)

	deps := workerDeps{cfg: cfg, logger: logger, bus: bus, stdout: out, stderr: cmd.ErrOrStderr()}
	res, err := pool.RunLocal(ctx, cfg.Worker.Count, func(i int) (*worker.Worker, error) {
		return deps.newWorker(pool.WorkerID(base, i))
	})
	for _, r := range res.Workers {
		if r.WorkerID != "" {
			printResult(out, r)
		}
	}

	total := res.Totals()
	picked, resolved, finished := progress.Snapshot()
	fmt.Fprintf(out, "total: %d workers finished, %d picks, %d executed (%d done, %d failed, %d requeued)\n",
		finished, picked, total.Executed, resolved["done"], resolved["failed"], total.Requeued)
	return err
}

// childArgs renders the resolved configuration as "work" flags so children
// see the same settings whatever the source of each value.
func childArgs(cfg *config.Config, cfgFile string) []string {
	args := []string{
		"work",
		"--buffet", cfg.Buffet.Path,
		"--lock", cfg.Buffet.ResolveLockPath(),
		"--format", string(cfg.Buffet.Format),
		"--merge=" + strconv.FormatBool(cfg.Buffet.Merge),
		"--lock-timeout", cfg.Lock.Timeout.String(),
		"--time-budget", cfg.Worker.TimeBudget.String(),
		"--fail-on-error=" + strconv.FormatBool(cfg.Worker.FailOnError),
		"--shell", cfg.Executor.Shell,
		"--task-timeout", cfg.Executor.TaskTimeout.String(),
		"--log-level", cfg.Logging.Level,
	}
	if cfg.Buffet.TasksFile != "" {
		args = append(args, "--tasks", cfg.Buffet.TasksFile)
	}
	if cfg.Executor.Workdir != "" {
		args = append(args, "--workdir", cfg.Executor.Workdir)
	}
	if cfg.Logging.Dir != "" {
		args = append(args, "--log-dir", cfg.Logging.Dir)
	}
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	return args
}
