package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskbuffet/buffet/internal/errors"
	"github.com/taskbuffet/buffet/internal/logging"
)

type logsOptions struct {
	dir    string
	level  string
	worker string
	task   string
	since  time.Duration
	grep   string
	tail   int
	export string
	format string
}

func registerLogsCmd(root *cobra.Command, a *app) {
	var opts logsOptions
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Merge and filter the logs of all workers",
		Long: `Read the log files every worker wrote to the log directory, merge them
in time order and filter them.

Examples:
  # Last 50 entries of every worker
  buffet logs --dir /shared/exp/logs

  # Everything that happened to one task
  buffet logs --dir /shared/exp/logs --task T17 --tail 0

  # Warnings from the last hour as CSV
  buffet logs --dir /shared/exp/logs --level warn --since 1h --export warn.csv --output-format csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if opts.dir == "" {
				opts.dir = cfg.Logging.Dir
			}
			return runLogs(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.dir, "dir", "", "log directory (default: logging.dir)")
	cmd.Flags().StringVar(&opts.level, "level", "", "minimum level (debug/info/warn/error)")
	cmd.Flags().StringVar(&opts.worker, "worker", "", "only entries of this worker")
	cmd.Flags().StringVar(&opts.task, "task", "", "only entries about this task")
	cmd.Flags().DurationVar(&opts.since, "since", 0, "only entries newer than this (e.g. 1h, 30m)")
	cmd.Flags().StringVar(&opts.grep, "grep", "", "only entries whose message contains this text")
	cmd.Flags().IntVarP(&opts.tail, "tail", "n", 50, "number of entries to show (0 for all)")
	cmd.Flags().StringVar(&opts.export, "export", "", "write the entries to this file instead of stdout")
	cmd.Flags().StringVar(&opts.format, "output-format", "text", "output format (text/json/csv)")
	root.AddCommand(cmd)
}

func runLogs(cmd *cobra.Command, opts logsOptions) error {
	if opts.dir == "" {
		return fmt.Errorf("%w: no log directory; pass --dir or set logging.dir", errors.ErrInvalidInput)
	}
	switch opts.format {
	case "text", "json", "csv":
	default:
		return fmt.Errorf("%w: unknown output format %q", errors.ErrInvalidInput, opts.format)
	}

	entries, err := logging.AggregateLogs(opts.dir)
	if err != nil {
		return err
	}

	filter := logging.LogFilter{
		Level:           opts.level,
		WorkerID:        opts.worker,
		TaskID:          opts.task,
		MessageContains: opts.grep,
	}
	if opts.since > 0 {
		filter.StartTime = time.Now().Add(-opts.since)
	}
	entries = logging.FilterLogs(entries, filter)

	if opts.tail > 0 && len(entries) > opts.tail {
		entries = entries[len(entries)-opts.tail:]
	}

	if opts.export != "" {
		if err := logging.ExportLogEntries(entries, opts.export, opts.format); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d entries to %s\n", len(entries), opts.export)
		return nil
	}
	return logging.WriteLogEntries(cmd.OutOrStdout(), entries, opts.format)
}
