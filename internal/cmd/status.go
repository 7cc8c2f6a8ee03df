package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/taskbuffet/buffet/internal/buffet"
	"github.com/taskbuffet/buffet/internal/config"
	"github.com/taskbuffet/buffet/internal/util"
)

// watchDebounce coalesces the bursts of events one atomic save produces.
const watchDebounce = 100 * time.Millisecond

func registerStatusCmd(root *cobra.Command, a *app) {
	var (
		asJSON bool
		watch  bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of every task",
		Long: `Show how many tasks are pending, in execution, done and failed, and the
state, owner and attempts of every task. The buffet is read under the lock,
so the snapshot is consistent even while workers are running.`,
		Args:    cobra.NoArgs,
		PreRunE: a.bindFlags(buffetFlagKeys),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if watch {
				ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return watchStatus(ctx, cfg, cmd.OutOrStdout())
			}
			return printStatus(commandContext(cmd), cfg, cmd.OutOrStdout(), asJSON)
		},
	}
	addBuffetFlags(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the status as JSON")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "redraw whenever the buffet changes")
	root.AddCommand(cmd)
}

// statusReport is the JSON form of the status command.
type statusReport struct {
	Path   string         `json:"path"`
	Format buffet.Format  `json:"format"`
	Counts buffet.Counts  `json:"counts"`
	Tasks  []*buffet.Task `json:"tasks"`
}

func loadStatus(ctx context.Context, cfg *config.Config) (*buffet.Buffet, error) {
	store, err := newStore(cfg)
	if err != nil {
		return nil, err
	}
	var b *buffet.Buffet
	err = withLock(ctx, newLock(cfg, "status"), func() error {
		var err error
		b, err = store.Load()
		return err
	})
	return b, err
}

func printStatus(ctx context.Context, cfg *config.Config, w io.Writer, asJSON bool) error {
	b, err := loadStatus(ctx, cfg)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(statusReport{
			Path:   cfg.Buffet.Path,
			Format: cfg.Buffet.Format,
			Counts: b.Counts(),
			Tasks:  b.Tasks,
		})
	}

	_, err = io.WriteString(w, renderStatus(cfg.Buffet.Path, b, isTerminal(w), terminalWidth(w)))
	return err
}

// watchStatus prints the status, then again after every change to the
// buffet file, until ctx is done.
func watchStatus(ctx context.Context, cfg *config.Config, w io.Writer) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Saves replace the file by rename, so watch the directory.
	dir := filepath.Dir(cfg.Buffet.Path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	name := filepath.Base(cfg.Buffet.Path)

	if err := printStatus(ctx, cfg, w, false); err != nil {
		return err
	}

	var debounce *time.Timer
	changed := make(chan struct{}, 1)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != name || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				select {
				case changed <- struct{}{}:
				default:
				}
			})

		case <-changed:
			if isTerminal(w) {
				_, _ = io.WriteString(w, "\033[H\033[2J")
			} else {
				fmt.Fprintln(w)
			}
			if err := printStatus(ctx, cfg, w, false); err != nil {
				return err
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// terminalWidth returns the column count of w, or 0 when w is not a terminal.
func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}

// maxDetail caps the failure detail shown per task.
const maxDetail = 80

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	stateStyles = map[buffet.State]lipgloss.Style{
		buffet.StatePending:     lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		buffet.StateInExecution: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		buffet.StateDone:        lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		buffet.StateFailed:      lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
)

// renderStatus formats the counts line and one row per task. Rows are cut to
// width columns unless width is 0.
func renderStatus(path string, b *buffet.Buffet, styled bool, width int) string {
	paint := func(s lipgloss.Style, text string) string {
		if !styled {
			return text
		}
		return s.Render(text)
	}

	c := b.Counts()
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s  %d tasks\n", paint(headerStyle, path), c.Total)
	fmt.Fprintf(&sb, "pending %d  in_execution %d  done %d  failed %d\n\n",
		c.Pending, c.InExecution, c.Done, c.Failed)

	idWidth := len("TASK")
	for _, t := range b.Tasks {
		idWidth = max(idWidth, len(t.ID))
	}
	row := fmt.Sprintf("%%-%ds  %%-12s  %%-8s  %%s", idWidth)

	sb.WriteString(paint(headerStyle, fmt.Sprintf(row, "TASK", "STATE", "ATTEMPTS", "OWNER")))
	sb.WriteString("\n")
	for _, t := range b.Tasks {
		state := fmt.Sprintf("%-12s", t.State)
		line := strings.TrimRight(fmt.Sprintf(row, t.ID, paint(stateStyles[t.State], state), fmt.Sprint(t.Attempts), t.Owner), " ")
		if t.Error != "" {
			detail := util.TruncateString(util.FirstLine(t.Error), maxDetail)
			line += "  " + paint(mutedStyle, detail)
		}
		sb.WriteString(util.TruncateANSI(line, width))
		sb.WriteString("\n")
	}
	return sb.String()
}
