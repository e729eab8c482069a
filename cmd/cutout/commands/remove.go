package commands

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/cutout-cli/cutout/internal/config"
	"github.com/cutout-cli/cutout/internal/tui"
	"github.com/cutout-cli/cutout/pkg/desktop"
	"github.com/cutout-cli/cutout/pkg/errors"
	appfsm "github.com/cutout-cli/cutout/pkg/fsm"
	"github.com/cutout-cli/cutout/pkg/pipeline"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/superfly/fsm"
)

var (
	removeJournal bool
	removeNoOpen  bool
	removePlain   bool
)

var errNoSelection = errors.New(errors.KindValidation, "Please select an image file in Finder or pass a path")

var removeCmd = &cobra.Command{
	Use:   "remove [path | s3://bucket/key]",
	Short: "Remove the background of an image",
	Long: `Remove the background of an image and save it as a transparent PNG.

Without an argument the image currently selected in Finder is used.
  --journal   Record each stage in the workflow journal; interrupted runs are
              not resumed, run 'cutout cleanup --orphaned' to remove their files
  --no-open   Do not open the result after saving
  --plain     Print progress lines instead of the interactive display`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRemove,
}

func init() {
	rootCmd.AddCommand(removeCmd)
	removeCmd.Flags().BoolVar(&removeJournal, "journal", false, "Journal progress with the workflow engine")
	removeCmd.Flags().BoolVar(&removeNoOpen, "no-open", false, "Do not open the result")
	removeCmd.Flags().BoolVar(&removePlain, "plain", false, "Plain progress output")
}

func runRemove(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := ensureDirectories("", "", cfg.TempDir); err != nil {
		return err
	}

	source, err := resolveSource(ctx, args, desktop.NewSelector())
	if err != nil {
		fmt.Fprintln(os.Stderr, tui.Toast(false, "No image", err.Error()))
		return errReported
	}

	diag := openDiagLog(cfg.LogFile)
	defer diag.Close()

	repo, err := openRepository(cfg)
	if err != nil {
		slog.Warn("run_ledger_unavailable", "error", err)
		repo = nil
	}
	if repo != nil {
		defer repo.Close()
	}

	runner, err := newRunner(ctx, cfg, source, diag, repo, cfg.OpenResult && !removeNoOpen)
	if err != nil {
		return err
	}

	interactive := !removePlain && isatty.IsTerminal(os.Stdout.Fd())
	progress := startProgress(runner.Tracker(), source, interactive, os.Stdout)

	var res *pipeline.Result
	if removeJournal {
		res, err = runJournaled(ctx, cfg, runner, source)
	} else {
		res, err = runner.Run(ctx, source)
	}
	progress.stop()

	if err != nil {
		reportFailure(os.Stderr, err)
		return errReported
	}

	reportSuccess(os.Stdout, res)
	return nil
}

// resolveSource picks the argument, or the file manager selection when no
// argument is given.
func resolveSource(ctx context.Context, args []string, selector desktop.Selector) (string, error) {
	if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
		return args[0], nil
	}

	path, err := selector.SelectedFile(ctx)
	if err != nil {
		slog.Debug("selection_unavailable", "error", err)
		return "", errNoSelection
	}
	if strings.TrimSpace(path) == "" {
		return "", errNoSelection
	}
	return path, nil
}

// runJournaled drives the same stages through the durable workflow engine
func runJournaled(ctx context.Context, cfg *config.Config, runner *pipeline.Runner, source string) (*pipeline.Result, error) {
	release, err := runner.Acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	if err := ensureDirectories("", cfg.FSMDBPath, ""); err != nil {
		return nil, err
	}

	manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
	if err != nil {
		return nil, errors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(10 * time.Second)

	machine := appfsm.NewMachine(runner)
	start, _, err := machine.Register(ctx, manager)
	if err != nil {
		return nil, errors.Wrap(err, "FSM register failed")
	}

	runID := uuid.NewString()
	req := &appfsm.RemovalRequest{RunID: runID, Source: source}
	resp := &appfsm.RemovalResponse{}

	version, err := start(ctx, runID, fsm.NewRequest(req, resp))
	if err != nil {
		return nil, errors.Wrap(err, "FSM start failed")
	}
	slog.Info("fsm_started", "run_id", runID, "version", version)

	waitErr := manager.Wait(ctx, version)

	if out, ok := machine.Outcome(runID); ok {
		if out.Err != nil {
			return nil, out.Err
		}
		return out.Result, nil
	}
	if waitErr != nil {
		return nil, errors.Wrap(waitErr, "FSM execution failed")
	}
	return nil, fmt.Errorf("run %s finished without a result (status %q)", runID, resp.Status)
}

// progressView shows tracker updates until stop is called
type progressView struct {
	stop func()
}

func startProgress(tracker *pipeline.Tracker, source string, interactive bool, out io.Writer) progressView {
	if !interactive {
		tracker.Subscribe(func(st pipeline.Status) {
			if st.State == pipeline.StateIdle || st.State.Terminal() || st.Message == "" {
				return
			}
			fmt.Fprintln(out, st.Message)
		})
		return progressView{stop: func() {}}
	}

	updates := make(chan pipeline.Status, 32)
	var (
		mu     sync.Mutex
		closed bool
	)
	tracker.Subscribe(func(st pipeline.Status) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case updates <- st:
		default:
			// display is behind; it catches up on the next status
		}
	})

	program := tea.NewProgram(tui.NewModel(source, updates), tea.WithOutput(out))
	uiDone := make(chan struct{})
	go func() {
		if _, err := program.Run(); err != nil {
			slog.Debug("progress_display_failed", "error", err)
		}
		close(uiDone)
	}()

	return progressView{stop: func() {
		mu.Lock()
		closed = true
		close(updates)
		mu.Unlock()
		<-uiDone
	}}
}

func reportSuccess(w io.Writer, res *pipeline.Result) {
	compressed := "no"
	if res.Compressed {
		compressed = "yes"
	}
	rows := []tui.SummaryRow{
		{Label: "Saved to", Value: res.OutputPath},
		{Label: "Size", Value: humanize.IBytes(uint64(res.OutputSize))},
		{Label: "Method", Value: res.Method.Label},
		{Label: "Compressed", Value: compressed},
		{Label: "Elapsed", Value: res.Elapsed.Round(100 * time.Millisecond).String()},
		{Label: "Run", Value: res.RunID},
	}
	fmt.Fprintln(w, tui.Toast(true, "Background removed successfully!", ""))
	fmt.Fprintln(w, tui.RenderSummary(rows))
}

func reportFailure(w io.Writer, err error) {
	var runErr *pipeline.RunError
	if stderrors.As(err, &runErr) {
		fmt.Fprintln(w, tui.Toast(false, "Background removal failed", runErr.Summary()))
		fmt.Fprintln(w)
		fmt.Fprintln(w, tui.Detail(runErr.Detail()))
		return
	}
	fmt.Fprintln(w, tui.Toast(false, "Background removal failed", pipeline.Truncate(err.Error(), 100)))
}
