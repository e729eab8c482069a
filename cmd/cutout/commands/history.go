package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cutout-cli/cutout/pkg/db"
	"github.com/cutout-cli/cutout/pkg/errors"
	"github.com/cutout-cli/cutout/pkg/pipeline"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent runs and their status",
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	runs, err := repo.ListRuns(cmd.Context(), historyLimit)
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	printHistory(os.Stdout, runs)
	return nil
}

func printHistory(w io.Writer, runs []*db.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs found")
		return
	}

	fmt.Fprintf(w, "%-8s  %-19s  %-8s  %-22s  %s\n", "RUN", "STARTED", "STATUS", "METHOD", "RESULT")
	fmt.Fprintln(w, "------------------------------------------------------------------------------------------------")

	for _, run := range runs {
		id := run.ID
		if len(id) > 8 {
			id = id[:8]
		}
		method := run.Method
		if method == "" {
			method = "-"
		}

		var result string
		switch run.Status {
		case db.StatusComplete:
			result = fmt.Sprintf("%s (%s)", filepath.Base(run.OutputPath), humanize.IBytes(uint64(run.OutputSize)))
		case db.StatusFailed:
			result = pipeline.Truncate(firstLine(run.ErrorMessage), 60)
		default:
			result = run.Source
		}

		fmt.Fprintf(w, "%-8s  %-19s  %-8s  %-22s  %s\n", id, run.CreatedAt, run.Status, method, result)
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
