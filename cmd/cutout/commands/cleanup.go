package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cutout-cli/cutout/pkg/db"
	"github.com/cutout-cli/cutout/pkg/errors"
	"github.com/cutout-cli/cutout/pkg/pipeline"
	"github.com/spf13/cobra"
)

var (
	cleanupAll        bool
	cleanupRun        string
	cleanupOrphaned   bool
	cleanupStaleAfter time.Duration
)

// tempPatterns match every temporary file name cutout creates.
var tempPatterns = []string{"cutout_compressed_*", "cutout_source_*", "cutout_result_*"}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove temporary files left behind by interrupted runs",
	Long: `Remove temporary files recorded in the run ledger:
  --all              Abandon unfinished runs and remove every temporary file
  --run <id>         Remove the temporary files of one run
  --orphaned         Remove temporary files of runs that are no longer running`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupAll, "all", false, "Clean all temporary files")
	cleanupCmd.Flags().StringVar(&cleanupRun, "run", "", "Clean a specific run by ID")
	cleanupCmd.Flags().BoolVar(&cleanupOrphaned, "orphaned", false, "Clean files of finished or crashed runs")
	cleanupCmd.Flags().DurationVar(&cleanupStaleAfter, "stale-after", time.Hour, "Treat running runs older than this as crashed")
}

// artifactStore is the part of the run ledger cleanup needs
type artifactStore interface {
	AbandonStaleRuns(ctx context.Context, before time.Time) (int64, error)
	ListArtifacts(ctx context.Context, runID string) ([]*db.Artifact, error)
	ListOrphanedArtifacts(ctx context.Context) ([]*db.Artifact, error)
	ReleaseArtifact(ctx context.Context, path string) error
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if !cleanupAll && cleanupRun == "" && !cleanupOrphaned {
		return fmt.Errorf("must specify --all, --run, or --orphaned")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	ctx := cmd.Context()

	var removed int
	switch {
	case cleanupAll:
		fmt.Println("Cleaning all temporary files...")
		removed, err = cleanAll(ctx, repo, cfg.TempDir)
	case cleanupRun != "":
		fmt.Printf("Cleaning run %s...\n", cleanupRun)
		removed, err = cleanRun(ctx, repo, cfg.TempDir, cleanupRun)
	case cleanupOrphaned:
		fmt.Println("Cleaning orphaned temporary files...")
		removed, err = cleanOrphaned(ctx, repo, cfg.TempDir, time.Now().Add(-cleanupStaleAfter))
	}
	if err != nil {
		return err
	}

	fmt.Printf("✓ Removed %d temporary file(s)\n", removed)
	return nil
}

func cleanAll(ctx context.Context, store artifactStore, tempDir string) (int, error) {
	if _, err := store.AbandonStaleRuns(ctx, time.Now().Add(time.Second)); err != nil {
		return 0, err
	}

	artifacts, err := store.ListArtifacts(ctx, "")
	if err != nil {
		return 0, errors.Wrap(err, "list artifacts failed")
	}
	removed := removeArtifacts(ctx, store, tempDir, artifacts)

	for _, path := range strayTempFiles(tempDir) {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("temp_cleanup_failed", "path", path, "error", err)
			continue
		}
		fmt.Printf("  ✓ Removed stray file %s\n", path)
		removed++
	}
	return removed, nil
}

func cleanRun(ctx context.Context, store artifactStore, tempDir, runID string) (int, error) {
	artifacts, err := store.ListArtifacts(ctx, runID)
	if err != nil {
		return 0, errors.Wrap(err, "list artifacts failed")
	}
	return removeArtifacts(ctx, store, tempDir, artifacts), nil
}

func cleanOrphaned(ctx context.Context, store artifactStore, tempDir string, staleBefore time.Time) (int, error) {
	if _, err := store.AbandonStaleRuns(ctx, staleBefore); err != nil {
		return 0, err
	}

	artifacts, err := store.ListOrphanedArtifacts(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list orphaned artifacts failed")
	}
	return removeArtifacts(ctx, store, tempDir, artifacts), nil
}

// removeArtifacts deletes recorded files that lie inside tempDir and drops
// them from the ledger. Files outside tempDir are never touched.
func removeArtifacts(ctx context.Context, store artifactStore, tempDir string, artifacts []*db.Artifact) int {
	removed := 0
	for _, a := range artifacts {
		if !pipeline.Within(tempDir, a.Path) {
			fmt.Printf("  ⚠️  Skipping %s (outside temp dir)\n", a.Path)
			continue
		}

		err := os.Remove(a.Path)
		switch {
		case err == nil:
			fmt.Printf("  ✓ Removed %s (run %s)\n", a.Path, a.RunID)
			removed++
		case os.IsNotExist(err):
		default:
			fmt.Printf("  ⚠️  Failed to remove %s: %v\n", a.Path, err)
			continue
		}

		if err := store.ReleaseArtifact(ctx, a.Path); err != nil {
			slog.Warn("artifact_release_failed", "path", a.Path, "error", err)
		}
	}
	return removed
}

// strayTempFiles lists cutout temp files in dir that the ledger never saw
func strayTempFiles(dir string) []string {
	var paths []string
	for _, pattern := range tempPatterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			continue
		}
		paths = append(paths, matches...)
	}
	return paths
}
