package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ArtifactLedger persists temporary artifacts so a crashed run's files can be
// found later.
type ArtifactLedger interface {
	RecordArtifact(ctx context.Context, runID, path string) error
	ReleaseArtifact(ctx context.Context, path string) error
}

// TempFiles tracks the temporary files created by one run.
type TempFiles struct {
	mu     sync.Mutex
	dir    string
	runID  string
	ledger ArtifactLedger
	paths  []string
}

// NewTempFiles tracks files for runID. Only files under dir are ever
// deleted. ledger may be nil.
func NewTempFiles(dir, runID string, ledger ArtifactLedger) *TempFiles {
	if dir == "" {
		dir = os.TempDir()
	}
	return &TempFiles{dir: dir, runID: runID, ledger: ledger}
}

// Register records path for cleanup. Call it before the file is created.
func (t *TempFiles) Register(path string) {
	t.mu.Lock()
	t.paths = append(t.paths, path)
	t.mu.Unlock()

	if t.ledger != nil {
		if err := t.ledger.RecordArtifact(context.Background(), t.runID, path); err != nil {
			slog.Warn("artifact_record_failed", "run_id", t.runID, "path", path, "error", err)
		}
	}
}

// Restore tracks paths that were already registered, without recording them
// in the ledger again.
func (t *TempFiles) Restore(paths []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paths = append(t.paths, paths...)
}

// Paths returns the registered paths.
func (t *TempFiles) Paths() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.paths...)
}

// Cleanup deletes every registered file that exists and lies under the temp
// dir. Errors are logged, never returned. Safe to call more than once.
func (t *TempFiles) Cleanup() {
	t.mu.Lock()
	paths := t.paths
	t.paths = nil
	t.mu.Unlock()

	for _, p := range paths {
		if !Within(t.dir, p) {
			slog.Warn("temp_cleanup_skipped", "path", p, "reason", "outside temp dir")
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			slog.Warn("temp_cleanup_failed", "path", p, "error", err)
			continue
		}
		slog.Debug("temp_removed", "path", p)

		if t.ledger != nil {
			if err := t.ledger.ReleaseArtifact(context.Background(), p); err != nil {
				slog.Warn("artifact_release_failed", "path", p, "error", err)
			}
		}
	}
}

// Within reports whether path lies inside dir.
func Within(dir, path string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
