//go:build darwin

package desktop

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

const finderSelectionScript = `tell application "Finder" to get POSIX path of (selection as alias)`

// FinderSelector asks Finder for the selected item.
type FinderSelector struct{}

// NewSelector returns the Finder selector.
func NewSelector() Selector {
	return FinderSelector{}
}

// SelectedFile returns the selected path, or "" when the selection is empty,
// not a single item or not an existing file. Script failures are expected
// when nothing is selected and are not reported as errors.
func (FinderSelector) SelectedFile(ctx context.Context) (string, error) {
	out, err := run(ctx, "osascript", "-e", finderSelectionScript)
	if err != nil {
		slog.Debug("finder_selection_unavailable", "error", err)
		return "", nil
	}

	path := strings.TrimSpace(out)
	if path == "" {
		return "", nil
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return "", nil
	}
	return path, nil
}

// PreviewOpener opens files with Preview.app.
type PreviewOpener struct{}

// NewOpener returns the Preview opener.
func NewOpener() Opener {
	return PreviewOpener{}
}

func (PreviewOpener) Open(ctx context.Context, path string) error {
	_, err := run(ctx, "open", "-a", "Preview", path)
	return err
}
