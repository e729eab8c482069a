//go:build !darwin

package desktop

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
)

// StubSelector is used where there is no Finder to ask.
type StubSelector struct{}

// NewSelector returns a selector that never finds a selection.
func NewSelector() Selector {
	return StubSelector{}
}

func (StubSelector) SelectedFile(ctx context.Context) (string, error) {
	return "", fmt.Errorf("file manager selection not supported on %s", runtime.GOOS)
}

// XDGOpener opens files with the desktop's default viewer.
type XDGOpener struct{}

// NewOpener returns the xdg-open opener.
func NewOpener() Opener {
	return XDGOpener{}
}

func (XDGOpener) Open(ctx context.Context, path string) error {
	if _, err := exec.LookPath("xdg-open"); err != nil {
		return fmt.Errorf("opening files not supported on %s: %w", runtime.GOOS, err)
	}
	_, err := run(ctx, "xdg-open", path)
	return err
}
