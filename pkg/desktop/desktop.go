// Package desktop wraps the OS programs cutout cooperates with: the file
// manager selection, the result viewer and the file(1) MIME probe.
package desktop

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/cutout-cli/cutout/pkg/security"
)

// Selector reports the file currently selected in the file manager.
type Selector interface {
	// SelectedFile returns "" when nothing usable is selected.
	SelectedFile(ctx context.Context) (string, error)
}

// Opener shows a file to the user.
type Opener interface {
	Open(ctx context.Context, path string) error
}

// probeTimeout bounds a single file(1) invocation.
const probeTimeout = 5 * time.Second

// FileCommandProber detects MIME types with `file -b --mime-type`.
type FileCommandProber struct {
	Binary string
}

// ProbeMIME implements security.MIMEProber.
func (p FileCommandProber) ProbeMIME(ctx context.Context, path string) (string, error) {
	bin := p.Binary
	if bin == "" {
		bin = "file"
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := run(ctx, bin, "-b", "--mime-type", path)
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(out)), nil
}

// MIME prober names accepted by NewMIMEProber.
const (
	ProberAuto  = "auto"
	ProberFile  = "file"
	ProberSniff = "sniff"
)

// NewMIMEProber returns the prober named kind. "auto" uses file(1) when it
// is on PATH and content sniffing otherwise.
func NewMIMEProber(kind string) (security.MIMEProber, error) {
	switch kind {
	case ProberFile:
		return FileCommandProber{}, nil
	case ProberSniff:
		return security.SniffProber{}, nil
	case ProberAuto, "":
		if _, err := exec.LookPath("file"); err == nil {
			return FileCommandProber{}, nil
		}
		return security.SniffProber{}, nil
	default:
		return nil, fmt.Errorf("unknown mime prober %q", kind)
	}
}

// run executes bin with args and returns its stdout.
func run(ctx context.Context, bin string, args ...string) (string, error) {
	quoted := make([]string, 0, len(args)+1)
	quoted = append(quoted, bin)
	for _, a := range args {
		quoted = append(quoted, security.EscapeShellArg(a))
	}
	slog.Debug("executing command", "command", strings.Join(quoted, " "))

	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s failed: %w: %s", bin, err, msg)
		}
		return "", fmt.Errorf("%s failed: %w", bin, err)
	}
	return stdout.String(), nil
}
