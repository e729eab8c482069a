package pipeline

import (
	stderrors "errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cutout-cli/cutout/pkg/errors"
)

// ErrBusy is returned when a run is submitted while another is in progress.
var ErrBusy = stderrors.New("Already processing: please wait for the current operation to complete")

// summaryLength is how much of a failure message fits in a one-line summary.
const summaryLength = 100

// RunError is a failed run as presented to the user.
type RunError struct {
	Err     error
	RunID   string
	Stage   State
	File    string
	Size    int64
	HasSize bool
	LogPath string
}

func (e *RunError) Error() string {
	return e.Err.Error()
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Kind is the classification of the underlying failure.
func (e *RunError) Kind() errors.Kind {
	return errors.KindOf(e.Err)
}

// Detail is the full message: the failure, the file it concerns and, for
// upload and timeout failures, where the diagnostic log is.
func (e *RunError) Detail() string {
	var b strings.Builder
	msg := e.Err.Error()
	b.WriteString(msg)

	if e.File != "" && e.HasSize {
		fmt.Fprintf(&b, "\n\nFile: %s (%.1f KB)", e.File, float64(e.Size)/1024)
	}

	if e.LogPath != "" && mentionsUpload(msg) {
		fmt.Fprintf(&b, "\n\nDetailed logs saved to:\n%s", e.LogPath)
	}
	return b.String()
}

// Summary is the failure message cut to toast length.
func (e *RunError) Summary() string {
	return Truncate(e.Err.Error(), summaryLength)
}

// Truncate cuts s to at most n bytes on a rune boundary, marking the cut
// with "...".
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

func mentionsUpload(msg string) bool {
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "upload") || strings.Contains(msg, "Upload")
}
