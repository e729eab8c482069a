package diaglog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLog_AppendsTimestampedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "debug.log")

	l, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	l.Logger().Info("upload_start", "stage", "upload", "file", "photo.png")
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopening must append, not truncate.
	l, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	l.Logger().Info("upload_complete", "stage", "upload")
	l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), data)
	}
	for _, line := range lines {
		if !strings.HasPrefix(line, "time=") {
			t.Errorf("line is not timestamped: %q", line)
		}
		if !strings.Contains(line, "stage=upload") {
			t.Errorf("line missing stage: %q", line)
		}
	}
	if l.Path() != path {
		t.Errorf("Path() = %q, want %q", l.Path(), path)
	}
}

func TestLog_WritesAfterCloseAreSwallowed(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "debug.log"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	l.Close()

	n, err := l.Write([]byte("late\n"))
	if err != nil || n != 5 {
		t.Errorf("Write after close = (%d, %v), want (5, nil)", n, err)
	}
	l.Logger().Info("ignored")
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Logger().Info("nothing")
	if l.Path() != "" {
		t.Errorf("discard log should have no path")
	}
	if err := l.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}
