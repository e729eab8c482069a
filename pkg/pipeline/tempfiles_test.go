package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

type memLedger struct {
	recorded map[string]string
	released []string
}

func newMemLedger() *memLedger {
	return &memLedger{recorded: map[string]string{}}
}

func (l *memLedger) RecordArtifact(_ context.Context, runID, path string) error {
	l.recorded[path] = runID
	return nil
}

func (l *memLedger) ReleaseArtifact(_ context.Context, path string) error {
	delete(l.recorded, path)
	l.released = append(l.released, path)
	return nil
}

func TestTempFiles_CleanupOnlyInsideTempDir(t *testing.T) {
	tempDir := t.TempDir()
	outside := filepath.Join(t.TempDir(), "keep.png")
	os.WriteFile(outside, []byte("keep"), 0o644)

	inside := filepath.Join(tempDir, "cutout_compressed_1_abc.png")
	os.WriteFile(inside, []byte("tmp"), 0o644)
	never := filepath.Join(tempDir, "never_created.png")

	ledger := newMemLedger()
	tf := NewTempFiles(tempDir, "run-1", ledger)
	tf.Register(inside)
	tf.Register(outside)
	tf.Register(never)

	if ledger.recorded[inside] != "run-1" {
		t.Errorf("artifact not recorded in ledger")
	}

	tf.Cleanup()

	if _, err := os.Stat(inside); !os.IsNotExist(err) {
		t.Errorf("temp file not deleted")
	}
	if _, err := os.Stat(outside); err != nil {
		t.Errorf("file outside temp dir deleted: %v", err)
	}
	if _, ok := ledger.recorded[inside]; ok {
		t.Errorf("deleted artifact not released")
	}
	if len(tf.Paths()) != 0 {
		t.Errorf("paths not cleared")
	}

	// Second cleanup is a no-op.
	tf.Cleanup()
}

func TestWithin(t *testing.T) {
	tests := []struct {
		dir, path string
		want      bool
	}{
		{"/tmp", "/tmp/a.png", true},
		{"/tmp", "/tmp/sub/a.png", true},
		{"/tmp", "/tmp", false},
		{"/tmp", "/tmpfoo/a.png", false},
		{"/tmp", "/tmp/../etc/passwd", false},
		{"/tmp", "/home/me/a.png", false},
	}
	for _, tt := range tests {
		if got := Within(tt.dir, tt.path); got != tt.want {
			t.Errorf("Within(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}
