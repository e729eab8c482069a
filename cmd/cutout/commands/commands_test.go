package commands

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cutout-cli/cutout/pkg/db"
	"github.com/cutout-cli/cutout/pkg/errors"
	"github.com/cutout-cli/cutout/pkg/pipeline"
)

type fakeSelector struct {
	path string
	err  error
}

func (s fakeSelector) SelectedFile(context.Context) (string, error) {
	return s.path, s.err
}

func TestResolveSource(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		selector fakeSelector
		want     string
		wantErr  bool
	}{
		{"argument wins", []string{"/img/cat.png"}, fakeSelector{path: "/img/dog.png"}, "/img/cat.png", false},
		{"selection used", nil, fakeSelector{path: "/img/dog.png"}, "/img/dog.png", false},
		{"blank argument falls back", []string{"  "}, fakeSelector{path: "/img/dog.png"}, "/img/dog.png", false},
		{"no selection", nil, fakeSelector{err: fmt.Errorf("osascript failed")}, "", true},
		{"empty selection", nil, fakeSelector{}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveSource(context.Background(), tt.args, tt.selector)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("source = %q, want %q", got, tt.want)
			}
		})
	}
}

func newRepo(t *testing.T) *db.Repository {
	t.Helper()
	repo, err := db.NewRepository(filepath.Join(t.TempDir(), "cutout.db"))
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCleanOrphaned_SkipsRunningRuns(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	tempDir := t.TempDir()

	for _, id := range []string{"done", "live"} {
		if err := repo.CreateRun(ctx, &db.Run{ID: id, Source: id + ".png"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := repo.FinishRun(ctx, &db.Run{ID: "done", Source: "done.png", Status: db.StatusFailed}); err != nil {
		t.Fatal(err)
	}

	donePath := filepath.Join(tempDir, "cutout_compressed_1_aaaa.jpg")
	livePath := filepath.Join(tempDir, "cutout_compressed_2_bbbb.jpg")
	touch(t, donePath)
	touch(t, livePath)
	repo.RecordArtifact(ctx, "done", donePath)
	repo.RecordArtifact(ctx, "live", livePath)

	removed, err := cleanOrphaned(ctx, repo, tempDir, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(donePath); !os.IsNotExist(err) {
		t.Error("orphaned artifact still exists")
	}
	if _, err := os.Stat(livePath); err != nil {
		t.Error("artifact of running run was removed")
	}

	left, _ := repo.ListArtifacts(ctx, "")
	if len(left) != 1 || left[0].Path != livePath {
		t.Errorf("ledger = %+v", left)
	}
}

func TestCleanAll_RemovesStrayFiles(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	tempDir := t.TempDir()

	repo.CreateRun(ctx, &db.Run{ID: "live", Source: "a.png"})
	recorded := filepath.Join(tempDir, "cutout_source_1_cccc.png")
	touch(t, recorded)
	repo.RecordArtifact(ctx, "live", recorded)

	stray := filepath.Join(tempDir, "cutout_result_old.png")
	touch(t, stray)
	unrelated := filepath.Join(tempDir, "notes.txt")
	touch(t, unrelated)

	removed, err := cleanAll(ctx, repo, tempDir)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Error("unrelated file was removed")
	}

	run, _ := repo.GetRun(ctx, "live")
	if run == nil || run.Status != db.StatusFailed {
		t.Errorf("run not abandoned: %+v", run)
	}
}

func TestRemoveArtifacts_OutsideTempDir(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	tempDir := t.TempDir()

	outside := filepath.Join(t.TempDir(), "cutout_compressed_9_dddd.jpg")
	touch(t, outside)
	repo.RecordArtifact(ctx, "r", outside)

	n := removeArtifacts(ctx, repo, tempDir, []*db.Artifact{{Path: outside, RunID: "r"}})
	if n != 0 {
		t.Errorf("removed = %d", n)
	}
	if _, err := os.Stat(outside); err != nil {
		t.Error("file outside temp dir was deleted")
	}
}

func TestPrintHistory(t *testing.T) {
	var buf bytes.Buffer
	printHistory(&buf, nil)
	if !strings.Contains(buf.String(), "No runs found") {
		t.Errorf("empty history = %q", buf.String())
	}

	buf.Reset()
	printHistory(&buf, []*db.Run{
		{ID: "0123456789abcdef", Status: db.StatusComplete, Method: "e_background_removal", OutputPath: "/out/cat_no_background.png", OutputSize: 2048},
		{ID: "fedcba98", Status: db.StatusFailed, ErrorMessage: "Upload timeout after 150s\n\nFile: cat.jpg"},
	})
	out := buf.String()
	for _, want := range []string{"01234567 ", "cat_no_background.png (2.0 KiB)", "Upload timeout after 150s"} {
		if !strings.Contains(out, want) {
			t.Errorf("history missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "File: cat.jpg") {
		t.Error("history should show only the first line of an error")
	}
}

func TestReportFailure(t *testing.T) {
	var buf bytes.Buffer
	runErr := &pipeline.RunError{
		Err:     errors.New(errors.KindUpload, "Upload timeout after 150s - overall upload deadline reached"),
		File:    "cat.jpg",
		Size:    2048,
		HasSize: true,
		LogPath: "/home/me/cutout-upload-debug.log",
	}
	reportFailure(&buf, runErr)

	out := buf.String()
	for _, want := range []string{"Background removal failed", "File: cat.jpg (2.0 KB)", "/home/me/cutout-upload-debug.log"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestRemoveHelp_PointsInterruptedRunsToCleanup(t *testing.T) {
	if !strings.Contains(removeCmd.Long, "cleanup --orphaned") {
		t.Errorf("remove help does not mention orphan cleanup:\n%s", removeCmd.Long)
	}
	if strings.Contains(removeCmd.Long, "survives a crash") {
		t.Error("remove help promises crash recovery")
	}
}
