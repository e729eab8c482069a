package pipeline

import (
	"bytes"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestOutputBaseName(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"/photos/cat.png", "cat"},
		{"/photos/my photo (1).JPG", "my photo (1)"},
		{"/photos/a<b>c\x01d.png", "a_b_c_d"},
		{"/photos/.png", "image"},
	}

	for _, tt := range tests {
		if got := OutputBaseName(tt.source); got != tt.want {
			t.Errorf("OutputBaseName(%q) = %q, want %q", tt.source, got, tt.want)
		}
	}
}

func TestSaveOutput_NeverOverwrites(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")

	want := []string{
		"cat_no_background.png",
		"cat_no_background_1.png",
		"cat_no_background_2.png",
	}
	for i, name := range want {
		data := bytes.Repeat([]byte{byte(i + 1)}, 10)
		path, size, err := SaveOutput(dir, "cat", data)
		if err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
		if filepath.Base(path) != name || size != 10 {
			t.Errorf("save %d = %s (%d bytes), want %s", i, filepath.Base(path), size, name)
		}
	}

	// Earlier results are untouched.
	first, _ := os.ReadFile(filepath.Join(dir, want[0]))
	if first[0] != 1 {
		t.Errorf("first result overwritten")
	}
	if got := NextOutputPath(dir, "cat"); filepath.Base(got) != "cat_no_background_3.png" {
		t.Errorf("NextOutputPath() = %s", got)
	}
}

func TestSaveOutput_RejectsEmpty(t *testing.T) {
	dir := t.TempDir()
	_, _, err := SaveOutput(dir, "cat", nil)
	if err == nil || !strings.Contains(err.Error(), "file is empty") {
		t.Fatalf("error = %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("empty output left behind: %v", entries)
	}
}

func TestResolveOutputDir(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	got, err := ResolveOutputDir("~/Pictures/cutouts")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(home, "Pictures", "cutouts") {
		t.Errorf("got %q", got)
	}

	got, _ = ResolveOutputDir("")
	if got != filepath.Join(home, "Downloads") {
		t.Errorf("default = %q", got)
	}

	got, _ = ResolveOutputDir("relative/out")
	if !filepath.IsAbs(got) {
		t.Errorf("relative dir not made absolute: %q", got)
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", 150)
	if got := Truncate(long, 100); got != strings.Repeat("x", 100)+"..." {
		t.Errorf("Truncate() = %q", got)
	}
	if got := Truncate("short", 100); got != "short" {
		t.Errorf("Truncate() = %q", got)
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"rune straddles cut", strings.Repeat("a", 99) + "ü rest", strings.Repeat("a", 99) + "..."},
		{"rune ends at cut", strings.Repeat("a", 98) + "ü rest", strings.Repeat("a", 98) + "ü..."},
		{"rune starts at cut", strings.Repeat("a", 100) + "ü", strings.Repeat("a", 100) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.in, 100)
			if got != tt.want {
				t.Errorf("Truncate() = %q, want %q", got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("Truncate() is not valid UTF-8: %q", got)
			}
		})
	}

	runErr := &RunError{Err: stderrors.New(strings.Repeat("a", 99) + "ü rest")}
	if s := runErr.Summary(); !utf8.ValidString(s) {
		t.Errorf("Summary() is not valid UTF-8: %q", s)
	}
}
