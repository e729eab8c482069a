package desktop

import (
	"context"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/cutout-cli/cutout/pkg/security"
)

func TestFileCommandProber(t *testing.T) {
	if _, err := exec.LookPath("file"); err != nil {
		t.Skip("file command not available")
	}

	path := filepath.Join(t.TempDir(), "it's a (test).png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	png.Encode(f, image.NewRGBA(image.Rect(0, 0, 4, 4)))
	f.Close()

	mime, err := FileCommandProber{}.ProbeMIME(context.Background(), path)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if mime != "image/png" {
		t.Errorf("mime = %q, want image/png", mime)
	}
}

func TestFileCommandProber_MissingBinary(t *testing.T) {
	_, err := FileCommandProber{Binary: "definitely-not-a-real-binary"}.ProbeMIME(context.Background(), "/tmp/x.png")
	if err == nil {
		t.Error("expected error for missing binary")
	}
}

func TestNewMIMEProber(t *testing.T) {
	p, err := NewMIMEProber(ProberSniff)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(security.SniffProber); !ok {
		t.Errorf("sniff prober is %T", p)
	}

	p, _ = NewMIMEProber(ProberFile)
	if _, ok := p.(FileCommandProber); !ok {
		t.Errorf("file prober is %T", p)
	}

	if p, err := NewMIMEProber(ProberAuto); err != nil || p == nil {
		t.Errorf("auto prober: %v", err)
	}
	if _, err := NewMIMEProber("magic"); err == nil {
		t.Error("unknown prober accepted")
	}
}
