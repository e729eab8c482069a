package compress

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/cutout-cli/cutout/pkg/security"
	"github.com/disintegration/imaging"

	// Registers the WebP decoder with image.Decode.
	_ "golang.org/x/image/webp"
)

// Resizer names accepted by NewResizer.
const (
	ResizerAuto    = "auto"
	ResizerSips    = "sips"
	ResizerImaging = "imaging"
)

// NewResizer returns the resizer named kind. "auto" prefers sips when it is
// on PATH.
func NewResizer(kind string) (Resizer, error) {
	switch kind {
	case ResizerSips:
		return &SipsResizer{Binary: "sips"}, nil
	case ResizerImaging:
		return ImagingResizer{}, nil
	case ResizerAuto, "":
		if _, err := exec.LookPath("sips"); err == nil {
			return &SipsResizer{Binary: "sips"}, nil
		}
		return ImagingResizer{}, nil
	default:
		return nil, fmt.Errorf("unknown resizer %q", kind)
	}
}

// SipsResizer shells out to the macOS sips tool.
type SipsResizer struct {
	Binary string
}

func (r *SipsResizer) Name() string { return "sips" }

func (r *SipsResizer) OutputExt(inputExt string) string { return inputExt }

func (r *SipsResizer) Resize(ctx context.Context, input, output string, maxDimension int) error {
	args := []string{"-Z", strconv.Itoa(maxDimension), input, "--out", output}

	quoted := make([]string, 0, len(args)+1)
	quoted = append(quoted, r.Binary)
	for _, a := range args {
		quoted = append(quoted, security.EscapeShellArg(a))
	}
	slog.Debug("executing command", "command", strings.Join(quoted, " "))

	cmd := exec.CommandContext(ctx, r.Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s timed out: %w", r.Binary, ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return fmt.Errorf("%s failed: %w", r.Binary, err)
		}
		return fmt.Errorf("%s failed: %w: %s", r.Binary, err, msg)
	}
	return nil
}

// ImagingResizer resizes in-process.
type ImagingResizer struct{}

func (ImagingResizer) Name() string { return "imaging" }

// OutputExt re-encodes WebP as PNG; imaging has no WebP encoder.
func (ImagingResizer) OutputExt(inputExt string) string {
	if strings.EqualFold(inputExt, ".webp") {
		return ".png"
	}
	return inputExt
}

func (ImagingResizer) Resize(ctx context.Context, input, output string, maxDimension int) error {
	img, err := imaging.Open(input, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("decode %s: %w", input, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b := img.Bounds()
	if b.Dx() > maxDimension || b.Dy() > maxDimension {
		img = imaging.Fit(img, maxDimension, maxDimension, imaging.Lanczos)
	}

	if err := imaging.Save(img, output, imaging.JPEGQuality(85)); err != nil {
		return fmt.Errorf("encode %s: %w", output, err)
	}
	return nil
}
