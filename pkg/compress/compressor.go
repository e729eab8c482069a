// Package compress shrinks images that exceed the upload soft limit into
// temporary derivatives.
package compress

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cutout-cli/cutout/pkg/errors"
	"github.com/google/uuid"
)

// Default compression settings.
const (
	// DefaultSoftLimit is the largest file uploaded without resizing (10MB).
	DefaultSoftLimit = 10 * 1024 * 1024
	// DefaultMaxDimension bounds the longest side of a compressed image.
	DefaultMaxDimension = 2000
	// TempPrefix starts every compressed temp file name.
	TempPrefix = "cutout_compressed_"
)

// Registrar records a temporary artifact for cleanup.
type Registrar interface {
	Register(path string)
}

// Resizer writes a copy of input to output whose longest side is at most
// maxDimension pixels.
type Resizer interface {
	Name() string
	Resize(ctx context.Context, input, output string, maxDimension int) error
	// OutputExt maps the input extension to the extension the resizer writes.
	OutputExt(inputExt string) string
}

// Compressor produces resized temporary copies of oversized images.
type Compressor struct {
	resizer      Resizer
	tempDir      string
	maxDimension int
	timeout      time.Duration
}

// NewCompressor creates a compressor writing into tempDir.
func NewCompressor(resizer Resizer, tempDir string, maxDimension int) *Compressor {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	slog.Info("compressor_init", "resizer", resizer.Name(), "temp_dir", tempDir, "max_dimension", maxDimension)

	return &Compressor{
		resizer:      resizer,
		tempDir:      tempDir,
		maxDimension: maxDimension,
		timeout:      2 * time.Minute,
	}
}

// TempPath returns a unique temp file name for a derivative of input.
func (c *Compressor) TempPath(input string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(input)), ".")
	if ext == "" {
		ext = "jpg"
	}
	ext = strings.TrimPrefix(c.resizer.OutputExt("."+ext), ".")

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	name := fmt.Sprintf("%s%d_%s.%s", TempPrefix, time.Now().UnixMilli(), suffix, ext)
	return filepath.Join(c.tempDir, name)
}

// Compress writes a resized copy of input and returns its path. The path is
// handed to reg before the resize starts, so it is known even if the resize
// never returns.
func (c *Compressor) Compress(ctx context.Context, input string, reg Registrar) (string, error) {
	output := c.TempPath(input)
	if reg != nil {
		reg.Register(output)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	slog.Info("compression_started", "input", input, "output", output, "resizer", c.resizer.Name(), "max_dimension", c.maxDimension)
	start := time.Now()

	if err := c.resizer.Resize(ctx, input, output, c.maxDimension); err != nil {
		removePartial(output)
		slog.Error("compression_failed", "input", input, "error", err)
		return "", errors.WrapKind(err, errors.KindCompression, "Compression failed")
	}

	info, err := os.Stat(output)
	if err != nil || info.Size() == 0 {
		removePartial(output)
		slog.Error("compression_output_invalid", "output", output, "error", err)
		return "", errors.New(errors.KindCompression, "Compression failed: output file is invalid")
	}

	slog.Info("compression_complete", "output", output, "size", info.Size(), "elapsed", time.Since(start).Round(time.Millisecond))
	return output, nil
}

func removePartial(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("compression_cleanup_failed", "path", path, "error", err)
	}
}
