// Package security holds input sanitization and image file validation.
package security

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
)

// DefaultHardLimit is the remote host's absolute upload maximum (100MB).
const DefaultHardLimit = 100 * 1024 * 1024

// SupportedExtensions lists the raster formats accepted for upload.
var SupportedExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp", ".tiff"}

// SupportedMIMETypes lists the MIME types accepted when a probe is available.
var SupportedMIMETypes = []string{
	"image/png",
	"image/jpeg",
	"image/jpg",
	"image/gif",
	"image/webp",
	"image/bmp",
	"image/tiff",
}

// MIMEProber reports the MIME type of a file.
type MIMEProber interface {
	ProbeMIME(ctx context.Context, path string) (string, error)
}

// Result is the outcome of validating a candidate file.
type Result struct {
	Valid  bool
	Reason string
	Size   int64
}

func invalid(reason string) Result {
	return Result{Valid: false, Reason: reason}
}

// Validator checks candidate images before upload
type Validator struct {
	hardLimit int64
	prober    MIMEProber
}

// NewValidator creates a validator. prober may be nil, in which case only
// the extension is checked.
func NewValidator(hardLimit int64, prober MIMEProber) *Validator {
	slog.Info("image_validator_init", "hard_limit_mb", hardLimit/1024/1024, "mime_probe", prober != nil)

	return &Validator{
		hardLimit: hardLimit,
		prober:    prober,
	}
}

// Validate runs the checks cheapest first: existence, extension, MIME probe,
// then size.
func (v *Validator) Validate(ctx context.Context, path string) Result {
	if _, err := os.Stat(path); err != nil {
		slog.Error("image_validation_failed", "path", path, "reason", "not_found")
		return invalid("File does not exist")
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(SupportedExtensions, ext) {
		slog.Error("image_validation_failed", "path", path, "reason", "extension", "ext", ext)
		return invalid(fmt.Sprintf("Unsupported file format. Supported: %s", strings.Join(SupportedExtensions, ", ")))
	}

	if v.prober != nil {
		mimeType, err := v.prober.ProbeMIME(ctx, path)
		if err != nil {
			// Probe unavailable; the extension check stands.
			slog.Warn("mime_probe_failed", "path", path, "error", err)
		} else {
			mimeType = normalizeMIME(mimeType)
			if !slices.Contains(SupportedMIMETypes, mimeType) {
				slog.Error("image_validation_failed", "path", path, "reason", "mime", "mime", mimeType)
				return invalid(fmt.Sprintf("Unsupported image format: %s", mimeType))
			}
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return invalid(err.Error())
	}
	if info.IsDir() {
		return invalid("Path is a directory, not an image file")
	}

	size := info.Size()
	if size == 0 {
		slog.Error("image_validation_failed", "path", path, "reason", "empty")
		return invalid("File is empty")
	}
	if size > v.hardLimit {
		slog.Error("image_validation_failed", "path", path, "reason", "too_large", "size_mb", size/1024/1024)
		return invalid(fmt.Sprintf("File too large: %s (max %s before compression)",
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(v.hardLimit))))
	}

	slog.Info("image_validated", "path", path, "ext", ext, "size", size)
	return Result{Valid: true, Size: size}
}

func normalizeMIME(m string) string {
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	return strings.ToLower(strings.TrimSpace(m))
}
