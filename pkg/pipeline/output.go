package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cutout-cli/cutout/pkg/errors"
)

// DefaultOutputDir is where results go when no directory is configured.
const DefaultOutputDir = "~/Downloads"

const outputSuffix = "_no_background"

var unsafeBaseChars = regexp.MustCompile(`[<>:"|?*\x00-\x1f\x7f]`)

// ResolveOutputDir expands a leading ~ and makes dir absolute.
func ResolveOutputDir(dir string) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = DefaultOutputDir
	}

	if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.WrapKind(err, errors.KindFilesystem, "Cannot resolve home directory")
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.WrapKind(err, errors.KindFilesystem, "Cannot resolve output directory")
	}
	return abs, nil
}

// OutputBaseName derives the result's base name from the source file name.
func OutputBaseName(source string) string {
	name := filepath.Base(source)
	base := strings.TrimSuffix(name, filepath.Ext(name))
	base = unsafeBaseChars.ReplaceAllString(base, "_")
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "image"
	}
	return base
}

// OutputName is the n-th candidate file name for base; n == 0 is the plain
// name, later ones carry a numeric suffix.
func OutputName(base string, n int) string {
	if n == 0 {
		return base + outputSuffix + ".png"
	}
	return fmt.Sprintf("%s%s_%d.png", base, outputSuffix, n)
}

// NextOutputPath returns the first candidate in dir that does not exist yet.
func NextOutputPath(dir, base string) string {
	for n := 0; ; n++ {
		p := filepath.Join(dir, OutputName(base, n))
		if _, err := os.Lstat(p); os.IsNotExist(err) {
			return p
		}
	}
}

// SaveOutput writes data into dir under the first free name for base and
// verifies the written size. Existing files are never overwritten.
func SaveOutput(dir, base string, data []byte) (string, int64, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, errors.WrapKind(err, errors.KindFilesystem, fmt.Sprintf("Cannot create output directory: %s", dir))
	}

	var (
		f    *os.File
		path string
	)
	for n := 0; ; n++ {
		path = filepath.Join(dir, OutputName(base, n))
		var err error
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return "", 0, errors.WrapKind(err, errors.KindFilesystem, "Failed to save processed image")
		}
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return "", 0, errors.WrapKind(err, errors.KindFilesystem, "Failed to save processed image")
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", 0, errors.WrapKind(err, errors.KindFilesystem, "Failed to save processed image")
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", 0, errors.WrapKind(err, errors.KindFilesystem, "Failed to save processed image")
	}
	if info.Size() == 0 {
		os.Remove(path)
		return "", 0, errors.New(errors.KindFilesystem, "Failed to save processed image - file is empty")
	}
	return path, info.Size(), nil
}
