package security

import (
	"context"

	"github.com/gabriel-vasile/mimetype"
)

// SniffProber detects MIME types from file content without external tools.
type SniffProber struct{}

// ProbeMIME implements MIMEProber.
func (SniffProber) ProbeMIME(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return "", err
	}
	return normalizeMIME(m.String()), nil
}
