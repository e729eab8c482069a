package commands

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cutout-cli/cutout/internal/config"
	"github.com/cutout-cli/cutout/pkg/cloud"
	"github.com/cutout-cli/cutout/pkg/compress"
	"github.com/cutout-cli/cutout/pkg/db"
	"github.com/cutout-cli/cutout/pkg/desktop"
	"github.com/cutout-cli/cutout/pkg/diaglog"
	"github.com/cutout-cli/cutout/pkg/errors"
	"github.com/cutout-cli/cutout/pkg/pipeline"
	"github.com/cutout-cli/cutout/pkg/security"
	"github.com/cutout-cli/cutout/pkg/storage"
)

// loadConfig loads and validates the configuration
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config invalid")
	}
	return cfg, nil
}

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(sqlitePath, fsmDBPath, tempDir string) error {
	if sqlitePath != "" {
		if err := os.MkdirAll(filepath.Dir(sqlitePath), 0o755); err != nil {
			return errors.Wrap(err, "failed to create database directory")
		}
	}

	// Only needed for journaled runs
	if fsmDBPath != "" {
		if err := os.MkdirAll(fsmDBPath, 0o755); err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
	}

	if tempDir != "" {
		if err := os.MkdirAll(tempDir, 0o755); err != nil {
			return errors.Wrap(err, "failed to create temp directory")
		}
	}

	return nil
}

// openRepository opens the run ledger. The ledger is optional for a run, so
// callers decide whether a failure is fatal.
func openRepository(cfg *config.Config) (*db.Repository, error) {
	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return nil, err
	}
	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return nil, errors.Wrap(err, "db init failed")
	}
	return repo, nil
}

// openDiagLog opens the upload diagnostic log, falling back to a discarding
// one so diagnostics never stop a run.
func openDiagLog(path string) *diaglog.Log {
	l, err := diaglog.Open(path)
	if err != nil {
		slog.Warn("diagnostic_log_unavailable", "path", path, "error", err)
		return diaglog.Discard()
	}
	return l
}

// newRunner wires the pipeline collaborators from cfg. repo may be nil.
func newRunner(ctx context.Context, cfg *config.Config, source string, diag *diaglog.Log, repo *db.Repository, openResult bool) (*pipeline.Runner, error) {
	prober, err := desktop.NewMIMEProber(cfg.MIMEProber)
	if err != nil {
		return nil, errors.Wrap(err, "mime prober init failed")
	}

	resizer, err := compress.NewResizer(cfg.Resizer)
	if err != nil {
		return nil, errors.Wrap(err, "resizer init failed")
	}

	client := cloud.NewClient(cfg.CloudConfig(), diag.Logger())

	deps := pipeline.Deps{
		Validator:  security.NewValidator(cfg.HardLimit, prober),
		Compressor: compress.NewCompressor(resizer, cfg.TempDir, cfg.MaxDimension),
		Uploader:   client,
		Remover:    client,
		Opener:     desktop.NewOpener(),
	}
	if repo != nil {
		deps.Recorder = repo
	}

	if pipeline.IsS3Source(source) {
		s3Client, err := storage.NewClient(ctx, storage.Options{
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			MaxSize:  cfg.HardLimit,
		})
		if err != nil {
			return nil, errors.Wrap(err, "S3 client failed")
		}
		deps.Fetcher = s3Client
	}

	return pipeline.NewRunner(pipeline.Options{
		SoftLimit:  cfg.SoftLimit,
		OutputDir:  cfg.OutputDir,
		TempDir:    cfg.TempDir,
		LogPath:    diag.Path(),
		OpenResult: openResult,
	}, deps), nil
}
