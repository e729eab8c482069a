package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/cutout-cli/cutout/pkg/errors"
	_ "modernc.org/sqlite"
)

const timestampLayout = "2006-01-02 15:04:05"

// Repository provides ledger operations for runs and artifacts
type Repository struct {
	db *sql.DB
}

// NewRepository opens the ledger at dbPath, creating the schema if needed
func NewRepository(dbPath string) (*Repository, error) {
	slog.Debug("database_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}
	// One connection keeps writes serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Debug("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// CreateRun inserts a run in the running state
func (r *Repository) CreateRun(ctx context.Context, run *Run) error {
	slog.Debug("database_create_run", "run_id", run.ID, "source", run.Source)

	if run.Status == "" {
		run.Status = StatusRunning
	}
	query := `INSERT INTO runs (id, source, status, journaled) VALUES (?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, run.ID, run.Source, run.Status, run.Journaled); err != nil {
		slog.Error("database_insert_failed", "run_id", run.ID, "error", err)
		return errors.Wrap(err, "failed to insert run")
	}
	return nil
}

// FinishRun stores the outcome of a run
func (r *Repository) FinishRun(ctx context.Context, run *Run) error {
	slog.Debug("database_finish_run", "run_id", run.ID, "status", run.Status)

	query := `
		UPDATE runs
		SET status = ?, asset_id = ?, method = ?, output_path = ?, output_size = ?,
		    error_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		run.Status, run.AssetID, run.Method, run.OutputPath, run.OutputSize,
		run.ErrorMessage, run.ID)
	if err != nil {
		slog.Error("database_update_failed", "run_id", run.ID, "error", err)
		return errors.Wrap(err, "failed to update run")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return fmt.Errorf("run not found: id=%s", run.ID)
	}
	return nil
}

const runColumns = `id, source, status, journaled, asset_id, method, output_path, output_size, error_message, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (*Run, error) {
	var run Run
	var assetID, method, outputPath, errorMessage sql.NullString
	var outputSize sql.NullInt64

	err := s.Scan(&run.ID, &run.Source, &run.Status, &run.Journaled,
		&assetID, &method, &outputPath, &outputSize, &errorMessage,
		&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}

	run.AssetID = assetID.String
	run.Method = method.String
	run.OutputPath = outputPath.String
	run.OutputSize = outputSize.Int64
	run.ErrorMessage = errorMessage.String
	return &run, nil
}

// GetRun retrieves a run by ID. A missing run yields (nil, nil).
func (r *Repository) GetRun(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("database_query_failed", "run_id", id, "error", err)
		return nil, errors.Wrap(err, "failed to query run")
	}
	return run, nil
}

// ListRuns returns the most recent runs first. limit <= 0 means no limit.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return runs, nil
}

// AbandonStaleRuns marks runs still running and untouched since before as
// failed. It returns the number of runs updated.
func (r *Repository) AbandonStaleRuns(ctx context.Context, before time.Time) (int64, error) {
	query := `
		UPDATE runs SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE status = ? AND updated_at < ?
	`
	result, err := r.db.ExecContext(ctx, query,
		StatusFailed, "abandoned", StatusRunning, before.UTC().Format(timestampLayout))
	if err != nil {
		return 0, errors.Wrap(err, "failed to abandon stale runs")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	if n > 0 {
		slog.Info("database_runs_abandoned", "count", n)
	}
	return n, nil
}

// RecordArtifact registers a temporary file owned by runID
func (r *Repository) RecordArtifact(ctx context.Context, runID, path string) error {
	query := `INSERT OR REPLACE INTO artifacts (path, run_id) VALUES (?, ?)`
	if _, err := r.db.ExecContext(ctx, query, path, runID); err != nil {
		return errors.Wrap(err, "failed to record artifact")
	}
	return nil
}

// ReleaseArtifact forgets a temporary file once it is deleted
func (r *Repository) ReleaseArtifact(ctx context.Context, path string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM artifacts WHERE path = ?`, path); err != nil {
		return errors.Wrap(err, "failed to release artifact")
	}
	return nil
}

// ListArtifacts returns the artifacts of runID, or of every run when runID
// is empty.
func (r *Repository) ListArtifacts(ctx context.Context, runID string) ([]*Artifact, error) {
	query := `SELECT path, run_id, created_at FROM artifacts`
	args := []any{}
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY created_at, path`

	return r.queryArtifacts(ctx, query, args...)
}

// ListOrphanedArtifacts returns artifacts whose run is no longer running.
func (r *Repository) ListOrphanedArtifacts(ctx context.Context) ([]*Artifact, error) {
	query := `
		SELECT a.path, a.run_id, a.created_at
		FROM artifacts a LEFT JOIN runs r ON r.id = a.run_id
		WHERE r.id IS NULL OR r.status != ?
		ORDER BY a.created_at, a.path
	`
	return r.queryArtifacts(ctx, query, StatusRunning)
}

func (r *Repository) queryArtifacts(ctx context.Context, query string, args ...any) ([]*Artifact, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list artifacts")
	}
	defer rows.Close()

	var artifacts []*Artifact
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.Path, &a.RunID, &a.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		artifacts = append(artifacts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return artifacts, nil
}
