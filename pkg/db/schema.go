package db

// Schema defines the SQLite schema of the run ledger.
// runs holds one row per pipeline run; artifacts holds the temporary files a
// run has registered and not yet deleted.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('running', 'complete', 'failed')),
    journaled INTEGER NOT NULL DEFAULT 0,
    asset_id TEXT,
    method TEXT,
    output_path TEXT,
    output_size INTEGER,
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);

CREATE TABLE IF NOT EXISTS artifacts (
    path TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_artifacts_run_id ON artifacts(run_id);
`

// Run statuses
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Run is one pipeline run.
type Run struct {
	ID           string
	Source       string
	Status       string
	Journaled    bool
	AssetID      string
	Method       string
	OutputPath   string
	OutputSize   int64
	ErrorMessage string
	CreatedAt    string
	UpdatedAt    string
}

// Artifact is a temporary file owned by a run.
type Artifact struct {
	Path      string
	RunID     string
	CreatedAt string
}
