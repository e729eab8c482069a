// Package pipeline sequences one background-removal run: validate, compress
// when needed, upload, transform with fallback, save. Temporary files are
// deleted on every exit path.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cutout-cli/cutout/pkg/cloud"
	"github.com/cutout-cli/cutout/pkg/compress"
	"github.com/cutout-cli/cutout/pkg/db"
	"github.com/cutout-cli/cutout/pkg/errors"
	"github.com/cutout-cli/cutout/pkg/security"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// Validator checks a candidate image.
type Validator interface {
	Validate(ctx context.Context, path string) security.Result
}

// Compressor shrinks an oversized image into a registered temp file.
type Compressor interface {
	Compress(ctx context.Context, path string, reg compress.Registrar) (string, error)
}

// Uploader stores an image on the remote host.
type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

// Remover fetches the background-removed rendition of an uploaded asset.
type Remover interface {
	TryBackgroundRemoval(ctx context.Context, assetID string, onAttempt func(cloud.Method)) ([]byte, cloud.Method, error)
}

// Opener shows a saved result to the user.
type Opener interface {
	Open(ctx context.Context, path string) error
}

// Fetcher copies a remote source (s3://bucket/key) to a local file.
type Fetcher interface {
	Fetch(ctx context.Context, uri, dest string) error
}

// Recorder persists runs and their temporary artifacts.
type Recorder interface {
	ArtifactLedger
	CreateRun(ctx context.Context, run *db.Run) error
	FinishRun(ctx context.Context, run *db.Run) error
}

// Options configures a Runner.
type Options struct {
	// SoftLimit is the size above which images are compressed before upload.
	SoftLimit  int64
	OutputDir  string
	TempDir    string
	LogPath    string
	OpenResult bool
}

// Deps are the collaborators of a Runner. Compressor, Opener, Fetcher and
// Recorder are optional.
type Deps struct {
	Validator  Validator
	Compressor Compressor
	Uploader   Uploader
	Remover    Remover
	Opener     Opener
	Fetcher    Fetcher
	Recorder   Recorder
}

// Job is the state of one run as it moves through the stages.
type Job struct {
	ID     string
	Source string
	// Name is the file name results are named after.
	Name string
	// Path is the file the next stage works on.
	Path       string
	Size       int64
	Compressed bool
	AssetID    string
	Method     cloud.Method
	Image      []byte
	Output     string
	OutputSize int64
	Journaled  bool
	Temps      *TempFiles
	Started    time.Time
}

// Result describes a successful run.
type Result struct {
	RunID      string
	Source     string
	OutputPath string
	OutputSize int64
	AssetID    string
	Method     cloud.Method
	Compressed bool
	Elapsed    time.Duration
}

// Runner executes pipeline runs, one at a time.
type Runner struct {
	opts    Options
	deps    Deps
	tracker *Tracker
	busy    atomic.Bool
}

// NewRunner creates a runner.
func NewRunner(opts Options, deps Deps) *Runner {
	if opts.SoftLimit <= 0 {
		opts.SoftLimit = compress.DefaultSoftLimit
	}
	return &Runner{opts: opts, deps: deps, tracker: NewTracker()}
}

// Tracker exposes the runner's state machine.
func (r *Runner) Tracker() *Tracker {
	return r.tracker
}

// Acquire claims the runner. It fails with ErrBusy when a run is already in
// progress; submissions are never queued.
func (r *Runner) Acquire() (release func(), err error) {
	if !r.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			r.busy.Store(false)
		}
	}, nil
}

// Run processes source end to end.
func (r *Runner) Run(ctx context.Context, source string) (*Result, error) {
	release, err := r.Acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	job := r.NewJob(ctx, "", source, false)
	defer job.Temps.Cleanup()

	stages := []func(context.Context, *Job) error{
		r.ResolveSource,
		r.Validate,
		r.CompressIfNeeded,
		r.Upload,
		r.RemoveBackground,
		r.Save,
	}
	for _, stage := range stages {
		if err := stage(ctx, job); err != nil {
			return nil, r.Fail(ctx, job, err)
		}
	}
	return r.Finish(ctx, job), nil
}

// NewJob resets the tracker and starts a new run for source. An empty id
// gets a generated one.
func (r *Runner) NewJob(ctx context.Context, id, source string, journaled bool) *Job {
	r.tracker.Reset()

	if id == "" {
		id = uuid.NewString()
	}
	job := &Job{
		ID:        id,
		Source:    source,
		Journaled: journaled,
		Started:   time.Now(),
	}
	if r.deps.Recorder != nil {
		if err := r.deps.Recorder.CreateRun(ctx, &db.Run{ID: id, Source: source, Journaled: journaled}); err != nil {
			slog.Warn("run_record_failed", "run_id", id, "error", err)
		}
	}
	job.Temps = r.TempFiles(id)

	slog.Info("run_started", "run_id", id, "source", source, "journaled", journaled)
	return job
}

// IsS3Source reports whether source names an S3 object.
func IsS3Source(source string) bool {
	return strings.HasPrefix(source, "s3://")
}

// ResolveSource turns the job's source into a local file path, downloading
// S3 objects into a registered temp file.
func (r *Runner) ResolveSource(ctx context.Context, job *Job) error {
	if strings.TrimSpace(job.Source) == "" {
		return errors.New(errors.KindValidation, "No file selected: please choose an image file")
	}

	if IsS3Source(job.Source) {
		if r.deps.Fetcher == nil {
			return errors.New(errors.KindConfiguration, "S3 sources are not configured")
		}
		key := strings.TrimPrefix(job.Source, "s3://")
		name := path.Base(key)
		dest := filepath.Join(r.tempDir(), fmt.Sprintf("cutout_source_%d_%s%s",
			time.Now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
			strings.ToLower(path.Ext(name))))

		job.Temps.Register(dest)
		if err := r.deps.Fetcher.Fetch(ctx, job.Source, dest); err != nil {
			return errors.Classify(err, errors.KindFilesystem)
		}
		job.Name = name
		job.Path = dest
		return nil
	}

	p := security.SanitizePath(job.Source)
	if p == "" {
		return errors.New(errors.KindValidation, "No file selected: please choose an image file")
	}
	job.Name = filepath.Base(p)
	job.Path = p
	return nil
}

// Validate checks the job's file.
func (r *Runner) Validate(ctx context.Context, job *Job) error {
	r.advance(StateValidating, "Validating image...")

	res := r.deps.Validator.Validate(ctx, job.Path)
	if !res.Valid {
		reason := res.Reason
		if reason == "" {
			reason = "Invalid image file"
		}
		return errors.New(errors.KindValidation, reason)
	}
	job.Size = res.Size
	return nil
}

// CompressIfNeeded swaps the job's file for a resized temp copy when it
// exceeds the soft limit.
func (r *Runner) CompressIfNeeded(ctx context.Context, job *Job) error {
	if job.Size <= r.opts.SoftLimit {
		return nil
	}
	if r.deps.Compressor == nil {
		return errors.New(errors.KindCompression, "Compression failed: no resizer available")
	}

	r.advance(StateCompressing, fmt.Sprintf("Compressing image (%s)...", humanize.IBytes(uint64(job.Size))))

	out, err := r.deps.Compressor.Compress(ctx, job.Path, job.Temps)
	if err != nil {
		return errors.Classify(err, errors.KindCompression)
	}
	job.Path = out
	job.Compressed = true
	return nil
}

// Upload sends the job's file to the image host.
func (r *Runner) Upload(ctx context.Context, job *Job) error {
	r.advance(StateUploading, "Uploading to image host...")

	id, err := r.deps.Uploader.Upload(ctx, job.Path)
	if err != nil {
		return errors.Classify(err, errors.KindUpload)
	}
	job.AssetID = id
	return nil
}

// RemoveBackground fetches the transformed image, trying each method in turn.
func (r *Runner) RemoveBackground(ctx context.Context, job *Job) error {
	r.advance(StateProcessing, "Removing background (this may take a moment)...")

	img, method, err := r.deps.Remover.TryBackgroundRemoval(ctx, job.AssetID, func(m cloud.Method) {
		r.tracker.Update(fmt.Sprintf("Trying %s...", m.Label))
	})
	if err != nil {
		return errors.Classify(err, errors.KindTransform)
	}
	job.Image = img
	job.Method = method
	return nil
}

// Save writes the result into the output directory under a name derived
// from the source file.
func (r *Runner) Save(ctx context.Context, job *Job) error {
	r.advance(StateSaving, "Saving image...")

	dir, err := ResolveOutputDir(r.opts.OutputDir)
	if err != nil {
		return err
	}
	out, size, err := SaveOutput(dir, OutputBaseName(job.Name), job.Image)
	if err != nil {
		return err
	}
	job.Output = out
	job.OutputSize = size
	job.Image = nil
	return nil
}

// Finish cleans up, records success and opens the result.
func (r *Runner) Finish(ctx context.Context, job *Job) *Result {
	job.Temps.Cleanup()

	res := &Result{
		RunID:      job.ID,
		Source:     job.Source,
		OutputPath: job.Output,
		OutputSize: job.OutputSize,
		AssetID:    job.AssetID,
		Method:     job.Method,
		Compressed: job.Compressed,
		Elapsed:    time.Since(job.Started),
	}

	r.advance(StateComplete, "Background removed successfully!")
	r.record(ctx, job, db.StatusComplete, "")

	slog.Info("run_complete",
		"run_id", job.ID,
		"output", job.Output,
		"size", job.OutputSize,
		"method", job.Method.Code,
		"elapsed", res.Elapsed.Round(time.Millisecond),
	)

	if r.opts.OpenResult && r.deps.Opener != nil {
		if err := r.deps.Opener.Open(ctx, job.Output); err != nil {
			slog.Debug("open_result_failed", "path", job.Output, "error", err)
		}
	}
	return res
}

// Fail cleans up, moves the tracker to StateError and returns the enriched
// error.
func (r *Runner) Fail(ctx context.Context, job *Job, err error) *RunError {
	stage := r.tracker.Status().State
	job.Temps.Cleanup()

	err = errors.Classify(err, errors.KindUnknown)
	runErr := &RunError{
		Err:     err,
		RunID:   job.ID,
		Stage:   stage,
		File:    job.Name,
		LogPath: r.opts.LogPath,
	}
	if job.Size > 0 {
		runErr.Size = job.Size
		runErr.HasSize = true
	}

	r.tracker.Fail(runErr.Detail())
	r.record(ctx, job, db.StatusFailed, err.Error())

	slog.Error("run_failed", "run_id", job.ID, "stage", stage.String(), "kind", string(errors.KindOf(err)), "error", err)
	return runErr
}

func (r *Runner) record(ctx context.Context, job *Job, status, msg string) {
	if r.deps.Recorder == nil {
		return
	}
	run := &db.Run{
		ID:           job.ID,
		Source:       job.Source,
		Status:       status,
		Journaled:    job.Journaled,
		AssetID:      job.AssetID,
		Method:       job.Method.Code,
		OutputPath:   job.Output,
		OutputSize:   job.OutputSize,
		ErrorMessage: msg,
	}
	if err := r.deps.Recorder.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		slog.Warn("run_record_failed", "run_id", job.ID, "error", err)
	}
}

func (r *Runner) advance(s State, msg string) {
	if err := r.tracker.Advance(s, msg); err != nil {
		slog.Warn("state_transition_rejected", "error", err)
	}
}

// TempFiles returns a tracker for the temp files of run id, recording them in
// the run ledger when one is configured.
func (r *Runner) TempFiles(id string) *TempFiles {
	var ledger ArtifactLedger
	if r.deps.Recorder != nil {
		ledger = r.deps.Recorder
	}
	return NewTempFiles(r.tempDir(), id, ledger)
}

// TempDir is where the runner creates temporary files.
func (r *Runner) TempDir() string {
	return r.tempDir()
}

func (r *Runner) tempDir() string {
	if r.opts.TempDir != "" {
		return r.opts.TempDir
	}
	return os.TempDir()
}
