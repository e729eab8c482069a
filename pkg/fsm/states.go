package fsm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cutout-cli/cutout/pkg/cloud"
	"github.com/cutout-cli/cutout/pkg/errors"
	"github.com/cutout-cli/cutout/pkg/pipeline"
	"github.com/superfly/fsm"
)

type (
	request  = fsm.Request[RemovalRequest, RemovalResponse]
	response = fsm.Response[RemovalResponse]
)

// Outcome is how a journaled run ended.
type Outcome struct {
	Result *pipeline.Result
	Err    *pipeline.RunError
}

// Machine holds dependencies for FSM transitions
type Machine struct {
	runner *pipeline.Runner

	mu       sync.Mutex
	outcomes map[string]Outcome
}

// NewMachine creates a new FSM machine driving runner's stages
func NewMachine(runner *pipeline.Runner) *Machine {
	return &Machine{
		runner:   runner,
		outcomes: make(map[string]Outcome),
	}
}

// Outcome returns the result of a finished run.
func (m *Machine) Outcome(runID string) (Outcome, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.outcomes[runID]
	return o, ok
}

func (m *Machine) setOutcome(runID string, o Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[runID] = o
}

// handleResolve starts the run and resolves its source to a local file
func (m *Machine) handleResolve(ctx context.Context, req *request) (*response, error) {
	slog.Info("fsm_state_resolve", "run_id", req.Msg.RunID, "source", req.Msg.Source)

	resp := req.W.Msg
	if resp == nil {
		resp = &RemovalResponse{}
	}

	job := m.runner.NewJob(ctx, req.Msg.RunID, req.Msg.Source, true)
	resp.Started = job.Started.UnixMilli()

	if err := m.runner.ResolveSource(ctx, job); err != nil {
		return nil, m.fail(ctx, job, resp, err)
	}

	store(job, resp)
	return fsm.NewResponse(resp), nil
}

// stage adapts a pipeline stage into an FSM transition
func (m *Machine) stage(name string, fn func(context.Context, *pipeline.Job) error) func(context.Context, *request) (*response, error) {
	return func(ctx context.Context, req *request) (*response, error) {
		slog.Info("fsm_state_"+name, "run_id", req.Msg.RunID)

		job, resp, err := m.job(req)
		if err != nil {
			return nil, fsm.Abort(err)
		}

		if err := fn(ctx, job); err != nil {
			return nil, m.fail(ctx, job, resp, err)
		}

		store(job, resp)
		return fsm.NewResponse(resp), nil
	}
}

// handleRemoveBackground fetches the transformed image and parks it in a
// temp file for the save state
func (m *Machine) handleRemoveBackground(ctx context.Context, req *request) (*response, error) {
	slog.Info("fsm_state_remove_background", "run_id", req.Msg.RunID)

	job, resp, err := m.job(req)
	if err != nil {
		return nil, fsm.Abort(err)
	}

	if err := m.runner.RemoveBackground(ctx, job); err != nil {
		return nil, m.fail(ctx, job, resp, err)
	}

	path := ResultPath(m.runner.TempDir(), job.ID)
	job.Temps.Register(path)
	if err := os.WriteFile(path, job.Image, 0o600); err != nil {
		slog.Error("result_park_failed", "run_id", job.ID, "path", path, "error", err)
		return nil, m.fail(ctx, job, resp, errors.WrapKind(err, errors.KindFilesystem, "Failed to store processed image"))
	}

	resp.ResultPath = path
	store(job, resp)
	return fsm.NewResponse(resp), nil
}

// handleSave writes the parked result to the output directory
func (m *Machine) handleSave(ctx context.Context, req *request) (*response, error) {
	slog.Info("fsm_state_save", "run_id", req.Msg.RunID)

	job, resp, err := m.job(req)
	if err != nil {
		return nil, fsm.Abort(err)
	}

	job.Image, err = os.ReadFile(resp.ResultPath)
	if err != nil {
		slog.Error("result_read_failed", "run_id", job.ID, "path", resp.ResultPath, "error", err)
		return nil, m.fail(ctx, job, resp, errors.WrapKind(err, errors.KindFilesystem, "Failed to read processed image"))
	}

	if err := m.runner.Save(ctx, job); err != nil {
		return nil, m.fail(ctx, job, resp, err)
	}

	store(job, resp)
	return fsm.NewResponse(resp), nil
}

// handleComplete removes temp files and records the result
func (m *Machine) handleComplete(ctx context.Context, req *request) (*response, error) {
	slog.Info("fsm_state_complete", "run_id", req.Msg.RunID)

	job, resp, err := m.job(req)
	if err != nil {
		return nil, fsm.Abort(err)
	}

	res := m.runner.Finish(ctx, job)
	store(job, resp)
	resp.Status = StatusComplete
	m.setOutcome(job.ID, Outcome{Result: res})

	slog.Info("fsm_complete", "run_id", job.ID, "output", res.OutputPath)
	return fsm.NewResponse(resp), nil
}

// fail cleans up and aborts the FSM; failures are never retried
func (m *Machine) fail(ctx context.Context, job *pipeline.Job, resp *RemovalResponse, err error) error {
	runErr := m.runner.Fail(ctx, job, err)

	store(job, resp)
	resp.Status = StatusFailed
	resp.ErrorMessage = runErr.Detail()
	m.setOutcome(job.ID, Outcome{Err: runErr})

	return fsm.Abort(runErr)
}

// job rebuilds the in-memory pipeline job from the accumulated response
func (m *Machine) job(req *request) (*pipeline.Job, *RemovalResponse, error) {
	resp := req.W.Msg
	if resp == nil {
		return nil, nil, fmt.Errorf("response not initialized")
	}

	job := &pipeline.Job{
		ID:         req.Msg.RunID,
		Source:     req.Msg.Source,
		Name:       resp.Name,
		Path:       resp.Path,
		Size:       resp.Size,
		Compressed: resp.Compressed,
		AssetID:    resp.AssetID,
		Method:     cloud.Method{Code: resp.MethodCode, Label: resp.MethodLabel},
		Output:     resp.OutputPath,
		OutputSize: resp.OutputSize,
		Journaled:  true,
		Temps:      m.runner.TempFiles(req.Msg.RunID),
		Started:    time.UnixMilli(resp.Started),
	}
	job.Temps.Restore(resp.Temps)
	return job, resp, nil
}

// store copies the job's progress into the response
func store(job *pipeline.Job, resp *RemovalResponse) {
	resp.Name = job.Name
	resp.Path = job.Path
	resp.Size = job.Size
	resp.Compressed = job.Compressed
	resp.AssetID = job.AssetID
	resp.MethodCode = job.Method.Code
	resp.MethodLabel = job.Method.Label
	resp.OutputPath = job.Output
	resp.OutputSize = job.OutputSize
	resp.Temps = job.Temps.Paths()
}

// ResultPath is where a run's transformed image waits between the remove
// and save states.
func ResultPath(tempDir, runID string) string {
	return filepath.Join(tempDir, fmt.Sprintf("cutout_result_%s.png", runID))
}
