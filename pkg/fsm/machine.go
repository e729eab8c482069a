// Package fsm runs the background-removal pipeline as a journaled
// superfly/fsm workflow. Each pipeline stage is one FSM state, so the
// progress of a run is persisted between stages.
package fsm

import (
	"context"

	"github.com/cutout-cli/cutout/pkg/errors"
	"github.com/superfly/fsm"
)

// Register registers the background removal FSM
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[RemovalRequest, RemovalResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[RemovalRequest, RemovalResponse](manager, "remove-background").
		Start(StateResolve, m.handleResolve).
		To(StateValidate, m.stage(StateValidate, m.runner.Validate)).
		To(StateCompress, m.stage(StateCompress, m.runner.CompressIfNeeded)).
		To(StateUpload, m.stage(StateUpload, m.runner.Upload)).
		To(StateRemoveBackground, m.handleRemoveBackground).
		To(StateSave, m.handleSave).
		To(StateComplete, m.handleComplete).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}
