// Package processing runs the autonomous AI labeling loop and the pause
// switch that gates it.
package processing

import (
	"context"
	"log/slog"

	"facet/internal/logging"
	"facet/internal/services"
	"facet/internal/store"
)

// Controller flips and reports the global processing pause flag. The flag is
// a single persisted row so a pause issued through the CLI stops the daemon
// loop on its next check.
type Controller struct {
	store  *store.Store
	logger *slog.Logger
}

// NewController constructs a Controller.
func NewController(st *store.Store, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Controller{store: st, logger: logger}
}

// Pause stops autonomous processing. Pausing an already paused pipeline is a
// no-op that returns the existing state.
func (c *Controller) Pause(ctx context.Context, pausedBy *int64) (*store.ProcessingControl, error) {
	control, err := c.store.GetProcessingControl(ctx)
	if err != nil {
		return nil, services.Wrap(nil, "processing", "pause", "load control", err)
	}
	if control.IsPaused {
		return control, nil
	}
	control, err = c.store.SetPaused(ctx, true, pausedBy)
	if err != nil {
		return nil, services.Wrap(nil, "processing", "pause", "persist pause", err)
	}
	c.logger.Info("processing paused")
	return control, nil
}

// Resume restarts autonomous processing, clearing the pause bookkeeping.
func (c *Controller) Resume(ctx context.Context) (*store.ProcessingControl, error) {
	control, err := c.store.GetProcessingControl(ctx)
	if err != nil {
		return nil, services.Wrap(nil, "processing", "resume", "load control", err)
	}
	if !control.IsPaused {
		return control, nil
	}
	control, err = c.store.SetPaused(ctx, false, nil)
	if err != nil {
		return nil, services.Wrap(nil, "processing", "resume", "persist resume", err)
	}
	c.logger.Info("processing resumed")
	return control, nil
}

// Status returns the current pause state.
func (c *Controller) Status(ctx context.Context) (*store.ProcessingControl, error) {
	control, err := c.store.GetProcessingControl(ctx)
	if err != nil {
		return nil, services.Wrap(nil, "processing", "status", "load control", err)
	}
	return control, nil
}
