package session

import "context"

// Size is a display size in character cells.
type Size struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// PendingStart is a start request waiting for the display surface to
// report its size. Only the latest request is kept.
type PendingStart struct {
	Model   string `json:"model"`
	WorkDir string `json:"workDir"`
}

// RequestStart records a start request. When the surface size is already
// known and nothing is running, aider is started at once and started is
// true. Otherwise the request waits for SurfaceReady.
func (c *Coordinator) RequestStart(ctx context.Context, model, workDir string) (started bool, err error) {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	c.mu.Lock()
	c.pending = &PendingStart{Model: model, WorkDir: workDir}
	var size *Size
	if c.surface != nil {
		s := *c.surface
		size = &s
	}
	c.mu.Unlock()

	if size == nil {
		c.logger.Info("start deferred until display size is known", "model", model)
		return false, nil
	}
	return c.consumePendingLocked(ctx, *size)
}

// SurfaceReady reports the display size. A running session is resized; an
// idle coordinator with a pending request starts aider at exactly this
// size.
func (c *Coordinator) SurfaceReady(ctx context.Context, cols, rows uint16) (started bool, err error) {
	if cols == 0 || rows == 0 {
		return false, nil
	}

	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	c.mu.Lock()
	running := c.active != nil
	c.mu.Unlock()

	if running {
		c.Resize(cols, rows)
		return false, nil
	}

	c.mu.Lock()
	c.surface = &Size{Cols: cols, Rows: rows}
	c.mu.Unlock()
	return c.consumePendingLocked(ctx, Size{Cols: cols, Rows: rows})
}

// Pending returns the waiting start request, if any.
func (c *Coordinator) Pending() (PendingStart, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return PendingStart{}, false
	}
	return *c.pending, true
}

func (c *Coordinator) consumePendingLocked(ctx context.Context, size Size) (bool, error) {
	c.mu.Lock()
	p := c.pending
	if p == nil || c.active != nil {
		c.mu.Unlock()
		return false, nil
	}
	c.pending = nil
	c.mu.Unlock()

	if err := c.startLocked(ctx, p.Model, p.WorkDir, size.Cols, size.Rows); err != nil {
		return false, err
	}
	return true, nil
}
