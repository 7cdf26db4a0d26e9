package apperr

import (
	"context"
	"log/slog"
)

// Rollback collects compensating actions for a multi-step workflow.
// Run executes them newest first; failures are logged, never returned.
type Rollback struct {
	steps []rollbackStep
}

type rollbackStep struct {
	name string
	fn   func(ctx context.Context) error
}

func (r *Rollback) Add(name string, fn func(ctx context.Context) error) {
	r.steps = append(r.steps, rollbackStep{name: name, fn: fn})
}

// Discard drops all registered actions once the workflow has committed.
func (r *Rollback) Discard() {
	r.steps = nil
}

func (r *Rollback) Run(ctx context.Context, log *slog.Logger) {
	for i := len(r.steps) - 1; i >= 0; i-- {
		step := r.steps[i]
		if err := step.fn(ctx); err != nil && log != nil {
			log.WarnContext(ctx, "compensating action failed", "step", step.name, "error", err)
		}
	}
	r.steps = nil
}
