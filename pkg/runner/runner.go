package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aretw0/conduit/pkg/domain"
)

// Engine is the part of the engine the runner drives.
type Engine interface {
	Start(ctx context.Context, input map[string]any) (string, error)
	Wait(ctx context.Context, runID string) (*domain.RunRecord, error)
	Review(ctx context.Context, runID string) (*domain.ReviewSession, error)
	Resume(ctx context.Context, runID string, approval domain.Approval) error
}

// Runner waits on a run and answers its reviews until it terminates.
type Runner struct {
	handler Handler
	logger  *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithHandler sets the review handler. The default rejects every review.
func WithHandler(h Handler) Option {
	return func(r *Runner) {
		r.handler = h
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// New creates a runner.
func New(opts ...Option) *Runner {
	r := &Runner{
		handler: AutoHandler{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts a run with the given input and drives it to a terminal status.
func (r *Runner) Run(ctx context.Context, eng Engine, input map[string]any) (*domain.RunRecord, error) {
	runID, err := eng.Start(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	r.logger.Debug("run started", "run_id", runID)
	return r.Attach(ctx, eng, runID)
}

// Attach drives an existing run to a terminal status.
// The final record is presented and returned along with any execution error.
func (r *Runner) Attach(ctx context.Context, eng Engine, runID string) (*domain.RunRecord, error) {
	rec, err := eng.Wait(ctx, runID)
	for err == nil && rec.Status == domain.StatusAwaitingApproval {
		err = r.review(ctx, eng, runID)
		if err != nil {
			break
		}
		rec, err = eng.Wait(ctx, runID)
	}
	if rec != nil {
		if perr := r.handler.Present(ctx, rec); perr != nil && err == nil {
			err = perr
		}
	}
	return rec, err
}

func (r *Runner) review(ctx context.Context, eng Engine, runID string) error {
	rs, err := eng.Review(ctx, runID)
	if err != nil {
		return fmt.Errorf("review: %w", err)
	}
	approval, err := r.handler.Ask(ctx, rs)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	err = eng.Resume(ctx, runID, approval)
	switch {
	case err == nil:
		r.logger.Info("review submitted", "run_id", runID, "approved", approval.Approved)
		return nil
	case errors.Is(err, domain.ErrInvalidApproval):
		// The run stays paused, ask again.
		r.logger.Warn("approval rejected", "run_id", runID, "err", err)
		return nil
	default:
		return fmt.Errorf("resume: %w", err)
	}
}
