// Package checkpoint persists paused runs and guards their resumption.
//
// A barrier node pauses a run by writing a checkpoint and a review session.
// Resuming consumes the checkpoint atomically so a run resumes at most once,
// even when two replicas share the store.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/conduit/internal/logging"
	"github.com/aretw0/conduit/pkg/domain"
	"github.com/aretw0/conduit/pkg/ports"
	"github.com/aretw0/conduit/pkg/session"
)

// Manager coordinates checkpoints, review sessions and run locks.
type Manager struct {
	checkpoints ports.CheckpointStore
	reviews     ports.ReviewStore
	sessions    *session.Manager
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager. sessions provides the per-run lock and the
// run records.
func NewManager(checkpoints ports.CheckpointStore, reviews ports.ReviewStore, sessions *session.Manager, opts ...Option) *Manager {
	m := &Manager{
		checkpoints: checkpoints,
		reviews:     reviews,
		sessions:    sessions,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Checkpoint durably stores the state of a run paused at node.
// A failure is reported as *domain.CheckpointWriteError.
func (m *Manager) Checkpoint(ctx context.Context, runID, node string, state domain.State) error {
	cp := &domain.RunCheckpoint{
		RunID:     runID,
		NodeName:  node,
		State:     state,
		CreatedAt: m.now(),
	}
	if err := m.checkpoints.SaveCheckpoint(ctx, cp); err != nil {
		return &domain.CheckpointWriteError{RunID: runID, Node: node, Err: err}
	}
	m.logger.Debug("Checkpoint written", "run_id", runID, "node", node)
	return nil
}

// Pause writes the checkpoint, then opens the review session. Both are
// durable when Pause returns nil. A run that already reached a terminal
// status is not paused and domain.ErrRunTerminal is returned.
func (m *Manager) Pause(ctx context.Context, runID, node string, state domain.State, questions []domain.Question) (*domain.ReviewSession, error) {
	var rs *domain.ReviewSession
	err := m.sessions.WithLock(ctx, runID, func(ctx context.Context) error {
		rec, err := m.sessions.Store().LoadRun(ctx, runID)
		switch {
		case err == nil && rec.Status.IsTerminal():
			return domain.ErrRunTerminal
		case err != nil && !errors.Is(err, domain.ErrRunNotFound):
			return err
		}

		if err := m.Checkpoint(ctx, runID, node, state); err != nil {
			return err
		}
		rs = &domain.ReviewSession{
			RunID:     runID,
			Node:      node,
			Questions: questions,
			CreatedAt: m.now(),
		}
		if err := m.reviews.SaveReview(ctx, rs); err != nil {
			return &domain.CheckpointWriteError{RunID: runID, Node: node, Err: fmt.Errorf("review session: %w", err)}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rs, nil
}

// Load returns the checkpoint of a run without consuming it.
func (m *Manager) Load(ctx context.Context, runID string) (*domain.RunCheckpoint, error) {
	return m.checkpoints.LoadCheckpoint(ctx, runID)
}

// Review returns the review session of a run.
func (m *Manager) Review(ctx context.Context, runID string) (*domain.ReviewSession, error) {
	return m.reviews.LoadReview(ctx, runID)
}

// Resume consumes the checkpoint of a run. It fails with
// *domain.CheckpointNotFoundError or *domain.AlreadyResumedError.
func (m *Manager) Resume(ctx context.Context, runID string) (*domain.RunCheckpoint, error) {
	var cp *domain.RunCheckpoint
	err := m.sessions.WithLock(ctx, runID, func(ctx context.Context) error {
		var err error
		cp, err = m.checkpoints.ConsumeCheckpoint(ctx, runID, m.now())
		return err
	})
	return cp, err
}

// Decide validates the approval against the review session, consumes the
// checkpoint and records the decision, under the run lock. An invalid
// approval leaves the checkpoint untouched. The run must be awaiting approval.
// When the decision cannot be stored after the checkpoint was consumed, the
// consumed checkpoint is returned with a *domain.DecisionWriteError.
func (m *Manager) Decide(ctx context.Context, runID string, approval domain.Approval) (*domain.RunCheckpoint, *domain.ReviewSession, error) {
	var (
		cp *domain.RunCheckpoint
		rs *domain.ReviewSession
	)
	err := m.sessions.WithLock(ctx, runID, func(ctx context.Context) error {
		rec, err := m.sessions.Store().LoadRun(ctx, runID)
		if err != nil {
			return err
		}
		switch {
		case rec.Status.IsTerminal():
			if cp, err := m.checkpoints.LoadCheckpoint(ctx, runID); err == nil && cp.Consumed() {
				return &domain.AlreadyResumedError{RunID: runID}
			}
			return domain.ErrRunTerminal
		case rec.Status != domain.StatusAwaitingApproval:
			if cp, err := m.checkpoints.LoadCheckpoint(ctx, runID); err == nil && cp.Consumed() {
				return &domain.AlreadyResumedError{RunID: runID}
			}
			return domain.ErrRunNotAwaiting
		}

		open, err := m.reviews.LoadReview(ctx, runID)
		if err != nil {
			return err
		}
		if err := open.Validate(approval); err != nil {
			return err
		}

		at := m.now()
		cp, err = m.checkpoints.ConsumeCheckpoint(ctx, runID, at)
		if err != nil {
			return err
		}
		rs, err = m.reviews.DecideReview(ctx, runID, approval, at)
		if err != nil {
			return &domain.DecisionWriteError{RunID: runID, Node: cp.NodeName, Err: err}
		}
		return nil
	})
	var writeErr *domain.DecisionWriteError
	if errors.As(err, &writeErr) {
		m.logger.Error("Review decision not persisted", "run_id", runID, "err", err)
		return cp, nil, err
	}
	if err != nil {
		return nil, nil, err
	}
	m.logger.Info("Review decided", "run_id", runID, "approved", approval.Approved)
	return cp, rs, nil
}

// Cancel consumes a pending checkpoint so the run can no longer be resumed.
// The checkpoint and review stay stored for audit. It reports whether a
// pending checkpoint was consumed.
func (m *Manager) Cancel(ctx context.Context, runID string) (bool, error) {
	consumed := false
	err := m.sessions.WithLock(ctx, runID, func(ctx context.Context) error {
		_, err := m.checkpoints.ConsumeCheckpoint(ctx, runID, m.now())
		var (
			notFound *domain.CheckpointNotFoundError
			resumed  *domain.AlreadyResumedError
		)
		switch {
		case err == nil:
			consumed = true
			return nil
		case errors.As(err, &notFound), errors.As(err, &resumed):
			return nil
		default:
			return err
		}
	})
	return consumed, err
}

// Delete removes the checkpoint and review of a run.
func (m *Manager) Delete(ctx context.Context, runID string) error {
	return errors.Join(
		m.checkpoints.DeleteCheckpoint(ctx, runID),
		m.reviews.DeleteReview(ctx, runID),
	)
}
