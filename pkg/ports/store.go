package ports

import (
	"context"
	"time"

	"github.com/aretw0/conduit/pkg/domain"
)

// RunStore persists the externally visible record of each run.
type RunStore interface {
	// SaveRun creates or replaces the record.
	SaveRun(ctx context.Context, rec *domain.RunRecord) error

	// LoadRun returns domain.ErrRunNotFound if the run does not exist.
	LoadRun(ctx context.Context, runID string) (*domain.RunRecord, error)

	// DeleteRun removes the record. Deleting an unknown run is not an error.
	DeleteRun(ctx context.Context, runID string) error

	// ListRuns returns the IDs of all stored runs.
	ListRuns(ctx context.Context) ([]string, error)
}

// CheckpointStore persists the snapshot a barrier node leaves behind.
// There is at most one checkpoint per run; saving replaces the previous one.
type CheckpointStore interface {
	// SaveCheckpoint must be durable before it returns.
	SaveCheckpoint(ctx context.Context, cp *domain.RunCheckpoint) error

	// LoadCheckpoint returns *domain.CheckpointNotFoundError if none exists.
	// Consumed checkpoints are still returned.
	LoadCheckpoint(ctx context.Context, runID string) (*domain.RunCheckpoint, error)

	// ConsumeCheckpoint atomically marks the checkpoint as used and returns it.
	// Exactly one of any number of concurrent callers succeeds; the others get
	// *domain.AlreadyResumedError.
	ConsumeCheckpoint(ctx context.Context, runID string, at time.Time) (*domain.RunCheckpoint, error)

	// DeleteCheckpoint removes the checkpoint, consumed or not.
	DeleteCheckpoint(ctx context.Context, runID string) error
}

// ReviewStore persists human review sessions.
type ReviewStore interface {
	SaveReview(ctx context.Context, rs *domain.ReviewSession) error

	// LoadReview returns domain.ErrReviewNotFound if the run has no session.
	LoadReview(ctx context.Context, runID string) (*domain.ReviewSession, error)

	// DecideReview records the approval if the session is still open.
	// A decided session is never mutated again: domain.ErrReviewClosed.
	DecideReview(ctx context.Context, runID string, approval domain.Approval, at time.Time) (*domain.ReviewSession, error)

	DeleteReview(ctx context.Context, runID string) error
}

// Store groups the three persistence ports. Every adapter implements all of them.
type Store interface {
	RunStore
	CheckpointStore
	ReviewStore
}
