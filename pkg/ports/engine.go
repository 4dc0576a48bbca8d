package ports

import (
	"context"

	"github.com/aretw0/conduit/pkg/domain"
)

// Controller is the control surface of the engine.
// This is the primary interface used by driving adapters (e.g., HTTP, MCP).
type Controller interface {
	// Start creates a run and begins executing it in the background.
	Start(ctx context.Context, input map[string]any) (string, error)

	// GetStatus returns the current record, including the accumulated log.
	GetStatus(ctx context.Context, runID string) (*domain.RunRecord, error)

	// Review returns the review session of a paused (or reviewed) run.
	Review(ctx context.Context, runID string) (*domain.ReviewSession, error)

	// Resume applies a human decision to a run awaiting approval.
	Resume(ctx context.Context, runID string, approval domain.Approval) error

	// Cancel stops a run at its next node boundary.
	Cancel(ctx context.Context, runID string) error

	// List returns the IDs of all known runs.
	List(ctx context.Context) ([]string, error)

	// Inspect returns the graph topology for introspection.
	Inspect() domain.Topology
}
