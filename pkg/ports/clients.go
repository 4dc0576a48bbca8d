package ports

import (
	"context"

	"github.com/aretw0/conduit/pkg/domain"
)

// ReasoningClient is the LLM behind the decision agents.
// Implementations must honour ctx cancellation; the caller sets the timeout.
type ReasoningClient interface {
	InvokeModel(ctx context.Context, prompt string) (string, error)
}

// Trainer is the training collaborator. Algorithms themselves live outside the engine.
type Trainer interface {
	// Profile inspects the dataset behind a data location.
	Profile(ctx context.Context, dataLocation string) (domain.DatasetProfile, error)

	// Train fits one algorithm and reports its scores.
	Train(ctx context.Context, req domain.TrainRequest) (domain.AlgorithmResult, error)
}

// Tracker is the experiment tracking sink.
type Tracker interface {
	LogParams(ctx context.Context, runID string, params map[string]any) error
	LogMetrics(ctx context.Context, runID string, metrics map[string]float64) error
	LogArtifact(ctx context.Context, runID, name, ref string) error
}

// PromptSource supplies prompt templates keyed by agent name.
type PromptSource interface {
	// GetPrompt returns the template text for an agent, or an error if none exists.
	GetPrompt(agent string) (string, error)

	// ListPrompts returns the agent names that have a template.
	ListPrompts() ([]string, error)
}
