package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/conduit/pkg/domain"
)

// LogHooks returns lifecycle hooks writing one structured line per event.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(ctx context.Context, e *domain.NodeEvent) {
			logger.DebugContext(ctx, "node_enter", "run_id", e.RunID, "node", e.Node, "kind", e.Kind)
		},
		OnNodeLeave: func(ctx context.Context, e *domain.NodeEvent) {
			if e.Err != nil {
				logger.WarnContext(ctx, "node_leave", "run_id", e.RunID, "node", e.Node, "duration", e.Duration, "err", e.Err)
				return
			}
			logger.DebugContext(ctx, "node_leave", "run_id", e.RunID, "node", e.Node, "duration", e.Duration)
		},
		OnBranchDone: func(ctx context.Context, e *domain.BranchEvent) {
			logger.DebugContext(ctx, "branch_done", "run_id", e.RunID, "node", e.Node, "branch", e.Branch, "err", e.Err)
		},
		OnStatusChange: func(ctx context.Context, e *domain.StatusEvent) {
			logger.InfoContext(ctx, "status_change", "run_id", e.RunID, "from", e.From, "to", e.To)
		},
		OnDecision: func(ctx context.Context, e *domain.DecisionEvent) {
			logger.InfoContext(ctx, "agent_decision",
				"run_id", e.RunID,
				"node", e.Node,
				"agent", e.Decision.Agent,
				"confidence", e.Decision.Confidence,
				"used_fallback", e.Decision.UsedFallback,
				"attempts", e.Decision.Attempts,
			)
		},
	}
}
