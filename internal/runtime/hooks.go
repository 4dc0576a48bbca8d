package runtime

import (
	"context"
	"time"

	"github.com/aretw0/conduit/pkg/domain"
	"github.com/aretw0/conduit/pkg/graph"
)

func (e *Engine) event(t domain.EventType, runID string) domain.EventBase {
	return domain.EventBase{Timestamp: e.now(), Type: t, RunID: runID}
}

func (e *Engine) emitNodeEnter(ctx context.Context, runID string, node *graph.Node) {
	e.logger.Debug("Entering node", "run_id", runID, "node", node.Name)
	if e.hooks.OnNodeEnter != nil {
		e.hooks.OnNodeEnter(ctx, &domain.NodeEvent{
			EventBase: e.event(domain.EventNodeEnter, runID),
			Node:      node.Name,
			Kind:      string(node.Kind),
		})
	}
}

func (e *Engine) emitNodeLeave(ctx context.Context, runID string, node *graph.Node, d time.Duration, err error) {
	e.logger.Debug("Leaving node", "run_id", runID, "node", node.Name, "duration", d, "err", err)
	if e.hooks.OnNodeLeave != nil {
		e.hooks.OnNodeLeave(ctx, &domain.NodeEvent{
			EventBase: e.event(domain.EventNodeLeave, runID),
			Node:      node.Name,
			Kind:      string(node.Kind),
			Duration:  d,
			Err:       err,
		})
	}
}

func (e *Engine) emitBranchDone(ctx context.Context, runID, node, branch string, d time.Duration, err error) {
	if e.hooks.OnBranchDone != nil {
		e.hooks.OnBranchDone(ctx, &domain.BranchEvent{
			EventBase: e.event(domain.EventBranchDone, runID),
			Node:      node,
			Branch:    branch,
			Duration:  d,
			Err:       err,
		})
	}
}

func (e *Engine) emitStatus(ctx context.Context, runID string, from, to domain.RunStatus) {
	if e.hooks.OnStatusChange != nil {
		e.hooks.OnStatusChange(ctx, &domain.StatusEvent{
			EventBase: e.event(domain.EventStatusChange, runID),
			From:      from,
			To:        to,
		})
	}
}
