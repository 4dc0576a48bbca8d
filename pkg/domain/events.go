package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventNodeEnter    EventType = "node_enter"
	EventNodeLeave    EventType = "node_leave"
	EventBranchDone   EventType = "branch_done"
	EventStatusChange EventType = "status_change"
	EventDecision     EventType = "agent_decision"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
}

// NodeEvent represents entry or exit from a node.
type NodeEvent struct {
	EventBase
	Node     string        `json:"node"`
	Kind     string        `json:"kind"`
	Duration time.Duration `json:"duration,omitempty"`
	Err      error         `json:"-"`
}

// BranchEvent reports the completion of one parallel branch.
type BranchEvent struct {
	EventBase
	Node     string        `json:"node"`
	Branch   string        `json:"branch"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// StatusEvent reports a run status transition.
type StatusEvent struct {
	EventBase
	From RunStatus `json:"from"`
	To   RunStatus `json:"to"`
}

// DecisionEvent reports an agent decision.
type DecisionEvent struct {
	EventBase
	Node     string        `json:"node"`
	Decision AgentDecision `json:"decision"`
}

// LifecycleHooks defines callbacks for engine observability.
// Any hook may be nil.
type LifecycleHooks struct {
	OnNodeEnter    func(context.Context, *NodeEvent)
	OnNodeLeave    func(context.Context, *NodeEvent)
	OnBranchDone   func(context.Context, *BranchEvent)
	OnStatusChange func(context.Context, *StatusEvent)
	OnDecision     func(context.Context, *DecisionEvent)
}

// Merge combines two hook sets; both callbacks run, a first.
func (a LifecycleHooks) Merge(b LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnNodeEnter:    chain(a.OnNodeEnter, b.OnNodeEnter),
		OnNodeLeave:    chain(a.OnNodeLeave, b.OnNodeLeave),
		OnBranchDone:   chain(a.OnBranchDone, b.OnBranchDone),
		OnStatusChange: chain(a.OnStatusChange, b.OnStatusChange),
		OnDecision:     chain(a.OnDecision, b.OnDecision),
	}
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
