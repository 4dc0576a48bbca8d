package http

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aretw0/conduit/pkg/domain"
)

// StreamManager fans run notifications out to active SSE connections.
// A notification only says "run X moved"; subscribers reload the record.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- string]struct{} // RunID -> Set of Channels
	logger      *slog.Logger
}

// NewStreamManager creates an empty manager.
func NewStreamManager(logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamManager{
		subscribers: make(map[string]map[chan<- string]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a channel for the run. The returned func unsubscribes.
func (sm *StreamManager) Subscribe(runID string) (<-chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 10)
	if _, ok := sm.subscribers[runID]; !ok {
		sm.subscribers[runID] = make(map[chan<- string]struct{})
	}
	sm.subscribers[runID][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if subs, ok := sm.subscribers[runID]; ok {
			if _, ok := subs[ch]; !ok {
				return
			}
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, runID)
			}
		}
	}
}

// Broadcast notifies every subscriber of the run.
func (sm *StreamManager) Broadcast(runID string, event string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for ch := range sm.subscribers[runID] {
		select {
		case ch <- event:
		default:
			// Subscriber is behind; it reloads the full diff on its next tick anyway.
			sm.logger.Debug("SSE: Client buffer full, dropping notification", "run_id", runID)
		}
	}
}

// Subscribers returns the number of connections watching the run.
func (sm *StreamManager) Subscribers(runID string) int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.subscribers[runID])
}

// Hooks returns lifecycle hooks that notify subscribers whenever a run moves.
// Pass them to the engine so SSE clients see progress without waiting for a poll.
func (sm *StreamManager) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeLeave: func(_ context.Context, e *domain.NodeEvent) {
			sm.Broadcast(e.RunID, string(e.Type))
		},
		OnBranchDone: func(_ context.Context, e *domain.BranchEvent) {
			sm.Broadcast(e.RunID, string(e.Type))
		},
		OnStatusChange: func(_ context.Context, e *domain.StatusEvent) {
			sm.Broadcast(e.RunID, string(e.Type))
		},
		OnDecision: func(_ context.Context, e *domain.DecisionEvent) {
			sm.Broadcast(e.RunID, string(e.Type))
		},
	}
}
