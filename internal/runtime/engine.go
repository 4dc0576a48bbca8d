// Package runtime executes pipeline graphs: it walks nodes, applies their
// patches to the run State, fans out parallel regions and pauses runs at
// barriers until a review decision resumes them.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/conduit/internal/logging"
	"github.com/aretw0/conduit/pkg/checkpoint"
	"github.com/aretw0/conduit/pkg/domain"
	"github.com/aretw0/conduit/pkg/graph"
	"github.com/aretw0/conduit/pkg/session"
)

// DefaultParallelism bounds concurrent branches when a node sets no limit.
const DefaultParallelism = 4

// ErrRunActive is returned when an operation needs a run that is not executing.
var ErrRunActive = errors.New("run is executing")

// Engine drives runs over one graph.
type Engine struct {
	graph       *graph.Graph
	sessions    *session.Manager
	checkpoints *checkpoint.Manager
	hooks       domain.LifecycleHooks
	logger      *slog.Logger
	parallelism int
	now         func() time.Time

	mu   sync.Mutex
	runs map[string]*execution
	wg   sync.WaitGroup
}

// execution tracks a run goroutine of this process.
type execution struct {
	done chan struct{}
	err  error
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) EngineOption {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithParallelism sets the default branch concurrency.
func WithParallelism(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an engine over a validated graph.
func NewEngine(g *graph.Graph, sessions *session.Manager, checkpoints *checkpoint.Manager, opts ...EngineOption) *Engine {
	e := &Engine{
		graph:       g,
		sessions:    sessions,
		checkpoints: checkpoints,
		logger:      logging.NewNop(),
		parallelism: DefaultParallelism,
		now:         func() time.Time { return time.Now().UTC() },
		runs:        make(map[string]*execution),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Graph returns the graph the engine executes.
func (e *Engine) Graph() *graph.Graph {
	return e.graph
}

// Start records a new run and executes it in the background from the entry
// node. The run is Running when Start returns.
func (e *Engine) Start(ctx context.Context, runID string, input map[string]any) error {
	state, err := domain.NewState(input)
	if err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	now := e.now()
	rec := &domain.RunRecord{
		RunID:     runID,
		Status:    domain.StatusPending,
		Input:     input,
		State:     state,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.sessions.Create(ctx, rec); err != nil {
		return err
	}
	e.logger.Info("Run started", "run_id", runID)

	entry := e.graph.Entry()
	if err := e.transition(ctx, runID, domain.StatusRunning, nil); err != nil {
		return err
	}
	e.launch(ctx, runID, entry, state)
	return nil
}

// Resume applies a review decision to a paused run. An approval continues
// the run in the background from the node after the barrier; a rejection
// cancels it. Validation and the at-most-once consumption of the checkpoint
// happen before Resume returns.
func (e *Engine) Resume(ctx context.Context, runID string, approval domain.Approval) error {
	cp, rs, err := e.checkpoints.Decide(ctx, runID, approval)
	var writeErr *domain.DecisionWriteError
	if errors.As(err, &writeErr) {
		if ferr := e.fail(ctx, runID, cp.NodeName, cp.State, err); ferr != nil {
			return ferr
		}
		return err
	}
	if err != nil {
		return err
	}
	state, err := cp.State.With(map[string]any{
		domain.FieldReviewAnswers:  rs.Answers,
		domain.FieldReviewApproved: approval.Approved,
		domain.FieldReviewFeedback: approval.Feedback,
	})
	if err != nil {
		return err
	}

	if !approval.Approved {
		msg := "review rejected"
		if approval.Feedback != "" {
			msg += ": " + approval.Feedback
		}
		state = state.WithLog(domain.LogEntry{Node: cp.NodeName, Severity: domain.SeverityInfo, Message: msg, Time: e.now()})
		e.logger.Info("Run rejected at review", "run_id", runID, "node", cp.NodeName)
		return e.transition(ctx, runID, domain.StatusCancelled, withState(state))
	}

	next, ok, routeErr := e.graph.Next(cp.NodeName, state)
	if err := e.transition(ctx, runID, domain.StatusRunning, withState(state)); err != nil {
		return err
	}
	switch {
	case routeErr != nil:
		return e.fail(ctx, runID, cp.NodeName, state, routeErr)
	case !ok:
		return e.complete(ctx, runID, state)
	}
	e.logger.Info("Run resumed", "run_id", runID, "next", next)
	e.launch(ctx, runID, next, state)
	return nil
}

// Cancel stops a run. A paused run is cancelled at once and its checkpoint
// can no longer be resumed; an executing run stops at the next node boundary.
func (e *Engine) Cancel(ctx context.Context, runID string) error {
	if _, err := e.sessions.Load(ctx, runID); err != nil {
		return err
	}
	if _, err := e.checkpoints.Cancel(ctx, runID); err != nil {
		return err
	}
	err := e.transition(ctx, runID, domain.StatusCancelled, func(rec *domain.RunRecord) {
		appendLog(rec, domain.LogEntry{Node: rec.CurrentNode, Severity: domain.SeverityInfo, Message: "run cancelled", Time: e.now()})
	})
	if err != nil {
		return err
	}
	e.logger.Info("Run cancelled", "run_id", runID)
	return nil
}

// Wait blocks until the run stops executing in this process, then returns its
// record. The error is non-nil when the run ended on a failure that must not
// pass silently, such as an unpersisted barrier.
func (e *Engine) Wait(ctx context.Context, runID string) (*domain.RunRecord, error) {
	e.mu.Lock()
	exec := e.runs[runID]
	e.mu.Unlock()

	if exec != nil {
		select {
		case <-exec.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	rec, err := e.sessions.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if exec != nil && exec.err != nil {
		return rec, exec.err
	}
	return rec, nil
}

// GetStatus returns the run record, including the accumulated log.
func (e *Engine) GetStatus(ctx context.Context, runID string) (*domain.RunRecord, error) {
	return e.sessions.Load(ctx, runID)
}

// Review returns the review session of a run.
func (e *Engine) Review(ctx context.Context, runID string) (*domain.ReviewSession, error) {
	return e.checkpoints.Review(ctx, runID)
}

// List returns the known run IDs.
func (e *Engine) List(ctx context.Context) ([]string, error) {
	return e.sessions.List(ctx)
}

// Delete removes a run that is not executing, with its checkpoint and review.
func (e *Engine) Delete(ctx context.Context, runID string) error {
	e.mu.Lock()
	exec := e.runs[runID]
	e.mu.Unlock()
	if exec != nil {
		select {
		case <-exec.done:
		default:
			return fmt.Errorf("delete %q: %w", runID, ErrRunActive)
		}
	}
	if err := e.sessions.Delete(ctx, runID); err != nil {
		return err
	}
	if err := e.checkpoints.Delete(ctx, runID); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.runs, runID)
	e.mu.Unlock()
	return nil
}

// Inspect describes the graph.
func (e *Engine) Inspect() domain.Topology {
	return e.graph.Topology()
}

// Shutdown waits for executing runs to rest.
func (e *Engine) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) launch(ctx context.Context, runID, node string, state domain.State) {
	exec := &execution{done: make(chan struct{})}
	e.mu.Lock()
	e.runs[runID] = exec
	e.mu.Unlock()

	runCtx := domain.WithRunID(context.WithoutCancel(ctx), runID)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(exec.done)
		exec.err = e.execute(runCtx, runID, node, state)
		if exec.err == nil {
			e.mu.Lock()
			if e.runs[runID] == exec {
				delete(e.runs, runID)
			}
			e.mu.Unlock()
		}
	}()
}

// transition moves the run to status "to" unless it already reached a
// terminal status, in which case it returns domain.ErrRunTerminal.
func (e *Engine) transition(ctx context.Context, runID string, to domain.RunStatus, mutate func(*domain.RunRecord)) error {
	var from domain.RunStatus
	_, err := e.sessions.Update(ctx, runID, func(rec *domain.RunRecord) error {
		if rec.Status.IsTerminal() {
			return domain.ErrRunTerminal
		}
		from = rec.Status
		rec.Status = to
		if mutate != nil {
			mutate(rec)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if from != to {
		e.emitStatus(ctx, runID, from, to)
	}
	return nil
}

func withState(s domain.State) func(*domain.RunRecord) {
	return func(rec *domain.RunRecord) {
		rec.State = s
		rec.Log = s.Log()
	}
}

func appendLog(rec *domain.RunRecord, entry domain.LogEntry) {
	rec.State = rec.State.WithLog(entry)
	rec.Log = rec.State.Log()
}
