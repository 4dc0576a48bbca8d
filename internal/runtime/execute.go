package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aretw0/conduit/pkg/domain"
	"github.com/aretw0/conduit/pkg/graph"
)

const decisionPrefix = "decisions."

// execute walks the graph from node until the run completes, fails, pauses
// or is stopped from outside. Only failures that must reach the caller are
// returned; everything else is recorded on the run.
func (e *Engine) execute(ctx context.Context, runID, current string, state domain.State) error {
	for {
		node, ok := e.graph.Node(current)
		if !ok {
			return e.fail(ctx, runID, current, state, &domain.RoutingError{Node: current})
		}

		err := e.transition(ctx, runID, domain.StatusRunning, func(rec *domain.RunRecord) {
			rec.CurrentNode = current
			rec.History = append(rec.History, current)
		})
		if errors.Is(err, domain.ErrRunTerminal) {
			e.logger.Info("Run stopped before node", "run_id", runID, "node", current)
			return nil
		}
		if err != nil {
			return fmt.Errorf("run %q: %w", runID, err)
		}

		next, err := e.visit(ctx, runID, node, state)
		if err != nil {
			return e.fail(ctx, runID, node.Name, next, err)
		}
		state = next

		if node.Kind == domain.NodeBarrier {
			return e.pause(ctx, runID, node, state)
		}

		to, ok, err := e.graph.Next(node.Name, state)
		if err != nil {
			return e.fail(ctx, runID, node.Name, state, err)
		}
		if !ok {
			return e.complete(ctx, runID, state)
		}

		err = e.transition(ctx, runID, domain.StatusRunning, withState(state))
		if errors.Is(err, domain.ErrRunTerminal) {
			e.logger.Info("Run stopped after node", "run_id", runID, "node", node.Name)
			return nil
		}
		if err != nil {
			return fmt.Errorf("run %q: %w", runID, err)
		}
		current = to
	}
}

// visit runs one node and returns the resulting State. On error the returned
// State is the input State.
func (e *Engine) visit(ctx context.Context, runID string, node *graph.Node, state domain.State) (domain.State, error) {
	start := time.Now()
	e.emitNodeEnter(ctx, runID, node)

	next, err := e.step(ctx, runID, node, state)

	e.emitNodeLeave(ctx, runID, node, time.Since(start), err)
	if err != nil {
		return state, err
	}
	return next, nil
}

func (e *Engine) step(ctx context.Context, runID string, node *graph.Node, state domain.State) (domain.State, error) {
	for _, field := range node.Reads {
		if !state.Has(field) {
			return state, &domain.MissingStateFieldError{Node: node.Name, Field: field}
		}
	}

	if node.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, node.Timeout)
		defer cancel()
	}

	switch node.Kind {
	case domain.NodeParallel:
		return e.runParallel(ctx, runID, node, state)
	case domain.NodeFanOut:
		return e.runFanOut(ctx, runID, node, state)
	default:
		patch, err := call(ctx, node.Name, func(ctx context.Context) (*domain.Patch, error) {
			return node.Run(ctx, state)
		})
		if err != nil {
			return state, err
		}
		return e.apply(ctx, runID, node.Name, node.Writes, state, patch)
	}
}

// apply checks ownership of a patch and applies it.
func (e *Engine) apply(ctx context.Context, runID, node string, writes []string, state domain.State, patch *domain.Patch) (domain.State, error) {
	if patch == nil {
		return state, nil
	}
	var undeclared []string
	for field := range patch.Fields {
		if !contains(writes, field) {
			undeclared = append(undeclared, field)
		}
	}
	if len(undeclared) > 0 {
		sort.Strings(undeclared)
		return state, &domain.OwnershipError{Node: node, Fields: undeclared}
	}

	now := e.now()
	for i := range patch.Log {
		if patch.Log[i].Node == "" {
			patch.Log[i].Node = node
		}
		if patch.Log[i].Time.IsZero() {
			patch.Log[i].Time = now
		}
	}
	next, err := state.Apply(*patch)
	if err != nil {
		return state, fmt.Errorf("node %q: %w", node, err)
	}
	e.emitDecisions(ctx, runID, node, next, patch)
	return next, nil
}

// pause persists the barrier and marks the run awaiting approval. A failed
// write fails the run and is returned to the caller.
func (e *Engine) pause(ctx context.Context, runID string, node *graph.Node, state domain.State) error {
	questions, err := e.questions(node, state)
	if err != nil {
		return e.fail(ctx, runID, node.Name, state, err)
	}
	_, err = e.checkpoints.Pause(ctx, runID, node.Name, state, questions)
	if errors.Is(err, domain.ErrRunTerminal) {
		e.logger.Info("Run stopped before pause", "run_id", runID, "node", node.Name)
		return nil
	}
	if err != nil {
		e.logger.Error("Barrier not persisted", "run_id", runID, "node", node.Name, "err", err)
		if ferr := e.fail(ctx, runID, node.Name, state, err); ferr != nil {
			return ferr
		}
		return err
	}
	err = e.transition(ctx, runID, domain.StatusAwaitingApproval, withState(state))
	if errors.Is(err, domain.ErrRunTerminal) {
		// Cancelled while the barrier was being written.
		if _, cerr := e.checkpoints.Cancel(ctx, runID); cerr != nil {
			e.logger.Warn("Checkpoint of stopped run left open", "run_id", runID, "err", cerr)
		}
		return nil
	}
	if err != nil {
		return err
	}
	e.logger.Info("Run awaiting approval", "run_id", runID, "node", node.Name, "questions", len(questions))
	return nil
}

func (e *Engine) questions(node *graph.Node, state domain.State) ([]domain.Question, error) {
	if node.Questions != nil {
		return node.Questions(state)
	}
	qs, _, err := domain.Decode[[]domain.Question](state, domain.FieldReviewQuestions)
	return qs, err
}

func (e *Engine) complete(ctx context.Context, runID string, state domain.State) error {
	err := e.transition(ctx, runID, domain.StatusCompleted, withState(state))
	if err != nil && !errors.Is(err, domain.ErrRunTerminal) {
		return err
	}
	e.logger.Info("Run completed", "run_id", runID)
	return nil
}

// fail records the error on the run and marks it Failed. It returns the
// error only when it must reach the caller.
func (e *Engine) fail(ctx context.Context, runID, node string, state domain.State, cause error) error {
	kind := domain.KindOf(cause)
	severity := domain.SeverityError
	if kind == domain.KindFatal {
		severity = domain.SeverityFatal
	}
	state = state.WithLog(domain.LogEntry{
		Node:     node,
		Severity: severity,
		Kind:     kind,
		Message:  cause.Error(),
		Time:     e.now(),
	})
	e.logger.Error("Run failed", "run_id", runID, "node", node, "kind", string(kind), "err", cause)

	err := e.transition(ctx, runID, domain.StatusFailed, withState(state))
	if err != nil && !errors.Is(err, domain.ErrRunTerminal) {
		return errors.Join(cause, err)
	}

	var writeErr *domain.CheckpointWriteError
	if errors.As(cause, &writeErr) {
		return cause
	}
	return nil
}

// call runs fn, turning a panic into an error.
func call[T any](ctx context.Context, name string, fn func(context.Context) (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("node %q panicked: %v", name, r)
		}
	}()
	return fn(ctx)
}

func (e *Engine) emitDecisions(ctx context.Context, runID, node string, state domain.State, patch *domain.Patch) {
	if e.hooks.OnDecision == nil {
		return
	}
	fields := make([]string, 0, len(patch.Fields))
	for f := range patch.Fields {
		if strings.HasPrefix(f, decisionPrefix) {
			fields = append(fields, f)
		}
	}
	sort.Strings(fields)
	for _, f := range fields {
		raw, _ := state.Get(f)
		var d domain.AgentDecision
		if err := json.Unmarshal(raw, &d); err != nil {
			e.logger.Warn("Decision field is not an agent decision", "run_id", runID, "node", node, "field", f, "err", err)
			continue
		}
		e.hooks.OnDecision(ctx, &domain.DecisionEvent{
			EventBase: e.event(domain.EventDecision, runID),
			Node:      node,
			Decision:  d,
		})
	}
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
