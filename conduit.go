package conduit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/conduit/internal/logging"
	"github.com/aretw0/conduit/internal/runtime"
	"github.com/aretw0/conduit/pkg/adapters/memory"
	"github.com/aretw0/conduit/pkg/agent"
	"github.com/aretw0/conduit/pkg/checkpoint"
	"github.com/aretw0/conduit/pkg/domain"
	"github.com/aretw0/conduit/pkg/graph"
	"github.com/aretw0/conduit/pkg/pipeline"
	"github.com/aretw0/conduit/pkg/ports"
	"github.com/aretw0/conduit/pkg/retry"
	"github.com/aretw0/conduit/pkg/session"
	"github.com/google/uuid"
)

// Engine is the high-level entry point for the Conduit library.
// It wires the stores, the agents and the pipeline graph around the internal
// runtime and exposes the run control surface.
type Engine struct {
	runtime  *runtime.Engine
	graph    *graph.Graph
	invoker  *agent.Invoker
	store    ports.Store
	sessions *session.Manager

	client      ports.ReasoningClient
	trainer     ports.Trainer
	tracker     ports.Tracker
	prompts     ports.PromptSource
	locker      ports.DistributedLocker
	lockTTL     time.Duration
	threshold   float64
	agentPolicy *retry.Policy
	trainPolicy *retry.Policy
	monitor     float64
	maxParallel int
	nodeTimeout time.Duration
	runtimeOpts []runtime.EngineOption
	hooks       domain.LifecycleHooks
	logger      *slog.Logger
}

var _ ports.Controller = (*Engine)(nil)

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithGraph runs a custom graph instead of the ML pipeline.
func WithGraph(g *graph.Graph) Option {
	return func(e *Engine) {
		e.graph = g
	}
}

// WithStore sets the persistence backend. Defaults to an in-memory store.
func WithStore(s ports.Store) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithLocker guards run updates across replicas sharing a store.
func WithLocker(l ports.DistributedLocker) Option {
	return func(e *Engine) {
		e.locker = l
	}
}

// WithLockTTL sets the lease of the distributed resume lock.
func WithLockTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.lockTTL = ttl
	}
}

// WithReasoningClient sets the LLM behind the decision agents.
func WithReasoningClient(c ports.ReasoningClient) Option {
	return func(e *Engine) {
		e.client = c
	}
}

// WithTrainer sets the training collaborator.
func WithTrainer(t ports.Trainer) Option {
	return func(e *Engine) {
		e.trainer = t
	}
}

// WithTracker sets the experiment tracking sink.
func WithTracker(t ports.Tracker) Option {
	return func(e *Engine) {
		e.tracker = t
	}
}

// WithPrompts lets a prompt library override the built-in agent prompts.
func WithPrompts(p ports.PromptSource) Option {
	return func(e *Engine) {
		e.prompts = p
	}
}

// WithConfidenceThreshold sets the default minimum agent confidence.
func WithConfidenceThreshold(t float64) Option {
	return func(e *Engine) {
		e.threshold = t
	}
}

// WithAgentPolicy sets the retry policy of agent calls.
func WithAgentPolicy(p retry.Policy) Option {
	return func(e *Engine) {
		e.agentPolicy = &p
	}
}

// WithTrainPolicy sets the retry policy of each training branch.
func WithTrainPolicy(p retry.Policy) Option {
	return func(e *Engine) {
		e.trainPolicy = &p
	}
}

// WithMonitorThreshold sets the score a model needs to be registered.
func WithMonitorThreshold(t float64) Option {
	return func(e *Engine) {
		e.monitor = t
	}
}

// WithMaxParallel bounds concurrent training branches.
func WithMaxParallel(n int) Option {
	return func(e *Engine) {
		e.maxParallel = n
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithParallelism(n))
	}
}

// WithNodeTimeout bounds every agent node.
func WithNodeTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.nodeTimeout = d
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = e.hooks.Merge(hooks)
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New initializes a new Conduit Engine.
// Without WithGraph a reasoning client is required to build the ML pipeline.
func New(opts ...Option) (*Engine, error) {
	eng := &Engine{}
	for _, opt := range opts {
		opt(eng)
	}

	// Ensure logger is initialized (so we don't pass nil to runtime, which would overwrite its default)
	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}
	if eng.store == nil {
		eng.store = memory.NewStore()
	}

	if eng.client != nil {
		agentOpts := []agent.Option{agent.WithLogger(eng.logger)}
		if eng.agentPolicy != nil {
			agentOpts = append(agentOpts, agent.WithPolicy(*eng.agentPolicy))
		}
		if eng.threshold > 0 {
			agentOpts = append(agentOpts, agent.WithThreshold(eng.threshold))
		}
		if eng.prompts != nil {
			agentOpts = append(agentOpts, agent.WithPrompts(eng.prompts))
		}
		eng.invoker = agent.NewInvoker(eng.client, agentOpts...)
	}

	if eng.graph == nil {
		if eng.invoker == nil {
			return nil, errors.New("a reasoning client is required when no custom graph is provided")
		}
		deps := pipeline.Deps{
			Agents:           eng.invoker,
			Trainer:          eng.trainer,
			Tracker:          eng.tracker,
			MaxParallel:      eng.maxParallel,
			NodeTimeout:      eng.nodeTimeout,
			MonitorThreshold: eng.monitor,
			Logger:           eng.logger,
		}
		if eng.trainPolicy != nil {
			deps.TrainPolicy = *eng.trainPolicy
		}
		g, err := pipeline.Build(deps)
		if err != nil {
			return nil, fmt.Errorf("build pipeline: %w", err)
		}
		eng.graph = g
	}

	sessionOpts := []session.Option{session.WithLogger(eng.logger)}
	if eng.locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(eng.locker), session.WithLockTTL(eng.lockTTL))
	}
	eng.sessions = session.NewManager(eng.store, sessionOpts...)
	checkpoints := checkpoint.NewManager(eng.store, eng.store, eng.sessions, checkpoint.WithLogger(eng.logger))

	runtimeOpts := []runtime.EngineOption{
		runtime.WithLifecycleHooks(eng.hooks),
		runtime.WithLogger(eng.logger),
	}
	runtimeOpts = append(runtimeOpts, eng.runtimeOpts...)
	eng.runtime = runtime.NewEngine(eng.graph, eng.sessions, checkpoints, runtimeOpts...)

	return eng, nil
}

// Start creates a run with a fresh ID and executes it in the background.
func (e *Engine) Start(ctx context.Context, input map[string]any) (string, error) {
	runID := uuid.NewString()
	if err := e.runtime.Start(ctx, runID, input); err != nil {
		return "", err
	}
	return runID, nil
}

// StartWithID is like Start with a caller-chosen run ID.
func (e *Engine) StartWithID(ctx context.Context, runID string, input map[string]any) error {
	if runID == "" {
		return errors.New("run id cannot be empty")
	}
	return e.runtime.Start(ctx, runID, input)
}

// GetStatus returns the run record with its State and accumulated log.
func (e *Engine) GetStatus(ctx context.Context, runID string) (*domain.RunRecord, error) {
	return e.runtime.GetStatus(ctx, runID)
}

// Wait blocks until the run rests: awaiting approval or terminal.
// Hard failures (a checkpoint that could not be written) are returned.
func (e *Engine) Wait(ctx context.Context, runID string) (*domain.RunRecord, error) {
	return e.runtime.Wait(ctx, runID)
}

// Review returns the review session of a paused or reviewed run.
func (e *Engine) Review(ctx context.Context, runID string) (*domain.ReviewSession, error) {
	return e.runtime.Review(ctx, runID)
}

// Resume applies a human decision to a run awaiting approval.
func (e *Engine) Resume(ctx context.Context, runID string, approval domain.Approval) error {
	return e.runtime.Resume(ctx, runID, approval)
}

// Cancel stops a run at its next node boundary.
func (e *Engine) Cancel(ctx context.Context, runID string) error {
	return e.runtime.Cancel(ctx, runID)
}

// List returns the IDs of all known runs.
func (e *Engine) List(ctx context.Context) ([]string, error) {
	return e.runtime.List(ctx)
}

// Delete removes a resting run with its checkpoint and review.
func (e *Engine) Delete(ctx context.Context, runID string) error {
	return e.runtime.Delete(ctx, runID)
}

// Inspect returns the graph topology for visualization or introspection tools.
func (e *Engine) Inspect() domain.Topology {
	return e.runtime.Inspect()
}

// Transcript returns the raw prompts and replies behind decision refs.
// It is nil when the engine runs a custom graph without a reasoning client.
func (e *Engine) Transcript() *agent.Transcript {
	if e.invoker == nil {
		return nil
	}
	return e.invoker.Transcript()
}

// Close waits for executing runs to rest or for ctx to expire.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Shutdown(ctx)
}
