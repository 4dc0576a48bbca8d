package runtime_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/conduit/internal/runtime"
	"github.com/aretw0/conduit/pkg/adapters/memory"
	"github.com/aretw0/conduit/pkg/checkpoint"
	"github.com/aretw0/conduit/pkg/domain"
	"github.com/aretw0/conduit/pkg/graph"
	"github.com/aretw0/conduit/pkg/ports"
	"github.com/aretw0/conduit/pkg/session"
	"github.com/stretchr/testify/require"
)

type brokenCheckpoints struct {
	*memory.Store
}

func (brokenCheckpoints) SaveCheckpoint(context.Context, *domain.RunCheckpoint) error {
	return errors.New("checkpoint store unavailable")
}

type brokenReviews struct {
	*memory.Store
}

func (brokenReviews) DecideReview(context.Context, string, domain.Approval, time.Time) (*domain.ReviewSession, error) {
	return nil, errors.New("review store unavailable")
}

type fixture struct {
	engine *runtime.Engine
	store  *memory.Store
	events *recorder
}

func newFixture(t *testing.T, g *graph.Graph, opts ...runtime.EngineOption) *fixture {
	t.Helper()
	store := memory.NewStore()
	return newFixtureWith(t, g, store, store, store, opts...)
}

func newFixtureWith(t *testing.T, g *graph.Graph, store *memory.Store, cps ports.CheckpointStore, reviews ports.ReviewStore, opts ...runtime.EngineOption) *fixture {
	t.Helper()
	sessions := session.NewManager(store)
	events := &recorder{}
	opts = append([]runtime.EngineOption{runtime.WithLifecycleHooks(events.hooks())}, opts...)
	eng := runtime.NewEngine(g, sessions, checkpoint.NewManager(cps, reviews, sessions), opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Shutdown(ctx)
	})
	return &fixture{engine: eng, store: store, events: events}
}

func (f *fixture) run(t *testing.T, input map[string]any) *domain.RunRecord {
	t.Helper()
	require.NoError(t, f.engine.Start(context.Background(), "run-1", input))
	return f.wait(t)
}

func (f *fixture) wait(t *testing.T) *domain.RunRecord {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, err := f.engine.Wait(ctx, "run-1")
	require.NoError(t, err)
	return rec
}

type recorder struct {
	mu        sync.Mutex
	statuses  []domain.RunStatus
	entered   []string
	branches  []string
	decisions []domain.AgentDecision
}

func (r *recorder) hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(_ context.Context, ev *domain.NodeEvent) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.entered = append(r.entered, ev.Node)
		},
		OnBranchDone: func(_ context.Context, ev *domain.BranchEvent) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.branches = append(r.branches, ev.Branch)
		},
		OnStatusChange: func(_ context.Context, ev *domain.StatusEvent) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.statuses = append(r.statuses, ev.To)
		},
		OnDecision: func(_ context.Context, ev *domain.DecisionEvent) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.decisions = append(r.decisions, ev.Decision)
		},
	}
}

func (r *recorder) Statuses() []domain.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.RunStatus(nil), r.statuses...)
}

func (r *recorder) Entered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.entered...)
}

func set(field string, value any) graph.Handler {
	return func(context.Context, domain.State) (*domain.Patch, error) {
		return domain.NewPatch().Set(field, value), nil
	}
}

func noop(context.Context, domain.State) (*domain.Patch, error) {
	return nil, nil
}

func field[T any](t *testing.T, s domain.State, name string) T {
	t.Helper()
	v, ok, err := domain.Decode[T](s, name)
	require.NoError(t, err)
	require.True(t, ok, "field %q missing", name)
	return v
}
