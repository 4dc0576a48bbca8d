package runtime_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/conduit/pkg/domain"
	"github.com/aretw0/conduit/pkg/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_RunsToCompletion(t *testing.T) {
	b := graph.New()
	b.Task("double", func(_ context.Context, s domain.State) (*domain.Patch, error) {
		n, _, err := domain.Decode[int](s, "n")
		if err != nil {
			return nil, err
		}
		return domain.NewPatch().Set("doubled", n*2), nil
	}).Reads("n").Writes("doubled").Go("done")
	b.Task("done", set("finished", true)).Writes("finished")
	f := newFixture(t, b.MustBuild())

	rec := f.run(t, map[string]any{"n": 21})

	assert.Equal(t, domain.StatusCompleted, rec.Status)
	assert.Equal(t, []string{"double", "done"}, rec.History)
	assert.Equal(t, 42, field[int](t, rec.State, "doubled"))
	assert.True(t, field[bool](t, rec.State, "finished"))
	assert.Equal(t, []domain.RunStatus{domain.StatusRunning, domain.StatusCompleted}, f.events.Statuses())
}

func TestEngine_StartReturnsBeforeCompletion(t *testing.T) {
	release := make(chan struct{})
	b := graph.New()
	b.Task("slow", func(ctx context.Context, _ domain.State) (*domain.Patch, error) {
		<-release
		return nil, nil
	})
	f := newFixture(t, b.MustBuild())

	require.NoError(t, f.engine.Start(context.Background(), "run-1", nil))
	rec, err := f.engine.GetStatus(context.Background(), "run-1")
	require.NoError(t, err)
	assert.False(t, rec.Status.IsTerminal())

	close(release)
	assert.Equal(t, domain.StatusCompleted, f.wait(t).Status)
}

func TestEngine_StartRejectsDuplicateRun(t *testing.T) {
	b := graph.New()
	b.Task("only", noop)
	f := newFixture(t, b.MustBuild())

	f.run(t, nil)
	assert.Error(t, f.engine.Start(context.Background(), "run-1", nil))
}

func TestEngine_NodeFailures(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *graph.Builder)
		kind  domain.ErrorKind
		level domain.Severity
	}{
		{
			name: "missing read",
			build: func(b *graph.Builder) {
				b.Task("needs", noop).Reads("dataset_profile")
			},
			kind:  domain.KindValidation,
			level: domain.SeverityError,
		},
		{
			name: "undeclared write",
			build: func(b *graph.Builder) {
				b.Task("sneaky", set("best_model", "x")).Writes("algorithms")
			},
			kind:  domain.KindValidation,
			level: domain.SeverityError,
		},
		{
			name: "no matching route",
			build: func(b *graph.Builder) {
				b.Task("route", noop).Branch("never", func(domain.State) bool { return false }, "end")
				b.Task("end", noop)
			},
			kind:  domain.KindRouting,
			level: domain.SeverityError,
		},
		{
			name: "agent without default",
			build: func(b *graph.Builder) {
				b.Task("agent", func(context.Context, domain.State) (*domain.Patch, error) {
					return nil, &domain.AgentFailureError{Agent: "config", Attempts: 3, Cause: errors.New("unreachable")}
				})
			},
			kind:  domain.KindDecisionQuality,
			level: domain.SeverityError,
		},
		{
			name: "panic",
			build: func(b *graph.Builder) {
				b.Task("boom", func(context.Context, domain.State) (*domain.Patch, error) {
					panic("boom")
				})
			},
			kind:  domain.KindFatal,
			level: domain.SeverityFatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := graph.New()
			tt.build(b)
			f := newFixture(t, b.MustBuild())

			rec := f.run(t, nil)

			assert.Equal(t, domain.StatusFailed, rec.Status)
			require.Len(t, rec.Errors(), 1)
			entry := rec.Errors()[0]
			assert.Equal(t, tt.kind, entry.Kind)
			assert.Equal(t, tt.level, entry.Severity)
			assert.NotEmpty(t, entry.Node)
			assert.False(t, entry.Time.IsZero())
		})
	}
}

func TestEngine_ConditionalRouting(t *testing.T) {
	passed := func(s domain.State) bool {
		ok, _, _ := domain.Decode[bool](s, "passed")
		return ok
	}
	build := func() *graph.Graph {
		b := graph.New()
		b.Task("evaluate", func(_ context.Context, s domain.State) (*domain.Patch, error) {
			score, _, _ := domain.Decode[float64](s, "score")
			return domain.NewPatch().Set("passed", score >= 0.8), nil
		}).Reads("score").Writes("passed").
			Branch("passed", passed, "register").
			Go("report")
		b.Task("register", set("outcome", "registered")).Writes("outcome")
		b.Task("report", set("outcome", "reported")).Writes("outcome")
		return b.MustBuild()
	}

	f := newFixture(t, build())
	rec := f.run(t, map[string]any{"score": 0.9})
	assert.Equal(t, []string{"evaluate", "register"}, rec.History)

	f = newFixture(t, build())
	rec = f.run(t, map[string]any{"score": 0.5})
	assert.Equal(t, []string{"evaluate", "report"}, rec.History)
	assert.Equal(t, "reported", field[string](t, rec.State, "outcome"))
}

func TestEngine_NodeTimeout(t *testing.T) {
	b := graph.New()
	b.Task("hang", func(ctx context.Context, _ domain.State) (*domain.Patch, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}).Timeout(20 * time.Millisecond)
	f := newFixture(t, b.MustBuild())

	rec := f.run(t, nil)
	assert.Equal(t, domain.StatusFailed, rec.Status)
	assert.Contains(t, rec.Errors()[0].Message, "deadline")
}

func TestEngine_DecisionEvents(t *testing.T) {
	b := graph.New()
	b.Task("decide", set(domain.DecisionField("config"), domain.AgentDecision{Agent: "config", Confidence: 0.92, Attempts: 1})).
		Writes(domain.DecisionField("config"))
	f := newFixture(t, b.MustBuild())

	f.run(t, nil)
	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	require.Len(t, f.events.decisions, 1)
	assert.Equal(t, "config", f.events.decisions[0].Agent)
}

func TestEngine_CancelBetweenNodes(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	b := graph.New()
	b.Task("first", func(context.Context, domain.State) (*domain.Patch, error) {
		close(entered)
		<-release
		return domain.NewPatch().Set("first", true), nil
	}).Writes("first").Go("second")
	b.Task("second", set("second", true)).Writes("second")
	f := newFixture(t, b.MustBuild())

	require.NoError(t, f.engine.Start(context.Background(), "run-1", nil))
	<-entered
	require.NoError(t, f.engine.Cancel(context.Background(), "run-1"))
	close(release)

	rec := f.wait(t)
	assert.Equal(t, domain.StatusCancelled, rec.Status)
	assert.Equal(t, []string{"first"}, rec.History)
	assert.NotContains(t, f.events.Entered(), "second")

	assert.ErrorIs(t, f.engine.Cancel(context.Background(), "run-1"), domain.ErrRunTerminal)
}

func TestEngine_CancelUnknownRun(t *testing.T) {
	b := graph.New()
	b.Task("only", noop)
	f := newFixture(t, b.MustBuild())

	assert.ErrorIs(t, f.engine.Cancel(context.Background(), "ghost"), domain.ErrRunNotFound)
}

func TestEngine_DeleteAndList(t *testing.T) {
	b := graph.New()
	b.Task("only", noop)
	f := newFixture(t, b.MustBuild())
	f.run(t, nil)

	ids, err := f.engine.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1"}, ids)

	require.NoError(t, f.engine.Delete(context.Background(), "run-1"))
	_, err = f.engine.GetStatus(context.Background(), "run-1")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}
