package conduit_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/conduit"
	"github.com/aretw0/conduit/internal/testutils"
	"github.com/aretw0/conduit/pkg/adapters/memory"
	"github.com/aretw0/conduit/pkg/domain"
	"github.com/aretw0/conduit/pkg/retry"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 2, BaseBackoff: time.Millisecond}
}

func wait(t *testing.T, eng *conduit.Engine, runID string) *domain.RunRecord {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, err := eng.Wait(ctx, runID)
	require.NoError(t, err)
	return rec
}

func TestNew_RequiresClientOrGraph(t *testing.T) {
	_, err := conduit.New()
	assert.Error(t, err)
}

func TestFacade_Integration(t *testing.T) {
	trainer := testutils.NewTrainer("houses.csv", domain.DatasetProfile{Rows: 10, Columns: []string{"price", "rooms"}})
	trainer.Scores["linear_regression"] = 0.9
	store := memory.NewStore()

	eng, err := conduit.New(
		conduit.WithReasoningClient(testutils.Unreachable()),
		conduit.WithTrainer(trainer),
		conduit.WithStore(store),
		conduit.WithAgentPolicy(fastPolicy()),
		conduit.WithTrainPolicy(fastPolicy()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close(context.Background()) })

	ctx := context.Background()
	runID, err := eng.Start(ctx, map[string]any{
		domain.FieldTask:         "Predict the 'price'",
		domain.FieldDataLocation: "houses.csv",
	})
	require.NoError(t, err)
	_, err = uuid.Parse(runID)
	require.NoError(t, err, "run ids are UUIDs")

	rec := wait(t, eng, runID)
	require.Equal(t, domain.StatusAwaitingApproval, rec.Status)

	review, err := eng.Review(ctx, runID)
	require.NoError(t, err)
	assert.Len(t, review.Questions, 4)

	require.NoError(t, eng.Resume(ctx, runID, domain.Approval{Approved: true}))
	rec = wait(t, eng, runID)
	require.Equal(t, domain.StatusCompleted, rec.Status)
	assert.True(t, rec.State.Has(domain.FieldRegisteredModel))

	ids, err := eng.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{runID}, ids)

	require.NoError(t, eng.Delete(ctx, runID))
	_, err = eng.GetStatus(ctx, runID)
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestFacade_Transcript(t *testing.T) {
	eng, err := conduit.New(
		conduit.WithReasoningClient(testutils.Always(`{"target": "price", "confidence": 0.95}`)),
		conduit.WithAgentPolicy(fastPolicy()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close(context.Background()) })

	require.NoError(t, eng.StartWithID(context.Background(), "run-1", map[string]any{domain.FieldTask: "Predict the 'price'"}))
	rec := wait(t, eng, "run-1")

	d, ok, err := domain.Decode[domain.AgentDecision](rec.State, domain.DecisionField("config"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, d.UsedFallback)

	prompt, ok := eng.Transcript().Get(d.PromptRef)
	require.True(t, ok)
	assert.Contains(t, prompt, "Predict the 'price'")
	reply, ok := eng.Transcript().Get(d.ResponseRef)
	require.True(t, ok)
	assert.Contains(t, reply, `"target": "price"`)
}

func TestFacade_Inspect(t *testing.T) {
	eng, err := conduit.New(conduit.WithReasoningClient(testutils.Unreachable()))
	require.NoError(t, err)

	top := eng.Inspect()
	assert.Equal(t, "profile", top.Entry)
	kinds := map[string]domain.NodeKind{}
	for _, n := range top.Nodes {
		kinds[n.Name] = n.Kind
	}
	assert.Equal(t, domain.NodeBarrier, kinds["review"])
	assert.Equal(t, domain.NodeFanOut, kinds["train"])
}
