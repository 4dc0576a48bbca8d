package tests

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/conduit/pkg/domain"
	"github.com/aretw0/conduit/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStoreContract verifies that a RunStore implementation adheres to the interface contract.
func RunStoreContract(t *testing.T, store ports.RunStore) {
	t.Helper()
	ctx := context.Background()
	runID := "contract-run-" + time.Now().Format("20060102150405")
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("Save and Load", func(t *testing.T) {
		rec := &domain.RunRecord{
			RunID:       runID,
			Status:      domain.StatusRunning,
			CurrentNode: "ingest",
			History:     []string{"ingest"},
			Log:         []domain.LogEntry{{Node: "ingest", Severity: domain.SeverityInfo, Message: "profiled", Time: now}},
			Input:       map[string]any{"task": "predict price"},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		require.NoError(t, store.SaveRun(ctx, rec))

		loaded, err := store.LoadRun(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, rec.Status, loaded.Status)
		assert.Equal(t, rec.CurrentNode, loaded.CurrentNode)
		assert.Equal(t, rec.History, loaded.History)
		require.Len(t, loaded.Log, 1)
		assert.Equal(t, "profiled", loaded.Log[0].Message)
		assert.Equal(t, "predict price", loaded.Input["task"])
		assert.True(t, rec.CreatedAt.Equal(loaded.CreatedAt))
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, store.SaveRun(ctx, &domain.RunRecord{RunID: runID, Status: domain.StatusCompleted}))
		loaded, err := store.LoadRun(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, loaded.Status)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.LoadRun(ctx, "non-existent-"+runID)
		assert.ErrorIs(t, err, domain.ErrRunNotFound)
	})

	t.Run("List", func(t *testing.T) {
		id1, id2 := runID+"-1", runID+"-2"
		require.NoError(t, store.SaveRun(ctx, &domain.RunRecord{RunID: id1, Status: domain.StatusPending}))
		require.NoError(t, store.SaveRun(ctx, &domain.RunRecord{RunID: id2, Status: domain.StatusPending}))
		defer func() {
			_ = store.DeleteRun(ctx, id1)
			_ = store.DeleteRun(ctx, id2)
		}()

		ids, err := store.ListRuns(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.DeleteRun(ctx, runID))
		_, err := store.LoadRun(ctx, runID)
		assert.ErrorIs(t, err, domain.ErrRunNotFound)

		assert.NoError(t, store.DeleteRun(ctx, runID), "deleting twice is not an error")
	})
}

// CheckpointStoreContract verifies save, load and the atomic consume of a CheckpointStore.
func CheckpointStoreContract(t *testing.T, store ports.CheckpointStore) {
	t.Helper()
	ctx := context.Background()
	runID := "contract-cp-" + time.Now().Format("20060102150405")
	now := time.Now().UTC().Truncate(time.Second)

	cfg := domain.PipelineConfig{Target: "price", TaskKind: domain.TaskRegression, TestSize: 0.2, ValidationSize: 0.1}
	state, err := domain.NewState(map[string]any{
		domain.FieldTask:           "Predict 'price' from the rest",
		domain.FieldAlgorithms:     []string{"linear_regression", "random_forest"},
		domain.FieldPipelineConfig: cfg,
	})
	require.NoError(t, err)
	state = state.WithLog(domain.LogEntry{Node: "extract_config", Severity: domain.SeverityWarning, Message: "fallback", Time: now})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.LoadCheckpoint(ctx, "missing-"+runID)
		var notFound *domain.CheckpointNotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("Round Trip", func(t *testing.T) {
		cp := &domain.RunCheckpoint{RunID: runID, NodeName: "review", State: state, CreatedAt: now}
		require.NoError(t, store.SaveCheckpoint(ctx, cp))

		loaded, err := store.LoadCheckpoint(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, "review", loaded.NodeName)
		assert.False(t, loaded.Consumed())
		assert.True(t, state.Equal(loaded.State), "checkpoint must reproduce the state field-for-field")
	})

	t.Run("Consume Once", func(t *testing.T) {
		cp, err := store.ConsumeCheckpoint(ctx, runID, now)
		require.NoError(t, err)
		assert.True(t, state.Equal(cp.State))

		_, err = store.ConsumeCheckpoint(ctx, runID, now)
		var already *domain.AlreadyResumedError
		assert.ErrorAs(t, err, &already)

		loaded, err := store.LoadCheckpoint(ctx, runID)
		require.NoError(t, err, "consumed checkpoints are kept for audit")
		assert.True(t, loaded.Consumed())
	})

	t.Run("Consume Non-Existent", func(t *testing.T) {
		_, err := store.ConsumeCheckpoint(ctx, "missing-"+runID, now)
		var notFound *domain.CheckpointNotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("Concurrent Consume", func(t *testing.T) {
		id := runID + "-race"
		require.NoError(t, store.SaveCheckpoint(ctx, &domain.RunCheckpoint{RunID: id, NodeName: "review", State: state, CreatedAt: now}))
		defer func() { _ = store.DeleteCheckpoint(ctx, id) }()

		const callers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			already   int
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.ConsumeCheckpoint(ctx, id, now)
				mu.Lock()
				defer mu.Unlock()
				var ar *domain.AlreadyResumedError
				switch {
				case err == nil:
					successes++
				case assert.ErrorAs(t, err, &ar):
					already++
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, successes)
		assert.Equal(t, callers-1, already)
	})

	t.Run("Save Resets Consumption", func(t *testing.T) {
		require.NoError(t, store.SaveCheckpoint(ctx, &domain.RunCheckpoint{RunID: runID, NodeName: "second_barrier", State: state, CreatedAt: now}))
		loaded, err := store.LoadCheckpoint(ctx, runID)
		require.NoError(t, err)
		assert.False(t, loaded.Consumed())
		assert.Equal(t, "second_barrier", loaded.NodeName)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.DeleteCheckpoint(ctx, runID))
		_, err := store.LoadCheckpoint(ctx, runID)
		var notFound *domain.CheckpointNotFoundError
		assert.ErrorAs(t, err, &notFound)
	})
}

// ReviewStoreContract verifies that decided review sessions are never mutated.
func ReviewStoreContract(t *testing.T, store ports.ReviewStore) {
	t.Helper()
	ctx := context.Background()
	runID := "contract-review-" + time.Now().Format("20060102150405")
	now := time.Now().UTC().Truncate(time.Second)

	rs := &domain.ReviewSession{
		RunID: runID,
		Node:  "review",
		Questions: []domain.Question{
			{ID: "proceed", Text: "Proceed with training?", Options: []string{"yes", "no"}, Recommended: "yes"},
		},
		CreatedAt: now,
	}

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.LoadReview(ctx, "missing-"+runID)
		assert.ErrorIs(t, err, domain.ErrReviewNotFound)
	})

	t.Run("Save and Load", func(t *testing.T) {
		require.NoError(t, store.SaveReview(ctx, rs))
		loaded, err := store.LoadReview(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, rs.Questions, loaded.Questions)
		assert.False(t, loaded.Decided())
	})

	t.Run("Decide Once", func(t *testing.T) {
		decided, err := store.DecideReview(ctx, runID, domain.Approval{Approved: true, Feedback: "looks good"}, now)
		require.NoError(t, err)
		require.True(t, decided.Decided())
		assert.True(t, *decided.Approved)
		assert.Equal(t, "yes", decided.Answers["proceed"])

		_, err = store.DecideReview(ctx, runID, domain.Approval{Approved: false}, now)
		assert.ErrorIs(t, err, domain.ErrReviewClosed)

		loaded, err := store.LoadReview(ctx, runID)
		require.NoError(t, err)
		assert.True(t, *loaded.Approved)
		assert.Equal(t, "looks good", loaded.Feedback)
	})

	t.Run("Decide Non-Existent", func(t *testing.T) {
		_, err := store.DecideReview(ctx, "missing-"+runID, domain.Approval{Approved: true}, now)
		assert.ErrorIs(t, err, domain.ErrReviewNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.DeleteReview(ctx, runID))
		_, err := store.LoadReview(ctx, runID)
		assert.ErrorIs(t, err, domain.ErrReviewNotFound)
	})
}

// StoreContract runs every persistence contract against a combined store.
func StoreContract(t *testing.T, store ports.Store) {
	t.Run("RunStore", func(t *testing.T) { RunStoreContract(t, store) })
	t.Run("CheckpointStore", func(t *testing.T) { CheckpointStoreContract(t, store) })
	t.Run("ReviewStore", func(t *testing.T) { ReviewStoreContract(t, store) })
}
