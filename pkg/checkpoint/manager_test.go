package checkpoint_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/conduit/pkg/adapters/memory"
	"github.com/aretw0/conduit/pkg/checkpoint"
	"github.com/aretw0/conduit/pkg/domain"
	"github.com/aretw0/conduit/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var questions = []domain.Question{
	{ID: "proceed", Text: "Proceed?", Options: []string{"yes", "no"}, Recommended: "yes"},
	{ID: "test_size", Text: "Test split?", Options: []string{"0.1", "0.2"}, Recommended: "0.2"},
}

type failingCheckpoints struct {
	*memory.Store
}

func (failingCheckpoints) SaveCheckpoint(context.Context, *domain.RunCheckpoint) error {
	return errors.New("disk full")
}

type failingReviews struct {
	*memory.Store
}

func (failingReviews) DecideReview(context.Context, string, domain.Approval, time.Time) (*domain.ReviewSession, error) {
	return nil, errors.New("connection reset")
}

func setup(t *testing.T) (*checkpoint.Manager, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	m := checkpoint.NewManager(store, store, session.NewManager(store))
	return m, store
}

func pause(t *testing.T, m *checkpoint.Manager, store *memory.Store, runID string) domain.State {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.SaveRun(ctx, &domain.RunRecord{RunID: runID, Status: domain.StatusAwaitingApproval}))

	state, err := domain.NewState(map[string]any{
		domain.FieldTask:       "predict 'price'",
		domain.FieldAlgorithms: []string{"linear_regression", "ridge_regression"},
	})
	require.NoError(t, err)
	state = state.WithLog(domain.LogEntry{Node: "train", Severity: domain.SeverityWarning, Message: "slow", Time: time.Unix(10, 0).UTC()})

	_, err = m.Pause(ctx, runID, "review", state, questions)
	require.NoError(t, err)
	return state
}

func TestManager_CheckpointRoundTrip(t *testing.T) {
	m, store := setup(t)
	state := pause(t, m, store, "run-1")

	cp, err := m.Load(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "review", cp.NodeName)
	assert.True(t, state.Equal(cp.State))
	assert.False(t, cp.Consumed())

	rs, err := m.Review(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, questions, rs.Questions)
	assert.False(t, rs.Decided())
}

func TestManager_DecideOnce(t *testing.T) {
	m, store := setup(t)
	state := pause(t, m, store, "run-1")
	ctx := context.Background()

	cp, rs, err := m.Decide(ctx, "run-1", domain.Approval{Approved: true, Answers: map[string]string{"test_size": "0.1"}})
	require.NoError(t, err)
	assert.True(t, state.Equal(cp.State))
	assert.True(t, cp.Consumed())
	assert.Equal(t, map[string]string{"proceed": "yes", "test_size": "0.1"}, rs.Answers)

	_, _, err = m.Decide(ctx, "run-1", domain.Approval{Approved: true})
	var resumed *domain.AlreadyResumedError
	assert.ErrorAs(t, err, &resumed)
}

func TestManager_ConcurrentDecide(t *testing.T) {
	m, store := setup(t)
	pause(t, m, store, "run-1")

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		resumed   int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := m.Decide(context.Background(), "run-1", domain.Approval{Approved: true})
			mu.Lock()
			defer mu.Unlock()
			var already *domain.AlreadyResumedError
			switch {
			case err == nil:
				successes++
			case errors.As(err, &already):
				resumed++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, resumed)
}

func TestManager_InvalidApprovalKeepsCheckpoint(t *testing.T) {
	m, store := setup(t)
	pause(t, m, store, "run-1")
	ctx := context.Background()

	_, _, err := m.Decide(ctx, "run-1", domain.Approval{Approved: true, Answers: map[string]string{"proceed": "maybe"}})
	assert.ErrorIs(t, err, domain.ErrInvalidApproval)
	_, _, err = m.Decide(ctx, "run-1", domain.Approval{Approved: true, Answers: map[string]string{"colour": "red"}})
	assert.ErrorIs(t, err, domain.ErrInvalidApproval)

	cp, err := m.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, cp.Consumed())

	_, _, err = m.Decide(ctx, "run-1", domain.Approval{Approved: false, Feedback: "wrong target"})
	require.NoError(t, err)
	rs, err := m.Review(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, rs.Approved)
	assert.False(t, *rs.Approved)
	assert.Equal(t, "wrong target", rs.Feedback)
}

func TestManager_DecideRequiresPausedRun(t *testing.T) {
	m, store := setup(t)
	ctx := context.Background()

	_, _, err := m.Decide(ctx, "ghost", domain.Approval{Approved: true})
	assert.ErrorIs(t, err, domain.ErrRunNotFound)

	require.NoError(t, store.SaveRun(ctx, &domain.RunRecord{RunID: "running", Status: domain.StatusRunning}))
	_, _, err = m.Decide(ctx, "running", domain.Approval{Approved: true})
	assert.ErrorIs(t, err, domain.ErrRunNotAwaiting)

	require.NoError(t, store.SaveRun(ctx, &domain.RunRecord{RunID: "done", Status: domain.StatusCompleted}))
	_, _, err = m.Decide(ctx, "done", domain.Approval{Approved: true})
	assert.ErrorIs(t, err, domain.ErrRunTerminal)

	require.NoError(t, store.SaveRun(ctx, &domain.RunRecord{RunID: "orphan", Status: domain.StatusAwaitingApproval}))
	_, err = m.Resume(ctx, "orphan")
	var notFound *domain.CheckpointNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestManager_Cancel(t *testing.T) {
	m, store := setup(t)
	pause(t, m, store, "run-1")
	ctx := context.Background()

	consumed, err := m.Cancel(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, consumed)

	_, err = m.Resume(ctx, "run-1")
	var resumed *domain.AlreadyResumedError
	assert.ErrorAs(t, err, &resumed)

	cp, err := m.Load(ctx, "run-1")
	require.NoError(t, err, "checkpoint is kept for audit")
	assert.True(t, cp.Consumed())

	consumed, err = m.Cancel(ctx, "never-paused")
	require.NoError(t, err)
	assert.False(t, consumed)
}

func TestManager_CheckpointWriteFailure(t *testing.T) {
	store := memory.NewStore()
	m := checkpoint.NewManager(failingCheckpoints{store}, store, session.NewManager(store))

	_, err := m.Pause(context.Background(), "run-1", "review", domain.State{}, questions)
	var writeErr *domain.CheckpointWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, "review", writeErr.Node)

	_, err = m.Review(context.Background(), "run-1")
	assert.ErrorIs(t, err, domain.ErrReviewNotFound, "no review is opened without a checkpoint")
}

func TestManager_DecisionWriteFailure(t *testing.T) {
	store := memory.NewStore()
	m := checkpoint.NewManager(store, failingReviews{store}, session.NewManager(store))
	state := pause(t, m, store, "run-1")

	cp, rs, err := m.Decide(context.Background(), "run-1", domain.Approval{Approved: true})
	var writeErr *domain.DecisionWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, "review", writeErr.Node)
	assert.Nil(t, rs)
	require.NotNil(t, cp, "the consumed checkpoint is reported")
	assert.True(t, cp.Consumed())
	assert.True(t, state.Equal(cp.State))
}

func TestManager_Delete(t *testing.T) {
	m, store := setup(t)
	pause(t, m, store, "run-1")
	ctx := context.Background()

	require.NoError(t, m.Delete(ctx, "run-1"))
	_, err := m.Load(ctx, "run-1")
	var notFound *domain.CheckpointNotFoundError
	assert.ErrorAs(t, err, &notFound)
}
