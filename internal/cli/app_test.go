package cli

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/conduit"
	"github.com/aretw0/conduit/internal/logging"
	"github.com/aretw0/conduit/internal/presentation/tui"
	"github.com/aretw0/conduit/pkg/config"
	"github.com/aretw0/conduit/pkg/domain"
	"github.com/aretw0/conduit/pkg/graph"
	"github.com/aretw0/conduit/pkg/persistence/middleware"
	"github.com/aretw0/conduit/pkg/runner"
)

func reviewGraph() *graph.Graph {
	b := graph.New()
	b.Task("propose", func(ctx context.Context, s domain.State) (*domain.Patch, error) {
		return domain.NewPatch().Set(domain.FieldReviewQuestions, []domain.Question{
			{ID: "ship", Text: "Ship it?", Options: []string{"yes", "no"}, Recommended: "yes"},
		}), nil
	}).Writes(domain.FieldReviewQuestions).Go("review")

	b.Barrier("review", func(ctx context.Context, s domain.State) (*domain.Patch, error) {
		return nil, nil
	}).Reads(domain.FieldReviewQuestions).Go("ship")

	b.Task("ship", func(ctx context.Context, s domain.State) (*domain.Patch, error) {
		answers, _, err := domain.Decode[map[string]string](s, domain.FieldReviewAnswers)
		if err != nil {
			return nil, err
		}
		return domain.NewPatch().Set("shipped", answers["ship"]), nil
	}).Reads(domain.FieldReviewAnswers).Writes("shipped")
	return b.MustBuild()
}

func newApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	app, err := NewApp(cfg, logging.NewNop(), WithEngineOptions(conduit.WithGraph(reviewGraph())))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return app
}

func pause(t *testing.T, app *App) string {
	t.Helper()
	ctx := context.Background()
	runID, err := app.Engine.Start(ctx, map[string]any{domain.FieldTask: "secret-task"})
	require.NoError(t, err)
	rec, err := app.Engine.Wait(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusAwaitingApproval, rec.Status)
	return runID
}

func TestNewApp_Backends(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name  string
		store func(*config.StoreConfig)
	}{
		{"memory", func(*config.StoreConfig) {}},
		{"file", func(s *config.StoreConfig) {
			s.Backend = config.BackendFile
			s.Dir = t.TempDir()
		}},
		{"redis", func(s *config.StoreConfig) {
			s.Backend = config.BackendRedis
			s.Redis.Addr = mr.Addr()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.store(&cfg.Store)
			app := newApp(t, cfg)

			rec, err := Run(context.Background(), app, RunOptions{Task: "churn", Auto: true, Approve: true}, runner.AutoHandler{Approve: true})
			require.NoError(t, err)
			assert.Equal(t, domain.StatusCompleted, rec.Status)

			var out bytes.Buffer
			require.NoError(t, ListRuns(context.Background(), app, &out, tui.Plain, true))
			var listed []domain.RunRecord
			require.NoError(t, json.Unmarshal(out.Bytes(), &listed))
			require.Len(t, listed, 1)
			assert.Equal(t, rec.RunID, listed[0].RunID)
		})
	}
}

func TestNewApp_EncryptedFileStore(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Store.Backend = config.BackendFile
	cfg.Store.Dir = dir
	cfg.Store.EncryptionKey = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))
	app := newApp(t, cfg)

	runID := pause(t, app)

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		assert.NotContains(t, string(data), "secret-task", path)
		return nil
	})
	require.NoError(t, err)

	rec, err := app.Engine.GetStatus(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, "secret-task", rec.Input[domain.FieldTask])
}

func TestNewApp_PIIMasking(t *testing.T) {
	cfg := config.Default()
	cfg.Store.PIIPatterns = []string{"^task$"}
	app := newApp(t, cfg)

	runID := pause(t, app)
	rec, err := app.Engine.GetStatus(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, middleware.Mask, rec.Input[domain.FieldTask])
}

func TestNewApp_Errors(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = "s3"
	_, err := NewApp(cfg, logging.NewNop())
	assert.ErrorContains(t, err, "unknown store backend")

	cfg = config.Default()
	cfg.Training.TrainersFile = filepath.Join(t.TempDir(), "trainers.yaml")
	require.NoError(t, os.WriteFile(cfg.Training.TrainersFile, []byte("trainers:\n  - name: x\n"), 0o644))
	_, err = NewApp(cfg, logging.NewNop())
	assert.ErrorContains(t, err, "load trainers")

	cfg = config.Default()
	cfg.PromptsDir = filepath.Join(t.TempDir(), "missing", "prompts")
	_, err = NewApp(cfg, logging.NewNop())
	assert.ErrorContains(t, err, "open prompts")
}

func TestRunOptions(t *testing.T) {
	_, err := RunOptions{Task: "   "}.Input()
	assert.ErrorContains(t, err, "task description is required")

	input, err := RunOptions{Task: " churn\x1b ", DataLocation: "s3://b/d.csv", Threshold: 0.8}.Input()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		domain.FieldTask:                "churn",
		domain.FieldDataLocation:        "s3://b/d.csv",
		domain.FieldConfidenceThreshold: 0.8,
	}, input)

	assert.IsType(t, runner.AutoHandler{}, RunOptions{Auto: true}.Handler(nil, nil, tui.Plain))
	assert.IsType(t, &runner.JSONHandler{}, RunOptions{JSON: true}.Handler(strings.NewReader(""), &bytes.Buffer{}, tui.Plain))
	assert.IsType(t, &runner.TextHandler{}, RunOptions{}.Handler(strings.NewReader(""), &bytes.Buffer{}, tui.Plain))
}

func TestReviewCommands(t *testing.T) {
	app := newApp(t, config.Default())
	ctx := context.Background()
	runID := pause(t, app)

	var out bytes.Buffer
	require.NoError(t, ShowReview(ctx, app, runID, &out, tui.Plain, false))
	assert.Contains(t, out.String(), "Ship it?")

	out.Reset()
	require.NoError(t, Graph(ctx, app, runID, &out))
	assert.Contains(t, out.String(), "class propose visited;")
	assert.Contains(t, out.String(), "class review current;")

	assert.Error(t, DeleteRun(ctx, app, "missing"))

	rec, err := SubmitReview(ctx, app, runID, domain.Approval{Approved: true, Answers: map[string]string{"ship": "no"}})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, rec.Status)

	out.Reset()
	require.NoError(t, InspectRun(ctx, app, runID, &out, tui.Plain, false, "shipped"))
	assert.Contains(t, out.String(), "### shipped")
	assert.Contains(t, out.String(), `"no"`)

	_, err = SubmitReview(ctx, app, runID, domain.Approval{Approved: true})
	assert.Error(t, err)

	require.NoError(t, DeleteRun(ctx, app, runID))
	_, err = app.Engine.GetStatus(ctx, runID)
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestCancelRun(t *testing.T) {
	app := newApp(t, config.Default())
	runID := pause(t, app)

	rec, err := CancelRun(context.Background(), app, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, rec.Status)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatch(t *testing.T) {
	app := newApp(t, config.Default())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	runID := pause(t, app)

	var out syncBuffer
	done := make(chan *domain.RunRecord, 1)
	go func() {
		rec, err := Watch(ctx, app, runID, &out, 10*time.Millisecond)
		assert.NoError(t, err)
		done <- rec
	}()

	require.Eventually(t, func() bool { return out.String() != "" }, time.Second, 5*time.Millisecond)
	_, err := SubmitReview(ctx, app, runID, domain.Approval{Approved: true})
	require.NoError(t, err)

	rec := <-done
	assert.Equal(t, domain.StatusCompleted, rec.Status)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	var first, last domain.RunDiff
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &last))
	require.NotNil(t, first.Status)
	assert.Equal(t, domain.StatusAwaitingApproval, *first.Status)
	require.NotNil(t, last.Status)
	assert.Equal(t, domain.StatusCompleted, *last.Status)
}
