package tracking_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/aretw0/conduit/internal/testutils"
	"github.com/aretw0/conduit/pkg/tracking"
	"github.com/stretchr/testify/assert"
)

func TestSafe_SwallowsErrors(t *testing.T) {
	backend := testutils.NewTracker()
	backend.Err = errors.New("tracking server down")

	var ops []string
	safe := tracking.NewSafe(backend, func(op string, err error) {
		ops = append(ops, op)
	})
	ctx := context.Background()

	assert.NoError(t, safe.LogParams(ctx, "run-1", map[string]any{"target": "price"}))
	assert.NoError(t, safe.LogMetrics(ctx, "run-1", map[string]float64{"cv": 0.8}))
	assert.NoError(t, safe.LogArtifact(ctx, "run-1", "model", "models/a.bin"))
	assert.Equal(t, []string{"log_params", "log_metrics", "log_artifact"}, ops)
}

func TestSafe_Forwards(t *testing.T) {
	backend := testutils.NewTracker()
	safe := tracking.NewSafe(backend, nil)

	assert.NoError(t, safe.LogMetrics(context.Background(), "run-1", map[string]float64{"cv": 0.8}))
	assert.Equal(t, 0.8, backend.Metrics["run-1"]["cv"])
}

func TestLogTracker(t *testing.T) {
	var buf bytes.Buffer
	tr := tracking.NewLogTracker(slog.New(slog.NewTextHandler(&buf, nil)))

	assert.NoError(t, tr.LogParams(context.Background(), "run-1", map[string]any{"b": 2, "a": 1}))
	assert.Contains(t, buf.String(), "run_id=run-1 a=1 b=2")
}
