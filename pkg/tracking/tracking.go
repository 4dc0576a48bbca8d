// Package tracking provides experiment tracker implementations and a
// wrapper that keeps tracking failures from failing a run.
package tracking

import (
	"context"
	"log/slog"
	"sort"

	"github.com/aretw0/conduit/internal/logging"
	"github.com/aretw0/conduit/pkg/ports"
)

// Nop discards everything.
type Nop struct{}

func (Nop) LogParams(context.Context, string, map[string]any) error      { return nil }
func (Nop) LogMetrics(context.Context, string, map[string]float64) error { return nil }
func (Nop) LogArtifact(context.Context, string, string, string) error    { return nil }

// LogTracker writes tracking calls to a structured logger.
type LogTracker struct {
	logger *slog.Logger
}

// NewLogTracker creates a tracker logging at info level.
func NewLogTracker(logger *slog.Logger) *LogTracker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LogTracker{logger: logger}
}

func (t *LogTracker) LogParams(ctx context.Context, runID string, params map[string]any) error {
	args := []any{"run_id", runID}
	for _, k := range sortedKeys(params) {
		args = append(args, k, params[k])
	}
	t.logger.InfoContext(ctx, "tracking params", args...)
	return nil
}

func (t *LogTracker) LogMetrics(ctx context.Context, runID string, metrics map[string]float64) error {
	args := []any{"run_id", runID}
	for _, k := range sortedKeys(metrics) {
		args = append(args, k, metrics[k])
	}
	t.logger.InfoContext(ctx, "tracking metrics", args...)
	return nil
}

func (t *LogTracker) LogArtifact(ctx context.Context, runID, name, ref string) error {
	t.logger.InfoContext(ctx, "tracking artifact", "run_id", runID, "name", name, "ref", ref)
	return nil
}

// Safe wraps a tracker so that its errors are reported to a callback instead
// of being returned. Tracking is best effort: a broken backend must not fail
// a training run.
type Safe struct {
	next  ports.Tracker
	onErr func(op string, err error)
}

// NewSafe wraps next. onErr may be nil.
func NewSafe(next ports.Tracker, onErr func(op string, err error)) *Safe {
	if next == nil {
		next = Nop{}
	}
	if onErr == nil {
		onErr = func(string, error) {}
	}
	return &Safe{next: next, onErr: onErr}
}

func (s *Safe) LogParams(ctx context.Context, runID string, params map[string]any) error {
	if err := s.next.LogParams(ctx, runID, params); err != nil {
		s.onErr("log_params", err)
	}
	return nil
}

func (s *Safe) LogMetrics(ctx context.Context, runID string, metrics map[string]float64) error {
	if err := s.next.LogMetrics(ctx, runID, metrics); err != nil {
		s.onErr("log_metrics", err)
	}
	return nil
}

func (s *Safe) LogArtifact(ctx context.Context, runID, name, ref string) error {
	if err := s.next.LogArtifact(ctx, runID, name, ref); err != nil {
		s.onErr("log_artifact", err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
