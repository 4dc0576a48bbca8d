package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/conduit/pkg/domain"
)

func TestReviewMarkdown(t *testing.T) {
	rs := &domain.ReviewSession{
		RunID: "run-1",
		Node:  "review",
		Questions: []domain.Question{
			{ID: "target", Text: "Is price the target?", Options: []string{"yes", "no"}, Recommended: "yes"},
			{ID: "test_size", Text: "Hold-out share?", Recommended: "0.2"},
		},
	}
	out := ReviewMarkdown(rs)
	assert.Contains(t, out, "# Review `run-1`")
	assert.Contains(t, out, "1. **Is price the target?** (`target`)")
	assert.Contains(t, out, "- `yes` _(recommended)_")
	assert.Contains(t, out, "- recommended: `0.2`")
	assert.NotContains(t, out, "Decision:")

	require.NoError(t, rs.Decide(domain.Approval{Approved: false, Feedback: "wrong target"}, time.Now()))
	out = ReviewMarkdown(rs)
	assert.Contains(t, out, "Decision: **rejected**")
	assert.Contains(t, out, "- target: `yes`")
	assert.Contains(t, out, "> wrong target")
}

func TestRunMarkdown(t *testing.T) {
	state, err := domain.NewState(map[string]any{
		domain.DecisionField("config"): domain.AgentDecision{Agent: "config", Confidence: 0.4, UsedFallback: true, FallbackReason: "low confidence", Attempts: 3},
		domain.FieldMonitoring:         domain.Monitoring{Model: "ridge_regression", Score: 0.812, Threshold: 0.7, Passed: true},
	})
	require.NoError(t, err)

	rec := &domain.RunRecord{
		RunID:       "run-1",
		Status:      domain.StatusCompleted,
		CurrentNode: "report",
		History:     []string{"profile", "report"},
		State:       state,
		Log: []domain.LogEntry{
			{Node: "train", Severity: domain.SeverityWarning, Kind: domain.KindPartialFailure, Message: "1 of 3 branches failed"},
		},
	}
	out := RunMarkdown(rec)
	assert.Contains(t, out, "| completed | report |")
	assert.Contains(t, out, "profile → report")
	assert.Contains(t, out, "| config | 0.40 | yes: low confidence | 3 |")
	assert.Contains(t, out, "`ridge_regression` scored 0.812 (threshold 0.70, passed)")
	assert.Contains(t, out, "- **warning** [partial_failure] train: 1 of 3 branches failed")
}

func TestFieldsMarkdown(t *testing.T) {
	state, err := domain.NewState(map[string]any{"a": map[string]int{"x": 1}, "b": "two"})
	require.NoError(t, err)

	out := FieldsMarkdown(state, "a", "missing")
	assert.Contains(t, out, "### a\n\n```json\n{\n  \"x\": 1\n}\n```")
	assert.NotContains(t, out, "### b")
	assert.NotContains(t, out, "missing")
}

func TestRunsMarkdown(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := RunsMarkdown([]*domain.RunRecord{
		{RunID: "old", Status: domain.StatusCompleted, UpdatedAt: now.Add(-time.Hour)},
		{RunID: "new", Status: domain.StatusAwaitingApproval, CurrentNode: "review", UpdatedAt: now},
	})
	assert.Less(t, strings.Index(out, "`new`"), strings.Index(out, "`old`"))
	assert.Contains(t, out, "| `new` | awaiting_approval | review | 2026-03-01 12:00:00 |")
	assert.Contains(t, out, "| `old` | completed | - |")
	assert.Equal(t, "_No runs._\n", RunsMarkdown(nil))
}

func TestPlainRenderer(t *testing.T) {
	r := NewRenderer(nil)
	out, err := r("# title")
	require.NoError(t, err)
	assert.Equal(t, "# title", out)
}
