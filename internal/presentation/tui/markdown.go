package tui

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/aretw0/conduit/pkg/domain"
)

// ReviewMarkdown describes a review session for a human approver.
func ReviewMarkdown(rs *domain.ReviewSession) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Review `%s`\n\n", rs.RunID)
	fmt.Fprintf(&sb, "Paused at **%s**.\n\n", rs.Node)
	for i, q := range rs.Questions {
		fmt.Fprintf(&sb, "%d. **%s** (`%s`)\n", i+1, q.Text, q.ID)
		for _, o := range q.Options {
			marker := ""
			if o == q.Recommended {
				marker = " _(recommended)_"
			}
			fmt.Fprintf(&sb, "   - `%s`%s\n", o, marker)
		}
		if len(q.Options) == 0 && q.Recommended != "" {
			fmt.Fprintf(&sb, "   - recommended: `%s`\n", q.Recommended)
		}
	}
	if rs.Decided() {
		verdict := "rejected"
		if *rs.Approved {
			verdict = "approved"
		}
		fmt.Fprintf(&sb, "\nDecision: **%s**\n", verdict)
		for _, id := range sortedKeys(rs.Answers) {
			fmt.Fprintf(&sb, "- %s: `%s`\n", id, rs.Answers[id])
		}
		if rs.Feedback != "" {
			fmt.Fprintf(&sb, "\n> %s\n", rs.Feedback)
		}
	}
	return sb.String()
}

// RunMarkdown summarises a run record: status, path, log and decisions.
func RunMarkdown(rec *domain.RunRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Run `%s`\n\n", rec.RunID)
	fmt.Fprintf(&sb, "| Status | Node | Updated |\n|---|---|---|\n| %s | %s | %s |\n\n",
		rec.Status, orDash(rec.CurrentNode), rec.UpdatedAt.Format("2006-01-02 15:04:05"))

	if len(rec.History) > 0 {
		fmt.Fprintf(&sb, "**Path:** %s\n\n", strings.Join(rec.History, " → "))
	}

	var decisions []domain.AgentDecision
	for _, k := range rec.State.Keys() {
		if !strings.HasPrefix(k, "decisions.") {
			continue
		}
		if d, ok, err := domain.Decode[domain.AgentDecision](rec.State, k); ok && err == nil {
			decisions = append(decisions, d)
		}
	}
	if len(decisions) > 0 {
		sb.WriteString("## Decisions\n\n| Agent | Confidence | Fallback | Attempts |\n|---|---|---|---|\n")
		for _, d := range decisions {
			fallback := "no"
			if d.UsedFallback {
				fallback = "yes: " + d.FallbackReason
			}
			fmt.Fprintf(&sb, "| %s | %.2f | %s | %d |\n", d.Agent, d.Confidence, fallback, d.Attempts)
		}
		sb.WriteString("\n")
	}

	if m, ok, err := domain.Decode[domain.Monitoring](rec.State, domain.FieldMonitoring); ok && err == nil {
		verdict := "below threshold"
		if m.Passed {
			verdict = "passed"
		}
		fmt.Fprintf(&sb, "**Model:** `%s` scored %.3f (threshold %.2f, %s)\n\n", m.Model, m.Score, m.Threshold, verdict)
	}

	if len(rec.Log) > 0 {
		sb.WriteString("## Log\n\n")
		for _, e := range rec.Log {
			kind := ""
			if e.Kind != "" {
				kind = " [" + string(e.Kind) + "]"
			}
			fmt.Fprintf(&sb, "- **%s**%s %s: %s\n", e.Severity, kind, orDash(e.Node), e.Message)
		}
	}
	return sb.String()
}

// FieldsMarkdown lists State fields as indented JSON blocks.
func FieldsMarkdown(s domain.State, only ...string) string {
	var sb strings.Builder
	keys := s.Keys()
	if len(only) > 0 {
		keys = only
	}
	for _, k := range keys {
		raw, ok := s.Get(k)
		if !ok {
			continue
		}
		var v any
		pretty := string(raw)
		if json.Unmarshal(raw, &v) == nil {
			if b, err := json.MarshalIndent(v, "", "  "); err == nil {
				pretty = string(b)
			}
		}
		fmt.Fprintf(&sb, "### %s\n\n```json\n%s\n```\n\n", k, pretty)
	}
	return sb.String()
}

// RunsMarkdown lists runs as a table, most recently updated first.
func RunsMarkdown(recs []*domain.RunRecord) string {
	if len(recs) == 0 {
		return "_No runs._\n"
	}
	sorted := slices.Clone(recs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].UpdatedAt.After(sorted[j].UpdatedAt)
	})
	var sb strings.Builder
	sb.WriteString("| Run | Status | Node | Updated |\n|---|---|---|---|\n")
	for _, r := range sorted {
		fmt.Fprintf(&sb, "| `%s` | %s | %s | %s |\n",
			r.RunID, r.Status, orDash(r.CurrentNode), r.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return sb.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
