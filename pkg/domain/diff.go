package domain

import (
	"bytes"
	"encoding/json"
)

// RunDiff represents the changes between two snapshots of a run record.
// It is designed to be serialized to JSON for partial updates on the client.
type RunDiff struct {
	// RunID is always present to identify the target.
	RunID string `json:"run_id"`

	CurrentNode *string    `json:"current_node,omitempty"`
	Status      *RunStatus `json:"status,omitempty"`

	// HistoryAppended contains nodes visited since the old snapshot.
	HistoryAppended []string `json:"history,omitempty"`

	// LogAppended contains log entries added since the old snapshot.
	// The log is append-only, so a shorter new log is ignored.
	LogAppended []LogEntry `json:"log,omitempty"`

	// Fields holds State fields that were added or rewritten.
	Fields map[string]json.RawMessage `json:"fields,omitempty"`
}

// Diff calculates the difference between two run records.
// If oldRec is nil, it returns a diff representing the entire newRec (initial load).
// It returns nil when nothing changed.
func Diff(oldRec, newRec *RunRecord) *RunDiff {
	if newRec == nil {
		return nil
	}

	diff := &RunDiff{RunID: newRec.RunID}

	if oldRec == nil || oldRec.CurrentNode != newRec.CurrentNode {
		node := newRec.CurrentNode
		diff.CurrentNode = &node
	}
	if oldRec == nil || oldRec.Status != newRec.Status {
		status := newRec.Status
		diff.Status = &status
	}

	var oldHistory, oldLog int
	if oldRec != nil {
		oldHistory, oldLog = len(oldRec.History), len(oldRec.Log)
	}
	if len(newRec.History) > oldHistory {
		diff.HistoryAppended = newRec.History[oldHistory:]
	}
	if len(newRec.Log) > oldLog {
		diff.LogAppended = newRec.Log[oldLog:]
	}

	for _, k := range newRec.State.Keys() {
		v, _ := newRec.State.Get(k)
		if oldRec != nil {
			if ov, ok := oldRec.State.Get(k); ok && bytes.Equal(ov, v) {
				continue
			}
		}
		if diff.Fields == nil {
			diff.Fields = make(map[string]json.RawMessage)
		}
		diff.Fields[k] = v
	}

	if diff.IsEmpty() {
		return nil
	}
	return diff
}

// IsEmpty checks if the diff contains any actionable changes.
func (d *RunDiff) IsEmpty() bool {
	return d.CurrentNode == nil &&
		d.Status == nil &&
		len(d.HistoryAppended) == 0 &&
		len(d.LogAppended) == 0 &&
		len(d.Fields) == 0
}
