package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// RunStatus is the executor state of a run.
type RunStatus string

const (
	StatusPending          RunStatus = "pending"
	StatusRunning          RunStatus = "running"
	StatusAwaitingApproval RunStatus = "awaiting_approval"
	StatusCompleted        RunStatus = "completed"
	StatusFailed           RunStatus = "failed"
	StatusCancelled        RunStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s RunStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsResting reports whether the run is not executing any node.
func (s RunStatus) IsResting() bool {
	return s.IsTerminal() || s == StatusAwaitingApproval
}

// RunRecord is the externally visible status of a run.
type RunRecord struct {
	RunID       string         `json:"run_id"`
	Status      RunStatus      `json:"status"`
	CurrentNode string         `json:"current_node,omitempty"`
	History     []string       `json:"history,omitempty"`
	Log         []LogEntry     `json:"log,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
	State       State          `json:"state"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Errors returns the log entries graded error or fatal.
func (r RunRecord) Errors() []LogEntry {
	return r.filter(SeverityError, SeverityFatal)
}

// Warnings returns the log entries graded warning.
func (r RunRecord) Warnings() []LogEntry {
	return r.filter(SeverityWarning)
}

func (r RunRecord) filter(levels ...Severity) []LogEntry {
	var out []LogEntry
	for _, e := range r.Log {
		for _, l := range levels {
			if e.Severity == l {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// RunCheckpoint is the durable snapshot of a paused run.
type RunCheckpoint struct {
	RunID      string     `json:"run_id"`
	NodeName   string     `json:"node_name"`
	State      State      `json:"state"`
	CreatedAt  time.Time  `json:"created_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

// Consumed reports whether the checkpoint was already used by resume.
func (c RunCheckpoint) Consumed() bool {
	return c.ConsumedAt != nil
}

// Question is one item of a review session.
type Question struct {
	ID          string   `json:"id" mapstructure:"id"`
	Text        string   `json:"text" mapstructure:"text"`
	Options     []string `json:"options,omitempty" mapstructure:"options"`
	Recommended string   `json:"recommended,omitempty" mapstructure:"recommended"`
}

// ReviewSession holds the questions a barrier asks and the human answers.
type ReviewSession struct {
	RunID     string            `json:"run_id"`
	Node      string            `json:"node"`
	Questions []Question        `json:"questions"`
	Answers   map[string]string `json:"answers,omitempty"`
	Approved  *bool             `json:"approved,omitempty"`
	Feedback  string            `json:"feedback,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	DecidedAt *time.Time        `json:"decided_at,omitempty"`
}

// Decided reports whether the approval flag was set.
func (r ReviewSession) Decided() bool {
	return r.Approved != nil
}

// Validate checks that every answer targets a known question and, when the
// question lists options, is one of them.
func (r ReviewSession) Validate(a Approval) error {
	byID := make(map[string]Question, len(r.Questions))
	for _, q := range r.Questions {
		byID[q.ID] = q
	}
	for id, answer := range a.Answers {
		q, ok := byID[id]
		if !ok {
			return fmt.Errorf("%w: unknown question %q", ErrInvalidApproval, id)
		}
		if len(q.Options) == 0 {
			continue
		}
		valid := false
		for _, o := range q.Options {
			if o == answer {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("%w: answer %q to %q is not one of %v", ErrInvalidApproval, answer, id, q.Options)
		}
	}
	return nil
}

// Resolve returns the approval answers with unanswered questions set to their
// recommended option.
func (r ReviewSession) Resolve(a Approval) map[string]string {
	answers := make(map[string]string, len(r.Questions))
	for _, q := range r.Questions {
		if v, ok := a.Answers[q.ID]; ok {
			answers[q.ID] = v
		} else if q.Recommended != "" {
			answers[q.ID] = q.Recommended
		}
	}
	return answers
}

// Decide records the approval. A decided session is never mutated again.
func (r *ReviewSession) Decide(a Approval, at time.Time) error {
	if r.Decided() {
		return ErrReviewClosed
	}
	approved := a.Approved
	r.Approved = &approved
	r.Answers = r.Resolve(a)
	r.Feedback = a.Feedback
	r.DecidedAt = &at
	return nil
}

// Approval is the payload submitted to resume a paused run.
type Approval struct {
	Approved bool              `json:"approved" mapstructure:"approved"`
	Answers  map[string]string `json:"answers,omitempty" mapstructure:"answers"`
	Feedback string            `json:"feedback,omitempty" mapstructure:"feedback"`
}

// AgentDecision is the record the decision adapter leaves in State.
type AgentDecision struct {
	Agent          string          `json:"agent"`
	Decision       json.RawMessage `json:"decision"`
	Confidence     float64         `json:"confidence"`
	Reasoning      string          `json:"reasoning,omitempty"`
	UsedFallback   bool            `json:"used_fallback"`
	FallbackReason string          `json:"fallback_reason,omitempty"`
	Attempts       int             `json:"attempts"`
	PromptRef      string          `json:"prompt_ref,omitempty"`
	ResponseRef    string          `json:"response_ref,omitempty"`
}

// TaskKind is the learning problem type.
type TaskKind string

const (
	TaskClassification TaskKind = "classification"
	TaskRegression     TaskKind = "regression"
)

// PipelineConfig is the configuration derived from the task description.
type PipelineConfig struct {
	Target         string   `json:"target" mapstructure:"target"`
	TaskKind       TaskKind `json:"task_kind" mapstructure:"task_kind"`
	TestSize       float64  `json:"test_size" mapstructure:"test_size"`
	ValidationSize float64  `json:"validation_size" mapstructure:"validation_size"`
}

// Preprocessing describes the data preparation strategy.
type Preprocessing struct {
	MissingValues string `json:"missing_values" mapstructure:"missing_values"`
	Scaling       string `json:"scaling" mapstructure:"scaling"`
	Encoding      string `json:"encoding" mapstructure:"encoding"`
}

// DatasetProfile summarises the dataset behind a data location.
type DatasetProfile struct {
	Location string            `json:"location"`
	Rows     int               `json:"rows"`
	Columns  []string          `json:"columns"`
	Types    map[string]string `json:"types,omitempty"`
	Missing  map[string]int    `json:"missing,omitempty"`
}

// HasColumn reports whether the profile lists the column.
func (p DatasetProfile) HasColumn(name string) bool {
	for _, c := range p.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// TrainingPlan is the reviewed plan the training fan-out executes.
type TrainingPlan struct {
	Target        string        `json:"target"`
	TaskKind      TaskKind      `json:"task_kind"`
	TestSize      float64       `json:"test_size"`
	Algorithms    []string      `json:"algorithms"`
	Preprocessing Preprocessing `json:"preprocessing"`
}

// TrainRequest is handed to the training collaborator for one algorithm.
type TrainRequest struct {
	Algorithm      string           `json:"algorithm"`
	DataLocation   string           `json:"data_location"`
	Target         string           `json:"target"`
	TaskKind       TaskKind         `json:"task_kind"`
	TestSize       float64          `json:"test_size"`
	Preprocessing  Preprocessing    `json:"preprocessing"`
	HyperparamGrid map[string][]any `json:"hyperparam_grid,omitempty"`
}

// AlgorithmResult is produced by one training branch.
type AlgorithmResult struct {
	Name                 string             `json:"name"`
	TrainedModelRef      string             `json:"trained_model_ref"`
	BestHyperparameters  map[string]any     `json:"best_hyperparameters,omitempty"`
	CrossValidationScore float64            `json:"cross_validation_score"`
	TestMetrics          map[string]float64 `json:"test_metrics,omitempty"`
	TrainingDurationMs   int64              `json:"training_duration_ms"`
}

// Monitoring is the evaluation of the selected model.
type Monitoring struct {
	Model     string  `json:"model"`
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
	Passed    bool    `json:"passed"`
}
