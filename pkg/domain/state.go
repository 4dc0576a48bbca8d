package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Standard state fields written by the ML pipeline.
const (
	FieldTask                = "task"
	FieldDataLocation        = "data_location"
	FieldConfidenceThreshold = "confidence_threshold"
	FieldDatasetProfile      = "dataset_profile"
	FieldPipelineConfig      = "pipeline_config"
	FieldPreprocessing       = "preprocessing"
	FieldAlgorithms          = "algorithms"
	FieldReviewQuestions     = "review_questions"
	FieldReviewAnswers       = "review_answers"
	FieldReviewApproved      = "review_approved"
	FieldReviewFeedback      = "review_feedback"
	FieldTrainingPlan        = "training_plan"
	FieldAlgorithmResults    = "algorithm_results"
	FieldBestModel           = "best_model"
	FieldMonitoring          = "monitoring"
	FieldRegisteredModel     = "registered_model"
)

// DecisionField returns the field holding the latest decision of an agent.
func DecisionField(agent string) string {
	return "decisions." + agent
}

// Severity grades a log entry.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityFatal   Severity = "fatal"
)

// LogEntry is one line of the run's error/warning log.
type LogEntry struct {
	Node     string    `json:"node,omitempty"`
	Severity Severity  `json:"severity"`
	Kind     ErrorKind `json:"kind,omitempty"`
	Message  string    `json:"message"`
	Time     time.Time `json:"time"`
}

// State is the value carried through the graph.
// Field values are kept JSON-encoded so that a snapshot round-trips
// byte-for-byte through any store. The zero value is an empty State.
// A State is never mutated in place: With and Apply return a copy.
type State struct {
	fields map[string]json.RawMessage
	log    []LogEntry
}

// NewState creates a State from caller input.
func NewState(fields map[string]any) (State, error) {
	return State{}.With(fields)
}

// Get returns the encoded value of a field.
func (s State) Get(field string) (json.RawMessage, bool) {
	v, ok := s.fields[field]
	return v, ok
}

// Has reports whether the field is present.
func (s State) Has(field string) bool {
	_, ok := s.fields[field]
	return ok
}

// Keys returns the present field names, sorted.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s.fields))
	for k := range s.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Log returns a copy of the accumulated log.
func (s State) Log() []LogEntry {
	out := make([]LogEntry, len(s.log))
	copy(out, s.log)
	return out
}

// With returns a new State with the given fields set.
func (s State) With(fields map[string]any) (State, error) {
	next := s.clone()
	for k, v := range fields {
		raw, err := encodeValue(v)
		if err != nil {
			return State{}, fmt.Errorf("field %q: %w", k, err)
		}
		next.fields[k] = raw
	}
	return next, nil
}

// WithLog returns a new State with the entries appended to the log.
func (s State) WithLog(entries ...LogEntry) State {
	next := s.clone()
	next.log = append(next.log, entries...)
	return next
}

// Apply returns a new State with the patch applied.
func (s State) Apply(p Patch) (State, error) {
	next, err := s.With(p.Fields)
	if err != nil {
		return State{}, err
	}
	return next.WithLog(p.Log...), nil
}

// Equal reports whether both states hold the same fields and log.
func (s State) Equal(other State) bool {
	if len(s.fields) != len(other.fields) || len(s.log) != len(other.log) {
		return false
	}
	for k, v := range s.fields {
		ov, ok := other.fields[k]
		if !ok || !bytes.Equal(v, ov) {
			return false
		}
	}
	for i := range s.log {
		a, b := s.log[i], other.log[i]
		if a.Node != b.Node || a.Severity != b.Severity || a.Kind != b.Kind ||
			a.Message != b.Message || !a.Time.Equal(b.Time) {
			return false
		}
	}
	return true
}

func (s State) clone() State {
	next := State{
		fields: make(map[string]json.RawMessage, len(s.fields)),
		log:    make([]LogEntry, len(s.log)),
	}
	for k, v := range s.fields {
		next.fields[k] = v
	}
	copy(next.log, s.log)
	return next
}

type stateJSON struct {
	Fields map[string]json.RawMessage `json:"fields"`
	Log    []LogEntry                 `json:"log,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	fields := s.fields
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	return json.Marshal(stateJSON{Fields: fields, Log: s.log})
}

// UnmarshalJSON implements json.Unmarshaler.
// Values are compacted so indented encodings (e.g. file stores) load back identically.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw stateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.fields = make(map[string]json.RawMessage, len(raw.Fields))
	for k, v := range raw.Fields {
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
		s.fields[k] = json.RawMessage(buf.Bytes())
	}
	s.log = raw.Log
	return nil
}

// Decode reads a field into a typed value.
// ok is false when the field is absent.
func Decode[T any](s State, field string) (value T, ok bool, err error) {
	raw, ok := s.Get(field)
	if !ok {
		return value, false, nil
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return value, true, &DecodeError{Field: field, Err: err}
	}
	return value, true, nil
}

func encodeValue(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return nil, err
		}
		return json.RawMessage(buf.Bytes()), nil
	}
	return json.Marshal(v)
}

// Patch is the set of writes a node hands back to the executor.
type Patch struct {
	Fields map[string]any
	Log    []LogEntry
}

// NewPatch creates an empty patch.
func NewPatch() *Patch {
	return &Patch{Fields: make(map[string]any)}
}

// Set records a field write.
func (p *Patch) Set(field string, value any) *Patch {
	if p.Fields == nil {
		p.Fields = make(map[string]any)
	}
	p.Fields[field] = value
	return p
}

// Warn appends a warning entry.
func (p *Patch) Warn(kind ErrorKind, format string, args ...any) *Patch {
	p.Log = append(p.Log, LogEntry{
		Severity: SeverityWarning,
		Kind:     kind,
		Message:  fmt.Sprintf(format, args...),
		Time:     time.Now().UTC(),
	})
	return p
}

// Info appends an informational entry.
func (p *Patch) Info(format string, args ...any) *Patch {
	p.Log = append(p.Log, LogEntry{
		Severity: SeverityInfo,
		Message:  fmt.Sprintf(format, args...),
		Time:     time.Now().UTC(),
	})
	return p
}
