package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/aretw0/conduit/internal/logging"
	"github.com/aretw0/conduit/pkg/domain"
	"github.com/aretw0/conduit/pkg/ports"
	"github.com/aretw0/conduit/pkg/retry"
)

// DefaultThreshold is the minimum accepted confidence.
const DefaultThreshold = 0.70

// Parsed is a decision read from a model reply.
type Parsed[Out any] struct {
	Decision   Out
	Confidence float64
	Reasoning  string
}

// Adapter is the capability every concrete agent implements.
type Adapter[In, Out any] interface {
	Name() string
	// BuildPrompt must be deterministic for a given input.
	BuildPrompt(in In) (string, error)
	// ParseResponse validates required keys and ranges of the reply.
	ParseResponse(text string) (Parsed[Out], error)
	// DefaultDecision returns domain.ErrNoSafeDefault when no fallback exists.
	DefaultDecision(in In) (Out, error)
}

// Checker is implemented by adapters whose replies must agree with the input
// (e.g. a target column that exists in the dataset). Check may complete fields
// the reply omitted. A failed check counts as a parse failure.
type Checker[In, Out any] interface {
	Check(in In, out *Out) error
}

// Result is the outcome of Invoke.
type Result[Out any] struct {
	Decision Out
	Record   domain.AgentDecision
}

// Invoker carries what every agent call shares.
type Invoker struct {
	client     ports.ReasoningClient
	policy     retry.Policy
	threshold  float64
	prompts    ports.PromptSource
	transcript *Transcript
	logger     *slog.Logger
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithPolicy sets the retry policy of every call.
func WithPolicy(p retry.Policy) Option {
	return func(i *Invoker) { i.policy = p }
}

// WithThreshold sets the default confidence threshold.
func WithThreshold(t float64) Option {
	return func(i *Invoker) { i.threshold = t }
}

// WithPrompts lets a prompt library override built-in prompts.
// Templates are rendered with text/template against the agent input.
func WithPrompts(src ports.PromptSource) Option {
	return func(i *Invoker) { i.prompts = src }
}

// WithTranscript sets where raw prompts and replies are kept.
func WithTranscript(t *Transcript) Option {
	return func(i *Invoker) { i.transcript = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Invoker) { i.logger = l }
}

// NewInvoker creates an Invoker around a reasoning client.
func NewInvoker(client ports.ReasoningClient, opts ...Option) *Invoker {
	inv := &Invoker{
		client:     client,
		policy:     retry.DefaultPolicy(),
		threshold:  DefaultThreshold,
		transcript: NewTranscript(DefaultTranscriptSize),
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Threshold returns the confidence threshold in effect.
func (inv *Invoker) Threshold() float64 {
	return inv.threshold
}

// Transcript returns the store of raw prompts and replies.
func (inv *Invoker) Transcript() *Transcript {
	return inv.transcript
}

// WithThreshold returns a copy of the invoker gating on t. Values outside
// (0,1] are ignored.
func (inv *Invoker) WithThreshold(t float64) *Invoker {
	if t <= 0 || t > 1 {
		return inv
	}
	cp := *inv
	cp.threshold = t
	return &cp
}

type outcomeKind int

const (
	outcomeAccepted outcomeKind = iota
	outcomeTransient
	outcomeParseFailure
	outcomeLowConfidence
)

func (k outcomeKind) String() string {
	switch k {
	case outcomeAccepted:
		return "accepted"
	case outcomeTransient:
		return "transient"
	case outcomeParseFailure:
		return "parse_failure"
	case outcomeLowConfidence:
		return "low_confidence"
	}
	return "unknown"
}

// attemptOutcome is the typed result of one call to the model.
type attemptOutcome[Out any] struct {
	kind        outcomeKind
	parsed      Parsed[Out]
	err         error
	responseRef string
}

func (o attemptOutcome[Out]) reason(threshold float64) string {
	switch o.kind {
	case outcomeLowConfidence:
		return fmt.Sprintf("low confidence %.2f < %.2f", o.parsed.Confidence, threshold)
	case outcomeAccepted:
		return ""
	default:
		return fmt.Sprintf("%s: %v", o.kind, o.err)
	}
}

var errRejected = errors.New("attempt rejected")

// Invoke runs the adapter: prompt, call, parse, gate; retried under the
// invoker policy. When no attempt is accepted it returns the adapter default
// with UsedFallback set and no error, including when a deadline on ctx runs
// out between attempts. It fails only when ctx is cancelled or the adapter has
// no safe default.
func Invoke[In, Out any](ctx context.Context, inv *Invoker, a Adapter[In, Out], in In) (Result[Out], error) {
	name := a.Name()
	prompt, err := render(inv, a, in)
	if err != nil {
		return Result[Out]{}, fmt.Errorf("agent %q: build prompt: %w", name, err)
	}
	promptRef := inv.transcript.Put(prompt)

	var (
		last     attemptOutcome[Out]
		attempts int
	)
	err = retry.Do(ctx, inv.policy, func(ctx context.Context, attempt int) error {
		attempts = attempt + 1
		last = attemptOnce(ctx, inv, a, in, prompt)
		if last.kind == outcomeAccepted {
			return nil
		}
		inv.logger.Warn("Agent attempt rejected",
			"agent", name,
			"attempt", attempt,
			"outcome", last.kind.String(),
			"err", last.err,
		)
		return fmt.Errorf("%w: %s", errRejected, last.reason(inv.threshold))
	})

	if err == nil {
		return accept(inv, name, last, attempts, promptRef)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return Result[Out]{}, fmt.Errorf("agent %q: %w", name, ctx.Err())
	}
	if attempts == 0 {
		last = attemptOutcome[Out]{kind: outcomeTransient, err: err}
	}
	return fallback(inv, a, in, last, attempts, promptRef)
}

func attemptOnce[In, Out any](ctx context.Context, inv *Invoker, a Adapter[In, Out], in In, prompt string) attemptOutcome[Out] {
	text, err := inv.client.InvokeModel(ctx, prompt)
	if err != nil {
		return attemptOutcome[Out]{kind: outcomeTransient, err: err}
	}
	out := attemptOutcome[Out]{responseRef: inv.transcript.Put(text)}

	parsed, err := a.ParseResponse(text)
	if err == nil {
		if c, ok := a.(Checker[In, Out]); ok {
			err = c.Check(in, &parsed.Decision)
		}
	}
	if err == nil && (parsed.Confidence < 0 || parsed.Confidence > 1) {
		err = fmt.Errorf("confidence %v outside [0,1]", parsed.Confidence)
	}
	if err != nil {
		out.kind = outcomeParseFailure
		out.err = err
		return out
	}

	out.parsed = parsed
	if parsed.Confidence < inv.threshold {
		out.kind = outcomeLowConfidence
		return out
	}
	out.kind = outcomeAccepted
	return out
}

func accept[Out any](inv *Invoker, name string, o attemptOutcome[Out], attempts int, promptRef string) (Result[Out], error) {
	raw, err := json.Marshal(o.parsed.Decision)
	if err != nil {
		return Result[Out]{}, fmt.Errorf("agent %q: encode decision: %w", name, err)
	}
	return Result[Out]{
		Decision: o.parsed.Decision,
		Record: domain.AgentDecision{
			Agent:       name,
			Decision:    raw,
			Confidence:  o.parsed.Confidence,
			Reasoning:   o.parsed.Reasoning,
			Attempts:    attempts,
			PromptRef:   promptRef,
			ResponseRef: o.responseRef,
		},
	}, nil
}

func fallback[In, Out any](inv *Invoker, a Adapter[In, Out], in In, last attemptOutcome[Out], attempts int, promptRef string) (Result[Out], error) {
	name := a.Name()
	reason := last.reason(inv.threshold)

	def, err := a.DefaultDecision(in)
	if err != nil {
		cause := last.err
		if cause == nil {
			cause = errors.New(reason)
		}
		if !errors.Is(err, domain.ErrNoSafeDefault) {
			cause = errors.Join(cause, err)
		}
		return Result[Out]{}, &domain.AgentFailureError{Agent: name, Attempts: attempts, Cause: cause}
	}

	raw, err := json.Marshal(def)
	if err != nil {
		return Result[Out]{}, fmt.Errorf("agent %q: encode default: %w", name, err)
	}
	inv.logger.Warn("Agent fell back to default decision", "agent", name, "attempts", attempts, "reason", reason)
	return Result[Out]{
		Decision: def,
		Record: domain.AgentDecision{
			Agent:          name,
			Decision:       raw,
			Confidence:     0,
			Reasoning:      "default decision",
			UsedFallback:   true,
			FallbackReason: reason,
			Attempts:       attempts,
			PromptRef:      promptRef,
			ResponseRef:    last.responseRef,
		},
	}, nil
}

// render prefers a library template over the adapter's built-in prompt.
func render[In, Out any](inv *Invoker, a Adapter[In, Out], in In) (string, error) {
	if inv.prompts != nil {
		if text, err := inv.prompts.GetPrompt(a.Name()); err == nil && strings.TrimSpace(text) != "" {
			tmpl, err := template.New(a.Name()).Funcs(template.FuncMap{
				"join": strings.Join,
			}).Option("missingkey=error").Parse(text)
			if err != nil {
				return "", fmt.Errorf("parse prompt template: %w", err)
			}
			var buf bytes.Buffer
			if err := tmpl.Execute(&buf, in); err != nil {
				return "", fmt.Errorf("render prompt template: %w", err)
			}
			return strings.TrimSpace(buf.String()), nil
		}
	}
	return a.BuildPrompt(in)
}
