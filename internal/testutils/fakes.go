package testutils

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/conduit/pkg/domain"
)

// ErrUnreachable is what ScriptedClient returns when its script is exhausted
// or a step is marked unreachable.
var ErrUnreachable = errors.New("reasoning service unreachable")

// Reply is one scripted model answer.
type Reply struct {
	Text string
	Err  error
}

// ScriptedClient is a ReasoningClient answering from a script.
// Replies are consumed in order; Fallback answers once the script is spent.
type ScriptedClient struct {
	mu       sync.Mutex
	script   []Reply
	Fallback *Reply
	prompts  []string
}

// NewScriptedClient creates a client answering texts in order.
func NewScriptedClient(texts ...string) *ScriptedClient {
	c := &ScriptedClient{}
	for _, t := range texts {
		c.script = append(c.script, Reply{Text: t})
	}
	return c
}

// Always answers every prompt with text.
func Always(text string) *ScriptedClient {
	return &ScriptedClient{Fallback: &Reply{Text: text}}
}

// Unreachable fails every call.
func Unreachable() *ScriptedClient {
	return &ScriptedClient{Fallback: &Reply{Err: ErrUnreachable}}
}

// Push appends a reply to the script.
func (c *ScriptedClient) Push(r Reply) *ScriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script = append(c.script, r)
	return c
}

// InvokeModel implements ports.ReasoningClient.
func (c *ScriptedClient) InvokeModel(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, prompt)
	var r Reply
	switch {
	case len(c.script) > 0:
		r = c.script[0]
		c.script = c.script[1:]
	case c.Fallback != nil:
		r = *c.Fallback
	default:
		return "", ErrUnreachable
	}
	return r.Text, r.Err
}

// Calls returns how many prompts were sent.
func (c *ScriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prompts)
}

// Prompts returns the prompts sent so far.
func (c *ScriptedClient) Prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompts...)
}

// RoutedClient answers by looking for a marker in the prompt.
// It lets a single client serve every agent of a pipeline.
type RoutedClient struct {
	mu     sync.Mutex
	routes []route
	calls  map[string]int
}

type route struct {
	marker string
	client *ScriptedClient
}

// NewRoutedClient creates an empty router.
func NewRoutedClient() *RoutedClient {
	return &RoutedClient{calls: make(map[string]int)}
}

// On routes prompts containing marker to client. First registered match wins.
func (r *RoutedClient) On(marker string, client *ScriptedClient) *RoutedClient {
	r.routes = append(r.routes, route{marker: marker, client: client})
	return r
}

// InvokeModel implements ports.ReasoningClient.
func (r *RoutedClient) InvokeModel(ctx context.Context, prompt string) (string, error) {
	for _, rt := range r.routes {
		if containsFold(prompt, rt.marker) {
			r.mu.Lock()
			r.calls[rt.marker]++
			r.mu.Unlock()
			return rt.client.InvokeModel(ctx, prompt)
		}
	}
	return "", fmt.Errorf("%w: no route for prompt", ErrUnreachable)
}

// Calls returns how many prompts matched marker.
func (r *RoutedClient) Calls(marker string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[marker]
}

// Sleeper records requested delays without waiting.
type Sleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

// Sleep implements retry.SleepFunc.
func (s *Sleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

// Delays returns the recorded delays.
func (s *Sleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// Trainer is a fake training collaborator.
// Scores maps algorithm names to the cross-validation score returned;
// Failures maps algorithm names to the error returned.
// Hangs maps algorithm names to a number of first attempts that block until
// their context is done.
type Trainer struct {
	Profiles map[string]domain.DatasetProfile
	Scores   map[string]float64
	Failures map[string]error
	Hangs    map[string]int
	Delay    time.Duration

	mu       sync.Mutex
	requests []domain.TrainRequest
}

// NewTrainer creates a trainer knowing one dataset.
func NewTrainer(location string, profile domain.DatasetProfile) *Trainer {
	profile.Location = location
	return &Trainer{
		Profiles: map[string]domain.DatasetProfile{location: profile},
		Scores:   make(map[string]float64),
		Failures: make(map[string]error),
		Hangs:    make(map[string]int),
	}
}

// Profile implements ports.Trainer.
func (t *Trainer) Profile(ctx context.Context, location string) (domain.DatasetProfile, error) {
	p, ok := t.Profiles[location]
	if !ok {
		return domain.DatasetProfile{}, fmt.Errorf("dataset %q not found", location)
	}
	return p, nil
}

// Train implements ports.Trainer.
func (t *Trainer) Train(ctx context.Context, req domain.TrainRequest) (domain.AlgorithmResult, error) {
	t.mu.Lock()
	t.requests = append(t.requests, req)
	hang := t.Hangs[req.Algorithm] > 0
	if hang {
		t.Hangs[req.Algorithm]--
	}
	t.mu.Unlock()

	if hang {
		<-ctx.Done()
		return domain.AlgorithmResult{}, ctx.Err()
	}
	if t.Delay > 0 {
		select {
		case <-ctx.Done():
			return domain.AlgorithmResult{}, ctx.Err()
		case <-time.After(t.Delay):
		}
	}
	if err := t.Failures[req.Algorithm]; err != nil {
		return domain.AlgorithmResult{}, err
	}
	score, ok := t.Scores[req.Algorithm]
	if !ok {
		score = 0.5
	}
	return domain.AlgorithmResult{
		Name:                 req.Algorithm,
		TrainedModelRef:      "models/" + req.Algorithm + ".bin",
		CrossValidationScore: score,
		TestMetrics:          map[string]float64{"score": score},
		TrainingDurationMs:   t.Delay.Milliseconds(),
	}, nil
}

// Trained returns the algorithms train was called with, sorted.
func (t *Trainer) Trained() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.requests))
	for _, r := range t.requests {
		out = append(out, r.Algorithm)
	}
	sort.Strings(out)
	return out
}

// Tracker records every call in memory.
type Tracker struct {
	mu        sync.Mutex
	Params    map[string]map[string]any
	Metrics   map[string]map[string]float64
	Artifacts map[string]map[string]string
	Err       error
}

// NewTracker creates an empty recording tracker.
func NewTracker() *Tracker {
	return &Tracker{
		Params:    make(map[string]map[string]any),
		Metrics:   make(map[string]map[string]float64),
		Artifacts: make(map[string]map[string]string),
	}
}

func (t *Tracker) LogParams(_ context.Context, runID string, params map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Err != nil {
		return t.Err
	}
	if t.Params[runID] == nil {
		t.Params[runID] = make(map[string]any)
	}
	for k, v := range params {
		t.Params[runID][k] = v
	}
	return nil
}

func (t *Tracker) LogMetrics(_ context.Context, runID string, metrics map[string]float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Err != nil {
		return t.Err
	}
	if t.Metrics[runID] == nil {
		t.Metrics[runID] = make(map[string]float64)
	}
	for k, v := range metrics {
		t.Metrics[runID][k] = v
	}
	return nil
}

func (t *Tracker) LogArtifact(_ context.Context, runID, name, ref string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Err != nil {
		return t.Err
	}
	if t.Artifacts[runID] == nil {
		t.Artifacts[runID] = make(map[string]string)
	}
	t.Artifacts[runID][name] = ref
	return nil
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
