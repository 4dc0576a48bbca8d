// Package process implements ports.Trainer by running allow-listed local
// commands. A command receives one JSON request on stdin and answers with one
// JSON document on stdout; a non-zero exit status is a failure.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/aretw0/conduit/pkg/domain"
	"github.com/aretw0/conduit/pkg/ports"
)

// Operations sent in the request envelope and in CONDUIT_OP.
const (
	OpProfile = "profile"
	OpTrain   = "train"
)

// ErrNotRegistered is returned when no command handles a request.
var ErrNotRegistered = errors.New("no registered command")

// Request is written to the command's stdin.
type Request struct {
	Op           string               `json:"op"`
	DataLocation string               `json:"data_location,omitempty"`
	Train        *domain.TrainRequest `json:"train,omitempty"`
}

// Trainer runs external commands following a Strict Registry pattern for
// security (Allow-Listing): only configured commands are ever executed.
type Trainer struct {
	profiler  *ProcessConfig
	byAlg     map[string]ProcessConfig
	fallback  *ProcessConfig
	baseDir   string
	maxStderr int
}

var _ ports.Trainer = (*Trainer)(nil)

// TrainerOption configures the trainer.
type TrainerOption func(*Trainer)

// WithConfig populates the allow-list from a loaded config.
func WithConfig(cfg ConfigFile) TrainerOption {
	return func(t *Trainer) {
		if cfg.Profiler != nil {
			p := *cfg.Profiler
			t.profiler = &p
		}
		for _, tr := range cfg.Trainers {
			t.Register(tr)
		}
	}
}

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) TrainerOption {
	return func(t *Trainer) {
		t.baseDir = dir
	}
}

// NewTrainer creates a new process trainer.
func NewTrainer(opts ...TrainerOption) *Trainer {
	t := &Trainer{
		byAlg:     make(map[string]ProcessConfig),
		maxStderr: 2048,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register adds a trusted command to the allow-list.
func (t *Trainer) Register(cfg ProcessConfig) {
	if len(cfg.Algorithms) == 0 {
		c := cfg
		t.fallback = &c
		return
	}
	for _, alg := range cfg.Algorithms {
		t.byAlg[alg] = cfg
	}
}

// SetProfiler sets the command that profiles datasets.
func (t *Trainer) SetProfiler(cfg ProcessConfig) {
	t.profiler = &cfg
}

// Profile implements ports.Trainer.
func (t *Trainer) Profile(ctx context.Context, dataLocation string) (domain.DatasetProfile, error) {
	var prof domain.DatasetProfile
	if t.profiler == nil {
		return prof, fmt.Errorf("%w for %s", ErrNotRegistered, OpProfile)
	}
	err := t.run(ctx, *t.profiler, Request{Op: OpProfile, DataLocation: dataLocation}, nil, &prof)
	if err != nil {
		return domain.DatasetProfile{}, err
	}
	if prof.Location == "" {
		prof.Location = dataLocation
	}
	return prof, nil
}

// Train implements ports.Trainer.
func (t *Trainer) Train(ctx context.Context, req domain.TrainRequest) (domain.AlgorithmResult, error) {
	cfg, ok := t.byAlg[req.Algorithm]
	if !ok {
		if t.fallback == nil {
			return domain.AlgorithmResult{}, fmt.Errorf("%w for algorithm %q", ErrNotRegistered, req.Algorithm)
		}
		cfg = *t.fallback
	}

	env := map[string]string{"CONDUIT_ALGORITHM": req.Algorithm}
	var res domain.AlgorithmResult
	if err := t.run(ctx, cfg, Request{Op: OpTrain, DataLocation: req.DataLocation, Train: &req}, env, &res); err != nil {
		return domain.AlgorithmResult{}, err
	}
	if res.Name == "" {
		res.Name = req.Algorithm
	}
	if res.Name != req.Algorithm {
		return domain.AlgorithmResult{}, fmt.Errorf("trainer %q answered for %q instead of %q", cfg.Name, res.Name, req.Algorithm)
	}
	return res, nil
}

func (t *Trainer) run(ctx context.Context, cfg ProcessConfig, req Request, extra map[string]string, out any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Dir = t.baseDir
	cmd.Stdin = bytes.NewReader(payload)

	// Security: request data travels on stdin only, never as command flags.
	env := []string{"CONDUIT_OP=" + req.Op}
	for k, v := range cfg.Environment {
		env = append(env, k+"="+v)
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	cmd.Env = append(cmd.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s %q: %w", req.Op, cfg.Name, ctx.Err())
		}
		return fmt.Errorf("%s %q: execution failed: %v. Stderr: %s", req.Op, cfg.Name, err, t.tail(stderr.String()))
	}

	trimmed := strings.TrimSpace(stdout.String())
	if trimmed == "" {
		return fmt.Errorf("%s %q: empty output", req.Op, cfg.Name)
	}
	if err := json.Unmarshal([]byte(trimmed), out); err != nil {
		return fmt.Errorf("%s %q: decode output: %w", req.Op, cfg.Name, err)
	}
	return nil
}

func (t *Trainer) tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > t.maxStderr {
		return "..." + s[len(s)-t.maxStderr:]
	}
	return s
}
