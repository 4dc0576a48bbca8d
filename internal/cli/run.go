package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/aretw0/conduit/internal/presentation/tui"
	"github.com/aretw0/conduit/pkg/domain"
	"github.com/aretw0/conduit/pkg/runner"
)

// RunOptions configure a pipeline run started from the terminal.
type RunOptions struct {
	Task         string
	DataLocation string
	Threshold    float64

	// JSON switches to JSON lines on stdin and stdout.
	JSON bool
	// Auto answers reviews without prompting; Approve selects the answer.
	Auto     bool
	Approve  bool
	Feedback string
}

// Input builds the run input.
func (o RunOptions) Input() (map[string]any, error) {
	task, err := runner.CleanTask(o.Task)
	if err != nil {
		return nil, fmt.Errorf("task: %w", err)
	}
	input := map[string]any{domain.FieldTask: task}
	if o.DataLocation != "" {
		input[domain.FieldDataLocation] = o.DataLocation
	}
	if o.Threshold > 0 {
		input[domain.FieldConfidenceThreshold] = o.Threshold
	}
	return input, nil
}

// Handler selects the review handler for the options.
func (o RunOptions) Handler(in io.Reader, out io.Writer, render tui.Renderer) runner.Handler {
	switch {
	case o.Auto:
		return runner.AutoHandler{Approve: o.Approve, Feedback: o.Feedback}
	case o.JSON:
		return runner.NewJSONHandler(in, out)
	default:
		return runner.NewTextHandler(in, out, runner.WithRenderer(render))
	}
}

// Run starts a run and drives it to a terminal status through h.
// When ctx ends while the run waits for review, the run stays paused in the store.
func Run(ctx context.Context, app *App, opts RunOptions, h runner.Handler) (*domain.RunRecord, error) {
	input, err := opts.Input()
	if err != nil {
		return nil, err
	}
	r := runner.New(runner.WithHandler(h), runner.WithLogger(app.Logger))
	rec, err := r.Run(ctx, app.Engine, input)
	if err != nil {
		return rec, err
	}
	if rec.Status == domain.StatusFailed {
		return rec, fmt.Errorf("run %s failed at %s", rec.RunID, rec.CurrentNode)
	}
	return rec, nil
}
