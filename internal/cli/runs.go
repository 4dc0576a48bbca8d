package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aretw0/conduit/internal/presentation/graph"
	"github.com/aretw0/conduit/internal/presentation/tui"
	"github.com/aretw0/conduit/pkg/domain"
)

func render(w io.Writer, r tui.Renderer, markdown string) error {
	out, err := r(markdown)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, out)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ListRuns prints the runs held by the store.
func ListRuns(ctx context.Context, app *App, w io.Writer, r tui.Renderer, asJSON bool) error {
	ids, err := app.Engine.List(ctx)
	if err != nil {
		return err
	}
	recs := make([]*domain.RunRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := app.Engine.GetStatus(ctx, id)
		if err != nil {
			app.Logger.Warn("Skipping unreadable run", "run_id", id, "err", err)
			continue
		}
		recs = append(recs, rec)
	}
	if asJSON {
		return writeJSON(w, recs)
	}
	return render(w, r, tui.RunsMarkdown(recs))
}

// InspectRun prints one run with its State fields. Without fields every
// field is shown.
func InspectRun(ctx context.Context, app *App, runID string, w io.Writer, r tui.Renderer, asJSON bool, fields ...string) error {
	rec, err := app.Engine.GetStatus(ctx, runID)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(w, rec)
	}
	return render(w, r, tui.RunMarkdown(rec)+"\n## State\n\n"+tui.FieldsMarkdown(rec.State, fields...))
}

// DeleteRun removes a resting run.
func DeleteRun(ctx context.Context, app *App, runID string) error {
	return app.Engine.Delete(ctx, runID)
}

// CancelRun stops a run and returns its final record.
func CancelRun(ctx context.Context, app *App, runID string) (*domain.RunRecord, error) {
	if err := app.Engine.Cancel(ctx, runID); err != nil {
		return nil, err
	}
	return app.Engine.Wait(ctx, runID)
}

// ShowReview prints the review session of a paused run.
func ShowReview(ctx context.Context, app *App, runID string, w io.Writer, r tui.Renderer, asJSON bool) error {
	rs, err := app.Engine.Review(ctx, runID)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(w, rs)
	}
	return render(w, r, tui.ReviewMarkdown(rs))
}

// SubmitReview resumes a paused run and waits until it rests again.
// The run continues in this process, so the call returns once it completes,
// fails or pauses at the next barrier.
func SubmitReview(ctx context.Context, app *App, runID string, approval domain.Approval) (*domain.RunRecord, error) {
	if err := app.Engine.Resume(ctx, runID, approval); err != nil {
		return nil, err
	}
	return app.Engine.Wait(ctx, runID)
}

// Graph writes the Mermaid diagram of the pipeline, overlaid with the path of
// runID when given.
func Graph(ctx context.Context, app *App, runID string, w io.Writer) error {
	var overlay *graph.GraphOverlay
	if runID != "" {
		rec, err := app.Engine.GetStatus(ctx, runID)
		if err != nil {
			return err
		}
		overlay = graph.OverlayFor(rec)
	}
	_, err := fmt.Fprint(w, graph.GenerateMermaid(app.Engine.Inspect(), overlay))
	return err
}
