package cli

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/aretw0/conduit/pkg/domain"
)

// Watch follows a run by polling the store and writes one JSON diff per
// change until the run is terminal or ctx ends. It works across processes
// sharing a file or Redis store.
func Watch(ctx context.Context, app *App, runID string, w io.Writer, interval time.Duration) (*domain.RunRecord, error) {
	if interval <= 0 {
		interval = time.Second
	}
	enc := json.NewEncoder(w)

	var last *domain.RunRecord
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		rec, err := app.Engine.GetStatus(ctx, runID)
		if err != nil {
			return last, err
		}
		if diff := domain.Diff(last, rec); diff != nil {
			if err := enc.Encode(diff); err != nil {
				return rec, err
			}
		}
		last = rec
		if rec.Status.IsTerminal() {
			return rec, nil
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}
