// Package file implements the persistence ports on the local filesystem.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/conduit/pkg/domain"
)

const (
	runsDir        = "runs"
	checkpointsDir = "checkpoints"
	reviewsDir     = "reviews"

	consumedSuffix = ".consumed"
	decidedSuffix  = ".decided"
)

// Store implements ports.Store using the local filesystem.
// Every record is a JSON file; writes are atomic (temp file, fsync, rename).
// Consuming a checkpoint and deciding a review create marker files with
// O_EXCL, so exactly one caller wins even across processes.
type Store struct {
	BasePath string
}

// New creates a new Store with the given base path.
// If basePath is empty, it defaults to ".conduit/store".
func New(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".conduit", "store")
	}
	return &Store{BasePath: basePath}
}

func (s *Store) path(kind, id, suffix string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("id cannot be empty")
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid id %q", id)
	}
	return filepath.Join(s.BasePath, kind, id+suffix), nil
}

// writeAtomic persists data to dest via a temp file in the same directory.
func writeAtomic(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to ensure directory: %w", err)
	}

	// Same directory keeps the rename on one filesystem.
	tmpFile, err := os.CreateTemp(dir, "tmp-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath) // no-op once renamed
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	// Cannot rename an open file on Windows.
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// On Windows, os.Rename fails if dest exists.
	if _, err := os.Stat(dest); err == nil {
		if err := os.Remove(dest); err != nil {
			return fmt.Errorf("failed to remove existing file for overwrite: %w", err)
		}
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (s *Store) save(kind, id string, v any) error {
	dest, err := s.path(kind, id, ".json")
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}
	return writeAtomic(dest, data)
}

// load returns os.ErrNotExist (wrapped) when the file is missing.
func (s *Store) load(kind, id string, v any) error {
	p, err := s.path(kind, id, ".json")
	if err != nil {
		return err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", id, err)
	}
	return nil
}

func (s *Store) remove(kind, id string, suffixes ...string) error {
	for _, suffix := range suffixes {
		p, err := s.path(kind, id, suffix)
		if err != nil {
			return err
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete %s: %w", p, err)
		}
	}
	return nil
}

// claim creates the marker exclusively. It reports false if it already exists.
func (s *Store) claim(kind, id, suffix string, at time.Time) (bool, error) {
	p, err := s.path(kind, id, suffix)
	if err != nil {
		return false, err
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create marker: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(at.UTC().Format(time.RFC3339Nano)); err != nil {
		return true, fmt.Errorf("failed to write marker: %w", err)
	}
	if err := f.Sync(); err != nil {
		return true, fmt.Errorf("failed to fsync marker: %w", err)
	}
	return true, nil
}

func (s *Store) marker(kind, id, suffix string) (*time.Time, error) {
	p, err := s.path(kind, id, suffix)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat marker: %w", err)
	}
	// The claimer may still be writing the timestamp.
	at := info.ModTime().UTC()
	if data, err := os.ReadFile(p); err == nil {
		if parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data))); err == nil {
			at = parsed
		}
	}
	return &at, nil
}

// SaveRun persists the run record.
func (s *Store) SaveRun(ctx context.Context, rec *domain.RunRecord) error {
	return s.save(runsDir, rec.RunID, rec)
}

// LoadRun retrieves the run record.
func (s *Store) LoadRun(ctx context.Context, runID string) (*domain.RunRecord, error) {
	var rec domain.RunRecord
	if err := s.load(runsDir, runID, &rec); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to read run file: %w", err)
	}
	return &rec, nil
}

// DeleteRun removes the run record.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	return s.remove(runsDir, runID, ".json")
}

// ListRuns returns all stored run IDs.
func (s *Store) ListRuns(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.BasePath, runsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || strings.HasPrefix(name, "tmp-") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// SaveCheckpoint writes the snapshot durably and clears any consumed marker.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *domain.RunCheckpoint) error {
	stored := *cp
	stored.ConsumedAt = nil
	if err := s.save(checkpointsDir, cp.RunID, &stored); err != nil {
		return err
	}
	return s.remove(checkpointsDir, cp.RunID, consumedSuffix)
}

// LoadCheckpoint retrieves the checkpoint, consumed or not.
func (s *Store) LoadCheckpoint(ctx context.Context, runID string) (*domain.RunCheckpoint, error) {
	var cp domain.RunCheckpoint
	if err := s.load(checkpointsDir, runID, &cp); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &domain.CheckpointNotFoundError{RunID: runID}
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	consumedAt, err := s.marker(checkpointsDir, runID, consumedSuffix)
	if err != nil {
		return nil, err
	}
	cp.ConsumedAt = consumedAt
	return &cp, nil
}

// ConsumeCheckpoint claims the consumed marker; only the first caller succeeds.
func (s *Store) ConsumeCheckpoint(ctx context.Context, runID string, at time.Time) (*domain.RunCheckpoint, error) {
	var cp domain.RunCheckpoint
	if err := s.load(checkpointsDir, runID, &cp); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &domain.CheckpointNotFoundError{RunID: runID}
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	won, err := s.claim(checkpointsDir, runID, consumedSuffix, at)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, &domain.AlreadyResumedError{RunID: runID}
	}
	cp.ConsumedAt = &at
	return &cp, nil
}

// DeleteCheckpoint removes the checkpoint and its marker.
func (s *Store) DeleteCheckpoint(ctx context.Context, runID string) error {
	return s.remove(checkpointsDir, runID, ".json", consumedSuffix)
}

// SaveReview persists the review session and reopens it.
func (s *Store) SaveReview(ctx context.Context, rs *domain.ReviewSession) error {
	if err := s.save(reviewsDir, rs.RunID, rs); err != nil {
		return err
	}
	if rs.Decided() {
		return nil
	}
	return s.remove(reviewsDir, rs.RunID, decidedSuffix)
}

// LoadReview retrieves the review session.
func (s *Store) LoadReview(ctx context.Context, runID string) (*domain.ReviewSession, error) {
	var rs domain.ReviewSession
	if err := s.load(reviewsDir, runID, &rs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrReviewNotFound
		}
		return nil, fmt.Errorf("failed to read review file: %w", err)
	}
	return &rs, nil
}

// DecideReview claims the decided marker before writing the decision.
func (s *Store) DecideReview(ctx context.Context, runID string, approval domain.Approval, at time.Time) (*domain.ReviewSession, error) {
	rs, err := s.LoadReview(ctx, runID)
	if err != nil {
		return nil, err
	}
	if rs.Decided() {
		return nil, domain.ErrReviewClosed
	}
	won, err := s.claim(reviewsDir, runID, decidedSuffix, at)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, domain.ErrReviewClosed
	}
	if err := rs.Decide(approval, at); err != nil {
		return nil, err
	}
	if err := s.save(reviewsDir, runID, rs); err != nil {
		return nil, err
	}
	return rs, nil
}

// DeleteReview removes the review session and its marker.
func (s *Store) DeleteReview(ctx context.Context, runID string) error {
	return s.remove(reviewsDir, runID, ".json", decidedSuffix)
}
