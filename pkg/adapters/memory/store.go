package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/conduit/pkg/domain"
)

// Store implements ports.Store in memory.
// Safe for concurrent use. Values are copied through JSON on the way in and
// out, so callers never share memory with the store.
type Store struct {
	mu          sync.RWMutex
	runs        map[string][]byte
	checkpoints map[string][]byte
	reviews     map[string][]byte
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		runs:        make(map[string][]byte),
		checkpoints: make(map[string][]byte),
		reviews:     make(map[string][]byte),
	}
}

func put(m map[string][]byte, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}
	m[id] = data
	return nil
}

func get[T any](m map[string][]byte, id string) (*T, bool, error) {
	data, ok := m[id]
	if !ok {
		return nil, false, nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal %s: %w", id, err)
	}
	return &v, true, nil
}

// SaveRun persists the run record in memory.
func (s *Store) SaveRun(ctx context.Context, rec *domain.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return put(s.runs, rec.RunID, rec)
}

// LoadRun retrieves a copy of the run record.
func (s *Store) LoadRun(ctx context.Context, runID string) (*domain.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok, err := get[domain.RunRecord](s.runs, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return rec, nil
}

// DeleteRun removes the run record.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
	return nil
}

// ListRuns returns stored run IDs, sorted.
func (s *Store) ListRuns(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// SaveCheckpoint replaces the checkpoint of the run.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *domain.RunCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return put(s.checkpoints, cp.RunID, cp)
}

// LoadCheckpoint retrieves a copy of the checkpoint.
func (s *Store) LoadCheckpoint(ctx context.Context, runID string) (*domain.RunCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok, err := get[domain.RunCheckpoint](s.checkpoints, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &domain.CheckpointNotFoundError{RunID: runID}
	}
	return cp, nil
}

// ConsumeCheckpoint marks the checkpoint as used under the store lock.
func (s *Store) ConsumeCheckpoint(ctx context.Context, runID string, at time.Time) (*domain.RunCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok, err := get[domain.RunCheckpoint](s.checkpoints, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &domain.CheckpointNotFoundError{RunID: runID}
	}
	if cp.Consumed() {
		return nil, &domain.AlreadyResumedError{RunID: runID}
	}
	cp.ConsumedAt = &at
	if err := put(s.checkpoints, runID, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// DeleteCheckpoint removes the checkpoint.
func (s *Store) DeleteCheckpoint(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, runID)
	return nil
}

// SaveReview persists the review session.
func (s *Store) SaveReview(ctx context.Context, rs *domain.ReviewSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return put(s.reviews, rs.RunID, rs)
}

// LoadReview retrieves a copy of the review session.
func (s *Store) LoadReview(ctx context.Context, runID string) (*domain.ReviewSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs, ok, err := get[domain.ReviewSession](s.reviews, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrReviewNotFound
	}
	return rs, nil
}

// DecideReview records the approval if the session is still open.
func (s *Store) DecideReview(ctx context.Context, runID string, approval domain.Approval, at time.Time) (*domain.ReviewSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, ok, err := get[domain.ReviewSession](s.reviews, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrReviewNotFound
	}
	if err := rs.Decide(approval, at); err != nil {
		return nil, err
	}
	if err := put(s.reviews, runID, rs); err != nil {
		return nil, err
	}
	return rs, nil
}

// DeleteReview removes the review session.
func (s *Store) DeleteReview(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reviews, runID)
	return nil
}
