// Package redis implements the persistence ports and the distributed locker on Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/conduit/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// claimScript atomically sets a marker key if the record key exists and the
// marker does not. It returns -1 (no record), 0 (already claimed) or the record.
var claimScript = backend.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
if redis.call("SETNX", KEYS[2], ARGV[1]) == 0 then
	return 0
end
if tonumber(ARGV[2]) > 0 then
	redis.call("PEXPIRE", KEYS[2], ARGV[2])
end
return redis.call("GET", KEYS[1])
`)

var (
	errNoRecord       = errors.New("record not found")
	errAlreadyClaimed = errors.New("marker already claimed")
)

// Store implements ports.Store using Redis.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets the expiration for every key the store writes.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "conduit:",
		ttl:    0, // No expiration by default
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Client exposes the underlying client, e.g. to share it with a Locker.
func (s *Store) Client() *backend.Client {
	return s.client
}

func (s *Store) runKey(id string) string { return s.prefix + "run:" + id }
func (s *Store) indexKey() string { return s.prefix + "runs" }
func (s *Store) checkpointKey(id string) string { return s.prefix + "checkpoint:" + id }
func (s *Store) consumedKey(id string) string { return s.prefix + "checkpoint:" + id + ":consumed" }
func (s *Store) reviewKey(id string) string { return s.prefix + "review:" + id }
func (s *Store) decidedKey(id string) string { return s.prefix + "review:" + id + ":decided" }

func (s *Store) claim(ctx context.Context, recordKey, markerKey string, at time.Time) ([]byte, error) {
	res, err := claimScript.Run(ctx, s.client, []string{recordKey, markerKey},
		at.UTC().Format(time.RFC3339Nano), s.ttl.Milliseconds()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to run claim script: %w", err)
	}
	switch v := res.(type) {
	case int64:
		if v < 0 {
			return nil, errNoRecord
		}
		return nil, errAlreadyClaimed
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unexpected claim script result %T", res)
	}
}

func (s *Store) get(ctx context.Context, key string, v any) (bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == backend.Nil {
			return false, nil
		}
		return false, fmt.Errorf("failed to get from redis: %w", err)
	}
	if err := json.Unmarshal(val, v); err != nil {
		return true, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

// SaveRun persists the run record and indexes it.
func (s *Store) SaveRun(ctx context.Context, rec *domain.RunRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.runKey(rec.RunID), data, s.ttl)

	// Score = Now + TTL. If TTL = 0, Score = +Inf (approx).
	score := float64(time.Now().Add(s.ttl).Unix())
	if s.ttl == 0 {
		score = 4102444800 // 2100-01-01
	}
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: score, Member: rec.RunID})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// LoadRun retrieves the run record.
func (s *Store) LoadRun(ctx context.Context, runID string) (*domain.RunRecord, error) {
	var rec domain.RunRecord
	ok, err := s.get(ctx, s.runKey(runID), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return &rec, nil
}

// DeleteRun removes the run record from the store and the index.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.runKey(runID))
	pipe.ZRem(ctx, s.indexKey(), runID)
	_, err := pipe.Exec(ctx)
	return err
}

// ListRuns returns indexed runs, pruning expired entries lazily.
func (s *Store) ListRuns(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	if err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err(); err != nil {
		return nil, fmt.Errorf("failed to prune expired runs: %w", err)
	}

	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return ids, nil
}

// SaveCheckpoint replaces the checkpoint and clears its consumed marker in one transaction.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *domain.RunCheckpoint) error {
	stored := *cp
	stored.ConsumedAt = nil
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.Set(ctx, s.checkpointKey(cp.RunID), data, s.ttl)
		pipe.Del(ctx, s.consumedKey(cp.RunID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save checkpoint to redis: %w", err)
	}
	return nil
}

// LoadCheckpoint retrieves the checkpoint and its consumption time.
func (s *Store) LoadCheckpoint(ctx context.Context, runID string) (*domain.RunCheckpoint, error) {
	vals, err := s.client.MGet(ctx, s.checkpointKey(runID), s.consumedKey(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint from redis: %w", err)
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, &domain.CheckpointNotFoundError{RunID: runID}
	}

	var cp domain.RunCheckpoint
	if err := json.Unmarshal([]byte(raw), &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	if marker, ok := vals[1].(string); ok {
		at, err := time.Parse(time.RFC3339Nano, marker)
		if err != nil {
			return nil, fmt.Errorf("corrupt consumed marker for %s: %w", runID, err)
		}
		cp.ConsumedAt = &at
	}
	return &cp, nil
}

// ConsumeCheckpoint runs the claim script; only the first caller gets the snapshot.
func (s *Store) ConsumeCheckpoint(ctx context.Context, runID string, at time.Time) (*domain.RunCheckpoint, error) {
	raw, err := s.claim(ctx, s.checkpointKey(runID), s.consumedKey(runID), at)
	switch {
	case errors.Is(err, errNoRecord):
		return nil, &domain.CheckpointNotFoundError{RunID: runID}
	case errors.Is(err, errAlreadyClaimed):
		return nil, &domain.AlreadyResumedError{RunID: runID}
	case err != nil:
		return nil, err
	}

	var cp domain.RunCheckpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	cp.ConsumedAt = &at
	return &cp, nil
}

// DeleteCheckpoint removes the checkpoint and its marker.
func (s *Store) DeleteCheckpoint(ctx context.Context, runID string) error {
	return s.client.Del(ctx, s.checkpointKey(runID), s.consumedKey(runID)).Err()
}

// SaveReview persists the review session. An open session clears the decided marker.
func (s *Store) SaveReview(ctx context.Context, rs *domain.ReviewSession) error {
	data, err := json.Marshal(rs)
	if err != nil {
		return fmt.Errorf("failed to marshal review: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.Set(ctx, s.reviewKey(rs.RunID), data, s.ttl)
		if !rs.Decided() {
			pipe.Del(ctx, s.decidedKey(rs.RunID))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save review to redis: %w", err)
	}
	return nil
}

// LoadReview retrieves the review session.
func (s *Store) LoadReview(ctx context.Context, runID string) (*domain.ReviewSession, error) {
	var rs domain.ReviewSession
	ok, err := s.get(ctx, s.reviewKey(runID), &rs)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrReviewNotFound
	}
	return &rs, nil
}

// DecideReview claims the decided marker, then writes the decision.
func (s *Store) DecideReview(ctx context.Context, runID string, approval domain.Approval, at time.Time) (*domain.ReviewSession, error) {
	raw, err := s.claim(ctx, s.reviewKey(runID), s.decidedKey(runID), at)
	switch {
	case errors.Is(err, errNoRecord):
		return nil, domain.ErrReviewNotFound
	case errors.Is(err, errAlreadyClaimed):
		return nil, domain.ErrReviewClosed
	case err != nil:
		return nil, err
	}

	var rs domain.ReviewSession
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal review: %w", err)
	}
	if err := rs.Decide(approval, at); err != nil {
		return nil, err
	}
	data, err := json.Marshal(&rs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal review: %w", err)
	}
	if err := s.client.Set(ctx, s.reviewKey(runID), data, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("failed to save review to redis: %w", err)
	}
	return &rs, nil
}

// DeleteReview removes the review session and its marker.
func (s *Store) DeleteReview(ctx context.Context, runID string) error {
	return s.client.Del(ctx, s.reviewKey(runID), s.decidedKey(runID)).Err()
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
