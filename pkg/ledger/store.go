package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long run records are kept.
const DefaultTTL = 30 * 24 * time.Hour

var (
	// ErrNotFound indicates no record exists for the key.
	ErrNotFound = errors.New("run record not found")

	// ErrInvalidRecord indicates the stored record is corrupted.
	ErrInvalidRecord = errors.New("invalid run record")
)

// Store keeps run records in Redis.
type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewStore creates a store with the given record TTL; ttl <= 0 selects DefaultTTL.
func NewStore(redisClient *redis.Client, ttl time.Duration) *Store {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		redis: redisClient,
		ttl:   ttl,
	}
}

// Record stores rec under its key, replacing an earlier run of the same window.
func (s *Store) Record(ctx context.Context, rec *RunRecord) error {
	if rec == nil {
		return fmt.Errorf("run record cannot be nil")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		LedgerErrors.WithLabelValues("record").Inc()
		return fmt.Errorf("marshal run record: %w", err)
	}

	if err := s.redis.Set(ctx, rec.Key().String(), data, s.ttl).Err(); err != nil {
		LedgerErrors.WithLabelValues("record").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	LedgerWrites.WithLabelValues(string(rec.Status)).Inc()
	return nil
}

// Get returns the record stored under key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key RunKey) (*RunRecord, error) {
	data, err := s.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		LedgerErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		LedgerErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return &rec, nil
}

// Delete removes the record stored under key.
func (s *Store) Delete(ctx context.Context, key RunKey) error {
	if err := s.redis.Del(ctx, key.String()).Err(); err != nil {
		LedgerErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Nop is a ledger that keeps nothing.
type Nop struct{}

// Record discards rec.
func (Nop) Record(ctx context.Context, rec *RunRecord) error { return nil }

// Get always returns ErrNotFound.
func (Nop) Get(ctx context.Context, key RunKey) (*RunRecord, error) { return nil, ErrNotFound }
