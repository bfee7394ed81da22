package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TriggerDedup deduplicates trigger fires. The key format is
// "trigger:{graphId}:{key}".
type TriggerDedup interface {
	// Claim records the trigger key as owned by executionID. If the key was
	// already claimed it returns the earlier execution's ID and claimed
	// false, and the new execution must not start.
	Claim(ctx context.Context, key, executionID string, ttl time.Duration) (existingID string, claimed bool, err error)
}

// --- MemoryTriggerDedup ---

// MemoryTriggerDedup is an in-memory TriggerDedup with TTL support. Suitable
// for testing and single-instance deployments.
type MemoryTriggerDedup struct {
	mu      sync.Mutex
	entries map[string]*dedupEntry
}

type dedupEntry struct {
	executionID string
	expiresAt   time.Time
}

// NewMemoryTriggerDedup creates a new in-memory trigger dedup store.
func NewMemoryTriggerDedup() *MemoryTriggerDedup {
	return &MemoryTriggerDedup{entries: make(map[string]*dedupEntry)}
}

// Claim records the key, returning the earlier claim if one is still live.
func (s *MemoryTriggerDedup) Claim(_ context.Context, key, executionID string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, exists := s.entries[key]; exists && time.Now().Before(entry.expiresAt) {
		return entry.executionID, false, nil
	}

	s.entries[key] = &dedupEntry{
		executionID: executionID,
		expiresAt:   time.Now().Add(ttl),
	}
	return "", true, nil
}

// Len returns the number of entries (including expired ones). For testing.
func (s *MemoryTriggerDedup) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// --- RedisTriggerDedup ---

// RedisTriggerDedup is a Redis-backed TriggerDedup with TTL.
type RedisTriggerDedup struct {
	client redis.Cmdable
}

// NewRedisTriggerDedup creates a new Redis-backed trigger dedup store.
func NewRedisTriggerDedup(client redis.Cmdable) *RedisTriggerDedup {
	return &RedisTriggerDedup{client: client}
}

// Claim records the key with SETNX semantics so exactly one claimer wins.
func (s *RedisTriggerDedup) Claim(ctx context.Context, key, executionID string, ttl time.Duration) (string, bool, error) {
	claimed, err := s.client.SetNX(ctx, key, executionID, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis setnx %q: %w", key, err)
	}
	if claimed {
		return "", true, nil
	}

	existing, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		// The earlier claim expired between SETNX and GET; retry once.
		return s.Claim(ctx, key, executionID, ttl)
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %q: %w", key, err)
	}
	return existing, false, nil
}

// FormatTriggerKey builds the standard trigger dedup key.
func FormatTriggerKey(graphID, key string) string {
	return fmt.Sprintf("trigger:%s:%s", graphID, key)
}
