package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// --- MemoryTriggerDedup ---

func TestMemoryTriggerDedup_firstClaimWins(t *testing.T) {
	dedup := NewMemoryTriggerDedup()
	ctx := context.Background()
	key := "trigger:g-1:fire-abc"

	existing, claimed, err := dedup.Claim(ctx, key, "exec-1", 5*time.Minute)
	if err != nil {
		t.Fatalf("Claim error: %v", err)
	}
	if !claimed {
		t.Fatal("claimed = false, want true for fresh key")
	}
	if existing != "" {
		t.Errorf("existing = %q, want empty", existing)
	}

	existing, claimed, err = dedup.Claim(ctx, key, "exec-2", 5*time.Minute)
	if err != nil {
		t.Fatalf("Claim error: %v", err)
	}
	if claimed {
		t.Error("claimed = true, want false for duplicate")
	}
	if existing != "exec-1" {
		t.Errorf("existing = %q, want exec-1", existing)
	}
}

func TestMemoryTriggerDedup_distinctKeysAreIndependent(t *testing.T) {
	dedup := NewMemoryTriggerDedup()
	ctx := context.Background()

	_, claimed1, _ := dedup.Claim(ctx, "trigger:g-1:a", "exec-1", 5*time.Minute)
	_, claimed2, _ := dedup.Claim(ctx, "trigger:g-1:b", "exec-2", 5*time.Minute)

	if !claimed1 || !claimed2 {
		t.Error("distinct keys should both claim")
	}
	if dedup.Len() != 2 {
		t.Errorf("Len() = %d, want 2", dedup.Len())
	}
}

func TestMemoryTriggerDedup_TTLExpiry(t *testing.T) {
	dedup := NewMemoryTriggerDedup()
	ctx := context.Background()
	key := "trigger:g-1:fire-abc"

	_, _, _ = dedup.Claim(ctx, key, "exec-1", 1*time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, claimed, err := dedup.Claim(ctx, key, "exec-2", 5*time.Minute)
	if err != nil {
		t.Fatalf("Claim error: %v", err)
	}
	if !claimed {
		t.Error("claimed = false, want true after expiry")
	}
}

// --- RedisTriggerDedup ---

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	return mr, client
}

func TestRedisTriggerDedup_firstClaimWins(t *testing.T) {
	_, client := newTestRedis(t)
	dedup := NewRedisTriggerDedup(client)
	ctx := context.Background()
	key := "trigger:g-1:fire-abc"

	_, claimed, err := dedup.Claim(ctx, key, "exec-1", 5*time.Minute)
	if err != nil {
		t.Fatalf("Claim error: %v", err)
	}
	if !claimed {
		t.Fatal("claimed = false, want true for fresh key")
	}

	existing, claimed, err := dedup.Claim(ctx, key, "exec-2", 5*time.Minute)
	if err != nil {
		t.Fatalf("Claim error: %v", err)
	}
	if claimed {
		t.Error("claimed = true, want false for duplicate")
	}
	if existing != "exec-1" {
		t.Errorf("existing = %q, want exec-1", existing)
	}
}

func TestRedisTriggerDedup_TTLExpiry(t *testing.T) {
	mr, client := newTestRedis(t)
	dedup := NewRedisTriggerDedup(client)
	ctx := context.Background()
	key := "trigger:g-1:fire-abc"

	_, _, _ = dedup.Claim(ctx, key, "exec-1", 1*time.Second)

	// Fast-forward miniredis time past TTL.
	mr.FastForward(2 * time.Second)

	_, claimed, err := dedup.Claim(ctx, key, "exec-2", 5*time.Minute)
	if err != nil {
		t.Fatalf("Claim error: %v", err)
	}
	if !claimed {
		t.Error("claimed = false, want true after expiry")
	}
}

// --- FormatTriggerKey ---

func TestFormatTriggerKey(t *testing.T) {
	key := FormatTriggerKey("g-1", "fire-abc")
	want := "trigger:g-1:fire-abc"
	if key != want {
		t.Errorf("key = %q, want %q", key, want)
	}
}
