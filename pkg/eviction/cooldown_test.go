package eviction

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// TestMemoryCooldowns tests quarantine expiry in the memory store.
func TestMemoryCooldowns(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemoryCooldowns()
	m.SetClock(func() time.Time { return now })

	if err := m.Quarantine(ctx, "a", time.Hour); err != nil {
		t.Fatalf("Quarantine: %v", err)
	}
	if cooling, _ := m.Cooling(ctx, "a"); !cooling {
		t.Error("Expected a to be cooling")
	}
	if cooling, _ := m.Cooling(ctx, "b"); cooling {
		t.Error("Expected b not to be cooling")
	}

	now = now.Add(time.Hour)
	if cooling, _ := m.Cooling(ctx, "a"); cooling {
		t.Error("Expected quarantine to expire")
	}
	if m.Len() != 0 {
		t.Errorf("Expected expired entry to be dropped, got %d entries", m.Len())
	}
}

// TestRedisCooldowns tests the Redis store against miniredis.
func TestRedisCooldowns(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	store := NewRedisCooldowns(client, "lethe:cooldown:")

	if err := store.Quarantine(ctx, "a", time.Minute); err != nil {
		t.Fatalf("Quarantine: %v", err)
	}
	if !mr.Exists("lethe:cooldown:a") {
		t.Error("Expected prefixed key to exist")
	}
	if cooling, err := store.Cooling(ctx, "a"); err != nil || !cooling {
		t.Errorf("Expected a to be cooling, got %v (err=%v)", cooling, err)
	}

	if err := store.Quarantine(ctx, "b", 0); err != nil {
		t.Fatalf("Quarantine with zero duration: %v", err)
	}
	if cooling, _ := store.Cooling(ctx, "b"); cooling {
		t.Error("Expected zero duration to be a no-op")
	}

	mr.FastForward(2 * time.Minute)
	if cooling, _ := store.Cooling(ctx, "a"); cooling {
		t.Error("Expected key to expire")
	}
}

// TestRedisCooldownsUnavailable tests that a dead server surfaces an error.
func TestRedisCooldownsUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	store := NewRedisCooldowns(client, "x:")
	if _, err := store.Cooling(context.Background(), "a"); err == nil {
		t.Error("Expected error from closed server")
	}
}
