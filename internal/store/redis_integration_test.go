//go:build integration

package store

import (
	"context"
	"testing"
)

// TestRedis_Contract requires a running Redis (REDIS_URL or localhost).
func TestRedis_Contract(t *testing.T) {
	ctx := context.Background()

	redisURL := "redis://localhost:6379/15"
	s, err := NewRedis(ctx, redisURL)
	if err != nil {
		t.Skipf("Skipping integration test: Redis not available: %v", err)
	}
	defer s.Close()

	runStoreContract(t, s)
}

func TestRedis_RateLimit(t *testing.T) {
	ctx := context.Background()

	s, err := NewRedis(ctx, "redis://localhost:6379/15")
	if err != nil {
		t.Skipf("Skipping integration test: Redis not available: %v", err)
	}
	defer s.Close()

	_ = s.Client().FlushDB(ctx).Err()

	burst := 3
	allowed := 0
	for i := 0; i < 10; i++ {
		result, err := s.CheckRateLimit(ctx, "user-1", 1, burst)
		if err != nil {
			t.Fatalf("CheckRateLimit: %v", err)
		}
		if result.Allowed {
			allowed++
		}
	}

	if allowed != burst {
		t.Errorf("allowed %d requests, want %d", allowed, burst)
	}

	keys, err := s.Client().Keys(ctx, "ratelimit:*").Result()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "ratelimit:mint:user-1" {
		t.Errorf("bucket keys = %v, want [ratelimit:mint:user-1]", keys)
	}
}
