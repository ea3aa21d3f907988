package infra

import (
	"testing"
	"time"
)

func TestTokenBucket_SameKeyReturnsSameLimiter(t *testing.T) {
	s := NewTokenBucketStore(10, 1)

	l1 := s.limiter("k", time.Now())
	l2 := s.limiter("k", time.Now())
	if l1 != l2 {
		t.Fatalf("expected same limiter pointer for same key")
	}
}

func TestTokenBucket_LowBurstRejectsSecondImmediateAllow(t *testing.T) {
	s := NewTokenBucketStore(0.02, 1)

	if !s.Allow("k").Allowed {
		t.Fatalf("expected first Allow to be true")
	}
	dec := s.Allow("k")
	if dec.Allowed {
		t.Fatalf("expected second immediate Allow to be false (burst=1)")
	}
	// 0.02 rps => um token a cada 50s
	if dec.RetryAfter <= 40*time.Second || dec.RetryAfter > 50*time.Second {
		t.Fatalf("expected RetryAfter close to 50s, got %s", dec.RetryAfter)
	}
	if dec.Limit != 1 {
		t.Fatalf("expected Limit=burst=1, got %d", dec.Limit)
	}
}

func TestTokenBucket_RejectionDoesNotConsumeToken(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewTokenBucketStore(1, 1)
	s.now = func() time.Time { return now }

	if !s.Allow("k").Allowed {
		t.Fatalf("expected first Allow to be true")
	}
	for i := 0; i < 5; i++ {
		if s.Allow("k").Allowed {
			t.Fatalf("expected immediate Allow to be false")
		}
	}

	now = now.Add(time.Second)
	if !s.Allow("k").Allowed {
		t.Fatalf("expected Allow after one refill interval to be true")
	}
}

func TestTokenBucket_CleanupRemovesIdleEntries(t *testing.T) {
	s := NewTokenBucketStore(10, 1, WithIdleTTL(2*time.Millisecond), WithCleanupEvery(0))

	before := s.limiter("k", time.Now())
	time.Sleep(4 * time.Millisecond)

	s.Cleanup()

	after := s.limiter("k", time.Now())
	if before == after {
		t.Fatalf("expected limiter to be recreated after cleanup")
	}
}
