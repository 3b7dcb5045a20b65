package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestTokenBucketAllowAndRefill(t *testing.T) {
	cfg := Config{RequestsPerSec: 5, Burst: 5}
	tb := NewTokenBucket(cfg)

	for i := 0; i < 5; i++ {
		if !tb.Allow() {
			t.Fatalf("expected token available at %d", i)
		}
	}
	if tb.Allow() {
		t.Fatalf("expected no token after burst")
	}

	time.Sleep(250 * time.Millisecond)
	if !tb.Allow() {
		t.Fatalf("expected token after partial refill")
	}
}

func TestTokenBucketWaitRespectsContext(t *testing.T) {
	cfg := Config{RequestsPerSec: 1, Burst: 1}
	tb := NewTokenBucket(cfg)

	// consume initial token
	if !tb.Allow() {
		t.Fatalf("expected first token")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := tb.Wait(ctx); err == nil {
		t.Fatalf("expected timeout")
	}
}

func TestFixedDelay(t *testing.T) {
	fd := NewFixedDelay(Config{FixedDelay: 50 * time.Millisecond})

	if !fd.Allow() {
		t.Fatalf("expected first allow")
	}
	if fd.Allow() {
		t.Fatalf("expected second request to be delayed")
	}

	time.Sleep(60 * time.Millisecond)
	if !fd.Allow() {
		t.Fatalf("expected allow after delay elapsed")
	}
}

func TestNewLimiterStrategySelection(t *testing.T) {
	if _, ok := NewLimiter(Config{Strategy: StrategyFixedDelay}).(*FixedDelay); !ok {
		t.Fatalf("expected fixed delay limiter")
	}
	if _, ok := NewLimiter(Config{}).(*TokenBucket); !ok {
		t.Fatalf("expected token bucket by default")
	}
}
