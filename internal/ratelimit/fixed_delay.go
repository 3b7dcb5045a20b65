package ratelimit

import (
	"context"
	"sync"
	"time"
)

// FixedDelay enforces a fixed delay between requests.
type FixedDelay struct {
	delay       time.Duration
	lastRequest time.Time
	mu          sync.Mutex
}

// NewFixedDelay creates a new fixed delay limiter.
func NewFixedDelay(cfg Config) *FixedDelay {
	cfg = applyDefaults(cfg)
	return &FixedDelay{delay: cfg.FixedDelay}
}

// Wait blocks for the remainder of the delay since the last request.
func (fd *FixedDelay) Wait(ctx context.Context) error {
	fd.mu.Lock()
	wait := fd.pending(time.Now())
	fd.lastRequest = time.Now().Add(wait)
	fd.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Allow returns true if no wait is needed.
func (fd *FixedDelay) Allow() bool {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	now := time.Now()
	if fd.pending(now) > 0 {
		return false
	}
	fd.lastRequest = now
	return true
}

// Reset clears the last request time.
func (fd *FixedDelay) Reset() {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.lastRequest = time.Time{}
}

func (fd *FixedDelay) pending(now time.Time) time.Duration {
	if fd.lastRequest.IsZero() {
		return 0
	}
	elapsed := now.Sub(fd.lastRequest)
	if elapsed >= fd.delay {
		return 0
	}
	return fd.delay - elapsed
}
