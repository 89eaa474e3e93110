// Sitelens - Privacy-First Web Analytics
// Copyright 2026 Sitelens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sitelens/sitelens

package ratelimit

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock for deterministic window tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCheck_AllowsUpToMax(t *testing.T) {
	clock := newFakeClock()
	l := NewWithClock(clock.Now)

	for i := 0; i < 30; i++ {
		if err := l.Check("1.2.3.4", "ip-lookup", 30, time.Minute); err != nil {
			t.Fatalf("call %d unexpectedly limited: %v", i+1, err)
		}
	}

	if err := l.Check("1.2.3.4", "ip-lookup", 30, time.Minute); !errors.Is(err, ErrRateLimited) {
		t.Errorf("call 31 should be limited, got %v", err)
	}
}

func TestCheck_WindowElapses(t *testing.T) {
	clock := newFakeClock()
	l := NewWithClock(clock.Now)

	for i := 0; i < 5; i++ {
		if err := l.Check("1.2.3.4", "events", 5, time.Minute); err != nil {
			t.Fatalf("call %d unexpectedly limited: %v", i+1, err)
		}
	}
	if err := l.Check("1.2.3.4", "events", 5, time.Minute); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected limit, got %v", err)
	}

	clock.Advance(61 * time.Second)

	if err := l.Check("1.2.3.4", "events", 5, time.Minute); err != nil {
		t.Errorf("call after window elapsed should pass, got %v", err)
	}
}

func TestCheck_BurstAtBoundary(t *testing.T) {
	// A fixed-window counter would admit 2*max calls straddling a window
	// boundary. The sliding window must not.
	clock := newFakeClock()
	l := NewWithClock(clock.Now)

	// Fill the quota just before the boundary.
	clock.Advance(55 * time.Second)
	for i := 0; i < 10; i++ {
		if err := l.Check("5.6.7.8", "events", 10, time.Minute); err != nil {
			t.Fatalf("fill call %d limited: %v", i+1, err)
		}
	}

	// Just past where a fixed window would reset: still inside the
	// trailing 60s, so everything must be rejected.
	clock.Advance(10 * time.Second)
	if err := l.Check("5.6.7.8", "events", 10, time.Minute); !errors.Is(err, ErrRateLimited) {
		t.Errorf("boundary burst admitted, got %v", err)
	}

	// Once the original calls age out, capacity returns.
	clock.Advance(51 * time.Second)
	if err := l.Check("5.6.7.8", "events", 10, time.Minute); err != nil {
		t.Errorf("call after aging out should pass, got %v", err)
	}
}

func TestCheck_RoutesIndependent(t *testing.T) {
	clock := newFakeClock()
	l := NewWithClock(clock.Now)

	for i := 0; i < 3; i++ {
		if err := l.Check("1.2.3.4", "route-a", 3, time.Minute); err != nil {
			t.Fatalf("route-a call limited: %v", err)
		}
	}
	if err := l.Check("1.2.3.4", "route-a", 3, time.Minute); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("route-a should be exhausted")
	}

	// Same IP, different route: independent quota.
	if err := l.Check("1.2.3.4", "route-b", 3, time.Minute); err != nil {
		t.Errorf("route-b should be independent, got %v", err)
	}
}

func TestCheck_IPsIndependent(t *testing.T) {
	clock := newFakeClock()
	l := NewWithClock(clock.Now)

	for i := 0; i < 2; i++ {
		if err := l.Check("1.1.1.1", "events", 2, time.Minute); err != nil {
			t.Fatalf("unexpected limit: %v", err)
		}
	}
	if err := l.Check("2.2.2.2", "events", 2, time.Minute); err != nil {
		t.Errorf("second IP should have its own quota, got %v", err)
	}
}

func TestCheck_RejectedCallsDontConsumeQuota(t *testing.T) {
	clock := newFakeClock()
	l := NewWithClock(clock.Now)

	for i := 0; i < 2; i++ {
		if err := l.Check("9.9.9.9", "events", 2, 10*time.Second); err != nil {
			t.Fatalf("unexpected limit: %v", err)
		}
	}

	// Hammer while limited; these rejections must not extend the lockout.
	for i := 0; i < 50; i++ {
		clock.Advance(100 * time.Millisecond)
		if err := l.Check("9.9.9.9", "events", 2, 10*time.Second); !errors.Is(err, ErrRateLimited) {
			t.Fatalf("expected limit during lockout, got %v", err)
		}
	}

	// 5s of hammering + 5.1s quiet clears the original two calls.
	clock.Advance(5100 * time.Millisecond)
	if err := l.Check("9.9.9.9", "events", 2, 10*time.Second); err != nil {
		t.Errorf("quota should have recovered, got %v", err)
	}
}

func TestCheck_ConcurrentNeverExceedsMax(t *testing.T) {
	l := New()

	const max = 50
	const goroutines = 200

	var wg sync.WaitGroup
	var allowed int64
	var mu sync.Mutex

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Check("8.8.8.8", "events", max, time.Minute); err == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != max {
		t.Errorf("concurrent burst allowed %d calls, want exactly %d", allowed, max)
	}
}

func TestSweep(t *testing.T) {
	clock := newFakeClock()
	l := NewWithClock(clock.Now)

	_ = l.Check("1.2.3.4", "events", 5, time.Second)
	_ = l.Check("5.6.7.8", "events", 5, time.Second)
	if l.Len() != 2 {
		t.Fatalf("expected 2 keys, got %d", l.Len())
	}

	clock.Advance(2 * time.Second)
	removed := l.Sweep()
	if removed != 2 {
		t.Errorf("expected 2 keys swept, got %d", removed)
	}
	if l.Len() != 0 {
		t.Errorf("expected empty limiter, got %d keys", l.Len())
	}
}
