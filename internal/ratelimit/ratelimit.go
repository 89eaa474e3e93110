// Sitelens - Privacy-First Web Analytics
// Copyright 2026 Sitelens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sitelens/sitelens

// Package ratelimit bounds the rate of requests from a single client IP
// against a named route, independently of other routes.
//
// The limiter uses a true sliding window: it keeps the timestamps of
// accepted calls per (ip, route) key and counts those inside the window at
// check time. Unlike a fixed window, this cannot be defeated by bursting at
// a window boundary; the cost is O(max) memory per active key, which is
// acceptable for the small per-route limits used on public endpoints.
//
// Only accepted calls consume quota. A rejected call does not extend the
// caller's lockout.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited signals that the (ip, route) pair exceeded its window
// quota. Distinct from validation failures so callers can map it to a
// dedicated status code.
var ErrRateLimited = errors.New("too many requests")

// sweepThreshold is the key count above which Check opportunistically
// sweeps stale entries.
const sweepThreshold = 16384

// Limiter is a process-wide sliding-window rate limiter safe for
// concurrent use from many simultaneous requests.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	clock   func() time.Time

	// checks counts calls since the last sweep, to amortize cleanup.
	checks int
}

type entry struct {
	// accepted holds timestamps of accepted calls, oldest first.
	accepted []time.Time
	window   time.Duration
}

// New creates a limiter using the wall clock.
func New() *Limiter {
	return NewWithClock(time.Now)
}

// NewWithClock creates a limiter with an injectable clock, for tests.
func NewWithClock(clock func() time.Time) *Limiter {
	return &Limiter{
		entries: make(map[string]*entry),
		clock:   clock,
	}
}

// Check records one request for the (ip, route) pair and reports whether it
// is allowed. It returns ErrRateLimited when the pair already has max
// accepted calls inside the trailing window.
func (l *Limiter) Check(ip, route string, max int, window time.Duration) error {
	if max <= 0 || window <= 0 {
		return ErrRateLimited
	}

	now := l.clock()
	key := ip + "|" + route

	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeSweep(now)

	e, ok := l.entries[key]
	if !ok {
		e = &entry{window: window}
		l.entries[key] = e
	}
	e.window = window
	e.prune(now)

	if len(e.accepted) >= max {
		return ErrRateLimited
	}

	e.accepted = append(e.accepted, now)
	return nil
}

// Len returns the number of tracked (ip, route) keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Sweep removes keys whose accepted calls have all aged out of their
// window. Returns the number of keys removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweep(l.clock())
}

// maybeSweep runs a full sweep when the map has grown large.
// Must be called with the lock held.
func (l *Limiter) maybeSweep(now time.Time) {
	l.checks++
	if len(l.entries) < sweepThreshold || l.checks < sweepThreshold {
		return
	}
	l.checks = 0
	l.sweep(now)
}

// sweep must be called with the lock held.
func (l *Limiter) sweep(now time.Time) int {
	removed := 0
	for key, e := range l.entries {
		e.prune(now)
		if len(e.accepted) == 0 {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// prune drops timestamps that have aged out of the window.
func (e *entry) prune(now time.Time) {
	cutoff := now.Add(-e.window)
	i := 0
	for i < len(e.accepted) && !e.accepted[i].After(cutoff) {
		i++
	}
	if i > 0 {
		e.accepted = append(e.accepted[:0], e.accepted[i:]...)
	}
}
