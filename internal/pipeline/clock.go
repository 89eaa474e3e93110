// Sitelens - Privacy-First Web Analytics
// Copyright 2026 Sitelens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sitelens/sitelens

package pipeline

import (
	"sync"
	"time"
)

// TimestampFormat is the single acceptance-time format used across all
// event kinds. Always UTC.
const TimestampFormat = "2006-01-02 15:04:05"

// Clock assigns acceptance timestamps. Within one process the returned
// times never decrease for events accepted in arrival order, even if the
// wall clock steps backwards (NTP adjustment, VM migration); downstream
// time-bucketing depends on this.
type Clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewClock creates a clock backed by the wall clock.
func NewClock() *Clock {
	return NewClockWith(time.Now)
}

// NewClockWith creates a clock with an injectable time source, for tests.
func NewClockWith(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the current acceptance time in UTC, clamped to be
// non-decreasing.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC()
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}

// FormatTimestamp renders an acceptance time in the canonical row format.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}
