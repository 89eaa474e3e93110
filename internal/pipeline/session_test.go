// Sitelens - Privacy-First Web Analytics
// Copyright 2026 Sitelens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sitelens/sitelens

package pipeline

import (
	"testing"
	"time"
)

func TestSessions_StableWithinDay(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewSessionsWith(func() time.Time { return now })

	a := s.SessionID("p1", "1.2.3.4", "Mozilla/5.0")
	now = now.Add(6 * time.Hour)
	b := s.SessionID("p1", "1.2.3.4", "Mozilla/5.0")

	if a != b {
		t.Error("same visitor hashed differently within one day")
	}
	if len(a) != 64 {
		t.Errorf("session id length = %d, want 64 hex chars", len(a))
	}
}

func TestSessions_RotatesAcrossDays(t *testing.T) {
	now := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	s := NewSessionsWith(func() time.Time { return now })

	a := s.SessionID("p1", "1.2.3.4", "Mozilla/5.0")
	now = now.Add(2 * time.Hour) // crosses midnight UTC
	b := s.SessionID("p1", "1.2.3.4", "Mozilla/5.0")

	if a == b {
		t.Error("session id did not rotate across the UTC day boundary")
	}
}

func TestSessions_InputsAreIndependent(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewSessionsWith(func() time.Time { return now })

	base := s.SessionID("p1", "1.2.3.4", "Mozilla/5.0")
	variants := []string{
		s.SessionID("p2", "1.2.3.4", "Mozilla/5.0"),
		s.SessionID("p1", "1.2.3.5", "Mozilla/5.0"),
		s.SessionID("p1", "1.2.3.4", "curl/8.0"),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d collided with base session id", i)
		}
	}
}

func TestSessions_FieldBoundariesDoNotCollide(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewSessionsWith(func() time.Time { return now })

	// Without separators "ab"+"c" and "a"+"bc" would hash identically.
	a := s.SessionID("ab", "c", "ua")
	b := s.SessionID("a", "bc", "ua")
	if a == b {
		t.Error("field boundary collision in session hash")
	}
}
