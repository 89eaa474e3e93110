// Sitelens - Privacy-First Web Analytics
// Copyright 2026 Sitelens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sitelens/sitelens

package pipeline

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Sessions derives privacy-preserving session identifiers. The identifier
// is a hash over (project, client IP, user agent) and a salt that rotates
// every UTC day, so the same visitor hashes to the same session within a
// day but cannot be correlated across days, and the raw IP is never
// stored.
//
// The salt is random and kept only in memory. Restarting the process
// starts a fresh session space, which at worst over-counts sessions for
// one day.
type Sessions struct {
	mu      sync.Mutex
	salt    []byte
	saltDay string
	now     func() time.Time
}

// NewSessions creates a session deriver using the wall clock.
func NewSessions() *Sessions {
	return NewSessionsWith(time.Now)
}

// NewSessionsWith creates a session deriver with an injectable clock,
// for tests.
func NewSessionsWith(now func() time.Time) *Sessions {
	return &Sessions{now: now}
}

// SessionID returns the session hash for one request.
func (s *Sessions) SessionID(projectID, ip, userAgent string) string {
	salt := s.currentSalt()

	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(projectID))
	h.Write([]byte{0})
	h.Write([]byte(ip))
	h.Write([]byte{0})
	h.Write([]byte(userAgent))
	return hex.EncodeToString(h.Sum(nil))
}

// currentSalt returns the salt for today, rotating it when the UTC day
// changes.
func (s *Sessions) currentSalt() []byte {
	day := s.now().UTC().Format("2006-01-02")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saltDay != day {
		salt := make([]byte, 32)
		// rand.Read never fails on supported platforms.
		_, _ = rand.Read(salt)
		s.salt = salt
		s.saltDay = day
	}
	return s.salt
}
