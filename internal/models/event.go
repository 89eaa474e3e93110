// Sitelens - Privacy-First Web Analytics
// Copyright 2026 Sitelens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sitelens/sitelens

// Package models defines the data shapes shared across the ingestion
// pipeline: the client wire payload, the server-side enriched event, the
// geolocation record, and the storage row handed to the columnar writer.
package models

import (
	"time"
)

// EventKind discriminates the four beacon types the pipeline accepts.
type EventKind string

const (
	KindPageview    EventKind = "pageview"
	KindCustom      EventKind = "custom"
	KindError       EventKind = "error"
	KindPerformance EventKind = "performance"
)

// Valid reports whether the kind is one of the known beacon types.
func (k EventKind) Valid() bool {
	switch k {
	case KindPageview, KindCustom, KindError, KindPerformance:
		return true
	}
	return false
}

// EventPayload is the wire shape of one inbound beacon. Field names mirror
// the compact keys the tracking client sends; all optional strings are
// pointers so that absent and empty are distinguishable downstream.
type EventPayload struct {
	// PID is the project identifier. Required for every kind.
	PID string `json:"pid" validate:"required"`

	// EV is the custom event name. Required for custom events and must
	// match the event-name pattern.
	EV string `json:"ev,omitempty"`

	// Kind selects the beacon type. Empty defaults to pageview.
	Kind EventKind `json:"kind,omitempty"`

	// Unique requests at-most-one durable row per dedup key.
	Unique bool `json:"unique,omitempty"`

	TZ   *string `json:"tz,omitempty"`   // client timezone
	PG   *string `json:"pg,omitempty"`   // page path
	Prev *string `json:"prev,omitempty"` // previous page path (SPA navigation)
	Ref  *string `json:"ref,omitempty"`  // document referrer
	SO   *string `json:"so,omitempty"`   // utm_source
	ME   *string `json:"me,omitempty"`   // utm_medium
	CA   *string `json:"ca,omitempty"`   // utm_campaign
	TE   *string `json:"te,omitempty"`   // utm_term
	CO   *string `json:"co,omitempty"`   // utm_content
	LC   *string `json:"lc,omitempty"`   // locale

	// Meta is the custom metadata mapping. Decoded loosely so that the
	// validator can reject non-string values by name instead of failing
	// the whole decode; bounded by key count and total value length.
	Meta map[string]interface{} `json:"meta,omitempty"`

	// Error carries the error beacon details when Kind is "error".
	Error *ErrorDetails `json:"error,omitempty"`

	// Perf carries raw performance timings when Kind is "performance".
	Perf *PerformanceDetails `json:"perf,omitempty"`
}

// ErrorDetails describes a client-side error beacon.
type ErrorDetails struct {
	Name     string  `json:"name"`
	Message  *string `json:"message,omitempty"`
	Filename *string `json:"filename,omitempty"`
	Lineno   *int32  `json:"lineno,omitempty"`
	Colno    *int32  `json:"colno,omitempty"`
}

// PerformanceDetails carries raw navigation timings in fractional
// milliseconds as measured by the client. Rounding to integer milliseconds
// happens exactly once, in the row transformer.
type PerformanceDetails struct {
	DNS      float64 `json:"dns"`
	TLS      float64 `json:"tls"`
	Conn     float64 `json:"conn"`
	Response float64 `json:"response"`
	Render   float64 `json:"render"`
	DOMLoad  float64 `json:"dom_load"`
	PageLoad float64 `json:"page_load"`
	TTFB     float64 `json:"ttfb"`
}

// EnrichedEvent is the server-side projection of an accepted payload.
// It exists only for the duration of one request; the client IP it was
// derived from is never part of it.
type EnrichedEvent struct {
	Payload EventPayload

	// SessionID is the privacy-preserving session hash derived from the
	// request, used as the dedup key component for unique events.
	SessionID string

	// Geo holds the geolocation attributes resolved from the client IP.
	// All-null when the IP had no database match.
	Geo Geolocation

	// CreatedAt is assigned exactly once at acceptance, in UTC, by the
	// monotonic ingestion clock. Never client-supplied.
	CreatedAt time.Time
}
