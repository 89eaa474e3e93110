// Sitelens - Privacy-First Web Analytics
// Copyright 2026 Sitelens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sitelens/sitelens

// Package pipeline runs one inbound beacon through the full ingestion
// path: validation, rate limiting, session derivation, duplicate
// suppression, geolocation enrichment, row transformation, and handoff to
// the storage appender. The pipeline is stateless per request; all shared
// state lives in the injected collaborators.
package pipeline

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"github.com/sitelens/sitelens/internal/dedup"
	"github.com/sitelens/sitelens/internal/logging"
	"github.com/sitelens/sitelens/internal/metrics"
	"github.com/sitelens/sitelens/internal/models"
	"github.com/sitelens/sitelens/internal/ratelimit"
	"github.com/sitelens/sitelens/internal/validation"
)

// RouteEvents is the rate limiter route key for event ingestion.
const RouteEvents = "events"

// Appender receives finished rows for batched insertion. Accepting a row
// cannot fail: the storage writer buffers it and handles store failures
// with retries and its circuit breaker.
type Appender interface {
	Append(ctx context.Context, row models.StorageRow)
}

// GeoLookup resolves a normalized client address to its geolocation.
type GeoLookup interface {
	Lookup(addr netip.Addr) models.Geolocation
}

// Outcome reports what happened to an accepted-or-dropped beacon.
type Outcome int

const (
	// OutcomeAccepted means a row was handed to the appender.
	OutcomeAccepted Outcome = iota

	// OutcomeDuplicate means a unique event was dropped as already seen.
	// Duplicates are dropped, not errored.
	OutcomeDuplicate
)

// Config bounds the per-IP ingestion rate and the dedup retention.
type Config struct {
	// MaxRequests per window per client IP on the ingestion route.
	MaxRequests int

	// Window is the rate limit window.
	Window time.Duration

	// DedupTTL is how long a unique event's dedup key is remembered.
	// Zero defaults to dedup.DefaultTTL.
	DedupTTL time.Duration
}

// Pipeline wires the ingestion stages together.
type Pipeline struct {
	limiter  *ratelimit.Limiter
	sessions *Sessions
	store    dedup.Store
	geo      GeoLookup
	appender Appender
	clock    *Clock
	cfg      Config
}

// New creates a pipeline over the given collaborators.
func New(limiter *ratelimit.Limiter, sessions *Sessions, store dedup.Store, geo GeoLookup, appender Appender, cfg Config) *Pipeline {
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = dedup.DefaultTTL
	}
	return &Pipeline{
		limiter:  limiter,
		sessions: sessions,
		store:    store,
		geo:      geo,
		appender: appender,
		clock:    NewClock(),
		cfg:      cfg,
	}
}

// Process runs one beacon through the pipeline. addr is the normalized
// client address; userAgent is the raw request header. Validation and
// rate limit failures are returned as errors; a dropped duplicate is a
// successful OutcomeDuplicate.
func (p *Pipeline) Process(ctx context.Context, payload models.EventPayload, addr netip.Addr, userAgent string) (Outcome, error) {
	if payload.Kind == "" {
		payload.Kind = models.KindPageview
	}

	if err := validation.ValidatePayload(&payload); err != nil {
		metrics.EventsRejected.WithLabelValues(rejectionReason(err)).Inc()
		return 0, err
	}

	ip := addr.String()
	if err := p.limiter.Check(ip, RouteEvents, p.cfg.MaxRequests, p.cfg.Window); err != nil {
		metrics.RateLimitHits.WithLabelValues(RouteEvents).Inc()
		metrics.EventsRejected.WithLabelValues("rate_limited").Inc()
		return 0, err
	}

	sessionID := p.sessions.SessionID(payload.PID, ip, userAgent)

	if payload.Unique {
		key := dedup.Key{
			ProjectID: payload.PID,
			EventName: eventName(payload),
			SessionID: sessionID,
		}
		seen, err := p.store.Observe(ctx, key, p.cfg.DedupTTL)
		if err != nil {
			// Dedup store trouble must not lose events; accept and risk a
			// duplicate row rather than dropping real traffic.
			logging.Error().Err(err).Msg("dedup store unavailable, accepting without dedup")
		} else if seen {
			metrics.EventsDeduplicated.Inc()
			return OutcomeDuplicate, nil
		}
	}

	enriched := models.EnrichedEvent{
		Payload:   payload,
		SessionID: sessionID,
		Geo:       p.geo.Lookup(addr),
		CreatedAt: p.clock.Now(),
	}

	row, err := Transform(enriched)
	if err != nil {
		metrics.EventsRejected.WithLabelValues("transform").Inc()
		return 0, err
	}

	p.appender.Append(ctx, row)

	metrics.EventsAccepted.WithLabelValues(string(payload.Kind)).Inc()
	return OutcomeAccepted, nil
}

// eventName returns the dedup key's event name component. Pageview and
// other non-custom kinds dedup under their kind name.
func eventName(p models.EventPayload) string {
	if p.Kind == models.KindCustom {
		return p.EV
	}
	return string(p.Kind)
}

// rejectionReason maps a named validation failure to its metric label.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, validation.ErrMissingProjectID):
		return "missing_project_id"
	case errors.Is(err, validation.ErrInvalidEventName):
		return "event_name"
	case errors.Is(err, validation.ErrInvalidKind):
		return "kind"
	case errors.Is(err, validation.ErrMissingErrorName), errors.Is(err, validation.ErrMissingTimings):
		return "missing_details"
	case errors.Is(err, validation.ErrMetadataTooManyKeys),
		errors.Is(err, validation.ErrMetadataValueTooLong),
		errors.Is(err, validation.ErrMetadataNonString):
		return "metadata"
	default:
		return "other"
	}
}
