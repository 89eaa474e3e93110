// Sitelens - Privacy-First Web Analytics
// Copyright 2026 Sitelens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sitelens/sitelens

// Package api provides the HTTP surface of the ingestion service: the
// event beacon endpoint, the public IP lookup tool, and health probes.
package api

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"time"

	"github.com/goccy/go-json"

	"github.com/sitelens/sitelens/internal/config"
	"github.com/sitelens/sitelens/internal/logging"
	"github.com/sitelens/sitelens/internal/metrics"
	"github.com/sitelens/sitelens/internal/models"
	"github.com/sitelens/sitelens/internal/pipeline"
	"github.com/sitelens/sitelens/internal/ratelimit"
	"github.com/sitelens/sitelens/internal/validation"
)

// RouteIPLookup is the rate limiter route key for the IP lookup tool.
const RouteIPLookup = "ip_lookup"

// maxBeaconBytes bounds the request body. Beacons are small; anything
// larger is abuse.
const maxBeaconBytes = 64 << 10

// eventProcessor runs one beacon through the ingestion pipeline.
type eventProcessor interface {
	Process(ctx context.Context, payload models.EventPayload, addr netip.Addr, userAgent string) (pipeline.Outcome, error)
}

// ipResolver serves the public IP lookup tool.
type ipResolver interface {
	LookupString(raw string) (models.IPLookupResult, error)
	Loaded() bool
}

// bufferReporter exposes the storage writer's backlog for health checks.
type bufferReporter interface {
	BufferLen() int
}

// Handler holds the HTTP handlers and their collaborators.
type Handler struct {
	processor eventProcessor
	resolver  ipResolver
	limiter   *ratelimit.Limiter
	writer    bufferReporter
	ipCfg     config.IPLookupConfig
}

// NewHandler creates the handler set.
func NewHandler(processor eventProcessor, resolver ipResolver, limiter *ratelimit.Limiter, writer bufferReporter, ipCfg config.IPLookupConfig) *Handler {
	return &Handler{
		processor: processor,
		resolver:  resolver,
		limiter:   limiter,
		writer:    writer,
		ipCfg:     ipCfg,
	}
}

// Events accepts one event beacon. Validation failures return 400 with
// the violated constraint; rate limiting returns 429 so clients can tell
// the two apart. Accepted and deduplicated beacons both return 202.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	addr, err := clientAddr(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, models.CodeValidationError, "Could not determine client address")
		return
	}

	var payload models.EventPayload
	body := http.MaxBytesReader(w, r.Body, maxBeaconBytes)
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		metrics.EventsRejected.WithLabelValues("malformed_json").Inc()
		respondError(w, http.StatusBadRequest, models.CodeValidationError, "Request body must be a single JSON event")
		return
	}

	outcome, err := h.processor.Process(r.Context(), payload, addr, r.UserAgent())
	switch {
	case err == nil:
	case errors.Is(err, ratelimit.ErrRateLimited):
		respondError(w, http.StatusTooManyRequests, models.CodeRateLimited, "Too many requests")
		return
	case isValidationError(err):
		respondError(w, http.StatusBadRequest, models.CodeValidationError, err.Error())
		return
	default:
		logging.Error().Err(err).Str("pid", sanitizeLogValue(payload.PID)).Msg("event processing failed")
		respondError(w, http.StatusInternalServerError, models.CodeInternalError, "Event could not be processed")
		return
	}

	result := "accepted"
	if outcome == pipeline.OutcomeDuplicate {
		result = "duplicate"
	}
	respondSuccess(w, http.StatusAccepted, map[string]string{"outcome": result})
}

// IPLookup resolves an IP to its geographic attributes. The ip query
// parameter is optional; without it the request's own source IP is used.
// An unparseable IP is a validation error, never a 200 with null fields.
func (h *Handler) IPLookup(w http.ResponseWriter, r *http.Request) {
	addr, err := clientAddr(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, models.CodeValidationError, "Could not determine client address")
		return
	}

	if err := h.limiter.Check(addr.String(), RouteIPLookup, h.ipCfg.MaxRequests, h.ipCfg.Window); err != nil {
		metrics.RateLimitHits.WithLabelValues(RouteIPLookup).Inc()
		respondError(w, http.StatusTooManyRequests, models.CodeRateLimited, "Too many requests")
		return
	}

	target := r.URL.Query().Get("ip")
	if target == "" {
		target = addr.String()
	}

	result, err := h.resolver.LookupString(target)
	if err != nil {
		respondError(w, http.StatusBadRequest, models.CodeValidationError, "Invalid IP address")
		return
	}

	respondSuccess(w, http.StatusOK, result)
}

// Health reports liveness plus degraded-state details.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"geo_loaded":    h.resolver.Loaded(),
		"buffered_rows": h.writer.BufferLen(),
		"time":          time.Now().UTC().Format(time.RFC3339),
	})
}

// Live reports process liveness. Always 200 while the listener runs.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Ready reports whether the service should receive traffic. The geo
// database being absent degrades enrichment but does not fail readiness;
// it is reported so orchestrators can surface the degraded state.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"status":        "ready",
		"geo_loaded":    h.resolver.Loaded(),
		"buffered_rows": h.writer.BufferLen(),
	})
}

// validationErrors are the named payload failures mapped to HTTP 400.
var validationErrors = []error{
	validation.ErrMissingProjectID,
	validation.ErrInvalidEventName,
	validation.ErrInvalidKind,
	validation.ErrMissingErrorName,
	validation.ErrMissingTimings,
	validation.ErrMetadataTooManyKeys,
	validation.ErrMetadataValueTooLong,
	validation.ErrMetadataNonString,
}

// isValidationError reports whether the pipeline rejected the beacon for
// a client-correctable reason.
func isValidationError(err error) bool {
	for _, v := range validationErrors {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}
