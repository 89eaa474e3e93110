// Sitelens - Privacy-First Web Analytics
// Copyright 2026 Sitelens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sitelens/sitelens

// Package metrics exposes Prometheus instrumentation for the ingestion
// pipeline: acceptance and rejection counts, rate limiting, geolocation
// lookups, and storage writer behavior.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion pipeline

	EventsAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_accepted_total",
			Help: "Total events accepted by the ingestion pipeline",
		},
		[]string{"kind"},
	)

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_rejected_total",
			Help: "Total events rejected, by rejection reason",
		},
		[]string{"reason"},
	)

	EventsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_events_deduplicated_total",
			Help: "Total unique events dropped as duplicates",
		},
	)

	// Rate limiting

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_hits_total",
			Help: "Total rate limit rejections, by route",
		},
		[]string{"route"},
	)

	// Geolocation

	GeoLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geo_lookups_total",
			Help: "Total geolocation lookups, by result (hit, miss, error, unavailable)",
		},
		[]string{"result"},
	)

	// Storage writer

	StorageRowsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storage_rows_written_total",
			Help: "Total rows flushed to the columnar store",
		},
	)

	StorageFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "storage_flush_duration_seconds",
			Help:    "Duration of storage batch flushes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	StorageFlushErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storage_flush_errors_total",
			Help: "Total failed storage batch flushes",
		},
	)

	StorageBufferSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "storage_buffer_rows",
			Help: "Rows currently buffered awaiting flush",
		},
	)

	// HTTP API

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "endpoint"},
	)
)
