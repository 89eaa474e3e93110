// Sitelens - Privacy-First Web Analytics
// Copyright 2026 Sitelens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sitelens/sitelens

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sitelens/sitelens/internal/config"
	"github.com/sitelens/sitelens/internal/middleware"
)

// NewRouter assembles the HTTP routes.
//
// The ingestion and lookup endpoints carry their precise per-route
// limits inside the handlers; the httprate layers here are a coarse
// outer bound against floods that should not reach handler code at all.
func NewRouter(h *Handler, cfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         86400,
	}))
	r.Use(middleware.SecurityHeaders)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics)
		r.Use(httprate.LimitByRealIP(1200, time.Minute))

		r.Post("/events", h.Events)
		r.Get("/ip", h.IPLookup)
		r.Get("/health", h.Health)
		r.Get("/health/live", h.Live)
		r.Get("/health/ready", h.Ready)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
