// Sitelens - Privacy-First Web Analytics
// Copyright 2026 Sitelens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sitelens/sitelens

package geo

import (
	"context"
	"os"
	"time"

	"github.com/sitelens/sitelens/internal/logging"
)

// Refresher watches the database file for out-of-band replacement and
// reloads the enricher when the file changes. The sync job that downloads
// the database runs in a separate process and replaces the file with an
// atomic rename, so observing a new mtime or size is sufficient.
//
// Refresher implements suture.Service.
type Refresher struct {
	enricher *Enricher
	interval time.Duration

	// reload defaults to the enricher's Reload. Test hook.
	reload func() error

	lastMod  time.Time
	lastSize int64
}

// NewRefresher creates a refresher polling at the given interval.
// An interval of zero defaults to one minute.
func NewRefresher(enricher *Enricher, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Refresher{enricher: enricher, interval: interval, reload: enricher.Reload}
}

// Serve polls until the context is cancelled.
func (r *Refresher) Serve(ctx context.Context) error {
	// Seed state so an unchanged file doesn't trigger an initial reload.
	r.observe()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.checkOnce()
		}
	}
}

// String names the service in supervisor logs.
func (r *Refresher) String() string {
	return "geo-refresher"
}

// checkOnce reloads the database if the file changed since the last check.
func (r *Refresher) checkOnce() {
	changed, err := r.changed()
	if err != nil {
		logging.Debug().Err(err).Str("path", r.enricher.path).
			Msg("geolocation database stat failed")
		return
	}
	if !changed {
		return
	}

	if err := r.reload(); err != nil {
		logging.Warn().Err(err).Str("path", r.enricher.path).
			Msg("geolocation database reload failed, keeping previous handle")
		return
	}
	r.observe()
}

// changed reports whether the file differs from the last observation.
// Also true when the enricher has no handle yet and the file now exists.
func (r *Refresher) changed() (bool, error) {
	info, err := os.Stat(r.enricher.path)
	if err != nil {
		return false, err
	}

	if !r.enricher.Loaded() {
		return true, nil
	}
	return info.ModTime() != r.lastMod || info.Size() != r.lastSize, nil
}

// observe records the file's current mtime and size.
func (r *Refresher) observe() {
	info, err := os.Stat(r.enricher.path)
	if err != nil {
		return
	}
	r.lastMod = info.ModTime()
	r.lastSize = info.Size()
}
