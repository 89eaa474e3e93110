// Sitelens - Privacy-First Web Analytics
// Copyright 2026 Sitelens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sitelens/sitelens

// Package tracker is the client-side tracking library. It builds event
// beacons from page lifecycle signals and explicit calls and submits
// them to the ingestion endpoint.
//
// Tracking is strictly best-effort: network failures are swallowed and
// never surface to the host application. Do-Not-Track, detected
// automation, and an explicit disable are absorbing states that turn
// every later call into a no-op.
package tracker

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/sitelens/sitelens/internal/logging"
	"github.com/sitelens/sitelens/internal/models"
)

// DefaultDebounce is how long navigation must stay quiet before a page
// view fires. Router redirect chains collapse into a single event.
const DefaultDebounce = 150 * time.Millisecond

// Options configures a tracker instance.
type Options struct {
	// Endpoint is the ingestion URL.
	Endpoint string

	// Disabled turns every call into a no-op.
	Disabled bool

	// Environment holds the page signals sampled at session start.
	Environment Environment

	// Debounce overrides DefaultDebounce. Zero keeps the default.
	Debounce time.Duration

	// Debug logs swallowed submission failures.
	Debug bool

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Factory owns one tracker per project. A second Get for the same
// project returns the existing instance, matching the one-instance-per
// page-load contract; tests create their own factory to reset state.
type Factory struct {
	mu       sync.Mutex
	trackers map[string]*Tracker
}

// NewFactory creates an empty factory.
func NewFactory() *Factory {
	return &Factory{trackers: make(map[string]*Tracker)}
}

// Get returns the tracker for the project, creating it on first call.
// Later calls ignore opts and return the existing instance.
func (f *Factory) Get(projectID string, opts Options) *Tracker {
	f.mu.Lock()
	defer f.mu.Unlock()

	if t, ok := f.trackers[projectID]; ok {
		return t
	}
	t := newTracker(projectID, opts)
	f.trackers[projectID] = t
	return t
}

// Tracker submits beacons for one project.
type Tracker struct {
	projectID string
	opts      Options
	client    *http.Client

	// disabled absorbs every call once set. Entered at construction for
	// DNT, automation, or an explicit disable.
	disabled bool

	mu          sync.Mutex
	currentPath string
	firstView   bool
	ready       bool
	pendingPath string
	hasPending  bool
	debounce    *time.Timer
}

func newTracker(projectID string, opts Options) *Tracker {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Tracker{
		projectID: projectID,
		opts:      opts,
		client:    client,
		disabled:  opts.Disabled || opts.Environment.DoNotTrack || opts.Environment.Automated,
		firstView: true,
	}
}

// Disabled reports whether the tracker is in an absorbing no-op state.
func (t *Tracker) Disabled() bool {
	return t.disabled
}

// Track submits a custom event. No-op when disabled.
func (t *Tracker) Track(eventName string, unique bool, meta map[string]string) {
	if t.disabled {
		return
	}

	t.mu.Lock()
	path := t.currentPath
	t.mu.Unlock()

	payload := t.basePayload(models.KindCustom, path)
	payload.EV = eventName
	payload.Unique = unique
	if len(meta) > 0 {
		payload.Meta = make(map[string]interface{}, len(meta))
		for k, v := range meta {
			payload.Meta[k] = v
		}
	}
	t.submit(payload)
}

// TrackPageview submits a page view directly, bypassing navigation
// detection. Routing systems the automatic detector does not understand
// call this on their own route-change hooks.
func (t *Tracker) TrackPageview(path, previousPath string, unique bool) {
	if t.disabled {
		return
	}

	t.mu.Lock()
	t.currentPath = path
	first := t.firstView
	t.firstView = false
	t.mu.Unlock()

	payload := t.basePayload(models.KindPageview, path)
	payload.Unique = unique
	if previousPath != "" && !first {
		payload.Prev = strPtr(previousPath)
	}
	t.submit(payload)
}

// TrackPageviews watches a stream of path changes, feeding each into the
// debounced navigation handler, until the channel closes or the context
// is cancelled. This is the automatic SPA mode; hosts with their own
// route-change hooks call TrackPageview directly instead.
func (t *Tracker) TrackPageviews(ctx context.Context, paths <-chan string) {
	if t.disabled {
		return
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case path, ok := <-paths:
				if !ok {
					return
				}
				t.Navigate(path)
			}
		}
	}()
}

// Ready marks the page as fully loaded. The first automatic page view
// waits for this signal so performance timings sampled at that point are
// accurate; a navigation observed earlier is released now.
func (t *Tracker) Ready() {
	if t.disabled {
		return
	}

	t.mu.Lock()
	t.ready = true
	pending, has := t.pendingPath, t.hasPending
	t.pendingPath, t.hasPending = "", false
	t.mu.Unlock()

	if has {
		t.scheduleView(pending)
	}
}

// Navigate reports an SPA path change. Rapid back-to-back changes
// (router redirects) are debounced into a single page view for the final
// path. Before Ready, the latest path is held until the page completes
// loading.
func (t *Tracker) Navigate(path string) {
	if t.disabled {
		return
	}

	t.mu.Lock()
	if !t.ready {
		t.pendingPath, t.hasPending = path, true
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	t.scheduleView(path)
}

// scheduleView resets the debounce timer for the given path. The timer
// fires once navigation has been quiet for the debounce interval.
func (t *Tracker) scheduleView(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pendingPath = path
	if t.debounce != nil {
		t.debounce.Stop()
	}
	t.debounce = time.AfterFunc(t.opts.Debounce, t.fireView)
}

// fireView emits the debounced page view.
func (t *Tracker) fireView() {
	t.mu.Lock()
	path := t.pendingPath
	prev := t.currentPath
	first := t.firstView
	if path == prev && !first {
		// Same-path signal, nothing to report.
		t.mu.Unlock()
		return
	}
	t.currentPath = path
	t.firstView = false
	t.mu.Unlock()

	payload := t.basePayload(models.KindPageview, path)
	if prev != "" && !first {
		payload.Prev = strPtr(prev)
	}
	t.submit(payload)
}

// basePayload fills the fields shared by every beacon from the cached
// environment.
func (t *Tracker) basePayload(kind models.EventKind, path string) models.EventPayload {
	env := t.opts.Environment
	p := models.EventPayload{
		PID:  t.projectID,
		Kind: kind,
	}
	if path != "" {
		p.PG = strPtr(path)
	}
	if env.Referrer != "" {
		p.Ref = strPtr(env.Referrer)
	}
	if env.Locale != "" {
		p.LC = strPtr(env.Locale)
	}
	if env.Timezone != "" {
		p.TZ = strPtr(env.Timezone)
	}
	if env.UTMSource != "" {
		p.SO = strPtr(env.UTMSource)
	}
	if env.UTMMedium != "" {
		p.ME = strPtr(env.UTMMedium)
	}
	if env.UTMCampaign != "" {
		p.CA = strPtr(env.UTMCampaign)
	}
	if env.UTMTerm != "" {
		p.TE = strPtr(env.UTMTerm)
	}
	if env.UTMContent != "" {
		p.CO = strPtr(env.UTMContent)
	}
	return p
}

// submit posts one beacon. Failures never surface to the host
// application; they are logged only in debug mode.
func (t *Tracker) submit(payload models.EventPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		if t.opts.Debug {
			logging.Debug().Err(err).Msg("tracker: marshal beacon")
		}
		return
	}

	resp, err := t.client.Post(t.opts.Endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		if t.opts.Debug {
			logging.Debug().Err(err).Msg("tracker: beacon submission failed")
		}
		return
	}
	defer resp.Body.Close()

	if t.opts.Debug && resp.StatusCode >= 400 {
		logging.Debug().Int("status", resp.StatusCode).Msg("tracker: beacon rejected")
	}
}

func strPtr(s string) *string {
	return &s
}
