// Sitelens - Privacy-First Web Analytics
// Copyright 2026 Sitelens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sitelens/sitelens

package pipeline

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/sitelens/sitelens/internal/dedup"
	"github.com/sitelens/sitelens/internal/models"
	"github.com/sitelens/sitelens/internal/ratelimit"
	"github.com/sitelens/sitelens/internal/validation"
)

type captureAppender struct {
	rows []models.StorageRow
}

func (a *captureAppender) Append(ctx context.Context, row models.StorageRow) {
	a.rows = append(a.rows, row)
}

type fixedGeo struct {
	geo models.Geolocation
}

func (f *fixedGeo) Lookup(addr netip.Addr) models.Geolocation {
	return f.geo
}

func newTestPipeline(appender *captureAppender, cfg Config) *Pipeline {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 100
	}
	if cfg.Window == 0 {
		cfg.Window = time.Minute
	}
	country := "US"
	return New(
		ratelimit.New(),
		NewSessions(),
		dedup.NewMemoryStore(),
		&fixedGeo{geo: models.Geolocation{Country: &country, IPVersion: 4}},
		appender,
		cfg,
	)
}

func pageviewPayload() models.EventPayload {
	pg := "/docs"
	return models.EventPayload{PID: "abc123", PG: &pg}
}

func TestProcess_AcceptsPageview(t *testing.T) {
	appender := &captureAppender{}
	p := newTestPipeline(appender, Config{})
	addr := netip.MustParseAddr("1.1.1.1")

	outcome, err := p.Process(context.Background(), pageviewPayload(), addr, "Mozilla/5.0")
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeAccepted {
		t.Fatalf("outcome = %v, want accepted", outcome)
	}
	if len(appender.rows) != 1 {
		t.Fatalf("rows appended = %d, want 1", len(appender.rows))
	}

	row := appender.rows[0]
	if row.Table != models.TablePageviews {
		t.Errorf("table = %q", row.Table)
	}

	cols := models.Columns(row.Table)
	if got := row.Values[indexOf(cols, "pid")]; got != "abc123" {
		t.Errorf("pid = %v", got)
	}
	if got := *row.Values[indexOf(cols, "pg")].(*string); got != "/docs" {
		t.Errorf("pg = %q", got)
	}
	if ref := row.Values[indexOf(cols, "ref")].(*string); ref != nil {
		t.Errorf("ref = %v, want nil", ref)
	}
	if country := *row.Values[indexOf(cols, "country")].(*string); country != "US" {
		t.Errorf("country = %q, want US from enrichment", country)
	}
	if created := row.Values[indexOf(cols, "created")].(string); created == "" {
		t.Error("created must be set")
	}
	if sid := row.Values[indexOf(cols, "sid")].(string); sid == "" {
		t.Error("session id must be set")
	}
}

func TestProcess_RejectsInvalidPayload(t *testing.T) {
	appender := &captureAppender{}
	p := newTestPipeline(appender, Config{})
	addr := netip.MustParseAddr("1.1.1.1")

	payload := pageviewPayload()
	payload.PID = ""

	_, err := p.Process(context.Background(), payload, addr, "ua")
	if !errors.Is(err, validation.ErrMissingProjectID) {
		t.Errorf("err = %v, want ErrMissingProjectID", err)
	}
	if len(appender.rows) != 0 {
		t.Error("invalid payload must not reach the appender")
	}
}

func TestProcess_RateLimitsPerIP(t *testing.T) {
	appender := &captureAppender{}
	p := newTestPipeline(appender, Config{MaxRequests: 3, Window: time.Minute})
	addr := netip.MustParseAddr("1.1.1.1")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := p.Process(ctx, pageviewPayload(), addr, "ua"); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}

	_, err := p.Process(ctx, pageviewPayload(), addr, "ua")
	if !errors.Is(err, ratelimit.ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited", err)
	}

	// A different IP is unaffected.
	other := netip.MustParseAddr("2.2.2.2")
	if _, err := p.Process(ctx, pageviewPayload(), other, "ua"); err != nil {
		t.Errorf("other IP rejected: %v", err)
	}
}

func TestProcess_UniqueEventDeduplicated(t *testing.T) {
	appender := &captureAppender{}
	p := newTestPipeline(appender, Config{})
	addr := netip.MustParseAddr("1.1.1.1")
	ctx := context.Background()

	payload := models.EventPayload{
		PID:    "abc123",
		Kind:   models.KindCustom,
		EV:     "signup",
		Unique: true,
	}

	outcome, err := p.Process(ctx, payload, addr, "ua")
	if err != nil || outcome != OutcomeAccepted {
		t.Fatalf("first call = (%v, %v), want accepted", outcome, err)
	}

	outcome, err = p.Process(ctx, payload, addr, "ua")
	if err != nil {
		t.Fatalf("duplicate must not error: %v", err)
	}
	if outcome != OutcomeDuplicate {
		t.Errorf("outcome = %v, want duplicate", outcome)
	}
	if len(appender.rows) != 1 {
		t.Errorf("rows appended = %d, want 1", len(appender.rows))
	}

	// A different session (different IP) counts again.
	other := netip.MustParseAddr("3.3.3.3")
	outcome, err = p.Process(ctx, payload, other, "ua")
	if err != nil || outcome != OutcomeAccepted {
		t.Errorf("different session = (%v, %v), want accepted", outcome, err)
	}
}

func TestProcess_NonUniqueEventsAlwaysStored(t *testing.T) {
	appender := &captureAppender{}
	p := newTestPipeline(appender, Config{})
	addr := netip.MustParseAddr("1.1.1.1")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := p.Process(ctx, pageviewPayload(), addr, "ua"); err != nil {
			t.Fatal(err)
		}
	}
	if len(appender.rows) != 3 {
		t.Errorf("rows appended = %d, want 3", len(appender.rows))
	}
}

func TestProcess_CreatedAtMonotonic(t *testing.T) {
	appender := &captureAppender{}
	p := newTestPipeline(appender, Config{})
	addr := netip.MustParseAddr("1.1.1.1")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := p.Process(ctx, pageviewPayload(), addr, "ua"); err != nil {
			t.Fatal(err)
		}
	}

	cols := models.Columns(models.TablePageviews)
	idx := indexOf(cols, "created")
	prev := ""
	for i, row := range appender.rows {
		created := row.Values[idx].(string)
		if created < prev {
			t.Errorf("row %d created %q before previous %q", i, created, prev)
		}
		prev = created
	}
}
