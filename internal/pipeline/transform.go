// Sitelens - Privacy-First Web Analytics
// Copyright 2026 Sitelens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sitelens/sitelens

package pipeline

import (
	"fmt"
	"math"
	"sort"

	"github.com/sitelens/sitelens/internal/models"
)

// Transform deterministically converts an enriched event into the
// column-ordered row for its kind's table. Absent optional fields become
// nil in place; columns are never omitted. Transforming the same event
// twice yields identical rows.
func Transform(ev models.EnrichedEvent) (models.StorageRow, error) {
	kind := ev.Payload.Kind
	if kind == "" {
		kind = models.KindPageview
	}

	switch kind {
	case models.KindPageview:
		return pageviewRow(ev), nil
	case models.KindCustom:
		return customEventRow(ev), nil
	case models.KindError:
		return errorRow(ev)
	case models.KindPerformance:
		return performanceRow(ev)
	default:
		return models.StorageRow{}, fmt.Errorf("unknown event kind %q", kind)
	}
}

func pageviewRow(ev models.EnrichedEvent) models.StorageRow {
	p := ev.Payload
	values := []interface{}{
		p.PID, ev.SessionID, p.PG, p.Prev, p.Ref, p.SO, p.ME, p.CA, p.TE,
		p.CO, p.LC, p.TZ, p.Unique,
	}
	values = appendGeoValues(values, ev.Geo)
	metaKeys, metaValues := flattenMeta(p.Meta)
	values = append(values, metaKeys, metaValues, FormatTimestamp(ev.CreatedAt))

	return models.StorageRow{Table: models.TablePageviews, Values: values}
}

func customEventRow(ev models.EnrichedEvent) models.StorageRow {
	p := ev.Payload
	values := []interface{}{
		p.PID, ev.SessionID, p.EV, p.Unique, p.PG, p.Ref, p.SO, p.ME, p.CA,
		p.TE, p.CO, p.LC, p.TZ,
	}
	values = appendGeoValues(values, ev.Geo)
	metaKeys, metaValues := flattenMeta(p.Meta)
	values = append(values, metaKeys, metaValues, FormatTimestamp(ev.CreatedAt))

	return models.StorageRow{Table: models.TableCustomEvents, Values: values}
}

func errorRow(ev models.EnrichedEvent) (models.StorageRow, error) {
	p := ev.Payload
	if p.Error == nil {
		return models.StorageRow{}, fmt.Errorf("error event without error details")
	}

	values := []interface{}{
		p.PID, ev.SessionID, p.PG, p.LC, p.TZ,
		p.Error.Name, p.Error.Message, p.Error.Filename, p.Error.Lineno,
		p.Error.Colno,
	}
	values = appendGeoValues(values, ev.Geo)
	values = append(values, FormatTimestamp(ev.CreatedAt))

	return models.StorageRow{Table: models.TableErrors, Values: values}, nil
}

func performanceRow(ev models.EnrichedEvent) (models.StorageRow, error) {
	p := ev.Payload
	if p.Perf == nil {
		return models.StorageRow{}, fmt.Errorf("performance event without timings")
	}

	// Raw timings arrive as fractional milliseconds and are rounded to
	// integers exactly once, here.
	values := []interface{}{
		p.PID, ev.SessionID, p.PG,
		roundMillis(p.Perf.DNS), roundMillis(p.Perf.TLS),
		roundMillis(p.Perf.Conn), roundMillis(p.Perf.Response),
		roundMillis(p.Perf.Render), roundMillis(p.Perf.DOMLoad),
		roundMillis(p.Perf.PageLoad), roundMillis(p.Perf.TTFB),
	}
	values = appendGeoValues(values, ev.Geo)
	values = append(values, FormatTimestamp(ev.CreatedAt))

	return models.StorageRow{Table: models.TablePerformance, Values: values}, nil
}

// appendGeoValues appends the shared geolocation column block. Pointer
// fields pass through so absent attributes stay null.
func appendGeoValues(values []interface{}, g models.Geolocation) []interface{} {
	return append(values,
		g.Country, g.CountryName, g.City, g.Region, g.RegionCode,
		g.ContinentCode, g.ContinentName, g.PostalCode, g.Latitude,
		g.Longitude, g.Timezone, g.IsInEU, g.IPVersion,
	)
}

// flattenMeta splits the metadata mapping into parallel key and value
// sequences ordered by key. Both are nil together when there is no
// metadata; the storage engine distinguishes null from empty arrays.
func flattenMeta(meta map[string]interface{}) (interface{}, interface{}) {
	if len(meta) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([]string, len(keys))
	for i, k := range keys {
		// The validator guarantees string values before transform runs.
		s, _ := meta[k].(string)
		values[i] = s
	}
	return keys, values
}

// roundMillis rounds a fractional-millisecond timing to an integer.
// Negative timings (clock skew in the client's measurements) clamp to 0.
func roundMillis(ms float64) int32 {
	if ms < 0 || math.IsNaN(ms) {
		return 0
	}
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(math.Round(ms))
}
