// Sitelens - Privacy-First Web Analytics
// Copyright 2026 Sitelens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sitelens/sitelens

package models

// Table names in the columnar store, one per event kind.
const (
	TablePageviews    = "pageviews"
	TableCustomEvents = "custom_events"
	TableErrors       = "errors"
	TablePerformance  = "performance"
)

// geoColumns is the shared geolocation column block, appended to every
// table in this exact order.
var geoColumns = []string{
	"country",
	"country_name",
	"city",
	"region",
	"region_code",
	"continent_code",
	"continent_name",
	"postal_code",
	"latitude",
	"longitude",
	"geo_timezone",
	"is_eu",
	"ip_version",
}

// tableColumns fixes the column order per table. The storage engine keys
// compression off this order, so it is part of the write contract: absent
// optional fields are written as nil in place, never omitted.
var tableColumns = map[string][]string{
	TablePageviews: appendGeo([]string{
		"pid", "sid", "pg", "prev", "ref", "so", "me", "ca", "te", "co",
		"lc", "tz", "unique",
	}, "meta_key", "meta_value", "created"),
	TableCustomEvents: appendGeo([]string{
		"pid", "sid", "ev", "unique", "pg", "ref", "so", "me", "ca", "te",
		"co", "lc", "tz",
	}, "meta_key", "meta_value", "created"),
	TableErrors: appendGeo([]string{
		"pid", "sid", "pg", "lc", "tz", "name", "message", "filename",
		"lineno", "colno",
	}, "created"),
	TablePerformance: appendGeo([]string{
		"pid", "sid", "pg", "dns", "tls", "conn", "response", "render",
		"dom_load", "page_load", "ttfb",
	}, "created"),
}

func appendGeo(prefix []string, suffix ...string) []string {
	cols := make([]string, 0, len(prefix)+len(geoColumns)+len(suffix))
	cols = append(cols, prefix...)
	cols = append(cols, geoColumns...)
	cols = append(cols, suffix...)
	return cols
}

// Columns returns the fixed column order for a table, or nil for an
// unknown table.
func Columns(table string) []string {
	return tableColumns[table]
}

// StorageRow is the flattened, column-ordered projection of one accepted
// event, ready for a columnar batch insert. Values align one-to-one with
// Columns(Table).
type StorageRow struct {
	Table  string
	Values []interface{}
}
