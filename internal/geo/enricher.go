// Sitelens - Privacy-First Web Analytics
// Copyright 2026 Sitelens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sitelens/sitelens

package geo

import (
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/oschwald/maxminddb-golang"

	"github.com/sitelens/sitelens/internal/logging"
	"github.com/sitelens/sitelens/internal/metrics"
	"github.com/sitelens/sitelens/internal/models"
)

// cityRecord is the subset of the mmdb city schema the enricher decodes.
type cityRecord struct {
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Continent struct {
		Code  string            `maxminddb:"code"`
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"continent"`
	Country struct {
		ISOCode           string            `maxminddb:"iso_code"`
		IsInEuropeanUnion bool              `maxminddb:"is_in_european_union"`
		Names             map[string]string `maxminddb:"names"`
	} `maxminddb:"country"`
	Location struct {
		Latitude  float64 `maxminddb:"latitude"`
		Longitude float64 `maxminddb:"longitude"`
		TimeZone  string  `maxminddb:"time_zone"`
	} `maxminddb:"location"`
	Postal struct {
		Code string `maxminddb:"code"`
	} `maxminddb:"postal"`
	Subdivisions []subdivision `maxminddb:"subdivisions"`
}

type subdivision struct {
	ISOCode string            `maxminddb:"iso_code"`
	Names   map[string]string `maxminddb:"names"`
}

// citySource abstracts the database handle so tests can substitute canned
// records. Production always uses mmdbSource.
type citySource interface {
	lookupCity(addr netip.Addr) (*cityRecord, error)
	Close() error
}

// mmdbSource adapts a maxminddb reader to citySource.
type mmdbSource struct {
	reader *maxminddb.Reader
}

func (s *mmdbSource) lookupCity(addr netip.Addr) (*cityRecord, error) {
	var rec cityRecord
	if err := s.reader.Lookup(net.IP(addr.AsSlice()), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *mmdbSource) Close() error {
	return s.reader.Close()
}

// Enricher maps client IPs to geographic attributes via the local mmdb
// database. Safe for concurrent lookups.
//
// The read lock is held across each lookup and the write lock across a
// handle swap, so a replaced handle is only closed once no lookup is
// reading through it. Closing a maxminddb reader unmaps the file; closing
// it under a live reader would be a fatal fault, not an error return.
type Enricher struct {
	path string

	mu     sync.RWMutex
	source citySource
}

// NewEnricher creates an enricher for the database at path. The initial
// open is attempted immediately; a missing file is tolerated (lookups
// return all-null geo until a reload succeeds) so the service can start
// before the first database sync completes.
func NewEnricher(path string) *Enricher {
	e := &Enricher{path: path}
	if err := e.Reload(); err != nil {
		logging.Warn().Err(err).Str("path", path).
			Msg("geolocation database unavailable at startup, lookups degraded")
	}
	return e
}

// Reload opens the database file and swaps it in, closing the previous
// handle once all in-flight lookups have drained. Called at startup and
// whenever the refresher observes the file being replaced.
func (e *Enricher) Reload() error {
	reader, err := maxminddb.Open(e.path)
	if err != nil {
		return fmt.Errorf("open geolocation database: %w", err)
	}

	old := e.swap(&mmdbSource{reader: reader})
	if old != nil {
		if cerr := old.Close(); cerr != nil {
			logging.Warn().Err(cerr).Msg("closing previous geolocation database handle")
		}
	}

	logging.Info().Str("path", e.path).Msg("geolocation database loaded")
	return nil
}

// Close releases the current database handle.
func (e *Enricher) Close() error {
	old := e.swap(nil)
	if old == nil {
		return nil
	}
	return old.Close()
}

// Loaded reports whether a database handle is currently available.
func (e *Enricher) Loaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.source != nil
}

// swap installs a new source and returns the previous one. Taking the
// write lock waits out every in-flight lookup, so the returned source is
// safe to close.
func (e *Enricher) swap(s citySource) citySource {
	e.mu.Lock()
	defer e.mu.Unlock()
	old := e.source
	e.source = s
	return old
}

// setSource swaps in a source directly. Test hook.
func (e *Enricher) setSource(s citySource) {
	if old := e.swap(s); old != nil {
		_ = old.Close()
	}
}

// Lookup resolves a normalized address to its geolocation. A database miss
// or an unloaded database yields an all-null geolocation with only
// IPVersion set; this is the normal degraded outcome, not an error.
func (e *Enricher) Lookup(addr netip.Addr) models.Geolocation {
	geo := models.Geolocation{IPVersion: IPVersion(addr)}

	e.mu.RLock()
	source := e.source
	if source == nil {
		e.mu.RUnlock()
		metrics.GeoLookups.WithLabelValues("unavailable").Inc()
		return geo
	}
	record, err := source.lookupCity(addr)
	e.mu.RUnlock()

	if err != nil {
		metrics.GeoLookups.WithLabelValues("error").Inc()
		logging.Debug().Err(err).Msg("geolocation lookup failed")
		return geo
	}

	fillFromRecord(&geo, record)
	if geo.Empty() {
		metrics.GeoLookups.WithLabelValues("miss").Inc()
	} else {
		metrics.GeoLookups.WithLabelValues("hit").Inc()
	}
	return geo
}

// LookupString normalizes and resolves an IP literal in one step.
// Returns ErrInvalidIP for unparseable input.
func (e *Enricher) LookupString(raw string) (models.IPLookupResult, error) {
	addr, err := NormalizeIP(raw)
	if err != nil {
		return models.IPLookupResult{}, err
	}

	return models.IPLookupResult{
		IP:          addr.String(),
		Geolocation: e.Lookup(addr),
	}, nil
}

// fillFromRecord copies the non-empty attributes of an mmdb city record
// into the geolocation, leaving absent attributes nil.
func fillFromRecord(geo *models.Geolocation, record *cityRecord) {
	if record == nil {
		return
	}

	if code := record.Country.ISOCode; code != "" {
		geo.Country = strPtr(code)

		// The database's own EU attribute is authoritative; the constant
		// set only covers records that predate it.
		eu := record.Country.IsInEuropeanUnion || isEUMember(code)
		geo.IsInEU = &eu
	}
	if name := record.Country.Names["en"]; name != "" {
		geo.CountryName = strPtr(name)
	}
	if city := record.City.Names["en"]; city != "" {
		geo.City = strPtr(city)
	}
	if len(record.Subdivisions) > 0 {
		sub := record.Subdivisions[0]
		if name := sub.Names["en"]; name != "" {
			geo.Region = strPtr(name)
		}
		if sub.ISOCode != "" {
			geo.RegionCode = strPtr(sub.ISOCode)
		}
	}
	if code := record.Continent.Code; code != "" {
		geo.ContinentCode = strPtr(code)
	}
	if name := record.Continent.Names["en"]; name != "" {
		geo.ContinentName = strPtr(name)
	}
	if record.Postal.Code != "" {
		geo.PostalCode = strPtr(record.Postal.Code)
	}
	if record.Location.Latitude != 0 || record.Location.Longitude != 0 {
		lat, lng := record.Location.Latitude, record.Location.Longitude
		geo.Latitude = &lat
		geo.Longitude = &lng
	}
	if tz := record.Location.TimeZone; tz != "" {
		geo.Timezone = strPtr(tz)
	}
}

func strPtr(s string) *string {
	return &s
}
