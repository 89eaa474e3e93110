// Sitelens - Privacy-First Web Analytics
// Copyright 2026 Sitelens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sitelens/sitelens

// Package config loads and validates the service configuration from
// layered sources: built-in defaults, an optional YAML file, and
// environment variables, in increasing priority.
package config

import (
	"fmt"
	"time"

	"github.com/sitelens/sitelens/internal/storage"
)

// Config is the root configuration.
type Config struct {
	Server     ServerConfig             `koanf:"server"`
	Logging    LoggingConfig            `koanf:"logging"`
	Ingest     IngestConfig             `koanf:"ingest"`
	IPLookup   IPLookupConfig           `koanf:"ip_lookup"`
	Geo        GeoConfig                `koanf:"geo"`
	ClickHouse storage.ClickHouseConfig `koanf:"clickhouse"`
	Writer     storage.WriterConfig     `koanf:"writer"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port"`
	Timeout        time.Duration `koanf:"timeout"`
	Environment    string        `koanf:"environment"`
	CORSOrigins    []string      `koanf:"cors_origins"`
	TrustedProxies []string      `koanf:"trusted_proxies"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// IngestConfig bounds the event ingestion route.
type IngestConfig struct {
	// MaxRequests per Window per client IP.
	MaxRequests int           `koanf:"max_requests"`
	Window      time.Duration `koanf:"window"`

	// DedupTTL is how long unique event keys are remembered.
	DedupTTL time.Duration `koanf:"dedup_ttl"`

	// DedupPath is the on-disk dedup database directory.
	DedupPath string `koanf:"dedup_path"`

	// DedupGCInterval controls value log garbage collection.
	DedupGCInterval time.Duration `koanf:"dedup_gc_interval"`
}

// IPLookupConfig bounds the public IP lookup route.
type IPLookupConfig struct {
	MaxRequests int           `koanf:"max_requests"`
	Window      time.Duration `koanf:"window"`
}

// GeoConfig locates the geolocation database.
type GeoConfig struct {
	// DatabasePath points at the mmdb file maintained by the external
	// sync job.
	DatabasePath string `koanf:"database_path"`

	// RefreshInterval is how often the file is checked for replacement.
	RefreshInterval time.Duration `koanf:"refresh_interval"`
}

// Validate checks the configuration for values that would make the
// service misbehave at runtime.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive")
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	if c.Ingest.MaxRequests <= 0 {
		return fmt.Errorf("ingest.max_requests must be positive")
	}
	if c.Ingest.Window <= 0 {
		return fmt.Errorf("ingest.window must be positive")
	}
	if c.IPLookup.MaxRequests <= 0 {
		return fmt.Errorf("ip_lookup.max_requests must be positive")
	}
	if c.IPLookup.Window <= 0 {
		return fmt.Errorf("ip_lookup.window must be positive")
	}

	if c.Geo.DatabasePath == "" {
		return fmt.Errorf("geo.database_path is required")
	}
	if c.Ingest.DedupPath == "" {
		return fmt.Errorf("ingest.dedup_path is required")
	}

	if len(c.ClickHouse.Addr) == 0 {
		return fmt.Errorf("clickhouse.addr is required")
	}
	if c.ClickHouse.Database == "" {
		return fmt.Errorf("clickhouse.database is required")
	}

	if c.Writer.BatchSize < 0 {
		return fmt.Errorf("writer.batch_size must not be negative")
	}

	return nil
}
