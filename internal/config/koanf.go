// Sitelens - Privacy-First Web Analytics
// Copyright 2026 Sitelens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sitelens/sitelens

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/sitelens/sitelens/internal/storage"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/sitelens/config.yaml",
	"/etc/sitelens/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns the built-in defaults, applied first and then
// overridden by the config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			Timeout:     30 * time.Second,
			Environment: "development",
			CORSOrigins: []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Ingest: IngestConfig{
			MaxRequests:     600,
			Window:          time.Minute,
			DedupTTL:        24 * time.Hour,
			DedupPath:       "/data/dedup",
			DedupGCInterval: 10 * time.Minute,
		},
		IPLookup: IPLookupConfig{
			MaxRequests: 30,
			Window:      60 * time.Second,
		},
		Geo: GeoConfig{
			DatabasePath:    "/data/geo/city.mmdb",
			RefreshInterval: time.Minute,
		},
		ClickHouse: storage.ClickHouseConfig{
			Addr:        []string{"127.0.0.1:9000"},
			Database:    "sitelens",
			Username:    "default",
			DialTimeout: 5 * time.Second,
		},
		Writer: storage.WriterConfig{
			BatchSize:     500,
			FlushInterval: 5 * time.Second,
			FlushTimeout:  30 * time.Second,
		},
	}
}

// Load reads configuration using layered sources with precedence
// ENV > file > defaults, then validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file path, or empty.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed from comma-separated strings when set via
// environment variables.
var sliceConfigPaths = []string{
	"server.cors_origins",
	"server.trusted_proxies",
	"clickhouse.addr",
}

// processSliceFields converts comma-separated env values to slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to config paths.
// Unmapped variables are skipped so random environment variables cannot
// pollute the configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		"http_host":       "server.host",
		"http_port":       "server.port",
		"http_timeout":    "server.timeout",
		"environment":     "server.environment",
		"cors_origins":    "server.cors_origins",
		"trusted_proxies": "server.trusted_proxies",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",

		"ingest_max_requests":    "ingest.max_requests",
		"ingest_window":          "ingest.window",
		"ingest_dedup_ttl":       "ingest.dedup_ttl",
		"ingest_dedup_path":      "ingest.dedup_path",
		"ingest_dedup_gc":        "ingest.dedup_gc_interval",
		"ip_lookup_max_requests": "ip_lookup.max_requests",
		"ip_lookup_window":       "ip_lookup.window",

		"geo_database_path":    "geo.database_path",
		"geo_refresh_interval": "geo.refresh_interval",

		"clickhouse_addr":         "clickhouse.addr",
		"clickhouse_database":     "clickhouse.database",
		"clickhouse_username":     "clickhouse.username",
		"clickhouse_password":     "clickhouse.password",
		"clickhouse_dial_timeout": "clickhouse.dial_timeout",

		"writer_batch_size":     "writer.batch_size",
		"writer_flush_interval": "writer.flush_interval",
		"writer_flush_timeout":  "writer.flush_timeout",
		"writer_max_buffered":   "writer.max_buffered",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
