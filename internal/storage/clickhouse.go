// Sitelens - Privacy-First Web Analytics
// Copyright 2026 Sitelens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sitelens/sitelens

// Package storage persists finished rows to the columnar store. The
// writer batches rows per table and flushes on size or interval; the
// ClickHouse adapter turns one batch into one native-protocol insert.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/sitelens/sitelens/internal/logging"
	"github.com/sitelens/sitelens/internal/models"
)

// ClickHouseConfig holds the native TCP connection settings.
type ClickHouseConfig struct {
	Addr        []string      `koanf:"addr"`
	Database    string        `koanf:"database"`
	Username    string        `koanf:"username"`
	Password    string        `koanf:"password"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
}

// OpenClickHouse connects over the native TCP protocol with LZ4
// compression and verifies the connection with a ping.
func OpenClickHouse(ctx context.Context, cfg ClickHouseConfig) (clickhouse.Conn, error) {
	if len(cfg.Addr) == 0 {
		return nil, fmt.Errorf("clickhouse: no addresses configured")
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{{Name: "sitelens", Version: "1.0.0"}},
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	logging.Info().Strs("addr", cfg.Addr).Str("database", cfg.Database).
		Msg("connected to clickhouse")
	return conn, nil
}

// RowStore receives one batch of rows for one table.
type RowStore interface {
	InsertRows(ctx context.Context, table string, rows [][]interface{}) error
}

// ClickHouseStore implements RowStore over a native connection using
// prepared batches.
type ClickHouseStore struct {
	conn clickhouse.Conn
}

// NewClickHouseStore wraps an open connection.
func NewClickHouseStore(conn clickhouse.Conn) *ClickHouseStore {
	return &ClickHouseStore{conn: conn}
}

// InsertRows sends one prepared batch for the table. Column order comes
// from the table's fixed write contract.
func (s *ClickHouseStore) InsertRows(ctx context.Context, table string, rows [][]interface{}) error {
	cols := models.Columns(table)
	if cols == nil {
		return fmt.Errorf("clickhouse: unknown table %q", table)
	}

	query := "INSERT INTO " + table + " (" + strings.Join(cols, ", ") + ")"
	batch, err := s.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("clickhouse prepare batch for %s: %w", table, err)
	}

	for _, row := range rows {
		if err := batch.Append(row...); err != nil {
			return fmt.Errorf("clickhouse append to %s: %w", table, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("clickhouse send batch for %s: %w", table, err)
	}
	return nil
}

// Close releases the connection.
func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}

var _ RowStore = (*ClickHouseStore)(nil)
