// Sitelens - Privacy-First Web Analytics
// Copyright 2026 Sitelens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sitelens/sitelens

package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sitelens/sitelens/internal/models"
)

type fakeStore struct {
	mu      sync.Mutex
	inserts []insert
	err     error
}

type insert struct {
	table string
	rows  [][]interface{}
}

func (s *fakeStore) InsertRows(ctx context.Context, table string, rows [][]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	copied := make([][]interface{}, len(rows))
	copy(copied, rows)
	s.inserts = append(s.inserts, insert{table: table, rows: copied})
	return nil
}

func (s *fakeStore) totalRows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ins := range s.inserts {
		n += len(ins.rows)
	}
	return n
}

func row(table string, id int) models.StorageRow {
	return models.StorageRow{Table: table, Values: []interface{}{id}}
}

func TestWriter_FlushesAtBatchSize(t *testing.T) {
	store := &fakeStore{}
	w := NewWriter(store, WriterConfig{BatchSize: 3, FlushInterval: time.Hour})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		w.Append(ctx, row(models.TablePageviews, i))
	}

	if got := store.totalRows(); got != 3 {
		t.Errorf("rows stored = %d, want 3", got)
	}
	if w.BufferLen() != 0 {
		t.Errorf("buffer len = %d after flush, want 0", w.BufferLen())
	}
}

func TestWriter_ShortBufferWaitsForFlush(t *testing.T) {
	store := &fakeStore{}
	w := NewWriter(store, WriterConfig{BatchSize: 10, FlushInterval: time.Hour})
	ctx := context.Background()

	w.Append(ctx, row(models.TablePageviews, 1))
	if got := store.totalRows(); got != 0 {
		t.Errorf("rows stored = %d before flush, want 0", got)
	}

	if err := w.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if got := store.totalRows(); got != 1 {
		t.Errorf("rows stored = %d after flush, want 1", got)
	}
}

func TestWriter_GroupsRowsPerTable(t *testing.T) {
	store := &fakeStore{}
	w := NewWriter(store, WriterConfig{BatchSize: 100, FlushInterval: time.Hour})
	ctx := context.Background()

	w.Append(ctx, row(models.TablePageviews, 1))
	w.Append(ctx, row(models.TableCustomEvents, 2))
	w.Append(ctx, row(models.TablePageviews, 3))

	if err := w.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	if len(store.inserts) != 2 {
		t.Fatalf("inserts = %d, want 2 (one per table)", len(store.inserts))
	}

	byTable := map[string][][]interface{}{}
	for _, ins := range store.inserts {
		byTable[ins.table] = ins.rows
	}
	pv := byTable[models.TablePageviews]
	if len(pv) != 2 || pv[0][0] != 1 || pv[1][0] != 3 {
		t.Errorf("pageview rows = %v, want arrival order [1 3]", pv)
	}
	if len(byTable[models.TableCustomEvents]) != 1 {
		t.Errorf("custom event rows = %v", byTable[models.TableCustomEvents])
	}
}

func TestWriter_FailedFlushRetainsRows(t *testing.T) {
	store := &fakeStore{err: errors.New("store down")}
	w := NewWriter(store, WriterConfig{BatchSize: 100, FlushInterval: time.Hour})
	ctx := context.Background()

	w.Append(ctx, row(models.TablePageviews, 1))
	w.Append(ctx, row(models.TablePageviews, 2))

	if err := w.Flush(ctx); err == nil {
		t.Fatal("expected flush error")
	}
	if w.BufferLen() != 2 {
		t.Errorf("buffer len = %d after failed flush, want 2", w.BufferLen())
	}

	// Store recovers; retry flushes the retained rows in order.
	store.mu.Lock()
	store.err = nil
	store.mu.Unlock()

	if err := w.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if got := store.totalRows(); got != 2 {
		t.Errorf("rows stored = %d after retry, want 2", got)
	}
}

func TestWriter_MaxBufferedDropsOldest(t *testing.T) {
	store := &fakeStore{err: errors.New("store down")}
	w := NewWriter(store, WriterConfig{BatchSize: 100, FlushInterval: time.Hour, MaxBuffered: 3})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		w.Append(ctx, row(models.TablePageviews, i))
	}

	if got := w.BufferLen(); got != 3 {
		t.Fatalf("buffer len = %d, want capped at 3", got)
	}

	store.mu.Lock()
	store.err = nil
	store.mu.Unlock()
	if err := w.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	// The newest rows survive.
	rows := store.inserts[0].rows
	if rows[len(rows)-1][0] != 4 {
		t.Errorf("last stored row = %v, want 4", rows[len(rows)-1][0])
	}
}

func TestWriter_ServeFlushesOnShutdown(t *testing.T) {
	store := &fakeStore{}
	w := NewWriter(store, WriterConfig{BatchSize: 100, FlushInterval: time.Hour})

	w.Append(context.Background(), row(models.TablePageviews, 1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	if got := store.totalRows(); got != 1 {
		t.Errorf("rows stored = %d after shutdown, want 1", got)
	}
}

func TestWriter_FlushEmptyBufferIsNoop(t *testing.T) {
	store := &fakeStore{}
	w := NewWriter(store, WriterConfig{})

	if err := w.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(store.inserts) != 0 {
		t.Error("empty flush must not touch the store")
	}
}
