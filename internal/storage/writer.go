// Sitelens - Privacy-First Web Analytics
// Copyright 2026 Sitelens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sitelens/sitelens

package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/sitelens/sitelens/internal/logging"
	"github.com/sitelens/sitelens/internal/metrics"
	"github.com/sitelens/sitelens/internal/models"
)

// WriterConfig bounds the writer's buffering behavior.
type WriterConfig struct {
	// BatchSize triggers a flush when the buffer reaches this many rows.
	BatchSize int `koanf:"batch_size"`

	// FlushInterval triggers a flush even when the buffer is short.
	FlushInterval time.Duration `koanf:"flush_interval"`

	// FlushTimeout bounds one flush so a slow store never stalls
	// ingestion indefinitely.
	FlushTimeout time.Duration `koanf:"flush_timeout"`

	// MaxBuffered caps the buffer while the store is down. When
	// exceeded, the oldest rows are dropped.
	MaxBuffered int `koanf:"max_buffered"`
}

func (c *WriterConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 30 * time.Second
	}
	if c.MaxBuffered <= 0 {
		c.MaxBuffered = 50 * c.BatchSize
	}
}

// Writer buffers finished rows and flushes them to the store in batches,
// grouped per table, when the batch size is reached or the interval
// elapses. Flushes are serialized so rows reach the store in arrival
// order per table. A circuit breaker keeps a down store from being
// hammered with doomed inserts; unflushed rows stay buffered for retry.
//
// Writer implements suture.Service and the pipeline's Appender.
type Writer struct {
	store RowStore
	cfg   WriterConfig
	cb    *gobreaker.CircuitBreaker[interface{}]

	mu     sync.Mutex
	buffer []models.StorageRow

	// flushMu serializes flushes so interval and size triggered flushes
	// cannot interleave and reorder inserts.
	flushMu sync.Mutex
}

// NewWriter creates a writer over the given store.
func NewWriter(store RowStore, cfg WriterConfig) *Writer {
	cfg.applyDefaults()

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        "storage-writer",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("from", from.String()).Str("to", to.String()).
				Msg("storage circuit breaker state change")
		},
	})

	return &Writer{
		store:  store,
		cfg:    cfg,
		cb:     cb,
		buffer: make([]models.StorageRow, 0, cfg.BatchSize),
	}
}

// Append adds one row to the buffer. When the buffer reaches the batch
// size the flush happens inline on a detached timeout context, so the
// caller's request context cannot cancel a write mid-batch. Accepting a
// row never fails; store failures are absorbed by the buffer and the
// circuit breaker, and overflow drops the oldest rows.
func (w *Writer) Append(ctx context.Context, row models.StorageRow) {
	w.mu.Lock()
	if len(w.buffer) >= w.cfg.MaxBuffered {
		// Store has been down long enough to fill the buffer. Dropping
		// the oldest rows keeps memory bounded.
		dropped := len(w.buffer) - w.cfg.MaxBuffered + 1
		w.buffer = append(w.buffer[:0], w.buffer[dropped:]...)
		logging.Warn().Int("dropped", dropped).Msg("storage buffer full, dropping oldest rows")
	}
	w.buffer = append(w.buffer, row)
	size := len(w.buffer)
	w.mu.Unlock()

	metrics.StorageBufferSize.Set(float64(size))

	if size >= w.cfg.BatchSize {
		flushCtx, cancel := context.WithTimeout(context.Background(), w.cfg.FlushTimeout)
		defer cancel()
		if err := w.Flush(flushCtx); err != nil {
			logging.Debug().Err(err).Msg("batch-triggered flush failed, rows retained")
		}
	}
}

// Flush writes all buffered rows to the store. On failure the unflushed
// rows are restored to the buffer for retry.
func (w *Writer) Flush(ctx context.Context) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return nil
	}
	rows := w.buffer
	w.buffer = make([]models.StorageRow, 0, w.cfg.BatchSize)
	w.mu.Unlock()

	start := time.Now()
	err := w.insertGrouped(ctx, rows)
	elapsed := time.Since(start)

	if err != nil {
		metrics.StorageFlushErrors.Inc()
		w.mu.Lock()
		w.buffer = append(rows, w.buffer...)
		size := len(w.buffer)
		w.mu.Unlock()
		metrics.StorageBufferSize.Set(float64(size))
		return err
	}

	metrics.StorageRowsWritten.Add(float64(len(rows)))
	metrics.StorageFlushDuration.Observe(elapsed.Seconds())
	w.mu.Lock()
	size := len(w.buffer)
	w.mu.Unlock()
	metrics.StorageBufferSize.Set(float64(size))

	logging.Debug().Int("rows", len(rows)).Dur("elapsed", elapsed).Msg("storage flush")
	return nil
}

// insertGrouped splits one flush into per-table batches, preserving
// arrival order within each table, and sends each through the breaker.
func (w *Writer) insertGrouped(ctx context.Context, rows []models.StorageRow) error {
	grouped := make(map[string][][]interface{})
	order := make([]string, 0, 4)
	for _, row := range rows {
		if _, ok := grouped[row.Table]; !ok {
			order = append(order, row.Table)
		}
		grouped[row.Table] = append(grouped[row.Table], row.Values)
	}

	for _, table := range order {
		batch := grouped[table]
		_, err := w.cb.Execute(func() (interface{}, error) {
			return nil, w.store.InsertRows(ctx, table, batch)
		})
		if err != nil {
			return fmt.Errorf("insert %d rows into %s: %w", len(batch), table, err)
		}
	}
	return nil
}

// BufferLen returns the number of rows awaiting flush.
func (w *Writer) BufferLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}

// Serve runs the interval flush loop until the context is cancelled,
// then performs a final flush of pending rows.
func (w *Writer) Serve(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), w.cfg.FlushTimeout)
			err := w.Flush(flushCtx)
			cancel()
			if err != nil {
				logging.Error().Err(err).Msg("final storage flush failed")
			}
			return ctx.Err()
		case <-ticker.C:
			flushCtx, cancel := context.WithTimeout(context.Background(), w.cfg.FlushTimeout)
			if err := w.Flush(flushCtx); err != nil {
				logging.Debug().Err(err).Msg("interval flush failed, rows retained")
			}
			cancel()
		}
	}
}

// String names the service in supervisor logs.
func (w *Writer) String() string {
	return "storage-writer"
}
