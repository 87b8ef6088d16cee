package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/simuverse/internal/model"
	"github.com/ashita-ai/simuverse/internal/telemetry"
)

// maxBufferCapacity is the hard upper limit on buffered entries to prevent OOM.
// When this limit is reached, Record applies backpressure by returning an error.
const maxBufferCapacity = 100_000

// Buffer accumulates entries in memory and flushes them to a Store when
// either the batch size or the flush interval is reached. Reads flush first,
// so a caller always sees the entries it recorded.
type Buffer struct {
	store        Store
	logger       *slog.Logger
	maxSize      int
	flushTimeout time.Duration

	mu      sync.Mutex
	entries []model.LogEntry

	// flushMu serializes flushes so batches reach the store in record order.
	flushMu sync.Mutex

	droppedEntries atomic.Int64

	flushCh    chan struct{}
	done       chan struct{}
	cancelLoop context.CancelFunc
	drainCtx   context.Context
}

// NewBuffer creates a buffer in front of store.
func NewBuffer(store Store, logger *slog.Logger, maxSize int, flushTimeout time.Duration) *Buffer {
	if maxSize <= 0 {
		maxSize = 100
	}
	if flushTimeout <= 0 {
		flushTimeout = time.Second
	}
	return &Buffer{
		store:        store,
		logger:       logger,
		maxSize:      maxSize,
		flushTimeout: flushTimeout,
		flushCh:      make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Start begins the background flush loop and registers OTEL metrics. Call Drain to stop.
func (b *Buffer) Start(ctx context.Context) {
	b.registerMetrics()
	// Only Drain stops the loop, so the final flush always sees drainCtx.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.cancelLoop = cancel
	go b.flushLoop(loopCtx)
}

// Record stamps and buffers one entry for agentID.
// Returns an error if the buffer is at capacity (backpressure).
func (b *Buffer) Record(agentID string, typ model.EventType, details map[string]any) error {
	entry := model.NewLogEntry(agentID, typ, details)

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) >= maxBufferCapacity {
		return fmt.Errorf("eventlog: buffer at capacity (%d entries), try again later", len(b.entries))
	}
	b.entries = append(b.entries, entry)

	if len(b.entries) >= b.maxSize {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

func (b *Buffer) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(b.flushTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// ctx is already cancelled; the final flush needs a live context.
			if b.drainCtx != nil {
				_ = b.Flush(b.drainCtx)
			} else {
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				_ = b.Flush(fallbackCtx)
				cancel()
			}
			close(b.done)
			return
		case <-ticker.C:
			_ = b.Flush(ctx)
		case <-b.flushCh:
			_ = b.Flush(ctx)
		}
	}
}

// Flush writes every pending entry to the store. On failure the batch is put
// back at the head of the buffer, unless that would exceed capacity, in which
// case it is dropped and counted.
func (b *Buffer) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if len(b.entries) == 0 {
		b.mu.Unlock()
		return nil
	}
	batch := b.entries
	b.entries = nil
	b.mu.Unlock()

	start := time.Now()
	err := b.store.Append(ctx, batch)
	duration := time.Since(start)

	if err != nil {
		b.logger.Error("eventlog: flush failed", "error", err, "batch_size", len(batch))
		b.mu.Lock()
		if len(b.entries)+len(batch) <= maxBufferCapacity {
			b.entries = append(batch, b.entries...)
		} else {
			b.droppedEntries.Add(int64(len(batch)))
			b.logger.Error("eventlog: dropping entries, buffer at capacity after flush failure", "dropped", len(batch))
		}
		b.mu.Unlock()
		return fmt.Errorf("eventlog: flush: %w", err)
	}

	b.logger.Debug("eventlog: batch flushed",
		"batch_size", len(batch),
		"flush_duration_ms", duration.Milliseconds(),
	)
	return nil
}

// Entries flushes pending writes and returns one agent's entries.
func (b *Buffer) Entries(ctx context.Context, agentID string) ([]model.LogEntry, error) {
	b.flushForRead(ctx)
	return b.store.Entries(ctx, agentID)
}

// All flushes pending writes and returns every agent's entries.
func (b *Buffer) All(ctx context.Context) (map[string][]model.LogEntry, error) {
	b.flushForRead(ctx)
	return b.store.All(ctx)
}

// Agents flushes pending writes and returns the agents with entries.
func (b *Buffer) Agents(ctx context.Context) ([]string, error) {
	b.flushForRead(ctx)
	return b.store.Agents(ctx)
}

// flushForRead makes pending entries visible to a read. A failed flush is
// logged and the read proceeds with what the store already has.
func (b *Buffer) flushForRead(ctx context.Context) {
	if err := b.Flush(ctx); err != nil {
		b.logger.Warn("eventlog: read without pending entries", "error", err)
	}
}

// Clear discards pending entries and clears the store.
func (b *Buffer) Clear(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	b.entries = nil
	b.mu.Unlock()

	if err := b.store.Clear(ctx); err != nil {
		return fmt.Errorf("eventlog: clear: %w", err)
	}
	return nil
}

// Drain signals the background flush loop to stop, waits for it to complete
// its final flush, and returns. The ctx parameter bounds both the wait and
// the final flush. Without a prior Start, Drain flushes synchronously.
func (b *Buffer) Drain(ctx context.Context) {
	if b.cancelLoop == nil {
		if err := b.Flush(ctx); err != nil {
			b.logger.Warn("eventlog: drain flush failed", "error", err)
		}
		return
	}
	b.drainCtx = ctx
	b.cancelLoop()
	select {
	case <-b.done:
	case <-ctx.Done():
		b.logger.Warn("eventlog: drain timed out waiting for flush loop")
	}
}

// registerMetrics registers observable OTEL gauges for buffer health monitoring.
func (b *Buffer) registerMetrics() {
	meter := telemetry.Meter("simuverse/eventlog")

	_, _ = meter.Int64ObservableGauge("simuverse.eventlog.buffer.depth",
		metric.WithDescription("Current number of log entries waiting to be flushed"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(b.Len()))
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("simuverse.eventlog.buffer.dropped_total",
		metric.WithDescription("Total log entries dropped due to buffer capacity exhaustion"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(b.DroppedEntries())
			return nil
		}),
	)
}

// Len returns the current number of buffered entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Capacity returns the hard limit on buffered entries.
func (b *Buffer) Capacity() int {
	return maxBufferCapacity
}

// DroppedEntries returns the total number of entries dropped after flush
// failures. A non-zero value indicates data loss.
func (b *Buffer) DroppedEntries() int64 {
	return b.droppedEntries.Load()
}
