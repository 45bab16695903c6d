package database

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/trafficlite/trafficlite/internal/model"
)

// Batch writer defaults
const (
	DefaultBatchSize     = 100
	DefaultFlushInterval = 500 * time.Millisecond
	DefaultMaxRequeue    = 3

	finalFlushTimeout = 5 * time.Second
)

// copier is satisfied by *pgxpool.Pool and pgx.Tx
type copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

var (
	eventColumns  = []string{"run_id", "intersection", "state", "sequence", "vehicle_count", "recorded_at"}
	sampleColumns = []string{"run_id", "intersection", "vehicle_count", "sampled_at"}
)

// BatchWriterConfig tunes batching and retry
type BatchWriterConfig struct {
	RunID         uuid.UUID
	BatchSize     int
	FlushInterval time.Duration
	MaxRequeue    int
	QueueSize     int
}

type pending struct {
	events  []model.TrafficEvent
	samples []model.NetworkSample
}

func (p *pending) size() int {
	return len(p.events) + len(p.samples)
}

// BatchWriter handles bulk writes of events and samples using the COPY
// protocol. Failed batches are retried on the next flush up to MaxRequeue
// consecutive failures, then dropped.
type BatchWriter struct {
	db     copier
	cfg    BatchWriterConfig
	logger *slog.Logger

	eventCh  chan model.TrafficEvent
	sampleCh chan model.NetworkSample

	batchMu sync.Mutex
	batch   pending
	requeue pending

	consecutiveFailures int

	written atomic.Int64
	dropped atomic.Int64
}

// NewBatchWriter creates a writer on top of a pool or transaction
func NewBatchWriter(db copier, cfg BatchWriterConfig, logger *slog.Logger) *BatchWriter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.MaxRequeue < 0 {
		cfg.MaxRequeue = DefaultMaxRequeue
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.BatchSize * 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchWriter{
		db:       db,
		cfg:      cfg,
		logger:   logger.With("component", "batch_writer", "run_id", cfg.RunID.String()),
		eventCh:  make(chan model.TrafficEvent, cfg.QueueSize),
		sampleCh: make(chan model.NetworkSample, cfg.QueueSize),
	}
}

// OnTransition queues a traffic event without blocking
func (bw *BatchWriter) OnTransition(event model.TrafficEvent) {
	select {
	case bw.eventCh <- event:
	default:
		bw.dropped.Add(1)
		bw.logger.Warn("event queue full, dropping event", "intersection", event.Intersection)
	}
}

// OnSample queues a network sample without blocking
func (bw *BatchWriter) OnSample(sample model.NetworkSample) {
	select {
	case bw.sampleCh <- sample:
	default:
		bw.dropped.Add(1)
		bw.logger.Warn("sample queue full, dropping sample", "intersection", sample.Intersection)
	}
}

// Run starts the batch writer's main processing loop. On cancellation the
// queues are drained and flushed once more.
func (bw *BatchWriter) Run(ctx context.Context) error {
	bw.logger.Info("batch writer starting",
		"batch_size", bw.cfg.BatchSize,
		"flush_interval", bw.cfg.FlushInterval,
	)

	flushTicker := time.NewTicker(bw.cfg.FlushInterval)
	defer flushTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			bw.drainQueues()
			bw.logger.Info("batch writer shutting down, flushing remaining data")
			flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
			if err := bw.flush(flushCtx); err != nil {
				bw.logger.Error("final flush failed", "error", err)
			}
			cancel()
			return ctx.Err()

		case event := <-bw.eventCh:
			if bw.add(func(p *pending) { p.events = append(p.events, event) }) >= bw.cfg.BatchSize {
				if err := bw.flush(ctx); err != nil {
					bw.logger.Error("flush on batch size failed", "error", err)
				}
			}

		case sample := <-bw.sampleCh:
			if bw.add(func(p *pending) { p.samples = append(p.samples, sample) }) >= bw.cfg.BatchSize {
				if err := bw.flush(ctx); err != nil {
					bw.logger.Error("flush on batch size failed", "error", err)
				}
			}

		case <-flushTicker.C:
			if err := bw.flush(ctx); err != nil {
				bw.logger.Error("periodic flush failed", "error", err)
			}
		}
	}
}

func (bw *BatchWriter) add(fn func(*pending)) int {
	bw.batchMu.Lock()
	defer bw.batchMu.Unlock()
	fn(&bw.batch)
	return bw.batch.size()
}

func (bw *BatchWriter) drainQueues() {
	for {
		select {
		case event := <-bw.eventCh:
			bw.add(func(p *pending) { p.events = append(p.events, event) })
		case sample := <-bw.sampleCh:
			bw.add(func(p *pending) { p.samples = append(p.samples, sample) })
		default:
			return
		}
	}
}

// flush writes requeued rows first, then the current batch
func (bw *BatchWriter) flush(ctx context.Context) error {
	bw.batchMu.Lock()
	batch := pending{
		events:  append(bw.requeue.events, bw.batch.events...),
		samples: append(bw.requeue.samples, bw.batch.samples...),
	}
	bw.requeue = pending{}
	bw.batch = pending{}
	bw.batchMu.Unlock()

	if batch.size() == 0 {
		return nil
	}

	start := time.Now()
	err := bw.writeBatch(ctx, &batch)
	duration := time.Since(start)

	if err != nil {
		bw.consecutiveFailures++
		bw.logger.Error("batch write failed",
			"error", err,
			"batch_size", batch.size(),
			"consecutive_failures", bw.consecutiveFailures,
			"duration_ms", duration.Milliseconds(),
		)

		if bw.consecutiveFailures <= bw.cfg.MaxRequeue {
			bw.batchMu.Lock()
			bw.requeue = batch
			bw.batchMu.Unlock()
		} else {
			bw.dropped.Add(int64(batch.size()))
			bw.consecutiveFailures = 0
			bw.logger.Error("max requeue reached, dropping batch", "dropped_count", batch.size())
		}
		return err
	}

	bw.consecutiveFailures = 0
	bw.logger.Debug("batch written successfully",
		"batch_size", batch.size(),
		"duration_ms", duration.Milliseconds(),
	)
	return nil
}

// writeBatch copies events then samples. Rows that were written are removed
// from batch so a retry only covers what failed.
func (bw *BatchWriter) writeBatch(ctx context.Context, batch *pending) error {
	if n := len(batch.events); n > 0 {
		events := batch.events
		count, err := bw.db.CopyFrom(ctx,
			pgx.Identifier{"traffic_events"},
			eventColumns,
			pgx.CopyFromSlice(n, func(i int) ([]any, error) {
				e := events[i]
				return []any{bw.cfg.RunID, e.Intersection, e.State.String(), e.Sequence, e.VehicleCount, e.Timestamp}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("COPY traffic_events failed: %w", err)
		}
		if count != int64(n) {
			return fmt.Errorf("COPY traffic_events count mismatch: expected %d, got %d", n, count)
		}
		bw.written.Add(count)
		batch.events = nil
	}

	if n := len(batch.samples); n > 0 {
		samples := batch.samples
		count, err := bw.db.CopyFrom(ctx,
			pgx.Identifier{"network_samples"},
			sampleColumns,
			pgx.CopyFromSlice(n, func(i int) ([]any, error) {
				s := samples[i]
				return []any{bw.cfg.RunID, s.Intersection, s.VehicleCount, s.Timestamp}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("COPY network_samples failed: %w", err)
		}
		if count != int64(n) {
			return fmt.Errorf("COPY network_samples count mismatch: expected %d, got %d", n, count)
		}
		bw.written.Add(count)
		batch.samples = nil
	}

	return nil
}

// Written returns how many rows were copied
func (bw *BatchWriter) Written() int64 {
	return bw.written.Load()
}

// Dropped returns how many rows were discarded
func (bw *BatchWriter) Dropped() int64 {
	return bw.dropped.Load()
}
