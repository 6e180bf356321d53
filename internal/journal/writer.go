package journal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/issuewatch/internal/clock"
	"github.com/rickgao/issuewatch/internal/realtime"
)

// flushTimeout bounds a single batch insert.
const flushTimeout = 30 * time.Second

// ErrNotStarted is returned by Stop on a writer that was never started.
var ErrNotStarted = errors.New("journal writer not started")

// Config controls batching.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int // initial queue capacity
}

// DefaultConfig returns the batching defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
		BufferSize:    256,
	}
}

// BatchSender submits a batch. *pgxpool.Pool satisfies it.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Metrics counts writer activity.
type Metrics struct {
	Recorded  int64
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Dropped   int64
	Buffered  int // rows waiting for the next flush
}

// Option configures a Writer.
type Option func(*Writer)

// WithClock sets the clock driving the flush interval.
func WithClock(c clock.Clock) Option {
	return func(w *Writer) {
		if c != nil {
			w.clock = c
		}
	}
}

// Writer consumes events from its queue and batch-inserts them.
type Writer struct {
	cfg    Config
	db     BatchSender
	clock  clock.Clock
	logger *slog.Logger

	queue *Queue[Event]

	batch   []Event
	batchMu sync.Mutex
	metrics Metrics

	// ctx stops the flush loop; writeCtx carries its values but not its
	// cancellation, so rows queued before Stop are still written.
	ctx          context.Context
	cancel       context.CancelFunc
	writeCtx     context.Context
	consumerDone chan struct{}
	wg           sync.WaitGroup
}

// NewWriter creates a Writer. Call Start before recording.
func NewWriter(cfg Config, db BatchSender, logger *slog.Logger, opts ...Option) *Writer {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Writer{
		cfg:    cfg,
		db:     db,
		clock:  clock.Real(),
		logger: logger.With("component", "journal"),
		queue:  NewQueue[Event](cfg.BufferSize),
		batch:  make([]Event, 0, cfg.BatchSize),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Record queues msg for insertion. It never blocks and is safe to register
// directly as a realtime.Handler.
func (w *Writer) Record(msg realtime.Message) {
	ok := w.queue.Push(NewEvent(msg))

	w.batchMu.Lock()
	if ok {
		w.metrics.Recorded++
	} else {
		w.metrics.Dropped++
	}
	w.batchMu.Unlock()

	if !ok {
		w.logger.Warn("event dropped, journal stopped", "type", msg.Type)
	}
}

// Start begins consuming and flushing.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.writeCtx = context.WithoutCancel(ctx)
	w.consumerDone = make(chan struct{})
	ticker := w.clock.NewTicker(w.cfg.FlushInterval)

	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop(ticker)

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop closes the queue, waits for queued events to be batched and written,
// then writes the remainder using ctx. Cancelling the context passed to Start
// does not discard queued events.
func (w *Writer) Stop(ctx context.Context) error {
	if w.cancel == nil {
		return ErrNotStarted
	}
	w.logger.Info("stopping journal writer")
	w.queue.Close()

	select {
	case <-w.consumerDone:
	case <-ctx.Done():
		w.logger.Warn("journal writer stop timed out", "queued", w.queue.Len())
	}

	w.cancel()
	w.wg.Wait()

	w.flush(ctx)
	w.logger.Info("journal writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	m := w.metrics
	m.Buffered = len(w.batch)
	return m
}

func (w *Writer) consumeLoop() {
	defer close(w.consumerDone)

	for {
		ev, ok := w.queue.Pop()
		if !ok {
			return
		}
		w.add(ev)
	}
}

func (w *Writer) flushLoop(ticker clock.Ticker) {
	defer w.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C():
			w.flush(w.writeCtx)
		}
	}
}

func (w *Writer) add(ev Event) {
	w.batchMu.Lock()
	w.batch = append(w.batch, ev)
	full := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if full {
		w.flush(w.writeCtx)
	}
}

// flush writes the pending batch. Failed batches are counted and dropped.
func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	rows := w.batch
	w.batch = make([]Event, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()

	start := w.clock.Now()
	conflicts, err := w.batchInsert(ctx, rows)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(rows))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(rows) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed events",
		"count", len(rows),
		"conflicts", conflicts,
		"duration", w.clock.Now().Sub(start),
	)
}

// batchInsert queues one insert per row; rows that hit an existing key
// affect nothing and are counted as conflicts.
func (w *Writer) batchInsert(ctx context.Context, rows []Event) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertEvent, r.Key, r.Type, r.IssueID, r.Actor, r.Payload, r.OccurredAt, r.ReceivedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}
	return conflicts, nil
}
