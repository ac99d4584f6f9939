package worker

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// Flusher persists items decoded from a queue.
type Flusher[T any] interface {
	// FlushBatch writes the whole batch in one round trip.
	FlushBatch(ctx context.Context, batch []T) error
	// FlushOne writes a single item. It is used to isolate bad rows after a batch failure.
	FlushOne(ctx context.Context, item T) error
}

// BatchWorker drains a Redis list into PostgreSQL in batches.
// A batch is flushed when it is full or BatchTimeout has passed since the last flush.
type BatchWorker[T any] struct {
	queue   string
	rdb     *redis.Client
	sink    Flusher[T]
	log     zerolog.Logger
	size    int
	timeout time.Duration
	poll    time.Duration
	backoff time.Duration
}

// NewBatchWorker creates a worker for queue. name is used as the log component.
func NewBatchWorker[T any](name, queue string, rdb *redis.Client, sink Flusher[T], log zerolog.Logger) *BatchWorker[T] {
	return &BatchWorker[T]{
		queue:   queue,
		rdb:     rdb,
		sink:    sink,
		log:     log.With().Str("component", name).Logger(),
		size:    BatchSize,
		timeout: BatchTimeout,
		poll:    PollTimeout,
		backoff: 2 * time.Second,
	}
}

// Start begins the worker loop. Call in a goroutine; it returns after ctx is
// cancelled and the remaining buffer has been flushed.
func (w *BatchWorker[T]) Start(ctx context.Context) {
	w.log.Info().Str("queue", w.queue).Msg("Worker started")

	buffer := make([]T, 0, w.size)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= w.size || time.Since(lastFlush) >= w.timeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, w.poll, w.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			sleep(ctx, 3*time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var item T
		if err := sonic.UnmarshalString(result[1], &item); err != nil {
			// Malformed JSON can never succeed. Log and discard.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed payload")
			continue
		}
		buffer = append(buffer, item)
	}
}

// flushSafe tries the bulk path, then row by row, then requeues what still failed.
func (w *BatchWorker[T]) flushSafe(ctx context.Context, batch []T) {
	if len(batch) == 0 {
		return
	}
	err := w.sink.FlushBatch(ctx, batch)
	if err == nil {
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk write failed, attempting row-by-row recovery")

	var requeue []T
	for _, item := range batch {
		if err := w.sink.FlushOne(ctx, item); err != nil {
			if isDataError(err) {
				w.log.Error().Err(err).Msg("Dropping row rejected by the database")
				continue
			}
			requeue = append(requeue, item)
		}
	}
	if len(requeue) > 0 {
		w.requeue(ctx, requeue)
	}
}

func (w *BatchWorker[T]) requeue(ctx context.Context, items []T) {
	if ctx.Err() != nil {
		// Shutdown flush: the parent context is gone but Redis is still reachable.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	pipe := w.rdb.Pipeline()
	for _, item := range items {
		raw, err := sonic.Marshal(item)
		if err != nil {
			continue
		}
		pipe.RPush(ctx, w.queue, raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	// Avoid thrashing while the database is down.
	sleep(ctx, w.backoff)
}

func (w *BatchWorker[T]) shutdown(buffer []T) {
	w.log.Info().Int("buffered", len(buffer)).Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.flushSafe(shutdownCtx, buffer)
	w.log.Info().Msg("Worker stopped")
}

// isDataError reports whether PostgreSQL rejected the row itself (classes 22 and 23),
// as opposed to a connection or server failure worth retrying.
func isDataError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
		return false
	}
	class := pgErr.Code[:2]
	return class == "22" || class == "23"
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
