package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/progress"
)

type item struct {
	ID int `json:"id"`
}

type fakeFlusher struct {
	mu       sync.Mutex
	batches  [][]item
	written  []item
	batchErr error
	failOne  map[int]error
}

func (f *fakeFlusher) FlushBatch(_ context.Context, batch []item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batchErr != nil {
		return f.batchErr
	}
	f.batches = append(f.batches, append([]item(nil), batch...))
	f.written = append(f.written, batch...)
	return nil
}

func (f *fakeFlusher) FlushOne(_ context.Context, it item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failOne[it.ID]; err != nil {
		return err
	}
	f.written = append(f.written, it)
	return nil
}

func (f *fakeFlusher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func newTestWorker(t *testing.T, sink Flusher[item]) (*BatchWorker[item], *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	w := NewBatchWorker[item]("test_worker", "test_queue", rdb, sink, zerolog.Nop())
	w.backoff = 0
	return w, mr, rdb
}

func push(t *testing.T, rdb *redis.Client, queue string, ids ...int) {
	t.Helper()
	for _, id := range ids {
		raw, _ := sonic.Marshal(item{ID: id})
		if err := rdb.RPush(context.Background(), queue, raw).Err(); err != nil {
			t.Fatalf("rpush: %v", err)
		}
	}
}

func TestBatchWorkerDrainsQueueInBatches(t *testing.T) {
	sink := &fakeFlusher{}
	w, _, rdb := newTestWorker(t, sink)
	w.size = 2

	push(t, rdb, "test_queue", 1, 2, 3)
	if err := rdb.RPush(context.Background(), "test_queue", "{not json").Err(); err != nil {
		t.Fatalf("rpush: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := rdb.LLen(context.Background(), "test_queue").Result(); n == 0 && sink.count() >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if got := sink.count(); got != 3 {
		t.Fatalf("expected 3 items written (the last one on shutdown), got %d", got)
	}
	if len(sink.batches[0]) != 2 {
		t.Fatalf("expected the first flush to be a full batch, got %v", sink.batches)
	}
}

func TestFlushSafeIsolatesFailures(t *testing.T) {
	sink := &fakeFlusher{
		batchErr: errors.New("copy failed"),
		failOne: map[int]error{
			2: &pgconn.PgError{Code: "23503"},
			3: errors.New("connection reset"),
		},
	}
	w, _, rdb := newTestWorker(t, sink)

	w.flushSafe(context.Background(), []item{{ID: 1}, {ID: 2}, {ID: 3}})

	if sink.count() != 1 || sink.written[0].ID != 1 {
		t.Fatalf("expected only item 1 written, got %v", sink.written)
	}
	queued, err := rdb.LRange(context.Background(), "test_queue", 0, -1).Result()
	if err != nil {
		t.Fatalf("lrange: %v", err)
	}
	if len(queued) != 1 {
		t.Fatalf("expected the transient failure requeued and the rejected row dropped, got %v", queued)
	}
	var back item
	if err := sonic.UnmarshalString(queued[0], &back); err != nil || back.ID != 3 {
		t.Fatalf("unexpected requeued payload %q", queued[0])
	}
}

func TestIsDataError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&pgconn.PgError{Code: "22P02"}, true},
		{&pgconn.PgError{Code: "23505"}, true},
		{&pgconn.PgError{Code: "57P01"}, false},
		{errors.New("dial tcp: refused"), false},
	}
	for _, tt := range tests {
		if got := isDataError(tt.err); got != tt.want {
			t.Errorf("isDataError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestLatestCountersKeepsNewestPerParticipant(t *testing.T) {
	sched := uuid.New()
	t0 := time.Now()
	got := latestCounters([]progress.CounterUpdate{
		{UserID: 1, ScheduleID: sched, Answered: 3, At: t0},
		{UserID: 1, ScheduleID: sched, Answered: 5, At: t0.Add(time.Second)},
		{UserID: 1, ScheduleID: sched, Answered: 4, At: t0.Add(-time.Second)},
		{UserID: 2, ScheduleID: sched, Answered: 1, At: t0},
	})
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %v", got)
	}
	if got[0].UserID != 1 || got[0].Answered != 5 {
		t.Fatalf("expected newest counter for user 1, got %+v", got[0])
	}
}
