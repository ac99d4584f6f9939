package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
)

// CounterUpdate is the coarse progress indicator flushed to exam_sessions.
type CounterUpdate struct {
	UserID     int       `json:"user_id"`
	ScheduleID uuid.UUID `json:"schedule_id"`
	Answered   int       `json:"answered"`
	At         time.Time `json:"at"`
}

// CounterSink receives answered-count updates after fast-tier writes.
type CounterSink interface {
	EnqueueCounter(ctx context.Context, u CounterUpdate) error
}

// QueueCounterSink pushes counter updates onto persist_progress_queue for the progress worker.
type QueueCounterSink struct {
	rdb *redis.Client
}

func NewQueueCounterSink(rdb *redis.Client) *QueueCounterSink {
	return &QueueCounterSink{rdb: rdb}
}

func (q *QueueCounterSink) EnqueueCounter(ctx context.Context, u CounterUpdate) error {
	raw, err := sonic.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode counter update: %w", err)
	}
	return q.rdb.RPush(ctx, config.WorkerKey.PersistProgressQueue, raw).Err()
}
