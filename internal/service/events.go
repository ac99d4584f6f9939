package service

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// EventSink receives exam telemetry and violations for batched persistence.
type EventSink interface {
	Emit(ctx context.Context, ev model.ExamEvent)
}

// QueueEventSink pushes events onto persist_events_queue for the event worker.
type QueueEventSink struct {
	rdb *redis.Client
	log zerolog.Logger
}

func NewQueueEventSink(rdb *redis.Client, log zerolog.Logger) *QueueEventSink {
	return &QueueEventSink{
		rdb: rdb,
		log: log.With().Str("component", "event_sink").Logger(),
	}
}

func (s *QueueEventSink) Emit(ctx context.Context, ev model.ExamEvent) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	raw, err := sonic.Marshal(ev)
	if err == nil {
		err = s.rdb.RPush(ctx, config.WorkerKey.PersistEventsQueue, raw).Err()
	}
	if err != nil {
		s.log.Warn().Err(err).
			Str("session_id", ev.SessionID.String()).
			Str("event_type", ev.EventType).
			Msg("Failed to enqueue exam event")
	}
}

func activity(sessionID uuid.UUID, userID int, eventType, details string, at time.Time) model.ExamEvent {
	return model.ExamEvent{
		SessionID:  sessionID,
		UserID:     userID,
		Kind:       model.EventKindActivity,
		EventType:  eventType,
		Details:    details,
		OccurredAt: at,
	}
}

// MonitorEvent is the message published to proctors on the monitor channel.
type MonitorEvent struct {
	Type       string    `json:"type"`
	UserID     int       `json:"user_id"`
	Username   string    `json:"username,omitempty"`
	SessionID  uuid.UUID `json:"session_id"`
	ScheduleID uuid.UUID `json:"schedule_id"`
	Detail     string    `json:"detail,omitempty"`
	Score      *float64  `json:"score,omitempty"`
	At         time.Time `json:"at"`
}

// Monitor event types.
const (
	MonitorSessionStarted  = "session_started"
	MonitorSessionFinished = "session_finished"
	MonitorViolation       = "violation"
)

// MonitorPublisher fans lifecycle changes out to connected proctor dashboards.
type MonitorPublisher interface {
	Publish(ctx context.Context, ev MonitorEvent)
}

// RedisMonitorPublisher publishes on the Redis monitor channel so every API
// instance can forward it to its own SSE subscribers.
type RedisMonitorPublisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

func NewRedisMonitorPublisher(rdb *redis.Client, log zerolog.Logger) *RedisMonitorPublisher {
	return &RedisMonitorPublisher{
		rdb: rdb,
		log: log.With().Str("component", "monitor_publisher").Logger(),
	}
}

func (p *RedisMonitorPublisher) Publish(ctx context.Context, ev MonitorEvent) {
	raw, err := sonic.Marshal(ev)
	if err == nil {
		err = p.rdb.Publish(ctx, config.CacheKey.MonitorChannel(), raw).Err()
	}
	if err != nil {
		p.log.Debug().Err(err).Str("type", ev.Type).Msg("monitor publish failed")
	}
}

// Subscribe returns a PubSub on the monitor channel. Callers must Close it.
func (p *RedisMonitorPublisher) Subscribe(ctx context.Context) *redis.PubSub {
	return p.rdb.Subscribe(ctx, config.CacheKey.MonitorChannel())
}
