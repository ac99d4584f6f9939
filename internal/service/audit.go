package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AuditSink records privileged actions. Record never fails the caller's operation.
type AuditSink interface {
	Record(ctx context.Context, ev model.AuditEvent)
}

// QueueAuditSink pushes audit entries onto persist_audit_queue for the audit worker.
type QueueAuditSink struct {
	rdb *redis.Client
	log zerolog.Logger
}

func NewQueueAuditSink(rdb *redis.Client, log zerolog.Logger) *QueueAuditSink {
	return &QueueAuditSink{
		rdb: rdb,
		log: log.With().Str("component", "audit").Logger(),
	}
}

func (s *QueueAuditSink) Record(ctx context.Context, ev model.AuditEvent) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	raw, err := sonic.Marshal(ev)
	if err == nil {
		err = s.rdb.RPush(ctx, config.WorkerKey.PersistAuditQueue, raw).Err()
	}
	if err != nil {
		// The log line is the audit record of last resort.
		s.log.Error().Err(err).
			Str("action", ev.Action).
			Int("actor_id", ev.ActorID).
			Str("target_id", ev.TargetID).
			Str("details", ev.Details).
			Msg("Failed to enqueue audit event")
	}
}

func auditEvent(actor Actor, action, targetType, targetID, details string, at time.Time) model.AuditEvent {
	name := actor.Name
	if name == "" {
		name = SystemActor.Name
	}
	return model.AuditEvent{
		ActorID:    actor.ID,
		ActorName:  name,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    details,
		OccurredAt: at,
	}
}

func auditDetails(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
