package worker

import (
	"context"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/progress"
)

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// ─── Progress counters ──────────────────────────────────────────────────────

// ProgressFlusher writes answered counts onto active exam_sessions rows.
type ProgressFlusher struct {
	db DB
}

func NewProgressFlusher(db DB) *ProgressFlusher {
	return &ProgressFlusher{db: db}
}

// NewProgressWorker consumes persist_progress_queue.
func NewProgressWorker(db DB, rdb *redis.Client, log zerolog.Logger) *BatchWorker[progress.CounterUpdate] {
	return NewBatchWorker[progress.CounterUpdate]("progress_worker", config.WorkerKey.PersistProgressQueue, rdb, NewProgressFlusher(db), log)
}

// latestCounters keeps only the newest update per participant and schedule.
func latestCounters(batch []progress.CounterUpdate) []progress.CounterUpdate {
	type key struct {
		user     int
		schedule string
	}
	latest := make(map[key]progress.CounterUpdate, len(batch))
	for _, u := range batch {
		k := key{u.UserID, u.ScheduleID.String()}
		if prev, ok := latest[k]; !ok || !u.At.Before(prev.At) {
			latest[k] = u
		}
	}
	out := make([]progress.CounterUpdate, 0, len(latest))
	for _, u := range latest {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

const progressUpdateSQL = `UPDATE exam_sessions s
	SET progress = u.answered, last_update = u.at
	FROM UNNEST($1::int[], $2::uuid[], $3::int[], $4::timestamptz[]) AS u(user_id, schedule_id, answered, at)
	WHERE s.user_id = u.user_id AND s.schedule_id = u.schedule_id
	  AND s.status = 'active' AND s.last_update <= u.at`

func (f *ProgressFlusher) FlushBatch(ctx context.Context, batch []progress.CounterUpdate) error {
	rows := latestCounters(batch)
	users := make([]int, len(rows))
	schedules := make([]string, len(rows))
	answered := make([]int, len(rows))
	at := make([]time.Time, len(rows))
	for i, u := range rows {
		users[i] = u.UserID
		schedules[i] = u.ScheduleID.String()
		answered[i] = u.Answered
		at[i] = u.At
	}
	_, err := f.db.Exec(ctx, progressUpdateSQL, users, schedules, answered, at)
	return err
}

func (f *ProgressFlusher) FlushOne(ctx context.Context, u progress.CounterUpdate) error {
	_, err := f.db.Exec(ctx,
		`UPDATE exam_sessions SET progress = $3, last_update = $4
		 WHERE user_id = $1 AND schedule_id = $2 AND status = 'active' AND last_update <= $4`,
		u.UserID, u.ScheduleID, u.Answered, u.At,
	)
	return err
}

// ─── Exam events ────────────────────────────────────────────────────────────

var eventColumns = []string{"session_id", "user_id", "kind", "event_type", "details", "occurred_at"}

// EventFlusher appends activity and violation events to exam_events.
type EventFlusher struct {
	db DB
}

func NewEventFlusher(db DB) *EventFlusher {
	return &EventFlusher{db: db}
}

// NewEventWorker consumes persist_events_queue.
func NewEventWorker(db DB, rdb *redis.Client, log zerolog.Logger) *BatchWorker[model.ExamEvent] {
	return NewBatchWorker[model.ExamEvent]("event_worker", config.WorkerKey.PersistEventsQueue, rdb, NewEventFlusher(db), log)
}

func eventRow(ev model.ExamEvent) []any {
	return []any{ev.SessionID, ev.UserID, string(ev.Kind), ev.EventType, nullable(ev.Details), ev.OccurredAt}
}

func (f *EventFlusher) FlushBatch(ctx context.Context, batch []model.ExamEvent) error {
	rows := make([][]any, len(batch))
	for i, ev := range batch {
		rows[i] = eventRow(ev)
	}
	_, err := f.db.CopyFrom(ctx, pgx.Identifier{"exam_events"}, eventColumns, pgx.CopyFromRows(rows))
	return err
}

func (f *EventFlusher) FlushOne(ctx context.Context, ev model.ExamEvent) error {
	_, err := f.db.Exec(ctx,
		`INSERT INTO exam_events (session_id, user_id, kind, event_type, details, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		eventRow(ev)...,
	)
	return err
}

// ─── Audit trail ────────────────────────────────────────────────────────────

var auditColumns = []string{"actor_id", "actor_name", "action", "target_type", "target_id", "details", "created_at"}

// AuditFlusher appends entries to audit_trail.
type AuditFlusher struct {
	db DB
}

func NewAuditFlusher(db DB) *AuditFlusher {
	return &AuditFlusher{db: db}
}

// NewAuditWorker consumes persist_audit_queue.
func NewAuditWorker(db DB, rdb *redis.Client, log zerolog.Logger) *BatchWorker[model.AuditEvent] {
	return NewBatchWorker[model.AuditEvent]("audit_worker", config.WorkerKey.PersistAuditQueue, rdb, NewAuditFlusher(db), log)
}

func auditRow(ev model.AuditEvent) []any {
	// Actor 0 is the system.
	var actor *int
	if ev.ActorID != 0 {
		id := ev.ActorID
		actor = &id
	}
	return []any{actor, ev.ActorName, ev.Action, ev.TargetType, ev.TargetID, nullable(ev.Details), ev.OccurredAt}
}

func (f *AuditFlusher) FlushBatch(ctx context.Context, batch []model.AuditEvent) error {
	rows := make([][]any, len(batch))
	for i, ev := range batch {
		rows[i] = auditRow(ev)
	}
	_, err := f.db.CopyFrom(ctx, pgx.Identifier{"audit_trail"}, auditColumns, pgx.CopyFromRows(rows))
	return err
}

func (f *AuditFlusher) FlushOne(ctx context.Context, ev model.AuditEvent) error {
	_, err := f.db.Exec(ctx,
		`INSERT INTO audit_trail (actor_id, actor_name, action, target_type, target_id, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		auditRow(ev)...,
	)
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
