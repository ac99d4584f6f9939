package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// EventRepository reads the exam_events log. Writes go through the event worker.
type EventRepository struct {
	pool *pgxpool.Pool
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// ListBySession returns the session's events in time order.
func (r *EventRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.ExamEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, user_id, kind, event_type, COALESCE(details, ''), occurred_at
		 FROM exam_events WHERE session_id = $1
		 ORDER BY occurred_at, id`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.ExamEvent
	for rows.Next() {
		var e model.ExamEvent
		if err := rows.Scan(&e.ID, &e.SessionID, &e.UserID, &e.Kind, &e.EventType, &e.Details, &e.OccurredAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
