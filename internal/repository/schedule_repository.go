package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const scheduleColumns = `s.id, s.title, s.start_time, s.end_time, s.duration_minutes, s.max_attempts,
	s.is_active, s.results_released, s.analysis_status, s.created_at,
	(SELECT COUNT(*) FROM schedule_questions sq WHERE sq.schedule_id = s.id)`

// ScheduleRepository is the schedule registry.
type ScheduleRepository struct {
	pool *pgxpool.Pool
}

// NewScheduleRepository creates a new ScheduleRepository.
func NewScheduleRepository(pool *pgxpool.Pool) *ScheduleRepository {
	return &ScheduleRepository{pool: pool}
}

func scanSchedule(row pgx.Row) (*model.Schedule, error) {
	s := &model.Schedule{}
	err := row.Scan(&s.ID, &s.Title, &s.StartTime, &s.EndTime, &s.DurationMinutes, &s.MaxAttempts,
		&s.IsActive, &s.ResultsReleased, &s.AnalysisStatus, &s.CreatedAt, &s.QuestionCount)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// FindCurrent returns the open schedule at now. When windows overlap the most
// recently started one wins.
func (r *ScheduleRepository) FindCurrent(ctx context.Context, now time.Time) (*model.Schedule, error) {
	s, err := scanSchedule(r.pool.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM schedules s
		 WHERE s.is_active AND s.start_time <= $1 AND s.end_time > $1
		 ORDER BY s.start_time DESC
		 LIMIT 1`, now,
	))
	if err != nil {
		return nil, mapErr(err)
	}
	return s, nil
}

// GetByID retrieves a schedule.
func (r *ScheduleRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Schedule, error) {
	s, err := scanSchedule(r.pool.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM schedules s WHERE s.id = $1`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return s, nil
}

// List returns every schedule, newest first.
func (r *ScheduleRepository) List(ctx context.Context) ([]model.Schedule, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+scheduleColumns+` FROM schedules s ORDER BY s.start_time DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []model.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *s)
	}
	return schedules, rows.Err()
}

// Create inserts a new schedule.
func (r *ScheduleRepository) Create(ctx context.Context, s *model.Schedule) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO schedules (title, start_time, end_time, duration_minutes, max_attempts, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, results_released, analysis_status, created_at`,
		s.Title, s.StartTime, s.EndTime, s.DurationMinutes, s.MaxAttempts, s.IsActive,
	).Scan(&s.ID, &s.ResultsReleased, &s.AnalysisStatus, &s.CreatedAt)
}

// Update edits the window and limits of a schedule.
func (r *ScheduleRepository) Update(ctx context.Context, s *model.Schedule) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE schedules
		 SET title = $2, start_time = $3, end_time = $4, duration_minutes = $5, max_attempts = $6, is_active = $7
		 WHERE id = $1`,
		s.ID, s.Title, s.StartTime, s.EndTime, s.DurationMinutes, s.MaxAttempts, s.IsActive,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a schedule and, through cascades, everything recorded under it.
func (r *ScheduleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetResultsReleased toggles result visibility for participants.
func (r *ScheduleRepository) SetResultsReleased(ctx context.Context, id uuid.UUID, released bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE schedules SET results_released = $2 WHERE id = $1`, id, released)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LinkQuestions replaces the ordered question set of a schedule.
func (r *ScheduleRepository) LinkQuestions(ctx context.Context, id uuid.UUID, questionIDs []uuid.UUID) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schedules WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM schedule_questions WHERE schedule_id = $1`, id); err != nil {
			return err
		}
		positions := make([]int32, len(questionIDs))
		for i := range questionIDs {
			positions[i] = int32(i)
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO schedule_questions (schedule_id, question_id, position)
			 SELECT $1, q.id, q.pos FROM UNNEST($2::uuid[], $3::int[]) AS q(id, pos)
			 ON CONFLICT DO NOTHING`,
			id, questionIDs, positions,
		)
		return mapErr(err)
	})
}

// LinkedQuestionIDs returns the schedule's question ids in link order.
func (r *ScheduleRepository) LinkedQuestionIDs(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id FROM schedule_questions WHERE schedule_id = $1 ORDER BY position, question_id`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var qid uuid.UUID
		if err := rows.Scan(&qid); err != nil {
			return nil, err
		}
		ids = append(ids, qid)
	}
	return ids, rows.Err()
}

// CountAttempts counts finalized attempts of a user for a schedule.
func (r *ScheduleRepository) CountAttempts(ctx context.Context, userID int, scheduleID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM results WHERE user_id = $1 AND schedule_id = $2`, userID, scheduleID,
	).Scan(&n)
	return n, err
}
