package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/progress"
)

const sessionColumns = `id, user_id, username, schedule_id, status, question_count, progress,
	started_at, last_update, finished_at`

var errLostRace = errors.New("another session became active first")

// SessionRepository handles exam sessions with their instance and durable progress.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func scanSession(row pgx.Row) (*model.Session, error) {
	s := &model.Session{}
	err := row.Scan(&s.ID, &s.UserID, &s.Username, &s.ScheduleID, &s.Status, &s.QuestionCount, &s.Progress,
		&s.StartedAt, &s.LastUpdate, &s.FinishedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// FindActive returns the user's active session, or ErrNotFound.
func (r *SessionRepository) FindActive(ctx context.Context, userID int) (*model.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE user_id = $1 AND status = 'active'`, userID,
	))
	if err != nil {
		return nil, mapErr(err)
	}
	return s, nil
}

// GetByID retrieves a session in any state.
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return s, nil
}

// LoadInstance returns the validated instance of a session. A missing or corrupt
// record yields ErrStaleOrMissingProgress.
func (r *SessionRepository) LoadInstance(ctx context.Context, sessionID uuid.UUID) (*model.ExamInstance, error) {
	return loadInstance(ctx, r.pool, sessionID)
}

// LoadProgressSnapshot returns the durable progress of a session in any state.
// For a finished session this is the final authoritative answer set.
func (r *SessionRepository) LoadProgressSnapshot(ctx context.Context, sessionID uuid.UUID) (*model.Progress, error) {
	return loadProgress(ctx, r.pool, sessionID)
}

// CreateActive starts a session in one transaction: it abandons staleID if given,
// re-checks for an active session, and inserts the session with its instance and
// empty progress. If another request won the race, the winner is returned with
// created=false.
func (r *SessionRepository) CreateActive(ctx context.Context, s *model.Session, inst *model.ExamInstance, staleID uuid.UUID) (*model.Session, bool, error) {
	instanceRaw, err := sonic.Marshal(inst)
	if err != nil {
		return nil, false, fmt.Errorf("encode instance: %w", err)
	}
	answers, flags, err := progress.EncodeSnapshot(model.NewProgress())
	if err != nil {
		return nil, false, err
	}

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if staleID != uuid.Nil {
			// Abandon rather than delete: exam_events cascade on delete.
			if _, err := tx.Exec(ctx,
				`UPDATE exam_sessions SET status = 'abandoned', finished_at = NOW(), last_update = NOW()
				 WHERE id = $1 AND status = 'active'`, staleID,
			); err != nil {
				return fmt.Errorf("abandon stale session: %w", err)
			}
		}

		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM exam_sessions WHERE user_id = $1 AND status = 'active')`, s.UserID,
		).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return errLostRace
		}

		err := tx.QueryRow(ctx,
			`INSERT INTO exam_sessions (user_id, username, schedule_id, status, question_count)
			 VALUES ($1, $2, $3, 'active', $4)
			 ON CONFLICT (user_id) WHERE status = 'active' DO NOTHING
			 RETURNING id, status, progress, started_at, last_update`,
			s.UserID, s.Username, s.ScheduleID, len(inst.Questions),
		).Scan(&s.ID, &s.Status, &s.Progress, &s.StartedAt, &s.LastUpdate)
		if errors.Is(err, pgx.ErrNoRows) {
			return errLostRace
		}
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		s.QuestionCount = len(inst.Questions)

		if _, err := tx.Exec(ctx,
			`INSERT INTO exam_instances (session_id, questions) VALUES ($1, $2)`, s.ID, instanceRaw,
		); err != nil {
			return fmt.Errorf("insert instance: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO session_progress (session_id, user_id, answers, flags) VALUES ($1, $2, $3, $4)`,
			s.ID, s.UserID, answers, flags,
		); err != nil {
			return fmt.Errorf("insert progress: %w", err)
		}
		return nil
	})

	if errors.Is(err, errLostRace) {
		winner, ferr := r.FindActive(ctx, s.UserID)
		if ferr != nil {
			return nil, false, fmt.Errorf("lost session race, fetch winner: %w", ferr)
		}
		return winner, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// ListActive returns active sessions, optionally for one schedule.
func (r *SessionRepository) ListActive(ctx context.Context, scheduleID *uuid.UUID) ([]model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM exam_sessions WHERE status = 'active'`
	args := []any{}
	if scheduleID != nil {
		query += ` AND schedule_id = $1`
		args = append(args, *scheduleID)
	}
	query += ` ORDER BY started_at`
	return r.list(ctx, query, args...)
}

// ListExpired returns active sessions whose duration plus grace has elapsed at now.
func (r *SessionRepository) ListExpired(ctx context.Context, now time.Time, grace time.Duration) ([]model.Session, error) {
	return r.list(ctx,
		`SELECT `+prefixed("e", sessionColumns)+`
		 FROM exam_sessions e
		 JOIN schedules s ON s.id = e.schedule_id
		 WHERE e.status = 'active'
		   AND e.started_at + make_interval(mins => s.duration_minutes) + make_interval(secs => $2) < $1
		 ORDER BY e.started_at`,
		now, grace.Seconds(),
	)
}

func (r *SessionRepository) list(ctx context.Context, query string, args ...any) ([]model.Session, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// Finalize runs fn inside one transaction. Any error rolls everything back.
func (r *SessionRepository) Finalize(ctx context.Context, fn func(FinalizeTx) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

func loadInstance(ctx context.Context, q Querier, sessionID uuid.UUID) (*model.ExamInstance, error) {
	var raw []byte
	err := q.QueryRow(ctx, `SELECT questions FROM exam_instances WHERE session_id = $1`, sessionID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: no instance for session %s", model.ErrStaleOrMissingProgress, sessionID)
	}
	if err != nil {
		return nil, err
	}
	return DecodeInstance(raw)
}

// DecodeInstance parses and validates a stored instance.
func DecodeInstance(raw []byte) (*model.ExamInstance, error) {
	inst := &model.ExamInstance{}
	if err := sonic.Unmarshal(raw, inst); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStaleOrMissingProgress, err)
	}
	if err := inst.Validate(); err != nil {
		return nil, err
	}
	return inst, nil
}

func loadProgress(ctx context.Context, q Querier, sessionID uuid.UUID) (*model.Progress, error) {
	var answers, flags []byte
	var count int
	err := q.QueryRow(ctx,
		`SELECT sp.answers, sp.flags, s.question_count
		 FROM session_progress sp JOIN exam_sessions s ON s.id = sp.session_id
		 WHERE sp.session_id = $1`, sessionID,
	).Scan(&answers, &flags, &count)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: no progress for session %s", model.ErrStaleOrMissingProgress, sessionID)
	}
	if err != nil {
		return nil, err
	}
	return progress.DecodeSnapshot(answers, flags, count)
}
