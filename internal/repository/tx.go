package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/progress"
)

// ErrAlreadyGraded is returned when an essay left the pending state before this grade.
var ErrAlreadyGraded = errors.New("essay already graded")

// FinalizeTx is the unit of work of a session finalization.
type FinalizeTx interface {
	// LockActiveSession row-locks the user's active session, or returns ErrNotFound.
	LockActiveSession(ctx context.Context, userID int) (*model.Session, error)
	LoadInstance(ctx context.Context, sessionID uuid.UUID) (*model.ExamInstance, error)
	LoadProgress(ctx context.Context, sessionID uuid.UUID) (*model.Progress, error)
	CountResults(ctx context.Context, userID int, scheduleID uuid.UUID) (int, error)
	InsertResult(ctx context.Context, res *model.Result) error
	InsertEssays(ctx context.Context, essays []model.EssaySubmission) error
	// FinishSession stores the final answers and moves the session to finished.
	FinishSession(ctx context.Context, sessionID uuid.UUID, final *model.Progress, at time.Time) error
}

// GradingTx is the unit of work of grading one essay.
type GradingTx interface {
	EssayResultID(ctx context.Context, essayID int64) (uuid.UUID, error)
	LockResult(ctx context.Context, resultID uuid.UUID) (*model.Result, error)
	// GradeEssay returns ErrAlreadyGraded unless the essay is still pending.
	GradeEssay(ctx context.Context, essayID int64, score float64, graderID int, at time.Time) error
	EssayScores(ctx context.Context, resultID uuid.UUID) (scores []float64, total, pending int, err error)
	UpdateResultScore(ctx context.Context, resultID uuid.UUID, score float64, status string, gs model.GradingStatus) error
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockActiveSession(ctx context.Context, userID int) (*model.Session, error) {
	s, err := scanSession(t.tx.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE user_id = $1 AND status = 'active' FOR UPDATE`, userID,
	))
	if err != nil {
		return nil, mapErr(err)
	}
	return s, nil
}

func (t *pgTx) LoadInstance(ctx context.Context, sessionID uuid.UUID) (*model.ExamInstance, error) {
	return loadInstance(ctx, t.tx, sessionID)
}

func (t *pgTx) LoadProgress(ctx context.Context, sessionID uuid.UUID) (*model.Progress, error) {
	return loadProgress(ctx, t.tx, sessionID)
}

func (t *pgTx) CountResults(ctx context.Context, userID int, scheduleID uuid.UUID) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM results WHERE user_id = $1 AND schedule_id = $2`, userID, scheduleID,
	).Scan(&n)
	return n, err
}

func (t *pgTx) InsertResult(ctx context.Context, res *model.Result) error {
	return t.tx.QueryRow(ctx,
		`INSERT INTO results (session_id, user_id, schedule_id, attempt_number, username, name,
		                      mc_score, score, status, grading_status, trigger, late, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id`,
		res.SessionID, res.UserID, res.ScheduleID, res.AttemptNumber, res.Username, res.Name,
		res.MCScore, res.Score, res.Status, res.GradingStatus, res.Trigger, res.Late, res.CompletedAt,
	).Scan(&res.ID)
}

func (t *pgTx) InsertEssays(ctx context.Context, essays []model.EssaySubmission) error {
	for i := range essays {
		e := &essays[i]
		if err := t.tx.QueryRow(ctx,
			`INSERT INTO essay_submissions (result_id, user_id, question_id, position, answer_text, status, submitted_at)
			 VALUES ($1, $2, $3, $4, $5, 'pending', $6)
			 RETURNING id, status`,
			e.ResultID, e.UserID, e.QuestionID, e.Position, e.AnswerText, e.SubmittedAt,
		).Scan(&e.ID, &e.Status); err != nil {
			return fmt.Errorf("insert essay at position %d: %w", e.Position, err)
		}
	}
	return nil
}

func (t *pgTx) FinishSession(ctx context.Context, sessionID uuid.UUID, final *model.Progress, at time.Time) error {
	answers, flags, err := progress.EncodeSnapshot(final)
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO session_progress (session_id, user_id, answers, flags, updated_at)
		 SELECT id, user_id, $2, $3, $4 FROM exam_sessions WHERE id = $1
		 ON CONFLICT (session_id) DO UPDATE
		 SET answers = EXCLUDED.answers, flags = EXCLUDED.flags, updated_at = EXCLUDED.updated_at`,
		sessionID, answers, flags, at,
	); err != nil {
		return fmt.Errorf("write final progress: %w", err)
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE exam_sessions SET status = 'finished', finished_at = $2, last_update = $2, progress = $3
		 WHERE id = $1 AND status = 'active'`,
		sessionID, at, final.AnsweredCount(),
	)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("finish session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) EssayResultID(ctx context.Context, essayID int64) (uuid.UUID, error) {
	var id uuid.UUID
	err := t.tx.QueryRow(ctx, `SELECT result_id FROM essay_submissions WHERE id = $1`, essayID).Scan(&id)
	return id, mapErr(err)
}

func (t *pgTx) LockResult(ctx context.Context, resultID uuid.UUID) (*model.Result, error) {
	res, err := scanResult(t.tx.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM results r JOIN schedules sc ON sc.id = r.schedule_id
		 WHERE r.id = $1 FOR UPDATE OF r`, resultID,
	))
	if err != nil {
		return nil, mapErr(err)
	}
	return res, nil
}

func (t *pgTx) GradeEssay(ctx context.Context, essayID int64, score float64, graderID int, at time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE essay_submissions SET status = 'graded', score = $2, graded_by = $3, graded_at = $4
		 WHERE id = $1 AND status = 'pending'`,
		essayID, score, graderID, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyGraded
	}
	return nil
}

func (t *pgTx) EssayScores(ctx context.Context, resultID uuid.UUID) ([]float64, int, int, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT status, score FROM essay_submissions WHERE result_id = $1`, resultID,
	)
	if err != nil {
		return nil, 0, 0, err
	}
	defer rows.Close()

	var scores []float64
	total, pending := 0, 0
	for rows.Next() {
		var status string
		var score *float64
		if err := rows.Scan(&status, &score); err != nil {
			return nil, 0, 0, err
		}
		total++
		if status == string(model.EssayStatusPending) {
			pending++
			continue
		}
		if score != nil {
			scores = append(scores, *score)
		}
	}
	return scores, total, pending, rows.Err()
}

func (t *pgTx) UpdateResultScore(ctx context.Context, resultID uuid.UUID, score float64, status string, gs model.GradingStatus) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE results SET score = $2, status = $3, grading_status = $4 WHERE id = $1`,
		resultID, score, status, gs,
	)
	return err
}

// prefixed qualifies a comma-separated column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
