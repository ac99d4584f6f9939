package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/analysis"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/progress"
)

const resultColumns = `r.id, r.session_id, r.user_id, r.schedule_id, r.attempt_number, r.username, r.name,
	r.mc_score, r.score, r.status, r.grading_status, r.trigger, r.late, r.completed_at, sc.title`

const essayColumns = `e.id, e.result_id, e.user_id, e.question_id, e.position, e.answer_text, e.status,
	e.score, e.graded_by, e.graded_at, e.submitted_at`

// ResultRepository handles results and their essay submissions.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

func scanResult(row pgx.Row) (*model.Result, error) {
	res := &model.Result{}
	err := row.Scan(&res.ID, &res.SessionID, &res.UserID, &res.ScheduleID, &res.AttemptNumber, &res.Username, &res.Name,
		&res.MCScore, &res.Score, &res.Status, &res.GradingStatus, &res.Trigger, &res.Late, &res.CompletedAt,
		&res.ScheduleTitle)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *ResultRepository) one(ctx context.Context, where string, args ...any) (*model.Result, error) {
	res, err := scanResult(r.pool.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM results r JOIN schedules sc ON sc.id = r.schedule_id `+where, args...,
	))
	if err != nil {
		return nil, mapErr(err)
	}
	return res, nil
}

func (r *ResultRepository) many(ctx context.Context, query string, args ...any) ([]model.Result, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *res)
	}
	return results, rows.Err()
}

// GetByID retrieves a result.
func (r *ResultRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Result, error) {
	return r.one(ctx, `WHERE r.id = $1`, id)
}

// GetBySession retrieves the result of a finalized session.
func (r *ResultRepository) GetBySession(ctx context.Context, sessionID uuid.UUID) (*model.Result, error) {
	return r.one(ctx, `WHERE r.session_id = $1`, sessionID)
}

// LatestForUser returns the user's most recent result completed at or after since.
func (r *ResultRepository) LatestForUser(ctx context.Context, userID int, since time.Time) (*model.Result, error) {
	return r.one(ctx, `WHERE r.user_id = $1 AND r.completed_at >= $2 ORDER BY r.completed_at DESC LIMIT 1`, userID, since)
}

// ListReleasedByUser returns the user's results for schedules whose results are released.
func (r *ResultRepository) ListReleasedByUser(ctx context.Context, userID int) ([]model.Result, error) {
	return r.many(ctx,
		`SELECT `+resultColumns+` FROM results r JOIN schedules sc ON sc.id = r.schedule_id
		 WHERE r.user_id = $1 AND sc.results_released
		 ORDER BY r.completed_at DESC`, userID,
	)
}

// List retrieves results with optional schedule, status, and name search filters.
func (r *ResultRepository) List(ctx context.Context, f model.ResultFilter) ([]model.Result, int, error) {
	base := ` FROM results r JOIN schedules sc ON sc.id = r.schedule_id WHERE 1=1`
	args := []any{}
	if f.ScheduleID != nil {
		args = append(args, *f.ScheduleID)
		base += fmt.Sprintf(" AND r.schedule_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		base += fmt.Sprintf(" AND r.status = $%d", len(args))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		base += fmt.Sprintf(" AND (r.username ILIKE $%d OR r.name ILIKE $%d)", len(args), len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*)"+base, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, f.PerPage, (f.Page-1)*f.PerPage)
	query := `SELECT ` + resultColumns + base +
		fmt.Sprintf(" ORDER BY r.completed_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	results, err := r.many(ctx, query, args...)
	return results, total, err
}

// Delete removes a result and its essays so the participant regains the attempt.
func (r *ResultRepository) Delete(ctx context.Context, id uuid.UUID) (*model.Result, error) {
	res, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM results WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return res, nil
}

// Distribution buckets scores into ten bands of width ten; 100 falls in the last.
func (r *ResultRepository) Distribution(ctx context.Context, scheduleID *uuid.UUID) ([]model.ScoreBucket, error) {
	query := `SELECT LEAST(FLOOR(score / 10), 9)::int AS bucket, COUNT(*) FROM results`
	args := []any{}
	if scheduleID != nil {
		query += ` WHERE schedule_id = $1`
		args = append(args, *scheduleID)
	}
	query += ` GROUP BY bucket`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make([]int, 10)
	for rows.Next() {
		var bucket, n int
		if err := rows.Scan(&bucket, &n); err != nil {
			return nil, err
		}
		if bucket >= 0 && bucket < len(counts) {
			counts[bucket] = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	buckets := make([]model.ScoreBucket, len(counts))
	for i, n := range counts {
		hi := i*10 + 9
		if i == len(counts)-1 {
			hi = 100
		}
		buckets[i] = model.ScoreBucket{Range: fmt.Sprintf("%d-%d", i*10, hi), Count: n}
	}
	return buckets, nil
}

func scanEssay(row pgx.Row, extra ...any) (*model.EssaySubmission, error) {
	e := &model.EssaySubmission{}
	dest := []any{&e.ID, &e.ResultID, &e.UserID, &e.QuestionID, &e.Position, &e.AnswerText, &e.Status,
		&e.Score, &e.GradedBy, &e.GradedAt, &e.SubmittedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return e, nil
}

// ListEssays returns the essays of a result in position order.
func (r *ResultRepository) ListEssays(ctx context.Context, resultID uuid.UUID) ([]model.EssaySubmission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+essayColumns+` FROM essay_submissions e WHERE e.result_id = $1 ORDER BY e.position`, resultID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var essays []model.EssaySubmission
	for rows.Next() {
		e, err := scanEssay(rows)
		if err != nil {
			return nil, err
		}
		essays = append(essays, *e)
	}
	return essays, rows.Err()
}

// ListPendingEssays returns ungraded essays, oldest first, with question text and author.
func (r *ResultRepository) ListPendingEssays(ctx context.Context, scheduleID *uuid.UUID, limit int) ([]model.EssaySubmission, error) {
	query := `SELECT ` + essayColumns + `, q.question_text, res.username
		FROM essay_submissions e
		JOIN results res ON res.id = e.result_id
		JOIN questions q ON q.id = e.question_id
		WHERE e.status = 'pending'`
	args := []any{}
	if scheduleID != nil {
		args = append(args, *scheduleID)
		query += fmt.Sprintf(" AND res.schedule_id = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY e.submitted_at, e.id LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var essays []model.EssaySubmission
	for rows.Next() {
		var text, username string
		e, err := scanEssay(rows, &text, &username)
		if err != nil {
			return nil, err
		}
		e.QuestionText, e.Username = text, username
		essays = append(essays, *e)
	}
	return essays, rows.Err()
}

// Grade runs fn inside one transaction.
func (r *ResultRepository) Grade(ctx context.Context, fn func(GradingTx) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

// ListForAnalysis loads every finalized attempt of a schedule with the instance
// and final answers it was scored on. Attempts whose records cannot be decoded
// are skipped and counted.
func (r *ResultRepository) ListForAnalysis(ctx context.Context, scheduleID uuid.UUID) ([]analysis.Submission, int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT r.score, ei.questions, sp.answers, sp.flags, es.question_count
		 FROM results r
		 JOIN exam_sessions es ON es.id = r.session_id
		 JOIN exam_instances ei ON ei.session_id = r.session_id
		 LEFT JOIN session_progress sp ON sp.session_id = r.session_id
		 WHERE r.schedule_id = $1
		 ORDER BY r.completed_at`, scheduleID,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var subs []analysis.Submission
	skipped := 0
	for rows.Next() {
		var (
			score                   float64
			instRaw, answers, flags []byte
			questionCount           int
		)
		if err := rows.Scan(&score, &instRaw, &answers, &flags, &questionCount); err != nil {
			return nil, 0, err
		}
		inst, err := DecodeInstance(instRaw)
		if err != nil {
			skipped++
			continue
		}
		p, err := progress.DecodeSnapshot(answers, flags, questionCount)
		if err != nil {
			skipped++
			continue
		}
		subs = append(subs, analysis.Submission{Score: score, Instance: inst, Answers: p.Answers})
	}
	return subs, skipped, rows.Err()
}
