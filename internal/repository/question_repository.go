package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const questionColumns = `id, question_type, question_text, image_url, options, correct_answer_index,
	topic, difficulty, status, created_at, updated_at`

// QuestionRepository handles question bank data access.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

func scanQuestion(row pgx.Row) (*model.Question, error) {
	q := &model.Question{}
	err := row.Scan(&q.ID, &q.Type, &q.Text, &q.ImageURL, &q.Options, &q.CorrectIndex,
		&q.Topic, &q.Difficulty, &q.Status, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// ListApprovedByIDs returns the approved questions among ids, in the order of ids.
// Draft and unknown ids are silently dropped.
func (r *QuestionRepository) ListApprovedByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id = ANY($1) AND status = 'approved'`, ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]model.Question, len(ids))
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		byID[q.ID] = *q
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]model.Question, 0, len(byID))
	for _, id := range ids {
		if q, ok := byID[id]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

// GetByID retrieves a question, including its answer key.
func (r *QuestionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Question, error) {
	q, err := scanQuestion(r.pool.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return q, nil
}

// TextsByIDs maps question ids to their text for reports.
func (r *QuestionRepository) TextsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, question_text FROM questions WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	texts := make(map[uuid.UUID]string, len(ids))
	for rows.Next() {
		var id uuid.UUID
		var text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, err
		}
		texts[id] = text
	}
	return texts, rows.Err()
}

// List retrieves questions with optional status and topic/text search.
func (r *QuestionRepository) List(ctx context.Context, status, search string, page, perPage int) ([]model.Question, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if status != "" {
		args = append(args, status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if search != "" {
		args = append(args, "%"+search+"%")
		where += fmt.Sprintf(" AND (question_text ILIKE $%d OR topic ILIKE $%d)", len(args), len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM questions`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, perPage, (page-1)*perPage)
	query := `SELECT ` + questionColumns + ` FROM questions` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, 0, err
		}
		questions = append(questions, *q)
	}
	return questions, total, rows.Err()
}

// Create inserts a new draft question.
func (r *QuestionRepository) Create(ctx context.Context, q *model.Question) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO questions (question_type, question_text, image_url, options, correct_answer_index, topic, difficulty, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 'draft')
		 RETURNING id, status, created_at, updated_at`,
		q.Type, q.Text, q.ImageURL, q.Options, q.CorrectIndex, q.Topic, q.Difficulty,
	).Scan(&q.ID, &q.Status, &q.CreatedAt, &q.UpdatedAt)
}

// Update edits a question and moves it back to draft. Running instances keep
// their snapshot.
func (r *QuestionRepository) Update(ctx context.Context, q *model.Question) error {
	err := r.pool.QueryRow(ctx,
		`UPDATE questions
		 SET question_type = $2, question_text = $3, image_url = $4, options = $5,
		     correct_answer_index = $6, topic = $7, difficulty = $8, status = 'draft', updated_at = NOW()
		 WHERE id = $1
		 RETURNING status, created_at, updated_at`,
		q.ID, q.Type, q.Text, q.ImageURL, q.Options, q.CorrectIndex, q.Topic, q.Difficulty,
	).Scan(&q.Status, &q.CreatedAt, &q.UpdatedAt)
	return mapErr(err)
}

// SetStatus approves or un-approves a question.
func (r *QuestionRepository) SetStatus(ctx context.Context, id uuid.UUID, status model.ApprovalStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE questions SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a question no schedule links to.
func (r *QuestionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM questions WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
