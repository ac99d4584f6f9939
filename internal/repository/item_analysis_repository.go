package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ItemAnalysisRepository stores item statistics per (question, schedule).
type ItemAnalysisRepository struct {
	pool *pgxpool.Pool
}

// NewItemAnalysisRepository creates a new ItemAnalysisRepository.
func NewItemAnalysisRepository(pool *pgxpool.Pool) *ItemAnalysisRepository {
	return &ItemAnalysisRepository{pool: pool}
}

// Save replaces the schedule's statistics and marks its analysis completed, atomically.
func (r *ItemAnalysisRepository) Save(ctx context.Context, scheduleID uuid.UUID, stats []model.ItemStat, at time.Time) error {
	ids := make([]uuid.UUID, len(stats))
	difficulty := make([]float64, len(stats))
	discrimination := make([]float64, len(stats))
	participants := make([]int32, len(stats))
	for i, s := range stats {
		ids[i] = s.QuestionID
		difficulty[i] = s.Difficulty
		discrimination[i] = s.Discrimination
		participants[i] = int32(s.Participants)
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM item_analysis WHERE schedule_id = $1`, scheduleID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO item_analysis (question_id, schedule_id, difficulty_index, discrimination_index, participants, analysed_at)
			 SELECT u.question_id, $1, u.difficulty, u.discrimination, u.participants, $6
			 FROM UNNEST($2::uuid[], $3::float8[], $4::float8[], $5::int[])
			      AS u (question_id, difficulty, discrimination, participants)`,
			scheduleID, ids, difficulty, discrimination, participants, at,
		); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `UPDATE schedules SET analysis_status = 'completed' WHERE id = $1`, scheduleID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ListBySchedule returns stored statistics with question text, ordered by difficulty.
func (r *ItemAnalysisRepository) ListBySchedule(ctx context.Context, scheduleID uuid.UUID) ([]model.ItemStat, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT ia.question_id, q.question_text, ia.difficulty_index, ia.discrimination_index, ia.participants, ia.analysed_at
		 FROM item_analysis ia JOIN questions q ON q.id = ia.question_id
		 WHERE ia.schedule_id = $1
		 ORDER BY ia.difficulty_index, ia.question_id`, scheduleID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []model.ItemStat
	for rows.Next() {
		var s model.ItemStat
		if err := rows.Scan(&s.QuestionID, &s.QuestionText, &s.Difficulty, &s.Discrimination, &s.Participants, &s.AnalysedAt); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
