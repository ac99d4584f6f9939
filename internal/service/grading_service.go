package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/scoring"
)

// DefaultPendingLimit caps the grader queue page.
const DefaultPendingLimit = 100

// GradingService records essay grades and re-derives the owning result.
type GradingService struct {
	essays    EssayGrader
	threshold ThresholdSource
	audit     AuditSink
	log       zerolog.Logger
	now       func() time.Time
}

// NewGradingService creates a new GradingService.
func NewGradingService(essays EssayGrader, threshold ThresholdSource, audit AuditSink, log zerolog.Logger) *GradingService {
	return &GradingService{
		essays:    essays,
		threshold: threshold,
		audit:     audit,
		log:       log.With().Str("component", "grading_service").Logger(),
		now:       time.Now,
	}
}

// ListPending returns essays awaiting a grade, oldest first.
func (s *GradingService) ListPending(ctx context.Context, scheduleID *uuid.UUID, limit int) ([]model.EssaySubmission, error) {
	if limit <= 0 || limit > DefaultPendingLimit {
		limit = DefaultPendingLimit
	}
	essays, err := s.essays.ListPendingEssays(ctx, scheduleID, limit)
	if err != nil {
		return nil, err
	}
	if essays == nil {
		essays = []model.EssaySubmission{}
	}
	return essays, nil
}

// Grade stores the score of one pending essay and recomputes the result's final
// score, pass/fail status, and grading status in the same transaction.
func (s *GradingService) Grade(ctx context.Context, essayID int64, score float64, grader Actor) (*model.Result, error) {
	if score < 0 || score > 100 {
		return nil, fmt.Errorf("score %.2f: %w", score, ErrInvalidScore)
	}
	now := s.now()
	threshold := s.threshold.PassingScore(ctx)

	var res *model.Result
	err := s.essays.Grade(ctx, func(tx repository.GradingTx) error {
		resultID, err := tx.EssayResultID(ctx, essayID)
		if err != nil {
			return err
		}
		// Locking the result first serializes concurrent grades of sibling essays.
		res, err = tx.LockResult(ctx, resultID)
		if err != nil {
			return err
		}
		if err := tx.GradeEssay(ctx, essayID, score, grader.ID, now); err != nil {
			if errors.Is(err, repository.ErrAlreadyGraded) {
				return ErrGradingConflict
			}
			return err
		}

		scores, total, pending, err := tx.EssayScores(ctx, resultID)
		if err != nil {
			return err
		}
		res.Score = scoring.RecomputeFinal(res.MCScore, scores, total)
		res.GradingStatus = scoring.GradingStatusFor(total > 0, pending)
		res.Status = scoring.PassFail(res.Score, threshold, pending > 0)
		return tx.UpdateResultScore(ctx, resultID, res.Score, res.Status, res.GradingStatus)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, auditEvent(grader, model.AuditGradeEssay, "essay", strconv.FormatInt(essayID, 10),
		auditDetails("result=%s score=%.2f final=%.2f grading_status=%s", res.ID, score, res.Score, res.GradingStatus), now,
	))
	s.log.Info().
		Int64("essay_id", essayID).
		Str("result_id", res.ID.String()).
		Float64("final_score", res.Score).
		Msg("Essay graded")
	return res, nil
}
