package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/analysis"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// AnalysisService runs and serves post-exam item analysis.
type AnalysisService struct {
	schedules ScheduleReader
	source    AnalysisSource
	stats     ItemStatStore
	texts     QuestionTexts
	audit     AuditSink
	log       zerolog.Logger
	now       func() time.Time
}

func NewAnalysisService(schedules ScheduleReader, source AnalysisSource, stats ItemStatStore, texts QuestionTexts, audit AuditSink, log zerolog.Logger) *AnalysisService {
	return &AnalysisService{
		schedules: schedules,
		source:    source,
		stats:     stats,
		texts:     texts,
		audit:     audit,
		log:       log.With().Str("component", "analysis_service").Logger(),
		now:       time.Now,
	}
}

// Run computes item statistics for an ended schedule and replaces any earlier run.
func (s *AnalysisService) Run(ctx context.Context, scheduleID uuid.UUID, actor Actor) ([]model.ItemStat, error) {
	now := s.now()
	sched, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if now.Before(sched.EndTime) {
		return nil, ErrScheduleNotEnded
	}

	subs, skipped, err := s.source.ListForAnalysis(ctx, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("load submissions: %w", err)
	}
	if skipped > 0 {
		s.log.Warn().Int("skipped", skipped).Str("schedule_id", scheduleID.String()).Msg("Results without a usable instance left out of analysis")
	}

	stats, err := analysis.Analyze(subs)
	if err != nil {
		return nil, err
	}
	for i := range stats {
		stats[i].AnalysedAt = now
	}
	s.attachTexts(ctx, stats)

	if err := s.stats.Save(ctx, scheduleID, stats, now); err != nil {
		return nil, fmt.Errorf("save item analysis: %w", err)
	}

	s.audit.Record(ctx, auditEvent(actor, model.AuditRunItemAnalysis, "schedule", scheduleID.String(),
		auditDetails("participants=%d items=%d", len(subs), len(stats)), now,
	))
	return stats, nil
}

// List returns the stored statistics of a schedule.
func (s *AnalysisService) List(ctx context.Context, scheduleID uuid.UUID) ([]model.ItemStat, error) {
	if _, err := s.schedules.GetByID(ctx, scheduleID); err != nil {
		return nil, err
	}
	stats, err := s.stats.ListBySchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	for i := range stats {
		stats[i].NeedsRevision = analysis.NeedsRevision(stats[i].Difficulty, stats[i].Discrimination)
	}
	if stats == nil {
		stats = []model.ItemStat{}
	}
	return stats, nil
}

func (s *AnalysisService) attachTexts(ctx context.Context, stats []model.ItemStat) {
	ids := make([]uuid.UUID, len(stats))
	for i, st := range stats {
		ids[i] = st.QuestionID
	}
	if len(ids) == 0 {
		return
	}
	texts, err := s.texts.TextsByIDs(ctx, ids)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.log.Warn().Err(err).Msg("question texts unavailable for analysis")
		return
	}
	for i := range stats {
		stats[i].QuestionText = texts[stats[i].QuestionID]
	}
}
