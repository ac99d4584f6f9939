package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// ScheduleService manages exam schedules and their question sets.
type ScheduleService struct {
	scheduleRepo *repository.ScheduleRepository
	audit        AuditSink
	log          zerolog.Logger
}

func NewScheduleService(scheduleRepo *repository.ScheduleRepository, audit AuditSink, log zerolog.Logger) *ScheduleService {
	return &ScheduleService{
		scheduleRepo: scheduleRepo,
		audit:        audit,
		log:          log.With().Str("component", "schedule_service").Logger(),
	}
}

func (s *ScheduleService) List(ctx context.Context) ([]model.Schedule, error) {
	schedules, err := s.scheduleRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	if schedules == nil {
		schedules = []model.Schedule{}
	}
	return schedules, nil
}

func (s *ScheduleService) Get(ctx context.Context, id uuid.UUID) (*model.Schedule, error) {
	return s.scheduleRepo.GetByID(ctx, id)
}

// Current returns the schedule open right now, or ErrNoActiveSchedule.
func (s *ScheduleService) Current(ctx context.Context) (*model.Schedule, error) {
	sched, err := s.scheduleRepo.FindCurrent(ctx, time.Now())
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoActiveSchedule
	}
	return sched, err
}

func (s *ScheduleService) Create(ctx context.Context, req model.UpsertScheduleRequest) (*model.Schedule, error) {
	sched := scheduleFrom(req)
	if err := s.scheduleRepo.Create(ctx, sched); err != nil {
		return nil, err
	}
	s.log.Info().Str("schedule_id", sched.ID.String()).Str("title", sched.Title).Msg("Schedule created")
	return sched, nil
}

func (s *ScheduleService) Update(ctx context.Context, id uuid.UUID, req model.UpsertScheduleRequest) (*model.Schedule, error) {
	sched := scheduleFrom(req)
	sched.ID = id
	if err := s.scheduleRepo.Update(ctx, sched); err != nil {
		return nil, err
	}
	return s.scheduleRepo.GetByID(ctx, id)
}

func (s *ScheduleService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.scheduleRepo.Delete(ctx, id)
}

// LinkQuestions replaces the schedule's question set. Sessions already started
// keep their own snapshot.
func (s *ScheduleService) LinkQuestions(ctx context.Context, id uuid.UUID, questionIDs []uuid.UUID) error {
	return s.scheduleRepo.LinkQuestions(ctx, id, questionIDs)
}

func (s *ScheduleService) LinkedQuestionIDs(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	if _, err := s.scheduleRepo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	ids, err := s.scheduleRepo.LinkedQuestionIDs(ctx, id)
	if ids == nil {
		ids = []uuid.UUID{}
	}
	return ids, err
}

// SetReleased publishes or withdraws the schedule's results.
func (s *ScheduleService) SetReleased(ctx context.Context, id uuid.UUID, released bool, actor Actor) error {
	if err := s.scheduleRepo.SetResultsReleased(ctx, id, released); err != nil {
		return err
	}
	action := model.AuditReleaseResults
	if !released {
		action = model.AuditWithdrawResults
	}
	s.audit.Record(ctx, auditEvent(actor, action, "schedule", id.String(), "", time.Now()))
	return nil
}

func scheduleFrom(req model.UpsertScheduleRequest) *model.Schedule {
	return &model.Schedule{
		Title:           req.Title,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		DurationMinutes: req.DurationMinutes,
		MaxAttempts:     req.MaxAttempts,
		IsActive:        req.IsActive,
	}
}
