package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/ratelimit"
)

// ActiveRefResolver finds the participant's active session pointer.
type ActiveRefResolver interface {
	ActiveRef(ctx context.Context, userID int) (*model.ActiveSessionRef, error)
}

// ViolationService accepts client-detected proctoring violations.
type ViolationService struct {
	sessions ActiveRefResolver
	limiter  *ratelimit.FixedWindow
	events   EventSink
	monitor  MonitorPublisher
	log      zerolog.Logger
	now      func() time.Time
}

func NewViolationService(sessions ActiveRefResolver, limiter *ratelimit.FixedWindow, events EventSink, monitor MonitorPublisher, log zerolog.Logger) *ViolationService {
	return &ViolationService{
		sessions: sessions,
		limiter:  limiter,
		events:   events,
		monitor:  monitor,
		log:      log.With().Str("component", "violation_service").Logger(),
		now:      time.Now,
	}
}

// Report logs one violation against the active session and notifies proctors.
func (s *ViolationService) Report(ctx context.Context, p Participant, req model.ReportViolationRequest) error {
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, config.CacheKey.ViolationRateKey(p.UserID, s.limiter.Window()))
		if err != nil {
			s.log.Warn().Err(err).Int("user_id", p.UserID).Msg("rate limiter unavailable, accepting report")
		} else if !allowed {
			return ErrRateLimited
		}
	}

	ref, err := s.sessions.ActiveRef(ctx, p.UserID)
	if err != nil {
		return err
	}

	now := s.now()
	s.events.Emit(ctx, model.ExamEvent{
		SessionID:  ref.SessionID,
		UserID:     p.UserID,
		Kind:       model.EventKindViolation,
		EventType:  req.ViolationType,
		Details:    req.Details,
		OccurredAt: now,
	})
	s.monitor.Publish(ctx, MonitorEvent{
		Type:       MonitorViolation,
		UserID:     p.UserID,
		Username:   p.Username,
		SessionID:  ref.SessionID,
		ScheduleID: ref.ScheduleID,
		Detail:     req.ViolationType,
		At:         now,
	})
	return nil
}
