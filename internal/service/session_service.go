package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/progress"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// SessionService starts, resumes, and autosaves exam sessions.
type SessionService struct {
	schedules ScheduleReader
	questions ApprovedQuestionSource
	sessions  SessionStore
	store     progress.Store
	active    *ActiveSessionCache
	events    EventSink
	audit     AuditSink
	monitor   MonitorPublisher
	shuffler  *Shuffler
	ttl       time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	schedules ScheduleReader,
	questions ApprovedQuestionSource,
	sessions SessionStore,
	store progress.Store,
	active *ActiveSessionCache,
	events EventSink,
	audit AuditSink,
	monitor MonitorPublisher,
	shuffler *Shuffler,
	ttl time.Duration,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		schedules: schedules,
		questions: questions,
		sessions:  sessions,
		store:     store,
		active:    active,
		events:    events,
		audit:     audit,
		monitor:   monitor,
		shuffler:  shuffler,
		ttl:       ttl,
		log:       log.With().Str("component", "session_service").Logger(),
		now:       time.Now,
	}
}

// SessionView is everything the exam page needs to render or resume.
type SessionView struct {
	SessionID        uuid.UUID              `json:"session_id"`
	ScheduleID       uuid.UUID              `json:"schedule_id"`
	ScheduleTitle    string                 `json:"schedule_title"`
	Questions        []model.PublicQuestion `json:"questions"`
	Answers          map[int]model.Answer   `json:"answers"`
	Flags            map[int]bool           `json:"flags"`
	StartedAt        time.Time              `json:"started_at"`
	Deadline         time.Time              `json:"deadline"`
	RemainingSeconds int64                  `json:"remaining_seconds"`
	Resumed          bool                   `json:"resumed"`
}

// ─── Start / Resume ─────────────────────────────────────────────────────────

// EnsureSession returns the participant's active session, creating one for the
// current schedule if none exists. A session whose instance is missing or corrupt
// is discarded and rebuilt.
func (s *SessionService) EnsureSession(ctx context.Context, p Participant) (*SessionView, error) {
	existing, err := s.sessions.FindActive(ctx, p.UserID)
	switch {
	case err == nil:
		view, err := s.resume(ctx, p, existing)
		if !errors.Is(err, ErrStaleOrMissingProgress) {
			return view, err
		}
		s.log.Warn().Err(err).
			Int("user_id", p.UserID).
			Str("session_id", existing.ID.String()).
			Msg("Active session unusable, rebuilding")
		return s.create(ctx, p, existing.ID)
	case errors.Is(err, repository.ErrNotFound):
		return s.create(ctx, p, uuid.Nil)
	default:
		return nil, fmt.Errorf("find active session: %w", err)
	}
}

// GetState returns the active session without creating one.
func (s *SessionService) GetState(ctx context.Context, p Participant) (*SessionView, error) {
	existing, err := s.sessions.FindActive(ctx, p.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoActiveSession
	}
	if err != nil {
		return nil, fmt.Errorf("find active session: %w", err)
	}
	return s.resume(ctx, p, existing)
}

func (s *SessionService) resume(ctx context.Context, p Participant, sess *model.Session) (*SessionView, error) {
	inst, err := s.sessions.LoadInstance(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	sched, err := s.schedules.GetByID(ctx, sess.ScheduleID)
	if err != nil {
		return nil, fmt.Errorf("load schedule %s: %w", sess.ScheduleID, err)
	}

	prog, err := s.store.Get(ctx, progress.Key{UserID: p.UserID, ScheduleID: sess.ScheduleID})
	if err != nil {
		s.log.Error().Err(err).
			Int("user_id", p.UserID).
			Str("session_id", sess.ID.String()).
			Msg("Progress unreadable on resume, starting from empty answers")
		prog = model.NewProgress()
	}

	if err := s.active.Set(ctx, p.UserID, refFor(sess, sched)); err != nil {
		s.log.Debug().Err(err).Int("user_id", p.UserID).Msg("active pointer cache write failed")
	}
	return s.view(sess, sched, inst, prog, true), nil
}

func (s *SessionService) create(ctx context.Context, p Participant, staleID uuid.UUID) (*SessionView, error) {
	now := s.now()

	sched, err := s.schedules.FindCurrent(ctx, now)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoActiveSchedule
	}
	if err != nil {
		return nil, fmt.Errorf("find current schedule: %w", err)
	}

	attempts, err := s.schedules.CountAttempts(ctx, p.UserID, sched.ID)
	if err != nil {
		return nil, fmt.Errorf("count attempts: %w", err)
	}
	if sched.MaxAttempts > 0 && attempts >= sched.MaxAttempts {
		return nil, ErrMaxAttemptsReached
	}

	ids, err := s.schedules.LinkedQuestionIDs(ctx, sched.ID)
	if err != nil {
		return nil, fmt.Errorf("linked questions: %w", err)
	}
	if len(ids) == 0 {
		return nil, ErrInsufficientQuestions
	}
	questions, err := s.questions.ListApprovedByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}

	inst := BuildInstance(s.shuffler, questions, s.log)
	inst.ScheduleID = sched.ID
	if len(inst.Questions) == 0 {
		return nil, ErrInsufficientQuestions
	}

	sess, created, err := s.sessions.CreateActive(ctx, &model.Session{
		UserID:     p.UserID,
		Username:   p.Username,
		ScheduleID: sched.ID,
		Status:     model.SessionStatusActive,
	}, inst, staleID)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if !created {
		// A concurrent request created the session first; return that one.
		view, err := s.resume(ctx, p, sess)
		if errors.Is(err, ErrStaleOrMissingProgress) {
			return nil, ErrSessionConflict
		}
		return view, err
	}

	initial := model.NewProgress()
	if err := s.store.Put(ctx, progress.Key{UserID: p.UserID, ScheduleID: sched.ID}, initial, s.ttl); err != nil {
		// The durable snapshot was seeded with the session; reads rebuild from it.
		s.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to seed progress cache")
	}
	if err := s.active.Set(ctx, p.UserID, refFor(sess, sched)); err != nil {
		s.log.Debug().Err(err).Int("user_id", p.UserID).Msg("active pointer cache write failed")
	}

	s.audit.Record(ctx, auditEvent(
		Actor{ID: p.UserID, Name: p.Username}, model.AuditSessionCreated, "session", sess.ID.String(),
		auditDetails("schedule=%s questions=%d attempt=%d", sched.ID, len(inst.Questions), attempts+1), now,
	))
	s.events.Emit(ctx, activity(sess.ID, p.UserID, model.ActivityExamStarted, "", now))
	s.monitor.Publish(ctx, MonitorEvent{
		Type:       MonitorSessionStarted,
		UserID:     p.UserID,
		Username:   p.Username,
		SessionID:  sess.ID,
		ScheduleID: sched.ID,
		At:         now,
	})

	s.log.Info().
		Int("user_id", p.UserID).
		Str("session_id", sess.ID.String()).
		Int("questions", len(inst.Questions)).
		Msg("Exam session created")

	return s.view(sess, sched, inst, initial, false), nil
}

func (s *SessionService) view(sess *model.Session, sched *model.Schedule, inst *model.ExamInstance, prog *model.Progress, resumed bool) *SessionView {
	deadline := sess.StartedAt.Add(sched.Duration())
	remaining := int64(deadline.Sub(s.now()).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	return &SessionView{
		SessionID:        sess.ID,
		ScheduleID:       sess.ScheduleID,
		ScheduleTitle:    sched.Title,
		Questions:        inst.Public(),
		Answers:          prog.Answers,
		Flags:            prog.Flags,
		StartedAt:        sess.StartedAt,
		Deadline:         deadline,
		RemainingSeconds: remaining,
		Resumed:          resumed,
	}
}

func refFor(sess *model.Session, sched *model.Schedule) *model.ActiveSessionRef {
	return &model.ActiveSessionRef{
		SessionID:       sess.ID,
		ScheduleID:      sess.ScheduleID,
		QuestionCount:   sess.QuestionCount,
		StartedAt:       sess.StartedAt,
		DurationMinutes: sched.DurationMinutes,
	}
}

// ─── Autosave ───────────────────────────────────────────────────────────────

// ActiveRef resolves the participant's active session pointer, preferring the
// cache and healing it from Postgres on a miss.
func (s *SessionService) ActiveRef(ctx context.Context, userID int) (*model.ActiveSessionRef, error) {
	if ref, err := s.active.Get(ctx, userID); err == nil {
		return ref, nil
	} else if !errors.Is(err, errPointerMiss) {
		s.log.Debug().Err(err).Int("user_id", userID).Msg("active pointer cache read failed")
	}

	sess, err := s.sessions.FindActive(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoActiveSession
	}
	if err != nil {
		return nil, fmt.Errorf("find active session: %w", err)
	}
	sched, err := s.schedules.GetByID(ctx, sess.ScheduleID)
	if err != nil {
		return nil, fmt.Errorf("load schedule %s: %w", sess.ScheduleID, err)
	}
	ref := refFor(sess, sched)
	if err := s.active.Set(ctx, userID, ref); err != nil {
		s.log.Debug().Err(err).Int("user_id", userID).Msg("active pointer cache write failed")
	}
	return ref, nil
}

// AutosaveResult reports the state after one autosave.
type AutosaveResult struct {
	SessionID uuid.UUID `json:"session_id"`
	Answered  int       `json:"answered"`
	Total     int       `json:"total"`
}

// Autosave applies one answer, flag, or view event to the active session.
func (s *SessionService) Autosave(ctx context.Context, p Participant, req model.AutosaveRequest) (*AutosaveResult, error) {
	ref, err := s.ActiveRef(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if req.Position < 0 || req.Position >= ref.QuestionCount {
		return nil, ErrInvalidPosition
	}

	if req.Answer == nil && req.Flagged == nil && !req.Viewed {
		return nil, ErrEmptyAutosave
	}

	now := s.now()
	result := &AutosaveResult{SessionID: ref.SessionID, Total: ref.QuestionCount}

	if req.Viewed {
		s.events.Emit(ctx, activity(ref.SessionID, p.UserID, model.ActivityQuestionViewed, position(req.Position), now))
	}
	if req.Answer == nil && req.Flagged == nil {
		return result, nil
	}

	answered, err := s.store.Patch(ctx, progress.Key{UserID: p.UserID, ScheduleID: ref.ScheduleID}, model.ProgressPatch{
		Position: req.Position,
		Answer:   req.Answer,
		Flagged:  req.Flagged,
	}, s.ttl)
	if err != nil {
		return nil, fmt.Errorf("save progress: %w", err)
	}
	result.Answered = answered

	if req.Answer != nil {
		s.events.Emit(ctx, activity(ref.SessionID, p.UserID, model.ActivityAnswerChanged, position(req.Position), now))
	}
	if req.Flagged != nil {
		eventType := model.ActivityQuestionUnflagged
		if *req.Flagged {
			eventType = model.ActivityQuestionFlagged
		}
		s.events.Emit(ctx, activity(ref.SessionID, p.UserID, eventType, position(req.Position), now))
	}
	return result, nil
}

func position(pos int) string {
	return fmt.Sprintf("position=%d", pos)
}
