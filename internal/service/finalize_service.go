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
	"github.com/stemsi/exstem-proctor/internal/scoring"
)

// DuplicateFinishWindow bounds how far back a repeated finish looks for the
// result it already produced.
const DuplicateFinishWindow = 5 * time.Minute

var errNoActive = errors.New("no active session to finalize")

// FinalizeService turns an active session into an immutable result.
type FinalizeService struct {
	sessions  SessionStore
	results   ResultReader
	schedules ScheduleReader
	users     UserLookup
	store     progress.Store
	active    *ActiveSessionCache
	threshold ThresholdSource
	events    EventSink
	audit     AuditSink
	monitor   MonitorPublisher
	log       zerolog.Logger
	now       func() time.Time
}

// NewFinalizeService creates a new FinalizeService.
func NewFinalizeService(
	sessions SessionStore,
	results ResultReader,
	schedules ScheduleReader,
	users UserLookup,
	store progress.Store,
	active *ActiveSessionCache,
	threshold ThresholdSource,
	events EventSink,
	audit AuditSink,
	monitor MonitorPublisher,
	log zerolog.Logger,
) *FinalizeService {
	return &FinalizeService{
		sessions:  sessions,
		results:   results,
		schedules: schedules,
		users:     users,
		store:     store,
		active:    active,
		threshold: threshold,
		events:    events,
		audit:     audit,
		monitor:   monitor,
		log:       log.With().Str("component", "finalize_service").Logger(),
		now:       time.Now,
	}
}

// FinishOutcome is the result of a finish call. Duplicate is set when the session
// had already been finalized and the earlier result is returned unchanged.
type FinishOutcome struct {
	Result    *model.Result `json:"result"`
	Duplicate bool          `json:"duplicate"`
}

// Finish finalizes the participant's active session with the answers the client
// submitted. sessionHint, when set, lets a retried request find its earlier result.
func (s *FinalizeService) Finish(ctx context.Context, p Participant, submitted *model.Progress, sessionHint uuid.UUID) (*FinishOutcome, error) {
	if submitted == nil {
		submitted = model.NewProgress()
	}
	return s.finalize(ctx, p, submitted, model.TriggerParticipant, Actor{ID: p.UserID, Name: p.Username}, sessionHint)
}

// ForceFinish finalizes a participant's session on behalf of a proctor or the
// expiry sweeper. The last saved progress is used as the answer set.
func (s *FinalizeService) ForceFinish(ctx context.Context, userID int, trigger model.FinishTrigger, actor Actor) (*FinishOutcome, error) {
	p := Participant{UserID: userID}
	if u, err := s.users.GetByID(ctx, userID); err == nil {
		p.Username, p.Name = u.Username, u.Name
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}
	return s.finalize(ctx, p, nil, trigger, actor, uuid.Nil)
}

func (s *FinalizeService) finalize(
	ctx context.Context,
	p Participant,
	submitted *model.Progress,
	trigger model.FinishTrigger,
	actor Actor,
	sessionHint uuid.UUID,
) (*FinishOutcome, error) {
	now := s.now()
	threshold := s.threshold.PassingScore(ctx)

	var (
		res   *model.Result
		sess  *model.Session
		final *model.Progress
	)
	err := s.sessions.Finalize(ctx, func(tx repository.FinalizeTx) error {
		var err error
		sess, err = tx.LockActiveSession(ctx, p.UserID)
		if errors.Is(err, repository.ErrNotFound) {
			return errNoActive
		}
		if err != nil {
			return fmt.Errorf("lock session: %w", err)
		}
		if p.Username == "" {
			p.Username = sess.Username
		}

		inst, err := tx.LoadInstance(ctx, sess.ID)
		if err != nil {
			if !errors.Is(err, ErrStaleOrMissingProgress) {
				return fmt.Errorf("load instance: %w", err)
			}
			s.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("Finalizing session without a usable instance")
			inst = &model.ExamInstance{ScheduleID: sess.ScheduleID}
		}

		final = s.finalProgress(ctx, tx, sess, submitted, len(inst.Questions))
		outcome := scoring.Evaluate(inst, final.Answers, threshold)

		prior, err := tx.CountResults(ctx, sess.UserID, sess.ScheduleID)
		if err != nil {
			return fmt.Errorf("count results: %w", err)
		}

		res = &model.Result{
			SessionID:     sess.ID,
			UserID:        sess.UserID,
			ScheduleID:    sess.ScheduleID,
			AttemptNumber: prior + 1,
			Username:      p.Username,
			Name:          p.Name,
			MCScore:       outcome.MCScore,
			Score:         outcome.Score,
			Status:        outcome.Status,
			GradingStatus: outcome.GradingStatus,
			Trigger:       trigger,
			Late:          s.isLate(ctx, sess, now),
			CompletedAt:   now,
		}
		if err := tx.InsertResult(ctx, res); err != nil {
			return fmt.Errorf("insert result: %w", err)
		}

		if essays := essaysOf(inst, final, res); len(essays) > 0 {
			if err := tx.InsertEssays(ctx, essays); err != nil {
				return err
			}
		}
		return tx.FinishSession(ctx, sess.ID, final, now)
	})

	if errors.Is(err, errNoActive) {
		return s.duplicate(ctx, p.UserID, sessionHint, now)
	}
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, p, sess, res, actor, now)
	return &FinishOutcome{Result: res}, nil
}

// finalProgress picks the authoritative answer set. A participant's submission
// wins; otherwise the last saved progress is used, fast tier first.
func (s *FinalizeService) finalProgress(ctx context.Context, tx repository.FinalizeTx, sess *model.Session, submitted *model.Progress, n int) *model.Progress {
	final := submitted
	if final == nil {
		p, err := s.store.Get(ctx, progress.Key{UserID: sess.UserID, ScheduleID: sess.ScheduleID})
		if err != nil {
			s.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("Fast progress unavailable, using durable snapshot")
			p, err = tx.LoadProgress(ctx, sess.ID)
		}
		if err != nil {
			s.log.Error().Err(err).Str("session_id", sess.ID.String()).Msg("No saved progress, finalizing with empty answers")
			p = model.NewProgress()
		}
		final = p
	}
	return inRange(final, n)
}

// inRange drops answers and flags that do not address one of n questions.
func inRange(p *model.Progress, n int) *model.Progress {
	out := model.NewProgress()
	for pos, a := range p.Answers {
		if pos >= 0 && pos < n && !a.IsEmpty() {
			out.Answers[pos] = a
		}
	}
	for pos, f := range p.Flags {
		if pos >= 0 && pos < n && f {
			out.Flags[pos] = true
		}
	}
	return out
}

func (s *FinalizeService) isLate(ctx context.Context, sess *model.Session, now time.Time) bool {
	sched, err := s.schedules.GetByID(ctx, sess.ScheduleID)
	if err != nil {
		s.log.Warn().Err(err).Str("schedule_id", sess.ScheduleID.String()).Msg("Cannot resolve duration, result not marked late")
		return false
	}
	return now.After(sess.StartedAt.Add(sched.Duration()))
}

func essaysOf(inst *model.ExamInstance, final *model.Progress, res *model.Result) []model.EssaySubmission {
	var essays []model.EssaySubmission
	for pos, q := range inst.Questions {
		if q.Type != model.QuestionTypeEssay {
			continue
		}
		essays = append(essays, model.EssaySubmission{
			ResultID:    res.ID,
			UserID:      res.UserID,
			QuestionID:  q.QuestionID,
			Position:    pos,
			AnswerText:  final.Answers[pos].Text,
			Status:      model.EssayStatusPending,
			SubmittedAt: res.CompletedAt,
		})
	}
	return essays
}

// duplicate resolves a finish that found no active session: either the session
// was already finalized, or there never was one.
func (s *FinalizeService) duplicate(ctx context.Context, userID int, sessionHint uuid.UUID, now time.Time) (*FinishOutcome, error) {
	var (
		res *model.Result
		err error
	)
	if sessionHint != uuid.Nil {
		res, err = s.results.GetBySession(ctx, sessionHint)
		if err == nil && res.UserID != userID {
			err = repository.ErrNotFound
		}
	} else {
		res, err = s.results.LatestForUser(ctx, userID, now.Add(-DuplicateFinishWindow))
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoActiveSession
	}
	if err != nil {
		return nil, fmt.Errorf("lookup finished result: %w", err)
	}
	return &FinishOutcome{Result: res, Duplicate: true}, nil
}

func (s *FinalizeService) afterCommit(ctx context.Context, p Participant, sess *model.Session, res *model.Result, actor Actor, now time.Time) {
	key := progress.Key{UserID: sess.UserID, ScheduleID: sess.ScheduleID}
	if err := s.store.Delete(ctx, key); err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to drop progress cache")
	}
	if err := s.active.Evict(ctx, sess.UserID); err != nil {
		s.log.Warn().Err(err).Int("user_id", sess.UserID).Msg("Failed to evict active pointer")
	}

	action := model.AuditSessionFinished
	if res.Trigger != model.TriggerParticipant {
		action = model.AuditForceFinish
	}
	s.audit.Record(ctx, auditEvent(actor, action, "session", sess.ID.String(),
		auditDetails("user=%d trigger=%s score=%.2f late=%t", sess.UserID, res.Trigger, res.Score, res.Late), now,
	))
	s.events.Emit(ctx, activity(sess.ID, sess.UserID, model.ActivityExamFinished, string(res.Trigger), now))

	score := res.Score
	s.monitor.Publish(ctx, MonitorEvent{
		Type:       MonitorSessionFinished,
		UserID:     sess.UserID,
		Username:   p.Username,
		SessionID:  sess.ID,
		ScheduleID: sess.ScheduleID,
		Detail:     string(res.Trigger),
		Score:      &score,
		At:         now,
	})

	s.log.Info().
		Int("user_id", sess.UserID).
		Str("session_id", sess.ID.String()).
		Str("trigger", string(res.Trigger)).
		Float64("score", res.Score).
		Bool("late", res.Late).
		Msg("Exam session finalized")
}
