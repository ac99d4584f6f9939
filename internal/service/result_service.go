package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

type ResultStore interface {
	ResultReader
	List(ctx context.Context, f model.ResultFilter) ([]model.Result, int, error)
	Delete(ctx context.Context, id uuid.UUID) (*model.Result, error)
	Distribution(ctx context.Context, scheduleID *uuid.UUID) ([]model.ScoreBucket, error)
	ListEssays(ctx context.Context, resultID uuid.UUID) ([]model.EssaySubmission, error)
}

type SessionArchive interface {
	LoadInstance(ctx context.Context, sessionID uuid.UUID) (*model.ExamInstance, error)
	LoadProgressSnapshot(ctx context.Context, sessionID uuid.UUID) (*model.Progress, error)
}

type EventLog interface {
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.ExamEvent, error)
}

// ResultService serves results to admins and, once released, to participants.
type ResultService struct {
	results  ResultStore
	sessions SessionArchive
	events   EventLog
	audit    AuditSink
	log      zerolog.Logger
}

func NewResultService(results ResultStore, sessions SessionArchive, events EventLog, audit AuditSink, log zerolog.Logger) *ResultService {
	return &ResultService{
		results:  results,
		sessions: sessions,
		events:   events,
		audit:    audit,
		log:      log.With().Str("component", "result_service").Logger(),
	}
}

// PaginatedResults is one page of the admin result listing.
type PaginatedResults struct {
	Data    []model.Result `json:"data"`
	Total   int            `json:"total"`
	Page    int            `json:"page"`
	PerPage int            `json:"per_page"`
}

func (s *ResultService) List(ctx context.Context, f model.ResultFilter) (*PaginatedResults, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > 100 {
		f.PerPage = 20
	}
	results, total, err := s.results.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []model.Result{}
	}
	return &PaginatedResults{Data: results, Total: total, Page: f.Page, PerPage: f.PerPage}, nil
}

// Detail returns a result with its per-question review, including the answer key.
func (s *ResultService) Detail(ctx context.Context, resultID uuid.UUID) (*model.ResultDetail, error) {
	res, err := s.results.GetByID(ctx, resultID)
	if err != nil {
		return nil, err
	}
	return s.review(ctx, res, true)
}

// MyResults lists the participant's results of released schedules.
func (s *ResultService) MyResults(ctx context.Context, userID int) ([]model.Result, error) {
	results, err := s.results.ListReleasedByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []model.Result{}
	}
	return results, nil
}

// MyResultDetail returns the participant's own released result without the answer key.
func (s *ResultService) MyResultDetail(ctx context.Context, userID int, resultID uuid.UUID) (*model.ResultDetail, error) {
	released, err := s.results.ListReleasedByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range released {
		if released[i].ID == resultID {
			return s.review(ctx, &released[i], false)
		}
	}
	// Another user's result is reported as missing.
	if res, err := s.results.GetByID(ctx, resultID); err == nil && res.UserID == userID {
		return nil, ErrResultsNotReleased
	}
	return nil, ErrNotFound
}

func (s *ResultService) review(ctx context.Context, res *model.Result, withKey bool) (*model.ResultDetail, error) {
	detail := &model.ResultDetail{Result: *res, Items: []model.ReviewItem{}}

	inst, err := s.sessions.LoadInstance(ctx, res.SessionID)
	if err != nil {
		s.log.Warn().Err(err).Str("result_id", res.ID.String()).Msg("Instance unavailable, review omitted")
		return detail, nil
	}
	final, err := s.sessions.LoadProgressSnapshot(ctx, res.SessionID)
	if err != nil {
		s.log.Warn().Err(err).Str("result_id", res.ID.String()).Msg("Final answers unavailable")
		final = model.NewProgress()
	}
	essays, err := s.results.ListEssays(ctx, res.ID)
	if err != nil {
		return nil, fmt.Errorf("list essays: %w", err)
	}
	byPos := make(map[int]model.EssaySubmission, len(essays))
	for _, e := range essays {
		byPos[e.Position] = e
	}

	for pos, q := range inst.Questions {
		item := model.ReviewItem{
			Position:   pos,
			QuestionID: q.QuestionID,
			Type:       q.Type,
			Text:       q.Text,
			Options:    q.Options,
		}
		if a, ok := final.Answers[pos]; ok {
			item.Answer = &a
		}
		switch q.Type {
		case model.QuestionTypeMultipleChoice:
			correct := item.Answer != nil && item.Answer.Option != nil && *item.Answer.Option == q.CorrectIndex
			item.IsCorrect = &correct
			if withKey {
				idx := q.CorrectIndex
				item.CorrectOption = &idx
			}
		case model.QuestionTypeEssay:
			if e, ok := byPos[pos]; ok {
				item.EssayScore = e.Score
				item.EssayStatus = e.Status
			}
		}
		detail.Items = append(detail.Items, item)
	}
	return detail, nil
}

// Reset deletes a result so the participant regains that attempt. The session and
// its event log are kept.
func (s *ResultService) Reset(ctx context.Context, resultID uuid.UUID, actor Actor) error {
	res, err := s.results.Delete(ctx, resultID)
	if err != nil {
		return err
	}
	s.audit.Record(ctx, auditEvent(actor, model.AuditResetAttempt, "result", resultID.String(),
		auditDetails("user=%d schedule=%s attempt=%d score=%.2f", res.UserID, res.ScheduleID, res.AttemptNumber, res.Score), time.Now(),
	))
	return nil
}

// Forensics returns a result with every event logged during its session.
func (s *ResultService) Forensics(ctx context.Context, resultID uuid.UUID) (*model.Forensics, error) {
	res, err := s.results.GetByID(ctx, resultID)
	if err != nil {
		return nil, err
	}
	events, err := s.events.ListBySession(ctx, res.SessionID)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []model.ExamEvent{}
	}
	return &model.Forensics{Result: *res, Events: events}, nil
}

func (s *ResultService) Distribution(ctx context.Context, scheduleID *uuid.UUID) ([]model.ScoreBucket, error) {
	return s.results.Distribution(ctx, scheduleID)
}
