package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"golang.org/x/sync/errgroup"
)

// StatusKind is the landing-page state of a participant.
type StatusKind string

const (
	StatusActiveSession     StatusKind = "ACTIVE_SESSION"
	StatusResultsAvailable  StatusKind = "RESULTS_AVAILABLE"
	StatusScheduleAvailable StatusKind = "SCHEDULE_AVAILABLE"
	StatusIdle              StatusKind = "IDLE"
)

// ReasonMaxAttemptsReached explains an idle status while a schedule is open.
const ReasonMaxAttemptsReached = "max_attempts_reached"

// StatusFacts is what the resolver gathered about a participant.
type StatusFacts struct {
	ActiveSession   *model.Session
	ReleasedResults []model.Result
	CurrentSchedule *model.Schedule
	Attempts        int
}

// StatusDecision tells the client where to send the participant.
type StatusDecision struct {
	Kind         StatusKind      `json:"status"`
	Reason       string          `json:"reason,omitempty"`
	SessionID    *uuid.UUID      `json:"session_id,omitempty"`
	Schedule     *model.Schedule `json:"schedule,omitempty"`
	Results      []model.Result  `json:"results,omitempty"`
	AttemptsLeft int             `json:"attempts_left"`
}

// DecideStatus applies the fixed precedence: an active session first, then
// released results, then an open schedule, then idle.
func DecideStatus(f StatusFacts) StatusDecision {
	if f.ActiveSession != nil {
		id := f.ActiveSession.ID
		return StatusDecision{Kind: StatusActiveSession, SessionID: &id}
	}
	if len(f.ReleasedResults) > 0 {
		return StatusDecision{Kind: StatusResultsAvailable, Results: f.ReleasedResults}
	}
	if f.CurrentSchedule != nil {
		left := f.CurrentSchedule.MaxAttempts - f.Attempts
		if left <= 0 {
			return StatusDecision{Kind: StatusIdle, Reason: ReasonMaxAttemptsReached, Schedule: f.CurrentSchedule}
		}
		return StatusDecision{Kind: StatusScheduleAvailable, Schedule: f.CurrentSchedule, AttemptsLeft: left}
	}
	return StatusDecision{Kind: StatusIdle}
}

type ActiveSessionFinder interface {
	FindActive(ctx context.Context, userID int) (*model.Session, error)
}

type ReleasedResultLister interface {
	ListReleasedByUser(ctx context.Context, userID int) ([]model.Result, error)
}

// StatusService resolves the participant landing state.
type StatusService struct {
	sessions  ActiveSessionFinder
	results   ReleasedResultLister
	schedules ScheduleReader
	now       func() time.Time
}

func NewStatusService(sessions ActiveSessionFinder, results ReleasedResultLister, schedules ScheduleReader) *StatusService {
	return &StatusService{sessions: sessions, results: results, schedules: schedules, now: time.Now}
}

// Resolve gathers the facts concurrently and decides.
func (s *StatusService) Resolve(ctx context.Context, userID int) (*StatusDecision, error) {
	var f StatusFacts
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sess, err := s.sessions.FindActive(gctx, userID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		f.ActiveSession = sess
		return err
	})
	g.Go(func() error {
		results, err := s.results.ListReleasedByUser(gctx, userID)
		f.ReleasedResults = results
		return err
	})
	g.Go(func() error {
		sched, err := s.schedules.FindCurrent(gctx, s.now())
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		attempts, err := s.schedules.CountAttempts(gctx, userID, sched.ID)
		f.CurrentSchedule, f.Attempts = sched, attempts
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	d := DecideStatus(f)
	return &d, nil
}
