package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/analysis"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// The interfaces below are the slices of the repositories each service depends on.
// The concrete *repository types satisfy them; tests substitute in-memory fakes.

type ScheduleReader interface {
	FindCurrent(ctx context.Context, now time.Time) (*model.Schedule, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Schedule, error)
	CountAttempts(ctx context.Context, userID int, scheduleID uuid.UUID) (int, error)
	LinkedQuestionIDs(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error)
}

type ApprovedQuestionSource interface {
	ListApprovedByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Question, error)
}

type SessionStore interface {
	FindActive(ctx context.Context, userID int) (*model.Session, error)
	LoadInstance(ctx context.Context, sessionID uuid.UUID) (*model.ExamInstance, error)
	CreateActive(ctx context.Context, s *model.Session, inst *model.ExamInstance, staleID uuid.UUID) (*model.Session, bool, error)
	Finalize(ctx context.Context, fn func(repository.FinalizeTx) error) error
}

type ResultReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Result, error)
	GetBySession(ctx context.Context, sessionID uuid.UUID) (*model.Result, error)
	LatestForUser(ctx context.Context, userID int, since time.Time) (*model.Result, error)
	ListReleasedByUser(ctx context.Context, userID int) ([]model.Result, error)
}

type EssayGrader interface {
	ListPendingEssays(ctx context.Context, scheduleID *uuid.UUID, limit int) ([]model.EssaySubmission, error)
	Grade(ctx context.Context, fn func(repository.GradingTx) error) error
}

type AnalysisSource interface {
	ListForAnalysis(ctx context.Context, scheduleID uuid.UUID) ([]analysis.Submission, int, error)
}

type ItemStatStore interface {
	Save(ctx context.Context, scheduleID uuid.UUID, stats []model.ItemStat, at time.Time) error
	ListBySchedule(ctx context.Context, scheduleID uuid.UUID) ([]model.ItemStat, error)
}

type QuestionTexts interface {
	TextsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
}

type UserLookup interface {
	GetByID(ctx context.Context, id int) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
}

// ThresholdSource yields the pass threshold in effect right now.
type ThresholdSource interface {
	PassingScore(ctx context.Context) float64
}

// Participant identifies the authenticated exam taker.
type Participant struct {
	UserID   int
	Username string
	Name     string
}

// Actor identifies who performed an administrative action. The zero value is the system.
type Actor struct {
	ID   int
	Name string
}

// SystemActor is used for actions taken by background jobs.
var SystemActor = Actor{Name: "system"}
