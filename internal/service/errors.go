package service

import (
	"errors"

	"github.com/stemsi/exstem-proctor/internal/analysis"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/progress"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// Domain errors surfaced to handlers.
var (
	ErrNoActiveSchedule       = errors.New("no active schedule")
	ErrInsufficientQuestions  = errors.New("schedule has no usable approved questions")
	ErrSessionConflict        = errors.New("session state changed concurrently")
	ErrNoActiveSession        = errors.New("no active session")
	ErrMaxAttemptsReached     = errors.New("maximum attempts reached")
	ErrGradingConflict        = errors.New("essay already graded")
	ErrInvalidPosition        = errors.New("question position out of range")
	ErrEmptyAutosave          = errors.New("autosave carries no answer, flag or view")
	ErrResultsNotReleased     = errors.New("results not released")
	ErrScheduleNotEnded       = errors.New("schedule has not ended yet")
	ErrRateLimited            = errors.New("too many reports")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrInvalidSetting         = errors.New("invalid setting value")
	ErrInvalidScore           = errors.New("score must be between 0 and 100")
	ErrInvalidAnswerKey       = errors.New("answer key does not match an option")
	ErrProgressUnavailable    = progress.ErrProgressUnavailable
	ErrStaleOrMissingProgress = model.ErrStaleOrMissingProgress
	ErrInsufficientData       = analysis.ErrInsufficientData
	ErrNotFound               = repository.ErrNotFound
	ErrInUse                  = repository.ErrInUse
)
