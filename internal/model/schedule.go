package model

import (
	"time"

	"github.com/google/uuid"
)

// AnalysisStatus tracks whether item analysis has run for a schedule.
type AnalysisStatus string

const (
	AnalysisStatusPending   AnalysisStatus = "pending"
	AnalysisStatusCompleted AnalysisStatus = "completed"
)

// Schedule is an exam window with its linked question set.
type Schedule struct {
	ID              uuid.UUID      `json:"id"`
	Title           string         `json:"title"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         time.Time      `json:"end_time"`
	DurationMinutes int            `json:"duration_minutes"`
	MaxAttempts     int            `json:"max_attempts"`
	IsActive        bool           `json:"is_active"`
	ResultsReleased bool           `json:"results_released"`
	AnalysisStatus  AnalysisStatus `json:"analysis_status"`
	QuestionCount   int            `json:"question_count"`
	CreatedAt       time.Time      `json:"created_at"`
}

// IsCurrent reports whether the schedule is open at now: active and now in [start, end).
func (s *Schedule) IsCurrent(now time.Time) bool {
	return s.IsActive && !now.Before(s.StartTime) && now.Before(s.EndTime)
}

// Duration returns the configured exam duration.
func (s *Schedule) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// UpsertScheduleRequest is the admin payload for creating or editing a schedule.
type UpsertScheduleRequest struct {
	Title           string    `json:"title" binding:"required,max=255"`
	StartTime       time.Time `json:"start_time" binding:"required"`
	EndTime         time.Time `json:"end_time" binding:"required,gtfield=StartTime"`
	DurationMinutes int       `json:"duration_minutes" binding:"required,min=1,max=1440"`
	MaxAttempts     int       `json:"max_attempts" binding:"required,min=1,max=100"`
	IsActive        bool      `json:"is_active"`
}

// LinkQuestionsRequest replaces the ordered question set of a schedule.
type LinkQuestionsRequest struct {
	QuestionIDs []uuid.UUID `json:"question_ids" binding:"required,min=1,dive,required"`
}

// ReleaseResultsRequest toggles result visibility for participants.
type ReleaseResultsRequest struct {
	Released *bool `json:"release_status" binding:"required"`
}
