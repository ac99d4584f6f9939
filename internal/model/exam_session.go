package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusActive   SessionStatus = "active"
	SessionStatusFinished SessionStatus = "finished"
	// SessionStatusAbandoned marks an active session whose instance could not be
	// loaded and was replaced. Its events stay for forensics; it holds no result.
	SessionStatusAbandoned SessionStatus = "abandoned"
)

// Session is one participant attempt. At most one is active per user.
type Session struct {
	ID            uuid.UUID     `json:"id"`
	UserID        int           `json:"user_id"`
	Username      string        `json:"username"`
	ScheduleID    uuid.UUID     `json:"schedule_id"`
	Status        SessionStatus `json:"status"`
	QuestionCount int           `json:"question_count"`
	Progress      int           `json:"progress"`
	StartedAt     time.Time     `json:"started_at"`
	LastUpdate    time.Time     `json:"last_update"`
	FinishedAt    *time.Time    `json:"finished_at,omitempty"`
}

// ActiveSessionRef is the cached pointer from a user to their active session.
type ActiveSessionRef struct {
	SessionID       uuid.UUID `json:"session_id"`
	ScheduleID      uuid.UUID `json:"schedule_id"`
	QuestionCount   int       `json:"question_count"`
	StartedAt       time.Time `json:"started_at"`
	DurationMinutes int       `json:"duration_minutes"`
}

// Deadline is the moment the participant's countdown reaches zero.
func (r *ActiveSessionRef) Deadline() time.Time {
	return r.StartedAt.Add(time.Duration(r.DurationMinutes) * time.Minute)
}
