package model

import (
	"time"

	"github.com/google/uuid"
)

// EventKind separates navigation telemetry from proctoring violations.
type EventKind string

const (
	EventKindActivity  EventKind = "activity"
	EventKindViolation EventKind = "violation"
)

// Known violation types reported by the exam client.
const (
	ViolationFullscreenExit = "Keluar dari Mode Layar Penuh"
	ViolationTabSwitch      = "Meninggalkan Tab Ujian"
)

// Activity event types.
const (
	ActivityExamStarted       = "EXAM_STARTED"
	ActivityQuestionViewed    = "QUESTION_VIEWED"
	ActivityAnswerChanged     = "ANSWER_CHANGED"
	ActivityQuestionFlagged   = "QUESTION_FLAGGED"
	ActivityQuestionUnflagged = "QUESTION_UNFLAGGED"
	ActivityExamFinished      = "EXAM_FINISHED"
)

// ExamEvent is one row of the exam_events log.
type ExamEvent struct {
	ID         int64     `json:"id"`
	SessionID  uuid.UUID `json:"session_id"`
	UserID     int       `json:"user_id"`
	Kind       EventKind `json:"kind"`
	EventType  string    `json:"event_type"`
	Details    string    `json:"details,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ReportViolationRequest is the participant payload for a client-detected violation.
type ReportViolationRequest struct {
	ViolationType string `json:"violation_type" binding:"required,max=100"`
	Details       string `json:"details" binding:"max=1000"`
}

// RiskRow is one participant on the proctor risk board.
type RiskRow struct {
	SessionID     uuid.UUID      `json:"session_id"`
	UserID        int            `json:"user_id"`
	Username      string         `json:"username"`
	ScheduleID    uuid.UUID      `json:"schedule_id"`
	Status        SessionStatus  `json:"status"`
	Progress      int            `json:"progress"`
	QuestionCount int            `json:"question_count"`
	LastUpdate    time.Time      `json:"last_update"`
	Violations    map[string]int `json:"violations"`
	RiskScore     int            `json:"risk_score"`
	RiskLevel     string         `json:"risk_level"`
}
