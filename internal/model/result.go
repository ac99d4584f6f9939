package model

import (
	"time"

	"github.com/google/uuid"
)

// Result status values shown to participants and admins.
const (
	ResultStatusPassed = "Lulus"
	ResultStatusFailed = "Gagal"
)

// GradingStatus tracks how much of a result still needs a human grader.
type GradingStatus string

const (
	GradingStatusAutoGraded    GradingStatus = "auto-graded"
	GradingStatusPendingReview GradingStatus = "pending-review"
	GradingStatusFullyGraded   GradingStatus = "fully-graded"
)

// FinishTrigger records who ended a session.
type FinishTrigger string

const (
	TriggerParticipant FinishTrigger = "participant"
	TriggerProctor     FinishTrigger = "proctor"
	TriggerTimeout     FinishTrigger = "timeout"
)

// Result is the immutable outcome of one finalized session. Score and Status are
// the only fields rewritten later, by essay grading.
type Result struct {
	ID            uuid.UUID     `json:"id"`
	SessionID     uuid.UUID     `json:"session_id"`
	UserID        int           `json:"user_id"`
	ScheduleID    uuid.UUID     `json:"schedule_id"`
	AttemptNumber int           `json:"attempt_number"`
	Username      string        `json:"username"`
	Name          string        `json:"name"`
	MCScore       float64       `json:"mc_score"`
	Score         float64       `json:"score"`
	Status        string        `json:"status"`
	GradingStatus GradingStatus `json:"grading_status"`
	Trigger       FinishTrigger `json:"trigger"`
	Late          bool          `json:"late"`
	CompletedAt   time.Time     `json:"completed_at"`

	ScheduleTitle string `json:"schedule_title,omitempty"`
}

// EssayStatus tracks a single essay answer through grading.
type EssayStatus string

const (
	EssayStatusPending EssayStatus = "pending"
	EssayStatusGraded  EssayStatus = "graded"
)

// EssaySubmission is one essay answer awaiting or holding a grade.
type EssaySubmission struct {
	ID          int64       `json:"id"`
	ResultID    uuid.UUID   `json:"result_id"`
	UserID      int         `json:"user_id"`
	QuestionID  uuid.UUID   `json:"question_id"`
	Position    int         `json:"position"`
	AnswerText  string      `json:"answer_text"`
	Status      EssayStatus `json:"status"`
	Score       *float64    `json:"score,omitempty"`
	GradedBy    *int        `json:"graded_by,omitempty"`
	GradedAt    *time.Time  `json:"graded_at,omitempty"`
	SubmittedAt time.Time   `json:"submitted_at"`

	QuestionText string `json:"question_text,omitempty"`
	Username     string `json:"username,omitempty"`
}

// GradeEssayRequest is the grader payload.
type GradeEssayRequest struct {
	Score *float64 `json:"score" binding:"required,min=0,max=100"`
}

// ResultFilter narrows the admin result listing.
type ResultFilter struct {
	ScheduleID *uuid.UUID
	Search     string
	Status     string
	Page       int
	PerPage    int
}

// ReviewItem is one row of a participant's post-release answer review.
type ReviewItem struct {
	Position      int          `json:"position"`
	QuestionID    uuid.UUID    `json:"question_id"`
	Type          QuestionType `json:"question_type"`
	Text          string       `json:"question_text"`
	Options       []string     `json:"options,omitempty"`
	Answer        *Answer      `json:"answer,omitempty"`
	IsCorrect     *bool        `json:"is_correct,omitempty"`
	CorrectOption *int         `json:"correct_option,omitempty"`
	EssayScore    *float64     `json:"essay_score,omitempty"`
	EssayStatus   EssayStatus  `json:"essay_status,omitempty"`
}

// ResultDetail bundles a result with its review, as shown to admins or to the
// owning participant after release. Only the admin view carries CorrectOption.
type ResultDetail struct {
	Result Result       `json:"result"`
	Items  []ReviewItem `json:"items"`
}

// Forensics is the full event trail of one attempt.
type Forensics struct {
	Result Result      `json:"result"`
	Events []ExamEvent `json:"events"`
}

// ScoreBucket is one bar of the score distribution chart.
type ScoreBucket struct {
	Range string `json:"range"`
	Count int    `json:"count"`
}

// ForceFinishRequest lets a proctor end a participant's active session.
type ForceFinishRequest struct {
	UserID int `json:"user_id" binding:"required,min=1"`
}
