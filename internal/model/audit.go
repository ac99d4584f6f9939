package model

import "time"

// Audit actions emitted by the exam lifecycle.
const (
	AuditSessionCreated  = "SESSION_CREATED"
	AuditSessionFinished = "SESSION_FINISHED"
	AuditForceFinish     = "FORCE_FINISH_EXAM"
	AuditGradeEssay      = "GRADE_ESSAY"
	AuditReleaseResults  = "RELEASE_RESULTS"
	AuditWithdrawResults = "WITHDRAW_RESULTS"
	AuditResetAttempt    = "RESET_ATTEMPT"
	AuditRunItemAnalysis = "RUN_ITEM_ANALYSIS"
	AuditUpdateSettings  = "UPDATE_SETTINGS"
)

// AuditEvent is one entry for the audit trail.
type AuditEvent struct {
	ActorID    int       `json:"actor_id"`
	ActorName  string    `json:"actor_name"`
	Action     string    `json:"action"`
	TargetType string    `json:"target_type"`
	TargetID   string    `json:"target_id"`
	Details    string    `json:"details,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
