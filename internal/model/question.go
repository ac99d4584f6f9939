package model

import (
	"time"

	"github.com/google/uuid"
)

// QuestionType enumerates the supported question kinds.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "multiple-choice"
	QuestionTypeEssay          QuestionType = "essay"
)

// ApprovalStatus gates which questions may enter an exam instance.
type ApprovalStatus string

const (
	ApprovalStatusDraft    ApprovalStatus = "draft"
	ApprovalStatusApproved ApprovalStatus = "approved"
)

// Question is a bank question. CorrectIndex is never serialized.
type Question struct {
	ID           uuid.UUID      `json:"id"`
	Type         QuestionType   `json:"question_type"`
	Text         string         `json:"question_text"`
	ImageURL     *string        `json:"image_url,omitempty"`
	Options      []string       `json:"options,omitempty"`
	CorrectIndex *int           `json:"-"`
	Topic        string         `json:"topic"`
	Difficulty   string         `json:"difficulty"`
	Status       ApprovalStatus `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// CorrectOption returns the text of the correct option, or false when the recorded
// index does not resolve to an existing option.
func (q *Question) CorrectOption() (string, bool) {
	if q.CorrectIndex == nil {
		return "", false
	}
	idx := *q.CorrectIndex
	if idx < 0 || idx >= len(q.Options) {
		return "", false
	}
	return q.Options[idx], true
}

// UpsertQuestionRequest is the admin payload for creating or editing a question.
type UpsertQuestionRequest struct {
	Type         QuestionType `json:"question_type" binding:"required,oneof=multiple-choice essay"`
	Text         string       `json:"question_text" binding:"required,min=1"`
	ImageURL     *string      `json:"image_url" binding:"omitempty,url"`
	Options      []string     `json:"options" binding:"required_if=Type multiple-choice,omitempty,min=2,dive,required"`
	CorrectIndex *int         `json:"correct_answer_index" binding:"required_if=Type multiple-choice,omitempty,min=0"`
	Topic        string       `json:"topic" binding:"max=255"`
	Difficulty   string       `json:"difficulty" binding:"omitempty,oneof=easy medium hard"`
}
