package model

import (
	"time"

	"github.com/google/uuid"
)

// ItemStat is the psychometric summary of one question within one schedule.
type ItemStat struct {
	QuestionID     uuid.UUID `json:"question_id"`
	QuestionText   string    `json:"question_text,omitempty"`
	Difficulty     float64   `json:"difficulty_index"`
	Discrimination float64   `json:"discrimination_index"`
	Participants   int       `json:"participants"`
	NeedsRevision  bool      `json:"needs_revision"`
	AnalysedAt     time.Time `json:"analysed_at"`
}
