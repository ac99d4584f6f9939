package model

import (
	"fmt"

	"github.com/google/uuid"
)

// QuestionSnapshot is a question copied into an exam instance at shuffle time.
// Options are already in the participant's order and CorrectIndex points into them.
type QuestionSnapshot struct {
	QuestionID   uuid.UUID    `json:"question_id"`
	Type         QuestionType `json:"question_type"`
	Text         string       `json:"question_text"`
	ImageURL     *string      `json:"image_url,omitempty"`
	Options      []string     `json:"options,omitempty"`
	Topic        string       `json:"topic"`
	CorrectIndex int          `json:"correct_index"`
}

// PublicQuestion is the client view of a snapshot.
type PublicQuestion struct {
	Position   int          `json:"position"`
	QuestionID uuid.UUID    `json:"question_id"`
	Type       QuestionType `json:"question_type"`
	Text       string       `json:"question_text"`
	ImageURL   *string      `json:"image_url,omitempty"`
	Options    []string     `json:"options,omitempty"`
	Topic      string       `json:"topic"`
}

// ExamInstance is the immutable shuffled exam of one session.
type ExamInstance struct {
	ScheduleID uuid.UUID          `json:"schedule_id"`
	Questions  []QuestionSnapshot `json:"questions"`
}

// Public returns the questions without their answer key.
func (e *ExamInstance) Public() []PublicQuestion {
	out := make([]PublicQuestion, len(e.Questions))
	for i, q := range e.Questions {
		out[i] = PublicQuestion{
			Position:   i,
			QuestionID: q.QuestionID,
			Type:       q.Type,
			Text:       q.Text,
			ImageURL:   q.ImageURL,
			Options:    q.Options,
			Topic:      q.Topic,
		}
	}
	return out
}

// HasEssay reports whether any question is an essay.
func (e *ExamInstance) HasEssay() bool {
	for _, q := range e.Questions {
		if q.Type == QuestionTypeEssay {
			return true
		}
	}
	return false
}

// Validate rejects records that cannot be scored safely.
func (e *ExamInstance) Validate() error {
	if len(e.Questions) == 0 {
		return fmt.Errorf("%w: instance has no questions", ErrStaleOrMissingProgress)
	}
	for i, q := range e.Questions {
		switch q.Type {
		case QuestionTypeMultipleChoice:
			if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
				return fmt.Errorf("%w: question %d has no valid answer key", ErrStaleOrMissingProgress, i)
			}
		case QuestionTypeEssay:
		default:
			return fmt.Errorf("%w: question %d has unknown type %q", ErrStaleOrMissingProgress, i, q.Type)
		}
	}
	return nil
}
