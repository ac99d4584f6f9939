package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Answer is a participant's answer at one position: an option index for
// multiple-choice questions, free text for essays.
type Answer struct {
	Option *int   `json:"option,omitempty"`
	Text   string `json:"text,omitempty"`
}

// IsEmpty reports whether the answer carries nothing.
func (a Answer) IsEmpty() bool {
	return a.Option == nil && strings.TrimSpace(a.Text) == ""
}

// Progress is the mutable in-flight state of an active exam. Both maps are sparse
// and keyed by question position.
type Progress struct {
	Answers map[int]Answer `json:"answers"`
	Flags   map[int]bool   `json:"flags"`
}

// NewProgress returns the initial progress: no answers, no flags.
func NewProgress() *Progress {
	return &Progress{Answers: map[int]Answer{}, Flags: map[int]bool{}}
}

// AnsweredCount counts non-empty answers.
func (p *Progress) AnsweredCount() int {
	if p == nil {
		return 0
	}
	n := 0
	for _, a := range p.Answers {
		if !a.IsEmpty() {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (p *Progress) Clone() *Progress {
	out := NewProgress()
	if p == nil {
		return out
	}
	for k, v := range p.Answers {
		if v.Option != nil {
			opt := *v.Option
			v.Option = &opt
		}
		out.Answers[k] = v
	}
	for k, v := range p.Flags {
		out.Flags[k] = v
	}
	return out
}

// Apply merges a patch into the progress.
func (p *Progress) Apply(patch ProgressPatch) {
	if p.Answers == nil {
		p.Answers = map[int]Answer{}
	}
	if p.Flags == nil {
		p.Flags = map[int]bool{}
	}
	if patch.Answer != nil {
		if patch.Answer.IsEmpty() {
			delete(p.Answers, patch.Position)
		} else {
			p.Answers[patch.Position] = *patch.Answer
		}
	}
	if patch.Flagged != nil {
		if *patch.Flagged {
			p.Flags[patch.Position] = true
		} else {
			delete(p.Flags, patch.Position)
		}
	}
}

// Validate checks that every position addresses one of n questions.
func (p *Progress) Validate(n int) error {
	for pos := range p.Answers {
		if pos < 0 || pos >= n {
			return fmt.Errorf("%w: answer position %d out of range", ErrStaleOrMissingProgress, pos)
		}
	}
	for pos := range p.Flags {
		if pos < 0 || pos >= n {
			return fmt.Errorf("%w: flag position %d out of range", ErrStaleOrMissingProgress, pos)
		}
	}
	return nil
}

// ProgressPatch is a single autosave delta. A nil field is left untouched; an
// empty answer clears the position.
type ProgressPatch struct {
	Position int     `json:"position"`
	Answer   *Answer `json:"answer,omitempty"`
	Flagged  *bool   `json:"flagged,omitempty"`
}

// AutosaveRequest is the participant payload for PUT /participant/exam/progress.
// At least one of Answer, Flagged or Viewed must be set; a view is logged as
// activity only and never touches progress.
type AutosaveRequest struct {
	Position int     `json:"position" binding:"min=0"`
	Answer   *Answer `json:"answer"`
	Flagged  *bool   `json:"flagged"`
	Viewed   bool    `json:"viewed"`
}

// FinishRequest carries the client's final answer set. SessionID is optional and
// lets a retried finish find the result it already produced.
type FinishRequest struct {
	SessionID *uuid.UUID     `json:"session_id"`
	Answers   map[int]Answer `json:"answers" binding:"required"`
	Flags     map[int]bool   `json:"flags"`
}

// Progress converts the request into a progress value.
func (r FinishRequest) Progress() *Progress {
	p := NewProgress()
	for pos, a := range r.Answers {
		if !a.IsEmpty() {
			p.Answers[pos] = a
		}
	}
	for pos, f := range r.Flags {
		if f {
			p.Flags[pos] = true
		}
	}
	return p
}
