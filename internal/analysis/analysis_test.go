package analysis

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

func option(i int) model.Answer { return model.Answer{Option: &i} }

// cohort builds n submissions over the same two questions. Question easy is
// answered correctly by everyone; question hard only by the top scorers.
func cohort(n, hardCorrect int) ([]Submission, uuid.UUID, uuid.UUID) {
	easy, hard := uuid.New(), uuid.New()
	subs := make([]Submission, n)
	for i := 0; i < n; i++ {
		// Reverse the question order for odd participants, as shuffling would.
		qs := []model.QuestionSnapshot{
			{QuestionID: easy, Type: model.QuestionTypeMultipleChoice, Options: []string{"a", "b"}, CorrectIndex: 0},
			{QuestionID: hard, Type: model.QuestionTypeMultipleChoice, Options: []string{"a", "b"}, CorrectIndex: 1},
		}
		if i%2 == 1 {
			qs[0], qs[1] = qs[1], qs[0]
		}
		answers := map[int]model.Answer{}
		for pos, q := range qs {
			if q.QuestionID == easy || i < hardCorrect {
				answers[pos] = option(q.CorrectIndex)
			} else {
				answers[pos] = option(1 - q.CorrectIndex)
			}
		}
		subs[i] = Submission{
			Score:    float64(100 - i),
			Instance: &model.ExamInstance{Questions: qs},
			Answers:  answers,
		}
	}
	return subs, easy, hard
}

func TestAnalyzeRequiresTenResults(t *testing.T) {
	subs, _, _ := cohort(9, 3)
	if _, err := Analyze(subs); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData with 9 results, got %v", err)
	}

	subs, _, _ = cohort(10, 3)
	stats, err := Analyze(subs)
	if err != nil {
		t.Fatalf("expected analysis with 10 results, got %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 item stats, got %d", len(stats))
	}
}

func TestAnalyzeAggregatesByQuestionID(t *testing.T) {
	subs, easy, hard := cohort(20, 5)
	stats, err := Analyze(subs)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	byID := map[uuid.UUID]model.ItemStat{}
	for _, s := range stats {
		byID[s.QuestionID] = s
	}

	e := byID[easy]
	if e.Difficulty != 1 || e.Discrimination != 0 || e.Participants != 20 {
		t.Fatalf("unexpected easy stat: %+v", e)
	}
	if !e.NeedsRevision {
		t.Fatalf("an item everyone answers should need revision")
	}

	// Group size is floor(0.27*20) = 5: the whole high group is correct and the
	// low group is not.
	h := byID[hard]
	if h.Difficulty != 0.25 || h.Discrimination != 1 {
		t.Fatalf("unexpected hard stat: %+v", h)
	}
	if !h.NeedsRevision {
		t.Fatalf("difficulty 0.25 is below the lower bound")
	}
}

func TestAnalyzeSortsByScore(t *testing.T) {
	subs, _, hard := cohort(10, 2)
	// Reverse input order; ranking must come from scores, not input order.
	for i, j := 0, len(subs)-1; i < j; i, j = i+1, j-1 {
		subs[i], subs[j] = subs[j], subs[i]
	}
	stats, err := Analyze(subs)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	for _, s := range stats {
		if s.QuestionID == hard && s.Discrimination != 1 {
			t.Fatalf("expected discrimination 1 for the top-2 item, got %v", s.Discrimination)
		}
	}
}

func TestGroupSize(t *testing.T) {
	tests := map[int]int{1: 1, 3: 1, 10: 2, 11: 2, 100: 27}
	for n, want := range tests {
		if got := GroupSize(n); got != want {
			t.Fatalf("GroupSize(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestNeedsRevision(t *testing.T) {
	tests := []struct {
		difficulty, discrimination float64
		want                       bool
	}{
		{0.5, 0.4, false},
		{0.29, 0.4, true},
		{0.91, 0.4, true},
		{0.5, 0.19, true},
		{0.3, 0.2, false},
	}
	for _, tt := range tests {
		if got := NeedsRevision(tt.difficulty, tt.discrimination); got != tt.want {
			t.Fatalf("NeedsRevision(%v, %v) = %v, want %v", tt.difficulty, tt.discrimination, got, tt.want)
		}
	}
}
