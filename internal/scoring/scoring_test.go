package scoring

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

func mcInstance(n int) *model.ExamInstance {
	inst := &model.ExamInstance{ScheduleID: uuid.New()}
	for i := 0; i < n; i++ {
		inst.Questions = append(inst.Questions, model.QuestionSnapshot{
			QuestionID:   uuid.New(),
			Type:         model.QuestionTypeMultipleChoice,
			Options:      []string{"A", "B", "C", "D"},
			CorrectIndex: i % 4,
		})
	}
	return inst
}

func addEssays(inst *model.ExamInstance, n int) {
	for i := 0; i < n; i++ {
		inst.Questions = append(inst.Questions, model.QuestionSnapshot{
			QuestionID: uuid.New(),
			Type:       model.QuestionTypeEssay,
		})
	}
}

func option(i int) model.Answer { return model.Answer{Option: &i} }

func answerCorrectly(inst *model.ExamInstance, count int) map[int]model.Answer {
	answers := map[int]model.Answer{}
	for pos, q := range inst.Questions {
		if q.Type != model.QuestionTypeMultipleChoice {
			continue
		}
		if count > 0 {
			answers[pos] = option(q.CorrectIndex)
			count--
		} else {
			answers[pos] = option((q.CorrectIndex + 1) % len(q.Options))
		}
	}
	return answers
}

func TestScoreRoundTripWithoutEssay(t *testing.T) {
	inst := mcInstance(10)
	answers := answerCorrectly(inst, 7)

	tally := ScoreMultipleChoice(inst, answers)
	if tally.Correct != 7 || tally.Total != 10 {
		t.Fatalf("expected 7/10, got %d/%d", tally.Correct, tally.Total)
	}
	if got := InitialScore(tally.Correct, tally.Total); got != 70.0 {
		t.Fatalf("expected 70.0, got %v", got)
	}

	o := Evaluate(inst, answers, 70)
	if o.Status != model.ResultStatusPassed {
		t.Fatalf("expected %s at threshold 70, got %s", model.ResultStatusPassed, o.Status)
	}
	if o.GradingStatus != model.GradingStatusAutoGraded {
		t.Fatalf("expected auto-graded, got %s", o.GradingStatus)
	}
	if o := Evaluate(inst, answers, 75); o.Status != model.ResultStatusFailed {
		t.Fatalf("expected %s at threshold 75, got %s", model.ResultStatusFailed, o.Status)
	}
}

func TestEssayBlend(t *testing.T) {
	if got := RecomputeFinal(80, []float64{100, 50}, 2); got != 78.0 {
		t.Fatalf("expected 78.0, got %v", got)
	}
}

func TestRecomputeFinal(t *testing.T) {
	tests := []struct {
		name   string
		mc     float64
		essays []float64
		total  int
		want   float64
	}{
		{"no essays", 90, nil, 0, 54},
		{"one of two graded", 80, []float64{100}, 2, 68},
		{"all perfect", 100, []float64{100, 100, 100}, 3, 100},
		{"rounded", 33.33, []float64{70}, 3, 29.33},
		{"zero mc", 0, []float64{100}, 1, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RecomputeFinal(tt.mc, tt.essays, tt.total); got != tt.want {
				t.Fatalf("RecomputeFinal(%v, %v, %d) = %v, want %v", tt.mc, tt.essays, tt.total, got, tt.want)
			}
		})
	}
}

func TestInitialScore(t *testing.T) {
	tests := []struct {
		correct, total int
		want           float64
	}{
		{0, 0, 0},
		{1, 3, 33.33},
		{2, 3, 66.67},
		{3, 3, 100},
	}
	for _, tt := range tests {
		if got := InitialScore(tt.correct, tt.total); got != tt.want {
			t.Fatalf("InitialScore(%d, %d) = %v, want %v", tt.correct, tt.total, got, tt.want)
		}
	}
}

func TestPassFailHoldsEssayExams(t *testing.T) {
	if got := PassFail(100, 75, true); got != model.ResultStatusFailed {
		t.Fatalf("essay exam must not pass before grading, got %s", got)
	}
	if got := PassFail(75, 75, false); got != model.ResultStatusPassed {
		t.Fatalf("threshold is inclusive, got %s", got)
	}
	if got := PassFail(74.99, 75, false); got != model.ResultStatusFailed {
		t.Fatalf("expected fail below threshold, got %s", got)
	}
}

func TestEvaluateWithEssays(t *testing.T) {
	inst := mcInstance(10)
	addEssays(inst, 2)
	answers := answerCorrectly(inst, 8)
	answers[10] = model.Answer{Text: "esai pertama"}

	o := Evaluate(inst, answers, 75)
	if !o.HasEssay || o.EssayCount != 2 {
		t.Fatalf("expected 2 essays, got %+v", o)
	}
	if o.MCScore != 80 || o.Score != 80 {
		t.Fatalf("expected provisional score 80, got mc=%v score=%v", o.MCScore, o.Score)
	}
	if o.Status != model.ResultStatusFailed || o.GradingStatus != model.GradingStatusPendingReview {
		t.Fatalf("expected Gagal/pending-review, got %s/%s", o.Status, o.GradingStatus)
	}
}

func TestScoreMultipleChoiceIgnoresUnansweredAndText(t *testing.T) {
	inst := mcInstance(4)
	answers := map[int]model.Answer{
		0: option(0),
		1: {Text: "B"},
		3: option(1),
	}
	tally := ScoreMultipleChoice(inst, answers)
	if tally.Correct != 1 || tally.Total != 4 {
		t.Fatalf("expected 1/4, got %d/%d", tally.Correct, tally.Total)
	}
}

func TestGradingStatusFor(t *testing.T) {
	if GradingStatusFor(false, 0) != model.GradingStatusAutoGraded {
		t.Fatalf("expected auto-graded")
	}
	if GradingStatusFor(true, 1) != model.GradingStatusPendingReview {
		t.Fatalf("expected pending-review")
	}
	if GradingStatusFor(true, 0) != model.GradingStatusFullyGraded {
		t.Fatalf("expected fully-graded")
	}
}
