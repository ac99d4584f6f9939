// Package scoring turns an exam instance and a set of answers into scores.
// Everything here is pure; callers persist the outcome.
package scoring

import (
	"github.com/shopspring/decimal"
	"github.com/stemsi/exstem-proctor/internal/model"
)

var (
	hundred     = decimal.NewFromInt(100)
	mcWeight    = decimal.RequireFromString("0.6")
	essayWeight = decimal.RequireFromString("0.4")
)

// Tally is the multiple-choice outcome of one submission.
type Tally struct {
	Correct int
	Total   int
}

// ScoreMultipleChoice compares each multiple-choice answer with the instance's
// remapped correct index. Essays are ignored.
func ScoreMultipleChoice(inst *model.ExamInstance, answers map[int]model.Answer) Tally {
	var t Tally
	for pos, q := range inst.Questions {
		if q.Type != model.QuestionTypeMultipleChoice {
			continue
		}
		t.Total++
		if a, ok := answers[pos]; ok && a.Option != nil && *a.Option == q.CorrectIndex {
			t.Correct++
		}
	}
	return t
}

// InitialScore is correct/total on a 0..100 scale. For exams with essays it is the
// provisional multiple-choice score that grading later blends in.
func InitialScore(correct, total int) float64 {
	if total == 0 {
		return 0
	}
	s := decimal.NewFromInt(int64(correct)).
		Div(decimal.NewFromInt(int64(total))).
		Mul(hundred)
	return round(s)
}

// PassFail never passes a result that still has essays to grade.
func PassFail(score, threshold float64, hasEssay bool) string {
	if !hasEssay && decimal.NewFromFloat(score).GreaterThanOrEqual(decimal.NewFromFloat(threshold)) {
		return model.ResultStatusPassed
	}
	return model.ResultStatusFailed
}

// RecomputeFinal blends the multiple-choice score (60%) with the essay sub-score
// (40%). Ungraded essays count as zero toward essayCountTotal.
func RecomputeFinal(mcScore float64, essayScores []float64, essayCountTotal int) float64 {
	final := decimal.NewFromFloat(mcScore).Mul(mcWeight)
	if essayCountTotal > 0 {
		sum := decimal.Zero
		for _, s := range essayScores {
			sum = sum.Add(decimal.NewFromFloat(s))
		}
		essay := sum.Div(decimal.NewFromInt(int64(essayCountTotal)).Mul(hundred)).Mul(hundred)
		final = final.Add(essay.Mul(essayWeight))
	}
	return round(final)
}

// GradingStatusFor derives the grading status from the essay bookkeeping.
func GradingStatusFor(hasEssay bool, pendingEssays int) model.GradingStatus {
	switch {
	case !hasEssay:
		return model.GradingStatusAutoGraded
	case pendingEssays > 0:
		return model.GradingStatusPendingReview
	default:
		return model.GradingStatusFullyGraded
	}
}

// Outcome is everything the finalizer needs to write a result.
type Outcome struct {
	Tally
	HasEssay      bool
	EssayCount    int
	MCScore       float64
	Score         float64
	Status        string
	GradingStatus model.GradingStatus
}

// Evaluate scores a submission at finalization time. Essays start pending.
func Evaluate(inst *model.ExamInstance, answers map[int]model.Answer, threshold float64) Outcome {
	o := Outcome{Tally: ScoreMultipleChoice(inst, answers)}
	for _, q := range inst.Questions {
		if q.Type == model.QuestionTypeEssay {
			o.EssayCount++
		}
	}
	o.HasEssay = o.EssayCount > 0
	o.MCScore = InitialScore(o.Correct, o.Total)
	o.Score = o.MCScore
	o.Status = PassFail(o.Score, threshold, o.HasEssay)
	o.GradingStatus = GradingStatusFor(o.HasEssay, o.EssayCount)
	return o
}

func round(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}
