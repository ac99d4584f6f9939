// Package analysis computes classical item statistics for a finished schedule.
// The numbers are advisory and never feed back into scoring.
package analysis

import (
	"errors"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const (
	// MinResults is the smallest cohort worth analysing.
	MinResults = 10
	groupShare = 0.27

	minDifficulty     = 0.3
	maxDifficulty     = 0.9
	minDiscrimination = 0.2
)

var ErrInsufficientData = errors.New("analysis: not enough results")

// Submission is one finalized attempt: its score, the shuffled instance it was
// scored against, and the answers that were scored.
type Submission struct {
	Score    float64
	Instance *model.ExamInstance
	Answers  map[int]model.Answer
}

// GroupSize is max(1, floor(0.27 * n)).
func GroupSize(n int) int {
	g := int(math.Floor(groupShare * float64(n)))
	if g < 1 {
		return 1
	}
	return g
}

// NeedsRevision flags items that are too easy, too hard, or fail to separate
// strong from weak participants.
func NeedsRevision(difficulty, discrimination float64) bool {
	return difficulty < minDifficulty || difficulty > maxDifficulty || discrimination < minDiscrimination
}

type tally struct {
	seen, correct, high, low int
}

// Analyze returns one stat per multiple-choice question, keyed by question id
// because every participant sees a different order. Output is sorted by question id.
func Analyze(subs []Submission) ([]model.ItemStat, error) {
	if len(subs) < MinResults {
		return nil, ErrInsufficientData
	}

	ranked := make([]Submission, len(subs))
	copy(ranked, subs)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	n := len(ranked)
	group := GroupSize(n)
	tallies := map[uuid.UUID]*tally{}

	for rank, sub := range ranked {
		if sub.Instance == nil {
			continue
		}
		for pos, q := range sub.Instance.Questions {
			if q.Type != model.QuestionTypeMultipleChoice {
				continue
			}
			t, ok := tallies[q.QuestionID]
			if !ok {
				t = &tally{}
				tallies[q.QuestionID] = t
			}
			t.seen++

			a, answered := sub.Answers[pos]
			if !answered || a.Option == nil || *a.Option != q.CorrectIndex {
				continue
			}
			t.correct++
			if rank < group {
				t.high++
			}
			if rank >= n-group {
				t.low++
			}
		}
	}

	stats := make([]model.ItemStat, 0, len(tallies))
	for id, t := range tallies {
		difficulty := float64(t.correct) / float64(t.seen)
		discrimination := float64(t.high-t.low) / float64(group)
		stats = append(stats, model.ItemStat{
			QuestionID:     id,
			Difficulty:     round4(difficulty),
			Discrimination: round4(discrimination),
			Participants:   t.seen,
			NeedsRevision:  NeedsRevision(difficulty, discrimination),
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].QuestionID.String() < stats[j].QuestionID.String() })
	return stats, nil
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
