package service

import (
	"math/rand/v2"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Shuffler produces per-session question and option orders. It is safe for
// concurrent use.
type Shuffler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewShuffler seeds from the runtime's random source.
func NewShuffler() *Shuffler {
	return &Shuffler{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeededShuffler returns a deterministic shuffler for tests.
func NewSeededShuffler(seed uint64) *Shuffler {
	return &Shuffler{rng: rand.New(rand.NewPCG(seed, seed))}
}

// Perm returns a random permutation of [0, n).
func (s *Shuffler) Perm(n int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Perm(n)
}

// BuildInstance shuffles the question order and every multiple-choice option list,
// remapping each answer key to the option's new index. Multiple-choice questions
// without a resolvable key are skipped.
func BuildInstance(sh *Shuffler, questions []model.Question, log zerolog.Logger) *model.ExamInstance {
	inst := &model.ExamInstance{Questions: make([]model.QuestionSnapshot, 0, len(questions))}

	for _, qi := range sh.Perm(len(questions)) {
		q := questions[qi]
		snap := model.QuestionSnapshot{
			QuestionID: q.ID,
			Type:       q.Type,
			Text:       q.Text,
			ImageURL:   q.ImageURL,
			Topic:      q.Topic,
		}

		switch q.Type {
		case model.QuestionTypeMultipleChoice:
			if _, ok := q.CorrectOption(); !ok {
				log.Warn().Str("question_id", q.ID.String()).Msg("Skipping question with invalid answer key")
				continue
			}
			perm := sh.Perm(len(q.Options))
			snap.Options = make([]string, len(perm))
			for newIdx, oldIdx := range perm {
				snap.Options[newIdx] = q.Options[oldIdx]
				if oldIdx == *q.CorrectIndex {
					snap.CorrectIndex = newIdx
				}
			}
		case model.QuestionTypeEssay:
			snap.Options = []string{}
			snap.CorrectIndex = -1
		default:
			log.Warn().Str("question_id", q.ID.String()).Str("type", string(q.Type)).Msg("Skipping question of unknown type")
			continue
		}

		inst.Questions = append(inst.Questions, snap)
	}
	return inst
}
