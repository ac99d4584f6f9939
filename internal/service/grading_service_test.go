package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

func TestGradingBlendsEssaysIntoFinalScore(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 10; i++ {
		h.addMC("Soal", i%4)
	}
	h.addEssay("Esai 1")
	h.addEssay("Esai 2")
	ctx := context.Background()

	view, err := h.sessions.EnsureSession(ctx, alice)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	submitted := keepCorrect(t, h, view.SessionID, 8)
	inst, _ := h.db.LoadInstance(ctx, view.SessionID)
	for pos, q := range inst.Questions {
		if q.Type == model.QuestionTypeEssay {
			submitted.Answers[pos] = model.Answer{Text: "Jawaban uraian"}
		}
	}

	out, err := h.finalize.Finish(ctx, alice, submitted, uuid.Nil)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	res := out.Result
	if res.MCScore != 80 || res.Score != 80 {
		t.Fatalf("expected provisional 80, got %.2f/%.2f", res.MCScore, res.Score)
	}
	if res.Status != model.ResultStatusFailed || res.GradingStatus != model.GradingStatusPendingReview {
		t.Fatalf("essay exams start failed and pending, got %s/%s", res.Status, res.GradingStatus)
	}

	pending, err := h.grading.ListPending(ctx, nil, 0)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending essays, got %d", len(pending))
	}
	for _, e := range pending {
		if e.AnswerText != "Jawaban uraian" || e.ResultID != res.ID {
			t.Fatalf("unexpected essay %+v", e)
		}
	}

	grader := Actor{ID: 3, Name: "guru"}
	mid, err := h.grading.Grade(ctx, pending[0].ID, 100, grader)
	if err != nil {
		t.Fatalf("grade first: %v", err)
	}
	if mid.Score != 68 || mid.GradingStatus != model.GradingStatusPendingReview || mid.Status != model.ResultStatusFailed {
		t.Fatalf("after one essay expected 68/pending/failed, got %.2f/%s/%s", mid.Score, mid.GradingStatus, mid.Status)
	}

	final, err := h.grading.Grade(ctx, pending[1].ID, 50, grader)
	if err != nil {
		t.Fatalf("grade second: %v", err)
	}
	if final.Score != 78 {
		t.Fatalf("expected 0.6*80 + 0.4*75 = 78, got %.2f", final.Score)
	}
	if final.GradingStatus != model.GradingStatusFullyGraded || final.Status != model.ResultStatusPassed {
		t.Fatalf("expected fully-graded/passed, got %s/%s", final.GradingStatus, final.Status)
	}

	if _, err := h.grading.Grade(ctx, pending[0].ID, 10, grader); !errors.Is(err, ErrGradingConflict) {
		t.Fatalf("regrading must conflict, got %v", err)
	}
	stored, _ := memResults{h.db}.GetByID(ctx, res.ID)
	if stored.Score != 78 {
		t.Fatalf("conflicting grade changed the score to %.2f", stored.Score)
	}

	if left, _ := h.grading.ListPending(ctx, nil, 10); len(left) != 0 {
		t.Fatalf("expected empty queue, got %d", len(left))
	}
}

func TestGradeRejectsUnknownEssayAndBadScore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.grading.Grade(ctx, 999, 50, Actor{ID: 1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := h.grading.Grade(ctx, 1, 101, Actor{ID: 1}); !errors.Is(err, ErrInvalidScore) {
		t.Fatalf("expected ErrInvalidScore, got %v", err)
	}
}
