package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   response.ErrCode
	}{
		{"not found", service.ErrNotFound, http.StatusNotFound, response.ErrNotFound},
		{"wrapped", fmt.Errorf("finish: %w", service.ErrNoActiveSession), http.StatusNotFound, response.ErrNoActiveSession},
		{"max attempts", service.ErrMaxAttemptsReached, http.StatusForbidden, response.ErrMaxAttemptsReached},
		{"grading conflict", service.ErrGradingConflict, http.StatusConflict, response.ErrGradingConflict},
		{"rate limited", service.ErrRateLimited, http.StatusTooManyRequests, response.ErrRateLimitExceeded},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, response.ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := classify(tt.err)
			if status != tt.status || code != tt.code {
				t.Errorf("classify(%v) = %d %s, want %d %s", tt.err, status, code, tt.status, tt.code)
			}
		})
	}
}

func TestErrorMappingHasMessages(t *testing.T) {
	for _, m := range errorMapping {
		if response.GetMessage(m.code) == "" {
			t.Errorf("code %s has no message", m.code)
		}
	}
}

func TestFinishPayloadHidesPendingScore(t *testing.T) {
	res := &model.Result{
		ID:            uuid.New(),
		SessionID:     uuid.New(),
		Score:         80,
		Status:        model.ResultStatusPassed,
		GradingStatus: model.GradingStatusPendingReview,
		CompletedAt:   time.Now(),
	}

	payload := finishPayload(&service.FinishOutcome{Result: res})
	if _, ok := payload["score"]; ok {
		t.Error("score must be hidden while essays await grading")
	}
	if _, ok := payload["status"]; ok {
		t.Error("status must be hidden while essays await grading")
	}

	res.GradingStatus = model.GradingStatusAutoGraded
	payload = finishPayload(&service.FinishOutcome{Result: res, Duplicate: true})
	if payload["score"] != 80.0 {
		t.Errorf("score = %v, want 80", payload["score"])
	}
	if payload["duplicate"] != true {
		t.Error("duplicate flag lost")
	}
}
