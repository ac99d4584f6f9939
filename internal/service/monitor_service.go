package service

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"golang.org/x/sync/errgroup"
)

// Risk levels shown on the proctor board.
const (
	RiskSafe   = "safe"
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

type ActiveSessionLister interface {
	ListActive(ctx context.Context, scheduleID *uuid.UUID) ([]model.Session, error)
}

type MonitorSource interface {
	ViolationCounts(ctx context.Context, sessionIDs []uuid.UUID) (map[uuid.UUID]map[string]int, error)
	LiveAnswerCounts(ctx context.Context, keys []repository.LiveKey) (map[int]int, error)
}

// MonitorService builds the live proctor risk board.
type MonitorService struct {
	sessions ActiveSessionLister
	source   MonitorSource
	policy   config.Policy
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(sessions ActiveSessionLister, source MonitorSource, policy config.Policy) *MonitorService {
	return &MonitorService{sessions: sessions, source: source, policy: policy}
}

// RiskScore weighs violation counts by type.
func RiskScore(violations map[string]int, w config.RiskWeights) int {
	score := 0
	for kind, n := range violations {
		switch {
		case kind == model.ViolationFullscreenExit:
			score += n * w.Fullscreen
		case kind == model.ViolationTabSwitch:
			score += n * w.Tab
		case strings.Contains(strings.ToLower(kind), "paste"):
			score += n * w.Paste
		default:
			score += n * w.Other
		}
	}
	return score
}

// RiskLevel buckets a risk score.
func RiskLevel(score int, l config.RiskLevels) string {
	switch {
	case score > l.High:
		return RiskHigh
	case score > l.Medium:
		return RiskMedium
	case score > 0:
		return RiskLow
	default:
		return RiskSafe
	}
}

// Board returns every active session with live progress and risk, riskiest first.
// Violation counts and live answer counts are fetched in parallel; live counts are
// best-effort and fall back to the durable counter.
func (s *MonitorService) Board(ctx context.Context, scheduleID *uuid.UUID) ([]model.RiskRow, error) {
	sessions, err := s.sessions.ListActive(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	rows := make([]model.RiskRow, 0, len(sessions))
	if len(sessions) == 0 {
		return rows, nil
	}

	ids := make([]uuid.UUID, len(sessions))
	keys := make([]repository.LiveKey, len(sessions))
	for i, sess := range sessions {
		ids[i] = sess.ID
		keys[i] = repository.LiveKey{UserID: sess.UserID, ScheduleID: sess.ScheduleID}
	}

	var (
		violations map[uuid.UUID]map[string]int
		live       map[int]int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		violations, err = s.source.ViolationCounts(gctx, ids)
		return err
	})
	g.Go(func() error {
		// Redis trouble must not blank the board.
		live, _ = s.source.LiveAnswerCounts(gctx, keys)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, sess := range sessions {
		counts := violations[sess.ID]
		if counts == nil {
			counts = map[string]int{}
		}
		answered := sess.Progress
		if n, ok := live[sess.UserID]; ok {
			answered = n
		}
		score := RiskScore(counts, s.policy.RiskWeights)
		rows = append(rows, model.RiskRow{
			SessionID:     sess.ID,
			UserID:        sess.UserID,
			Username:      sess.Username,
			ScheduleID:    sess.ScheduleID,
			Status:        sess.Status,
			Progress:      answered,
			QuestionCount: sess.QuestionCount,
			LastUpdate:    sess.LastUpdate,
			Violations:    counts,
			RiskScore:     score,
			RiskLevel:     RiskLevel(score, s.policy.RiskLevels),
		})
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].RiskScore > rows[j].RiskScore })
	return rows, nil
}
