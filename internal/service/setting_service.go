package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

type SettingStore interface {
	GetAll(ctx context.Context) ([]model.AppSetting, error)
	UpsertMany(ctx context.Context, values map[string]string) error
	GetByKey(ctx context.Context, key string) (*model.AppSetting, error)
}

type SettingService struct {
	settingRepo SettingStore
	audit       AuditSink
	fallback    float64
	log         zerolog.Logger
}

// NewSettingService creates a SettingService. fallback is the pass threshold used
// when app_settings has no usable passing_score.
func NewSettingService(settingRepo SettingStore, audit AuditSink, fallback float64, log zerolog.Logger) *SettingService {
	return &SettingService{
		settingRepo: settingRepo,
		audit:       audit,
		fallback:    fallback,
		log:         log.With().Str("component", "setting_service").Logger(),
	}
}

func (s *SettingService) GetAllSettings(ctx context.Context) (map[string]string, error) {
	settingsList, err := s.settingRepo.GetAll(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to get all settings")
		return nil, err
	}

	settingsMap := make(map[string]string)
	for _, setting := range settingsList {
		settingsMap[setting.Key] = setting.Value
	}
	if _, ok := settingsMap[model.SettingPassingScore]; !ok {
		settingsMap[model.SettingPassingScore] = strconv.FormatFloat(s.fallback, 'f', -1, 64)
	}
	return settingsMap, nil
}

func (s *SettingService) UpdateSettings(ctx context.Context, settingsMap map[string]string, actor Actor) error {
	if v, ok := settingsMap[model.SettingPassingScore]; ok {
		if _, err := parsePassingScore(v); err != nil {
			return err
		}
	}
	if err := s.settingRepo.UpsertMany(ctx, settingsMap); err != nil {
		s.log.Error().Err(err).Msg("failed to update settings")
		return err
	}
	s.audit.Record(ctx, auditEvent(actor, model.AuditUpdateSettings, "settings", "", auditDetails("%v", settingsMap), time.Now()))
	return nil
}

// PassingScore reads the threshold at call time so an admin change applies to the
// next finalization. Errors fall back to the configured default.
func (s *SettingService) PassingScore(ctx context.Context) float64 {
	setting, err := s.settingRepo.GetByKey(ctx, model.SettingPassingScore)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.log.Warn().Err(err).Msg("passing score unreadable, using default")
		}
		return s.fallback
	}
	v, err := parsePassingScore(setting.Value)
	if err != nil {
		s.log.Warn().Err(err).Str("value", setting.Value).Msg("passing score invalid, using default")
		return s.fallback
	}
	return v
}

func parsePassingScore(raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || v > 100 {
		return 0, fmt.Errorf("%w: passing_score must be a number between 0 and 100", ErrInvalidSetting)
	}
	return v, nil
}
