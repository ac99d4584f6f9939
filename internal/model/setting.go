package model

import "time"

// SettingPassingScore is the app_settings key holding the pass threshold (0..100).
// It is read at finalization time, so a change applies to the next finished session.
const SettingPassingScore = "passing_score"

type AppSetting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpdateSettingsRequest replaces the listed keys and leaves the rest untouched.
type UpdateSettingsRequest struct {
	Settings map[string]string `json:"settings" binding:"required,min=1,dive,keys,setting_key,endkeys,max=255"`
}
