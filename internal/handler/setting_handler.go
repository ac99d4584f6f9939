package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// SettingHandler exposes the app_settings table to admins. passing_score is the
// only key the grading path reads; other keys are stored as given.
type SettingHandler struct {
	settingService *service.SettingService
}

func NewSettingHandler(settingService *service.SettingService) *SettingHandler {
	return &SettingHandler{settingService: settingService}
}

// GetAllSettings godoc
// GET /api/v1/admin/settings
func (h *SettingHandler) GetAllSettings(c *gin.Context) {
	h.respondWithSettings(c)
}

// UpdateSettings godoc
// PUT /api/v1/admin/settings
func (h *SettingHandler) UpdateSettings(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.UpdateSettingsRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.settingService.UpdateSettings(c.Request.Context(), req.Settings, claims.Actor()); err != nil {
		fail(c, err)
		return
	}

	h.respondWithSettings(c)
}

// respondWithSettings echoes the stored map next to the threshold grading would
// use right now, which differs from the stored value when that value is unusable.
func (h *SettingHandler) respondWithSettings(c *gin.Context) {
	ctx := c.Request.Context()
	settings, err := h.settingService.GetAllSettings(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"settings":                settings,
		"effective_passing_score": h.settingService.PassingScore(ctx),
	})
}
