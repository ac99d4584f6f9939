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

// ScheduleHandler handles exam schedule endpoints.
type ScheduleHandler struct {
	scheduleService *service.ScheduleService
}

// NewScheduleHandler creates a new ScheduleHandler.
func NewScheduleHandler(scheduleService *service.ScheduleService) *ScheduleHandler {
	return &ScheduleHandler{scheduleService: scheduleService}
}

// ListSchedules godoc
// GET /api/v1/admin/schedules
func (h *ScheduleHandler) ListSchedules(c *gin.Context) {
	schedules, err := h.scheduleService.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"schedules": schedules})
}

// GetSchedule godoc
// GET /api/v1/admin/schedules/:id
func (h *ScheduleHandler) GetSchedule(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	sched, err := h.scheduleService.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	questionIDs, err := h.scheduleService.LinkedQuestionIDs(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"schedule": sched, "question_ids": questionIDs})
}

// CreateSchedule godoc
// POST /api/v1/admin/schedules
func (h *ScheduleHandler) CreateSchedule(c *gin.Context) {
	var req model.UpsertScheduleRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	sched, err := h.scheduleService.Create(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"schedule": sched})
}

// UpdateSchedule godoc
// PUT /api/v1/admin/schedules/:id
// Also used to activate or deactivate a schedule.
func (h *ScheduleHandler) UpdateSchedule(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req model.UpsertScheduleRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	sched, err := h.scheduleService.Update(c.Request.Context(), id, req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"schedule": sched})
}

// DeleteSchedule godoc
// DELETE /api/v1/admin/schedules/:id
func (h *ScheduleHandler) DeleteSchedule(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.scheduleService.Delete(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "schedule deleted"})
}

// LinkQuestions godoc
// PUT /api/v1/admin/schedules/:id/questions
// Replaces the ordered question set. Sessions already started keep their instance.
func (h *ScheduleHandler) LinkQuestions(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req model.LinkQuestionsRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if err := h.scheduleService.LinkQuestions(c.Request.Context(), id, req.QuestionIDs); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"question_ids": req.QuestionIDs})
}

// SetReleased godoc
// PUT /api/v1/admin/schedules/:id/release
// Releases or withdraws results for participants.
func (h *ScheduleHandler) SetReleased(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req model.ReleaseResultsRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if err := h.scheduleService.SetReleased(c.Request.Context(), id, *req.Released, claims.Actor()); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"release_status": *req.Released})
}
