package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// GradingHandler serves the essay grading queue.
type GradingHandler struct {
	gradingService *service.GradingService
}

func NewGradingHandler(gradingService *service.GradingService) *GradingHandler {
	return &GradingHandler{gradingService: gradingService}
}

// ListPending godoc
// GET /api/v1/grading/essays?schedule_id=&limit=
func (h *GradingHandler) ListPending(c *gin.Context) {
	scheduleID, ok := optionalUUIDQuery(c, "schedule_id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(service.DefaultPendingLimit)))

	essays, err := h.gradingService.ListPending(c.Request.Context(), scheduleID, limit)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"essays": essays})
}

// Grade godoc
// POST /api/v1/grading/essays/:id
// Grades one pending essay and returns the recomputed result.
func (h *GradingHandler) Grade(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	essayID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || essayID <= 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.GradeEssayRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.gradingService.Grade(c.Request.Context(), essayID, *req.Score, claims.Actor())
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"result": res})
}
