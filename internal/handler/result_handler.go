package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// ResultHandler handles result administration.
type ResultHandler struct {
	resultService *service.ResultService
}

func NewResultHandler(resultService *service.ResultService) *ResultHandler {
	return &ResultHandler{resultService: resultService}
}

// ListResults godoc
// GET /api/v1/admin/results?schedule_id=&search=&status=&page=&per_page=
func (h *ResultHandler) ListResults(c *gin.Context) {
	scheduleID, ok := optionalUUIDQuery(c, "schedule_id")
	if !ok {
		return
	}
	page, perPage := pageQuery(c)

	res, err := h.resultService.List(c.Request.Context(), model.ResultFilter{
		ScheduleID: scheduleID,
		Search:     c.Query("search"),
		Status:     c.Query("status"),
		Page:       page,
		PerPage:    perPage,
	})
	if err != nil {
		fail(c, err)
		return
	}
	response.SuccessWithPagination(c, http.StatusOK, gin.H{"results": res.Data}, response.NewPagination(res.Page, res.PerPage, res.Total))
}

// GetResult godoc
// GET /api/v1/admin/results/:id
// Result with the full answer review, including the answer key.
func (h *ResultHandler) GetResult(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	detail, err := h.resultService.Detail(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, detail)
}

// ResetAttempt godoc
// POST /api/v1/admin/results/:id/reset
// Deletes a result so the participant gets the attempt back.
func (h *ResultHandler) ResetAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.resultService.Reset(c.Request.Context(), id, claims.Actor()); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "attempt reset"})
}

// GetForensics godoc
// GET /api/v1/admin/results/:id/forensics
func (h *ResultHandler) GetForensics(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	f, err := h.resultService.Forensics(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, f)
}

// GetScoreDistribution godoc
// GET /api/v1/admin/analytics/score-distribution?schedule_id=
func (h *ResultHandler) GetScoreDistribution(c *gin.Context) {
	scheduleID, ok := optionalUUIDQuery(c, "schedule_id")
	if !ok {
		return
	}
	buckets, err := h.resultService.Distribution(c.Request.Context(), scheduleID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"buckets": buckets})
}
