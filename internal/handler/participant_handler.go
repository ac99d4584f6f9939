package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// ParticipantHandler serves the exam-taking flow of a logged-in participant.
type ParticipantHandler struct {
	statusService    *service.StatusService
	sessionService   *service.SessionService
	finalizeService  *service.FinalizeService
	violationService *service.ViolationService
	resultService    *service.ResultService
}

// NewParticipantHandler creates a new ParticipantHandler.
func NewParticipantHandler(
	statusService *service.StatusService,
	sessionService *service.SessionService,
	finalizeService *service.FinalizeService,
	violationService *service.ViolationService,
	resultService *service.ResultService,
) *ParticipantHandler {
	return &ParticipantHandler{
		statusService:    statusService,
		sessionService:   sessionService,
		finalizeService:  finalizeService,
		violationService: violationService,
		resultService:    resultService,
	}
}

// GetStatus godoc
// GET /api/v1/participant/status
// Tells the client which screen to show: the running exam, released results,
// the lobby of an open schedule, or nothing.
func (h *ParticipantHandler) GetStatus(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	decision, err := h.statusService.Resolve(c.Request.Context(), claims.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, decision)
}

// StartExam godoc
// POST /api/v1/participant/exam
// Resumes the active session or creates one for the current schedule.
func (h *ParticipantHandler) StartExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	view, err := h.sessionService.EnsureSession(c.Request.Context(), claims.Participant())
	if err != nil {
		fail(c, err)
		return
	}

	status := http.StatusCreated
	if view.Resumed {
		status = http.StatusOK
	}
	response.Success(c, status, gin.H{"exam": view})
}

// GetExamState godoc
// GET /api/v1/participant/exam/state
// Returns the active session without creating one.
func (h *ParticipantHandler) GetExamState(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	view, err := h.sessionService.GetState(c.Request.Context(), claims.Participant())
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"exam": view})
}

// SaveProgress godoc
// PUT /api/v1/participant/exam/progress
// Applies one answer or flag change; a bare view only records navigation.
func (h *ParticipantHandler) SaveProgress(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.AutosaveRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.sessionService.Autosave(c.Request.Context(), claims.Participant(), req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// FinishExam godoc
// POST /api/v1/participant/exam/finish
// Scores and closes the active session. Repeating the call returns the same result.
func (h *ParticipantHandler) FinishExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.FinishRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	hint := uuid.Nil
	if req.SessionID != nil {
		hint = *req.SessionID
	}

	out, err := h.finalizeService.Finish(c.Request.Context(), claims.Participant(), req.Progress(), hint)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, finishPayload(out))
}

// ReportViolation godoc
// POST /api/v1/participant/violations
func (h *ParticipantHandler) ReportViolation(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.ReportViolationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.violationService.Report(c.Request.Context(), claims.Participant(), req); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, gin.H{"status": "recorded"})
}

// ListMyResults godoc
// GET /api/v1/participant/results
// Lists the participant's results of schedules whose results are released.
func (h *ParticipantHandler) ListMyResults(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	results, err := h.resultService.MyResults(c.Request.Context(), claims.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"results": results})
}

// GetMyResult godoc
// GET /api/v1/participant/results/:id
// Returns the answer review of one released result. The answer key is never included.
func (h *ParticipantHandler) GetMyResult(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	detail, err := h.resultService.MyResultDetail(c.Request.Context(), claims.UserID, id)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, detail)
}

// finishPayload hides the score of results that still wait for essay grading.
func finishPayload(out *service.FinishOutcome) gin.H {
	res := out.Result
	payload := gin.H{
		"result_id":      res.ID,
		"session_id":     res.SessionID,
		"attempt_number": res.AttemptNumber,
		"grading_status": res.GradingStatus,
		"completed_at":   res.CompletedAt,
		"duplicate":      out.Duplicate,
	}
	if res.GradingStatus != model.GradingStatusPendingReview {
		payload["score"] = res.Score
		payload["status"] = res.Status
	}
	return payload
}
