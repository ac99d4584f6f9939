package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// errorMapping translates domain errors to HTTP status and API code.
var errorMapping = []struct {
	err    error
	status int
	code   response.ErrCode
}{
	{service.ErrNotFound, http.StatusNotFound, response.ErrNotFound},
	{service.ErrInUse, http.StatusConflict, response.ErrDependencyExists},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, response.ErrInvalidCredentials},
	{service.ErrNoActiveSchedule, http.StatusNotFound, response.ErrNoActiveSchedule},
	{service.ErrInsufficientQuestions, http.StatusUnprocessableEntity, response.ErrNoQuestions},
	{service.ErrNoActiveSession, http.StatusNotFound, response.ErrNoActiveSession},
	{service.ErrMaxAttemptsReached, http.StatusForbidden, response.ErrMaxAttemptsReached},
	{service.ErrInvalidPosition, http.StatusBadRequest, response.ErrInvalidPosition},
	{service.ErrEmptyAutosave, http.StatusBadRequest, response.ErrInvalidPayload},
	{service.ErrResultsNotReleased, http.StatusForbidden, response.ErrResultsNotReleased},
	{service.ErrGradingConflict, http.StatusConflict, response.ErrGradingConflict},
	{service.ErrSessionConflict, http.StatusConflict, response.ErrConflict},
	{service.ErrInvalidScore, http.StatusBadRequest, response.ErrInvalidScore},
	{service.ErrScheduleNotEnded, http.StatusConflict, response.ErrScheduleNotEnded},
	{service.ErrInsufficientData, http.StatusUnprocessableEntity, response.ErrInsufficientData},
	{service.ErrInvalidAnswerKey, http.StatusUnprocessableEntity, response.ErrInvalidAnswerKey},
	{service.ErrInvalidSetting, http.StatusBadRequest, response.ErrInvalidSetting},
	{service.ErrRateLimited, http.StatusTooManyRequests, response.ErrRateLimitExceeded},
}

// classify returns the HTTP status and code for err. Unknown errors are internal.
func classify(err error) (int, response.ErrCode) {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, response.ErrInternal
}

// fail writes the error response for a service error. Internal errors are logged
// with the request-scoped logger; domain errors are expected and are not.
func fail(c *gin.Context, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	response.Fail(c, status, code)
}

// uuidParam parses a UUID path parameter, writing the error response on failure.
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

// optionalUUIDQuery parses an optional UUID query filter.
func optionalUUIDQuery(c *gin.Context, name string) (*uuid.UUID, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, false
	}
	return &id, true
}

func pageQuery(c *gin.Context) (page, perPage int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))
	return page, perPage
}
