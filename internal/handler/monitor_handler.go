package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

const (
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// MonitorHandler serves the proctor risk board, its live feed, and force-finish.
type MonitorHandler struct {
	monitorService  *service.MonitorService
	finalizeService *service.FinalizeService
	publisher       *service.RedisMonitorPublisher
	refresh         time.Duration
	log             zerolog.Logger
}

func NewMonitorHandler(
	monitorService *service.MonitorService,
	finalizeService *service.FinalizeService,
	publisher *service.RedisMonitorPublisher,
	refresh time.Duration,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		monitorService:  monitorService,
		finalizeService: finalizeService,
		publisher:       publisher,
		refresh:         refresh,
		log:             log.With().Str("component", "monitor_handler").Logger(),
	}
}

// GetBoard godoc
// GET /api/v1/admin/monitor?schedule_id=
// Active sessions with live progress and risk, riskiest first.
func (h *MonitorHandler) GetBoard(c *gin.Context) {
	scheduleID, ok := optionalUUIDQuery(c, "schedule_id")
	if !ok {
		return
	}

	rows, err := h.monitorService.Board(c.Request.Context(), scheduleID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"sessions": rows})
}

// Stream godoc
// GET /api/v1/admin/monitor/stream?token=&schedule_id=
// Server-Sent Events: a board snapshot, then every lifecycle event published on
// Redis, with a fresh board every refresh interval. schedule_id narrows all three.
func (h *MonitorHandler) Stream(c *gin.Context) {
	scheduleID, ok := optionalUUIDQuery(c, "schedule_id")
	if !ok {
		return
	}
	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.sendBoard(c, reqCtx, scheduleID, "snapshot")

	pubsub := h.publisher.Subscribe(reqCtx)
	defer pubsub.Close()
	ch := pubsub.Channel()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	refresh := h.refresh
	if refresh <= 0 {
		refresh = 15 * time.Second
	}
	refreshTicker := time.NewTicker(refresh)
	defer refreshTicker.Stop()

	h.log.Info().Msg("Proctor attached to live monitor SSE")

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Msg("Proctor disconnected from live monitor SSE")
			return

		case msg, open := <-ch:
			if !open {
				return
			}
			if !lifecycleMatches(msg.Payload, scheduleID) {
				continue
			}
			_, _ = c.Writer.Write([]byte("event: lifecycle\ndata: "))
			_, _ = c.Writer.Write([]byte(msg.Payload))
			_, _ = c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()

		case <-refreshTicker.C:
			h.sendBoard(c, reqCtx, scheduleID, "refresh")

		case <-keepAlive.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			c.Writer.Flush()
		}
	}
}

// lifecycleMatches reports whether a published MonitorEvent belongs on a stream
// filtered to scheduleID. Unfiltered streams forward everything as is.
func lifecycleMatches(payload string, scheduleID *uuid.UUID) bool {
	if scheduleID == nil {
		return true
	}
	var ev struct {
		ScheduleID uuid.UUID `json:"schedule_id"`
	}
	if err := sonic.UnmarshalString(payload, &ev); err != nil {
		return false
	}
	return ev.ScheduleID == *scheduleID
}

func (h *MonitorHandler) sendBoard(c *gin.Context, parent context.Context, scheduleID *uuid.UUID, kind string) {
	ctx, cancel := context.WithTimeout(parent, refreshTimeout)
	defer cancel()

	rows, err := h.monitorService.Board(ctx, scheduleID)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to build risk board")
		return
	}
	c.SSEvent(kind, gin.H{"sessions": rows})
	c.Writer.Flush()
}

// ForceFinish godoc
// POST /api/v1/admin/sessions/force-finish
// Ends a participant's active session from their saved progress.
func (h *MonitorHandler) ForceFinish(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.ForceFinishRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	out, err := h.finalizeService.ForceFinish(c.Request.Context(), req.UserID, model.TriggerProctor, claims.Actor())
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"result": out.Result, "duplicate": out.Duplicate})
}
