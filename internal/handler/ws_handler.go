package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

// wsOpTimeout bounds each action so a slow store cannot stall the read loop forever.
const wsOpTimeout = 10 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams the exam over a WebSocket: autosave, flags, navigation,
// violations and finish share one connection.
type WSHandler struct {
	sessionService   *service.SessionService
	finalizeService  *service.FinalizeService
	violationService *service.ViolationService
	log              zerolog.Logger
	upgrader         websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(
	sessionService *service.SessionService,
	finalizeService *service.FinalizeService,
	violationService *service.ViolationService,
	log zerolog.Logger,
	allowedOrigins []string,
) *WSHandler {
	return &WSHandler{
		sessionService:   sessionService,
		finalizeService:  finalizeService,
		violationService: violationService,
		log:              log.With().Str("component", "ws_handler").Logger(),
		upgrader:         buildUpgrader(allowedOrigins),
	}
}

// ExamStream godoc
// WS /ws/v1/participant/exam/stream?token=...
// Requires an active session; the client starts one over HTTP first.
func (h *WSHandler) ExamStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	p := claims.Participant()

	ref, err := h.sessionService.ActiveRef(c.Request.Context(), p.UserID)
	if err != nil {
		fail(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("user_id", p.UserID).
		Str("session_id", ref.SessionID.String()).
		Logger()
	wsLog.Info().Msg("Participant connected")

	for {
		action, raw, err := ws.ReadMessage(conn)
		if err != nil {
			var closeErr *websocket.CloseError
			switch {
			case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure):
				wsLog.Warn().Err(err).Msg("Unexpected close")
			case errors.As(err, &closeErr):
				wsLog.Debug().Msg("Connection closed")
			case raw != nil:
				// Readable frame, unreadable JSON: keep the connection.
				_ = ws.WriteError(conn, string(response.ErrInvalidPayload), response.GetMessage(response.ErrInvalidPayload))
				continue
			default:
				wsLog.Debug().Err(err).Msg("Connection closed")
			}
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), wsOpTimeout)
		done := h.dispatch(ctx, conn, wsLog, p, action, raw)
		cancel()
		if done {
			return
		}
	}
}

// dispatch handles one message and reports whether the stream should end.
func (h *WSHandler) dispatch(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, p service.Participant, action ws.Action, raw []byte) bool {
	switch action {
	case ws.ActionPing:
		_ = ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})

	case ws.ActionAutosave:
		var msg ws.AutosaveRequest
		if !decode(conn, raw, &msg) {
			return false
		}
		h.autosave(ctx, conn, p, model.AutosaveRequest{Position: msg.Position, Answer: msg.Answer})

	case ws.ActionFlag:
		var msg ws.FlagRequest
		if !decode(conn, raw, &msg) {
			return false
		}
		h.autosave(ctx, conn, p, model.AutosaveRequest{Position: msg.Position, Flagged: msg.Flagged})

	case ws.ActionView:
		var msg ws.ViewRequest
		if !decode(conn, raw, &msg) {
			return false
		}
		h.autosave(ctx, conn, p, model.AutosaveRequest{Position: msg.Position, Viewed: true})

	case ws.ActionViolation:
		var msg ws.ViolationRequest
		if !decode(conn, raw, &msg) {
			return false
		}
		if err := h.violationService.Report(ctx, p, msg.ReportViolationRequest); err != nil {
			writeServiceError(conn, err)
			return false
		}
		_ = ws.WriteTyped(conn, ws.RecordedResponse{Event: ws.EventRecorded})

	case ws.ActionFinish:
		var msg ws.FinishRequest
		if !decode(conn, raw, &msg) {
			return false
		}
		hint := uuid.Nil
		if msg.SessionID != nil {
			hint = *msg.SessionID
		}
		out, err := h.finalizeService.Finish(ctx, p, msg.Progress(), hint)
		if err != nil {
			wsLog.Warn().Err(err).Msg("Finish failed")
			writeServiceError(conn, err)
			return false
		}
		_ = ws.WriteTyped(conn, finishedResponse(out))
		return true

	default:
		wsLog.Warn().Str("action", string(action)).Msg("Unknown action")
		_ = ws.WriteError(conn, string(response.ErrInvalidPayload), "unknown action: "+string(action))
	}
	return false
}

func (h *WSHandler) autosave(ctx context.Context, conn *websocket.Conn, p service.Participant, req model.AutosaveRequest) {
	res, err := h.sessionService.Autosave(ctx, p, req)
	if err != nil {
		writeServiceError(conn, err)
		return
	}
	_ = ws.WriteTyped(conn, ws.SavedResponse{
		Event:    ws.EventSaved,
		Position: req.Position,
		Answered: res.Answered,
		Total:    res.Total,
	})
}

func decode(conn *websocket.Conn, raw []byte, dst interface{}) bool {
	if err := ws.Decode(raw, dst); err != nil {
		_ = ws.WriteError(conn, string(response.ErrInvalidPayload), response.GetMessage(response.ErrInvalidPayload))
		return false
	}
	if fields := validator.Struct(dst); fields != nil {
		_ = ws.WriteError(conn, string(response.ErrValidation), response.GetMessage(response.ErrValidation))
		return false
	}
	return true
}

func writeServiceError(conn *websocket.Conn, err error) {
	_, code := classify(err)
	_ = ws.WriteError(conn, string(code), response.GetMessage(code))
}

func finishedResponse(out *service.FinishOutcome) ws.FinishedResponse {
	res := out.Result
	msg := ws.FinishedResponse{
		Event:         ws.EventFinished,
		ResultID:      res.ID.String(),
		GradingStatus: res.GradingStatus,
	}
	if res.GradingStatus != model.GradingStatusPendingReview {
		score := res.Score
		msg.Score = &score
		msg.Status = res.Status
	}
	return msg
}
