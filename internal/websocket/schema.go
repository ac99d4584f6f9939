package websocket

import "github.com/stemsi/exstem-proctor/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave  Action = "autosave"
	ActionFlag      Action = "flag"
	ActionView      Action = "view"
	ActionViolation Action = "violation"
	ActionFinish    Action = "finish"
	ActionPing      Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AutosaveRequest saves or clears the answer at one position.
type AutosaveRequest struct {
	Action   Action        `json:"action"`
	Position int           `json:"position" binding:"min=0"`
	Answer   *model.Answer `json:"answer" binding:"required"`
}

// FlagRequest marks or unmarks a position for review.
type FlagRequest struct {
	Action   Action `json:"action"`
	Position int    `json:"position" binding:"min=0"`
	Flagged  *bool  `json:"flagged" binding:"required"`
}

// ViewRequest records that the participant opened a question.
type ViewRequest struct {
	Action   Action `json:"action"`
	Position int    `json:"position" binding:"min=0"`
}

// ViolationRequest reports a client-detected proctoring violation.
type ViolationRequest struct {
	Action Action `json:"action"`
	model.ReportViolationRequest
}

// FinishRequest submits the final answer set.
type FinishRequest struct {
	Action Action `json:"action"`
	model.FinishRequest
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError    Event = "error"
	EventSaved    Event = "saved"
	EventRecorded Event = "recorded"
	EventFinished Event = "finished"
	EventPong     Event = "pong"
)

type SavedResponse struct {
	Event    Event `json:"event"`
	Position int   `json:"position"`
	Answered int   `json:"answered"`
	Total    int   `json:"total"`
}

type RecordedResponse struct {
	Event Event `json:"event"`
}

// FinishedResponse carries the score only when it is final; results pending essay
// review report the grading status instead.
type FinishedResponse struct {
	Event         Event               `json:"event"`
	ResultID      string              `json:"result_id"`
	Status        string              `json:"status"`
	GradingStatus model.GradingStatus `json:"grading_status"`
	Score         *float64            `json:"score,omitempty"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
