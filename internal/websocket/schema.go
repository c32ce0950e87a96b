package websocket

import "github.com/stemsi/certify-backend/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AutosaveRequest carries one debounced batch of selections.
type AutosaveRequest struct {
	Action  Action              `json:"action"`
	Answers []model.AnswerInput `json:"answers" binding:"required,min=1,max=500,dive"`
}

// SubmitRequest finishes the attempt and grades it.
type SubmitRequest struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError    Event = "error"
	EventSaved    Event = "saved"
	EventGraded   Event = "graded"
	EventDeferred Event = "deferred"
	EventPong     Event = "pong"
)

type SavedResponse struct {
	Event Event `json:"event"`
	Count int   `json:"count"`
}

type GradedResponse struct {
	Event   Event              `json:"event"`
	Attempt *model.ExamAttempt `json:"attempt"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
