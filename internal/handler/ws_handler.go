package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/certify-backend/internal/middleware"
	"github.com/stemsi/certify-backend/internal/model"
	"github.com/stemsi/certify-backend/internal/response"
	"github.com/stemsi/certify-backend/internal/service"
	"github.com/stemsi/certify-backend/internal/validator"
	ws "github.com/stemsi/certify-backend/internal/websocket"
)

// actionTimeout bounds a single autosave or submit. Submit may poll the
// ledger for several seconds before it defers.
const actionTimeout = 30 * time.Second

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

// WSHandler streams autosave batches and the final submission over one connection.
type WSHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attemptService *service.AttemptService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /api/v1/attempts/current/stream
// Upgrades to WebSocket for batched autosave and final submission.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	b := middleware.GetBinding(c)
	if b == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrAttemptSessionRequired)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().Str("attempt_id", b.AttemptID.String()).Logger()
	wsLog.Info().Msg("Client connected")

	for {
		data, err := ws.ReadMessage(conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		var env ws.RequestEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			ws.WriteError(conn, string(response.ErrInvalidPayload), response.GetMessage(response.ErrInvalidPayload))
			continue
		}

		switch env.Action {
		case ws.ActionAutosave:
			h.handleAutosave(conn, wsLog, b.Credential, data)
		case ws.ActionSubmit:
			if h.handleSubmit(conn, wsLog, b.Credential) {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "submitted"),
					time.Now().Add(time.Second))
				return
			}
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(env.Action)).Msg("Unknown action")
			ws.WriteError(conn, string(response.ErrInvalidPayload), "unknown action: "+string(env.Action))
		}
	}
}

// handleAutosave validates and writes one batch of selections.
func (h *WSHandler) handleAutosave(conn *websocket.Conn, wsLog zerolog.Logger, cred service.Credential, data []byte) {
	var req ws.AutosaveRequest
	if err := json.Unmarshal(data, &req); err != nil {
		ws.WriteError(conn, string(response.ErrInvalidPayload), response.GetMessage(response.ErrInvalidPayload))
		return
	}
	if err := binding.Validator.ValidateStruct(&req); err != nil {
		fields := validator.TranslateErrors(err)
		msg, _ := json.Marshal(fields)
		ws.WriteError(conn, string(response.ErrValidation), string(msg))
		return
	}

	batch, err := (&model.SubmitAnswersRequest{Answers: req.Answers}).Selections()
	if err != nil {
		ws.WriteError(conn, string(response.ErrInvalidID), response.GetMessage(response.ErrInvalidID))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	if err := h.attemptService.SubmitAnswers(ctx, cred, batch); err != nil {
		h.writeServiceError(conn, wsLog, err)
		return
	}
	ws.WriteTyped(conn, ws.SavedResponse{Event: ws.EventSaved, Count: len(batch)})
}

// handleSubmit grades with final submission. It reports whether the
// credential was consumed and the stream should close.
func (h *WSHandler) handleSubmit(conn *websocket.Conn, wsLog zerolog.Logger, cred service.Credential) bool {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	result, err := h.attemptService.Grade(ctx, service.GradeInput{Credential: cred, FinalSubmit: true})
	if err != nil {
		h.writeServiceError(conn, wsLog, err)
		return false
	}

	event := ws.EventGraded
	if result.Status == model.GradeStatusDeferred {
		event = ws.EventDeferred
	}
	ws.WriteTyped(conn, ws.GradedResponse{Event: event, Attempt: result.Attempt})
	wsLog.Info().Str("status", string(result.Status)).Msg("Attempt submitted")
	return true
}

func (h *WSHandler) writeServiceError(conn *websocket.Conn, wsLog zerolog.Logger, err error) {
	status, code := errorStatus(err)
	msg := response.GetMessage(code)
	switch {
	case status == http.StatusInternalServerError:
		wsLog.Error().Err(err).Msg("Stream action failed")
	case code == response.ErrInvalidAnswer:
		msg = err.Error()
	}
	ws.WriteError(conn, string(code), msg)
}
