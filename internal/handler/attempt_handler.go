package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/certify-backend/internal/middleware"
	"github.com/stemsi/certify-backend/internal/model"
	"github.com/stemsi/certify-backend/internal/response"
	"github.com/stemsi/certify-backend/internal/service"
	"github.com/stemsi/certify-backend/internal/validator"
)

// AttemptHandler handles the attempt lifecycle endpoints.
type AttemptHandler struct {
	attemptService *service.AttemptService
	cookie         middleware.SessionCookie
	log            zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attemptService *service.AttemptService, cookie middleware.SessionCookie, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attemptService: attemptService,
		cookie:         cookie,
		log:            log.With().Str("component", "attempt_handler").Logger(),
	}
}

// CreateAttempt godoc
// POST /api/v1/attempts
// Opens an attempt and sets the session cookie bound to it.
func (h *AttemptHandler) CreateAttempt(c *gin.Context) {
	var req model.CreateAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	examID, _ := uuid.Parse(req.ExamID)
	studentID, _ := uuid.Parse(req.StudentID)

	attempt, binding, err := h.attemptService.Start(c.Request.Context(), examID, studentID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	h.cookie.Set(c, binding)
	response.Success(c, http.StatusCreated, gin.H{"attempt": attempt})
}

// GetCurrentAttempt godoc
// GET /api/v1/attempts/current
// Returns the attempt bound to the session cookie with its saved answers.
func (h *AttemptHandler) GetCurrentAttempt(c *gin.Context) {
	binding := middleware.GetBinding(c)
	if binding == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrAttemptSessionRequired)
		return
	}

	summary, err := h.attemptService.Current(c.Request.Context(), binding.Credential)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, summary)
}

// SubmitAnswers godoc
// PUT /api/v1/attempts/current/answers
// Writes one batch of selections. A null option_id clears the answer.
func (h *AttemptHandler) SubmitAnswers(c *gin.Context) {
	binding := middleware.GetBinding(c)
	if binding == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrAttemptSessionRequired)
		return
	}

	var req model.SubmitAnswersRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	batch, err := req.Selections()
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.attemptService.SubmitAnswersFor(c.Request.Context(), binding.AttemptID, batch); err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"saved": len(batch)})
}

// GradeAttempt godoc
// POST /api/v1/attempts/grade
// Grades the attempt bound to the session cookie, or the attempt_id in the
// body when no live cookie is present. Responds 202 when grading is deferred.
func (h *AttemptHandler) GradeAttempt(c *gin.Context) {
	var req model.GradeAttemptRequest
	if c.Request.ContentLength != 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	in := service.GradeInput{
		Credential:  h.cookie.Credential(c),
		FinalSubmit: req.FinalSubmit,
	}
	if req.AttemptID != "" {
		in.AttemptID, _ = uuid.Parse(req.AttemptID)
	}

	result, err := h.attemptService.Grade(c.Request.Context(), in)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	if in.FinalSubmit && in.Credential != "" {
		h.cookie.Clear(c)
	}

	status := http.StatusOK
	if result.Status == model.GradeStatusDeferred {
		status = http.StatusAccepted
	}
	response.Success(c, status, result)
}

// GetFeedback godoc
// GET /api/v1/attempts/:attempt_id/feedback
// Returns per-question correctness once the attempt has been graded.
func (h *AttemptHandler) GetFeedback(c *gin.Context) {
	attemptID, ok := validator.ParamUUID(c, "attempt_id")
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	feedback, err := h.attemptService.Feedback(c.Request.Context(), attemptID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, feedback)
}
