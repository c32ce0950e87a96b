package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/certify-backend/internal/response"
	"github.com/stemsi/certify-backend/internal/service"
)

// errorStatus maps a service error to its HTTP status and error code.
func errorStatus(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrInvalidAnswer):
		return http.StatusBadRequest, response.ErrInvalidAnswer
	case errors.Is(err, service.ErrCredentialInvalid):
		return http.StatusUnauthorized, response.ErrAttemptSessionRequired
	case errors.Is(err, service.ErrExamNotFound):
		return http.StatusNotFound, response.ErrExamNotFound
	case errors.Is(err, service.ErrAttemptNotFound):
		return http.StatusNotFound, response.ErrAttemptNotFound
	case errors.Is(err, service.ErrAttemptAlreadyExists):
		return http.StatusConflict, response.ErrAttemptAlreadyExists
	case errors.Is(err, service.ErrAttemptGraded):
		return http.StatusConflict, response.ErrAttemptGraded
	case errors.Is(err, service.ErrAttemptNotGraded):
		return http.StatusConflict, response.ErrAttemptNotGraded
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

// failWithError writes the envelope for err. Unexpected errors are logged
// and never leak their message to the client.
func failWithError(c *gin.Context, log zerolog.Logger, err error) {
	status, code := errorStatus(err)
	switch {
	case status == http.StatusInternalServerError:
		reqID, _ := c.Get(response.ContextKeyRequestID)
		log.Error().Err(err).Interface("request_id", reqID).Str("path", c.FullPath()).Msg("Request failed")
		response.Fail(c, status, code)
	case code == response.ErrInvalidAnswer:
		response.FailWithMessage(c, status, code, err.Error())
	default:
		response.Fail(c, status, code)
	}
}
