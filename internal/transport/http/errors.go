package http

import (
	"errors"
	"net/http"

	"live-quiz-engine/internal/domain"

	"github.com/gin-gonic/gin"
)

const reasonInvalidRequest = "INVALID_REQUEST"

// statusFor maps engine errors onto HTTP statuses. Rejected submissions and
// lifecycle conflicts are 409 so clients can tell them from bad input.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrParticipantNotFound),
		errors.Is(err, domain.ErrQuestionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidAnswer),
		errors.Is(err, domain.ErrInvalidConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case domain.IsRejection(err),
		errors.Is(err, domain.ErrIllegalTransition),
		errors.Is(err, domain.ErrAlreadyStarted),
		errors.Is(err, domain.ErrJoinClosed),
		errors.Is(err, domain.ErrNotOwner):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func errorBody(err error) domain.ErrorPayload {
	return domain.ErrorPayload{Reason: domain.ReasonCode(err), Message: err.Error()}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), errorBody(err))
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, domain.ErrorPayload{Reason: reasonInvalidRequest, Message: err.Error()})
}
