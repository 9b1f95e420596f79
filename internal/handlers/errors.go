package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/chamada/internal/logging"
	"github.com/example/chamada/internal/usecase"
)

// statusFor maps use case errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case usecase.IsValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, usecase.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, usecase.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, usecase.ErrDuplicateFace),
		errors.Is(err, usecase.ErrEmailTaken),
		errors.Is(err, usecase.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, usecase.ErrExtractorUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// clientErrors are reported to callers by their own message, without the
// context layers wrapped around them on the way up.
var clientErrors = []error{
	usecase.ErrInvalidCredentials,
	usecase.ErrNotFound,
	usecase.ErrDuplicateFace,
	usecase.ErrEmailTaken,
	usecase.ErrSessionClosed,
	usecase.ErrExtractorUnavailable,
}

// clientMessage returns the text safe to put in a 4xx body.
func clientMessage(err error) string {
	for _, target := range clientErrors {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	var opErr *logging.OperationError
	for errors.As(err, &opErr) && opErr.Err != nil {
		err = opErr.Err
	}
	return err.Error()
}

func (h *handler) fail(c *gin.Context, operation string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logging.WithOperation(h.logger, operation, logging.RequestIDFromContext(c.Request.Context())).
			Error("request failed", zap.String("failed_operation", logging.OperationOf(err)), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": clientMessage(err)})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message})
}
