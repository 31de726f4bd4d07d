package api

import (
	"errors"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/tigerroll/promptbatch/pkg/batch/component/step/reader"
	"github.com/tigerroll/promptbatch/pkg/batch/core/application/usecase"
	repository "github.com/tigerroll/promptbatch/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/promptbatch/pkg/batch/support/util/exception"
)

// statusFor maps an operator error onto an HTTP status code.
func statusFor(err error) int {
	switch {
	case exception.IsValidationError(err), errors.Is(err, reader.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, usecase.ErrTaskAlreadyRunning), errors.Is(err, usecase.ErrTaskNotActive):
		return http.StatusConflict
	case errors.Is(err, repository.ErrTaskNotFound),
		errors.Is(err, repository.ErrFileNotFound),
		errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {"error": message} with the mapped status. Server errors
// are also recorded on the context for the request log.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": exception.ExtractErrorMessage(err)})
}

func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message})
}
