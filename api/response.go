package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/miniclaw/miniclaw/types"
)

// Response is the envelope for every API reply.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ErrorInfo carries a structured error to the client.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data, Timestamp: time.Now()})
}

func respondCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Response{Success: true, Data: data, Timestamp: time.Now()})
}

func respondError(c *gin.Context, err error) {
	structured := types.AsError(err, types.ErrInternalError)
	c.JSON(httpStatusFor(structured.Code), Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      string(structured.Code),
			Message:   structured.Message,
			Retryable: structured.Retryable,
		},
		Timestamp: time.Now(),
	})
}

func respondNotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, Response{
		Success:   false,
		Error:     &ErrorInfo{Code: "NOT_FOUND", Message: message},
		Timestamp: time.Now(),
	})
}

func httpStatusFor(code types.ErrorCode) int {
	switch code {
	case types.ErrRecipeInvalid, types.ErrDuplicateStep, types.ErrUnknownDependency,
		types.ErrSelfDependency, types.ErrCyclicDependency, types.ErrInvalidParallelism,
		types.ErrInvalidRequest:
		return http.StatusBadRequest
	case types.ErrAuthentication:
		return http.StatusUnauthorized
	case types.ErrRateLimited:
		return http.StatusTooManyRequests
	case types.ErrProviderUnavailable, types.ErrUpstreamTimeout, types.ErrUpstreamError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
