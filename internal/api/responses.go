// Package api exposes import, classification and catalog operations over HTTP.
package api

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// ErrorCode identifies an error class in API responses.
type ErrorCode string

// Error codes.
const (
	CodeAuthRequired         ErrorCode = "AUTH_REQUIRED"
	CodeValidation           ErrorCode = "VALIDATION_ERROR"
	CodeFileRequired         ErrorCode = "FILE_REQUIRED"
	CodeFileTooLarge         ErrorCode = "FILE_TOO_LARGE"
	CodeUnsupportedMediaType ErrorCode = "UNSUPPORTED_MEDIA_TYPE"
	CodeNoTransactions       ErrorCode = "NO_TRANSACTIONS"
	CodeClassification       ErrorCode = "CLASSIFICATION_FAILED"
	CodeNotFound             ErrorCode = "NOT_FOUND"
	CodeUnavailable          ErrorCode = "SERVICE_UNAVAILABLE"
	CodeInternal             ErrorCode = "INTERNAL_ERROR"
)

const genericErrorMessage = "An internal error occurred"

// Response is the envelope of every API reply.
type Response struct {
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
	Success bool       `json:"success"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Details any       `json:"details,omitempty"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	TraceID string    `json:"traceId,omitempty"`
}

// SendData writes a success envelope.
func SendData(c echo.Context, status int, data any) error {
	return c.JSON(status, Response{Success: true, Data: data})
}

// SendError writes a client error envelope.
func SendError(c echo.Context, status int, code ErrorCode, message string, details any) error {
	return c.JSON(status, Response{
		Error: &ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
			TraceID: GetTraceID(c),
		},
	})
}

// SendSystemError logs err and writes a generic 500 envelope that reveals
// nothing about it.
func SendSystemError(c echo.Context, logger *slog.Logger, err error) error {
	logger.Error("Request failed",
		"trace_id", GetTraceID(c),
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"error", err)
	return SendError(c, http.StatusInternalServerError, CodeInternal, genericErrorMessage, nil)
}
