package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	// TraceIDHeader is the header carrying the request trace id.
	TraceIDHeader = "X-Trace-ID"

	traceIDKey = "trace_id"
	userIDKey  = "user_id"
)

// HTTPRecorder receives per-request observations.
type HTTPRecorder interface {
	ObserveHTTPRequest(method, route string, status int, duration time.Duration)
}

// RequestID assigns a trace id to each request, reusing the caller's if set.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			traceID := c.Request().Header.Get(TraceIDHeader)
			if traceID == "" {
				traceID = uuid.New().String()
			}
			c.Set(traceIDKey, traceID)
			c.Response().Header().Set(TraceIDHeader, traceID)
			return next(c)
		}
	}
}

// GetTraceID returns the request's trace id, or "" outside RequestID.
func GetTraceID(c echo.Context) string {
	traceID, _ := c.Get(traceIDKey).(string)
	return traceID
}

// UserID returns the authenticated user id.
func UserID(c echo.Context) string {
	userID, _ := c.Get(userIDKey).(string)
	return userID
}

// PanicRecovery turns a handler panic into a generic 500.
func PanicRecovery(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Panic recovered",
						"trace_id", GetTraceID(c),
						"panic", fmt.Sprintf("%v", r),
						"stack_trace", string(debug.Stack()),
						"path", c.Request().URL.Path,
						"method", c.Request().Method)
					err = SendError(c, http.StatusInternalServerError, CodeInternal, genericErrorMessage, nil)
				}
			}()
			return next(c)
		}
	}
}

// RequireAuth rejects requests without a valid bearer credential.
func RequireAuth(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return sendAuthRequired(c)
			}
			userID, err := auth.Authenticate(c.Request().Context(), token)
			if err != nil {
				return sendAuthRequired(c)
			}
			c.Set(userIDKey, userID)
			return next(c)
		}
	}
}

func sendAuthRequired(c echo.Context) error {
	return SendError(c, http.StatusUnauthorized, CodeAuthRequired, "Authentication required", nil)
}

// Instrument records method, route, status and latency of every request.
func Instrument(recorder HTTPRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			recorder.ObserveHTTPRequest(c.Request().Method, route, c.Response().Status, time.Since(start))
			return nil
		}
	}
}

// errorHandler formats errors that escape handlers, such as unknown routes.
func errorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var sendErr error
		if he, ok := err.(*echo.HTTPError); ok {
			code := CodeInternal
			switch he.Code {
			case http.StatusNotFound, http.StatusMethodNotAllowed:
				code = CodeNotFound
			case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
				code = CodeValidation
			case http.StatusUnauthorized:
				code = CodeAuthRequired
			}
			message := http.StatusText(he.Code)
			if he.Code < http.StatusInternalServerError {
				message = fmt.Sprintf("%v", he.Message)
			}
			sendErr = SendError(c, he.Code, code, message, nil)
		} else {
			sendErr = SendSystemError(c, logger, err)
		}

		if sendErr != nil {
			logger.Error("Failed to send error response",
				"trace_id", GetTraceID(c),
				"error", sendErr)
		}
	}
}
