package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Client sends one chat-style completion request to a provider.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	Provider() string
}

// Request is a single-turn completion request.
type Request struct {
	System string
	User   string
}

// StatusError is a non-success HTTP response from a provider.
type StatusError struct {
	Provider   string
	Body       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// isTemporary reports whether err is worth retrying: transport failures and
// temporary status errors are, reply and credential problems are not.
func isTemporary(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var re *ReplyError
	if errors.As(err, &re) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}
