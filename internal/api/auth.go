package api

import (
	"context"
	"errors"
	"strings"
)

// ErrUnauthenticated is returned when a credential does not map to a user.
var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator resolves a bearer credential to a user id. Session handling
// lives outside this service; implementations adapt whatever issues tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// StaticTokens authenticates against a fixed token → user id table.
type StaticTokens map[string]string

// Authenticate implements Authenticator.
func (s StaticTokens) Authenticate(_ context.Context, token string) (string, error) {
	userID, ok := s[token]
	if !ok || token == "" || userID == "" {
		return "", ErrUnauthenticated
	}
	return userID, nil
}

// bearerToken extracts the credential from an Authorization header value.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
