// ABOUTME: Bearer token extraction from the Authorization header
// ABOUTME: Shared by the login/verify handlers and the dispatch pipeline

package auth

import (
	"strings"
)

// ExtractBearer extracts a bearer token from an Authorization header value.
// Returns the token and an error message (empty if successful).
func ExtractBearer(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}
