package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"ngoportal.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var errNoToken = errors.New("missing bearer token")

// protect requires a valid token for an active account and, when roles are
// given, at least one of them. Credential and roles are re-read per request.
func (a *API) protect(roles ...string) func(http.HandlerFunc) http.Handler {
	return func(next http.HandlerFunc) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := extractBearerToken(r.Header.Get(authHeader))
			if err != nil {
				a.fail(w, r, http.StatusUnauthorized, "Access denied. No token provided.", nil)
				return
			}
			id, err := a.auth.Authenticate(r.Context(), token, roles)
			if err != nil {
				a.writeServiceError(w, r, err, "Authentication failed")
				return
			}
			ctx := auth.ContextWithIdentity(r.Context(), id)
			ctx = auth.ContextWithToken(ctx, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errNoToken
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errNoToken
	}
	return token, nil
}
