package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"mahainsight.org/internal/session"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/register",
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/v1/auth/logout",
	"/v1/auth/session",
	"/v1/auth/google/login",
	"/v1/auth/google/callback",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

// withAuth authenticates every non-public request from the access cookie,
// falling back to a bearer header for non-browser clients, and attaches the
// identity to the context.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		raw := cookieValue(r, accessCookie)
		if raw == "" {
			var err error
			raw, err = extractBearerToken(r.Header.Get(authHeader))
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, codeUnauthenticated, err.Error())
				return
			}
		}

		id, err := a.sessions.Authenticate(r.Context(), raw)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(session.ContextWithIdentity(r.Context(), id)))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing credential")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing credential")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
