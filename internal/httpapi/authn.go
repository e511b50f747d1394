package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"ristoro.dev/internal/auth"
	"ristoro.dev/internal/users"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/metrics",
	"/healthz",
	"/readyz",
}

// withAuth verifies a bearer token when one is sent and provisions the
// caller once per request. Requests without a token continue anonymously; each service decides
// whether that is enough.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get(authHeader)
		if strings.TrimSpace(header) == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(header)
		if err != nil {
			writeErrorCode(w, r, http.StatusUnauthorized, "authentication_required", err.Error())
			return
		}
		claims, err := a.deps.Verifier.Verify(token)
		if err != nil {
			writeErrorCode(w, r, http.StatusUnauthorized, "authentication_required", "invalid token")
			return
		}
		user, err := a.deps.Users.Resolve(r.Context(), claims)
		if err != nil {
			if errors.Is(err, users.ErrBlocked) {
				writeErrorCode(w, r, http.StatusForbidden, "user_blocked", err.Error())
				return
			}
			handleServiceError(w, r, err)
			return
		}

		ctx := users.ContextWithUser(auth.ContextWithClaims(r.Context(), claims), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// claimsOf returns the verified caller or nil.
func claimsOf(r *http.Request) *auth.Claims {
	return auth.ClaimsFromContext(r.Context())
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
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
