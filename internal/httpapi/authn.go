package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"sanctum.org/internal/auth"
	"sanctum.org/internal/identity"
	"sanctum.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/register",
	"/v1/auth/login",
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/",
}

// withAuth resolves the bearer token to a live principal. Clearance is
// re-read from the identity store on every request so demotions and
// deactivations bite immediately, not at token expiry.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.Method, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		user, err := a.identity.Get(r.Context(), claims.Subject)
		if err != nil {
			if errors.Is(err, identity.ErrNotFound) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}
		if !user.IsActive {
			obs.CountDenial("inactive_account")
			writeError(w, r, http.StatusUnauthorized, "account deactivated")
			return
		}

		principal := auth.Principal{
			UserID:    user.ID,
			Username:  user.Username,
			Clearance: user.ClearanceLevel,
		}
		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
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

// isPublicPath reports whether the route works without a principal.
// Token-bearing invitation routes are public so recruits can inspect and
// redeem before they have an account.
func isPublicPath(method, path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	if method == http.MethodGet || method == http.MethodPost {
		if isTokenPath(path, "/v1/invitations/") || isTokenPath(path, "/v1/covenant/invitations/") {
			return true
		}
	}
	return false
}

func isTokenPath(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	rest := strings.TrimPrefix(path, prefix)
	return rest != "" && !strings.Contains(rest, "/")
}
