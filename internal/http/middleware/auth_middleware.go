package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/staffhub/presence/internal/http/response"
	"github.com/staffhub/presence/internal/security"
)

type contextKey string

const ClaimsContextKey contextKey = "claims"

func AuthMiddleware(jwtMgr *security.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := resolveClaims(r, jwtMgr)
			if claims == nil {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid session token")
				return
			}
			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SoftAuthMiddleware resolves the ambient credential when present but never
// rejects. The offline beacon path uses it: identity resolution failure
// must still produce an empty success for the departing client.
func SoftAuthMiddleware(jwtMgr *security.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if claims := resolveClaims(r, jwtMgr); claims != nil {
				r = r.WithContext(context.WithValue(r.Context(), ClaimsContextKey, claims))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func resolveClaims(r *http.Request, jwtMgr *security.JWTManager) *security.Claims {
	raw := security.GetCookie(r, security.SessionCookieName)
	if raw == "" {
		auth := r.Header.Get("Authorization")
		if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			raw = strings.TrimSpace(auth[7:])
		}
	}
	if raw == "" {
		return nil
	}
	claims, err := jwtMgr.ParseSessionToken(raw)
	if err != nil {
		return nil
	}
	return claims
}

func ClaimsFromContext(ctx context.Context) (*security.Claims, bool) {
	c, ok := ctx.Value(ClaimsContextKey).(*security.Claims)
	return c, ok
}
