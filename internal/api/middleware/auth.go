// Package middleware provides the chi middleware chain for the
// tracker's debug/status HTTP API, adapted from the wider pack's
// bearer-token pattern (internal/api/middleware/auth.go,
// internal/services/auth.go) but trimmed to the single claim this
// API actually needs: who is allowed to reconfigure a running
// tracker.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const claimsKey contextKey = "posetrack_claims"

// Claims is the minimal claim set the status API checks: the subject
// making the request and whether it may call mutating endpoints
// (Reconfigure).
type Claims struct {
	jwt.RegisteredClaims
	CanReconfigure bool `json:"can_reconfigure"`
}

// RequireAuth validates a bearer JWT signed with secret and attaches
// its claims to the request context. Unlike the wider pack's
// multi-tenant AuthService this has no token store to consult — a
// single HMAC secret is enough for a single operator's debug API.
func RequireAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractToken(r)
			if raw == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims := &Claims{}
			_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return secret, nil
			})
			if err != nil || !claims.CanReconfigure {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
		})
	}
}

func extractToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// FromContext returns the claims attached by RequireAuth, if any.
func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok
}
