package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/tair/reseller-billing/pkg/auth"
	"github.com/tair/reseller-billing/pkg/logger"
)

// contextKey is a custom type for context keys
type contextKey string

const claimsKey contextKey = "claims"

// AuthMiddleware validates the bearer JWT and stores its claims in the request context
func AuthMiddleware(secret []byte) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				respondJSON(w, http.StatusUnauthorized, Response{
					Success: false,
					Error:   "Authorization header required",
				})
				return
			}

			claims, err := auth.ValidateToken(token, secret)
			if err != nil {
				logger.Warn(r.Context()).Err(err).Msg("Token validation failed")
				respondJSON(w, http.StatusUnauthorized, Response{
					Success: false,
					Error:   "Invalid token",
				})
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		}
	}
}

// AdminMiddleware is AuthMiddleware restricted to the admin role
func AdminMiddleware(secret []byte) func(http.HandlerFunc) http.HandlerFunc {
	authenticate := AuthMiddleware(secret)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return authenticate(func(w http.ResponseWriter, r *http.Request) {
			claims := claimsFrom(r.Context())
			if !claims.IsAdmin() {
				logger.Warn(r.Context()).
					Uint("user_id", claims.UserID).
					Str("role", claims.Role).
					Msg("Admin route rejected")
				respondJSON(w, http.StatusForbidden, Response{
					Success: false,
					Error:   "Admin access required",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SharedSecretMiddleware guards machine routes with a static bearer secret.
// An empty secret rejects every request.
func SharedSecretMiddleware(secret string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok || secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				respondJSON(w, http.StatusUnauthorized, Response{
					Success: false,
					Error:   "Invalid credentials",
				})
				return
			}
			next.ServeHTTP(w, r)
		}
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", false
	}
	return token, true
}

// claimsFrom returns the authenticated claims, or empty claims on unauthenticated routes
func claimsFrom(ctx context.Context) *auth.Claims {
	if claims, ok := ctx.Value(claimsKey).(*auth.Claims); ok {
		return claims
	}
	return &auth.Claims{}
}
