package auth

import (
	"context"
	"net/http"
	"slices"
	"strings"

	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// ClaimsContextKey is the key for storing operator claims in context
	ClaimsContextKey contextKey = "claims"
)

// AuthMiddleware validates bearer tokens and injects the claims into context
func AuthMiddleware(tm *TokenManager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				pkghttp.WriteUnauthorized(w, "missing authorization header")
				return
			}

			scheme, tokenString, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || tokenString == "" {
				pkghttp.WriteUnauthorized(w, "invalid authorization header format")
				return
			}

			claims, err := tm.ValidateToken(tokenString)
			if err != nil {
				pkghttp.WriteUnauthorized(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects requests whose claims carry none of roles.
// Must be used after AuthMiddleware.
func RequireRole(roles ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromContext(r)
			if claims == nil {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}

			if claims.Role == "" || !slices.Contains(roles, claims.Role) {
				pkghttp.WriteForbidden(w, "forbidden: insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin chains token validation and the role check
func RequireAdmin(tm *TokenManager, role string) func(next http.Handler) http.Handler {
	authenticate := AuthMiddleware(tm)
	authorize := RequireRole(role)
	return func(next http.Handler) http.Handler {
		return authenticate(authorize(next))
	}
}

// RequireService admits tokens minted for calling services as well as
// admin tokens. An empty serviceRole admits admins only.
func RequireService(tm *TokenManager, serviceRole, adminRole string) func(next http.Handler) http.Handler {
	roles := []string{adminRole}
	if serviceRole != "" {
		roles = append(roles, serviceRole)
	}
	authenticate := AuthMiddleware(tm)
	authorize := RequireRole(roles...)
	return func(next http.Handler) http.Handler {
		return authenticate(authorize(next))
	}
}

// GetClaimsFromContext extracts operator claims from request context
func GetClaimsFromContext(r *http.Request) *Claims {
	claims, ok := r.Context().Value(ClaimsContextKey).(*Claims)
	if !ok {
		return nil
	}
	return claims
}
