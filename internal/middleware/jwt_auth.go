package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/velouria-skin/api/internal/auth"
)

const (
	// CustomerIDKey is the context key for the authenticated customer's UUID.
	CustomerIDKey contextKey = "customer_id"
	// CustomerClaimsKey is the context key for the full token claims.
	CustomerClaimsKey contextKey = "customer_claims"
)

// RequireCustomerAuth returns middleware that validates a JWT Bearer token
// and injects the customer ID and claims into the request context.
// Unauthenticated requests receive a 401 JSON response.
func RequireCustomerAuth(jwtMgr *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := bearerClaims(jwtMgr, r)
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "invalid or missing token")
				return
			}

			ctx := context.WithValue(r.Context(), CustomerIDKey, claims.CustomerID)
			ctx = context.WithValue(ctx, CustomerClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin returns middleware that additionally requires the is_admin
// claim. Non-admin tokens receive a 403.
func RequireAdmin(jwtMgr *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := bearerClaims(jwtMgr, r)
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "invalid or missing token")
				return
			}
			if !claims.IsAdmin {
				writeJSONError(w, http.StatusForbidden, "admin access required")
				return
			}

			ctx := context.WithValue(r.Context(), CustomerIDKey, claims.CustomerID)
			ctx = context.WithValue(ctx, CustomerClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CustomerFromContext extracts the customer ID from the request context.
// Returns uuid.Nil and false if no customer is authenticated.
func CustomerFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(CustomerIDKey).(uuid.UUID)
	return id, ok
}

func bearerClaims(jwtMgr *auth.JWTManager, r *http.Request) (*auth.CustomerClaims, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, false
	}
	claims, err := jwtMgr.ValidateToken(parts[1])
	if err != nil {
		return nil, false
	}
	return claims, true
}

// writeJSONError writes a JSON error response. Kept local to avoid a
// dependency on the handlers package.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
