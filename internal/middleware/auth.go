// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"net/http"
	"strings"
)

// TokenValidator validates a bearer token and returns the customer id it
// carries. Implemented by auth.JWTService via a small adapter in main.
type TokenValidator interface {
	CustomerIDFromToken(token string) (string, error)
}

// Auth validates the Authorization bearer token and stores the customer id
// in the request context. Requests without a token pass through
// unauthenticated; handlers that require auth check GetCustomerID themselves,
// since checkout also serves guests.
func Auth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				http.Error(w, "invalid authorization header", http.StatusUnauthorized)
				return
			}

			customerID, err := validator.CustomerIDFromToken(token)
			if err != nil {
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := SetCustomerID(r.Context(), customerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
