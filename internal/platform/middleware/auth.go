package middleware

import (
	"log/slog"
	"net/http"
	"strings"
)

// AdminTokenValidator validates an operator bearer token.
type AdminTokenValidator interface {
	ValidateToken(tokenString string) error
}

// RequireAdmin guards the operator surface. Requests without a valid
// bearer token get 401 and a JSON envelope; nothing downstream runs.
func RequireAdmin(validator AdminTokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(r.Context(), "admin request without bearer token",
					"request_id", GetRequestID(r.Context()),
					"path", r.URL.Path,
				)
				writeUnauthorized(w, "Missing or invalid Authorization header")
				return
			}
			if err := validator.ValidateToken(token); err != nil {
				logger.WarnContext(r.Context(), "admin request with invalid token",
					"request_id", GetRequestID(r.Context()),
					"error", err,
				)
				writeUnauthorized(w, "Invalid or expired token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
