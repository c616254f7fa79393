package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Admin returns middleware that guards operator endpoints with a Bearer token
// in the Authorization header or a static key in the X-API-Key header. If
// apiKey is empty every request is refused, so admin routes stay closed until
// a key is configured.
func Admin(apiKey string) func(http.Handler) http.Handler {
	return bearer(apiKey, false)
}

// Cron returns middleware that guards the scheduler endpoint with the cron
// secret. If secret is empty the endpoint is open.
func Cron(secret string) func(http.Handler) http.Handler {
	return bearer(secret, true)
}

func bearer(secret string, openWhenUnset bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				if openWhenUnset {
					next.ServeHTTP(w, r)
					return
				}
				writeJSONError(w, http.StatusServiceUnavailable, "admin_disabled", "admin API key is not configured")
				return
			}

			token := extractToken(r)
			if token == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing_token", "missing authentication token")
				return
			}

			// Constant-time comparison to prevent timing attacks.
			if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				writeJSONError(w, http.StatusUnauthorized, "invalid_token", "invalid authentication token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}

	return ""
}

// writeJSONError sends an error response in the same shape the handlers use.
func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `","code":"` + code + `"}`))
}
