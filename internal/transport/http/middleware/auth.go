package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/emanuelef/yt-archiver/internal/domain"
)

const apiTokenHeader = "X-API-Token"

// TokenAuthMiddleware rejects requests that do not carry token either as a
// bearer Authorization header, an X-API-Token header or a "token" query
// parameter (the last one is for WebSocket clients). An empty token disables
// the check.
func TokenAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := requestToken(r)
			if got == "" {
				writeError(w, http.StatusUnauthorized, "api token required", "TOKEN_MISSING")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				slog.Warn("Invalid API token", "ip", GetClientIP(r), "path", r.URL.Path)
				writeError(w, http.StatusForbidden, "invalid api token", "TOKEN_INVALID")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(rest)
		}
	}
	if t := r.Header.Get(apiTokenHeader); t != "" {
		return t
	}
	return r.URL.Query().Get("token")
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(domain.ErrorResponse{Error: message, Code: code})
}
