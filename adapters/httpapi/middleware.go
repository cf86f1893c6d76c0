package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/99souls/ocr-gateway/gateway/telemetry/logging"
)

// requireAuth gates next behind the configured admin credential, accepted as
// an X-Api-Key header, an Authorization: Bearer header, or an api-key
// cookie. Comparison against key is constant-time.
func requireAuth(key string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !credentialMatches(r, key) {
			http.Error(w, "Not authorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func credentialMatches(r *http.Request, key string) bool {
	candidates := make([]string, 0, 3)
	if v := r.Header.Get("X-Api-Key"); v != "" {
		candidates = append(candidates, v)
	}
	if v := r.Header.Get("Authorization"); strings.HasPrefix(v, "Bearer ") {
		candidates = append(candidates, strings.TrimPrefix(v, "Bearer "))
	}
	if c, err := r.Cookie("api-key"); err == nil {
		candidates = append(candidates, c.Value)
	}
	for _, c := range candidates {
		if subtle.ConstantTimeCompare([]byte(c), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

// recoverMiddleware converts a panic in next into a 500 response instead of
// crashing the listener goroutine.
func recoverMiddleware(logger logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.ErrorCtx(r.Context(), "panic handling request", "path", r.URL.Path, "panic", rec)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
