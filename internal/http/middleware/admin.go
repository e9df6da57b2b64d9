package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/chatverify/chatverify/internal/httputil"
)

// Admin gates a route group behind the shared operator secret in the
// X-Admin-Key header.
func Admin(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-Admin-Key")
			if subtle.ConstantTimeCompare([]byte(key), []byte(secret)) != 1 {
				httputil.Error(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
