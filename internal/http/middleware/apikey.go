package middleware

import (
	"context"
	"net/http"

	"github.com/chatverify/chatverify/internal/auth"
	"github.com/chatverify/chatverify/internal/domain"
	"github.com/chatverify/chatverify/internal/httputil"
	"github.com/chatverify/chatverify/internal/repository"
)

// APIKey authenticates third-party clients via the X-API-Key header. Keys are
// looked up by hash; the raw key is never stored.
func APIKey(clients *repository.APIClientsRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				httputil.Error(w, http.StatusUnauthorized, "missing API key. include 'X-API-Key' header")
				return
			}

			client, err := clients.GetByKeyHash(r.Context(), auth.HashAPIKey(key))
			if err != nil || !client.IsActive {
				httputil.Error(w, http.StatusUnauthorized, "invalid or inactive API key")
				return
			}

			ctx := context.WithValue(r.Context(), ClientKey, client)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClient extracts the authenticated API client from the request context.
func GetClient(ctx context.Context) (*domain.APIClient, bool) {
	client, ok := ctx.Value(ClientKey).(*domain.APIClient)
	return client, ok
}
