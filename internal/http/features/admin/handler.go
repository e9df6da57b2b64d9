// Package admin exposes operator endpoints behind the shared admin secret.
package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chatverify/chatverify/internal/auth"
	"github.com/chatverify/chatverify/internal/domain"
	"github.com/chatverify/chatverify/internal/httputil"
	"github.com/chatverify/chatverify/internal/repository"
)

// Handler handles admin endpoints.
type Handler struct {
	logger   *slog.Logger
	users    *repository.UsersRepository
	clients  *repository.APIClientsRepository
	requests *repository.OTPRequestsRepository
}

// NewHandler creates a new admin handler.
func NewHandler(logger *slog.Logger, users *repository.UsersRepository, clients *repository.APIClientsRepository, requests *repository.OTPRequestsRepository) *Handler {
	return &Handler{
		logger:   logger,
		users:    users,
		clients:  clients,
		requests: requests,
	}
}

// CreateClientRequest provisions a client for an existing user.
type CreateClientRequest struct {
	Name       string  `json:"name"`
	UserID     string  `json:"userId"`
	WebhookURL *string `json:"webhookUrl,omitempty"`
}

// CreateClient provisions a client on behalf of a user.
// POST /admin/clients
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req CreateClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		httputil.Error(w, http.StatusBadRequest, "client name is required")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "user ID is required")
		return
	}

	if _, err := h.users.GetByID(r.Context(), userID); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			httputil.Error(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Error("failed to load user", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	rawKey, keyHash, keyPrefix, err := auth.GenerateAPIKey()
	if err != nil {
		h.logger.Error("failed to generate api key", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	client := &domain.APIClient{
		ID:         uuid.New(),
		UserID:     userID,
		Name:       req.Name,
		APIKeyHash: keyHash,
		KeyPrefix:  keyPrefix,
		WebhookURL: req.WebhookURL,
		IsActive:   true,
		CreatedAt:  time.Now(),
	}
	if err := h.clients.Create(r.Context(), client); err != nil {
		h.logger.Error("failed to create client", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	httputil.JSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"client": map[string]any{
			"id":         client.ID,
			"name":       client.Name,
			"apiKey":     rawKey,
			"webhookUrl": client.WebhookURL,
			"createdAt":  client.CreatedAt.Format(time.RFC3339),
		},
		"message": "save this API key securely - it won't be shown again!",
	})
}

// ListClients lists every client with request totals.
// GET /admin/clients
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.clients.ListAll(r.Context())
	if err != nil {
		h.logger.Error("failed to list clients", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	ids := make([]uuid.UUID, len(clients))
	for i, c := range clients {
		ids[i] = c.ID
	}
	counts, err := h.requests.CountByClient(r.Context(), ids)
	if err != nil {
		h.logger.Error("failed to count requests", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]map[string]any, 0, len(clients))
	for _, c := range clients {
		out = append(out, map[string]any{
			"id":            c.ID,
			"name":          c.Name,
			"keyPrefix":     c.KeyPrefix,
			"webhookUrl":    c.WebhookURL,
			"isActive":      c.IsActive,
			"createdAt":     c.CreatedAt.Format(time.RFC3339),
			"totalRequests": counts[c.ID],
		})
	}

	httputil.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"clients": out,
	})
}

// UpdateClientRequest is a partial client update.
type UpdateClientRequest struct {
	Name       *string `json:"name,omitempty"`
	IsActive   *bool   `json:"isActive,omitempty"`
	WebhookURL *string `json:"webhookUrl,omitempty"`
}

// UpdateClient activates, deactivates, or renames a client.
// PATCH /admin/clients/{clientID}
func (h *Handler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "clientID"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid client id")
		return
	}

	var req UpdateClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	client, err := h.clients.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrClientNotFound) {
		httputil.Error(w, http.StatusNotFound, "client not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load client", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if req.Name != nil && *req.Name != "" {
		client.Name = *req.Name
	}
	if req.IsActive != nil {
		client.IsActive = *req.IsActive
	}
	if req.WebhookURL != nil {
		client.WebhookURL = req.WebhookURL
	}

	if err := h.clients.Update(r.Context(), client); err != nil {
		h.logger.Error("failed to update client", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"client": map[string]any{
			"id":         client.ID,
			"name":       client.Name,
			"isActive":   client.IsActive,
			"webhookUrl": client.WebhookURL,
		},
	})
}

// Stats reports service-wide totals.
// GET /admin/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	totalClients, err := h.clients.Count(r.Context(), false)
	if err != nil {
		h.logger.Error("failed to count clients", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}
	activeClients, err := h.clients.Count(r.Context(), true)
	if err != nil {
		h.logger.Error("failed to count clients", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	countAll := func(status domain.OTPRequestStatus, since *time.Time) int {
		n, err := h.requests.CountAll(r.Context(), status, since)
		if err != nil {
			h.logger.Error("failed to count requests", "error", err)
		}
		return n
	}

	total := countAll("", nil)
	verified := countAll(domain.StatusVerified, nil)

	httputil.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"stats": map[string]any{
			"clients": map[string]any{
				"total":  totalClients,
				"active": activeClients,
			},
			"requests": map[string]any{
				"total":            total,
				"today":            countAll("", &today),
				"thisMonth":        countAll("", &thisMonth),
				"verified":         verified,
				"verificationRate": rate(verified, total),
			},
		},
	})
}

func rate(verified, total int) string {
	if total == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.1f%%", float64(verified)/float64(total)*100)
}
