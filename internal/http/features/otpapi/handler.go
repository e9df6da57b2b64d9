// Package otpapi is the third-party verification API, authenticated by
// API key.
package otpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chatverify/chatverify/internal/domain"
	"github.com/chatverify/chatverify/internal/http/middleware"
	"github.com/chatverify/chatverify/internal/httputil"
	"github.com/chatverify/chatverify/internal/otp"
	"github.com/chatverify/chatverify/internal/phone"
)

// Handler handles verification endpoints.
type Handler struct {
	logger      *slog.Logger
	coordinator *otp.Coordinator
	service     *otp.Service
}

// NewHandler creates a new verification API handler.
func NewHandler(logger *slog.Logger, coordinator *otp.Coordinator, service *otp.Service) *Handler {
	return &Handler{
		logger:      logger,
		coordinator: coordinator,
		service:     service,
	}
}

// SendRequest is the body of send and resend calls.
type SendRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	ServiceName string `json:"serviceName,omitempty"`
}

// VerifyRequest is the body of a verify call. Either requestId or
// phoneNumber identifies the request.
type VerifyRequest struct {
	PhoneNumber string `json:"phoneNumber,omitempty"`
	RequestID   string `json:"requestId,omitempty"`
	Code        string `json:"code"`
}

// Send starts a verification.
// POST /otp/send
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	h.startVerification(w, r, false)
}

// Resend starts a fresh verification for the same phone, subject to the
// minimum gap between requests.
// POST /otp/resend
func (h *Handler) Resend(w http.ResponseWriter, r *http.Request) {
	h.startVerification(w, r, true)
}

func (h *Handler) startVerification(w http.ResponseWriter, r *http.Request, resend bool) {
	client, ok := middleware.GetClient(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PhoneNumber == "" {
		httputil.Error(w, http.StatusBadRequest, "phone number is required")
		return
	}

	var result *otp.StartResult
	var err error
	if resend {
		result, err = h.coordinator.Resend(r.Context(), req.PhoneNumber, client, req.ServiceName)
	} else {
		result, err = h.coordinator.StartVerification(r.Context(), req.PhoneNumber, client, req.ServiceName)
	}
	if err != nil {
		var throttled *domain.ThrottledError
		switch {
		case errors.Is(err, domain.ErrInvalidPhoneNumber):
			httputil.Error(w, http.StatusBadRequest, "invalid phone number format. use E.164 format (e.g., +12125550123)")
		case errors.As(err, &throttled):
			httputil.JSON(w, http.StatusTooManyRequests, map[string]any{
				"success":     false,
				"error":       "please wait before requesting a new code",
				"waitSeconds": throttled.RetryAfter,
			})
		case errors.Is(err, domain.ErrRateLimited):
			httputil.Error(w, http.StatusTooManyRequests, "rate limit exceeded. max 100 requests per phone per hour")
		default:
			h.logger.Error("failed to start verification", "error", err)
			httputil.Error(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	resp := map[string]any{
		"success":     true,
		"requestId":   result.Request.ID,
		"phoneNumber": result.Request.PhoneNumber,
		"expiresAt":   result.Request.ExpiresAt.Format(time.RFC3339),
		"otpSent":     result.DeliveredProactively,
	}
	if result.DeliveredProactively {
		resp["message"] = "code sent directly to user's Telegram. no bot visit needed"
	} else {
		resp["botLink"] = result.BotLink
		resp["message"] = "direct user to open the Telegram bot and share their contact"
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// Verify checks a submitted code.
// POST /otp/verify
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	client, ok := middleware.GetClient(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" || (req.PhoneNumber == "" && req.RequestID == "") {
		httputil.Error(w, http.StatusBadRequest, "code and either phoneNumber or requestId are required")
		return
	}

	matcher := otp.Matcher{ClientID: client.ID}
	if req.RequestID != "" {
		id, err := uuid.Parse(req.RequestID)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid requestId")
			return
		}
		matcher.RequestID = &id
	} else {
		normalized, err := phone.Normalize(req.PhoneNumber)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid phone number format")
			return
		}
		matcher.PhoneNumber = normalized
	}

	verified, err := h.service.Verify(r.Context(), matcher, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrCodeExpired):
			httputil.Error(w, http.StatusBadRequest, "code has expired")
		case errors.Is(err, domain.ErrTooManyAttempts):
			httputil.Error(w, http.StatusBadRequest, "too many incorrect attempts. request a new code")
		case errors.Is(err, domain.ErrInvalidCode):
			httputil.Error(w, http.StatusBadRequest, "invalid code")
		default:
			h.logger.Error("failed to verify code", "error", err)
			httputil.Error(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"phoneNumber": verified.PhoneNumber,
		"verifiedAt":  verified.VerifiedAt.Format(time.RFC3339),
		"message":     "phone number verified successfully",
	})
}

// Status reports the state of a request.
// GET /otp/status/{requestID}
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	client, ok := middleware.GetClient(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request id")
		return
	}

	req, err := h.service.GetStatus(r.Context(), id, client.ID)
	if errors.Is(err, domain.ErrRequestNotFound) {
		httputil.Error(w, http.StatusNotFound, "request not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get request status", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := map[string]any{
		"success":     true,
		"requestId":   req.ID,
		"phoneNumber": req.PhoneNumber,
		"status":      req.Status,
		"expiresAt":   req.ExpiresAt.Format(time.RFC3339),
		"verifiedAt":  nil,
	}
	if req.VerifiedAt != nil {
		resp["verifiedAt"] = req.VerifiedAt.Format(time.RFC3339)
	}
	httputil.JSON(w, http.StatusOK, resp)
}
