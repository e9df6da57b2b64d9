// Package accounts exposes registration, login, and profile endpoints for
// dashboard users.
package accounts

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/chatverify/chatverify/internal/account"
	"github.com/chatverify/chatverify/internal/domain"
	"github.com/chatverify/chatverify/internal/http/middleware"
	"github.com/chatverify/chatverify/internal/httputil"
	"github.com/chatverify/chatverify/internal/otp"
)

// Handler handles account endpoints.
type Handler struct {
	logger   *slog.Logger
	accounts *account.Service
}

// NewHandler creates a new accounts handler.
func NewHandler(logger *slog.Logger, accounts *account.Service) *Handler {
	return &Handler{logger: logger, accounts: accounts}
}

// RegisterRequest is the signup body.
type RegisterRequest struct {
	PhoneNumber  string  `json:"phoneNumber"`
	Password     string  `json:"password"`
	FirstName    string  `json:"firstName"`
	LastName     string  `json:"lastName"`
	ProjectName  string  `json:"projectName"`
	AccountType  string  `json:"accountType"`
	CompanyName  *string `json:"companyName,omitempty"`
	TaxID        *string `json:"taxId,omitempty"`
	DirectorName *string `json:"directorName,omitempty"`
	AcceptTerms  bool    `json:"acceptTerms"`
}

// Register starts a signup.
// POST /users/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PhoneNumber == "" || req.Password == "" || req.FirstName == "" || req.LastName == "" || req.ProjectName == "" {
		httputil.Error(w, http.StatusBadRequest, "all fields are required")
		return
	}
	if !req.AcceptTerms {
		httputil.Error(w, http.StatusBadRequest, "you must accept the terms of service")
		return
	}
	accountType := domain.AccountType(req.AccountType)
	if accountType != domain.AccountTypeIndividual && accountType != domain.AccountTypeLegalEntity {
		httputil.Error(w, http.StatusBadRequest, "account type must be 'individual' or 'legal_entity'")
		return
	}

	result, err := h.accounts.Register(r.Context(), account.RegisterParams{
		PhoneNumber:  req.PhoneNumber,
		Password:     req.Password,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		ProjectName:  req.ProjectName,
		AccountType:  accountType,
		CompanyName:  req.CompanyName,
		TaxID:        req.TaxID,
		DirectorName: req.DirectorName,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidPhoneNumber):
			httputil.Error(w, http.StatusBadRequest, "invalid phone number format. use international format (e.g., +12125550123)")
		case errors.Is(err, domain.ErrWeakPassword):
			httputil.Error(w, http.StatusBadRequest, "password must be at least 8 characters long")
		case errors.Is(err, domain.ErrUserAlreadyExists):
			httputil.Error(w, http.StatusBadRequest, "user with this phone number already exists")
		case errors.Is(err, domain.ErrRateLimited):
			httputil.Error(w, http.StatusTooManyRequests, "too many verification requests. try again later")
		default:
			h.logger.Error("failed to register", "error", err)
			httputil.Error(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	httputil.JSON(w, http.StatusCreated, startResponse(result,
		"code sent to your Telegram. enter it to complete registration",
		"please open our Telegram bot to receive your verification code"))
}

// ResendOTPRequest asks for a fresh platform code.
type ResendOTPRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

// ResendOTP re-sends a registration or reset code.
// POST /users/resend-otp
func (h *Handler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req ResendOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PhoneNumber == "" {
		httputil.Error(w, http.StatusBadRequest, "phone number is required")
		return
	}

	result, err := h.accounts.ResendCode(r.Context(), req.PhoneNumber)
	if err != nil {
		var throttled *domain.ThrottledError
		switch {
		case errors.Is(err, domain.ErrInvalidPhoneNumber):
			httputil.Error(w, http.StatusBadRequest, "invalid phone number format")
		case errors.As(err, &throttled):
			httputil.JSON(w, http.StatusTooManyRequests, map[string]any{
				"success":     false,
				"error":       "please wait before requesting a new code",
				"waitSeconds": throttled.RetryAfter,
			})
		default:
			h.logger.Error("failed to resend code", "error", err)
			httputil.Error(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	httputil.JSON(w, http.StatusOK, startResponse(result,
		"a new code has been sent to your Telegram",
		"please open our Telegram bot to receive your verification code"))
}

// VerifyRegistrationRequest completes a signup.
type VerifyRegistrationRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Code        string `json:"code"`
}

// VerifyRegistration checks the signup code and activates the account.
// POST /users/verify-registration
func (h *Handler) VerifyRegistration(w http.ResponseWriter, r *http.Request) {
	var req VerifyRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PhoneNumber == "" || req.Code == "" {
		httputil.Error(w, http.StatusBadRequest, "phone number and code are required")
		return
	}

	result, err := h.accounts.VerifyRegistration(r.Context(), req.PhoneNumber, req.Code)
	if err != nil {
		h.writeVerifyError(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   result.AccessToken,
		"apiKey":  result.APIKey,
		"user":    userResponse(result.User),
		"message": "registration complete. save your API key securely - it won't be shown again!",
	})
}

// LoginRequest is the login body.
type LoginRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Password    string `json:"password"`
}

// Login authenticates a user.
// POST /users/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PhoneNumber == "" || req.Password == "" {
		httputil.Error(w, http.StatusBadRequest, "phone number and password are required")
		return
	}

	result, err := h.accounts.Login(r.Context(), req.PhoneNumber, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidCredentials):
			httputil.Error(w, http.StatusUnauthorized, "invalid phone number or password")
		case errors.Is(err, domain.ErrAccountDisabled):
			httputil.Error(w, http.StatusForbidden, "account is disabled")
		case errors.Is(err, domain.ErrUserNotVerified):
			httputil.Error(w, http.StatusForbidden, "phone number not verified. complete registration first")
		default:
			h.logger.Error("failed to login", "error", err)
			httputil.Error(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   result.AccessToken,
		"user":    userResponse(result.User),
	})
}

// ForgotPasswordRequest starts a password reset.
type ForgotPasswordRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

// ForgotPassword starts a reset verification. The response does not reveal
// whether the phone has an account.
// POST /users/forgot-password
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PhoneNumber == "" {
		httputil.Error(w, http.StatusBadRequest, "phone number is required")
		return
	}

	result, err := h.accounts.ForgotPassword(r.Context(), req.PhoneNumber)
	if err != nil && !errors.Is(err, domain.ErrInvalidPhoneNumber) {
		var throttled *domain.ThrottledError
		if errors.As(err, &throttled) {
			httputil.JSON(w, http.StatusTooManyRequests, map[string]any{
				"success":     false,
				"error":       "please wait before requesting a new code",
				"waitSeconds": throttled.RetryAfter,
			})
			return
		}
		h.logger.Error("failed to start password reset", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := map[string]any{
		"success": true,
		"message": "if an account exists for this number, a verification code has been sent",
	}
	if result != nil && !result.DeliveredProactively {
		resp["botLink"] = result.BotLink
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// ResetPasswordRequest completes a password reset.
type ResetPasswordRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
}

// ResetPassword checks the reset code and replaces the password.
// POST /users/reset-password
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PhoneNumber == "" || req.Code == "" || req.NewPassword == "" {
		httputil.Error(w, http.StatusBadRequest, "phone number, code, and new password are required")
		return
	}

	if err := h.accounts.ResetPassword(r.Context(), req.PhoneNumber, req.Code, req.NewPassword); err != nil {
		if errors.Is(err, domain.ErrWeakPassword) {
			httputil.Error(w, http.StatusBadRequest, "password must be at least 8 characters long")
			return
		}
		h.writeVerifyError(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "password reset successfully. you can now log in",
	})
}

// ChangePasswordRequest replaces the password of a logged-in user.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ChangePassword replaces the password of the authenticated user.
// POST /users/change-password
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		httputil.Error(w, http.StatusBadRequest, "current and new password are required")
		return
	}

	if err := h.accounts.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidCredentials):
			httputil.Error(w, http.StatusUnauthorized, "current password is incorrect")
		case errors.Is(err, domain.ErrWeakPassword):
			httputil.Error(w, http.StatusBadRequest, "password must be at least 8 characters long")
		default:
			h.logger.Error("failed to change password", "error", err)
			httputil.Error(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "password changed successfully",
	})
}

// GetMe returns the authenticated user's profile.
// GET /users/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    userResponse(user),
	})
}

// UpdateMeRequest is a partial profile update.
type UpdateMeRequest struct {
	FirstName    *string `json:"firstName,omitempty"`
	LastName     *string `json:"lastName,omitempty"`
	ProjectName  *string `json:"projectName,omitempty"`
	CompanyName  *string `json:"companyName,omitempty"`
	TaxID        *string `json:"taxId,omitempty"`
	DirectorName *string `json:"directorName,omitempty"`
}

// UpdateMe applies a partial profile update.
// PATCH /users/me
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req UpdateMeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.accounts.UpdateProfile(r.Context(), userID, account.ProfileUpdate{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		ProjectName:  req.ProjectName,
		CompanyName:  req.CompanyName,
		TaxID:        req.TaxID,
		DirectorName: req.DirectorName,
	})
	if err != nil {
		h.logger.Error("failed to update profile", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    userResponse(user),
	})
}

func (h *Handler) writeVerifyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidPhoneNumber):
		httputil.Error(w, http.StatusBadRequest, "invalid phone number format")
	case errors.Is(err, domain.ErrCodeExpired):
		httputil.Error(w, http.StatusBadRequest, "code has expired. request a new one")
	case errors.Is(err, domain.ErrTooManyAttempts):
		httputil.Error(w, http.StatusBadRequest, "too many incorrect attempts. request a new code")
	case errors.Is(err, domain.ErrInvalidCode):
		httputil.Error(w, http.StatusBadRequest, "invalid code")
	default:
		h.logger.Error("verification failed", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
	}
}

func startResponse(result *otp.StartResult, sentMsg, botMsg string) map[string]any {
	resp := map[string]any{
		"success":     true,
		"requestId":   result.Request.ID,
		"phoneNumber": result.Request.PhoneNumber,
		"expiresAt":   result.Request.ExpiresAt.Format(time.RFC3339),
		"otpSent":     result.DeliveredProactively,
	}
	if result.DeliveredProactively {
		resp["message"] = sentMsg
	} else {
		resp["botLink"] = result.BotLink
		resp["message"] = botMsg
	}
	return resp
}

func userResponse(user *domain.User) map[string]any {
	return map[string]any{
		"id":           user.ID,
		"phoneNumber":  user.PhoneNumber,
		"firstName":    user.FirstName,
		"lastName":     user.LastName,
		"projectName":  user.ProjectName,
		"accountType":  user.AccountType,
		"companyName":  user.CompanyName,
		"taxId":        user.TaxID,
		"directorName": user.DirectorName,
		"isVerified":   user.IsVerified,
		"createdAt":    user.CreatedAt.Format(time.RFC3339),
	}
}
