package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatverify/chatverify/internal/account"
	"github.com/chatverify/chatverify/internal/auth"
	"github.com/chatverify/chatverify/internal/config"
	"github.com/chatverify/chatverify/internal/http/features/accounts"
	"github.com/chatverify/chatverify/internal/http/features/admin"
	"github.com/chatverify/chatverify/internal/http/features/dashboard"
	"github.com/chatverify/chatverify/internal/http/features/otpapi"
	"github.com/chatverify/chatverify/internal/http/middleware"
	"github.com/chatverify/chatverify/internal/httputil"
	"github.com/chatverify/chatverify/internal/otp"
	"github.com/chatverify/chatverify/internal/repository"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger         *slog.Logger
	Coordinator    *otp.Coordinator
	OTPService     *otp.Service
	AccountService *account.Service
	TokenService   *auth.TokenService
	UsersRepo      *repository.UsersRepository
	ClientsRepo    *repository.APIClientsRepository
	RequestsRepo   *repository.OTPRequestsRepository
	AdminSecret    string
	RateLimit      config.RateLimitConfig
}

// NewRouter creates a new HTTP router with all routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply global middleware
	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	apiLimit := middleware.NoRateLimit()
	authLimit := middleware.NoRateLimit()
	if cfg.RateLimit.Enabled {
		apiLimit = middleware.RateLimit(middleware.RateLimitConfig{
			Requests: cfg.RateLimit.APIRequests,
			Window:   cfg.RateLimit.APIWindow,
			Logger:   cfg.Logger,
		})
		authLimit = middleware.RateLimit(middleware.RateLimitConfig{
			Requests: cfg.RateLimit.AuthRequests,
			Window:   cfg.RateLimit.AuthWindow,
			Logger:   cfg.Logger,
		})
	}

	// Client OTP API, authenticated by API key
	otpHandler := otpapi.NewHandler(cfg.Logger, cfg.Coordinator, cfg.OTPService)
	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKey(cfg.ClientsRepo))
		r.Use(apiLimit)
		r.Post("/otp/send", otpHandler.Send)
		r.Post("/otp/resend", otpHandler.Resend)
		r.Post("/otp/verify", otpHandler.Verify)
		r.Get("/otp/status/{requestID}", otpHandler.Status)
	})

	// Account registration and login
	accountsHandler := accounts.NewHandler(cfg.Logger, cfg.AccountService)
	r.Group(func(r chi.Router) {
		r.Use(authLimit)
		r.Post("/users/register", accountsHandler.Register)
		r.Post("/users/resend-otp", accountsHandler.ResendOTP)
		r.Post("/users/verify-registration", accountsHandler.VerifyRegistration)
		r.Post("/users/login", accountsHandler.Login)
		r.Post("/users/forgot-password", accountsHandler.ForgotPassword)
		r.Post("/users/reset-password", accountsHandler.ResetPassword)
	})

	// Authenticated profile routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.TokenService, cfg.UsersRepo))
		r.Get("/users/me", accountsHandler.GetMe)
		r.Patch("/users/me", accountsHandler.UpdateMe)
		r.Post("/users/change-password", accountsHandler.ChangePassword)
	})

	// Dashboard routes
	dashboardHandler := dashboard.NewHandler(cfg.Logger, cfg.AccountService, cfg.RequestsRepo, cfg.ClientsRepo)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.TokenService, cfg.UsersRepo))
		r.Get("/dashboard/stats", dashboardHandler.Stats)
		r.Get("/dashboard/chart", dashboardHandler.Chart)
		r.Get("/dashboard/sent-otps", dashboardHandler.SentOTPs)
		r.Get("/dashboard/sent-otps/export", dashboardHandler.ExportSentOTPs)
		r.Get("/dashboard/reports", dashboardHandler.Reports)
		r.Get("/dashboard/api-clients", dashboardHandler.ListAPIClients)
		r.Post("/dashboard/api-clients", dashboardHandler.CreateAPIClient)
	})

	// Admin routes
	adminHandler := admin.NewHandler(cfg.Logger, cfg.UsersRepo, cfg.ClientsRepo, cfg.RequestsRepo)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Admin(cfg.AdminSecret))
		r.Post("/admin/clients", adminHandler.CreateClient)
		r.Get("/admin/clients", adminHandler.ListClients)
		r.Patch("/admin/clients/{clientID}", adminHandler.UpdateClient)
		r.Get("/admin/stats", adminHandler.Stats)
	})

	return r
}
