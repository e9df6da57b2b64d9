package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/chatverify/chatverify/internal/account"
	"github.com/chatverify/chatverify/internal/auth"
	"github.com/chatverify/chatverify/internal/bot"
	"github.com/chatverify/chatverify/internal/config"
	httpserver "github.com/chatverify/chatverify/internal/http"
	"github.com/chatverify/chatverify/internal/notification"
	"github.com/chatverify/chatverify/internal/otp"
	"github.com/chatverify/chatverify/internal/repository"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Connect to database
	db, err := repository.NewDB(repository.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	logger.Info("connected to database")

	// Initialize repositories
	usersRepo := repository.NewUsersRepository(db)
	clientsRepo := repository.NewAPIClientsRepository(db)
	requestsRepo := repository.NewOTPRequestsRepository(db)
	chatLinksRepo := repository.NewChatLinksRepository(db)

	// Connect to Telegram
	telegramService, err := notification.NewTelegramService(notification.TelegramConfig{
		BotToken: cfg.TelegramBotToken,
	})
	if err != nil {
		logger.Error("failed to connect to telegram", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to telegram", "bot", telegramService.Bot().Self.UserName)

	botLink := cfg.BotLink()
	if botLink == "" {
		botLink = "https://t.me/" + telegramService.Bot().Self.UserName
	}

	// Initialize services
	otpService := otp.NewService(otp.Config{
		CodeValidity: cfg.CodeValidity,
		ResendGap:    cfg.ResendGap,
		HourlyLimit:  cfg.HourlyLimit,
		MaxAttempts:  cfg.MaxVerifyAttempts,
	}, requestsRepo, chatLinksRepo)

	coordinator := otp.NewCoordinator(logger, otpService, telegramService, clientsRepo, botLink)

	tokenService := auth.NewTokenService(auth.TokenConfig{
		JWTSecret: []byte(cfg.JWTSecret),
		Issuer:    cfg.JWTIssuer,
		TTL:       cfg.AccessTokenTTL,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	systemClient, err := account.EnsureSystemClient(ctx, db, usersRepo, clientsRepo)
	if err != nil {
		logger.Error("failed to provision system client", "error", err)
		os.Exit(1)
	}

	accountService := account.NewService(logger, db, usersRepo, clientsRepo, otpService, coordinator, tokenService, systemClient)

	// Start the linking bot
	verifyBot := bot.New(logger, telegramService.Bot(), coordinator)
	go verifyBot.Run(ctx)

	// Create router
	router := httpserver.NewRouter(httpserver.RouterConfig{
		Logger:         logger,
		Coordinator:    coordinator,
		OTPService:     otpService,
		AccountService: accountService,
		TokenService:   tokenService,
		UsersRepo:      usersRepo,
		ClientsRepo:    clientsRepo,
		RequestsRepo:   requestsRepo,
		AdminSecret:    cfg.AdminSecret,
		RateLimit:      cfg.RateLimit,
	})

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.ServerAddr, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()

	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
