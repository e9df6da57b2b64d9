// Package account implements dashboard account flows: registration with phone
// verification, login, password reset, and API client management. The platform
// sends its own verification codes through a reserved system client, so
// account flows ride the same delivery pipeline as customer traffic.
package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chatverify/chatverify/internal/auth"
	"github.com/chatverify/chatverify/internal/domain"
	"github.com/chatverify/chatverify/internal/otp"
	"github.com/chatverify/chatverify/internal/phone"
	"github.com/chatverify/chatverify/internal/repository"
)

// The system client carries platform-originated verifications. It is created
// at startup if missing and never exposed through the API.
const (
	systemClientName = "ChatVerify Platform"
	systemUserPhone  = "+999999999999"

	serviceNameRegistration  = "ChatVerify Registration"
	serviceNamePasswordReset = "ChatVerify Password Reset"
)

// EnsureSystemClient returns the reserved platform client, creating it and its
// owning system user on first startup. Idempotent across restarts.
func EnsureSystemClient(ctx context.Context, db *sql.DB, users *repository.UsersRepository, clients *repository.APIClientsRepository) (*domain.APIClient, error) {
	client, err := clients.GetByName(ctx, systemClientName)
	if err == nil {
		return client, nil
	}
	if !errors.Is(err, domain.ErrClientNotFound) {
		return nil, err
	}

	_, keyHash, keyPrefix, err := auth.GenerateAPIKey()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &domain.User{
		ID:          uuid.New(),
		PhoneNumber: systemUserPhone,
		FirstName:   "System",
		ProjectName: "ChatVerify",
		AccountType: domain.AccountTypeIndividual,
		IsVerified:  true,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	client = &domain.APIClient{
		ID:         uuid.New(),
		UserID:     user.ID,
		Name:       systemClientName,
		APIKeyHash: keyHash,
		KeyPrefix:  keyPrefix,
		IsActive:   true,
		CreatedAt:  now,
	}

	err = repository.Tx(ctx, db, func(tx *sql.Tx) error {
		if err := users.CreateTx(ctx, tx, user); err != nil {
			return err
		}
		return clients.CreateTx(ctx, tx, client)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to bootstrap system client: %w", err)
	}
	return client, nil
}

// Service handles account flows.
type Service struct {
	logger       *slog.Logger
	db           *sql.DB
	users        *repository.UsersRepository
	clients      *repository.APIClientsRepository
	otps         *otp.Service
	coordinator  *otp.Coordinator
	tokens       *auth.TokenService
	systemClient *domain.APIClient
}

// NewService creates a new account service. systemClient must be the client
// returned by EnsureSystemClient.
func NewService(
	logger *slog.Logger,
	db *sql.DB,
	users *repository.UsersRepository,
	clients *repository.APIClientsRepository,
	otps *otp.Service,
	coordinator *otp.Coordinator,
	tokens *auth.TokenService,
	systemClient *domain.APIClient,
) *Service {
	return &Service{
		logger:       logger,
		db:           db,
		users:        users,
		clients:      clients,
		otps:         otps,
		coordinator:  coordinator,
		tokens:       tokens,
		systemClient: systemClient,
	}
}

// RegisterParams are the fields collected at signup.
type RegisterParams struct {
	PhoneNumber  string
	Password     string
	FirstName    string
	LastName     string
	ProjectName  string
	AccountType  domain.AccountType
	CompanyName  *string
	TaxID        *string
	DirectorName *string
}

// AuthResult is returned by flows that end in an authenticated session.
type AuthResult struct {
	User        *domain.User
	AccessToken string
	ExpiresAt   time.Time
	// APIKey is set only when a new client was just created; it is never
	// retrievable again.
	APIKey string
}

// Register creates an unverified account and starts phone verification
// through the platform's own client. Re-registering an unverified phone
// overwrites the draft account and sends a fresh code; a verified phone is
// rejected.
func (s *Service) Register(ctx context.Context, params RegisterParams) (*otp.StartResult, error) {
	normalized, err := phone.Normalize(params.PhoneNumber)
	if err != nil {
		return nil, err
	}
	if len(params.Password) < auth.MinPasswordLen {
		return nil, domain.ErrWeakPassword
	}
	if params.AccountType == "" {
		params.AccountType = domain.AccountTypeIndividual
	}

	hash, err := auth.HashPassword(params.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	existing, err := s.users.GetByPhone(ctx, normalized)
	switch {
	case err == nil && existing.IsVerified:
		return nil, domain.ErrUserAlreadyExists
	case err == nil:
		existing.PasswordHash = hash
		existing.FirstName = params.FirstName
		existing.LastName = params.LastName
		existing.ProjectName = params.ProjectName
		existing.AccountType = params.AccountType
		existing.CompanyName = params.CompanyName
		existing.TaxID = params.TaxID
		existing.DirectorName = params.DirectorName
		existing.UpdatedAt = now
		if err := s.users.Update(ctx, existing); err != nil {
			return nil, err
		}
	case errors.Is(err, domain.ErrUserNotFound):
		user := &domain.User{
			ID:           uuid.New(),
			PhoneNumber:  normalized,
			PasswordHash: hash,
			FirstName:    params.FirstName,
			LastName:     params.LastName,
			ProjectName:  params.ProjectName,
			AccountType:  params.AccountType,
			CompanyName:  params.CompanyName,
			TaxID:        params.TaxID,
			DirectorName: params.DirectorName,
			IsActive:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	result, err := s.coordinator.StartVerification(ctx, normalized, s.systemClient, serviceNameRegistration)
	if err != nil {
		return nil, err
	}
	s.logger.Info("registration started", "phone", normalized, "delivered", result.DeliveredProactively)
	return result, nil
}

// VerifyRegistration checks the signup code, marks the account verified, and
// provisions the user's first API client. The raw API key is returned once.
func (s *Service) VerifyRegistration(ctx context.Context, phoneNumber, code string) (*AuthResult, error) {
	normalized, err := phone.Normalize(phoneNumber)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByPhone(ctx, normalized)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, domain.ErrInvalidCode
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.otps.Verify(ctx, otp.Matcher{PhoneNumber: normalized, ClientID: s.systemClient.ID}, code); err != nil {
		return nil, err
	}
	if err := s.users.MarkVerified(ctx, user.ID); err != nil {
		return nil, err
	}
	user.IsVerified = true

	rawKey, keyHash, keyPrefix, err := auth.GenerateAPIKey()
	if err != nil {
		return nil, err
	}
	client := &domain.APIClient{
		ID:         uuid.New(),
		UserID:     user.ID,
		Name:       user.ProjectName,
		APIKeyHash: keyHash,
		KeyPrefix:  keyPrefix,
		IsActive:   true,
		CreatedAt:  time.Now(),
	}
	if client.Name == "" {
		client.Name = "Default"
	}
	if err := s.clients.Create(ctx, client); err != nil {
		return nil, err
	}

	token, expiresAt, err := s.tokens.Issue(user.ID, user.PhoneNumber)
	if err != nil {
		return nil, err
	}

	s.logger.Info("account verified", "user_id", user.ID, "phone", normalized)
	return &AuthResult{User: user, AccessToken: token, ExpiresAt: expiresAt, APIKey: rawKey}, nil
}

// Login authenticates by phone and password.
func (s *Service) Login(ctx context.Context, phoneNumber, password string) (*AuthResult, error) {
	normalized, err := phone.Normalize(phoneNumber)
	if err != nil {
		return nil, domain.ErrInvalidCredentials
	}

	user, err := s.users.GetByPhone(ctx, normalized)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if !auth.VerifyPassword(password, user.PasswordHash) {
		return nil, domain.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, domain.ErrAccountDisabled
	}
	if !user.IsVerified {
		return nil, domain.ErrUserNotVerified
	}

	token, expiresAt, err := s.tokens.Issue(user.ID, user.PhoneNumber)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, AccessToken: token, ExpiresAt: expiresAt}, nil
}

// ForgotPassword starts a password reset verification. A phone with no
// account gets a nil result and no error, so callers cannot probe which
// numbers are registered.
func (s *Service) ForgotPassword(ctx context.Context, phoneNumber string) (*otp.StartResult, error) {
	normalized, err := phone.Normalize(phoneNumber)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByPhone(ctx, normalized)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, nil
	}

	return s.coordinator.StartVerification(ctx, normalized, s.systemClient, serviceNamePasswordReset)
}

// ResetPassword checks the reset code and replaces the password.
func (s *Service) ResetPassword(ctx context.Context, phoneNumber, code, newPassword string) error {
	normalized, err := phone.Normalize(phoneNumber)
	if err != nil {
		return err
	}
	if len(newPassword) < auth.MinPasswordLen {
		return domain.ErrWeakPassword
	}

	user, err := s.users.GetByPhone(ctx, normalized)
	if errors.Is(err, domain.ErrUserNotFound) {
		return domain.ErrInvalidCode
	}
	if err != nil {
		return err
	}

	if _, err := s.otps.Verify(ctx, otp.Matcher{PhoneNumber: normalized, ClientID: s.systemClient.ID}, code); err != nil {
		return err
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return err
	}
	s.logger.Info("password reset", "user_id", user.ID)
	return nil
}

// ResendCode re-sends a platform verification code, subject to the resend gap.
func (s *Service) ResendCode(ctx context.Context, phoneNumber string) (*otp.StartResult, error) {
	normalized, err := phone.Normalize(phoneNumber)
	if err != nil {
		return nil, err
	}

	// Preserve the label of the flow being retried.
	serviceName := serviceNameRegistration
	if last, err := s.otps.LatestRequest(ctx, normalized, s.systemClient.ID); err == nil && last.ServiceName != nil {
		serviceName = *last.ServiceName
	}
	return s.coordinator.Resend(ctx, normalized, s.systemClient, serviceName)
}

// ChangePassword replaces the password of an authenticated user.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, current, newPassword string) error {
	if len(newPassword) < auth.MinPasswordLen {
		return domain.ErrWeakPassword
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !auth.VerifyPassword(current, user.PasswordHash) {
		return domain.ErrInvalidCredentials
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.users.UpdatePasswordHash(ctx, userID, hash)
}

// ProfileUpdate holds the editable profile fields. Nil means unchanged.
type ProfileUpdate struct {
	FirstName    *string
	LastName     *string
	ProjectName  *string
	CompanyName  *string
	TaxID        *string
	DirectorName *string
}

// UpdateProfile applies a partial profile update.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, update ProfileUpdate) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if update.FirstName != nil {
		user.FirstName = *update.FirstName
	}
	if update.LastName != nil {
		user.LastName = *update.LastName
	}
	if update.ProjectName != nil {
		user.ProjectName = *update.ProjectName
	}
	if update.CompanyName != nil {
		user.CompanyName = update.CompanyName
	}
	if update.TaxID != nil {
		user.TaxID = update.TaxID
	}
	if update.DirectorName != nil {
		user.DirectorName = update.DirectorName
	}
	user.UpdatedAt = time.Now()

	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// CreateAPIClient provisions an additional client for a user. The raw key is
// returned once and stored only as a hash.
func (s *Service) CreateAPIClient(ctx context.Context, userID uuid.UUID, name string, webhookURL *string) (*domain.APIClient, string, error) {
	rawKey, keyHash, keyPrefix, err := auth.GenerateAPIKey()
	if err != nil {
		return nil, "", err
	}

	client := &domain.APIClient{
		ID:         uuid.New(),
		UserID:     userID,
		Name:       name,
		APIKeyHash: keyHash,
		KeyPrefix:  keyPrefix,
		WebhookURL: webhookURL,
		IsActive:   true,
		CreatedAt:  time.Now(),
	}
	if err := s.clients.Create(ctx, client); err != nil {
		return nil, "", err
	}
	s.logger.Info("api client created", "user_id", userID, "client_id", client.ID)
	return client, rawKey, nil
}

// ListAPIClients returns a user's clients.
func (s *Service) ListAPIClients(ctx context.Context, userID uuid.UUID) ([]*domain.APIClient, error) {
	return s.clients.ListByUser(ctx, userID)
}
