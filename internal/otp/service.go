// Package otp implements the verification request lifecycle: creation with
// supersede semantics, proactive and reactive code delivery, lazy expiry,
// resend throttling, and code verification.
package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chatverify/chatverify/internal/domain"
)

// RequestStore is the persistence contract for verification requests. Every
// state transition is a guarded storage operation; the store is the single
// source of truth and no request state is cached across calls.
type RequestStore interface {
	CreateSuperseding(ctx context.Context, req *domain.OTPRequest) error
	GetByID(ctx context.Context, id, clientID uuid.UUID) (*domain.OTPRequest, error)
	LatestCodeSentByID(ctx context.Context, id, clientID uuid.UUID) (*domain.OTPRequest, error)
	LatestCodeSentByPhone(ctx context.Context, phoneNumber string, clientID uuid.UUID) (*domain.OTPRequest, error)
	LatestPendingByPhone(ctx context.Context, phoneNumber string) (*domain.OTPRequest, error)
	LatestByPhoneClient(ctx context.Context, phoneNumber string, clientID uuid.UUID) (*domain.OTPRequest, error)
	MarkCodeSent(ctx context.Context, id uuid.UUID, code string) error
	MarkVerified(ctx context.Context, id uuid.UUID, code string) (bool, error)
	MarkExpired(ctx context.Context, id uuid.UUID) error
	RevertToPending(ctx context.Context, id uuid.UUID) error
	IncrementAttempts(ctx context.Context, id uuid.UUID, maxAttempts int) (int, domain.OTPRequestStatus, error)
	LatestCreatedAt(ctx context.Context, phoneNumber string, clientID uuid.UUID) (time.Time, error)
	CountCreatedSince(ctx context.Context, phoneNumber string, clientID uuid.UUID, since time.Time) (int, error)
}

// ChatLinkDirectory is the read/write contract for the phone-to-chat mapping.
type ChatLinkDirectory interface {
	Upsert(ctx context.Context, link *domain.ChatLink) error
	GetByPhone(ctx context.Context, phoneNumber string) (*domain.ChatLink, error)
}

// Config holds lifecycle tuning. Zero values fall back to the defaults the
// service was designed around.
type Config struct {
	CodeValidity time.Duration
	ResendGap    time.Duration
	HourlyLimit  int
	MaxAttempts  int
}

// Service owns the verification request state machine. All mutation goes
// through it; collaborators only read via its query methods.
type Service struct {
	config Config
	store  RequestStore
	links  ChatLinkDirectory
	now    func() time.Time
}

// NewService creates a new verification request service.
func NewService(config Config, store RequestStore, links ChatLinkDirectory) *Service {
	if config.CodeValidity == 0 {
		config.CodeValidity = domain.CodeValidity
	}
	if config.ResendGap == 0 {
		config.ResendGap = 60 * time.Second
	}
	if config.HourlyLimit == 0 {
		config.HourlyLimit = 100
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = domain.MaxVerifyAttempts
	}
	return &Service{
		config: config,
		store:  store,
		links:  links,
		now:    time.Now,
	}
}

// CodeValidity returns the fixed validity window of new requests.
func (s *Service) CodeValidity() time.Duration {
	return s.config.CodeValidity
}

// Create starts a new verification request for a normalized phone number,
// superseding any active request for the same (phone, client) pair. When the
// phone has a chat link, a code is generated up front and the request is
// created in code_sent; otherwise it is created pending with no code. The
// returned chat link is nil in the pending case.
func (s *Service) Create(ctx context.Context, phoneNumber string, clientID uuid.UUID, serviceName string) (*domain.OTPRequest, *domain.ChatLink, error) {
	link, err := s.links.GetByPhone(ctx, phoneNumber)
	if err != nil && !errors.Is(err, domain.ErrChatLinkNotFound) {
		return nil, nil, fmt.Errorf("failed to look up chat link: %w", err)
	}

	now := s.now()
	req := &domain.OTPRequest{
		ID:          uuid.New(),
		PhoneNumber: phoneNumber,
		ClientID:    clientID,
		Status:      domain.StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.config.CodeValidity),
	}
	if serviceName != "" {
		req.ServiceName = &serviceName
	}

	if link != nil {
		code, err := GenerateCode()
		if err != nil {
			return nil, nil, err
		}
		req.SecretCode = &code
		req.Status = domain.StatusCodeSent
	}

	if err := s.store.CreateSuperseding(ctx, req); err != nil {
		return nil, nil, err
	}
	return req, link, nil
}

// ActivateFromChatLink advances the latest pending request for a phone number
// to code_sent with a freshly generated code. Codes are never reused across
// activations. Returns ErrRequestNotFound when no eligible request exists,
// which callers treat as "nothing to do yet", and ErrCodeExpired when the
// latest pending request's window has already passed.
func (s *Service) ActivateFromChatLink(ctx context.Context, phoneNumber string) (*domain.OTPRequest, error) {
	req, err := s.store.LatestPendingByPhone(ctx, phoneNumber)
	if err != nil {
		return nil, err
	}

	if req.IsExpired(s.now()) {
		if err := s.store.MarkExpired(ctx, req.ID); err != nil {
			return nil, err
		}
		return nil, domain.ErrCodeExpired
	}

	code, err := GenerateCode()
	if err != nil {
		return nil, err
	}
	if err := s.store.MarkCodeSent(ctx, req.ID, code); err != nil {
		return nil, err
	}

	req.SecretCode = &code
	req.Status = domain.StatusCodeSent
	return req, nil
}

// Matcher identifies the request to verify: either by request id or by the
// (phone, client) pair. ClientID is always required; a request created for one
// client never satisfies a verify from another.
type Matcher struct {
	RequestID   *uuid.UUID
	PhoneNumber string
	ClientID    uuid.UUID
}

// Verify checks a submitted code against the latest matching code_sent
// request. Expiry is checked first and transitions the record as a side
// effect. The verified transition itself is a guarded storage update, so a
// concurrent state change makes the verify fail closed. Wrong codes bump the
// attempt counter; the request terminates as incorrect after too many.
func (s *Service) Verify(ctx context.Context, m Matcher, code string) (*domain.OTPRequest, error) {
	var req *domain.OTPRequest
	var err error
	if m.RequestID != nil {
		req, err = s.store.LatestCodeSentByID(ctx, *m.RequestID, m.ClientID)
	} else {
		req, err = s.store.LatestCodeSentByPhone(ctx, m.PhoneNumber, m.ClientID)
	}
	if errors.Is(err, domain.ErrRequestNotFound) {
		// Covers unknown ids, already-verified requests (single use), and
		// terminal states alike: no matchable record remains.
		return nil, domain.ErrInvalidCode
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	if req.IsExpired(now) {
		if err := s.store.MarkExpired(ctx, req.ID); err != nil {
			return nil, err
		}
		return nil, domain.ErrCodeExpired
	}

	ok, err := s.store.MarkVerified(ctx, req.ID, code)
	if err != nil {
		return nil, err
	}
	if ok {
		req.Status = domain.StatusVerified
		verifiedAt := s.now()
		req.VerifiedAt = &verifiedAt
		return req, nil
	}

	if req.SecretCode != nil && code == *req.SecretCode {
		// Code matched what we read but the guarded update lost: the record
		// changed underneath us. Fail closed.
		return nil, domain.ErrInvalidCode
	}

	_, status, err := s.store.IncrementAttempts(ctx, req.ID, s.config.MaxAttempts)
	if errors.Is(err, domain.ErrRequestNotFound) {
		return nil, domain.ErrInvalidCode
	}
	if err != nil {
		return nil, err
	}
	if status == domain.StatusIncorrect {
		return nil, domain.ErrTooManyAttempts
	}
	return nil, domain.ErrInvalidCode
}

// GetStatus returns a request scoped to the requesting client, lazily
// expiring it if the window has passed.
func (s *Service) GetStatus(ctx context.Context, id, clientID uuid.UUID) (*domain.OTPRequest, error) {
	req, err := s.store.GetByID(ctx, id, clientID)
	if err != nil {
		return nil, err
	}
	if req.IsActive() && req.IsExpired(s.now()) {
		if err := s.store.MarkExpired(ctx, req.ID); err != nil {
			return nil, err
		}
		req.Status = domain.StatusExpired
	}
	return req, nil
}

// LatestRequest returns the most recent request for a (phone, client) pair,
// lazily expiring it if overdue. Account flows use it to chain into verify.
func (s *Service) LatestRequest(ctx context.Context, phoneNumber string, clientID uuid.UUID) (*domain.OTPRequest, error) {
	req, err := s.store.LatestByPhoneClient(ctx, phoneNumber, clientID)
	if err != nil {
		return nil, err
	}
	if req.IsActive() && req.IsExpired(s.now()) {
		if err := s.store.MarkExpired(ctx, req.ID); err != nil {
			return nil, err
		}
		req.Status = domain.StatusExpired
	}
	return req, nil
}

// CheckResendGap enforces the minimum interval between consecutive requests
// for the same (phone, client) pair. Returns a ThrottledError carrying the
// seconds left, always at least one.
func (s *Service) CheckResendGap(ctx context.Context, phoneNumber string, clientID uuid.UUID) error {
	last, err := s.store.LatestCreatedAt(ctx, phoneNumber, clientID)
	if errors.Is(err, domain.ErrRequestNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	elapsed := s.now().Sub(last)
	if elapsed >= s.config.ResendGap {
		return nil
	}
	retry := int((s.config.ResendGap - elapsed + time.Second - 1) / time.Second)
	if retry < 1 {
		retry = 1
	}
	return &domain.ThrottledError{RetryAfter: retry}
}

// CheckHourlyLimit enforces the coarse per-phone-per-client cap on request
// creation over a rolling hour.
func (s *Service) CheckHourlyLimit(ctx context.Context, phoneNumber string, clientID uuid.UUID) error {
	count, err := s.store.CountCreatedSince(ctx, phoneNumber, clientID, s.now().Add(-time.Hour))
	if err != nil {
		return err
	}
	if count >= s.config.HourlyLimit {
		return domain.ErrRateLimited
	}
	return nil
}
