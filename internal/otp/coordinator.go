package otp

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chatverify/chatverify/internal/domain"
	"github.com/chatverify/chatverify/internal/phone"
)

// Messenger delivers a verification code to a linked chat. Implementations
// own message formatting; the coordinator only decides when to send.
type Messenger interface {
	SendCode(ctx context.Context, chatID int64, code, serviceName string, expiresIn time.Duration) error
}

// ClientResolver resolves an API client, used to fall back to the client name
// when a request carries no service label.
type ClientResolver interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.APIClient, error)
}

// Coordinator orchestrates request creation and code delivery: proactive push
// when a chat link exists, reactive pending state when it does not, and the
// compensation path when a proactive push fails.
type Coordinator struct {
	logger    *slog.Logger
	service   *Service
	messenger Messenger
	clients   ClientResolver
	botLink   string
}

// NewCoordinator creates a new delivery coordinator. botLink is the public
// URL of the linking flow, returned as the fallback hint for reactive
// delivery.
func NewCoordinator(logger *slog.Logger, service *Service, messenger Messenger, clients ClientResolver, botLink string) *Coordinator {
	return &Coordinator{
		logger:    logger,
		service:   service,
		messenger: messenger,
		clients:   clients,
		botLink:   botLink,
	}
}

// StartResult is the outcome of starting a verification.
type StartResult struct {
	Request              *domain.OTPRequest
	DeliveredProactively bool
	// BotLink is set when the caller must direct the user to the linking
	// flow instead.
	BotLink string
}

// StartVerification begins a verification for a raw phone number on behalf of
// a client. The phone is normalized first; invalid input fails fast. The
// hourly per-phone cap applies here, but not the resend gap: only explicit
// resends are throttled.
func (c *Coordinator) StartVerification(ctx context.Context, rawPhone string, client *domain.APIClient, serviceName string) (*StartResult, error) {
	normalized, err := phone.Normalize(rawPhone)
	if err != nil {
		return nil, err
	}
	if err := c.service.CheckHourlyLimit(ctx, normalized, client.ID); err != nil {
		return nil, err
	}
	return c.start(ctx, normalized, client, serviceName)
}

// Resend begins a fresh verification, subject to the minimum gap since the
// previous request for the same (phone, client) pair. The new request gets a
// fresh window; expiry is never extended in place.
func (c *Coordinator) Resend(ctx context.Context, rawPhone string, client *domain.APIClient, serviceName string) (*StartResult, error) {
	normalized, err := phone.Normalize(rawPhone)
	if err != nil {
		return nil, err
	}
	if err := c.service.CheckResendGap(ctx, normalized, client.ID); err != nil {
		return nil, err
	}
	return c.start(ctx, normalized, client, serviceName)
}

func (c *Coordinator) start(ctx context.Context, normalizedPhone string, client *domain.APIClient, serviceName string) (*StartResult, error) {
	req, link, err := c.service.Create(ctx, normalizedPhone, client.ID, serviceName)
	if err != nil {
		return nil, err
	}

	if req.Status != domain.StatusCodeSent || link == nil {
		return &StartResult{Request: req, BotLink: c.botLink}, nil
	}

	display := serviceName
	if display == "" {
		display = client.Name
	}
	if err := c.messenger.SendCode(ctx, link.ChatID, *req.SecretCode, display, time.Until(req.ExpiresAt)); err != nil {
		// The code may or may not have reached the user; either way it must
		// not stay matchable. Fall back to the reactive flow.
		c.logger.Warn("proactive delivery failed, reverting to pending",
			"request_id", req.ID, "error", err)
		if revertErr := c.service.store.RevertToPending(ctx, req.ID); revertErr != nil {
			return nil, revertErr
		}
		req.Status = domain.StatusPending
		req.SecretCode = nil
		return &StartResult{Request: req, BotLink: c.botLink}, nil
	}

	c.logger.Info("verification code delivered proactively",
		"request_id", req.ID, "phone", normalizedPhone)
	return &StartResult{Request: req, DeliveredProactively: true}, nil
}

// ChatLinkMetadata carries display fields from the contact-sharing event.
type ChatLinkMetadata struct {
	FirstName *string
	LastName  *string
	Username  *string
}

// HandleChatLinked records a contact-sharing event and performs reactive
// delivery if a pending request is waiting. The caller must have already
// verified that the sharing user owns the chat; that check belongs at the
// event-source boundary.
//
// Returns (nil, nil) when the link was saved but no request was waiting, and
// (req, ErrDeliveryFailed) when a code was generated but could not be sent;
// the user is present at that moment and can retry.
func (c *Coordinator) HandleChatLinked(ctx context.Context, rawPhone string, chatID int64, meta ChatLinkMetadata) (*domain.OTPRequest, error) {
	normalized, err := phone.Normalize(rawPhone)
	if err != nil {
		return nil, err
	}

	link := &domain.ChatLink{
		PhoneNumber: normalized,
		ChatID:      chatID,
		FirstName:   meta.FirstName,
		LastName:    meta.LastName,
		Username:    meta.Username,
	}
	if err := c.service.links.Upsert(ctx, link); err != nil {
		return nil, err
	}
	c.logger.Info("chat link saved", "phone", normalized, "chat_id", chatID)

	req, err := c.service.ActivateFromChatLink(ctx, normalized)
	if errors.Is(err, domain.ErrRequestNotFound) {
		// Nothing waiting; the link still enables proactive delivery later.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	display := ""
	if req.ServiceName != nil {
		display = *req.ServiceName
	}
	if display == "" && c.clients != nil {
		if client, err := c.clients.GetByID(ctx, req.ClientID); err == nil {
			display = client.Name
		}
	}

	if err := c.messenger.SendCode(ctx, link.ChatID, *req.SecretCode, display, time.Until(req.ExpiresAt)); err != nil {
		c.logger.Warn("reactive delivery failed", "request_id", req.ID, "error", err)
		return req, domain.ErrDeliveryFailed
	}

	c.logger.Info("verification code delivered reactively",
		"request_id", req.ID, "phone", normalized)
	return req, nil
}
