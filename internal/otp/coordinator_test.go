package otp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/chatverify/chatverify/internal/domain"
)

type sentMessage struct {
	ChatID      int64
	Code        string
	ServiceName string
}

// fakeMessenger records deliveries and can be told to fail.
type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
	fail error
}

func (m *fakeMessenger) SendCode(_ context.Context, chatID int64, code, serviceName string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.sent = append(m.sent, sentMessage{ChatID: chatID, Code: code, ServiceName: serviceName})
	return nil
}

func (m *fakeMessenger) last(t *testing.T) sentMessage {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no messages sent")
	}
	return m.sent[len(m.sent)-1]
}

type fakeClients struct {
	byID map[uuid.UUID]*domain.APIClient
}

func (f *fakeClients) GetByID(_ context.Context, id uuid.UUID) (*domain.APIClient, error) {
	if c, ok := f.byID[id]; ok {
		return c, nil
	}
	return nil, domain.ErrClientNotFound
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeMessenger, *memStore, *memLinks, *fakeClock, *domain.APIClient) {
	t.Helper()
	clock := newFakeClock()
	store := newMemStore(clock)
	links := newMemLinks()
	svc := NewService(Config{}, store, links)
	svc.now = clock.Now

	client := &domain.APIClient{ID: uuid.New(), Name: "Acme Portal", IsActive: true}
	messenger := &fakeMessenger{}
	clients := &fakeClients{byID: map[uuid.UUID]*domain.APIClient{client.ID: client}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	coord := NewCoordinator(logger, svc, messenger, clients, "https://t.me/chatverify_bot")
	return coord, messenger, store, links, clock, client
}

func TestStartVerification_ProactiveDelivery(t *testing.T) {
	coord, messenger, _, links, _, client := newTestCoordinator(t)
	ctx := context.Background()
	linkPhone(t, links, "+12125550123", 42)

	// A raw formatted number normalizes to the linked identity.
	result, err := coord.StartVerification(ctx, "+1 (212) 555-0123", client, "login")
	if err != nil {
		t.Fatalf("StartVerification error: %v", err)
	}
	if !result.DeliveredProactively {
		t.Error("DeliveredProactively = false, want true")
	}
	if result.BotLink != "" {
		t.Errorf("BotLink = %q, want empty on proactive delivery", result.BotLink)
	}
	if result.Request.PhoneNumber != "+12125550123" {
		t.Errorf("phone = %q, want +12125550123", result.Request.PhoneNumber)
	}

	msg := messenger.last(t)
	if msg.ChatID != 42 {
		t.Errorf("chat id = %d, want 42", msg.ChatID)
	}
	if msg.ServiceName != "login" {
		t.Errorf("service name = %q, want login", msg.ServiceName)
	}

	// The delivered code verifies the request.
	verified, err := coord.service.Verify(ctx, Matcher{RequestID: &result.Request.ID, ClientID: client.ID}, msg.Code)
	if err != nil {
		t.Fatalf("Verify with delivered code: %v", err)
	}
	if verified.Status != domain.StatusVerified {
		t.Errorf("status = %s, want verified", verified.Status)
	}
}

func TestStartVerification_ReactiveFallback(t *testing.T) {
	coord, messenger, _, _, _, client := newTestCoordinator(t)
	ctx := context.Background()

	result, err := coord.StartVerification(ctx, "+12025550142", client, "signup")
	if err != nil {
		t.Fatalf("StartVerification error: %v", err)
	}
	if result.DeliveredProactively {
		t.Error("DeliveredProactively = true, want false without a chat link")
	}
	if result.BotLink != "https://t.me/chatverify_bot" {
		t.Errorf("BotLink = %q, want the linking hint", result.BotLink)
	}
	if result.Request.Status != domain.StatusPending {
		t.Errorf("status = %s, want pending", result.Request.Status)
	}
	if len(messenger.sent) != 0 {
		t.Errorf("%d messages sent, want 0", len(messenger.sent))
	}

	// The user opens the bot and shares their contact.
	req, err := coord.HandleChatLinked(ctx, "+1 202 555 0142", 77, ChatLinkMetadata{})
	if err != nil {
		t.Fatalf("HandleChatLinked error: %v", err)
	}
	if req == nil || req.ID != result.Request.ID {
		t.Fatalf("activated request = %+v, want the pending one", req)
	}

	msg := messenger.last(t)
	if msg.ChatID != 77 {
		t.Errorf("chat id = %d, want 77", msg.ChatID)
	}
	if _, err := coord.service.Verify(ctx, Matcher{RequestID: &req.ID, ClientID: client.ID}, msg.Code); err != nil {
		t.Errorf("Verify with reactively delivered code: %v", err)
	}
}

func TestStartVerification_RevertsOnDeliveryFailure(t *testing.T) {
	coord, messenger, store, links, _, client := newTestCoordinator(t)
	ctx := context.Background()
	linkPhone(t, links, "+12125550123", 42)
	messenger.fail = errors.New("chat not reachable")

	result, err := coord.StartVerification(ctx, "+12125550123", client, "login")
	if err != nil {
		t.Fatalf("StartVerification error: %v", err)
	}
	if result.DeliveredProactively {
		t.Error("DeliveredProactively = true after failed send")
	}
	if result.BotLink == "" {
		t.Error("BotLink empty, want the linking hint after fallback")
	}
	if result.Request.Status != domain.StatusPending {
		t.Errorf("status = %s, want pending after revert", result.Request.Status)
	}
	if result.Request.SecretCode != nil {
		t.Errorf("secret code = %q, want cleared after revert", *result.Request.SecretCode)
	}

	stored, err := store.GetByID(ctx, result.Request.ID, client.ID)
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if stored.Status != domain.StatusPending || stored.SecretCode != nil {
		t.Errorf("stored = %s/%v, want pending with no code", stored.Status, stored.SecretCode)
	}
}

func TestHandleChatLinked_NoWaitingRequest(t *testing.T) {
	coord, messenger, _, links, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	first := "Dana"
	req, err := coord.HandleChatLinked(ctx, "+12125550123", 42, ChatLinkMetadata{FirstName: &first})
	if err != nil {
		t.Fatalf("HandleChatLinked error: %v", err)
	}
	if req != nil {
		t.Errorf("request = %+v, want nil with nothing waiting", req)
	}
	if len(messenger.sent) != 0 {
		t.Errorf("%d messages sent, want 0", len(messenger.sent))
	}

	// The link itself was recorded for future proactive delivery.
	link, err := links.GetByPhone(ctx, "+12125550123")
	if err != nil {
		t.Fatalf("GetByPhone error: %v", err)
	}
	if link.ChatID != 42 || link.FirstName == nil || *link.FirstName != "Dana" {
		t.Errorf("link = %+v, want chat 42 for Dana", link)
	}
}

func TestHandleChatLinked_RelinkOverwrites(t *testing.T) {
	coord, _, _, links, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	if _, err := coord.HandleChatLinked(ctx, "+12125550123", 42, ChatLinkMetadata{}); err != nil {
		t.Fatalf("first HandleChatLinked error: %v", err)
	}
	if _, err := coord.HandleChatLinked(ctx, "+12125550123", 99, ChatLinkMetadata{}); err != nil {
		t.Fatalf("second HandleChatLinked error: %v", err)
	}

	link, err := links.GetByPhone(ctx, "+12125550123")
	if err != nil {
		t.Fatalf("GetByPhone error: %v", err)
	}
	if link.ChatID != 99 {
		t.Errorf("chat id = %d, want the most recent link 99", link.ChatID)
	}
}

func TestHandleChatLinked_DeliveryFailure(t *testing.T) {
	coord, messenger, store, _, _, client := newTestCoordinator(t)
	ctx := context.Background()

	result, err := coord.StartVerification(ctx, "+12025550142", client, "signup")
	if err != nil {
		t.Fatalf("StartVerification error: %v", err)
	}
	messenger.fail = errors.New("send failed")

	req, err := coord.HandleChatLinked(ctx, "+12025550142", 77, ChatLinkMetadata{})
	if !errors.Is(err, domain.ErrDeliveryFailed) {
		t.Fatalf("error = %v, want ErrDeliveryFailed", err)
	}
	if req == nil || req.ID != result.Request.ID {
		t.Fatalf("request = %+v, want the activated one", req)
	}

	// Unlike the proactive path there is no revert: the user is present and
	// can share their contact again.
	stored, err := store.GetByID(ctx, result.Request.ID, client.ID)
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if stored.Status != domain.StatusCodeSent {
		t.Errorf("stored status = %s, want code_sent", stored.Status)
	}
}

func TestHandleChatLinked_FallsBackToClientName(t *testing.T) {
	coord, messenger, _, _, _, client := newTestCoordinator(t)
	ctx := context.Background()

	if _, err := coord.StartVerification(ctx, "+12025550142", client, ""); err != nil {
		t.Fatalf("StartVerification error: %v", err)
	}
	if _, err := coord.HandleChatLinked(ctx, "+12025550142", 77, ChatLinkMetadata{}); err != nil {
		t.Fatalf("HandleChatLinked error: %v", err)
	}

	if msg := messenger.last(t); msg.ServiceName != "Acme Portal" {
		t.Errorf("service name = %q, want the client name fallback", msg.ServiceName)
	}
}

func TestStartVerification_InvalidPhone(t *testing.T) {
	coord, _, _, _, _, client := newTestCoordinator(t)

	if _, err := coord.StartVerification(context.Background(), "not a phone", client, "login"); !errors.Is(err, domain.ErrInvalidPhoneNumber) {
		t.Errorf("error = %v, want ErrInvalidPhoneNumber", err)
	}
}

func TestResend_Throttled(t *testing.T) {
	coord, _, _, links, clock, client := newTestCoordinator(t)
	ctx := context.Background()
	linkPhone(t, links, "+12125550123", 42)

	first, err := coord.StartVerification(ctx, "+12125550123", client, "login")
	if err != nil {
		t.Fatalf("StartVerification error: %v", err)
	}

	clock.Advance(30 * time.Second)
	_, err = coord.Resend(ctx, "+12125550123", client, "login")
	var throttled *domain.ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("resend at 30s error = %v, want ThrottledError", err)
	}
	if throttled.RetryAfter != 30 {
		t.Errorf("retryAfter = %d, want 30", throttled.RetryAfter)
	}

	clock.Advance(31 * time.Second)
	result, err := coord.Resend(ctx, "+12125550123", client, "login")
	if err != nil {
		t.Fatalf("resend after gap error: %v", err)
	}
	if result.Request.ID == first.Request.ID {
		t.Error("resend reused the old request, want a fresh one")
	}
	if want := clock.Now().Add(5 * time.Minute); !result.Request.ExpiresAt.Equal(want) {
		t.Errorf("fresh window expiresAt = %v, want %v", result.Request.ExpiresAt, want)
	}
}
