package otp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/chatverify/chatverify/internal/domain"
)

// fakeClock drives the service's notion of time so expiry and throttle
// boundaries can be tested exactly.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time            { return c.t }
func (c *fakeClock) Advance(d time.Duration)   { c.t = c.t.Add(d) }

// memStore is an in-memory RequestStore that mirrors the SQL guards, for
// exercising the state machine without a database.
type memStore struct {
	mu    sync.Mutex
	reqs  []*domain.OTPRequest
	clock *fakeClock
}

func newMemStore(clock *fakeClock) *memStore {
	return &memStore{clock: clock}
}

func copyReq(r *domain.OTPRequest) *domain.OTPRequest {
	c := *r
	if r.SecretCode != nil {
		code := *r.SecretCode
		c.SecretCode = &code
	}
	if r.VerifiedAt != nil {
		at := *r.VerifiedAt
		c.VerifiedAt = &at
	}
	return &c
}

func (s *memStore) CreateSuperseding(_ context.Context, req *domain.OTPRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reqs {
		if r.PhoneNumber == req.PhoneNumber && r.ClientID == req.ClientID && r.IsActive() {
			r.Status = domain.StatusExpired
		}
	}
	s.reqs = append(s.reqs, copyReq(req))
	return nil
}

func (s *memStore) find(id uuid.UUID) *domain.OTPRequest {
	for _, r := range s.reqs {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (s *memStore) latest(match func(*domain.OTPRequest) bool) *domain.OTPRequest {
	var best *domain.OTPRequest
	for _, r := range s.reqs {
		if match(r) && (best == nil || r.CreatedAt.After(best.CreatedAt)) {
			best = r
		}
	}
	return best
}

func (s *memStore) GetByID(_ context.Context, id, clientID uuid.UUID) (*domain.OTPRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.find(id); r != nil && r.ClientID == clientID {
		return copyReq(r), nil
	}
	return nil, domain.ErrRequestNotFound
}

func (s *memStore) LatestCodeSentByID(_ context.Context, id, clientID uuid.UUID) (*domain.OTPRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.find(id); r != nil && r.ClientID == clientID && r.Status == domain.StatusCodeSent {
		return copyReq(r), nil
	}
	return nil, domain.ErrRequestNotFound
}

func (s *memStore) LatestCodeSentByPhone(_ context.Context, phoneNumber string, clientID uuid.UUID) (*domain.OTPRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.latest(func(r *domain.OTPRequest) bool {
		return r.PhoneNumber == phoneNumber && r.ClientID == clientID && r.Status == domain.StatusCodeSent
	})
	if r == nil {
		return nil, domain.ErrRequestNotFound
	}
	return copyReq(r), nil
}

func (s *memStore) LatestPendingByPhone(_ context.Context, phoneNumber string) (*domain.OTPRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.latest(func(r *domain.OTPRequest) bool {
		return r.PhoneNumber == phoneNumber && r.Status == domain.StatusPending
	})
	if r == nil {
		return nil, domain.ErrRequestNotFound
	}
	return copyReq(r), nil
}

func (s *memStore) LatestByPhoneClient(_ context.Context, phoneNumber string, clientID uuid.UUID) (*domain.OTPRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.latest(func(r *domain.OTPRequest) bool {
		return r.PhoneNumber == phoneNumber && r.ClientID == clientID
	})
	if r == nil {
		return nil, domain.ErrRequestNotFound
	}
	return copyReq(r), nil
}

func (s *memStore) MarkCodeSent(_ context.Context, id uuid.UUID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.find(id)
	if r == nil || r.Status != domain.StatusPending || !r.ExpiresAt.After(s.clock.Now()) {
		return domain.ErrRequestNotFound
	}
	r.Status = domain.StatusCodeSent
	r.SecretCode = &code
	return nil
}

func (s *memStore) MarkVerified(_ context.Context, id uuid.UUID, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.find(id)
	if r == nil || r.Status != domain.StatusCodeSent || r.SecretCode == nil ||
		*r.SecretCode != code || !r.ExpiresAt.After(s.clock.Now()) {
		return false, nil
	}
	r.Status = domain.StatusVerified
	at := s.clock.Now()
	r.VerifiedAt = &at
	return true, nil
}

func (s *memStore) MarkExpired(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.find(id); r != nil && r.IsActive() {
		r.Status = domain.StatusExpired
	}
	return nil
}

func (s *memStore) RevertToPending(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.find(id); r != nil && r.Status == domain.StatusCodeSent {
		r.Status = domain.StatusPending
		r.SecretCode = nil
	}
	return nil
}

func (s *memStore) IncrementAttempts(_ context.Context, id uuid.UUID, maxAttempts int) (int, domain.OTPRequestStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.find(id)
	if r == nil || r.Status != domain.StatusCodeSent {
		return 0, "", domain.ErrRequestNotFound
	}
	r.Attempts++
	if r.Attempts >= maxAttempts {
		r.Status = domain.StatusIncorrect
	}
	return r.Attempts, r.Status, nil
}

func (s *memStore) LatestCreatedAt(_ context.Context, phoneNumber string, clientID uuid.UUID) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.latest(func(r *domain.OTPRequest) bool {
		return r.PhoneNumber == phoneNumber && r.ClientID == clientID
	})
	if r == nil {
		return time.Time{}, domain.ErrRequestNotFound
	}
	return r.CreatedAt, nil
}

func (s *memStore) CountCreatedSince(_ context.Context, phoneNumber string, clientID uuid.UUID, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, r := range s.reqs {
		if r.PhoneNumber == phoneNumber && r.ClientID == clientID && !r.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *memStore) activeFor(phoneNumber string, clientID uuid.UUID) []*domain.OTPRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active []*domain.OTPRequest
	for _, r := range s.reqs {
		if r.PhoneNumber == phoneNumber && r.ClientID == clientID && r.IsActive() {
			active = append(active, copyReq(r))
		}
	}
	return active
}

// memLinks is an in-memory ChatLinkDirectory.
type memLinks struct {
	mu    sync.Mutex
	links map[string]*domain.ChatLink
}

func newMemLinks() *memLinks {
	return &memLinks{links: make(map[string]*domain.ChatLink)}
}

func (l *memLinks) Upsert(_ context.Context, link *domain.ChatLink) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := *link
	l.links[link.PhoneNumber] = &c
	return nil
}

func (l *memLinks) GetByPhone(_ context.Context, phoneNumber string) (*domain.ChatLink, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	link, ok := l.links[phoneNumber]
	if !ok {
		return nil, domain.ErrChatLinkNotFound
	}
	c := *link
	return &c, nil
}

func newTestService(t *testing.T) (*Service, *memStore, *memLinks, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	store := newMemStore(clock)
	links := newMemLinks()
	svc := NewService(Config{}, store, links)
	svc.now = clock.Now
	return svc, store, links, clock
}

func linkPhone(t *testing.T, links *memLinks, phone string, chatID int64) {
	t.Helper()
	if err := links.Upsert(context.Background(), &domain.ChatLink{PhoneNumber: phone, ChatID: chatID}); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
}

func TestCreate_ProactiveWhenLinked(t *testing.T) {
	svc, _, links, clock := newTestService(t)
	ctx := context.Background()
	clientID := uuid.New()
	linkPhone(t, links, "+12125550123", 42)

	req, link, err := svc.Create(ctx, "+12125550123", clientID, "login")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if req.Status != domain.StatusCodeSent {
		t.Errorf("status = %s, want code_sent", req.Status)
	}
	if req.SecretCode == nil || len(*req.SecretCode) != 6 {
		t.Errorf("secret code = %v, want 6-digit code", req.SecretCode)
	}
	if link == nil || link.ChatID != 42 {
		t.Errorf("link = %+v, want chat 42", link)
	}
	if want := clock.Now().Add(5 * time.Minute); !req.ExpiresAt.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", req.ExpiresAt, want)
	}
}

func TestCreate_PendingWithoutLink(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	req, link, err := svc.Create(ctx, "+12025550142", uuid.New(), "signup")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if req.Status != domain.StatusPending {
		t.Errorf("status = %s, want pending", req.Status)
	}
	if req.SecretCode != nil {
		t.Errorf("secret code = %q, want nil before delivery", *req.SecretCode)
	}
	if link != nil {
		t.Errorf("link = %+v, want nil", link)
	}
}

func TestCreate_AtMostOneActive(t *testing.T) {
	svc, store, links, clock := newTestService(t)
	ctx := context.Background()
	clientID := uuid.New()
	linkPhone(t, links, "+12125550123", 42)

	var lastID uuid.UUID
	for i := 0; i < 5; i++ {
		req, _, err := svc.Create(ctx, "+12125550123", clientID, "login")
		if err != nil {
			t.Fatalf("Create #%d error: %v", i, err)
		}
		lastID = req.ID
		clock.Advance(time.Second)

		active := store.activeFor("+12125550123", clientID)
		if len(active) != 1 {
			t.Fatalf("after create #%d: %d active requests, want 1", i, len(active))
		}
		if active[0].ID != lastID {
			t.Fatalf("after create #%d: active request is not the most recent", i)
		}
	}
}

func TestCreate_SupersededRequestsAreSoftExpired(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()
	clientID := uuid.New()

	first, _, err := svc.Create(ctx, "+12125550123", clientID, "login")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, _, err := svc.Create(ctx, "+12125550123", clientID, "login"); err != nil {
		t.Fatalf("second Create error: %v", err)
	}

	old, err := store.GetByID(ctx, first.ID, clientID)
	if err != nil {
		t.Fatalf("superseded request was deleted, want soft expiry: %v", err)
	}
	if old.Status != domain.StatusExpired {
		t.Errorf("superseded status = %s, want expired", old.Status)
	}
}

func TestVerify_SuccessThenSingleUse(t *testing.T) {
	svc, _, links, _ := newTestService(t)
	ctx := context.Background()
	clientID := uuid.New()
	linkPhone(t, links, "+12125550123", 42)

	req, _, err := svc.Create(ctx, "+12125550123", clientID, "login")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	code := *req.SecretCode

	verified, err := svc.Verify(ctx, Matcher{RequestID: &req.ID, ClientID: clientID}, code)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if verified.Status != domain.StatusVerified {
		t.Errorf("status = %s, want verified", verified.Status)
	}
	if verified.VerifiedAt == nil {
		t.Error("verifiedAt not set")
	}

	// The same code against the same identifiers must fail: no code_sent
	// record remains.
	if _, err := svc.Verify(ctx, Matcher{RequestID: &req.ID, ClientID: clientID}, code); !errors.Is(err, domain.ErrInvalidCode) {
		t.Errorf("second verify error = %v, want ErrInvalidCode", err)
	}
}

func TestVerify_ByPhoneMatcher(t *testing.T) {
	svc, _, links, _ := newTestService(t)
	ctx := context.Background()
	clientID := uuid.New()
	linkPhone(t, links, "+12125550123", 42)

	req, _, err := svc.Create(ctx, "+12125550123", clientID, "login")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	verified, err := svc.Verify(ctx, Matcher{PhoneNumber: "+12125550123", ClientID: clientID}, *req.SecretCode)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if verified.ID != req.ID {
		t.Errorf("verified request id = %s, want %s", verified.ID, req.ID)
	}
}

func TestVerify_WrongCodeLeavesCodeSent(t *testing.T) {
	svc, store, links, _ := newTestService(t)
	ctx := context.Background()
	clientID := uuid.New()
	linkPhone(t, links, "+12125550123", 42)

	req, _, err := svc.Create(ctx, "+12125550123", clientID, "login")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	wrong := "000000"
	if *req.SecretCode == wrong {
		wrong = "000001"
	}

	if _, err := svc.Verify(ctx, Matcher{RequestID: &req.ID, ClientID: clientID}, wrong); !errors.Is(err, domain.ErrInvalidCode) {
		t.Fatalf("Verify error = %v, want ErrInvalidCode", err)
	}

	after, err := store.GetByID(ctx, req.ID, clientID)
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if after.Status != domain.StatusCodeSent {
		t.Errorf("status after wrong code = %s, want code_sent", after.Status)
	}
	if after.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", after.Attempts)
	}

	// The right code still works after a wrong guess.
	if _, err := svc.Verify(ctx, Matcher{RequestID: &req.ID, ClientID: clientID}, *req.SecretCode); err != nil {
		t.Errorf("Verify with correct code after wrong guess: %v", err)
	}
}

func TestVerify_TerminatesIncorrectAfterMaxAttempts(t *testing.T) {
	svc, store, links, _ := newTestService(t)
	ctx := context.Background()
	clientID := uuid.New()
	linkPhone(t, links, "+12125550123", 42)

	req, _, err := svc.Create(ctx, "+12125550123", clientID, "login")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	wrong := "000000"
	if *req.SecretCode == wrong {
		wrong = "000001"
	}

	m := Matcher{RequestID: &req.ID, ClientID: clientID}
	for i := 0; i < domain.MaxVerifyAttempts-1; i++ {
		if _, err := svc.Verify(ctx, m, wrong); !errors.Is(err, domain.ErrInvalidCode) {
			t.Fatalf("attempt %d error = %v, want ErrInvalidCode", i+1, err)
		}
	}
	if _, err := svc.Verify(ctx, m, wrong); !errors.Is(err, domain.ErrTooManyAttempts) {
		t.Fatalf("final attempt error = %v, want ErrTooManyAttempts", err)
	}

	after, err := store.GetByID(ctx, req.ID, clientID)
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if after.Status != domain.StatusIncorrect {
		t.Errorf("status = %s, want incorrect", after.Status)
	}

	// Terminal: even the correct code is no longer matchable.
	if _, err := svc.Verify(ctx, m, *req.SecretCode); !errors.Is(err, domain.ErrInvalidCode) {
		t.Errorf("verify after incorrect error = %v, want ErrInvalidCode", err)
	}
}

func TestVerify_ExpiryBoundary(t *testing.T) {
	svc, store, links, clock := newTestService(t)
	ctx := context.Background()
	clientID := uuid.New()
	linkPhone(t, links, "+12125550123", 42)

	req, _, err := svc.Create(ctx, "+12125550123", clientID, "login")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	code := *req.SecretCode

	// Still verifiable one second before the window closes.
	clock.Advance(4*time.Minute + 59*time.Second)
	if _, err := svc.Verify(ctx, Matcher{RequestID: &req.ID, ClientID: clientID}, code); err != nil {
		t.Fatalf("Verify at 4m59s error: %v", err)
	}

	// A fresh request, checked past the window.
	req2, _, err := svc.Create(ctx, "+12125550123", clientID, "login")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	clock.Advance(5*time.Minute + 1*time.Second)
	if _, err := svc.Verify(ctx, Matcher{RequestID: &req2.ID, ClientID: clientID}, *req2.SecretCode); !errors.Is(err, domain.ErrCodeExpired) {
		t.Fatalf("Verify at 5m01s error = %v, want ErrCodeExpired", err)
	}

	after, err := store.GetByID(ctx, req2.ID, clientID)
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if after.Status != domain.StatusExpired {
		t.Errorf("status after overdue verify = %s, want expired", after.Status)
	}
}

func TestVerify_ScopedToClient(t *testing.T) {
	svc, _, links, _ := newTestService(t)
	ctx := context.Background()
	clientA, clientB := uuid.New(), uuid.New()
	linkPhone(t, links, "+12125550123", 42)

	req, _, err := svc.Create(ctx, "+12125550123", clientA, "login")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	if _, err := svc.Verify(ctx, Matcher{RequestID: &req.ID, ClientID: clientB}, *req.SecretCode); !errors.Is(err, domain.ErrInvalidCode) {
		t.Errorf("cross-client verify error = %v, want ErrInvalidCode", err)
	}
}

func TestActivateFromChatLink(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	clientID := uuid.New()

	// No link: request is created pending.
	req, _, err := svc.Create(ctx, "+12025550142", clientID, "signup")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	activated, err := svc.ActivateFromChatLink(ctx, "+12025550142")
	if err != nil {
		t.Fatalf("ActivateFromChatLink error: %v", err)
	}
	if activated.ID != req.ID {
		t.Errorf("activated id = %s, want %s", activated.ID, req.ID)
	}
	if activated.Status != domain.StatusCodeSent {
		t.Errorf("status = %s, want code_sent", activated.Status)
	}
	if activated.SecretCode == nil || len(*activated.SecretCode) != 6 {
		t.Errorf("secret code = %v, want 6-digit code", activated.SecretCode)
	}

	// Activation consumed the pending state; a second event finds nothing.
	if _, err := svc.ActivateFromChatLink(ctx, "+12025550142"); !errors.Is(err, domain.ErrRequestNotFound) {
		t.Errorf("second activation error = %v, want ErrRequestNotFound", err)
	}
}

func TestActivateFromChatLink_ExpiredPending(t *testing.T) {
	svc, store, _, clock := newTestService(t)
	ctx := context.Background()
	clientID := uuid.New()

	req, _, err := svc.Create(ctx, "+12025550142", clientID, "signup")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	clock.Advance(5*time.Minute + time.Second)

	if _, err := svc.ActivateFromChatLink(ctx, "+12025550142"); !errors.Is(err, domain.ErrCodeExpired) {
		t.Fatalf("error = %v, want ErrCodeExpired", err)
	}
	stored, err := store.GetByID(ctx, req.ID, clientID)
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if stored.Status != domain.StatusExpired {
		t.Errorf("stored status = %s, want expired", stored.Status)
	}
}

func TestActivateFromChatLink_NoPendingRequest(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.ActivateFromChatLink(context.Background(), "+12025550142")
	if !errors.Is(err, domain.ErrRequestNotFound) {
		t.Errorf("error = %v, want ErrRequestNotFound", err)
	}
}

func TestGetStatus_LazyExpiry(t *testing.T) {
	svc, store, _, clock := newTestService(t)
	ctx := context.Background()
	clientID := uuid.New()

	req, _, err := svc.Create(ctx, "+12025550142", clientID, "signup")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	clock.Advance(5*time.Minute + time.Second)
	got, err := svc.GetStatus(ctx, req.ID, clientID)
	if err != nil {
		t.Fatalf("GetStatus error: %v", err)
	}
	if got.Status != domain.StatusExpired {
		t.Errorf("status = %s, want expired", got.Status)
	}

	// The read transitioned the stored record, not just the returned copy.
	stored, err := store.GetByID(ctx, req.ID, clientID)
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if stored.Status != domain.StatusExpired {
		t.Errorf("stored status = %s, want expired", stored.Status)
	}
}

func TestGetStatus_ScopedToClient(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	req, _, err := svc.Create(ctx, "+12025550142", uuid.New(), "signup")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := svc.GetStatus(ctx, req.ID, uuid.New()); !errors.Is(err, domain.ErrRequestNotFound) {
		t.Errorf("cross-client status error = %v, want ErrRequestNotFound", err)
	}
}

func TestCheckResendGap(t *testing.T) {
	svc, _, _, clock := newTestService(t)
	ctx := context.Background()
	clientID := uuid.New()

	if err := svc.CheckResendGap(ctx, "+12125550123", clientID); err != nil {
		t.Fatalf("gap check with no prior request: %v", err)
	}

	if _, _, err := svc.Create(ctx, "+12125550123", clientID, "login"); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	clock.Advance(59 * time.Second)
	err := svc.CheckResendGap(ctx, "+12125550123", clientID)
	var throttled *domain.ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("error at 59s = %v, want ThrottledError", err)
	}
	if throttled.RetryAfter != 1 {
		t.Errorf("retryAfter = %d, want 1", throttled.RetryAfter)
	}

	clock.Advance(2 * time.Second)
	if err := svc.CheckResendGap(ctx, "+12125550123", clientID); err != nil {
		t.Errorf("gap check at 61s: %v", err)
	}
}

func TestCheckHourlyLimit(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore(clock)
	svc := NewService(Config{HourlyLimit: 3}, store, newMemLinks())
	svc.now = clock.Now
	ctx := context.Background()
	clientID := uuid.New()

	for i := 0; i < 3; i++ {
		if err := svc.CheckHourlyLimit(ctx, "+12125550123", clientID); err != nil {
			t.Fatalf("limit check #%d: %v", i, err)
		}
		if _, _, err := svc.Create(ctx, "+12125550123", clientID, "login"); err != nil {
			t.Fatalf("Create #%d error: %v", i, err)
		}
		clock.Advance(time.Minute)
	}

	if err := svc.CheckHourlyLimit(ctx, "+12125550123", clientID); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("limit check over cap error = %v, want ErrRateLimited", err)
	}

	// The window rolls: an hour after the first request, room frees up.
	clock.Advance(time.Hour)
	if err := svc.CheckHourlyLimit(ctx, "+12125550123", clientID); err != nil {
		t.Errorf("limit check after window rolled: %v", err)
	}
}
