package domain

import (
	"time"

	"github.com/google/uuid"
)

// APIClient is a third-party application allowed to request phone
// verifications. The raw API key is shown once at creation and stored hashed.
type APIClient struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Name       string
	APIKeyHash string
	KeyPrefix  string
	WebhookURL *string
	IsActive   bool
	CreatedAt  time.Time
}
