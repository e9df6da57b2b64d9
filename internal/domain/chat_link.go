package domain

import "time"

// ChatLink maps a normalized phone number to the messaging chat that can
// receive codes for it. A phone number has at most one link; re-sharing a
// contact from a different chat overwrites the previous one.
type ChatLink struct {
	PhoneNumber string
	ChatID      int64
	FirstName   *string
	LastName    *string
	Username    *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
