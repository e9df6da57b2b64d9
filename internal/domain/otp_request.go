package domain

import (
	"time"

	"github.com/google/uuid"
)

// OTPRequestStatus is the state of a verification request.
type OTPRequestStatus string

const (
	// StatusPending means the request exists but no code has been generated yet
	// because the phone number has no chat link. The user must link their chat.
	StatusPending OTPRequestStatus = "pending"
	// StatusCodeSent means a code has been generated and delivered.
	StatusCodeSent OTPRequestStatus = "code_sent"
	// StatusVerified means the user submitted the correct code in time.
	StatusVerified OTPRequestStatus = "verified"
	// StatusExpired means the validity window passed before verification.
	StatusExpired OTPRequestStatus = "expired"
	// StatusIncorrect means the request was terminated after too many wrong codes.
	StatusIncorrect OTPRequestStatus = "incorrect"
)

const (
	// CodeValidity is the fixed validity window of a verification request.
	CodeValidity = 5 * time.Minute
	// MaxVerifyAttempts is the number of wrong codes tolerated before a
	// code_sent request is terminated as incorrect.
	MaxVerifyAttempts = 5
)

// OTPRequest is a phone verification request. The secret code is nil until
// delivery happens, either proactively at creation or later when the user
// links their chat.
type OTPRequest struct {
	ID          uuid.UUID
	PhoneNumber string
	ClientID    uuid.UUID
	ServiceName *string
	SecretCode  *string
	Status      OTPRequestStatus
	Attempts    int
	CreatedAt   time.Time
	ExpiresAt   time.Time
	VerifiedAt  *time.Time
}

// IsActive reports whether the request is still in a non-terminal state.
func (r *OTPRequest) IsActive() bool {
	return r.Status == StatusPending || r.Status == StatusCodeSent
}

// IsExpired reports whether the validity window has passed at the given time.
// Expiry is enforced lazily: callers that observe an overdue active request are
// responsible for transitioning it to expired.
func (r *OTPRequest) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
