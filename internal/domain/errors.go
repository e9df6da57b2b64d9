package domain

import (
	"errors"
	"fmt"
)

// Verification errors
var (
	ErrInvalidPhoneNumber = errors.New("invalid phone number")
	ErrRequestNotFound    = errors.New("verification request not found")
	ErrCodeExpired        = errors.New("verification code expired")
	ErrInvalidCode        = errors.New("invalid verification code")
	ErrTooManyAttempts    = errors.New("too many incorrect attempts")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrDeliveryFailed     = errors.New("message delivery failed")
	ErrChatLinkNotFound   = errors.New("chat link not found")
)

// Account errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrUserNotVerified    = errors.New("user not verified")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account is deactivated")
	ErrInvalidToken       = errors.New("invalid token")
	ErrClientNotFound     = errors.New("api client not found")
	ErrWeakPassword       = errors.New("password does not meet requirements")
)

// ThrottledError is returned when a resend is attempted before the minimum
// inter-request gap has elapsed. RetryAfter is always at least one second.
type ThrottledError struct {
	RetryAfter int
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("please wait %d seconds before requesting a new code", e.RetryAfter)
}
