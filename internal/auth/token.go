// Package auth provides password hashing, access token issuance, and API key
// generation for the account and dashboard surfaces.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/chatverify/chatverify/internal/domain"
)

// AccessTokenClaims represents the claims in a dashboard access token.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	PhoneNumber string `json:"phone_number,omitempty"`
}

// TokenConfig holds token signing parameters.
type TokenConfig struct {
	JWTSecret []byte
	Issuer    string
	TTL       time.Duration
}

// TokenService issues and validates dashboard access tokens.
type TokenService struct {
	config TokenConfig
}

// NewTokenService creates a new token service.
func NewTokenService(config TokenConfig) *TokenService {
	if config.TTL == 0 {
		config.TTL = 7 * 24 * time.Hour
	}
	if config.Issuer == "" {
		config.Issuer = "chatverify"
	}
	return &TokenService{config: config}
}

// Issue creates a signed access token for a user.
func (s *TokenService) Issue(userID uuid.UUID, phoneNumber string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.config.TTL)

	claims := AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    s.config.Issuer,
			ID:        uuid.New().String(),
		},
		PhoneNumber: phoneNumber,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.config.JWTSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Validate checks a token's signature and expiry and returns its claims.
func (s *TokenService) Validate(tokenString string) (*AccessTokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidToken
		}
		return s.config.JWTSecret, nil
	})
	if err != nil {
		return nil, domain.ErrInvalidToken
	}

	claims, ok := token.Claims.(*AccessTokenClaims)
	if !ok || !token.Valid {
		return nil, domain.ErrInvalidToken
	}
	return claims, nil
}

// UserID extracts the subject user ID from a validated token.
func (s *TokenService) UserID(tokenString string) (uuid.UUID, error) {
	claims, err := s.Validate(tokenString)
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(claims.Subject)
}
