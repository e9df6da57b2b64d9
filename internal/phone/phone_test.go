package phone

import (
	"errors"
	"testing"

	"github.com/chatverify/chatverify/internal/domain"
)

func TestNormalize_SameNumberSameIdentity(t *testing.T) {
	// Differently formatted inputs for the same number must normalize to an
	// identical string, since the normalized form is the storage key.
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"e164", "+12125550123", "+12125550123"},
		{"missing plus", "12125550123", "+12125550123"},
		{"spaces and punctuation", "+1 (212) 555-0123", "+12125550123"},
		{"dots", "+1.212.555.0123", "+12125550123"},
		{"uzbek number", "+998 90 123 45 67", "+998901234567"},
		{"uzbek without plus", "998901234567", "+998901234567"},
		{"uk number with spaces", "+44 20 7946 0958", "+442079460958"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.input)
			if err != nil {
				t.Fatalf("Normalize(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	first, err := Normalize("+1 (212) 555-0123")
	if err != nil {
		t.Fatalf("first Normalize error: %v", err)
	}
	second, err := Normalize(first)
	if err != nil {
		t.Fatalf("second Normalize error: %v", err)
	}
	if first != second {
		t.Errorf("normalization is not idempotent: %q != %q", first, second)
	}
}

func TestNormalize_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"letters only", "not a phone"},
		{"too short", "+1"},
		{"unassignable country code", "+999123456789"},
		{"plus only", "+"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.input)
			if !errors.Is(err, domain.ErrInvalidPhoneNumber) {
				t.Errorf("Normalize(%q) error = %v, want ErrInvalidPhoneNumber", tt.input, err)
			}
		})
	}
}
