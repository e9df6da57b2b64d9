package domain

import (
	"time"

	"github.com/google/uuid"
)

// AccountType distinguishes personal accounts from registered companies.
type AccountType string

const (
	AccountTypeIndividual  AccountType = "individual"
	AccountTypeLegalEntity AccountType = "legal_entity"
)

// User is a dashboard account. A user owns API clients; their phone number is
// the login identifier and must be verified before the account is usable.
type User struct {
	ID           uuid.UUID
	PhoneNumber  string
	PasswordHash string
	FirstName    string
	LastName     string
	ProjectName  string
	AccountType  AccountType
	CompanyName  *string
	TaxID        *string
	DirectorName *string
	IsVerified   bool
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
