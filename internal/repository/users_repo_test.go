package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/chatverify/chatverify/internal/domain"
)

func TestUpdate_PersistsCredentialsAndAccountType(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer db.Close()
	repo := NewUsersRepository(db)

	user := &domain.User{
		ID:           uuid.New(),
		PhoneNumber:  "+12125550123",
		PasswordHash: "$argon2id$v=19$m=65536,t=1,p=4$salt$hash",
		FirstName:    "Dana",
		LastName:     "Reed",
		ProjectName:  "Acme Portal",
		AccountType:  domain.AccountTypeLegalEntity,
	}

	// Re-registering a draft account replaces the password and account type;
	// the statement must carry both, not just the profile columns.
	mock.ExpectExec(`(?s)UPDATE users.*account_type.*password_hash`).
		WithArgs(
			user.ID, user.FirstName, user.LastName, user.ProjectName, user.AccountType,
			nil, nil, nil, user.PasswordHash, sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Update(context.Background(), user); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpdate_UnknownUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer db.Close()
	repo := NewUsersRepository(db)

	mock.ExpectExec(`UPDATE users`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.Update(context.Background(), &domain.User{ID: uuid.New()})
	if !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("Update error = %v, want ErrUserNotFound", err)
	}
}
