package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/chatverify/chatverify/internal/domain"
)

// ChatLinksRepository handles the phone-to-chat directory. Rows are written
// only from contact-sharing events; everything else reads.
type ChatLinksRepository struct {
	db *sql.DB
}

// NewChatLinksRepository creates a new chat links repository.
func NewChatLinksRepository(db *sql.DB) *ChatLinksRepository {
	return &ChatLinksRepository{db: db}
}

// Upsert creates or replaces the link for a phone number. Last writer wins:
// re-sharing from another device or account moves the destination.
func (r *ChatLinksRepository) Upsert(ctx context.Context, link *domain.ChatLink) error {
	query := `
		INSERT INTO chat_links (phone_number, chat_id, first_name, last_name, username, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (phone_number) DO UPDATE
		SET chat_id = EXCLUDED.chat_id,
		    first_name = EXCLUDED.first_name,
		    last_name = EXCLUDED.last_name,
		    username = EXCLUDED.username,
		    updated_at = NOW()
	`
	_, err := r.db.ExecContext(ctx, query,
		link.PhoneNumber, link.ChatID, link.FirstName, link.LastName, link.Username,
	)
	return err
}

// GetByPhone retrieves the chat link for a phone number.
func (r *ChatLinksRepository) GetByPhone(ctx context.Context, phoneNumber string) (*domain.ChatLink, error) {
	query := `
		SELECT phone_number, chat_id, first_name, last_name, username, created_at, updated_at
		FROM chat_links
		WHERE phone_number = $1
	`
	link := &domain.ChatLink{}
	err := r.db.QueryRowContext(ctx, query, phoneNumber).Scan(
		&link.PhoneNumber, &link.ChatID, &link.FirstName, &link.LastName, &link.Username,
		&link.CreatedAt, &link.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrChatLinkNotFound
	}
	if err != nil {
		return nil, err
	}
	return link, nil
}
