package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/chatverify/chatverify/internal/domain"
)

// APIClientsRepository handles API client persistence. Clients authenticate
// with an API key that is stored hashed; only the hash ever touches the
// database.
type APIClientsRepository struct {
	db *sql.DB
}

// NewAPIClientsRepository creates a new API clients repository.
func NewAPIClientsRepository(db *sql.DB) *APIClientsRepository {
	return &APIClientsRepository{db: db}
}

const apiClientColumns = `id, user_id, name, api_key_hash, key_prefix, webhook_url, is_active, created_at`

func scanAPIClient(row interface{ Scan(...any) error }) (*domain.APIClient, error) {
	client := &domain.APIClient{}
	err := row.Scan(
		&client.ID, &client.UserID, &client.Name, &client.APIKeyHash, &client.KeyPrefix,
		&client.WebhookURL, &client.IsActive, &client.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Create creates a new API client.
func (r *APIClientsRepository) Create(ctx context.Context, client *domain.APIClient) error {
	return r.CreateTx(ctx, r.db, client)
}

// CreateTx creates a new API client within a transaction.
func (r *APIClientsRepository) CreateTx(ctx context.Context, q Querier, client *domain.APIClient) error {
	query := `
		INSERT INTO api_clients (id, user_id, name, api_key_hash, key_prefix, webhook_url, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := q.ExecContext(ctx, query,
		client.ID, client.UserID, client.Name, client.APIKeyHash, client.KeyPrefix,
		client.WebhookURL, client.IsActive, client.CreatedAt,
	)
	return err
}

// GetByID retrieves an API client by id.
func (r *APIClientsRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.APIClient, error) {
	query := `SELECT ` + apiClientColumns + ` FROM api_clients WHERE id = $1`
	return scanAPIClient(r.db.QueryRowContext(ctx, query, id))
}

// GetByKeyHash retrieves an API client by the hash of its API key.
func (r *APIClientsRepository) GetByKeyHash(ctx context.Context, keyHash string) (*domain.APIClient, error) {
	query := `SELECT ` + apiClientColumns + ` FROM api_clients WHERE api_key_hash = $1`
	return scanAPIClient(r.db.QueryRowContext(ctx, query, keyHash))
}

// GetByName retrieves an API client by name. Used to locate the platform's
// own client at startup.
func (r *APIClientsRepository) GetByName(ctx context.Context, name string) (*domain.APIClient, error) {
	query := `
		SELECT ` + apiClientColumns + `
		FROM api_clients
		WHERE name = $1
		ORDER BY created_at
		LIMIT 1
	`
	return scanAPIClient(r.db.QueryRowContext(ctx, query, name))
}

// ListByUser lists a user's API clients, newest first.
func (r *APIClientsRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.APIClient, error) {
	query := `
		SELECT ` + apiClientColumns + `
		FROM api_clients
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	return r.list(ctx, query, userID)
}

// ListAll lists every API client, newest first.
func (r *APIClientsRepository) ListAll(ctx context.Context) ([]*domain.APIClient, error) {
	query := `SELECT ` + apiClientColumns + ` FROM api_clients ORDER BY created_at DESC`
	return r.list(ctx, query)
}

func (r *APIClientsRepository) list(ctx context.Context, query string, args ...any) ([]*domain.APIClient, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []*domain.APIClient
	for rows.Next() {
		client, err := scanAPIClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}
	return clients, rows.Err()
}

// Update updates a client's name, webhook URL, and active flag.
func (r *APIClientsRepository) Update(ctx context.Context, client *domain.APIClient) error {
	query := `
		UPDATE api_clients
		SET name = $2, webhook_url = $3, is_active = $4
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, client.ID, client.Name, client.WebhookURL, client.IsActive)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrClientNotFound
	}
	return nil
}

// Count counts API clients, optionally only active ones.
func (r *APIClientsRepository) Count(ctx context.Context, activeOnly bool) (int, error) {
	query := `SELECT COUNT(*) FROM api_clients`
	if activeOnly {
		query += ` WHERE is_active`
	}
	var count int
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}

// IDsByUser returns the ids of a user's clients, for scoping dashboard queries.
func (r *APIClientsRepository) IDsByUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	query := `SELECT id FROM api_clients WHERE user_id = $1`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
