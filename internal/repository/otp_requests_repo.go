package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/chatverify/chatverify/internal/domain"
)

// OTPRequestsRepository handles verification request persistence. State
// transitions are expressed as guarded UPDATE statements so the database stays
// the sole arbiter of the lifecycle even with concurrent callers.
type OTPRequestsRepository struct {
	db *sql.DB
}

// NewOTPRequestsRepository creates a new OTP requests repository.
func NewOTPRequestsRepository(db *sql.DB) *OTPRequestsRepository {
	return &OTPRequestsRepository{db: db}
}

const otpRequestColumns = `id, phone_number, client_id, service_name, secret_code, status, attempts, created_at, expires_at, verified_at`

func scanOTPRequest(row interface{ Scan(...any) error }) (*domain.OTPRequest, error) {
	req := &domain.OTPRequest{}
	err := row.Scan(
		&req.ID, &req.PhoneNumber, &req.ClientID, &req.ServiceName, &req.SecretCode,
		&req.Status, &req.Attempts, &req.CreatedAt, &req.ExpiresAt, &req.VerifiedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

// CreateTx inserts a new verification request within a transaction.
func (r *OTPRequestsRepository) CreateTx(ctx context.Context, q Querier, req *domain.OTPRequest) error {
	query := `
		INSERT INTO otp_requests (id, phone_number, client_id, service_name, secret_code, status, attempts, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := q.ExecContext(ctx, query,
		req.ID, req.PhoneNumber, req.ClientID, req.ServiceName, req.SecretCode,
		req.Status, req.Attempts, req.CreatedAt, req.ExpiresAt,
	)
	return err
}

// ExpireActiveTx soft-expires every active request for the (phone, client)
// pair. Superseded requests are never deleted; the audit trail stays intact.
func (r *OTPRequestsRepository) ExpireActiveTx(ctx context.Context, q Querier, phoneNumber string, clientID uuid.UUID) error {
	query := `
		UPDATE otp_requests
		SET status = 'expired'
		WHERE phone_number = $1 AND client_id = $2 AND status IN ('pending', 'code_sent')
	`
	_, err := q.ExecContext(ctx, query, phoneNumber, clientID)
	return err
}

// supersedeRetries bounds how often a create is retried when concurrent
// creates for the same (phone, client) pair collide on the partial unique
// index over active rows.
const supersedeRetries = 3

// CreateSuperseding expires prior active requests for the same (phone, client)
// pair and inserts the new one in a single transaction. Two transactions
// racing here can each see zero active rows under READ COMMITTED and both
// insert; the idx_otp_requests_one_active unique index rejects the second
// commit, and the loser re-runs the transaction so its expire step observes
// the winner's row.
func (r *OTPRequestsRepository) CreateSuperseding(ctx context.Context, req *domain.OTPRequest) error {
	var err error
	for attempt := 0; attempt < supersedeRetries; attempt++ {
		err = Tx(ctx, r.db, func(tx *sql.Tx) error {
			if err := r.ExpireActiveTx(ctx, tx, req.PhoneNumber, req.ClientID); err != nil {
				return fmt.Errorf("failed to expire prior requests: %w", err)
			}
			if err := r.CreateTx(ctx, tx, req); err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}
			return nil
		})
		if !isUniqueViolation(err) {
			return err
		}
	}
	return err
}

// isUniqueViolation reports whether err is a Postgres unique_violation,
// possibly wrapped.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// GetByID retrieves a request scoped to a client, so one client cannot read
// another client's request by id.
func (r *OTPRequestsRepository) GetByID(ctx context.Context, id, clientID uuid.UUID) (*domain.OTPRequest, error) {
	query := `
		SELECT ` + otpRequestColumns + `
		FROM otp_requests
		WHERE id = $1 AND client_id = $2
	`
	return scanOTPRequest(r.db.QueryRowContext(ctx, query, id, clientID))
}

// LatestCodeSentByID retrieves a code_sent request by id and client.
func (r *OTPRequestsRepository) LatestCodeSentByID(ctx context.Context, id, clientID uuid.UUID) (*domain.OTPRequest, error) {
	query := `
		SELECT ` + otpRequestColumns + `
		FROM otp_requests
		WHERE id = $1 AND client_id = $2 AND status = 'code_sent'
	`
	return scanOTPRequest(r.db.QueryRowContext(ctx, query, id, clientID))
}

// LatestCodeSentByPhone retrieves the most recent code_sent request for a
// (phone, client) pair.
func (r *OTPRequestsRepository) LatestCodeSentByPhone(ctx context.Context, phoneNumber string, clientID uuid.UUID) (*domain.OTPRequest, error) {
	query := `
		SELECT ` + otpRequestColumns + `
		FROM otp_requests
		WHERE phone_number = $1 AND client_id = $2 AND status = 'code_sent'
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanOTPRequest(r.db.QueryRowContext(ctx, query, phoneNumber, clientID))
}

// LatestPendingByPhone retrieves the most recent pending request for a phone
// number across all clients. The chat-link event is phone-scoped: the user
// sharing their contact does not know which client asked. Overdue rows are
// returned so the caller can expire them and tell the user to start over.
func (r *OTPRequestsRepository) LatestPendingByPhone(ctx context.Context, phoneNumber string) (*domain.OTPRequest, error) {
	query := `
		SELECT ` + otpRequestColumns + `
		FROM otp_requests
		WHERE phone_number = $1 AND status = 'pending'
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanOTPRequest(r.db.QueryRowContext(ctx, query, phoneNumber))
}

// LatestByPhoneClient retrieves the most recent request for a (phone, client)
// pair regardless of status. Account flows use it to chain a created request
// into their follow-up verify step.
func (r *OTPRequestsRepository) LatestByPhoneClient(ctx context.Context, phoneNumber string, clientID uuid.UUID) (*domain.OTPRequest, error) {
	query := `
		SELECT ` + otpRequestColumns + `
		FROM otp_requests
		WHERE phone_number = $1 AND client_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanOTPRequest(r.db.QueryRowContext(ctx, query, phoneNumber, clientID))
}

// MarkCodeSent stores a freshly generated code on a still-pending, unexpired
// request. Returns ErrRequestNotFound if the request was concurrently
// superseded, expired, or already activated.
func (r *OTPRequestsRepository) MarkCodeSent(ctx context.Context, id uuid.UUID, code string) error {
	query := `
		UPDATE otp_requests
		SET status = 'code_sent', secret_code = $2
		WHERE id = $1 AND status = 'pending' AND expires_at > NOW()
	`
	result, err := r.db.ExecContext(ctx, query, id, code)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrRequestNotFound
	}
	return nil
}

// MarkVerified transitions a code_sent request to verified if and only if the
// submitted code matches and the window has not passed. The guard makes verify
// fail closed when the code was concurrently cleared or the status changed.
func (r *OTPRequestsRepository) MarkVerified(ctx context.Context, id uuid.UUID, code string) (bool, error) {
	query := `
		UPDATE otp_requests
		SET status = 'verified', verified_at = NOW()
		WHERE id = $1 AND status = 'code_sent' AND secret_code = $2 AND expires_at > NOW()
	`
	result, err := r.db.ExecContext(ctx, query, id, code)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// MarkExpired flips an active request to expired. Safe to apply redundantly
// from concurrent readers observing the same overdue request.
func (r *OTPRequestsRepository) MarkExpired(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE otp_requests
		SET status = 'expired'
		WHERE id = $1 AND status IN ('pending', 'code_sent')
	`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// RevertToPending undoes a proactive delivery that failed: the code is cleared
// so a partially delivered secret can never be matched later.
func (r *OTPRequestsRepository) RevertToPending(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE otp_requests
		SET status = 'pending', secret_code = NULL
		WHERE id = $1 AND status = 'code_sent'
	`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// IncrementAttempts records a wrong code submission. Once the attempt count
// reaches maxAttempts the request terminates as incorrect. Returns the new
// attempt count and status.
func (r *OTPRequestsRepository) IncrementAttempts(ctx context.Context, id uuid.UUID, maxAttempts int) (int, domain.OTPRequestStatus, error) {
	query := `
		UPDATE otp_requests
		SET attempts = attempts + 1,
		    status = CASE WHEN attempts + 1 >= $2 THEN 'incorrect' ELSE status END
		WHERE id = $1 AND status = 'code_sent'
		RETURNING attempts, status
	`
	var attempts int
	var status domain.OTPRequestStatus
	err := r.db.QueryRowContext(ctx, query, id, maxAttempts).Scan(&attempts, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", domain.ErrRequestNotFound
	}
	if err != nil {
		return 0, "", err
	}
	return attempts, status, nil
}

// LatestCreatedAt returns the creation time of the most recent request for a
// (phone, client) pair. Used by the resend throttle.
func (r *OTPRequestsRepository) LatestCreatedAt(ctx context.Context, phoneNumber string, clientID uuid.UUID) (time.Time, error) {
	query := `
		SELECT created_at
		FROM otp_requests
		WHERE phone_number = $1 AND client_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	var createdAt time.Time
	err := r.db.QueryRowContext(ctx, query, phoneNumber, clientID).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, domain.ErrRequestNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	return createdAt, nil
}

// CountCreatedSince counts requests for a (phone, client) pair within a
// rolling window. Used by the hourly rate limit.
func (r *OTPRequestsRepository) CountCreatedSince(ctx context.Context, phoneNumber string, clientID uuid.UUID, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM otp_requests
		WHERE phone_number = $1 AND client_id = $2 AND created_at >= $3
	`
	var count int
	err := r.db.QueryRowContext(ctx, query, phoneNumber, clientID, since).Scan(&count)
	return count, err
}

// ExpireOverdueForClients applies lazy expiry in bulk before listing, so
// dashboard reads never show an active status past its window.
func (r *OTPRequestsRepository) ExpireOverdueForClients(ctx context.Context, clientIDs []uuid.UUID) error {
	query := `
		UPDATE otp_requests
		SET status = 'expired'
		WHERE client_id = ANY($1) AND status IN ('pending', 'code_sent') AND expires_at <= NOW()
	`
	_, err := r.db.ExecContext(ctx, query, pq.Array(clientIDs))
	return err
}

// RequestFilter narrows dashboard listings and counts.
type RequestFilter struct {
	ClientIDs   []uuid.UUID
	PhoneNumber string
	ServiceName string
	Status      domain.OTPRequestStatus
	From        *time.Time
	To          *time.Time
}

func (f RequestFilter) where() (string, []any) {
	conds := []string{"r.client_id = ANY($1)"}
	args := []any{pq.Array(f.ClientIDs)}

	if f.PhoneNumber != "" {
		args = append(args, "%"+f.PhoneNumber+"%")
		conds = append(conds, fmt.Sprintf("r.phone_number LIKE $%d", len(args)))
	}
	if f.ServiceName != "" {
		args = append(args, "%"+f.ServiceName+"%")
		conds = append(conds, fmt.Sprintf("COALESCE(r.service_name, c.name) ILIKE $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("r.status = $%d", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		conds = append(conds, fmt.Sprintf("r.created_at >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		conds = append(conds, fmt.Sprintf("r.created_at <= $%d", len(args)))
	}
	return strings.Join(conds, " AND "), args
}

// RequestListItem is a dashboard listing row. ServiceName falls back to the
// client name when the request did not carry a label.
type RequestListItem struct {
	ID          uuid.UUID
	PhoneNumber string
	ServiceName string
	Status      domain.OTPRequestStatus
	CreatedAt   time.Time
	VerifiedAt  *time.Time
}

// List returns a page of requests matching the filter, newest first, plus the
// total match count for pagination.
func (r *OTPRequestsRepository) List(ctx context.Context, filter RequestFilter, page, limit int) ([]RequestListItem, int, error) {
	where, args := filter.where()

	countQuery := `
		SELECT COUNT(*)
		FROM otp_requests r
		JOIN api_clients c ON c.id = r.client_id
		WHERE ` + where
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, (page-1)*limit)
	listQuery := fmt.Sprintf(`
		SELECT r.id, r.phone_number, COALESCE(r.service_name, c.name), r.status, r.created_at, r.verified_at
		FROM otp_requests r
		JOIN api_clients c ON c.id = r.client_id
		WHERE %s
		ORDER BY r.created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []RequestListItem
	for rows.Next() {
		var item RequestListItem
		if err := rows.Scan(&item.ID, &item.PhoneNumber, &item.ServiceName, &item.Status, &item.CreatedAt, &item.VerifiedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

// Count counts requests matching the filter.
func (r *OTPRequestsRepository) Count(ctx context.Context, filter RequestFilter) (int, error) {
	where, args := filter.where()
	query := `
		SELECT COUNT(*)
		FROM otp_requests r
		JOIN api_clients c ON c.id = r.client_id
		WHERE ` + where
	var count int
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

// CountAll counts every request in the store, optionally restricted by status
// and creation time. Used by service-wide admin stats.
func (r *OTPRequestsRepository) CountAll(ctx context.Context, status domain.OTPRequestStatus, since *time.Time) (int, error) {
	conds := []string{"TRUE"}
	var args []any
	if status != "" {
		args = append(args, status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if since != nil {
		args = append(args, *since)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	query := `SELECT COUNT(*) FROM otp_requests WHERE ` + strings.Join(conds, " AND ")
	var count int
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

// DailyCount is a per-day request count for chart series.
type DailyCount struct {
	Day   time.Time
	Count int
}

// DailyCounts groups request creation by UTC day for a client set within a
// range. Bucketing is pinned to UTC so callers computing month boundaries in
// UTC line up with the buckets regardless of the session time zone.
func (r *OTPRequestsRepository) DailyCounts(ctx context.Context, clientIDs []uuid.UUID, from, to time.Time) ([]DailyCount, error) {
	query := `
		SELECT date_trunc('day', created_at AT TIME ZONE 'UTC') AS day, COUNT(*)
		FROM otp_requests
		WHERE client_id = ANY($1) AND created_at >= $2 AND created_at < $3
		GROUP BY day
		ORDER BY day
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(clientIDs), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []DailyCount
	for rows.Next() {
		var c DailyCount
		if err := rows.Scan(&c.Day, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// MonthlyStat aggregates a calendar month for the reports endpoint.
type MonthlyStat struct {
	Month    time.Time
	Total    int
	Verified int
	Expired  int
}

// MonthlyStats groups request outcomes by UTC month, newest first.
func (r *OTPRequestsRepository) MonthlyStats(ctx context.Context, clientIDs []uuid.UUID, from time.Time) ([]MonthlyStat, error) {
	query := `
		SELECT date_trunc('month', created_at AT TIME ZONE 'UTC') AS month,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'verified'),
		       COUNT(*) FILTER (WHERE status = 'expired')
		FROM otp_requests
		WHERE client_id = ANY($1) AND created_at >= $2
		GROUP BY month
		ORDER BY month DESC
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(clientIDs), from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []MonthlyStat
	for rows.Next() {
		var s MonthlyStat
		if err := rows.Scan(&s.Month, &s.Total, &s.Verified, &s.Expired); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// CountByClient returns total request counts keyed by client id, for client
// listings that show per-client usage.
func (r *OTPRequestsRepository) CountByClient(ctx context.Context, clientIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	query := `
		SELECT client_id, COUNT(*)
		FROM otp_requests
		WHERE client_id = ANY($1)
		GROUP BY client_id
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(clientIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var id uuid.UUID
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		counts[id] = count
	}
	return counts, rows.Err()
}
