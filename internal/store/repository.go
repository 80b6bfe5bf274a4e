/**
 * @description
 * This file implements the PostgreSQL audit trail for the checkout flow: one row
 * per gateway submission attempt and one row per manual payment request.
 * Tables are created by db/migrations.
 */
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/directory/payment-service/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines the audit operations used by the checkout core.
type Repository interface {
	InsertPaymentAttempt(ctx context.Context, attempt *domain.PaymentAttempt) error
	CreateManualPaymentRequest(ctx context.Context, sessionID, userID string, record *domain.ManualPaymentRecord) (string, error)
	ExpireManualPaymentRequests(ctx context.Context, createdBefore time.Time) (int64, error)
}

// PostgresRepository implements Repository on a pgx pool.
type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// InsertPaymentAttempt records one submission attempt and its outcome.
func (r *PostgresRepository) InsertPaymentAttempt(ctx context.Context, attempt *domain.PaymentAttempt) error {
	query := `
        INSERT INTO checkout_payment_attempts
            (session_id, txnid, user_id, package_id, amount, status, error_code, attempt_index, created_at)
        VALUES ($1, $2, $3, $4, $5::numeric, $6, NULLIF($7, ''), $8, $9)
        ON CONFLICT (txnid) DO UPDATE SET
            status = EXCLUDED.status,
            error_code = EXCLUDED.error_code
    `
	_, err := r.db.Exec(ctx, query,
		attempt.SessionID,
		attempt.TransactionID,
		attempt.UserID,
		attempt.PackageID,
		attempt.Amount,
		attempt.Status,
		attempt.ErrorCode,
		attempt.AttemptIndex,
		attempt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment attempt: %w", err)
	}
	return nil
}

// CreateManualPaymentRequest stores a pending manual payment intent and returns its id.
func (r *PostgresRepository) CreateManualPaymentRequest(ctx context.Context, sessionID, userID string, record *domain.ManualPaymentRecord) (string, error) {
	var id string
	query := `
        INSERT INTO manual_payment_requests
            (id, session_id, user_id, package_id, package_name, amount, user_email, user_name, payment_type, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11)
        RETURNING id
    `
	err := r.db.QueryRow(ctx, query,
		record.ID,
		sessionID,
		userID,
		record.PackageID,
		record.PackageName,
		record.Amount,
		record.UserEmail,
		record.UserName,
		string(record.PaymentType),
		string(record.Status),
		record.Timestamp,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to create manual payment request: %w", err)
	}
	return id, nil
}

// ExpireManualPaymentRequests marks pending manual requests older than the cutoff
// as expired.
func (r *PostgresRepository) ExpireManualPaymentRequests(ctx context.Context, createdBefore time.Time) (int64, error) {
	query := `
        UPDATE manual_payment_requests
        SET status = $1, updated_at = NOW()
        WHERE status = $2 AND created_at < $3
    `
	tag, err := r.db.Exec(ctx, query, string(domain.ManualPaymentExpired), string(domain.ManualPaymentPending), createdBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to expire manual payment requests: %w", err)
	}
	return tag.RowsAffected(), nil
}
