/**
 * @description
 * This file implements the data access layer against PostgreSQL using pgx.
 * It contains all SQL for users, consultation audit rows and payments,
 * including the atomic payment approval used by the reconciler.
 */
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/danfezap/danfe-service/internal/domain"
)

// PostgresRepository is the pgx-backed implementation of Repository.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository backed by the given pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindUserByPhone retrieves a user by their normalized phone number.
func (r *PostgresRepository) FindUserByPhone(ctx context.Context, phone string) (*domain.User, error) {
	query := `
        SELECT id, phone, COALESCE(name, ''), free_credits, is_subscriber,
               monthly_used, monthly_limit, expires_at, active, created_at, updated_at
        FROM users
        WHERE phone = $1
    `
	var u domain.User
	err := r.db.QueryRow(ctx, query, phone).Scan(
		&u.ID,
		&u.Phone,
		&u.Name,
		&u.FreeCredits,
		&u.IsSubscriber,
		&u.MonthlyUsed,
		&u.MonthlyLimit,
		&u.ExpiresAt,
		&u.Active,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// FindUserByID retrieves a user by their internal id.
func (r *PostgresRepository) FindUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `
        SELECT id, phone, COALESCE(name, ''), free_credits, is_subscriber,
               monthly_used, monthly_limit, expires_at, active, created_at, updated_at
        FROM users
        WHERE id = $1
    `
	var u domain.User
	err := r.db.QueryRow(ctx, query, id).Scan(
		&u.ID,
		&u.Phone,
		&u.Name,
		&u.FreeCredits,
		&u.IsSubscriber,
		&u.MonthlyUsed,
		&u.MonthlyLimit,
		&u.ExpiresAt,
		&u.Active,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new user row. The phone column carries a unique
// constraint; a concurrent first contact loses the race and should re-read.
func (r *PostgresRepository) CreateUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	query := `
        INSERT INTO users (phone, name, free_credits, is_subscriber, monthly_used, monthly_limit, active)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (phone) DO NOTHING
        RETURNING id, phone, COALESCE(name, ''), free_credits, is_subscriber,
                  monthly_used, monthly_limit, expires_at, active, created_at, updated_at
    `
	var created domain.User
	err := r.db.QueryRow(ctx, query,
		user.Phone,
		user.Name,
		user.FreeCredits,
		user.IsSubscriber,
		user.MonthlyUsed,
		user.MonthlyLimit,
		user.Active,
	).Scan(
		&created.ID,
		&created.Phone,
		&created.Name,
		&created.FreeCredits,
		&created.IsSubscriber,
		&created.MonthlyUsed,
		&created.MonthlyLimit,
		&created.ExpiresAt,
		&created.Active,
		&created.CreatedAt,
		&created.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the insert race; the row exists now.
			return r.FindUserByPhone(ctx, user.Phone)
		}
		return nil, err
	}
	return &created, nil
}

// ConsumeLookup applies one delivered lookup to the user's counters. The
// subscriber branch is resolved inside the UPDATE rather than on a snapshot
// read earlier, so a subscription activated concurrently is never clobbered.
func (r *PostgresRepository) ConsumeLookup(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	query := `
        UPDATE users
        SET free_credits = CASE WHEN is_subscriber THEN free_credits ELSE GREATEST(free_credits - 1, 0) END,
            monthly_used = CASE WHEN is_subscriber THEN monthly_used + 1 ELSE monthly_used END,
            updated_at = NOW()
        WHERE id = $1
        RETURNING id, phone, COALESCE(name, ''), free_credits, is_subscriber,
                  monthly_used, monthly_limit, expires_at, active, created_at, updated_at
    `
	var u domain.User
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&u.ID,
		&u.Phone,
		&u.Name,
		&u.FreeCredits,
		&u.IsSubscriber,
		&u.MonthlyUsed,
		&u.MonthlyLimit,
		&u.ExpiresAt,
		&u.Active,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateConsultation appends an audit row for a lookup attempt.
func (r *PostgresRepository) CreateConsultation(ctx context.Context, c *domain.Consultation) error {
	query := `
        INSERT INTO consultations (user_id, access_key, succeeded, attempts, last_error)
        VALUES ($1, $2, $3, $4, $5)
    `
	attempts := c.Attempts
	if attempts < 1 {
		attempts = 1
	}
	_, err := r.db.Exec(ctx, query, c.UserID, c.AccessKey, c.Succeeded, attempts, c.LastError)
	return err
}

// CountSuccessfulConsultations returns how many lookups succeeded for a user.
func (r *PostgresRepository) CountSuccessfulConsultations(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM consultations WHERE user_id = $1 AND succeeded = TRUE`
	if err := r.db.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// CreatePayment records a freshly issued charge in pending status.
func (r *PostgresRepository) CreatePayment(ctx context.Context, p *domain.Payment) (*domain.Payment, error) {
	query := `
        INSERT INTO payments (user_id, amount_cents, external_transaction_id, status)
        VALUES ($1, $2, $3, $4)
        RETURNING id, user_id, amount_cents, external_transaction_id, status, paid_at, created_at, updated_at
    `
	status := p.Status
	if status == "" {
		status = domain.PaymentStatusPending
	}
	var created domain.Payment
	err := r.db.QueryRow(ctx, query, p.UserID, p.AmountCents, p.ExternalTransactionID, status).Scan(
		&created.ID,
		&created.UserID,
		&created.AmountCents,
		&created.ExternalTransactionID,
		&created.Status,
		&created.PaidAt,
		&created.CreatedAt,
		&created.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// FindPaymentByExternalID retrieves a payment by its gateway transaction id.
// The column is uniquely indexed.
func (r *PostgresRepository) FindPaymentByExternalID(ctx context.Context, externalTransactionID string) (*domain.Payment, error) {
	query := `
        SELECT id, user_id, amount_cents, external_transaction_id, status, paid_at, created_at, updated_at
        FROM payments
        WHERE external_transaction_id = $1
    `
	var p domain.Payment
	err := r.db.QueryRow(ctx, query, externalTransactionID).Scan(
		&p.ID,
		&p.UserID,
		&p.AmountCents,
		&p.ExternalTransactionID,
		&p.Status,
		&p.PaidAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ApprovePaymentAndActivateUser transitions a payment from pending to approved
// and applies the user entitlement snapshot within one transaction. The WHERE
// status = 'pending' guard is the compare-and-swap that makes concurrent
// duplicate approvals resolve to exactly one applied=true.
func (r *PostgresRepository) ApprovePaymentAndActivateUser(
	ctx context.Context,
	externalTransactionID string,
	paidAt time.Time,
	user *domain.User,
) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin approval tx: %w", err)
	}
	defer tx.Rollback(ctx)

	approveQuery := `
        UPDATE payments
        SET status = $2, paid_at = $3, updated_at = NOW()
        WHERE external_transaction_id = $1 AND status = $4
    `
	result, err := tx.Exec(ctx, approveQuery,
		externalTransactionID,
		domain.PaymentStatusApproved,
		paidAt,
		domain.PaymentStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("approve payment: %w", err)
	}
	if result.RowsAffected() == 0 {
		// Already approved or rejected by a concurrent delivery.
		return false, nil
	}

	userQuery := `
        UPDATE users
        SET free_credits = $2,
            is_subscriber = $3,
            monthly_used = $4,
            monthly_limit = $5,
            expires_at = $6,
            active = $7,
            updated_at = NOW()
        WHERE id = $1
    `
	userResult, err := tx.Exec(ctx, userQuery,
		user.ID,
		user.FreeCredits,
		user.IsSubscriber,
		user.MonthlyUsed,
		user.MonthlyLimit,
		user.ExpiresAt,
		user.Active,
	)
	if err != nil {
		return false, fmt.Errorf("activate user: %w", err)
	}
	if userResult.RowsAffected() == 0 {
		return false, fmt.Errorf("activate user: %w", ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// MarkPaymentRejected transitions a payment from pending to rejected without
// touching the user row.
func (r *PostgresRepository) MarkPaymentRejected(ctx context.Context, externalTransactionID string) (bool, error) {
	query := `
        UPDATE payments
        SET status = $2, updated_at = NOW()
        WHERE external_transaction_id = $1 AND status = $3
    `
	result, err := r.db.Exec(ctx, query,
		externalTransactionID,
		domain.PaymentStatusRejected,
		domain.PaymentStatusPending,
	)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// ListStalePendingPayments returns pending payments created before the cutoff,
// oldest first. The reconcile sweep uses this as its candidate list.
func (r *PostgresRepository) ListStalePendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]domain.Payment, error) {
	query := `
        SELECT id, user_id, amount_cents, external_transaction_id, status, paid_at, created_at, updated_at
        FROM payments
        WHERE status = $1 AND created_at < $2
        ORDER BY created_at
        LIMIT $3
    `
	rows, err := r.db.Query(ctx, query, domain.PaymentStatusPending, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(
			&p.ID,
			&p.UserID,
			&p.AmountCents,
			&p.ExternalTransactionID,
			&p.Status,
			&p.PaidAt,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// GetStats aggregates the operational counters for the stats endpoint.
func (r *PostgresRepository) GetStats(ctx context.Context, now time.Time) (*domain.Stats, error) {
	stats := &domain.Stats{}

	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&stats.TotalUsers); err != nil {
		return nil, err
	}
	subscriberQuery := `
        SELECT COUNT(*) FROM users
        WHERE is_subscriber = TRUE AND active = TRUE AND expires_at > $1
    `
	if err := r.db.QueryRow(ctx, subscriberQuery, now).Scan(&stats.ActiveSubscribers); err != nil {
		return nil, err
	}
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM consultations`).Scan(&stats.TotalConsultations); err != nil {
		return nil, err
	}
	successQuery := `SELECT COUNT(*) FROM consultations WHERE succeeded = TRUE`
	if err := r.db.QueryRow(ctx, successQuery).Scan(&stats.SuccessfulConsultations); err != nil {
		return nil, err
	}

	if stats.TotalConsultations > 0 {
		stats.SuccessRate = float64(stats.SuccessfulConsultations) / float64(stats.TotalConsultations) * 100
	}
	return stats, nil
}
