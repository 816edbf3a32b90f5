package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/voxnote/backend/internal/domain"
)

// =============================================================================
// Interface Definition
// =============================================================================

// UserRepository is the persistence boundary for the User aggregate.
type UserRepository interface {
	// Get returns the user with the given id, including soft-deleted users.
	// Returns a not-found domain error if no row exists.
	Get(ctx context.Context, id string) (*domain.User, error)

	// GetByPaymentCustomerID returns the non-deleted user owning the given
	// payment-processor customer. Used by the webhook handler, which only
	// knows the processor's identifiers.
	GetByPaymentCustomerID(ctx context.Context, customerID string) (*domain.User, error)

	// ListIDs returns the ids of all non-deleted users ordered by id.
	// The ordering is stable across calls; the reset scheduler's resume
	// cursor depends on it.
	ListIDs(ctx context.Context) ([]string, error)

	// ListIDsResetBefore returns ids of non-deleted users whose last reset
	// predates t, ordered by id. Used by the missed-reset sweep.
	ListIDsResetBefore(ctx context.Context, t time.Time) ([]string, error)

	// IncrementTranscriptionUsage adds hours to hours_used and bumps
	// transcription_count in a single statement. When deductPaygCredits is
	// set, the same hours are deducted from payg_credits_hours, floored at
	// zero.
	IncrementTranscriptionUsage(ctx context.Context, id string, hours float64, deductPaygCredits bool) error

	// IncrementAnalysisUsage bumps on_demand_analysis_count only.
	IncrementAnalysisUsage(ctx context.Context, id string) error

	// SetPaymentCustomer records the payment-processor customer id. Written
	// once, when the user first enters the checkout flow.
	SetPaymentCustomer(ctx context.Context, id string, customerID string) error

	// UpdateSubscription applies a subscription state change: the processor's
	// subscription id, its status, and the tier the subscribed price maps to.
	UpdateSubscription(ctx context.Context, id string, subscriptionID string, status domain.SubscriptionStatus, tier domain.Tier) error

	// ResetMonthlyUsage zeroes the monthly counters and advances
	// last_reset_at to at. Idempotent: repeating it yields the same state.
	// last_reset_at never moves backwards.
	ResetMonthlyUsage(ctx context.Context, id string, at time.Time) error

	// SoftDelete marks the user deleted and stamps deleted_at. All other
	// state is preserved.
	SoftDelete(ctx context.Context, id string, at time.Time) error

	// Delete removes the user row entirely.
	Delete(ctx context.Context, id string) error
}

// =============================================================================
// PostgreSQL Implementation
// =============================================================================

type userRepository struct {
	db *sql.DB
}

const userColumns = `id, email, name, role, tier,
	hours_used, transcription_count, on_demand_analysis_count, last_reset_at,
	payg_credits_hours, payment_customer_id, payment_subscription_id,
	subscription_status, is_deleted, deleted_at, created_at, updated_at`

func scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	var deletedAt sql.NullTime
	err := row.Scan(
		&u.ID, &u.Email, &u.Name, &u.Role, &u.Tier,
		&u.Usage.HoursUsed, &u.Usage.TranscriptionCount, &u.Usage.OnDemandAnalysisCount, &u.Usage.LastResetAt,
		&u.PaygCreditsHours, &u.PaymentCustomerID, &u.PaymentSubscriptionID,
		&u.SubscriptionStatus, &u.IsDeleted, &deletedAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		u.DeletedAt = &deletedAt.Time
	}
	return &u, nil
}

func (r *userRepository) Get(ctx context.Context, id string) (*domain.User, error) {
	const op = "repository.user_get"

	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "user", id)
		}
		return nil, domain.Internal(err, op, "failed to load user")
	}
	return u, nil
}

func (r *userRepository) GetByPaymentCustomerID(ctx context.Context, customerID string) (*domain.User, error) {
	const op = "repository.user_get_by_customer"

	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE payment_customer_id = $1 AND is_deleted = FALSE`,
		customerID)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "user", customerID)
		}
		return nil, domain.Internal(err, op, "failed to load user by payment customer")
	}
	return u, nil
}

func (r *userRepository) ListIDs(ctx context.Context) ([]string, error) {
	const op = "repository.user_list_ids"

	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM users WHERE is_deleted = FALSE ORDER BY id`)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list user ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.Internal(err, op, "failed to scan user id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, op, "failed to iterate user ids")
	}
	return ids, nil
}

func (r *userRepository) ListIDsResetBefore(ctx context.Context, t time.Time) ([]string, error) {
	const op = "repository.user_list_reset_before"

	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM users WHERE is_deleted = FALSE AND last_reset_at < $1 ORDER BY id`, t)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list users by last reset")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.Internal(err, op, "failed to scan user id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, op, "failed to iterate user ids")
	}
	return ids, nil
}

func (r *userRepository) IncrementTranscriptionUsage(ctx context.Context, id string, hours float64, deductPaygCredits bool) error {
	const op = "repository.user_increment_transcription"

	// Single read-modify-write from the caller's perspective: one UPDATE
	// touching only the counters involved.
	query := `
		UPDATE users SET
			hours_used = hours_used + $2,
			transcription_count = transcription_count + 1,
			updated_at = now()
		WHERE id = $1`
	if deductPaygCredits {
		query = `
		UPDATE users SET
			hours_used = hours_used + $2,
			transcription_count = transcription_count + 1,
			payg_credits_hours = GREATEST(0, payg_credits_hours - $2),
			updated_at = now()
		WHERE id = $1`
	}

	res, err := r.db.ExecContext(ctx, query, id, hours)
	if err != nil {
		return domain.Internal(err, op, "failed to update usage counters")
	}
	return requireRow(res, op, "user", id)
}

func (r *userRepository) IncrementAnalysisUsage(ctx context.Context, id string) error {
	const op = "repository.user_increment_analysis"

	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET
			on_demand_analysis_count = on_demand_analysis_count + 1,
			updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return domain.Internal(err, op, "failed to update analysis counter")
	}
	return requireRow(res, op, "user", id)
}

func (r *userRepository) SetPaymentCustomer(ctx context.Context, id string, customerID string) error {
	const op = "repository.user_set_payment_customer"

	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET
			payment_customer_id = $2,
			updated_at = now()
		WHERE id = $1`, id, customerID)
	if err != nil {
		return domain.Internal(err, op, "failed to set payment customer")
	}
	return requireRow(res, op, "user", id)
}

func (r *userRepository) UpdateSubscription(ctx context.Context, id string, subscriptionID string, status domain.SubscriptionStatus, tier domain.Tier) error {
	const op = "repository.user_update_subscription"

	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET
			payment_subscription_id = $2,
			subscription_status = $3,
			tier = $4,
			updated_at = now()
		WHERE id = $1`, id, subscriptionID, status, tier)
	if err != nil {
		return domain.Internal(err, op, "failed to update subscription")
	}
	return requireRow(res, op, "user", id)
}

func (r *userRepository) ResetMonthlyUsage(ctx context.Context, id string, at time.Time) error {
	const op = "repository.user_reset_usage"

	// GREATEST keeps last_reset_at monotonically non-decreasing even if a
	// resumed job replays a user already reset by the missed-reset sweep.
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET
			hours_used = 0,
			transcription_count = 0,
			on_demand_analysis_count = 0,
			last_reset_at = GREATEST(last_reset_at, $2),
			updated_at = now()
		WHERE id = $1`, id, at)
	if err != nil {
		return domain.Internal(err, op, "failed to reset usage counters")
	}
	return requireRow(res, op, "user", id)
}

func (r *userRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	const op = "repository.user_soft_delete"

	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET
			is_deleted = TRUE,
			deleted_at = $2,
			updated_at = now()
		WHERE id = $1`, id, at)
	if err != nil {
		return domain.Internal(err, op, "failed to soft delete user")
	}
	return requireRow(res, op, "user", id)
}

func (r *userRepository) Delete(ctx context.Context, id string) error {
	const op = "repository.user_delete"

	// Idempotent: deleting an absent row is not an error.
	if _, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
		return domain.Internal(err, op, "failed to delete user")
	}
	return nil
}

// requireRow converts a zero-row UPDATE into a not-found domain error.
func requireRow(res sql.Result, op, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Internal(err, op, "failed to read rows affected")
	}
	if n == 0 {
		return domain.NotFound(op, resource, id)
	}
	return nil
}
