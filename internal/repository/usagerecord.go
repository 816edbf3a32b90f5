package repository

import (
	"context"
	"database/sql"

	"github.com/voxnote/backend/internal/domain"
)

// UsageRecordRepository persists the append-only analytics facts written
// after each completed operation. Appends are best-effort from the caller's
// perspective; failures here never fail the primary counter update.
type UsageRecordRepository interface {
	// Append inserts one usage record.
	Append(ctx context.Context, record *domain.UsageRecord) error

	// DeleteByUser removes all records for a user (hard account deletion)
	// and returns the number of rows removed.
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}

type usageRecordRepository struct {
	db *sql.DB
}

func (r *usageRecordRepository) Append(ctx context.Context, record *domain.UsageRecord) error {
	const op = "repository.usage_record_append"

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO usage_records (id, user_id, source_operation_id, duration_hours, record_type, tier, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.ID, record.UserID, record.SourceOperationID,
		record.DurationHours, record.Type, record.Tier, record.CreatedAt,
	)
	if err != nil {
		return domain.Internal(err, op, "failed to append usage record")
	}
	return nil
}

func (r *usageRecordRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	const op = "repository.usage_record_delete_by_user"

	res, err := r.db.ExecContext(ctx, `DELETE FROM usage_records WHERE user_id = $1`, userID)
	if err != nil {
		return 0, domain.Internal(err, op, "failed to delete usage records")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, domain.Internal(err, op, "failed to read rows affected")
	}
	return n, nil
}
