package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/voxnote/backend/internal/domain"
)

// =============================================================================
// Interface Definition
// =============================================================================

// ResetJobRepository persists the durable state machine behind the monthly
// usage reset. The job document is the crash-recovery mechanism: progress
// checkpoints are written here, and an in-progress row found at startup is
// resumed rather than restarted.
type ResetJobRepository interface {
	// Create inserts a new job. Returns a conflict domain error if a job
	// with the same id already exists, or if another job is in progress.
	Create(ctx context.Context, job *domain.ResetJob) error

	// Get returns the job with the given id.
	Get(ctx context.Context, id string) (*domain.ResetJob, error)

	// GetInProgress returns the single in-progress job, or a not-found
	// domain error when there is none.
	GetInProgress(ctx context.Context) (*domain.ResetJob, error)

	// Checkpoint durably records progress: the success count and the resume
	// cursor.
	Checkpoint(ctx context.Context, id string, processedUsers int, lastProcessedUserID string) error

	// AppendFailedUser records a per-user failure without touching the
	// progress counters.
	AppendFailedUser(ctx context.Context, id string, userID string) error

	// Complete marks the job completed with a final checkpoint.
	Complete(ctx context.Context, id string, processedUsers int, lastProcessedUserID string, at time.Time) error
}

// =============================================================================
// PostgreSQL Implementation
// =============================================================================

type resetJobRepository struct {
	db *sql.DB
}

// pgUniqueViolation is the PostgreSQL error code for unique constraint
// violations, raised when a second in-progress job is inserted.
const pgUniqueViolation = "23505"

func (r *resetJobRepository) Create(ctx context.Context, job *domain.ResetJob) error {
	const op = "repository.reset_job_create"

	failed, err := json.Marshal(failedOrEmpty(job.FailedUserIDs))
	if err != nil {
		return domain.Internal(err, op, "failed to encode failed user ids")
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO reset_jobs (id, status, started_at, total_users, processed_users, last_processed_user_id, failed_user_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.Status, job.StartedAt, job.TotalUsers,
		job.ProcessedUsers, job.LastProcessedUserID, failed,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.Errorf(domain.ECONFLICT, op, "reset job %q already exists or another job is in progress", job.ID)
		}
		return domain.Internal(err, op, "failed to create reset job")
	}
	return nil
}

func (r *resetJobRepository) Get(ctx context.Context, id string) (*domain.ResetJob, error) {
	const op = "repository.reset_job_get"
	return r.scanJob(ctx, op, `WHERE id = $1`, id)
}

func (r *resetJobRepository) GetInProgress(ctx context.Context) (*domain.ResetJob, error) {
	const op = "repository.reset_job_get_in_progress"
	return r.scanJob(ctx, op, `WHERE status = $1`, string(domain.ResetJobInProgress))
}

func (r *resetJobRepository) scanJob(ctx context.Context, op, where string, arg any) (*domain.ResetJob, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, status, started_at, completed_at, total_users,
		       processed_users, last_processed_user_id, failed_user_ids
		FROM reset_jobs `+where, arg)

	var job domain.ResetJob
	var completedAt sql.NullTime
	var failed []byte
	err := row.Scan(
		&job.ID, &job.Status, &job.StartedAt, &completedAt,
		&job.TotalUsers, &job.ProcessedUsers, &job.LastProcessedUserID,
		&failed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "reset job", "")
		}
		return nil, domain.Internal(err, op, "failed to load reset job")
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	if len(failed) > 0 {
		if err := json.Unmarshal(failed, &job.FailedUserIDs); err != nil {
			return nil, domain.Internal(err, op, "failed to decode failed user ids")
		}
	}
	return &job, nil
}

func (r *resetJobRepository) Checkpoint(ctx context.Context, id string, processedUsers int, lastProcessedUserID string) error {
	const op = "repository.reset_job_checkpoint"

	res, err := r.db.ExecContext(ctx, `
		UPDATE reset_jobs SET
			processed_users = $2,
			last_processed_user_id = $3
		WHERE id = $1`, id, processedUsers, lastProcessedUserID)
	if err != nil {
		return domain.Internal(err, op, "failed to checkpoint reset job")
	}
	return requireRow(res, op, "reset job", id)
}

func (r *resetJobRepository) AppendFailedUser(ctx context.Context, id string, userID string) error {
	const op = "repository.reset_job_append_failed"

	res, err := r.db.ExecContext(ctx, `
		UPDATE reset_jobs SET
			failed_user_ids = failed_user_ids || to_jsonb($2::text)
		WHERE id = $1`, id, userID)
	if err != nil {
		return domain.Internal(err, op, "failed to record failed user")
	}
	return requireRow(res, op, "reset job", id)
}

func (r *resetJobRepository) Complete(ctx context.Context, id string, processedUsers int, lastProcessedUserID string, at time.Time) error {
	const op = "repository.reset_job_complete"

	res, err := r.db.ExecContext(ctx, `
		UPDATE reset_jobs SET
			status = $2,
			completed_at = $3,
			processed_users = $4,
			last_processed_user_id = $5
		WHERE id = $1`,
		id, string(domain.ResetJobCompleted), at, processedUsers, lastProcessedUserID)
	if err != nil {
		return domain.Internal(err, op, "failed to complete reset job")
	}
	return requireRow(res, op, "reset job", id)
}

// failedOrEmpty keeps the stored JSON an array, never null.
func failedOrEmpty(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
