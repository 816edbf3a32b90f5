package repository

import (
	"context"
	"database/sql"

	"github.com/voxnote/backend/internal/domain"
)

// UserDataRepository deletes a user's content rows during hard account
// deletion. Every method returns the number of rows removed so the deletion
// summary is auditable. All deletes are idempotent: zero rows is success.
type UserDataRepository interface {
	DeleteTranscriptionsByUser(ctx context.Context, userID string) (int64, error)
	DeleteAnalysesByUser(ctx context.Context, userID string) (int64, error)
	DeleteFoldersByUser(ctx context.Context, userID string) (int64, error)
	DeleteImportedSharesByUser(ctx context.Context, userID string) (int64, error)
}

type userDataRepository struct {
	db *sql.DB
}

func (r *userDataRepository) DeleteTranscriptionsByUser(ctx context.Context, userID string) (int64, error) {
	return r.deleteByUser(ctx, "repository.delete_transcriptions", `DELETE FROM transcriptions WHERE user_id = $1`, userID)
}

func (r *userDataRepository) DeleteAnalysesByUser(ctx context.Context, userID string) (int64, error) {
	return r.deleteByUser(ctx, "repository.delete_analyses", `DELETE FROM generated_analyses WHERE user_id = $1`, userID)
}

func (r *userDataRepository) DeleteFoldersByUser(ctx context.Context, userID string) (int64, error) {
	return r.deleteByUser(ctx, "repository.delete_folders", `DELETE FROM folders WHERE user_id = $1`, userID)
}

func (r *userDataRepository) DeleteImportedSharesByUser(ctx context.Context, userID string) (int64, error) {
	return r.deleteByUser(ctx, "repository.delete_imported_shares", `DELETE FROM imported_shares WHERE user_id = $1`, userID)
}

func (r *userDataRepository) deleteByUser(ctx context.Context, op, query, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, domain.Internal(err, op, "failed to delete user data")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, domain.Internal(err, op, "failed to read rows affected")
	}
	return n, nil
}
