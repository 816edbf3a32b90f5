package service

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"github.com/voxnote/backend/internal/billing"
	"github.com/voxnote/backend/internal/domain"
	"github.com/voxnote/backend/internal/email"
	"github.com/voxnote/backend/internal/identity"
	"github.com/voxnote/backend/internal/metrics"
	"github.com/voxnote/backend/internal/repository"
	"github.com/voxnote/backend/internal/storage"
)

// =============================================================================
// Interface Definition
// =============================================================================

// DeletionService removes accounts. Soft deletion flags the user row and
// preserves everything else; hard deletion walks every system the user has a
// footprint in, in a fixed order, and reports what it removed.
type DeletionService interface {
	// DeleteAccount deletes the user. With hard set, all content rows, blob
	// objects, payment resources, the user row, and finally the identity
	// account are removed. Failures in the payment processor or blob store
	// are recorded in the summary and do not abort the run; a failure to
	// remove the identity account is returned as an error alongside the
	// populated summary.
	DeleteAccount(ctx context.Context, userID string, hard bool) (*domain.DeletionSummary, error)
}

// =============================================================================
// Implementation
// =============================================================================

type deletionService struct {
	users    repository.UserRepository
	userData repository.UserDataRepository
	records  repository.UsageRecordRepository
	blobs    storage.Storage
	billing  billing.Service
	identity identity.Provider
	email    email.EmailService
	logger   *slog.Logger
	now      func() time.Time
}

// NewDeletionService creates a new DeletionService.
func NewDeletionService(
	users repository.UserRepository,
	userData repository.UserDataRepository,
	records repository.UsageRecordRepository,
	blobs storage.Storage,
	billingSvc billing.Service,
	identitySvc identity.Provider,
	emailSvc email.EmailService,
	logger *slog.Logger,
) DeletionService {
	return &deletionService{
		users:    users,
		userData: userData,
		records:  records,
		blobs:    blobs,
		billing:  billingSvc,
		identity: identitySvc,
		email:    emailSvc,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *deletionService) DeleteAccount(ctx context.Context, userID string, hard bool) (*domain.DeletionSummary, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if !hard {
		if err := s.users.SoftDelete(ctx, userID, s.now().UTC()); err != nil {
			return nil, err
		}
		metrics.AccountDeletionsTotal.WithLabelValues("soft").Inc()
		s.logger.Info("soft deleted account", "user_id", userID)
		return &domain.DeletionSummary{UserID: userID, Mode: domain.DeletionSoft}, nil
	}

	return s.hardDelete(ctx, user)
}

// hardDelete walks the deletion steps in dependency order: content rows
// first, then blobs, then external payment resources, then the user row, and
// the identity account last so a crash mid-run leaves an account the user
// can still sign into and retry from.
func (s *deletionService) hardDelete(ctx context.Context, user *domain.User) (*domain.DeletionSummary, error) {
	const op = "deletion.hard_delete"

	summary := &domain.DeletionSummary{
		UserID: user.ID,
		Mode:   domain.DeletionHard,
	}
	var swallowed error

	// Steps 1-4: content and analytics rows. Row deletes are idempotent so
	// a retried run passes through cleanly.
	summary.TranscriptionsDeleted = s.countStep(ctx, summary, "transcriptions", &swallowed,
		func(ctx context.Context) (int64, error) { return s.userData.DeleteTranscriptionsByUser(ctx, user.ID) })
	summary.AnalysesDeleted = s.countStep(ctx, summary, "analyses", &swallowed,
		func(ctx context.Context) (int64, error) { return s.userData.DeleteAnalysesByUser(ctx, user.ID) })
	summary.FoldersDeleted = s.countStep(ctx, summary, "folders", &swallowed,
		func(ctx context.Context) (int64, error) { return s.userData.DeleteFoldersByUser(ctx, user.ID) })
	summary.UsageRecordsDeleted = s.countStep(ctx, summary, "usage_records", &swallowed,
		func(ctx context.Context) (int64, error) { return s.records.DeleteByUser(ctx, user.ID) })

	// Step 5: shares this user imported from others.
	summary.ImportedSharesDeleted = s.countStep(ctx, summary, "imported_shares", &swallowed,
		func(ctx context.Context) (int64, error) { return s.userData.DeleteImportedSharesByUser(ctx, user.ID) })

	// Step 6: blob objects under the user's prefix. Partial failure leaves
	// orphans for the storage sweep; it never blocks the deletion.
	summary.BlobObjectsDeleted = s.deleteBlobs(ctx, summary, user.ID, &swallowed)

	// Step 7: payment resources. Subscription first so Stripe stops
	// billing even if the customer delete then fails.
	s.deletePaymentResources(summary, user, &swallowed)

	// Step 8: the user row itself.
	if err := s.users.Delete(ctx, user.ID); err != nil {
		return summary, err
	}
	summary.UserRecordDeleted = true

	if swallowed != nil {
		s.logger.Warn("hard delete completed with swallowed errors",
			"user_id", user.ID,
			"errors", swallowed,
		)
	}

	// Step 9: the identity account, last. Its failure is the only one
	// surfaced: the caller must know the user can still authenticate.
	if err := s.identity.DeleteAccount(ctx, user.ID); err != nil {
		metrics.DeletionStepErrors.WithLabelValues("identity").Inc()
		s.logger.Error("failed to delete identity account",
			"user_id", user.ID,
			"error", err,
		)
		return summary, domain.External(err, op, "account data removed but the identity account could not be deleted")
	}
	summary.IdentityAccountDeleted = true

	// Confirmation mail is best-effort; the address no longer exists in any
	// of our systems, so a send failure only gets logged.
	if err := s.email.SendAccountDeletedEmail(ctx, user.Email, user.DisplayName()); err != nil {
		s.logger.Warn("failed to send account deletion confirmation",
			"user_id", user.ID,
			"error", err,
		)
	}

	metrics.AccountDeletionsTotal.WithLabelValues("hard").Inc()
	s.logger.Info("hard deleted account",
		"user_id", user.ID,
		"transcriptions", summary.TranscriptionsDeleted,
		"analyses", summary.AnalysesDeleted,
		"folders", summary.FoldersDeleted,
		"usage_records", summary.UsageRecordsDeleted,
		"imported_shares", summary.ImportedSharesDeleted,
		"blob_objects", summary.BlobObjectsDeleted,
	)

	return summary, nil
}

// countStep runs one counted row-deletion step, recording a failure without
// aborting the run.
func (s *deletionService) countStep(ctx context.Context, summary *domain.DeletionSummary, step string, swallowed *error, fn func(context.Context) (int64, error)) int64 {
	n, err := fn(ctx)
	if err != nil {
		metrics.DeletionStepErrors.WithLabelValues(step).Inc()
		summary.Errors = append(summary.Errors, step+": "+err.Error())
		*swallowed = multierr.Append(*swallowed, err)
		return 0
	}
	return n
}

// deleteBlobs lists the user's prefix and deletes each object. Individual
// delete failures are recorded and the walk continues.
func (s *deletionService) deleteBlobs(ctx context.Context, summary *domain.DeletionSummary, userID string, swallowed *error) int64 {
	objects, err := s.blobs.List(ctx, storage.UserPrefix(userID))
	if err != nil {
		metrics.DeletionStepErrors.WithLabelValues("blobs").Inc()
		summary.Errors = append(summary.Errors, "blobs: "+err.Error())
		*swallowed = multierr.Append(*swallowed, err)
		return 0
	}

	var deleted int64
	for _, obj := range objects {
		if err := s.blobs.Delete(ctx, obj.Key); err != nil {
			metrics.DeletionStepErrors.WithLabelValues("blobs").Inc()
			summary.Errors = append(summary.Errors, "blobs: "+err.Error())
			*swallowed = multierr.Append(*swallowed, err)
			continue
		}
		deleted++
	}
	return deleted
}

// deletePaymentResources cancels the subscription immediately and then
// deletes the customer. Both calls are idempotent on the processor side;
// both failures are swallowed since payment cleanup must never hold an
// account hostage.
func (s *deletionService) deletePaymentResources(summary *domain.DeletionSummary, user *domain.User, swallowed *error) {
	if user.PaymentSubscriptionID != "" {
		if err := s.billing.CancelSubscription(user.PaymentSubscriptionID, false); err != nil {
			metrics.DeletionStepErrors.WithLabelValues("payment_subscription").Inc()
			summary.Errors = append(summary.Errors, "payment_subscription: "+err.Error())
			*swallowed = multierr.Append(*swallowed, err)
		} else {
			summary.SubscriptionCancelled = true
		}
	}

	if user.PaymentCustomerID != "" {
		if err := s.billing.DeleteCustomer(user.PaymentCustomerID); err != nil {
			metrics.DeletionStepErrors.WithLabelValues("payment_customer").Inc()
			summary.Errors = append(summary.Errors, "payment_customer: "+err.Error())
			*swallowed = multierr.Append(*swallowed, err)
		} else {
			summary.PaymentCustomerDeleted = true
		}
	}
}
