// Package service contains the business logic layer.
//
// Services orchestrate interactions between repositories, external APIs,
// and domain logic. They are responsible for:
// - Business rule enforcement
// - Error translation (store errors -> domain errors)
//
// This file implements the quota engine: pure admission decisions made
// before a resource-intensive operation is accepted.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/voxnote/backend/internal/domain"
	"github.com/voxnote/backend/internal/metrics"
	"github.com/voxnote/backend/internal/repository"
)

// =============================================================================
// Interface Definition
// =============================================================================

// QuotaService decides whether a proposed operation is admitted under the
// user's subscription tier.
type QuotaService interface {
	// CheckUploadQuota checks whether an upload of the given size and
	// estimated duration is admitted. Returns nil when admitted, or a
	// quota domain error carrying a stable reason code when not.
	CheckUploadQuota(ctx context.Context, userID string, fileSizeBytes int64, estimatedMinutes int) error

	// CheckAnalysisQuota checks whether one more on-demand analysis is
	// admitted. Only the free tier has a numeric monthly cap.
	CheckAnalysisQuota(ctx context.Context, userID string) error
}

// QuotaConfig carries the tunables the quota engine needs beyond the tier
// limits table.
type QuotaConfig struct {
	// TierLimits is the closed, startup-validated limits table.
	TierLimits map[domain.Tier]domain.TierLimits

	// HardCapHours is the absolute monthly ceiling for soft-cap tiers.
	// Usage past the tier's HoursPerMonth is admitted as billable overage
	// up to this value; past it, uploads are rejected outright.
	HardCapHours float64
}

// =============================================================================
// Implementation
// =============================================================================

type quotaService struct {
	users  repository.UserRepository
	cfg    QuotaConfig
	logger *slog.Logger
}

// NewQuotaService creates a new QuotaService.
func NewQuotaService(users repository.UserRepository, cfg QuotaConfig, logger *slog.Logger) QuotaService {
	return &quotaService{
		users:  users,
		cfg:    cfg,
		logger: logger,
	}
}

// CheckUploadQuota implements the tier-specific admission chain. Checks are
// evaluated in order and the first violated rule wins; there is no partial
// credit.
func (s *quotaService) CheckUploadQuota(ctx context.Context, userID string, fileSizeBytes int64, estimatedMinutes int) error {
	const op = "quota.check_upload"

	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return err
	}

	// Admin bypass is unconditional and comes before any tier logic.
	if user.IsAdmin() {
		metrics.QuotaChecksTotal.WithLabelValues("upload", "allowed").Inc()
		return nil
	}

	limits, err := domain.LimitsForTier(s.cfg.TierLimits, user.Tier)
	if err != nil {
		s.logger.Error("no tier limits configured",
			"user_id", userID,
			"tier", user.Tier,
		)
		return err
	}

	estimatedHours := float64(estimatedMinutes) / 60

	var quotaErr error
	switch user.Tier {
	case domain.TierFree:
		quotaErr = s.checkFreeUpload(user, limits, fileSizeBytes, estimatedMinutes)
	case domain.TierProfessional, domain.TierBusiness:
		quotaErr = s.checkSoftCapUpload(user, limits, fileSizeBytes, estimatedHours)
	case domain.TierPayg:
		quotaErr = s.checkPaygUpload(user, limits, fileSizeBytes, estimatedHours)
	default:
		return domain.InvalidConfiguration(op, fmt.Sprintf("unknown tier %q", user.Tier))
	}

	if quotaErr != nil {
		s.logger.Info("upload quota exceeded",
			"user_id", userID,
			"tier", user.Tier,
			"reason", domain.ErrorReason(quotaErr),
		)
		metrics.QuotaChecksTotal.WithLabelValues("upload", "rejected").Inc()
		metrics.QuotaRejectionsTotal.WithLabelValues(domain.ErrorReason(quotaErr)).Inc()
		return quotaErr
	}

	metrics.QuotaChecksTotal.WithLabelValues("upload", "allowed").Inc()
	return nil
}

// checkFreeUpload enforces the free tier's hard caps: monthly count, then
// per-file duration, then per-file size.
func (s *quotaService) checkFreeUpload(user *domain.User, limits domain.TierLimits, fileSizeBytes int64, estimatedMinutes int) error {
	const op = "quota.check_upload"

	if !limits.UnlimitedTranscriptions() && user.Usage.TranscriptionCount >= limits.TranscriptionsPerMonth {
		return domain.QuotaExceeded(op, domain.QuotaReasonTranscriptions,
			fmt.Sprintf("monthly limit of %d transcriptions reached; upgrade for unlimited transcriptions", limits.TranscriptionsPerMonth))
	}
	if !limits.UnlimitedFileDuration() && estimatedMinutes > limits.MaxFileDurationMinutes {
		return domain.QuotaExceeded(op, domain.QuotaReasonDuration,
			fmt.Sprintf("file exceeds the %d minute limit for your plan", limits.MaxFileDurationMinutes))
	}
	return checkFileSize(op, limits, fileSizeBytes)
}

// checkSoftCapUpload admits usage past the tier's monthly hours as billable
// overage, up to the absolute hard cap. The file-size ceiling is always a
// hard rejection.
func (s *quotaService) checkSoftCapUpload(user *domain.User, limits domain.TierLimits, fileSizeBytes int64, estimatedHours float64) error {
	const op = "quota.check_upload"

	if user.Usage.HoursUsed+estimatedHours > s.cfg.HardCapHours {
		return domain.QuotaExceeded(op, domain.QuotaReasonHardCap,
			fmt.Sprintf("this upload would exceed the absolute monthly ceiling of %.0f hours", s.cfg.HardCapHours))
	}
	return checkFileSize(op, limits, fileSizeBytes)
}

// checkPaygUpload requires enough prepaid credit hours to cover the
// estimate.
func (s *quotaService) checkPaygUpload(user *domain.User, limits domain.TierLimits, fileSizeBytes int64, estimatedHours float64) error {
	const op = "quota.check_upload"

	if user.PaygCreditsHours < estimatedHours {
		return domain.QuotaExceeded(op, domain.QuotaReasonPaygCredits,
			fmt.Sprintf("insufficient credit: %.2f hours available, %.2f hours required", user.PaygCreditsHours, estimatedHours))
	}
	return checkFileSize(op, limits, fileSizeBytes)
}

// CheckAnalysisQuota admits one more on-demand analysis. Same admin bypass
// as uploads; all paid tiers are unlimited.
func (s *quotaService) CheckAnalysisQuota(ctx context.Context, userID string) error {
	const op = "quota.check_analysis"

	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return err
	}

	if user.IsAdmin() {
		metrics.QuotaChecksTotal.WithLabelValues("analysis", "allowed").Inc()
		return nil
	}

	limits, err := domain.LimitsForTier(s.cfg.TierLimits, user.Tier)
	if err != nil {
		s.logger.Error("no tier limits configured",
			"user_id", userID,
			"tier", user.Tier,
		)
		return err
	}

	if !limits.UnlimitedAnalyses() && user.Usage.OnDemandAnalysisCount >= limits.OnDemandAnalysesPerMonth {
		s.logger.Info("analysis quota exceeded",
			"user_id", userID,
			"tier", user.Tier,
			"used", user.Usage.OnDemandAnalysisCount,
			"limit", limits.OnDemandAnalysesPerMonth,
		)
		metrics.QuotaChecksTotal.WithLabelValues("analysis", "rejected").Inc()
		metrics.QuotaRejectionsTotal.WithLabelValues(domain.QuotaReasonAnalyses).Inc()
		return domain.QuotaExceeded(op, domain.QuotaReasonAnalyses,
			fmt.Sprintf("monthly limit of %d on-demand analyses reached", limits.OnDemandAnalysesPerMonth))
	}

	metrics.QuotaChecksTotal.WithLabelValues("analysis", "allowed").Inc()
	return nil
}

// checkFileSize is the per-file size ceiling shared by every tier.
func checkFileSize(op string, limits domain.TierLimits, fileSizeBytes int64) error {
	if !limits.UnlimitedFileSize() && fileSizeBytes > limits.MaxFileSizeBytes {
		return domain.QuotaExceeded(op, domain.QuotaReasonFileSize,
			fmt.Sprintf("file exceeds the maximum size of %d MB for your plan", limits.MaxFileSizeBytes>>20))
	}
	return nil
}
