package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/voxnote/backend/internal/domain"
	"github.com/voxnote/backend/internal/metrics"
	"github.com/voxnote/backend/internal/repository"
)

// =============================================================================
// Interface Definition
// =============================================================================

// UsageService records completed work against a user's monthly counters and
// derives billing-facing aggregates from them.
type UsageService interface {
	// TrackTranscription adds a completed transcription to the user's
	// monthly usage. durationSeconds is the actual audio length; the
	// pay-as-you-go tier additionally has the same hours deducted from its
	// prepaid credit. sourceOperationID links the analytics record back to
	// the transcription that produced it.
	TrackTranscription(ctx context.Context, userID string, durationSeconds float64, sourceOperationID string) error

	// TrackOnDemandAnalysis adds a completed on-demand analysis to the
	// user's monthly usage.
	TrackOnDemandAnalysis(ctx context.Context, userID string, sourceOperationID string) error

	// CalculateOverage returns the billable overage for the user's current
	// month. Tiers without a soft hours cap always report zero.
	CalculateOverage(ctx context.Context, userID string) (domain.Overage, error)

	// GetUsageStats returns the aggregated usage view for a user.
	GetUsageStats(ctx context.Context, userID string) (*domain.UsageStats, error)

	// ResetMonthlyUsage zeroes a single user's monthly counters. Exposed
	// for support tooling; the scheduler drives the monthly bulk reset.
	ResetMonthlyUsage(ctx context.Context, userID string) error
}

// UsageConfig carries overage billing tunables.
type UsageConfig struct {
	TierLimits map[domain.Tier]domain.TierLimits

	// OverageRateCents is the price of one overage hour, in cents.
	OverageRateCents int64
}

// =============================================================================
// Implementation
// =============================================================================

type usageService struct {
	users   repository.UserRepository
	records repository.UsageRecordRepository
	cfg     UsageConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewUsageService creates a new UsageService.
func NewUsageService(users repository.UserRepository, records repository.UsageRecordRepository, cfg UsageConfig, logger *slog.Logger) UsageService {
	return &usageService{
		users:   users,
		records: records,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// TrackTranscription updates the primary counters in one statement and then
// appends the analytics record best-effort. A failed append is logged and
// counted but never surfaced: the counter update is the source of truth.
func (s *usageService) TrackTranscription(ctx context.Context, userID string, durationSeconds float64, sourceOperationID string) error {
	const op = "usage.track_transcription"

	if durationSeconds < 0 {
		return domain.Invalid(op, "duration cannot be negative")
	}

	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return err
	}

	hours := durationSeconds / 3600
	deductCredits := user.Tier == domain.TierPayg

	if err := s.users.IncrementTranscriptionUsage(ctx, userID, hours, deductCredits); err != nil {
		return err
	}

	metrics.TranscriptionsTracked.Inc()
	metrics.HoursTracked.Add(hours)

	s.appendRecord(ctx, &domain.UsageRecord{
		ID:                uuid.New(),
		UserID:            userID,
		SourceOperationID: sourceOperationID,
		DurationHours:     hours,
		Type:              domain.UsageRecordTranscription,
		Tier:              user.Tier,
		CreatedAt:         s.now().UTC(),
	})

	s.logger.Info("tracked transcription",
		"user_id", userID,
		"hours", hours,
		"tier", user.Tier,
	)

	return nil
}

// TrackOnDemandAnalysis bumps the analysis counter and appends the analytics
// record best-effort.
func (s *usageService) TrackOnDemandAnalysis(ctx context.Context, userID string, sourceOperationID string) error {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.users.IncrementAnalysisUsage(ctx, userID); err != nil {
		return err
	}

	metrics.AnalysesTracked.Inc()

	s.appendRecord(ctx, &domain.UsageRecord{
		ID:                uuid.New(),
		UserID:            userID,
		SourceOperationID: sourceOperationID,
		Type:              domain.UsageRecordAnalysis,
		Tier:              user.Tier,
		CreatedAt:         s.now().UTC(),
	})

	s.logger.Info("tracked on-demand analysis", "user_id", userID, "tier", user.Tier)

	return nil
}

// CalculateOverage computes max(0, hoursUsed - hoursPerMonth) priced at the
// configured per-hour rate.
func (s *usageService) CalculateOverage(ctx context.Context, userID string) (domain.Overage, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return domain.Overage{}, err
	}

	limits, err := domain.LimitsForTier(s.cfg.TierLimits, user.Tier)
	if err != nil {
		return domain.Overage{}, err
	}

	return s.overageFor(user, limits), nil
}

// overageFor is the pure overage rule. Only tiers with a soft hours cap can
// accrue overage; the free tier rejects at its cap and pay-as-you-go draws
// down prepaid credit instead.
func (s *usageService) overageFor(user *domain.User, limits domain.TierLimits) domain.Overage {
	if limits.UnlimitedHours() {
		return domain.Overage{}
	}
	if user.Tier == domain.TierFree || user.Tier == domain.TierPayg {
		return domain.Overage{}
	}

	hours := decimal.NewFromFloat(user.Usage.HoursUsed).
		Sub(decimal.NewFromFloat(limits.HoursPerMonth))
	if hours.Sign() <= 0 {
		return domain.Overage{}
	}

	// Billing rounds up: any fraction of an overage hour is charged as a
	// whole hour.
	amount := hours.Mul(decimal.NewFromInt(s.cfg.OverageRateCents)).Ceil()

	overageHours, _ := hours.Float64()
	return domain.Overage{
		Hours:       overageHours,
		AmountCents: amount.IntPart(),
	}
}

// GetUsageStats assembles the usage view: counters, limits, overage, percent
// of the hours cap consumed, and human-readable warnings.
func (s *usageService) GetUsageStats(ctx context.Context, userID string) (*domain.UsageStats, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	limits, err := domain.LimitsForTier(s.cfg.TierLimits, user.Tier)
	if err != nil {
		return nil, err
	}

	stats := &domain.UsageStats{
		Tier:    user.Tier,
		Usage:   user.Usage,
		Limits:  limits,
		Overage: s.overageFor(user, limits),
	}

	if !limits.UnlimitedHours() {
		stats.PercentHoursUsed = user.Usage.HoursUsed / limits.HoursPerMonth * 100
	}

	stats.Warnings = usageWarnings(user, limits, stats)

	return stats, nil
}

// usageWarnings derives the warnings shown in usage views and in the daily
// warning email.
func usageWarnings(user *domain.User, limits domain.TierLimits, stats *domain.UsageStats) []string {
	var warnings []string

	if stats.Overage.Hours > 0 {
		warnings = append(warnings,
			fmt.Sprintf("You have used %.1f hours beyond your plan's %.0f hour allowance; overage charges apply.",
				stats.Overage.Hours, limits.HoursPerMonth))
	} else if stats.PercentHoursUsed >= 80 {
		warnings = append(warnings,
			fmt.Sprintf("You have used %.0f%% of your monthly %.0f hour allowance.",
				stats.PercentHoursUsed, limits.HoursPerMonth))
	}

	if !limits.UnlimitedTranscriptions() {
		remaining := limits.TranscriptionsPerMonth - user.Usage.TranscriptionCount
		if remaining <= 0 {
			warnings = append(warnings, "You have reached your monthly transcription limit.")
		} else if remaining <= 2 {
			warnings = append(warnings,
				fmt.Sprintf("Only %d transcriptions remaining this month.", remaining))
		}
	}

	if user.Tier == domain.TierPayg && user.PaygCreditsHours < 1 {
		warnings = append(warnings,
			fmt.Sprintf("Your prepaid credit is down to %.2f hours.", user.PaygCreditsHours))
	}

	return warnings
}

// ResetMonthlyUsage zeroes the counters for one user, anchored at the start
// of the current month.
func (s *usageService) ResetMonthlyUsage(ctx context.Context, userID string) error {
	at := domain.MonthStart(s.now())
	if err := s.users.ResetMonthlyUsage(ctx, userID, at); err != nil {
		return err
	}
	s.logger.Info("reset monthly usage", "user_id", userID, "reset_at", at)
	return nil
}

// appendRecord writes the analytics fact. Best-effort: errors are logged and
// counted, never returned.
func (s *usageService) appendRecord(ctx context.Context, record *domain.UsageRecord) {
	if err := s.records.Append(ctx, record); err != nil {
		metrics.UsageRecordAppendFailures.Inc()
		s.logger.Error("failed to append usage record",
			"user_id", record.UserID,
			"type", record.Type,
			"error", err,
		)
	}
}
