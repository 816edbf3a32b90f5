package scheduler

import (
	"context"
	"log/slog"

	"github.com/voxnote/backend/internal/email"
	"github.com/voxnote/backend/internal/repository"
	"github.com/voxnote/backend/internal/service"
)

// Task names as registered with the scheduler and reported in metrics.
const (
	TaskMonthlyReset  = "monthly_usage_reset"
	TaskOverageCheck  = "overage_check"
	TaskUsageWarnings = "usage_warnings"
)

// OverageCheckTask logs every account carrying billable overage. Invoicing
// itself happens through the payment processor at period end; this task
// exists so support sees overage building up before the invoice lands.
type OverageCheckTask struct {
	users  repository.UserRepository
	usage  service.UsageService
	logger *slog.Logger
}

// NewOverageCheckTask creates the daily overage check.
func NewOverageCheckTask(users repository.UserRepository, usage service.UsageService, logger *slog.Logger) *OverageCheckTask {
	return &OverageCheckTask{users: users, usage: usage, logger: logger}
}

func (t *OverageCheckTask) Run(ctx context.Context) error {
	ids, err := t.users.ListIDs(ctx)
	if err != nil {
		return err
	}

	var inOverage int
	for _, userID := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		overage, err := t.usage.CalculateOverage(ctx, userID)
		if err != nil {
			t.logger.Error("overage check failed for user, continuing",
				"user_id", userID,
				"error", err,
			)
			continue
		}
		if overage.Hours <= 0 {
			continue
		}

		inOverage++
		t.logger.Info("account in overage",
			"user_id", userID,
			"overage_hours", overage.Hours,
			"overage_cents", overage.AmountCents,
		)
	}

	t.logger.Info("overage check finished", "accounts_checked", len(ids), "in_overage", inOverage)
	return nil
}

// UsageWarningTask emails users whose usage stats carry warnings. Send
// failures are logged per user and never abort the sweep.
type UsageWarningTask struct {
	users  repository.UserRepository
	usage  service.UsageService
	email  email.EmailService
	logger *slog.Logger
}

// NewUsageWarningTask creates the daily usage-warning email sweep.
func NewUsageWarningTask(users repository.UserRepository, usage service.UsageService, emailSvc email.EmailService, logger *slog.Logger) *UsageWarningTask {
	return &UsageWarningTask{users: users, usage: usage, email: emailSvc, logger: logger}
}

func (t *UsageWarningTask) Run(ctx context.Context) error {
	ids, err := t.users.ListIDs(ctx)
	if err != nil {
		return err
	}

	var sent int
	for _, userID := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		user, err := t.users.Get(ctx, userID)
		if err != nil {
			t.logger.Error("failed to load user for warning sweep, continuing",
				"user_id", userID,
				"error", err,
			)
			continue
		}

		stats, err := t.usage.GetUsageStats(ctx, userID)
		if err != nil {
			t.logger.Error("failed to compute usage stats, continuing",
				"user_id", userID,
				"error", err,
			)
			continue
		}
		if len(stats.Warnings) == 0 {
			continue
		}

		if err := t.email.SendUsageWarningEmail(ctx, user.Email, user.DisplayName(), stats); err != nil {
			// Already logged by the email service.
			continue
		}
		sent++
	}

	t.logger.Info("usage warning sweep finished", "accounts_checked", len(ids), "warnings_sent", sent)
	return nil
}
