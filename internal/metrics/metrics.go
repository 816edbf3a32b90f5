package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voxnote"

// Quota metrics
var (
	QuotaChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_checks_total",
			Help:      "Total number of quota admission checks",
		},
		[]string{"kind", "outcome"},
	)

	QuotaRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_rejections_total",
			Help:      "Quota rejections by reason code",
		},
		[]string{"reason"},
	)
)

// Usage metrics
var (
	TranscriptionsTracked = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_tracked_total",
			Help:      "Total number of transcriptions recorded against usage",
		},
	)

	HoursTracked = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_hours_tracked_total",
			Help:      "Total transcription hours recorded against usage",
		},
	)

	AnalysesTracked = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_tracked_total",
			Help:      "Total number of on-demand analyses recorded against usage",
		},
	)

	UsageRecordAppendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_record_append_failures_total",
			Help:      "Usage record appends that failed and were swallowed",
		},
	)
)

// Reset job metrics
var (
	ResetJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reset_jobs_total",
			Help:      "Reset job runs by terminal outcome",
		},
		[]string{"outcome"},
	)

	ResetUsersProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reset_users_processed_total",
			Help:      "Users whose monthly usage was reset successfully",
		},
	)

	ResetUsersFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reset_users_failed_total",
			Help:      "Users whose monthly usage reset failed",
		},
	)
)

// Account deletion metrics
var (
	AccountDeletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_deletions_total",
			Help:      "Account deletions by mode",
		},
		[]string{"mode"},
	)

	DeletionStepErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_deletion_step_errors_total",
			Help:      "Swallowed per-step errors during hard account deletion",
		},
		[]string{"step"},
	)
)

// Billing metrics
var (
	CheckoutSessionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_sessions_total",
			Help:      "Checkout sessions created for subscription upgrades",
		},
	)

	SubscriptionEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_events_total",
			Help:      "Payment-processor webhook events applied, by event type",
		},
		[]string{"type"},
	)
)

// Scheduler metrics
var (
	ScheduledTaskRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_task_runs_total",
			Help:      "Scheduled task executions by task and status",
		},
		[]string{"task", "status"},
	)

	ScheduledTaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduled_task_duration_seconds",
			Help:      "Scheduled task execution time distribution",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"task"},
	)
)
