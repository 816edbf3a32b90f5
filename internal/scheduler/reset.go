package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/voxnote/backend/internal/domain"
	"github.com/voxnote/backend/internal/metrics"
	"github.com/voxnote/backend/internal/repository"
)

// checkpointEvery is the number of successful per-user resets between
// durable progress checkpoints. A crash loses at most this much progress.
const checkpointEvery = 10

// ResetRunner drives the monthly usage reset. The job document in the
// reset_jobs table is the source of truth for progress: one job per calendar
// month, resumed from its cursor after a crash or restart, with per-user
// failures isolated so a single bad row never halts the run.
type ResetRunner struct {
	users  repository.UserRepository
	jobs   repository.ResetJobRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewResetRunner creates a new ResetRunner.
func NewResetRunner(users repository.UserRepository, jobs repository.ResetJobRepository, logger *slog.Logger) *ResetRunner {
	return &ResetRunner{
		users:  users,
		jobs:   jobs,
		logger: logger,
		now:    time.Now,
	}
}

// Run executes one reset cycle: resume an interrupted job if one exists,
// otherwise start this month's job unless it already completed, then sweep
// any users the job missed. Safe to call repeatedly; the month-keyed job id
// makes the whole cycle idempotent.
func (r *ResetRunner) Run(ctx context.Context) error {
	job, err := r.jobs.GetInProgress(ctx)
	switch {
	case err == nil:
		r.logger.Info("resuming interrupted reset job",
			"job_id", job.ID,
			"processed", job.ProcessedUsers,
			"failed", len(job.FailedUserIDs),
			"total", job.TotalUsers,
		)
	case domain.IsNotFound(err):
		job, err = r.startJob(ctx)
		if err != nil {
			return err
		}
		if job == nil {
			// This month's job already completed; only the sweep remains.
			return r.SweepMissedResets(ctx)
		}
	default:
		return err
	}

	if err := r.process(ctx, job); err != nil {
		return err
	}
	if ctx.Err() != nil {
		// Interrupted mid-run: leave the job in progress for the next
		// resume. Not an error.
		metrics.ResetJobsTotal.WithLabelValues("interrupted").Inc()
		return nil
	}

	return r.SweepMissedResets(ctx)
}

// startJob creates this month's job with a fresh user snapshot. Returns
// (nil, nil) when the job already completed. A concurrent-create conflict
// resolves by adopting the winner's in-progress job.
func (r *ResetRunner) startJob(ctx context.Context) (*domain.ResetJob, error) {
	id := domain.ResetJobID(r.now())

	existing, err := r.jobs.Get(ctx, id)
	if err == nil {
		if existing.Status == domain.ResetJobCompleted {
			return nil, nil
		}
		return existing, nil
	}
	if !domain.IsNotFound(err) {
		return nil, err
	}

	ids, err := r.users.ListIDs(ctx)
	if err != nil {
		return nil, err
	}

	job := &domain.ResetJob{
		ID:         id,
		Status:     domain.ResetJobInProgress,
		StartedAt:  r.now().UTC(),
		TotalUsers: len(ids),
	}
	if err := r.jobs.Create(ctx, job); err != nil {
		if domain.ErrorCode(err) == domain.ECONFLICT {
			return r.jobs.GetInProgress(ctx)
		}
		return nil, err
	}

	r.logger.Info("started reset job", "job_id", job.ID, "total_users", job.TotalUsers)
	return job, nil
}

// process walks the user snapshot from the job's cursor. The snapshot is
// re-listed on resume; because ListIDs orders by id, everything at or before
// the cursor has already been attempted and is skipped.
func (r *ResetRunner) process(ctx context.Context, job *domain.ResetJob) error {
	ids, err := r.users.ListIDs(ctx)
	if err != nil {
		return err
	}

	failed := make(map[string]bool, len(job.FailedUserIDs))
	for _, id := range job.FailedUserIDs {
		failed[id] = true
	}

	resetAt := domain.MonthStart(r.now())
	sinceCheckpoint := 0

	for _, userID := range ids {
		if ctx.Err() != nil {
			// Shutdown requested. Flush progress and bail; the job stays
			// in progress and resumes from this cursor.
			return r.checkpoint(job, sinceCheckpoint)
		}
		if job.Done() {
			// The starting snapshot is exhausted. Users who signed up after
			// the snapshot belong to the missed-reset sweep, not this job;
			// processing them would push processed_users past total_users.
			break
		}

		if job.LastProcessedUserID != "" && userID <= job.LastProcessedUserID {
			continue
		}
		if failed[userID] {
			continue
		}

		if err := r.users.ResetMonthlyUsage(ctx, userID, resetAt); err != nil {
			metrics.ResetUsersFailed.Inc()
			r.logger.Error("failed to reset user, continuing",
				"job_id", job.ID,
				"user_id", userID,
				"error", err,
			)
			if err := r.durable(ctx, func(ctx context.Context) error {
				return r.jobs.AppendFailedUser(ctx, job.ID, userID)
			}); err != nil {
				return err
			}
			job.FailedUserIDs = append(job.FailedUserIDs, userID)
			continue
		}

		metrics.ResetUsersProcessed.Inc()
		job.ProcessedUsers++
		job.LastProcessedUserID = userID
		sinceCheckpoint++

		if sinceCheckpoint >= checkpointEvery {
			if err := r.checkpoint(job, sinceCheckpoint); err != nil {
				return err
			}
			sinceCheckpoint = 0
		}
	}

	completedAt := r.now().UTC()
	if err := r.durable(context.WithoutCancel(ctx), func(ctx context.Context) error {
		return r.jobs.Complete(ctx, job.ID, job.ProcessedUsers, job.LastProcessedUserID, completedAt)
	}); err != nil {
		return err
	}

	metrics.ResetJobsTotal.WithLabelValues("completed").Inc()
	r.logger.Info("reset job completed",
		"job_id", job.ID,
		"processed", job.ProcessedUsers,
		"failed", len(job.FailedUserIDs),
		"total", job.TotalUsers,
	)
	return nil
}

// checkpoint durably records the current cursor. Runs detached from the
// task context so a shutdown-triggered flush still lands.
func (r *ResetRunner) checkpoint(job *domain.ResetJob, dirty int) error {
	if dirty == 0 {
		return nil
	}
	return r.durable(context.Background(), func(ctx context.Context) error {
		return r.jobs.Checkpoint(ctx, job.ID, job.ProcessedUsers, job.LastProcessedUserID)
	})
}

// durable retries a job-state write with backoff. Losing one of these writes
// costs re-processing on resume, so a transient database hiccup is worth a
// few retries.
func (r *ResetRunner) durable(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

// SweepMissedResets resets users whose last reset predates the current
// month: accounts that raced with the job snapshot, or months where the
// process was down entirely.
func (r *ResetRunner) SweepMissedResets(ctx context.Context) error {
	monthStart := domain.MonthStart(r.now())

	ids, err := r.users.ListIDsResetBefore(ctx, monthStart)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	r.logger.Info("sweeping missed resets", "count", len(ids))

	var swept int
	for _, userID := range ids {
		if ctx.Err() != nil {
			return nil
		}
		if err := r.users.ResetMonthlyUsage(ctx, userID, monthStart); err != nil {
			metrics.ResetUsersFailed.Inc()
			r.logger.Error("missed-reset sweep failed for user, continuing",
				"user_id", userID,
				"error", err,
			)
			continue
		}
		metrics.ResetUsersProcessed.Inc()
		swept++
	}

	r.logger.Info("missed-reset sweep finished", "swept", swept, "candidates", len(ids))
	return nil
}

// JobStatus returns the job with the given id.
func (r *ResetRunner) JobStatus(ctx context.Context, id string) (*domain.ResetJob, error) {
	return r.jobs.Get(ctx, id)
}

// ActiveJobStatus returns the in-progress job, or a not-found domain error
// when no reset is running.
func (r *ResetRunner) ActiveJobStatus(ctx context.Context) (*domain.ResetJob, error) {
	return r.jobs.GetInProgress(ctx)
}
