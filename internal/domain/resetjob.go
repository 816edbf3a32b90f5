// Package domain contains core business types and interfaces.
//
// This file defines the ResetJob document: the durable state machine behind
// the monthly usage reset. One job exists per calendar month (the month is
// the idempotency key), and at most one job is in progress at a time.
package domain

import (
	"fmt"
	"time"
)

// ResetJobStatus represents the state of a monthly reset run.
type ResetJobStatus string

const (
	ResetJobInProgress ResetJobStatus = "in_progress"
	ResetJobCompleted  ResetJobStatus = "completed"
)

// ResetJob records the durable progress of one monthly usage reset.
//
// ProcessedUsers and LastProcessedUserID are checkpointed every fixed batch
// of users so a crash loses at most one batch of progress. FailedUserIDs
// collects per-user failures; a failed user never halts the run.
type ResetJob struct {
	ID                  string // derived from year-month, e.g. "usage-reset-2026-08"
	Status              ResetJobStatus
	StartedAt           time.Time
	CompletedAt         *time.Time
	TotalUsers          int
	ProcessedUsers      int
	LastProcessedUserID string
	FailedUserIDs       []string
}

// ResetJobID derives the idempotency key for the reset covering t's
// calendar month (UTC).
func ResetJobID(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("usage-reset-%04d-%02d", t.Year(), int(t.Month()))
}

// Attempted returns the number of users attempted so far, successes and
// failures combined.
func (j *ResetJob) Attempted() int {
	return j.ProcessedUsers + len(j.FailedUserIDs)
}

// Done reports whether every user in the run's starting snapshot has been
// attempted. Only then may the job be marked completed.
func (j *ResetJob) Done() bool {
	return j.Attempted() >= j.TotalUsers
}

// MonthStart returns the first instant of t's calendar month in UTC. Users
// whose last reset predates this are owed a reset.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
