// Package repository provides PostgreSQL persistence for the usage and
// account-lifecycle subsystem.
//
// Each aggregate (User, ResetJob, UsageRecord, user data rows) gets its own
// repository interface so components declare exactly which stores they
// depend on in their constructors. All usage-counter writes are targeted
// field updates (increments, zeroing) rather than full-row overwrites, so
// interleaved writers cannot clobber each other's fields.
package repository

import (
	"database/sql"
)

// Store bundles the per-aggregate repositories behind one constructor.
// Consumers should depend on the individual interfaces, not on Store.
type Store struct {
	Users        UserRepository
	ResetJobs    ResetJobRepository
	UsageRecords UsageRecordRepository
	UserData     UserDataRepository
}

// New creates a Store backed by the given database handle.
func New(db *sql.DB) *Store {
	return &Store{
		Users:        &userRepository{db: db},
		ResetJobs:    &resetJobRepository{db: db},
		UsageRecords: &usageRecordRepository{db: db},
		UserData:     &userDataRepository{db: db},
	}
}
