package domain

// DeletionMode distinguishes a recoverable soft delete from the full
// irreversible teardown.
type DeletionMode string

const (
	DeletionSoft DeletionMode = "soft"
	DeletionHard DeletionMode = "hard"
)

// DeletionSummary reports what an account deletion removed. For hard
// deletion the counts come from the row and object deletes; Errors collects
// the failures that were recorded without aborting the run.
type DeletionSummary struct {
	UserID string
	Mode   DeletionMode

	TranscriptionsDeleted  int64
	AnalysesDeleted        int64
	FoldersDeleted         int64
	UsageRecordsDeleted    int64
	ImportedSharesDeleted  int64
	BlobObjectsDeleted     int64
	SubscriptionCancelled  bool
	PaymentCustomerDeleted bool
	UserRecordDeleted      bool
	IdentityAccountDeleted bool

	Errors []string
}
