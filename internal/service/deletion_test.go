package service

import (
	"context"
	"errors"
	"testing"

	"github.com/voxnote/backend/internal/domain"
)

type deletionFixture struct {
	users    *fakeUserRepo
	userData *fakeUserDataRepo
	records  *fakeRecordRepo
	blobs    *fakeStorage
	billing  *fakeBilling
	identity *fakeIdentity
	email    *fakeEmail
	svc      DeletionService
}

func newDeletionFixture(t *testing.T, user *domain.User) *deletionFixture {
	f := &deletionFixture{
		users:    newFakeUserRepo(user),
		userData: &fakeUserDataRepo{transcriptions: 3, analyses: 2, folders: 1, importedShares: 1},
		records:  &fakeRecordRepo{},
		blobs: newFakeStorage(
			"users/"+user.ID+"/audio/a.mp3",
			"users/"+user.ID+"/exports/e.txt",
			"users/other/audio/keep.mp3",
		),
		billing:  &fakeBilling{},
		identity: &fakeIdentity{},
		email:    &fakeEmail{},
	}
	f.svc = NewDeletionService(f.users, f.userData, f.records, f.blobs, f.billing, f.identity, f.email, testLogger(t))
	return f
}

func paidUser(id string) *domain.User {
	return &domain.User{
		ID:                    id,
		Email:                 id + "@example.com",
		Role:                  domain.RoleUser,
		Tier:                  domain.TierProfessional,
		PaymentCustomerID:     "cus_123",
		PaymentSubscriptionID: "sub_123",
	}
}

func TestDeleteAccount_Soft(t *testing.T) {
	f := newDeletionFixture(t, paidUser("u-1"))

	summary, err := f.svc.DeleteAccount(context.Background(), "u-1", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Mode != domain.DeletionSoft {
		t.Errorf("expected soft mode, got %s", summary.Mode)
	}

	// Soft delete touches nothing but the user flag.
	u := f.users.users["u-1"]
	if !u.IsDeleted || u.DeletedAt == nil {
		t.Error("expected user flagged deleted with timestamp")
	}
	if len(f.userData.calls) != 0 {
		t.Errorf("expected no content deletion, got calls %v", f.userData.calls)
	}
	if len(f.billing.calls) != 0 {
		t.Errorf("expected no billing calls, got %v", f.billing.calls)
	}
	if len(f.blobs.deleted) != 0 {
		t.Errorf("expected no blob deletion, got %v", f.blobs.deleted)
	}
	if len(f.identity.deleted) != 0 {
		t.Error("expected identity account untouched")
	}
}

func TestDeleteAccount_Hard(t *testing.T) {
	f := newDeletionFixture(t, paidUser("u-1"))

	summary, err := f.svc.DeleteAccount(context.Background(), "u-1", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.TranscriptionsDeleted != 3 || summary.AnalysesDeleted != 2 ||
		summary.FoldersDeleted != 1 || summary.ImportedSharesDeleted != 1 {
		t.Errorf("unexpected content counts: %+v", summary)
	}
	if summary.BlobObjectsDeleted != 2 {
		t.Errorf("expected 2 blob objects deleted, got %d", summary.BlobObjectsDeleted)
	}
	// Only the user's prefix is touched.
	if _, ok := f.blobs.objects["users/other/audio/keep.mp3"]; !ok {
		t.Error("deletion removed another user's object")
	}

	if !summary.SubscriptionCancelled || !summary.PaymentCustomerDeleted {
		t.Errorf("expected payment cleanup, got %+v", summary)
	}
	// Subscription cancellation must precede customer deletion.
	if len(f.billing.calls) != 2 || f.billing.calls[0] != "cancel_subscription" || f.billing.calls[1] != "delete_customer" {
		t.Errorf("unexpected billing call order: %v", f.billing.calls)
	}

	if !summary.UserRecordDeleted {
		t.Error("expected user record deleted")
	}
	if !summary.IdentityAccountDeleted || len(f.identity.deleted) != 1 {
		t.Error("expected identity account deleted last")
	}
	if len(summary.Errors) != 0 {
		t.Errorf("expected no recorded errors, got %v", summary.Errors)
	}
	if len(f.email.sent) != 1 || f.email.sent[0] != "u-1@example.com" {
		t.Errorf("expected deletion confirmation mail, got %v", f.email.sent)
	}
}

func TestDeleteAccount_Hard_ConfirmationSendFailureIsSwallowed(t *testing.T) {
	f := newDeletionFixture(t, paidUser("u-1"))
	f.email.err = errors.New("smtp down")

	summary, err := f.svc.DeleteAccount(context.Background(), "u-1", true)
	if err != nil {
		t.Fatalf("mail failure must not abort the deletion, got %v", err)
	}
	if !summary.IdentityAccountDeleted {
		t.Error("deletion should complete despite mail failure")
	}
}

func TestDeleteAccount_Hard_PaymentFailureIsSwallowed(t *testing.T) {
	f := newDeletionFixture(t, paidUser("u-1"))
	f.billing.cancelErr = errors.New("stripe unavailable")
	f.billing.deleteErr = errors.New("stripe unavailable")

	summary, err := f.svc.DeleteAccount(context.Background(), "u-1", true)
	if err != nil {
		t.Fatalf("payment failure must not abort the deletion, got %v", err)
	}

	if summary.SubscriptionCancelled || summary.PaymentCustomerDeleted {
		t.Error("expected payment cleanup marked failed")
	}
	if !summary.UserRecordDeleted || !summary.IdentityAccountDeleted {
		t.Error("deletion should complete despite payment failures")
	}
	if len(summary.Errors) != 2 {
		t.Errorf("expected 2 recorded errors, got %v", summary.Errors)
	}
}

func TestDeleteAccount_Hard_BlobFailureIsSwallowed(t *testing.T) {
	f := newDeletionFixture(t, paidUser("u-1"))
	f.blobs.listErr = errors.New("bucket unreachable")

	summary, err := f.svc.DeleteAccount(context.Background(), "u-1", true)
	if err != nil {
		t.Fatalf("blob failure must not abort the deletion, got %v", err)
	}
	if summary.BlobObjectsDeleted != 0 {
		t.Errorf("expected 0 blob deletions, got %d", summary.BlobObjectsDeleted)
	}
	if !summary.UserRecordDeleted || !summary.IdentityAccountDeleted {
		t.Error("deletion should complete despite blob failure")
	}
}

func TestDeleteAccount_Hard_IdentityFailureIsSurfaced(t *testing.T) {
	f := newDeletionFixture(t, paidUser("u-1"))
	f.identity.err = errors.New("provider down")

	summary, err := f.svc.DeleteAccount(context.Background(), "u-1", true)
	if err == nil {
		t.Fatal("expected identity failure to surface")
	}
	if domain.ErrorCode(err) != domain.EEXTERNAL {
		t.Errorf("expected external error, got %v", err)
	}
	// The summary still reports everything removed before the failure.
	if summary == nil || !summary.UserRecordDeleted {
		t.Fatalf("expected populated summary alongside the error, got %+v", summary)
	}
	if summary.IdentityAccountDeleted {
		t.Error("identity account must not be marked deleted")
	}
}

func TestDeleteAccount_Hard_UserRowFailureAborts(t *testing.T) {
	f := newDeletionFixture(t, paidUser("u-1"))
	f.users.deleteErr = domain.Internal(errors.New("db down"), "repository.user_delete", "failed to delete user")

	summary, err := f.svc.DeleteAccount(context.Background(), "u-1", true)
	if err == nil {
		t.Fatal("expected user row failure to surface")
	}
	if summary == nil || summary.UserRecordDeleted {
		t.Error("user record must not be marked deleted")
	}
	// Identity deletion must not run if the user row survived.
	if len(f.identity.deleted) != 0 {
		t.Error("identity deletion ran despite user row failure")
	}
}

func TestDeleteAccount_Hard_NoPaymentResources(t *testing.T) {
	user := paidUser("u-1")
	user.PaymentCustomerID = ""
	user.PaymentSubscriptionID = ""
	f := newDeletionFixture(t, user)

	summary, err := f.svc.DeleteAccount(context.Background(), "u-1", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.billing.calls) != 0 {
		t.Errorf("expected no billing calls for a free account, got %v", f.billing.calls)
	}
	if summary.SubscriptionCancelled || summary.PaymentCustomerDeleted {
		t.Error("payment flags should stay false when there was nothing to clean up")
	}
}

func TestDeleteAccount_UnknownUser(t *testing.T) {
	f := newDeletionFixture(t, paidUser("u-1"))

	_, err := f.svc.DeleteAccount(context.Background(), "ghost", true)
	if !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
