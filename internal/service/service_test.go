package service

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v79"

	"github.com/voxnote/backend/internal/domain"
	"github.com/voxnote/backend/internal/storage"
)

// =============================================================================
// Test Fakes
// =============================================================================

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeUserRepo is an in-memory UserRepository with per-method error injection.
type fakeUserRepo struct {
	users map[string]*domain.User

	resetErr     error
	incrementErr error
	deleteErr    error
	deletedIDs   []string
}

func newFakeUserRepo(users ...*domain.User) *fakeUserRepo {
	m := make(map[string]*domain.User, len(users))
	for _, u := range users {
		m[u.ID] = u
	}
	return &fakeUserRepo{users: m}
}

func (r *fakeUserRepo) Get(ctx context.Context, id string) (*domain.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, domain.NotFound("fake.user_get", "user", id)
	}
	clone := *u
	return &clone, nil
}

func (r *fakeUserRepo) GetByPaymentCustomerID(ctx context.Context, customerID string) (*domain.User, error) {
	for _, u := range r.users {
		if u.PaymentCustomerID == customerID && !u.IsDeleted {
			clone := *u
			return &clone, nil
		}
	}
	return nil, domain.NotFound("fake.user_get_by_customer", "user", customerID)
}

func (r *fakeUserRepo) SetPaymentCustomer(ctx context.Context, id string, customerID string) error {
	u, ok := r.users[id]
	if !ok {
		return domain.NotFound("fake.user_set_customer", "user", id)
	}
	u.PaymentCustomerID = customerID
	return nil
}

func (r *fakeUserRepo) UpdateSubscription(ctx context.Context, id string, subscriptionID string, status domain.SubscriptionStatus, tier domain.Tier) error {
	u, ok := r.users[id]
	if !ok {
		return domain.NotFound("fake.user_update_subscription", "user", id)
	}
	u.PaymentSubscriptionID = subscriptionID
	u.SubscriptionStatus = status
	u.Tier = tier
	return nil
}

func (r *fakeUserRepo) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	for id, u := range r.users {
		if !u.IsDeleted {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *fakeUserRepo) ListIDsResetBefore(ctx context.Context, t time.Time) ([]string, error) {
	var ids []string
	for id, u := range r.users {
		if !u.IsDeleted && u.Usage.LastResetAt.Before(t) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *fakeUserRepo) IncrementTranscriptionUsage(ctx context.Context, id string, hours float64, deductPaygCredits bool) error {
	if r.incrementErr != nil {
		return r.incrementErr
	}
	u, ok := r.users[id]
	if !ok {
		return domain.NotFound("fake.user_increment", "user", id)
	}
	u.Usage.HoursUsed += hours
	u.Usage.TranscriptionCount++
	if deductPaygCredits {
		u.PaygCreditsHours -= hours
		if u.PaygCreditsHours < 0 {
			u.PaygCreditsHours = 0
		}
	}
	return nil
}

func (r *fakeUserRepo) IncrementAnalysisUsage(ctx context.Context, id string) error {
	if r.incrementErr != nil {
		return r.incrementErr
	}
	u, ok := r.users[id]
	if !ok {
		return domain.NotFound("fake.user_increment", "user", id)
	}
	u.Usage.OnDemandAnalysisCount++
	return nil
}

func (r *fakeUserRepo) ResetMonthlyUsage(ctx context.Context, id string, at time.Time) error {
	if r.resetErr != nil {
		return r.resetErr
	}
	u, ok := r.users[id]
	if !ok {
		return domain.NotFound("fake.user_reset", "user", id)
	}
	u.Usage.HoursUsed = 0
	u.Usage.TranscriptionCount = 0
	u.Usage.OnDemandAnalysisCount = 0
	if at.After(u.Usage.LastResetAt) {
		u.Usage.LastResetAt = at
	}
	return nil
}

func (r *fakeUserRepo) SoftDelete(ctx context.Context, id string, at time.Time) error {
	u, ok := r.users[id]
	if !ok {
		return domain.NotFound("fake.user_soft_delete", "user", id)
	}
	u.IsDeleted = true
	u.DeletedAt = &at
	return nil
}

func (r *fakeUserRepo) Delete(ctx context.Context, id string) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}
	delete(r.users, id)
	r.deletedIDs = append(r.deletedIDs, id)
	return nil
}

// fakeRecordRepo is an in-memory UsageRecordRepository.
type fakeRecordRepo struct {
	records   []*domain.UsageRecord
	appendErr error
}

func (r *fakeRecordRepo) Append(ctx context.Context, record *domain.UsageRecord) error {
	if r.appendErr != nil {
		return r.appendErr
	}
	r.records = append(r.records, record)
	return nil
}

func (r *fakeRecordRepo) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	var kept []*domain.UsageRecord
	var removed int64
	for _, rec := range r.records {
		if rec.UserID == userID {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	r.records = kept
	return removed, nil
}

// fakeUserDataRepo is an in-memory UserDataRepository returning fixed counts.
type fakeUserDataRepo struct {
	transcriptions int64
	analyses       int64
	folders        int64
	importedShares int64

	transcriptionsErr error
	calls             []string
}

func (r *fakeUserDataRepo) DeleteTranscriptionsByUser(ctx context.Context, userID string) (int64, error) {
	r.calls = append(r.calls, "transcriptions")
	if r.transcriptionsErr != nil {
		return 0, r.transcriptionsErr
	}
	return r.transcriptions, nil
}

func (r *fakeUserDataRepo) DeleteAnalysesByUser(ctx context.Context, userID string) (int64, error) {
	r.calls = append(r.calls, "analyses")
	return r.analyses, nil
}

func (r *fakeUserDataRepo) DeleteFoldersByUser(ctx context.Context, userID string) (int64, error) {
	r.calls = append(r.calls, "folders")
	return r.folders, nil
}

func (r *fakeUserDataRepo) DeleteImportedSharesByUser(ctx context.Context, userID string) (int64, error) {
	r.calls = append(r.calls, "imported_shares")
	return r.importedShares, nil
}

// fakeStorage is an in-memory Storage keyed by object key.
type fakeStorage struct {
	objects   map[string][]byte
	listErr   error
	deleteErr error
	deleted   []string
}

func newFakeStorage(keys ...string) *fakeStorage {
	objects := make(map[string][]byte, len(keys))
	for _, k := range keys {
		objects[k] = []byte("data")
	}
	return &fakeStorage{objects: objects}
}

func (s *fakeStorage) Put(ctx context.Context, key string, data io.Reader, opts storage.PutOptions) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.objects[key] = b
	return nil
}

func (s *fakeStorage) Get(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	b, ok := s.objects[key]
	if !ok {
		return nil, storage.ObjectInfo{}, &storage.StorageError{Op: "Get", Key: key, Err: storage.ErrNotFound}
	}
	return io.NopCloser(bytes.NewReader(b)), storage.ObjectInfo{Key: key, Size: int64(len(b))}, nil
}

func (s *fakeStorage) Delete(ctx context.Context, key string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *fakeStorage) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var infos []storage.ObjectInfo
	for k, b := range s.objects {
		if strings.HasPrefix(k, prefix) {
			infos = append(infos, storage.ObjectInfo{Key: k, Size: int64(len(b))})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (s *fakeStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := s.objects[key]
	return ok, nil
}

// fakeBilling records billing calls and injects failures.
type fakeBilling struct {
	cancelErr    error
	deleteErr    error
	checkoutErr  error
	webhookErr   error
	webhookEvent stripe.Event
	subscription *stripe.Subscription
	calls        []string
}

func (b *fakeBilling) CreateCustomer(email, name string) (string, error) {
	b.calls = append(b.calls, "create_customer")
	return "cus_test", nil
}

func (b *fakeBilling) CreateCheckoutSession(customerID, priceID, successURL, cancelURL string) (string, error) {
	b.calls = append(b.calls, "create_checkout_session")
	if b.checkoutErr != nil {
		return "", b.checkoutErr
	}
	return "https://checkout.stripe.test/" + priceID, nil
}

func (b *fakeBilling) CreatePortalSession(customerID, returnURL string) (string, error) {
	b.calls = append(b.calls, "create_portal_session")
	return "https://portal.stripe.test/" + customerID, nil
}

func (b *fakeBilling) GetSubscription(subscriptionID string) (*stripe.Subscription, error) {
	b.calls = append(b.calls, "get_subscription")
	return b.subscription, nil
}

func (b *fakeBilling) CancelSubscription(subscriptionID string, atPeriodEnd bool) error {
	b.calls = append(b.calls, "cancel_subscription")
	return b.cancelErr
}

func (b *fakeBilling) DeleteCustomer(customerID string) error {
	b.calls = append(b.calls, "delete_customer")
	return b.deleteErr
}

func (b *fakeBilling) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	if b.webhookErr != nil {
		return stripe.Event{}, b.webhookErr
	}
	return b.webhookEvent, nil
}

// fakeIdentity records identity deletions and injects failures.
type fakeIdentity struct {
	err     error
	deleted []string
}

func (p *fakeIdentity) DeleteAccount(ctx context.Context, userID string) error {
	if p.err != nil {
		return p.err
	}
	p.deleted = append(p.deleted, userID)
	return nil
}

// fakeEmail records recipients and injects send failures.
type fakeEmail struct {
	err  error
	sent []string
}

func (e *fakeEmail) SendUsageWarningEmail(ctx context.Context, to, name string, stats *domain.UsageStats) error {
	if e.err != nil {
		return e.err
	}
	e.sent = append(e.sent, to)
	return nil
}

func (e *fakeEmail) SendAccountDeletedEmail(ctx context.Context, to, name string) error {
	if e.err != nil {
		return e.err
	}
	e.sent = append(e.sent, to)
	return nil
}
