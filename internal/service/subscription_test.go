package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stripe/stripe-go/v79"

	"github.com/voxnote/backend/internal/domain"
)

func newSubscriptionFixture(t *testing.T, users ...*domain.User) (*fakeUserRepo, *fakeBilling, SubscriptionService) {
	repo := newFakeUserRepo(users...)
	billing := &fakeBilling{}
	svc := NewSubscriptionService(repo, billing, SubscriptionConfig{
		PriceTiers: map[string]domain.Tier{
			"price_pro": domain.TierProfessional,
			"price_biz": domain.TierBusiness,
		},
		SuccessURL:      "https://app.test/account/billing?checkout=success",
		CancelURL:       "https://app.test/account/billing?checkout=cancelled",
		PortalReturnURL: "https://app.test/account/billing",
	}, testLogger(t))
	return repo, billing, svc
}

func subscriptionEvent(eventType, raw string) stripe.Event {
	return stripe.Event{
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: json.RawMessage(raw)},
	}
}

func countCalls(calls []string, name string) int {
	var n int
	for _, c := range calls {
		if c == name {
			n++
		}
	}
	return n
}

func TestStartCheckout_CreatesCustomerOnFirstUse(t *testing.T) {
	repo, billing, svc := newSubscriptionFixture(t, &domain.User{
		ID:    "u-1",
		Email: "u-1@example.com",
		Tier:  domain.TierFree,
	})

	url, err := svc.StartCheckout(context.Background(), "u-1", "price_pro")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(url, "https://checkout.") {
		t.Errorf("expected checkout url, got %q", url)
	}

	if repo.users["u-1"].PaymentCustomerID != "cus_test" {
		t.Errorf("expected customer id persisted, got %q", repo.users["u-1"].PaymentCustomerID)
	}

	// A second checkout reuses the stored customer.
	if _, err := svc.StartCheckout(context.Background(), "u-1", "price_biz"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := countCalls(billing.calls, "create_customer"); n != 1 {
		t.Errorf("expected exactly 1 customer creation, got %d", n)
	}
	if n := countCalls(billing.calls, "create_checkout_session"); n != 2 {
		t.Errorf("expected 2 checkout sessions, got %d", n)
	}
}

func TestStartCheckout_RejectsUnknownPrice(t *testing.T) {
	_, billing, svc := newSubscriptionFixture(t, &domain.User{ID: "u-1", Tier: domain.TierFree})

	_, err := svc.StartCheckout(context.Background(), "u-1", "price_bogus")
	if domain.ErrorCode(err) != domain.EINVALID {
		t.Fatalf("expected invalid, got %v", err)
	}
	if len(billing.calls) != 0 {
		t.Errorf("expected no billing calls for a bad price, got %v", billing.calls)
	}
}

func TestStartCheckout_RejectsDeletedAccount(t *testing.T) {
	_, _, svc := newSubscriptionFixture(t, &domain.User{ID: "u-1", IsDeleted: true})

	_, err := svc.StartCheckout(context.Background(), "u-1", "price_pro")
	if domain.ErrorCode(err) != domain.EINVALID {
		t.Fatalf("expected invalid, got %v", err)
	}
}

func TestOpenBillingPortal(t *testing.T) {
	_, _, svc := newSubscriptionFixture(t,
		&domain.User{ID: "u-1"},
		&domain.User{ID: "u-2", PaymentCustomerID: "cus_2"},
	)

	// No billing profile yet.
	if _, err := svc.OpenBillingPortal(context.Background(), "u-1"); domain.ErrorCode(err) != domain.EINVALID {
		t.Errorf("expected invalid without a customer, got %v", err)
	}

	url, err := svc.OpenBillingPortal(context.Background(), "u-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(url, "https://portal.") {
		t.Errorf("expected portal url, got %q", url)
	}
}

func TestHandleWebhook_RejectsBadSignature(t *testing.T) {
	_, billing, svc := newSubscriptionFixture(t)
	billing.webhookErr = errors.New("signature mismatch")

	err := svc.HandleWebhookEvent(context.Background(), []byte(`{}`), "bad-sig")
	if domain.ErrorCode(err) != domain.EINVALID {
		t.Fatalf("expected invalid, got %v", err)
	}
}

func TestHandleWebhook_SubscriptionUpdatedAppliesTierAndStatus(t *testing.T) {
	repo, billing, svc := newSubscriptionFixture(t, &domain.User{
		ID:                "u-1",
		Tier:              domain.TierFree,
		PaymentCustomerID: "cus_1",
	})
	billing.webhookEvent = subscriptionEvent("customer.subscription.updated",
		`{"id":"sub_1","status":"active","customer":{"id":"cus_1"},"items":{"data":[{"price":{"id":"price_pro"}}]}}`)

	if err := svc.HandleWebhookEvent(context.Background(), []byte(`{}`), "sig"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	u := repo.users["u-1"]
	if u.Tier != domain.TierProfessional {
		t.Errorf("expected professional tier, got %s", u.Tier)
	}
	if u.SubscriptionStatus != domain.SubscriptionStatusActive {
		t.Errorf("expected active status, got %s", u.SubscriptionStatus)
	}
	if u.PaymentSubscriptionID != "sub_1" {
		t.Errorf("expected subscription id recorded, got %q", u.PaymentSubscriptionID)
	}
}

func TestHandleWebhook_SubscriptionDeletedDowngradesToFree(t *testing.T) {
	repo, billing, svc := newSubscriptionFixture(t, &domain.User{
		ID:                    "u-1",
		Tier:                  domain.TierProfessional,
		PaymentCustomerID:     "cus_1",
		PaymentSubscriptionID: "sub_1",
		SubscriptionStatus:    domain.SubscriptionStatusActive,
	})
	billing.webhookEvent = subscriptionEvent("customer.subscription.deleted",
		`{"id":"sub_1","status":"canceled","customer":{"id":"cus_1"}}`)

	if err := svc.HandleWebhookEvent(context.Background(), []byte(`{}`), "sig"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	u := repo.users["u-1"]
	if u.Tier != domain.TierFree {
		t.Errorf("expected downgrade to free, got %s", u.Tier)
	}
	if u.SubscriptionStatus != domain.SubscriptionStatusCanceled {
		t.Errorf("expected canceled status, got %s", u.SubscriptionStatus)
	}
}

func TestHandleWebhook_UnknownPriceKeepsCurrentTier(t *testing.T) {
	repo, billing, svc := newSubscriptionFixture(t, &domain.User{
		ID:                "u-1",
		Tier:              domain.TierProfessional,
		PaymentCustomerID: "cus_1",
	})
	billing.webhookEvent = subscriptionEvent("customer.subscription.updated",
		`{"id":"sub_1","status":"past_due","customer":{"id":"cus_1"},"items":{"data":[{"price":{"id":"price_legacy"}}]}}`)

	if err := svc.HandleWebhookEvent(context.Background(), []byte(`{}`), "sig"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	u := repo.users["u-1"]
	if u.Tier != domain.TierProfessional {
		t.Errorf("expected tier unchanged, got %s", u.Tier)
	}
	if u.SubscriptionStatus != domain.SubscriptionStatusPastDue {
		t.Errorf("expected past_due status, got %s", u.SubscriptionStatus)
	}
}

func TestHandleWebhook_UnknownCustomerIsAcknowledged(t *testing.T) {
	_, billing, svc := newSubscriptionFixture(t)
	billing.webhookEvent = subscriptionEvent("customer.subscription.updated",
		`{"id":"sub_1","status":"active","customer":{"id":"cus_ghost"}}`)

	// Acknowledged so the processor stops retrying a customer we removed.
	if err := svc.HandleWebhookEvent(context.Background(), []byte(`{}`), "sig"); err != nil {
		t.Fatalf("expected unknown customer acknowledged, got %v", err)
	}
}

func TestHandleWebhook_CheckoutCompleted(t *testing.T) {
	repo, billing, svc := newSubscriptionFixture(t, &domain.User{
		ID:                "u-1",
		Tier:              domain.TierFree,
		PaymentCustomerID: "cus_1",
	})
	billing.webhookEvent = subscriptionEvent("checkout.session.completed",
		`{"customer":{"id":"cus_1"},"subscription":{"id":"sub_1"}}`)
	billing.subscription = &stripe.Subscription{
		ID:     "sub_1",
		Status: stripe.SubscriptionStatusActive,
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{Price: &stripe.Price{ID: "price_biz"}}},
		},
	}

	if err := svc.HandleWebhookEvent(context.Background(), []byte(`{}`), "sig"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if countCalls(billing.calls, "get_subscription") != 1 {
		t.Errorf("expected the completed checkout to load its subscription, got %v", billing.calls)
	}
	u := repo.users["u-1"]
	if u.Tier != domain.TierBusiness || u.SubscriptionStatus != domain.SubscriptionStatusActive {
		t.Errorf("expected business/active, got %s/%s", u.Tier, u.SubscriptionStatus)
	}
}

func TestHandleWebhook_IgnoresUnrelatedEvents(t *testing.T) {
	repo, billing, svc := newSubscriptionFixture(t, &domain.User{
		ID:                "u-1",
		Tier:              domain.TierFree,
		PaymentCustomerID: "cus_1",
	})
	billing.webhookEvent = subscriptionEvent("invoice.paid", `{}`)

	if err := svc.HandleWebhookEvent(context.Background(), []byte(`{}`), "sig"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.users["u-1"].SubscriptionStatus != "" {
		t.Error("expected no state change for an ignored event")
	}
}
