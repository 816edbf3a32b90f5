package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/stripe/stripe-go/v79"

	"github.com/voxnote/backend/internal/billing"
	"github.com/voxnote/backend/internal/domain"
	"github.com/voxnote/backend/internal/metrics"
	"github.com/voxnote/backend/internal/repository"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SubscriptionService drives the paid-tier upgrade flow: checkout and portal
// sessions on the way in, webhook events keeping the local subscription state
// in step with the payment processor afterwards.
type SubscriptionService interface {
	// StartCheckout creates a checkout session for the given price and
	// returns its URL. The user's payment customer is created on first use.
	StartCheckout(ctx context.Context, userID, priceID string) (string, error)

	// OpenBillingPortal returns a customer-portal URL where the user manages
	// their subscription and payment methods.
	OpenBillingPortal(ctx context.Context, userID string) (string, error)

	// HandleWebhookEvent verifies and applies one payment-processor webhook
	// delivery. Events for unknown customers are acknowledged and dropped so
	// the processor stops retrying them.
	HandleWebhookEvent(ctx context.Context, payload []byte, signature string) error
}

// SubscriptionConfig maps processor prices onto tiers and carries the
// redirect URLs the checkout and portal flows bounce through.
type SubscriptionConfig struct {
	// PriceTiers maps a processor price id to the tier it purchases.
	PriceTiers map[string]domain.Tier

	SuccessURL      string
	CancelURL       string
	PortalReturnURL string
}

// =============================================================================
// Implementation
// =============================================================================

type subscriptionService struct {
	users   repository.UserRepository
	billing billing.Service
	cfg     SubscriptionConfig
	logger  *slog.Logger
}

// NewSubscriptionService creates a new SubscriptionService.
func NewSubscriptionService(users repository.UserRepository, billingSvc billing.Service, cfg SubscriptionConfig, logger *slog.Logger) SubscriptionService {
	return &subscriptionService{
		users:   users,
		billing: billingSvc,
		cfg:     cfg,
		logger:  logger,
	}
}

func (s *subscriptionService) StartCheckout(ctx context.Context, userID, priceID string) (string, error) {
	const op = "subscription.start_checkout"

	if _, ok := s.cfg.PriceTiers[priceID]; !ok {
		return "", domain.Invalid(op, "unknown price id")
	}

	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.IsDeleted {
		return "", domain.Invalid(op, "account is deleted")
	}

	customerID := user.PaymentCustomerID
	if customerID == "" {
		customerID, err = s.billing.CreateCustomer(user.Email, user.Name)
		if err != nil {
			return "", domain.External(err, op, "failed to create payment customer")
		}
		if err := s.users.SetPaymentCustomer(ctx, user.ID, customerID); err != nil {
			return "", err
		}
		s.logger.Info("created payment customer", "user_id", user.ID)
	}

	url, err := s.billing.CreateCheckoutSession(customerID, priceID, s.cfg.SuccessURL, s.cfg.CancelURL)
	if err != nil {
		return "", domain.External(err, op, "failed to create checkout session")
	}

	metrics.CheckoutSessionsTotal.Inc()
	s.logger.Info("checkout session created", "user_id", user.ID, "price_id", priceID)
	return url, nil
}

func (s *subscriptionService) OpenBillingPortal(ctx context.Context, userID string) (string, error) {
	const op = "subscription.open_portal"

	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.PaymentCustomerID == "" {
		return "", domain.Invalid(op, "no billing profile exists for this account")
	}

	url, err := s.billing.CreatePortalSession(user.PaymentCustomerID, s.cfg.PortalReturnURL)
	if err != nil {
		return "", domain.External(err, op, "failed to create billing portal session")
	}
	return url, nil
}

func (s *subscriptionService) HandleWebhookEvent(ctx context.Context, payload []byte, signature string) error {
	const op = "subscription.handle_webhook"

	event, err := s.billing.VerifyWebhookSignature(payload, signature)
	if err != nil {
		return domain.Invalid(op, "webhook signature verification failed")
	}

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return domain.Invalid(op, "malformed checkout session payload")
		}
		if sess.Customer == nil || sess.Subscription == nil {
			// Payment-mode sessions carry no subscription; nothing to apply.
			return nil
		}
		sub, err := s.billing.GetSubscription(sess.Subscription.ID)
		if err != nil {
			return domain.External(err, op, "failed to load subscription for completed checkout")
		}
		return s.applySubscription(ctx, event.Type, sess.Customer.ID, sub)

	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return domain.Invalid(op, "malformed subscription payload")
		}
		if sub.Customer == nil {
			return domain.Invalid(op, "subscription event without a customer")
		}
		return s.applySubscription(ctx, event.Type, sub.Customer.ID, &sub)

	default:
		s.logger.Debug("ignoring webhook event", "type", event.Type)
		return nil
	}
}

// applySubscription writes the subscription's state onto the owning user. A
// canceled subscription drops the user back to the free tier; everything
// else resolves the tier from the subscribed price.
func (s *subscriptionService) applySubscription(ctx context.Context, eventType stripe.EventType, customerID string, sub *stripe.Subscription) error {
	user, err := s.users.GetByPaymentCustomerID(ctx, customerID)
	if err != nil {
		if domain.IsNotFound(err) {
			// The customer was deleted locally (account deletion) or never
			// existed; acknowledge so the processor stops retrying.
			s.logger.Warn("webhook for unknown payment customer", "customer_id", customerID, "type", eventType)
			return nil
		}
		return err
	}

	status := subscriptionStatusOf(sub)
	tier := user.Tier
	if status == domain.SubscriptionStatusCanceled {
		tier = domain.TierFree
	} else if priceID := subscriptionPriceID(sub); priceID != "" {
		if t, ok := s.cfg.PriceTiers[priceID]; ok {
			tier = t
		} else {
			s.logger.Warn("subscription price maps to no tier, keeping current",
				"user_id", user.ID,
				"price_id", priceID,
			)
		}
	}

	if err := s.users.UpdateSubscription(ctx, user.ID, sub.ID, status, tier); err != nil {
		return err
	}

	metrics.SubscriptionEventsTotal.WithLabelValues(string(eventType)).Inc()
	s.logger.Info("subscription state applied",
		"user_id", user.ID,
		"subscription_id", sub.ID,
		"status", status,
		"tier", tier,
		"event", eventType,
	)
	return nil
}

// subscriptionStatusOf maps the processor's subscription status onto the
// domain enum. Incomplete and paused states carry no entitlement and map to
// inactive.
func subscriptionStatusOf(sub *stripe.Subscription) domain.SubscriptionStatus {
	switch sub.Status {
	case stripe.SubscriptionStatusTrialing:
		return domain.SubscriptionStatusTrialing
	case stripe.SubscriptionStatusActive:
		return domain.SubscriptionStatusActive
	case stripe.SubscriptionStatusPastDue:
		return domain.SubscriptionStatusPastDue
	case stripe.SubscriptionStatusCanceled:
		return domain.SubscriptionStatusCanceled
	case stripe.SubscriptionStatusUnpaid:
		return domain.SubscriptionStatusUnpaid
	default:
		return domain.SubscriptionStatusInactive
	}
}

// subscriptionPriceID returns the price id of the subscription's first item.
func subscriptionPriceID(sub *stripe.Subscription) string {
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		return ""
	}
	return sub.Items.Data[0].Price.ID
}
