package billing

import (
	"fmt"

	"github.com/stripe/stripe-go/v79"
)

// DisabledService is used when no Stripe keys are configured (development,
// tests). Read/cleanup operations succeed as no-ops so account deletion
// still completes; operations that would create billing state fail loudly.
type DisabledService struct{}

// NewDisabledService returns a billing service that is safely inert.
func NewDisabledService() Service {
	return &DisabledService{}
}

func (s *DisabledService) CreateCustomer(email, name string) (string, error) {
	return "", fmt.Errorf("billing is not configured")
}

func (s *DisabledService) CreateCheckoutSession(customerID, priceID, successURL, cancelURL string) (string, error) {
	return "", fmt.Errorf("billing is not configured")
}

func (s *DisabledService) CreatePortalSession(customerID, returnURL string) (string, error) {
	return "", fmt.Errorf("billing is not configured")
}

func (s *DisabledService) GetSubscription(subscriptionID string) (*stripe.Subscription, error) {
	return nil, fmt.Errorf("billing is not configured")
}

func (s *DisabledService) CancelSubscription(subscriptionID string, atPeriodEnd bool) error {
	return nil
}

func (s *DisabledService) DeleteCustomer(customerID string) error {
	return nil
}

func (s *DisabledService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	return stripe.Event{}, fmt.Errorf("billing is not configured")
}
