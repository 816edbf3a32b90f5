// Package identity abstracts the external identity provider. The backend
// never stores credentials; it only needs the provider's admin surface for
// account deletion, consumed through this narrow interface.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Provider is the consumed identity-provider surface.
type Provider interface {
	// DeleteAccount removes the identity account for the given subject.
	// An already-absent account is success, not an error, so a retried
	// hard delete stays idempotent.
	DeleteAccount(ctx context.Context, userID string) error
}

// =============================================================================
// HTTP Admin API Implementation
// =============================================================================

// HTTPProvider calls the identity provider's admin REST endpoint.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPProvider creates a provider client for the given admin endpoint.
func NewHTTPProvider(baseURL, apiKey string, logger *slog.Logger) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

func (p *HTTPProvider) DeleteAccount(ctx context.Context, userID string) error {
	endpoint := fmt.Sprintf("%s/accounts/%s", p.baseURL, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("identity delete account: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("identity delete account: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		// Already absent: treated as success for retry safety.
		p.logger.Debug("identity account already absent", "user_id", userID)
		return nil
	default:
		var body struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("identity delete account: status %d: %s", resp.StatusCode, body.Message)
	}
}

// =============================================================================
// Disabled Implementation
// =============================================================================

// DisabledProvider is used when no identity admin endpoint is configured.
// Deletions succeed as no-ops so local development and tests don't need a
// live provider.
type DisabledProvider struct{}

// NewDisabledProvider returns a provider that is safely inert.
func NewDisabledProvider() Provider {
	return &DisabledProvider{}
}

func (p *DisabledProvider) DeleteAccount(ctx context.Context, userID string) error {
	return nil
}
