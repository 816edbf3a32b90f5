package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/voxnote/backend/internal/domain"
)

// =============================================================================
// Test Fakes
// =============================================================================

type stubQuota struct {
	uploadErr   error
	analysisErr error
}

func (s *stubQuota) CheckUploadQuota(ctx context.Context, userID string, fileSizeBytes int64, estimatedMinutes int) error {
	return s.uploadErr
}

func (s *stubQuota) CheckAnalysisQuota(ctx context.Context, userID string) error {
	return s.analysisErr
}

type stubUsage struct {
	stats    *domain.UsageStats
	statsErr error
	tracked  []string
}

func (s *stubUsage) TrackTranscription(ctx context.Context, userID string, durationSeconds float64, sourceOperationID string) error {
	s.tracked = append(s.tracked, sourceOperationID)
	return nil
}

func (s *stubUsage) TrackOnDemandAnalysis(ctx context.Context, userID string, sourceOperationID string) error {
	s.tracked = append(s.tracked, sourceOperationID)
	return nil
}

func (s *stubUsage) CalculateOverage(ctx context.Context, userID string) (domain.Overage, error) {
	return domain.Overage{Hours: 2, AmountCents: 100}, nil
}

func (s *stubUsage) GetUsageStats(ctx context.Context, userID string) (*domain.UsageStats, error) {
	if s.statsErr != nil {
		return nil, s.statsErr
	}
	return s.stats, nil
}

func (s *stubUsage) ResetMonthlyUsage(ctx context.Context, userID string) error { return nil }

type stubDeletion struct {
	summary *domain.DeletionSummary
	err     error
}

func (s *stubDeletion) DeleteAccount(ctx context.Context, userID string, hard bool) (*domain.DeletionSummary, error) {
	return s.summary, s.err
}

type stubSubscriptions struct {
	checkoutURL string
	portalURL   string
	webhookErr  error
	payloads    []string
}

func (s *stubSubscriptions) StartCheckout(ctx context.Context, userID, priceID string) (string, error) {
	return s.checkoutURL, nil
}

func (s *stubSubscriptions) OpenBillingPortal(ctx context.Context, userID string) (string, error) {
	return s.portalURL, nil
}

func (s *stubSubscriptions) HandleWebhookEvent(ctx context.Context, payload []byte, signature string) error {
	s.payloads = append(s.payloads, string(payload))
	return s.webhookErr
}

func newTestMux(quota *stubQuota, usage *stubUsage, deletion *stubDeletion) *http.ServeMux {
	return newTestMuxWithSubscriptions(quota, usage, deletion, &stubSubscriptions{})
}

func newTestMuxWithSubscriptions(quota *stubQuota, usage *stubUsage, deletion *stubDeletion, subs *stubSubscriptions) *http.ServeMux {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewAPIHandler(quota, usage, deletion, subs, nil, logger)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}

// =============================================================================
// Tests
// =============================================================================

func TestCheckUploadQuota_Allowed(t *testing.T) {
	mux := newTestMux(&stubQuota{}, &stubUsage{}, &stubDeletion{})

	body := `{"user_id":"u-1","file_size_bytes":1048576,"mime_type":"audio/mpeg"}`
	req := httptest.NewRequest("POST", "/internal/quota/upload-check", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Allowed          bool `json:"allowed"`
		EstimatedMinutes int  `json:"estimated_minutes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if !resp.Allowed || resp.EstimatedMinutes != 1 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestCheckUploadQuota_RejectionCarriesReason(t *testing.T) {
	quota := &stubQuota{
		uploadErr: domain.QuotaExceeded("quota.check_upload", domain.QuotaReasonTranscriptions, "monthly limit reached"),
	}
	mux := newTestMux(quota, &stubUsage{}, &stubDeletion{})

	body := `{"user_id":"u-1","file_size_bytes":1048576}`
	req := httptest.NewRequest("POST", "/internal/quota/upload-check", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}

	var resp struct {
		Error struct {
			Code   string `json:"code"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if resp.Error.Code != domain.EQUOTA {
		t.Errorf("expected quota code, got %s", resp.Error.Code)
	}
	if resp.Error.Reason != domain.QuotaReasonTranscriptions {
		t.Errorf("expected stable reason code, got %s", resp.Error.Reason)
	}
}

func TestCheckUploadQuota_ValidatesInput(t *testing.T) {
	mux := newTestMux(&stubQuota{}, &stubUsage{}, &stubDeletion{})

	tests := []struct {
		name string
		body string
	}{
		{"missing user id", `{"file_size_bytes":100}`},
		{"zero file size", `{"user_id":"u-1"}`},
		{"malformed json", `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/internal/quota/upload-check", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestTrackTranscription(t *testing.T) {
	usage := &stubUsage{}
	mux := newTestMux(&stubQuota{}, usage, &stubDeletion{})

	body := `{"user_id":"u-1","duration_seconds":5400,"source_operation_id":"tr-1"}`
	req := httptest.NewRequest("POST", "/internal/usage/transcriptions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(usage.tracked) != 1 || usage.tracked[0] != "tr-1" {
		t.Errorf("expected tr-1 tracked, got %v", usage.tracked)
	}
}

func TestGetUsageStats(t *testing.T) {
	usage := &stubUsage{
		stats: &domain.UsageStats{
			Tier:             domain.TierProfessional,
			Usage:            domain.Usage{HoursUsed: 54},
			Limits:           domain.DefaultTierLimits[domain.TierProfessional],
			PercentHoursUsed: 90,
			Warnings:         []string{"approaching limit"},
		},
	}
	mux := newTestMux(&stubQuota{}, usage, &stubDeletion{})

	req := httptest.NewRequest("GET", "/internal/users/u-1/usage", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Tier             string   `json:"tier"`
		HoursUsed        float64  `json:"hours_used"`
		PercentHoursUsed float64  `json:"percent_hours_used"`
		Warnings         []string `json:"warnings"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if resp.Tier != "professional" || resp.HoursUsed != 54 || resp.PercentHoursUsed != 90 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if len(resp.Warnings) != 1 {
		t.Errorf("expected warnings passed through, got %v", resp.Warnings)
	}
}

func TestGetUsageStats_NotFound(t *testing.T) {
	usage := &stubUsage{statsErr: domain.NotFound("usage.get_stats", "user", "ghost")}
	mux := newTestMux(&stubQuota{}, usage, &stubDeletion{})

	req := httptest.NewRequest("GET", "/internal/users/ghost/usage", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestDeleteAccount_SurfacesSummaryWithError(t *testing.T) {
	deletion := &stubDeletion{
		summary: &domain.DeletionSummary{UserID: "u-1", Mode: domain.DeletionHard, UserRecordDeleted: true},
		err:     domain.External(nil, "deletion.hard_delete", "identity account could not be deleted"),
	}
	mux := newTestMux(&stubQuota{}, &stubUsage{}, deletion)

	req := httptest.NewRequest("DELETE", "/internal/users/u-1?hard=true", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}

	var resp struct {
		Error   map[string]interface{} `json:"error"`
		Summary struct {
			UserRecordDeleted bool `json:"user_record_deleted"`
		} `json:"summary"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if !resp.Summary.UserRecordDeleted {
		t.Error("expected the partial summary alongside the error")
	}
}

func TestStartCheckout(t *testing.T) {
	subs := &stubSubscriptions{checkoutURL: "https://checkout.stripe.test/sess_1"}
	mux := newTestMuxWithSubscriptions(&stubQuota{}, &stubUsage{}, &stubDeletion{}, subs)

	req := httptest.NewRequest("POST", "/internal/users/u-1/billing/checkout", strings.NewReader(`{"price_id":"price_pro"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if resp.URL != subs.checkoutURL {
		t.Errorf("expected checkout url passed through, got %q", resp.URL)
	}

	// Missing price id is rejected before the service is called.
	req = httptest.NewRequest("POST", "/internal/users/u-1/billing/checkout", strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing price_id, got %d", rec.Code)
	}
}

func TestStripeWebhook(t *testing.T) {
	subs := &stubSubscriptions{}
	mux := newTestMuxWithSubscriptions(&stubQuota{}, &stubUsage{}, &stubDeletion{}, subs)

	req := httptest.NewRequest("POST", "/webhooks/stripe", strings.NewReader(`{"type":"customer.subscription.updated"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(subs.payloads) != 1 || subs.payloads[0] != `{"type":"customer.subscription.updated"}` {
		t.Errorf("expected raw payload forwarded, got %v", subs.payloads)
	}
}

func TestStripeWebhook_BadSignature(t *testing.T) {
	subs := &stubSubscriptions{
		webhookErr: domain.Invalid("subscription.handle_webhook", "webhook signature verification failed"),
	}
	mux := newTestMuxWithSubscriptions(&stubQuota{}, &stubUsage{}, &stubDeletion{}, subs)

	req := httptest.NewRequest("POST", "/webhooks/stripe", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad signature, got %d", rec.Code)
	}
}

func TestErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{domain.EINVALID, http.StatusBadRequest},
		{domain.EPAYMENT, http.StatusPaymentRequired},
		{domain.ENOTFOUND, http.StatusNotFound},
		{domain.ECONFLICT, http.StatusConflict},
		{domain.EQUOTA, http.StatusTooManyRequests},
		{domain.EEXTERNAL, http.StatusBadGateway},
		{domain.ECONFIG, http.StatusInternalServerError},
		{domain.EINTERNAL, http.StatusInternalServerError},
		{"unknown", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := ErrorCodeToHTTPStatus(tt.code); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}
