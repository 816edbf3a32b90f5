package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/voxnote/backend/internal/domain"
	"github.com/voxnote/backend/internal/scheduler"
	"github.com/voxnote/backend/internal/service"
)

// APIHandler serves the internal usage and account-lifecycle endpoints.
type APIHandler struct {
	quota         service.QuotaService
	usage         service.UsageService
	deletion      service.DeletionService
	subscriptions service.SubscriptionService
	resets        *scheduler.ResetRunner
	logger        *slog.Logger
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(
	quota service.QuotaService,
	usage service.UsageService,
	deletion service.DeletionService,
	subscriptions service.SubscriptionService,
	resets *scheduler.ResetRunner,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		quota:         quota,
		usage:         usage,
		deletion:      deletion,
		subscriptions: subscriptions,
		resets:        resets,
		logger:        logger,
	}
}

// RegisterRoutes registers the internal API routes on the given mux.
func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /internal/quota/upload-check", h.CheckUploadQuota)
	mux.HandleFunc("POST /internal/quota/analysis-check", h.CheckAnalysisQuota)
	mux.HandleFunc("POST /internal/usage/transcriptions", h.TrackTranscription)
	mux.HandleFunc("POST /internal/usage/analyses", h.TrackOnDemandAnalysis)
	mux.HandleFunc("GET /internal/users/{id}/usage", h.GetUsageStats)
	mux.HandleFunc("GET /internal/users/{id}/overage", h.GetOverage)
	mux.HandleFunc("POST /internal/users/{id}/usage/reset", h.ResetUsage)
	mux.HandleFunc("DELETE /internal/users/{id}", h.DeleteAccount)
	mux.HandleFunc("POST /internal/users/{id}/billing/checkout", h.StartCheckout)
	mux.HandleFunc("POST /internal/users/{id}/billing/portal", h.OpenBillingPortal)
	mux.HandleFunc("POST /webhooks/stripe", h.StripeWebhook)
	mux.HandleFunc("GET /internal/reset-jobs/active", h.GetActiveResetJob)
	mux.HandleFunc("GET /internal/reset-jobs/{id}", h.GetResetJob)
}

// =============================================================================
// Quota
// =============================================================================

type uploadCheckRequest struct {
	UserID          string `json:"user_id"`
	FileSizeBytes   int64  `json:"file_size_bytes"`
	MimeType        string `json:"mime_type"`
	DurationMinutes int    `json:"duration_minutes"` // optional, estimated from size when 0
}

// CheckUploadQuota decides whether an upload is admitted. When the caller
// doesn't know the real duration yet (pre-upload), it is estimated from the
// file size and mime type.
func (h *APIHandler) CheckUploadQuota(w http.ResponseWriter, r *http.Request) {
	const op = "handler.check_upload_quota"

	var req uploadCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "invalid request body"))
		return
	}
	if req.UserID == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "user_id is required"))
		return
	}
	if req.FileSizeBytes <= 0 {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "file_size_bytes must be positive"))
		return
	}

	minutes := req.DurationMinutes
	if minutes == 0 {
		minutes = domain.EstimateDurationMinutes(req.FileSizeBytes, req.MimeType)
	}

	if err := h.quota.CheckUploadQuota(r.Context(), req.UserID, req.FileSizeBytes, minutes); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"allowed":           true,
		"estimated_minutes": minutes,
	})
}

// CheckAnalysisQuota decides whether one more on-demand analysis is admitted.
func (h *APIHandler) CheckAnalysisQuota(w http.ResponseWriter, r *http.Request) {
	const op = "handler.check_analysis_quota"

	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "invalid request body"))
		return
	}
	if req.UserID == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "user_id is required"))
		return
	}

	if err := h.quota.CheckAnalysisQuota(r.Context(), req.UserID); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"allowed": true})
}

// =============================================================================
// Usage
// =============================================================================

type trackTranscriptionRequest struct {
	UserID            string  `json:"user_id"`
	DurationSeconds   float64 `json:"duration_seconds"`
	SourceOperationID string  `json:"source_operation_id"`
}

// TrackTranscription records a completed transcription against usage.
func (h *APIHandler) TrackTranscription(w http.ResponseWriter, r *http.Request) {
	const op = "handler.track_transcription"

	var req trackTranscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "invalid request body"))
		return
	}
	if req.UserID == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "user_id is required"))
		return
	}

	if err := h.usage.TrackTranscription(r.Context(), req.UserID, req.DurationSeconds, req.SourceOperationID); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// TrackOnDemandAnalysis records a completed on-demand analysis against usage.
func (h *APIHandler) TrackOnDemandAnalysis(w http.ResponseWriter, r *http.Request) {
	const op = "handler.track_analysis"

	var req struct {
		UserID            string `json:"user_id"`
		SourceOperationID string `json:"source_operation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "invalid request body"))
		return
	}
	if req.UserID == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "user_id is required"))
		return
	}

	if err := h.usage.TrackOnDemandAnalysis(r.Context(), req.UserID, req.SourceOperationID); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type usageStatsResponse struct {
	Tier                  domain.Tier       `json:"tier"`
	HoursUsed             float64           `json:"hours_used"`
	TranscriptionCount    int               `json:"transcription_count"`
	OnDemandAnalysisCount int               `json:"on_demand_analysis_count"`
	LastResetAt           time.Time         `json:"last_reset_at"`
	Limits                domain.TierLimits `json:"limits"`
	OverageHours          float64           `json:"overage_hours"`
	OverageAmountCents    int64             `json:"overage_amount_cents"`
	PercentHoursUsed      float64           `json:"percent_hours_used"`
	Warnings              []string          `json:"warnings,omitempty"`
}

// GetUsageStats returns the aggregated usage view for a user.
func (h *APIHandler) GetUsageStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.usage.GetUsageStats(r.Context(), r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, usageStatsResponse{
		Tier:                  stats.Tier,
		HoursUsed:             stats.Usage.HoursUsed,
		TranscriptionCount:    stats.Usage.TranscriptionCount,
		OnDemandAnalysisCount: stats.Usage.OnDemandAnalysisCount,
		LastResetAt:           stats.Usage.LastResetAt,
		Limits:                stats.Limits,
		OverageHours:          stats.Overage.Hours,
		OverageAmountCents:    stats.Overage.AmountCents,
		PercentHoursUsed:      stats.PercentHoursUsed,
		Warnings:              stats.Warnings,
	})
}

// GetOverage returns the billable overage for a user's current month.
func (h *APIHandler) GetOverage(w http.ResponseWriter, r *http.Request) {
	overage, err := h.usage.CalculateOverage(r.Context(), r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"overage_hours":        overage.Hours,
		"overage_amount_cents": overage.AmountCents,
	})
}

// ResetUsage zeroes a single user's monthly counters (support tooling).
func (h *APIHandler) ResetUsage(w http.ResponseWriter, r *http.Request) {
	if err := h.usage.ResetMonthlyUsage(r.Context(), r.PathValue("id")); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Account deletion
// =============================================================================

type deletionSummaryResponse struct {
	UserID                 string              `json:"user_id"`
	Mode                   domain.DeletionMode `json:"mode"`
	TranscriptionsDeleted  int64               `json:"transcriptions_deleted"`
	AnalysesDeleted        int64               `json:"analyses_deleted"`
	FoldersDeleted         int64               `json:"folders_deleted"`
	UsageRecordsDeleted    int64               `json:"usage_records_deleted"`
	ImportedSharesDeleted  int64               `json:"imported_shares_deleted"`
	BlobObjectsDeleted     int64               `json:"blob_objects_deleted"`
	SubscriptionCancelled  bool                `json:"subscription_cancelled"`
	PaymentCustomerDeleted bool                `json:"payment_customer_deleted"`
	UserRecordDeleted      bool                `json:"user_record_deleted"`
	IdentityAccountDeleted bool                `json:"identity_account_deleted"`
	Errors                 []string            `json:"errors,omitempty"`
}

// DeleteAccount deletes the user. The hard query parameter selects the full
// irreversible teardown; the default is a recoverable soft delete.
func (h *APIHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	hard := r.URL.Query().Get("hard") == "true"

	summary, err := h.deletion.DeleteAccount(r.Context(), r.PathValue("id"), hard)
	if err != nil {
		// A populated summary means data was removed before the failure;
		// the caller needs both.
		if summary != nil {
			writeJSON(w, ErrorCodeToHTTPStatus(domain.ErrorCode(err)), map[string]interface{}{
				"error":   map[string]interface{}{"code": domain.ErrorCode(err), "message": domain.ErrorMessage(err)},
				"summary": toSummaryResponse(summary),
			})
			return
		}
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toSummaryResponse(summary))
}

func toSummaryResponse(s *domain.DeletionSummary) deletionSummaryResponse {
	return deletionSummaryResponse{
		UserID:                 s.UserID,
		Mode:                   s.Mode,
		TranscriptionsDeleted:  s.TranscriptionsDeleted,
		AnalysesDeleted:        s.AnalysesDeleted,
		FoldersDeleted:         s.FoldersDeleted,
		UsageRecordsDeleted:    s.UsageRecordsDeleted,
		ImportedSharesDeleted:  s.ImportedSharesDeleted,
		BlobObjectsDeleted:     s.BlobObjectsDeleted,
		SubscriptionCancelled:  s.SubscriptionCancelled,
		PaymentCustomerDeleted: s.PaymentCustomerDeleted,
		UserRecordDeleted:      s.UserRecordDeleted,
		IdentityAccountDeleted: s.IdentityAccountDeleted,
		Errors:                 s.Errors,
	}
}

// =============================================================================
// Billing
// =============================================================================

// StartCheckout creates a checkout session for a tier upgrade and returns
// its URL.
func (h *APIHandler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	const op = "handler.start_checkout"

	var req struct {
		PriceID string `json:"price_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "invalid request body"))
		return
	}
	if req.PriceID == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "price_id is required"))
		return
	}

	url, err := h.subscriptions.StartCheckout(r.Context(), r.PathValue("id"), req.PriceID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"url": url})
}

// OpenBillingPortal returns a customer-portal URL for the user.
func (h *APIHandler) OpenBillingPortal(w http.ResponseWriter, r *http.Request) {
	url, err := h.subscriptions.OpenBillingPortal(r.Context(), r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"url": url})
}

// StripeWebhook receives payment-processor events and applies subscription
// state changes.
func (h *APIHandler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	const op = "handler.stripe_webhook"

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 65536))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "failed to read webhook payload"))
		return
	}

	if err := h.subscriptions.HandleWebhookEvent(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// =============================================================================
// Reset jobs
// =============================================================================

type resetJobResponse struct {
	ID                  string                `json:"id"`
	Status              domain.ResetJobStatus `json:"status"`
	StartedAt           time.Time             `json:"started_at"`
	CompletedAt         *time.Time            `json:"completed_at,omitempty"`
	TotalUsers          int                   `json:"total_users"`
	ProcessedUsers      int                   `json:"processed_users"`
	LastProcessedUserID string                `json:"last_processed_user_id,omitempty"`
	FailedUserIDs       []string              `json:"failed_user_ids,omitempty"`
}

// GetResetJob returns the reset job with the given id.
func (h *APIHandler) GetResetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.resets.JobStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toResetJobResponse(job))
}

// GetActiveResetJob returns the in-progress reset job, or 404 when none is
// running.
func (h *APIHandler) GetActiveResetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.resets.ActiveJobStatus(r.Context())
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toResetJobResponse(job))
}

func toResetJobResponse(j *domain.ResetJob) resetJobResponse {
	return resetJobResponse{
		ID:                  j.ID,
		Status:              j.Status,
		StartedAt:           j.StartedAt,
		CompletedAt:         j.CompletedAt,
		TotalUsers:          j.TotalUsers,
		ProcessedUsers:      j.ProcessedUsers,
		LastProcessedUserID: j.LastProcessedUserID,
		FailedUserIDs:       j.FailedUserIDs,
	}
}
