// Package handler exposes the usage and account-lifecycle operations over an
// internal JSON API, consumed by the upload pipeline and the account surface.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/voxnote/backend/internal/domain"
)

// ErrorResponse writes a JSON error response, mapping domain error codes to
// HTTP status codes. Quota rejections additionally carry their stable reason
// code so callers can branch without string matching.
func ErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code := domain.ErrorCode(err)
	message := domain.ErrorMessage(err)
	op := domain.ErrorOp(err)

	status := ErrorCodeToHTTPStatus(code)

	logError(logger, r, err, code, op, status)

	body := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	if reason := domain.ErrorReason(err); reason != "" {
		body["reason"] = reason
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": body})
}

// ErrorCodeToHTTPStatus maps domain error codes to HTTP status codes.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest // 400
	case domain.EPAYMENT:
		return http.StatusPaymentRequired // 402
	case domain.ENOTFOUND:
		return http.StatusNotFound // 404
	case domain.ECONFLICT:
		return http.StatusConflict // 409
	case domain.EQUOTA:
		return http.StatusTooManyRequests // 429
	case domain.EEXTERNAL:
		return http.StatusBadGateway // 502
	case domain.ECONFIG, domain.EINTERNAL:
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// logError logs at a severity matching who is at fault: client errors at
// info, server errors at error.
func logError(logger *slog.Logger, r *http.Request, err error, code, op string, status int) {
	attrs := []any{
		"code", code,
		"op", op,
		"status", status,
		"method", r.Method,
		"path", r.URL.Path,
		"error", err,
	}
	if status >= 500 {
		logger.Error("request failed", attrs...)
		return
	}
	logger.Info("request rejected", attrs...)
}

// writeJSON writes a JSON success response.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
