package domain

import (
	"errors"
	"fmt"
)

// Application error codes
const (
	EINVALID  = "invalid"   // Invalid input or validation failure
	ENOTFOUND = "not_found" // Resource not found
	ECONFLICT = "conflict"  // Resource conflict (e.g., duplicate)
	EQUOTA    = "quota"     // Subscription quota exceeded
	ECONFIG   = "config"    // Invalid service configuration
	EPAYMENT  = "payment"   // Payment required or payment-processor rejection
	EEXTERNAL = "external"  // External collaborator unreachable or failing
	EINTERNAL = "internal"  // Internal server error
)

// Quota rejection reason codes. These are stable, machine-readable values
// surfaced to API callers so they can branch without string matching.
const (
	QuotaReasonTranscriptions = "QUOTA_EXCEEDED_TRANSCRIPTIONS"
	QuotaReasonDuration       = "QUOTA_EXCEEDED_DURATION"
	QuotaReasonFileSize       = "QUOTA_EXCEEDED_FILESIZE"
	QuotaReasonHardCap        = "QUOTA_EXCEEDED_HARD_CAP"
	QuotaReasonPaygCredits    = "QUOTA_EXCEEDED_PAYG_CREDITS"
	QuotaReasonAnalyses       = "QUOTA_EXCEEDED_ANALYSES"
)

// Error represents an application error with structured information.
type Error struct {
	Code    string // Machine-readable error code
	Reason  string // Stable sub-code for quota rejections, empty otherwise
	Op      string // Operation that failed (e.g., "quota.check_upload")
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates a new Error with the given code, operation, and formatted message.
func Errorf(code, op, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// ErrorCode returns the code of the root error, or EINTERNAL if none.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return EINTERNAL
}

// ErrorReason returns the quota reason code of the error, if any.
func ErrorReason(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// ErrorMessage returns the human-readable message of the error.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		// For internal errors, return generic message
		if e.Code == EINTERNAL {
			return "An internal error occurred. Please try again later."
		}
		return e.Message
	}
	return "An internal error occurred. Please try again later."
}

// ErrorOp returns the operation of the root error, if any.
func ErrorOp(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// Convenience constructors for common error types

// NotFound creates a not found error.
func NotFound(op, resource, id string) *Error {
	return &Error{
		Code:    ENOTFOUND,
		Op:      op,
		Message: fmt.Sprintf("%s with ID %q not found", resource, id),
	}
}

// Invalid creates a validation error.
func Invalid(op, message string) *Error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: message,
	}
}

// QuotaExceeded creates a quota rejection carrying a stable reason code.
// Callers branch on the reason; the message is for humans only.
func QuotaExceeded(op, reason, message string) *Error {
	return &Error{
		Code:    EQUOTA,
		Reason:  reason,
		Op:      op,
		Message: message,
	}
}

// InvalidConfiguration creates a configuration error. A tier without a
// limits row is an operator mistake, never a user error, and is never
// silently defaulted.
func InvalidConfiguration(op, message string) *Error {
	return &Error{
		Code:    ECONFIG,
		Op:      op,
		Message: message,
	}
}

// External wraps a failure from an external collaborator (payment
// processor, identity provider, blob store).
func External(err error, op, message string) *Error {
	return &Error{
		Code:    EEXTERNAL,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// Internal creates an internal error, wrapping the underlying error.
func Internal(err error, op, message string) *Error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// IsQuotaExceeded reports whether err is a quota rejection.
func IsQuotaExceeded(err error) bool {
	return ErrorCode(err) == EQUOTA
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return ErrorCode(err) == ENOTFOUND
}
