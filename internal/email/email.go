// Package email provides email sending functionality for the Voxnote backend.
//
// This package defines an EmailService interface with implementations for:
// - SMTP (for development with Mailhog and production with services like Postmark SMTP)
// - Future: Postmark API implementation for advanced features
package email

import (
	"context"

	"github.com/voxnote/backend/internal/domain"
)

// =============================================================================
// Interface Definition
// =============================================================================

// EmailService defines the interface for sending transactional emails.
//
// All methods are context-aware for timeout and cancellation support.
type EmailService interface {
	// SendUsageWarningEmail warns a user approaching or past their monthly
	// allowance. stats carries the warnings already derived by the usage
	// service.
	SendUsageWarningEmail(ctx context.Context, to, name string, stats *domain.UsageStats) error

	// SendAccountDeletedEmail confirms that an account and its data were
	// permanently removed.
	SendAccountDeletedEmail(ctx context.Context, to, name string) error
}

// =============================================================================
// Email Data Types
// =============================================================================

// Email represents a single email message.
type Email struct {
	To       string // Recipient email address
	Subject  string // Email subject line
	HTMLBody string // HTML content of the email
	TextBody string // Plain text fallback content
}

// =============================================================================
// Configuration Types
// =============================================================================

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string // SMTP server hostname (e.g., "localhost" for Mailhog)
	Port     int    // SMTP server port (e.g., 1025 for Mailhog)
	Username string // SMTP authentication username (empty for Mailhog)
	Password string // SMTP authentication password (empty for Mailhog)
	From     string // Default sender email address
	FromName string // Default sender display name
}

// =============================================================================
// Common Constants
// =============================================================================

const (
	// DefaultFromEmail is the default sender email for transactional emails.
	DefaultFromEmail = "noreply@voxnote.app"

	// DefaultFromName is the default sender display name.
	DefaultFromName = "Voxnote"
)
