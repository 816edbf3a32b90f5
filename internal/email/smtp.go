package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"github.com/voxnote/backend/internal/domain"
)

// =============================================================================
// SMTP Email Service Implementation
// =============================================================================

// SMTPEmailService sends emails via SMTP.
//
// This implementation works with:
// - Mailhog (development): No authentication required
// - Postmark SMTP (production): Uses username/password authentication
// - Any standard SMTP server
//
// Templates are compiled in: the backend sends only two short notification
// emails, which is not worth an on-disk template directory.
type SMTPEmailService struct {
	config    SMTPConfig
	baseURL   string
	templates *template.Template
	logger    *slog.Logger
}

// NewSMTPEmailService creates a new SMTP-based email service.
//
// baseURL is the application's public URL, used for links in email bodies.
func NewSMTPEmailService(config SMTPConfig, baseURL string, logger *slog.Logger) *SMTPEmailService {
	if config.From == "" {
		config.From = DefaultFromEmail
	}
	if config.FromName == "" {
		config.FromName = DefaultFromName
	}

	return &SMTPEmailService{
		config:    config,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		templates: template.Must(template.New("email").Parse(emailTemplates)),
		logger:    logger,
	}
}

// =============================================================================
// EmailService Interface Implementation
// =============================================================================

// SendUsageWarningEmail warns a user approaching or past their monthly allowance.
func (s *SMTPEmailService) SendUsageWarningEmail(ctx context.Context, to, name string, stats *domain.UsageStats) error {
	data := map[string]interface{}{
		"Name":     name,
		"Warnings": stats.Warnings,
		"UsageURL": s.baseURL + "/account/usage",
		"Year":     time.Now().Year(),
	}

	htmlBody, err := s.renderTemplate("usage_warning", data)
	if err != nil {
		return fmt.Errorf("failed to render usage warning email template: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Hi %s,\n\nA heads-up about your Voxnote usage this month:\n\n", name)
	for _, w := range stats.Warnings {
		fmt.Fprintf(&sb, "- %s\n", w)
	}
	fmt.Fprintf(&sb, "\nYou can review your usage here:\n\n%s\n\nThanks,\nThe Voxnote Team\n", data["UsageURL"])

	email := Email{
		To:       to,
		Subject:  "Your Voxnote usage this month",
		HTMLBody: htmlBody,
		TextBody: sb.String(),
	}

	return s.send(ctx, email)
}

// SendAccountDeletedEmail confirms permanent account removal.
func (s *SMTPEmailService) SendAccountDeletedEmail(ctx context.Context, to, name string) error {
	data := map[string]interface{}{
		"Name": name,
		"Year": time.Now().Year(),
	}

	htmlBody, err := s.renderTemplate("account_deleted", data)
	if err != nil {
		return fmt.Errorf("failed to render account deleted email template: %w", err)
	}

	textBody := fmt.Sprintf(`Hi %s,

Your Voxnote account and all associated data have been permanently deleted.

If you didn't request this, please contact support immediately.

Thanks,
The Voxnote Team
`, name)

	email := Email{
		To:       to,
		Subject:  "Your Voxnote account has been deleted",
		HTMLBody: htmlBody,
		TextBody: textBody,
	}

	return s.send(ctx, email)
}

// =============================================================================
// Internal Methods
// =============================================================================

// renderTemplate renders the named template with the given data.
func (s *SMTPEmailService) renderTemplate(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// send sends an email via SMTP.
func (s *SMTPEmailService) send(ctx context.Context, email Email) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	msg := s.buildMessage(email)
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	// Auth only when credentials are provided (not needed for Mailhog).
	var auth smtp.Auth
	if s.config.Username != "" && s.config.Password != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	err := smtp.SendMail(addr, auth, s.config.From, []string{email.To}, msg)
	if err != nil {
		s.logger.Error("failed to send email",
			"to", email.To,
			"subject", email.Subject,
			"error", err,
		)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		"to", email.To,
		"subject", email.Subject,
	)

	return nil
}

// buildMessage constructs the raw email message with headers.
func (s *SMTPEmailService) buildMessage(email Email) []byte {
	var buf bytes.Buffer

	fromHeader := fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)

	buf.WriteString(fmt.Sprintf("From: %s\r\n", fromHeader))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", email.To))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", email.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")

	boundary := "===============VOXNOTE_BOUNDARY==============="
	buf.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary))
	buf.WriteString("\r\n")

	buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(email.TextBody)
	buf.WriteString("\r\n")

	buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	buf.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(email.HTMLBody)
	buf.WriteString("\r\n")

	buf.WriteString(fmt.Sprintf("--%s--\r\n", boundary))

	return buf.Bytes()
}

// emailTemplates holds the HTML bodies for every email the backend sends.
const emailTemplates = `
{{define "usage_warning"}}
<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #1f2937; max-width: 600px; margin: 0 auto;">
  <h2>Your Voxnote usage this month</h2>
  <p>Hi {{.Name}},</p>
  <p>A heads-up about your Voxnote usage this month:</p>
  <ul>
    {{range .Warnings}}<li>{{.}}</li>{{end}}
  </ul>
  <p><a href="{{.UsageURL}}">Review your usage</a></p>
  <p>Thanks,<br>The Voxnote Team</p>
  <p style="color: #9ca3af; font-size: 12px;">&copy; {{.Year}} Voxnote</p>
</body>
</html>
{{end}}

{{define "account_deleted"}}
<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #1f2937; max-width: 600px; margin: 0 auto;">
  <h2>Account deleted</h2>
  <p>Hi {{.Name}},</p>
  <p>Your Voxnote account and all associated data have been permanently deleted.</p>
  <p>If you didn't request this, please contact support immediately.</p>
  <p>Thanks,<br>The Voxnote Team</p>
  <p style="color: #9ca3af; font-size: 12px;">&copy; {{.Year}} Voxnote</p>
</body>
</html>
{{end}}
`
