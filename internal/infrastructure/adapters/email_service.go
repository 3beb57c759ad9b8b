package adapters

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"net/smtp"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

// EmailServiceConfig holds alert email configuration
type EmailServiceConfig struct {
	Provider  string
	APIKey    string
	FromEmail string
	FromName  string
	To        []string
	// SMTP settings (for mailpit, smtp providers)
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
}

// EmailService delivers operator alert emails
type EmailService struct {
	logger *zap.Logger
	config EmailServiceConfig
	client *sendgrid.Client
}

// NewEmailService creates a new alert email service
func NewEmailService(logger *zap.Logger, config EmailServiceConfig) (*EmailService, error) {
	provider := strings.ToLower(strings.TrimSpace(config.Provider))
	if provider == "" {
		provider = "sendgrid"
		config.Provider = provider
	}

	if strings.TrimSpace(config.FromEmail) == "" {
		return nil, fmt.Errorf("email from address is required")
	}
	if len(config.To) == 0 {
		return nil, fmt.Errorf("at least one alert recipient is required")
	}

	var client *sendgrid.Client

	switch provider {
	case "sendgrid":
		if strings.TrimSpace(config.APIKey) == "" {
			return nil, fmt.Errorf("sendgrid api key is required")
		}
		client = sendgrid.NewSendClient(config.APIKey)
	case "mailpit", "smtp":
		if config.SMTPHost == "" {
			return nil, fmt.Errorf("smtp host is required for %s provider", provider)
		}
		if config.SMTPPort == 0 {
			config.SMTPPort = 1025
		}
	default:
		return nil, fmt.Errorf("unsupported email provider: %s", provider)
	}

	return &EmailService{
		logger: logger,
		config: config,
		client: client,
	}, nil
}

// SendRelayFailureAlert notifies operators that a relay job failed terminally
func (e *EmailService) SendRelayFailureAlert(ctx context.Context, messageHash string, destinationDomain uint32, reason, lastError string, attempts int) error {
	subject := fmt.Sprintf("[flarebridge] Relay failed: %s", truncateHash(messageHash))

	htmlContent := e.buildAlertHTML("Relay Job Failed", [][2]string{
		{"Message Hash", messageHash},
		{"Destination Domain", fmt.Sprintf("%d", destinationDomain)},
		{"Reason", reason},
		{"Last Error", lastError},
		{"Attempts", fmt.Sprintf("%d", attempts)},
	})
	textContent := fmt.Sprintf(
		"Relay job failed terminally.\n\nMessage Hash: %s\nDestination Domain: %d\nReason: %s\nLast Error: %s\nAttempts: %d\n",
		messageHash, destinationDomain, reason, lastError, attempts)

	return e.sendToAll(ctx, subject, htmlContent, textContent)
}

// SendMonitorFatalAlert notifies operators that a chain monitor gave up reconnecting
func (e *EmailService) SendMonitorFatalAlert(ctx context.Context, chain, cause string) error {
	subject := fmt.Sprintf("[flarebridge] Monitor down: %s", chain)

	htmlContent := e.buildAlertHTML("Chain Monitor Lost Connection", [][2]string{
		{"Chain", chain},
		{"Cause", cause},
	})
	textContent := fmt.Sprintf(
		"A chain monitor exhausted its reconnect attempts and stopped.\n\nChain: %s\nCause: %s\n",
		chain, cause)

	return e.sendToAll(ctx, subject, htmlContent, textContent)
}

func (e *EmailService) sendToAll(ctx context.Context, subject, htmlContent, textContent string) error {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var firstErr error
	for _, to := range e.config.To {
		var err error
		switch strings.ToLower(e.config.Provider) {
		case "sendgrid":
			err = e.sendViaSendgrid(ctxWithTimeout, to, subject, htmlContent, textContent)
		case "mailpit", "smtp":
			err = e.sendViaSMTP(to, subject, htmlContent)
		default:
			err = fmt.Errorf("unsupported email provider: %s", e.config.Provider)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *EmailService) sendViaSendgrid(ctx context.Context, to, subject, htmlContent, textContent string) error {
	if e.client == nil {
		return fmt.Errorf("sendgrid client not configured")
	}

	from := mail.NewEmail(e.config.FromName, e.config.FromEmail)
	toEmail := mail.NewEmail("", to)
	message := mail.NewSingleEmail(from, subject, toEmail, textContent, htmlContent)

	response, err := e.client.SendWithContext(ctx, message)
	if err != nil {
		e.logger.Error("Failed to send alert email",
			zap.String("provider", "sendgrid"),
			zap.String("to", to),
			zap.String("subject", subject),
			zap.Error(err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	if response.StatusCode >= 400 {
		e.logger.Error("Email service returned error",
			zap.String("provider", "sendgrid"),
			zap.String("to", to),
			zap.Int("status_code", response.StatusCode),
			zap.String("response_body", response.Body))
		return fmt.Errorf("email service error: status %d", response.StatusCode)
	}

	e.logger.Info("Alert email sent",
		zap.String("provider", "sendgrid"),
		zap.String("to", to),
		zap.String("subject", subject))
	return nil
}

func (e *EmailService) sendViaSMTP(to, subject, htmlContent string) error {
	from := e.config.FromEmail
	if e.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", e.config.FromName, e.config.FromEmail)
	}

	var msg bytes.Buffer
	msg.WriteString(fmt.Sprintf("From: %s\r\n", from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(htmlContent)

	addr := fmt.Sprintf("%s:%d", e.config.SMTPHost, e.config.SMTPPort)

	var auth smtp.Auth
	if e.config.SMTPUsername != "" {
		auth = smtp.PlainAuth("", e.config.SMTPUsername, e.config.SMTPPassword, e.config.SMTPHost)
	}

	if err := smtp.SendMail(addr, auth, e.config.FromEmail, []string{to}, msg.Bytes()); err != nil {
		e.logger.Error("Failed to send alert email via SMTP",
			zap.String("to", to),
			zap.String("host", e.config.SMTPHost),
			zap.Error(err))
		return fmt.Errorf("smtp send failed: %w", err)
	}

	e.logger.Info("Alert email sent",
		zap.String("provider", e.config.Provider),
		zap.String("to", to),
		zap.String("subject", subject))
	return nil
}

func (e *EmailService) buildAlertHTML(title string, fields [][2]string) string {
	var rows strings.Builder
	for _, field := range fields {
		rows.WriteString(fmt.Sprintf(
			`<p style="margin: 4px 0; color: #333;"><strong>%s:</strong> %s</p>`,
			html.EscapeString(field[0]), html.EscapeString(field[1])))
	}

	return fmt.Sprintf(`
		<!DOCTYPE html>
		<html>
		<head><title>%s</title></head>
		<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
			<div style="background-color: #f8d7da; padding: 24px; border-radius: 8px; border: 1px solid #f5c6cb;">
				<h2 style="color: #721c24; margin-bottom: 16px;">%s</h2>
				<div style="background-color: white; border-radius: 8px; padding: 16px; margin: 20px 0; border: 1px solid #dee2e6;">
					%s
				</div>
				<p style="color: #555; line-height: 1.6;">Generated at %s. Check the health endpoint and dashboards before intervening.</p>
			</div>
		</body>
		</html>
	`, html.EscapeString(title), html.EscapeString(title), rows.String(), time.Now().UTC().Format(time.RFC1123))
}

func truncateHash(hash string) string {
	if len(hash) <= 14 {
		return hash
	}
	return hash[:10] + "..." + hash[len(hash)-4:]
}
