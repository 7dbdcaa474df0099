// Package notify delivers messages over email, SMS and push.
package notify

import (
	"context"
	"fmt"

	"github.com/kolesa/kolesa/backend/go-services/internal/phone"
	"github.com/kolesa/kolesa/backend/go-services/pkg/logger"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Mailer sends a single email.
type Mailer interface {
	SendEmail(ctx context.Context, to, subject, text, html string) error
}

// SMSSender sends a text message to an E.164 phone number.
type SMSSender interface {
	SendSMS(ctx context.Context, to, text string) error
}

// PushSender delivers a push notification to a device token.
type PushSender interface {
	SendPush(ctx context.Context, deviceToken, title, body string, data map[string]string) error
}

// SendGridMailer sends email through the SendGrid v3 API.
type SendGridMailer struct {
	client   *sendgrid.Client
	fromName string
	fromAddr string
}

func NewSendGridMailer(apiKey, fromName, fromAddr string) *SendGridMailer {
	return &SendGridMailer{client: sendgrid.NewSendClient(apiKey), fromName: fromName, fromAddr: fromAddr}
}

func (m *SendGridMailer) SendEmail(ctx context.Context, to, subject, text, html string) error {
	from := mail.NewEmail(m.fromName, m.fromAddr)
	msg := mail.NewSingleEmail(from, subject, mail.NewEmail("", to), text, html)
	resp, err := m.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid: status %d: %s", resp.StatusCode, resp.Body)
	}
	logger.Debugf("email sent to %s status=%d", to, resp.StatusCode)
	return nil
}

// LogMailer only logs outgoing email; used when no API key is configured.
type LogMailer struct{}

func (LogMailer) SendEmail(ctx context.Context, to, subject, text, html string) error {
	logger.Infof("email (not sent) to=%s subject=%q body=%q", to, subject, text)
	return nil
}

// LogSMSSender logs SMS messages instead of sending them.
type LogSMSSender struct{}

func (LogSMSSender) SendSMS(ctx context.Context, to, text string) error {
	logger.Infof("sms (not sent) to=%s text=%q", phone.Mask(to), text)
	return nil
}

// LogPushSender logs push notifications instead of sending them.
type LogPushSender struct{}

func (LogPushSender) SendPush(ctx context.Context, deviceToken, title, body string, data map[string]string) error {
	tok := deviceToken
	if len(tok) > 8 {
		tok = tok[:8] + "..."
	}
	logger.Infof("push (not sent) device=%s title=%q", tok, title)
	return nil
}

// NewMailer returns a SendGrid mailer when an API key is set, otherwise a
// logging mailer.
func NewMailer(apiKey, fromName, fromAddr string) Mailer {
	if apiKey == "" {
		return LogMailer{}
	}
	return NewSendGridMailer(apiKey, fromName, fromAddr)
}
