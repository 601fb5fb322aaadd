package channel

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sirupsen/logrus"
)

// LogEmailSender is the stand-in used when no SendGrid credentials are
// configured. It records the message in the log and succeeds.
type LogEmailSender struct {
	Log *logrus.Logger
}

func (l *LogEmailSender) SendEmail(_ context.Context, msg EmailMessage) error {
	l.Log.WithFields(logrus.Fields{
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info("email channel disabled, logging instead of sending")
	return nil
}

// SendGridSender delivers email through the SendGrid v3 API.
type SendGridSender struct {
	client   *sendgrid.Client
	fromName string
	fromAddr string
}

func NewSendGridSender(apiKey, fromName, fromAddr string) *SendGridSender {
	return &SendGridSender{
		client:   sendgrid.NewSendClient(apiKey),
		fromName: fromName,
		fromAddr: fromAddr,
	}
}

func (s *SendGridSender) SendEmail(ctx context.Context, msg EmailMessage) error {
	from := mail.NewEmail(s.fromName, s.fromAddr)
	to := mail.NewEmail("", msg.To)
	m := mail.NewSingleEmail(from, msg.Subject, to, msg.Text, msg.HTML)

	resp, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid send: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
