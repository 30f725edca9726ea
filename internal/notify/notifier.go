// Package notify sends tenant-facing email. Sending is fire-and-forget:
// failures are logged and never fail the owning job. Sent notifications are
// recorded so threshold alerts stay idempotent within their cooldown.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/resend/resend-go/v3"
	"github.com/storegrid/engine/internal/repository"
	"github.com/storegrid/engine/pkg/logger"
	"go.uber.org/zap"
)

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Mailer delivers messages. Tests substitute a fake.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// ResendMailer delivers through the Resend API.
type ResendMailer struct {
	client *resend.Client
	from   string
}

func NewResendMailer(apiKey, from string) *ResendMailer {
	return &ResendMailer{client: resend.NewClient(apiKey), from: from}
}

func (m *ResendMailer) Send(ctx context.Context, msg Message) error {
	_, err := m.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    m.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
	})
	return err
}

// NoopMailer is used when no mail API key is configured.
type NoopMailer struct{}

func (NoopMailer) Send(ctx context.Context, msg Message) error {
	logger.L().Info("mail delivery disabled, dropping message",
		zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}

// Notifier pairs a Mailer with the notification record store.
type Notifier struct {
	mailer Mailer
	repo   repository.NotificationRepository
}

func NewNotifier(mailer Mailer, repo repository.NotificationRepository) *Notifier {
	return &Notifier{mailer: mailer, repo: repo}
}

// SentWithin reports whether a notification of kind went out to the tenant
// inside the given window.
func (n *Notifier) SentWithin(ctx context.Context, tenantID uuid.UUID, kind string, window time.Duration) (bool, error) {
	return n.repo.SentSince(ctx, tenantID, kind, time.Now().UTC().Add(-window))
}

// Notify sends the message and records it. A delivery failure is logged and
// returned, but callers treat it as best-effort: it never fails their job.
func (n *Notifier) Notify(ctx context.Context, tenantID uuid.UUID, kind string, msg Message) error {
	if err := n.mailer.Send(ctx, msg); err != nil {
		logger.L().Warn("notification delivery failed",
			zap.String("tenant_id", tenantID.String()),
			zap.String("kind", kind),
			zap.Error(err),
		)
		return err
	}
	if err := n.repo.Record(ctx, tenantID, kind); err != nil {
		logger.L().Warn("notification sent but not recorded",
			zap.String("tenant_id", tenantID.String()),
			zap.String("kind", kind),
			zap.Error(err),
		)
		return err
	}
	return nil
}
