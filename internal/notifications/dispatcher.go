package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/kolesa/kolesa/backend/go-services/internal/models"
	"github.com/kolesa/kolesa/backend/go-services/internal/notify"
	"github.com/kolesa/kolesa/backend/go-services/pkg/logger"
	"github.com/kolesa/kolesa/backend/go-services/pkg/metrics"
)

// Recipients resolves contact details for delivery.
type Recipients interface {
	Get(ctx context.Context, id string) (*models.User, error)
	Devices(ctx context.Context, userID string) ([]*models.Device, error)
}

// Dispatcher sends stored notifications over their external channel.
type Dispatcher struct {
	repo   Repository
	users  Recipients
	mailer notify.Mailer
	sms    notify.SMSSender
	push   notify.PushSender
	now    func() time.Time
}

func NewDispatcher(repo Repository, users Recipients, mailer notify.Mailer, sms notify.SMSSender, push notify.PushSender) *Dispatcher {
	return &Dispatcher{
		repo: repo, users: users, mailer: mailer, sms: sms, push: push,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n *Notification) error {
	u, err := d.users.Get(ctx, n.UserID)
	if err != nil {
		return err
	}
	switch n.Channel {
	case ChannelEmail:
		if u.Email == "" {
			return fmt.Errorf("user has no email")
		}
		return d.mailer.SendEmail(ctx, u.Email, n.Title, n.Message, "")
	case ChannelSMS:
		if u.Phone == "" {
			return fmt.Errorf("user has no phone")
		}
		return d.sms.SendSMS(ctx, u.Phone, n.Message)
	case ChannelPush:
		devices, err := d.users.Devices(ctx, n.UserID)
		if err != nil {
			return err
		}
		sent := 0
		for _, dev := range devices {
			if !dev.IsActive {
				continue
			}
			if err := d.push.SendPush(ctx, dev.DeviceToken, n.Title, n.Message, n.Data); err != nil {
				logger.Warnf("push to device %s: %v", dev.ID, err)
				continue
			}
			sent++
		}
		if sent == 0 {
			return fmt.Errorf("no active devices")
		}
		return nil
	}
	return fmt.Errorf("unknown channel %q", n.Channel)
}

// Process delivers notification id. Failures are retried until
// MaxAttempts, after which the notification is marked failed.
func (d *Dispatcher) Process(ctx context.Context, id string) error {
	n, err := d.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if n == nil {
		return ErrNotFound
	}
	if n.Status != StatusPending {
		return nil
	}
	n.Attempts++
	derr := d.deliver(ctx, n)
	if derr == nil {
		now := d.now()
		n.Status, n.SentAt, n.Error = StatusSent, &now, ""
	} else {
		n.Error = derr.Error()
		if n.Attempts >= MaxAttempts {
			n.Status = StatusFailed
		}
	}
	if err := d.repo.Update(ctx, n); err != nil {
		return err
	}
	switch {
	case derr == nil:
		metrics.NotificationsSent.WithLabelValues(n.Channel, StatusSent).Inc()
		return nil
	case n.Status == StatusFailed:
		metrics.NotificationsSent.WithLabelValues(n.Channel, StatusFailed).Inc()
		return fmt.Errorf("%s delivery failed after %d attempts: %w", n.Channel, n.Attempts, derr)
	}
	return &RetryError{Attempt: n.Attempts, Err: derr}
}
