// Package notification turns payment events into customer emails.
package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/tair/reseller-billing/internal/payment/domain"
	"github.com/tair/reseller-billing/kafka"
	"github.com/tair/reseller-billing/pkg/logger"
)

// UserFinder resolves event user ids to addresses
type UserFinder interface {
	FindByID(ctx context.Context, id uint) (*domain.User, error)
}

// Notifier emails users about completed payments and failed renewals
type Notifier struct {
	users  UserFinder
	mailer Mailer
	from   string
}

func NewNotifier(users UserFinder, mailer Mailer, from string) *Notifier {
	return &Notifier{users: users, mailer: mailer, from: from}
}

// Register subscribes the notifier to both event types
func (n *Notifier) Register(consumer *kafka.Consumer) {
	consumer.RegisterHandler(kafka.EventTypePaymentCompleted, n.HandlePaymentCompleted)
	consumer.RegisterHandler(kafka.EventTypeRenewalFailed, n.HandleRenewalFailed)
}

// HandlePaymentCompleted sends the receipt. Guest payments are skipped.
func (n *Notifier) HandlePaymentCompleted(ctx context.Context, payload []byte) error {
	event, err := kafka.DecodePaymentCompleted(payload)
	if err != nil {
		return err
	}

	user, ok, err := n.recipient(ctx, event.UserID)
	if !ok {
		return err
	}

	subject := fmt.Sprintf("Payment received for %s", event.OrderNumber)
	body := fmt.Sprintf("Hello,\n\nWe received your payment of %s %s via %s for %s.\n",
		event.FinalAmount.StringFixed(2), event.Currency, event.Gateway, event.OrderNumber)
	switch {
	case event.Purpose == string(domain.PurposeDeposit):
		body += "The amount has been added to your balance.\n"
	case event.SubscriptionActivated:
		body += "Your subscription is active.\n"
	}

	return n.send(ctx, user, subject, body, event.OrderNumber)
}

// HandleRenewalFailed tells the user their subscription could not be renewed
func (n *Notifier) HandleRenewalFailed(ctx context.Context, payload []byte) error {
	event, err := kafka.DecodeRenewalFailed(payload)
	if err != nil {
		return err
	}

	user, ok, err := n.recipient(ctx, event.UserID)
	if !ok {
		return err
	}

	subject := fmt.Sprintf("Subscription renewal failed for %s", event.OrderNumber)
	body := fmt.Sprintf("Hello,\n\nWe could not create the renewal invoice for %s. We will try again on the next billing run.\n",
		event.OrderNumber)

	return n.send(ctx, user, subject, body, event.OrderNumber)
}

func (n *Notifier) recipient(ctx context.Context, userID *uint) (*domain.User, bool, error) {
	if userID == nil {
		return nil, false, nil
	}
	user, err := n.users.FindByID(ctx, *userID)
	if errors.Is(err, domain.ErrUserNotFound) {
		logger.Warn(ctx).Uint("user_id", *userID).Msg("Event for unknown user, skipping notification")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if user.Email == "" {
		return nil, false, nil
	}
	return user, true, nil
}

func (n *Notifier) send(ctx context.Context, user *domain.User, subject, body, orderNumber string) error {
	if err := n.mailer.Send(ctx, Email{From: n.from, To: user.Email, Subject: subject, Body: body}); err != nil {
		return fmt.Errorf("failed to email user %d: %w", user.ID, err)
	}
	logger.Info(ctx).
		Uint("user_id", user.ID).
		Str("order_number", orderNumber).
		Str("subject", subject).
		Msg("Notification sent")
	return nil
}
