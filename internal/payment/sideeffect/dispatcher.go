// Package sideeffect performs the monetary consequences of a completed payment.
package sideeffect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tair/reseller-billing/internal/payment/domain"
	"github.com/tair/reseller-billing/internal/payment/metrics"
	"github.com/tair/reseller-billing/kafka"
	"github.com/tair/reseller-billing/pkg/logger"
)

const (
	EffectBalance      = "balance"
	EffectPurchase     = "purchase"
	EffectReferral     = "referral"
	EffectSubscription = "subscription"
	EffectEvent        = "event"
	EffectRenewal      = "renewal"
)

// EventPublisher receives completion and renewal failure events
type EventPublisher interface {
	PublishPaymentCompleted(ctx context.Context, event kafka.PaymentCompletedEvent) error
	PublishRenewalFailed(ctx context.Context, event kafka.RenewalFailedEvent) error
}

// Dispatcher runs the side effects of a first completion. Each effect is
// independent: one failing never skips the others nor reverts the completion.
type Dispatcher struct {
	payments      domain.PaymentRepository
	users         domain.UserRepository
	events        EventPublisher
	commissionPct decimal.Decimal
	now           func() time.Time
}

// NewDispatcher creates a dispatcher. events may be nil.
func NewDispatcher(payments domain.PaymentRepository, users domain.UserRepository, events EventPublisher, commissionPct decimal.Decimal) *Dispatcher {
	return &Dispatcher{
		payments:      payments,
		users:         users,
		events:        events,
		commissionPct: commissionPct,
		now:           time.Now,
	}
}

// Fire executes every side effect of rec, which must already be persisted as completed.
// The returned error joins the failures of individual effects.
func (d *Dispatcher) Fire(ctx context.Context, rec *domain.PaymentRecord) error {
	tracer := otel.Tracer("payment-sideeffect")
	ctx, span := tracer.Start(ctx, "sideeffect.Fire")
	span.SetAttributes(
		attribute.Int64("payment.id", int64(rec.ID)),
		attribute.String("payment.order_number", rec.OrderNumber),
		attribute.String("payment.purpose", string(rec.Purpose)),
	)
	defer span.End()

	var errs []error
	record := func(effect string, err error) {
		if err == nil {
			return
		}
		metrics.SideEffectFailures.WithLabelValues(effect).Inc()
		span.RecordError(err)
		logger.Error(ctx).
			Err(err).
			Str("effect", effect).
			Uint("record_id", rec.ID).
			Str("order_number", rec.OrderNumber).
			Msg("Side effect failed")
		errs = append(errs, fmt.Errorf("%s: %w", effect, err))
	}

	if rec.UserID != nil {
		credited, err := d.creditBalance(ctx, rec)
		record(EffectBalance, err)
		if credited && rec.Purpose != domain.PurposeDeposit {
			record(EffectPurchase, d.chargePurchase(ctx, rec))
		}
		record(EffectReferral, d.payReferral(ctx, rec))
	}

	activated, err := d.activateSubscription(ctx, rec)
	record(EffectSubscription, err)

	d.publish(ctx, rec, activated)

	if len(errs) > 0 {
		span.SetStatus(codes.Error, "side effects failed")
		return errors.Join(errs...)
	}
	span.SetStatus(codes.Ok, "side effects applied")
	return nil
}

// creditBalance records the gateway payment as a deposit on the payer's balance
func (d *Dispatcher) creditBalance(ctx context.Context, rec *domain.PaymentRecord) (bool, error) {
	id := rec.ID
	_, err := d.users.ApplyLedgerEntry(ctx, domain.LedgerEntry{
		UserID:          *rec.UserID,
		Type:            domain.TxDeposit,
		Amount:          rec.FinalAmount,
		PaymentRecordID: &id,
		IdempotencyKey:  fmt.Sprintf("deposit:%d", rec.ID),
		Description:     fmt.Sprintf("%s payment %s via %s", rec.Purpose, rec.OrderNumber, rec.Gateway),
	})
	switch {
	case err == nil:
		logger.Info(ctx).
			Uint("user_id", *rec.UserID).
			Str("amount", rec.FinalAmount.String()).
			Str("order_number", rec.OrderNumber).
			Msg("Balance credited")
		return true, nil
	case errors.Is(err, domain.ErrAlreadyApplied):
		logger.Debug(ctx).Str("order_number", rec.OrderNumber).Msg("Balance credit already applied")
		return true, nil
	}
	return false, err
}

// chargePurchase spends the credited amount on the order it paid for, so the
// ledger shows both the incoming money and its use.
func (d *Dispatcher) chargePurchase(ctx context.Context, rec *domain.PaymentRecord) error {
	id := rec.ID
	_, err := d.users.ApplyLedgerEntry(ctx, domain.LedgerEntry{
		UserID:          *rec.UserID,
		Type:            domain.TxPurchase,
		Amount:          rec.FinalAmount,
		PaymentRecordID: &id,
		IdempotencyKey:  fmt.Sprintf("purchase:%d", rec.ID),
		Description:     fmt.Sprintf("%s %s", rec.Purpose, rec.OrderNumber),
	})
	if errors.Is(err, domain.ErrAlreadyApplied) {
		return nil
	}
	return err
}

// payReferral credits the referrer once, on the referred user's first completed order
func (d *Dispatcher) payReferral(ctx context.Context, rec *domain.PaymentRecord) error {
	if rec.Purpose == domain.PurposeDeposit || !d.commissionPct.IsPositive() {
		return nil
	}

	user, err := d.users.FindByID(ctx, *rec.UserID)
	if err != nil {
		return err
	}
	if user.ReferredBy == nil || *user.ReferredBy == user.ID {
		return nil
	}

	completedAt := d.now()
	if rec.CompletedAt != nil {
		completedAt = *rec.CompletedAt
	}
	earlier, err := d.payments.CountCompletedOrdersBefore(ctx, user.ID, completedAt, rec.ID)
	if err != nil {
		return err
	}
	if earlier > 0 {
		return nil
	}

	commission := rec.FinalAmount.Mul(d.commissionPct).Div(decimal.NewFromInt(100)).Round(2)
	if !commission.IsPositive() {
		return nil
	}

	id := rec.ID
	_, err = d.users.ApplyLedgerEntry(ctx, domain.LedgerEntry{
		UserID:          *user.ReferredBy,
		Type:            domain.TxReferral,
		Amount:          commission,
		PaymentRecordID: &id,
		IdempotencyKey:  fmt.Sprintf("referral:%d", user.ID),
		Description:     fmt.Sprintf("referral commission for %s", rec.OrderNumber),
		CreditEarnings:  true,
	})
	switch {
	case err == nil:
		logger.Info(ctx).
			Uint("referrer_id", *user.ReferredBy).
			Uint("user_id", user.ID).
			Str("commission", commission.StringFixed(2)).
			Msg("Referral commission paid")
		return nil
	case errors.Is(err, domain.ErrAlreadyApplied):
		return nil
	}
	return err
}

// activateSubscription starts the subscription carried by rec, or renews the
// one on its parent when rec is a renewal invoice.
func (d *Dispatcher) activateSubscription(ctx context.Context, rec *domain.PaymentRecord) (bool, error) {
	target := rec
	if rec.ParentID != nil {
		parent, err := d.payments.FindByID(ctx, *rec.ParentID)
		if err != nil {
			return false, err
		}
		target = parent
	}
	if !target.HasSubscription() || target.Subscription.Status == domain.SubscriptionCancelled {
		return false, nil
	}

	now := d.now().UTC()
	next := now.AddDate(0, 0, target.Subscription.IntervalDays)
	sub := target.Subscription
	sub.IsActive = true
	sub.Status = domain.SubscriptionActive
	sub.NextBillingDate = &next
	sub.LastRenewalError = ""
	if target != rec {
		sub.LastRenewalAt = &now
	}

	if err := d.payments.UpdateSubscription(ctx, target.ID, sub, nil); err != nil {
		return false, err
	}
	target.Subscription = sub

	logger.Info(ctx).
		Uint("record_id", target.ID).
		Time("next_billing_date", next).
		Msg("Subscription activated")
	return true, nil
}

// RenewalFailed runs when a renewal invoice reaches failed, cancelled or
// expired. The parent subscription, held past_due since the invoice was
// created, goes back to active with the cause recorded so the next renewal
// run bills it again.
func (d *Dispatcher) RenewalFailed(ctx context.Context, invoice *domain.PaymentRecord) error {
	if invoice.ParentID == nil {
		return nil
	}
	parent, err := d.payments.FindByID(ctx, *invoice.ParentID)
	if err != nil {
		metrics.SideEffectFailures.WithLabelValues(EffectRenewal).Inc()
		return err
	}
	if parent.Subscription.Status != domain.SubscriptionPastDue {
		return nil
	}

	cause := fmt.Sprintf("renewal invoice %s %s", invoice.OrderNumber, invoice.Status)
	pastDue := domain.SubscriptionPastDue
	sub := parent.Subscription
	sub.Status = domain.SubscriptionActive
	sub.LastRenewalError = cause
	err = d.payments.UpdateSubscription(ctx, parent.ID, sub, &pastDue)
	if errors.Is(err, domain.ErrConflict) {
		return nil
	}
	if err != nil {
		metrics.SideEffectFailures.WithLabelValues(EffectRenewal).Inc()
		return err
	}

	logger.Warn(ctx).
		Uint("record_id", parent.ID).
		Str("invoice", invoice.OrderNumber).
		Str("invoice_status", string(invoice.Status)).
		Msg("Renewal invoice failed, subscription queued for retry")

	if d.events == nil {
		return nil
	}
	if err := d.events.PublishRenewalFailed(ctx, kafka.RenewalFailedEvent{
		PaymentID:   parent.ID,
		OrderNumber: parent.OrderNumber,
		UserID:      parent.UserID,
		Gateway:     string(parent.Gateway),
		Error:       cause,
	}); err != nil {
		metrics.SideEffectFailures.WithLabelValues(EffectEvent).Inc()
		logger.Warn(ctx).Err(err).Uint("record_id", parent.ID).Msg("Failed to publish renewal failure")
	}
	return nil
}

func (d *Dispatcher) publish(ctx context.Context, rec *domain.PaymentRecord, activated bool) {
	if d.events == nil {
		return
	}
	event := kafka.PaymentCompletedEvent{
		PaymentID:             rec.ID,
		OrderNumber:           rec.OrderNumber,
		Purpose:               string(rec.Purpose),
		UserID:                rec.UserID,
		Gateway:               string(rec.Gateway),
		ExternalRef:           rec.ExternalRef,
		FinalAmount:           rec.FinalAmount,
		Currency:              rec.Currency,
		SubscriptionActivated: activated,
	}
	if rec.CompletedAt != nil {
		event.CompletedAt = *rec.CompletedAt
	}
	if err := d.events.PublishPaymentCompleted(ctx, event); err != nil {
		metrics.SideEffectFailures.WithLabelValues(EffectEvent).Inc()
		logger.Warn(ctx).Err(err).Str("order_number", rec.OrderNumber).Msg("Failed to publish completion event")
	}
}
