package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/tair/reseller-billing/internal/payment/domain"
	"github.com/tair/reseller-billing/internal/payment/gateway"
	"github.com/tair/reseller-billing/internal/payment/metrics"
	"github.com/tair/reseller-billing/kafka"
	"github.com/tair/reseller-billing/pkg/logger"
)

// RenewalEventPublisher receives renewal failures
type RenewalEventPublisher interface {
	PublishRenewalFailed(ctx context.Context, event kafka.RenewalFailedEvent) error
}

// RenewSubscriptionsCommand runs one renewal batch
type RenewSubscriptionsCommand struct {
	// Now defaults to the current time
	Now   time.Time
	Limit int
}

// RenewalFailure is one subscription the batch could not renew
type RenewalFailure struct {
	RecordID    uint   `json:"record_id"`
	OrderNumber string `json:"order_number"`
	Error       string `json:"error"`
}

// RenewalSummary is the per-run report
type RenewalSummary struct {
	Processed int              `json:"processed"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Errors    []RenewalFailure `json:"errors"`
	// Invoices lists the order numbers of the renewal invoices created
	Invoices []string `json:"invoices"`
}

// RenewSubscriptionsHandler issues fresh invoices for due subscriptions
type RenewSubscriptionsHandler struct {
	repo      domain.PaymentRepository
	gateways  gateway.Provider
	events    RenewalEventPublisher
	baseURL   string
	batchSize int
}

// NewRenewSubscriptionsHandler creates a new renew subscriptions handler. events may be nil.
func NewRenewSubscriptionsHandler(repo domain.PaymentRepository, gateways gateway.Provider, events RenewalEventPublisher, baseURL string, batchSize int) *RenewSubscriptionsHandler {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &RenewSubscriptionsHandler{
		repo:      repo,
		gateways:  gateways,
		events:    events,
		baseURL:   strings.TrimRight(baseURL, "/"),
		batchSize: batchSize,
	}
}

// Handle executes the renew subscriptions command. Each subscription is claimed
// by moving it from active to past_due; a concurrent run loses the claim and
// skips it. A failed renewal restores active and records the error, and the
// batch moves on.
func (h *RenewSubscriptionsHandler) Handle(ctx context.Context, cmd RenewSubscriptionsCommand) (*RenewalSummary, error) {
	now := cmd.Now
	if now.IsZero() {
		now = time.Now()
	}
	limit := cmd.Limit
	if limit <= 0 || limit > h.batchSize {
		limit = h.batchSize
	}

	due, err := h.repo.FindDueSubscriptions(ctx, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	summary := &RenewalSummary{Errors: []RenewalFailure{}, Invoices: []string{}}
	for i := range due {
		rec := &due[i]

		claimed, err := h.claim(ctx, rec)
		if err != nil {
			logger.Error(ctx).Err(err).Uint("record_id", rec.ID).Msg("Failed to claim subscription")
		}
		if !claimed {
			continue
		}

		summary.Processed++
		invoice, err := h.renewOne(ctx, rec)
		if err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, RenewalFailure{RecordID: rec.ID, OrderNumber: rec.OrderNumber, Error: err.Error()})
			metrics.RenewalResults.WithLabelValues("failed").Inc()
			h.release(ctx, rec, err)
			continue
		}

		summary.Succeeded++
		summary.Invoices = append(summary.Invoices, invoice.OrderNumber)
		metrics.RenewalResults.WithLabelValues("succeeded").Inc()
	}

	logger.Info(ctx).
		Int("processed", summary.Processed).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Msg("Renewal batch finished")

	return summary, nil
}

func (h *RenewSubscriptionsHandler) claim(ctx context.Context, rec *domain.PaymentRecord) (bool, error) {
	active := domain.SubscriptionActive
	sub := rec.Subscription
	sub.Status = domain.SubscriptionPastDue
	sub.LastRenewalError = ""

	err := h.repo.UpdateSubscription(ctx, rec.ID, sub, &active)
	if errors.Is(err, domain.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	rec.Subscription = sub
	return true, nil
}

// renewOne creates the renewal invoice. Panics from an adapter count as a failure of this item only.
func (h *RenewSubscriptionsHandler) renewOne(ctx context.Context, rec *domain.PaymentRecord) (invoice *domain.PaymentRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			invoice = nil
			err = fmt.Errorf("renewal panicked: %v", r)
		}
	}()

	adapter, cred, err := h.gateways.Adapter(ctx, rec.Gateway)
	if err != nil {
		return nil, err
	}

	purchaseID := rec.PurchaseID
	if purchaseID == "" {
		purchaseID = cast.ToString(rec.GatewayFields["purchase_id"])
	}

	fee := serviceFee(rec.OriginalAmount, cred.FeePercent)
	orderNumber := newOrderNumber(domain.PurposeSubscription)
	result, err := adapter.CreatePayment(ctx, gateway.CreateRequest{
		Amount:      rec.OriginalAmount.Add(fee),
		Currency:    rec.Currency,
		Description: fmt.Sprintf("Subscription renewal for %s", rec.OrderNumber),
		OrderNumber: orderNumber,
		CallbackURL: callbackURL(h.baseURL, rec.Gateway, orderNumber),
		PurchaseID:  purchaseID,
		Metadata:    map[string]string{"renews": rec.OrderNumber},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create renewal invoice: %w", err)
	}

	parentID := rec.ID
	invoice = &domain.PaymentRecord{
		OrderNumber:    orderNumber,
		Purpose:        domain.PurposeSubscription,
		UserID:         rec.UserID,
		ParentID:       &parentID,
		OriginalAmount: rec.OriginalAmount,
		ServiceFee:     fee,
		FinalAmount:    rec.OriginalAmount.Add(fee),
		Currency:       rec.Currency,
		Gateway:        rec.Gateway,
		ExternalRef:    result.ExternalRef,
		PurchaseID:     firstNonEmpty(result.PurchaseID, purchaseID),
		CheckoutURL:    result.CheckoutURL,
		NativeStatus:   result.NativeStatus,
		GatewayFields:  result.Fields,
		Status:         domain.StatusPending,
		Subscription:   domain.Subscription{Status: domain.SubscriptionInactive},
	}
	if err := h.repo.Create(ctx, invoice); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	logger.Info(ctx).
		Uint("record_id", rec.ID).
		Str("order_number", orderNumber).
		Str("gateway", string(rec.Gateway)).
		Str("external_ref", invoice.ExternalRef).
		Msg("Renewal invoice created")
	return invoice, nil
}

// release puts a failed subscription back to active so a later run retries it
func (h *RenewSubscriptionsHandler) release(ctx context.Context, rec *domain.PaymentRecord, cause error) {
	logger.Error(ctx).
		Err(cause).
		Uint("record_id", rec.ID).
		Str("order_number", rec.OrderNumber).
		Str("gateway", string(rec.Gateway)).
		Msg("Subscription renewal failed")

	pastDue := domain.SubscriptionPastDue
	sub := rec.Subscription
	sub.Status = domain.SubscriptionActive
	sub.LastRenewalError = cause.Error()
	if err := h.repo.UpdateSubscription(ctx, rec.ID, sub, &pastDue); err != nil {
		logger.Error(ctx).Err(err).Uint("record_id", rec.ID).Msg("Failed to record renewal error")
	} else {
		rec.Subscription = sub
	}

	if h.events == nil {
		return
	}
	if err := h.events.PublishRenewalFailed(ctx, kafka.RenewalFailedEvent{
		PaymentID:   rec.ID,
		OrderNumber: rec.OrderNumber,
		UserID:      rec.UserID,
		Gateway:     string(rec.Gateway),
		Error:       cause.Error(),
	}); err != nil {
		logger.Warn(ctx).Err(err).Uint("record_id", rec.ID).Msg("Failed to publish renewal failure")
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
