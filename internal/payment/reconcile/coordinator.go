// Package reconcile applies canonical status changes to payment records exactly once.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tair/reseller-billing/internal/payment/domain"
	"github.com/tair/reseller-billing/internal/payment/metrics"
	"github.com/tair/reseller-billing/pkg/logger"
)

// Sources of an update, used in logs
const (
	SourceWebhook = "webhook"
	SourcePoll    = "poll"
	SourceAdmin   = "admin"
)

const defaultMaxAttempts = 3

// Dispatcher runs the side effects of a first completion
type Dispatcher interface {
	Fire(ctx context.Context, rec *domain.PaymentRecord) error
}

// RenewalFailureDispatcher is implemented by dispatchers that also react to a
// renewal invoice failing for good
type RenewalFailureDispatcher interface {
	RenewalFailed(ctx context.Context, invoice *domain.PaymentRecord) error
}

// Update carries what a gateway reported alongside the canonical status
type Update struct {
	NativeStatus string
	Fields       map[string]any
	// Amount and Currency are what the gateway says was paid, when known
	Amount     *decimal.Decimal
	Currency   string
	PurchaseID string
	Source     string
}

// Result describes the outcome of Apply
type Result struct {
	Record   *domain.PaymentRecord
	Previous domain.CanonicalStatus
	// Applied is false when only informational fields were merged
	Applied bool
	// Completed is true only for the caller that set completedAt
	Completed bool
}

// Coordinator is the single writer of canonical status
type Coordinator struct {
	payments    domain.PaymentRepository
	dispatcher  Dispatcher
	now         func() time.Time
	maxAttempts int
}

func NewCoordinator(payments domain.PaymentRepository, dispatcher Dispatcher) *Coordinator {
	return &Coordinator{
		payments:    payments,
		dispatcher:  dispatcher,
		now:         time.Now,
		maxAttempts: defaultMaxAttempts,
	}
}

// Apply moves rec towards target. Completed records and disallowed transitions
// only merge fields. The status write is a compare-and-set on the stored status
// and an unset completedAt; on conflict the record is reloaded and re-evaluated.
// The caller whose write sets completedAt runs the dispatcher before Apply returns.
// Storage failures wrap domain.ErrPersistence.
func (c *Coordinator) Apply(ctx context.Context, rec *domain.PaymentRecord, target domain.CanonicalStatus, upd Update) (res *Result, err error) {
	tracer := otel.Tracer("payment-reconcile")
	ctx, span := tracer.Start(ctx, "reconcile.Apply")
	span.SetAttributes(
		attribute.Int64("payment.id", int64(rec.ID)),
		attribute.String("payment.gateway", string(rec.Gateway)),
		attribute.String("payment.target_status", string(target)),
		attribute.String("update.source", upd.Source),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Bool("payment.applied", res.Applied), attribute.Bool("payment.completed", res.Completed))
		}
		span.End()
	}()

	if !target.IsValid() {
		return nil, domain.NewValidationError("status", fmt.Sprintf("unknown status %q", target))
	}

	c.checkAmount(ctx, rec, upd)

	current := rec
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if current.IsCompleted() || !current.Status.CanTransitionTo(target) {
			return c.mergeOnly(ctx, current, target, upd)
		}

		next := current.Clone()
		now := c.now().UTC()
		next.Status = target
		if upd.NativeStatus != "" {
			next.NativeStatus = upd.NativeStatus
		}
		next.MergeFields(upd.Fields)
		next.LastStatusUpdate = &now
		if upd.PurchaseID != "" && next.PurchaseID == "" {
			next.PurchaseID = upd.PurchaseID
		}
		completing := target == domain.StatusCompleted
		if completing {
			next.CompletedAt = &now
		}

		err := c.payments.CompareAndUpdate(ctx, next, current.Status)
		if errors.Is(err, domain.ErrConflict) {
			logger.Debug(ctx).
				Uint("record_id", current.ID).
				Int("attempt", attempt).
				Msg("Concurrent status update, reloading record")
			current, err = c.payments.FindByID(ctx, current.ID)
			if err != nil {
				return nil, fmt.Errorf("%w: reload record %d: %w", domain.ErrPersistence, rec.ID, err)
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: update record %d: %w", domain.ErrPersistence, rec.ID, err)
		}

		metrics.StatusTransitions.WithLabelValues(string(current.Status), string(target)).Inc()
		logger.Info(ctx).
			Uint("record_id", next.ID).
			Str("order_number", next.OrderNumber).
			Str("gateway", string(next.Gateway)).
			Str("from_status", string(current.Status)).
			Str("to_status", string(target)).
			Str("source", upd.Source).
			Msg("Payment status updated")

		res := &Result{Record: next, Previous: current.Status, Applied: true}
		if completing {
			res.Completed = true
			metrics.Completions.WithLabelValues(string(next.Gateway), string(next.Purpose)).Inc()
			if c.dispatcher != nil {
				if ferr := c.dispatcher.Fire(ctx, next); ferr != nil {
					logger.Error(ctx).
						Err(ferr).
						Uint("record_id", next.ID).
						Str("order_number", next.OrderNumber).
						Msg("Completion side effects failed")
				}
			}
		}
		if target.IsTerminalFailure() && next.ParentID != nil {
			if rf, ok := c.dispatcher.(RenewalFailureDispatcher); ok {
				if ferr := rf.RenewalFailed(ctx, next); ferr != nil {
					logger.Error(ctx).
						Err(ferr).
						Uint("record_id", next.ID).
						Str("order_number", next.OrderNumber).
						Msg("Failed to release subscription after renewal invoice failure")
				}
			}
		}
		return res, nil
	}

	return nil, fmt.Errorf("%w: record %d: %w after %d attempts", domain.ErrPersistence, rec.ID, domain.ErrConflict, c.maxAttempts)
}

// mergeOnly keeps the stored status and records the gateway fields for audit
func (c *Coordinator) mergeOnly(ctx context.Context, rec *domain.PaymentRecord, target domain.CanonicalStatus, upd Update) (*Result, error) {
	fields := make(map[string]any, len(upd.Fields)+1)
	for k, v := range upd.Fields {
		fields[k] = v
	}
	if upd.NativeStatus != "" && rec.Status != target {
		fields["ignored_native_status"] = upd.NativeStatus
	}

	if len(fields) > 0 {
		if err := c.payments.MergeGatewayFields(ctx, rec.ID, fields); err != nil {
			return nil, fmt.Errorf("%w: merge fields of record %d: %w", domain.ErrPersistence, rec.ID, err)
		}
		rec = rec.Clone()
		rec.MergeFields(fields)
	}

	if rec.Status != target {
		logger.Debug(ctx).
			Uint("record_id", rec.ID).
			Str("from_status", string(rec.Status)).
			Str("to_status", string(target)).
			Str("source", upd.Source).
			Msg("Status transition ignored")
	}
	return &Result{Record: rec, Previous: rec.Status}, nil
}

func (c *Coordinator) checkAmount(ctx context.Context, rec *domain.PaymentRecord, upd Update) {
	if upd.Amount == nil {
		return
	}
	if upd.Currency != "" && !strings.EqualFold(upd.Currency, rec.Currency) {
		return
	}
	if upd.Amount.Equal(rec.FinalAmount) {
		return
	}
	logger.Warn(ctx).
		Uint("record_id", rec.ID).
		Str("order_number", rec.OrderNumber).
		Str("gateway", string(rec.Gateway)).
		Str("expected_amount", rec.FinalAmount.String()).
		Str("reported_amount", upd.Amount.String()).
		Msg("Gateway amount differs from record")
}
