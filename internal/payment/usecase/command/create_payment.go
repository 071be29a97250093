package command

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tair/reseller-billing/internal/payment/domain"
	"github.com/tair/reseller-billing/internal/payment/gateway"
	"github.com/tair/reseller-billing/pkg/logger"
)

// CreatePaymentCommand represents the command to start a payment
type CreatePaymentCommand struct {
	UserID        *uint
	Purpose       domain.Purpose
	Gateway       domain.Gateway
	Amount        decimal.Decimal
	Currency      string
	Description   string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	// IntervalDays > 0 attaches an inactive subscription to the record
	IntervalDays int
	AutoRenew    bool
}

// CreatePaymentHandler handles create payment command
type CreatePaymentHandler struct {
	repo     domain.PaymentRepository
	gateways gateway.Provider
	baseURL  string
}

// NewCreatePaymentHandler creates a new create payment handler
func NewCreatePaymentHandler(repo domain.PaymentRepository, gateways gateway.Provider, baseURL string) *CreatePaymentHandler {
	return &CreatePaymentHandler{repo: repo, gateways: gateways, baseURL: strings.TrimRight(baseURL, "/")}
}

// Handle executes the create payment command
func (h *CreatePaymentHandler) Handle(ctx context.Context, cmd CreatePaymentCommand) (*domain.PaymentRecord, error) {
	switch cmd.Purpose {
	case domain.PurposeOrder, domain.PurposeSubscription:
	case domain.PurposeDeposit:
		if cmd.UserID == nil {
			return nil, domain.NewValidationError("user_id", "deposits require a user")
		}
	default:
		return nil, domain.NewValidationError("purpose", fmt.Sprintf("unknown purpose %q", cmd.Purpose))
	}
	if cmd.IntervalDays < 0 {
		return nil, domain.NewValidationError("interval_days", "must not be negative")
	}
	if cmd.Purpose == domain.PurposeSubscription && cmd.IntervalDays == 0 {
		return nil, domain.NewValidationError("interval_days", "subscriptions require a billing interval")
	}
	if !cmd.Amount.IsPositive() {
		return nil, domain.NewValidationError("amount", "must be greater than zero")
	}
	if cmd.Currency == "" {
		cmd.Currency = "USD"
	}

	adapter, cred, err := h.gateways.Adapter(ctx, cmd.Gateway)
	if err != nil {
		return nil, err
	}

	fee := serviceFee(cmd.Amount, cred.FeePercent)
	orderNumber := newOrderNumber(cmd.Purpose)
	result, err := adapter.CreatePayment(ctx, gateway.CreateRequest{
		Amount:        cmd.Amount.Add(fee),
		Currency:      strings.ToUpper(cmd.Currency),
		Description:   cmd.Description,
		OrderNumber:   orderNumber,
		CallbackURL:   callbackURL(h.baseURL, cmd.Gateway, orderNumber),
		SuccessURL:    cmd.SuccessURL,
		CancelURL:     cmd.CancelURL,
		CustomerEmail: cmd.CustomerEmail,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s payment: %w", cmd.Gateway, err)
	}

	record := &domain.PaymentRecord{
		OrderNumber:    orderNumber,
		Purpose:        cmd.Purpose,
		UserID:         cmd.UserID,
		OriginalAmount: cmd.Amount,
		ServiceFee:     fee,
		FinalAmount:    cmd.Amount.Add(fee),
		Currency:       strings.ToUpper(cmd.Currency),
		Gateway:        cmd.Gateway,
		ExternalRef:    result.ExternalRef,
		PurchaseID:     result.PurchaseID,
		CheckoutURL:    result.CheckoutURL,
		NativeStatus:   result.NativeStatus,
		GatewayFields:  result.Fields,
		Status:         domain.StatusPending,
		Subscription: domain.Subscription{
			IntervalDays: cmd.IntervalDays,
			AutoRenew:    cmd.AutoRenew && cmd.IntervalDays > 0,
			Status:       domain.SubscriptionInactive,
		},
	}

	if err := h.repo.Create(ctx, record); err != nil {
		// the remote payment exists but is unknown locally; keep its reference in the logs
		logger.Error(ctx).
			Err(err).
			Str("gateway", string(cmd.Gateway)).
			Str("external_ref", result.ExternalRef).
			Str("order_number", orderNumber).
			Msg("Failed to persist created payment")
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	logger.Info(ctx).
		Uint("record_id", record.ID).
		Str("order_number", orderNumber).
		Str("gateway", string(cmd.Gateway)).
		Str("external_ref", record.ExternalRef).
		Str("final_amount", record.FinalAmount.String()).
		Msg("Payment created")

	return record, nil
}

// serviceFee is amount * pct / 100 rounded to cents
func serviceFee(amount, pct decimal.Decimal) decimal.Decimal {
	if !pct.IsPositive() {
		return decimal.Zero
	}
	return amount.Mul(pct).Div(decimal.NewFromInt(100)).Round(2)
}

func newOrderNumber(purpose domain.Purpose) string {
	prefix := "ORD"
	if purpose == domain.PurposeDeposit {
		prefix = "DEP"
	}
	return fmt.Sprintf("%s-%s", prefix, strings.ToUpper(uuid.New().String()[:8]))
}

// callbackURL echoes the order number so notifications can be matched
// even when the gateway only returns its own reference
func callbackURL(baseURL string, gw domain.Gateway, orderNumber string) string {
	return fmt.Sprintf("%s/webhooks/%s?order=%s", baseURL, gw, url.QueryEscape(orderNumber))
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrRecordNotFound)
}
