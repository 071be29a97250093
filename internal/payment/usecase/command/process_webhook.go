package command

import (
	"context"
	"fmt"

	"github.com/tair/reseller-billing/internal/payment/domain"
	"github.com/tair/reseller-billing/internal/payment/gateway"
	"github.com/tair/reseller-billing/internal/payment/reconcile"
	"github.com/tair/reseller-billing/pkg/logger"
)

// Webhook outcomes, also used as metric labels
const (
	OutcomeCompleted = "completed"
	OutcomeProcessed = "processed"
	OutcomeNoop      = "noop"
	OutcomeNotFound  = "not_found"
)

// ProcessWebhookCommand is one inbound gateway notification
type ProcessWebhookCommand struct {
	Gateway domain.Gateway
	Request *gateway.WebhookRequest
}

// WebhookResult reports what a notification did
type WebhookResult struct {
	Outcome string
	Record  *domain.PaymentRecord
}

// ProcessWebhookHandler verifies, parses and reconciles webhooks
type ProcessWebhookHandler struct {
	repo        domain.PaymentRepository
	gateways    gateway.Provider
	coordinator *reconcile.Coordinator
}

// NewProcessWebhookHandler creates a new process webhook handler
func NewProcessWebhookHandler(repo domain.PaymentRepository, gateways gateway.Provider, coordinator *reconcile.Coordinator) *ProcessWebhookHandler {
	return &ProcessWebhookHandler{repo: repo, gateways: gateways, coordinator: coordinator}
}

// Handle executes the process webhook command. Payload problems return a
// domain.ValidationError and bad signatures domain.ErrInvalidSignature, both
// before any state is touched. An authenticated notification that names no
// known record is not an error.
func (h *ProcessWebhookHandler) Handle(ctx context.Context, cmd ProcessWebhookCommand) (*WebhookResult, error) {
	adapter, cred, err := h.gateways.Adapter(ctx, cmd.Gateway)
	if err != nil {
		return nil, err
	}

	if rv, ok := adapter.(gateway.RequestVerifier); ok && !rv.VerifyWebhookRequest(cmd.Request, cred.SigningSecret()) {
		return nil, h.rejected(ctx, cmd.Gateway, adapter, "")
	}

	n, err := adapter.ParseWebhook(cmd.Request)
	if err != nil {
		return nil, err
	}
	if !adapter.VerifyWebhookSignature(n.SignedPayload, n.Signature, cred.SigningSecret()) {
		return nil, h.rejected(ctx, cmd.Gateway, adapter, n.ExternalRef)
	}
	if n.OrderNumber == "" && cmd.Request.Query != nil {
		n.OrderNumber = cmd.Request.Query.Get("order")
	}

	record, err := h.lookup(ctx, cmd.Gateway, n)
	if isNotFound(err) {
		logger.Warn(ctx).
			Str("gateway", string(cmd.Gateway)).
			Str("external_ref", n.ExternalRef).
			Str("order_number", n.OrderNumber).
			Str("purchase_id", n.PurchaseID).
			Msg("Webhook for unknown payment record")
		return &WebhookResult{Outcome: OutcomeNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	if rm, ok := adapter.(gateway.RecordMatcher); ok && !rm.MatchesRecord(n, record.GatewayFields) {
		logger.Warn(ctx).
			Str("gateway", string(cmd.Gateway)).
			Uint("record_id", record.ID).
			Str("order_number", record.OrderNumber).
			Msg("Webhook does not match the stored payment")
		return nil, domain.ErrInvalidSignature
	}

	target, known := adapter.MapNativeStatus(n.NativeStatus)
	if !known {
		logger.Info(ctx).
			Str("gateway", string(cmd.Gateway)).
			Str("native_status", n.NativeStatus).
			Uint("record_id", record.ID).
			Msg("Unknown native status, keeping current status")
		target = record.Status
	}

	res, err := h.coordinator.Apply(ctx, record, target, reconcile.Update{
		NativeStatus: n.NativeStatus,
		Fields:       n.Fields,
		Amount:       n.Amount,
		Currency:     n.Currency,
		PurchaseID:   n.PurchaseID,
		Source:       reconcile.SourceWebhook,
	})
	if err != nil {
		return nil, err
	}

	outcome := OutcomeNoop
	switch {
	case res.Completed:
		outcome = OutcomeCompleted
	case res.Applied:
		outcome = OutcomeProcessed
	}

	logger.Info(ctx).
		Str("gateway", string(cmd.Gateway)).
		Str("verification", string(adapter.Verification())).
		Uint("record_id", res.Record.ID).
		Str("order_number", res.Record.OrderNumber).
		Str("native_status", n.NativeStatus).
		Str("to_status", string(res.Record.Status)).
		Str("outcome", outcome).
		Msg("Webhook processed")

	return &WebhookResult{Outcome: outcome, Record: res.Record}, nil
}

func (h *ProcessWebhookHandler) rejected(ctx context.Context, gw domain.Gateway, adapter gateway.Adapter, externalRef string) error {
	logger.Warn(ctx).
		Str("gateway", string(gw)).
		Str("external_ref", externalRef).
		Str("verification", string(adapter.Verification())).
		Msg("Webhook signature rejected")
	return domain.ErrInvalidSignature
}

// lookup tries the gateway reference, then the order number, then the shared purchase id
func (h *ProcessWebhookHandler) lookup(ctx context.Context, gw domain.Gateway, n *gateway.Notification) (*domain.PaymentRecord, error) {
	if n.ExternalRef == "" && n.OrderNumber == "" && n.PurchaseID == "" {
		return nil, domain.ErrRecordNotFound
	}

	record, err := h.repo.FindByExternalRef(ctx, gw, n.ExternalRef)
	if !isNotFound(err) {
		return record, err
	}

	record, err = h.repo.FindByOrderNumber(ctx, n.OrderNumber)
	if err == nil {
		if record.Gateway != gw {
			logger.Warn(ctx).
				Str("gateway", string(gw)).
				Str("record_gateway", string(record.Gateway)).
				Str("order_number", n.OrderNumber).
				Msg("Webhook order number belongs to another gateway")
			return nil, domain.ErrRecordNotFound
		}
		return record, nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	return h.repo.FindByPurchaseID(ctx, gw, n.PurchaseID)
}
