package command

import (
	"context"
	"errors"

	"github.com/tair/reseller-billing/internal/payment/domain"
	"github.com/tair/reseller-billing/internal/payment/gateway"
	"github.com/tair/reseller-billing/internal/payment/reconcile"
	"github.com/tair/reseller-billing/pkg/logger"
	"github.com/tair/reseller-billing/pkg/ratelimit"
)

// RefreshStatusCommand polls the gateway for the record behind Reference,
// which is an external reference or an order number
type RefreshStatusCommand struct {
	Reference string
	// Force skips the per-record throttle (admin)
	Force bool
	// StoredOnly returns the persisted status without asking the gateway
	StoredOnly bool
}

// StatusView is the stored record plus how fresh it is
type StatusView struct {
	Record    *domain.PaymentRecord `json:"record"`
	Refreshed bool                  `json:"refreshed"`
	// Stale is set when the gateway could not be asked and the stored status is served
	Stale bool `json:"stale"`
}

// RefreshStatusHandler handles refresh status command
type RefreshStatusHandler struct {
	repo        domain.PaymentRepository
	gateways    gateway.Provider
	coordinator *reconcile.Coordinator
	throttle    *ratelimit.RateLimiter
}

// NewRefreshStatusHandler creates a new refresh status handler. throttle may be nil.
func NewRefreshStatusHandler(repo domain.PaymentRepository, gateways gateway.Provider, coordinator *reconcile.Coordinator, throttle *ratelimit.RateLimiter) *RefreshStatusHandler {
	return &RefreshStatusHandler{repo: repo, gateways: gateways, coordinator: coordinator, throttle: throttle}
}

// Handle executes the refresh status command. Gateway failures never surface:
// the stored status is returned and marked stale.
func (h *RefreshStatusHandler) Handle(ctx context.Context, cmd RefreshStatusCommand) (*StatusView, error) {
	record, err := h.repo.FindByAnyExternalRef(ctx, cmd.Reference)
	if isNotFound(err) {
		record, err = h.repo.FindByOrderNumber(ctx, cmd.Reference)
	}
	if err != nil {
		return nil, err
	}

	view := &StatusView{Record: record}
	if cmd.StoredOnly || record.IsCompleted() || record.ExternalRef == "" {
		return view, nil
	}

	if !cmd.Force {
		allowed, _, _, err := h.throttle.Allow(ctx, record.OrderNumber)
		if err != nil {
			logger.Warn(ctx).Err(err).Str("order_number", record.OrderNumber).Msg("Status throttle unavailable")
		} else if !allowed {
			return view, nil
		}
	}

	adapter, _, err := h.gateways.Adapter(ctx, record.Gateway)
	if err != nil {
		logger.Warn(ctx).Err(err).Str("gateway", string(record.Gateway)).Msg("Gateway not usable for status refresh")
		view.Stale = true
		return view, nil
	}

	native, err := adapter.GetStatus(ctx, record.ExternalRef)
	if err != nil {
		ev := logger.Warn(ctx)
		if errors.Is(err, domain.ErrUnsupported) {
			ev = logger.Debug(ctx)
		}
		ev.Err(err).
			Str("gateway", string(record.Gateway)).
			Str("external_ref", record.ExternalRef).
			Msg("Status refresh failed, serving stored status")
		view.Stale = true
		return view, nil
	}

	target, known := adapter.MapNativeStatus(native)
	if !known {
		target = record.Status
	}

	res, err := h.coordinator.Apply(ctx, record, target, reconcile.Update{
		NativeStatus: native,
		Source:       reconcile.SourcePoll,
	})
	if err != nil {
		return nil, err
	}

	view.Record = res.Record
	view.Refreshed = true
	return view, nil
}
