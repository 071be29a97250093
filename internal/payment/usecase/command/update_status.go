package command

import (
	"context"
	"fmt"

	"github.com/tair/reseller-billing/internal/payment/domain"
	"github.com/tair/reseller-billing/internal/payment/reconcile"
)

// UpdateStatusCommand represents an admin status override
type UpdateStatusCommand struct {
	PaymentID uint
	Status    string
	AdminID   uint
	Note      string
}

// UpdateStatusHandler handles update status command. Overrides go through the
// coordinator so an admin completion and a webhook cannot both credit the user.
type UpdateStatusHandler struct {
	repo        domain.PaymentRepository
	coordinator *reconcile.Coordinator
}

// NewUpdateStatusHandler creates a new update status handler
func NewUpdateStatusHandler(repo domain.PaymentRepository, coordinator *reconcile.Coordinator) *UpdateStatusHandler {
	return &UpdateStatusHandler{repo: repo, coordinator: coordinator}
}

// Handle executes the update status command
func (h *UpdateStatusHandler) Handle(ctx context.Context, cmd UpdateStatusCommand) (*reconcile.Result, error) {
	if cmd.PaymentID == 0 {
		return nil, domain.NewValidationError("payment_id", "is required")
	}

	status, err := domain.ParseCanonicalStatus(cmd.Status)
	if err != nil {
		return nil, err
	}

	record, err := h.repo.FindByID(ctx, cmd.PaymentID)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{"admin_status": string(status), "admin_id": cmd.AdminID}
	if cmd.Note != "" {
		fields["admin_note"] = cmd.Note
	}

	res, err := h.coordinator.Apply(ctx, record, status, reconcile.Update{
		Fields: fields,
		Source: reconcile.SourceAdmin,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update payment status: %w", err)
	}
	return res, nil
}
