package query

import (
	"context"

	"github.com/tair/reseller-billing/internal/payment/domain"
)

// GetPaymentQuery represents the query to get a payment record
type GetPaymentQuery struct {
	ID uint
}

// GetPaymentHandler handles get payment query
type GetPaymentHandler struct {
	repo domain.PaymentRepository
}

// NewGetPaymentHandler creates a new get payment handler
func NewGetPaymentHandler(repo domain.PaymentRepository) *GetPaymentHandler {
	return &GetPaymentHandler{repo: repo}
}

// Handle executes the get payment query
func (h *GetPaymentHandler) Handle(ctx context.Context, query GetPaymentQuery) (*domain.PaymentRecord, error) {
	if query.ID == 0 {
		return nil, domain.NewValidationError("id", "is required")
	}
	return h.repo.FindByID(ctx, query.ID)
}
