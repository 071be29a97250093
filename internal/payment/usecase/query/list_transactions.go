package query

import (
	"context"
	"fmt"

	"github.com/tair/reseller-billing/internal/payment/domain"
)

// ListTransactionsQuery represents the query to get a user's own ledger
type ListTransactionsQuery struct {
	UserID uint
	Limit  int
	Offset int
}

// ListTransactionsHandler handles list transactions query
type ListTransactionsHandler struct {
	users domain.UserRepository
}

// NewListTransactionsHandler creates a new list transactions handler
func NewListTransactionsHandler(users domain.UserRepository) *ListTransactionsHandler {
	return &ListTransactionsHandler{users: users}
}

// Handle executes the list transactions query
func (h *ListTransactionsHandler) Handle(ctx context.Context, query ListTransactionsQuery) ([]domain.BalanceTransaction, error) {
	if query.UserID == 0 {
		return nil, domain.NewValidationError("user_id", "is required")
	}
	query.Limit, query.Offset = page(query.Limit, query.Offset)

	txns, err := h.users.ListTransactions(ctx, query.UserID, query.Limit, query.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txns, nil
}
