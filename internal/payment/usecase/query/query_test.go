package query

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tair/reseller-billing/internal/payment/domain"
	"github.com/tair/reseller-billing/internal/testutil"
)

func TestPage(t *testing.T) {
	tests := []struct {
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{0, 0, 10, 0},
		{500, 5, 100, 5},
		{25, -3, 25, 0},
	}
	for _, tt := range tests {
		l, o := page(tt.limit, tt.offset)
		assert.Equal(t, tt.wantLimit, l)
		assert.Equal(t, tt.wantOffset, o)
	}
}

func TestListPayments(t *testing.T) {
	ctx := context.Background()
	repo := testutil.NewPaymentStore()
	for i := 0; i < 15; i++ {
		require.NoError(t, repo.Create(ctx, &domain.PaymentRecord{OrderNumber: fmt.Sprintf("ORD-%02d", i)}))
	}

	records, err := NewListPaymentsHandler(repo).Handle(ctx, ListPaymentsQuery{})
	require.NoError(t, err)
	assert.Len(t, records, 10)
	assert.Equal(t, "ORD-14", records[0].OrderNumber)
}

func TestGetPayment(t *testing.T) {
	ctx := context.Background()
	repo := testutil.NewPaymentStore()
	rec := &domain.PaymentRecord{OrderNumber: "ORD-X"}
	require.NoError(t, repo.Create(ctx, rec))

	h := NewGetPaymentHandler(repo)
	got, err := h.Handle(ctx, GetPaymentQuery{ID: rec.ID})
	require.NoError(t, err)
	assert.Equal(t, "ORD-X", got.OrderNumber)

	_, err = h.Handle(ctx, GetPaymentQuery{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = h.Handle(ctx, GetPaymentQuery{ID: 99})
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestListTransactions(t *testing.T) {
	ctx := context.Background()
	users := testutil.NewUserStore()
	u := users.Add(&domain.User{Email: "t@example.com"})
	_, err := users.ApplyLedgerEntry(ctx, domain.LedgerEntry{UserID: u.ID, Type: domain.TxDeposit, Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)

	txns, err := NewListTransactionsHandler(users).Handle(ctx, ListTransactionsQuery{UserID: u.ID})
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.True(t, txns[0].NewBalance.Equal(decimal.NewFromInt(5)))
}
