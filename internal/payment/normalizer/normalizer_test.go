package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tair/reseller-billing/internal/payment/domain"
)

func TestMap(t *testing.T) {
	tests := []struct {
		gateway domain.Gateway
		native  string
		want    domain.CanonicalStatus
	}{
		{domain.GatewayStripe, "checkout.session.completed", domain.StatusCompleted},
		{domain.GatewayStripe, "payment_intent.payment_failed", domain.StatusFailed},
		{domain.GatewayStripe, "checkout.session.expired", domain.StatusExpired},
		{domain.GatewayPayGate, "paid", domain.StatusCompleted},
		{domain.GatewayPayGate, "unpaid", domain.StatusPending},
		{domain.GatewayNOWPayments, "finished", domain.StatusCompleted},
		{domain.GatewayNOWPayments, "confirmed", domain.StatusCompleted},
		{domain.GatewayNOWPayments, "expired", domain.StatusExpired},
		{domain.GatewayNOWPayments, "partially_paid", domain.StatusConfirming},
		{domain.GatewayCryptomus, "paid", domain.StatusCompleted},
		{domain.GatewayCryptomus, "paid_over", domain.StatusCompleted},
		{domain.GatewayCryptomus, "wrong_amount", domain.StatusConfirming},
		{domain.GatewayCryptomus, "cancel", domain.StatusCancelled},
		{domain.GatewayPlisio, "Pending Internal", domain.StatusConfirming},
		{domain.GatewayHoodPay, "COMPLETED", domain.StatusCompleted},
		{domain.GatewayChangeNow, "finished", domain.StatusCompleted},
		{domain.GatewayVolet, "COMPLETED", domain.StatusCompleted},
	}

	for _, tt := range tests {
		t.Run(string(tt.gateway)+"/"+tt.native, func(t *testing.T) {
			got, ok := Map(tt.gateway, tt.native)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEveryGatewayHasATable(t *testing.T) {
	for _, g := range domain.Gateways {
		assert.NotEmpty(t, tables[g], "missing table for %s", g)
	}
}

func TestResolveUnknownKeepsCurrent(t *testing.T) {
	assert.Equal(t, domain.StatusConfirming, Resolve(domain.GatewayCryptomus, "refund_process", domain.StatusConfirming))
	assert.Equal(t, domain.StatusPending, Resolve(domain.GatewayPayGate, "", domain.StatusPending))
	assert.Equal(t, domain.StatusExpired, Resolve(domain.Gateway("unknown"), "paid", domain.StatusExpired))
}
