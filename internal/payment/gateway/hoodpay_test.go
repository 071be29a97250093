package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tair/reseller-billing/internal/payment/domain"
)

func TestHoodPayCreatePayment(t *testing.T) {
	cred := &domain.GatewayCredential{APIKey: "hp-key", MerchantID: "biz-7"}
	a := newTestAdapter(t, domain.GatewayHoodPay, cred, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/businesses/biz-7/payments", r.URL.Path)
		assert.Equal(t, "Bearer hp-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 25.5, body["amount"])
		assert.Equal(t, "https://pay.example.com/webhooks/test?order=ORD-ABC12345", body["notifyUrl"])

		w.Write([]byte(`{"data":{"id":12345,"url":"https://checkout.hoodpay.io/12345"}}`))
	})

	res, err := a.CreatePayment(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, "12345", res.ExternalRef)
	assert.Equal(t, "pending", res.NativeStatus)
}

func TestHoodPayWebhook(t *testing.T) {
	a := newTestAdapter(t, domain.GatewayHoodPay, &domain.GatewayCredential{}, nil)
	body := []byte(`{"event":"payment:completed","data":{"paymentId":12345,"endAmount":25.5,"currency":"USD","metadata":{"order_number":"ORD-ABC12345"}}}`)
	header := http.Header{}
	header.Set("X-Hoodpay-Signature", hmacSHA256Hex("whsec", body))

	n, err := a.ParseWebhook(&WebhookRequest{Header: header, Body: body})
	require.NoError(t, err)
	assert.Equal(t, "12345", n.ExternalRef)
	assert.Equal(t, "ORD-ABC12345", n.OrderNumber)
	assert.Equal(t, "completed", n.NativeStatus)
	assert.Equal(t, "25.5", n.Amount.String())

	assert.True(t, a.VerifyWebhookSignature(n.SignedPayload, n.Signature, "whsec"))
	tampered := append([]byte{}, body...)
	tampered[len(tampered)-2] = ' '
	assert.False(t, a.VerifyWebhookSignature(tampered, n.Signature, "whsec"))
}
