package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tair/reseller-billing/internal/payment/domain"
)

func TestCryptomusCreatePaymentSignsRequest(t *testing.T) {
	cred := &domain.GatewayCredential{MerchantID: "merchant-uuid", APIKey: "payment-key"}
	a := newTestAdapter(t, domain.GatewayCryptomus, cred, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "/v1/payment", r.URL.Path)
		assert.Equal(t, "merchant-uuid", r.Header.Get("merchant"))
		assert.Equal(t, cryptomusSign(body, "payment-key"), r.Header.Get("sign"))

		var req map[string]any
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "25.50", req["amount"])
		assert.Equal(t, "ORD-ABC12345", req["order_id"])

		w.Write([]byte(`{"state":0,"result":{"uuid":"inv-1","order_id":"ORD-ABC12345","url":"https://pay.cryptomus.com/pay/inv-1","payment_status":"check"}}`))
	})

	res, err := a.CreatePayment(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, "inv-1", res.ExternalRef)
	assert.Equal(t, "https://pay.cryptomus.com/pay/inv-1", res.CheckoutURL)
	assert.Equal(t, "check", res.NativeStatus)
}

func TestCryptomusRejectsInvalidAmountWithoutCalling(t *testing.T) {
	called := false
	a := newTestAdapter(t, domain.GatewayCryptomus, &domain.GatewayCredential{}, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	req := validRequest()
	req.Amount = req.Amount.Neg()

	_, err := a.CreatePayment(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.False(t, called)
}

func TestCryptomusWebhook(t *testing.T) {
	a := newTestAdapter(t, domain.GatewayCryptomus, &domain.GatewayCredential{}, nil)
	unsigned := `{"type":"payment","uuid":"inv-1","order_id":"ORD-ABC12345","amount":"25.50","currency":"USD","status":"paid","txid":"0xabc"}`
	sign := cryptomusSign([]byte(unsigned), "payment-key")
	body := unsigned[:len(unsigned)-1] + `,"sign":"` + sign + `"}`

	n, err := a.ParseWebhook(&WebhookRequest{Method: http.MethodPost, Body: []byte(body)})
	require.NoError(t, err)
	assert.Equal(t, "inv-1", n.ExternalRef)
	assert.Equal(t, "ORD-ABC12345", n.OrderNumber)
	assert.Equal(t, "paid", n.NativeStatus)
	assert.Equal(t, "25.5", n.Amount.String())
	assert.Equal(t, "0xabc", n.Fields["txid"])

	assert.True(t, a.VerifyWebhookSignature(n.SignedPayload, n.Signature, "payment-key"))
	assert.False(t, a.VerifyWebhookSignature(n.SignedPayload, n.Signature, "other-key"))

	status, known := a.MapNativeStatus(n.NativeStatus)
	assert.True(t, known)
	assert.Equal(t, domain.StatusCompleted, status)
}

func TestCryptomusWebhookRequiresSign(t *testing.T) {
	a := newTestAdapter(t, domain.GatewayCryptomus, &domain.GatewayCredential{}, nil)
	_, err := a.ParseWebhook(&WebhookRequest{Body: []byte(`{"uuid":"inv-1","status":"paid"}`)})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = a.ParseWebhook(&WebhookRequest{Body: []byte(`not json`)})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
