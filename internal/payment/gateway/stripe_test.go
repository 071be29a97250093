package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tair/reseller-billing/internal/payment/domain"
)

func stripeSignatureHeader(payload []byte, secret string, ts time.Time) string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	sig := hmacSHA256Hex(secret, []byte(unix+"."+string(payload)))
	return fmt.Sprintf("t=%s,v1=%s", unix, sig)
}

func TestStripeCreateCheckoutSession(t *testing.T) {
	a := newTestAdapter(t, domain.GatewayStripe, &domain.GatewayCredential{APIKey: "sk_test_123"}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "ORD-ABC12345", r.PostForm.Get("client_reference_id"))
		assert.Equal(t, "2550", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
		assert.Equal(t, "ORD-ABC12345", r.PostForm.Get("metadata[order_number]"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_1","status":"open","payment_status":"unpaid"}`))
	})

	res, err := a.CreatePayment(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", res.ExternalRef)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", res.CheckoutURL)
	assert.Equal(t, "open", res.NativeStatus)
}

func TestStripeGetStatusReportsPaidAsCompletion(t *testing.T) {
	a := newTestAdapter(t, domain.GatewayStripe, &domain.GatewayCredential{APIKey: "sk_test_123"}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions/cs_test_1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","status":"complete","payment_status":"paid"}`))
	})

	native, err := a.GetStatus(context.Background(), "cs_test_1")
	require.NoError(t, err)
	status, _ := a.MapNativeStatus(native)
	assert.Equal(t, domain.StatusCompleted, status)
}

func TestStripeWebhook(t *testing.T) {
	a := newTestAdapter(t, domain.GatewayStripe, &domain.GatewayCredential{}, nil)
	body := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_test_1","object":"checkout.session","client_reference_id":"ORD-ABC12345","amount_total":2550,"currency":"usd","payment_status":"paid","payment_intent":"pi_1"}}}`)
	header := http.Header{}
	header.Set("Stripe-Signature", stripeSignatureHeader(body, "whsec_test", time.Now()))

	n, err := a.ParseWebhook(&WebhookRequest{Method: http.MethodPost, Header: header, Body: body})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", n.ExternalRef)
	assert.Equal(t, "ORD-ABC12345", n.OrderNumber)
	assert.Equal(t, "25.5", n.Amount.String())
	assert.Equal(t, "pi_1", n.Fields["payment_intent"])

	assert.True(t, a.VerifyWebhookSignature(n.SignedPayload, n.Signature, "whsec_test"))
	assert.False(t, a.VerifyWebhookSignature(n.SignedPayload, n.Signature, "whsec_other"))

	stale := stripeSignatureHeader(body, "whsec_test", time.Now().Add(-time.Hour))
	assert.False(t, a.VerifyWebhookSignature(body, stale, "whsec_test"))
}

func TestStripeUnpaidCompletedSessionIsConfirming(t *testing.T) {
	a := newTestAdapter(t, domain.GatewayStripe, &domain.GatewayCredential{}, nil)
	body := []byte(`{"id":"evt_2","type":"checkout.session.completed","data":{"object":{"id":"cs_test_2","object":"checkout.session","payment_status":"unpaid"}}}`)

	n, err := a.ParseWebhook(&WebhookRequest{Body: body})
	require.NoError(t, err)
	status, _ := a.MapNativeStatus(n.NativeStatus)
	assert.Equal(t, domain.StatusConfirming, status)
}

func TestStripeUntrackedEventHasNoReference(t *testing.T) {
	a := newTestAdapter(t, domain.GatewayStripe, &domain.GatewayCredential{}, nil)
	body := []byte(`{"id":"evt_3","type":"charge.refunded","data":{"object":{"id":"ch_1","object":"charge"}}}`)
	header := http.Header{}
	header.Set("Stripe-Signature", stripeSignatureHeader(body, "whsec_test", time.Now()))
	req := &WebhookRequest{Method: http.MethodPost, Header: header, Body: body}

	rv, ok := a.(RequestVerifier)
	require.True(t, ok)
	assert.True(t, rv.VerifyWebhookRequest(req, "whsec_test"))
	assert.False(t, rv.VerifyWebhookRequest(req, "whsec_other"))

	n, err := a.ParseWebhook(req)
	require.NoError(t, err)
	assert.Empty(t, n.ExternalRef)
	assert.Empty(t, n.OrderNumber)
	assert.Equal(t, "ch_1", n.Fields["object_id"])

	_, err = a.ParseWebhook(&WebhookRequest{Body: []byte(`{"id":"evt_4","data":{}}`)})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = a.ParseWebhook(&WebhookRequest{Body: []byte(`{"id":`)})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestStripePaymentIntentEventKeepsIntentID(t *testing.T) {
	a := newTestAdapter(t, domain.GatewayStripe, &domain.GatewayCredential{}, nil)
	body := []byte(`{"id":"evt_5","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_9","object":"payment_intent","metadata":{"order_number":"ORD-ABC12345"}}}}`)

	n, err := a.ParseWebhook(&WebhookRequest{Body: body})
	require.NoError(t, err)
	assert.Empty(t, n.ExternalRef)
	assert.Equal(t, "ORD-ABC12345", n.OrderNumber)
	assert.Equal(t, "pi_9", n.Fields["payment_intent"])
}
