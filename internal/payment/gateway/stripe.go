package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/tair/reseller-billing/internal/payment/domain"
)

// stripeCheckout uses hosted Checkout Sessions. The session id is the external ref.
type stripeCheckout struct {
	statusMapper
	remote *remote
	api    *client.API
}

func newStripe(cred *domain.GatewayCredential, r *remote) *stripeCheckout {
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient:        r.client,
		URL:               stripe.String(r.baseURL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	})
	return &stripeCheckout{
		statusMapper: statusMapper{gateway: domain.GatewayStripe},
		remote:       r,
		api:          client.New(cred.APIKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend}),
	}
}

func (s *stripeCheckout) Verification() Verification {
	return VerifyHMAC
}

// classify keeps Stripe's 4xx answers as client errors and everything else as unavailable
func classifyStripe(err error) error {
	if err == nil {
		return nil
	}
	var se *stripe.Error
	if errors.As(err, &se) && se.HTTPStatusCode >= 400 && se.HTTPStatusCode < 500 {
		return fmt.Errorf("stripe rejected request: %w", err)
	}
	return fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, err)
}

func (s *stripeCheckout) CreatePayment(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.OrderNumber),
		SuccessURL:        stripe.String(firstNonEmpty(req.SuccessURL, req.CallbackURL)),
		CancelURL:         stripe.String(firstNonEmpty(req.CancelURL, req.CallbackURL)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(strings.ToLower(req.Currency)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(firstNonEmpty(req.Description, req.OrderNumber)),
				},
				UnitAmount: stripe.Int64(req.Amount.Shift(2).Round(0).IntPart()),
			},
			Quantity: stripe.Int64(1),
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"order_number": req.OrderNumber},
		},
	}
	params.Context = ctx
	params.AddMetadata("order_number", req.OrderNumber)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}

	var sess *stripe.CheckoutSession
	err := s.remote.call(ctx, "create_payment", func(ctx context.Context) error {
		params.Context = ctx
		var err error
		sess, err = s.api.CheckoutSessions.New(params)
		return classifyStripe(err)
	})
	if err != nil {
		return nil, err
	}

	return &CreateResult{
		ExternalRef:  sess.ID,
		CheckoutURL:  sess.URL,
		NativeStatus: firstNonEmpty(string(sess.Status), "open"),
	}, nil
}

// GetStatus reports a paid session with its completion event name so both
// webhook and poll paths resolve through the same table
func (s *stripeCheckout) GetStatus(ctx context.Context, externalRef string) (string, error) {
	var sess *stripe.CheckoutSession
	err := s.remote.call(ctx, "get_status", func(ctx context.Context) error {
		params := &stripe.CheckoutSessionParams{}
		params.Context = ctx
		var err error
		sess, err = s.api.CheckoutSessions.Get(externalRef, params)
		return classifyStripe(err)
	})
	if err != nil {
		return "", err
	}

	switch {
	case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return "checkout.session.completed", nil
	case sess.Status == stripe.CheckoutSessionStatusExpired:
		return "checkout.session.expired", nil
	}
	return string(sess.Status), nil
}

func (s *stripeCheckout) VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	return webhook.ValidatePayload(payload, signature, secret) == nil
}

// VerifyWebhookRequest checks the Stripe-Signature header against the raw body
func (s *stripeCheckout) VerifyWebhookRequest(req *WebhookRequest, secret string) bool {
	return s.VerifyWebhookSignature(req.Body, req.Header.Get("Stripe-Signature"), secret)
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID                string            `json:"id"`
			Object            string            `json:"object"`
			ClientReferenceID string            `json:"client_reference_id"`
			AmountTotal       *int64            `json:"amount_total"`
			Amount            *int64            `json:"amount"`
			Currency          string            `json:"currency"`
			PaymentStatus     string            `json:"payment_status"`
			PaymentIntent     any               `json:"payment_intent"`
			Metadata          map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// ParseWebhook only rejects bodies that are not Stripe events. Events about
// objects this service never created (refunds, intents made outside Checkout)
// come back without references and resolve to no record.
func (s *stripeCheckout) ParseWebhook(req *WebhookRequest) (*Notification, error) {
	var evt stripeEvent
	if err := json.Unmarshal(req.Body, &evt); err != nil {
		return nil, invalidPayload("malformed JSON: %v", err)
	}
	if evt.Type == "" {
		return nil, invalidPayload("missing event type")
	}
	obj := evt.Data.Object

	native := evt.Type
	// card sessions are paid on completion; async methods settle later
	if evt.Type == "checkout.session.completed" && obj.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusUnpaid) {
		native = string(stripe.CheckoutSessionStatusComplete)
	}

	n := &Notification{
		OrderNumber:  firstNonEmpty(obj.ClientReferenceID, obj.Metadata["order_number"]),
		NativeStatus: native,
		Currency:     strings.ToUpper(obj.Currency),
		Fields: map[string]any{
			"event_id":   evt.ID,
			"event_type": evt.Type,
		},
		SignedPayload: req.Body,
		Signature:     req.Header.Get("Stripe-Signature"),
	}
	// payment_intent events carry the intent id, which is not the stored session id
	switch {
	case obj.Object == "checkout.session" || strings.HasPrefix(evt.Type, "checkout.session."):
		n.ExternalRef = obj.ID
	case obj.Object == "payment_intent" || strings.HasPrefix(evt.Type, "payment_intent."):
		n.Fields["payment_intent"] = obj.ID
	case obj.ID != "":
		n.Fields["object_id"] = obj.ID
	}
	if pi, ok := obj.PaymentIntent.(string); ok && pi != "" {
		n.Fields["payment_intent"] = pi
	}

	cents := obj.AmountTotal
	if cents == nil {
		cents = obj.Amount
	}
	if cents != nil {
		d := decimal.New(*cents, -2)
		n.Amount = &d
	}
	return n, nil
}
