// Package gateway talks to the external payment providers. Every provider is a
// variant behind the Adapter interface, selected by domain.Gateway in the Registry.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/tair/reseller-billing/internal/payment/domain"
	"github.com/tair/reseller-billing/internal/payment/normalizer"
)

// Verification describes how strongly an adapter can authenticate a webhook
type Verification string

const (
	// VerifyHMAC recomputes a keyed digest over the delivered payload
	VerifyHMAC Verification = "hmac"
	// VerifySharedSecret compares a secret echoed back in a header
	VerifySharedSecret Verification = "shared_secret"
	// VerifyPresenceOnly only checks that the expected parameters are present.
	// It does not prove the request came from the provider.
	VerifyPresenceOnly Verification = "presence_only"
)

// Adapter is implemented once per payment provider
type Adapter interface {
	Kind() domain.Gateway
	Verification() Verification

	// CreatePayment registers a payment with the provider. Nothing is persisted locally.
	CreatePayment(ctx context.Context, req CreateRequest) (*CreateResult, error)

	// GetStatus returns the provider's native status. Failures wrap domain.ErrGatewayUnavailable.
	GetStatus(ctx context.Context, externalRef string) (string, error)

	VerifyWebhookSignature(payload []byte, signature, secret string) bool

	// ParseWebhook extracts the notification and the exact bytes the signature covers
	ParseWebhook(req *WebhookRequest) (*Notification, error)

	MapNativeStatus(native string) (domain.CanonicalStatus, bool)
}

// RequestVerifier is implemented by adapters whose signature covers the raw
// request, so it can be checked before the payload is interpreted
type RequestVerifier interface {
	VerifyWebhookRequest(req *WebhookRequest, secret string) bool
}

// RecordMatcher is implemented by adapters that cannot authenticate a callback
// and instead check it against the fields stored when the payment was created
type RecordMatcher interface {
	MatchesRecord(n *Notification, stored map[string]any) bool
}

// CreateRequest is the provider-independent payment creation input
type CreateRequest struct {
	Amount        decimal.Decimal
	Currency      string `json:"currency" validate:"required,min=3,max=10"`
	Description   string `json:"description" validate:"max=255"`
	OrderNumber   string `json:"order_number" validate:"required"`
	CallbackURL   string `json:"callback_url" validate:"required,url"`
	SuccessURL    string `json:"success_url" validate:"omitempty,url"`
	CancelURL     string `json:"cancel_url" validate:"omitempty,url"`
	CustomerEmail string `json:"customer_email" validate:"omitempty,email"`
	// PurchaseID links a follow-up invoice to an earlier purchase where the provider supports it
	PurchaseID string
	Metadata   map[string]string
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the amount is positive and every URL is absolute
func (r CreateRequest) Validate() error {
	if !r.Amount.IsPositive() {
		return domain.NewValidationError("amount", "must be greater than zero")
	}
	if err := validate.Struct(r); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return domain.NewValidationError(fe.Field(), fmt.Sprintf("failed %q check", fe.Tag()))
		}
		return domain.NewValidationError("", err.Error())
	}
	for field, raw := range map[string]string{
		"callback_url": r.CallbackURL,
		"success_url":  r.SuccessURL,
		"cancel_url":   r.CancelURL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return domain.NewValidationError(field, "must be an absolute URL")
		}
	}
	return nil
}

// CreateResult is what the provider returned for a new payment
type CreateResult struct {
	ExternalRef  string
	CheckoutURL  string
	NativeStatus string
	PurchaseID   string
	Fields       map[string]any
}

// WebhookRequest is the transport-neutral view of an inbound callback
type WebhookRequest struct {
	Method string
	Header http.Header
	Query  url.Values
	Body   []byte
}

// Notification is a parsed webhook delivery
type Notification struct {
	ExternalRef  string
	OrderNumber  string
	PurchaseID   string
	NativeStatus string
	Amount       *decimal.Decimal
	Currency     string
	Fields       map[string]any

	// SignedPayload and Signature are passed to VerifyWebhookSignature
	SignedPayload []byte
	Signature     string
}

// statusMapper gives every adapter the normalizer table for its gateway
type statusMapper struct {
	gateway domain.Gateway
}

func (m statusMapper) Kind() domain.Gateway {
	return m.gateway
}

func (m statusMapper) MapNativeStatus(native string) (domain.CanonicalStatus, bool) {
	return normalizer.Map(m.gateway, native)
}

func invalidPayload(reason string, args ...any) error {
	return domain.NewValidationError("payload", fmt.Sprintf(reason, args...))
}
