package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/tair/reseller-billing/internal/payment/domain"
)

const voletSCIURL = "https://account.volet.com/sci/"

// voletHashFields is the order of the colon-joined fields covered by ac_hash
var voletHashFields = []string{
	"ac_transfer",
	"ac_start_date",
	"ac_sci_name",
	"ac_src_wallet",
	"ac_dest_wallet",
	"ac_order_id",
	"ac_amount",
	"ac_merchant_currency",
}

// volet is a wallet SCI: the checkout link is signed locally and the status
// notification arrives as a signed GET with the payment in query parameters.
type volet struct {
	statusMapper
	sciURL   string
	email    string
	sciName  string
	password string
}

func newVolet(cred *domain.GatewayCredential, r *remote) *volet {
	return &volet{
		statusMapper: statusMapper{gateway: domain.GatewayVolet},
		sciURL:       r.baseURL,
		email:        cred.MerchantID,
		sciName:      cred.ExtraString("sci_name", ""),
		password:     cred.APISecret,
	}
}

func (v *volet) Verification() Verification {
	return VerifyHMAC
}

func (v *volet) CreatePayment(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if v.email == "" || v.sciName == "" || v.password == "" {
		return nil, fmt.Errorf("volet SCI credentials are incomplete")
	}

	amt := req.Amount.StringFixed(2)
	currency := strings.ToUpper(req.Currency)
	sign := sha256Hex(strings.Join([]string{v.email, v.sciName, amt, currency, v.password, req.OrderNumber}, ":"))

	q := url.Values{}
	q.Set("ac_account_email", v.email)
	q.Set("ac_sci_name", v.sciName)
	q.Set("ac_amount", amt)
	q.Set("ac_currency", currency)
	q.Set("ac_order_id", req.OrderNumber)
	q.Set("ac_sign", sign)
	q.Set("ac_status_url", req.CallbackURL)
	q.Set("ac_status_url_method", "GET")
	if req.SuccessURL != "" {
		q.Set("ac_success_url", req.SuccessURL)
	}
	if req.CancelURL != "" {
		q.Set("ac_fail_url", req.CancelURL)
	}
	if req.Description != "" {
		q.Set("ac_comments", req.Description)
	}

	return &CreateResult{
		ExternalRef:  req.OrderNumber,
		CheckoutURL:  v.sciURL + "?" + q.Encode(),
		NativeStatus: "pending",
	}, nil
}

// GetStatus is not offered by the SCI; callers fall back to the stored status
func (v *volet) GetStatus(ctx context.Context, externalRef string) (string, error) {
	return "", fmt.Errorf("%w: volet: %w", domain.ErrGatewayUnavailable, domain.ErrUnsupported)
}

// VerifyWebhookSignature recomputes ac_hash from the raw callback query
func (v *volet) VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	values, err := url.ParseQuery(string(payload))
	if err != nil || secret == "" {
		return false
	}
	parts := make([]string, 0, len(voletHashFields)+1)
	for _, key := range voletHashFields {
		parts = append(parts, values.Get(key))
	}
	parts = append(parts, secret)
	return equalHex(sha256Hex(strings.Join(parts, ":")), signature)
}

func (v *volet) ParseWebhook(req *WebhookRequest) (*Notification, error) {
	q := req.Query
	if q.Get("ac_order_id") == "" {
		return nil, invalidPayload("missing ac_order_id")
	}
	if q.Get("ac_hash") == "" {
		return nil, invalidPayload("missing ac_hash")
	}

	fields := valuesToMap(q, "ac_transfer", "ac_start_date", "ac_src_wallet", "ac_dest_wallet", "ac_buyer_email", "ac_fee_amount")
	return &Notification{
		ExternalRef:   q.Get("ac_order_id"),
		OrderNumber:   q.Get("ac_order_id"),
		NativeStatus:  firstNonEmpty(q.Get("ac_transaction_status"), "completed"),
		Amount:        amount(map[string]any{"a": q.Get("ac_amount")}, "a"),
		Currency:      q.Get("ac_merchant_currency"),
		Fields:        fields,
		SignedPayload: []byte(q.Encode()),
		Signature:     q.Get("ac_hash"),
	}, nil
}
