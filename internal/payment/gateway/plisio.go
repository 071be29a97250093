package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tair/reseller-billing/internal/payment/domain"
)

const plisioBaseURL = "https://api.plisio.net/api/v1"

type plisio struct {
	statusMapper
	remote *remote
	apiKey string
}

func newPlisio(cred *domain.GatewayCredential, r *remote) *plisio {
	return &plisio{
		statusMapper: statusMapper{gateway: domain.GatewayPlisio},
		remote:       r,
		apiKey:       cred.APIKey,
	}
}

func (p *plisio) Verification() Verification {
	return VerifyHMAC
}

type plisioResponse struct {
	Status string `json:"status"`
	Data   struct {
		TxnID           string `json:"txn_id"`
		InvoiceURL      string `json:"invoice_url"`
		InvoiceTotalSum string `json:"invoice_total_sum"`
		Status          string `json:"status"`
		Message         string `json:"message"`
	} `json:"data"`
}

func (p *plisio) get(ctx context.Context, op, path string, q url.Values) (*plisioResponse, error) {
	q.Set("api_key", p.apiKey)
	var resp plisioResponse
	err := p.remote.call(ctx, op, func(ctx context.Context) error {
		return p.remote.doJSON(ctx, http.MethodGet, path+"?"+q.Encode(), nil, nil, &resp)
	})
	if err != nil {
		return nil, err
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("plisio %s rejected: %s", op, resp.Data.Message)
	}
	return &resp, nil
}

func (p *plisio) CreatePayment(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// json=true makes Plisio post JSON callbacks instead of form data
	callback, err := url.Parse(req.CallbackURL)
	if err != nil {
		return nil, domain.NewValidationError("callback_url", err.Error())
	}
	cq := callback.Query()
	cq.Set("json", "true")
	callback.RawQuery = cq.Encode()

	q := url.Values{}
	q.Set("source_currency", req.Currency)
	q.Set("source_amount", req.Amount.StringFixed(2))
	q.Set("order_number", req.OrderNumber)
	q.Set("order_name", firstNonEmpty(req.Description, req.OrderNumber))
	q.Set("callback_url", callback.String())
	if req.SuccessURL != "" {
		q.Set("success_invoice_url", req.SuccessURL)
	}
	if req.CancelURL != "" {
		q.Set("fail_invoice_url", req.CancelURL)
	}
	if req.CustomerEmail != "" {
		q.Set("email", req.CustomerEmail)
	}

	resp, err := p.get(ctx, "create_payment", "/invoices/new", q)
	if err != nil {
		return nil, err
	}
	if resp.Data.TxnID == "" {
		return nil, fmt.Errorf("plisio returned no transaction id for order %s", req.OrderNumber)
	}

	return &CreateResult{
		ExternalRef:  resp.Data.TxnID,
		CheckoutURL:  resp.Data.InvoiceURL,
		NativeStatus: "new",
		Fields: map[string]any{
			"invoice_total_sum": resp.Data.InvoiceTotalSum,
		},
	}, nil
}

func (p *plisio) GetStatus(ctx context.Context, externalRef string) (string, error) {
	resp, err := p.get(ctx, "get_status", "/operations/"+url.PathEscape(externalRef), url.Values{})
	if err != nil {
		return "", err
	}
	return resp.Data.Status, nil
}

// VerifyWebhookSignature expects payload to be the raw body without verify_hash
func (p *plisio) VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	return equalHex(hmacSHA1Hex(secret, payload), signature)
}

func (p *plisio) ParseWebhook(req *WebhookRequest) (*Notification, error) {
	m, err := decodeObject(req.Body)
	if err != nil {
		return nil, err
	}
	signed, hash, ok := stripJSONField(req.Body, "verify_hash")
	if !ok {
		return nil, invalidPayload("missing verify_hash")
	}

	n := &Notification{
		ExternalRef:   str(m, "txn_id"),
		OrderNumber:   str(m, "order_number"),
		NativeStatus:  str(m, "status"),
		Amount:        amount(m, "source_amount"),
		Currency:      str(m, "source_currency"),
		Fields:        pick(m, "amount", "currency", "psys_cid", "confirmations", "tx_urls", "pending_amount", "comment"),
		SignedPayload: signed,
		Signature:     hash,
	}
	if n.ExternalRef == "" && n.OrderNumber == "" {
		return nil, invalidPayload("missing txn_id and order_number")
	}
	if n.NativeStatus == "" {
		return nil, invalidPayload("missing status")
	}
	return n, nil
}
