package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tair/reseller-billing/internal/payment/domain"
)

const hoodpayBaseURL = "https://api.hoodpay.io/v1"

type hoodpay struct {
	statusMapper
	remote     *remote
	apiKey     string
	businessID string
}

func newHoodPay(cred *domain.GatewayCredential, r *remote) *hoodpay {
	return &hoodpay{
		statusMapper: statusMapper{gateway: domain.GatewayHoodPay},
		remote:       r,
		apiKey:       cred.APIKey,
		businessID:   cred.MerchantID,
	}
}

func (h *hoodpay) Verification() Verification {
	return VerifyHMAC
}

func (h *hoodpay) auth() http.Header {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+h.apiKey)
	return header
}

func (h *hoodpay) paymentsPath() string {
	return "/businesses/" + url.PathEscape(h.businessID) + "/payments"
}

type hoodpayPayment struct {
	Data struct {
		ID     any    `json:"id"`
		URL    string `json:"url"`
		Status string `json:"status"`
	} `json:"data"`
	Message string `json:"message"`
}

func (h *hoodpay) CreatePayment(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	amountFloat, _ := req.Amount.Round(2).Float64()
	body := map[string]any{
		"name":        firstNonEmpty(req.Description, req.OrderNumber),
		"description": req.OrderNumber,
		"currency":    strings.ToUpper(req.Currency),
		"amount":      amountFloat,
		"notifyUrl":   req.CallbackURL,
		"redirectUrl": req.SuccessURL,
		"metadata":    map[string]string{"order_number": req.OrderNumber},
	}
	if req.CustomerEmail != "" {
		body["customerEmail"] = req.CustomerEmail
	}

	var resp hoodpayPayment
	err := h.remote.call(ctx, "create_payment", func(ctx context.Context) error {
		return h.remote.doJSON(ctx, http.MethodPost, h.paymentsPath(), h.auth(), body, &resp)
	})
	if err != nil {
		return nil, err
	}
	id := str(map[string]any{"id": resp.Data.ID}, "id")
	if id == "" || resp.Data.URL == "" {
		return nil, fmt.Errorf("hoodpay returned an incomplete payment for order %s: %s", req.OrderNumber, resp.Message)
	}

	return &CreateResult{
		ExternalRef:  id,
		CheckoutURL:  resp.Data.URL,
		NativeStatus: firstNonEmpty(resp.Data.Status, "pending"),
	}, nil
}

func (h *hoodpay) GetStatus(ctx context.Context, externalRef string) (string, error) {
	var resp hoodpayPayment
	err := h.remote.call(ctx, "get_status", func(ctx context.Context) error {
		return h.remote.doJSON(ctx, http.MethodGet, h.paymentsPath()+"/"+url.PathEscape(externalRef), h.auth(), nil, &resp)
	})
	if err != nil {
		return "", err
	}
	return resp.Data.Status, nil
}

// VerifyWebhookSignature checks the X-Hoodpay-Signature HMAC-SHA256 over the raw body
func (h *hoodpay) VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	return equalHex(hmacSHA256Hex(secret, payload), signature)
}

func (h *hoodpay) ParseWebhook(req *WebhookRequest) (*Notification, error) {
	m, err := decodeObject(req.Body)
	if err != nil {
		return nil, err
	}
	data := m
	if inner := object(m, "data"); inner != nil {
		data = inner
	}

	// events look like "payment:completed"; an explicit status wins
	native := str(data, "status")
	if native == "" {
		event := str(m, "event", "type")
		if i := strings.LastIndex(event, ":"); i >= 0 {
			native = event[i+1:]
		}
	}

	var order string
	if meta := object(data, "metadata"); meta != nil {
		order = str(meta, "order_number")
	}

	n := &Notification{
		ExternalRef:   str(data, "paymentId", "id"),
		OrderNumber:   order,
		NativeStatus:  native,
		Amount:        amount(data, "endAmount", "amount"),
		Currency:      str(data, "currency"),
		Fields:        pick(data, "selectedPaymentMethod", "customerEmail", "endAmount"),
		SignedPayload: req.Body,
		Signature:     req.Header.Get("X-Hoodpay-Signature"),
	}
	if n.ExternalRef == "" {
		return nil, invalidPayload("missing payment id")
	}
	if n.NativeStatus == "" {
		return nil, invalidPayload("missing status")
	}
	return n, nil
}
