package gateway

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tair/reseller-billing/internal/payment/domain"
)

const (
	changenowBaseURL     = "https://api.changenow.io"
	changenowTrackingURL = "https://changenow.io/exchange/txs/"
)

// changenow settles a fixed-rate reverse exchange: the customer pays payCurrency
// and the merchant receives the order amount in payoutCurrency.
type changenow struct {
	statusMapper
	remote         *remote
	apiKey         string
	payoutAddress  string
	payCurrency    string
	payoutCurrency string
}

func newChangeNow(cred *domain.GatewayCredential, r *remote) *changenow {
	return &changenow{
		statusMapper:   statusMapper{gateway: domain.GatewayChangeNow},
		remote:         r,
		apiKey:         cred.APIKey,
		payoutAddress:  cred.MerchantID,
		payCurrency:    cred.ExtraString("pay_currency", "btc"),
		payoutCurrency: cred.ExtraString("payout_currency", "usdttrc20"),
	}
}

func (c *changenow) Verification() Verification {
	return VerifySharedSecret
}

func (c *changenow) auth() http.Header {
	header := http.Header{}
	header.Set("x-changenow-api-key", c.apiKey)
	return header
}

type changenowExchange struct {
	ID           string  `json:"id"`
	Status       string  `json:"status"`
	PayinAddress string  `json:"payinAddress"`
	PayinExtraID string  `json:"payinExtraId"`
	FromAmount   float64 `json:"fromAmount"`
	ToAmount     float64 `json:"toAmount"`
	Message      string  `json:"message"`
}

func (c *changenow) CreatePayment(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if c.payoutAddress == "" {
		return nil, fmt.Errorf("changenow payout address is not configured")
	}

	body := map[string]any{
		"fromCurrency": c.payCurrency,
		"toCurrency":   c.payoutCurrency,
		"toAmount":     req.Amount.StringFixed(2),
		"address":      c.payoutAddress,
		"flow":         "fixed-rate",
		"type":         "reverse",
		"userId":       req.OrderNumber,
		"payload":      map[string]string{"order_number": req.OrderNumber, "callback_url": req.CallbackURL},
	}
	if req.CustomerEmail != "" {
		body["contactEmail"] = req.CustomerEmail
	}

	var resp changenowExchange
	err := c.remote.call(ctx, "create_payment", func(ctx context.Context) error {
		return c.remote.doJSON(ctx, http.MethodPost, "/v2/exchange", c.auth(), body, &resp)
	})
	if err != nil {
		return nil, err
	}
	if resp.ID == "" || resp.PayinAddress == "" {
		return nil, fmt.Errorf("changenow returned an incomplete exchange for order %s: %s", req.OrderNumber, resp.Message)
	}

	return &CreateResult{
		ExternalRef:  resp.ID,
		CheckoutURL:  changenowTrackingURL + url.PathEscape(resp.ID),
		NativeStatus: firstNonEmpty(resp.Status, "new"),
		Fields: map[string]any{
			"payin_address":  resp.PayinAddress,
			"payin_extra_id": resp.PayinExtraID,
			"from_amount":    resp.FromAmount,
			"from_currency":  c.payCurrency,
		},
	}, nil
}

func (c *changenow) GetStatus(ctx context.Context, externalRef string) (string, error) {
	var resp changenowExchange
	q := url.Values{}
	q.Set("id", externalRef)
	err := c.remote.call(ctx, "get_status", func(ctx context.Context) error {
		return c.remote.doJSON(ctx, http.MethodGet, "/v2/exchange/by-id?"+q.Encode(), c.auth(), nil, &resp)
	})
	if err != nil {
		return "", err
	}
	return resp.Status, nil
}

// VerifyWebhookSignature compares the X-Changenow-Secret header with the configured secret
func (c *changenow) VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	signature = strings.TrimSpace(signature)
	if secret == "" || signature == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(signature), []byte(secret)) == 1
}

func (c *changenow) ParseWebhook(req *WebhookRequest) (*Notification, error) {
	m, err := decodeObject(req.Body)
	if err != nil {
		return nil, err
	}

	var order string
	if payload := object(m, "payload"); payload != nil {
		order = str(payload, "order_number")
	}

	n := &Notification{
		ExternalRef:   str(m, "id"),
		OrderNumber:   firstNonEmpty(order, str(m, "userId")),
		NativeStatus:  str(m, "status"),
		Amount:        amount(m, "amountTo", "expectedAmountTo", "toAmount"),
		Currency:      str(m, "toCurrency"),
		Fields:        pick(m, "payinHash", "payoutHash", "amountFrom", "fromCurrency", "payinAddress"),
		SignedPayload: req.Body,
		Signature:     req.Header.Get("X-Changenow-Secret"),
	}
	if n.ExternalRef == "" {
		return nil, invalidPayload("missing exchange id")
	}
	if n.NativeStatus == "" {
		return nil, invalidPayload("missing status")
	}
	return n, nil
}
