package gateway

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tair/reseller-billing/internal/payment/domain"
)

const cryptomusBaseURL = "https://api.cryptomus.com"

// cryptomus signs requests and webhooks with md5(base64(body) + payment key)
type cryptomus struct {
	statusMapper
	remote     *remote
	merchantID string
	apiKey     string
}

func newCryptomus(cred *domain.GatewayCredential, r *remote) *cryptomus {
	return &cryptomus{
		statusMapper: statusMapper{gateway: domain.GatewayCryptomus},
		remote:       r,
		merchantID:   cred.MerchantID,
		apiKey:       cred.APIKey,
	}
}

func (c *cryptomus) Verification() Verification {
	return VerifyHMAC
}

type cryptomusResponse struct {
	State   int    `json:"state"`
	Message string `json:"message"`
	Result  struct {
		UUID          string `json:"uuid"`
		OrderID       string `json:"order_id"`
		Amount        string `json:"amount"`
		URL           string `json:"url"`
		PaymentStatus string `json:"payment_status"`
		Status        string `json:"status"`
		Address       string `json:"address"`
		Network       string `json:"network"`
		ExpiredAt     int64  `json:"expired_at"`
	} `json:"result"`
}

func cryptomusSign(body []byte, key string) string {
	sum := md5.Sum([]byte(base64.StdEncoding.EncodeToString(body) + key))
	return hex.EncodeToString(sum[:])
}

func (c *cryptomus) post(ctx context.Context, op, path string, payload any) (*cryptomusResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cryptomus request: %w", err)
	}
	header := http.Header{}
	header.Set("merchant", c.merchantID)
	header.Set("sign", cryptomusSign(body, c.apiKey))

	var resp cryptomusResponse
	err = c.remote.call(ctx, op, func(ctx context.Context) error {
		return c.remote.doJSON(ctx, http.MethodPost, path, header, body, &resp)
	})
	if err != nil {
		return nil, err
	}
	if resp.State != 0 {
		return nil, fmt.Errorf("cryptomus %s rejected: %s", op, resp.Message)
	}
	return &resp, nil
}

func (c *cryptomus) CreatePayment(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, "create_payment", "/v1/payment", map[string]any{
		"amount":          req.Amount.StringFixed(2),
		"currency":        req.Currency,
		"order_id":        req.OrderNumber,
		"url_callback":    req.CallbackURL,
		"url_success":     req.SuccessURL,
		"url_return":      req.CancelURL,
		"additional_data": req.Description,
	})
	if err != nil {
		return nil, err
	}
	if resp.Result.UUID == "" || resp.Result.URL == "" {
		return nil, fmt.Errorf("cryptomus returned an incomplete invoice for order %s", req.OrderNumber)
	}

	return &CreateResult{
		ExternalRef:  resp.Result.UUID,
		CheckoutURL:  resp.Result.URL,
		NativeStatus: firstNonEmpty(resp.Result.PaymentStatus, resp.Result.Status, "check"),
		Fields: map[string]any{
			"uuid":       resp.Result.UUID,
			"expired_at": resp.Result.ExpiredAt,
		},
	}, nil
}

func (c *cryptomus) GetStatus(ctx context.Context, externalRef string) (string, error) {
	resp, err := c.post(ctx, "get_status", "/v1/payment/info", map[string]string{"uuid": externalRef})
	if err != nil {
		return "", err
	}
	return firstNonEmpty(resp.Result.PaymentStatus, resp.Result.Status), nil
}

// VerifyWebhookSignature expects payload to be the raw body with the sign field removed
func (c *cryptomus) VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	return equalHex(cryptomusSign(payload, secret), signature)
}

func (c *cryptomus) ParseWebhook(req *WebhookRequest) (*Notification, error) {
	m, err := decodeObject(req.Body)
	if err != nil {
		return nil, err
	}
	signed, sign, ok := stripJSONField(req.Body, "sign")
	if !ok {
		return nil, invalidPayload("missing sign field")
	}

	n := &Notification{
		ExternalRef:   str(m, "uuid"),
		OrderNumber:   str(m, "order_id"),
		NativeStatus:  str(m, "status", "payment_status"),
		Amount:        amount(m, "amount"),
		Currency:      str(m, "currency"),
		Fields:        pick(m, "type", "txid", "payer_amount", "payer_currency", "payment_amount", "network", "is_final", "merchant_amount"),
		SignedPayload: signed,
		Signature:     sign,
	}
	if n.ExternalRef == "" && n.OrderNumber == "" {
		return nil, invalidPayload("missing uuid and order_id")
	}
	if n.NativeStatus == "" {
		return nil, invalidPayload("missing status")
	}
	return n, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
