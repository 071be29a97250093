package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tair/reseller-billing/internal/payment/domain"
)

const (
	paygateBaseURL     = "https://api.paygate.to"
	paygateCheckoutURL = "https://checkout.paygate.to/process-payment.php"
)

// paygateRequiredParams must all be present on a callback. PayGate does not sign
// its callbacks, so this is the only check available.
var paygateRequiredParams = []string{"order", "address_in", "txid_in", "value_coin"}

// paygate routes card payments to a merchant wallet. Creation derives a one-off
// deposit address and then prices the order for the hosted checkout page.
type paygate struct {
	statusMapper
	remote      *remote
	wallet      string
	checkoutURL string
	provider    string
}

func newPayGate(cred *domain.GatewayCredential, r *remote) *paygate {
	return &paygate{
		statusMapper: statusMapper{gateway: domain.GatewayPayGate},
		remote:       r,
		wallet:       cred.MerchantID,
		checkoutURL:  cred.ExtraString("checkout_url", paygateCheckoutURL),
		provider:     cred.ExtraString("provider", ""),
	}
}

// Verification is presence-only. A callback is additionally matched against
// the deposit address derived for the order, see MatchesRecord.
func (p *paygate) Verification() Verification {
	return VerifyPresenceOnly
}

type paygateWallet struct {
	AddressIn        string `json:"address_in"`
	PolygonAddressIn string `json:"polygon_address_in"`
	CallbackURL      string `json:"callback_url"`
	IPNToken         string `json:"ipn_token"`
}

type paygateConversion struct {
	Status       string `json:"status"`
	ValueCoin    string `json:"value_coin"`
	ExchangeRate string `json:"exchange_rate"`
}

func (p *paygate) CreatePayment(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if p.wallet == "" {
		return nil, fmt.Errorf("paygate payout wallet is not configured")
	}

	var wallet paygateWallet
	walletQuery := url.Values{}
	walletQuery.Set("address", p.wallet)
	walletQuery.Set("callback", req.CallbackURL)
	err := p.remote.call(ctx, "create_wallet", func(ctx context.Context) error {
		return p.remote.doJSON(ctx, http.MethodGet, "/control/wallet.php?"+walletQuery.Encode(), nil, nil, &wallet)
	})
	if err != nil {
		return nil, fmt.Errorf("paygate wallet derivation failed: %w", err)
	}
	if wallet.AddressIn == "" {
		return nil, fmt.Errorf("paygate wallet derivation returned no address")
	}

	var conv paygateConversion
	convQuery := url.Values{}
	convQuery.Set("value", req.Amount.StringFixed(2))
	convQuery.Set("from", strings.ToLower(req.Currency))
	err = p.remote.call(ctx, "convert", func(ctx context.Context) error {
		return p.remote.doJSON(ctx, http.MethodGet, "/control/convert.php?"+convQuery.Encode(), nil, nil, &conv)
	})
	if err != nil {
		return nil, fmt.Errorf("paygate price conversion failed: %w", err)
	}
	if !strings.EqualFold(conv.Status, "success") || conv.ValueCoin == "" {
		return nil, fmt.Errorf("paygate price conversion rejected: status %q", conv.Status)
	}

	checkout := url.Values{}
	checkout.Set("address", wallet.AddressIn)
	checkout.Set("amount", req.Amount.StringFixed(2))
	checkout.Set("currency", strings.ToUpper(req.Currency))
	if req.CustomerEmail != "" {
		checkout.Set("email", req.CustomerEmail)
	}
	if p.provider != "" {
		checkout.Set("provider", p.provider)
	}

	return &CreateResult{
		ExternalRef:  firstNonEmpty(wallet.IPNToken, wallet.AddressIn),
		CheckoutURL:  p.checkoutURL + "?" + checkout.Encode(),
		NativeStatus: "unpaid",
		Fields: map[string]any{
			"address_in":         wallet.AddressIn,
			"polygon_address_in": wallet.PolygonAddressIn,
			"value_coin":         conv.ValueCoin,
			"exchange_rate":      conv.ExchangeRate,
		},
	}, nil
}

func (p *paygate) GetStatus(ctx context.Context, externalRef string) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	q := url.Values{}
	q.Set("ipn_token", externalRef)
	err := p.remote.call(ctx, "get_status", func(ctx context.Context) error {
		return p.remote.doJSON(ctx, http.MethodGet, "/control/payment-status.php?"+q.Encode(), nil, nil, &resp)
	})
	if err != nil {
		return "", err
	}
	return resp.Status, nil
}

// VerifyWebhookSignature checks that payload, the raw callback query, carries
// every required parameter. signature and secret are unused.
func (p *paygate) VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return false
	}
	for _, key := range paygateRequiredParams {
		if strings.TrimSpace(values.Get(key)) == "" {
			return false
		}
	}
	return true
}

// MatchesRecord requires the callback's address_in to be the one-off address
// stored when the payment was created
func (p *paygate) MatchesRecord(n *Notification, stored map[string]any) bool {
	want, _ := stored["address_in"].(string)
	got, _ := n.Fields["address_in"].(string)
	return want != "" && got == want
}

func (p *paygate) ParseWebhook(req *WebhookRequest) (*Notification, error) {
	q := req.Query
	if q.Get("order") == "" && q.Get("ipn_token") == "" {
		return nil, invalidPayload("missing order reference")
	}

	return &Notification{
		ExternalRef:   q.Get("ipn_token"),
		OrderNumber:   q.Get("order"),
		NativeStatus:  firstNonEmpty(q.Get("status"), "paid"),
		Fields:        valuesToMap(q, "value_coin", "coin", "txid_in", "txid_out", "address_in"),
		SignedPayload: []byte(q.Encode()),
	}, nil
}
