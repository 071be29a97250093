package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Gateway names one external payment provider. Adapters are selected by this value only.
type Gateway string

const (
	GatewayStripe      Gateway = "stripe"
	GatewayCryptomus   Gateway = "cryptomus"
	GatewayPayGate     Gateway = "paygate"
	GatewayPlisio      Gateway = "plisio"
	GatewayHoodPay     Gateway = "hoodpay"
	GatewayChangeNow   Gateway = "changenow"
	GatewayNOWPayments Gateway = "nowpayments"
	GatewayVolet       Gateway = "volet"
)

// Gateways lists every supported provider
var Gateways = []Gateway{
	GatewayStripe,
	GatewayCryptomus,
	GatewayPayGate,
	GatewayPlisio,
	GatewayHoodPay,
	GatewayChangeNow,
	GatewayNOWPayments,
	GatewayVolet,
}

// ParseGateway resolves a gateway name from a route or request body
func ParseGateway(value string) (Gateway, error) {
	g := Gateway(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range Gateways {
		if g == known {
			return g, nil
		}
	}
	return "", NewValidationError("gateway", fmt.Sprintf("unknown gateway %q", value))
}

// GatewayCredential holds the per-provider settings managed from the admin console
type GatewayCredential struct {
	ID            uint              `json:"id" gorm:"primaryKey"`
	Gateway       Gateway           `json:"gateway" gorm:"type:varchar(32);not null;uniqueIndex"`
	Active        bool              `json:"active" gorm:"not null;default:false"`
	APIKey        string            `json:"-"`
	APISecret     string            `json:"-"`
	WebhookSecret string            `json:"-"`
	MerchantID    string            `json:"merchant_id"`
	Sandbox       bool              `json:"sandbox"`
	FeePercent    decimal.Decimal   `json:"fee_percent" gorm:"type:decimal(8,4);not null;default:0"`
	Extra         datatypes.JSONMap `json:"extra"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// TableName specifies the table name
func (GatewayCredential) TableName() string {
	return "gateway_credentials"
}

// SigningSecret returns the secret used to authenticate webhooks
func (c *GatewayCredential) SigningSecret() string {
	switch {
	case c.WebhookSecret != "":
		return c.WebhookSecret
	case c.APISecret != "":
		return c.APISecret
	}
	return c.APIKey
}

// ExtraString returns a string setting from Extra, or fallback when absent
func (c *GatewayCredential) ExtraString(key, fallback string) string {
	if c.Extra == nil {
		return fallback
	}
	if v, ok := c.Extra[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
