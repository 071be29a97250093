package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tair/reseller-billing/internal/payment/domain"
	"github.com/tair/reseller-billing/pkg/circuitbreaker"
)

type staticCredentials map[domain.Gateway]*domain.GatewayCredential

func (s staticCredentials) Get(_ context.Context, gw domain.Gateway) (*domain.GatewayCredential, error) {
	c, ok := s[gw]
	if !ok {
		return nil, domain.ErrCredentialNotFound
	}
	return c, nil
}

// newTestAdapter points gw's adapter at a fake provider server
func newTestAdapter(t *testing.T, gw domain.Gateway, cred *domain.GatewayCredential, handler http.HandlerFunc) Adapter {
	t.Helper()
	endpoints := map[domain.Gateway]string{}
	if handler != nil {
		srv := httptest.NewServer(handler)
		t.Cleanup(srv.Close)
		endpoints[gw] = srv.URL
	}
	cred.Gateway = gw
	cred.Active = true
	reg := NewRegistry(staticCredentials{gw: cred}, circuitbreaker.NewManager(3, time.Minute), Options{
		Timeout:   2 * time.Second,
		Endpoints: endpoints,
	})
	a, _, err := reg.Adapter(context.Background(), gw)
	if err != nil {
		t.Fatalf("adapter: %v", err)
	}
	return a
}

func validRequest() CreateRequest {
	return CreateRequest{
		Amount:      decimal.RequireFromString("25.50"),
		Currency:    "USD",
		Description: "IPTV 30 days",
		OrderNumber: "ORD-ABC12345",
		CallbackURL: "https://pay.example.com/webhooks/test?order=ORD-ABC12345",
		SuccessURL:  "https://shop.example.com/payment/success",
		CancelURL:   "https://shop.example.com/payment/cancel",
	}
}
