package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v76"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tair/reseller-billing/internal/payment/domain"
	"github.com/tair/reseller-billing/pkg/circuitbreaker"
)

// Provider resolves the adapter and credentials for a gateway
type Provider interface {
	Adapter(ctx context.Context, gw domain.Gateway) (Adapter, *domain.GatewayCredential, error)
}

// Options configures outbound calls
type Options struct {
	Timeout time.Duration
	// Endpoints overrides provider base URLs, keyed by gateway
	Endpoints map[domain.Gateway]string
	Transport http.RoundTripper
}

// Registry builds a fresh adapter per request from the stored credentials
type Registry struct {
	credentials domain.CredentialStore
	breakers    *circuitbreaker.Manager
	client      *http.Client
	endpoints   map[domain.Gateway]string
}

// NewRegistry creates a registry sharing one traced HTTP client across adapters
func NewRegistry(credentials domain.CredentialStore, breakers *circuitbreaker.Manager, opts Options) *Registry {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if breakers == nil {
		breakers = circuitbreaker.NewManager(5, 30*time.Second)
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Registry{
		credentials: credentials,
		breakers:    breakers,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		endpoints: opts.Endpoints,
	}
}

// Adapter returns the adapter for gw configured with its credentials.
// Inactive gateways yield domain.ErrGatewayInactive.
func (r *Registry) Adapter(ctx context.Context, gw domain.Gateway) (Adapter, *domain.GatewayCredential, error) {
	cred, err := r.credentials.Get(ctx, gw)
	if err != nil {
		return nil, nil, err
	}
	if !cred.Active {
		return nil, cred, fmt.Errorf("%w: %s", domain.ErrGatewayInactive, gw)
	}
	adapter, err := r.build(gw, cred)
	if err != nil {
		return nil, cred, err
	}
	return adapter, cred, nil
}

func (r *Registry) build(gw domain.Gateway, cred *domain.GatewayCredential) (Adapter, error) {
	switch gw {
	case domain.GatewayStripe:
		return newStripe(cred, r.remote(gw, stripe.APIURL)), nil
	case domain.GatewayCryptomus:
		return newCryptomus(cred, r.remote(gw, cryptomusBaseURL)), nil
	case domain.GatewayPayGate:
		return newPayGate(cred, r.remote(gw, paygateBaseURL)), nil
	case domain.GatewayPlisio:
		return newPlisio(cred, r.remote(gw, plisioBaseURL)), nil
	case domain.GatewayHoodPay:
		return newHoodPay(cred, r.remote(gw, hoodpayBaseURL)), nil
	case domain.GatewayChangeNow:
		return newChangeNow(cred, r.remote(gw, changenowBaseURL)), nil
	case domain.GatewayNOWPayments:
		base := nowpaymentsBaseURL
		if cred.Sandbox {
			base = nowpaymentsSandboxBaseURL
		}
		return newNOWPayments(cred, r.remote(gw, base)), nil
	case domain.GatewayVolet:
		return newVolet(cred, r.remote(gw, voletSCIURL)), nil
	}
	return nil, fmt.Errorf("%w: no adapter for gateway %q", domain.ErrUnsupported, gw)
}

func (r *Registry) remote(gw domain.Gateway, defaultURL string) *remote {
	base := defaultURL
	if override, ok := r.endpoints[gw]; ok && override != "" {
		base = override
	}
	return &remote{
		gateway: gw,
		baseURL: base,
		client:  r.client,
		breaker: r.breakers.Get(string(gw)),
	}
}
