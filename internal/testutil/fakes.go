package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/tair/reseller-billing/internal/payment/domain"
	"github.com/tair/reseller-billing/internal/payment/gateway"
	"github.com/tair/reseller-billing/internal/payment/normalizer"
	"github.com/tair/reseller-billing/kafka"
)

// FakeAdapter is a scriptable gateway.Adapter. Webhooks are JSON objects with
// ref, order, purchase_id, status and amount keys, signed by equality with the secret.
type FakeAdapter struct {
	mu sync.Mutex

	Gateway domain.Gateway
	Verify  gateway.Verification

	// CreateFunc overrides CreatePayment; the default returns ext-<order number>
	CreateFunc func(req gateway.CreateRequest) (*gateway.CreateResult, error)
	Statuses   map[string]string
	StatusErr  error

	Created []gateway.CreateRequest
}

func NewFakeAdapter(gw domain.Gateway) *FakeAdapter {
	return &FakeAdapter{Gateway: gw, Verify: gateway.VerifyHMAC, Statuses: make(map[string]string)}
}

func (f *FakeAdapter) Kind() domain.Gateway { return f.Gateway }
func (f *FakeAdapter) Verification() gateway.Verification { return f.Verify }

func (f *FakeAdapter) CreatePayment(ctx context.Context, req gateway.CreateRequest) (*gateway.CreateResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.Created = append(f.Created, req)
	fn := f.CreateFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return &gateway.CreateResult{
		ExternalRef:  "ext-" + req.OrderNumber,
		CheckoutURL:  "https://pay.example.com/" + req.OrderNumber,
		NativeStatus: "pending",
		PurchaseID:   req.PurchaseID,
	}, nil
}

// CreatedRequests returns the CreatePayment inputs seen so far
func (f *FakeAdapter) CreatedRequests() []gateway.CreateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.CreateRequest(nil), f.Created...)
}

func (f *FakeAdapter) GetStatus(ctx context.Context, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StatusErr != nil {
		return "", f.StatusErr
	}
	native, ok := f.Statuses[ref]
	if !ok {
		return "", fmt.Errorf("%w: unknown ref %s", domain.ErrGatewayUnavailable, ref)
	}
	return native, nil
}

func (f *FakeAdapter) VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	return signature != "" && signature == secret
}

func (f *FakeAdapter) ParseWebhook(req *gateway.WebhookRequest) (*gateway.Notification, error) {
	var body map[string]any
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return nil, domain.NewValidationError("payload", "invalid JSON")
	}
	str := func(k string) string { s, _ := body[k].(string); return s }
	n := &gateway.Notification{
		ExternalRef:   str("ref"),
		OrderNumber:   str("order"),
		PurchaseID:    str("purchase_id"),
		NativeStatus:  str("status"),
		Fields:        map[string]any{"native_status": str("status")},
		SignedPayload: req.Body,
		Signature:     req.Header.Get("X-Signature"),
	}
	if raw := str("amount"); raw != "" {
		amt, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, domain.NewValidationError("amount", "not a number")
		}
		n.Amount = &amt
	}
	if n.NativeStatus == "" {
		return nil, domain.NewValidationError("payload", "missing status")
	}
	return n, nil
}

func (f *FakeAdapter) MapNativeStatus(native string) (domain.CanonicalStatus, bool) {
	return normalizer.Map(f.Gateway, native)
}

// FakeProvider serves FakeAdapters keyed by gateway, with per-gateway credentials
type FakeProvider struct {
	Adapters    map[domain.Gateway]*FakeAdapter
	Credentials map[domain.Gateway]*domain.GatewayCredential
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		Adapters:    make(map[domain.Gateway]*FakeAdapter),
		Credentials: make(map[domain.Gateway]*domain.GatewayCredential),
	}
}

// Add registers an active adapter for gw signed with secret
func (p *FakeProvider) Add(gw domain.Gateway, secret string) *FakeAdapter {
	a := NewFakeAdapter(gw)
	p.Adapters[gw] = a
	p.Credentials[gw] = &domain.GatewayCredential{Gateway: gw, Active: true, WebhookSecret: secret}
	return a
}

// Get and Upsert make the provider's credential table a domain.CredentialRepository
func (p *FakeProvider) Get(ctx context.Context, gw domain.Gateway) (*domain.GatewayCredential, error) {
	cred, ok := p.Credentials[gw]
	if !ok {
		return nil, domain.ErrCredentialNotFound
	}
	c := *cred
	return &c, nil
}

func (p *FakeProvider) Upsert(ctx context.Context, cred *domain.GatewayCredential) error {
	c := *cred
	p.Credentials[cred.Gateway] = &c
	return nil
}

func (p *FakeProvider) Adapter(ctx context.Context, gw domain.Gateway) (gateway.Adapter, *domain.GatewayCredential, error) {
	cred, ok := p.Credentials[gw]
	if !ok {
		return nil, nil, domain.ErrCredentialNotFound
	}
	if !cred.Active {
		return nil, cred, fmt.Errorf("%w: %s", domain.ErrGatewayInactive, gw)
	}
	a, ok := p.Adapters[gw]
	if !ok {
		return nil, cred, fmt.Errorf("%w: %s", domain.ErrUnsupported, gw)
	}
	return a, cred, nil
}

// RecordingPublisher captures published events
type RecordingPublisher struct {
	mu        sync.Mutex
	Completed []kafka.PaymentCompletedEvent
	Failed    []kafka.RenewalFailedEvent
	Err       error
}

func (p *RecordingPublisher) PublishPaymentCompleted(ctx context.Context, event kafka.PaymentCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Completed = append(p.Completed, event)
	return nil
}

func (p *RecordingPublisher) PublishRenewalFailed(ctx context.Context, event kafka.RenewalFailedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Failed = append(p.Failed, event)
	return nil
}

// CompletedEvents returns a copy of the recorded completion events
func (p *RecordingPublisher) CompletedEvents() []kafka.PaymentCompletedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]kafka.PaymentCompletedEvent(nil), p.Completed...)
}

// FailedEvents returns a copy of the recorded renewal failures
func (p *RecordingPublisher) FailedEvents() []kafka.RenewalFailedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]kafka.RenewalFailedEvent(nil), p.Failed...)
}

// RecordingDispatcher counts Fire calls
type RecordingDispatcher struct {
	mu    sync.Mutex
	Fired []uint
	Err   error
}

func (d *RecordingDispatcher) Fire(ctx context.Context, rec *domain.PaymentRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Fired = append(d.Fired, rec.ID)
	return d.Err
}

// Count returns the number of Fire calls
func (d *RecordingDispatcher) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Fired)
}
