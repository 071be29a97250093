package command

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tair/reseller-billing/internal/payment/domain"
	"github.com/tair/reseller-billing/internal/payment/gateway"
	"github.com/tair/reseller-billing/internal/payment/reconcile"
	"github.com/tair/reseller-billing/internal/payment/sideeffect"
	"github.com/tair/reseller-billing/internal/testutil"
	"github.com/tair/reseller-billing/pkg/ratelimit"
)

const (
	baseURL = "https://billing.example.com"
	secret  = "whsec-test"
)

type harness struct {
	payments    *testutil.PaymentStore
	users       *testutil.UserStore
	provider    *testutil.FakeProvider
	adapter     *testutil.FakeAdapter
	events      *testutil.RecordingPublisher
	coordinator *reconcile.Coordinator
	user        *domain.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		payments: testutil.NewPaymentStore(),
		users:    testutil.NewUserStore(),
		provider: testutil.NewFakeProvider(),
		events:   &testutil.RecordingPublisher{},
	}
	h.adapter = h.provider.Add(domain.GatewayCryptomus, secret)
	h.provider.Credentials[domain.GatewayCryptomus].FeePercent = decimal.NewFromInt(3)
	h.coordinator = reconcile.NewCoordinator(h.payments, sideeffect.NewDispatcher(h.payments, h.users, h.events, decimal.NewFromInt(10)))
	h.user = h.users.Add(&domain.User{Email: "buyer@example.com"})
	return h
}

func (h *harness) create(t *testing.T, purpose domain.Purpose, amount string) *domain.PaymentRecord {
	t.Helper()
	rec, err := NewCreatePaymentHandler(h.payments, h.provider, baseURL).Handle(context.Background(), CreatePaymentCommand{
		UserID:   &h.user.ID,
		Purpose:  purpose,
		Gateway:  domain.GatewayCryptomus,
		Amount:   decimal.RequireFromString(amount),
		Currency: "usd",
	})
	require.NoError(t, err)
	return rec
}

func webhook(body string, query url.Values, sig string) *gateway.WebhookRequest {
	header := http.Header{}
	if sig != "" {
		header.Set("X-Signature", sig)
	}
	return &gateway.WebhookRequest{Method: http.MethodPost, Header: header, Query: query, Body: []byte(body)}
}

func TestCreatePaymentAddsFee(t *testing.T) {
	h := newHarness(t)
	rec := h.create(t, domain.PurposeDeposit, "100")

	assert.True(t, strings.HasPrefix(rec.OrderNumber, "DEP-"))
	assert.True(t, rec.ServiceFee.Equal(decimal.NewFromInt(3)))
	assert.True(t, rec.FinalAmount.Equal(decimal.NewFromInt(103)))
	assert.Equal(t, "USD", rec.Currency)
	assert.Equal(t, domain.StatusPending, rec.Status)
	assert.Equal(t, "ext-"+rec.OrderNumber, rec.ExternalRef)

	req := h.adapter.CreatedRequests()[0]
	assert.True(t, req.Amount.Equal(decimal.NewFromInt(103)))
	assert.Equal(t, baseURL+"/webhooks/cryptomus?order="+rec.OrderNumber, req.CallbackURL)
}

func TestCreatePaymentValidation(t *testing.T) {
	h := newHarness(t)
	handler := NewCreatePaymentHandler(h.payments, h.provider, baseURL)
	ctx := context.Background()

	tests := []struct {
		name string
		cmd  CreatePaymentCommand
		want error
	}{
		{"zero amount", CreatePaymentCommand{Purpose: domain.PurposeOrder, Gateway: domain.GatewayCryptomus}, domain.ErrValidation},
		{"guest deposit", CreatePaymentCommand{Purpose: domain.PurposeDeposit, Gateway: domain.GatewayCryptomus, Amount: decimal.NewFromInt(1)}, domain.ErrValidation},
		{"subscription without interval", CreatePaymentCommand{Purpose: domain.PurposeSubscription, Gateway: domain.GatewayCryptomus, Amount: decimal.NewFromInt(1)}, domain.ErrValidation},
		{"unknown gateway credentials", CreatePaymentCommand{Purpose: domain.PurposeOrder, Gateway: domain.GatewayVolet, Amount: decimal.NewFromInt(1)}, domain.ErrCredentialNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := handler.Handle(ctx, tt.cmd)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, h.payments.All())
}

func TestCreatePaymentInactiveGateway(t *testing.T) {
	h := newHarness(t)
	h.provider.Credentials[domain.GatewayCryptomus].Active = false
	_, err := NewCreatePaymentHandler(h.payments, h.provider, baseURL).Handle(context.Background(), CreatePaymentCommand{
		Purpose: domain.PurposeOrder, Gateway: domain.GatewayCryptomus, Amount: decimal.NewFromInt(5),
	})
	assert.ErrorIs(t, err, domain.ErrGatewayInactive)
}

func TestProcessWebhookCompletesOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	rec := h.create(t, domain.PurposeDeposit, "100")
	handler := NewProcessWebhookHandler(h.payments, h.provider, h.coordinator)

	body := fmt.Sprintf(`{"ref":%q,"status":"paid","amount":"103"}`, rec.ExternalRef)
	for i := 0; i < 3; i++ {
		res, err := handler.Handle(ctx, ProcessWebhookCommand{Gateway: domain.GatewayCryptomus, Request: webhook(body, nil, secret)})
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, OutcomeCompleted, res.Outcome)
		} else {
			assert.Equal(t, OutcomeNoop, res.Outcome)
		}
	}

	assert.True(t, h.users.Balance(h.user.ID).Equal(decimal.NewFromInt(103)))
	assert.Len(t, h.events.CompletedEvents(), 1)
}

func TestProcessWebhookRejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	rec := h.create(t, domain.PurposeDeposit, "10")
	handler := NewProcessWebhookHandler(h.payments, h.provider, h.coordinator)

	body := fmt.Sprintf(`{"ref":%q,"status":"paid"}`, rec.ExternalRef)
	_, err := handler.Handle(context.Background(), ProcessWebhookCommand{Gateway: domain.GatewayCryptomus, Request: webhook(body, nil, "forged")})
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	stored, err := h.payments.FindByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
}

func TestProcessWebhookMalformedPayload(t *testing.T) {
	h := newHarness(t)
	handler := NewProcessWebhookHandler(h.payments, h.provider, h.coordinator)
	_, err := handler.Handle(context.Background(), ProcessWebhookCommand{Gateway: domain.GatewayCryptomus, Request: webhook("{", nil, secret)})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestProcessWebhookLookupFallbacks(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	handler := NewProcessWebhookHandler(h.payments, h.provider, h.coordinator)

	byOrder := h.create(t, domain.PurposeOrder, "10")
	res, err := handler.Handle(ctx, ProcessWebhookCommand{
		Gateway: domain.GatewayCryptomus,
		Request: webhook(`{"ref":"unknown","status":"process"}`, url.Values{"order": {byOrder.OrderNumber}}, secret),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Equal(t, byOrder.ID, res.Record.ID)
	assert.Equal(t, domain.StatusConfirming, res.Record.Status)

	byPurchase := h.create(t, domain.PurposeOrder, "10")
	stored, err := h.payments.FindByID(ctx, byPurchase.ID)
	require.NoError(t, err)
	next := stored.Clone()
	next.PurchaseID = "p-777"
	require.NoError(t, h.payments.CompareAndUpdate(ctx, next, domain.StatusPending))

	res, err = handler.Handle(ctx, ProcessWebhookCommand{
		Gateway: domain.GatewayCryptomus,
		Request: webhook(`{"ref":"follow-up-invoice","purchase_id":"p-777","status":"paid"}`, nil, secret),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, byPurchase.ID, res.Record.ID)
}

func TestProcessWebhookUnknownRecordIsAcknowledged(t *testing.T) {
	h := newHarness(t)
	handler := NewProcessWebhookHandler(h.payments, h.provider, h.coordinator)
	res, err := handler.Handle(context.Background(), ProcessWebhookCommand{
		Gateway: domain.GatewayCryptomus,
		Request: webhook(`{"ref":"nobody","status":"paid"}`, nil, secret),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
}

func TestProcessWebhookUnknownNativeStatusKeepsCurrent(t *testing.T) {
	h := newHarness(t)
	rec := h.create(t, domain.PurposeDeposit, "10")
	handler := NewProcessWebhookHandler(h.payments, h.provider, h.coordinator)

	res, err := handler.Handle(context.Background(), ProcessWebhookCommand{
		Gateway: domain.GatewayCryptomus,
		Request: webhook(fmt.Sprintf(`{"ref":%q,"status":"refund_process"}`, rec.ExternalRef), nil, secret),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, res.Record.Status)
	assert.Empty(t, h.users.Transactions())
}

func TestRefreshStatusFallsBackWhenGatewayDown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	rec := h.create(t, domain.PurposeDeposit, "10")
	h.adapter.StatusErr = fmt.Errorf("%w: timeout", domain.ErrGatewayUnavailable)

	handler := NewRefreshStatusHandler(h.payments, h.provider, h.coordinator, nil)
	view, err := handler.Handle(ctx, RefreshStatusCommand{Reference: rec.ExternalRef})
	require.NoError(t, err)
	assert.True(t, view.Stale)
	assert.False(t, view.Refreshed)
	assert.Equal(t, domain.StatusPending, view.Record.Status)
}

func TestRefreshStatusAppliesPolledStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	rec := h.create(t, domain.PurposeDeposit, "10")
	h.adapter.Statuses[rec.ExternalRef] = "paid"

	handler := NewRefreshStatusHandler(h.payments, h.provider, h.coordinator, nil)
	view, err := handler.Handle(ctx, RefreshStatusCommand{Reference: rec.OrderNumber})
	require.NoError(t, err)
	assert.True(t, view.Refreshed)
	assert.Equal(t, domain.StatusCompleted, view.Record.Status)
	assert.True(t, h.users.Balance(h.user.ID).Equal(decimal.RequireFromString("10.30")))

	_, err = handler.Handle(ctx, RefreshStatusCommand{Reference: "missing"})
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestRefreshStatusThrottledPerRecord(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	rec := h.create(t, domain.PurposeDeposit, "10")
	h.adapter.Statuses[rec.ExternalRef] = "process"

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	handler := NewRefreshStatusHandler(h.payments, h.provider, h.coordinator, ratelimit.New(client, "payment:refresh", 1, time.Minute))

	view, err := handler.Handle(ctx, RefreshStatusCommand{Reference: rec.OrderNumber})
	require.NoError(t, err)
	assert.True(t, view.Refreshed)
	assert.Equal(t, domain.StatusConfirming, view.Record.Status)

	h.adapter.Statuses[rec.ExternalRef] = "paid"
	view, err = handler.Handle(ctx, RefreshStatusCommand{Reference: rec.OrderNumber})
	require.NoError(t, err)
	assert.False(t, view.Refreshed)
	assert.False(t, view.Stale)
	assert.Equal(t, domain.StatusConfirming, view.Record.Status)

	view, err = handler.Handle(ctx, RefreshStatusCommand{Reference: rec.OrderNumber, Force: true})
	require.NoError(t, err)
	assert.True(t, view.Refreshed)
	assert.Equal(t, domain.StatusCompleted, view.Record.Status)

	// An unreachable throttle does not block polling
	other := h.create(t, domain.PurposeDeposit, "10")
	h.adapter.Statuses[other.ExternalRef] = "paid"
	mr.Close()
	view, err = handler.Handle(ctx, RefreshStatusCommand{Reference: other.OrderNumber})
	require.NoError(t, err)
	assert.True(t, view.Refreshed)
	assert.Equal(t, domain.StatusCompleted, view.Record.Status)
}

func TestAdminUpdateRacesWebhookWithoutDoubleCredit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	rec := h.create(t, domain.PurposeDeposit, "50")

	admin := NewUpdateStatusHandler(h.payments, h.coordinator)
	res, err := admin.Handle(ctx, UpdateStatusCommand{PaymentID: rec.ID, Status: "completed", AdminID: 1, Note: "manual check"})
	require.NoError(t, err)
	assert.True(t, res.Completed)

	wh := NewProcessWebhookHandler(h.payments, h.provider, h.coordinator)
	out, err := wh.Handle(ctx, ProcessWebhookCommand{
		Gateway: domain.GatewayCryptomus,
		Request: webhook(fmt.Sprintf(`{"ref":%q,"status":"paid"}`, rec.ExternalRef), nil, secret),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, out.Outcome)
	assert.Len(t, h.users.Transactions(), 1)

	_, err = admin.Handle(ctx, UpdateStatusCommand{PaymentID: rec.ID, Status: "refunded"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func dueSubscription(t *testing.T, h *harness, i int, due time.Time) *domain.PaymentRecord {
	t.Helper()
	rec := &domain.PaymentRecord{
		OrderNumber:    fmt.Sprintf("ORD-SUB%d", i),
		Purpose:        domain.PurposeSubscription,
		UserID:         &h.user.ID,
		OriginalAmount: decimal.NewFromInt(20),
		FinalAmount:    decimal.NewFromInt(20),
		Currency:       "USD",
		Gateway:        domain.GatewayCryptomus,
		ExternalRef:    fmt.Sprintf("inv-%d", i),
		Status:         domain.StatusCompleted,
		CompletedAt:    &due,
		GatewayFields:  map[string]any{"purchase_id": fmt.Sprintf("pur-%d", i)},
		Subscription: domain.Subscription{
			IsActive: true, IntervalDays: 30, AutoRenew: true,
			Status: domain.SubscriptionActive, NextBillingDate: &due,
		},
	}
	require.NoError(t, h.payments.Create(context.Background(), rec))
	return rec
}

func TestRenewalBatchSurvivesOneFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	now := time.Now().UTC()
	var subs []*domain.PaymentRecord
	for i := 1; i <= 5; i++ {
		subs = append(subs, dueSubscription(t, h, i, now.Add(-time.Duration(i)*time.Minute)))
	}

	calls := 0
	h.adapter.CreateFunc = func(req gateway.CreateRequest) (*gateway.CreateResult, error) {
		calls++
		if calls == 3 {
			return nil, fmt.Errorf("%w: 502 from provider", domain.ErrGatewayUnavailable)
		}
		return &gateway.CreateResult{ExternalRef: "ext-" + req.OrderNumber, NativeStatus: "check", PurchaseID: req.PurchaseID}, nil
	}

	handler := NewRenewSubscriptionsHandler(h.payments, h.provider, h.events, baseURL, 50)
	summary, err := handler.Handle(ctx, RenewSubscriptionsCommand{Now: now})
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Processed)
	assert.Equal(t, 4, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, subs[2].ID, summary.Errors[0].RecordID)
	assert.Len(t, summary.Invoices, 4)

	for i, sub := range subs {
		stored, err := h.payments.FindByID(ctx, sub.ID)
		require.NoError(t, err)
		if i == 2 {
			assert.Equal(t, domain.SubscriptionActive, stored.Subscription.Status)
			assert.Contains(t, stored.Subscription.LastRenewalError, "502")
			continue
		}
		assert.Equal(t, domain.SubscriptionPastDue, stored.Subscription.Status)
		assert.Empty(t, stored.Subscription.LastRenewalError)
	}

	requests := h.adapter.CreatedRequests()
	require.Len(t, requests, 5)
	assert.Equal(t, "pur-1", requests[0].PurchaseID)
	assert.True(t, requests[0].Amount.Equal(decimal.RequireFromString("20.60")))

	failed := h.events.FailedEvents()
	require.Len(t, failed, 1)
	assert.Equal(t, subs[2].OrderNumber, failed[0].OrderNumber)
}

func TestRenewalRerunSkipsClaimedSubscriptions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	now := time.Now().UTC()
	dueSubscription(t, h, 1, now.Add(-time.Hour))

	handler := NewRenewSubscriptionsHandler(h.payments, h.provider, nil, baseURL, 10)
	first, err := handler.Handle(ctx, RenewSubscriptionsCommand{Now: now})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Succeeded)

	second, err := handler.Handle(ctx, RenewSubscriptionsCommand{Now: now})
	require.NoError(t, err)
	assert.Zero(t, second.Processed)
}

func TestRenewalInvoiceCompletionReactivatesParent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	now := time.Now().UTC()
	parent := dueSubscription(t, h, 1, now.Add(-time.Hour))

	summary, err := NewRenewSubscriptionsHandler(h.payments, h.provider, nil, baseURL, 10).Handle(ctx, RenewSubscriptionsCommand{Now: now})
	require.NoError(t, err)
	require.Len(t, summary.Invoices, 1)

	invoice, err := h.payments.FindByOrderNumber(ctx, summary.Invoices[0])
	require.NoError(t, err)
	require.NotNil(t, invoice.ParentID)
	assert.Equal(t, "pur-1", invoice.PurchaseID)

	wh := NewProcessWebhookHandler(h.payments, h.provider, h.coordinator)
	_, err = wh.Handle(ctx, ProcessWebhookCommand{
		Gateway: domain.GatewayCryptomus,
		Request: webhook(fmt.Sprintf(`{"ref":%q,"status":"paid"}`, invoice.ExternalRef), nil, secret),
	})
	require.NoError(t, err)

	stored, err := h.payments.FindByID(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionActive, stored.Subscription.Status)
	assert.True(t, stored.Subscription.NextBillingDate.After(now))
}

func TestRenewalRecoversFromAdapterPanic(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC()
	dueSubscription(t, h, 1, now.Add(-time.Hour))
	h.adapter.CreateFunc = func(req gateway.CreateRequest) (*gateway.CreateResult, error) {
		panic("nil map")
	}

	summary, err := NewRenewSubscriptionsHandler(h.payments, h.provider, nil, baseURL, 10).Handle(context.Background(), RenewSubscriptionsCommand{Now: now})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, summary.Errors[0].Error, "panicked")
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(fmt.Errorf("wrapped: %w", domain.ErrRecordNotFound)))
	assert.False(t, isNotFound(errors.New("other")))
}

func TestExpiredRenewalInvoiceIsRetried(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	now := time.Now().UTC()
	parent := dueSubscription(t, h, 1, now.Add(-time.Hour))
	renewals := NewRenewSubscriptionsHandler(h.payments, h.provider, nil, baseURL, 10)

	summary, err := renewals.Handle(ctx, RenewSubscriptionsCommand{Now: now})
	require.NoError(t, err)
	require.Len(t, summary.Invoices, 1)
	invoice, err := h.payments.FindByOrderNumber(ctx, summary.Invoices[0])
	require.NoError(t, err)

	wh := NewProcessWebhookHandler(h.payments, h.provider, h.coordinator)
	res, err := wh.Handle(ctx, ProcessWebhookCommand{
		Gateway: domain.GatewayCryptomus,
		Request: webhook(fmt.Sprintf(`{"ref":%q,"status":"cancel"}`, invoice.ExternalRef), nil, secret),
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessed, res.Outcome)

	stored, err := h.payments.FindByID(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionActive, stored.Subscription.Status)
	assert.Contains(t, stored.Subscription.LastRenewalError, invoice.OrderNumber)
	assert.Len(t, h.events.FailedEvents(), 1)

	again, err := renewals.Handle(ctx, RenewSubscriptionsCommand{Now: now})
	require.NoError(t, err)
	assert.Equal(t, 1, again.Succeeded)
}

func TestProcessWebhookWithoutReferenceIsAcknowledged(t *testing.T) {
	h := newHarness(t)
	h.create(t, domain.PurposeDeposit, "10")
	handler := NewProcessWebhookHandler(h.payments, h.provider, h.coordinator)

	res, err := handler.Handle(context.Background(), ProcessWebhookCommand{
		Gateway: domain.GatewayCryptomus,
		Request: webhook(`{"status":"paid"}`, nil, secret),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
	assert.Empty(t, h.users.Transactions())

	_, err = handler.Handle(context.Background(), ProcessWebhookCommand{
		Gateway: domain.GatewayCryptomus,
		Request: webhook(`{"status":"paid"}`, nil, "forged"),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestPayGateCallbackMustMatchDepositAddress(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	registry := gateway.NewRegistry(testutil.NewCredentialStore(&domain.GatewayCredential{
		Gateway: domain.GatewayPayGate, Active: true, MerchantID: "0xMerchantWallet",
	}), nil, gateway.Options{})

	rec := &domain.PaymentRecord{
		OrderNumber:    "DEP-PAYGATE1",
		Purpose:        domain.PurposeDeposit,
		UserID:         &h.user.ID,
		OriginalAmount: decimal.NewFromInt(25),
		FinalAmount:    decimal.NewFromInt(25),
		Currency:       "USD",
		Gateway:        domain.GatewayPayGate,
		ExternalRef:    "tok-1",
		Status:         domain.StatusPending,
		GatewayFields:  map[string]any{"address_in": "enc-addr"},
	}
	require.NoError(t, h.payments.Create(ctx, rec))

	callback := func(address string) *gateway.WebhookRequest {
		q := url.Values{}
		q.Set("order", rec.OrderNumber)
		q.Set("address_in", address)
		q.Set("txid_in", "0xin")
		q.Set("value_coin", "25.61")
		return &gateway.WebhookRequest{Method: http.MethodGet, Query: q}
	}

	handler := NewProcessWebhookHandler(h.payments, registry, h.coordinator)
	_, err := handler.Handle(ctx, ProcessWebhookCommand{Gateway: domain.GatewayPayGate, Request: callback("attacker-addr")})
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	stored, err := h.payments.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Empty(t, h.users.Transactions())

	res, err := handler.Handle(ctx, ProcessWebhookCommand{Gateway: domain.GatewayPayGate, Request: callback("enc-addr")})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.True(t, h.users.Balance(h.user.ID).Equal(decimal.NewFromInt(25)))
}

func TestSaveCredentialKeepsStoredSecrets(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	handler := NewSaveCredentialHandler(h.provider)

	_, err := handler.Handle(ctx, SaveCredentialCommand{Gateway: domain.GatewayCryptomus, FeePercent: decimal.NewFromInt(100)})
	assert.ErrorIs(t, err, domain.ErrValidation)

	saved, err := handler.Handle(ctx, SaveCredentialCommand{Gateway: domain.GatewayCryptomus, Active: false, FeePercent: decimal.NewFromInt(2)})
	require.NoError(t, err)
	assert.Equal(t, secret, saved.WebhookSecret)

	_, err = NewCreatePaymentHandler(h.payments, h.provider, baseURL).Handle(ctx, CreatePaymentCommand{
		Purpose: domain.PurposeOrder, Gateway: domain.GatewayCryptomus, Amount: decimal.NewFromInt(5),
	})
	assert.ErrorIs(t, err, domain.ErrGatewayInactive)

	saved, err = handler.Handle(ctx, SaveCredentialCommand{Gateway: domain.GatewayVolet, Active: true, APIKey: "acct", WebhookSecret: "sci"})
	require.NoError(t, err)
	assert.Equal(t, "sci", saved.SigningSecret())
	assert.Equal(t, "acct", h.provider.Credentials[domain.GatewayVolet].APIKey)
}
