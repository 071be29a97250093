package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tair/reseller-billing/internal/payment/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, AutoMigrate(db))
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func newRecord(order string, userID *uint) *domain.PaymentRecord {
	return &domain.PaymentRecord{
		OrderNumber:    order,
		Purpose:        domain.PurposeOrder,
		UserID:         userID,
		OriginalAmount: decimal.NewFromInt(100),
		ServiceFee:     decimal.Zero,
		FinalAmount:    decimal.NewFromInt(100),
		Currency:       "USD",
		Gateway:        domain.GatewayCryptomus,
		ExternalRef:    "ext-" + order,
		Status:         domain.StatusPending,
		Subscription:   domain.Subscription{Status: domain.SubscriptionInactive},
	}
}

func TestPaymentLookups(t *testing.T) {
	ctx := context.Background()
	repo := NewGormPaymentRepository(newTestDB(t))

	rec := newRecord("ORD-1", nil)
	rec.PurchaseID = "p-1"
	require.NoError(t, repo.Create(ctx, rec))

	got, err := repo.FindByExternalRef(ctx, domain.GatewayCryptomus, "ext-ORD-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	_, err = repo.FindByExternalRef(ctx, domain.GatewayPlisio, "ext-ORD-1")
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)

	got, err = repo.FindByOrderNumber(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	got, err = repo.FindByPurchaseID(ctx, domain.GatewayCryptomus, "p-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	got, err = repo.FindByAnyExternalRef(ctx, "ext-ORD-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	_, err = repo.FindByOrderNumber(ctx, "")
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestCompareAndUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewGormPaymentRepository(newTestDB(t))
	rec := newRecord("ORD-2", nil)
	require.NoError(t, repo.Create(ctx, rec))

	now := time.Now().UTC().Truncate(time.Second)
	update := rec.Clone()
	update.Status = domain.StatusCompleted
	update.CompletedAt = &now
	update.MergeFields(map[string]any{"txid": "0xabc"})
	require.NoError(t, repo.CompareAndUpdate(ctx, update, domain.StatusPending))

	// second writer still expects pending
	again := rec.Clone()
	again.Status = domain.StatusCompleted
	again.CompletedAt = &now
	assert.ErrorIs(t, repo.CompareAndUpdate(ctx, again, domain.StatusPending), domain.ErrConflict)

	// completed rows never match, even with the right status
	again.Status = domain.StatusConfirming
	assert.ErrorIs(t, repo.CompareAndUpdate(ctx, again, domain.StatusCompleted), domain.ErrConflict)

	stored, err := repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
	assert.Equal(t, "0xabc", stored.GatewayFields["txid"])
}

func TestCompareAndUpdateKeepsConcurrentFields(t *testing.T) {
	ctx := context.Background()
	repo := NewGormPaymentRepository(newTestDB(t))
	rec := newRecord("ORD-4", nil)
	rec.GatewayFields = map[string]any{"a": "1"}
	require.NoError(t, repo.Create(ctx, rec))

	// snapshot taken before a merge-only delivery lands
	snapshot := rec.Clone()
	require.NoError(t, repo.MergeGatewayFields(ctx, rec.ID, map[string]any{"ignored_native_status": "wait"}))

	snapshot.Status = domain.StatusConfirming
	snapshot.MergeFields(map[string]any{"txid": "0xdef"})
	require.NoError(t, repo.CompareAndUpdate(ctx, snapshot, domain.StatusPending))
	assert.Equal(t, "wait", snapshot.GatewayFields["ignored_native_status"])

	stored, err := repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirming, stored.Status)
	assert.Equal(t, "1", stored.GatewayFields["a"])
	assert.Equal(t, "0xdef", stored.GatewayFields["txid"])
	assert.Equal(t, "wait", stored.GatewayFields["ignored_native_status"])

	missing := newRecord("ORD-NONE", nil)
	missing.ID = 9999
	assert.ErrorIs(t, repo.CompareAndUpdate(ctx, missing, domain.StatusPending), domain.ErrConflict)
}

func TestMergeGatewayFields(t *testing.T) {
	ctx := context.Background()
	repo := NewGormPaymentRepository(newTestDB(t))
	rec := newRecord("ORD-3", nil)
	rec.GatewayFields = map[string]any{"a": "1"}
	require.NoError(t, repo.Create(ctx, rec))

	require.NoError(t, repo.MergeGatewayFields(ctx, rec.ID, map[string]any{"b": "2"}))
	stored, err := repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "1", stored.GatewayFields["a"])
	assert.Equal(t, "2", stored.GatewayFields["b"])

	assert.ErrorIs(t, repo.MergeGatewayFields(ctx, 9999, map[string]any{"x": 1}), domain.ErrRecordNotFound)
}

func TestSubscriptionClaimAndDueSelection(t *testing.T) {
	ctx := context.Background()
	repo := NewGormPaymentRepository(newTestDB(t))
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(24 * time.Hour)

	due := newRecord("ORD-DUE", nil)
	due.Subscription = domain.Subscription{IntervalDays: 30, AutoRenew: true, Status: domain.SubscriptionActive, IsActive: true, NextBillingDate: &past}
	notDue := newRecord("ORD-LATER", nil)
	notDue.Subscription = domain.Subscription{IntervalDays: 30, AutoRenew: true, Status: domain.SubscriptionActive, IsActive: true, NextBillingDate: &future}
	manual := newRecord("ORD-MANUAL", nil)
	manual.Subscription = domain.Subscription{IntervalDays: 30, AutoRenew: false, Status: domain.SubscriptionActive, IsActive: true, NextBillingDate: &past}
	for _, r := range []*domain.PaymentRecord{due, notDue, manual} {
		require.NoError(t, repo.Create(ctx, r))
	}

	found, err := repo.FindDueSubscriptions(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, due.ID, found[0].ID)

	active := domain.SubscriptionActive
	claimed := due.Subscription
	claimed.Status = domain.SubscriptionPastDue
	require.NoError(t, repo.UpdateSubscription(ctx, due.ID, claimed, &active))
	assert.ErrorIs(t, repo.UpdateSubscription(ctx, due.ID, claimed, &active), domain.ErrConflict)

	found, err = repo.FindDueSubscriptions(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestCountCompletedOrdersBefore(t *testing.T) {
	ctx := context.Background()
	repo := NewGormPaymentRepository(newTestDB(t))
	uid := uint(1)
	t1 := time.Now().UTC().Add(-time.Hour)
	t2 := time.Now().UTC()

	first := newRecord("ORD-A", &uid)
	first.CompletedAt = &t1
	first.Status = domain.StatusCompleted
	second := newRecord("ORD-B", &uid)
	second.CompletedAt = &t2
	second.Status = domain.StatusCompleted
	deposit := newRecord("DEP-C", &uid)
	deposit.Purpose = domain.PurposeDeposit
	deposit.CompletedAt = &t1
	for _, r := range []*domain.PaymentRecord{first, second, deposit} {
		require.NoError(t, repo.Create(ctx, r))
	}

	n, err := repo.CountCompletedOrdersBefore(ctx, uid, t1, first.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = repo.CountCompletedOrdersBefore(ctx, uid, t2, second.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestApplyLedgerEntry(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	users := NewGormUserRepository(db)
	user := &domain.User{Email: "buyer@example.com", Balance: decimal.NewFromInt(5)}
	require.NoError(t, db.Create(user).Error)

	txn, err := users.ApplyLedgerEntry(ctx, domain.LedgerEntry{
		UserID:         user.ID,
		Type:           domain.TxDeposit,
		Amount:         decimal.RequireFromString("100.25"),
		IdempotencyKey: "deposit:1",
	})
	require.NoError(t, err)
	assert.True(t, txn.PreviousBalance.Equal(decimal.NewFromInt(5)))
	assert.True(t, txn.NewBalance.Equal(decimal.RequireFromString("105.25")))

	_, err = users.ApplyLedgerEntry(ctx, domain.LedgerEntry{
		UserID:         user.ID,
		Type:           domain.TxDeposit,
		Amount:         decimal.RequireFromString("100.25"),
		IdempotencyKey: "deposit:1",
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyApplied)

	_, err = users.ApplyLedgerEntry(ctx, domain.LedgerEntry{UserID: user.ID, Type: domain.TxPurchase, Amount: decimal.NewFromInt(500)})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	_, err = users.ApplyLedgerEntry(ctx, domain.LedgerEntry{UserID: user.ID, Type: domain.TxReferral, Amount: decimal.NewFromInt(10), CreditEarnings: true})
	require.NoError(t, err)

	stored, err := users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, stored.Balance.Equal(decimal.RequireFromString("115.25")), stored.Balance.String())
	assert.True(t, stored.Earnings.Equal(decimal.NewFromInt(10)))

	txns, err := users.ListTransactions(ctx, user.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, txns, 2)

	_, err = users.ApplyLedgerEntry(ctx, domain.LedgerEntry{UserID: 404, Type: domain.TxDeposit, Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestCredentialRepositoryAndCache(t *testing.T) {
	ctx := context.Background()
	repo := NewGormCredentialRepository(newTestDB(t))

	_, err := repo.Get(ctx, domain.GatewayStripe)
	assert.ErrorIs(t, err, domain.ErrCredentialNotFound)

	require.NoError(t, repo.Upsert(ctx, &domain.GatewayCredential{Gateway: domain.GatewayStripe, Active: true, APIKey: "sk_1", FeePercent: decimal.NewFromInt(3)}))
	require.NoError(t, repo.Upsert(ctx, &domain.GatewayCredential{Gateway: domain.GatewayStripe, Active: true, APIKey: "sk_2", FeePercent: decimal.NewFromInt(3)}))

	store := NewCachedCredentialStore(repo, nil, time.Minute)
	cred, err := store.Get(ctx, domain.GatewayStripe)
	require.NoError(t, err)
	assert.Equal(t, "sk_2", cred.APIKey)
	assert.True(t, cred.FeePercent.Equal(decimal.NewFromInt(3)))
	assert.NoError(t, store.Invalidate(ctx, domain.GatewayStripe))
}

type countingCredentials struct {
	domain.CredentialRepository
	gets int
}

func (c *countingCredentials) Get(ctx context.Context, gw domain.Gateway) (*domain.GatewayCredential, error) {
	c.gets++
	return c.CredentialRepository.Get(ctx, gw)
}

func newCachedStore(t *testing.T) (*CachedCredentialStore, *countingCredentials, *miniredis.Miniredis, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	counting := &countingCredentials{CredentialRepository: NewGormCredentialRepository(db)}
	require.NoError(t, counting.Upsert(context.Background(), &domain.GatewayCredential{
		Gateway:       domain.GatewayStripe,
		Active:        true,
		APIKey:        "sk_1",
		WebhookSecret: "whsec_1",
		FeePercent:    decimal.RequireFromString("2.5"),
	}))
	return NewCachedCredentialStore(counting, client, time.Minute), counting, mr, db
}

func TestCredentialCacheHitAndMiss(t *testing.T) {
	ctx := context.Background()
	store, counting, mr, db := newCachedStore(t)

	cred, err := store.Get(ctx, domain.GatewayStripe)
	require.NoError(t, err)
	assert.Equal(t, 1, counting.gets)
	assert.True(t, mr.Exists(credentialKey(domain.GatewayStripe)))
	assert.Equal(t, time.Minute, mr.TTL(credentialKey(domain.GatewayStripe)))

	// Written behind the cache, so the cached copy is still served
	require.NoError(t, db.Model(&domain.GatewayCredential{}).Where("gateway = ?", domain.GatewayStripe).Update("api_key", "sk_db").Error)

	cached, err := store.Get(ctx, domain.GatewayStripe)
	require.NoError(t, err)
	assert.Equal(t, 1, counting.gets)
	assert.Equal(t, "sk_1", cached.APIKey)
	assert.Equal(t, "whsec_1", cached.WebhookSecret, "secrets survive the cache round trip")
	assert.True(t, cached.FeePercent.Equal(cred.FeePercent))

	require.NoError(t, store.Invalidate(ctx, domain.GatewayStripe))
	fresh, err := store.Get(ctx, domain.GatewayStripe)
	require.NoError(t, err)
	assert.Equal(t, 2, counting.gets)
	assert.Equal(t, "sk_db", fresh.APIKey)

	_, err = store.Get(ctx, domain.GatewayPlisio)
	assert.ErrorIs(t, err, domain.ErrCredentialNotFound)
	assert.False(t, mr.Exists(credentialKey(domain.GatewayPlisio)))
}

func TestCredentialCacheRecoversFromCorruptEntry(t *testing.T) {
	ctx := context.Background()
	store, counting, mr, _ := newCachedStore(t)

	require.NoError(t, mr.Set(credentialKey(domain.GatewayStripe), "not json"))

	cred, err := store.Get(ctx, domain.GatewayStripe)
	require.NoError(t, err)
	assert.Equal(t, "sk_1", cred.APIKey)
	assert.Equal(t, 1, counting.gets)

	raw, err := mr.Get(credentialKey(domain.GatewayStripe))
	require.NoError(t, err)
	assert.Contains(t, raw, `"api_key":"sk_1"`)

	_, err = store.Get(ctx, domain.GatewayStripe)
	require.NoError(t, err)
	assert.Equal(t, 1, counting.gets)
}

func TestCredentialCacheUpsertInvalidates(t *testing.T) {
	ctx := context.Background()
	store, _, _, _ := newCachedStore(t)

	cred, err := store.Get(ctx, domain.GatewayStripe)
	require.NoError(t, err)
	require.True(t, cred.Active)

	cred.Active = false
	require.NoError(t, store.Upsert(ctx, cred))

	got, err := store.Get(ctx, domain.GatewayStripe)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestCredentialCacheFallsBackWhenRedisIsDown(t *testing.T) {
	ctx := context.Background()
	store, counting, mr, _ := newCachedStore(t)
	mr.Close()

	cred, err := store.Get(ctx, domain.GatewayStripe)
	require.NoError(t, err)
	assert.Equal(t, "sk_1", cred.APIKey)
	assert.Equal(t, 1, counting.gets)

	cred.Active = false
	require.NoError(t, store.Upsert(ctx, cred))
}
