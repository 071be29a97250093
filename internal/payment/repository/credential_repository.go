package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tair/reseller-billing/internal/payment/domain"
	"github.com/tair/reseller-billing/pkg/logger"
)

// GormCredentialRepository stores per-gateway credentials
type GormCredentialRepository struct {
	db *gorm.DB
}

func NewGormCredentialRepository(db *gorm.DB) *GormCredentialRepository {
	return &GormCredentialRepository{db: db}
}

func (r *GormCredentialRepository) Get(ctx context.Context, gw domain.Gateway) (cred *domain.GatewayCredential, err error) {
	ctx, span := startSpan(ctx, "GetCredential", attribute.String("payment.gateway", string(gw)))
	defer func() { endSpan(span, err, domain.ErrCredentialNotFound) }()

	var c domain.GatewayCredential
	if err := r.db.WithContext(ctx).Where("gateway = ?", gw).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCredentialNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Upsert inserts or replaces the credentials of cred.Gateway
func (r *GormCredentialRepository) Upsert(ctx context.Context, cred *domain.GatewayCredential) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "gateway"}},
		DoUpdates: clause.AssignmentColumns([]string{"active", "api_key", "api_secret", "webhook_secret", "merchant_id", "sandbox", "fee_percent", "extra", "updated_at"}),
	}).Create(cred).Error
	if err != nil {
		return fmt.Errorf("failed to save %s credentials: %w", cred.Gateway, err)
	}
	return nil
}

// cachedCredential mirrors GatewayCredential including the secrets hidden from API JSON
type cachedCredential struct {
	Gateway       domain.Gateway    `json:"gateway"`
	Active        bool              `json:"active"`
	APIKey        string            `json:"api_key"`
	APISecret     string            `json:"api_secret"`
	WebhookSecret string            `json:"webhook_secret"`
	MerchantID    string            `json:"merchant_id"`
	Sandbox       bool              `json:"sandbox"`
	FeePercent    decimal.Decimal   `json:"fee_percent"`
	Extra         datatypes.JSONMap `json:"extra"`
}

// CachedCredentialStore is a Redis read-through cache in front of another store.
// Writes go through Upsert, which drops the cached entry. A nil Redis client
// passes every call through.
type CachedCredentialStore struct {
	next  domain.CredentialRepository
	redis *redis.Client
	ttl   time.Duration
}

func NewCachedCredentialStore(next domain.CredentialRepository, redisClient *redis.Client, ttl time.Duration) *CachedCredentialStore {
	return &CachedCredentialStore{next: next, redis: redisClient, ttl: ttl}
}

func credentialKey(gw domain.Gateway) string {
	return "payment:credentials:" + string(gw)
}

func (c *CachedCredentialStore) Get(ctx context.Context, gw domain.Gateway) (*domain.GatewayCredential, error) {
	if c.redis == nil {
		return c.next.Get(ctx, gw)
	}

	raw, err := c.redis.Get(ctx, credentialKey(gw)).Bytes()
	switch {
	case err == nil:
		var cached cachedCredential
		if jerr := json.Unmarshal(raw, &cached); jerr == nil {
			return &domain.GatewayCredential{
				Gateway:       cached.Gateway,
				Active:        cached.Active,
				APIKey:        cached.APIKey,
				APISecret:     cached.APISecret,
				WebhookSecret: cached.WebhookSecret,
				MerchantID:    cached.MerchantID,
				Sandbox:       cached.Sandbox,
				FeePercent:    cached.FeePercent,
				Extra:         cached.Extra,
			}, nil
		}
	case !errors.Is(err, redis.Nil):
		logger.Warn(ctx).Err(err).Str("gateway", string(gw)).Msg("Credential cache read failed")
	}

	cred, err := c.next.Get(ctx, gw)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(cachedCredential{
		Gateway:       cred.Gateway,
		Active:        cred.Active,
		APIKey:        cred.APIKey,
		APISecret:     cred.APISecret,
		WebhookSecret: cred.WebhookSecret,
		MerchantID:    cred.MerchantID,
		Sandbox:       cred.Sandbox,
		FeePercent:    cred.FeePercent,
		Extra:         cred.Extra,
	})
	if err == nil {
		if err := c.redis.Set(ctx, credentialKey(gw), encoded, c.ttl).Err(); err != nil {
			logger.Warn(ctx).Err(err).Str("gateway", string(gw)).Msg("Credential cache write failed")
		}
	}
	return cred, nil
}

// Upsert saves cred and invalidates its cache entry, so an activation change
// is seen by the next request instead of after the TTL
func (c *CachedCredentialStore) Upsert(ctx context.Context, cred *domain.GatewayCredential) error {
	if err := c.next.Upsert(ctx, cred); err != nil {
		return err
	}
	if err := c.Invalidate(ctx, cred.Gateway); err != nil {
		logger.Warn(ctx).Err(err).Str("gateway", string(cred.Gateway)).Msg("Credential cache invalidation failed")
	}
	return nil
}

// Invalidate drops the cached credentials of gw
func (c *CachedCredentialStore) Invalidate(ctx context.Context, gw domain.Gateway) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Del(ctx, credentialKey(gw)).Err()
}
