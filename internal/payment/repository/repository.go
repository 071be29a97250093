package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tair/reseller-billing/internal/payment/domain"
)

// AutoMigrate creates or updates every table the payment service owns
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.PaymentRecord{},
		&domain.User{},
		&domain.BalanceTransaction{},
		&domain.GatewayCredential{},
	)
}

// GormPaymentRepository stores payment records
type GormPaymentRepository struct {
	db *gorm.DB
}

func NewGormPaymentRepository(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db}
}

func (r *GormPaymentRepository) Create(ctx context.Context, record *domain.PaymentRecord) (err error) {
	ctx, span := startSpan(ctx, "CreatePaymentRecord", attribute.String("payment.order_number", record.OrderNumber))
	defer func() { endSpan(span, err) }()

	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to create payment record: %w", err)
	}
	return nil
}

func (r *GormPaymentRepository) first(ctx context.Context, name string, query func(*gorm.DB) *gorm.DB, attrs ...attribute.KeyValue) (rec *domain.PaymentRecord, err error) {
	ctx, span := startSpan(ctx, name, attrs...)
	defer func() { endSpan(span, err, domain.ErrRecordNotFound) }()

	var record domain.PaymentRecord
	if err := query(r.db.WithContext(ctx)).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (r *GormPaymentRepository) FindByID(ctx context.Context, id uint) (*domain.PaymentRecord, error) {
	return r.first(ctx, "FindByID", func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ?", id)
	}, attribute.Int("payment.id", int(id)))
}

func (r *GormPaymentRepository) FindByExternalRef(ctx context.Context, gw domain.Gateway, externalRef string) (*domain.PaymentRecord, error) {
	if externalRef == "" {
		return nil, domain.ErrRecordNotFound
	}
	return r.first(ctx, "FindByExternalRef", func(db *gorm.DB) *gorm.DB {
		return db.Where("gateway = ? AND external_ref = ?", gw, externalRef)
	}, attribute.String("payment.gateway", string(gw)), attribute.String("payment.external_ref", externalRef))
}

func (r *GormPaymentRepository) FindByAnyExternalRef(ctx context.Context, externalRef string) (*domain.PaymentRecord, error) {
	if externalRef == "" {
		return nil, domain.ErrRecordNotFound
	}
	return r.first(ctx, "FindByAnyExternalRef", func(db *gorm.DB) *gorm.DB {
		return db.Where("external_ref = ?", externalRef).Order("created_at DESC")
	}, attribute.String("payment.external_ref", externalRef))
}

func (r *GormPaymentRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (*domain.PaymentRecord, error) {
	if orderNumber == "" {
		return nil, domain.ErrRecordNotFound
	}
	return r.first(ctx, "FindByOrderNumber", func(db *gorm.DB) *gorm.DB {
		return db.Where("order_number = ?", orderNumber)
	}, attribute.String("payment.order_number", orderNumber))
}

// FindByPurchaseID returns the newest record of a purchase chain
func (r *GormPaymentRepository) FindByPurchaseID(ctx context.Context, gw domain.Gateway, purchaseID string) (*domain.PaymentRecord, error) {
	if purchaseID == "" {
		return nil, domain.ErrRecordNotFound
	}
	return r.first(ctx, "FindByPurchaseID", func(db *gorm.DB) *gorm.DB {
		return db.Where("gateway = ? AND purchase_id = ?", gw, purchaseID).Order("created_at DESC")
	}, attribute.String("payment.purchase_id", purchaseID))
}

func (r *GormPaymentRepository) FindAll(ctx context.Context, limit, offset int) (records []domain.PaymentRecord, err error) {
	ctx, span := startSpan(ctx, "FindAll", attribute.Int("limit", limit), attribute.Int("offset", offset))
	defer func() { endSpan(span, err) }()

	err = r.db.WithContext(ctx).Limit(limit).Offset(offset).
		Order("created_at DESC").
		Find(&records).Error
	return records, err
}

// CompareAndUpdate writes the reconciliation columns of record only while the
// stored row still has the expected status and no completion stamp. Zero
// matching rows yields domain.ErrConflict. gateway_fields is merged into the
// locked row so keys written by MergeGatewayFields in between survive; record
// gets the merged map.
func (r *GormPaymentRepository) CompareAndUpdate(ctx context.Context, record *domain.PaymentRecord, expected domain.CanonicalStatus) (err error) {
	ctx, span := startSpan(ctx, "CompareAndUpdate",
		attribute.Int("payment.id", int(record.ID)),
		attribute.String("payment.expected_status", string(expected)),
		attribute.String("payment.status", string(record.Status)),
	)
	defer func() { endSpan(span, err, domain.ErrConflict) }()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored domain.PaymentRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "gateway_fields").
			Where("id = ? AND status = ? AND completed_at IS NULL", record.ID, expected).
			First(&stored).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrConflict
		}
		if err != nil {
			return fmt.Errorf("failed to lock payment record %d: %w", record.ID, err)
		}
		stored.MergeFields(record.GatewayFields)

		res := tx.Model(&domain.PaymentRecord{}).
			Where("id = ? AND status = ? AND completed_at IS NULL", record.ID, expected).
			Updates(map[string]interface{}{
				"status":             record.Status,
				"native_status":      record.NativeStatus,
				"gateway_fields":     stored.GatewayFields,
				"completed_at":       record.CompletedAt,
				"last_status_update": record.LastStatusUpdate,
				"purchase_id":        record.PurchaseID,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update payment record %d: %w", record.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrConflict
		}
		record.GatewayFields = stored.GatewayFields
		return nil
	})
}

// MergeGatewayFields merges fields into the stored metadata under a row lock
func (r *GormPaymentRepository) MergeGatewayFields(ctx context.Context, id uint, fields map[string]any) (err error) {
	if len(fields) == 0 {
		return nil
	}
	ctx, span := startSpan(ctx, "MergeGatewayFields", attribute.Int("payment.id", int(id)))
	defer func() { endSpan(span, err) }()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record domain.PaymentRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "gateway_fields").
			First(&record, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrRecordNotFound
			}
			return err
		}
		record.MergeFields(fields)
		return tx.Model(&domain.PaymentRecord{}).
			Where("id = ?", id).
			Update("gateway_fields", record.GatewayFields).Error
	})
}

// UpdateSubscription replaces the subscription columns. With expected set, the
// write only happens while the stored subscription status still matches.
func (r *GormPaymentRepository) UpdateSubscription(ctx context.Context, id uint, sub domain.Subscription, expected *domain.SubscriptionStatus) (err error) {
	ctx, span := startSpan(ctx, "UpdateSubscription",
		attribute.Int("payment.id", int(id)),
		attribute.String("subscription.status", string(sub.Status)),
	)
	defer func() { endSpan(span, err, domain.ErrConflict) }()

	q := r.db.WithContext(ctx).Model(&domain.PaymentRecord{}).Where("id = ?", id)
	if expected != nil {
		q = q.Where("subscription_status = ?", *expected)
	}
	res := q.Updates(map[string]interface{}{
		"subscription_is_active":          sub.IsActive,
		"subscription_interval_days":      sub.IntervalDays,
		"subscription_next_billing_date":  sub.NextBillingDate,
		"subscription_auto_renew":         sub.AutoRenew,
		"subscription_status":             sub.Status,
		"subscription_last_renewal_at":    sub.LastRenewalAt,
		"subscription_last_renewal_error": sub.LastRenewalError,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update subscription of record %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		if expected != nil {
			return domain.ErrConflict
		}
		return domain.ErrRecordNotFound
	}
	return nil
}

// CountCompletedOrdersBefore counts the user's order-like records completed
// strictly before the given one (ties broken by id)
func (r *GormPaymentRepository) CountCompletedOrdersBefore(ctx context.Context, userID uint, completedAt time.Time, id uint) (count int64, err error) {
	ctx, span := startSpan(ctx, "CountCompletedOrdersBefore", attribute.Int("user.id", int(userID)))
	defer func() { endSpan(span, err) }()

	err = r.db.WithContext(ctx).Model(&domain.PaymentRecord{}).
		Where("user_id = ? AND id <> ?", userID, id).
		Where("purpose IN ?", []domain.Purpose{domain.PurposeOrder, domain.PurposeSubscription}).
		Where("completed_at IS NOT NULL").
		Where("completed_at < ? OR (completed_at = ? AND id < ?)", completedAt, completedAt, id).
		Count(&count).Error
	return count, err
}

// FindDueSubscriptions returns active auto-renewing subscriptions billed on or before now
func (r *GormPaymentRepository) FindDueSubscriptions(ctx context.Context, now time.Time, limit int) (records []domain.PaymentRecord, err error) {
	ctx, span := startSpan(ctx, "FindDueSubscriptions", attribute.Int("limit", limit))
	defer func() { endSpan(span, err) }()

	err = r.db.WithContext(ctx).
		Where("subscription_interval_days > 0").
		Where("subscription_auto_renew = ?", true).
		Where("subscription_status = ?", domain.SubscriptionActive).
		Where("subscription_next_billing_date <= ?", now).
		Order("subscription_next_billing_date ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}
