package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Purpose describes what a payment pays for
type Purpose string

const (
	PurposeOrder        Purpose = "order"
	PurposeDeposit      Purpose = "deposit"
	PurposeSubscription Purpose = "subscription"
)

// SubscriptionStatus is the billing state of an embedded subscription
type SubscriptionStatus string

const (
	SubscriptionInactive  SubscriptionStatus = "inactive"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Subscription is carried by the order that started it. It is created inactive,
// activated by the side-effect dispatcher and advanced by the renewal scheduler.
type Subscription struct {
	IsActive         bool               `json:"is_active" gorm:"not null;default:false"`
	IntervalDays     int                `json:"interval_days" gorm:"not null;default:0"`
	NextBillingDate  *time.Time         `json:"next_billing_date,omitempty" gorm:"index"`
	AutoRenew        bool               `json:"auto_renew" gorm:"not null;default:false;index"`
	Status           SubscriptionStatus `json:"status" gorm:"type:varchar(16);not null;default:'inactive';index"`
	LastRenewalAt    *time.Time         `json:"last_renewal_at,omitempty"`
	LastRenewalError string             `json:"last_renewal_error,omitempty"`
}

// PaymentRecord abstracts orders and wallet deposits paid through an external gateway
type PaymentRecord struct {
	ID          uint    `json:"id" gorm:"primaryKey"`
	OrderNumber string  `json:"order_number" gorm:"type:varchar(64);not null;uniqueIndex"`
	Purpose     Purpose `json:"purpose" gorm:"type:varchar(16);not null"`
	UserID      *uint   `json:"user_id,omitempty" gorm:"index"`
	// ParentID links a renewal invoice to the record holding the subscription it renews
	ParentID *uint `json:"parent_id,omitempty" gorm:"index"`

	OriginalAmount decimal.Decimal `json:"original_amount" gorm:"type:decimal(20,8);not null"`
	ServiceFee     decimal.Decimal `json:"service_fee" gorm:"type:decimal(20,8);not null;default:0"`
	FinalAmount    decimal.Decimal `json:"final_amount" gorm:"type:decimal(20,8);not null"`
	Currency       string          `json:"currency" gorm:"type:varchar(16);not null;default:'USD'"`

	Gateway       Gateway           `json:"gateway" gorm:"type:varchar(32);not null;index:idx_payment_gateway_ref,priority:1"`
	ExternalRef   string            `json:"external_ref" gorm:"type:varchar(191);index:idx_payment_gateway_ref,priority:2"`
	PurchaseID    string            `json:"purchase_id,omitempty" gorm:"type:varchar(191);index"`
	CheckoutURL   string            `json:"checkout_url,omitempty"`
	NativeStatus  string            `json:"native_status"`
	GatewayFields datatypes.JSONMap `json:"gateway_fields,omitempty"`

	Status           CanonicalStatus `json:"status" gorm:"type:varchar(16);not null;default:'pending';index"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	LastStatusUpdate *time.Time      `json:"last_status_update,omitempty"`

	Subscription Subscription `json:"subscription" gorm:"embedded;embeddedPrefix:subscription_"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name
func (PaymentRecord) TableName() string {
	return "payment_records"
}

// IsCompleted reports whether the record has ever reached completed
func (p *PaymentRecord) IsCompleted() bool {
	return p.CompletedAt != nil
}

// HasSubscription reports whether the record carries subscription intent
func (p *PaymentRecord) HasSubscription() bool {
	return p.Subscription.IntervalDays > 0
}

// Clone returns a deep copy that can be mutated without touching p
func (p *PaymentRecord) Clone() *PaymentRecord {
	c := *p
	c.UserID = cloneUint(p.UserID)
	c.ParentID = cloneUint(p.ParentID)
	c.CompletedAt = cloneTime(p.CompletedAt)
	c.LastStatusUpdate = cloneTime(p.LastStatusUpdate)
	c.Subscription.NextBillingDate = cloneTime(p.Subscription.NextBillingDate)
	c.Subscription.LastRenewalAt = cloneTime(p.Subscription.LastRenewalAt)
	if p.GatewayFields != nil {
		c.GatewayFields = make(datatypes.JSONMap, len(p.GatewayFields))
		for k, v := range p.GatewayFields {
			c.GatewayFields[k] = v
		}
	}
	return &c
}

// MergeFields copies fields into GatewayFields, overwriting existing keys
func (p *PaymentRecord) MergeFields(fields map[string]any) {
	if len(fields) == 0 {
		return
	}
	if p.GatewayFields == nil {
		p.GatewayFields = make(datatypes.JSONMap, len(fields))
	}
	for k, v := range fields {
		p.GatewayFields[k] = v
	}
}

// PaymentRepository is the payment record store. CompareAndUpdate is the only
// concurrency primitive: it persists record only while the stored row still has
// the expected status and an unset completed_at.
type PaymentRepository interface {
	Create(ctx context.Context, record *PaymentRecord) error
	FindByID(ctx context.Context, id uint) (*PaymentRecord, error)
	FindByExternalRef(ctx context.Context, gateway Gateway, externalRef string) (*PaymentRecord, error)
	FindByAnyExternalRef(ctx context.Context, externalRef string) (*PaymentRecord, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (*PaymentRecord, error)
	FindByPurchaseID(ctx context.Context, gateway Gateway, purchaseID string) (*PaymentRecord, error)
	FindAll(ctx context.Context, limit, offset int) ([]PaymentRecord, error)
	CompareAndUpdate(ctx context.Context, record *PaymentRecord, expected CanonicalStatus) error
	MergeGatewayFields(ctx context.Context, id uint, fields map[string]any) error
	UpdateSubscription(ctx context.Context, id uint, sub Subscription, expected *SubscriptionStatus) error
	CountCompletedOrdersBefore(ctx context.Context, userID uint, completedAt time.Time, id uint) (int64, error)
	FindDueSubscriptions(ctx context.Context, now time.Time, limit int) ([]PaymentRecord, error)
}

func cloneUint(v *uint) *uint {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
